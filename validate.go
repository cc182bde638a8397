package bsonlite

import "strings"

// ValidateFlags select the optional checks applied by Doc.Validate
// on top of framing validation.
type ValidateFlags uint32

const (
	ValidateNone ValidateFlags = 0
	// ValidateUTF8 checks every key and string-typed value for
	// well-formed UTF-8.
	ValidateUTF8 ValidateFlags = 1 << 0
	// ValidateDollarKeys rejects keys whose first byte is '$'.
	ValidateDollarKeys ValidateFlags = 1 << 1
	// ValidateDotKeys rejects keys containing '.'.
	ValidateDotKeys ValidateFlags = 1 << 2
	// ValidateUTF8AllowNull permits embedded NUL bytes inside
	// string values during UTF-8 validation.
	ValidateUTF8AllowNull ValidateFlags = 1 << 3
)

// Validate walks every element recursively, enforcing framing and
// any checks selected by flags. It returns nil for a valid document
// or a *ValidationError whose Offset is relative to the outermost
// document.
func (d *Doc) Validate(flags ValidateFlags) error {
	return validateRaw(d.Data(), 0, flags)
}

func validateRaw(raw []byte, base int32, flags ValidateFlags) error {
	var it Iter
	if !it.initRaw(nil, raw) {
		return &ValidationError{Offset: base, Message: "document too short"}
	}
	for it.Next() {
		if err := validateKey(&it, base, flags); err != nil {
			return err
		}
		switch it.Type() {
		case TypeUTF8, TypeCode, TypeSymbol:
			if flags&ValidateUTF8 != 0 {
				var s string
				switch it.Type() {
				case TypeUTF8:
					s = it.UTF8()
				case TypeCode:
					s = it.Code()
				default:
					s = it.Symbol()
				}
				allowNull := flags&ValidateUTF8AllowNull != 0
				if !validUTF8([]byte(s), allowNull) {
					return &ValidationError{Offset: base + it.off, Message: "invalid UTF-8 string"}
				}
			}
		case TypeDocument, TypeArray:
			sub := it.rawDocument()
			if err := validateRaw(sub, base+it.d1, flags); err != nil {
				return err
			}
		case TypeCodeWithScope:
			_, scope := it.CodeWithScope()
			if err := validateRaw(scope, base+it.d4, flags); err != nil {
				return err
			}
		}
	}
	if it.errOff != 0 {
		return &ValidationError{Offset: base + it.errOff, Message: "corrupt BSON"}
	}
	return nil
}

func validateKey(it *Iter, base int32, flags ValidateFlags) error {
	key := it.Key()
	if flags&ValidateUTF8 != 0 && !validUTF8([]byte(key), false) {
		return &ValidationError{Offset: base + it.off, Message: "invalid UTF-8 key"}
	}
	if flags&ValidateDollarKeys != 0 && strings.HasPrefix(key, "$") {
		return &ValidationError{Offset: base + it.off, Message: "disallowed '$' in key"}
	}
	if flags&ValidateDotKeys != 0 && strings.Contains(key, ".") {
		return &ValidationError{Offset: base + it.off, Message: "disallowed '.' in key"}
	}
	return nil
}
