package bsonlite

import (
	"encoding/binary"
	"math"
	"strings"
	"time"
)

// Iter is a single-shot forward cursor over a document's bytes. It
// validates framing as it advances: Next returns false and kills the
// iterator on the terminator or on the first violation, in which
// case ErrOffset reports the violating byte. A dead iterator keeps
// returning false.
type Iter struct {
	doc     *Doc   // owning doc when known; gates in-place overwrites
	raw     []byte // full document bytes; nil once dead
	off     int32  // offset of the current element's type byte
	nextOff int32  // offset of the next element
	keyOff  int32  // offset of the key cstring
	keyEnd  int32  // offset of the key's NUL
	d1      int32  // value payload offsets, meaning depends on type
	d2      int32
	d3     int32
	d4     int32
	errOff int32
}

// Init positions the iterator before the first element of doc.
func (i *Iter) Init(doc *Doc) bool {
	if doc.Len() < 5 {
		*i = Iter{}
		i.raw = nil
		return false
	}
	*i = Iter{doc: doc, raw: doc.Data(), nextOff: 4}
	return true
}

// initRaw frames the iterator over raw sub-document bytes. doc may
// be nil for views not tied to a Doc.
func (i *Iter) initRaw(doc *Doc, raw []byte) bool {
	if len(raw) < 5 {
		*i = Iter{}
		return false
	}
	*i = Iter{doc: doc, raw: raw, nextOff: 4}
	return true
}

// InitFind initialises over doc and advances to the element whose
// key equals key.
func (i *Iter) InitFind(doc *Doc, key string) bool {
	return i.Init(doc) && i.Find(key)
}

// InitFindCase is InitFind with ASCII case-insensitive matching.
func (i *Iter) InitFindCase(doc *Doc, key string) bool {
	return i.Init(doc) && i.FindCase(key)
}

// ErrOffset returns the byte offset of the framing violation that
// killed the iterator, or 0 if none was detected.
func (i *Iter) ErrOffset() int32 {
	return i.errOff
}

// kill marks the iterator dead with a violation at off.
func (i *Iter) kill(off int32) bool {
	i.errOff = off
	i.raw = nil
	return false
}

// Next advances to the next element, validating its framing. It
// returns false on the document terminator or on corruption.
func (i *Iter) Next() bool {
	if i.raw == nil {
		return false
	}
	data := i.raw
	dlen := int32(len(data))

	i.off = i.nextOff
	i.keyOff = i.off + 1
	i.d1, i.d2, i.d3, i.d4 = 0, 0, 0, 0

	// Scan for the key's NUL. Falling off the end with no NUL is
	// either the clean terminator (when positioned on the final
	// byte) or corruption.
	var o int32 = -1
	for j := i.off + 1; j < dlen; j++ {
		if data[j] == 0 {
			i.keyEnd = j
			o = j + 1
			break
		}
	}
	if o < 0 {
		if i.off == dlen-1 && data[i.off] == 0 {
			i.raw = nil // clean end of document
			return false
		}
		return i.kill(i.off)
	}

	i.d1 = o
	t := Type(data[i.off])

	switch t {
	case TypeDateTime, TypeDouble, TypeInt64, TypeTimestamp:
		i.nextOff = o + 8

	case TypeCode, TypeSymbol, TypeUTF8:
		if o+4 >= dlen {
			return i.kill(o)
		}
		i.d2 = o + 4
		l := int32(binary.LittleEndian.Uint32(data[o:]))
		if uint32(l) > uint32(dlen-(o+4)) {
			return i.kill(o)
		}
		i.nextOff = o + 4 + l
		if l == 0 || i.nextOff >= dlen {
			return i.kill(o)
		}
		if data[o+4+l-1] != 0 {
			return i.kill(o + 4 + l - 1)
		}

	case TypeBinary:
		if o >= dlen-4 {
			return i.kill(o)
		}
		i.d2 = o + 4
		i.d3 = o + 5
		l := int32(binary.LittleEndian.Uint32(data[o:]))
		if uint32(l) >= uint32(dlen-o) {
			return i.kill(o)
		}
		i.nextOff = o + 5 + l

	case TypeArray, TypeDocument:
		if o >= dlen-4 {
			return i.kill(o)
		}
		l := int32(binary.LittleEndian.Uint32(data[o:]))
		if uint32(l) > uint32(dlen) || uint32(l) > uint32(dlen-o) {
			return i.kill(o)
		}
		i.nextOff = o + l

	case TypeOID:
		i.nextOff = o + 12

	case TypeBool:
		i.nextOff = o + 1

	case TypeRegex:
		eor := int32(-1)
		j := o
		for ; j < dlen; j++ {
			if data[j] == 0 {
				eor = j
				break
			}
		}
		if eor < 0 {
			return i.kill(i.nextOff)
		}
		i.d2 = eor + 1
		eoo := int32(-1)
		for j = eor + 1; j < dlen; j++ {
			if data[j] == 0 {
				eoo = j
				break
			}
		}
		if eoo < 0 {
			return i.kill(i.nextOff)
		}
		i.nextOff = eoo + 1

	case TypeDBPointer:
		if o >= dlen-4 {
			return i.kill(o)
		}
		i.d2 = o + 4
		l := int32(binary.LittleEndian.Uint32(data[o:]))
		if uint32(l) > uint32(dlen) || uint32(l) > uint32(dlen-o) {
			return i.kill(o)
		}
		i.d3 = o + 4 + l
		i.nextOff = o + 4 + l + 12

	case TypeCodeWithScope:
		if dlen < 19 || o >= dlen-14 {
			return i.kill(o)
		}
		i.d2 = o + 4
		i.d3 = o + 8
		l := int32(binary.LittleEndian.Uint32(data[o:]))
		if l < 14 || uint32(l) >= uint32(dlen-o) {
			return i.kill(o)
		}
		i.nextOff = o + l
		if i.nextOff >= dlen {
			return i.kill(o)
		}
		codeLen := int32(binary.LittleEndian.Uint32(data[o+4:]))
		if uint32(codeLen) >= uint32(dlen-o-8) {
			return i.kill(o)
		}
		if o+4+4+codeLen+4 >= i.nextOff {
			return i.kill(o + 4)
		}
		i.d4 = o + 8 + codeLen
		docLen := int32(binary.LittleEndian.Uint32(data[i.d4:]))
		if o+8+codeLen+docLen != i.nextOff {
			return i.kill(o + 8 + codeLen)
		}

	case TypeInt32:
		i.nextOff = o + 4

	case TypeDecimal128:
		i.nextOff = o + 16

	case TypeMaxKey, TypeMinKey, TypeNull, TypeUndefined:
		i.nextOff = o

	default:
		return i.kill(o)
	}

	// Whatever the type said, the element has to end inside the
	// frame, leaving room for the terminator.
	if i.nextOff >= dlen {
		return i.kill(o)
	}

	i.errOff = 0
	return true
}

// Type returns the current element's type tag.
func (i *Iter) Type() Type {
	if i.raw == nil {
		return TypeEOD
	}
	return Type(i.raw[i.off])
}

// Key returns the current element's key.
func (i *Iter) Key() string {
	if i.raw == nil {
		return ""
	}
	return string(i.raw[i.keyOff:i.keyEnd])
}

// Find advances until an element with the given key is found.
func (i *Iter) Find(key string) bool {
	for i.Next() {
		if i.Key() == key {
			return true
		}
	}
	return false
}

// FindCase is Find with ASCII case-insensitive matching.
func (i *Iter) FindCase(key string) bool {
	for i.Next() {
		if strings.EqualFold(i.Key(), key) {
			return true
		}
	}
	return false
}

// FindDescendant follows a dotted key path, recursing into nested
// documents and arrays, and leaves out positioned on the final
// segment's element.
func (i *Iter) FindDescendant(dotted string, out *Iter) bool {
	cur := *i
	for {
		seg, rest, more := strings.Cut(dotted, ".")
		if !cur.Find(seg) {
			return false
		}
		if !more {
			*out = cur
			return true
		}
		switch cur.Type() {
		case TypeDocument, TypeArray:
			var child Iter
			if !cur.Recurse(&child) {
				return false
			}
			cur = child
		default:
			return false
		}
		dotted = rest
	}
}

// Recurse frames child over the current document or array element.
func (i *Iter) Recurse(child *Iter) bool {
	raw := i.rawDocument()
	if raw == nil {
		return false
	}
	return child.initRaw(i.doc, raw)
}

func (i *Iter) cstringAt(off int32) string {
	end := off
	for end < int32(len(i.raw)) && i.raw[end] != 0 {
		end++
	}
	return string(i.raw[off:end])
}

// Double returns the current double value, or 0 for other types.
func (i *Iter) Double() float64 {
	if i.Type() != TypeDouble {
		return 0
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(i.raw[i.d1:]))
}

// UTF8 returns the current string value, or "" for other types.
func (i *Iter) UTF8() string {
	if i.Type() != TypeUTF8 {
		return ""
	}
	l := int32(binary.LittleEndian.Uint32(i.raw[i.d1:]))
	return string(i.raw[i.d2 : i.d2+l-1])
}

// Int32 returns the current int32 value, or 0 for other types.
func (i *Iter) Int32() int32 {
	if i.Type() != TypeInt32 {
		return 0
	}
	return int32(binary.LittleEndian.Uint32(i.raw[i.d1:]))
}

// Int64 returns the current int64 value, or 0 for other types.
func (i *Iter) Int64() int64 {
	if i.Type() != TypeInt64 {
		return 0
	}
	return int64(binary.LittleEndian.Uint64(i.raw[i.d1:]))
}

// Bool returns the current boolean value, or false for other types.
func (i *Iter) Bool() bool {
	if i.Type() != TypeBool {
		return false
	}
	return i.raw[i.d1] != 0
}

// DateTime returns the current datetime value in milliseconds since
// the Unix epoch, or 0 for other types.
func (i *Iter) DateTime() int64 {
	if i.Type() != TypeDateTime {
		return 0
	}
	return int64(binary.LittleEndian.Uint64(i.raw[i.d1:]))
}

// Time returns the current datetime value as a UTC time.Time.
func (i *Iter) Time() time.Time {
	return time.UnixMilli(i.DateTime()).UTC()
}

// DateTimeSeconds returns the current datetime value in whole
// seconds since the Unix epoch, truncating the milliseconds.
func (i *Iter) DateTimeSeconds() int64 {
	return i.DateTime() / 1000
}

// OID returns the current object id, or the zero id for other types.
func (i *Iter) OID() ObjectID {
	var id ObjectID
	if i.Type() == TypeOID {
		copy(id[:], i.raw[i.d1:i.d1+12])
	}
	return id
}

// Regex returns the current pattern and options strings.
func (i *Iter) Regex() (pattern, options string) {
	if i.Type() != TypeRegex {
		return "", ""
	}
	return i.cstringAt(i.d1), i.cstringAt(i.d2)
}

// Binary returns the current subtype and payload. For the legacy
// subtype 0x02 the redundant inner length field is stripped and the
// inner length reported. The payload aliases the document buffer.
func (i *Iter) Binary() (subtype byte, data []byte) {
	if i.Type() != TypeBinary {
		return 0, nil
	}
	l := int32(binary.LittleEndian.Uint32(i.raw[i.d1:]))
	subtype = i.raw[i.d2]
	start := i.d3
	if subtype == SubtypeBinaryOld && l >= 4 {
		l -= 4
		start += 4
	}
	return subtype, i.raw[start : start+l]
}

// rawDocument returns the nested document or array bytes, or nil.
func (i *Iter) rawDocument() []byte {
	switch i.Type() {
	case TypeDocument, TypeArray:
		l := int32(binary.LittleEndian.Uint32(i.raw[i.d1:]))
		return i.raw[i.d1 : i.d1+l]
	case TypeCodeWithScope:
		l := int32(binary.LittleEndian.Uint32(i.raw[i.d4:]))
		return i.raw[i.d4 : i.d4+l]
	}
	return nil
}

// Document returns the nested document's bytes, or nil for other
// types. The slice aliases the parent document's buffer.
func (i *Iter) Document() []byte {
	if i.Type() != TypeDocument {
		return nil
	}
	return i.rawDocument()
}

// Array returns the nested array's bytes, or nil for other types.
func (i *Iter) Array() []byte {
	if i.Type() != TypeArray {
		return nil
	}
	return i.rawDocument()
}

// Code returns the current JavaScript code string from a code or
// code-with-scope element.
func (i *Iter) Code() string {
	switch i.Type() {
	case TypeCode:
		l := int32(binary.LittleEndian.Uint32(i.raw[i.d1:]))
		return string(i.raw[i.d2 : i.d2+l-1])
	case TypeCodeWithScope:
		code, _ := i.CodeWithScope()
		return code
	}
	return ""
}

// CodeWithScope returns the code string and the scope document's
// bytes from a code-with-scope element.
func (i *Iter) CodeWithScope() (code string, scope []byte) {
	if i.Type() != TypeCodeWithScope {
		return "", nil
	}
	codeLen := int32(binary.LittleEndian.Uint32(i.raw[i.d2:]))
	code = string(i.raw[i.d3 : i.d3+codeLen-1])
	docLen := int32(binary.LittleEndian.Uint32(i.raw[i.d4:]))
	return code, i.raw[i.d4 : i.d4+docLen]
}

// Symbol returns the current symbol string, or "" for other types.
func (i *Iter) Symbol() string {
	if i.Type() != TypeSymbol {
		return ""
	}
	l := int32(binary.LittleEndian.Uint32(i.raw[i.d1:]))
	return string(i.raw[i.d2 : i.d2+l-1])
}

// Timestamp returns the current timestamp's seconds and increment.
func (i *Iter) Timestamp() (timestamp, increment uint32) {
	if i.Type() != TypeTimestamp {
		return 0, 0
	}
	increment = binary.LittleEndian.Uint32(i.raw[i.d1:])
	timestamp = binary.LittleEndian.Uint32(i.raw[i.d1+4:])
	return timestamp, increment
}

// Decimal128 returns the current decimal128 value.
func (i *Iter) Decimal128() Decimal128 {
	if i.Type() != TypeDecimal128 {
		return Decimal128{}
	}
	l := binary.LittleEndian.Uint64(i.raw[i.d1:])
	h := binary.LittleEndian.Uint64(i.raw[i.d1+8:])
	return NewDecimal128(h, l)
}

// DBPointer returns the current dbpointer's collection and id.
func (i *Iter) DBPointer() (collection string, id ObjectID) {
	if i.Type() != TypeDBPointer {
		return "", ObjectID{}
	}
	l := int32(binary.LittleEndian.Uint32(i.raw[i.d1:]))
	collection = string(i.raw[i.d2 : i.d2+l-1])
	copy(id[:], i.raw[i.d3:i.d3+12])
	return collection, id
}

// AsBool coerces the current value to a boolean: numeric zero and
// the empty string are false, null and undefined are false, and
// everything else is true.
func (i *Iter) AsBool() bool {
	switch i.Type() {
	case TypeBool:
		return i.Bool()
	case TypeDouble:
		return i.Double() != 0
	case TypeInt32:
		return i.Int32() != 0
	case TypeInt64:
		return i.Int64() != 0
	case TypeUTF8:
		return i.UTF8() != ""
	case TypeNull, TypeUndefined, TypeEOD:
		return false
	default:
		return true
	}
}

// AsInt64 coerces bool, double, and int32 values to int64, with
// truncation for doubles; int64 values are returned as is. Other
// types yield 0.
func (i *Iter) AsInt64() int64 {
	switch i.Type() {
	case TypeBool:
		if i.Bool() {
			return 1
		}
		return 0
	case TypeDouble:
		return int64(i.Double())
	case TypeInt32:
		return int64(i.Int32())
	case TypeInt64:
		return i.Int64()
	default:
		return 0
	}
}

// overwritable reports whether in-place patching is allowed: the
// iterator must be live and tied to a mutable Doc.
func (i *Iter) overwritable() bool {
	return i.raw != nil && i.doc != nil && i.doc.flags&flagReadOnly == 0
}

// OverwriteBool patches the current boolean value in place.
func (i *Iter) OverwriteBool(value bool) bool {
	if i.Type() != TypeBool || !i.overwritable() {
		return false
	}
	b := byte(0)
	if value {
		b = 1
	}
	i.raw[i.d1] = b
	return true
}

// OverwriteInt32 patches the current int32 value in place.
func (i *Iter) OverwriteInt32(value int32) bool {
	if i.Type() != TypeInt32 || !i.overwritable() {
		return false
	}
	binary.LittleEndian.PutUint32(i.raw[i.d1:], uint32(value))
	return true
}

// OverwriteInt64 patches the current int64 value in place.
func (i *Iter) OverwriteInt64(value int64) bool {
	if i.Type() != TypeInt64 || !i.overwritable() {
		return false
	}
	binary.LittleEndian.PutUint64(i.raw[i.d1:], uint64(value))
	return true
}

// OverwriteDouble patches the current double value in place.
func (i *Iter) OverwriteDouble(value float64) bool {
	if i.Type() != TypeDouble || !i.overwritable() {
		return false
	}
	binary.LittleEndian.PutUint64(i.raw[i.d1:], math.Float64bits(value))
	return true
}
