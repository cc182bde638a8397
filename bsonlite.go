// Package bsonlite reads, writes, and converts BSON documents.
//
// The package works directly on the wire encoding: a Doc is an
// append-only byte buffer holding one length-prefixed document, an
// Iter is a validating zero-copy cursor over those bytes, and the
// Reader and Writer stream sequences of documents. Extended JSON in
// both canonical and relaxed forms is supported for conversion at
// the human-readable boundary, including the full Decimal128 codec.
//
// The package performs no I/O of its own beyond the io.Reader
// sources handed to it, and no operation is safe for concurrent
// mutation. Read-only iteration over distinct Iters on the same
// immutable Doc is safe.
package bsonlite

// Type is a BSON element type tag.
type Type byte

// BSON element type tags.
const (
	TypeEOD           Type = 0x00
	TypeDouble        Type = 0x01
	TypeUTF8          Type = 0x02
	TypeDocument      Type = 0x03
	TypeArray         Type = 0x04
	TypeBinary        Type = 0x05
	TypeUndefined     Type = 0x06
	TypeOID           Type = 0x07
	TypeBool          Type = 0x08
	TypeDateTime      Type = 0x09
	TypeNull          Type = 0x0A
	TypeRegex         Type = 0x0B
	TypeDBPointer     Type = 0x0C
	TypeCode          Type = 0x0D
	TypeSymbol        Type = 0x0E
	TypeCodeWithScope Type = 0x0F
	TypeInt32         Type = 0x10
	TypeTimestamp     Type = 0x11
	TypeInt64         Type = 0x12
	TypeDecimal128    Type = 0x13
	TypeMaxKey        Type = 0x7F
	TypeMinKey        Type = 0xFF
)

// String returns the lowercase spec name of the type tag.
func (t Type) String() string {
	switch t {
	case TypeEOD:
		return "eod"
	case TypeDouble:
		return "double"
	case TypeUTF8:
		return "utf8"
	case TypeDocument:
		return "document"
	case TypeArray:
		return "array"
	case TypeBinary:
		return "binary"
	case TypeUndefined:
		return "undefined"
	case TypeOID:
		return "objectid"
	case TypeBool:
		return "bool"
	case TypeDateTime:
		return "datetime"
	case TypeNull:
		return "null"
	case TypeRegex:
		return "regex"
	case TypeDBPointer:
		return "dbpointer"
	case TypeCode:
		return "code"
	case TypeSymbol:
		return "symbol"
	case TypeCodeWithScope:
		return "codewscope"
	case TypeInt32:
		return "int32"
	case TypeTimestamp:
		return "timestamp"
	case TypeInt64:
		return "int64"
	case TypeDecimal128:
		return "decimal128"
	case TypeMaxKey:
		return "maxkey"
	case TypeMinKey:
		return "minkey"
	}
	return "unknown"
}

// Binary subtypes.
const (
	SubtypeGeneric   byte = 0x00
	SubtypeFunction  byte = 0x01
	SubtypeBinaryOld byte = 0x02
	SubtypeUUIDOld   byte = 0x03
	SubtypeUUID      byte = 0x04
	SubtypeMD5       byte = 0x05
	SubtypeUser      byte = 0x80
)

// maxSize is the largest encodable document, implied by the int32
// length prefix.
const maxSize = 0x7FFFFFFF
