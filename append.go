package bsonlite

import (
	"encoding/binary"
	"math"
	"time"
)

// Every appender returns false and leaves the document untouched if
// a child cursor is open, the document is read-only, or the append
// would push the encoding past the maximum document size. A keyLen
// of -1 means the whole key string.

func le32(v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return b[:]
}

func le64(v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return b[:]
}

// AppendDouble appends an IEEE 754 double element.
func (d *Doc) AppendDouble(key string, keyLen int, value float64) bool {
	return d.appendElement(TypeDouble, key, keyLen, le64(math.Float64bits(value)))
}

// AppendUTF8 appends a string element.
func (d *Doc) AppendUTF8(key string, keyLen int, value string) bool {
	return d.appendElement(TypeUTF8, key, keyLen,
		le32(uint32(len(value)+1)), []byte(value), nulByte)
}

// AppendDocument appends value as a nested document element.
func (d *Doc) AppendDocument(key string, keyLen int, value *Doc) bool {
	return d.appendElement(TypeDocument, key, keyLen, value.Data())
}

// AppendArray appends value as an array element. The caller is
// responsible for value's keys being "0", "1", ...; the builder does
// not re-verify them.
func (d *Doc) AppendArray(key string, keyLen int, value *Doc) bool {
	return d.appendElement(TypeArray, key, keyLen, value.Data())
}

// AppendBinary appends a binary element. Subtype 0x02 is written in
// its legacy form with the redundant inner length field.
func (d *Doc) AppendBinary(key string, keyLen int, subtype byte, data []byte) bool {
	if subtype == SubtypeBinaryOld {
		return d.appendElement(TypeBinary, key, keyLen,
			le32(uint32(len(data)+4)), []byte{subtype}, le32(uint32(len(data))), data)
	}
	return d.appendElement(TypeBinary, key, keyLen,
		le32(uint32(len(data))), []byte{subtype}, data)
}

// AppendUndefined appends an undefined element (deprecated in BSON).
func (d *Doc) AppendUndefined(key string, keyLen int) bool {
	return d.appendElement(TypeUndefined, key, keyLen)
}

// AppendOID appends an object id element.
func (d *Doc) AppendOID(key string, keyLen int, id ObjectID) bool {
	return d.appendElement(TypeOID, key, keyLen, id[:])
}

// AppendBool appends a boolean element.
func (d *Doc) AppendBool(key string, keyLen int, value bool) bool {
	b := byte(0)
	if value {
		b = 1
	}
	return d.appendElement(TypeBool, key, keyLen, []byte{b})
}

// AppendDateTime appends a datetime element of msec milliseconds
// since the Unix epoch; negative values date before 1970.
func (d *Doc) AppendDateTime(key string, keyLen int, msec int64) bool {
	return d.appendElement(TypeDateTime, key, keyLen, le64(uint64(msec)))
}

// AppendTime appends t as a datetime element at millisecond
// precision.
func (d *Doc) AppendTime(key string, keyLen int, t time.Time) bool {
	return d.AppendDateTime(key, keyLen, t.UnixMilli())
}

// AppendNull appends a null element.
func (d *Doc) AppendNull(key string, keyLen int) bool {
	return d.appendElement(TypeNull, key, keyLen)
}

// AppendRegex appends a regular expression element. Neither pattern
// nor options may contain a NUL byte.
func (d *Doc) AppendRegex(key string, keyLen int, pattern, options string) bool {
	for i := 0; i < len(pattern); i++ {
		if pattern[i] == 0 {
			return false
		}
	}
	for i := 0; i < len(options); i++ {
		if options[i] == 0 {
			return false
		}
	}
	return d.appendElement(TypeRegex, key, keyLen,
		[]byte(pattern), nulByte, []byte(options), nulByte)
}

// AppendDBPointer appends a dbpointer element (deprecated in BSON).
func (d *Doc) AppendDBPointer(key string, keyLen int, collection string, id ObjectID) bool {
	return d.appendElement(TypeDBPointer, key, keyLen,
		le32(uint32(len(collection)+1)), []byte(collection), nulByte, id[:])
}

// AppendCode appends a JavaScript code element.
func (d *Doc) AppendCode(key string, keyLen int, code string) bool {
	return d.appendElement(TypeCode, key, keyLen,
		le32(uint32(len(code)+1)), []byte(code), nulByte)
}

// AppendSymbol appends a symbol element (deprecated in BSON).
func (d *Doc) AppendSymbol(key string, keyLen int, symbol string) bool {
	return d.appendElement(TypeSymbol, key, keyLen,
		le32(uint32(len(symbol)+1)), []byte(symbol), nulByte)
}

// AppendCodeWithScope appends a code element carrying a scope
// document. A nil scope behaves like AppendCode.
func (d *Doc) AppendCodeWithScope(key string, keyLen int, code string, scope *Doc) bool {
	if scope == nil {
		return d.AppendCode(key, keyLen, code)
	}
	codeLen := len(code) + 1
	total := 4 + 4 + codeLen + scope.Len()
	return d.appendElement(TypeCodeWithScope, key, keyLen,
		le32(uint32(total)), le32(uint32(codeLen)), []byte(code), nulByte, scope.Data())
}

// AppendInt32 appends a 32-bit integer element.
func (d *Doc) AppendInt32(key string, keyLen int, value int32) bool {
	return d.appendElement(TypeInt32, key, keyLen, le32(uint32(value)))
}

// AppendTimestamp appends an internal MongoDB timestamp element of
// seconds and increment.
func (d *Doc) AppendTimestamp(key string, keyLen int, timestamp, increment uint32) bool {
	return d.appendElement(TypeTimestamp, key, keyLen,
		le32(increment), le32(timestamp))
}

// AppendInt64 appends a 64-bit integer element.
func (d *Doc) AppendInt64(key string, keyLen int, value int64) bool {
	return d.appendElement(TypeInt64, key, keyLen, le64(uint64(value)))
}

// AppendDecimal128 appends a decimal128 element.
func (d *Doc) AppendDecimal128(key string, keyLen int, value Decimal128) bool {
	h, l := value.GetBytes()
	return d.appendElement(TypeDecimal128, key, keyLen, le64(l), le64(h))
}

// AppendMaxKey appends a max-key element.
func (d *Doc) AppendMaxKey(key string, keyLen int) bool {
	return d.appendElement(TypeMaxKey, key, keyLen)
}

// AppendMinKey appends a min-key element.
func (d *Doc) AppendMinKey(key string, keyLen int) bool {
	return d.appendElement(TypeMinKey, key, keyLen)
}

// AppendIter copies the element the iterator is positioned on.
// Passing it.Key(), -1 reuses the iterator's key.
func (d *Doc) AppendIter(key string, keyLen int, it *Iter) bool {
	if it.raw == nil || it.off >= it.nextOff {
		return false
	}
	t := Type(it.raw[it.off])
	if t == TypeEOD {
		return false
	}
	return d.appendElement(t, key, keyLen, it.raw[it.d1:it.nextOff])
}

// beginChild pushes a 5-byte placeholder under key and opens child
// as a cursor over it. The parent refuses further appends until the
// child closes.
func (d *Doc) beginChild(t Type, key string, keyLen int, child *Doc) bool {
	if !d.appendElement(t, key, keyLen, emptyDoc[:]) {
		return false
	}
	// Children alias the parent's buffer through a single shared
	// indirection, so an inline parent promotes first.
	if d.flags&flagInline != 0 {
		if !d.toHeap(int(d.length)) {
			return false
		}
	}
	d.flags |= flagInChild
	*child = Doc{
		flags:   flagChild | flagNoFree,
		length:  5,
		offset:  d.offset + d.length - 6,
		buf:     d.buf,
		parent:  d,
		realloc: d.realloc,
	}
	return true
}

// endChild patches the placeholder's length into the parent, writes
// the parent's terminator after the child, and releases the cursor.
func (d *Doc) endChild(child *Doc) bool {
	if child.parent != d || d.flags&flagInChild == 0 {
		return false
	}
	d.length += child.length - 5
	buf := *d.buf
	buf[d.offset+d.length-1] = 0
	binary.LittleEndian.PutUint32(buf[d.offset:], uint32(d.length))
	d.flags &^= flagInChild
	child.parent = nil
	child.buf = nil
	child.flags = flagReadOnly // dead cursor; further appends fail
	return true
}

// AppendDocumentBegin opens a child cursor building a nested
// document under key. The child writes into the tail of d's buffer;
// d cannot be appended to until AppendDocumentEnd.
func (d *Doc) AppendDocumentBegin(key string, keyLen int, child *Doc) bool {
	return d.beginChild(TypeDocument, key, keyLen, child)
}

// AppendDocumentEnd closes a child opened by AppendDocumentBegin.
func (d *Doc) AppendDocumentEnd(child *Doc) bool {
	return d.endChild(child)
}

// AppendArrayBegin opens a child cursor building an array under
// key. Element keys are the caller's responsibility ("0", "1", ...).
func (d *Doc) AppendArrayBegin(key string, keyLen int, child *Doc) bool {
	return d.beginChild(TypeArray, key, keyLen, child)
}

// AppendArrayEnd closes a child opened by AppendArrayBegin.
func (d *Doc) AppendArrayEnd(child *Doc) bool {
	return d.endChild(child)
}
