package bsonlite

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// GrowFunc reallocates buf to hold at least need bytes and returns
// the new slice. Returning nil refuses the growth and fails the
// operation that required it.
type GrowFunc func(buf []byte, need int) []byte

// Doc flags. Exactly one of inline/heap applies; the rest qualify.
const (
	flagInline   uint8 = 1 << 0 // bytes live in the inline array
	flagChild    uint8 = 1 << 1 // writes into the tail of a parent's buffer
	flagInChild  uint8 = 1 << 2 // a child cursor is open; appends forbidden
	flagReadOnly uint8 = 1 << 3 // externally owned bytes; appends forbidden
	flagNoFree   uint8 = 1 << 4 // buffer is owned elsewhere (writer-carved docs)
)

// inlineCap is the usable size of the inline representation. A Doc
// whose encoding fits stays free of heap buffers.
const inlineCap = 120

// Doc is one BSON document under construction or inspection. The
// zero value is not ready for use: build with New, NewSized, or
// NewFromBytes, or call Init on a stack value.
//
// A Doc exclusively owns its buffer unless flagged read-only or
// child. Mutating a Doc while an Iter, child cursor, or borrowed
// byte view on it is outstanding is a programming error.
type Doc struct {
	flags   uint8
	length  int32
	offset  int32 // start of this document within *buf (child views)
	inline  [inlineCap]byte
	buf     *[]byte // shared with every child; one indirection survives regrowth
	parent  *Doc
	realloc GrowFunc
	ro      []byte // read-only external bytes
}

var emptyDoc = [5]byte{5, 0, 0, 0, 0}

// Init resets d to an empty inline document of wire length 5.
func (d *Doc) Init() {
	*d = Doc{flags: flagInline, length: 5}
	copy(d.inline[:], emptyDoc[:])
}

// New returns an empty document using the inline representation.
func New() *Doc {
	d := &Doc{}
	d.Init()
	return d
}

// NewSized returns an empty document with an eagerly allocated heap
// buffer of at least capacity bytes, rounded up to the next power of
// two. The buffer is capped at 2^31-1 bytes (maxSize).
func NewSized(capacity int) *Doc {
	if capacity < 5 {
		capacity = 5
	}
	n := nextPowerOf2(capacity)
	if n > maxSize {
		n = maxSize
	}
	buf := make([]byte, n)
	copy(buf, emptyDoc[:])
	d := &Doc{length: 5, buf: &buf}
	return d
}

// NewFromBytes wraps data as a read-only document without copying.
// It fails if data is shorter than 5 bytes, if the declared length
// disagrees with len(data), or if the final byte is not the NUL
// terminator. Element framing is validated lazily by iteration.
func NewFromBytes(data []byte) (*Doc, error) {
	d := &Doc{}
	if err := d.InitStatic(data); err != nil {
		return nil, err
	}
	return d, nil
}

// InitStatic initialises d as a read-only view of data. See
// NewFromBytes for the framing checks applied.
func (d *Doc) InitStatic(data []byte) error {
	if len(data) < 5 {
		return fmt.Errorf("%w: %d bytes", ErrInvalidDocument, len(data))
	}
	if len(data) > maxSize {
		return fmt.Errorf("%w: %d bytes exceeds max document size", ErrInvalidDocument, len(data))
	}
	declared := int32(binary.LittleEndian.Uint32(data))
	if declared != int32(len(data)) {
		return fmt.Errorf("%w: declared length %d, have %d bytes", ErrInvalidDocument, declared, len(data))
	}
	if data[len(data)-1] != 0 {
		return fmt.Errorf("%w: missing terminator", ErrInvalidDocument)
	}
	*d = Doc{flags: flagReadOnly | flagNoFree, length: declared, ro: data}
	return nil
}

// Reinit resets d to an empty document, keeping any heap buffer.
func (d *Doc) Reinit() {
	if d.buf != nil && d.flags&(flagChild|flagReadOnly) == 0 {
		d.flags &^= flagInChild
		d.length = 5
		d.offset = 0
		copy(*d.buf, emptyDoc[:])
		return
	}
	d.Init()
}

// Len returns the current wire length of the document in bytes.
func (d *Doc) Len() int {
	return int(d.length)
}

// Data returns the document's encoded bytes. The slice is borrowed:
// it aliases the Doc's storage and is invalidated by any append.
func (d *Doc) Data() []byte {
	switch {
	case d.flags&flagReadOnly != 0:
		return d.ro
	case d.flags&flagInline != 0:
		return d.inline[:d.length]
	default:
		return (*d.buf)[d.offset : d.offset+d.length]
	}
}

// writable reports whether an append may proceed at all.
func (d *Doc) writable() bool {
	return d.flags&(flagInChild|flagReadOnly) == 0
}

// childDepth counts open ancestors above d; the builder reserves one
// trailing terminator byte per level during growth.
func (d *Doc) childDepth() int32 {
	var n int32
	for p := d.parent; p != nil; p = p.parent {
		n++
	}
	return n
}

// growBuf reallocates the shared buffer to at least need bytes using
// the root's grow function, or make+copy by default.
func (d *Doc) growBuf(need int) bool {
	want := nextPowerOf2(need)
	if want > maxSize {
		return false
	}
	old := *d.buf
	if len(old) >= want {
		return true
	}
	grow := d.realloc
	if grow == nil {
		nb := make([]byte, want)
		copy(nb, old)
		*d.buf = nb
		return true
	}
	nb := grow(old, want)
	if nb == nil {
		return false
	}
	*d.buf = nb
	return true
}

// toHeap promotes an inline document to the heap representation.
// The transition is one-way.
func (d *Doc) toHeap(need int) bool {
	want := nextPowerOf2(need)
	if want > maxSize {
		return false
	}
	buf := make([]byte, want)
	copy(buf, d.inline[:d.length])
	d.buf = &buf
	d.flags &^= flagInline
	return true
}

// ensure makes room for grow more bytes at the end of d, counting
// the terminator bytes every open ancestor will write on close.
// No mutation happens on failure.
func (d *Doc) ensure(grow int32) bool {
	if int64(d.length)+int64(grow) > maxSize {
		return false
	}
	need := int64(d.offset) + int64(d.length) + int64(grow) + int64(d.childDepth())
	if need > maxSize {
		return false
	}
	if d.flags&flagInline != 0 {
		if int(d.length+grow) <= inlineCap {
			return true
		}
		return d.toHeap(int(need))
	}
	return d.growBuf(int(need))
}

// appendElement writes one element (type byte, key, NUL, value
// segments) and re-terminates the document. It is the single
// bounded-growth step behind every appender.
func (d *Doc) appendElement(t Type, key string, keyLen int, segments ...[]byte) bool {
	if !d.writable() {
		return false
	}
	if keyLen < 0 {
		keyLen = len(key)
	}
	if keyLen > len(key) {
		return false
	}
	var valLen int
	for _, seg := range segments {
		valLen += len(seg)
	}
	grow := int64(1) + int64(keyLen) + 1 + int64(valLen)
	if grow > maxSize || !d.ensure(int32(grow)) {
		return false
	}

	buf := d.storage()
	pos := d.offset + d.length - 1 // overwrite the current terminator
	buf[pos] = byte(t)
	pos++
	copy(buf[pos:], key[:keyLen])
	pos += int32(keyLen)
	buf[pos] = 0
	pos++
	for _, seg := range segments {
		copy(buf[pos:], seg)
		pos += int32(len(seg))
	}
	buf[pos] = 0
	d.length += int32(grow)
	binary.LittleEndian.PutUint32(buf[d.offset:], uint32(d.length))
	return true
}

// storage returns the full backing array for writes. Only valid on
// writable documents.
func (d *Doc) storage() []byte {
	if d.flags&flagInline != 0 {
		return d.inline[:]
	}
	return *d.buf
}

// appendRaw splices pre-encoded element bytes (no framing added)
// before the terminator.
func (d *Doc) appendRaw(raw []byte) bool {
	if !d.writable() {
		return false
	}
	grow := int64(len(raw))
	if grow > maxSize || !d.ensure(int32(grow)) {
		return false
	}
	buf := d.storage()
	pos := d.offset + d.length - 1
	copy(buf[pos:], raw)
	pos += int32(len(raw))
	buf[pos] = 0
	d.length += int32(grow)
	binary.LittleEndian.PutUint32(buf[d.offset:], uint32(d.length))
	return true
}

// Concat appends every element of src to d.
func (d *Doc) Concat(src *Doc) bool {
	data := src.Data()
	if len(data) < 5 {
		return false
	}
	return d.appendRaw(data[4 : len(data)-1])
}

// CopyTo deep-copies d into dst, replacing dst's contents.
func (d *Doc) CopyTo(dst *Doc) {
	data := d.Data()
	if len(data) <= inlineCap {
		dst.Init()
		copy(dst.inline[:], data)
		dst.length = int32(len(data))
		return
	}
	buf := make([]byte, nextPowerOf2(len(data)))
	copy(buf, data)
	*dst = Doc{length: int32(len(data)), buf: &buf}
}

// CopyToExcluding deep-copies d into dst, omitting top-level
// elements whose key matches one of keys.
func (d *Doc) CopyToExcluding(dst *Doc, keys ...string) {
	dst.Init()
	var it Iter
	if !it.Init(d) {
		return
	}
next:
	for it.Next() {
		for _, k := range keys {
			if it.Key() == k {
				continue next
			}
		}
		dst.AppendIter(it.Key(), -1, &it)
	}
}

// Compare orders two documents by their raw bytes, the shorter one
// first when one is a prefix of the other.
func (d *Doc) Compare(other *Doc) int {
	return bytes.Compare(d.Data(), other.Data())
}

// Equal reports whether two documents have identical bytes.
func (d *Doc) Equal(other *Doc) bool {
	return bytes.Equal(d.Data(), other.Data())
}

// CountKeys returns the number of top-level elements.
func (d *Doc) CountKeys() int {
	var it Iter
	if !it.Init(d) {
		return 0
	}
	n := 0
	for it.Next() {
		n++
	}
	return n
}

// HasField reports whether a top-level element with the given key
// exists.
func (d *Doc) HasField(key string) bool {
	var it Iter
	return it.InitFind(d, key)
}
