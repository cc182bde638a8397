package bsonlite

import "fmt"

// A Writer serialises a sequence of documents into a caller-owned
// growable buffer. The caller keeps ownership of the buffer before,
// during, and after; the Writer only grows it through the supplied
// GrowFunc. Each document follows a begin / append / end protocol,
// with Rollback discarding a partially built document.
type Writer struct {
	buf     *[]byte
	offset  int
	grow    GrowFunc
	written int
	doc     Doc
	inDoc   bool
}

// defaultGrow copies buf into a fresh allocation of need bytes.
func defaultGrow(buf []byte, need int) []byte {
	nb := make([]byte, need)
	copy(nb, buf)
	return nb
}

// NewWriter returns a Writer emitting documents into *buf starting
// at offset. grow may be nil for the default allocate-and-copy
// strategy; a custom grow returning nil aborts the Begin that
// required it.
func NewWriter(buf *[]byte, offset int, grow GrowFunc) *Writer {
	if grow == nil {
		grow = defaultGrow
	}
	return &Writer{buf: buf, offset: offset, grow: grow}
}

// Length returns offset plus everything written, including any
// document currently in progress.
func (w *Writer) Length() int {
	n := w.offset + w.written
	if w.inDoc {
		n += w.doc.Len()
	}
	return n
}

// Begin starts the next document and returns a builder writing
// directly into the caller's buffer. Only one document may be open
// at a time.
func (w *Writer) Begin() (*Doc, error) {
	if w.inDoc {
		return nil, fmt.Errorf("writer: document already begun")
	}
	base := w.offset + w.written
	need := base + 5
	if len(*w.buf) < need {
		want := nextPowerOf2(need)
		nb := w.grow(*w.buf, want)
		if nb == nil {
			return nil, fmt.Errorf("writer: buffer grow to %d refused", want)
		}
		*w.buf = nb
	}
	copy((*w.buf)[base:], emptyDoc[:])
	w.doc = Doc{
		flags:   flagChild | flagNoFree,
		length:  5,
		offset:  int32(base),
		buf:     w.buf,
		realloc: w.grow,
	}
	w.inDoc = true
	return &w.doc, nil
}

// End commits the document returned by the last Begin.
func (w *Writer) End() error {
	if !w.inDoc {
		return fmt.Errorf("writer: no document begun")
	}
	w.written += w.doc.Len()
	w.doc.flags = flagReadOnly // detach the handed-out builder
	w.inDoc = false
	return nil
}

// Rollback discards the document in progress; the next Begin reuses
// the same starting offset. Rolling back with no document open is a
// no-op.
func (w *Writer) Rollback() {
	if !w.inDoc {
		return
	}
	w.doc.flags = flagReadOnly
	w.inDoc = false
}
