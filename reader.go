package bsonlite

import (
	"encoding/binary"
	"errors"
	"io"
)

// A Reader yields a sequence of documents from a pull source. Read
// returns a borrowed *Doc per frame; the view is invalidated by the
// next Read call. At the end of input Read returns (nil, io.EOF)
// with ReachedEOF true; a source that ends mid-frame yields
// ErrTruncated with ReachedEOF false.
type Reader struct {
	// memory source
	data []byte
	pos  int

	// stream source
	src    io.Reader
	buf    []byte
	head   int // start of unconsumed bytes
	tail   int // end of buffered bytes
	base   int64 // source offset of buf[0]
	srcEOF bool

	doc        Doc
	reachedEOF bool
}

const readerInitialBufSize = 1024

// NewReader reads documents from an in-memory buffer. The yielded
// documents alias data; nothing is copied.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// NewReaderIO reads documents from r through an internal buffer that
// grows to hold the largest frame seen.
func NewReaderIO(r io.Reader) *Reader {
	return &Reader{src: r, buf: make([]byte, readerInitialBufSize)}
}

// ReachedEOF reports whether the source was exhausted cleanly, with
// no partial frame remaining.
func (r *Reader) ReachedEOF() bool {
	return r.reachedEOF
}

// Tell returns the source byte offset of the next frame.
func (r *Reader) Tell() int64 {
	if r.src != nil {
		return r.base + int64(r.head)
	}
	return int64(r.pos)
}

// Read returns the next document. The *Doc borrows the reader's
// storage and is only valid until the next call.
func (r *Reader) Read() (*Doc, error) {
	if r.src != nil {
		return r.readStream()
	}
	return r.readMemory()
}

func (r *Reader) readMemory() (*Doc, error) {
	remaining := len(r.data) - r.pos
	if remaining == 0 {
		r.reachedEOF = true
		return nil, io.EOF
	}
	if remaining < 4 {
		return nil, readerError(ReaderErrorTruncated, ErrTruncated,
			"truncated BSON document: %d trailing bytes", remaining)
	}
	frameLen := int(int32(binary.LittleEndian.Uint32(r.data[r.pos:])))
	if frameLen < 5 {
		return nil, readerError(ReaderErrorBadFrame, ErrInvalidDocument,
			"invalid frame length %d", frameLen)
	}
	if frameLen > remaining {
		return nil, readerError(ReaderErrorTruncated, ErrTruncated,
			"truncated BSON document: frame of %d bytes, %d remaining", frameLen, remaining)
	}
	if err := r.doc.InitStatic(r.data[r.pos : r.pos+frameLen]); err != nil {
		return nil, readerError(ReaderErrorBadFrame, err, "%v", err)
	}
	r.pos += frameLen
	return &r.doc, nil
}

// fill reads from the source until at least n unconsumed bytes are
// buffered or the source ends.
func (r *Reader) fill(n int) error {
	if r.tail-r.head >= n {
		return nil
	}
	// Compact: move the partial frame to the head of the buffer.
	if r.head > 0 {
		copy(r.buf, r.buf[r.head:r.tail])
		r.base += int64(r.head)
		r.tail -= r.head
		r.head = 0
	}
	if n > len(r.buf) {
		nb := make([]byte, nextPowerOf2(n))
		copy(nb, r.buf[:r.tail])
		r.buf = nb
	}
	for r.tail-r.head < n && !r.srcEOF {
		m, err := r.src.Read(r.buf[r.tail:])
		r.tail += m
		if err == io.EOF {
			r.srcEOF = true
			break
		}
		if err != nil {
			return readerError(ReaderErrorSourceFailure, err, "read source: %v", err)
		}
		if m == 0 {
			r.srcEOF = true
			break
		}
	}
	if r.tail-r.head < n {
		return readerError(ReaderErrorTruncated, ErrTruncated,
			"truncated BSON document: wanted %d bytes, have %d", n, r.tail-r.head)
	}
	return nil
}

func (r *Reader) readStream() (*Doc, error) {
	if r.tail == r.head && r.srcEOF {
		r.reachedEOF = true
		return nil, io.EOF
	}
	if err := r.fill(4); err != nil {
		if errors.Is(err, ErrTruncated) && r.tail == r.head {
			r.reachedEOF = true
			return nil, io.EOF
		}
		return nil, err
	}
	frameLen := int(int32(binary.LittleEndian.Uint32(r.buf[r.head:])))
	if frameLen < 5 {
		return nil, readerError(ReaderErrorBadFrame, ErrInvalidDocument,
			"invalid frame length %d", frameLen)
	}
	if err := r.fill(frameLen); err != nil {
		return nil, err
	}
	if err := r.doc.InitStatic(r.buf[r.head : r.head+frameLen]); err != nil {
		return nil, readerError(ReaderErrorBadFrame, err, "%v", err)
	}
	r.head += frameLen
	return &r.doc, nil
}
