// Package proto implements the OpenRGB SDK wire format: primitives, the
// command registry, composite records, the frame header and packet bodies.
// Nothing in this package performs I/O.
package proto

import (
	"encoding/binary"
	"fmt"
	"math"
	"unicode/utf8"
)

// Writer appends little-endian values to an in-memory buffer. The first
// error is sticky: later writes are no-ops and Err reports it.
type Writer struct {
	buf []byte
	err error
}

// NewWriter returns a Writer with capacity for n bytes.
func NewWriter(n int) *Writer {
	return &Writer{buf: make([]byte, 0, n)}
}

// Bytes returns the encoded bytes.
func (w *Writer) Bytes() []byte { return w.buf }

// Len returns the number of bytes written so far.
func (w *Writer) Len() int { return len(w.buf) }

// Err returns the first error encountered.
func (w *Writer) Err() error { return w.err }

func (w *Writer) fail(err error) {
	if w.err == nil {
		w.err = err
	}
}

func (w *Writer) U8(v uint8) {
	if w.err != nil {
		return
	}
	w.buf = append(w.buf, v)
}

func (w *Writer) U16(v uint16) {
	if w.err != nil {
		return
	}
	w.buf = binary.LittleEndian.AppendUint16(w.buf, v)
}

func (w *Writer) U32(v uint32) {
	if w.err != nil {
		return
	}
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

func (w *Writer) I32(v int32) {
	w.U32(uint32(v))
}

// Raw appends b verbatim.
func (w *Writer) Raw(b []byte) {
	if w.err != nil {
		return
	}
	w.buf = append(w.buf, b...)
}

// String writes a u16 byte count followed by the UTF-8 bytes of s.
func (w *Writer) String(s string) {
	if len(s) > math.MaxUint16 {
		w.fail(fmt.Errorf("%w: text of %d bytes (max %d)", ErrInputTooLarge, len(s), math.MaxUint16))
		return
	}
	if !utf8.ValidString(s) {
		w.fail(fmt.Errorf("%w: %q", ErrMalformedText, s))
		return
	}
	w.U16(uint16(len(s)))
	w.Raw([]byte(s))
}

// Count writes a u16 collection element count.
func (w *Writer) Count(n int) {
	if n > math.MaxUint16 {
		w.fail(fmt.Errorf("%w: %d elements (max %d)", ErrInputTooLarge, n, math.MaxUint16))
		return
	}
	w.U16(uint16(n))
}

// Reader consumes little-endian values from an in-memory buffer. Like
// Writer it keeps the first error and returns zero values afterwards.
type Reader struct {
	buf []byte
	pos int
	err error
}

// NewReader returns a Reader over b.
func NewReader(b []byte) *Reader {
	return &Reader{buf: b}
}

// Err returns the first error encountered.
func (r *Reader) Err() error { return r.err }

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.buf) - r.pos }

func (r *Reader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *Reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.Remaining() < n {
		r.fail(fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrUnexpectedEOD, n, r.pos, r.Remaining()))
		return nil
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b
}

func (r *Reader) U8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *Reader) U16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (r *Reader) U32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *Reader) I32() int32 {
	return int32(r.U32())
}

// Raw returns the next n bytes. The slice aliases the underlying buffer.
func (r *Reader) Raw(n int) []byte {
	return r.take(n)
}

// String reads a u16 byte count and that many UTF-8 bytes.
func (r *Reader) String() string {
	n := int(r.U16())
	b := r.take(n)
	if b == nil {
		return ""
	}
	if !utf8.Valid(b) {
		r.fail(fmt.Errorf("%w: %d bytes at offset %d", ErrMalformedText, n, r.pos-n))
		return ""
	}
	return string(b)
}

// Count reads a u16 element count and checks that count elements of at
// least minSize bytes each can still fit in the buffer.
func (r *Reader) Count(minSize int) int {
	n := int(r.U16())
	if r.err != nil {
		return 0
	}
	if n*minSize > r.Remaining() {
		r.fail(fmt.Errorf("%w: %d elements of %d bytes declared, %d bytes left", ErrLengthMismatch, n, minSize, r.Remaining()))
		return 0
	}
	return n
}

// Finish reports an error if unread bytes remain.
func (r *Reader) Finish() error {
	if r.err != nil {
		return r.err
	}
	if n := r.Remaining(); n != 0 {
		return fmt.Errorf("%w: %d trailing bytes", ErrLengthMismatch, n)
	}
	return nil
}
