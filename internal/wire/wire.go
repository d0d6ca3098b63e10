// Package wire implements the small binary encoding used for the osmet and
// miniso on-disk formats (§6.1/§6.2). The original tool encodes these with
// Rust's bincode; no Go library in the dependency pack reproduces bincode's
// wire format, and there is no real interoperability requirement with the
// Rust original here, so this package defines an equivalent fixed-width
// little-endian encoding (length-prefixed byte strings, no padding) built on
// encoding/binary. See DESIGN.md for the justification.
package wire

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// Writer accumulates bincode-equivalent encoded fields.
type Writer struct {
	w   io.Writer
	err error
}

// NewWriter wraps w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Err returns the first error encountered by any Write* call.
func (w *Writer) Err() error {
	return w.err
}

func (w *Writer) write(p []byte) {
	if w.err != nil {
		return
	}
	_, w.err = w.w.Write(p)
}

// Bytes writes raw, unprefixed bytes (fixed-size fields such as magic numbers
// and digests).
func (w *Writer) Bytes(b []byte) {
	w.write(b)
}

// U32 writes a little-endian uint32.
func (w *Writer) U32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.write(b[:])
}

// U64 writes a little-endian uint64.
func (w *Writer) U64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.write(b[:])
}

// ByteSlice writes a uint64 length prefix followed by the bytes.
func (w *Writer) ByteSlice(b []byte) {
	w.U64(uint64(len(b)))
	w.write(b)
}

// String writes a uint64 length prefix followed by the UTF-8 bytes.
func (w *Writer) String(s string) {
	w.ByteSlice([]byte(s))
}

// Reader decodes bincode-equivalent fields written by Writer.
type Reader struct {
	r   io.Reader
	err error
}

// NewReader wraps r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// Err returns the first error encountered by any Read* call.
func (r *Reader) Err() error {
	return r.err
}

func (r *Reader) read(n int) []byte {
	if r.err != nil {
		return nil
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r.r, b); err != nil {
		r.err = errors.Wrap(err, "reading wire field")
		return nil
	}
	return b
}

// Bytes reads n raw bytes.
func (r *Reader) Bytes(n int) []byte {
	return r.read(n)
}

// U32 reads a little-endian uint32.
func (r *Reader) U32() uint32 {
	b := r.read(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

// U64 reads a little-endian uint64.
func (r *Reader) U64() uint64 {
	b := r.read(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

// ByteSlice reads a uint64-length-prefixed byte slice, bounded by maxLen to
// guard against corrupt or hostile length fields.
func (r *Reader) ByteSlice(maxLen uint64) []byte {
	n := r.U64()
	if r.err != nil {
		return nil
	}
	if n > maxLen {
		r.err = errors.Errorf("wire field length %d exceeds maximum %d", n, maxLen)
		return nil
	}
	return r.read(int(n))
}

// String reads a uint64-length-prefixed UTF-8 string.
func (r *Reader) String(maxLen uint64) string {
	b := r.ByteSlice(maxLen)
	return string(b)
}
