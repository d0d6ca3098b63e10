// Package ioutil provides the streaming primitives shared by the initrd, iso9660,
// isoembed, osmet and miniso packages: a peekable reader, format-sniffing
// decompression, byte-limited readers/writers, and a hashing tee reader.
package ioutil

import (
	"io"

	"github.com/pkg/errors"
)

// PeekReader wraps a reader and allows inspecting the next n bytes without
// consuming them. PeekReader has no Seek method of its own: a caller that
// repositions the underlying source must call ClearPeek, since the buffered
// bytes no longer follow the new position.
type PeekReader struct {
	src io.Reader
	buf []byte
}

// NewPeekReader wraps src in a PeekReader.
func NewPeekReader(src io.Reader) *PeekReader {
	return &PeekReader{src: src}
}

// Peek returns up to n bytes without consuming them. It returns fewer than n
// bytes only at EOF.
func (p *PeekReader) Peek(n int) ([]byte, error) {
	for len(p.buf) < n {
		chunk := make([]byte, n-len(p.buf))
		read, err := p.src.Read(chunk)
		p.buf = append(p.buf, chunk[:read]...)
		if err != nil {
			if err == io.EOF {
				return p.buf, nil
			}
			return p.buf, errors.Wrap(err, "peeking")
		}
		if read == 0 {
			// reader returned (0, nil); avoid spinning forever
			break
		}
	}
	if len(p.buf) > n {
		return p.buf[:n], nil
	}
	return p.buf, nil
}

// Read implements io.Reader, draining the peek buffer first.
func (p *PeekReader) Read(out []byte) (int, error) {
	if len(p.buf) > 0 {
		n := copy(out, p.buf)
		p.buf = p.buf[n:]
		return n, nil
	}
	return p.src.Read(out)
}

// ReadByte implements io.ByteReader. The gzip/flate decoders switch to
// exact, unbuffered reads when their source is a ByteReader, which keeps
// this reader positioned at the first byte past the compressed stream --
// required for parsing concatenated archives.
func (p *PeekReader) ReadByte() (byte, error) {
	var b [1]byte
	for {
		n, err := p.Read(b[:])
		if n == 1 {
			return b[0], nil
		}
		if err != nil {
			return 0, err
		}
	}
}

// Unread pushes b back onto the front of the peek buffer, so the next Read
// or Peek returns it first. Used to undo a decoder's trailing-data probe.
func (p *PeekReader) Unread(b []byte) {
	if len(b) == 0 {
		return
	}
	p.buf = append(append([]byte{}, b...), p.buf...)
}

// Underlying returns the wrapped reader, for callers that need to reclaim
// the raw source after the peek buffer is drained (e.g. io.Seeker casts).
func (p *PeekReader) Underlying() io.Reader {
	return p.src
}

// ClearPeek discards any buffered peeked bytes. Call this after repositioning
// the underlying source out-of-band (a Seek).
func (p *PeekReader) ClearPeek() {
	p.buf = nil
}
