package ioutil

import (
	"bytes"
	"compress/gzip"
	"io"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
	"github.com/ulikunitz/xz"
)

var (
	gzipMagic = []byte{0x1f, 0x8b}
	xzMagic   = []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}
	// zstd frame magic and the skippable-frame magic range (0x184D2A50-0x184D2A5F,
	// little-endian on the wire).
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

func isSkippableZstdMagic(b []byte) bool {
	if len(b) < 4 {
		return false
	}
	if b[1] != 0x2a || b[2] != 0x4d || b[3] != 0x18 {
		return false
	}
	return b[0]&0xf0 == 0x50
}

// DecompressReader sniffs the format of the wrapped PeekReader on construction
// and transparently decompresses gzip, xz or zstd streams. Unrecognized
// headers pass through unmodified.
type DecompressReader struct {
	peek         *PeekReader
	decompressed io.Reader
	compressed   bool
	strict       bool
	checkedTail  bool
}

// New creates a strict-mode DecompressReader: after the underlying stream is
// exhausted, a single trailing byte causes an error.
func New(p *PeekReader) (*DecompressReader, error) {
	return newDecompressReader(p, true)
}

// ForConcatenated creates a concatenated-mode DecompressReader: trailing data
// is left alone and recoverable via Underlying after Read returns io.EOF.
func ForConcatenated(p *PeekReader) (*DecompressReader, error) {
	return newDecompressReader(p, false)
}

func newDecompressReader(p *PeekReader, strict bool) (*DecompressReader, error) {
	head, err := p.Peek(6)
	if err != nil {
		return nil, errors.Wrap(err, "sniffing compression format")
	}

	dr := &DecompressReader{peek: p, compressed: true, strict: strict}

	switch {
	case bytes.HasPrefix(head, gzipMagic):
		// PeekReader implements io.ByteReader, so the gzip decoder reads
		// exactly the compressed bytes and no further. Multistream is off:
		// the decoder must stop at the first stream's end so trailing data
		// (or the next concatenated archive) stays on the peek reader.
		gr, err := gzip.NewReader(p)
		if err != nil {
			return nil, errors.Wrap(err, "opening gzip stream")
		}
		gr.Multistream(false)
		dr.decompressed = gr
	case bytes.HasPrefix(head, xzMagic):
		// SingleStream for the same reason Multistream is off for gzip.
		// The xz reader probes one byte past the stream to verify EOF and
		// errors if it finds data; xzStreamReader records that byte and
		// pushes it back so trailing data stays on the peek reader and the
		// probe error becomes a clean EOF.
		tap := &lastByteTap{src: p}
		xr, err := xz.ReaderConfig{SingleStream: true}.NewReader(tap)
		if err != nil {
			return nil, errors.Wrap(err, "opening xz stream")
		}
		dr.decompressed = &xzStreamReader{r: xr, tap: tap, peek: p}
	case bytes.HasPrefix(head, zstdMagic) || isSkippableZstdMagic(head):
		// The zstd decoder buffers its input aggressively, so it cannot
		// read the PeekReader directly without losing the stream-end
		// position. zstdFrameReader walks frame and block headers to serve
		// exactly the bytes of the maximal run of zstd frames, making
		// over-read impossible.
		zr, err := zstd.NewReader(newZstdFrameReader(p))
		if err != nil {
			return nil, errors.Wrap(err, "opening zstd stream")
		}
		dr.decompressed = &zstdCloserReader{zr}
	default:
		dr.compressed = false
		dr.decompressed = p
	}
	return dr, nil
}

// IsCompressed reports whether the sniffed source was actually compressed,
// or is passing through unmodified. Callers handling concatenated archives
// need the distinction: a passthrough reader has no stream end of its own,
// so "drain to end of stream" would consume the rest of the source.
func (d *DecompressReader) IsCompressed() bool {
	return d.compressed
}

type zstdCloserReader struct {
	r *zstd.Decoder
}

func (z *zstdCloserReader) Read(p []byte) (int, error) {
	return z.r.Read(p)
}

// lastByteTap remembers the last byte its reader consumed, so a decoder's
// single-byte end-of-stream probe can be undone.
type lastByteTap struct {
	src  io.Reader
	last byte
	seen bool
}

func (t *lastByteTap) Read(p []byte) (int, error) {
	n, err := t.src.Read(p)
	if n > 0 {
		t.last = p[n-1]
		t.seen = true
	}
	return n, err
}

// xzStreamReader adapts the xz reader's single-stream trailing-data probe
// ("xz: unexpected data after stream", not an exported error value) into
// the same contract as the other branches: report EOF at the end of the
// stream and leave any following bytes readable on the peek reader.
type xzStreamReader struct {
	r    io.Reader
	tap  *lastByteTap
	peek *PeekReader
}

func (x *xzStreamReader) Read(p []byte) (int, error) {
	n, err := x.r.Read(p)
	if err != nil && err != io.EOF && strings.Contains(err.Error(), "unexpected data after stream") {
		if x.tap.seen {
			x.peek.Unread([]byte{x.tap.last})
		}
		return n, io.EOF
	}
	return n, err
}

// Read decompresses into p. In strict mode, once the inner stream reports
// io.EOF this peeks one more byte on the underlying source; a non-empty
// result is reported as trailing-data corruption.
func (d *DecompressReader) Read(p []byte) (int, error) {
	n, err := d.decompressed.Read(p)
	if err == io.EOF && d.strict && !d.checkedTail {
		d.checkedTail = true
		tail, peekErr := d.peek.Peek(1)
		if peekErr != nil {
			return n, errors.Wrap(peekErr, "checking for trailing data")
		}
		if len(tail) > 0 {
			return n, errors.New("found trailing data after compressed stream")
		}
	}
	return n, err
}

// Underlying returns the PeekReader positioned just past the bytes consumed
// by the compressed stream (concatenated mode only, after io.EOF).
func (d *DecompressReader) Underlying() *PeekReader {
	return d.peek
}
