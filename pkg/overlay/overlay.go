// Package overlay implements a read-seekable view that substitutes one or
// more byte ranges of a base stream with the contents of other readers,
// without copying the untouched parts of the base. isoembed uses it to
// stream a patched ISO image (initrd embed region, karg default region,
// karg mirror regions) while leaving every unmodified sector untouched on
// the wire.
package overlay

import (
	"io"

	"github.com/pkg/errors"
)

// Overlay is a byte range [Offset, Offset+Length) of some base stream whose
// bytes are replaced by reading from Reader instead.
type Overlay struct {
	Reader io.ReadSeeker
	Offset int64
	Length int64
}

func (ol Overlay) end() int64 {
	return ol.Offset + ol.Length
}

func (ol Overlay) contains(pos int64) bool {
	return ol.Offset <= pos && pos < ol.end()
}

// overlayReader is an io.ReadSeeker that reads from base everywhere except
// inside overlay, where it reads from overlay.Reader instead.
type overlayReader struct {
	base    io.ReadSeeker
	overlay Overlay

	pos   int64
	total int64
}

func newOverlayReader(base io.ReadSeeker, ol Overlay, baseLength int64) (*overlayReader, error) {
	total := baseLength
	if ol.end() > total {
		total = ol.end()
	}

	r := overlayReader{
		base:    base,
		overlay: ol,
		total:   total,
	}

	if _, err := base.Seek(0, io.SeekStart); err != nil {
		return nil, errors.Wrap(err, "rewinding overlay base")
	}
	if _, err := ol.Reader.Seek(0, io.SeekStart); err != nil {
		return nil, errors.Wrap(err, "rewinding overlay reader")
	}

	return &r, nil
}

// NewOverlayReader returns a reader over base with the bytes in ol.Offset
// through ol.Offset+ol.Length replaced by ol.Reader's contents. If the
// overlay extends past the end of base, the result is extended to cover it.
func NewOverlayReader(base io.ReadSeeker, ol Overlay) (io.ReadSeeker, error) {
	baseLength, err := base.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, errors.Wrap(err, "measuring overlay base length")
	}
	if ol.Offset < 0 || ol.Offset > baseLength {
		return nil, errors.New("overlay offset is beyond end of base")
	}
	return newOverlayReader(base, ol, baseLength)
}

// NewMultiOverlayReader chains several non-overlapping overlays over base,
// such as the independently-modified ISO embed regions (initrd, karg
// default, karg mirrors) that isoembed.StreamRegions substitutes in one
// pass. overlays must be sorted by Offset and must not overlap; an unsorted
// or overlapping list is rejected with an error.
func NewMultiOverlayReader(base io.ReadSeeker, overlays []Overlay) (io.ReadSeeker, error) {
	end := int64(-1)
	for _, ol := range overlays {
		if ol.Offset < end {
			return nil, errors.New("overlays are not sorted or overlap")
		}
		end = ol.end()
	}

	var reader io.ReadSeeker = base
	for _, ol := range overlays {
		next, err := NewOverlayReader(reader, ol)
		if err != nil {
			return nil, err
		}
		reader = next
	}
	return reader, nil
}

// NewAppendReader returns a reader over base with reader's contents
// appended after base's last byte.
func NewAppendReader(base io.ReadSeeker, reader io.ReadSeeker) (io.ReadSeeker, error) {
	baseLength, err := base.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, errors.Wrap(err, "measuring append base length")
	}

	appendLength, err := reader.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, errors.Wrap(err, "measuring appended reader length")
	}

	ol := Overlay{
		Reader: reader,
		Offset: baseLength,
		Length: appendLength,
	}
	return newOverlayReader(base, ol, baseLength)
}

func (r *overlayReader) seekTo(pos int64) error {
	var err error
	if r.overlay.contains(pos) {
		_, err = r.overlay.Reader.Seek(pos-r.overlay.Offset, io.SeekStart)
	} else {
		_, err = r.base.Seek(pos, io.SeekStart)
	}
	r.pos = pos
	return err
}

// Len reports the number of bytes remaining to be read.
func (r *overlayReader) Len() int {
	return int(r.total - r.pos)
}

func (r *overlayReader) Seek(offset int64, whence int) (int64, error) {
	var start int64
	switch whence {
	case io.SeekStart:
		start = 0
	case io.SeekCurrent:
		start = r.pos
	case io.SeekEnd:
		start = r.total
	}

	err := r.seekTo(start + offset)
	return r.pos, err
}

func (r *overlayReader) Read(p []byte) (int, error) {
	if r.pos >= r.total {
		return 0, io.EOF
	}

	source := r.base
	buf := p

	remainingInOverlay := r.overlay.end() - r.pos
	switch {
	case r.overlay.contains(r.pos):
		source = r.overlay.Reader
		if int64(len(buf)) > remainingInOverlay {
			buf = p[:remainingInOverlay]
		}
	case remainingInOverlay > 0:
		// still reading the base, before the overlay starts
		untilOverlay := r.overlay.Offset - r.pos
		if int64(len(buf)) > untilOverlay {
			buf = p[:untilOverlay]
		}
	default:
		// past the overlay, reading the tail of the base
	}

	n, readErr := source.Read(buf)

	seekErr := r.seekTo(r.pos + int64(n))

	// a source that returns its last bytes together with io.EOF does not end
	// this reader while bytes past it remain
	if readErr == io.EOF && n > 0 && r.pos < r.total {
		readErr = nil
	}

	if seekErr == nil || (readErr != nil && readErr != io.EOF) {
		return n, readErr
	}
	return n, seekErr
}
