// Package isoembed locates and rewrites the fixed "embed areas" CoreOS
// reserves inside a built live ISO image: the initrd/Ignition embed region
// and the kernel-argument default-plus-mirror regions. It builds on the
// iso9660 reader to find the regions and on pkg/overlay's substitution
// reader to stream a modified copy of the ISO without rewriting unchanged
// bytes.
package isoembed

import (
	"io"
	"sort"

	"github.com/pkg/errors"

	"github.com/coreos/coreos-installer-go/pkg/overlay"
)

// Region is a byte range of a file, with an in-memory copy of its current
// (possibly edited) contents and a flag tracking whether those contents
// differ from what is on disk.
type Region struct {
	Offset   int64
	Length   int
	Contents []byte
	Modified bool
}

// ReadRegion reads Length bytes at Offset from r into a new Region.
func ReadRegion(r io.ReaderAt, offset int64, length int) (*Region, error) {
	contents := make([]byte, length)
	if _, err := r.ReadAt(contents, offset); err != nil {
		return nil, errors.Wrapf(err, "reading %d bytes at offset %d", length, offset)
	}
	return &Region{Offset: offset, Length: length, Contents: contents}, nil
}

// Validate checks the region's internal consistency.
func (r *Region) Validate() error {
	if len(r.Contents) != r.Length {
		return errors.Errorf("expected region contents length %d, found %d", r.Length, len(r.Contents))
	}
	return nil
}

// WriteInPlace seeks to the region's offset and rewrites its bytes, if and
// only if the region has been modified.
func (r *Region) WriteInPlace(w io.WriteSeeker) error {
	if err := r.Validate(); err != nil {
		return err
	}
	if !r.Modified {
		return nil
	}
	if _, err := w.Seek(r.Offset, io.SeekStart); err != nil {
		return errors.Wrapf(err, "seeking to offset %d", r.Offset)
	}
	if _, err := w.Write(r.Contents); err != nil {
		return errors.Wrapf(err, "writing %d bytes at offset %d", r.Length, r.Offset)
	}
	return nil
}

// overlay returns the overlay.Overlay representing this region's current
// contents for use by StreamRegions.
func (r *Region) overlay() overlay.Overlay {
	return overlay.Overlay{
		Reader: &sliceReadSeeker{data: r.Contents},
		Offset: r.Offset,
		Length: int64(r.Length),
	}
}

// StreamRegions copies input to w in full, substituting the contents of
// every modified region in regions at its original offset. Unmodified
// regions are left untouched (the underlying bytes are copied as-is).
// Modified regions must not overlap.
func StreamRegions(input io.ReadSeeker, w io.Writer, regions []*Region) error {
	var modified []*Region
	for _, r := range regions {
		if r.Modified {
			if err := r.Validate(); err != nil {
				return err
			}
			modified = append(modified, r)
		}
	}
	sort.Slice(modified, func(i, j int) bool { return modified[i].Offset < modified[j].Offset })

	overlays := make([]overlay.Overlay, len(modified))
	for i, r := range modified {
		overlays[i] = r.overlay()
	}

	reader, err := overlay.NewMultiOverlayReader(input, overlays)
	if err != nil {
		return errors.Wrap(err, "building substituted ISO stream")
	}
	if _, err := reader.Seek(0, io.SeekStart); err != nil {
		return errors.Wrap(err, "seeking to start of substituted stream")
	}
	if _, err := io.Copy(w, reader); err != nil {
		return errors.Wrap(err, "streaming substituted ISO")
	}
	return nil
}

// sliceReadSeeker adapts a byte slice to io.ReadSeeker for use as an overlay
// source.
type sliceReadSeeker struct {
	data []byte
	pos  int64
}

func (s *sliceReadSeeker) Read(p []byte) (int, error) {
	if s.pos >= int64(len(s.data)) {
		return 0, io.EOF
	}
	n := copy(p, s.data[s.pos:])
	s.pos += int64(n)
	return n, nil
}

func (s *sliceReadSeeker) Seek(offset int64, whence int) (int64, error) {
	var base int64
	switch whence {
	case io.SeekStart:
		base = 0
	case io.SeekCurrent:
		base = s.pos
	case io.SeekEnd:
		base = int64(len(s.data))
	}
	s.pos = base + offset
	return s.pos, nil
}
