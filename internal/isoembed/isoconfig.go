package isoembed

import (
	"io"

	"github.com/pkg/errors"

	"github.com/coreos/coreos-installer-go/internal/initrd"
	"github.com/coreos/coreos-installer-go/internal/iso9660"
)

// IsoConfig aggregates the initrd and karg embed areas of one ISO image and
// provides the two write-back strategies spec'd for editing it: in-place
// rewrite of modified regions only, or streaming a substituted copy to a
// new output.
type IsoConfig struct {
	initrd *InitrdEmbedArea
	kargs  *KargEmbedAreas // nil if the image predates karg embed area support
}

// Load reads both embed areas of an already-open ISO image backed by r.
func Load(r io.ReaderAt) (*IsoConfig, error) {
	iso, err := iso9660.Open(r)
	if err != nil {
		return nil, errors.Wrap(err, "parsing ISO9660 image")
	}
	return LoadFromFs(r, iso)
}

// LoadFromFs is Load for a caller that has already opened the ISO9660
// directory tree (e.g. to look up additional well-known files first).
func LoadFromFs(r io.ReaderAt, iso *iso9660.IsoFs) (*IsoConfig, error) {
	initrdArea, err := LoadInitrdEmbedArea(r, iso)
	if err != nil {
		return nil, errors.Wrap(err, "unrecognized CoreOS ISO image")
	}
	kargAreas, err := LoadKargEmbedAreas(r, iso)
	if err != nil {
		return nil, err
	}
	return &IsoConfig{initrd: initrdArea, kargs: kargAreas}, nil
}

// Initrd returns the embedded Ignition/network-config archive for read
// access.
func (c *IsoConfig) Initrd() *initrd.Initrd {
	return c.initrd.Initrd()
}

// InitrdMut returns the archive for mutation.
func (c *IsoConfig) InitrdMut() *initrd.Initrd {
	return c.initrd.InitrdMut()
}

// KargsSupported reports whether this image has karg embed areas at all.
func (c *IsoConfig) KargsSupported() bool {
	return c.kargs != nil
}

var errNoKargAreas = errors.New("no karg embed areas found; old or corrupted CoreOS ISO image")

// Kargs returns the current effective kargs string.
func (c *IsoConfig) Kargs() (string, error) {
	if c.kargs == nil {
		return "", errNoKargAreas
	}
	return c.kargs.Kargs(), nil
}

// KargsDefault returns the original, unedited kargs string.
func (c *IsoConfig) KargsDefault() (string, error) {
	if c.kargs == nil {
		return "", errNoKargAreas
	}
	return c.kargs.Default, nil
}

// SetKargs edits the effective kargs string.
func (c *IsoConfig) SetKargs(kargs string) error {
	if c.kargs == nil {
		return errNoKargAreas
	}
	return c.kargs.SetKargs(kargs)
}

// WriteInPlace rewrites only the regions that have been modified since Load.
func (c *IsoConfig) WriteInPlace(w io.WriteSeeker) error {
	region, err := c.initrd.Region()
	if err != nil {
		return err
	}
	if err := region.WriteInPlace(w); err != nil {
		return err
	}
	if c.kargs != nil {
		if err := c.kargs.WriteInPlace(w); err != nil {
			return err
		}
	}
	return nil
}

// Stream copies input to w, substituting every modified region at its
// original offset and leaving everything else untouched. Used when the
// caller wants a new output file or stream rather than an in-place edit.
func (c *IsoConfig) Stream(input io.ReadSeeker, w io.Writer) error {
	initrdRegion, err := c.initrd.Region()
	if err != nil {
		return err
	}
	regions := []*Region{initrdRegion}
	if c.kargs != nil {
		regions = append(regions, c.kargs.Regions...)
	}
	return StreamRegions(input, w, regions)
}
