package isoembed

import (
	"bytes"
	"io"

	"github.com/pkg/errors"

	"github.com/coreos/coreos-installer-go/internal/initrd"
	"github.com/coreos/coreos-installer-go/internal/iso9660"
)

const initrdEmbedPath = "IMAGES/IGNITION.IMG"

// InitrdEmbedArea is the single contiguous ISO region holding an xz-packed
// CPIO archive of Ignition-related first-boot files (the Ignition config
// itself, and optionally NetworkManager keyfiles). An all-zero region means
// no initrd has been embedded yet.
type InitrdEmbedArea struct {
	region *Region
	initrd *initrd.Initrd
}

// LoadInitrdEmbedArea locates and reads the initrd embed area of iso.
func LoadInitrdEmbedArea(r io.ReaderAt, iso *iso9660.IsoFs) (*InitrdEmbedArea, error) {
	entry, err := iso.GetPath(initrdEmbedPath)
	if err != nil {
		return nil, errors.Wrap(err, "finding initrd embed area")
	}
	f, err := entry.AsFile()
	if err != nil {
		return nil, errors.Wrap(err, "initrd embed area")
	}

	region, err := ReadRegion(r, f.Offset(), int(f.Length))
	if err != nil {
		return nil, errors.Wrap(err, "reading initrd embed area")
	}

	var decoded *initrd.Initrd
	if anyNonZero(region.Contents) {
		decoded, err = initrd.FromReader(bytes.NewReader(region.Contents), initrd.MatchAll)
		if err != nil {
			return nil, errors.Wrap(err, "decoding initrd embed area")
		}
	} else {
		decoded = initrd.New()
	}

	return &InitrdEmbedArea{region: region, initrd: decoded}, nil
}

func anyNonZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return true
		}
	}
	return false
}

// Initrd returns the decoded archive for read access.
func (a *InitrdEmbedArea) Initrd() *initrd.Initrd {
	return a.initrd
}

// InitrdMut returns the decoded archive for mutation and marks the region
// dirty for the next WriteInPlace/StreamRegions call.
func (a *InitrdEmbedArea) InitrdMut() *initrd.Initrd {
	a.region.Modified = true
	return a.initrd
}

// Region recomputes the region's serialized contents from the current
// in-memory archive, zero-padded to the area's original capacity, and
// returns it for writing. An oversized archive is an error, not a silent
// truncation.
func (a *InitrdEmbedArea) Region() (*Region, error) {
	capacity := a.region.Length
	var data []byte
	if !a.initrd.IsEmpty() {
		encoded, err := a.initrd.ToBytes()
		if err != nil {
			return nil, errors.Wrap(err, "serializing initrd embed area")
		}
		data = encoded
	}
	if len(data) > capacity {
		return nil, errors.Errorf("compressed initramfs is too large: %d > %d", len(data), capacity)
	}
	padded := make([]byte, capacity)
	copy(padded, data)
	return &Region{
		Offset:   a.region.Offset,
		Length:   capacity,
		Contents: padded,
		Modified: a.region.Modified,
	}, nil
}
