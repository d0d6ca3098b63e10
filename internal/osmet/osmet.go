// Package osmet implements the content-addressed disk-image extent
// reconstruction format: a small packed residual stream plus a mapping table
// that lets the installer rebuild a multi-gigabyte disk image from an
// on-disk OSTree object store, without shipping the full image.
//
// Ground truth for this package is original_source/src/osmet/*.rs. The wire
// format is re-expressed with the internal/wire package rather than bincode
// (see DESIGN.md); everything else -- scanning, canonicalization, pack and
// unpack algorithms -- mirrors the Rust implementation line for line.
package osmet

import (
	"sort"

	"github.com/pkg/errors"
)

// Sha256Digest is a 32-byte SHA-256 digest, used both for OSTree object
// names and for the checksum of the fully unpacked disk image.
type Sha256Digest [32]byte

// Extent is a contiguous run of bytes at Physical within a partition,
// holding the Length bytes of file content starting at file offset Logical.
type Extent struct {
	Logical  uint64
	Physical uint64
	Length   uint64
}

// Mapping records that an Extent's bytes equal the content of an OSTree
// object identified by Object.
type Mapping struct {
	Extent Extent
	Object Sha256Digest
}

// Partition covers [StartOffset, EndOffset) of the disk, with Mappings
// sorted and canonicalized as Canonicalize produces them.
type Partition struct {
	StartOffset uint64
	EndOffset   uint64
	Mappings    []Mapping
}

// Osmet is the full in-memory form of an osmet file's metadata: every
// partition's mappings, plus the checksum and size of the image those
// mappings reconstruct.
type Osmet struct {
	Partitions []Partition
	Checksum   Sha256Digest
	Size       uint64
}

// Canonicalize sorts mappings by (physical ascending, length descending),
// drops any mapping wholly contained in the previous one, and clamps the
// start of any mapping that overlaps the tail of the previous one. It
// returns the canonical mapping list along with counts of dropped and
// clamped mappings, for the caller to log.
func Canonicalize(mappings []Mapping) (canon []Mapping, dropped, clamped int) {
	if len(mappings) == 0 {
		return nil, 0, 0
	}

	sorted := make([]Mapping, len(mappings))
	copy(sorted, mappings)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Extent.Physical != sorted[j].Extent.Physical {
			return sorted[i].Extent.Physical < sorted[j].Extent.Physical
		}
		return sorted[i].Extent.Length > sorted[j].Extent.Length
	})

	out := make([]Mapping, 0, len(sorted))
	out = append(out, sorted[0])
	lastEnd := sorted[0].Extent.Physical + sorted[0].Extent.Length

	for _, m := range sorted[1:] {
		end := m.Extent.Physical + m.Extent.Length
		if end <= lastEnd {
			dropped++
			continue
		}
		if m.Extent.Physical < lastEnd {
			n := lastEnd - m.Extent.Physical
			m.Extent.Logical += n
			m.Extent.Physical += n
			m.Extent.Length -= n
			clamped++
		}
		lastEnd = end
		out = append(out, m)
	}

	return out, dropped, clamped
}

// Validate checks that an Osmet's partitions and mappings are all in
// canonical form: partitions sorted and non-overlapping, each partition's
// mappings non-overlapping in physical offset and within partition bounds.
func Validate(o *Osmet) error {
	if len(o.Partitions) == 0 {
		return errors.New("osmet file has no partitions")
	}

	var cursor uint64
	for i, part := range o.Partitions {
		if cursor > part.StartOffset {
			return errors.Errorf("cursor past partition %d start: %d vs %d", i, cursor, part.StartOffset)
		}
		span, err := verifyCanonical(part.Mappings)
		if err != nil {
			return errors.Wrapf(err, "partition %d", i)
		}
		cursor += span
		if cursor > part.EndOffset {
			return errors.Errorf("cursor past partition %d end: %d vs %d", i, cursor, part.EndOffset)
		}
		cursor = part.EndOffset
	}
	return nil
}

func verifyCanonical(mappings []Mapping) (uint64, error) {
	var cursor uint64
	for i, m := range mappings {
		if cursor > m.Extent.Physical {
			return 0, errors.Errorf("cursor past mapping %d start: %d vs %d", i, cursor, m.Extent.Physical)
		}
		cursor = m.Extent.Physical + m.Extent.Length
	}
	return cursor, nil
}
