// Package miniso implements the content-addressed ISO delta reconstruction
// format: rebuilding a full live ISO from a "minimal" ISO (one with large
// redundant files stripped) plus a small table-and-residual "data" payload,
// by referencing byte-identical file extents between the two images.
//
// Ground truth is original_source/src/miniso.rs; the wire format is
// re-expressed with internal/wire instead of bincode (see DESIGN.md).
package miniso

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/coreos/coreos-installer-go/internal/iso9660"
)

// TableEntry records that a file at Minimal's offset in the minimal ISO has
// identical Length bytes at Full's offset in the full ISO.
type TableEntry struct {
	Minimal iso9660.File
	Full    iso9660.File
	Length  uint32
}

// Table is a minimal-offset-sorted, non-overlapping set of TableEntry
// records.
type Table struct {
	Entries []TableEntry
}

// NewTable builds a Table from the full and minimal ISOs' name->File maps:
// every file present in minimalFiles must also be present in fullFiles with
// the same length. Zero-length and duplicate entries are dropped; extraneous
// reports how many were dropped, for the caller to log.
func NewTable(fullFiles, minimalFiles map[string]iso9660.File) (Table, int, error) {
	var entries []TableEntry
	for path, minimalEntry := range minimalFiles {
		fullEntry, ok := fullFiles[path]
		if !ok {
			return Table{}, 0, errors.Errorf("missing minimal file %s in full ISO", path)
		}
		if fullEntry.Length != minimalEntry.Length {
			return Table{}, 0, errors.Errorf("file %s has different lengths in full and minimal ISOs", path)
		}
		entries = append(entries, TableEntry{Minimal: minimalEntry, Full: fullEntry, Length: fullEntry.Length})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Minimal.Address < entries[j].Minimal.Address })

	size := len(entries)
	var nonZero []TableEntry
	for _, e := range entries {
		if e.Length > 0 {
			nonZero = append(nonZero, e)
		}
	}
	var filtered []TableEntry
	for i, e := range nonZero {
		if i > 0 && e == nonZero[i-1] {
			continue
		}
		filtered = append(filtered, e)
	}
	extraneous := size - len(filtered)

	table := Table{Entries: filtered}
	if err := table.Validate(); err != nil {
		return Table{}, 0, errors.Wrap(err, "validating table")
	}
	return table, extraneous, nil
}

// Validate checks the table is non-empty and its minimal-side ranges do not
// overlap.
func (t Table) Validate() error {
	if len(t.Entries) == 0 {
		return errors.New("table is empty; ISOs have no files in common?")
	}
	for i := 0; i < len(t.Entries)-1; i++ {
		e, next := t.Entries[i], t.Entries[i+1]
		if e.Minimal.Offset()+int64(e.Length) > next.Minimal.Offset() {
			return errors.Errorf("files at offsets %d and %d overlap", e.Minimal.Offset(), next.Minimal.Offset())
		}
	}
	return nil
}
