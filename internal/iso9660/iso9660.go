// Package iso9660 implements a minimal, read-only ISO 9660 filesystem
// walker: just enough of the standard to locate the well-known files the
// isoembed and miniso packages need (root directory, embed-area marker
// files, kargs/features JSON descriptors). Rock Ridge and Joliet extensions
// are explicitly out of scope.
package iso9660

import (
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	sectorSize        = 2048
	systemAreaSectors = 16
	volumeDescCD001   = "CD001"
)

// NotFound is returned by GetPath when no entry exists at the given path.
var NotFound = errors.New("path not found in ISO image")

type descriptorType byte

const (
	descBoot          descriptorType = 0
	descPrimary       descriptorType = 1
	descSupplementary descriptorType = 2
	descTerminator    descriptorType = 255
)

// Directory identifies a directory's extent within the ISO image.
type Directory struct {
	Name    string
	Address uint32 // sector number
	Length  uint32 // bytes
}

// File identifies a regular file's extent within the ISO image.
type File struct {
	Name    string
	Address uint32 // sector number
	Length  uint32 // bytes
}

// Offset returns the file's byte offset from the start of the image.
func (f File) Offset() int64 {
	return int64(f.Address) * sectorSize
}

// Entry is either a Directory or a File, discriminated by IsDir.
type Entry struct {
	Directory
	IsDir bool
}

func (e Entry) AsFile() (File, error) {
	if e.IsDir {
		return File{}, fmt.Errorf("%s is a directory, not a file", e.Name)
	}
	return File{Name: e.Name, Address: e.Address, Length: e.Length}, nil
}

// IsoFs is a read-only view of an ISO 9660 image's directory tree.
type IsoFs struct {
	r    io.ReaderAt
	root Directory
}

// Open parses the System Area volume descriptor sequence of r and returns a
// handle to the image's root directory.
func Open(r io.ReaderAt) (*IsoFs, error) {
	root, err := findRootDirectory(r)
	if err != nil {
		return nil, fmt.Errorf("parsing ISO9660 volume descriptors: %w", err)
	}
	return &IsoFs{r: r, root: root}, nil
}

// Root returns the image's root directory.
func (fs *IsoFs) Root() Directory {
	return fs.root
}

func findRootDirectory(r io.ReaderAt) (Directory, error) {
	for sector := systemAreaSectors; ; sector++ {
		buf := make([]byte, sectorSize)
		if _, err := r.ReadAt(buf, int64(sector)*sectorSize); err != nil {
			return Directory{}, fmt.Errorf("reading volume descriptor at sector %d: %w", sector, err)
		}
		if string(buf[1:6]) != volumeDescCD001 || buf[6] != 1 {
			return Directory{}, fmt.Errorf("sector %d is not a valid volume descriptor", sector)
		}
		switch descriptorType(buf[0]) {
		case descTerminator:
			return Directory{}, errors.New("no primary volume descriptor found")
		case descPrimary:
			return parseRootFromPrimary(buf)
		case descBoot, descSupplementary:
			continue
		default:
			continue
		}
	}
}

func parseRootFromPrimary(buf []byte) (Directory, error) {
	// The root directory record lives at fixed offset 156 within the
	// primary volume descriptor, 34 bytes long.
	const rootRecordOffset = 156
	rec, _, err := parseDirectoryRecord(buf[rootRecordOffset:])
	if err != nil {
		return Directory{}, fmt.Errorf("parsing root directory record: %w", err)
	}
	return Directory{Name: "/", Address: rec.lba, Length: rec.size}, nil
}

type rawRecord struct {
	lba     uint32
	size    uint32
	flags   byte
	name    string
}

// parseDirectoryRecord parses one directory record starting at buf[0],
// returning the record and the number of bytes it occupied (including its
// own length prefix).
func parseDirectoryRecord(buf []byte) (rawRecord, int, error) {
	if len(buf) == 0 {
		return rawRecord{}, 0, errors.New("empty directory record buffer")
	}
	length := int(buf[0])
	if length == 0 {
		return rawRecord{}, 0, nil // caller interprets 0 as "advance to next sector"
	}
	if length < 33 || length > len(buf) {
		return rawRecord{}, 0, fmt.Errorf("invalid directory record length %d", length)
	}

	lba := leU32(buf[2:6])
	size := leU32(buf[10:14])
	flags := buf[25]
	nameLen := int(buf[32])
	if 33+nameLen > length {
		return rawRecord{}, 0, errors.New("directory record name overruns record length")
	}
	rawName := buf[33 : 33+nameLen]
	name := normalizeName(rawName, flags&2 != 0)

	return rawRecord{lba: lba, size: size, flags: flags, name: name}, length, nil
}

func leU32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func isDir(flags byte) bool { return flags&2 != 0 }

// normalizeName applies the ISO9660 filename rules: "\0" -> ".", "\1" -> "..",
// strip trailing ";N" version suffix and trailing ".", and filter characters
// to the permitted sets.
func normalizeName(raw []byte, dir bool) string {
	if len(raw) == 1 && raw[0] == 0 {
		return "."
	}
	if len(raw) == 1 && raw[0] == 1 {
		return ".."
	}
	s := string(raw)
	if !dir {
		if idx := strings.LastIndex(s, ";"); idx >= 0 {
			s = s[:idx]
		}
		s = strings.TrimSuffix(s, ".")
	}
	return filterFileChars(s)
}

// filterFileChars maps characters outside the portable d/a-character subset
// to '.', matching observed kernel/mkisofs behavior for non-strict images.
func filterFileChars(s string) string {
	const extra = "!\"%&'()*+,-.:<=>?;/"
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case strings.ContainsRune(extra, r):
			b.WriteRune(r)
		default:
			b.WriteRune('.')
		}
	}
	return b.String()
}

// ListDir reads every entry directly inside dir, skipping the "." and ".."
// self/parent records.
func (fs *IsoFs) ListDir(dir Directory) ([]Entry, error) {
	buf := make([]byte, dir.Length)
	if _, err := fs.r.ReadAt(buf, int64(dir.Address)*sectorSize); err != nil {
		return nil, fmt.Errorf("reading directory %q: %w", dir.Name, err)
	}

	var entries []Entry
	pos := 0
	for pos < len(buf) {
		sectorEnd := ((pos / sectorSize) + 1) * sectorSize
		if sectorEnd > len(buf) {
			sectorEnd = len(buf)
		}
		rec, consumed, err := parseDirectoryRecord(buf[pos:sectorEnd])
		if err != nil {
			return nil, fmt.Errorf("parsing directory %q: %w", dir.Name, err)
		}
		if consumed == 0 {
			pos = sectorEnd
			continue
		}
		if rec.name != "." && rec.name != ".." {
			entries = append(entries, Entry{
				Directory: Directory{Name: rec.name, Address: rec.lba, Length: rec.size},
				IsDir:     isDir(rec.flags),
			})
		}
		pos += consumed
	}
	return entries, nil
}

// GetPath resolves a '/'-separated path (case-insensitive, as ISO9660 itself
// is effectively upper-case-only) starting from the root directory.
func (fs *IsoFs) GetPath(path string) (Entry, error) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	current := fs.root
	for i, part := range parts {
		entries, err := fs.ListDir(current)
		if err != nil {
			return Entry{}, err
		}
		var found *Entry
		for j := range entries {
			if strings.EqualFold(entries[j].Name, part) {
				found = &entries[j]
				break
			}
		}
		if found == nil {
			return Entry{}, fmt.Errorf("%s: %w", path, NotFound)
		}
		if i == len(parts)-1 {
			return *found, nil
		}
		if !found.IsDir {
			return Entry{}, fmt.Errorf("%s: %w", path, NotFound)
		}
		current = found.Directory
	}
	return Entry{}, fmt.Errorf("%s: %w", path, NotFound)
}

// ReadFile returns a reader over f's contents.
func (fs *IsoFs) ReadFile(f File) io.Reader {
	return io.NewSectionReader(fs.r, f.Offset(), int64(f.Length))
}

// Walk calls fn for every entry reachable from dir, recursing into
// subdirectories depth-first.
func (fs *IsoFs) Walk(dir Directory, fn func(path string, e Entry) error) error {
	return fs.walk("", dir, fn)
}

func (fs *IsoFs) walk(prefix string, dir Directory, fn func(string, Entry) error) error {
	entries, err := fs.ListDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		p := prefix + "/" + e.Name
		if err := fn(p, e); err != nil {
			return err
		}
		if e.IsDir {
			if err := fs.walk(p, e.Directory, fn); err != nil {
				return err
			}
		}
	}
	return nil
}
