// Package initrd implements an in-memory CPIO-over-xz initramfs archive: a
// sorted path-to-contents map that can be read from (and written back to) the
// concatenated, newc-format, compressed archives the Linux kernel itself
// understands.
package initrd

import (
	"bytes"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/cavaliercoder/go-cpio"
	"github.com/pkg/errors"

	"github.com/coreos/coreos-installer-go/internal/ioutil"
)

// Filter decides whether a CPIO entry's path should be retained.
type Filter func(name string) bool

// MatchGlobs returns a Filter that accepts any path matching one of the
// supplied shell globs (path.Match syntax). No third-party glob matcher is
// used here: stdlib path.Match covers this narrow, single-component need.
func MatchGlobs(globs ...string) Filter {
	return func(name string) bool {
		for _, g := range globs {
			if ok, _ := path.Match(g, name); ok {
				return true
			}
		}
		return false
	}
}

// MatchAll accepts every path.
func MatchAll(string) bool { return true }

// Initrd is a sorted path -> contents map, matching the kernel's own
// last-entry-wins semantics when multiple archives define the same path.
type Initrd struct {
	files map[string][]byte
}

// New returns an empty Initrd.
func New() *Initrd {
	return &Initrd{files: map[string][]byte{}}
}

// IsEmpty reports whether the archive has no entries.
func (i *Initrd) IsEmpty() bool {
	return len(i.files) == 0
}

// Get returns the contents for path, and whether it was present.
func (i *Initrd) Get(p string) ([]byte, bool) {
	b, ok := i.files[p]
	return b, ok
}

// Add inserts or replaces the contents at path.
func (i *Initrd) Add(p string, contents []byte) {
	i.files[p] = contents
}

// Remove deletes path, if present.
func (i *Initrd) Remove(p string) {
	delete(i.files, p)
}

// Paths returns all paths, sorted.
func (i *Initrd) Paths() []string {
	paths := make([]string, 0, len(i.files))
	for p := range i.files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Find returns the subset of paths matching filter.
func (i *Initrd) Find(filter Filter) map[string][]byte {
	out := map[string][]byte{}
	for p, c := range i.files {
		if filter(p) {
			out[p] = c
		}
	}
	return out
}

const (
	modeRegular = 0o100000
	modeDir     = 0o040000
)

// FromReader consumes src until EOF, decoding it as zero or more
// concatenated, independently-compressed (or uncompressed) newc CPIO
// archives separated by runs of zero padding. Later archives' entries
// override earlier ones with the same path. Only entries matching filter are
// retained; others are read and discarded.
func FromReader(src io.Reader, filter Filter) (*Initrd, error) {
	if filter == nil {
		filter = MatchAll
	}
	result := New()
	peek := ioutil.NewPeekReader(src)

	for {
		head, err := peek.Peek(1)
		if err != nil {
			return nil, errors.Wrap(err, "peeking for next archive")
		}
		if len(head) == 0 {
			break // clean EOF between archives
		}

		dr, err := ioutil.ForConcatenated(peek)
		if err != nil {
			return nil, errors.Wrap(err, "opening archive in initrd stream")
		}

		if err := readOneArchive(dr, result, filter); err != nil {
			return nil, err
		}

		// skip the zero padding between archives on the underlying peek reader
		if err := skipZeroPadding(peek); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func readOneArchive(r *ioutil.DecompressReader, into *Initrd, filter Filter) error {
	cr := cpio.NewReader(r)
	for {
		hdr, err := cr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return errors.Wrap(err, "reading CPIO entry")
		}
		if hdr.Name == "TRAILER!!!" {
			break
		}
		isRegular := cpio.FileMode(hdr.Mode).IsRegular()
		name := strings.TrimPrefix(hdr.Name, "./")
		if isRegular && filter(name) {
			contents := make([]byte, hdr.Size)
			if _, err := io.ReadFull(cr, contents); err != nil {
				return errors.Wrapf(err, "reading contents of %s", name)
			}
			into.Add(name, contents)
		} else {
			if _, err := io.Copy(io.Discard, cr); err != nil {
				return errors.Wrapf(err, "skipping contents of %s", name)
			}
		}
	}

	// Anything left in a compressed stream after the trailer must be zero.
	// An uncompressed archive has no stream end of its own, so there its
	// trailing padding is indistinguishable from inter-archive padding and
	// both are skipped on the underlying peek reader instead.
	if !r.IsCompressed() {
		return nil
	}
	rest, err := io.ReadAll(r)
	if err != nil {
		return errors.Wrap(err, "draining archive after trailer")
	}
	for _, b := range rest {
		if b != 0 {
			return errors.New("found non-zero trailing garbage after CPIO trailer")
		}
	}
	return nil
}

func skipZeroPadding(peek *ioutil.PeekReader) error {
	one := make([]byte, 1)
	for {
		head, err := peek.Peek(1)
		if err != nil {
			return errors.Wrap(err, "peeking archive padding")
		}
		if len(head) == 0 || head[0] != 0 {
			return nil
		}
		if _, err := peek.Read(one); err != nil {
			return errors.Wrap(err, "consuming archive padding")
		}
	}
}

// ToBytes serializes the archive as a single xz-compressed (CRC32 checksum,
// as required by the Linux kernel's initramfs unpacker) newc CPIO stream.
// Directory entries for every ancestor of every file are synthesized exactly
// once, in sorted order, via a "current directory stack" so the kernel never
// sees a file whose parent has not yet appeared.
func (i *Initrd) ToBytes() ([]byte, error) {
	var out bytes.Buffer
	xw, err := ioutil.NewXzWriter(&out, ioutil.XzLevelDefault)
	if err != nil {
		return nil, err
	}
	cw := cpio.NewWriter(xw)

	var dirStack []string
	writeDir := func(name string) error {
		return cw.WriteHeader(&cpio.Header{
			Name: name,
			Mode: modeDir | 0o755,
		})
	}
	ensureDirs := func(p string) error {
		dir := path.Dir(p)
		if dir == "." || dir == "/" {
			return nil
		}
		var components []string
		for d := dir; d != "." && d != "/" && d != ""; d = path.Dir(d) {
			components = append([]string{d}, components...)
		}
		i := 0
		for i < len(components) && i < len(dirStack) && components[i] == dirStack[i] {
			i++
		}
		for _, d := range components[i:] {
			if err := writeDir(d); err != nil {
				return errors.Wrapf(err, "writing directory entry %s", d)
			}
		}
		dirStack = components
		return nil
	}

	for _, p := range i.Paths() {
		if err := ensureDirs(p); err != nil {
			return nil, err
		}
		contents := i.files[p]
		if err := cw.WriteHeader(&cpio.Header{
			Name: p,
			Mode: modeRegular | 0o600,
			Size: int64(len(contents)),
		}); err != nil {
			return nil, errors.Wrapf(err, "writing header for %s", p)
		}
		if _, err := cw.Write(contents); err != nil {
			return nil, errors.Wrapf(err, "writing contents for %s", p)
		}
	}

	if err := cw.Close(); err != nil {
		return nil, errors.Wrap(err, "closing CPIO writer")
	}
	if err := xw.Close(); err != nil {
		return nil, errors.Wrap(err, "closing xz writer")
	}
	return out.Bytes(), nil
}
