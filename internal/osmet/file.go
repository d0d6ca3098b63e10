package osmet

import (
	"bufio"
	"bytes"
	"io"
	"os"
	"path/filepath"

	"github.com/google/renameio"
	"github.com/hashicorp/go-version"
	"github.com/pkg/errors"

	"github.com/coreos/coreos-installer-go/internal/ioutil"
	"github.com/coreos/coreos-installer-go/internal/wire"
)

// fileHeaderMagic identifies an osmet file (§6.1).
var fileHeaderMagic = []byte{'O', 'S', 'M', 'E', 'T', 0, 0, 0}

const fileVersion = 1

// rawAppVersion is this tool's release version, normalized through
// go-version so the header always records a canonical "x.y.z" string
// regardless of how the build embedded it.
const rawAppVersion = "1.0.0"

// maxHeaderFieldLen bounds the length of any osmet header string field,
// guarding deserialization against a corrupt or hostile file.
const maxHeaderFieldLen = 1 << 20

// FileHeader is the version-independent preamble of an osmet file.
type FileHeader struct {
	AppVersion     string
	SectorSize     uint32
	OSDescription  string
	OSArchitecture string
}

// NewFileHeader builds a FileHeader for the running app version and
// architecture.
func NewFileHeader(sectorSize uint32, osDescription string) FileHeader {
	return FileHeader{
		AppVersion:     appVersion(),
		SectorSize:     sectorSize,
		OSDescription:  osDescription,
		OSArchitecture: runtimeArchitecture(),
	}
}

func appVersion() string {
	v, err := version.NewVersion(rawAppVersion)
	if err != nil {
		return rawAppVersion
	}
	return v.String()
}

func (h FileHeader) writeTo(w *wire.Writer) {
	w.Bytes(fileHeaderMagic)
	w.U32(fileVersion)
	w.String(h.AppVersion)
	w.U32(h.SectorSize)
	w.String(h.OSDescription)
	w.String(h.OSArchitecture)
}

func readFileHeader(r *wire.Reader) (FileHeader, error) {
	magic := r.Bytes(8)
	version := r.U32()
	appVer := r.String(maxHeaderFieldLen)
	sectorSize := r.U32()
	osDescription := r.String(maxHeaderFieldLen)
	osArchitecture := r.String(maxHeaderFieldLen)
	if err := r.Err(); err != nil {
		return FileHeader{}, errors.Wrap(err, "deserializing osmet file header")
	}
	if !bytes.Equal(magic, fileHeaderMagic) {
		return FileHeader{}, errors.New("not an osmet file")
	}
	if version != fileVersion {
		return FileHeader{}, errors.Errorf("incompatible osmet file version %d", version)
	}
	return FileHeader{
		AppVersion:     appVer,
		SectorSize:     sectorSize,
		OSDescription:  osDescription,
		OSArchitecture: osArchitecture,
	}, nil
}

func (e Extent) writeTo(w *wire.Writer) {
	w.U64(e.Logical)
	w.U64(e.Physical)
	w.U64(e.Length)
}

func readExtent(r *wire.Reader) Extent {
	return Extent{Logical: r.U64(), Physical: r.U64(), Length: r.U64()}
}

func (m Mapping) writeTo(w *wire.Writer) {
	m.Extent.writeTo(w)
	w.Bytes(m.Object[:])
}

func readMapping(r *wire.Reader) Mapping {
	e := readExtent(r)
	obj := r.Bytes(32)
	var digest Sha256Digest
	copy(digest[:], obj)
	return Mapping{Extent: e, Object: digest}
}

func (p Partition) writeTo(w *wire.Writer) {
	w.U64(p.StartOffset)
	w.U64(p.EndOffset)
	w.U64(uint64(len(p.Mappings)))
	for _, m := range p.Mappings {
		m.writeTo(w)
	}
}

const maxMappingsPerPartition = 1 << 24

func readPartition(r *wire.Reader) Partition {
	p := Partition{StartOffset: r.U64(), EndOffset: r.U64()}
	n := r.U64()
	if r.Err() != nil || n > maxMappingsPerPartition {
		return p
	}
	p.Mappings = make([]Mapping, 0, n)
	for i := uint64(0); i < n; i++ {
		p.Mappings = append(p.Mappings, readMapping(r))
	}
	return p
}

func (o Osmet) writeTo(w *wire.Writer) {
	w.U64(uint64(len(o.Partitions)))
	for _, p := range o.Partitions {
		p.writeTo(w)
	}
	w.Bytes(o.Checksum[:])
	w.U64(o.Size)
}

const maxPartitions = 64

func readOsmet(r *wire.Reader) (Osmet, error) {
	n := r.U64()
	if err := r.Err(); err != nil {
		return Osmet{}, err
	}
	if n > maxPartitions {
		return Osmet{}, errors.Errorf("osmet file declares %d partitions, more than the maximum %d", n, maxPartitions)
	}
	o := Osmet{Partitions: make([]Partition, 0, n)}
	for i := uint64(0); i < n; i++ {
		o.Partitions = append(o.Partitions, readPartition(r))
	}
	checksum := r.Bytes(32)
	o.Size = r.U64()
	if err := r.Err(); err != nil {
		return Osmet{}, errors.Wrap(err, "deserializing osmet body")
	}
	copy(o.Checksum[:], checksum)
	return o, nil
}

// WriteFile writes an osmet file at path: the FileHeader, the Osmet
// metadata, then the xz-packed residual stream, all via a same-directory
// tempfile atomically renamed into place on success (google/renameio, as
// used elsewhere in this module for ISO tempfile commits).
func WriteFile(path string, header FileHeader, o Osmet, packedResidual io.Reader) (err error) {
	if verr := Validate(&o); verr != nil {
		return errors.Wrap(verr, "validating osmet metadata before writing")
	}

	t, err := renameio.TempFile(filepath.Dir(path), path)
	if err != nil {
		return errors.Wrap(err, "allocating osmet output tempfile")
	}
	defer t.Cleanup()

	bw := bufio.NewWriterSize(t, 256*1024)
	ww := wire.NewWriter(bw)
	header.writeTo(ww)
	o.writeTo(ww)
	if err := ww.Err(); err != nil {
		return errors.Wrap(err, "serializing osmet file")
	}
	if _, err := io.Copy(bw, packedResidual); err != nil {
		return errors.Wrap(err, "writing packed residual")
	}
	if err := bw.Flush(); err != nil {
		return errors.Wrap(err, "flushing osmet output buffer")
	}
	return t.CloseAtomicallyReplace()
}

// ReadFileHeader reads and validates just the FileHeader at the start of an
// osmet file, without decoding the (potentially large) metadata that
// follows. Used to pick a matching osmet file out of a directory of them.
func ReadFileHeader(path string) (FileHeader, error) {
	f, err := os.Open(path)
	if err != nil {
		return FileHeader{}, errors.Wrapf(err, "opening %s", path)
	}
	defer f.Close()
	return readFileHeader(wire.NewReader(bufio.NewReader(f)))
}

// ReadFile reads an osmet file's header and metadata, validates the
// metadata, and returns an xz-decoding reader positioned at the start of the
// packed residual stream.
func ReadFile(path string) (FileHeader, Osmet, io.Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return FileHeader{}, Osmet{}, nil, errors.Wrapf(err, "opening %s", path)
	}

	br := bufio.NewReaderSize(f, 256*1024)
	header, err := readFileHeader(wire.NewReader(br))
	if err != nil {
		f.Close()
		return FileHeader{}, Osmet{}, nil, err
	}
	o, err := readOsmet(wire.NewReader(br))
	if err != nil {
		f.Close()
		return FileHeader{}, Osmet{}, nil, errors.Wrap(err, "deserializing osmet metadata")
	}
	if err := Validate(&o); err != nil {
		f.Close()
		return FileHeader{}, Osmet{}, nil, errors.Wrap(err, "validating osmet metadata")
	}

	xr, err := ioutil.NewXzReader(br)
	if err != nil {
		f.Close()
		return FileHeader{}, Osmet{}, nil, errors.Wrap(err, "opening xz residual reader")
	}
	return header, o, &closeOnEOFReader{r: xr, closer: f}, nil
}

// closeOnEOFReader closes the underlying file once the xz reader it wraps
// reports EOF, so callers streaming an osmet file don't need to manage the
// file handle themselves.
type closeOnEOFReader struct {
	r      io.Reader
	closer io.Closer
	closed bool
}

func (c *closeOnEOFReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if err != nil && !c.closed {
		c.closed = true
		c.closer.Close()
	}
	return n, err
}

// FindMatchingInDir scans dir (one level deep) for an osmet file whose
// header matches architecture and sectorSize, returning its path and
// description. found is false if no match exists.
func FindMatchingInDir(dir, architecture string, sectorSize uint32) (path, description string, found bool, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", "", false, errors.Wrapf(err, "walking %s", dir)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		full := filepath.Join(dir, e.Name())
		header, herr := ReadFileHeader(full)
		if herr != nil {
			continue
		}
		if header.OSArchitecture == architecture && header.SectorSize == sectorSize {
			return full, header.OSDescription, true, nil
		}
	}
	return "", "", false, nil
}
