package miniso

import (
	"bytes"
	"crypto/sha256"
	"hash"
	"io"

	"github.com/hashicorp/go-version"
	"github.com/pkg/errors"

	"github.com/coreos/coreos-installer-go/internal/ioutil"
	"github.com/coreos/coreos-installer-go/internal/iso9660"
	"github.com/coreos/coreos-installer-go/internal/wire"
)

var headerMagic = []byte{'M', 'I', 'N', 'I', 'S', 'O', 0, 0}

const headerVersion = 1

// dataMaxSize bounds deserialization of the whole miniso Data payload.
// Real-world FCOS tables are a few KiB; this is generous.
const dataMaxSize = 1024 * 1024

const maxFieldLen = 1 << 20

// Sha256Digest is a 32-byte SHA-256 digest.
type Sha256Digest [32]byte

// Data is a miniso file's version-specific payload: the file-extent table,
// the digest of the minimal ISO it was built from, and the xz-packed
// residual (the minimal ISO's bytes, minus the tabled file extents).
type Data struct {
	Table    Table
	Digest   Sha256Digest
	XzPacked []byte
}

// PackStats reports counters from Pack, for the caller to log.
type PackStats struct {
	Matches        int
	BytesSkipped   uint64
	BytesWritten   uint64
	BytesWrittenXz uint64
}

// Pack builds a Data payload from a minimal ISO's full contents, table of
// matched files against the full ISO, and the minimal ISO's own bytes
// (read via minimalISO from its start; Pack leaves it positioned at its end).
func Pack(minimalISO io.ReadSeeker, fullFiles, minimalFiles map[string]iso9660.File) (Data, PackStats, error) {
	table, extraneous, err := NewTable(fullFiles, minimalFiles)
	if err != nil {
		return Data{}, PackStats{}, err
	}

	digest, err := sha256OfReader(minimalISO)
	if err != nil {
		return Data{}, PackStats{}, err
	}
	if _, err := minimalISO.Seek(0, io.SeekStart); err != nil {
		return Data{}, PackStats{}, errors.Wrap(err, "seeking back to miniso start")
	}

	var xzBuf bytes.Buffer
	xw, err := ioutil.NewXzWriter(&xzBuf, ioutil.XzLevelDefault)
	if err != nil {
		return Data{}, PackStats{}, err
	}

	buf := make([]byte, 32*1024)
	var offset, skipped uint64
	for _, entry := range table.Entries {
		addr := uint64(entry.Minimal.Offset())
		if addr > offset {
			if err := ioutil.CopyExactlyN(xw, minimalISO, int64(addr-offset), buf); err != nil {
				return Data{}, PackStats{}, errors.Wrapf(err, "copying %d miniso bytes at offset %d", addr-offset, offset)
			}
		}
		// Skipping to the nearest 2K block to save the padding would save
		// almost nothing once xz-compressed, so this seeks exactly
		// entry.Length forward instead of block-aligning.
		newOffset, err := minimalISO.Seek(int64(entry.Length), io.SeekCurrent)
		if err != nil {
			return Data{}, PackStats{}, errors.Wrapf(err, "skipping miniso file at offset %d", addr)
		}
		offset = uint64(newOffset)
		skipped += uint64(entry.Length)
	}

	written, err := io.Copy(xw, minimalISO)
	if err != nil {
		return Data{}, PackStats{}, errors.Wrap(err, "copying remaining miniso bytes")
	}
	if err := xw.Close(); err != nil {
		return Data{}, PackStats{}, errors.Wrap(err, "finishing xz stream")
	}

	stats := PackStats{
		Matches:        len(table.Entries) + extraneous,
		BytesSkipped:   skipped,
		BytesWritten:   offset - skipped + uint64(written),
		BytesWrittenXz: uint64(xzBuf.Len()),
	}
	return Data{Table: table, Digest: digest, XzPacked: xzBuf.Bytes()}, stats, nil
}

func sha256OfReader(r io.ReadSeeker) (Sha256Digest, error) {
	var digest Sha256Digest
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return digest, errors.Wrap(err, "seeking to start for digest")
	}
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return digest, errors.Wrap(err, "hashing minimal ISO")
	}
	copy(digest[:], h.Sum(nil))
	return digest, nil
}

func appVersion() string {
	v, err := version.NewVersion("1.0.0")
	if err != nil {
		return "unknown"
	}
	return v.String()
}

// Serialize writes the MINISO header followed by the Data payload, bounded
// to dataMaxSize total.
func (d Data) Serialize(w io.Writer) error {
	lw := ioutil.NewLimitWriter(w, dataMaxSize, "miniso data size limit")
	ww := wire.NewWriter(lw)

	ww.Bytes(headerMagic)
	ww.U32(headerVersion)
	ww.String(appVersion())

	d.writeTo(ww)
	return ww.Err()
}

func (d Data) writeTo(w *wire.Writer) {
	w.U64(uint64(len(d.Table.Entries)))
	for _, e := range d.Table.Entries {
		w.U32(e.Minimal.Address)
		w.U32(e.Full.Address)
		w.U32(e.Length)
	}
	w.Bytes(d.Digest[:])
	w.ByteSlice(d.XzPacked)
}

// Deserialize reads and validates a MINISO header and Data payload from r.
func Deserialize(r io.Reader) (Data, error) {
	lr := ioutil.NewLimitReader(r, dataMaxSize, "miniso data size limit")
	rr := wire.NewReader(lr)

	magic := rr.Bytes(8)
	version := rr.U32()
	_ = rr.String(maxFieldLen) // app_version, informational only
	if err := rr.Err(); err != nil {
		return Data{}, errors.Wrap(err, "deserializing header")
	}
	if !bytes.Equal(magic, headerMagic) {
		return Data{}, errors.New("not a miniso file")
	}
	if version != headerVersion {
		return Data{}, errors.Errorf("incompatible miniso file version %d", version)
	}

	n := rr.U64()
	if err := rr.Err(); err != nil {
		return Data{}, errors.Wrap(err, "deserializing data")
	}
	const maxEntries = 1 << 20
	if n > maxEntries {
		return Data{}, errors.Errorf("miniso table declares %d entries, more than the maximum %d", n, maxEntries)
	}
	entries := make([]TableEntry, 0, n)
	for i := uint64(0); i < n; i++ {
		minimalAddr := rr.U32()
		fullAddr := rr.U32()
		length := rr.U32()
		entries = append(entries, TableEntry{
			Minimal: iso9660.File{Address: minimalAddr, Length: length},
			Full:    iso9660.File{Address: fullAddr, Length: length},
			Length:  length,
		})
	}
	digestBytes := rr.Bytes(32)
	xzpacked := rr.ByteSlice(dataMaxSize)
	if err := rr.Err(); err != nil {
		return Data{}, errors.Wrap(err, "deserializing data")
	}

	var digest Sha256Digest
	copy(digest[:], digestBytes)
	table := Table{Entries: entries}
	if err := table.Validate(); err != nil {
		return Data{}, errors.Wrap(err, "validating table")
	}

	return Data{Table: table, Digest: digest, XzPacked: xzpacked}, nil
}

type writeHasher struct {
	w io.Writer
	h hash.Hash
}

func newWriteHasher(w io.Writer) *writeHasher {
	return &writeHasher{w: w, h: sha256.New()}
}

func (w *writeHasher) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	n, err := w.w.Write(p)
	if n > 0 {
		w.h.Write(p[:n])
	}
	return n, err
}

func (w *writeHasher) digest() Sha256Digest {
	var d Sha256Digest
	copy(d[:], w.h.Sum(nil))
	return d
}

// Unpack reconstructs the full ISO by interleaving xz-decompressed residual
// bytes from d.XzPacked with ranges copied from fullISO (at the table's
// recorded offsets), and verifies the result hashes to d.Digest.
func (d Data) Unpack(fullISO io.ReadSeeker, w io.Writer) error {
	xr, err := ioutil.NewXzReader(bytes.NewReader(d.XzPacked))
	if err != nil {
		return err
	}
	wh := newWriteHasher(w)
	buf := make([]byte, 32*1024)

	var offset uint64
	for _, entry := range d.Table.Entries {
		minimalAddr := uint64(entry.Minimal.Offset())
		fullAddr := entry.Full.Offset()
		if minimalAddr > offset {
			if err := ioutil.CopyExactlyN(wh, xr, int64(minimalAddr-offset), buf); err != nil {
				return errors.Wrapf(err, "copying %d packed bytes at offset %d", minimalAddr-offset, offset)
			}
			offset = minimalAddr
		}
		if _, err := fullISO.Seek(fullAddr, io.SeekStart); err != nil {
			return errors.Wrapf(err, "seeking to full ISO file at offset %d", fullAddr)
		}
		if err := ioutil.CopyExactlyN(wh, fullISO, int64(entry.Length), buf); err != nil {
			return errors.Wrapf(err, "copying full ISO file at offset %d", fullAddr)
		}
		offset += uint64(entry.Length)
	}

	if _, err := io.Copy(wh, xr); err != nil {
		return errors.Wrap(err, "copying remaining packed bytes")
	}

	if digest := wh.digest(); digest != d.Digest {
		return errors.Errorf("wrong final digest: expected %x, found %x", d.Digest, digest)
	}
	return nil
}
