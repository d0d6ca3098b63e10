package osmet

import (
	"crypto/sha256"
	"hash"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/coreos/coreos-installer-go/internal/ioutil"
)

// unpackCopyBufSize matches the packer's scratch buffer size.
const unpackCopyBufSize = 8192

// Unpacker reconstructs the original disk image byte stream by interleaving
// the packed residual with reads from the OSTree object store, on a
// dedicated producer goroutine connected to the consumer via an io.Pipe (the
// Go equivalent of the Rust implementation's OS pipe + worker thread).
// An Unpacker that is not read to EOF leaves the producer goroutine blocked
// on its next pipe write: Unpacker has no Close method, so nothing closes the
// read end of the pipe.
type Unpacker struct {
	pr     *io.PipeReader
	length uint64
	done   chan error
	joined bool
	err    error
}

// NewUnpacker starts reconstructing osmet (with its packed residual reader)
// against the OSTree repository at repoDir, in a background goroutine. Read
// the returned Unpacker to drive the reconstruction; its error (if any)
// surfaces from Read once the stream is exhausted.
func NewUnpacker(o Osmet, packedResidual io.Reader, repoDir string) *Unpacker {
	pr, pw := io.Pipe()
	u := &Unpacker{pr: pr, length: o.Size, done: make(chan error, 1)}

	go func() {
		err := unpackToWriter(o, packedResidual, repoDir, pw)
		pw.CloseWithError(err)
		u.done <- err
	}()

	return u
}

// Length returns the total size in bytes of the reconstructed image.
func (u *Unpacker) Length() uint64 {
	return u.length
}

// Read implements io.Reader. The final Read call that observes EOF also
// surfaces the producer goroutine's result, matching the "join at EOF"
// behavior of the original implementation.
func (u *Unpacker) Read(p []byte) (int, error) {
	n, err := u.pr.Read(p)
	if err == io.EOF {
		if !u.joined {
			u.joined = true
			u.err = <-u.done
		}
		if u.err != nil {
			return n, errors.Wrap(u.err, "while unpacking")
		}
	}
	return n, err
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

func unpackToWriter(o Osmet, packedResidual io.Reader, repoDir string, w io.Writer) error {
	wh := newWriteHasher(w)
	n, err := writeUnpackedImage(packedResidual, wh, o.Partitions, repoDir)
	if err != nil {
		return err
	}
	if n != o.Size {
		return errors.Errorf("wrote %d bytes but expected %d", n, o.Size)
	}
	if digest := wh.digest(); digest != o.Checksum {
		return errors.Errorf("expected final checksum %x, but got %x", o.Checksum, digest)
	}
	return nil
}

func writeUnpackedImage(packedImage io.Reader, w io.Writer, partitions []Partition, repoDir string) (uint64, error) {
	buf := make([]byte, unpackCopyBufSize)
	var cursor uint64

	for i, part := range partitions {
		if part.StartOffset < cursor {
			return 0, errors.Errorf("partition %d starts before cursor: %d vs %d", i, part.StartOffset, cursor)
		}
		if err := ioutil.CopyExactlyN(w, packedImage, int64(part.StartOffset-cursor), buf); err != nil {
			return 0, errors.Wrapf(err, "copying up to partition %d", i)
		}
		cursor = part.StartOffset
		written, err := writeUnpackedPartition(w, part, packedImage, repoDir, buf)
		if err != nil {
			return 0, errors.Wrapf(err, "unpacking partition %d", i)
		}
		cursor += written
	}

	written, err := io.Copy(w, packedImage)
	if err != nil {
		return 0, errors.Wrap(err, "copying remainder of image")
	}
	cursor += uint64(written)
	return cursor, nil
}

func writeUnpackedPartition(w io.Writer, part Partition, packedImage io.Reader, repoDir string, buf []byte) (uint64, error) {
	objectsDir := filepath.Join(repoDir, "objects")
	cursor := part.StartOffset

	for _, m := range part.Mappings {
		extentStart := m.Extent.Physical + part.StartOffset
		if extentStart < cursor {
			return 0, errors.Errorf("mapping starts before cursor: %d vs %d", extentStart, cursor)
		}
		if cursor < extentStart {
			if err := ioutil.CopyExactlyN(w, packedImage, int64(extentStart-cursor), buf); err != nil {
				return 0, err
			}
			cursor = extentStart
		}

		objectPath := filepath.Join(objectsDir, ChecksumToObjectPath(m.Object))
		written, err := writeObjectMapping(w, m.Extent, objectPath, buf)
		if err != nil {
			return 0, err
		}
		cursor += written
	}

	if part.EndOffset < cursor {
		return 0, errors.Errorf("cursor past partition end: %d vs %d", cursor, part.EndOffset)
	}
	if err := ioutil.CopyExactlyN(w, packedImage, int64(part.EndOffset-cursor), buf); err != nil {
		return 0, err
	}
	return part.EndOffset - part.StartOffset, nil
}

// writeObjectMapping copies extent.Length bytes to w, sourced from object
// starting at extent.Logical. If the object is shorter than the extent
// declares, the remainder is zero-padded; it is unclear this can occur
// from a well-formed pack, but the read path tolerates it.
func writeObjectMapping(w io.Writer, extent Extent, objectPath string, buf []byte) (uint64, error) {
	f, err := os.Open(objectPath)
	if err != nil {
		return 0, errors.Wrapf(err, "opening %s", objectPath)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, errors.Wrapf(err, "getting metadata for %s", objectPath)
	}
	objLen := uint64(info.Size())

	if extent.Logical > 0 {
		if _, err := f.Seek(int64(extent.Logical), io.SeekStart); err != nil {
			return 0, errors.Wrapf(err, "seeking in %s", objectPath)
		}
		objLen -= extent.Logical
	}

	var n uint64
	if objLen < extent.Length {
		if err := ioutil.CopyExactlyN(w, f, int64(objLen), buf); err != nil {
			return 0, err
		}
		n += objLen
		if err := ioutil.CopyExactlyN(w, zeroReader{}, int64(extent.Length-objLen), buf); err != nil {
			return 0, err
		}
		n += extent.Length - objLen
	} else {
		if err := ioutil.CopyExactlyN(w, f, int64(extent.Length), buf); err != nil {
			return 0, err
		}
		n += extent.Length
	}
	return n, nil
}

// zeroReader is an infinite source of zero bytes, for zero-padding a short
// object (see writeObjectMapping).
type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}
