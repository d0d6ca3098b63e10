package osmet

import (
	"crypto/sha256"
	"io"
	"os"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/coreos/coreos-installer-go/internal/ioutil"
)

// Device is the minimal block-device capability osmet pack/unpack need: a
// seekable reader/writer over the whole disk, its size, and its sector
// size. Discovering, opening and exclusively locking the real device is
// the caller's job; osmet only consumes this narrow view of it.
type Device interface {
	io.ReadWriteSeeker
	Size() (uint64, error)
	SectorSize() (uint32, error)
}

// PackOptions configures Pack.
type PackOptions struct {
	Device         Device
	RootMountpoint string
	BootMountpoint string
	RootPartStart  uint64
	RootPartEnd    uint64
	BootPartStart  uint64
	BootPartEnd    uint64
	OSDescription  string
	Fast           bool
	OutputPath     string
}

// Pack scans the root and boot partitions of opts.Device (already mounted
// read-only by the caller at RootMountpoint/BootMountpoint), builds the
// extent mapping table, packs the residual disk image, verifies the pack
// round-trips to the expected checksum, and writes the result to
// opts.OutputPath.
func Pack(opts PackOptions) error {
	bootFiles, err := PrescanBootPartition(opts.BootMountpoint)
	if err != nil {
		return err
	}

	rootPartition, mappedBootFiles, err := ScanRootPartition(opts.RootMountpoint, bootFiles, opts.RootPartStart, opts.RootPartEnd)
	if err != nil {
		return err
	}
	bootPartition, err := ScanBootPartition(mappedBootFiles, opts.BootPartStart, opts.BootPartEnd)
	if err != nil {
		return err
	}

	// boot precedes root on a CoreOS disk layout.
	partitions := []Partition{bootPartition, rootPartition}

	log.Info("packing image")
	tmp, err := os.CreateTemp("", "coreos-installer-xzpacked-*.raw.xz")
	if err != nil {
		return errors.Wrap(err, "allocating packed image tempfile")
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	if _, err := opts.Device.Seek(0, io.SeekStart); err != nil {
		return errors.Wrap(err, "seeking to start of device")
	}

	level := ioutil.XzLevelDefault
	if opts.Fast {
		level = ioutil.XzLevelFast
	}
	xw, err := ioutil.NewXzWriter(tmp, level)
	if err != nil {
		return err
	}

	totalSkipped, err := WritePackedImage(opts.Device, xw, partitions)
	if err != nil {
		return err
	}
	if err := xw.Close(); err != nil {
		return errors.Wrap(err, "finishing xz stream")
	}

	size, err := opts.Device.Size()
	if err != nil {
		return err
	}
	info, err := tmp.Stat()
	if err != nil {
		return errors.Wrap(err, "statting packed image tempfile")
	}
	log.Infof("total bytes skipped: %d", totalSkipped)
	log.Infof("total bytes written (compressed): %d", info.Size())

	log.Info("verifying that repacked image matches digest")
	checksum, unpackedSize, err := verifyPackedImage(tmp, partitions, opts.RootMountpoint)
	if err != nil {
		return err
	}
	if unpackedSize != size {
		return errors.Errorf("unpacking test: got %d bytes but expected %d", unpackedSize, size)
	}

	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return errors.Wrap(err, "seeking back to start of tempfile")
	}

	sectorSize, err := opts.Device.SectorSize()
	if err != nil {
		return err
	}
	header := NewFileHeader(sectorSize, opts.OSDescription)
	o := Osmet{Partitions: partitions, Checksum: checksum, Size: size}

	if err := WriteFile(opts.OutputPath, header, o, tmp); err != nil {
		return err
	}
	log.Info("packing successful")
	return nil
}

// verifyPackedImage unpacks tmp's xz-packed residual against the root
// partition's object store (the same repository used to pack it) and
// returns the resulting checksum and byte count, without writing the
// reconstruction anywhere.
func verifyPackedImage(tmp *os.File, partitions []Partition, rootMountpoint string) (Sha256Digest, uint64, error) {
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return Sha256Digest{}, 0, errors.Wrap(err, "seeking to start of packed image")
	}
	xr, err := ioutil.NewXzReader(tmp)
	if err != nil {
		return Sha256Digest{}, 0, err
	}
	h := sha256.New()
	n, err := writeUnpackedImage(xr, h, partitions, rootMountpoint+"/ostree/repo")
	if err != nil {
		return Sha256Digest{}, 0, err
	}
	var digest Sha256Digest
	copy(digest[:], h.Sum(nil))
	return digest, n, nil
}

// UnpackToDevice reads osmetPath, reconstructs the original disk image
// using repoDir as the OSTree object store, and copies it in full to dev (a
// block device opened for writing).
func UnpackToDevice(osmetPath, repoDir string, dev io.Writer) error {
	_, o, packedResidual, err := ReadFile(osmetPath)
	if err != nil {
		return err
	}
	u := NewUnpacker(o, packedResidual, repoDir)
	if _, err := io.Copy(dev, u); err != nil {
		return errors.Wrapf(err, "copying to block device")
	}
	return nil
}
