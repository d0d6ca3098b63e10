package osmet

import (
	"crypto/sha256"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// prescanSizeThreshold is the minimum file size worth tracking as a boot
// candidate: smaller than one serialized Mapping (56 bytes, give or take),
// matching an OSTree object wouldn't save space.
const prescanSizeThreshold = 1024

// PrescanBootPartition walks bootMountpoint and returns a size -> path map
// of every regular file larger than 1024 bytes. Only the first file seen at
// a given size is kept, matching the original tool's "entry or insert"
// semantics.
func PrescanBootPartition(bootMountpoint string) (map[uint64]string, error) {
	files := map[uint64]string{}
	err := filepath.Walk(bootMountpoint, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !info.Mode().IsRegular() {
			return nil
		}
		size := uint64(info.Size())
		if size <= prescanSizeThreshold {
			return nil
		}
		if _, ok := files[size]; !ok {
			files[size] = path
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "walking /boot")
	}
	return files, nil
}

func fileDigest(path string) (Sha256Digest, error) {
	var digest Sha256Digest
	f, err := os.Open(path)
	if err != nil {
		return digest, errors.Wrapf(err, "opening %s", path)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return digest, errors.Wrapf(err, "hashing %s", path)
	}
	copy(digest[:], h.Sum(nil))
	return digest, nil
}

// ScanRootPartition walks rootMountpoint's OSTree object store
// (ostree/repo/objects/**/*.file), fiemap-ing every object and recording its
// extents as mappings, while opportunistically matching boot-partition
// candidates of the same size and SHA-256 content against the same objects.
// Matched boot files are removed from bootFiles and returned in
// mappedBootFiles so ScanBootPartition can fiemap them separately.
func ScanRootPartition(rootMountpoint string, bootFiles map[uint64]string, startOffset, endOffset uint64) (Partition, map[string]Sha256Digest, error) {
	objectsDir := filepath.Join(rootMountpoint, "ostree/repo/objects")
	mappedBootFiles := map[string]Sha256Digest{}
	cachedBootDigests := map[uint64]Sha256Digest{}

	var mappings []Mapping
	var mappedCount, emptyCount int

	err := filepath.Walk(objectsDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !info.Mode().IsRegular() {
			return nil
		}
		if filepath.Ext(path) != ".file" {
			return nil
		}

		extents, ferr := FiemapPath(path)
		if ferr != nil {
			return errors.Wrapf(ferr, "mapping %s", path)
		}
		if len(extents) == 0 {
			emptyCount++
			return nil
		}

		object, cerr := ObjectPathToChecksum(strings.TrimPrefix(path, objectsDir+string(filepath.Separator)))
		if cerr != nil {
			return errors.Wrapf(cerr, "invalid object path %s", path)
		}

		for _, e := range extents {
			mappings = append(mappings, Mapping{Extent: e, Object: object})
		}

		if bootPath, ok := bootFiles[uint64(info.Size())]; ok {
			digest, ok := cachedBootDigests[uint64(info.Size())]
			if !ok {
				digest, cerr = fileDigest(bootPath)
				if cerr != nil {
					return cerr
				}
				cachedBootDigests[uint64(info.Size())] = digest
			}
			objDigest, cerr := fileDigest(path)
			if cerr != nil {
				return cerr
			}
			if objDigest == digest {
				mappedBootFiles[bootPath] = object
				delete(bootFiles, uint64(info.Size()))
			}
		}

		mappedCount++
		return nil
	})
	if err != nil {
		return Partition{}, nil, errors.Wrap(err, "walking objects/ dir")
	}

	log.Infof("total OSTree objects scanned from root: %d (%d mapped, %d empty)", mappedCount+emptyCount, mappedCount, emptyCount)
	log.Infof("total OSTree objects found in boot: %d", len(mappedBootFiles))

	canon, dropped, clamped := Canonicalize(mappings)
	log.Infof("duplicate extents dropped: %d, overlapping extents clamped: %d", dropped, clamped)
	log.Infof("total root extents: %d", len(canon))

	return Partition{StartOffset: startOffset, EndOffset: endOffset, Mappings: canon}, mappedBootFiles, nil
}

// ScanBootPartition fiemaps every file in mappedBootFiles (matched up by
// ScanRootPartition) and records them as mappings under the boot partition.
func ScanBootPartition(mappedBootFiles map[string]Sha256Digest, startOffset, endOffset uint64) (Partition, error) {
	var mappings []Mapping
	for path, object := range mappedBootFiles {
		extents, err := FiemapPath(path)
		if err != nil {
			return Partition{}, errors.Wrapf(err, "mapping %s", path)
		}
		for _, e := range extents {
			mappings = append(mappings, Mapping{Extent: e, Object: object})
		}
	}

	canon, dropped, clamped := Canonicalize(mappings)
	log.Infof("duplicate extents dropped: %d, overlapping extents clamped: %d", dropped, clamped)
	log.Infof("total boot extents: %d", len(canon))
	return Partition{StartOffset: startOffset, EndOffset: endOffset, Mappings: canon}, nil
}
