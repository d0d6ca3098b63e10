package osmet

import (
	"io"

	"github.com/pkg/errors"

	"github.com/coreos/coreos-installer-go/internal/ioutil"
)

// packCopyBufSize matches the original tool's 8KiB scratch buffer for the
// skip-and-copy loop.
const packCopyBufSize = 8192

// WritePackedImage streams dev (a whole-disk reader, positioned at offset 0)
// to w, skipping over the on-disk bytes of every mapping in partitions (in
// disk order) so the caller's xz encoder never sees bytes already
// reconstructable from the OSTree object store. It returns the total number
// of bytes skipped. dev must support Seek so skipped extents can be jumped
// over without being read.
func WritePackedImage(dev io.ReadSeeker, w io.Writer, partitions []Partition) (uint64, error) {
	buf := make([]byte, packCopyBufSize)
	var cursor, totalSkipped uint64

	for i, part := range partitions {
		if part.StartOffset < cursor {
			return 0, errors.Errorf("partition %d starts before cursor: %d vs %d", i, part.StartOffset, cursor)
		}
		if err := ioutil.CopyExactlyN(w, dev, int64(part.StartOffset-cursor), buf); err != nil {
			return 0, errors.Wrapf(err, "copying up to partition %d", i)
		}
		skipped, err := writePackedPartition(dev, w, part, buf)
		if err != nil {
			return 0, errors.Wrapf(err, "packing partition %d", i)
		}
		totalSkipped += skipped
		cursor = part.EndOffset
	}

	if _, err := io.Copy(w, dev); err != nil {
		return 0, errors.Wrap(err, "copying remainder of disk")
	}
	return totalSkipped, nil
}

func writePackedPartition(dev io.ReadSeeker, w io.Writer, part Partition, buf []byte) (uint64, error) {
	var totalSkipped uint64
	cursor := part.StartOffset

	for _, m := range part.Mappings {
		extentStart := m.Extent.Physical + part.StartOffset
		if extentStart < cursor {
			return 0, errors.Errorf("mapping starts before cursor: %d vs %d", extentStart, cursor)
		}
		if cursor < extentStart {
			if err := ioutil.CopyExactlyN(w, dev, int64(extentStart-cursor), buf); err != nil {
				return 0, errors.Wrap(err, "writing in between extents")
			}
		}

		if _, err := dev.Seek(int64(m.Extent.Length), io.SeekCurrent); err != nil {
			return 0, errors.Wrapf(err, "skipping extent %+v", m.Extent)
		}
		totalSkipped += m.Extent.Length
		cursor = extentStart + m.Extent.Length
	}

	if cursor > part.EndOffset {
		return 0, errors.Errorf("cursor past partition end: %d vs %d", cursor, part.EndOffset)
	}
	if err := ioutil.CopyExactlyN(w, dev, int64(part.EndOffset-cursor), buf); err != nil {
		return 0, errors.Wrap(err, "copying remainder of partition")
	}
	return totalSkipped, nil
}
