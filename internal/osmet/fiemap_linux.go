//go:build linux

package osmet

import (
	"os"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// extentCount bounds how many fiemap_extent structs we ask the kernel to
// fill per ioctl call. 32 is a bit less than 2KiB for the whole request;
// filefrag uses much more, but OSTree object files on a "dead" read-only
// rootfs are not expected to be heavily fragmented.
const extentCount = 32

const (
	fiemapExtentLast        = 0x00000001
	fiemapExtentUnknown     = 0x00000002
	fiemapExtentDelalloc    = 0x00000004
	fiemapExtentEncoded     = 0x00000008
	fiemapExtentNotAligned  = 0x00000100
	fiemapExtentUnwritten   = 0x00000800
	fiemapExtentMerged      = 0x00001000
	fsIocFiemap = 0xC020660B // _IOWR('f', 11, struct fiemap)
)

type fiemapExtentRaw struct {
	Logical   uint64
	Physical  uint64
	Length    uint64
	Reserved2 [2]uint64
	Flags     uint32
	Reserved  [3]uint32
}

type fiemapRaw struct {
	Start          uint64
	Length         uint64
	Flags          uint32
	MappedExtents  uint32
	ExtentCount    uint32
	Reserved       uint32
	Extents        [extentCount]fiemapExtentRaw
}

// FiemapPath opens path and returns the Extents FIEMAP reports for it. Any
// extent flagged NOT_ALIGNED, MERGED, ENCODED, DELALLOC, UNWRITTEN or
// UNKNOWN is rejected: these would indicate the file is not a plain,
// block-backed run of bytes we can safely skip over when packing.
// Zero-length extents are left out of the result.
func FiemapPath(path string) ([]Extent, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", path)
	}
	defer f.Close()

	return fiemap(f.Fd())
}

func fiemap(fd uintptr) ([]Extent, error) {
	var extents []Extent

	for {
		var req fiemapRaw
		req.Length = ^uint64(0)
		req.ExtentCount = extentCount
		if n := len(extents); n > 0 {
			last := extents[n-1]
			req.Start = last.Logical + last.Length
		}

		if _, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, uintptr(fsIocFiemap), uintptr(unsafe.Pointer(&req))); errno != 0 {
			return nil, errors.Wrap(errno, "ioctl(FS_IOC_FIEMAP)")
		}

		if req.MappedExtents == 0 {
			break
		}

		foundLast := false
		for i := uint32(0); i < req.MappedExtents; i++ {
			e := req.Extents[i]
			switch {
			case e.Flags&fiemapExtentNotAligned != 0:
				return nil, errors.New("extent not aligned")
			case e.Flags&fiemapExtentMerged != 0:
				return nil, errors.New("file does not support extents")
			case e.Flags&fiemapExtentEncoded != 0:
				return nil, errors.New("extent encoded")
			case e.Flags&fiemapExtentDelalloc != 0:
				return nil, errors.New("extent not allocated yet")
			case e.Flags&fiemapExtentUnwritten != 0:
				return nil, errors.New("extent preallocated")
			case e.Flags&fiemapExtentUnknown != 0:
				return nil, errors.New("extent inaccessible")
			}

			// zero-length extents map no bytes; leave them out
			if e.Length != 0 {
				extents = append(extents, Extent{
					Logical:  e.Logical,
					Physical: e.Physical,
					Length:   e.Length,
				})
			}

			if e.Flags&fiemapExtentLast != 0 {
				foundLast = true
			}
		}

		if foundLast {
			break
		}
	}

	return extents, nil
}
