//go:build linux

// Package blockdev implements the destination-device probing the install
// pipeline needs: exclusive access via a partition-table re-read, and
// logical sector size / total size discovery, all via Linux block ioctls.
package blockdev

import (
	"os"
	"time"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

const (
	blkrrpart    = 0x125f     // _IO(0x12, 95)
	blksszget    = 0x1268     // _IO(0x12, 104)
	blkgetsize64 = 0x80081272 // _IOR(0x12, 114, size_t)
)

func ioctlInt(fd uintptr, op uintptr, arg *int) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, op, uintptr(unsafe.Pointer(arg)))
	if errno != 0 {
		return errno
	}
	return nil
}

// RereadPartitionTable issues BLKRRPART, retrying on EBUSY up to the given
// number of attempts with a short sleep between tries, since a device can be
// transiently busy (e.g. udev still settling from a previous open).
func RereadPartitionTable(f *os.File, attempts int, delay time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		var arg int
		err = ioctlInt(f.Fd(), blkrrpart, &arg)
		if err == nil {
			return nil
		}
		if err != unix.EBUSY {
			return errors.Wrap(err, "ioctl(BLKRRPART)")
		}
		time.Sleep(delay)
	}
	return errors.Wrap(err, "device is in use")
}

// SectorSize returns the logical sector size via BLKSSZGET.
func SectorSize(f *os.File) (uint32, error) {
	var size int
	if err := ioctlInt(f.Fd(), blksszget, &size); err != nil {
		return 0, errors.Wrap(err, "ioctl(BLKSSZGET)")
	}
	return uint32(size), nil
}

// Size returns the device's total size in bytes via BLKGETSIZE64.
func Size(f *os.File) (uint64, error) {
	var size uint64
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), blkgetsize64, uintptr(unsafe.Pointer(&size)))
	if errno != 0 {
		return 0, errors.Wrap(errno, "ioctl(BLKGETSIZE64)")
	}
	return size, nil
}
