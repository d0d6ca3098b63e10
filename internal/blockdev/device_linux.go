//go:build linux

package blockdev

import (
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Device is a real block special file opened exclusively, with
// mount/unmount support for the post-install customization step.
type Device struct {
	path string
	f    *os.File
}

// Open opens path exclusively for read-write access, as the install
// pipeline's destination.
func Open(path string) (*Device, error) {
	f, err := os.OpenFile(path, os.O_RDWR|unix.O_EXCL, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", path)
	}
	return &Device{path: path, f: f}, nil
}

// File returns the underlying handle for streaming reads/writes.
func (d *Device) File() *os.File { return d.f }

// Path returns the device path.
func (d *Device) Path() string { return d.path }

// SectorSize returns the device's logical sector size.
func (d *Device) SectorSize() (uint32, error) { return SectorSize(d.f) }

// Size returns the device's total size in bytes.
func (d *Device) Size() (uint64, error) { return Size(d.f) }

// RereadPartitionTable re-reads the partition table, retrying on EBUSY.
func (d *Device) RereadPartitionTable() error {
	return RereadPartitionTable(d.f, 20, 100*time.Millisecond)
}

// Close closes the underlying file.
func (d *Device) Close() error {
	return d.f.Close()
}

// MountBoot mounts the device's "boot"-labeled partition read-write in a
// fresh temporary directory, returning an unmount func that retries up to
// 20x100ms and logs, but does not panic, on residual failure.
func (d *Device) MountBoot() (string, func() error, error) {
	bootPart, err := bootPartitionPath(d.path)
	if err != nil {
		return "", nil, err
	}

	mountpoint, err := os.MkdirTemp("", "coreos-installer-go-mount-"+uuid.NewString())
	if err != nil {
		return "", nil, errors.Wrap(err, "creating mount point")
	}

	if err := unix.Mount(bootPart, mountpoint, "ext4", 0, ""); err != nil {
		os.Remove(mountpoint)
		return "", nil, errors.Wrapf(err, "mounting %s at %s", bootPart, mountpoint)
	}

	unmount := func() error {
		defer os.Remove(mountpoint)
		var err error
		for i := 0; i < 20; i++ {
			err = unix.Unmount(mountpoint, 0)
			if err == nil {
				return nil
			}
			time.Sleep(100 * time.Millisecond)
		}
		return errors.Wrapf(err, "unmounting %s", mountpoint)
	}
	return mountpoint, unmount, nil
}

// bootPartitionPath resolves the boot-labeled partition's device node via
// the udev-maintained /dev/disk/by-label/boot symlink. It does not check
// that the labeled partition belongs to devicePath.
func bootPartitionPath(devicePath string) (string, error) {
	byLabel := "/dev/disk/by-label/boot"
	if _, err := os.Stat(byLabel); err == nil {
		return byLabel, nil
	}
	return "", errors.Errorf("could not find a boot-labeled partition for %s", devicePath)
}
