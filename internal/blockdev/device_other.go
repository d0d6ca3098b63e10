//go:build !linux

package blockdev

import (
	"os"
)

// Device is unimplemented outside Linux; the install pipeline's block
// ioctls have no portable equivalent.
type Device struct{}

// Open is unsupported outside Linux.
func Open(path string) (*Device, error) {
	return nil, errUnsupported
}

func (d *Device) File() *os.File                { return nil }
func (d *Device) Path() string                  { return "" }
func (d *Device) SectorSize() (uint32, error)   { return 0, errUnsupported }
func (d *Device) Size() (uint64, error)         { return 0, errUnsupported }
func (d *Device) RereadPartitionTable() error   { return errUnsupported }
func (d *Device) Close() error                  { return nil }
func (d *Device) MountBoot() (string, func() error, error) {
	return "", nil, errUnsupported
}
