//go:build !linux

package blockdev

import (
	"os"
	"time"

	"github.com/pkg/errors"
)

var errUnsupported = errors.New("block device ioctls are only implemented on linux")

// RereadPartitionTable is unsupported outside Linux.
func RereadPartitionTable(f *os.File, attempts int, delay time.Duration) error {
	return errUnsupported
}

// SectorSize is unsupported outside Linux.
func SectorSize(f *os.File) (uint32, error) {
	return 0, errUnsupported
}

// Size is unsupported outside Linux.
func Size(f *os.File) (uint64, error) {
	return 0, errUnsupported
}
