//go:build !linux

package osmet

import "github.com/pkg/errors"

// FiemapPath is unsupported outside Linux: FIEMAP is a Linux-specific ioctl,
// and osmet packing only ever runs against a booted CoreOS (Linux) system.
func FiemapPath(path string) ([]Extent, error) {
	return nil, errors.New("FIEMAP is only supported on Linux")
}
