package ioutil

import (
	"io"

	"github.com/pkg/errors"
	"github.com/ulikunitz/xz"
)

// XzLevel selects an xz compression preset. ulikunitz/xz has no notion of
// liblzma's numbered presets; we approximate "fast" vs "default/max" via
// dictionary size, which is the dominant cost/ratio knob it exposes.
type XzLevel int

const (
	// XzLevelFast favors packing speed over ratio (osmet pack --fast).
	XzLevelFast XzLevel = iota
	// XzLevelDefault is the normal packing preset.
	XzLevelDefault
)

func dictCapFor(level XzLevel) int {
	switch level {
	case XzLevelFast:
		return 1 << 20 // 1 MiB
	default:
		return 1 << 26 // 64 MiB, ulikunitz/xz's own default
	}
}

// NewXzWriter returns an xz stream encoder writing to w at the given preset.
// Streams carry a CRC32 check: the Linux kernel's initramfs unpacker
// refuses the library's CRC64 default, and the other consumers don't care.
func NewXzWriter(w io.Writer, level XzLevel) (*xz.Writer, error) {
	cfg := xz.WriterConfig{DictCap: dictCapFor(level), CheckSum: xz.CRC32}
	if err := cfg.Verify(); err != nil {
		return nil, errors.Wrap(err, "configuring xz writer")
	}
	xw, err := cfg.NewWriter(w)
	if err != nil {
		return nil, errors.Wrap(err, "opening xz writer")
	}
	return xw, nil
}

// NewXzReader returns an xz stream decoder reading from r.
func NewXzReader(r io.Reader) (*xz.Reader, error) {
	xr, err := xz.NewReader(r)
	if err != nil {
		return nil, errors.Wrap(err, "opening xz reader")
	}
	return xr, nil
}
