package main

import (
	"flag"
	"os"

	"github.com/pkg/errors"

	"github.com/coreos/coreos-installer-go/internal/blockdev"
	"github.com/coreos/coreos-installer-go/internal/osmet"
)

// osmetDevice adapts a blockdev.Device (which exposes its raw file handle
// separately from its Size/SectorSize control-plane methods) to the
// osmet.Device interface, which wants all three on one value.
type osmetDevice struct {
	*blockdev.Device
}

func (d osmetDevice) Read(p []byte) (int, error)         { return d.File().Read(p) }
func (d osmetDevice) Write(p []byte) (int, error)        { return d.File().Write(p) }
func (d osmetDevice) Seek(off int64, whence int) (int64, error) { return d.File().Seek(off, whence) }

func runPackOsmet(args []string) error {
	fs := flag.NewFlagSet("pack-osmet", flag.ExitOnError)
	device := fs.String("device", "", "disk device to scan")
	rootMP := fs.String("root-mp", "", "mountpoint of the root partition")
	bootMP := fs.String("boot-mp", "", "mountpoint of the boot partition")
	rootStart := fs.Uint64("root-start", 0, "root partition start offset")
	rootEnd := fs.Uint64("root-end", 0, "root partition end offset")
	bootStart := fs.Uint64("boot-start", 0, "boot partition start offset")
	bootEnd := fs.Uint64("boot-end", 0, "boot partition end offset")
	osDescription := fs.String("description", "", "OS description recorded in the osmet header")
	fast := fs.Bool("fast", false, "use a faster, lower-ratio xz preset")
	output := fs.String("output", "", "output osmet file path")
	fs.Parse(args)

	if *device == "" || *rootMP == "" || *bootMP == "" || *output == "" {
		return errors.New("--device, --root-mp, --boot-mp and --output are required")
	}

	dev, err := blockdev.Open(*device)
	if err != nil {
		return err
	}
	defer dev.File().Close()

	return osmet.Pack(osmet.PackOptions{
		Device:         osmetDevice{dev},
		RootMountpoint: *rootMP,
		BootMountpoint: *bootMP,
		RootPartStart:  *rootStart,
		RootPartEnd:    *rootEnd,
		BootPartStart:  *bootStart,
		BootPartEnd:    *bootEnd,
		OSDescription:  *osDescription,
		Fast:           *fast,
		OutputPath:     *output,
	})
}

func runUnpackOsmet(args []string) error {
	fs := flag.NewFlagSet("unpack-osmet", flag.ExitOnError)
	input := fs.String("input", "", "osmet file to unpack")
	repo := fs.String("repo", "", "OSTree object store directory")
	device := fs.String("device", "", "destination block device")
	fs.Parse(args)

	if *input == "" || *repo == "" || *device == "" {
		return errors.New("--input, --repo and --device are required")
	}

	out, err := os.OpenFile(*device, os.O_WRONLY, 0)
	if err != nil {
		return errors.Wrapf(err, "opening %s", *device)
	}
	defer out.Close()

	return osmet.UnpackToDevice(*input, *repo, out)
}
