package main

import (
	"context"
	"flag"
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/coreos/coreos-installer-go/internal/blockdev"
	"github.com/coreos/coreos-installer-go/internal/ignition"
	"github.com/coreos/coreos-installer-go/internal/install"
)

// fileImageSource is the stand-in ImageSource collaborator (HTTP fetch and
// GPG verification live outside this tool) used when the operator already
// has the image on local disk or piped in over stdin.
type fileImageSource struct {
	path string
}

func (s fileImageSource) Open(_ context.Context) (io.ReadCloser, int64, []byte, error) {
	if s.path == "-" {
		return io.NopCloser(os.Stdin), -1, nil, nil
	}
	f, err := os.Open(s.path)
	if err != nil {
		return nil, 0, nil, errors.Wrapf(err, "opening %s", s.path)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, nil, errors.Wrapf(err, "statting %s", s.path)
	}
	return f, info.Size(), nil, nil
}

func runInstall(args []string) error {
	fs := flag.NewFlagSet("install", flag.ExitOnError)
	device := fs.String("device", "", "destination block device")
	image := fs.String("image", "", "image file path, or '-' for stdin")
	ignitionPath := fs.String("ignition", "", "Ignition config file to install")
	ignitionHash := fs.String("ignition-hash", "", "expected <algo>-<hex> digest of the Ignition config")
	platform := fs.String("platform", "", "ignition.platform.id override")
	firstBootKargs := fs.String("first-boot-kargs", "", "kernel arguments to append for the first boot only")
	networkDir := fs.String("copy-network", "", "NetworkManager keyfile directory to copy to the destination")
	insecure := fs.Bool("insecure", false, "skip signature verification")
	preserveOnError := fs.Bool("preserve-on-error", false, "leave the destination untouched if install fails")
	var appendKargs, deleteKargs stringList
	fs.Var(&appendKargs, "append-karg", "karg to append (repeatable)")
	fs.Var(&deleteKargs, "delete-karg", "karg to delete (repeatable)")
	fs.Parse(args)

	if *device == "" || *image == "" {
		return errors.New("--device and --image are required")
	}

	dev, err := blockdev.Open(*device)
	if err != nil {
		return err
	}
	defer dev.Close()

	var ignitionContent []byte
	var hash *ignition.Hash
	if *ignitionPath != "" {
		ignitionContent, err = os.ReadFile(*ignitionPath)
		if err != nil {
			return errors.Wrapf(err, "reading %s", *ignitionPath)
		}
		if *ignitionHash != "" {
			h, err := ignition.TryParse(*ignitionHash)
			if err != nil {
				return err
			}
			hash = &h
		}
	}

	opts := install.Options{
		Source:          fileImageSource{path: *image},
		Insecure:        *insecure,
		PreserveOnError: *preserveOnError,
		Customize: install.Customizations{
			IgnitionContent:   ignitionContent,
			IgnitionHash:      hash,
			PlatformID:        *platform,
			FirstBootKargs:    *firstBootKargs,
			AppendKargs:       appendKargs,
			DeleteKargs:       deleteKargs,
			NetworkConfigPath: *networkDir,
		},
	}

	return install.Install(context.Background(), dev, dev.File(), opts)
}
