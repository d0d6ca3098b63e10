package main

import (
	"bytes"
	"flag"
	"os"
	"path/filepath"

	"github.com/google/renameio"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/coreos/coreos-installer-go/internal/iso9660"
	"github.com/coreos/coreos-installer-go/internal/isoembed"
	"github.com/coreos/coreos-installer-go/internal/miniso"
)

// collectFiles walks every regular file reachable from iso's root into a
// path -> File map, for matching against another ISO's file set.
func collectFiles(iso *iso9660.IsoFs) (map[string]iso9660.File, error) {
	files := map[string]iso9660.File{}
	err := iso.Walk(iso.Root(), func(path string, e iso9660.Entry) error {
		if e.IsDir {
			return nil
		}
		f, err := e.AsFile()
		if err != nil {
			return err
		}
		files[path] = f
		return nil
	})
	return files, err
}

func runPackMiniso(args []string) error {
	fs := flag.NewFlagSet("pack-miniso", flag.ExitOnError)
	fullPath := fs.String("full", "", "full live ISO path")
	minimalPath := fs.String("minimal", "", "minimal ISO path")
	output := fs.String("output", "", "output miniso data file path (default: embed into the full ISO)")
	fs.Parse(args)

	if *fullPath == "" || *minimalPath == "" {
		return errors.New("--full and --minimal are required")
	}

	fullFlags := os.O_RDONLY
	if *output == "" {
		// no external output: the payload is embedded back into the full
		// ISO's reserved COREOS/MINISO.DAT file
		fullFlags = os.O_RDWR
	}
	fullFile, err := os.OpenFile(*fullPath, fullFlags, 0)
	if err != nil {
		return errors.Wrapf(err, "opening %s", *fullPath)
	}
	defer fullFile.Close()

	minimalFile, err := os.Open(*minimalPath)
	if err != nil {
		return errors.Wrapf(err, "opening %s", *minimalPath)
	}
	defer minimalFile.Close()

	// The full and minimal ISOs are independent files; scan their
	// directory trees concurrently rather than back to back.
	var fullIso *iso9660.IsoFs
	var fullFiles, minimalFiles map[string]iso9660.File
	var g errgroup.Group
	g.Go(func() error {
		var err error
		fullIso, err = iso9660.Open(fullFile)
		if err != nil {
			return errors.Wrap(err, "parsing full ISO")
		}
		fullFiles, err = collectFiles(fullIso)
		return errors.Wrap(err, "walking full ISO")
	})
	g.Go(func() error {
		minimalIso, err := iso9660.Open(minimalFile)
		if err != nil {
			return errors.Wrap(err, "parsing minimal ISO")
		}
		minimalFiles, err = collectFiles(minimalIso)
		return errors.Wrap(err, "walking minimal ISO")
	})
	if err := g.Wait(); err != nil {
		return err
	}

	data, _, err := miniso.Pack(minimalFile, fullFiles, minimalFiles)
	if err != nil {
		return err
	}

	if *output == "" {
		var payload bytes.Buffer
		if err := data.Serialize(&payload); err != nil {
			return err
		}
		return isoembed.WriteMinisoData(fullFile, fullIso, payload.Bytes())
	}

	t, err := renameio.TempFile(filepath.Dir(*output), *output)
	if err != nil {
		return errors.Wrap(err, "allocating output tempfile")
	}
	defer t.Cleanup()
	if err := data.Serialize(t); err != nil {
		return err
	}
	return t.CloseAtomicallyReplace()
}

func runUnpackMiniso(args []string) error {
	fs := flag.NewFlagSet("unpack-miniso", flag.ExitOnError)
	dataPath := fs.String("data", "", "miniso data file path (default: read from the full ISO)")
	fullPath := fs.String("full", "", "full live ISO path")
	output := fs.String("output", "", "output path for the reconstructed ISO, or '-' for stdout")
	fs.Parse(args)

	if *fullPath == "" || *output == "" {
		return errors.New("--full and --output are required")
	}

	fullFile, err := os.Open(*fullPath)
	if err != nil {
		return errors.Wrapf(err, "opening %s", *fullPath)
	}
	defer fullFile.Close()

	var data miniso.Data
	if *dataPath != "" {
		dataFile, err := os.Open(*dataPath)
		if err != nil {
			return errors.Wrapf(err, "opening %s", *dataPath)
		}
		defer dataFile.Close()
		data, err = miniso.Deserialize(dataFile)
		if err != nil {
			return err
		}
	} else {
		fullIso, err := iso9660.Open(fullFile)
		if err != nil {
			return errors.Wrap(err, "parsing full ISO")
		}
		payload, err := isoembed.ReadMinisoData(fullFile, fullIso)
		if err != nil {
			return err
		}
		data, err = miniso.Deserialize(bytes.NewReader(payload))
		if err != nil {
			return err
		}
	}

	if *output == "-" {
		return data.Unpack(fullFile, os.Stdout)
	}

	t, err := renameio.TempFile(filepath.Dir(*output), *output)
	if err != nil {
		return errors.Wrap(err, "allocating output tempfile")
	}
	defer t.Cleanup()
	if err := data.Unpack(fullFile, t); err != nil {
		return err
	}
	return t.CloseAtomicallyReplace()
}
