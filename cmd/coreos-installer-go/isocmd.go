package main

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio"
	"github.com/pkg/errors"

	"github.com/coreos/coreos-installer-go/internal/ignition"
	"github.com/coreos/coreos-installer-go/internal/iso9660"
	"github.com/coreos/coreos-installer-go/internal/isoembed"
	"github.com/coreos/coreos-installer-go/internal/kargs"
)

// initrdIgnitionPath is the CPIO entry name the live initrd's dracut module
// looks for, matching the original tool's embed.rs INITRD_IGNITION_PATH.
const initrdIgnitionPath = "config.ign"

func runIso(args []string) error {
	if len(args) < 1 {
		return errors.New("usage: iso <ignition|kargs|customize> ...")
	}
	switch args[0] {
	case "ignition":
		return runIsoIgnition(args[1:])
	case "kargs":
		return runIsoKargs(args[1:])
	case "customize":
		return runIsoCustomize(args[1:])
	default:
		return errors.Errorf("unknown iso subcommand %q", args[0])
	}
}

// openIsoConfig opens path for read-write and loads both its embed areas.
func openIsoConfig(path string) (*os.File, *isoembed.IsoConfig, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "opening %s", path)
	}
	cfg, err := isoembed.Load(f)
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return f, cfg, nil
}

// writeIsoConfig commits cfg's edits. An empty or "-" output rewrites the
// input in place (resp. streams the substituted ISO to stdout); any other
// output path gets a fresh, atomically-renamed copy.
func writeIsoConfig(f *os.File, cfg *isoembed.IsoConfig, inputPath, output string) error {
	switch {
	case output == "" || output == inputPath:
		return cfg.WriteInPlace(f)
	case output == "-":
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return errors.Wrap(err, "seeking to start of input ISO")
		}
		return cfg.Stream(f, os.Stdout)
	default:
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return errors.Wrap(err, "seeking to start of input ISO")
		}
		t, err := renameio.TempFile(filepath.Dir(output), output)
		if err != nil {
			return errors.Wrap(err, "allocating output tempfile")
		}
		defer t.Cleanup()
		if err := cfg.Stream(f, t); err != nil {
			return err
		}
		return t.CloseAtomicallyReplace()
	}
}

func runIsoIgnition(args []string) error {
	if len(args) < 1 {
		return errors.New("usage: iso ignition <show|embed|remove> <iso>")
	}
	sub, rest := args[0], args[1:]
	fs := flag.NewFlagSet("iso ignition "+sub, flag.ExitOnError)
	configPath := fs.String("config", "", "Ignition config file to embed")
	output := fs.String("output", "", "output path, or '-' for stdout (default: edit in place)")
	fs.Parse(rest)
	if fs.NArg() != 1 {
		return errors.New("expected exactly one ISO path argument")
	}
	isoPath := fs.Arg(0)

	switch sub {
	case "show":
		f, err := os.Open(isoPath)
		if err != nil {
			return errors.Wrapf(err, "opening %s", isoPath)
		}
		defer f.Close()
		cfg, err := isoembed.Load(f)
		if err != nil {
			return err
		}
		content, ok := cfg.Initrd().Get(initrdIgnitionPath)
		if !ok {
			return errors.New("no Ignition config is embedded in this ISO")
		}
		os.Stdout.Write(content)
		return nil
	case "embed":
		if *configPath == "" {
			return errors.New("--config is required")
		}
		content, err := os.ReadFile(*configPath)
		if err != nil {
			return errors.Wrapf(err, "reading %s", *configPath)
		}
		f, cfg, err := openIsoConfig(isoPath)
		if err != nil {
			return err
		}
		defer f.Close()
		cfg.InitrdMut().Add(initrdIgnitionPath, content)
		return writeIsoConfig(f, cfg, isoPath, *output)
	case "remove":
		f, cfg, err := openIsoConfig(isoPath)
		if err != nil {
			return err
		}
		defer f.Close()
		cfg.InitrdMut().Remove(initrdIgnitionPath)
		return writeIsoConfig(f, cfg, isoPath, *output)
	default:
		return errors.Errorf("unknown iso ignition subcommand %q", sub)
	}
}

func runIsoKargs(args []string) error {
	if len(args) < 1 {
		return errors.New("usage: iso kargs <show|modify|reset> <iso>")
	}
	sub, rest := args[0], args[1:]
	fs := flag.NewFlagSet("iso kargs "+sub, flag.ExitOnError)
	output := fs.String("output", "", "output path, or '-' for stdout (default: edit in place)")
	showDefault := fs.Bool("default", false, "show the original default kargs instead of the current ones")
	var appendTerms, deleteTerms, replaceTerms stringList
	fs.Var(&appendTerms, "append", "karg to append (repeatable)")
	fs.Var(&deleteTerms, "delete", "karg to delete (repeatable)")
	fs.Var(&replaceTerms, "replace", "KEY=OLD=NEW to replace (repeatable)")
	fs.Parse(rest)
	if fs.NArg() != 1 {
		return errors.New("expected exactly one ISO path argument")
	}
	isoPath := fs.Arg(0)

	switch sub {
	case "show":
		f, err := os.Open(isoPath)
		if err != nil {
			return errors.Wrapf(err, "opening %s", isoPath)
		}
		defer f.Close()
		cfg, err := isoembed.Load(f)
		if err != nil {
			return err
		}
		if !cfg.KargsSupported() {
			return errors.New("no karg embed areas found; old or corrupted CoreOS ISO image")
		}
		var out string
		if *showDefault {
			out, err = cfg.KargsDefault()
		} else {
			out, err = cfg.Kargs()
		}
		if err != nil {
			return err
		}
		fmt.Println(out)
		return nil
	case "modify":
		f, cfg, err := openIsoConfig(isoPath)
		if err != nil {
			return err
		}
		defer f.Close()
		if !cfg.KargsSupported() {
			return errors.New("no karg embed areas found; old or corrupted CoreOS ISO image")
		}
		editor := kargs.New()
		editor.Delete(deleteTerms...).Append(appendTerms...).Replace(replaceTerms...)
		current, err := cfg.Kargs()
		if err != nil {
			return err
		}
		next, changed, err := editor.MaybeApplyTo(current)
		if err != nil {
			return err
		}
		if changed {
			if err := cfg.SetKargs(next); err != nil {
				return err
			}
		}
		return writeIsoConfig(f, cfg, isoPath, *output)
	case "reset":
		f, cfg, err := openIsoConfig(isoPath)
		if err != nil {
			return err
		}
		defer f.Close()
		if !cfg.KargsSupported() {
			return errors.New("no karg embed areas found; old or corrupted CoreOS ISO image")
		}
		def, err := cfg.KargsDefault()
		if err != nil {
			return err
		}
		if err := cfg.SetKargs(def); err != nil {
			return err
		}
		return writeIsoConfig(f, cfg, isoPath, *output)
	default:
		return errors.Errorf("unknown iso kargs subcommand %q", sub)
	}
}

func runIsoCustomize(args []string) error {
	fs := flag.NewFlagSet("iso customize", flag.ExitOnError)
	configPath := fs.String("ignition", "", "Ignition config file to embed")
	ignitionHash := fs.String("ignition-hash", "", "expected <algo>-<hex> digest of the Ignition config")
	platform := fs.String("platform", "", "ignition.platform.id override")
	output := fs.String("output", "", "output path, or '-' for stdout (default: edit in place)")
	var appendKargs, deleteKargs, networkKeyfiles stringList
	fs.Var(&appendKargs, "append-karg", "karg to append (repeatable)")
	fs.Var(&deleteKargs, "delete-karg", "karg to delete (repeatable)")
	fs.Var(&networkKeyfiles, "network-keyfile", "NetworkManager keyfile to embed for the live environment (repeatable)")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return errors.New("expected exactly one ISO path argument")
	}
	isoPath := fs.Arg(0)

	f, err := os.OpenFile(isoPath, os.O_RDWR, 0)
	if err != nil {
		return errors.Wrapf(err, "opening %s", isoPath)
	}
	defer f.Close()
	iso, err := iso9660.Open(f)
	if err != nil {
		return err
	}
	cfg, err := isoembed.LoadFromFs(f, iso)
	if err != nil {
		return err
	}

	if len(networkKeyfiles) > 0 {
		features, err := isoembed.LoadFeatures(iso)
		if err != nil {
			return err
		}
		if !features.LiveInitrdNetwork {
			return errors.New("this ISO image does not support customizing network settings in the live environment")
		}
		for _, keyfile := range networkKeyfiles {
			content, err := os.ReadFile(keyfile)
			if err != nil {
				return errors.Wrapf(err, "reading %s", keyfile)
			}
			name := "etc/coreos-firstboot-network/" + filepath.Base(keyfile)
			cfg.InitrdMut().Add(name, content)
		}
	}

	if *configPath != "" {
		content, err := os.ReadFile(*configPath)
		if err != nil {
			return errors.Wrapf(err, "reading %s", *configPath)
		}
		if *ignitionHash != "" {
			h, err := ignition.TryParse(*ignitionHash)
			if err != nil {
				return err
			}
			if err := h.Validate(bytes.NewReader(content)); err != nil {
				return err
			}
		}
		cfg.InitrdMut().Add(initrdIgnitionPath, content)
	}

	if (len(appendKargs) > 0 || len(deleteKargs) > 0 || *platform != "") && !cfg.KargsSupported() {
		return errors.New("no karg embed areas found; old or corrupted CoreOS ISO image")
	}
	if len(appendKargs) > 0 || len(deleteKargs) > 0 || *platform != "" {
		editor := kargs.New()
		editor.Delete(deleteKargs...).Append(appendKargs...)
		if *platform != "" {
			editor.Replace("ignition.platform.id=metal=" + *platform)
		}
		current, err := cfg.Kargs()
		if err != nil {
			return err
		}
		next, changed, err := editor.MaybeApplyTo(current)
		if err != nil {
			return err
		}
		if changed {
			if err := cfg.SetKargs(next); err != nil {
				return err
			}
		}
	}

	return writeIsoConfig(f, cfg, isoPath, *output)
}

// stringList implements flag.Value for a repeatable string flag.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}
