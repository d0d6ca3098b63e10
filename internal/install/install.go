// Package install implements the destination-writing pipeline: opening the
// block device exclusively, streaming the decoded image through the "first
// megabyte deferred" anti-boot-loop write order, and applying post-process
// customizations (Ignition, kargs, platform ID, network config) to the
// boot partition.
package install

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/coreos/coreos-installer-go/internal/bls"
	"github.com/coreos/coreos-installer-go/internal/ignition"
	"github.com/coreos/coreos-installer-go/internal/ioutil"
	"github.com/coreos/coreos-installer-go/internal/kargs"
)

//go:generate mockgen -package=install -destination=mock_install.go . ImageSource,BlockDevice

// ImageSource is the external collaborator providing the image bytes to
// install, typically an HTTP fetch with GPG verification.
type ImageSource interface {
	Open(ctx context.Context) (r io.ReadCloser, lengthHint int64, sig []byte, err error)
}

// BlockDevice is the external collaborator for device discovery, exclusive
// access, and mount/unmount of the boot partition.
type BlockDevice interface {
	Path() string
	SectorSize() (uint32, error)
	Size() (uint64, error)
	RereadPartitionTable() error
	MountBoot() (mountpoint string, unmount func() error, err error)
}

// GpgVerifier wraps r so that once it has been fully read, any signature
// mismatch has already surfaced as an error from a subsequent Read. This is
// the seam a caller plugs a real verifier into; a nil GpgVerifier on
// Options means the source is trusted as-is.
type GpgVerifier interface {
	Verify(r io.Reader, sig []byte) io.Reader
}

// firstMegabyte is the anti-boot-loop deferral size.
const firstMegabyte = 1024 * 1024

// Customizations bundles the optional post-process edits applied to the
// destination's boot partition after the image is written.
type Customizations struct {
	IgnitionContent   []byte
	IgnitionHash      *ignition.Hash
	PlatformID        string
	FirstBootKargs    string
	AppendKargs       []string
	DeleteKargs       []string
	NetworkConfigPath string
}

func (c Customizations) requested() bool {
	return len(c.IgnitionContent) > 0 || c.PlatformID != "" || c.FirstBootKargs != "" ||
		len(c.AppendKargs) > 0 || len(c.DeleteKargs) > 0 || c.NetworkConfigPath != ""
}

// Options configures a single Install run.
type Options struct {
	Source          ImageSource
	Gpg             GpgVerifier
	Insecure        bool
	PreserveOnError bool
	Customize       Customizations
}

// Install writes opts.Source's image to dev, following the first-megabyte
// deferred write order, then applies any requested customizations.
//
// destFile must be an already-opened, writable handle onto dev's underlying
// path; dev itself carries only the control-plane operations (sector size,
// partition re-read, boot-partition mount).
func Install(ctx context.Context, dev BlockDevice, destFile *os.File, opts Options) (retErr error) {
	if err := dev.RereadPartitionTable(); err != nil {
		return errors.Wrap(err, "checking destination is not in use")
	}

	defer func() {
		if retErr == nil {
			return
		}
		if opts.PreserveOnError {
			log.Warnf("install failed, preserving destination per preserve-on-error: %v", retErr)
			return
		}
		if err := clearAndSettle(dev, destFile); err != nil {
			log.Warnf("failed to clean up destination after install failure: %v", err)
		}
	}()

	if err := streamImage(ctx, destFile, opts); err != nil {
		return err
	}

	if err := dev.RereadPartitionTable(); err != nil {
		return errors.Wrap(err, "re-reading partition table after write")
	}

	if opts.Customize.requested() {
		if err := postProcess(dev, opts.Customize); err != nil {
			return errors.Wrap(err, "applying customizations")
		}
	}

	return nil
}

func streamImage(ctx context.Context, destFile *os.File, opts Options) error {
	rc, lengthHint, sig, err := opts.Source.Open(ctx)
	if err != nil {
		return errors.Wrap(err, "opening image source")
	}
	defer rc.Close()

	var src io.Reader = rc
	if opts.Gpg != nil {
		src = opts.Gpg.Verify(src, sig)
	}
	src = newProgressReader(src, lengthHint)

	peek := ioutil.NewPeekReader(src)
	decoded, err := ioutil.New(peek)
	if err != nil {
		return errors.Wrap(err, "sniffing image compression")
	}

	// Step 4: zero sector 0 before anything decoded is visible there.
	if _, err := destFile.WriteAt(make([]byte, firstMegabyte), 0); err != nil {
		return errors.Wrap(err, "zeroing destination header")
	}

	firstMB := make([]byte, firstMegabyte)
	n, err := io.ReadFull(decoded, firstMB)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return errors.Wrap(err, "reading image header")
	}
	firstMB = firstMB[:n]

	if _, err := destFile.Seek(firstMegabyte, io.SeekStart); err != nil {
		return errors.Wrap(err, "seeking past deferred header")
	}
	buf := make([]byte, 1024*1024)
	if _, err := io.CopyBuffer(destFile, decoded, buf); err != nil {
		return errors.Wrap(err, "writing image body")
	}

	// decoded has now returned EOF, so the GPG wrapper (if any) has seen
	// and verified the whole stream; it is now safe to reveal the header.
	if _, err := destFile.WriteAt(firstMB, 0); err != nil {
		return errors.Wrap(err, "writing deferred header")
	}
	if err := destFile.Sync(); err != nil {
		return errors.Wrap(err, "syncing destination")
	}
	return nil
}

func clearAndSettle(dev BlockDevice, destFile *os.File) error {
	if _, err := destFile.WriteAt(make([]byte, firstMegabyte), 0); err != nil {
		return errors.Wrap(err, "clearing destination header")
	}
	if err := destFile.Sync(); err != nil {
		return errors.Wrap(err, "syncing cleared destination")
	}
	return dev.RereadPartitionTable()
}

// defaultPlatformID is what live ISOs ship in ignition.platform.id before a
// platform override is applied.
const defaultPlatformID = "metal"

func postProcess(dev BlockDevice, c Customizations) error {
	mountpoint, unmount, err := dev.MountBoot()
	if err != nil {
		return errors.Wrap(err, "mounting boot partition")
	}
	defer func() {
		if err := unmount(); err != nil {
			log.Warnf("failed to unmount boot partition cleanly: %v", err)
		}
	}()

	if len(c.IgnitionContent) > 0 {
		if c.IgnitionHash != nil {
			if err := c.IgnitionHash.Validate(bytes.NewReader(c.IgnitionContent)); err != nil {
				return errors.Wrap(err, "validating Ignition config hash")
			}
		}
		if err := writeIgnitionConfig(mountpoint, c.IgnitionContent); err != nil {
			return err
		}
	}

	if c.FirstBootKargs != "" {
		if err := writeFirstBootKargs(mountpoint, c.FirstBootKargs); err != nil {
			return err
		}
	}

	editor := kargs.New()
	if len(c.DeleteKargs) > 0 {
		editor.Delete(c.DeleteKargs...)
	}
	if len(c.AppendKargs) > 0 {
		editor.Append(c.AppendKargs...)
	}
	if c.PlatformID != "" {
		editor.Replace("ignition.platform.id=" + defaultPlatformID + "=" + c.PlatformID)
	}
	if !editor.IsEmpty() {
		if _, err := bls.VisitEntryOptions(mountpoint, editor.MaybeApplyToPtr); err != nil {
			return errors.Wrap(err, "editing kernel arguments")
		}
	}

	if c.NetworkConfigPath != "" {
		if err := installNetworkConfig(mountpoint, c.NetworkConfigPath); err != nil {
			return err
		}
	}

	return nil
}

func writeIgnitionConfig(mountpoint string, content []byte) error {
	dir := filepath.Join(mountpoint, "ignition")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "creating ignition directory")
	}
	path := filepath.Join(dir, "config.ign")
	// O_EXCL: refuse to clobber a config some earlier install left behind
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return errors.Wrapf(err, "opening %s", path)
	}
	defer f.Close()
	if _, err := f.Write(content); err != nil {
		return errors.Wrap(err, "writing Ignition config")
	}
	return nil
}

// writeFirstBootKargs records kargs for the first boot only, via the grub
// snippet the initramfs sources on the ignition.firstboot boot.
func writeFirstBootKargs(mountpoint, args string) error {
	path := filepath.Join(mountpoint, "ignition.firstboot")
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return errors.Wrapf(err, "opening %s", path)
	}
	defer f.Close()
	if _, err := fmt.Fprintf(f, "set ignition_network_kcmdline=\"%s\"\n", args); err != nil {
		return errors.Wrapf(err, "writing %s", path)
	}
	return nil
}

// installNetworkConfig copies every regular file under src into the
// firstboot network config directory, matching the original tool's
// "copy-network" behavior.
func installNetworkConfig(mountpoint, src string) error {
	dstDir := filepath.Join(mountpoint, "coreos-firstboot-network")
	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return errors.Wrap(err, "creating network config directory")
	}

	entries, err := os.ReadDir(src)
	if err != nil {
		return errors.Wrapf(err, "reading network config directory %s", src)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		content, err := os.ReadFile(filepath.Join(src, entry.Name()))
		if err != nil {
			return errors.Wrapf(err, "reading network config file %s", entry.Name())
		}
		if err := os.WriteFile(filepath.Join(dstDir, entry.Name()), content, 0o600); err != nil {
			return errors.Wrapf(err, "writing network config file %s", entry.Name())
		}
	}
	return nil
}
