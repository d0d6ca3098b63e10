package install_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"

	"github.com/golang/mock/gomock"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/coreos/coreos-installer-go/internal/install"
)

// failingReader errors on its first read, simulating a source that dies
// partway through a download.
type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("connection reset")
}

var _ = Describe("Install", func() {
	var (
		ctrl      *gomock.Controller
		dev       *install.MockBlockDevice
		source    *install.MockImageSource
		dest      *os.File
		imageData []byte
	)

	BeforeEach(func() {
		ctrl = gomock.NewController(GinkgoT())
		dev = install.NewMockBlockDevice(ctrl)
		source = install.NewMockImageSource(ctrl)

		f, err := os.CreateTemp("", "install-dest-")
		Expect(err).NotTo(HaveOccurred())
		dest = f

		imageData = bytes.Repeat([]byte{0x42}, 4096)
	})

	AfterEach(func() {
		dest.Close()
		os.Remove(dest.Name())
		ctrl.Finish()
	})

	It("defers the first megabyte until the whole image is written", func() {
		dev.EXPECT().RereadPartitionTable().Return(nil).Times(2)
		source.EXPECT().Open(gomock.Any()).Return(io.NopCloser(bytes.NewReader(imageData)), int64(len(imageData)), nil, nil)

		opts := install.Options{Source: source}
		err := install.Install(context.Background(), dev, dest, opts)
		Expect(err).NotTo(HaveOccurred())

		got := make([]byte, len(imageData))
		_, err = dest.ReadAt(got, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(Equal(imageData))
	})

	It("applies customizations to the mounted boot partition", func() {
		bootDir, err := os.MkdirTemp("", "install-boot-")
		Expect(err).NotTo(HaveOccurred())
		defer os.RemoveAll(bootDir)

		entries := filepath.Join(bootDir, "loader", "entries")
		Expect(os.MkdirAll(entries, 0o755)).To(Succeed())
		Expect(os.WriteFile(filepath.Join(entries, "ostree-1.conf"),
			[]byte("title coreos\noptions console=ttyS0\n"), 0o644)).To(Succeed())

		dev.EXPECT().RereadPartitionTable().Return(nil).Times(2)
		dev.EXPECT().MountBoot().Return(bootDir, func() error { return nil }, nil)
		source.EXPECT().Open(gomock.Any()).Return(io.NopCloser(bytes.NewReader(imageData)), int64(len(imageData)), nil, nil)

		opts := install.Options{
			Source: source,
			Customize: install.Customizations{
				IgnitionContent: []byte(`{"ignition":{"version":"3.0.0"}}`),
				AppendKargs:     []string{"quiet"},
				FirstBootKargs:  "ip=dhcp",
			},
		}
		Expect(install.Install(context.Background(), dev, dest, opts)).To(Succeed())

		ign, err := os.ReadFile(filepath.Join(bootDir, "ignition", "config.ign"))
		Expect(err).NotTo(HaveOccurred())
		Expect(ign).To(Equal(opts.Customize.IgnitionContent))

		entry, err := os.ReadFile(filepath.Join(entries, "ostree-1.conf"))
		Expect(err).NotTo(HaveOccurred())
		Expect(string(entry)).To(Equal("title coreos\noptions console=ttyS0 quiet\n"))

		firstboot, err := os.ReadFile(filepath.Join(bootDir, "ignition.firstboot"))
		Expect(err).NotTo(HaveOccurred())
		Expect(string(firstboot)).To(Equal("set ignition_network_kcmdline=\"ip=dhcp\"\n"))
	})

	It("leaves sector 0 zeroed when the source fails mid-stream", func() {
		dev.EXPECT().RereadPartitionTable().Return(nil)
		failing := io.MultiReader(bytes.NewReader(bytes.Repeat([]byte{0x42}, 2*1024*1024)), failingReader{})
		source.EXPECT().Open(gomock.Any()).Return(io.NopCloser(failing), int64(-1), nil, nil)

		// preserve-on-error, so the failure path leaves the disk exactly as
		// the aborted write did
		opts := install.Options{Source: source, PreserveOnError: true}
		err := install.Install(context.Background(), dev, dest, opts)
		Expect(err).To(HaveOccurred())

		sector := make([]byte, 512)
		_, err = dest.ReadAt(sector, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(sector).To(Equal(make([]byte, 512)))
	})

	It("clears the destination header on failure unless preserve-on-error is set", func() {
		dev.EXPECT().RereadPartitionTable().Return(nil).Times(2)
		source.EXPECT().Open(gomock.Any()).Return(nil, int64(0), nil, errors.New("boom"))

		opts := install.Options{Source: source}
		err := install.Install(context.Background(), dev, dest, opts)
		Expect(err).To(HaveOccurred())
	})
})
