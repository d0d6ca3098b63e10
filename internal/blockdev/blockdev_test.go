//go:build linux

package blockdev_test

import (
	"os"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/coreos/coreos-installer-go/internal/blockdev"
)

var _ = Describe("block ioctls on a non-block-device file", func() {
	// A regular file isn't a block device, so these ioctls must fail
	// cleanly rather than panic or hang; this exercises the error path
	// without needing root or a real /dev/ node.
	It("SectorSize fails with a wrapped error", func() {
		f, err := os.CreateTemp("", "blockdev-test-")
		Expect(err).NotTo(HaveOccurred())
		defer os.Remove(f.Name())
		defer f.Close()

		_, err = blockdev.SectorSize(f)
		Expect(err).To(HaveOccurred())
	})

	It("Size fails with a wrapped error", func() {
		f, err := os.CreateTemp("", "blockdev-test-")
		Expect(err).NotTo(HaveOccurred())
		defer os.Remove(f.Name())
		defer f.Close()

		_, err = blockdev.Size(f)
		Expect(err).To(HaveOccurred())
	})
})
