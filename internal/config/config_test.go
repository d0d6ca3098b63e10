package config_test

import (
	"os"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/coreos/coreos-installer-go/internal/config"
)

var _ = Describe("Load", func() {
	It("applies defaults when no environment variables are set", func() {
		o, err := config.Load()
		Expect(err).NotTo(HaveOccurred())
		Expect(o.TempDir).To(Equal("/var/tmp"))
		Expect(o.FetchRetries).To(Equal(3))
		Expect(o.XzCompressFast).To(BeFalse())
	})

	It("honors environment overrides", func() {
		Expect(os.Setenv("COREOS_INSTALLER_TEMP_DIR", "/custom/tmp")).To(Succeed())
		defer os.Unsetenv("COREOS_INSTALLER_TEMP_DIR")
		o, err := config.Load()
		Expect(err).NotTo(HaveOccurred())
		Expect(o.TempDir).To(Equal("/custom/tmp"))
	})
})
