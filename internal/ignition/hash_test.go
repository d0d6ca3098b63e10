package ignition_test

import (
	"crypto/sha512"
	"encoding/hex"
	"strings"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/coreos/coreos-installer-go/internal/ignition"
)

var _ = Describe("TryParse", func() {
	It("parses a well-formed sha512 hash string", func() {
		sum := sha512.Sum512([]byte("hello"))
		s := "sha512-" + hex.EncodeToString(sum[:])
		h, err := ignition.TryParse(s)
		Expect(err).NotTo(HaveOccurred())
		Expect(h.String()).To(Equal(s))
	})

	It("rejects an unknown algorithm", func() {
		_, err := ignition.TryParse("md5-" + strings.Repeat("a", 32))
		Expect(err).To(HaveOccurred())
	})

	It("rejects a digest of the wrong length", func() {
		_, err := ignition.TryParse("sha512-abcd")
		Expect(err).To(HaveOccurred())
	})

	It("rejects a string with no separator", func() {
		_, err := ignition.TryParse("sha512onlyhex")
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("Hash.Validate", func() {
	It("succeeds when the stream matches the recorded digest", func() {
		sum := sha512.Sum512([]byte("config contents"))
		h, err := ignition.TryParse("sha512-" + hex.EncodeToString(sum[:]))
		Expect(err).NotTo(HaveOccurred())
		Expect(h.Validate(strings.NewReader("config contents"))).To(Succeed())
	})

	It("fails with a descriptive mismatch error", func() {
		sum := sha512.Sum512([]byte("expected"))
		h, err := ignition.TryParse("sha512-" + hex.EncodeToString(sum[:]))
		Expect(err).NotTo(HaveOccurred())
		err = h.Validate(strings.NewReader("actually different"))
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("hash mismatch"))
	})
})
