package ioutil_test

import (
	"bytes"
	"io"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/coreos/coreos-installer-go/internal/ioutil"
)

var _ = Describe("LimitReader", func() {
	It("allows reading exactly the limit", func() {
		lr := ioutil.NewLimitReader(bytes.NewReader([]byte("abcde")), 5, "test")
		out, err := io.ReadAll(lr)
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(Equal([]byte("abcde")))
	})

	It("errors when the source has more than the limit", func() {
		lr := ioutil.NewLimitReader(bytes.NewReader([]byte("abcdefgh")), 5, "test label")
		_, err := io.ReadAll(lr)
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("collision with test label at offset 5"))
	})
})

var _ = Describe("LimitWriter", func() {
	It("errors once the cap would be exceeded", func() {
		var buf bytes.Buffer
		lw := ioutil.NewLimitWriter(&buf, 4, "data section")
		_, err := lw.Write([]byte("abcd"))
		Expect(err).NotTo(HaveOccurred())
		_, err = lw.Write([]byte("e"))
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("collision with data section at offset 4"))
	})
})
