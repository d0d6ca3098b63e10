package initrd_test

import (
	"bytes"

	"github.com/cavaliercoder/go-cpio"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/coreos/coreos-installer-go/internal/initrd"
)

var _ = Describe("Initrd", func() {
	It("round-trips a set of files, synthesizing parent directories", func() {
		in := initrd.New()
		in.Add("etc/coreos-firstboot-network/eth0.nmconnection", []byte("net config"))
		in.Add("config.ign", []byte("{}"))

		encoded, err := in.ToBytes()
		Expect(err).NotTo(HaveOccurred())

		decoded, err := initrd.FromReader(bytes.NewReader(encoded), initrd.MatchAll)
		Expect(err).NotTo(HaveOccurred())

		got, ok := decoded.Get("config.ign")
		Expect(ok).To(BeTrue())
		Expect(got).To(Equal([]byte("{}")))

		got, ok = decoded.Get("etc/coreos-firstboot-network/eth0.nmconnection")
		Expect(ok).To(BeTrue())
		Expect(got).To(Equal([]byte("net config")))
	})

	It("lets a later entry with the same path win", func() {
		first := initrd.New()
		first.Add("config.ign", []byte("old"))
		firstBytes, err := first.ToBytes()
		Expect(err).NotTo(HaveOccurred())

		second := initrd.New()
		second.Add("config.ign", []byte("new"))
		secondBytes, err := second.ToBytes()
		Expect(err).NotTo(HaveOccurred())

		combined := append(append([]byte{}, firstBytes...), secondBytes...)
		decoded, err := initrd.FromReader(bytes.NewReader(combined), initrd.MatchAll)
		Expect(err).NotTo(HaveOccurred())

		got, ok := decoded.Get("config.ign")
		Expect(ok).To(BeTrue())
		Expect(got).To(Equal([]byte("new")))
	})

	It("parses archives separated by arbitrary zero padding", func() {
		one := initrd.New()
		one.Add("a", []byte("A"))
		oneBytes, err := one.ToBytes()
		Expect(err).NotTo(HaveOccurred())

		two := initrd.New()
		two.Add("b", []byte("B"))
		twoBytes, err := two.ToBytes()
		Expect(err).NotTo(HaveOccurred())

		padding := make([]byte, 37)
		combined := append(append(append([]byte{}, oneBytes...), padding...), twoBytes...)

		decoded, err := initrd.FromReader(bytes.NewReader(combined), initrd.MatchAll)
		Expect(err).NotTo(HaveOccurred())

		a, ok := decoded.Get("a")
		Expect(ok).To(BeTrue())
		Expect(a).To(Equal([]byte("A")))
		b, ok := decoded.Get("b")
		Expect(ok).To(BeTrue())
		Expect(b).To(Equal([]byte("B")))
	})

	It("parses concatenated uncompressed archives", func() {
		raw := func(name string, contents []byte) []byte {
			var buf bytes.Buffer
			cw := cpio.NewWriter(&buf)
			Expect(cw.WriteHeader(&cpio.Header{
				Name: name,
				Mode: 0o100000 | 0o644,
				Size: int64(len(contents)),
			})).To(Succeed())
			_, err := cw.Write(contents)
			Expect(err).NotTo(HaveOccurred())
			Expect(cw.Close()).To(Succeed())
			return buf.Bytes()
		}

		combined := append([]byte{}, raw("a", []byte("A"))...)
		combined = append(combined, make([]byte, 13)...)
		combined = append(combined, raw("b", []byte("B"))...)

		decoded, err := initrd.FromReader(bytes.NewReader(combined), initrd.MatchAll)
		Expect(err).NotTo(HaveOccurred())

		a, ok := decoded.Get("a")
		Expect(ok).To(BeTrue())
		Expect(a).To(Equal([]byte("A")))
		b, ok := decoded.Get("b")
		Expect(ok).To(BeTrue())
		Expect(b).To(Equal([]byte("B")))
	})

	It("filters entries by glob", func() {
		in := initrd.New()
		in.Add("config.ign", []byte("ign"))
		in.Add("etc/coreos-firstboot-network/eth0", []byte("net"))
		encoded, err := in.ToBytes()
		Expect(err).NotTo(HaveOccurred())

		decoded, err := initrd.FromReader(bytes.NewReader(encoded), initrd.MatchGlobs("config.ign"))
		Expect(err).NotTo(HaveOccurred())

		_, ok := decoded.Get("config.ign")
		Expect(ok).To(BeTrue())
		_, ok = decoded.Get("etc/coreos-firstboot-network/eth0")
		Expect(ok).To(BeFalse())
	})
})
