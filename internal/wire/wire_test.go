package wire_test

import (
	"bytes"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/coreos/coreos-installer-go/internal/wire"
)

var _ = Describe("Writer and Reader", func() {
	It("round-trips a mix of fixed and length-prefixed fields", func() {
		var buf bytes.Buffer
		w := wire.NewWriter(&buf)
		w.Bytes([]byte("MAGIC123"))
		w.U32(1)
		w.String("1.0.0")
		w.U64(4096)
		w.ByteSlice([]byte{1, 2, 3, 4})
		Expect(w.Err()).NotTo(HaveOccurred())

		r := wire.NewReader(&buf)
		magic := r.Bytes(8)
		version := r.U32()
		appVersion := r.String(1024)
		sectorSize := r.U64()
		payload := r.ByteSlice(1024)
		Expect(r.Err()).NotTo(HaveOccurred())

		Expect(string(magic)).To(Equal("MAGIC123"))
		Expect(version).To(Equal(uint32(1)))
		Expect(appVersion).To(Equal("1.0.0"))
		Expect(sectorSize).To(Equal(uint64(4096)))
		Expect(payload).To(Equal([]byte{1, 2, 3, 4}))
	})

	It("rejects an oversized length prefix", func() {
		var buf bytes.Buffer
		w := wire.NewWriter(&buf)
		w.ByteSlice(make([]byte, 100))

		r := wire.NewReader(&buf)
		r.ByteSlice(10)
		Expect(r.Err()).To(HaveOccurred())
	})
})
