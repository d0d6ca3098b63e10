package kargs_test

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/coreos/coreos-installer-go/internal/kargs"
)

var _ = Describe("Editor.ApplyTo", func() {
	It("only trims when the editor is empty", func() {
		got, err := kargs.New().ApplyTo("  console=ttyS0 quiet  ")
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(Equal("console=ttyS0 quiet"))
	})

	It("leaves an appended-then-deleted term absent, as two separate passes", func() {
		// Within a single Editor, deletes run before appends, so
		// Append("foo").Delete("foo") would add "foo", not remove it; the
		// inverse pair has to be two sequential ApplyTo calls.
		appended, err := kargs.New().Append("foo").ApplyTo("console=ttyS0")
		Expect(err).NotTo(HaveOccurred())
		Expect(appended).To(Equal("console=ttyS0 foo"))

		deleted, err := kargs.New().Delete("foo").ApplyTo(appended)
		Expect(err).NotTo(HaveOccurred())
		Expect(deleted).To(Equal("console=ttyS0"))
	})

	It("round-trips a replace and its inverse", func() {
		forward := kargs.New().Replace("key=A=B")
		got, err := forward.ApplyTo("key=A other=1")
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(Equal("key=B other=1"))

		backward := kargs.New().Replace("key=B=A")
		got, err = backward.ApplyTo(got)
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(Equal("key=A other=1"))
	})

	It("rejects a malformed replace term", func() {
		e := kargs.New().Replace("not-a-triple")
		_, err := e.ApplyTo("console=ttyS0")
		Expect(err).To(HaveOccurred())
	})

	It("skips append-if-missing when the term is already present", func() {
		e := kargs.New().AppendIfMissing("quiet")
		got, err := e.ApplyTo("quiet console=ttyS0")
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(Equal("quiet console=ttyS0"))
	})
})

var _ = Describe("Editor.MaybeApplyTo", func() {
	It("reports no-op for an empty editor", func() {
		_, applied, err := kargs.New().MaybeApplyTo("console=ttyS0")
		Expect(err).NotTo(HaveOccurred())
		Expect(applied).To(BeFalse())
	})

	It("applies edits for a non-empty editor", func() {
		got, applied, err := kargs.New().Append("quiet").MaybeApplyTo("console=ttyS0")
		Expect(err).NotTo(HaveOccurred())
		Expect(applied).To(BeTrue())
		Expect(got).To(Equal("console=ttyS0 quiet"))
	})
})
