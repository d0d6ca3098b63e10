package osmet_test

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/coreos/coreos-installer-go/internal/osmet"
)

// Ported from original_source/src/osmet/mod.rs test_canonicalize.
var _ = Describe("Canonicalize", func() {
	It("leaves a single mapping untouched", func() {
		mappings := []osmet.Mapping{
			{Extent: osmet.Extent{Logical: 100, Physical: 100, Length: 50}},
		}
		canon, dropped, clamped := osmet.Canonicalize(mappings)
		Expect(canon).To(HaveLen(1))
		Expect(canon[0].Extent).To(Equal(osmet.Extent{Logical: 100, Physical: 100, Length: 50}))
		Expect(dropped).To(Equal(0))
		Expect(clamped).To(Equal(0))
	})

	It("drops mappings wholly contained within a previous one", func() {
		mappings := []osmet.Mapping{
			{Extent: osmet.Extent{Logical: 100, Physical: 100, Length: 50}},
			{Extent: osmet.Extent{Logical: 100, Physical: 100, Length: 10}},
			{Extent: osmet.Extent{Logical: 110, Physical: 110, Length: 10}},
			{Extent: osmet.Extent{Logical: 140, Physical: 140, Length: 10}},
		}
		canon, _, _ := osmet.Canonicalize(mappings)
		Expect(canon).To(HaveLen(1))
		Expect(canon[0].Extent).To(Equal(osmet.Extent{Logical: 100, Physical: 100, Length: 50}))
	})

	It("clamps mappings that overlap the tail of the previous one", func() {
		mappings := []osmet.Mapping{
			{Extent: osmet.Extent{Logical: 100, Physical: 100, Length: 50}},
			{Extent: osmet.Extent{Logical: 100, Physical: 100, Length: 10}},
			{Extent: osmet.Extent{Logical: 110, Physical: 110, Length: 10}},
			{Extent: osmet.Extent{Logical: 140, Physical: 140, Length: 10}},
			{Extent: osmet.Extent{Logical: 140, Physical: 140, Length: 20}},
			{Extent: osmet.Extent{Logical: 150, Physical: 150, Length: 20}},
		}
		canon, _, _ := osmet.Canonicalize(mappings)
		Expect(canon).To(HaveLen(3))
		Expect(canon[0].Extent).To(Equal(osmet.Extent{Logical: 100, Physical: 100, Length: 50}))
		Expect(canon[1].Extent).To(Equal(osmet.Extent{Logical: 150, Physical: 150, Length: 10}))
		Expect(canon[2].Extent).To(Equal(osmet.Extent{Logical: 160, Physical: 160, Length: 10}))
	})

	It("returns nothing for an empty input", func() {
		canon, dropped, clamped := osmet.Canonicalize(nil)
		Expect(canon).To(BeEmpty())
		Expect(dropped).To(Equal(0))
		Expect(clamped).To(Equal(0))
	})
})
