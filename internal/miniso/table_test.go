package miniso_test

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/coreos/coreos-installer-go/internal/iso9660"
	"github.com/coreos/coreos-installer-go/internal/miniso"
)

var _ = Describe("NewTable", func() {
	It("builds a sorted, deduplicated table from matching files", func() {
		full := map[string]iso9660.File{
			"/a.img": {Name: "a.img", Address: 10, Length: 100},
			"/b.img": {Name: "b.img", Address: 5, Length: 50},
			"/c.img": {Name: "c.img", Address: 1, Length: 0},
		}
		minimal := map[string]iso9660.File{
			"/a.img": {Name: "a.img", Address: 20, Length: 100},
			"/b.img": {Name: "b.img", Address: 8, Length: 50},
			"/c.img": {Name: "c.img", Address: 2, Length: 0},
		}
		table, extraneous, err := miniso.NewTable(full, minimal)
		Expect(err).NotTo(HaveOccurred())
		Expect(extraneous).To(Equal(1)) // the zero-length entry
		Expect(table.Entries).To(HaveLen(2))
		Expect(table.Entries[0].Minimal.Address).To(Equal(uint32(8)))
		Expect(table.Entries[1].Minimal.Address).To(Equal(uint32(20)))
	})

	It("rejects a minimal file absent from the full ISO", func() {
		minimal := map[string]iso9660.File{"/only-minimal.img": {Address: 1, Length: 10}}
		_, _, err := miniso.NewTable(map[string]iso9660.File{}, minimal)
		Expect(err).To(HaveOccurred())
	})

	It("rejects a length mismatch between full and minimal", func() {
		full := map[string]iso9660.File{"/a.img": {Address: 1, Length: 10}}
		minimal := map[string]iso9660.File{"/a.img": {Address: 1, Length: 20}}
		_, _, err := miniso.NewTable(full, minimal)
		Expect(err).To(HaveOccurred())
	})

	It("rejects an empty result", func() {
		_, _, err := miniso.NewTable(map[string]iso9660.File{}, map[string]iso9660.File{})
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("Table.Validate", func() {
	It("rejects overlapping minimal-side ranges", func() {
		table := miniso.Table{Entries: []miniso.TableEntry{
			{Minimal: iso9660.File{Address: 0, Length: 3000}, Length: 3000},
			{Minimal: iso9660.File{Address: 1, Length: 100}, Length: 100},
		}}
		Expect(table.Validate()).To(HaveOccurred())
	})

	It("accepts adjacent, non-overlapping ranges", func() {
		table := miniso.Table{Entries: []miniso.TableEntry{
			{Minimal: iso9660.File{Address: 0, Length: 2048}, Length: 2048},
			{Minimal: iso9660.File{Address: 1, Length: 100}, Length: 100},
		}}
		Expect(table.Validate()).To(Succeed())
	})
})
