package iso9660_test

import (
	"bytes"
	"encoding/binary"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/coreos/coreos-installer-go/internal/iso9660"
)

const sectorSize = 2048

func putLBA(buf []byte, off int, v uint32) {
	binary.LittleEndian.PutUint32(buf[off:], v)
	binary.BigEndian.PutUint32(buf[off+4:], v)
}

func putSize(buf []byte, off int, v uint32) {
	binary.LittleEndian.PutUint32(buf[off:], v)
	binary.BigEndian.PutUint32(buf[off+4:], v)
}

func dirRecord(name string, lba, size uint32, isDir bool) []byte {
	nameBytes := []byte(name)
	length := 33 + len(nameBytes)
	if length%2 != 0 {
		length++
	}
	rec := make([]byte, length)
	rec[0] = byte(length)
	putLBA(rec, 2, lba)
	putSize(rec, 10, size)
	if isDir {
		rec[25] = 2
	}
	rec[32] = byte(len(nameBytes))
	copy(rec[33:], nameBytes)
	return rec
}

// buildTestISO assembles a minimal single-level ISO image: a root directory
// at sector 18 containing "." / ".." and one file HELLO.TXT;1 at sector 19.
func buildTestISO(fileContents []byte) []byte {
	const (
		pvdSector  = 16
		termSector = 17
		rootSector = 18
		fileSector = 19
	)

	// root directory content
	var rootDir bytes.Buffer
	rootDir.Write(dirRecord("\x00", rootSector, 0, true))
	rootDir.Write(dirRecord("\x01", rootSector, 0, true))
	rootDir.Write(dirRecord("HELLO.TXT;1", fileSector, uint32(len(fileContents)), false))
	rootDirLen := uint32(rootDir.Len())

	pvd := make([]byte, sectorSize)
	pvd[0] = 1
	copy(pvd[1:6], "CD001")
	pvd[6] = 1
	rootRec := dirRecord("\x00", rootSector, rootDirLen, true)
	copy(pvd[156:], rootRec)

	term := make([]byte, sectorSize)
	term[0] = 255
	copy(term[1:6], "CD001")
	term[6] = 1

	totalSectors := fileSector + 1
	if extra := (len(fileContents) + sectorSize - 1) / sectorSize; extra > 1 {
		totalSectors = fileSector + extra
	}
	image := make([]byte, totalSectors*sectorSize)
	copy(image[pvdSector*sectorSize:], pvd)
	copy(image[termSector*sectorSize:], term)
	rootDirPadded := make([]byte, sectorSize)
	copy(rootDirPadded, rootDir.Bytes())
	copy(image[rootSector*sectorSize:], rootDirPadded)
	copy(image[fileSector*sectorSize:], fileContents)

	return image
}

var _ = Describe("Open and GetPath", func() {
	It("reads back a file's contents by path", func() {
		contents := []byte("hello iso world")
		image := buildTestISO(contents)

		fs, err := iso9660.Open(bytes.NewReader(image))
		Expect(err).NotTo(HaveOccurred())

		entry, err := fs.GetPath("HELLO.TXT")
		Expect(err).NotTo(HaveOccurred())
		Expect(entry.IsDir).To(BeFalse())

		f, err := entry.AsFile()
		Expect(err).NotTo(HaveOccurred())

		got := make([]byte, f.Length)
		_, err = fs.ReadFile(f).Read(got)
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(Equal(contents))
	})

	It("errors for a missing path", func() {
		image := buildTestISO([]byte("x"))
		fs, err := iso9660.Open(bytes.NewReader(image))
		Expect(err).NotTo(HaveOccurred())

		_, err = fs.GetPath("NOPE.TXT")
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("ListDir", func() {
	It("skips the '.' and '..' entries", func() {
		image := buildTestISO([]byte("x"))
		fs, err := iso9660.Open(bytes.NewReader(image))
		Expect(err).NotTo(HaveOccurred())

		entries, err := fs.ListDir(fs.Root())
		Expect(err).NotTo(HaveOccurred())
		Expect(entries).To(HaveLen(1))
		Expect(entries[0].Name).To(Equal("HELLO.TXT"))
	})
})
