package osmet_test

import (
	"bytes"
	"crypto/sha256"
	"io"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/coreos/coreos-installer-go/internal/ioutil"
	"github.com/coreos/coreos-installer-go/internal/osmet"
)

// writeObject stores content in repoDir/objects/<object path for digest>.
func writeObject(repoDir string, content []byte) osmet.Sha256Digest {
	digest := sha256.Sum256(content)
	objPath := filepath.Join(repoDir, "objects", osmet.ChecksumToObjectPath(digest))
	Expect(os.MkdirAll(filepath.Dir(objPath), 0o755)).To(Succeed())
	Expect(os.WriteFile(objPath, content, 0o644)).To(Succeed())
	return digest
}

var _ = Describe("pack/unpack round trip", func() {
	It("reconstructs a disk image from a packed residual plus object store", func() {
		repoDir, err := os.MkdirTemp("", "osmet-repo-")
		Expect(err).NotTo(HaveOccurred())
		defer os.RemoveAll(repoDir)

		// A tiny synthetic "disk": a 10-byte header, a 20-byte mapped region,
		// and a 10-byte trailer.
		mappedContent := []byte("0123456789ABCDEFGHIJ")
		digest := writeObject(repoDir, mappedContent)

		var disk bytes.Buffer
		disk.WriteString("HEADER0123") // 10 bytes, unmapped
		disk.Write(mappedContent)      // 20 bytes, mapped
		disk.WriteString("TRAILER000") // 10 bytes, unmapped
		full := disk.Bytes()

		partitions := []osmet.Partition{
			{
				StartOffset: 0,
				EndOffset:   uint64(len(full)),
				Mappings: []osmet.Mapping{
					{Extent: osmet.Extent{Logical: 0, Physical: 10, Length: uint64(len(mappedContent))}, Object: digest},
				},
			},
		}

		var packed bytes.Buffer
		xw, err := ioutil.NewXzWriter(&packed, ioutil.XzLevelFast)
		Expect(err).NotTo(HaveOccurred())

		skipped, err := osmet.WritePackedImage(bytes.NewReader(full), xw, partitions)
		Expect(err).NotTo(HaveOccurred())
		Expect(xw.Close()).To(Succeed())
		Expect(skipped).To(Equal(uint64(len(mappedContent))))

		checksum := sha256.Sum256(full)
		o := osmet.Osmet{Partitions: partitions, Checksum: checksum, Size: uint64(len(full))}
		Expect(osmet.Validate(&o)).To(Succeed())

		xr, err := ioutil.NewXzReader(bytes.NewReader(packed.Bytes()))
		Expect(err).NotTo(HaveOccurred())

		u := osmet.NewUnpacker(o, xr, repoDir)
		Expect(u.Length()).To(Equal(uint64(len(full))))
		reconstructed, err := io.ReadAll(u)
		Expect(err).NotTo(HaveOccurred())
		Expect(reconstructed).To(Equal(full))
	})

	It("fails when the reconstructed checksum doesn't match", func() {
		repoDir, err := os.MkdirTemp("", "osmet-repo-")
		Expect(err).NotTo(HaveOccurred())
		defer os.RemoveAll(repoDir)

		content := []byte("mismatched-object-content-000000")
		digest := writeObject(repoDir, content)

		full := append([]byte("HEADER0123"), content...)
		partitions := []osmet.Partition{
			{
				StartOffset: 0,
				EndOffset:   uint64(len(full)),
				Mappings: []osmet.Mapping{
					{Extent: osmet.Extent{Logical: 0, Physical: 10, Length: uint64(len(content))}, Object: digest},
				},
			},
		}

		var packed bytes.Buffer
		xw, err := ioutil.NewXzWriter(&packed, ioutil.XzLevelFast)
		Expect(err).NotTo(HaveOccurred())
		_, err = osmet.WritePackedImage(bytes.NewReader(full), xw, partitions)
		Expect(err).NotTo(HaveOccurred())
		Expect(xw.Close()).To(Succeed())

		var wrongChecksum osmet.Sha256Digest // all zero, deliberately wrong
		o := osmet.Osmet{Partitions: partitions, Checksum: wrongChecksum, Size: uint64(len(full))}

		xr, err := ioutil.NewXzReader(bytes.NewReader(packed.Bytes()))
		Expect(err).NotTo(HaveOccurred())
		u := osmet.NewUnpacker(o, xr, repoDir)
		_, err = io.ReadAll(u)
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("expected final checksum"))
	})
})

var _ = Describe("WriteFile/ReadFile", func() {
	It("round-trips header and metadata through a real file", func() {
		dir, err := os.MkdirTemp("", "osmet-file-")
		Expect(err).NotTo(HaveOccurred())
		defer os.RemoveAll(dir)

		partitions := []osmet.Partition{
			{StartOffset: 0, EndOffset: 100, Mappings: nil},
		}
		header := osmet.NewFileHeader(512, "Fedora CoreOS 99")
		o := osmet.Osmet{Partitions: partitions, Checksum: sha256.Sum256([]byte("hi")), Size: 100}

		var xzBody bytes.Buffer
		xw, err := ioutil.NewXzWriter(&xzBody, ioutil.XzLevelFast)
		Expect(err).NotTo(HaveOccurred())
		_, err = xw.Write([]byte("placeholder residual"))
		Expect(err).NotTo(HaveOccurred())
		Expect(xw.Close()).To(Succeed())

		path := filepath.Join(dir, "test.osmet")
		Expect(osmet.WriteFile(path, header, o, bytes.NewReader(xzBody.Bytes()))).To(Succeed())

		gotHeader, gotOsmet, _, err := osmet.ReadFile(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(gotHeader.SectorSize).To(Equal(uint32(512)))
		Expect(gotHeader.OSDescription).To(Equal("Fedora CoreOS 99"))
		Expect(gotOsmet.Size).To(Equal(uint64(100)))
		Expect(gotOsmet.Checksum).To(Equal(o.Checksum))
	})

	It("rejects a file with the wrong magic", func() {
		dir, err := os.MkdirTemp("", "osmet-file-")
		Expect(err).NotTo(HaveOccurred())
		defer os.RemoveAll(dir)

		path := filepath.Join(dir, "bogus.osmet")
		Expect(os.WriteFile(path, []byte("not an osmet file at all"), 0o644)).To(Succeed())

		_, err = osmet.ReadFileHeader(path)
		Expect(err).To(HaveOccurred())
	})
})
