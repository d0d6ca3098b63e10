package isoembed_test

import (
	"bytes"
	"encoding/json"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/coreos/coreos-installer-go/internal/initrd"
	"github.com/coreos/coreos-installer-go/internal/iso9660"
	"github.com/coreos/coreos-installer-go/internal/isoembed"
	"github.com/coreos/coreos-installer-go/internal/isotest"
)

type fakeFile struct {
	*bytes.Reader
	buf []byte
}

func newFakeFile(data []byte) *fakeFile {
	cp := append([]byte{}, data...)
	return &fakeFile{Reader: bytes.NewReader(cp), buf: cp}
}

func (f *fakeFile) ReadAt(p []byte, off int64) (int, error) {
	return f.Reader.ReadAt(p, off)
}

func (f *fakeFile) Seek(offset int64, whence int) (int64, error) {
	return f.Reader.Seek(offset, whence)
}

func (f *fakeFile) Write(p []byte) (int, error) {
	cur, _ := f.Reader.Seek(0, 1)
	need := int(cur) + len(p)
	if need > len(f.buf) {
		grown := make([]byte, need)
		copy(grown, f.buf)
		f.buf = grown
	}
	copy(f.buf[cur:], p)
	f.Reader = bytes.NewReader(f.buf)
	f.Reader.Seek(cur+int64(len(p)), 0)
	return len(p), nil
}

func buildKargISO(defaultKargs string, size int) ([]byte, map[string]isotest.FileLocation) {
	padded := func(s string) []byte {
		b := make([]byte, size)
		for i := range b {
			b[i] = '#'
		}
		copy(b, s+"\n")
		return b
	}

	descriptor := struct {
		Default string `json:"default"`
		Files   []struct {
			Path   string `json:"path"`
			Offset int    `json:"offset"`
		} `json:"files"`
		Size int `json:"size"`
	}{
		Default: defaultKargs,
		Size:    size,
	}
	descriptor.Files = append(descriptor.Files, struct {
		Path   string `json:"path"`
		Offset int    `json:"offset"`
	}{Path: "COREOS/GRUB.CFG", Offset: 0})
	descriptor.Files = append(descriptor.Files, struct {
		Path   string `json:"path"`
		Offset int    `json:"offset"`
	}{Path: "COREOS/ISOLINUX.CFG", Offset: 0})

	descriptorJSON, _ := json.Marshal(descriptor)

	in := initrd.New()
	in.Add("config.ign", []byte("{}"))
	initrdBytes, _ := in.ToBytes()
	initrdArea := make([]byte, 65536)
	copy(initrdArea, initrdBytes)

	return isotest.Build([]isotest.DirSpec{
		{Name: "IMAGES", Files: []isotest.FileSpec{
			{Name: "IGNITION.IMG;1", Contents: initrdArea},
		}},
		{Name: "COREOS", Files: []isotest.FileSpec{
			{Name: "KARGS.JSO;1", Contents: descriptorJSON},
			{Name: "GRUB.CFG;1", Contents: padded(defaultKargs)},
			{Name: "ISOLINUX.CFG;1", Contents: padded(defaultKargs)},
		}},
	})
}

var _ = Describe("IsoConfig kargs", func() {
	It("reads, edits, and streams the karg embed region", func() {
		image, _ := buildKargISO("mitigations=auto,nosmt ignition.firstboot", 256)
		file := newFakeFile(image)

		cfg, err := isoembed.Load(file)
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.KargsSupported()).To(BeTrue())

		kargs, err := cfg.Kargs()
		Expect(err).NotTo(HaveOccurred())
		Expect(kargs).To(Equal("mitigations=auto,nosmt ignition.firstboot"))

		Expect(cfg.SetKargs("console=ttyS0")).To(Succeed())

		kargs, err = cfg.Kargs()
		Expect(err).NotTo(HaveOccurred())
		Expect(kargs).To(Equal("console=ttyS0"))

		var out bytes.Buffer
		file.Seek(0, 0)
		Expect(cfg.Stream(file, &out)).To(Succeed())
		Expect(out.Len()).To(Equal(len(image)))
	})
})

var _ = Describe("Features", func() {
	It("reports the zero value for an image without a features descriptor", func() {
		image, _ := buildKargISO("quiet", 256)
		iso, err := iso9660.Open(newFakeFile(image))
		Expect(err).NotTo(HaveOccurred())

		features, err := isoembed.LoadFeatures(iso)
		Expect(err).NotTo(HaveOccurred())
		Expect(features.InstallerConfig).To(BeFalse())
		Expect(features.LiveInitrdNetwork).To(BeFalse())
	})

	It("parses a features descriptor", func() {
		image, _ := isotest.Build([]isotest.DirSpec{
			{Name: "COREOS", Files: []isotest.FileSpec{
				{Name: "FEATURES.JSO;1", Contents: []byte(`{"installer-config": true, "live-initrd-network": true}`)},
			}},
		})
		iso, err := iso9660.Open(newFakeFile(image))
		Expect(err).NotTo(HaveOccurred())

		features, err := isoembed.LoadFeatures(iso)
		Expect(err).NotTo(HaveOccurred())
		Expect(features.InstallerConfig).To(BeTrue())
		Expect(features.LiveInitrdNetwork).To(BeTrue())
	})
})

var _ = Describe("SetDefaultKargs", func() {
	It("rewrites only the default field of the kargs descriptor, preserving its length", func() {
		image, locations := buildKargISO("quiet console=ttyS0", 256)
		file := newFakeFile(image)
		iso, err := iso9660.Open(file)
		Expect(err).NotTo(HaveOccurred())

		Expect(isoembed.SetDefaultKargs(file, iso, "quiet")).To(Succeed())

		reloaded, err := isoembed.Load(file)
		Expect(err).NotTo(HaveOccurred())
		def, err := reloaded.KargsDefault()
		Expect(err).NotTo(HaveOccurred())
		Expect(def).To(Equal("quiet"))

		loc := locations["COREOS/KARGS.JSO"]
		region := file.buf[loc.Offset : loc.Offset+int64(loc.Length)]
		var decoded map[string]interface{}
		Expect(json.Unmarshal(bytes.TrimRight(region, " \x00"), &decoded)).To(Succeed())
		Expect(decoded["default"]).To(Equal("quiet"))
	})
})

var _ = Describe("Miniso data file", func() {
	It("round-trips a payload through the reserved file", func() {
		image, _ := isotest.Build([]isotest.DirSpec{
			{Name: "COREOS", Files: []isotest.FileSpec{
				{Name: "MINISO.DAT;1", Contents: make([]byte, 4096)},
			}},
		})
		file := newFakeFile(image)
		iso, err := iso9660.Open(file)
		Expect(err).NotTo(HaveOccurred())

		payload := []byte("serialized miniso delta")
		Expect(isoembed.WriteMinisoData(file, iso, payload)).To(Succeed())

		got, err := isoembed.ReadMinisoData(file, iso)
		Expect(err).NotTo(HaveOccurred())
		Expect(got[:len(payload)]).To(Equal(payload))
		Expect(got).To(HaveLen(4096))
	})

	It("rejects a payload larger than the reserved file", func() {
		image, _ := isotest.Build([]isotest.DirSpec{
			{Name: "COREOS", Files: []isotest.FileSpec{
				{Name: "MINISO.DAT;1", Contents: make([]byte, 16)},
			}},
		})
		file := newFakeFile(image)
		iso, err := iso9660.Open(file)
		Expect(err).NotTo(HaveOccurred())

		Expect(isoembed.WriteMinisoData(file, iso, make([]byte, 17))).NotTo(Succeed())
	})
})

var _ = Describe("IsoConfig initrd", func() {
	It("reads and rewrites the initrd embed region in place", func() {
		image, _ := buildKargISO("default kargs", 256)
		file := newFakeFile(image)

		cfg, err := isoembed.Load(file)
		Expect(err).NotTo(HaveOccurred())

		contents, ok := cfg.Initrd().Get("config.ign")
		Expect(ok).To(BeTrue())
		Expect(string(contents)).To(Equal("{}"))

		cfg.InitrdMut().Add("config.ign", []byte(`{"version":"1"}`))
		Expect(cfg.WriteInPlace(file)).To(Succeed())

		reloaded, err := isoembed.Load(file)
		Expect(err).NotTo(HaveOccurred())

		contents, ok = reloaded.Initrd().Get("config.ign")
		Expect(ok).To(BeTrue())
		Expect(string(contents)).To(Equal(`{"version":"1"}`))
	})
})
