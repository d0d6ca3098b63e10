package isoembed

import (
	"encoding/binary"
	"encoding/json"
	"io"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/coreos/coreos-installer-go/internal/iso9660"
)

const (
	kargEmbedInfoPath           = "COREOS/KARGS.JSO"
	kargEmbedHeaderMagic        = "coreKarg"
	kargEmbedHeaderSize         = 72
	kargEmbedHeaderMaxOffsets   = 6
	kargEmbedAreaMaxSize        = 2048
	systemAreaLength            = 32768
	initrdLegacyHeaderSize      = 24
	kargEmbedLegacyHeaderOffset = systemAreaLength - initrdLegacyHeaderSize - kargEmbedHeaderSize
)

// KargEmbedAreas is the default kargs region plus its 1-6 byte-identical
// mirror regions, discovered either via a JSON descriptor (modern images) or
// a fixed-offset legacy binary header in the System Area (older images).
type KargEmbedAreas struct {
	Length  int
	Default string
	Regions []*Region
	args    string
}

type kargEmbedInfo struct {
	Default string              `json:"default"`
	Files   []kargEmbedLocation `json:"files"`
	Size    int                 `json:"size"`
}

type kargEmbedLocation struct {
	Path   string `json:"path"`
	Offset uint64 `json:"offset"`
}

// LoadKargEmbedAreas returns nil, nil if the image supports neither
// discovery mechanism (old or corrupted CoreOS ISO image).
func LoadKargEmbedAreas(r io.ReaderAt, iso *iso9660.IsoFs) (*KargEmbedAreas, error) {
	info, found, err := readKargEmbedInfo(r, iso)
	if err != nil {
		return nil, err
	}
	if found {
		return kargAreasFromInfo(r, iso, info)
	}
	return kargAreasFromSystemArea(r)
}

func readKargEmbedInfo(r io.ReaderAt, iso *iso9660.IsoFs) (kargEmbedInfo, bool, error) {
	entry, err := iso.GetPath(kargEmbedInfoPath)
	if errors.Is(err, iso9660.NotFound) {
		return kargEmbedInfo{}, false, nil
	}
	if err != nil {
		return kargEmbedInfo{}, false, errors.Wrap(err, "looking up kargs embed area info")
	}
	f, err := entry.AsFile()
	if err != nil {
		return kargEmbedInfo{}, false, err
	}
	data, err := io.ReadAll(iso.ReadFile(f))
	if err != nil {
		return kargEmbedInfo{}, false, errors.Wrap(err, "reading kargs embed area info")
	}
	var info kargEmbedInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return kargEmbedInfo{}, false, errors.Wrap(err, "decoding kargs embed area info")
	}
	return info, true, nil
}

func kargAreasFromInfo(r io.ReaderAt, iso *iso9660.IsoFs, info kargEmbedInfo) (*KargEmbedAreas, error) {
	if info.Size > kargEmbedAreaMaxSize {
		return nil, errors.Errorf("karg embed area size larger than %d (found %d)", kargEmbedAreaMaxSize, info.Size)
	}
	if len(info.Default) > info.Size {
		return nil, errors.Errorf("default kargs size %d larger than embed areas (%d)", len(info.Default), info.Size)
	}

	var regions []*Region
	for _, loc := range info.Files {
		entry, err := iso.GetPath(strings.ToUpper(loc.Path))
		if err != nil {
			return nil, errors.Wrapf(err, "looking up %q", loc.Path)
		}
		f, err := entry.AsFile()
		if err != nil {
			return nil, err
		}
		region, err := ReadRegion(r, f.Offset()+int64(loc.Offset), info.Size)
		if err != nil {
			return nil, errors.Wrap(err, "reading kargs embed area")
		}
		regions = append(regions, region)
	}
	sort.Slice(regions, func(i, j int) bool { return regions[i].Offset < regions[j].Offset })

	return buildKargEmbedAreas(info.Size, info.Default, regions)
}

func kargAreasFromSystemArea(r io.ReaderAt) (*KargEmbedAreas, error) {
	header, err := ReadRegion(r, kargEmbedLegacyHeaderOffset, kargEmbedHeaderSize)
	if err != nil {
		return nil, errors.Wrap(err, "reading karg embed header")
	}
	buf := header.Contents
	if string(buf[:8]) != kargEmbedHeaderMagic {
		return nil, nil
	}
	length := int(binary.LittleEndian.Uint64(buf[8:16]))
	if length > kargEmbedAreaMaxSize {
		return nil, errors.Errorf("karg embed area length larger than %d (found %d)", kargEmbedAreaMaxSize, length)
	}

	defaultOffset := binary.LittleEndian.Uint64(buf[16:24])
	defaultRegion, err := ReadRegion(r, int64(defaultOffset), length)
	if err != nil {
		return nil, errors.Wrap(err, "reading default kargs")
	}
	defaultArgs, err := parseKargRegion(defaultRegion)
	if err != nil {
		return nil, err
	}

	var regions []*Region
	for i := 0; i < kargEmbedHeaderMaxOffsets; i++ {
		off := binary.LittleEndian.Uint64(buf[24+8*i : 32+8*i])
		if off == 0 {
			break
		}
		region, err := ReadRegion(r, int64(off), length)
		if err != nil {
			return nil, errors.Wrap(err, "reading kargs embed area")
		}
		regions = append(regions, region)
	}

	return buildKargEmbedAreas(length, defaultArgs, regions)
}

func buildKargEmbedAreas(length int, defaultArgs string, regions []*Region) (*KargEmbedAreas, error) {
	if len(regions) == 0 {
		return nil, errors.New("no karg embed areas found; corrupted CoreOS ISO image")
	}
	args, err := parseKargRegion(regions[0])
	if err != nil {
		return nil, err
	}
	for _, region := range regions[1:] {
		current, err := parseKargRegion(region)
		if err != nil {
			return nil, err
		}
		if current != args {
			return nil, errors.Errorf("kargs don't match at all offsets! (expected %q, but offset %d has: %q)", args, region.Offset, current)
		}
	}
	return &KargEmbedAreas{Length: length, Default: defaultArgs, Regions: regions, args: args}, nil
}

func parseKargRegion(r *Region) (string, error) {
	s := string(r.Contents)
	return strings.TrimSpace(strings.TrimRight(s, "#")), nil
}

// Kargs returns the effective (trimmed) kernel argument string.
func (k *KargEmbedAreas) Kargs() string {
	return k.args
}

// SetKargs formats kargs as "<trimmed>\n" followed by '#' padding to the
// fixed region length, and marks every mirror region modified.
func (k *KargEmbedAreas) SetKargs(kargs string) error {
	unformatted := strings.TrimSpace(kargs)
	formatted := unformatted + "\n"
	if len(formatted) > k.Length {
		return errors.Errorf("kargs too large for area: %d vs %d", len(formatted), k.Length)
	}
	contents := make([]byte, k.Length)
	for i := range contents {
		contents[i] = '#'
	}
	copy(contents, formatted)
	for _, region := range k.Regions {
		region.Contents = append([]byte{}, contents...)
		region.Modified = true
	}
	k.args = unformatted
	return nil
}

// WriteInPlace rewrites every modified mirror region.
func (k *KargEmbedAreas) WriteInPlace(w io.WriteSeeker) error {
	for _, region := range k.Regions {
		if err := region.WriteInPlace(w); err != nil {
			return err
		}
	}
	return nil
}
