// Package isotest builds tiny, hand-assembled ISO 9660 images in memory for
// exercising the iso9660 and isoembed packages without depending on
// go-diskfs or an external mkisofs/genisoimage binary.
package isotest

import (
	"bytes"
	"encoding/binary"
)

const SectorSize = 2048

// FileSpec is one regular file to place inside a directory.
type FileSpec struct {
	Name     string
	Contents []byte
}

// DirSpec is one top-level directory (directly under root) and its files.
type DirSpec struct {
	Name  string
	Files []FileSpec
}

// FileLocation records where a built file ended up, for tests that need to
// assert on exact offsets.
type FileLocation struct {
	Offset int64
	Length int
}

type plannedFile struct {
	name     string
	lba      uint32
	length   uint32
	contents []byte
}

type plannedDir struct {
	name  string
	lba   uint32
	files []plannedFile
}

// Build assembles a two-level ISO image (root -> named directories -> files)
// and returns the raw image bytes plus a lookup of "DIR/NAME" -> location.
func Build(dirs []DirSpec) ([]byte, map[string]FileLocation) {
	const (
		pvdSector  = 16
		termSector = 17
		rootSector = 18
	)

	sector := uint32(19)
	var planned []plannedDir
	for _, d := range dirs {
		dirLBA := sector
		sector++
		var files []plannedFile
		for _, f := range d.Files {
			fLBA := sector
			sectors := (len(f.Contents) + SectorSize - 1) / SectorSize
			if sectors == 0 {
				sectors = 1
			}
			sector += uint32(sectors)
			files = append(files, plannedFile{name: f.Name, lba: fLBA, length: uint32(len(f.Contents)), contents: f.Contents})
		}
		planned = append(planned, plannedDir{name: d.Name, lba: dirLBA, files: files})
	}

	totalSectors := int(sector)
	image := make([]byte, totalSectors*SectorSize)

	pvd := make([]byte, SectorSize)
	pvd[0] = 1
	copy(pvd[1:6], "CD001")
	pvd[6] = 1

	var rootContent bytes.Buffer
	rootContent.Write(dirRecord("\x00", rootSector, 0, true))
	rootContent.Write(dirRecord("\x01", rootSector, 0, true))
	for _, d := range planned {
		rootContent.Write(dirRecord(d.name, d.lba, uint32(dirContentLength(d.files)), true))
	}
	rootRec := dirRecord("\x00", rootSector, uint32(rootContent.Len()), true)
	copy(pvd[156:], rootRec)
	copy(image[pvdSector*SectorSize:], pvd)

	term := make([]byte, SectorSize)
	term[0] = 255
	copy(term[1:6], "CD001")
	term[6] = 1
	copy(image[termSector*SectorSize:], term)

	copy(image[rootSector*SectorSize:], rootContent.Bytes())

	locations := map[string]FileLocation{}
	for _, d := range planned {
		var dirContent bytes.Buffer
		dirContent.Write(dirRecord("\x00", d.lba, 0, true))
		dirContent.Write(dirRecord("\x01", rootSector, 0, true))
		for _, f := range d.files {
			dirContent.Write(dirRecord(f.name, f.lba, f.length, false))
			copy(image[int64(f.lba)*SectorSize:], f.contents)
			locations[d.name+"/"+stripVersion(f.name)] = FileLocation{
				Offset: int64(f.lba) * SectorSize,
				Length: int(f.length),
			}
		}
		copy(image[int64(d.lba)*SectorSize:], dirContent.Bytes())
	}

	return image, locations
}

func dirContentLength(files []plannedFile) int {
	total := len(dirRecord("\x00", 0, 0, true)) + len(dirRecord("\x01", 0, 0, true))
	for _, f := range files {
		total += len(dirRecord(f.name, 0, 0, false))
	}
	return total
}

func stripVersion(name string) string {
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == ';' {
			return name[:i]
		}
	}
	return name
}

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
	// the record length includes the pad byte that keeps the next record
	// at an even offset
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
