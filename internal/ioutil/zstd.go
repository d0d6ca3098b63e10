package ioutil

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// zstdFrameReader serves the bytes of a maximal run of consecutive zstd
// frames (data frames and skippable frames) from a PeekReader, reporting EOF
// as soon as the next bytes are not a zstd magic. It parses frame and block
// headers itself, only ever reading bytes it has proven belong to the
// current frame, so the consuming decoder can buffer freely without
// disturbing the underlying reader's position past the end of the run.
type zstdFrameReader struct {
	src *PeekReader

	// pending holds header bytes already consumed from src but not yet
	// delivered downstream.
	pending []byte
	// remaining counts content bytes left in the current block (or
	// skippable frame) that can be passed through without parsing.
	remaining uint64
	// inFrame is true while inside a data frame's block sequence.
	inFrame bool
	// lastBlock is true once the current block is the frame's final one.
	lastBlock bool
	// hasChecksum is true if the current data frame ends with a 4-byte
	// content checksum.
	hasChecksum bool
}

func newZstdFrameReader(src *PeekReader) *zstdFrameReader {
	return &zstdFrameReader{src: src}
}

func (z *zstdFrameReader) Read(p []byte) (int, error) {
	for {
		if len(z.pending) > 0 {
			n := copy(p, z.pending)
			z.pending = z.pending[n:]
			return n, nil
		}
		if z.remaining > 0 {
			max := uint64(len(p))
			if max > z.remaining {
				max = z.remaining
			}
			n, err := z.src.Read(p[:max])
			z.remaining -= uint64(n)
			if err == io.EOF && z.remaining > 0 {
				return n, io.ErrUnexpectedEOF
			}
			if n > 0 || err != nil {
				return n, err
			}
			continue
		}
		if err := z.advance(); err != nil {
			return 0, err
		}
	}
}

// advance moves the parser to the next block or frame, filling pending and
// remaining. It returns io.EOF at a frame boundary whose next bytes are not
// a zstd magic.
func (z *zstdFrameReader) advance() error {
	if z.inFrame {
		if z.lastBlock {
			// frame finished; optionally pass through the checksum
			z.inFrame = false
			z.lastBlock = false
			if z.hasChecksum {
				z.hasChecksum = false
				return z.consume(4)
			}
			return nil
		}
		return z.parseBlockHeader()
	}

	head, err := z.src.Peek(4)
	if err != nil {
		return err
	}
	if len(head) == 0 {
		return io.EOF
	}
	switch {
	case len(head) == 4 && string(head) == string(zstdMagic):
		return z.parseFrameHeader()
	case isSkippableZstdMagic(head):
		return z.parseSkippableFrame()
	default:
		return io.EOF
	}
}

// consume moves exactly n bytes from src into pending.
func (z *zstdFrameReader) consume(n int) error {
	buf := make([]byte, n)
	if _, err := io.ReadFull(z.src, buf); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return errors.Wrap(err, "reading zstd frame header")
	}
	z.pending = append(z.pending, buf...)
	return nil
}

func (z *zstdFrameReader) parseSkippableFrame() error {
	if err := z.consume(8); err != nil {
		return err
	}
	z.remaining = uint64(binary.LittleEndian.Uint32(z.pending[len(z.pending)-4:]))
	return nil
}

func (z *zstdFrameReader) parseFrameHeader() error {
	// magic + frame header descriptor
	if err := z.consume(5); err != nil {
		return err
	}
	desc := z.pending[len(z.pending)-1]

	singleSegment := desc&0x20 != 0
	z.hasChecksum = desc&0x04 != 0

	extra := 0
	if !singleSegment {
		extra++ // window descriptor
	}
	switch desc & 0x03 { // dictionary ID field size
	case 1:
		extra++
	case 2:
		extra += 2
	case 3:
		extra += 4
	}
	switch desc >> 6 { // frame content size field
	case 0:
		if singleSegment {
			extra++
		}
	case 1:
		extra += 2
	case 2:
		extra += 4
	case 3:
		extra += 8
	}
	if extra > 0 {
		if err := z.consume(extra); err != nil {
			return err
		}
	}

	z.inFrame = true
	z.lastBlock = false
	return nil
}

func (z *zstdFrameReader) parseBlockHeader() error {
	if err := z.consume(3); err != nil {
		return err
	}
	hdr := z.pending[len(z.pending)-3:]
	raw := uint32(hdr[0]) | uint32(hdr[1])<<8 | uint32(hdr[2])<<16

	z.lastBlock = raw&1 != 0
	blockType := (raw >> 1) & 3
	size := uint64(raw >> 3)

	switch blockType {
	case 0: // raw
		z.remaining = size
	case 1: // RLE: one byte of content, repeated "size" times when decoded
		z.remaining = 1
	case 2: // compressed
		z.remaining = size
	default:
		return errors.New("reserved zstd block type")
	}
	return nil
}
