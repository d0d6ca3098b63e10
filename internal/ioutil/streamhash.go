package ioutil

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// MaxStreamHashChunkSize bounds the per-chunk size a stream-hash header may
// declare, guarding against an absurd in-memory buffer allocation.
const MaxStreamHashChunkSize = 64 * 1024 * 1024

var streamHashHeaderRE = regexp.MustCompile(`^stream-hash ([a-z0-9]+) ([0-9]+)\n$`)

// DoStreamHash copies input to output in chunkSize-sized pieces, verifying
// each chunk's SHA-256 digest against the expected digest list read from
// hashFile before writing that chunk onward. No chunk is written to output
// until it has verified, so a downstream consumer of output never observes
// unverified bytes.
//
// hashFile is a small text protocol: a header line "stream-hash sha256
// <chunk-size>\n" followed by one hex-encoded digest per line, one per
// chunk, in order. Every chunk is exactly chunk-size bytes except the last,
// which may be shorter.
func DoStreamHash(hashFile, input io.Reader, output io.Writer) error {
	hf := bufio.NewReader(hashFile)

	line, err := hf.ReadString('\n')
	if err != nil && line == "" {
		if err == io.EOF {
			return errors.New("hash file is empty")
		}
		return errors.Wrap(err, "reading hash file")
	}
	if !strings.HasSuffix(line, "\n") {
		line += "\n"
	}
	m := streamHashHeaderRE.FindStringSubmatch(line)
	if m == nil {
		return errors.New("couldn't parse hash file header")
	}
	algo := m[1]
	if algo != "sha256" {
		return errors.Errorf("unknown digest algorithm %s", algo)
	}
	chunkSize, err := strconv.Atoi(m[2])
	if err != nil {
		return errors.Wrap(err, "couldn't parse chunk size")
	}
	if chunkSize == 0 {
		return errors.New("chunk size cannot be zero")
	}
	if chunkSize > MaxStreamHashChunkSize {
		return errors.Errorf("chunk size %d is greater than maximum %d", chunkSize, MaxStreamHashChunkSize)
	}

	buf := make([]byte, chunkSize)
	var offset int64

	for {
		hashLine, rerr := hf.ReadString('\n')
		trimmed := trimNewline(hashLine)
		if trimmed == "" {
			if rerr == io.EOF {
				break
			}
			if rerr != nil {
				return errors.Wrap(rerr, "couldn't read hash from hash file")
			}
			continue
		}
		expected, decErr := hex.DecodeString(trimmed)
		if decErr != nil {
			return errors.Errorf("couldn't decode hash: %q", trimmed)
		}

		count, readErr := readFull(input, buf)
		if readErr != nil {
			return errors.Wrap(readErr, "reading input")
		}
		if count == 0 {
			return errors.Errorf("premature end of input data at offset %d", offset)
		}

		data := buf[:count]
		sum := sha256.Sum256(data)
		if !bytes.Equal(sum[:], expected) {
			return errors.Errorf("hash mismatch at offset %d; expected %s, found %s", offset, hex.EncodeToString(expected), hex.EncodeToString(sum[:]))
		}

		if _, err := output.Write(data); err != nil {
			return errors.Wrap(err, "writing output")
		}
		offset += int64(len(data))

		if rerr == io.EOF {
			break
		}
	}

	var probe [1]byte
	n, err := input.Read(probe[:])
	if err != nil && err != io.EOF {
		return errors.Wrap(err, "draining input")
	}
	if n != 0 {
		return errors.Errorf("found extra input data at offset %d", offset)
	}
	return nil
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

// readFull reads until buf is full or the source returns EOF, matching the
// original's "read in a loop until Ok(0)" chunk-fill behavior.
func readFull(r io.Reader, buf []byte) (int, error) {
	var count int
	for count < len(buf) {
		n, err := r.Read(buf[count:])
		count += n
		if err != nil {
			if err == io.EOF {
				return count, nil
			}
			return count, err
		}
		if n == 0 {
			return count, nil
		}
	}
	return count, nil
}
