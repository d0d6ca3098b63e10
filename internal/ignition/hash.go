// Package ignition implements the integrity-hash check applied to a
// downloaded Ignition config before it is embedded into an install.
package ignition

import (
	"bytes"
	"crypto/sha512"
	"encoding/hex"
	"hash"
	"io"
	"strings"

	"github.com/pkg/errors"
)

// Hash is a parsed "<algo>-<hex>" integrity string. Only sha512 is
// supported today.
type Hash struct {
	algo   string
	digest []byte
}

const sha512HexLen = sha512.Size * 2

// TryParse validates s is "sha512-<128 hex chars>" and returns the parsed
// Hash.
func TryParse(s string) (Hash, error) {
	algo, hexDigest, ok := strings.Cut(s, "-")
	if !ok {
		return Hash{}, errors.Errorf("invalid hash format %q, expected <algo>-<hex>", s)
	}
	if algo != "sha512" {
		return Hash{}, errors.Errorf("unsupported hash algorithm %q", algo)
	}
	if len(hexDigest) != sha512HexLen {
		return Hash{}, errors.Errorf("invalid sha512 digest length %d, expected %d", len(hexDigest), sha512HexLen)
	}
	digest, err := hex.DecodeString(hexDigest)
	if err != nil {
		return Hash{}, errors.Wrap(err, "decoding hash hex digest")
	}
	return Hash{algo: algo, digest: digest}, nil
}

func (h Hash) newHasher() hash.Hash {
	return sha512.New()
}

// Validate streams r through the hash's algorithm and compares the result
// against the parsed digest.
func (h Hash) Validate(r io.Reader) error {
	hasher := h.newHasher()
	if _, err := io.Copy(hasher, r); err != nil {
		return errors.Wrap(err, "hashing Ignition config")
	}
	computed := hasher.Sum(nil)
	if !bytes.Equal(computed, h.digest) {
		return errors.Errorf("hash mismatch, computed '%s' but expected '%s'",
			hex.EncodeToString(computed), hex.EncodeToString(h.digest))
	}
	return nil
}

// String renders the hash back to "<algo>-<hex>" form.
func (h Hash) String() string {
	return h.algo + "-" + hex.EncodeToString(h.digest)
}
