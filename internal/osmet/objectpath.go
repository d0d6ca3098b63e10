package osmet

import (
	"encoding/hex"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// ObjectPathToChecksum derives an object's Sha256Digest from its path under
// an OSTree object store: "objects/ab/cdef....file" -> 0xabcdef...
func ObjectPathToChecksum(path string) (Sha256Digest, error) {
	var digest Sha256Digest

	dir, base := filepath.Split(path)
	chksum2 := filepath.Base(filepath.Clean(dir))
	chksum62 := strings.TrimSuffix(base, filepath.Ext(base))

	if len(chksum2) != 2 || len(chksum62) != 62 {
		return digest, errors.Errorf("malformed object path %q", path)
	}

	full := chksum2 + chksum62
	raw, err := hex.DecodeString(full)
	if err != nil {
		return digest, errors.Wrapf(err, "decoding object path %q", path)
	}
	copy(digest[:], raw)
	return digest, nil
}

// ChecksumToObjectPath renders the object-store-relative path for digest,
// e.g. "ab/cdef....file".
func ChecksumToObjectPath(digest Sha256Digest) string {
	hexStr := hex.EncodeToString(digest[:])
	return hexStr[:2] + "/" + hexStr[2:] + ".file"
}
