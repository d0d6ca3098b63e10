package ioutil_test

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/coreos/coreos-installer-go/internal/ioutil"
)

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

var _ = Describe("DoStreamHash", func() {
	run := func(hashFile, input string) (string, error) {
		var out bytes.Buffer
		err := ioutil.DoStreamHash(strings.NewReader(hashFile), strings.NewReader(input), &out)
		return out.String(), err
	}

	It("rejects an empty hash file", func() {
		_, err := run("", "")
		Expect(err).To(MatchError(ContainSubstring("hash file is empty")))
	})

	It("rejects an unparseable header", func() {
		_, err := run("aardvark\n", "")
		Expect(err).To(MatchError(ContainSubstring("couldn't parse hash file header")))
	})

	It("rejects an unknown digest algorithm", func() {
		_, err := run("stream-hash sha255 1234\n", "")
		Expect(err).To(MatchError(ContainSubstring("unknown digest algorithm sha255")))
	})

	It("rejects a zero chunk size", func() {
		_, err := run("stream-hash sha256 0\n", "")
		Expect(err).To(MatchError(ContainSubstring("chunk size cannot be zero")))
	})

	It("rejects a chunk size over the maximum", func() {
		_, err := run("stream-hash sha256 134217728\n", "")
		Expect(err).To(MatchError(ContainSubstring("chunk size 134217728 is greater than maximum 67108864")))
	})

	It("succeeds on empty input with no hashes", func() {
		out, err := run("stream-hash sha256 8\n", "")
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(Equal(""))
	})

	It("errors on premature end of input", func() {
		h1 := sha256Hex("asdfasd\n")
		hashFile := "stream-hash sha256 8\n" + h1 + "\n" + h1 + "\n"
		_, err := run(hashFile, "asdfasd\n")
		Expect(err).To(MatchError(ContainSubstring("premature end of input data at offset 8")))
	})

	It("errors on extra trailing input data", func() {
		h1 := sha256Hex("asdfasd\n")
		hashFile := "stream-hash sha256 8\n" + h1 + "\n"
		_, err := run(hashFile, "asdfasd\nqqq")
		Expect(err).To(MatchError(ContainSubstring("found extra input data at offset 8")))
	})

	It("accepts a partial last chunk", func() {
		h1 := sha256Hex("asdfasd\n")
		h2 := sha256Hex("qwer\n")
		hashFile := "stream-hash sha256 8\n" + h1 + "\n" + h2 + "\n"
		out, err := run(hashFile, "asdfasd\nqwer\n")
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(Equal("asdfasd\nqwer\n"))
	})

	It("accepts a full last chunk", func() {
		h1 := sha256Hex("asdfasd\n")
		h3 := sha256Hex("qwertyu\n")
		hashFile := "stream-hash sha256 8\n" + h1 + "\n" + h3 + "\n"
		out, err := run(hashFile, "asdfasd\nqwertyu\n")
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(Equal("asdfasd\nqwertyu\n"))
	})

	It("detects a hash mismatch", func() {
		h1 := sha256Hex("asdfasd\n")
		bad := sha256Hex("not the right data")
		hashFile := "stream-hash sha256 8\n" + h1 + "\n" + bad + "\n"
		_, err := run(hashFile, "asdfasd\nasdf\n")
		Expect(err).To(MatchError(ContainSubstring("hash mismatch at offset 8")))
	})

	It("tolerates a missing trailing newline on the last hash line", func() {
		h1 := sha256Hex("asd")
		hashFile := "stream-hash sha256 8\n" + h1
		out, err := run(hashFile, "asd")
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(Equal("asd"))
	})
})
