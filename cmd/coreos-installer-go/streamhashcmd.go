package main

import (
	"bufio"
	"flag"
	"os"

	"github.com/pkg/errors"

	"github.com/coreos/coreos-installer-go/internal/ioutil"
)

// runStreamHash implements the stdin-to-stdout verified-copy mode: it never
// writes a chunk to stdout until that chunk's SHA-256 has been checked
// against --hash-file, so a downstream pipeline consumer never observes
// unverified bytes.
func runStreamHash(args []string) error {
	fs := flag.NewFlagSet("stream-hash", flag.ExitOnError)
	hashFile := fs.String("hash-file", "", "path to the stream-hash descriptor file")
	fs.Parse(args)

	if *hashFile == "" {
		return errors.New("--hash-file is required")
	}
	hf, err := os.Open(*hashFile)
	if err != nil {
		return errors.Wrapf(err, "opening %s", *hashFile)
	}
	defer hf.Close()

	out := bufio.NewWriter(os.Stdout)
	if err := ioutil.DoStreamHash(hf, os.Stdin, out); err != nil {
		return err
	}
	return out.Flush()
}
