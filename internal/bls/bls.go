// Package bls edits Boot Loader Specification config fragments, the files
// under <mountpoint>/loader/entries/*.conf that ostree writes out for each
// deployment.
package bls

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// VisitEntry calls f with the contents of the latest (default) BLS entry
// under mountpoint and rewrites the file if f returns non-nil new contents.
//
// The default entry is confusingly the *last* one in lexicographic order,
// since ostree sorts entries in reverse. VisitEntry returns an error if the
// entries directory contains no ".conf" files.
func VisitEntry(mountpoint string, f func(string) (*string, error)) (bool, error) {
	entriesDir := filepath.Join(mountpoint, "loader", "entries")

	dirEntries, err := os.ReadDir(entriesDir)
	if err != nil {
		return false, errors.Wrapf(err, "reading directory %s", entriesDir)
	}

	var names []string
	for _, de := range dirEntries {
		if de.IsDir() || filepath.Ext(de.Name()) != ".conf" {
			continue
		}
		names = append(names, de.Name())
	}
	if len(names) == 0 {
		return false, errors.Errorf("found no BLS entries in %s", entriesDir)
	}
	sort.Strings(names)
	path := filepath.Join(entriesDir, names[len(names)-1])

	f_, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return false, errors.Wrapf(err, "opening bootloader config %s", path)
	}
	defer f_.Close()

	origBytes, err := os.ReadFile(path)
	if err != nil {
		return false, errors.Wrapf(err, "reading %s", path)
	}

	newContents, err := f(string(origBytes))
	if err != nil {
		return false, errors.Wrapf(err, "visiting %s", path)
	}
	if newContents == nil {
		return false, nil
	}

	if _, err := f_.Seek(0, 0); err != nil {
		return false, errors.Wrapf(err, "seeking %s", path)
	}
	if err := f_.Truncate(0); err != nil {
		return false, errors.Wrapf(err, "truncating %s", path)
	}
	if _, err := f_.Write([]byte(*newContents)); err != nil {
		return false, errors.Wrapf(err, "writing %s", path)
	}
	return true, nil
}

// VisitEntryOptions wraps VisitEntry to visit just the single "options " line
// of the default BLS entry. It errors if zero or more than one such line is
// found.
func VisitEntryOptions(mountpoint string, f func(string) (*string, error)) (bool, error) {
	return VisitEntry(mountpoint, func(origContents string) (*string, error) {
		var b strings.Builder
		b.Grow(len(origContents))
		foundOptions := false
		modified := false

		lines := splitKeepingFinalEmpty(origContents)
		for _, line := range lines {
			if !strings.HasPrefix(line, "options ") {
				b.WriteString(strings.TrimRight(line, " \t\r\n"))
			} else if foundOptions {
				return nil, errors.New("multiple 'options' lines found")
			} else {
				r, err := f(strings.TrimSpace(line[len("options "):]))
				if err != nil {
					return nil, errors.Wrap(err, "visiting options")
				}
				if r != nil {
					b.WriteString("options ")
					b.WriteString(strings.TrimSpace(*r))
					modified = true
				} else {
					b.WriteString(strings.TrimRight(line, " \t\r\n"))
				}
				foundOptions = true
			}
			b.WriteByte('\n')
		}
		if !foundOptions {
			return nil, errors.New("couldn't locate 'options' line")
		}
		if !modified {
			return nil, nil
		}
		result := b.String()
		return &result, nil
	})
}

// splitKeepingFinalEmpty splits on "\n" the way Rust's str::lines does,
// discarding only a single trailing newline rather than all trailing empty
// segments.
func splitKeepingFinalEmpty(s string) []string {
	s = strings.TrimSuffix(s, "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}
