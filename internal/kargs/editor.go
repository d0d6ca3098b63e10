// Package kargs implements the kernel-argument string editor: an
// accumulator of append/delete/replace operations applied to a
// whitespace-delimited kargs string.
package kargs

import (
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

var replaceRE = regexp.MustCompile(`^([^=]+)=([^=]+)=([^=]+)$`)

// Editor accumulates kargs edit operations to apply in one pass. The zero
// value is an empty, no-op editor.
type Editor struct {
	appends         []string
	appendIfMissing []string
	deletes         []string
	replaceRaw      []string
}

// New returns an empty Editor.
func New() *Editor {
	return &Editor{}
}

// Append adds one or more terms to always append.
func (e *Editor) Append(terms ...string) *Editor {
	e.appends = append(e.appends, terms...)
	return e
}

// AppendIfMissing adds one or more terms to append only if not already
// present.
func (e *Editor) AppendIfMissing(terms ...string) *Editor {
	e.appendIfMissing = append(e.appendIfMissing, terms...)
	return e
}

// Delete adds one or more terms to remove.
func (e *Editor) Delete(terms ...string) *Editor {
	e.deletes = append(e.deletes, terms...)
	return e
}

// Replace adds a "KEY=OLD=NEW" replacement term. Parsing is deferred to
// ApplyTo so a malformed term fails at apply time with the expected error,
// matching the source behavior.
func (e *Editor) Replace(terms ...string) *Editor {
	for _, t := range terms {
		e.replaceRaw = append(e.replaceRaw, t)
	}
	return e
}

// IsEmpty reports whether the editor has no operations at all, used by
// MaybeApplyTo for idempotent no-op detection.
func (e *Editor) IsEmpty() bool {
	return len(e.appends) == 0 && len(e.appendIfMissing) == 0 &&
		len(e.deletes) == 0 && len(e.replaceRaw) == 0
}

// ApplyTo applies all accumulated operations to kargs and returns the result.
//
// Order: delete, then append, then append-if-missing, then replace, in that
// sequence, operating on whitespace-bounded substring matches only — quoted
// argument values are not recognized, a known limitation carried over
// unchanged from the original tool.
func (e *Editor) ApplyTo(s string) (string, error) {
	padded := " " + s + " "

	for _, term := range e.deletes {
		padded = strings.ReplaceAll(padded, " "+strings.TrimSpace(term)+" ", " ")
	}
	for _, term := range e.appends {
		padded += strings.TrimSpace(term) + " "
	}
	for _, term := range e.appendIfMissing {
		term = strings.TrimSpace(term)
		if !strings.Contains(padded, " "+term+" ") {
			padded += term + " "
		}
	}
	for _, raw := range e.replaceRaw {
		m := replaceRE.FindStringSubmatch(raw)
		if m == nil {
			return "", errors.Errorf("invalid replace term %q: expected KEY=OLD=NEW", raw)
		}
		key, old, newVal := m[1], m[2], m[3]
		oldToken := " " + key + "=" + old + " "
		newToken := " " + key + "=" + newVal + " "
		padded = strings.ReplaceAll(padded, oldToken, newToken)
	}

	return strings.TrimSpace(padded), nil
}

// MaybeApplyTo returns ("", false, nil) if the editor is empty (a no-op);
// otherwise it applies the edits and returns (result, true, err).
func (e *Editor) MaybeApplyTo(s string) (string, bool, error) {
	if e.IsEmpty() {
		return "", false, nil
	}
	result, err := e.ApplyTo(s)
	return result, true, err
}

// MaybeApplyToPtr adapts MaybeApplyTo to the (*string, error) shape expected
// by bls.VisitEntryOptions: nil means no change.
func (e *Editor) MaybeApplyToPtr(s string) (*string, error) {
	result, applied, err := e.MaybeApplyTo(s)
	if err != nil || !applied {
		return nil, err
	}
	return &result, nil
}
