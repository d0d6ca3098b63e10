package ioutil

import (
	"fmt"
	"io"

	"github.com/pkg/errors"
)

// LimitReader enforces a hard byte cap on a read stream. Once the cap is
// reached, Read returns io.EOF if the source is also at EOF; otherwise it
// errors, since bytes beyond the cap indicate a malformed or hostile input.
type LimitReader struct {
	src   io.Reader
	label string
	limit int64
	read  int64
}

// NewLimitReader wraps src, allowing at most limit bytes to be read before
// erroring. label identifies the field being bounded in error messages.
func NewLimitReader(src io.Reader, limit int64, label string) *LimitReader {
	return &LimitReader{src: src, label: label, limit: limit}
}

func (l *LimitReader) Read(p []byte) (int, error) {
	if l.read >= l.limit {
		// confirm the source is actually exhausted
		probe := make([]byte, 1)
		n, err := l.src.Read(probe)
		if n == 0 && err == io.EOF {
			return 0, io.EOF
		}
		return 0, fmt.Errorf("collision with %s at offset %d", l.label, l.read)
	}
	max := l.limit - l.read
	if int64(len(p)) > max {
		p = p[:max]
	}
	n, err := l.src.Read(p)
	l.read += int64(n)
	return n, err
}

// LimitWriter enforces a hard byte cap on a write stream, erroring once the
// cap is exceeded.
type LimitWriter struct {
	dst     io.Writer
	label   string
	limit   int64
	written int64
}

// NewLimitWriter wraps dst, allowing at most limit bytes to be written.
func NewLimitWriter(dst io.Writer, limit int64, label string) *LimitWriter {
	return &LimitWriter{dst: dst, label: label, limit: limit}
}

func (l *LimitWriter) Write(p []byte) (int, error) {
	if l.written+int64(len(p)) > l.limit {
		return 0, fmt.Errorf("collision with %s at offset %d", l.label, l.written)
	}
	n, err := l.dst.Write(p)
	l.written += int64(n)
	if err != nil {
		return n, errors.Wrap(err, "writing")
	}
	return n, nil
}
