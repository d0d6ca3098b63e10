package ioutil

import (
	"io"

	"github.com/pkg/errors"
)

// CopyN copies up to n bytes from src to dst using buf as scratch space,
// stopping early at EOF. It mirrors io.CopyN but lets the caller reuse a
// buffer across many calls.
func CopyN(dst io.Writer, src io.Reader, n int64, buf []byte) (int64, error) {
	return copyBuffered(dst, src, n, buf, false)
}

// CopyExactlyN copies exactly n bytes from src to dst, erroring if src is
// exhausted early.
func CopyExactlyN(dst io.Writer, src io.Reader, n int64, buf []byte) error {
	copied, err := copyBuffered(dst, src, n, buf, true)
	if err != nil {
		return err
	}
	if copied != n {
		return errors.Errorf("short copy: expected %d bytes, got %d", n, copied)
	}
	return nil
}

func copyBuffered(dst io.Writer, src io.Reader, n int64, buf []byte, exact bool) (int64, error) {
	if len(buf) == 0 {
		buf = make([]byte, 32*1024)
	}
	var total int64
	for total < n {
		want := int64(len(buf))
		if remaining := n - total; remaining < want {
			want = remaining
		}
		read, rerr := src.Read(buf[:want])
		if read > 0 {
			written, werr := dst.Write(buf[:read])
			total += int64(written)
			if werr != nil {
				return total, errors.Wrap(werr, "writing")
			}
			if written != read {
				return total, io.ErrShortWrite
			}
		}
		if rerr != nil {
			if rerr == io.EOF {
				if exact && total < n {
					return total, io.ErrUnexpectedEOF
				}
				return total, nil
			}
			return total, errors.Wrap(rerr, "reading")
		}
	}
	return total, nil
}
