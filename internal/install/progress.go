package install

import (
	"io"

	log "github.com/sirupsen/logrus"
)

// progressLogInterval is how many bytes accumulate between progress log
// lines, to avoid flooding logs on a fast local link.
const progressLogInterval = 256 * 1024 * 1024

// progressReader logs download progress periodically.
type progressReader struct {
	src        io.Reader
	lengthHint int64
	read       int64
	logged     int64
}

func newProgressReader(src io.Reader, lengthHint int64) *progressReader {
	return &progressReader{src: src, lengthHint: lengthHint}
}

func (p *progressReader) Read(buf []byte) (int, error) {
	n, err := p.src.Read(buf)
	p.read += int64(n)
	if p.read-p.logged >= progressLogInterval {
		p.logged = p.read
		if p.lengthHint > 0 {
			log.Infof("downloaded %d/%d bytes (%.1f%%)", p.read, p.lengthHint,
				100*float64(p.read)/float64(p.lengthHint))
		} else {
			log.Infof("downloaded %d bytes", p.read)
		}
	}
	return n, err
}
