package blobstore

import (
	"io"
	"sync"
)

// ProgressReader counts bytes read through it and reports the running
// total. When the wrapped reader is an io.Seeker, seeks are forwarded and
// the count follows the new offset, so SDKs that rewind the body to sign
// it do not double count.
type ProgressReader struct {
	r          io.Reader
	onProgress ProgressFunc

	mu sync.Mutex
	n  int64
}

func NewProgressReader(r io.Reader, onProgress ProgressFunc) *ProgressReader {
	return &ProgressReader{r: r, onProgress: onProgress}
}

func (p *ProgressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.mu.Lock()
		p.n += int64(n)
		total := p.n
		p.mu.Unlock()

		if p.onProgress != nil {
			p.onProgress(total)
		}
	}
	return n, err
}

// Seek forwards to the underlying reader. It fails when that reader
// cannot seek.
func (p *ProgressReader) Seek(offset int64, whence int) (int64, error) {
	s, ok := p.r.(io.Seeker)
	if !ok {
		return 0, errNotSeekable
	}
	pos, err := s.Seek(offset, whence)
	if err != nil {
		return pos, err
	}
	p.mu.Lock()
	p.n = pos
	p.mu.Unlock()
	return pos, nil
}

// Transferred is the number of bytes read so far.
func (p *ProgressReader) Transferred() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.n
}

type seekError string

func (e seekError) Error() string { return string(e) }

const errNotSeekable = seekError("blobstore: body is not seekable")
