package ingest

import (
	"fmt"

	"github.com/dustin/go-humanize"
)

// progress turns byte counts into task percentages. Small files report
// bytes transferred; files above the chunk threshold report completed
// parts. The last percent is held back until the task finishes.
type progress struct {
	size     int64
	partSize int64
	parts    int64
	chunked  bool
	emit     func(percent int, msg string)

	lastPercent int
	lastPart    int64
}

func newProgress(size, threshold, partSize int64, emit func(int, string)) *progress {
	p := &progress{size: size, partSize: partSize, emit: emit, lastPercent: -1}
	if size > threshold {
		p.chunked = true
		p.parts = (size + partSize - 1) / partSize
	}
	return p
}

func (p *progress) observe(transferred int64) {
	if p.size <= 0 {
		return
	}
	transferred = min(transferred, p.size)

	if p.chunked {
		done := transferred / p.partSize
		if transferred == p.size {
			done = p.parts
		}
		current := min(done+1, p.parts)
		if current == p.lastPart && done < p.parts {
			return
		}
		p.lastPart = current
		percent := int(done * 100 / p.parts)
		p.send(percent, fmt.Sprintf("part %d/%d (%s of %s)", current, p.parts,
			humanize.IBytes(uint64(transferred)), humanize.IBytes(uint64(p.size))))
		return
	}

	percent := int(transferred * 100 / p.size)
	if percent == p.lastPercent {
		return
	}
	p.send(percent, fmt.Sprintf("uploaded %d%% of %s", percent, humanize.IBytes(uint64(p.size))))
}

func (p *progress) send(percent int, msg string) {
	p.lastPercent = percent
	p.emit(min(percent, 99), msg)
}
