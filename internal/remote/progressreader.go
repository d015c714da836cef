package remote

import (
	"io"
	"sync/atomic"
)

// ProgressReader wraps a reader and reports cumulative bytes read.
// Transfer retries rewind the body and read it again; the high-water counter
// keeps reported progress monotonically non-decreasing across attempts, which
// the progress reporter depends on.
type ProgressReader struct {
	r        io.Reader
	total    int64
	name     string
	read     int64
	high     *atomic.Int64
	progress ProgressFunc
}

// NewProgressReader wraps r for one attempt. high is shared across attempts
// for the same transfer; pass the same pointer to every attempt's reader.
func NewProgressReader(r io.Reader, total int64, name string, high *atomic.Int64, progress ProgressFunc) *ProgressReader {
	return &ProgressReader{r: r, total: total, name: name, high: high, progress: progress}
}

func (pr *ProgressReader) Read(p []byte) (int, error) {
	n, err := pr.r.Read(p)
	if n > 0 {
		pr.read += int64(n)
		if pr.progress != nil && raiseHigh(pr.high, pr.read) {
			pr.progress(pr.high.Load(), pr.total, pr.name)
		}
	}
	return n, err
}

// raiseHigh lifts the shared high-water mark to at least v. Returns false
// when v is behind an earlier attempt's progress and must not be reported.
func raiseHigh(high *atomic.Int64, v int64) bool {
	for {
		cur := high.Load()
		if v <= cur {
			return false
		}
		if high.CompareAndSwap(cur, v) {
			return true
		}
	}
}
