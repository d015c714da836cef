package progress

import (
	"fmt"
	"os"
	"sync"

	"github.com/schollz/progressbar/v3"
)

// SingleBar renders one progressbar/v3 bar on stderr. Used by the one-shot
// upload command where only a single record is ever in flight; a spinner is
// shown when the file size is unknown.
type SingleBar struct {
	mu  sync.Mutex
	bar *progressbar.ProgressBar
}

func NewSingleBar() *SingleBar {
	return &SingleBar{}
}

func (s *SingleBar) Begin(recordID, name string, total int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if total <= 0 {
		// -1 puts progressbar into spinner mode
		total = -1
	}
	s.bar = progressbar.NewOptions64(total,
		progressbar.OptionSetDescription(truncatePath(name, 2)),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(50),
		progressbar.OptionThrottle(100),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(os.Stderr, "\n")
		}),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func (s *SingleBar) Update(recordID string, percent int, transferred, total int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bar == nil {
		return
	}
	if total > 0 {
		_ = s.bar.Set64(transferred)
	} else {
		_ = s.bar.Add64(1)
	}
}

func (s *SingleBar) Finish(recordID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bar != nil {
		_ = s.bar.Finish()
		s.bar = nil
	}
}
