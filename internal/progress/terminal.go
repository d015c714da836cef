package progress

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"golang.org/x/term"
)

// TerminalSink renders one mpb bar per in-flight upload on stderr. Outside a
// terminal it falls back to plain line output so logs stay readable.
type TerminalSink struct {
	progress   *mpb.Progress
	isTerminal bool

	mu   sync.Mutex
	bars map[string]*mpb.Bar
}

// NewTerminalSink builds a sink writing to stderr. Bars are disabled when
// stderr is not a terminal.
func NewTerminalSink() *TerminalSink {
	isTerminal := term.IsTerminal(int(os.Stderr.Fd()))

	var p *mpb.Progress
	if isTerminal {
		p = mpb.New(
			mpb.WithOutput(os.Stderr),
			mpb.WithRefreshRate(300*time.Millisecond),
			mpb.WithWidth(80),
		)
	} else {
		p = mpb.New(mpb.WithOutput(io.Discard))
	}

	return &TerminalSink{
		progress:   p,
		isTerminal: isTerminal,
		bars:       make(map[string]*mpb.Bar),
	}
}

// Begin registers a bar for the record.
func (t *TerminalSink) Begin(recordID, name string, total int64) {
	if !t.isTerminal {
		fmt.Fprintf(os.Stderr, "uploading %s (%.1f MiB)\n",
			truncatePath(name, 2), float64(total)/(1024*1024))
		return
	}

	bar := t.progress.New(total,
		mpb.BarStyle().Lbound("[").Filler("=").Tip(">").Padding(" ").Rbound("]"),
		mpb.PrependDecorators(
			decor.Name(truncatePath(name, 2), decor.WCSyncSpaceR),
		),
		mpb.AppendDecorators(
			decor.CountersKibiByte("% .1f / % .1f", decor.WCSyncSpace),
			decor.Name("  "),
			decor.Percentage(decor.WCSyncSpace),
		),
		mpb.BarRemoveOnComplete(),
	)

	t.mu.Lock()
	t.bars[recordID] = bar
	t.mu.Unlock()
}

// Update moves the record's bar. Percent carries the throttled value; the bar
// itself tracks raw bytes so mpb's own decorators stay exact.
func (t *TerminalSink) Update(recordID string, percent int, transferred, total int64) {
	t.mu.Lock()
	bar := t.bars[recordID]
	t.mu.Unlock()
	if bar == nil {
		return
	}
	if total > 0 {
		bar.SetCurrent(transferred)
	}
}

// Finish removes the record's bar.
func (t *TerminalSink) Finish(recordID string) {
	t.mu.Lock()
	bar := t.bars[recordID]
	delete(t.bars, recordID)
	t.mu.Unlock()
	if bar != nil {
		bar.Abort(true)
	}
}

// Writer returns a writer that renders above active bars.
func (t *TerminalSink) Writer() io.Writer {
	if t.isTerminal {
		return t.progress
	}
	return os.Stderr
}

// Wait blocks until all bars have been removed.
func (t *TerminalSink) Wait() {
	t.progress.Wait()
}

// truncatePath keeps the last n components of a path.
func truncatePath(path string, n int) string {
	parts := strings.Split(filepath.ToSlash(path), "/")
	if len(parts) <= n {
		return path
	}
	return filepath.Join(parts[len(parts)-n:]...)
}
