// Package progress throttles raw byte counters from transfer clients into
// whole-percent updates for terminal sinks and event bus subscribers.
package progress

import (
	"sync/atomic"
	"time"

	"github.com/cloudlift/cloudlift-agent/internal/constants"
	"github.com/cloudlift/cloudlift-agent/internal/events"
	"github.com/cloudlift/cloudlift-agent/internal/store"
)

// IndeterminatePercent marks a transfer whose total size is unknown.
const IndeterminatePercent = -1

// percent values start at this sentinel so the first sample always emits,
// including an indeterminate first sample.
const percentUnset = -2

// Sink receives throttled progress for display. Implementations are keyed by
// record id and must tolerate Update calls for ids they have not seen.
type Sink interface {
	Begin(recordID, name string, total int64)
	Update(recordID string, percent int, transferred, total int64)
	Finish(recordID string)
}

// NopSink discards all progress. Used by the daemon when no terminal is
// attached and in tests.
type NopSink struct{}

func (NopSink) Begin(string, string, int64)      {}
func (NopSink) Update(string, int, int64, int64) {}
func (NopSink) Finish(string)                    {}

// Percent converts a byte counter into a floor percentage. A non-positive
// total yields IndeterminatePercent rather than dividing.
func Percent(transferred, total int64) int {
	if total <= 0 {
		return IndeterminatePercent
	}
	pct := int(transferred * 100 / total)
	if pct > 100 {
		pct = 100
	}
	return pct
}

type sample struct {
	transferred int64
	total       int64
}

// Reporter serializes progress samples for one upload record. Samples arrive
// from the transfer client's read loop; a dedicated goroutine applies the
// percent throttle so the sink and bus only see changed values. Samples that
// arrive after Finish are dropped.
type Reporter struct {
	recordID   string
	accountID  string
	localPath  string
	remotePath string

	sink Sink
	bus  *events.EventBus

	samples   chan sample
	quit      chan struct{}
	done      chan struct{}
	finalized atomic.Bool
}

// NewReporter starts a reporter for the record and announces it to the sink.
func NewReporter(rec *store.UploadRecord, sink Sink, bus *events.EventBus) *Reporter {
	if sink == nil {
		sink = NopSink{}
	}
	r := &Reporter{
		recordID:   rec.ID,
		accountID:  rec.AccountID,
		localPath:  rec.LocalPath,
		remotePath: rec.RemotePath,
		sink:       sink,
		bus:        bus,
		samples:    make(chan sample, constants.ProgressSampleBuffer),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	sink.Begin(rec.ID, rec.LocalPath, rec.Size)
	go r.loop()
	return r
}

// Report accepts one raw sample. Safe to call from any goroutine; samples are
// dropped rather than blocking the transfer when the buffer is full or the
// reporter is finalized.
func (r *Reporter) Report(transferred, total int64) {
	if r.finalized.Load() {
		return
	}
	select {
	case r.samples <- sample{transferred: transferred, total: total}:
	default:
	}
}

// Finish stops the reporter and clears the sink entry. Buffered samples not
// yet processed are discarded. Idempotent.
func (r *Reporter) Finish() {
	if !r.finalized.CompareAndSwap(false, true) {
		return
	}
	close(r.quit)
	<-r.done
	r.sink.Finish(r.recordID)
}

func (r *Reporter) loop() {
	defer close(r.done)

	lastPercent := percentUnset
	for {
		select {
		case <-r.quit:
			return
		case s := <-r.samples:
			pct := Percent(s.transferred, s.total)
			if pct == lastPercent {
				continue
			}
			lastPercent = pct
			r.sink.Update(r.recordID, pct, s.transferred, s.total)
			r.publish(s, pct)
		}
	}
}

func (r *Reporter) publish(s sample, pct int) {
	if r.bus == nil {
		return
	}
	frac := float64(pct) / 100
	if pct == IndeterminatePercent {
		frac = 0
	}
	r.bus.Publish(&events.UploadEvent{
		BaseEvent: events.BaseEvent{
			EventType: events.EventUploadProgress,
			Time:      time.Now(),
		},
		RecordID:   r.recordID,
		AccountID:  r.accountID,
		LocalPath:  r.localPath,
		RemotePath: r.remotePath,
		Size:       s.total,
		Progress:   frac,
	})
}
