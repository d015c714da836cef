// Package worker drains the upload queue. One invocation snapshots the
// pending records per account and executes them sequentially; all
// coordination with concurrent invocations goes through the store's guarded
// status updates, so overlapping invocations are safe, just wasteful.
package worker

import (
	"context"
	"time"

	"github.com/cloudlift/cloudlift-agent/internal/account"
	"github.com/cloudlift/cloudlift-agent/internal/constants"
	"github.com/cloudlift/cloudlift-agent/internal/events"
	"github.com/cloudlift/cloudlift-agent/internal/logging"
	"github.com/cloudlift/cloudlift-agent/internal/notify"
	"github.com/cloudlift/cloudlift-agent/internal/progress"
	"github.com/cloudlift/cloudlift-agent/internal/remote"
	"github.com/cloudlift/cloudlift-agent/internal/store"
)

// ClientFactory builds a transfer client for an account. Injected so tests
// can substitute a fake backend.
type ClientFactory func(ctx context.Context, acct account.Account) (remote.Client, error)

// Thumbnailer receives successfully uploaded files for best-effort preview
// generation. Failures inside it never affect an upload's terminal status.
type Thumbnailer interface {
	Enqueue(rec *store.UploadRecord)
}

// Worker executes queued uploads.
type Worker struct {
	store      *store.Store
	resolver   account.Resolver
	clients    ClientFactory
	sink       progress.Sink
	bus        *events.EventBus
	notifier   *notify.Notifier
	thumbs     Thumbnailer
	conditions Conditions
	archiveDir string
	logger     *logging.Logger

	staleClaim time.Duration
}

// Options carries the optional collaborators; any nil field degrades to a
// no-op rather than a crash.
type Options struct {
	Sink       progress.Sink
	Bus        *events.EventBus
	Notifier   *notify.Notifier
	Thumbnails Thumbnailer
	Conditions Conditions
	ArchiveDir string
}

// New creates a worker.
func New(st *store.Store, resolver account.Resolver, clients ClientFactory, opts Options, logger *logging.Logger) *Worker {
	if opts.Sink == nil {
		opts.Sink = progress.NopSink{}
	}
	if opts.Conditions == nil {
		opts.Conditions = AlwaysReady{}
	}
	return &Worker{
		store:      st,
		resolver:   resolver,
		clients:    clients,
		sink:       opts.Sink,
		bus:        opts.Bus,
		notifier:   opts.Notifier,
		thumbs:     opts.Thumbnails,
		conditions: opts.Conditions,
		archiveDir: opts.ArchiveDir,
		logger:     logger,
		staleClaim: constants.StaleClaimWindow,
	}
}

type tally struct {
	processed int
	succeeded int
	failed    int
	skipped   int
}

// Invoke runs one pass over every configured account's queue. The returned
// error is only non-nil for store-level failures; individual upload outcomes
// are persisted on their records and never fail the invocation.
func (w *Worker) Invoke(ctx context.Context) error {
	start := time.Now()
	var t tally

	for _, acct := range w.resolver.List() {
		if err := w.drainAccount(ctx, acct, &t); err != nil {
			return err
		}
		if ctx.Err() != nil {
			break
		}
	}

	w.logger.Info().
		Int("processed", t.processed).
		Int("succeeded", t.succeeded).
		Int("failed", t.failed).
		Int("skipped", t.skipped).
		Dur("took", time.Since(start)).
		Msg("invocation finished")

	if w.bus != nil {
		w.bus.Publish(&events.InvocationEvent{
			BaseEvent: events.BaseEvent{EventType: events.EventInvocationDone, Time: time.Now()},
			Processed: t.processed,
			Succeeded: t.succeeded,
			Failed:    t.failed,
			Skipped:   t.skipped,
			Duration:  time.Since(start),
		})
	}
	return nil
}

// drainAccount snapshots the account's live records and executes each one.
// Records enqueued after the snapshot wait for the next invocation, which
// the enqueue path has already requested.
func (w *Worker) drainAccount(ctx context.Context, acct account.Account, t *tally) error {
	records, err := w.store.ListPendingAndInProgress(ctx, acct.ID)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	client, err := w.clients(ctx, acct)
	if err != nil {
		w.logger.Error().Err(err).Str("account", acct.ID).Msg("cannot build transfer client, skipping account")
		t.skipped += len(records)
		return nil
	}

	for _, rec := range records {
		if ctx.Err() != nil {
			return nil
		}
		if !w.constraintsMet(rec) {
			w.logger.Debug().Str("record", rec.ID).Msg("constraints not met, record stays pending")
			t.skipped++
			continue
		}

		claimed, err := w.store.ClaimInProgress(ctx, rec.ID, w.staleClaim)
		if err != nil {
			return err
		}
		if !claimed {
			// Another invocation owns it, or it went terminal since the
			// snapshot.
			t.skipped++
			continue
		}

		t.processed++
		status, err := w.execute(ctx, client, rec)
		if err != nil {
			// The terminal write failed at the store level; the record is
			// wedged until the scheduler retries the invocation.
			return err
		}
		switch status {
		case store.StatusSucceeded:
			t.succeeded++
		case store.StatusFailed:
			t.failed++
		default:
			t.skipped++
		}
	}
	return nil
}

func (w *Worker) constraintsMet(rec *store.UploadRecord) bool {
	if rec.RequireWifi && !w.conditions.WifiAvailable() {
		return false
	}
	if rec.RequireCharging && !w.conditions.Charging() {
		return false
	}
	return true
}
