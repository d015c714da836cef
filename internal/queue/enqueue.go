// Package queue is the write-side API of the upload queue: creating records,
// coalescing duplicates, retrying and cancelling. Transfer execution lives in
// the worker package; this package only mutates durable state and wakes the
// worker afterwards.
package queue

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"github.com/cloudlift/cloudlift-agent/internal/events"
	"github.com/cloudlift/cloudlift-agent/internal/logging"
	"github.com/cloudlift/cloudlift-agent/internal/store"
	"github.com/cloudlift/cloudlift-agent/internal/util/paths"
)

var (
	// ErrInvalidState is returned when an operation does not apply to the
	// record's current status, e.g. retrying a succeeded upload.
	ErrInvalidState = errors.New("operation not valid for record state")

	// ErrDuplicate signals that an enqueue coalesced into an existing active
	// record instead of creating one. It accompanies a valid record and is a
	// no-op success, not a failure.
	ErrDuplicate = errors.New("request coalesced into existing upload")
)

// Scheduler wakes the worker loop after queue mutations. The daemon's ticker
// and the one-shot run command both satisfy it.
type Scheduler interface {
	RequestInvocation()
}

// SchedulerFunc adapts a func to the Scheduler interface.
type SchedulerFunc func()

func (f SchedulerFunc) RequestInvocation() { f() }

// Request carries the caller's intent for one new upload.
type Request struct {
	AccountID  string
	LocalPath  string
	RemotePath string

	CollisionPolicy store.CollisionPolicy
	LocalAction     store.LocalAction
	RequireWifi     bool
	RequireCharging bool
	CreatedBy       store.CreatedBy
}

// Queue mutates upload records and schedules worker invocations.
type Queue struct {
	store     *store.Store
	scheduler Scheduler
	bus       *events.EventBus
	logger    *logging.Logger
}

// New creates a queue. scheduler and bus may be nil in tests.
func New(st *store.Store, scheduler Scheduler, bus *events.EventBus, logger *logging.Logger) *Queue {
	return &Queue{store: st, scheduler: scheduler, bus: bus, logger: logger}
}

// Enqueue records a new upload and wakes the worker. When an active record
// for the same account and path pair already exists, the request coalesces
// into it: the stored policy and constraints are refreshed, no second record
// is created, and the existing record is returned together with ErrDuplicate.
func (q *Queue) Enqueue(ctx context.Context, req Request) (*store.UploadRecord, error) {
	if req.AccountID == "" || req.LocalPath == "" || req.RemotePath == "" {
		return nil, fmt.Errorf("account, local path and remote path are required")
	}
	if !filepath.IsAbs(req.LocalPath) {
		return nil, fmt.Errorf("local path %q must be absolute", req.LocalPath)
	}
	remotePath, err := paths.NormalizeRemote(req.RemotePath)
	if err != nil {
		return nil, err
	}
	req.RemotePath = remotePath

	existing, err := q.store.FindActive(ctx, req.AccountID, req.LocalPath, req.RemotePath)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if existing != nil {
		live, err := q.coalesce(ctx, existing, req)
		if err != nil {
			return nil, err
		}
		if live {
			return existing, ErrDuplicate
		}
		// Went terminal between the lookup and the refresh; fall through and
		// enqueue a fresh record.
	}

	rec := store.NewRecord(req.AccountID, req.LocalPath, req.RemotePath, fileSize(req.LocalPath))
	rec.MimeType = mime.TypeByExtension(filepath.Ext(req.LocalPath))
	applyRequest(rec, req)

	if err := q.store.Save(ctx, rec); err != nil {
		// The unique index closes the race where two callers enqueue the
		// same pair concurrently; the loser coalesces into the winner.
		if winner, findErr := q.store.FindActive(ctx, req.AccountID, req.LocalPath, req.RemotePath); findErr == nil {
			live, coErr := q.coalesce(ctx, winner, req)
			if coErr != nil {
				return nil, coErr
			}
			if live {
				return winner, ErrDuplicate
			}
		}
		return nil, err
	}

	q.logger.Debug().
		Str("record", rec.ID).
		Str("account", rec.AccountID).
		Str("local", rec.LocalPath).
		Str("remote", rec.RemotePath).
		Msg("upload enqueued")
	q.publish(events.EventUploadQueued, rec)
	q.wake()
	return rec, nil
}

// coalesce refreshes a live record with the new request's policy and
// constraints instead of creating a duplicate. The refresh is a guarded
// update of the policy columns only, so a record that went terminal after
// the caller's lookup (a racing cancel or a finishing transfer) is never
// resurrected; it reports live=false instead.
func (q *Queue) coalesce(ctx context.Context, rec *store.UploadRecord, req Request) (bool, error) {
	applyRequest(rec, req)
	live, err := q.store.RefreshActive(ctx, rec)
	if err != nil || !live {
		return live, err
	}
	q.logger.Debug().Str("record", rec.ID).Msg("duplicate enqueue coalesced")
	q.publish(events.EventUploadQueued, rec)
	q.wake()
	return true, nil
}

func applyRequest(rec *store.UploadRecord, req Request) {
	if req.CollisionPolicy != "" {
		rec.CollisionPolicy = req.CollisionPolicy
	}
	if req.LocalAction != "" {
		rec.LocalAction = req.LocalAction
	}
	if req.CreatedBy != "" {
		rec.CreatedBy = req.CreatedBy
	}
	rec.RequireWifi = req.RequireWifi
	rec.RequireCharging = req.RequireCharging
}

// Policy carries the settings shared by every record in a batch enqueue.
type Policy struct {
	CollisionPolicy store.CollisionPolicy
	LocalAction     store.LocalAction
	RequireWifi     bool
	RequireCharging bool
	CreatedBy       store.CreatedBy
}

// EnqueueNew enqueues a batch of first-time uploads for one account. Each
// (local, remote) pair by index becomes one record; pairs that coalesce into
// an existing active record are returned too. The collision policy defaults
// to rename because the remote paths are expected to be unoccupied.
func (q *Queue) EnqueueNew(ctx context.Context, accountID string, localPaths, remotePaths []string, p Policy) ([]*store.UploadRecord, error) {
	if p.CollisionPolicy == "" {
		p.CollisionPolicy = store.CollisionRename
	}
	return q.enqueueBatch(ctx, accountID, localPaths, remotePaths, p)
}

// EnqueueUpdate enqueues uploads for already-tracked remote files whose local
// copy changed. The collision policy defaults to overwrite because the remote
// path is known to be occupied by the previous version.
func (q *Queue) EnqueueUpdate(ctx context.Context, accountID string, localPaths, remotePaths []string, p Policy) ([]*store.UploadRecord, error) {
	if p.CollisionPolicy == "" {
		p.CollisionPolicy = store.CollisionOverwrite
	}
	if p.CreatedBy == "" {
		p.CreatedBy = store.CreatedByUpdateSync
	}
	return q.enqueueBatch(ctx, accountID, localPaths, remotePaths, p)
}

func (q *Queue) enqueueBatch(ctx context.Context, accountID string, localPaths, remotePaths []string, p Policy) ([]*store.UploadRecord, error) {
	if len(localPaths) != len(remotePaths) {
		return nil, fmt.Errorf("got %d local paths for %d remote paths", len(localPaths), len(remotePaths))
	}

	records := make([]*store.UploadRecord, 0, len(localPaths))
	for i := range localPaths {
		rec, err := q.Enqueue(ctx, Request{
			AccountID:       accountID,
			LocalPath:       localPaths[i],
			RemotePath:      remotePaths[i],
			CollisionPolicy: p.CollisionPolicy,
			LocalAction:     p.LocalAction,
			RequireWifi:     p.RequireWifi,
			RequireCharging: p.RequireCharging,
			CreatedBy:       p.CreatedBy,
		})
		if err != nil && !errors.Is(err, ErrDuplicate) {
			return records, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// Retry moves a failed or cancelled record back to pending and wakes the
// worker. Pending, in-progress and succeeded records return ErrInvalidState.
func (q *Queue) Retry(ctx context.Context, id string) error {
	reset, err := q.store.ResetForRetry(ctx, id)
	if err != nil {
		return err
	}
	if !reset {
		return fmt.Errorf("retry %s: %w", id, ErrInvalidState)
	}

	if rec, err := q.store.Get(ctx, id); err == nil {
		q.publish(events.EventUploadRetried, rec)
	}
	q.wake()
	return nil
}

// RetryAllFailed resets every failed record for the account. Returns how many
// records went back to pending.
func (q *Queue) RetryAllFailed(ctx context.Context, accountID string) (int, error) {
	failed, err := q.store.ListFailed(ctx, accountID)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, rec := range failed {
		reset, err := q.store.ResetForRetry(ctx, rec.ID)
		if err != nil {
			return count, err
		}
		if reset {
			count++
			q.publish(events.EventUploadRetried, rec)
		}
	}
	if count > 0 {
		q.wake()
	}
	return count, nil
}

// Cancel marks a pending or in-progress record cancelled. An in-progress
// transfer keeps running until its executor observes the terminal state; the
// guarded result write makes the cancellation stick either way.
func (q *Queue) Cancel(ctx context.Context, id string) error {
	rec, err := q.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if rec.Status.IsTerminal() {
		return fmt.Errorf("cancel %s: %w", id, ErrInvalidState)
	}

	err = q.store.UpdateResult(ctx, id, store.StatusCancelled, store.TerminalResult{
		ErrorCode: store.ErrCodeCancelled,
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return fmt.Errorf("cancel %s: %w", id, ErrInvalidState)
		}
		return err
	}

	rec.Status = store.StatusCancelled
	q.publish(events.EventUploadCancelled, rec)
	return nil
}

// Remove deletes a terminal record.
func (q *Queue) Remove(ctx context.Context, id string) error {
	return q.store.Remove(ctx, id)
}

// ClearSucceeded removes all succeeded records for the account.
func (q *Queue) ClearSucceeded(ctx context.Context, accountID string) (int64, error) {
	return q.store.ClearSucceeded(ctx, accountID)
}

func (q *Queue) wake() {
	if q.scheduler != nil {
		q.scheduler.RequestInvocation()
	}
}

func (q *Queue) publish(eventType events.EventType, rec *store.UploadRecord) {
	if q.bus == nil {
		return
	}
	q.bus.PublishUpload(eventType, rec.ID, rec.AccountID, rec.LocalPath, rec.RemotePath)
}

// fileSize is best effort; a missing file sizes as zero and fails later in
// the executor with a local_io code.
func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}
