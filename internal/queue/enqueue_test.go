package queue

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/cloudlift/cloudlift-agent/internal/logging"
	"github.com/cloudlift/cloudlift-agent/internal/store"
)

func newTestQueue(t *testing.T) (*Queue, *store.Store, *atomic.Int32) {
	t.Helper()
	s, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	var wakes atomic.Int32
	q := New(s, SchedulerFunc(func() { wakes.Add(1) }), nil, logging.Nop())
	return q, s, &wakes
}

func writeTempFile(t *testing.T, name string, size int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, make([]byte, size), 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

func TestEnqueueCreatesPendingRecord(t *testing.T) {
	q, s, wakes := newTestQueue(t)
	ctx := context.Background()
	local := writeTempFile(t, "a.bin", 1234)

	rec, err := q.Enqueue(ctx, Request{
		AccountID:       "acct1",
		LocalPath:       local,
		RemotePath:      "/Docs/a.bin",
		CollisionPolicy: store.CollisionRename,
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	got, err := s.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != store.StatusPending {
		t.Errorf("status = %s, want pending", got.Status)
	}
	if got.Size != 1234 {
		t.Errorf("size = %d, want 1234", got.Size)
	}
	if wakes.Load() != 1 {
		t.Errorf("worker woken %d times, want 1", wakes.Load())
	}
}

func TestEnqueueRequiresAbsoluteLocalPath(t *testing.T) {
	q, _, _ := newTestQueue(t)

	_, err := q.Enqueue(context.Background(), Request{
		AccountID:  "acct1",
		LocalPath:  "relative/a.bin",
		RemotePath: "/Docs/a.bin",
	})
	if err == nil {
		t.Fatal("expected error for relative local path")
	}
}

func TestEnqueueCoalescesDuplicate(t *testing.T) {
	q, s, _ := newTestQueue(t)
	ctx := context.Background()
	local := writeTempFile(t, "a.bin", 64)

	first, err := q.Enqueue(ctx, Request{
		AccountID:       "acct1",
		LocalPath:       local,
		RemotePath:      "/Docs/a.bin",
		CollisionPolicy: store.CollisionRename,
	})
	if err != nil {
		t.Fatalf("first enqueue: %v", err)
	}

	second, err := q.Enqueue(ctx, Request{
		AccountID:       "acct1",
		LocalPath:       local,
		RemotePath:      "/Docs/a.bin",
		CollisionPolicy: store.CollisionOverwrite,
		RequireWifi:     true,
	})
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("duplicate enqueue error = %v, want ErrDuplicate", err)
	}
	if second.ID != first.ID {
		t.Fatalf("duplicate created a new record %s, want coalesce into %s", second.ID, first.ID)
	}

	got, err := s.Get(ctx, first.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.CollisionPolicy != store.CollisionOverwrite {
		t.Errorf("collision policy = %s, want refreshed overwrite", got.CollisionPolicy)
	}
	if !got.RequireWifi {
		t.Error("wifi constraint not refreshed")
	}

	all, err := s.ListByAccount(ctx, "acct1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("got %d records, want 1", len(all))
	}
}

func TestEnqueueAfterTerminalCreatesNewRecord(t *testing.T) {
	q, s, _ := newTestQueue(t)
	ctx := context.Background()
	local := writeTempFile(t, "a.bin", 64)

	first, err := q.Enqueue(ctx, Request{AccountID: "acct1", LocalPath: local, RemotePath: "/Docs/a.bin"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := s.ClaimInProgress(ctx, first.ID, 0); err != nil {
		t.Fatalf("claim: %v", err)
	}
	err = s.UpdateResult(ctx, first.ID, store.StatusSucceeded, store.TerminalResult{RemoteFileID: "f1"})
	if err != nil {
		t.Fatalf("finish: %v", err)
	}

	second, err := q.Enqueue(ctx, Request{AccountID: "acct1", LocalPath: local, RemotePath: "/Docs/a.bin"})
	if err != nil {
		t.Fatalf("re-enqueue: %v", err)
	}
	if second.ID == first.ID {
		t.Fatal("terminal record was resurrected instead of creating a new one")
	}
}

func TestRetryResetsFailedRecord(t *testing.T) {
	q, s, wakes := newTestQueue(t)
	ctx := context.Background()
	local := writeTempFile(t, "a.bin", 64)

	rec, err := q.Enqueue(ctx, Request{AccountID: "acct1", LocalPath: local, RemotePath: "/Docs/a.bin"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := s.ClaimInProgress(ctx, rec.ID, 0); err != nil {
		t.Fatalf("claim: %v", err)
	}
	err = s.UpdateResult(ctx, rec.ID, store.StatusFailed, store.TerminalResult{ErrorCode: store.ErrCodeNetwork})
	if err != nil {
		t.Fatalf("fail: %v", err)
	}
	wakes.Store(0)

	if err := q.Retry(ctx, rec.ID); err != nil {
		t.Fatalf("retry: %v", err)
	}

	got, err := s.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != store.StatusPending {
		t.Errorf("status = %s, want pending", got.Status)
	}
	if wakes.Load() != 1 {
		t.Errorf("worker woken %d times, want 1", wakes.Load())
	}
}

func TestRetryRejectsNonRetryable(t *testing.T) {
	q, _, _ := newTestQueue(t)
	ctx := context.Background()
	local := writeTempFile(t, "a.bin", 64)

	rec, err := q.Enqueue(ctx, Request{AccountID: "acct1", LocalPath: local, RemotePath: "/Docs/a.bin"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if err := q.Retry(ctx, rec.ID); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("retry of pending record: err = %v, want ErrInvalidState", err)
	}
}

func TestCancelPendingRecord(t *testing.T) {
	q, s, _ := newTestQueue(t)
	ctx := context.Background()
	local := writeTempFile(t, "a.bin", 64)

	rec, err := q.Enqueue(ctx, Request{AccountID: "acct1", LocalPath: local, RemotePath: "/Docs/a.bin"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if err := q.Cancel(ctx, rec.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	got, err := s.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != store.StatusCancelled {
		t.Errorf("status = %s, want cancelled", got.Status)
	}
	if got.LastError != store.ErrCodeCancelled {
		t.Errorf("error code = %s, want cancelled", got.LastError)
	}
}

func TestCancelTerminalRecordRejected(t *testing.T) {
	q, s, _ := newTestQueue(t)
	ctx := context.Background()
	local := writeTempFile(t, "a.bin", 64)

	rec, err := q.Enqueue(ctx, Request{AccountID: "acct1", LocalPath: local, RemotePath: "/Docs/a.bin"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := s.ClaimInProgress(ctx, rec.ID, 0); err != nil {
		t.Fatalf("claim: %v", err)
	}
	err = s.UpdateResult(ctx, rec.ID, store.StatusSucceeded, store.TerminalResult{RemoteFileID: "f1"})
	if err != nil {
		t.Fatalf("finish: %v", err)
	}

	if err := q.Cancel(ctx, rec.ID); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("cancel of succeeded record: err = %v, want ErrInvalidState", err)
	}
}

func TestRetryAllFailed(t *testing.T) {
	q, s, _ := newTestQueue(t)
	ctx := context.Background()

	for _, name := range []string{"a.bin", "b.bin"} {
		local := writeTempFile(t, name, 64)
		rec, err := q.Enqueue(ctx, Request{AccountID: "acct1", LocalPath: local, RemotePath: "/Docs/" + name})
		if err != nil {
			t.Fatalf("enqueue %s: %v", name, err)
		}
		if _, err := s.ClaimInProgress(ctx, rec.ID, 0); err != nil {
			t.Fatalf("claim: %v", err)
		}
		err = s.UpdateResult(ctx, rec.ID, store.StatusFailed, store.TerminalResult{ErrorCode: store.ErrCodeNetwork})
		if err != nil {
			t.Fatalf("fail: %v", err)
		}
	}

	count, err := q.RetryAllFailed(ctx, "acct1")
	if err != nil {
		t.Fatalf("retry all: %v", err)
	}
	if count != 2 {
		t.Errorf("reset %d records, want 2", count)
	}

	pending, err := s.ListPendingAndInProgress(ctx, "acct1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(pending) != 2 {
		t.Errorf("got %d pending records, want 2", len(pending))
	}
}

func TestEnqueueNewBatch(t *testing.T) {
	q, s, _ := newTestQueue(t)
	ctx := context.Background()

	locals := []string{
		writeTempFile(t, "a.bin", 10),
		writeTempFile(t, "b.bin", 20),
	}
	remotes := []string{"/Docs/a.bin", "/Docs/b.bin"}

	records, err := q.EnqueueNew(ctx, "acct1", locals, remotes, Policy{RequireWifi: true})
	if err != nil {
		t.Fatalf("enqueue new: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	for _, rec := range records {
		if rec.CollisionPolicy != store.CollisionRename {
			t.Errorf("record %s policy = %s, want default rename", rec.ID, rec.CollisionPolicy)
		}
		if !rec.RequireWifi {
			t.Errorf("record %s lost wifi constraint", rec.ID)
		}
	}

	all, err := s.ListByAccount(ctx, "acct1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("got %d stored records, want 2", len(all))
	}
}

func TestEnqueueNewBatchLengthMismatch(t *testing.T) {
	q, _, _ := newTestQueue(t)

	_, err := q.EnqueueNew(context.Background(), "acct1", []string{"/a"}, nil, Policy{})
	if err == nil {
		t.Fatal("expected error for mismatched path slices")
	}
}

func TestEnqueueUpdateDefaultsToOverwrite(t *testing.T) {
	q, _, _ := newTestQueue(t)
	ctx := context.Background()
	local := writeTempFile(t, "a.bin", 10)

	records, err := q.EnqueueUpdate(ctx, "acct1", []string{local}, []string{"/Docs/a.bin"}, Policy{})
	if err != nil {
		t.Fatalf("enqueue update: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	if records[0].CollisionPolicy != store.CollisionOverwrite {
		t.Errorf("policy = %s, want overwrite for an update", records[0].CollisionPolicy)
	}
	if records[0].CreatedBy != store.CreatedByUpdateSync {
		t.Errorf("created by = %s, want update-sync", records[0].CreatedBy)
	}
}

func TestEnqueueBatchSkipsDuplicates(t *testing.T) {
	q, s, _ := newTestQueue(t)
	ctx := context.Background()
	local := writeTempFile(t, "a.bin", 10)

	if _, err := q.EnqueueNew(ctx, "acct1", []string{local}, []string{"/Docs/a.bin"}, Policy{}); err != nil {
		t.Fatalf("first batch: %v", err)
	}
	records, err := q.EnqueueNew(ctx, "acct1", []string{local}, []string{"/Docs/a.bin"}, Policy{})
	if err != nil {
		t.Fatalf("second batch: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want the coalesced one", len(records))
	}

	all, err := s.ListByAccount(ctx, "acct1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("got %d stored records, want 1", len(all))
	}
}

func TestCoalesceLosesToConcurrentCancel(t *testing.T) {
	q, s, _ := newTestQueue(t)
	ctx := context.Background()
	local := writeTempFile(t, "a.bin", 64)

	rec, err := q.Enqueue(ctx, Request{
		AccountID:  "acct1",
		LocalPath:  local,
		RemotePath: "/Docs/a.bin",
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	// Stale snapshot of the record, taken before the cancel lands. A second
	// enqueue holds exactly this between its lookup and its refresh.
	snapshot := *rec

	if err := q.Cancel(ctx, rec.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	live, err := q.coalesce(ctx, &snapshot, Request{
		AccountID:       "acct1",
		LocalPath:       local,
		RemotePath:      "/Docs/a.bin",
		CollisionPolicy: store.CollisionOverwrite,
	})
	if err != nil {
		t.Fatalf("coalesce: %v", err)
	}
	if live {
		t.Error("coalesce reported the cancelled record as live")
	}

	got, err := s.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != store.StatusCancelled {
		t.Errorf("status = %s, want the cancel to stand", got.Status)
	}
}
