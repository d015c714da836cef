package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec := NewRecord("acct1", "/tmp/a.jpg", "/Photos/a.jpg", 1024)
	rec.MimeType = "image/jpeg"
	if err := s.Save(ctx, rec); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := s.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.LocalPath != "/tmp/a.jpg" || got.RemotePath != "/Photos/a.jpg" {
		t.Errorf("paths mismatch: %q -> %q", got.LocalPath, got.RemotePath)
	}
	if got.Status != StatusPending {
		t.Errorf("expected pending, got %v", got.Status)
	}
	if got.MimeType != "image/jpeg" {
		t.Errorf("expected mime type preserved, got %q", got.MimeType)
	}
	if got.Size != 1024 {
		t.Errorf("expected size 1024, got %d", got.Size)
	}
}

func TestGetNotFound(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListPendingAndInProgressOrder(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first := NewRecord("acct1", "/tmp/1", "/r/1", 1)
	first.CreatedAt = time.Now().UTC().Add(-2 * time.Second)
	second := NewRecord("acct1", "/tmp/2", "/r/2", 1)
	second.CreatedAt = time.Now().UTC().Add(-1 * time.Second)
	done := NewRecord("acct1", "/tmp/3", "/r/3", 1)
	done.Status = StatusSucceeded
	other := NewRecord("acct2", "/tmp/4", "/r/4", 1)

	for _, r := range []*UploadRecord{second, first, done, other} {
		if err := s.Save(ctx, r); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}

	recs, err := s.ListPendingAndInProgress(ctx, "acct1")
	if err != nil {
		t.Fatalf("ListPendingAndInProgress failed: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	if recs[0].ID != first.ID || recs[1].ID != second.ID {
		t.Errorf("expected insertion order [%s %s], got [%s %s]",
			first.ID, second.ID, recs[0].ID, recs[1].ID)
	}
}

func TestClaimInProgress(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec := NewRecord("acct1", "/tmp/a", "/r/a", 1)
	if err := s.Save(ctx, rec); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	claimed, err := s.ClaimInProgress(ctx, rec.ID, 30*time.Minute)
	if err != nil {
		t.Fatalf("ClaimInProgress failed: %v", err)
	}
	if !claimed {
		t.Fatal("first claim should succeed")
	}

	// A second claimant must lose: the record is already in progress and fresh.
	claimed, err = s.ClaimInProgress(ctx, rec.ID, 30*time.Minute)
	if err != nil {
		t.Fatalf("second ClaimInProgress failed: %v", err)
	}
	if claimed {
		t.Error("second claim should be rejected")
	}

	got, err := s.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != StatusInProgress {
		t.Errorf("expected in_progress, got %v", got.Status)
	}
}

func TestClaimStaleInProgress(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec := NewRecord("acct1", "/tmp/a", "/r/a", 1)
	if err := s.Save(ctx, rec); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, err := s.ClaimInProgress(ctx, rec.ID, time.Minute); err != nil {
		t.Fatalf("claim failed: %v", err)
	}

	// With a zero staleness window every in_progress record counts as
	// abandoned, so the re-claim goes through.
	claimed, err := s.ClaimInProgress(ctx, rec.ID, 0)
	if err != nil {
		t.Fatalf("re-claim failed: %v", err)
	}
	if !claimed {
		t.Error("stale in_progress record should be claimable")
	}
}

func TestUpdateResultIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec := NewRecord("acct1", "/tmp/a", "/r/a", 1)
	if err := s.Save(ctx, rec); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	err := s.UpdateResult(ctx, rec.ID, StatusSucceeded, TerminalResult{RemoteFileID: "42"})
	if err != nil {
		t.Fatalf("UpdateResult failed: %v", err)
	}

	// Loser of the finalization race gets ErrConflict, record is untouched.
	err = s.UpdateResult(ctx, rec.ID, StatusCancelled, TerminalResult{ErrorCode: ErrCodeCancelled})
	if !errors.Is(err, ErrConflict) {
		t.Errorf("expected ErrConflict, got %v", err)
	}

	got, err := s.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != StatusSucceeded || got.RemoteFileID != "42" {
		t.Errorf("record clobbered by losing write: %v %q", got.Status, got.RemoteFileID)
	}
}

func TestUpdateResultRejectsNonTerminal(t *testing.T) {
	s := openTestStore(t)
	rec := NewRecord("acct1", "/tmp/a", "/r/a", 1)
	if err := s.Save(context.Background(), rec); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := s.UpdateResult(context.Background(), rec.ID, StatusPending, TerminalResult{}); err == nil {
		t.Error("expected error for non-terminal status")
	}
}

func TestResetForRetry(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec := NewRecord("acct1", "/tmp/a", "/r/a", 1)
	if err := s.Save(ctx, rec); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// Pending records are not retryable.
	ok, err := s.ResetForRetry(ctx, rec.ID)
	if err != nil {
		t.Fatalf("ResetForRetry failed: %v", err)
	}
	if ok {
		t.Error("retry of a pending record should be rejected")
	}

	if err := s.UpdateResult(ctx, rec.ID, StatusFailed, TerminalResult{ErrorCode: ErrCodeNetwork}); err != nil {
		t.Fatalf("UpdateResult failed: %v", err)
	}

	ok, err = s.ResetForRetry(ctx, rec.ID)
	if err != nil {
		t.Fatalf("ResetForRetry failed: %v", err)
	}
	if !ok {
		t.Fatal("retry of a failed record should succeed")
	}

	got, err := s.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != StatusPending {
		t.Errorf("expected pending after retry, got %v", got.Status)
	}
	if got.LastError != "" {
		t.Errorf("expected error code cleared, got %q", got.LastError)
	}
}

func TestFindActiveDedup(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec := NewRecord("acct1", "/tmp/a", "/r/a", 1)
	if err := s.Save(ctx, rec); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	found, err := s.FindActive(ctx, "acct1", "/tmp/a", "/r/a")
	if err != nil {
		t.Fatalf("FindActive failed: %v", err)
	}
	if found.ID != rec.ID {
		t.Errorf("expected %s, got %s", rec.ID, found.ID)
	}

	// Terminal records do not count as active.
	if err := s.UpdateResult(ctx, rec.ID, StatusSucceeded, TerminalResult{RemoteFileID: "1"}); err != nil {
		t.Fatalf("UpdateResult failed: %v", err)
	}
	if _, err := s.FindActive(ctx, "acct1", "/tmp/a", "/r/a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after finalization, got %v", err)
	}
}

func TestUpdateRemotePath(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec := NewRecord("acct1", "/tmp/a.jpg", "/Photos/a.jpg", 1)
	if err := s.Save(ctx, rec); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := s.UpdateRemotePath(ctx, rec.ID, "/Photos/a (2).jpg"); err != nil {
		t.Fatalf("UpdateRemotePath failed: %v", err)
	}
	got, err := s.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.RemotePath != "/Photos/a (2).jpg" {
		t.Errorf("expected renamed path, got %q", got.RemotePath)
	}
}

func TestRemoveOnlyTerminal(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec := NewRecord("acct1", "/tmp/a", "/r/a", 1)
	if err := s.Save(ctx, rec); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := s.Remove(ctx, rec.ID); !errors.Is(err, ErrConflict) {
		t.Errorf("expected ErrConflict removing pending record, got %v", err)
	}

	if err := s.UpdateResult(ctx, rec.ID, StatusFailed, TerminalResult{ErrorCode: ErrCodeUnknown}); err != nil {
		t.Fatalf("UpdateResult failed: %v", err)
	}
	if err := s.Remove(ctx, rec.ID); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if _, err := s.Get(ctx, rec.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after remove, got %v", err)
	}
}

func TestSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	rec := NewRecord("acct1", "/tmp/a", "/r/a", 1)
	if err := s.Save(ctx, rec); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	s.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s2.Close()

	got, err := s2.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Get after reopen failed: %v", err)
	}
	if got.Status != StatusPending {
		t.Errorf("expected pending after reopen, got %v", got.Status)
	}
}

func TestListAllSpansAccounts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i, acct := range []string{"acct1", "acct2", "acct1"} {
		rec := NewRecord(acct, fmt.Sprintf("/tmp/f%d", i), fmt.Sprintf("/r/f%d", i), 1)
		if err := s.Save(ctx, rec); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}

	all, err := s.ListAll(ctx)
	if err != nil {
		t.Fatalf("ListAll failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d records, want 3 across both accounts", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].AccountID < all[i-1].AccountID {
			t.Errorf("records not grouped by account: %s after %s", all[i].AccountID, all[i-1].AccountID)
		}
	}
}
