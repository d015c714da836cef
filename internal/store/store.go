package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Store is the durable upload queue, backed by a local SQLite database.
// It is the single source of truth: overlapping worker invocations, the
// enqueue policy and user-initiated cancels all coordinate through the
// guarded updates below rather than in-memory locks, so the coordination
// survives process restarts.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS uploads (
	id               TEXT PRIMARY KEY,
	account_id       TEXT NOT NULL,
	local_path       TEXT NOT NULL,
	remote_path      TEXT NOT NULL,
	status           TEXT NOT NULL,
	collision_policy TEXT NOT NULL,
	local_action     TEXT NOT NULL,
	require_wifi     INTEGER NOT NULL DEFAULT 0,
	require_charging INTEGER NOT NULL DEFAULT 0,
	created_by       TEXT NOT NULL,
	file_size        INTEGER NOT NULL DEFAULT 0,
	mime_type        TEXT NOT NULL DEFAULT '',
	remote_file_id   TEXT,
	last_error_code  TEXT,
	created_at       INTEGER NOT NULL,
	updated_at       INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_uploads_account_status ON uploads(account_id, status);
CREATE UNIQUE INDEX IF NOT EXISTS idx_uploads_active
	ON uploads(account_id, local_path, remote_path)
	WHERE status IN ('pending','in_progress');
`

// Open opens (creating if needed) the upload queue database under dataDir.
// The database is opened with WAL mode and a single writer connection.
func Open(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, storeErr("open", fmt.Errorf("failed to create data directory: %w", err))
	}

	dbPath := filepath.Join(dataDir, "uploads.db")

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, storeErr("open", err)
	}

	// SQLite doesn't support multiple writers
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, storeErr("open", fmt.Errorf("failed to enable WAL mode: %w", err))
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000;"); err != nil {
		db.Close()
		return nil, storeErr("open", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, storeErr("open", fmt.Errorf("failed to create schema: %w", err))
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

const recordColumns = `id, account_id, local_path, remote_path, status,
	collision_policy, local_action, require_wifi, require_charging, created_by,
	file_size, mime_type, remote_file_id, last_error_code, created_at, updated_at`

func scanRecord(row interface{ Scan(...any) error }) (*UploadRecord, error) {
	var rec UploadRecord
	var remoteID, errCode sql.NullString
	var createdAt, updatedAt int64
	err := row.Scan(
		&rec.ID, &rec.AccountID, &rec.LocalPath, &rec.RemotePath, &rec.Status,
		&rec.CollisionPolicy, &rec.LocalAction, &rec.RequireWifi, &rec.RequireCharging,
		&rec.CreatedBy, &rec.Size, &rec.MimeType, &remoteID, &errCode,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.RemoteFileID = remoteID.String
	rec.LastError = ErrorCode(errCode.String)
	rec.CreatedAt = time.UnixMilli(createdAt).UTC()
	rec.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return &rec, nil
}

// Save inserts or updates a record. The caller owns status semantics; Save
// itself does not guard transitions (use ClaimInProgress / UpdateResult for
// those). A unique-index violation on the active-record index surfaces as a
// StoreError; the enqueue policy checks for duplicates before inserting, the
// index is the backstop.
func (s *Store) Save(ctx context.Context, rec *UploadRecord) error {
	rec.UpdatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO uploads (`+recordColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			remote_path = excluded.remote_path,
			status = excluded.status,
			collision_policy = excluded.collision_policy,
			local_action = excluded.local_action,
			require_wifi = excluded.require_wifi,
			require_charging = excluded.require_charging,
			file_size = excluded.file_size,
			mime_type = excluded.mime_type,
			remote_file_id = excluded.remote_file_id,
			last_error_code = excluded.last_error_code,
			updated_at = excluded.updated_at`,
		rec.ID, rec.AccountID, rec.LocalPath, rec.RemotePath, rec.Status,
		rec.CollisionPolicy, rec.LocalAction, rec.RequireWifi, rec.RequireCharging,
		rec.CreatedBy, rec.Size, rec.MimeType,
		nullable(rec.RemoteFileID), nullable(string(rec.LastError)),
		rec.CreatedAt.UnixMilli(), rec.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return storeErr("save", err)
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Get returns the record with the given id.
func (s *Store) Get(ctx context.Context, id string) (*UploadRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM uploads WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storeErr("get", err)
	}
	return rec, nil
}

// FindActive returns the non-terminal record for the (account, local, remote)
// triple, or ErrNotFound. Used by the enqueue policy for deduplication.
func (s *Store) FindActive(ctx context.Context, accountID, localPath, remotePath string) (*UploadRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM uploads
		 WHERE account_id = ? AND local_path = ? AND remote_path = ?
		   AND status IN ('pending','in_progress')`,
		accountID, localPath, remotePath)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storeErr("find_active", err)
	}
	return rec, nil
}

// ListPendingAndInProgress returns the account's open records in insertion
// order. The result is a stable snapshot: records enqueued afterwards are not
// part of the same invocation.
func (s *Store) ListPendingAndInProgress(ctx context.Context, accountID string) ([]*UploadRecord, error) {
	return s.list(ctx, `SELECT `+recordColumns+` FROM uploads
		WHERE account_id = ? AND status IN ('pending','in_progress')
		ORDER BY created_at, id`, accountID)
}

// ListByAccount returns every record for the account, open and terminal,
// in insertion order.
func (s *Store) ListByAccount(ctx context.Context, accountID string) ([]*UploadRecord, error) {
	return s.list(ctx, `SELECT `+recordColumns+` FROM uploads
		WHERE account_id = ? ORDER BY created_at, id`, accountID)
}

// ListAll returns every record in the queue in insertion order, including
// records whose account is no longer configured. They stay visible and
// retryable while they wait for the account to come back.
func (s *Store) ListAll(ctx context.Context) ([]*UploadRecord, error) {
	return s.list(ctx, `SELECT `+recordColumns+` FROM uploads
		ORDER BY account_id, created_at, id`)
}

// ListFailed returns the account's failed records in insertion order.
func (s *Store) ListFailed(ctx context.Context, accountID string) ([]*UploadRecord, error) {
	return s.list(ctx, `SELECT `+recordColumns+` FROM uploads
		WHERE account_id = ? AND status = 'failed' ORDER BY created_at, id`, accountID)
}

func (s *Store) list(ctx context.Context, query string, args ...any) ([]*UploadRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("list", err)
	}
	defer rows.Close()

	var out []*UploadRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, storeErr("list", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list", err)
	}
	return out, nil
}

// ClaimInProgress transitions a record from pending to in_progress. This is
// the serialization point between overlapping invocations: the guarded UPDATE
// succeeds for exactly one claimant, everyone else sees claimed=false and
// skips the record. An in_progress record whose last status change is at
// least staleAfter old was abandoned by a crashed invocation and is claimable
// again; a claim exactly at the window edge counts as stale.
func (s *Store) ClaimInProgress(ctx context.Context, id string, staleAfter time.Duration) (bool, error) {
	now := time.Now().UTC()
	staleBefore := now.Add(-staleAfter).UnixMilli()
	res, err := s.db.ExecContext(ctx, `
		UPDATE uploads SET status = 'in_progress', updated_at = ?
		WHERE id = ? AND (status = 'pending'
			OR (status = 'in_progress' AND updated_at <= ?))`,
		now.UnixMilli(), id, staleBefore)
	if err != nil {
		return false, storeErr("claim", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storeErr("claim", err)
	}
	return n == 1, nil
}

// UpdateResult atomically finalizes a record. Already-terminal records are
// left untouched and reported as ErrConflict, which makes concurrent
// finalization (executor vs. user cancel) and retried calls idempotent.
func (s *Store) UpdateResult(ctx context.Context, id string, status Status, result TerminalResult) error {
	if !status.IsTerminal() {
		return fmt.Errorf("update result: %q is not a terminal status", status)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE uploads SET status = ?, remote_file_id = ?, last_error_code = ?, updated_at = ?
		WHERE id = ? AND status NOT IN ('succeeded','failed','cancelled')`,
		status, nullable(result.RemoteFileID), nullable(string(result.ErrorCode)),
		time.Now().UTC().UnixMilli(), id)
	if err != nil {
		return storeErr("update_result", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storeErr("update_result", err)
	}
	if n == 0 {
		if _, err := s.Get(ctx, id); errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return ErrConflict
	}
	return nil
}

// RefreshActive rewrites the policy and constraint columns of a record while
// it is still live. The status guard keeps a concurrent terminal write
// (a cancel, or a finishing transfer) from being overwritten by a stale
// snapshot. Returns false when the record is no longer pending or in
// progress.
func (s *Store) RefreshActive(ctx context.Context, rec *UploadRecord) (bool, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE uploads SET collision_policy = ?, local_action = ?, require_wifi = ?,
			require_charging = ?, created_by = ?, updated_at = ?
		WHERE id = ? AND status IN ('pending','in_progress')`,
		string(rec.CollisionPolicy), string(rec.LocalAction), rec.RequireWifi,
		rec.RequireCharging, string(rec.CreatedBy), now.UnixMilli(), rec.ID)
	if err != nil {
		return false, storeErr("refresh", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storeErr("refresh", err)
	}
	if n != 1 {
		return false, nil
	}
	rec.UpdatedAt = now
	return true, nil
}

// ResetForRetry transitions a failed or cancelled record back to pending and
// clears its error metadata. Returns false when the record is not retryable
// (already pending, in progress, or succeeded).
func (s *Store) ResetForRetry(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE uploads SET status = 'pending', last_error_code = NULL, remote_file_id = NULL, updated_at = ?
		WHERE id = ? AND status IN ('failed','cancelled')`,
		time.Now().UTC().UnixMilli(), id)
	if err != nil {
		return false, storeErr("reset_retry", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storeErr("reset_retry", err)
	}
	return n == 1, nil
}

// UpdateRemotePath rewrites the record's remote path after a rename-policy
// collision resolution. The change is persisted before the terminal write so
// observers and the final record agree on the path actually used.
func (s *Store) UpdateRemotePath(ctx context.Context, id, remotePath string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE uploads SET remote_path = ?, updated_at = ? WHERE id = ?`,
		remotePath, time.Now().UTC().UnixMilli(), id)
	if err != nil {
		return storeErr("update_remote_path", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Remove deletes a terminal record. Non-terminal records are never deleted;
// attempting it returns ErrConflict.
func (s *Store) Remove(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM uploads WHERE id = ? AND status IN ('succeeded','failed','cancelled')`, id)
	if err != nil {
		return storeErr("remove", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storeErr("remove", err)
	}
	if n == 0 {
		if _, err := s.Get(ctx, id); errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return ErrConflict
	}
	return nil
}

// ClearSucceeded prunes succeeded records for an account. Returns the number
// of rows removed.
func (s *Store) ClearSucceeded(ctx context.Context, accountID string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM uploads WHERE account_id = ? AND status = 'succeeded'`, accountID)
	if err != nil {
		return 0, storeErr("clear_succeeded", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storeErr("clear_succeeded", err)
	}
	return n, nil
}
