// Package store persists the upload queue. Each queued transfer is one
// UploadRecord row in a local SQLite database; all cross-invocation
// coordination happens through guarded status updates on that row.
package store

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of an upload record.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// IsTerminal reports whether no further automatic transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCancelled
}

// CanRetry reports whether an explicit retry may reset this status to pending.
func (s Status) CanRetry() bool {
	return s == StatusFailed || s == StatusCancelled
}

// CollisionPolicy is the rule applied when the remote path already exists.
type CollisionPolicy string

const (
	CollisionOverwrite CollisionPolicy = "overwrite"
	CollisionRename    CollisionPolicy = "rename"
	CollisionAsk       CollisionPolicy = "ask"
	CollisionCancel    CollisionPolicy = "cancel"
)

// LocalAction is what happens to the local file after a successful upload.
type LocalAction string

const (
	LocalNone   LocalAction = "none"
	LocalMove   LocalAction = "move"
	LocalDelete LocalAction = "delete"
)

// CreatedBy tags the origin of an upload request.
type CreatedBy string

const (
	CreatedByManual       CreatedBy = "manual"
	CreatedByInstantPhoto CreatedBy = "instant-photo"
	CreatedByInstantVideo CreatedBy = "instant-video"
	CreatedByUpdateSync   CreatedBy = "update-sync"
)

// ErrorCode is the small taxonomy recorded on failed records.
type ErrorCode string

const (
	ErrCodeNetwork   ErrorCode = "network"
	ErrCodeAuth      ErrorCode = "auth"
	ErrCodeCollision ErrorCode = "collision"
	ErrCodeLocalIO   ErrorCode = "local_io"
	ErrCodeQuota     ErrorCode = "quota"
	ErrCodeCancelled ErrorCode = "cancelled"
	ErrCodeUnknown   ErrorCode = "unknown"
)

// UploadRecord is one durable queue entry. The id is assigned at creation
// and never changes; local and remote paths are immutable afterwards except
// for the rename-policy remote path update.
type UploadRecord struct {
	ID         string
	AccountID  string
	LocalPath  string
	RemotePath string
	Size       int64
	MimeType   string

	CollisionPolicy CollisionPolicy
	LocalAction     LocalAction
	RequireWifi     bool
	RequireCharging bool
	CreatedBy       CreatedBy

	Status       Status
	RemoteFileID string    // set only on succeeded
	LastError    ErrorCode // set only on failed

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewRecord creates a pending record with a fresh id.
func NewRecord(accountID, localPath, remotePath string, size int64) *UploadRecord {
	now := time.Now().UTC()
	return &UploadRecord{
		ID:              uuid.NewString(),
		AccountID:       accountID,
		LocalPath:       localPath,
		RemotePath:      remotePath,
		Size:            size,
		CollisionPolicy: CollisionRename,
		LocalAction:     LocalNone,
		CreatedBy:       CreatedByManual,
		Status:          StatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// TerminalResult is the metadata written together with a terminal status.
type TerminalResult struct {
	RemoteFileID string    // succeeded only
	ErrorCode    ErrorCode // failed only
}
