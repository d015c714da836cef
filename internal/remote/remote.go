// Package remote defines the transfer client boundary. A Client performs one
// upload attempt and reports the outcome as a tagged Result; failures never
// propagate as panics or naked errors into the worker loop.
package remote

import (
	"context"
	"errors"
	"strings"

	"github.com/cloudlift/cloudlift-agent/internal/store"
)

// Request describes one transfer attempt.
type Request struct {
	LocalPath       string
	RemotePath      string
	Size            int64
	MimeType        string
	CollisionPolicy store.CollisionPolicy
}

// ProgressFunc receives byte-level progress callbacks from a backend.
// Backends call it zero or more times with monotonically non-decreasing
// transferred counts. total may be 0 if the size is unknown.
type ProgressFunc func(transferred, total int64, name string)

// Result is the tagged outcome of one transfer attempt.
type Result struct {
	OK           bool
	RemoteFileID string          // set on success
	RemotePath   string          // final remote path; differs from the request on a rename
	Code         store.ErrorCode // set on failure
	Cause        error           // set on failure
}

// Succeeded builds a success result.
func Succeeded(remoteFileID, remotePath string) Result {
	return Result{OK: true, RemoteFileID: remoteFileID, RemotePath: remotePath}
}

// Failed builds a failure result, classifying cause when code is empty.
func Failed(code store.ErrorCode, cause error) Result {
	if code == "" {
		code = Classify(cause)
	}
	return Result{OK: false, Code: code, Cause: cause}
}

// Client performs uploads against one account's backend.
type Client interface {
	// Upload transfers the file, applying the request's collision policy.
	// The returned Result is terminal for this attempt; retries are a queue
	// decision, not a client one.
	Upload(ctx context.Context, req Request, progress ProgressFunc) Result

	// Exists probes whether a remote path is occupied.
	Exists(ctx context.Context, remotePath string) (bool, error)
}

// ErrCollision marks a remote path conflict under an ask/cancel policy.
var ErrCollision = errors.New("remote path already exists")

// Classify maps a backend error onto the record error taxonomy. Matching is
// string-based across backends; each backend wraps its SDK errors so the
// stable substrings below survive.
func Classify(err error) store.ErrorCode {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return store.ErrCodeCancelled
	}
	if errors.Is(err, ErrCollision) {
		return store.ErrCodeCollision
	}

	errStr := strings.ToLower(err.Error())

	switch {
	case strings.Contains(errStr, "no such file"),
		strings.Contains(errStr, "permission denied"),
		strings.Contains(errStr, "is a directory"):
		return store.ErrCodeLocalIO
	case strings.Contains(errStr, "401"),
		strings.Contains(errStr, "403"),
		strings.Contains(errStr, "unauthorized"),
		strings.Contains(errStr, "forbidden"),
		strings.Contains(errStr, "expired"),
		strings.Contains(errStr, "invalid token"),
		strings.Contains(errStr, "authentication"):
		return store.ErrCodeAuth
	case strings.Contains(errStr, "409"),
		strings.Contains(errStr, "already exists"),
		strings.Contains(errStr, "conflict"):
		return store.ErrCodeCollision
	case strings.Contains(errStr, "507"),
		strings.Contains(errStr, "insufficient storage"),
		strings.Contains(errStr, "quota"):
		return store.ErrCodeQuota
	case strings.Contains(errStr, "timeout"),
		strings.Contains(errStr, "connection refused"),
		strings.Contains(errStr, "connection reset"),
		strings.Contains(errStr, "no such host"),
		strings.Contains(errStr, "eof"),
		strings.Contains(errStr, "502"),
		strings.Contains(errStr, "503"),
		strings.Contains(errStr, "network"):
		return store.ErrCodeNetwork
	}
	return store.ErrCodeUnknown
}
