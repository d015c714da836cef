// Package notify sends cross-platform desktop notifications for upload
// outcomes. It uses github.com/gen2brain/beeep for cross-platform support.
package notify

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/gen2brain/beeep"

	"github.com/cloudlift/cloudlift-agent/internal/config"
	"github.com/cloudlift/cloudlift-agent/internal/logging"
	"github.com/cloudlift/cloudlift-agent/internal/store"
)

// Notifier handles desktop notifications for upload state changes.
type Notifier struct {
	logger *logging.Logger

	mu           sync.RWMutex
	enabled      bool
	showComplete bool
	showFailed   bool
}

// New creates a notifier from the notification section of the config.
func New(cfg config.NotificationConfig, logger *logging.Logger) *Notifier {
	return &Notifier{
		logger:       logger,
		enabled:      cfg.Enabled,
		showComplete: cfg.ShowUploadComplete,
		showFailed:   cfg.ShowUploadFailed,
	}
}

// SetEnabled enables or disables all notifications.
func (n *Notifier) SetEnabled(enabled bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.enabled = enabled
}

// IsEnabled returns whether notifications are enabled.
func (n *Notifier) IsEnabled() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.enabled
}

// UploadStarted announces that a transfer began. Only uploads a person
// triggered directly get a start notification; automatic uploads would spam.
func (n *Notifier) UploadStarted(rec *store.UploadRecord) {
	if !n.IsEnabled() || rec.CreatedBy != store.CreatedByManual {
		return
	}

	title := "Uploading"
	message := fmt.Sprintf("%s → %s", filepath.Base(rec.LocalPath), shortenPath(rec.RemotePath))
	if err := n.send(title, message); err != nil {
		n.logger.Warn().Err(err).Str("record", rec.ID).Msg("Failed to send upload started notification")
	}
}

// UploadComplete announces a successful upload.
func (n *Notifier) UploadComplete(rec *store.UploadRecord) {
	n.mu.RLock()
	show := n.enabled && n.showComplete
	n.mu.RUnlock()
	if !show {
		return
	}

	title := "Upload Complete"
	message := fmt.Sprintf("%s uploaded to:\n%s", filepath.Base(rec.LocalPath), shortenPath(rec.RemotePath))
	if err := n.send(title, message); err != nil {
		n.logger.Warn().Err(err).Str("record", rec.ID).Msg("Failed to send upload complete notification")
	}
}

// UploadFailed announces a permanently failed upload.
func (n *Notifier) UploadFailed(rec *store.UploadRecord) {
	n.mu.RLock()
	show := n.enabled && n.showFailed
	n.mu.RUnlock()
	if !show {
		return
	}

	title := "Upload Failed"
	message := fmt.Sprintf("%s failed:\n%s", filepath.Base(rec.LocalPath), describeError(rec.LastError))
	if err := n.send(title, message); err != nil {
		n.logger.Warn().Err(err).Str("record", rec.ID).Msg("Failed to send upload failed notification")
	}
}

// send is the internal method that actually sends the notification.
func (n *Notifier) send(title, message string) error {
	// beeep.Notify is cross-platform:
	// - Windows: toast notifications
	// - macOS: NSUserNotificationCenter
	// - Linux: D-Bus notifications
	return beeep.Notify(title, message, "")
}

// describeError maps a taxonomy code to a short human phrase.
func describeError(code store.ErrorCode) string {
	switch code {
	case store.ErrCodeNetwork:
		return "the server could not be reached"
	case store.ErrCodeAuth:
		return "authentication was rejected, sign in again"
	case store.ErrCodeCollision:
		return "a file with the same name already exists"
	case store.ErrCodeLocalIO:
		return "the local file could not be read"
	case store.ErrCodeQuota:
		return "not enough space on the server"
	case store.ErrCodeCancelled:
		return "the upload was cancelled"
	default:
		return "an unexpected error occurred"
	}
}

// shortenPath abbreviates a long remote path for display in notifications.
func shortenPath(path string) string {
	const maxLen = 60

	if len(path) <= maxLen {
		return path
	}

	dir, file := filepath.Split(path)
	parent := filepath.Base(filepath.Clean(dir))
	return filepath.Join("...", parent, file)
}
