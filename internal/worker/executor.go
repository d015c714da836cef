package worker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/cloudlift/cloudlift-agent/internal/events"
	"github.com/cloudlift/cloudlift-agent/internal/progress"
	"github.com/cloudlift/cloudlift-agent/internal/remote"
	"github.com/cloudlift/cloudlift-agent/internal/store"
	"github.com/cloudlift/cloudlift-agent/internal/util/paths"
)

// execute runs one claimed record to a terminal status and returns the status
// it ended in. The terminal write is guarded; losing it to a concurrent
// cancellation means the cancellation stands and we report cancelled. A store
// failure on the terminal write is returned so the whole invocation fails and
// the scheduler retries: the record cannot be left silently wedged.
func (w *Worker) execute(ctx context.Context, client remote.Client, rec *store.UploadRecord) (store.Status, error) {
	w.logger.Info().
		Str("record", rec.ID).
		Str("local", rec.LocalPath).
		Str("remote", rec.RemotePath).
		Int64("size", rec.Size).
		Msg("upload started")

	if w.notifier != nil {
		w.notifier.UploadStarted(rec)
	}
	w.publish(events.EventUploadStarted, rec)

	reporter := progress.NewReporter(rec, w.sink, w.bus)
	defer reporter.Finish()

	res := w.transfer(ctx, client, rec, reporter)
	if res.OK {
		return w.finishSucceeded(ctx, rec, res)
	}
	return w.finishFailed(ctx, rec, res)
}

// finishSucceeded and finishFailed persist the terminal state. Their error
// return is non-nil only for store failures; ErrConflict is absorbed as a
// lost (and respected) cancellation race.

// transfer performs the attempt itself. The local file is re-checked here so
// a file deleted between enqueue and execution fails with a local_io code
// instead of a backend-specific open error.
func (w *Worker) transfer(ctx context.Context, client remote.Client, rec *store.UploadRecord, reporter *progress.Reporter) remote.Result {
	info, err := os.Stat(rec.LocalPath)
	if err != nil {
		return remote.Failed(store.ErrCodeLocalIO, err)
	}

	req := remote.Request{
		LocalPath:       rec.LocalPath,
		RemotePath:      rec.RemotePath,
		Size:            info.Size(),
		MimeType:        rec.MimeType,
		CollisionPolicy: rec.CollisionPolicy,
	}
	return client.Upload(ctx, req, func(transferred, total int64, name string) {
		reporter.Report(transferred, total)
	})
}

func (w *Worker) finishSucceeded(ctx context.Context, rec *store.UploadRecord, res remote.Result) (store.Status, error) {
	// A rename-policy deflection changes the remote path before the record
	// goes terminal, so the final path is what history shows.
	if res.RemotePath != "" && res.RemotePath != rec.RemotePath {
		if err := w.store.UpdateRemotePath(ctx, rec.ID, res.RemotePath); err != nil {
			w.logger.Warn().Err(err).Str("record", rec.ID).Msg("failed to persist renamed remote path")
		} else {
			rec.RemotePath = res.RemotePath
		}
	}

	err := w.store.UpdateResult(ctx, rec.ID, store.StatusSucceeded, store.TerminalResult{
		RemoteFileID: res.RemoteFileID,
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			// Cancelled while the transfer ran; the cancellation wins even
			// though the bytes made it.
			w.logger.Info().Str("record", rec.ID).Msg("upload finished after cancellation, keeping cancelled state")
			return store.StatusCancelled, nil
		}
		w.logger.Error().Err(err).Str("record", rec.ID).Msg("failed to record upload success")
		return store.StatusInProgress, err
	}

	w.logger.Info().
		Str("record", rec.ID).
		Str("remote", rec.RemotePath).
		Str("remote_id", res.RemoteFileID).
		Msg("upload succeeded")

	rec.Status = store.StatusSucceeded
	rec.RemoteFileID = res.RemoteFileID
	if w.notifier != nil {
		w.notifier.UploadComplete(rec)
	}
	if w.thumbs != nil {
		w.thumbs.Enqueue(rec)
	}
	w.applyLocalAction(rec)
	w.publish(events.EventUploadSucceeded, rec)
	return store.StatusSucceeded, nil
}

func (w *Worker) finishFailed(ctx context.Context, rec *store.UploadRecord, res remote.Result) (store.Status, error) {
	status := store.StatusFailed
	if res.Code == store.ErrCodeCancelled {
		status = store.StatusCancelled
	}

	err := w.store.UpdateResult(ctx, rec.ID, status, store.TerminalResult{ErrorCode: res.Code})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return store.StatusCancelled, nil
		}
		w.logger.Error().Err(err).Str("record", rec.ID).Msg("failed to record upload failure")
		return store.StatusInProgress, err
	}

	w.logger.Warn().
		Str("record", rec.ID).
		Str("local", rec.LocalPath).
		Str("code", string(res.Code)).
		Err(res.Cause).
		Msg("upload failed")

	rec.Status = status
	rec.LastError = res.Code
	if status == store.StatusFailed && w.notifier != nil {
		w.notifier.UploadFailed(rec)
	}
	if status == store.StatusCancelled {
		w.publish(events.EventUploadCancelled, rec)
	} else {
		w.publish(events.EventUploadFailed, rec)
	}
	return status, nil
}

// applyLocalAction moves or deletes the source file after a success. Local
// action failures are logged only; the upload already succeeded.
func (w *Worker) applyLocalAction(rec *store.UploadRecord) {
	switch rec.LocalAction {
	case store.LocalDelete:
		if err := os.Remove(rec.LocalPath); err != nil {
			w.logger.Warn().Err(err).Str("record", rec.ID).Msg("failed to delete uploaded source file")
		}
	case store.LocalMove:
		if w.archiveDir == "" {
			return
		}
		if err := w.moveToArchive(rec.LocalPath); err != nil {
			w.logger.Warn().Err(err).Str("record", rec.ID).Msg("failed to archive uploaded source file")
		}
	}
}

func (w *Worker) moveToArchive(localPath string) error {
	if err := os.MkdirAll(w.archiveDir, 0o755); err != nil {
		return err
	}
	target := filepath.Join(w.archiveDir, filepath.Base(localPath))
	if _, err := os.Stat(target); err == nil {
		target, err = paths.RenameCandidate(target, func(p string) (bool, error) {
			_, statErr := os.Stat(p)
			if statErr == nil {
				return true, nil
			}
			if os.IsNotExist(statErr) {
				return false, nil
			}
			return false, statErr
		})
		if err != nil {
			return err
		}
	}
	return os.Rename(localPath, target)
}

func (w *Worker) publish(eventType events.EventType, rec *store.UploadRecord) {
	if w.bus == nil {
		return
	}
	w.bus.Publish(&events.UploadEvent{
		BaseEvent:  events.BaseEvent{EventType: eventType, Time: time.Now()},
		RecordID:   rec.ID,
		AccountID:  rec.AccountID,
		LocalPath:  rec.LocalPath,
		RemotePath: rec.RemotePath,
		Size:       rec.Size,
		RemoteID:   rec.RemoteFileID,
		ErrorCode:  string(rec.LastError),
	})
}
