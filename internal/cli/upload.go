package cli

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/cloudlift/cloudlift-agent/internal/progress"
	"github.com/cloudlift/cloudlift-agent/internal/queue"
	"github.com/cloudlift/cloudlift-agent/internal/store"
	"github.com/cloudlift/cloudlift-agent/internal/worker"
)

func newUploadCmd() *cobra.Command {
	var (
		accountID   string
		onConflict  string
		localAction string
		wifiOnly    bool
		enqueueOnly bool
	)

	cmd := &cobra.Command{
		Use:   "upload <local-path> <remote-path>",
		Short: "Queue a file for upload and transfer it now",
		Long: `Queue a file for upload to the given remote path.

By default the queue is drained immediately with a progress bar. With
--enqueue-only the record just waits for the next run or daemon pass.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			localPath, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}

			if accountID == "" {
				accounts := a.resolver.List()
				if len(accounts) != 1 {
					return fmt.Errorf("--account is required when %d accounts are configured", len(accounts))
				}
				accountID = accounts[0].ID
			}

			policy, err := parseCollisionPolicy(onConflict)
			if err != nil {
				return err
			}
			action, err := parseLocalAction(localAction)
			if err != nil {
				return err
			}

			q := queue.New(a.store, nil, a.bus, logger)
			rec, err := q.Enqueue(rootContext, queue.Request{
				AccountID:       accountID,
				LocalPath:       localPath,
				RemotePath:      args[1],
				CollisionPolicy: policy,
				LocalAction:     action,
				RequireWifi:     wifiOnly,
				CreatedBy:       store.CreatedByManual,
			})
			if errors.Is(err, queue.ErrDuplicate) {
				fmt.Printf("Already queued as record %s, settings refreshed\n", rec.ID)
				err = nil
			}
			if err != nil {
				return err
			}

			if enqueueOnly {
				fmt.Printf("Queued %s (record %s)\n", args[0], rec.ID)
				return nil
			}

			w := worker.New(a.store, a.resolver, a.clientFactory(), worker.Options{
				Sink:       progress.NewSingleBar(),
				Bus:        a.bus,
				Notifier:   a.notifier,
				Thumbnails: a.thumbs,
				Conditions: worker.AlwaysReady{},
				ArchiveDir: a.cfg.Agent.ArchiveDir,
			}, logger)
			if err := a.thumbs.Start(); err != nil {
				logger.Warn().Err(err).Msg("thumbnail cache unavailable")
			}
			if err := w.Invoke(rootContext); err != nil {
				return err
			}

			final, err := a.store.Get(rootContext, rec.ID)
			if err != nil {
				return err
			}
			switch final.Status {
			case store.StatusSucceeded:
				fmt.Printf("Uploaded %s → %s\n", args[0], final.RemotePath)
				return nil
			case store.StatusCancelled:
				return fmt.Errorf("upload cancelled")
			default:
				return fmt.Errorf("upload %s: %s", final.Status, final.LastError)
			}
		},
	}

	cmd.Flags().StringVarP(&accountID, "account", "a", "", "Account id (optional with a single configured account)")
	cmd.Flags().StringVar(&onConflict, "on-conflict", "rename", "Collision policy: rename, overwrite or cancel")
	cmd.Flags().StringVar(&localAction, "local-action", "none", "After success: none, move (to archive dir) or delete")
	cmd.Flags().BoolVar(&wifiOnly, "wifi-only", false, "Only transfer on an unmetered connection")
	cmd.Flags().BoolVar(&enqueueOnly, "enqueue-only", false, "Queue without transferring now")

	return cmd
}

func parseCollisionPolicy(s string) (store.CollisionPolicy, error) {
	switch s {
	case "rename":
		return store.CollisionRename, nil
	case "overwrite":
		return store.CollisionOverwrite, nil
	case "ask":
		return store.CollisionAsk, nil
	case "cancel":
		return store.CollisionCancel, nil
	default:
		return "", fmt.Errorf("unknown collision policy %q", s)
	}
}

func parseLocalAction(s string) (store.LocalAction, error) {
	switch s {
	case "none", "":
		return store.LocalNone, nil
	case "move":
		return store.LocalMove, nil
	case "delete":
		return store.LocalDelete, nil
	default:
		return "", fmt.Errorf("unknown local action %q", s)
	}
}
