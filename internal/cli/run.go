package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cloudlift/cloudlift-agent/internal/progress"
	"github.com/cloudlift/cloudlift-agent/internal/worker"
)

func newRunCmd() *cobra.Command {
	var ignoreConstraints bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Drain the upload queue once",
		Long: `Run one pass over every configured account's queue: claim pending
records, transfer them, and record the outcomes. Records whose wifi or
charging constraints are unmet stay pending unless --ignore-constraints
is given.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			var conditions worker.Conditions = worker.SystemConditions{}
			if ignoreConstraints {
				conditions = worker.AlwaysReady{}
			}

			sink := progress.NewTerminalSink()
			w := worker.New(a.store, a.resolver, a.clientFactory(), worker.Options{
				Sink:       sink,
				Bus:        a.bus,
				Notifier:   a.notifier,
				Thumbnails: a.thumbs,
				Conditions: conditions,
				ArchiveDir: a.cfg.Agent.ArchiveDir,
			}, logger)

			if err := a.thumbs.Start(); err != nil {
				logger.Warn().Err(err).Msg("thumbnail cache unavailable")
			}
			if err := w.Invoke(rootContext); err != nil {
				return fmt.Errorf("queue run failed: %w", err)
			}
			sink.Wait()
			return nil
		},
	}

	cmd.Flags().BoolVar(&ignoreConstraints, "ignore-constraints", false, "Transfer wifi/charging gated records too")

	return cmd
}
