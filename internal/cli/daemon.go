package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/cloudlift/cloudlift-agent/internal/logging"
	"github.com/cloudlift/cloudlift-agent/internal/progress"
	"github.com/cloudlift/cloudlift-agent/internal/scheduler"
	"github.com/cloudlift/cloudlift-agent/internal/version"
	"github.com/cloudlift/cloudlift-agent/internal/worker"
)

func newDaemonCmd() *cobra.Command {
	var pollMinutes int

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the upload agent in the background",
		Long: `Run continuously, draining the queue on a poll interval. Desktop
notifications announce finished uploads when enabled in the config.

Stop with SIGINT or SIGTERM; the current transfer finishes its terminal
status write before exit.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Daemon logs go to stderr without progress bars.
			logger = logging.NewLogger("daemon")

			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			interval := time.Duration(a.cfg.Agent.PollIntervalMinutes) * time.Minute
			if pollMinutes > 0 {
				interval = time.Duration(pollMinutes) * time.Minute
			}

			w := worker.New(a.store, a.resolver, a.clientFactory(), worker.Options{
				Sink:       progress.NopSink{},
				Bus:        a.bus,
				Notifier:   a.notifier,
				Thumbnails: a.thumbs,
				Conditions: worker.SystemConditions{},
				ArchiveDir: a.cfg.Agent.ArchiveDir,
			}, logger)

			if err := a.thumbs.Start(); err != nil {
				logger.Warn().Err(err).Msg("thumbnail cache unavailable")
			}

			logger.Info().
				Str("version", version.Version).
				Dur("poll_interval", interval).
				Int("accounts", len(a.resolver.List())).
				Msg("upload agent started")

			runner := scheduler.New(w.Invoke, interval, logger)
			err = runner.Run(rootContext)
			logger.Info().Msg("upload agent stopped")
			if err != nil && rootContext.Err() != nil {
				// Normal shutdown path.
				return nil
			}
			return err
		},
	}

	cmd.Flags().IntVar(&pollMinutes, "poll-interval", 0, "Poll interval in minutes (overrides config)")

	return cmd
}
