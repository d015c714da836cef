// Package cli provides the command-line interface for cloudlift-agent.
package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cloudlift/cloudlift-agent/internal/constants"
	"github.com/cloudlift/cloudlift-agent/internal/logging"
)

var (
	// Global flags
	cfgFile string
	verbose bool

	// Global logger
	logger *logging.Logger

	// Global context for signal handling
	rootContext context.Context
	cancelFunc  context.CancelFunc
)

// Version information - set by main package at startup
var (
	Version   = "v1.0.0-dev"
	BuildTime = "unknown"
)

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   constants.AppName,
		Short: "CloudLift Agent - durable upload queue for cloud storage",
		Long: `CloudLift Agent ` + Version + ` - Built: ` + BuildTime + `
Queues local files for upload to WebDAV, S3 or Azure Blob accounts and
drains the queue in the background.

Uploads survive restarts: every queued file is a durable record that is
retried until it succeeds, fails permanently, or is cancelled.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger = logging.NewDefaultCLILogger()
			if verbose {
				logging.SetGlobalLevel(-1) // zerolog.DebugLevel
			}
		},
	}

	// Global flags
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output (shows debug messages)")

	rootCmd.Version = Version + " (" + BuildTime + ")"

	rootCmd.AddCommand(newUploadCmd())
	rootCmd.AddCommand(newUploadsCmd())
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newDaemonCmd())
	rootCmd.AddCommand(newAccountsCmd())
	rootCmd.AddCommand(newConfigCmd())

	return rootCmd
}

// Execute runs the CLI with signal-aware cancellation. A first interrupt
// cancels the root context so in-flight records can go terminal; a second
// interrupt exits immediately.
func Execute() error {
	rootContext, cancelFunc = context.WithCancel(context.Background())
	defer cancelFunc()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancelFunc()
		<-sigCh
		os.Exit(1)
	}()

	return NewRootCmd().Execute()
}
