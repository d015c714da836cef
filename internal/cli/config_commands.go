package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cloudlift/cloudlift-agent/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage agent configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := configPath()
			if err != nil {
				return err
			}

			cfg := config.New()
			if err := cfg.Save(path); err != nil {
				return err
			}
			fmt.Printf("Wrote default configuration to %s\n", path)
			fmt.Println("Add an account with 'accounts add' to start uploading.")
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := configPath()
			if err != nil {
				return err
			}
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}

			fmt.Printf("Config file:    %s\n", path)
			fmt.Printf("Data dir:       %s\n", cfg.Agent.DataDir)
			fmt.Printf("Queue DB:       %s\n", cfg.QueueDBPath())
			fmt.Printf("Archive dir:    %s\n", cfg.Agent.ArchiveDir)
			fmt.Printf("Poll interval:  %d min\n", cfg.Agent.PollIntervalMinutes)
			fmt.Printf("Proxy:          %s\n", orNone(cfg.Proxy.URL))
			fmt.Printf("Notifications:  %t\n", cfg.Notifications.Enabled)
			fmt.Printf("Accounts:       %d\n", len(cfg.Accounts))
			return nil
		},
	})

	return cmd
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
