package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cloudlift/cloudlift-agent/internal/config"
)

func newAccountsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Manage storage accounts",
	}

	cmd.AddCommand(newAccountsListCmd())
	cmd.AddCommand(newAccountsAddCmd())
	cmd.AddCommand(newAccountsRemoveCmd())

	return cmd
}

func configPath() (string, error) {
	if cfgFile != "" {
		return cfgFile, nil
	}
	return config.DefaultConfigPath()
}

func newAccountsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := configPath()
			if err != nil {
				return err
			}
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}

			if len(cfg.Accounts) == 0 {
				fmt.Println("No accounts configured. Add one with 'accounts add'.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tBACKEND\tENDPOINT\tUSERNAME")
			for _, a := range cfg.Accounts {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", a.ID, a.Backend, a.Endpoint, a.Username)
			}
			return w.Flush()
		},
	}
}

func newAccountsAddCmd() *cobra.Command {
	var acct config.Account

	cmd := &cobra.Command{
		Use:   "add <id>",
		Short: "Add or update a storage account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := configPath()
			if err != nil {
				return err
			}
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}

			acct.ID = args[0]
			replaced := false
			for i, existing := range cfg.Accounts {
				if existing.ID == acct.ID {
					cfg.Accounts[i] = acct
					replaced = true
					break
				}
			}
			if !replaced {
				cfg.Accounts = append(cfg.Accounts, acct)
			}

			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := cfg.Save(path); err != nil {
				return err
			}

			if replaced {
				fmt.Printf("Account %s updated.\n", acct.ID)
			} else {
				fmt.Printf("Account %s added.\n", acct.ID)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&acct.Backend, "backend", "dav", "Backend type: dav, s3 or azure")
	cmd.Flags().StringVar(&acct.Endpoint, "endpoint", "", "Server URL, s3://bucket[/prefix], or container URL")
	cmd.Flags().StringVar(&acct.Username, "username", "", "Username (dav backend)")
	cmd.Flags().StringVar(&acct.Token, "token", "", "Bearer token, access keys or SAS token")
	cmd.Flags().StringVar(&acct.Region, "region", "", "Region (s3 backend)")
	cmd.MarkFlagRequired("endpoint")

	return cmd
}

func newAccountsRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a storage account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := configPath()
			if err != nil {
				return err
			}
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}

			kept := cfg.Accounts[:0]
			found := false
			for _, a := range cfg.Accounts {
				if a.ID == args[0] {
					found = true
					continue
				}
				kept = append(kept, a)
			}
			if !found {
				return fmt.Errorf("account %s not found", args[0])
			}
			cfg.Accounts = kept

			if err := cfg.Save(path); err != nil {
				return err
			}
			fmt.Printf("Account %s removed. Its queued uploads stay pending until it returns.\n", args[0])
			return nil
		},
	}
}
