package cli

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/cloudlift/cloudlift-agent/internal/queue"
	"github.com/cloudlift/cloudlift-agent/internal/store"
)

func newUploadsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "uploads",
		Short: "Inspect and manage the upload queue",
	}

	cmd.AddCommand(newUploadsListCmd())
	cmd.AddCommand(newUploadsRetryCmd())
	cmd.AddCommand(newUploadsCancelCmd())
	cmd.AddCommand(newUploadsRemoveCmd())
	cmd.AddCommand(newUploadsClearCmd())

	return cmd
}

func newUploadsListCmd() *cobra.Command {
	var (
		accountID  string
		failedOnly bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List upload records",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			// The store is listed directly rather than per configured
			// account, so records waiting on a removed account stay visible.
			var records []*store.UploadRecord
			if accountID != "" && failedOnly {
				records, err = a.store.ListFailed(rootContext, accountID)
			} else if accountID != "" {
				records, err = a.store.ListByAccount(rootContext, accountID)
			} else {
				records, err = a.store.ListAll(rootContext)
			}
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tACCOUNT\tSTATUS\tLOCAL\tREMOTE\tERROR\tUPDATED")

			total := 0
			for _, rec := range records {
				if failedOnly && rec.Status != store.StatusFailed {
					continue
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					rec.ID, rec.AccountID, rec.Status,
					rec.LocalPath, rec.RemotePath, rec.LastError,
					rec.UpdatedAt.Local().Format(time.DateTime))
				total++
			}
			if err := w.Flush(); err != nil {
				return err
			}
			if total == 0 {
				fmt.Println("No upload records.")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&accountID, "account", "a", "", "Limit to one account")
	cmd.Flags().BoolVar(&failedOnly, "failed", false, "Show failed uploads only")

	return cmd
}

func newUploadsRetryCmd() *cobra.Command {
	var (
		accountID string
		allFailed bool
	)

	cmd := &cobra.Command{
		Use:   "retry [record-id]",
		Short: "Reset failed or cancelled uploads back to pending",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && !allFailed {
				return fmt.Errorf("pass a record id or --all-failed")
			}

			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			q := queue.New(a.store, nil, a.bus, logger)
			if allFailed {
				accounts := a.resolver.List()
				total := 0
				for _, acct := range accounts {
					if accountID != "" && acct.ID != accountID {
						continue
					}
					n, err := q.RetryAllFailed(rootContext, acct.ID)
					if err != nil {
						return err
					}
					total += n
				}
				fmt.Printf("Reset %d upload(s) to pending. Run '%s run' to transfer.\n", total, cmd.Root().Name())
				return nil
			}

			if err := q.Retry(rootContext, args[0]); err != nil {
				return err
			}
			fmt.Printf("Upload %s reset to pending.\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVarP(&accountID, "account", "a", "", "Limit --all-failed to one account")
	cmd.Flags().BoolVar(&allFailed, "all-failed", false, "Retry every failed upload")

	return cmd
}

func newUploadsCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <record-id>",
		Short: "Cancel a pending or running upload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			q := queue.New(a.store, nil, a.bus, logger)
			if err := q.Cancel(rootContext, args[0]); err != nil {
				return err
			}
			fmt.Printf("Upload %s cancelled.\n", args[0])
			return nil
		},
	}
}

func newUploadsRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <record-id>",
		Short: "Remove a finished upload record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.store.Remove(rootContext, args[0]); err != nil {
				return err
			}
			fmt.Printf("Upload record %s removed.\n", args[0])
			return nil
		},
	}
}

func newUploadsClearCmd() *cobra.Command {
	var accountID string

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove all succeeded upload records",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			var total int64
			for _, acct := range a.resolver.List() {
				if accountID != "" && acct.ID != accountID {
					continue
				}
				n, err := a.store.ClearSucceeded(rootContext, acct.ID)
				if err != nil {
					return err
				}
				total += n
			}
			fmt.Printf("Removed %d succeeded record(s).\n", total)
			return nil
		},
	}

	cmd.Flags().StringVarP(&accountID, "account", "a", "", "Limit to one account")

	return cmd
}
