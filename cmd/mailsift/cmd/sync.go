package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"mailsift/internal/store"
	"mailsift/internal/sync"
)

var (
	syncQuick  bool
	syncLabels []string
	syncQuery  string
)

var syncCmd = &cobra.Command{
	Use:   "sync <email>",
	Short: "Mirror a Gmail mailbox into the local database",
	Long: `Reconcile the local mirror with the remote mailbox: download newly
discovered messages, refresh the label sets of already-mirrored ones,
and tombstone messages that are no longer listed remotely.

With --quick only new messages are fetched; tombstoning and label
refresh are skipped. Useful for frequent polling between full syncs.

Examples:
  mailsift sync you@gmail.com
  mailsift sync you@gmail.com --quick
  mailsift sync you@gmail.com --label INBOX --query "newer_than:7d"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		email := args[0]

		s, err := store.Open(cfg.DatabasePath(email))
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer s.Close()

		if err := s.InitSchema(); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}

		dir, err := newDirectory(cmd.Context(), email)
		if err != nil {
			return err
		}
		defer dir.Close()

		opts := sync.DefaultOptions()
		opts.Quick = syncQuick
		opts.LabelScope = syncLabels
		opts.Query = syncQuery
		opts.Concurrency = cfg.Sync.Concurrency

		syncer := sync.New(dir, s, opts).WithLogger(logger)

		fmt.Printf("Syncing %s\n", email)
		summary, err := syncer.Update(cmd.Context())
		if err != nil {
			return fmt.Errorf("sync failed: %w", err)
		}

		fmt.Println()
		fmt.Println("Sync complete!")
		fmt.Printf("  Duration:  %s\n", summary.Duration.Round(time.Second))
		fmt.Printf("  Found:     %d remote messages\n", summary.Found)
		fmt.Printf("  New:       %d\n", summary.New)
		if !syncQuick {
			fmt.Printf("  Updated:   %d\n", summary.Updated)
			fmt.Printf("  Deleted:   %d\n", summary.Deleted)
		}
		if summary.Failed > 0 {
			fmt.Printf("  Failed:    %d (rerun to retry)\n", summary.Failed)
			for _, f := range summary.Failures {
				logger.Warn("unconverged message", "id", f.EmailID, "error", f.Err)
			}
		}

		return nil
	},
}

func init() {
	syncCmd.Flags().BoolVar(&syncQuick, "quick", false, "fetch new messages only, skip tombstone and label refresh")
	syncCmd.Flags().StringSliceVar(&syncLabels, "label", nil, "restrict sync to messages with any of these label IDs")
	syncCmd.Flags().StringVar(&syncQuery, "query", "", "restrict sync with a Gmail search query")
	rootCmd.AddCommand(syncCmd)
}
