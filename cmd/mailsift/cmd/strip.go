package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"mailsift/internal/labels"
)

var stripCmd = &cobra.Command{
	Use:   "strip-labels <email> <label>...",
	Short: "Remove labels from every message carrying them",
	Long: `Strip one or more labels mailbox-wide. Labels are given by name and
resolved against the mailbox's label catalog; an unknown name fails
before any message is touched. The labels themselves are not deleted,
only removed from messages.

Example:
  mailsift strip-labels you@gmail.com old-project newsletter-2023`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		email, names := args[0], args[1:]

		dir, err := newDirectory(cmd.Context(), email)
		if err != nil {
			return err
		}
		defer dir.Close()

		catalog, err := labels.LoadCatalog(cmd.Context(), dir)
		if err != nil {
			return err
		}
		ids, err := catalog.IDs(names)
		if err != nil {
			return err
		}

		mutator := labels.NewMutator(dir, cfg.Sync.Concurrency).WithLogger(logger)
		result, err := mutator.Strip(cmd.Context(), ids)
		if err != nil {
			return fmt.Errorf("strip labels: %w", err)
		}

		for _, id := range ids {
			fmt.Printf("  %-40s removed from %d messages\n", catalog.Name(id), result.Removed[id])
		}
		fmt.Printf("Done. %d removals total.\n", result.Total())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(stripCmd)
}
