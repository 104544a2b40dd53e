package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"mailsift/internal/labels"
	"mailsift/internal/sync"
)

var (
	searchIDsOnly bool
	searchLabels  []string
)

var searchCmd = &cobra.Command{
	Use:   "search <email> <query>",
	Short: "Search the remote mailbox",
	Long: `Run a Gmail search query against the remote mailbox and print the
matching message IDs. The full listing is drained, so results beyond
the first page are included. --label restricts the search to messages
carrying the named label and may be repeated.

Examples:
  mailsift search you@gmail.com "from:billing@vendor.com"
  mailsift search you@gmail.com "newer_than:2d is:unread" --ids-only
  mailsift search you@gmail.com "" --label receipts --label 2025`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		email, query := args[0], args[1]

		dir, err := newDirectory(cmd.Context(), email)
		if err != nil {
			return err
		}
		defer dir.Close()

		var labelIDs []string
		if len(searchLabels) > 0 {
			catalog, err := labels.LoadCatalog(cmd.Context(), dir)
			if err != nil {
				return fmt.Errorf("load labels: %w", err)
			}
			labelIDs, err = catalog.IDs(searchLabels)
			if err != nil {
				return err
			}
		}

		refs, err := sync.New(dir, nil, nil).WithLogger(logger).Search(cmd.Context(), query, labelIDs)
		if err != nil {
			return fmt.Errorf("search: %w", err)
		}

		if searchIDsOnly {
			for _, ref := range refs {
				fmt.Println(ref.ID)
			}
			return nil
		}

		fmt.Printf("%d messages match %q\n", len(refs), query)
		for _, ref := range refs {
			fmt.Printf("  %s  (thread %s)\n", ref.ID, ref.ThreadID)
		}
		return nil
	},
}

func init() {
	searchCmd.Flags().BoolVar(&searchIDsOnly, "ids-only", false, "print bare message IDs")
	searchCmd.Flags().StringSliceVar(&searchLabels, "label", nil, "restrict to messages with this label name (repeatable)")
	rootCmd.AddCommand(searchCmd)
}
