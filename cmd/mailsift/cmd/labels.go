package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"mailsift/internal/labels"
)

var labelsCmd = &cobra.Command{
	Use:   "labels <email>",
	Short: "List the mailbox's labels",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := newDirectory(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		defer dir.Close()

		catalog, err := labels.LoadCatalog(cmd.Context(), dir)
		if err != nil {
			return err
		}

		for _, name := range catalog.Names() {
			id, _ := catalog.ID(name)
			fmt.Printf("%-40s %s\n", name, id)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(labelsCmd)
}
