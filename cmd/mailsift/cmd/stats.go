package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"mailsift/internal/store"
)

var statsCmd = &cobra.Command{
	Use:   "stats <email>",
	Short: "Show local mirror statistics",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := store.Open(cfg.DatabasePath(args[0]))
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer s.Close()

		stats, err := s.GetStats()
		if err != nil {
			return fmt.Errorf("get stats: %w", err)
		}

		fmt.Printf("Mirror database: %s\n", cfg.DatabasePath(args[0]))
		fmt.Printf("  Messages:      %d (%d tombstoned)\n", stats.MessageCount, stats.DeletedCount)
		fmt.Printf("  Label rows:    %d\n", stats.LabelRowCount)
		fmt.Printf("  Threads:       %d\n", stats.ThreadRowCount)
		fmt.Printf("  Addresses:     %d\n", stats.AddressCount)
		fmt.Printf("  Size:          %.2f MB\n", float64(stats.DatabaseSize)/(1024*1024))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
