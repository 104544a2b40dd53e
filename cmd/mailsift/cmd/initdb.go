package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"mailsift/internal/store"
)

var initdbCmd = &cobra.Command{
	Use:   "init-db <email>",
	Short: "Create the mirror database for an account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := cfg.DatabasePath(args[0])

		s, err := store.Open(path)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer s.Close()

		if err := s.InitSchema(); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}

		fmt.Printf("Initialized %s\n", path)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initdbCmd)
}
