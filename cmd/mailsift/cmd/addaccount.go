package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var addAccountCmd = &cobra.Command{
	Use:   "add-account <email>",
	Short: "Authorize a Gmail account",
	Long: `Run the OAuth browser flow for an account and store its token. The
token is reused and auto-refreshed by every other command.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		email := args[0]

		mgr, err := newOAuthManager()
		if err != nil {
			return err
		}

		if mgr.HasToken(email) {
			fmt.Printf("Account %s is already authorized (token at %s).\n", email, mgr.TokenPath(email))
			fmt.Println("Delete the token file to re-authorize.")
			return nil
		}

		if err := mgr.Authorize(cmd.Context(), email); err != nil {
			return fmt.Errorf("authorize %s: %w", email, err)
		}

		fmt.Printf("Account %s authorized.\n", email)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(addAccountCmd)
}
