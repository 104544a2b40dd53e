package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"mailsift/internal/store"
)

var (
	messagesLabel       string
	messagesWithDeleted bool
)

var messagesCmd = &cobra.Command{
	Use:   "messages <email>",
	Short: "List messages in the local mirror",
	Long: `List mirrored messages from the local database, newest first.
Tombstoned messages are excluded unless --include-deleted is given.

Examples:
  mailsift messages you@gmail.com
  mailsift messages you@gmail.com --label Label_7 --include-deleted`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := store.Open(cfg.DatabasePath(args[0]))
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer s.Close()

		var msgs []*store.Message
		if messagesLabel != "" {
			msgs, err = s.GetMessagesByLabel(messagesLabel, messagesWithDeleted)
		} else {
			msgs, err = s.GetMessages(messagesWithDeleted)
		}
		if err != nil {
			return fmt.Errorf("list messages: %w", err)
		}

		for _, m := range msgs {
			date := "                "
			if m.Date.Valid {
				date = m.Date.Time.Format("2006-01-02 15:04")
			}
			subject := "(no subject)"
			if m.Subject.Valid {
				subject = m.Subject.String
			}

			from, err := s.GetAddresses(m.EmailID, store.RoleFrom)
			if err != nil {
				return fmt.Errorf("get addresses: %w", err)
			}

			marker := " "
			if m.Deleted {
				marker = "D"
			}
			fmt.Printf("%s %s  %s  %-30s  %s\n",
				marker, m.EmailID, date, strings.Join(from, ","), subject)
		}
		fmt.Printf("%d message(s)\n", len(msgs))
		return nil
	},
}

func init() {
	messagesCmd.Flags().StringVar(&messagesLabel, "label", "", "only messages carrying this label ID")
	messagesCmd.Flags().BoolVar(&messagesWithDeleted, "include-deleted", false, "include tombstoned messages")
	rootCmd.AddCommand(messagesCmd)
}
