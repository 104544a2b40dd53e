package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"mailsift/internal/store"
)

var showCmd = &cobra.Command{
	Use:   "show <email> <message-id>",
	Short: "Show one mirrored message",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		account, messageID := args[0], args[1]

		s, err := store.Open(cfg.DatabasePath(account))
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer s.Close()

		msgs, err := s.GetMessages(true)
		if err != nil {
			return fmt.Errorf("read messages: %w", err)
		}
		var msg *store.Message
		for _, m := range msgs {
			if m.EmailID == messageID {
				msg = m
				break
			}
		}
		if msg == nil {
			return fmt.Errorf("message %s not in mirror", messageID)
		}

		threadID, err := s.GetThreadID(messageID)
		if err != nil {
			return fmt.Errorf("get thread: %w", err)
		}
		labels, err := s.GetMessageLabels(messageID)
		if err != nil {
			return fmt.Errorf("get labels: %w", err)
		}
		from, err := s.GetAddresses(messageID, store.RoleFrom)
		if err != nil {
			return fmt.Errorf("get senders: %w", err)
		}
		to, err := s.GetAddresses(messageID, store.RoleTo)
		if err != nil {
			return fmt.Errorf("get recipients: %w", err)
		}

		fmt.Printf("Message:  %s\n", msg.EmailID)
		fmt.Printf("Thread:   %s\n", threadID)
		if msg.Deleted {
			fmt.Println("Status:   tombstoned (no longer listed remotely)")
		}
		fmt.Printf("From:     %s\n", strings.Join(from, ", "))
		fmt.Printf("To:       %s\n", strings.Join(to, ", "))
		if msg.Date.Valid {
			fmt.Printf("Date:     %s\n", msg.Date.Time.Format("2006-01-02 15:04:05 MST"))
		}
		if msg.Subject.Valid {
			fmt.Printf("Subject:  %s\n", msg.Subject.String)
		}
		fmt.Printf("Labels:   %s\n", strings.Join(labels, ", "))
		fmt.Printf("Mirrored: %s\n", msg.ArchivedAt)
		if msg.BodyText.Valid {
			fmt.Printf("\n%s\n", msg.BodyText.String)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(showCmd)
}
