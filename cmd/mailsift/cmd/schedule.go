package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"mailsift/internal/scheduler"
	"mailsift/internal/store"
	"mailsift/internal/sync"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run scheduled syncs for configured accounts",
	Long: `Start a long-running process that syncs each enabled account on its
cron schedule from the config file:

  [[accounts]]
  email = "you@gmail.com"
  schedule = "0 2 * * *"
  enabled = true

Runs until interrupted. Overlapping runs for the same account are
suppressed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		sched := scheduler.New(scheduledSync).WithLogger(logger)

		count, errs := sched.AddAccountsFromConfig(cfg)
		for _, err := range errs {
			logger.Error("skipping account", "error", err)
		}
		if count == 0 {
			return fmt.Errorf("no accounts with scheduling enabled in config")
		}

		sched.Start()
		fmt.Printf("Scheduler running with %d account(s). Ctrl+C to stop.\n", count)

		<-cmd.Context().Done()

		drained := sched.Stop()
		<-drained.Done()
		return nil
	},
}

// scheduledSync performs one full mirror update for an account.
func scheduledSync(ctx context.Context, email string) error {
	s, err := store.Open(cfg.DatabasePath(email))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer s.Close()

	if err := s.InitSchema(); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}

	dir, err := newDirectory(ctx, email)
	if err != nil {
		return err
	}
	defer dir.Close()

	opts := sync.DefaultOptions()
	opts.Concurrency = cfg.Sync.Concurrency

	_, err = sync.New(dir, s, opts).WithLogger(logger).Update(ctx)
	return err
}

func init() {
	rootCmd.AddCommand(scheduleCmd)
}
