package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"mailsift/internal/tasks"
)

var runTasksFile string

var runCmd = &cobra.Command{
	Use:   "run <email>",
	Short: "Run the tasks from a JSON task file",
	Long: `Execute label maintenance tasks against the mailbox. The task file is
a JSON array of single-key objects, each keyed by task kind:

  [
    {"remove_labels": ["stale", "old-project"]},
    {"apply_sender_rules": {
      "label": "triage",
      "rules": [
        {"label": "billing", "from": "invoices@"},
        {"label": "alerts", "subject": "ALERT"}
      ]
    }}
  ]

The whole file is validated before anything runs: an unknown task kind
or label name aborts with no mutation performed. Tasks then run in
file order.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := runTasksFile
		if path == "" {
			path = cfg.TasksPath()
		}

		taskList, err := tasks.Load(path)
		if err != nil {
			return err
		}
		if len(taskList) == 0 {
			fmt.Println("Task file is empty, nothing to do.")
			return nil
		}

		dir, err := newDirectory(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		defer dir.Close()

		runner := tasks.NewRunner(dir, cfg.Sync.Concurrency).WithLogger(logger)
		if err := runner.Run(cmd.Context(), taskList); err != nil {
			return err
		}

		fmt.Printf("Ran %d task(s).\n", len(taskList))
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&runTasksFile, "tasks", "", "task file (default: <data dir>/tasks.json)")
	rootCmd.AddCommand(runCmd)
}
