// Package tasks runs batch label maintenance described by JSON task
// files.
package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/sync/errgroup"

	"mailsift/internal/filter"
	"mailsift/internal/gmail"
	"mailsift/internal/labels"
)

// ErrUnknownTask is returned when a task file names a task kind the
// runner does not implement.
var ErrUnknownTask = errors.New("unknown task")

// Task kinds.
const (
	KindRemoveLabels     = "remove_labels"
	KindApplySenderRules = "apply_sender_rules"
)

// RemoveLabelsTask strips the named labels from every message carrying
// them.
type RemoveLabelsTask struct {
	Labels []string
}

// ApplySenderRulesTask re-files every message carrying the scope label
// according to an ordered rule list.
type ApplySenderRulesTask struct {
	Label string       `json:"label"`
	Rules filter.Rules `json:"rules"`
}

// Task is one validated entry from a task file. Exactly one of the
// kind fields is set.
type Task struct {
	RemoveLabels     *RemoveLabelsTask
	ApplySenderRules *ApplySenderRulesTask
}

// Kind returns the task's kind name.
func (t *Task) Kind() string {
	if t.RemoveLabels != nil {
		return KindRemoveLabels
	}
	return KindApplySenderRules
}

// Load reads and validates a JSON task file. Validation is strict: an
// unknown task kind or a malformed task fails the whole file so that
// no task runs from a file the runner only partially understands.
func Load(path string) ([]Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read task file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a JSON task list. The wire format is an
// array of single-key objects keyed by task kind.
func Parse(data []byte) ([]Task, error) {
	var raw []map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse task file: %w", err)
	}

	tasks := make([]Task, 0, len(raw))
	for i, entry := range raw {
		if len(entry) != 1 {
			return nil, fmt.Errorf("task %d: expected exactly one task kind, got %d", i, len(entry))
		}
		for kind, body := range entry {
			task, err := parseTask(kind, body)
			if err != nil {
				return nil, fmt.Errorf("task %d: %w", i, err)
			}
			tasks = append(tasks, task)
		}
	}
	return tasks, nil
}

func parseTask(kind string, body json.RawMessage) (Task, error) {
	switch kind {
	case KindRemoveLabels:
		var names []string
		if err := json.Unmarshal(body, &names); err != nil {
			return Task{}, fmt.Errorf("%s: %w", kind, err)
		}
		if len(names) == 0 {
			return Task{}, fmt.Errorf("%s: no labels given", kind)
		}
		return Task{RemoveLabels: &RemoveLabelsTask{Labels: names}}, nil

	case KindApplySenderRules:
		var t ApplySenderRulesTask
		if err := json.Unmarshal(body, &t); err != nil {
			return Task{}, fmt.Errorf("%s: %w", kind, err)
		}
		if t.Label == "" {
			return Task{}, fmt.Errorf("%s: missing scope label", kind)
		}
		if len(t.Rules) == 0 {
			return Task{}, fmt.Errorf("%s: no rules given", kind)
		}
		if err := t.Rules.Validate(); err != nil {
			return Task{}, fmt.Errorf("%s: %w", kind, err)
		}
		return Task{ApplySenderRules: &t}, nil

	default:
		return Task{}, fmt.Errorf("%w: %q", ErrUnknownTask, kind)
	}
}

// Runner executes validated tasks against a remote mailbox.
type Runner struct {
	dir         gmail.Directory
	mutator     *labels.Mutator
	logger      *slog.Logger
	concurrency int
}

// NewRunner creates a Runner with the given worker bound.
func NewRunner(dir gmail.Directory, concurrency int) *Runner {
	if concurrency <= 0 {
		concurrency = 8
	}
	return &Runner{
		dir:         dir,
		mutator:     labels.NewMutator(dir, concurrency),
		logger:      slog.Default(),
		concurrency: concurrency,
	}
}

// WithLogger sets the logger.
func (r *Runner) WithLogger(logger *slog.Logger) *Runner {
	r.logger = logger
	r.mutator = r.mutator.WithLogger(logger)
	return r
}

// Run executes the tasks in order. All label names across all tasks
// are resolved against the mailbox's catalog up front, so a task file
// referencing an unknown label fails before any mutation runs.
func (r *Runner) Run(ctx context.Context, tasks []Task) error {
	catalog, err := labels.LoadCatalog(ctx, r.dir)
	if err != nil {
		return err
	}

	if err := r.resolveAll(catalog, tasks); err != nil {
		return err
	}

	for i, task := range tasks {
		r.logger.Info("running task", "index", i, "kind", task.Kind())
		switch {
		case task.RemoveLabels != nil:
			err = r.runRemoveLabels(ctx, catalog, task.RemoveLabels)
		case task.ApplySenderRules != nil:
			err = r.runApplySenderRules(ctx, catalog, task.ApplySenderRules)
		}
		if err != nil {
			return fmt.Errorf("task %d (%s): %w", i, task.Kind(), err)
		}
	}
	return nil
}

// resolveAll checks every label name named by any task.
func (r *Runner) resolveAll(catalog *labels.Catalog, tasks []Task) error {
	for i, task := range tasks {
		var names []string
		switch {
		case task.RemoveLabels != nil:
			names = task.RemoveLabels.Labels
		case task.ApplySenderRules != nil:
			names = append(names, task.ApplySenderRules.Label)
			for _, rule := range task.ApplySenderRules.Rules {
				names = append(names, rule.Label)
			}
		default:
			return fmt.Errorf("task %d: %w: no kind set", i, ErrUnknownTask)
		}
		if _, err := catalog.IDs(names); err != nil {
			return fmt.Errorf("task %d (%s): %w", i, task.Kind(), err)
		}
	}
	return nil
}

func (r *Runner) runRemoveLabels(ctx context.Context, catalog *labels.Catalog, task *RemoveLabelsTask) error {
	ids, err := catalog.IDs(task.Labels)
	if err != nil {
		return err
	}

	result, err := r.mutator.Strip(ctx, ids)
	if err != nil {
		return err
	}
	for labelID, n := range result.Removed {
		r.logger.Info("stripped label", "label", catalog.Name(labelID), "messages", n)
	}
	return nil
}

// runApplySenderRules re-files every message in the scope label: the
// first matching rule's label is applied and the scope label removed
// in one bundled call. Messages matching no rule keep the scope label.
func (r *Runner) runApplySenderRules(ctx context.Context, catalog *labels.Catalog, task *ApplySenderRulesTask) error {
	scopeID, err := catalog.ID(task.Label)
	if err != nil {
		return err
	}

	refs, err := gmail.ListAll(ctx, r.dir, "", []string{scopeID})
	if err != nil {
		return fmt.Errorf("list messages in %s: %w", task.Label, err)
	}
	r.logger.Debug("applying sender rules", "scope", task.Label, "messages", len(refs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for _, ref := range refs {
		ref := ref
		g.Go(func() error {
			detail, err := r.dir.GetMessage(ctx, ref.ID, gmail.FidelityMetadata)
			if err != nil {
				return fmt.Errorf("fetch %s: %w", ref.ID, err)
			}

			name, ok := task.Rules.Match(detail.Headers)
			if !ok {
				return nil
			}
			matchID, err := catalog.ID(name)
			if err != nil {
				return err
			}
			if matchID == scopeID {
				return nil
			}
			return r.mutator.Apply(ctx, ref.ID, []string{matchID}, []string{scopeID})
		})
	}
	return g.Wait()
}
