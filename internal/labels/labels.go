// Package labels provides the label catalog and label mutation
// operations against a remote mailbox.
package labels

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"mailsift/internal/gmail"
)

// ErrUnknownLabel is returned when a label name has no remote ID.
var ErrUnknownLabel = errors.New("unknown label")

// Catalog is a bidirectional mapping between label names and IDs,
// built from one ListLabels call.
type Catalog struct {
	byName map[string]string
	byID   map[string]string
}

// LoadCatalog fetches the mailbox's labels and builds the catalog.
func LoadCatalog(ctx context.Context, dir gmail.Directory) (*Catalog, error) {
	labels, err := dir.ListLabels(ctx)
	if err != nil {
		return nil, fmt.Errorf("list labels: %w", err)
	}

	c := &Catalog{
		byName: make(map[string]string, len(labels)),
		byID:   make(map[string]string, len(labels)),
	}
	for _, l := range labels {
		c.byName[l.Name] = l.ID
		c.byID[l.ID] = l.Name
	}
	return c, nil
}

// ID resolves a label name to its ID.
func (c *Catalog) ID(name string) (string, error) {
	id, ok := c.byName[name]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownLabel, name)
	}
	return id, nil
}

// IDs resolves a list of names, failing on the first unknown one.
func (c *Catalog) IDs(names []string) ([]string, error) {
	ids := make([]string, len(names))
	for i, name := range names {
		id, err := c.ID(name)
		if err != nil {
			return nil, err
		}
		ids[i] = id
	}
	return ids, nil
}

// Name resolves a label ID back to its name, falling back to the ID
// itself for unknown ones.
func (c *Catalog) Name(id string) string {
	if name, ok := c.byID[id]; ok {
		return name
	}
	return id
}

// Names returns every label name, sorted.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.byName))
	for name := range c.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Mutator applies label changes to remote messages.
type Mutator struct {
	dir         gmail.Directory
	logger      *slog.Logger
	concurrency int
}

// NewMutator creates a Mutator with the given worker bound.
func NewMutator(dir gmail.Directory, concurrency int) *Mutator {
	if concurrency <= 0 {
		concurrency = 8
	}
	return &Mutator{dir: dir, logger: slog.Default(), concurrency: concurrency}
}

// WithLogger sets the logger.
func (m *Mutator) WithLogger(logger *slog.Logger) *Mutator {
	m.logger = logger
	return m
}

// Apply reconciles one message toward the desired label state with a
// single bundled modify call. When both sets are empty the message is
// already converged and no call is issued.
func (m *Mutator) Apply(ctx context.Context, messageID string, add, remove []string) error {
	if len(add) == 0 && len(remove) == 0 {
		return nil
	}
	if err := m.dir.ModifyLabels(ctx, messageID, add, remove); err != nil {
		return fmt.Errorf("modify labels on %s: %w", messageID, err)
	}
	return nil
}

// StripResult reports how many messages each label was removed from.
type StripResult struct {
	mu      sync.Mutex
	Removed map[string]int
}

// Total sums removals across labels.
func (r *StripResult) Total() int {
	total := 0
	for _, n := range r.Removed {
		total += n
	}
	return total
}

func (r *StripResult) count(labelID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Removed[labelID]++
}

// Strip removes each given label from every message currently carrying
// it. Labels are processed in parallel; within a label the full listing
// is drained before any mutation so late pages cannot be missed.
func (m *Mutator) Strip(ctx context.Context, labelIDs []string) (*StripResult, error) {
	result := &StripResult{Removed: make(map[string]int, len(labelIDs))}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)
	for _, labelID := range labelIDs {
		labelID := labelID
		g.Go(func() error {
			return m.stripLabel(ctx, labelID, result)
		})
	}
	if err := g.Wait(); err != nil {
		return result, err
	}
	return result, nil
}

func (m *Mutator) stripLabel(ctx context.Context, labelID string, result *StripResult) error {
	refs, err := gmail.ListAll(ctx, m.dir, "", []string{labelID})
	if err != nil {
		return fmt.Errorf("list messages with label %s: %w", labelID, err)
	}

	m.logger.Debug("stripping label", "label", labelID, "messages", len(refs))
	for _, ref := range refs {
		if err := m.Apply(ctx, ref.ID, nil, []string{labelID}); err != nil {
			return err
		}
		result.count(labelID)
	}
	return nil
}
