// Package sync reconciles the local mail mirror with the remote mailbox.
package sync

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"mailsift/internal/gmail"
	"mailsift/internal/store"
)

// Options configures a mirror update.
type Options struct {
	// Query is an optional Gmail search query restricting the scope.
	Query string

	// LabelScope restricts the listing to messages carrying any of
	// these label IDs. Empty means the whole mailbox.
	LabelScope []string

	// Quick skips the tombstone pass and the label refresh pass,
	// performing discovery and insertion of new messages only. Intended
	// for frequent polling between full syncs.
	Quick bool

	// Concurrency bounds the per-item fetch/write worker pool.
	Concurrency int
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() *Options {
	return &Options{Concurrency: 8}
}

// ItemError records one item's last failure during a run.
type ItemError struct {
	EmailID string
	Err     error
}

// Summary reports the outcome of one reconciliation run. Failures lists
// every item that stayed un-converged; re-running the sync retries them
// naturally since they remain in the next run's diff.
type Summary struct {
	Found    int64
	New      int64
	Updated  int64
	Deleted  int64
	Failed   int64
	Failures []ItemError
	Duration time.Duration
}

// Syncer drives reconciliation between a remote Directory and the
// local Store.
type Syncer struct {
	dir    gmail.Directory
	store  *store.Store
	logger *slog.Logger
	opts   *Options
}

// New creates a new Syncer.
func New(dir gmail.Directory, st *store.Store, opts *Options) *Syncer {
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 8
	}

	return &Syncer{
		dir:    dir,
		store:  st,
		logger: slog.Default(),
		opts:   opts,
	}
}

// WithLogger sets the logger.
func (s *Syncer) WithLogger(logger *slog.Logger) *Syncer {
	s.logger = logger
	return s
}

// Search drains the remote listing for the given query and label scope.
func (s *Syncer) Search(ctx context.Context, query string, labelIDs []string) ([]gmail.MessageRef, error) {
	return gmail.ListAll(ctx, s.dir, query, labelIDs)
}

// Update converges the local mirror on current remote state. The
// listing is drained completely before the diff is computed; per-item
// fetch and write work runs on a bounded worker pool and one item's
// failure never aborts the batch.
func (s *Syncer) Update(ctx context.Context) (*Summary, error) {
	start := time.Now()
	summary := &Summary{}

	refs, err := gmail.ListAll(ctx, s.dir, s.opts.Query, s.opts.LabelScope)
	if err != nil {
		return nil, fmt.Errorf("list remote messages: %w", err)
	}

	remoteIDs := make([]string, len(refs))
	threadIDs := make(map[string]string, len(refs))
	for i, ref := range refs {
		remoteIDs[i] = ref.ID
		threadIDs[ref.ID] = ref.ThreadID
	}

	localIDs, err := s.store.ListMessageIDs()
	if err != nil {
		return nil, fmt.Errorf("list local messages: %w", err)
	}

	diff := ComputeDiff(remoteIDs, localIDs)
	summary.Found = int64(len(remoteIDs))
	s.logger.Debug("computed diff",
		"remote", len(remoteIDs), "local", len(localIDs),
		"new", len(diff.New), "changed", len(diff.Changed), "gone", len(diff.Gone))

	collector := &failureCollector{}

	if !s.opts.Quick {
		n, err := s.store.MarkDeleted(diff.Gone)
		if err != nil {
			return nil, fmt.Errorf("tombstone gone messages: %w", err)
		}
		summary.Deleted = n

		summary.Updated = s.refreshLabels(ctx, diff.Changed, collector)
	}

	summary.New = s.fetchNew(ctx, diff.New, threadIDs, collector)

	summary.Failures = collector.failures
	summary.Failed = int64(len(collector.failures))
	summary.Duration = time.Since(start)

	s.logger.Info("mirror updated",
		"new", summary.New, "updated", summary.Updated,
		"deleted", summary.Deleted, "failed", summary.Failed,
		"duration", summary.Duration)

	return summary, ctx.Err()
}

// failureCollector gathers per-item failures across workers.
type failureCollector struct {
	mu       sync.Mutex
	failures []ItemError
}

func (c *failureCollector) add(emailID string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = append(c.failures, ItemError{EmailID: emailID, Err: err})
}

// forEachItem runs fn for every ID on a bounded worker pool. Item
// failures are recorded in the collector rather than cancelling the
// group; only context cancellation stops the pool early. Returns the
// number of IDs for which fn reported success.
func (s *Syncer) forEachItem(ctx context.Context, ids []string, collector *failureCollector, fn func(ctx context.Context, id string) (bool, error)) int64 {
	if len(ids) == 0 {
		return 0
	}

	var succeeded int64
	var mu sync.Mutex
	sem := make(chan struct{}, s.opts.Concurrency)

	g, ctx := errgroup.WithContext(ctx)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return ctx.Err()
			}

			counted, err := fn(ctx, id)
			if err != nil {
				s.logger.Warn("item failed", "id", id, "error", err)
				collector.add(id, err)
				return nil
			}
			if counted {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
			return nil
		})
	}

	// Worker errors are recorded, not returned; only cancellation
	// propagates here.
	_ = g.Wait()
	return succeeded
}

// refreshLabels reconciles the label set of every already-mirrored
// message, writing only the per-item drift. Returns the number of
// messages whose label set actually changed.
func (s *Syncer) refreshLabels(ctx context.Context, ids []string, collector *failureCollector) int64 {
	return s.forEachItem(ctx, ids, collector, func(ctx context.Context, id string) (bool, error) {
		detail, err := s.dir.GetMessage(ctx, id, gmail.FidelityMetadata)
		if err != nil {
			return false, fmt.Errorf("fetch metadata: %w", err)
		}

		local, err := s.store.GetMessageLabels(id)
		if err != nil {
			return false, fmt.Errorf("read local labels: %w", err)
		}

		delta := ComputeLabelDelta(detail.LabelIDs, local)
		if delta.Empty() {
			return false, nil
		}

		if err := s.store.ApplyLabelDelta(id, delta.Add, delta.Remove); err != nil {
			return false, fmt.Errorf("apply label delta: %w", err)
		}
		return true, nil
	})
}

// fetchNew downloads newly discovered messages at full fidelity and
// inserts them with their thread, label, and address rows.
func (s *Syncer) fetchNew(ctx context.Context, ids []string, threadIDs map[string]string, collector *failureCollector) int64 {
	return s.forEachItem(ctx, ids, collector, func(ctx context.Context, id string) (bool, error) {
		detail, err := s.dir.GetMessage(ctx, id, gmail.FidelityFull)
		if err != nil {
			return false, fmt.Errorf("fetch message: %w", err)
		}

		if err := s.ingest(detail, threadIDs[id]); err != nil {
			return false, err
		}
		return true, nil
	})
}

// ingest stores one fetched message.
func (s *Syncer) ingest(detail *gmail.MessageDetail, threadID string) error {
	// Fall back to the detail's thread ID when the listing omitted it,
	// then to the message ID itself.
	if threadID == "" {
		threadID = detail.ThreadID
		if threadID == "" {
			threadID = detail.ID
		}
	}

	msg := &store.Message{EmailID: detail.ID}
	if detail.Headers.HasSubject {
		msg.Subject = sql.NullString{String: detail.Headers.Subject, Valid: true}
	}
	if body := gmail.BodyText(detail.Parts); body != "" {
		msg.BodyText = sql.NullString{String: body, Valid: true}
	}
	if !detail.Headers.Date.IsZero() {
		msg.Date = sql.NullTime{Time: detail.Headers.Date, Valid: true}
	} else if detail.InternalDate > 0 {
		msg.Date = sql.NullTime{Time: time.UnixMilli(detail.InternalDate).UTC(), Valid: true}
	}

	var toAddrs, fromAddrs []string
	if detail.Headers.HasTo {
		toAddrs = gmail.SplitAddressList(detail.Headers.To)
	}
	if detail.Headers.HasFrom {
		fromAddrs = gmail.SplitAddressList(detail.Headers.From)
	}

	if err := s.store.InsertMessage(msg, threadID, detail.LabelIDs, toAddrs, fromAddrs); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}
