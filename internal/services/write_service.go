package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"sheetsync/internal/core"
	"sheetsync/internal/retry"
	"sheetsync/internal/rows"
	"sheetsync/internal/sheets"
)

type Outcome string

const (
	OutcomeAcknowledged Outcome = "acknowledged"
	OutcomeConflict     Outcome = "conflict"
)

// Conflicts holds the authoritative server records that are newer than the
// client's, grouped by collection.
type Conflicts struct {
	Categories   []core.Category             `json:"categories"`
	Transactions []core.Transaction          `json:"transactions"`
	Recurring    []core.RecurringTransaction `json:"recurring"`
	Tags         []core.Tag                  `json:"tags"`
}

func (c Conflicts) Count() int {
	return len(c.Categories) + len(c.Transactions) + len(c.Recurring) + len(c.Tags)
}

func (c Conflicts) Empty() bool { return c.Count() == 0 }

// WriteResult is the outcome of a Write that reached the server state.
type WriteResult struct {
	Outcome   Outcome
	Conflicts Conflicts
	// Counts describes the persisted state; empty on conflict.
	Counts core.Counts
}

// AckHook runs after a write has been persisted.
type AckHook func(ctx context.Context, result WriteResult)

// WriteService merges client working sets into the store.
type WriteService struct {
	provider sheets.StoreProvider
	opts     Options

	mu    sync.RWMutex
	hooks []AckHook
}

func NewWriteService(provider sheets.StoreProvider, opts Options) *WriteService {
	return &WriteService{provider: provider, opts: opts.withDefaults()}
}

// OnAcknowledged registers a hook called after every persisted write.
func (s *WriteService) OnAcknowledged(h AckHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, h)
}

// Write validates set, fetches the server state and either reports the
// conflicting server records or persists the merge of both sides. Nothing
// is written when any record conflicts.
func (s *WriteService) Write(ctx context.Context, set WriteSet) (WriteResult, error) {
	start := time.Now()
	if err := set.Validate(); err != nil {
		return WriteResult{}, err
	}

	store, err := s.provider.Store(ctx)
	if err != nil {
		return WriteResult{}, err
	}

	ranges := s.opts.Layout.mutableRanges()
	grids, err := retry.Value(ctx, s.opts.Retry, "fetch server state", func(ctx context.Context) ([][][]string, error) {
		return store.BatchGet(ctx, ranges)
	})
	if err != nil {
		return WriteResult{}, &RemoteError{Op: "fetch server state", Err: err}
	}

	server, degraded := decodeState(ctx, grids, rows.Env{Now: s.opts.Now()})
	if len(degraded) > 0 {
		return WriteResult{}, fmt.Errorf("%w: %v", ErrServerStateInvalid, degraded)
	}

	conflicts := Conflicts{
		Categories:   DetectConflicts(server.Categories, set.Categories),
		Transactions: DetectConflicts(server.Transactions, set.Transactions),
		Recurring:    DetectConflicts(server.RecurringTransactions, set.Recurring),
		Tags:         DetectConflicts(server.Tags, set.Tags),
	}
	if !conflicts.Empty() {
		slog.WarnContext(ctx, "Write aborted on version conflicts",
			"conflicts", conflicts.Count(),
			"categories", len(conflicts.Categories),
			"transactions", len(conflicts.Transactions),
			"recurring", len(conflicts.Recurring),
			"tags", len(conflicts.Tags))
		return WriteResult{Outcome: OutcomeConflict, Conflicts: conflicts}, nil
	}

	s.warnDrift(ctx, server, set)

	merged := core.Dataset{
		Categories:            Merge(server.Categories, set.Categories),
		Transactions:          Merge(server.Transactions, set.Transactions),
		RecurringTransactions: Merge(server.RecurringTransactions, set.Recurring),
		Tags:                  Merge(server.Tags, set.Tags),
	}.WithEmptyCollections()

	if err := s.persist(ctx, store, ranges, merged); err != nil {
		return WriteResult{}, &RemoteError{Op: "persist merged state", Err: err}
	}

	result := WriteResult{Outcome: OutcomeAcknowledged, Counts: mutableCounts(merged)}
	slog.InfoContext(ctx, "Write acknowledged",
		"submitted", set.Size(),
		"counts", result.Counts,
		"duration_ms", time.Since(start).Milliseconds())

	s.mu.RLock()
	hooks := append([]AckHook(nil), s.hooks...)
	s.mu.RUnlock()
	for _, h := range hooks {
		h(ctx, result)
	}
	return result, nil
}

// persist replaces the four ranges with header plus merged rows. The unit is
// retried as a whole and keeps running if the caller goes away.
func (s *WriteService) persist(ctx context.Context, store sheets.RangeStore, ranges []string, merged core.Dataset) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.PersistTimeout)
	defer cancel()

	data := []sheets.RangeData{
		{Range: ranges[0], Rows: rows.Table(merged.Categories, rows.CategorySchema())},
		{Range: ranges[1], Rows: rows.Table(merged.Transactions, rows.TransactionSchema())},
		{Range: ranges[2], Rows: rows.Table(merged.RecurringTransactions, rows.RecurringSchema())},
		{Range: ranges[3], Rows: rows.Table(merged.Tags, rows.TagSchema())},
	}

	return retry.Do(ctx, s.opts.Retry, "persist merged state", func(ctx context.Context) error {
		if err := store.BatchClear(ctx, ranges); err != nil {
			return fmt.Errorf("clear ranges: %w", err)
		}
		if err := store.BatchUpdate(ctx, data); err != nil {
			return fmt.Errorf("update ranges: %w", err)
		}
		return nil
	})
}

func (s *WriteService) warnDrift(ctx context.Context, server core.Dataset, set WriteSet) {
	drift := map[core.Collection][]string{}
	if keys := VersionDrift(server.Categories, set.Categories, encoder(rows.CategorySchema())); len(keys) > 0 {
		drift[core.Categories] = keys
	}
	if keys := VersionDrift(server.Transactions, set.Transactions, encoder(rows.TransactionSchema())); len(keys) > 0 {
		drift[core.Transactions] = keys
	}
	if keys := VersionDrift(server.RecurringTransactions, set.Recurring, encoder(rows.RecurringSchema())); len(keys) > 0 {
		drift[core.Recurring] = keys
	}
	if keys := VersionDrift(server.Tags, set.Tags, encoder(rows.TagSchema())); len(keys) > 0 {
		drift[core.Tags] = keys
	}
	for c, keys := range drift {
		slog.WarnContext(ctx, "Records changed without a version bump, client copy wins",
			"collection", c,
			"ids", keys)
	}
}

func encoder[T any](s rows.Schema[T]) func(*T) []string {
	return func(rec *T) []string {
		return rows.SerializeRows([]T{*rec}, s)[0]
	}
}

func mutableCounts(d core.Dataset) core.Counts {
	all := d.Counts()
	return core.Counts{
		core.Categories:   all[core.Categories],
		core.Transactions: all[core.Transactions],
		core.Recurring:    all[core.Recurring],
		core.Tags:         all[core.Tags],
	}
}
