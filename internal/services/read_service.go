// Package services implements the Read and Write pipelines over the
// spreadsheet store and the recurring-template helpers used by clients.
package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"sheetsync/internal/cache"
	"sheetsync/internal/core"
	"sheetsync/internal/retry"
	"sheetsync/internal/rows"
	"sheetsync/internal/sheets"
)

const snapshotKey = "snapshot"

// Options configures both pipelines.
type Options struct {
	Layout Layout
	Retry  retry.Policy
	Now    func() time.Time
	// PersistTimeout bounds the clear-and-write unit of a Write once started.
	PersistTimeout time.Duration
	// FetchTimeout bounds a shared snapshot fetch, which outlives the
	// request that started it.
	FetchTimeout time.Duration
}

func (o Options) withDefaults() Options {
	o.Layout = o.Layout.WithDefaults()
	if o.Retry.MaxAttempts == 0 {
		o.Retry = retry.DefaultPolicy()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.FetchTimeout <= 0 {
		o.FetchTimeout = 30 * time.Second
	}
	if o.PersistTimeout <= 0 {
		o.PersistTimeout = 30 * time.Second
	}
	return o
}

// Snapshot is the response of a Read. Degraded lists collections that were
// present in the sheet but failed validation and are returned empty.
type Snapshot struct {
	core.Dataset
	Degraded []core.Collection `json:"degraded,omitempty"`
}

// ReadService returns all six collections in one batched fetch.
type ReadService struct {
	provider  sheets.StoreProvider
	opts      Options
	group     singleflight.Group
	snapshots *cache.LRUCache[Snapshot]
	gen       atomic.Uint64
}

// NewReadService creates the Read pipeline. snapshots may be nil to disable
// caching.
func NewReadService(provider sheets.StoreProvider, opts Options, snapshots *cache.LRUCache[Snapshot]) *ReadService {
	return &ReadService{provider: provider, opts: opts.withDefaults(), snapshots: snapshots}
}

// Read returns the current snapshot. Concurrent calls share one fetch; a
// caller that goes away stops waiting without cancelling the fetch for the
// others.
func (s *ReadService) Read(ctx context.Context) (Snapshot, error) {
	if s.snapshots != nil {
		if snap, ok := s.snapshots.Get(snapshotKey); ok {
			slog.DebugContext(ctx, "Serving cached snapshot")
			return snap, nil
		}
	}

	ch := s.group.DoChan(snapshotKey, func() (interface{}, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.FetchTimeout)
		defer cancel()
		return s.fetch(fetchCtx)
	})

	select {
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Snapshot{}, res.Err
		}
		if res.Shared {
			slog.DebugContext(ctx, "Snapshot fetch shared with concurrent request")
		}
		return res.Val.(Snapshot), nil
	}
}

func (s *ReadService) fetch(ctx context.Context) (Snapshot, error) {
	gen := s.gen.Load()
	start := time.Now()

	store, err := s.provider.Store(ctx)
	if err != nil {
		return Snapshot{}, err
	}

	ranges := s.opts.Layout.allRanges()
	grids, err := retry.Value(ctx, s.opts.Retry, "read snapshot", func(ctx context.Context) ([][][]string, error) {
		return store.BatchGet(ctx, ranges)
	})
	if err != nil {
		return Snapshot{}, &RemoteError{Op: "read snapshot", Err: err}
	}
	if len(grids) != len(ranges) {
		return Snapshot{}, &RemoteError{Op: "read snapshot", Err: fmt.Errorf("expected %d ranges, got %d", len(ranges), len(grids))}
	}

	data, degraded := decodeState(ctx, grids, rows.Env{Now: s.opts.Now()})
	snap := Snapshot{Dataset: data, Degraded: degraded}

	slog.InfoContext(ctx, "Snapshot read",
		"counts", data.Counts(),
		"degraded", degraded,
		"duration_ms", time.Since(start).Milliseconds())

	if s.snapshots != nil && len(degraded) == 0 && s.gen.Load() == gen {
		s.snapshots.Set(snapshotKey, snap)
	}
	return snap, nil
}

// Invalidate drops the cached snapshot. A fetch already in flight will not
// repopulate the cache.
func (s *ReadService) Invalidate() {
	s.gen.Add(1)
	s.group.Forget(snapshotKey)
	if s.snapshots != nil {
		s.snapshots.Delete(snapshotKey)
	}
}
