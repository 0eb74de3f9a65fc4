package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"sheetsync/internal/core"
	"sheetsync/internal/retry"
	"sheetsync/internal/rows"
	"sheetsync/internal/sheets"
	"sheetsync/internal/sheets/memory"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func testOptions() Options {
	return Options{
		Retry: retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond},
		Now:   func() time.Time { return testNow },
	}
}

func ts(s string) core.Timestamp {
	t, err := core.ParseTimestamp(s)
	if err != nil {
		panic(err)
	}
	return t
}

func envelope(version int) core.Versioned {
	return core.Versioned{Version: version, LastModified: ts("2024-05-01T10:00:00Z")}
}

func seed[T any](t *testing.T, store *memory.Store, tab string, s rows.Schema[T], items []T) {
	t.Helper()
	store.Seed(tab, rows.Table(items, s))
}

func readBack(t *testing.T, store sheets.RangeStore) Snapshot {
	t.Helper()
	snap, err := NewReadService(sheets.StaticProvider{RangeStore: store}, testOptions(), nil).Read(context.Background())
	require.NoError(t, err)
	return snap
}

// flakyStore fails the first N calls of selected operations.
type flakyStore struct {
	sheets.RangeStore

	mu          sync.Mutex
	failGets    int
	failUpdates int
	err         error
	gets        int
	updates     int
}

func (f *flakyStore) BatchGet(ctx context.Context, ranges []string) ([][][]string, error) {
	f.mu.Lock()
	f.gets++
	fail := f.failGets > 0
	if fail {
		f.failGets--
	}
	f.mu.Unlock()
	if fail {
		return nil, f.err
	}
	return f.RangeStore.BatchGet(ctx, ranges)
}

func (f *flakyStore) BatchUpdate(ctx context.Context, data []sheets.RangeData) error {
	f.mu.Lock()
	f.updates++
	fail := f.failUpdates > 0
	if fail {
		f.failUpdates--
	}
	f.mu.Unlock()
	if fail {
		return f.err
	}
	return f.RangeStore.BatchUpdate(ctx, data)
}

type failingProvider struct{ err error }

func (p failingProvider) Store(context.Context) (sheets.RangeStore, error) { return nil, p.err }

var errUnavailable = retry.Transient(errors.New("503 backend unavailable"))
