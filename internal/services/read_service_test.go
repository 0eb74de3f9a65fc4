package services

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sheetsync/internal/cache"
	"sheetsync/internal/core"
	"sheetsync/internal/rows"
	"sheetsync/internal/sheets"
	"sheetsync/internal/sheets/memory"
)

func TestRead_EmptySheetYieldsEmptyArrays(t *testing.T) {
	snap := readBack(t, memory.New())

	b, err := json.Marshal(snap)
	require.NoError(t, err)
	assert.JSONEq(t, `{"categories":[],"transactions":[],"recurringTransactions":[],"allAvailableTags":[],"users":[],"userSettings":[]}`, string(b))
}

func TestRead_MalformedCollectionIsEmptiedOthersKept(t *testing.T) {
	store := memory.New()
	seed(t, store, "Categories", rows.CategorySchema(), []core.Category{{ID: "cat_1", Name: "Casa", Versioned: envelope(1)}})
	seed(t, store, "Tags", rows.TagSchema(), []core.Tag{{ID: "tag_a", Name: "a", Versioned: envelope(1)}})
	grid := rows.Table([]core.Transaction{
		{ID: "tx_1", CategoryID: "cat_1", Versioned: envelope(1)},
		{ID: "tx_2", CategoryID: "cat_1", Versioned: envelope(1)},
	}, rows.TransactionSchema())
	grid[2][3] = ""
	store.Seed("Transactions", grid)

	snap := readBack(t, store)
	assert.Empty(t, snap.Transactions)
	assert.Len(t, snap.Categories, 1)
	assert.Len(t, snap.Tags, 1)
	assert.Equal(t, []core.Collection{core.Transactions}, snap.Degraded)
}

func TestRead_AllCollections(t *testing.T) {
	store := memory.New()
	active := true
	seed(t, store, "RecurringTransactions", rows.RecurringSchema(), []core.RecurringTransaction{{
		ID: "rt_1", Amount: core.NewMoney(50), CategoryID: "cat_1", Frequency: core.Quarterly,
		StartDate: ts("2024-01-15"), IsActive: &active, Versioned: envelope(2),
	}})
	seed(t, store, "Users", rows.UserSchema(), []core.User{{ID: "u_1", Name: "Anna", Versioned: envelope(1)}})
	seed(t, store, "UserSettings", rows.UserSettingSchema(), []core.UserSetting{{
		UserID: "u_1", SettingKey: core.FavoriteCategories, SettingValue: `["cat_1"]`, Versioned: envelope(1),
	}})

	snap := readBack(t, store)
	require.Len(t, snap.RecurringTransactions, 1)
	assert.Equal(t, core.Quarterly, snap.RecurringTransactions[0].Frequency)
	assert.Equal(t, 2, snap.RecurringTransactions[0].Version)
	require.Len(t, snap.Users, 1)
	require.Len(t, snap.UserSettings, 1)
	assert.Equal(t, "u_1|favoriteCategories", snap.UserSettings[0].Key())
}

func TestRead_ConfigurationError(t *testing.T) {
	r := NewReadService(failingProvider{err: &core.ConfigurationError{Missing: []string{"GOOGLE_PRIVATE_KEY"}}}, testOptions(), nil)
	_, err := r.Read(context.Background())
	var cfgErr *core.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
}

func TestRead_RetriesTransientFailure(t *testing.T) {
	flaky := &flakyStore{RangeStore: memory.New(), failGets: 2, err: errUnavailable}
	r := NewReadService(sheets.StaticProvider{RangeStore: flaky}, testOptions(), nil)

	_, err := r.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, flaky.gets)
}

func TestRead_CacheAndInvalidate(t *testing.T) {
	store := memory.New()
	seed(t, store, "Tags", rows.TagSchema(), []core.Tag{{ID: "tag_a", Name: "a", Versioned: envelope(1)}})
	r := NewReadService(sheets.StaticProvider{RangeStore: store}, testOptions(), cache.NewLRUCache[Snapshot](1, time.Minute))

	_, err := r.Read(context.Background())
	require.NoError(t, err)
	_, err = r.Read(context.Background())
	require.NoError(t, err)
	gets, _, _ := store.Calls()
	assert.Equal(t, 1, gets, "second read served from cache")

	seed(t, store, "Tags", rows.TagSchema(), []core.Tag{{ID: "tag_a", Name: "a", Versioned: envelope(1)}, {ID: "tag_b", Name: "b", Versioned: envelope(1)}})
	r.Invalidate()
	snap, err := r.Read(context.Background())
	require.NoError(t, err)
	assert.Len(t, snap.Tags, 2)
}

func TestRead_WriteHookInvalidatesCache(t *testing.T) {
	store := memory.New()
	r := NewReadService(sheets.StaticProvider{RangeStore: store}, testOptions(), cache.NewLRUCache[Snapshot](1, time.Minute))
	w := NewWriteService(sheets.StaticProvider{RangeStore: store}, testOptions())
	w.OnAcknowledged(func(context.Context, WriteResult) { r.Invalidate() })

	snap, err := r.Read(context.Background())
	require.NoError(t, err)
	assert.Empty(t, snap.Tags)

	_, err = w.Write(context.Background(), WriteSet{Tags: []core.Tag{{ID: "tag_a", Name: "a", Versioned: envelope(1)}}})
	require.NoError(t, err)

	snap, err = r.Read(context.Background())
	require.NoError(t, err)
	assert.Len(t, snap.Tags, 1)
}

// gatedStore blocks the first BatchGet until release is closed and records
// whether its context was cancelled meanwhile.
type gatedStore struct {
	sheets.RangeStore

	once    sync.Once
	entered chan struct{}
	release chan struct{}
	ctxErr  error
}

func (g *gatedStore) BatchGet(ctx context.Context, ranges []string) ([][][]string, error) {
	first := false
	g.once.Do(func() { first = true })
	if first {
		close(g.entered)
		<-g.release
		g.ctxErr = ctx.Err()
	}
	return g.RangeStore.BatchGet(ctx, ranges)
}

func TestRead_CancelledCallerDoesNotFailSharedFetch(t *testing.T) {
	store := memory.New()
	seed(t, store, "Tags", rows.TagSchema(), []core.Tag{{ID: "tag_a", Name: "a", Versioned: envelope(1)}})
	gated := &gatedStore{RangeStore: store, entered: make(chan struct{}), release: make(chan struct{})}
	r := NewReadService(sheets.StaticProvider{RangeStore: gated}, testOptions(), nil)

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := r.Read(ctxA)
		errA <- err
	}()
	<-gated.entered

	type result struct {
		snap Snapshot
		err  error
	}
	resB := make(chan result, 1)
	go func() {
		snap, err := r.Read(context.Background())
		resB <- result{snap, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelA()
	assert.ErrorIs(t, <-errA, context.Canceled)

	close(gated.release)
	b := <-resB
	require.NoError(t, b.err)
	assert.Len(t, b.snap.Tags, 1)
	assert.NoError(t, gated.ctxErr, "shared fetch must not inherit the first caller's cancellation")
}

func TestRead_ConcurrentReaders(t *testing.T) {
	store := memory.New()
	seed(t, store, "Tags", rows.TagSchema(), []core.Tag{{ID: "tag_a", Name: "a", Versioned: envelope(1)}})
	r := NewReadService(sheets.StaticProvider{RangeStore: store}, testOptions(), nil)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			snap, err := r.Read(context.Background())
			if err == nil && len(snap.Tags) != 1 {
				err = assert.AnError
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
}
