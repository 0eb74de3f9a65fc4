package client

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sheetsync/internal/core"
	"sheetsync/internal/retry"
	"sheetsync/internal/rows"
	"sheetsync/internal/services"
	"sheetsync/internal/sheets"
	"sheetsync/internal/sheets/memory"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// inProcess serves the client straight from the services.
type inProcess struct {
	*services.ReadService
	*services.WriteService
}

func newRemote(store *memory.Store) inProcess {
	opts := services.Options{
		Retry: retry.Policy{MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
		Now:   func() time.Time { return testNow },
	}
	provider := sheets.StaticProvider{RangeStore: store}
	return inProcess{
		ReadService:  services.NewReadService(provider, opts, nil),
		WriteService: services.NewWriteService(provider, opts),
	}
}

type transitions struct {
	mu  sync.Mutex
	got []string
}

func (tr *transitions) record(from, to SyncState) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.got = append(tr.got, from.String()+">"+to.String())
}

func (tr *transitions) list() []string {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return append([]string(nil), tr.got...)
}

func open(t *testing.T, remote Remote, opts Options) (*Orchestrator, *MemoryStore) {
	t.Helper()
	local := NewMemoryStore()
	if opts.Now == nil {
		opts.Now = func() time.Time { return testNow }
	}
	o, err := Open(context.Background(), remote, local, opts)
	require.NoError(t, err)
	return o, local
}

func TestSaveAssignsIDAndBumpsVersion(t *testing.T) {
	ctx := context.Background()
	o, local := open(t, newRemote(memory.New()), Options{})

	tag, err := o.SaveTag(ctx, core.Tag{Name: "casa"})
	require.NoError(t, err)
	_, err = uuid.Parse(tag.ID)
	assert.NoError(t, err, "new ids are UUIDs")
	assert.Equal(t, 1, tag.Version)
	assert.Equal(t, testNow, tag.LastModified.Time)

	tag.Name = "home"
	tag, err = o.SaveTag(ctx, tag)
	require.NoError(t, err)
	assert.Equal(t, 2, tag.Version)

	snap := o.Snapshot()
	require.Len(t, snap.Data.Tags, 1)
	assert.Equal(t, "home", snap.Data.Tags[0].Name)
	assert.True(t, snap.IsPending(core.Tags, tag.ID))
	assert.Equal(t, 2, local.Saves())
}

func TestSaveRejectsInvalidRecord(t *testing.T) {
	o, _ := open(t, newRemote(memory.New()), Options{})

	_, err := o.SaveTransaction(context.Background(), core.Transaction{Description: "no category"})
	var verr *core.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, core.Transactions, verr.Details[0].Collection)
	assert.Equal(t, "categoryId", verr.Details[0].Field)
	assert.Zero(t, o.PendingCount())
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	o, _ := open(t, newRemote(memory.New()), Options{})

	cat, err := o.SaveCategory(ctx, core.Category{Name: "Casa"})
	require.NoError(t, err)

	require.NoError(t, o.Delete(ctx, core.Categories, cat.ID))
	got := o.Snapshot().Data.Categories[0]
	assert.True(t, got.IsDeleted)
	assert.Equal(t, 2, got.Version)

	require.NoError(t, o.Delete(ctx, core.Categories, cat.ID))
	assert.Equal(t, 2, o.Snapshot().Data.Categories[0].Version, "deleting a tombstone changes nothing")

	assert.ErrorIs(t, o.Delete(ctx, core.Tags, "missing"), ErrNotFound)
	assert.ErrorIs(t, o.Delete(ctx, core.Users, "u1"), ErrReadOnlyCollection)
}

func TestSyncAcknowledged(t *testing.T) {
	ctx := context.Background()
	server := memory.New()
	tr := &transitions{}
	o, _ := open(t, newRemote(server), Options{OnTransition: tr.record})

	cat, err := o.SaveCategory(ctx, core.Category{ID: "cat_x", Name: "Casa"})
	require.NoError(t, err)

	result, err := o.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, services.OutcomeAcknowledged, result.Outcome)
	assert.Equal(t, Idle, o.State())
	assert.Equal(t, []string{"idle>syncing", "syncing>idle"}, tr.list())

	snap := o.Snapshot()
	assert.Zero(t, snap.PendingCount())
	assert.Equal(t, testNow, snap.LastSynced)
	assert.Empty(t, snap.LastError)

	grid := server.Grid("Categories")
	require.Len(t, grid, 2)
	assert.Equal(t, cat.ID, grid[1][0])
}

// flaky fails every write with err.
type flaky struct {
	Remote
	err error
}

func (f flaky) Write(context.Context, services.WriteSet) (services.WriteResult, error) {
	return services.WriteResult{}, f.err
}

func TestSyncFailureKeepsPendingChanges(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("503 backend unavailable")
	o, _ := open(t, flaky{Remote: newRemote(memory.New()), err: boom}, Options{})

	_, err := o.SaveTag(ctx, core.Tag{ID: "tag_a", Name: "a"})
	require.NoError(t, err)

	_, err = o.Sync(ctx)
	require.ErrorIs(t, err, boom)

	snap := o.Snapshot()
	assert.Equal(t, Idle, o.State())
	assert.True(t, snap.IsPending(core.Tags, "tag_a"))
	assert.True(t, snap.LastSynced.IsZero())
	assert.Equal(t, boom.Error(), snap.LastError)
	assert.ErrorIs(t, o.LastError(), boom)
}

// editDuringWrite changes a record while the write is in flight.
type editDuringWrite struct {
	Remote
	edit func()
}

func (e editDuringWrite) Write(ctx context.Context, set services.WriteSet) (services.WriteResult, error) {
	e.edit()
	return e.Remote.Write(ctx, set)
}

func TestEditDuringSyncStaysPending(t *testing.T) {
	ctx := context.Background()
	remote := &editDuringWrite{Remote: newRemote(memory.New())}
	o, _ := open(t, remote, Options{})

	_, err := o.SaveTag(ctx, core.Tag{ID: "tag_a", Name: "a"})
	require.NoError(t, err)
	_, err = o.SaveTag(ctx, core.Tag{ID: "tag_b", Name: "b"})
	require.NoError(t, err)

	remote.edit = func() {
		_, err := o.SaveTag(ctx, core.Tag{ID: "tag_a", Name: "a2"})
		require.NoError(t, err)
	}

	_, err = o.Sync(ctx)
	require.NoError(t, err)

	snap := o.Snapshot()
	assert.True(t, snap.IsPending(core.Tags, "tag_a"), "edited during sync")
	assert.False(t, snap.IsPending(core.Tags, "tag_b"))
}

// conflictSetup leaves the server at tag_1 v3 while the returned
// orchestrator holds a local edit based on v1.
func conflictSetup(t *testing.T, opts Options) (*Orchestrator, *memory.Store) {
	t.Helper()
	ctx := context.Background()
	server := memory.New()

	a, _ := open(t, newRemote(server), Options{})
	tag, err := a.SaveTag(ctx, core.Tag{ID: "tag_1", Name: "first"})
	require.NoError(t, err)
	_, err = a.Sync(ctx)
	require.NoError(t, err)

	b, _ := open(t, newRemote(server), opts)
	require.NoError(t, b.Refresh(ctx))

	for _, name := range []string{"second", "third"} {
		tag.Name = name
		tag, err = a.SaveTag(ctx, tag)
		require.NoError(t, err)
	}
	_, err = a.Sync(ctx)
	require.NoError(t, err)

	local := b.Snapshot().Data.Tags[0]
	local.Name = "mine"
	_, err = b.SaveTag(ctx, local)
	require.NoError(t, err)
	return b, server
}

func TestSyncConflictEntersResolving(t *testing.T) {
	ctx := context.Background()
	tr := &transitions{}
	b, server := conflictSetup(t, Options{OnTransition: tr.record})

	result, err := b.Sync(ctx)
	require.NoError(t, err)
	require.Equal(t, services.OutcomeConflict, result.Outcome)
	require.Len(t, result.Conflicts.Tags, 1)
	assert.Equal(t, 3, result.Conflicts.Tags[0].Version)

	assert.Equal(t, Resolving, b.State())
	assert.Equal(t, []string{"idle>syncing", "syncing>resolving"}, tr.list())

	snap := b.Snapshot()
	assert.True(t, snap.Data.Tags[0].Conflicted)
	assert.Equal(t, "mine", snap.Data.Tags[0].Name)
	assert.True(t, snap.IsPending(core.Tags, "tag_1"))
	require.Len(t, snap.Conflicts.Tags, 1)

	_, err = b.Sync(ctx)
	assert.ErrorIs(t, err, ErrUnresolvedConflicts)

	tags, report := rows.ParseRows(rows.TagSchema().StripHeader(server.Grid("Tags")), rows.TagSchema(), rows.Env{Now: testNow})
	require.False(t, report.Failed())
	assert.Equal(t, "third", tags[0].Name, "nothing written on conflict")
}

func TestResolveKeepLocal(t *testing.T) {
	ctx := context.Background()
	b, server := conflictSetup(t, Options{})
	_, err := b.Sync(ctx)
	require.NoError(t, err)

	require.NoError(t, b.Resolve(ctx, core.Tags, "tag_1", KeepLocal))
	assert.Equal(t, Idle, b.State())

	snap := b.Snapshot()
	got := snap.Data.Tags[0]
	assert.Equal(t, "mine", got.Name)
	assert.Equal(t, 4, got.Version, "rebased past the server version")
	assert.False(t, got.Conflicted)
	assert.True(t, snap.IsPending(core.Tags, "tag_1"))
	assert.True(t, snap.Conflicts.Empty())

	result, err := b.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, services.OutcomeAcknowledged, result.Outcome)

	tags, _ := rows.ParseRows(rows.TagSchema().StripHeader(server.Grid("Tags")), rows.TagSchema(), rows.Env{Now: testNow})
	require.Len(t, tags, 1)
	assert.Equal(t, "mine", tags[0].Name)
	assert.Equal(t, 4, tags[0].Version)
}

func TestResolveTakeServer(t *testing.T) {
	ctx := context.Background()
	b, _ := conflictSetup(t, Options{})
	_, err := b.Sync(ctx)
	require.NoError(t, err)

	assert.ErrorIs(t, b.Resolve(ctx, core.Tags, "other", TakeServer), ErrNoConflict)
	require.NoError(t, b.ResolveAll(ctx, TakeServer))

	snap := b.Snapshot()
	got := snap.Data.Tags[0]
	assert.Equal(t, "third", got.Name)
	assert.Equal(t, 3, got.Version)
	assert.False(t, got.Conflicted)
	assert.False(t, snap.IsPending(core.Tags, "tag_1"))
	assert.Equal(t, Idle, b.State())
}

func TestServerWinsPolicyResolvesImmediately(t *testing.T) {
	ctx := context.Background()
	b, _ := conflictSetup(t, Options{Policy: PolicyServerWins})

	result, err := b.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, services.OutcomeConflict, result.Outcome)
	assert.Equal(t, Idle, b.State())
	assert.Equal(t, "third", b.Snapshot().Data.Tags[0].Name)
}

// staleSetup has a sync tag_a and tag_b at v1, then b rename both twice and
// sync, leaving a with copies it never edited that are behind the server's v3.
func staleSetup(t *testing.T, opts Options) (*Orchestrator, *memory.Store) {
	t.Helper()
	ctx := context.Background()
	server := memory.New()

	a, _ := open(t, newRemote(server), opts)
	for _, id := range []string{"tag_a", "tag_b"} {
		_, err := a.SaveTag(ctx, core.Tag{ID: id, Name: id})
		require.NoError(t, err)
	}
	_, err := a.Sync(ctx)
	require.NoError(t, err)

	b, _ := open(t, newRemote(server), Options{})
	require.NoError(t, b.Refresh(ctx))
	for _, tag := range b.Snapshot().Data.Tags {
		for range 2 {
			tag.Name = tag.ID + " (b)"
			tag, err = b.SaveTag(ctx, tag)
			require.NoError(t, err)
		}
	}
	_, err = b.Sync(ctx)
	require.NoError(t, err)
	return a, server
}

func TestSyncAdoptsServerCopyOfUneditedRecords(t *testing.T) {
	ctx := context.Background()
	tr := &transitions{}
	a, server := staleSetup(t, Options{OnTransition: tr.record})

	_, err := a.SaveTag(ctx, core.Tag{ID: "tag_new", Name: "new"})
	require.NoError(t, err)

	result, err := a.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, services.OutcomeAcknowledged, result.Outcome)
	assert.Equal(t, Idle, a.State())
	assert.NotContains(t, tr.list(), "syncing>resolving")

	snap := a.Snapshot()
	assert.True(t, snap.Conflicts.Empty())
	assert.Zero(t, snap.PendingCount())
	require.Len(t, snap.Data.Tags, 3)
	for _, tag := range snap.Data.Tags[:2] {
		assert.Equal(t, tag.ID+" (b)", tag.Name)
		assert.Equal(t, 3, tag.Version)
		assert.False(t, tag.Conflicted)
	}

	tags, report := rows.ParseRows(rows.TagSchema().StripHeader(server.Grid("Tags")), rows.TagSchema(), rows.Env{Now: testNow})
	require.False(t, report.Failed())
	require.Len(t, tags, 3)
	assert.Equal(t, "tag_a (b)", tags[0].Name)
	assert.Equal(t, "tag_new", tags[2].ID)
}

func TestSyncHoldsOnlyPendingConflicts(t *testing.T) {
	ctx := context.Background()
	a, server := staleSetup(t, Options{})

	mine := a.Snapshot().Data.Tags[1]
	mine.Name = "mine"
	_, err := a.SaveTag(ctx, mine)
	require.NoError(t, err)

	result, err := a.Sync(ctx)
	require.NoError(t, err)
	require.Equal(t, services.OutcomeConflict, result.Outcome)
	require.Len(t, result.Conflicts.Tags, 1)
	assert.Equal(t, "tag_b", result.Conflicts.Tags[0].ID)
	assert.Equal(t, Resolving, a.State())

	snap := a.Snapshot()
	require.Len(t, snap.Conflicts.Tags, 1)
	assert.Equal(t, "tag_b", snap.Conflicts.Tags[0].ID)

	adopted := snap.Data.Tags[0]
	assert.Equal(t, "tag_a (b)", adopted.Name)
	assert.False(t, adopted.Conflicted)
	assert.False(t, snap.IsPending(core.Tags, "tag_a"))

	held := snap.Data.Tags[1]
	assert.Equal(t, "mine", held.Name)
	assert.True(t, held.Conflicted)
	assert.True(t, snap.IsPending(core.Tags, "tag_b"))

	require.NoError(t, a.Resolve(ctx, core.Tags, "tag_b", KeepLocal))
	result, err = a.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, services.OutcomeAcknowledged, result.Outcome)

	tags, _ := rows.ParseRows(rows.TagSchema().StripHeader(server.Grid("Tags")), rows.TagSchema(), rows.Env{Now: testNow})
	require.Len(t, tags, 2)
	assert.Equal(t, "tag_a (b)", tags[0].Name)
	assert.Equal(t, "mine", tags[1].Name)
}

func TestRefreshBootstrapMerge(t *testing.T) {
	ctx := context.Background()
	server := memory.New()
	server.Seed("Tags", rows.Table([]core.Tag{
		{ID: "t1", Name: "server", Versioned: core.Versioned{Version: 5, LastModified: core.NewTimestamp(testNow)}},
		{ID: "t2", Name: "s2", Versioned: core.Versioned{Version: 2, LastModified: core.NewTimestamp(testNow)}},
	}, rows.TagSchema()))
	server.Seed("Users", rows.Table([]core.User{
		{ID: "u1", Name: "Ada", Versioned: core.Versioned{Version: 1, LastModified: core.NewTimestamp(testNow)}},
	}, rows.UserSchema()))

	local := NewMemoryStore()
	st := NewState()
	v1 := core.Versioned{Version: 1, LastModified: core.NewTimestamp(testNow)}
	st.Data.Tags = []core.Tag{
		{ID: "t1", Name: "local edit", Versioned: v1},
		{ID: "t2", Name: "stale", Versioned: v1},
		{ID: "t3", Name: "local only", Versioned: v1},
	}
	st.Data.Users = []core.User{{ID: "gone", Name: "Old", Versioned: v1}}
	st.MarkPending(core.Tags, "t1")
	require.NoError(t, local.Save(ctx, st))

	o, err := Open(ctx, newRemote(server), local, Options{Now: func() time.Time { return testNow }})
	require.NoError(t, err)
	require.NoError(t, o.Refresh(ctx))

	snap := o.Snapshot()
	names := map[string]string{}
	for _, tag := range snap.Data.Tags {
		names[tag.ID] = tag.Name
	}
	assert.Equal(t, map[string]string{"t1": "local edit", "t2": "s2", "t3": "local only"}, names)
	assert.Equal(t, "t3", snap.Data.Tags[2].ID, "local-only records follow server order")
	require.Len(t, snap.Data.Users, 1)
	assert.Equal(t, "u1", snap.Data.Users[0].ID)
	assert.True(t, snap.IsPending(core.Tags, "t1"))
}

func TestRefreshFailureRecordsError(t *testing.T) {
	o, _ := open(t, newRemote(memory.New()), Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Error(t, o.Refresh(ctx))
	assert.Error(t, o.LastError())
}

func TestOpenResumesResolving(t *testing.T) {
	ctx := context.Background()
	local := NewMemoryStore()
	st := NewState()
	st.Conflicts.Tags = []core.Tag{{ID: "t1", Name: "server", Versioned: core.Versioned{Version: 2}}}
	require.NoError(t, local.Save(ctx, st))

	o, err := Open(ctx, newRemote(memory.New()), local, Options{})
	require.NoError(t, err)
	assert.Equal(t, Resolving, o.State())
}

func TestProcessRecurring(t *testing.T) {
	ctx := context.Background()
	o, _ := open(t, newRemote(memory.New()), Options{})

	rt, err := o.SaveRecurring(ctx, core.RecurringTransaction{
		ID:          "rt_rent",
		Amount:      core.NewMoney(750),
		Description: "Rent",
		CategoryID:  "cat_home",
		Frequency:   core.Monthly,
		StartDate:   core.NewTimestamp(time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)),
	})
	require.NoError(t, err)
	require.Equal(t, 1, rt.Version)

	run, err := o.ProcessRecurring(ctx, testNow)
	require.NoError(t, err)
	require.Len(t, run.Transactions, 3)

	snap := o.Snapshot()
	require.Len(t, snap.Data.Transactions, 3)
	for _, tx := range snap.Data.Transactions {
		assert.Equal(t, "rt_rent", tx.RecurringID)
		assert.True(t, snap.IsPending(core.Transactions, tx.ID))
	}
	tpl := snap.Data.RecurringTransactions[0]
	assert.Equal(t, 2, tpl.Version)
	require.NotNil(t, tpl.LastProcessedDate)
	assert.Equal(t, time.Date(2024, 5, 15, 0, 0, 0, 0, time.UTC), tpl.LastProcessedDate.Time)

	run, err = o.ProcessRecurring(ctx, testNow)
	require.NoError(t, err)
	assert.Empty(t, run.Transactions, "nothing new is due")
}

func TestParseChoiceAndPolicy(t *testing.T) {
	c, err := ParseChoice("local")
	require.NoError(t, err)
	assert.Equal(t, KeepLocal, c)
	_, err = ParseChoice("both")
	assert.Error(t, err)

	p, err := ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyManual, p)
	p, err = ParsePolicy("server-wins")
	require.NoError(t, err)
	assert.Equal(t, PolicyServerWins, p)
	_, err = ParsePolicy("client-wins")
	assert.Error(t, err)
}
