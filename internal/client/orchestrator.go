package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"sheetsync/internal/core"
	applog "sheetsync/internal/log"
	"sheetsync/internal/services"
)

// Remote is the sync service as seen by the client. Both the HTTP APIClient
// and the in-process services satisfy it.
type Remote interface {
	Read(ctx context.Context) (services.Snapshot, error)
	Write(ctx context.Context, set services.WriteSet) (services.WriteResult, error)
}

type Options struct {
	Policy ConflictPolicy
	// OnTransition observes every change of SyncState.
	OnTransition func(from, to SyncState)
	Now          func() time.Time
	// RecurringLimit caps catch-up occurrences per template; 0 uses the default.
	RecurringLimit int
	Logger         *slog.Logger
}

// Orchestrator owns the local working copy. Refresh, Sync and conflict
// resolution run one at a time; local edits may happen while a sync is in
// flight.
type Orchestrator struct {
	remote    Remote
	store     LocalStore
	opts      Options
	recurring *services.RecurringProcessor
	log       *applog.Logger

	opMu sync.Mutex

	mu      sync.Mutex
	state   State
	sync    SyncState
	lastErr error
}

// Open loads the persisted state. A state with held conflicts resumes in
// Resolving.
func Open(ctx context.Context, remote Remote, store LocalStore, opts Options) (*Orchestrator, error) {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Policy == "" {
		opts.Policy = PolicyManual
	}
	base := opts.Logger
	if base == nil {
		base = slog.Default()
	}

	st, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load local state: %w", err)
	}
	if st.Pending == nil {
		st.Pending = map[core.Collection]map[string]bool{}
	}
	st.Data = st.Data.WithEmptyCollections()

	o := &Orchestrator{
		remote:    remote,
		store:     store,
		opts:      opts,
		recurring: services.NewRecurringProcessor(opts.RecurringLimit),
		log:       applog.Scoped(base, applog.ComponentClient),
		state:     st,
	}
	if !st.Conflicts.Empty() {
		o.sync = Resolving
	}
	return o, nil
}

func (o *Orchestrator) now() time.Time { return o.opts.Now() }

// State reports the current position in the sync cycle.
func (o *Orchestrator) State() SyncState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sync
}

// Snapshot returns a copy of the working state.
func (o *Orchestrator) Snapshot() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state.Clone()
}

// LastError is the error of the last failed sync or refresh, nil after a
// successful one.
func (o *Orchestrator) LastError() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastErr
}

func (o *Orchestrator) PendingCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state.PendingCount()
}

func (o *Orchestrator) transition(to SyncState) {
	o.mu.Lock()
	from := o.sync
	o.sync = to
	o.mu.Unlock()

	if from == to {
		return
	}
	o.log.Debug("Sync state changed", "from", from.String(), applog.FieldState, to.String())
	if o.opts.OnTransition != nil {
		o.opts.OnTransition(from, to)
	}
}

// persistLocked writes the state through the local store. Callers hold mu.
func (o *Orchestrator) persistLocked(ctx context.Context) error {
	if err := o.store.Save(ctx, o.state); err != nil {
		return fmt.Errorf("save local state: %w", err)
	}
	return nil
}

// Refresh pulls the server snapshot into the working copy. Pending local
// records and records the server does not know are kept; users and user
// settings are replaced.
func (o *Orchestrator) Refresh(ctx context.Context) error {
	o.opMu.Lock()
	defer o.opMu.Unlock()

	snap, err := o.remote.Read(ctx)
	if err != nil {
		o.mu.Lock()
		o.lastErr = err
		o.state.LastError = err.Error()
		o.mu.Unlock()
		o.log.ErrorContext(ctx, "Refresh failed",
			applog.NewFields().WithOperation(applog.OpRefresh).WithError(err, applog.ErrorTypeRemote).ToSlice()...)
		return err
	}
	if len(snap.Degraded) > 0 {
		o.log.WarnContext(ctx, "Server returned degraded collections; local copies kept",
			"degraded", snap.Degraded)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	d := &o.state.Data
	d.Categories = bootstrap(d.Categories, snap.Categories, o.state.Pending[core.Categories])
	d.Transactions = bootstrap(d.Transactions, snap.Transactions, o.state.Pending[core.Transactions])
	d.RecurringTransactions = bootstrap(d.RecurringTransactions, snap.RecurringTransactions, o.state.Pending[core.Recurring])
	d.Tags = bootstrap(d.Tags, snap.Tags, o.state.Pending[core.Tags])
	d.Users = slices.Clone(snap.Users)
	d.UserSettings = slices.Clone(snap.UserSettings)
	*d = d.WithEmptyCollections()

	o.lastErr = nil
	o.state.LastError = ""

	o.log.InfoContext(ctx, "Refreshed from server",
		applog.NewFields().WithOperation(applog.OpRefresh).WithCounts(d.Counts()).ToSlice()...)
	return o.persistLocked(ctx)
}

func save[T any, PT editable[T]](ctx context.Context, o *Orchestrator, c core.Collection, items *[]T, item T) (T, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	updated, saved, err := upsert[T, PT](c, *items, item, o.now())
	if err != nil {
		var zero T
		return zero, err
	}
	*items = updated
	o.state.MarkPending(c, PT(&saved).Key())
	return saved, o.persistLocked(ctx)
}

// SaveCategory creates or updates a category. An empty id gets a fresh one.
func (o *Orchestrator) SaveCategory(ctx context.Context, c core.Category) (core.Category, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return save(ctx, o, core.Categories, &o.state.Data.Categories, c)
}

func (o *Orchestrator) SaveTransaction(ctx context.Context, t core.Transaction) (core.Transaction, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return save(ctx, o, core.Transactions, &o.state.Data.Transactions, t)
}

func (o *Orchestrator) SaveRecurring(ctx context.Context, r core.RecurringTransaction) (core.RecurringTransaction, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return save(ctx, o, core.Recurring, &o.state.Data.RecurringTransactions, r)
}

func (o *Orchestrator) SaveTag(ctx context.Context, t core.Tag) (core.Tag, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return save(ctx, o, core.Tags, &o.state.Data.Tags, t)
}

// Delete turns a record into a tombstone that the next sync propagates.
func (o *Orchestrator) Delete(ctx context.Context, c core.Collection, id string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	var (
		changed bool
		err     error
		now     = o.now()
		d       = &o.state.Data
	)
	switch c {
	case core.Categories:
		changed, err = tombstone(d.Categories, id, now)
	case core.Transactions:
		changed, err = tombstone(d.Transactions, id, now)
	case core.Recurring:
		changed, err = tombstone(d.RecurringTransactions, id, now)
	case core.Tags:
		changed, err = tombstone(d.Tags, id, now)
	default:
		return fmt.Errorf("%w: %s", ErrReadOnlyCollection, c)
	}
	if err != nil {
		return fmt.Errorf("delete %s %q: %w", c, id, err)
	}
	if !changed {
		return nil
	}
	o.state.MarkPending(c, id)
	return o.persistLocked(ctx)
}

// Sync submits the working set of the four mutable collections. Conflicts on
// records with no local edit are settled by adopting the server copy, after
// which the write is tried once more.
func (o *Orchestrator) Sync(ctx context.Context) (services.WriteResult, error) {
	o.opMu.Lock()
	defer o.opMu.Unlock()

	result, stale, err := o.syncOnce(ctx)
	if err != nil || !stale {
		return result, err
	}
	o.log.InfoContext(ctx, "Adopted newer server copies, retrying sync",
		applog.FieldOutcome, string(result.Outcome),
		"records", result.Conflicts.Count())
	result, _, err = o.syncOnce(ctx)
	return result, err
}

// syncOnce performs one write. stale reports a conflict that was settled
// entirely by adopting server copies of records that were not pending.
func (o *Orchestrator) syncOnce(ctx context.Context) (services.WriteResult, bool, error) {
	o.mu.Lock()
	if o.sync == Resolving {
		o.mu.Unlock()
		return services.WriteResult{}, false, ErrUnresolvedConflicts
	}
	d := o.state.Data
	set := services.WriteSet{
		Categories:   slices.Clone(d.Categories),
		Transactions: slices.Clone(d.Transactions),
		Recurring:    slices.Clone(d.RecurringTransactions),
		Tags:         slices.Clone(d.Tags),
	}
	pending := o.state.PendingCount()
	o.mu.Unlock()

	sent := map[core.Collection]map[string]int{
		core.Categories:   versions(set.Categories),
		core.Transactions: versions(set.Transactions),
		core.Recurring:    versions(set.Recurring),
		core.Tags:         versions(set.Tags),
	}

	o.transition(Syncing)
	o.log.InfoContext(ctx, "Sync started", applog.FieldPending, pending, "records", set.Size())

	result, err := o.remote.Write(ctx, set)
	if err != nil {
		o.mu.Lock()
		o.lastErr = err
		o.state.LastError = err.Error()
		saveErr := o.persistLocked(ctx)
		o.mu.Unlock()
		o.transition(Idle)

		o.log.ErrorContext(ctx, "Sync failed; local changes kept",
			applog.NewFields().WithOperation(applog.OpSync).WithError(err, applog.ErrorTypeRemote).ToSlice()...)
		return result, false, errors.Join(err, saveErr)
	}

	if result.Outcome == services.OutcomeConflict {
		o.mu.Lock()
		d := &o.state.Data
		held := services.Conflicts{
			Categories:   adoptStale(&o.state, core.Categories, d.Categories, result.Conflicts.Categories),
			Transactions: adoptStale(&o.state, core.Transactions, d.Transactions, result.Conflicts.Transactions),
			Recurring:    adoptStale(&o.state, core.Recurring, d.RecurringTransactions, result.Conflicts.Recurring),
			Tags:         adoptStale(&o.state, core.Tags, d.Tags, result.Conflicts.Tags),
		}
		o.lastErr = nil
		o.state.LastError = ""

		if held.Empty() {
			saveErr := o.persistLocked(ctx)
			o.mu.Unlock()
			o.transition(Idle)
			return result, saveErr == nil, saveErr
		}

		c := &o.state.Conflicts
		flagConflicts(d.Categories, held.Categories)
		flagConflicts(d.Transactions, held.Transactions)
		flagConflicts(d.RecurringTransactions, held.Recurring)
		flagConflicts(d.Tags, held.Tags)
		c.Categories = mergeConflicts(c.Categories, held.Categories)
		c.Transactions = mergeConflicts(c.Transactions, held.Transactions)
		c.Recurring = mergeConflicts(c.Recurring, held.Recurring)
		c.Tags = mergeConflicts(c.Tags, held.Tags)
		saveErr := o.persistLocked(ctx)
		o.mu.Unlock()
		o.transition(Resolving)

		o.log.WarnContext(ctx, "Sync rejected with conflicts",
			applog.NewFields().WithOperation(applog.OpSync).WithOutcome(string(result.Outcome), held.Count()).ToSlice()...)
		result.Conflicts = held
		if saveErr != nil {
			return result, false, saveErr
		}

		if o.opts.Policy == PolicyServerWins {
			if err := o.resolveAll(ctx, TakeServer); err != nil {
				return result, false, err
			}
		}
		return result, false, nil
	}

	o.mu.Lock()
	d = o.state.Data
	settle(&o.state, core.Categories, d.Categories, sent[core.Categories])
	settle(&o.state, core.Transactions, d.Transactions, sent[core.Transactions])
	settle(&o.state, core.Recurring, d.RecurringTransactions, sent[core.Recurring])
	settle(&o.state, core.Tags, d.Tags, sent[core.Tags])
	o.state.LastSynced = o.now().UTC()
	o.state.LastError = ""
	o.lastErr = nil
	remaining := o.state.PendingCount()
	saveErr := o.persistLocked(ctx)
	o.mu.Unlock()
	o.transition(Idle)

	o.log.InfoContext(ctx, "Sync acknowledged",
		applog.FieldOutcome, string(result.Outcome),
		applog.FieldPending, remaining)
	return result, false, saveErr
}

// Resolve settles the conflict on one record.
func (o *Orchestrator) Resolve(ctx context.Context, c core.Collection, id string, choice Choice) error {
	o.opMu.Lock()
	defer o.opMu.Unlock()

	o.mu.Lock()
	err := o.resolveLocked(c, id, choice)
	if err == nil {
		err = o.persistLocked(ctx)
	}
	done := o.state.Conflicts.Empty()
	o.mu.Unlock()

	if err != nil {
		return err
	}
	if done {
		o.transition(Idle)
	}
	return nil
}

// ResolveAll applies the same choice to every held conflict.
func (o *Orchestrator) ResolveAll(ctx context.Context, choice Choice) error {
	o.opMu.Lock()
	defer o.opMu.Unlock()
	return o.resolveAll(ctx, choice)
}

func (o *Orchestrator) resolveAll(ctx context.Context, choice Choice) error {
	o.mu.Lock()
	held := o.state.Conflicts
	var errs []error
	for _, r := range held.Categories {
		errs = append(errs, o.resolveLocked(core.Categories, r.Key(), choice))
	}
	for _, r := range held.Transactions {
		errs = append(errs, o.resolveLocked(core.Transactions, r.Key(), choice))
	}
	for _, r := range held.Recurring {
		errs = append(errs, o.resolveLocked(core.Recurring, r.Key(), choice))
	}
	for _, r := range held.Tags {
		errs = append(errs, o.resolveLocked(core.Tags, r.Key(), choice))
	}
	errs = append(errs, o.persistLocked(ctx))
	done := o.state.Conflicts.Empty()
	o.mu.Unlock()

	o.log.InfoContext(ctx, "Conflicts resolved",
		applog.FieldOperation, applog.OpResolve,
		"choice", string(choice),
		applog.FieldConflicts, held.Count())
	if done {
		o.transition(Idle)
	}
	return errors.Join(errs...)
}

func (o *Orchestrator) resolveLocked(c core.Collection, id string, choice Choice) error {
	var (
		again bool
		err   error
		now   = o.now()
		d     = &o.state.Data
		held  = &o.state.Conflicts
	)
	switch c {
	case core.Categories:
		d.Categories, held.Categories, again, err = resolve(d.Categories, held.Categories, id, choice, now)
	case core.Transactions:
		d.Transactions, held.Transactions, again, err = resolve(d.Transactions, held.Transactions, id, choice, now)
	case core.Recurring:
		d.RecurringTransactions, held.Recurring, again, err = resolve(d.RecurringTransactions, held.Recurring, id, choice, now)
	case core.Tags:
		d.Tags, held.Tags, again, err = resolve(d.Tags, held.Tags, id, choice, now)
	default:
		return fmt.Errorf("%w: %s", ErrReadOnlyCollection, c)
	}
	if err != nil {
		return fmt.Errorf("resolve %s %q: %w", c, id, err)
	}
	if again {
		o.state.MarkPending(c, id)
	} else {
		o.state.clearPending(c, id)
	}
	return nil
}

// ProcessRecurring materializes the transactions due by now. Created
// transactions and advanced templates are pending until the next sync.
func (o *Orchestrator) ProcessRecurring(ctx context.Context, now time.Time) (services.RecurringRun, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	d := &o.state.Data
	existing := make(map[string]bool, len(d.Transactions))
	for _, tx := range d.Transactions {
		existing[tx.ID] = true
	}

	run := o.recurring.Process(ctx, d.RecurringTransactions, existing, now)
	if len(run.Templates) == 0 {
		return run, nil
	}

	for _, tx := range run.Transactions {
		d.Transactions = append(d.Transactions, tx)
		o.state.MarkPending(core.Transactions, tx.ID)
	}
	for _, rt := range run.Templates {
		if i := find(d.RecurringTransactions, rt.ID); i >= 0 {
			d.RecurringTransactions[i] = rt
			o.state.MarkPending(core.Recurring, rt.ID)
		}
	}

	o.log.InfoContext(ctx, "Recurring transactions materialized",
		applog.FieldOperation, applog.OpRecurring,
		"created", len(run.Transactions),
		"templates", len(run.Templates))
	return run, o.persistLocked(ctx)
}
