// Package client keeps a local working copy of the dataset and reconciles it
// with the sync service.
package client

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"sheetsync/internal/core"
	"sheetsync/internal/services"
)

// SyncState is the orchestrator's position in the sync cycle.
type SyncState int

const (
	Idle SyncState = iota
	Syncing
	Resolving
)

func (s SyncState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Syncing:
		return "syncing"
	case Resolving:
		return "resolving"
	default:
		return fmt.Sprintf("SyncState(%d)", int(s))
	}
}

// Choice settles one conflict.
type Choice string

const (
	TakeServer Choice = "server"
	KeepLocal  Choice = "local"
)

func ParseChoice(s string) (Choice, error) {
	switch Choice(s) {
	case TakeServer, KeepLocal:
		return Choice(s), nil
	}
	return "", fmt.Errorf("unknown resolution %q: want %q or %q", s, TakeServer, KeepLocal)
}

// ConflictPolicy decides what happens right after a sync reports conflicts.
type ConflictPolicy string

const (
	PolicyManual     ConflictPolicy = "manual"
	PolicyServerWins ConflictPolicy = "server-wins"
)

func ParsePolicy(s string) (ConflictPolicy, error) {
	switch ConflictPolicy(s) {
	case "", PolicyManual:
		return PolicyManual, nil
	case PolicyServerWins:
		return PolicyServerWins, nil
	}
	return "", fmt.Errorf("unknown conflict policy %q", s)
}

// State is everything the client keeps between runs. Pending marks records
// changed locally since the last acknowledged sync; Conflicts holds the
// server copies of records that lost a sync.
type State struct {
	Data       core.Dataset
	Pending    map[core.Collection]map[string]bool
	Conflicts  services.Conflicts
	LastSynced time.Time
	LastError  string
}

func NewState() State {
	return State{
		Data:    core.Dataset{}.WithEmptyCollections(),
		Pending: map[core.Collection]map[string]bool{},
	}
}

func (s *State) IsPending(c core.Collection, key string) bool {
	return s.Pending[c][key]
}

func (s *State) MarkPending(c core.Collection, key string) {
	if s.Pending == nil {
		s.Pending = map[core.Collection]map[string]bool{}
	}
	if s.Pending[c] == nil {
		s.Pending[c] = map[string]bool{}
	}
	s.Pending[c][key] = true
}

func (s *State) clearPending(c core.Collection, key string) {
	delete(s.Pending[c], key)
	if len(s.Pending[c]) == 0 {
		delete(s.Pending, c)
	}
}

// PendingCount is the number of records waiting for a sync.
func (s *State) PendingCount() int {
	n := 0
	for _, keys := range s.Pending {
		n += len(keys)
	}
	return n
}

// Clone returns a copy that shares no slices or maps with s.
func (s State) Clone() State {
	out := State{
		Data: core.Dataset{
			Categories:            slices.Clone(s.Data.Categories),
			Transactions:          slices.Clone(s.Data.Transactions),
			RecurringTransactions: slices.Clone(s.Data.RecurringTransactions),
			Tags:                  slices.Clone(s.Data.Tags),
			Users:                 slices.Clone(s.Data.Users),
			UserSettings:          slices.Clone(s.Data.UserSettings),
		}.WithEmptyCollections(),
		Pending: make(map[core.Collection]map[string]bool, len(s.Pending)),
		Conflicts: services.Conflicts{
			Categories:   slices.Clone(s.Conflicts.Categories),
			Transactions: slices.Clone(s.Conflicts.Transactions),
			Recurring:    slices.Clone(s.Conflicts.Recurring),
			Tags:         slices.Clone(s.Conflicts.Tags),
		},
		LastSynced: s.LastSynced,
		LastError:  s.LastError,
	}
	for c, keys := range s.Pending {
		copied := make(map[string]bool, len(keys))
		for k, v := range keys {
			copied[k] = v
		}
		out.Pending[c] = copied
	}
	return out
}

// LocalStore persists State between runs. Save replaces everything.
type LocalStore interface {
	Load(ctx context.Context) (State, error)
	Save(ctx context.Context, state State) error
}

// MemoryStore is a LocalStore that lives as long as the process.
type MemoryStore struct {
	mu    sync.Mutex
	state *State
	saves int
}

var _ LocalStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Load(ctx context.Context) (State, error) {
	if err := ctx.Err(); err != nil {
		return State{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		return NewState(), nil
	}
	return m.state.Clone(), nil
}

func (m *MemoryStore) Save(ctx context.Context, state State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	saved := state.Clone()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = &saved
	m.saves++
	return nil
}

// Saves reports how many times Save succeeded.
func (m *MemoryStore) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}
