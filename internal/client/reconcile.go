package client

import (
	"errors"
	"time"

	"sheetsync/internal/core"
)

var (
	ErrNotFound            = errors.New("record not found")
	ErrNoConflict          = errors.New("record has no pending conflict")
	ErrReadOnlyCollection  = errors.New("collection is read-only")
	ErrUnresolvedConflicts = errors.New("unresolved conflicts; resolve them before syncing")
)

type editable[T any] interface {
	core.RecordPtr[T]
	Validate() []core.FieldError
}

func find[T any, PT core.RecordPtr[T]](items []T, key string) int {
	for i := range items {
		if PT(&items[i]).Key() == key {
			return i
		}
	}
	return -1
}

// bootstrap lays the remote collection over the local one. Remote records
// replace local ones unless the local copy is pending; local records the
// remote does not know about are kept after the remote ones.
func bootstrap[T core.Record](local, remote []T, pending map[string]bool) []T {
	byKey := make(map[string]T, len(local))
	for _, l := range local {
		byKey[l.Key()] = l
	}

	out := make([]T, 0, len(remote)+len(local))
	seen := make(map[string]struct{}, len(remote))
	for _, r := range remote {
		seen[r.Key()] = struct{}{}
		if l, ok := byKey[r.Key()]; ok && pending[r.Key()] {
			out = append(out, l)
			continue
		}
		out = append(out, r)
	}
	for _, l := range local {
		if _, ok := seen[l.Key()]; !ok {
			out = append(out, l)
		}
	}
	return out
}

// upsert stores item as a local edit. A new key starts at version 1; an
// existing key moves one version past the stored copy.
func upsert[T any, PT editable[T]](c core.Collection, items []T, item T, now time.Time) ([]T, T, error) {
	meta := PT(&item).Meta()
	i := find[T, PT](items, PT(&item).Key())
	if i >= 0 {
		prev := PT(&items[i]).Meta()
		meta.Version = prev.Version
		meta.Conflicted = prev.Conflicted
		meta.Touch(now)
	} else {
		meta.Version = 1
		meta.LastModified = core.NewTimestamp(now)
		meta.Conflicted = false
	}

	if problems := PT(&item).Validate(); len(problems) > 0 {
		for j := range problems {
			problems[j].Collection = c
		}
		var zero T
		return items, zero, &core.ValidationError{Details: problems}
	}

	if i >= 0 {
		items[i] = item
		return items, item, nil
	}
	return append(items, item), item, nil
}

// tombstone marks the record deleted. Deleting a tombstone is a no-op.
func tombstone[T any, PT core.RecordPtr[T]](items []T, key string, now time.Time) (bool, error) {
	i := find[T, PT](items, key)
	if i < 0 {
		return false, ErrNotFound
	}
	meta := PT(&items[i]).Meta()
	if meta.IsDeleted {
		return false, nil
	}
	meta.MarkDeleted(now)
	return true, nil
}

// settle clears the pending flag of records whose version is still the one
// that was sent. Records edited while the sync was in flight stay pending.
func settle[T core.Record](s *State, c core.Collection, items []T, sent map[string]int) {
	for _, it := range items {
		if v, ok := sent[it.Key()]; ok && v == it.Rev() {
			s.clearPending(c, it.Key())
		}
	}
}

func versions[T core.Record](items []T) map[string]int {
	m := make(map[string]int, len(items))
	for _, it := range items {
		m[it.Key()] = it.Rev()
	}
	return m
}

// adoptStale replaces local records that carry no pending edit with their
// newer server copy. It returns the server records that still need a choice.
func adoptStale[T any, PT core.RecordPtr[T]](s *State, c core.Collection, items []T, server []T) []T {
	held := make([]T, 0)
	for _, srv := range server {
		key := PT(&srv).Key()
		if s.IsPending(c, key) {
			held = append(held, srv)
			continue
		}
		if j := find[T, PT](items, key); j >= 0 {
			PT(&srv).Meta().Conflicted = false
			items[j] = srv
		}
	}
	return held
}

// flagConflicts marks every local record that has a server copy.
func flagConflicts[T any, PT core.RecordPtr[T]](items []T, server []T) {
	for i := range server {
		if j := find[T, PT](items, PT(&server[i]).Key()); j >= 0 {
			PT(&items[j]).Meta().Conflicted = true
		}
	}
}

// mergeConflicts adds fresh server copies, replacing older ones by key.
func mergeConflicts[T any, PT core.RecordPtr[T]](held, fresh []T) []T {
	for _, f := range fresh {
		if i := find[T, PT](held, PT(&f).Key()); i >= 0 {
			held[i] = f
			continue
		}
		held = append(held, f)
	}
	return held
}

// resolve settles the conflict on key. It returns the updated collections
// and whether the resulting local record must be synced again.
func resolve[T any, PT core.RecordPtr[T]](local, server []T, key string, choice Choice, now time.Time) ([]T, []T, bool, error) {
	si := find[T, PT](server, key)
	if si < 0 {
		return local, server, false, ErrNoConflict
	}
	srv := server[si]
	held := server
	server = append(server[:si:si], server[si+1:]...)

	li := find[T, PT](local, key)
	switch choice {
	case TakeServer:
		PT(&srv).Meta().Conflicted = false
		if li < 0 {
			return append(local, srv), server, false, nil
		}
		local[li] = srv
		return local, server, false, nil

	case KeepLocal:
		if li < 0 {
			return local, held, false, ErrNotFound
		}
		meta := PT(&local[li]).Meta()
		meta.Version = PT(&srv).Meta().Version + 1
		meta.LastModified = core.NewTimestamp(now)
		meta.Conflicted = false
		return local, server, true, nil
	}
	return local, held, false, ErrNoConflict
}
