package services

import (
	"reflect"

	"sheetsync/internal/core"
)

// dedupe keeps the last occurrence of each key at the position of its first.
func dedupe[T core.Record](items []T) []T {
	pos := make(map[string]int, len(items))
	out := make([]T, 0, len(items))
	for _, it := range items {
		if i, ok := pos[it.Key()]; ok {
			out[i] = it
			continue
		}
		pos[it.Key()] = len(out)
		out = append(out, it)
	}
	return out
}

func index[T core.Record](items []T) map[string]T {
	m := make(map[string]T, len(items))
	for _, it := range items {
		m[it.Key()] = it
	}
	return m
}

// DetectConflicts returns the server records that are strictly newer than
// the client record with the same key, in client order.
func DetectConflicts[T core.Record](server, client []T) []T {
	byKey := index(server)
	out := make([]T, 0)
	for _, c := range dedupe(client) {
		if s, ok := byKey[c.Key()]; ok && s.Rev() > c.Rev() {
			out = append(out, s)
		}
	}
	return out
}

// Merge unions both sides by key. Server order comes first with client
// records replacing server ones; client-only records follow in client order.
// Tombstones are kept like any other record.
func Merge[T core.Record](server, client []T) []T {
	client = dedupe(client)
	byKey := index(client)

	out := make([]T, 0, len(server)+len(client))
	seen := make(map[string]struct{}, len(server))
	for _, s := range dedupe(server) {
		seen[s.Key()] = struct{}{}
		if c, ok := byKey[s.Key()]; ok {
			out = append(out, c)
			continue
		}
		out = append(out, s)
	}
	for _, c := range client {
		if _, ok := seen[c.Key()]; !ok {
			out = append(out, c)
		}
	}
	return out
}

// VersionDrift lists keys present on both sides at the same version but
// with different content. The version check cannot see these.
func VersionDrift[T core.Record](server, client []T, encode func(*T) []string) []string {
	byKey := index(server)
	var keys []string
	for _, c := range dedupe(client) {
		s, ok := byKey[c.Key()]
		if !ok || s.Rev() != c.Rev() {
			continue
		}
		if !reflect.DeepEqual(encode(&s), encode(&c)) {
			keys = append(keys, c.Key())
		}
	}
	return keys
}
