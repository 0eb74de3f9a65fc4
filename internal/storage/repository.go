// Package storage keeps the client's working state in a local SQLite file so
// that unsynced edits and held conflicts survive restarts.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"sheetsync/internal/client"
	"sheetsync/internal/core"

	_ "modernc.org/sqlite"
)

const (
	metaLastSynced = "last_synced"
	metaLastError  = "last_error"
)

type SQLiteStore struct {
	db *sql.DB
}

var _ client.LocalStore = (*SQLiteStore)(nil)

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// A single writer avoids SQLITE_BUSY between Save transactions.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Load reads the whole state. An empty database yields an empty state.
func (s *SQLiteStore) Load(ctx context.Context) (client.State, error) {
	st := client.NewState()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return st, fmt.Errorf("begin read: %w", err)
	}
	defer tx.Rollback()

	if err := loadRecords(ctx, tx, &st); err != nil {
		return st, err
	}
	if err := loadConflicts(ctx, tx, &st); err != nil {
		return st, err
	}
	if err := loadMeta(ctx, tx, &st); err != nil {
		return st, err
	}

	slog.DebugContext(ctx, "Local state loaded",
		"pending", st.PendingCount(),
		"conflicts", st.Conflicts.Count())
	return st, nil
}

func loadRecords(ctx context.Context, tx *sql.Tx, st *client.State) error {
	rows, err := tx.QueryContext(ctx,
		`SELECT collection, record_key, conflicted, pending, payload
		   FROM records
		  ORDER BY collection, position`)
	if err != nil {
		return fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	d := &st.Data
	for rows.Next() {
		var (
			collection, key     string
			conflicted, pending bool
			payload             []byte
		)
		if err := rows.Scan(&collection, &key, &conflicted, &pending, &payload); err != nil {
			return fmt.Errorf("scan record: %w", err)
		}

		c := core.Collection(collection)
		switch c {
		case core.Categories:
			err = appendDecoded(&d.Categories, payload, conflicted)
		case core.Transactions:
			err = appendDecoded(&d.Transactions, payload, conflicted)
		case core.Recurring:
			err = appendDecoded(&d.RecurringTransactions, payload, conflicted)
		case core.Tags:
			err = appendDecoded(&d.Tags, payload, conflicted)
		case core.Users:
			err = appendDecoded(&d.Users, payload, conflicted)
		case core.UserSettings:
			err = appendDecoded(&d.UserSettings, payload, conflicted)
		default:
			slog.WarnContext(ctx, "Skipping record of unknown collection", "collection", collection, "key", key)
			continue
		}
		if err != nil {
			return fmt.Errorf("decode %s %q: %w", c, key, err)
		}
		if pending {
			st.MarkPending(c, key)
		}
	}
	return rows.Err()
}

func loadConflicts(ctx context.Context, tx *sql.Tx, st *client.State) error {
	rows, err := tx.QueryContext(ctx,
		`SELECT collection, record_key, payload FROM conflicts ORDER BY collection, position`)
	if err != nil {
		return fmt.Errorf("query conflicts: %w", err)
	}
	defer rows.Close()

	held := &st.Conflicts
	for rows.Next() {
		var (
			collection, key string
			payload         []byte
		)
		if err := rows.Scan(&collection, &key, &payload); err != nil {
			return fmt.Errorf("scan conflict: %w", err)
		}
		switch core.Collection(collection) {
		case core.Categories:
			err = appendDecoded(&held.Categories, payload, false)
		case core.Transactions:
			err = appendDecoded(&held.Transactions, payload, false)
		case core.Recurring:
			err = appendDecoded(&held.Recurring, payload, false)
		case core.Tags:
			err = appendDecoded(&held.Tags, payload, false)
		default:
			continue
		}
		if err != nil {
			return fmt.Errorf("decode conflict %s %q: %w", collection, key, err)
		}
	}
	return rows.Err()
}

func loadMeta(ctx context.Context, tx *sql.Tx, st *client.State) error {
	rows, err := tx.QueryContext(ctx, `SELECT key, value FROM sync_meta`)
	if err != nil {
		return fmt.Errorf("query sync meta: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return fmt.Errorf("scan sync meta: %w", err)
		}
		switch key {
		case metaLastSynced:
			t, err := time.Parse(time.RFC3339Nano, value)
			if err != nil {
				return fmt.Errorf("parse %s: %w", key, err)
			}
			st.LastSynced = t.UTC()
		case metaLastError:
			st.LastError = value
		}
	}
	return rows.Err()
}

func appendDecoded[T any, PT core.RecordPtr[T]](dst *[]T, payload []byte, conflicted bool) error {
	var item T
	if err := json.Unmarshal(payload, &item); err != nil {
		return err
	}
	PT(&item).Meta().Conflicted = conflicted
	*dst = append(*dst, item)
	return nil
}

// Save replaces the stored state in one transaction.
func (s *SQLiteStore) Save(ctx context.Context, st client.State) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"records", "conflicts", "sync_meta"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	insert, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO records
		   (collection, record_key, position, version, last_modified, is_deleted, conflicted, pending, payload)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare record insert: %w", err)
	}
	defer insert.Close()

	d := st.Data
	for _, err := range []error{
		insertRecords(ctx, insert, core.Categories, d.Categories, st.Pending),
		insertRecords(ctx, insert, core.Transactions, d.Transactions, st.Pending),
		insertRecords(ctx, insert, core.Recurring, d.RecurringTransactions, st.Pending),
		insertRecords(ctx, insert, core.Tags, d.Tags, st.Pending),
		insertRecords(ctx, insert, core.Users, d.Users, st.Pending),
		insertRecords(ctx, insert, core.UserSettings, d.UserSettings, st.Pending),
	} {
		if err != nil {
			return err
		}
	}

	held, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO conflicts (collection, record_key, position, payload) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare conflict insert: %w", err)
	}
	defer held.Close()

	c := st.Conflicts
	for _, err := range []error{
		insertConflicts(ctx, held, core.Categories, c.Categories),
		insertConflicts(ctx, held, core.Transactions, c.Transactions),
		insertConflicts(ctx, held, core.Recurring, c.Recurring),
		insertConflicts(ctx, held, core.Tags, c.Tags),
	} {
		if err != nil {
			return err
		}
	}

	meta := map[string]string{metaLastError: st.LastError}
	if !st.LastSynced.IsZero() {
		meta[metaLastSynced] = st.LastSynced.UTC().Format(time.RFC3339Nano)
	}
	for key, value := range meta {
		if _, err := tx.ExecContext(ctx, `INSERT INTO sync_meta (key, value) VALUES (?, ?)`, key, value); err != nil {
			return fmt.Errorf("save %s: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}
	return nil
}

func insertRecords[T any, PT core.RecordPtr[T]](ctx context.Context, stmt *sql.Stmt, c core.Collection, items []T, pending map[core.Collection]map[string]bool) error {
	for i := range items {
		p := PT(&items[i])
		meta := p.Meta()
		payload, err := json.Marshal(items[i])
		if err != nil {
			return fmt.Errorf("encode %s %q: %w", c, p.Key(), err)
		}
		_, err = stmt.ExecContext(ctx,
			string(c),
			p.Key(),
			i,
			meta.Version,
			meta.LastModified.String(),
			meta.IsDeleted,
			meta.Conflicted,
			pending[c][p.Key()],
			payload,
		)
		if err != nil {
			return fmt.Errorf("insert %s %q: %w", c, p.Key(), err)
		}
	}
	return nil
}

func insertConflicts[T any, PT core.RecordPtr[T]](ctx context.Context, stmt *sql.Stmt, c core.Collection, items []T) error {
	for i := range items {
		p := PT(&items[i])
		payload, err := json.Marshal(items[i])
		if err != nil {
			return fmt.Errorf("encode conflict %s %q: %w", c, p.Key(), err)
		}
		if _, err := stmt.ExecContext(ctx, string(c), p.Key(), i, payload); err != nil {
			return fmt.Errorf("insert conflict %s %q: %w", c, p.Key(), err)
		}
	}
	return nil
}
