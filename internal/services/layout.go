package services

import (
	"context"
	"log/slog"

	"sheetsync/internal/core"
	"sheetsync/internal/rows"
	"sheetsync/internal/sheets"
)

// Layout names the tab of each collection in the spreadsheet.
type Layout struct {
	Categories   string
	Transactions string
	Recurring    string
	Tags         string
	Users        string
	UserSettings string
}

func DefaultLayout() Layout {
	return Layout{
		Categories:   "Categories",
		Transactions: "Transactions",
		Recurring:    "RecurringTransactions",
		Tags:         "Tags",
		Users:        "Users",
		UserSettings: "UserSettings",
	}
}

// WithDefaults fills empty tab names.
func (l Layout) WithDefaults() Layout {
	d := DefaultLayout()
	if l.Categories == "" {
		l.Categories = d.Categories
	}
	if l.Transactions == "" {
		l.Transactions = d.Transactions
	}
	if l.Recurring == "" {
		l.Recurring = d.Recurring
	}
	if l.Tags == "" {
		l.Tags = d.Tags
	}
	if l.Users == "" {
		l.Users = d.Users
	}
	if l.UserSettings == "" {
		l.UserSettings = d.UserSettings
	}
	return l
}

// mutableRanges are the four collections clients may write, in a fixed order.
func (l Layout) mutableRanges() []string {
	return []string{
		sheets.A1Range(l.Categories, rows.CategorySchema().Width()),
		sheets.A1Range(l.Transactions, rows.TransactionSchema().Width()),
		sheets.A1Range(l.Recurring, rows.RecurringSchema().Width()),
		sheets.A1Range(l.Tags, rows.TagSchema().Width()),
	}
}

// allRanges are the mutable ranges followed by users and user settings.
func (l Layout) allRanges() []string {
	return append(l.mutableRanges(),
		sheets.A1Range(l.Users, rows.UserSchema().Width()),
		sheets.A1Range(l.UserSettings, rows.UserSettingSchema().Width()),
	)
}

func gridAt(grids [][][]string, i int) [][]string {
	if i < len(grids) {
		return grids[i]
	}
	return nil
}

// decodeState parses fetched grids in allRanges order. Collections that fail
// validation come back empty and are listed in degraded.
func decodeState(ctx context.Context, grids [][][]string, env rows.Env) (core.Dataset, []core.Collection) {
	var degraded []core.Collection
	d := core.Dataset{
		Categories:            decode(ctx, gridAt(grids, 0), rows.CategorySchema(), env, &degraded),
		Transactions:          decode(ctx, gridAt(grids, 1), rows.TransactionSchema(), env, &degraded),
		RecurringTransactions: decode(ctx, gridAt(grids, 2), rows.RecurringSchema(), env, &degraded),
		Tags:                  decode(ctx, gridAt(grids, 3), rows.TagSchema(), env, &degraded),
	}
	if len(grids) > 4 {
		d.Users = decode(ctx, gridAt(grids, 4), rows.UserSchema(), env, &degraded)
		d.UserSettings = decode(ctx, gridAt(grids, 5), rows.UserSettingSchema(), env, &degraded)
	}
	return d.WithEmptyCollections(), degraded
}

func decode[T any](ctx context.Context, grid [][]string, s rows.Schema[T], env rows.Env, degraded *[]core.Collection) []T {
	items, report := rows.ParseRows(s.StripHeader(grid), s, env)
	if report.Failed() {
		*degraded = append(*degraded, report.Collection)
		failures := make([]string, 0, len(report.Errors))
		for _, e := range report.Errors {
			failures = append(failures, e.String())
		}
		slog.ErrorContext(ctx, "Collection failed validation, returning it empty",
			"collection", report.Collection,
			"rows", report.Rows,
			"invalid_fields", len(report.Errors),
			"failures", failures)
	}
	return items
}
