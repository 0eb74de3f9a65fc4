// Package rows maps between positional sheet rows and typed entities.
//
// Every entity has a Schema: an ordered table of columns, each declaring how
// a raw cell is coerced into the record (with its default) and how the field
// is rendered back. One generic routine, ParseRows, applies any schema.
package rows

import (
	"fmt"
	"strings"
	"time"

	"sheetsync/internal/core"
)

// Env carries the values a parse may depend on. Now is the fallback instant
// shared by every row of a batch.
type Env struct {
	Now time.Time
}

// Column declares one positional cell of a layout.
type Column[T any] struct {
	Name string
	// Required columns fail the row when the trimmed cell is empty.
	Required bool
	// Raw columns decode the cell as stored; all others see it trimmed.
	Raw    bool
	Decode func(rec *T, cell string, env Env) error
	Encode func(rec *T) string
}

// Schema is the fixed column layout of one entity sheet.
type Schema[T any] struct {
	Collection core.Collection
	Columns    []Column[T]
	Validate   func(T) []core.FieldError
}

// RowError points at a failing cell. Row is 1-based over the data rows.
type RowError struct {
	Row     int    `json:"row"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e RowError) String() string {
	return fmt.Sprintf("row %d %s: %s", e.Row, e.Field, e.Message)
}

// ParseReport describes what happened to a batch.
type ParseReport struct {
	Collection core.Collection
	Rows       int
	Blank      int
	Errors     []RowError
}

// Failed reports whether the batch was discarded.
func (r ParseReport) Failed() bool {
	return len(r.Errors) > 0
}

func (r ParseReport) Error() string {
	msgs := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		msgs = append(msgs, e.String())
	}
	return fmt.Sprintf("%s: %d invalid field(s): %s", r.Collection, len(r.Errors), strings.Join(msgs, "; "))
}

// Header returns the column names in layout order.
func (s Schema[T]) Header() []string {
	out := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		out[i] = c.Name
	}
	return out
}

// Width is the number of columns of the layout.
func (s Schema[T]) Width() int {
	return len(s.Columns)
}

// StripHeader drops the first row when it is the layout header.
func (s Schema[T]) StripHeader(grid [][]string) [][]string {
	if len(grid) == 0 || len(grid[0]) == 0 || len(s.Columns) == 0 {
		return grid
	}
	if strings.EqualFold(strings.TrimSpace(grid[0][0]), s.Columns[0].Name) {
		return grid[1:]
	}
	return grid
}

// ParseRows converts header-stripped rows into records, preserving order.
// Blank rows are skipped. If any row fails validation the whole batch is
// discarded: the result is empty and the report lists every failure.
func ParseRows[T any](grid [][]string, s Schema[T], env Env) ([]T, ParseReport) {
	report := ParseReport{Collection: s.Collection}
	out := make([]T, 0, len(grid))

	for i, raw := range grid {
		if isBlank(raw) {
			report.Blank++
			continue
		}
		report.Rows++

		rec, errs := parseRow(raw, s, env)
		for _, fe := range errs {
			report.Errors = append(report.Errors, RowError{Row: i + 1, Field: fe.Field, Message: fe.Message})
		}
		if len(errs) == 0 {
			out = append(out, rec)
		}
	}

	if report.Failed() {
		return []T{}, report
	}
	return out, report
}

func parseRow[T any](raw []string, s Schema[T], env Env) (T, []core.FieldError) {
	var rec T
	var errs []core.FieldError

	for col, c := range s.Columns {
		cell := ""
		if col < len(raw) {
			cell = raw[col]
		}
		trimmed := strings.TrimSpace(cell)
		if !c.Raw {
			cell = trimmed
		}
		if c.Required && trimmed == "" {
			errs = append(errs, core.FieldError{Field: c.Name, Message: "is required"})
			continue
		}
		if c.Decode == nil {
			continue
		}
		if err := c.Decode(&rec, cell, env); err != nil {
			errs = append(errs, core.FieldError{Field: c.Name, Message: err.Error()})
		}
	}
	if len(errs) == 0 && s.Validate != nil {
		errs = s.Validate(rec)
	}
	return rec, errs
}

// SerializeRows renders records in layout order, without a header.
func SerializeRows[T any](items []T, s Schema[T]) [][]string {
	out := make([][]string, 0, len(items))
	for i := range items {
		row := make([]string, len(s.Columns))
		for col, c := range s.Columns {
			if c.Encode != nil {
				row[col] = c.Encode(&items[i])
			}
		}
		out = append(out, row)
	}
	return out
}

// Table is the header followed by the serialized records.
func Table[T any](items []T, s Schema[T]) [][]string {
	return append([][]string{s.Header()}, SerializeRows(items, s)...)
}

func isBlank(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
