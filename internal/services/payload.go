package services

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"sheetsync/internal/core"
)

// WriteSet is the client's full working set of the four mutable collections.
// The JSON names are those of the write endpoint request.
type WriteSet struct {
	Categories   []core.Category             `json:"categories"`
	Transactions []core.Transaction          `json:"transactions"`
	Recurring    []core.RecurringTransaction `json:"recurringTransactions"`
	Tags         []core.Tag                  `json:"allAvailableTags"`
}

// Size is the number of records in the set.
func (w WriteSet) Size() int {
	return len(w.Categories) + len(w.Transactions) + len(w.Recurring) + len(w.Tags)
}

// Validate checks every record of the set and reports all problems at once.
func (w WriteSet) Validate() error {
	var problems []core.FieldError
	problems = appendProblems(problems, core.Categories, w.Categories)
	problems = appendProblems(problems, core.Transactions, w.Transactions)
	problems = appendProblems(problems, core.Recurring, w.Recurring)
	problems = appendProblems(problems, core.Tags, w.Tags)
	if len(problems) > 0 {
		return &core.ValidationError{Details: problems}
	}
	return nil
}

type validatable interface {
	Validate() []core.FieldError
}

func appendProblems[T validatable](problems []core.FieldError, c core.Collection, items []T) []core.FieldError {
	for i, it := range items {
		for _, fe := range it.Validate() {
			fe.Collection = c
			fe.Index = i
			problems = append(problems, fe)
		}
	}
	return problems
}

type rawWriteSet struct {
	Categories   []json.RawMessage `json:"categories"`
	Transactions []json.RawMessage `json:"transactions"`
	Recurring    []json.RawMessage `json:"recurringTransactions"`
	Tags         []json.RawMessage `json:"allAvailableTags"`
}

type writable[T any] interface {
	core.RecordPtr[T]
	Validate() []core.FieldError
}

var errNotObject = errors.New("must be an object or a JSON-encoded object")

// DecodeWritePayload parses a write request body. Items may be plain objects
// or strings holding a JSON object; null, empty and {} items are dropped.
// Envelope defaults are applied with now, and any client-side conflict marker
// is cleared. All problems are returned together as a *core.ValidationError.
func DecodeWritePayload(body []byte, now time.Time) (WriteSet, error) {
	var raw rawWriteSet
	if trimmed := bytes.TrimSpace(body); len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) {
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return WriteSet{}, &core.ValidationError{Details: []core.FieldError{{
				Field:   "body",
				Message: fmt.Sprintf("malformed JSON: %v", err),
			}}}
		}
	}

	var problems []core.FieldError
	set := WriteSet{
		Categories:   decodeItems[core.Category](core.Categories, raw.Categories, now, &problems),
		Transactions: decodeItems[core.Transaction](core.Transactions, raw.Transactions, now, &problems),
		Recurring:    decodeItems[core.RecurringTransaction](core.Recurring, raw.Recurring, now, &problems),
		Tags:         decodeItems[core.Tag](core.Tags, raw.Tags, now, &problems),
	}
	if len(problems) > 0 {
		return WriteSet{}, &core.ValidationError{Details: problems}
	}
	return set, nil
}

func decodeItems[T any, PT writable[T]](c core.Collection, items []json.RawMessage, now time.Time, problems *[]core.FieldError) []T {
	out := make([]T, 0, len(items))
	for i, item := range items {
		body, keep, err := unwrapItem(item)
		if err != nil {
			*problems = append(*problems, core.FieldError{Collection: c, Index: i, Field: "item", Message: err.Error()})
			continue
		}
		if !keep {
			continue
		}

		var rec T
		if err := json.Unmarshal(body, &rec); err != nil {
			*problems = append(*problems, core.FieldError{Collection: c, Index: i, Field: fieldOf(err), Message: err.Error()})
			continue
		}
		p := PT(&rec)
		p.Meta().Normalize(now)
		p.Meta().Conflicted = false
		for _, fe := range p.Validate() {
			fe.Collection = c
			fe.Index = i
			*problems = append(*problems, fe)
		}
		out = append(out, rec)
	}
	return out
}

// unwrapItem returns the object bytes of one payload item and whether it
// should be kept at all.
func unwrapItem(item json.RawMessage) ([]byte, bool, error) {
	b := bytes.TrimSpace(item)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil, false, nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return nil, false, err
		}
		b = bytes.TrimSpace([]byte(s))
		if len(b) == 0 || bytes.Equal(b, []byte("null")) {
			return nil, false, nil
		}
	}
	if b[0] != '{' {
		return nil, false, errNotObject
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return nil, false, fmt.Errorf("malformed JSON: %w", err)
	}
	if len(fields) == 0 {
		return nil, false, nil
	}
	return b, true, nil
}

func fieldOf(err error) string {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		return typeErr.Field
	}
	return "item"
}
