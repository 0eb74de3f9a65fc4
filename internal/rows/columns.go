package rows

import (
	"errors"
	"strconv"
	"strings"

	"sheetsync/internal/core"
)

const (
	trueLiteral  = "TRUE"
	falseLiteral = "FALSE"
)

// Text is a free text column; empty cells give "". Surrounding whitespace
// is kept so values round-trip unchanged.
func Text[T any](name string, field func(*T) *string) Column[T] {
	return Column[T]{
		Name: name,
		Raw:  true,
		Decode: func(rec *T, cell string, _ Env) error {
			*field(rec) = cell
			return nil
		},
		Encode: func(rec *T) string { return *field(rec) },
	}
}

// RequiredText rejects rows where the cell is empty.
func RequiredText[T any](name string, field func(*T) *string) Column[T] {
	c := Text(name, field)
	c.Required = true
	return c
}

// Money coerces to 0 when the cell is empty or unparseable.
func Money[T any](name string, field func(*T) *core.Money) Column[T] {
	return Column[T]{
		Name: name,
		Decode: func(rec *T, cell string, _ Env) error {
			m, err := core.ParseMoney(cell)
			if err != nil {
				m = core.Money{}
			}
			*field(rec) = m
			return nil
		},
		Encode: func(rec *T) string { return field(rec).String() },
	}
}

// OptionalMoney leaves the field absent when the cell is empty or unparseable.
func OptionalMoney[T any](name string, field func(*T) **core.Money) Column[T] {
	return Column[T]{
		Name: name,
		Decode: func(rec *T, cell string, _ Env) error {
			m, err := core.ParseMoney(cell)
			if err != nil {
				*field(rec) = nil
				return nil
			}
			*field(rec) = &m
			return nil
		},
		Encode: func(rec *T) string {
			if m := *field(rec); m != nil {
				return m.String()
			}
			return ""
		},
	}
}

// Time substitutes the batch instant for empty or malformed cells.
func Time[T any](name string, field func(*T) *core.Timestamp) Column[T] {
	return Column[T]{
		Name: name,
		Decode: func(rec *T, cell string, env Env) error {
			ts, err := core.ParseTimestamp(cell)
			if err != nil {
				ts = core.NewTimestamp(env.Now)
			}
			*field(rec) = ts
			return nil
		},
		Encode: func(rec *T) string { return field(rec).String() },
	}
}

// OptionalTime leaves the field absent for empty or malformed cells.
func OptionalTime[T any](name string, field func(*T) **core.Timestamp) Column[T] {
	return Column[T]{
		Name: name,
		Decode: func(rec *T, cell string, _ Env) error {
			ts, err := core.ParseTimestamp(cell)
			if err != nil {
				*field(rec) = nil
				return nil
			}
			*field(rec) = &ts
			return nil
		},
		Encode: func(rec *T) string {
			if ts := *field(rec); ts != nil {
				return ts.String()
			}
			return ""
		},
	}
}

// Bool maps the literal TRUE (any case) to true and everything else to false.
func Bool[T any](name string, field func(*T) *bool) Column[T] {
	return Column[T]{
		Name: name,
		Decode: func(rec *T, cell string, _ Env) error {
			*field(rec) = ParseBool(cell)
			return nil
		},
		Encode: func(rec *T) string { return FormatBool(*field(rec)) },
	}
}

// OptionalBool is absent for empty cells.
func OptionalBool[T any](name string, field func(*T) **bool) Column[T] {
	return Column[T]{
		Name: name,
		Decode: func(rec *T, cell string, _ Env) error {
			if cell == "" {
				*field(rec) = nil
				return nil
			}
			b := ParseBool(cell)
			*field(rec) = &b
			return nil
		},
		Encode: func(rec *T) string {
			if b := *field(rec); b != nil {
				return FormatBool(*b)
			}
			return ""
		},
	}
}

// Int coerces unparseable cells to 0.
func Int[T any](name string, field func(*T) *int) Column[T] {
	return Column[T]{
		Name: name,
		Decode: func(rec *T, cell string, _ Env) error {
			n, err := strconv.Atoi(cell)
			if err != nil {
				n = 0
			}
			*field(rec) = n
			return nil
		},
		Encode: func(rec *T) string { return strconv.Itoa(*field(rec)) },
	}
}

// DayOfMonth keeps 1..31 and treats anything else as unset (0).
func DayOfMonth[T any](name string, field func(*T) *int) Column[T] {
	return Column[T]{
		Name: name,
		Decode: func(rec *T, cell string, _ Env) error {
			n, err := strconv.Atoi(cell)
			if err != nil || n < 1 || n > 31 {
				n = 0
			}
			*field(rec) = n
			return nil
		},
		Encode: func(rec *T) string {
			if n := *field(rec); n > 0 {
				return strconv.Itoa(n)
			}
			return ""
		},
	}
}

// List splits on commas, trims and drops empty segments.
func List[T any](name string, field func(*T) *[]string) Column[T] {
	return Column[T]{
		Name: name,
		Decode: func(rec *T, cell string, _ Env) error {
			*field(rec) = SplitList(cell)
			return nil
		},
		Encode: func(rec *T) string { return strings.Join(*field(rec), ",") },
	}
}

// Enum accepts only the values listed by valid. There is no fallback: an
// unknown value fails the row.
func Enum[T any, E ~string](name string, field func(*T) *E, valid func(E) bool) Column[T] {
	return Column[T]{
		Name: name,
		Decode: func(rec *T, cell string, _ Env) error {
			v := E(cell)
			if !valid(v) {
				return errors.New("invalid value " + strconv.Quote(cell))
			}
			*field(rec) = v
			return nil
		},
		Encode: func(rec *T) string { return string(*field(rec)) },
	}
}

// LastModified is the envelope timestamp; malformed cells become the batch instant.
func LastModified[T any, PT core.RecordPtr[T]]() Column[T] {
	return Time("lastModified", func(rec *T) *core.Timestamp { return &PT(rec).Meta().LastModified })
}

func IsDeleted[T any, PT core.RecordPtr[T]]() Column[T] {
	return Bool("isDeleted", func(rec *T) *bool { return &PT(rec).Meta().IsDeleted })
}

// Version coerces to a positive integer, defaulting to 1.
func Version[T any, PT core.RecordPtr[T]]() Column[T] {
	return Column[T]{
		Name: "version",
		Decode: func(rec *T, cell string, _ Env) error {
			PT(rec).Meta().Version = ParseVersion(cell)
			return nil
		},
		Encode: func(rec *T) string { return strconv.Itoa(PT(rec).Meta().Version) },
	}
}

func ParseBool(cell string) bool {
	return strings.EqualFold(strings.TrimSpace(cell), trueLiteral)
}

func FormatBool(b bool) string {
	if b {
		return trueLiteral
	}
	return falseLiteral
}

func ParseVersion(cell string) int {
	n, err := strconv.Atoi(strings.TrimSpace(cell))
	if err != nil || n < 1 {
		return 1
	}
	return n
}

func SplitList(cell string) []string {
	var out []string
	for _, part := range strings.Split(cell, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
