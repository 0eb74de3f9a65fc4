package core

import (
	"fmt"
	"strings"
)

// ConfigurationError reports missing server-side settings. It is raised
// before any remote call and is never retried.
type ConfigurationError struct {
	Missing []string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("server configuration incomplete: missing %s", strings.Join(e.Missing, ", "))
}

// ValidationError carries field-level problems of a client payload.
type ValidationError struct {
	Details []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Details) == 0 {
		return "invalid payload"
	}
	first := e.Details[0]
	where := first.Field
	if first.Collection != "" {
		where = fmt.Sprintf("%s[%d].%s", first.Collection, first.Index, first.Field)
	}
	return fmt.Sprintf("invalid payload: %s %s (%d problem(s))", where, first.Message, len(e.Details))
}
