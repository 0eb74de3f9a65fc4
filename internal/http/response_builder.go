// Package http exposes the Read and Write endpoints.
//
// This file implements the Builder Pattern for JSON responses so that every
// handler renders status, headers and body the same way.

package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"sheetsync/internal/core"
	"sheetsync/internal/services"
)

// JSONResponseBuilder provides a fluent API for JSON responses.
type JSONResponseBuilder struct {
	statusCode int
	body       any
	headers    map[string]string
}

// NewJSONResponse creates a builder with a 200 status.
func NewJSONResponse() *JSONResponseBuilder {
	return &JSONResponseBuilder{
		statusCode: http.StatusOK,
		headers:    make(map[string]string),
	}
}

func (b *JSONResponseBuilder) Status(code int) *JSONResponseBuilder {
	b.statusCode = code
	return b
}

func (b *JSONResponseBuilder) Header(name, value string) *JSONResponseBuilder {
	b.headers[name] = value
	return b
}

// Body sets the value rendered as JSON.
func (b *JSONResponseBuilder) Body(v any) *JSONResponseBuilder {
	b.body = v
	return b
}

// Write sends the built response.
func (b *JSONResponseBuilder) Write(w http.ResponseWriter) {
	for name, value := range b.headers {
		w.Header().Set(name, value)
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")

	payload, err := json.Marshal(b.body)
	if err != nil {
		slog.Error("Failed to encode response", "status_code", b.statusCode, "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"failed to encode response"}`))
		return
	}

	w.WriteHeader(b.statusCode)
	_, _ = w.Write(payload)
}

type errorBody struct {
	Error string `json:"error"`
}

type validationBody struct {
	Error   string            `json:"error"`
	Details []core.FieldError `json:"details"`
}

type conflictBody struct {
	Error     string             `json:"error"`
	Conflicts services.Conflicts `json:"conflicts"`
}

type messageBody struct {
	Message string `json:"message"`
}

// ErrorResponse renders {error}.
func ErrorResponse(statusCode int, message string) *JSONResponseBuilder {
	return NewJSONResponse().Status(statusCode).Body(errorBody{Error: message})
}

// ValidationErrorResponse renders a 400 with field-level details.
func ValidationErrorResponse(err *core.ValidationError) *JSONResponseBuilder {
	details := err.Details
	if details == nil {
		details = []core.FieldError{}
	}
	return NewJSONResponse().
		Status(http.StatusBadRequest).
		Body(validationBody{Error: "Invalid payload", Details: details})
}

// ConflictResponse renders a 409 with the authoritative server records.
func ConflictResponse(conflicts services.Conflicts) *JSONResponseBuilder {
	return NewJSONResponse().
		Status(http.StatusConflict).
		Body(conflictBody{Error: "Conflict detected", Conflicts: withEmptyConflicts(conflicts)})
}

// MessageResponse renders a 200 {message}.
func MessageResponse(message string) *JSONResponseBuilder {
	return NewJSONResponse().Body(messageBody{Message: message})
}

// MethodNotAllowedError renders a 405 with the Allow header.
func MethodNotAllowedError(allowedMethods string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusMethodNotAllowed, "Method not allowed").
		Header("Allow", allowedMethods)
}

func withEmptyConflicts(c services.Conflicts) services.Conflicts {
	if c.Categories == nil {
		c.Categories = []core.Category{}
	}
	if c.Transactions == nil {
		c.Transactions = []core.Transaction{}
	}
	if c.Recurring == nil {
		c.Recurring = []core.RecurringTransaction{}
	}
	if c.Tags == nil {
		c.Tags = []core.Tag{}
	}
	return c
}
