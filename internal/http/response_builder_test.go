package http

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"sheetsync/internal/core"
	"sheetsync/internal/services"
)

func TestJSONResponseBuilder_Basic(t *testing.T) {
	w := httptest.NewRecorder()

	NewJSONResponse().
		Status(http.StatusCreated).
		Header("X-Test", "1").
		Body(map[string]int{"n": 1}).
		Write(w)

	if w.Code != http.StatusCreated {
		t.Errorf("Status code = %d, want %d", w.Code, http.StatusCreated)
	}
	if got := w.Header().Get("Content-Type"); !strings.HasPrefix(got, "application/json") {
		t.Errorf("Content-Type = %q", got)
	}
	if w.Header().Get("X-Test") != "1" {
		t.Error("custom header missing")
	}
	if w.Body.String() != `{"n":1}` {
		t.Errorf("Body = %q", w.Body.String())
	}
}

func TestJSONResponseBuilder_EncodeFailure(t *testing.T) {
	w := httptest.NewRecorder()
	NewJSONResponse().Body(make(chan int)).Write(w)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("Status code = %d, want 500", w.Code)
	}
}

func TestErrorResponses(t *testing.T) {
	tests := []struct {
		name     string
		builder  *JSONResponseBuilder
		wantCode int
		wantBody string
	}{
		{
			name:     "error",
			builder:  ErrorResponse(http.StatusInternalServerError, "boom"),
			wantCode: http.StatusInternalServerError,
			wantBody: `{"error":"boom"}`,
		},
		{
			name:     "message",
			builder:  MessageResponse("ok"),
			wantCode: http.StatusOK,
			wantBody: `{"message":"ok"}`,
		},
		{
			name: "validation",
			builder: ValidationErrorResponse(&core.ValidationError{Details: []core.FieldError{
				{Collection: core.Tags, Index: 2, Field: "name", Message: "is required"},
			}}),
			wantCode: http.StatusBadRequest,
			wantBody: `{"error":"Invalid payload","details":[{"collection":"tags","index":2,"field":"name","message":"is required"}]}`,
		},
		{
			name:     "conflict with empty groups",
			builder:  ConflictResponse(services.Conflicts{}),
			wantCode: http.StatusConflict,
			wantBody: `{"error":"Conflict detected","conflicts":{"categories":[],"transactions":[],"recurring":[],"tags":[]}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.builder.Write(w)
			if w.Code != tt.wantCode {
				t.Errorf("Status code = %d, want %d", w.Code, tt.wantCode)
			}
			if w.Body.String() != tt.wantBody {
				t.Errorf("Body = %s, want %s", w.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestMethodNotAllowedError(t *testing.T) {
	w := httptest.NewRecorder()
	MethodNotAllowedError("POST, OPTIONS").Write(w)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Status code = %d", w.Code)
	}
	if w.Header().Get("Allow") != "POST, OPTIONS" {
		t.Errorf("Allow = %q", w.Header().Get("Allow"))
	}
}
