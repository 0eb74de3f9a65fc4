package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"sheetsync/internal/core"
	"sheetsync/internal/log"
	"sheetsync/internal/services"
)

// handleRead returns every collection in one response.
func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	if resp := RequirePOST(r); resp != nil {
		resp.Write(w)
		return
	}

	snap, err := s.reader.Read(r.Context())
	if err != nil {
		s.writeError(w, r, log.OpRead, err)
		return
	}
	NewJSONResponse().Body(snap).Write(w)
}

// handleWrite merges the submitted working set into the store.
func (s *Server) handleWrite(w http.ResponseWriter, r *http.Request) {
	if resp := RequirePOST(r); resp != nil {
		resp.Write(w)
		return
	}

	body, err := ReadBody(w, r)
	if err != nil {
		s.writeError(w, r, log.OpWrite, err)
		return
	}
	set, err := services.DecodeWritePayload(body, s.now())
	if err != nil {
		s.writeError(w, r, log.OpWrite, err)
		return
	}
	log.FromContext(r.Context()).DebugContext(r.Context(), "Write payload decoded", "records", set.Size())

	result, err := s.writer.Write(r.Context(), set)
	if err != nil {
		s.writeError(w, r, log.OpWrite, err)
		return
	}

	s.events.LogWriteOutcome(r.Context(), string(result.Outcome), result.Conflicts.Count(), result.Counts)
	if result.Outcome == services.OutcomeConflict {
		ConflictResponse(result.Conflicts).Write(w)
		return
	}
	MessageResponse("Data saved successfully").Write(w)
}

// writeError maps pipeline errors to status codes. Validation problems are
// the client's fault; everything else is reported as a server failure with
// the upstream message.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	var (
		verr   *core.ValidationError
		cfgErr *core.ConfigurationError
		remote *services.RemoteError
	)

	switch {
	case errors.As(err, &verr):
		s.events.LogError(r.Context(), "Request rejected", err, log.ErrorTypeValidation, log.ComponentHTTP, op)
		ValidationErrorResponse(verr).Write(w)
	case errors.As(err, &cfgErr):
		s.events.LogError(r.Context(), "Server configuration incomplete", err, log.ErrorTypeConfiguration, log.ComponentHTTP, op)
		ErrorResponse(http.StatusInternalServerError, err.Error()).Write(w)
	case errors.As(err, &remote):
		s.events.LogError(r.Context(), "Remote store failure", err, log.ErrorTypeRemote, log.ComponentSheets, op)
		ErrorResponse(http.StatusInternalServerError, err.Error()).Write(w)
	default:
		s.events.LogError(r.Context(), "Request failed", err, log.ErrorTypeInternal, log.ComponentHTTP, op)
		ErrorResponse(http.StatusInternalServerError, err.Error()).Write(w)
	}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := s.ready(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready: " + err.Error()))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
