package http

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"sheetsync/internal/core"
)

// MaxBodyBytes caps request bodies.
const MaxBodyBytes = 5 << 20

// ReadBody reads at most MaxBodyBytes of the request body. An oversized
// body is reported as a validation problem.
func ReadBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, &core.ValidationError{Details: []core.FieldError{{
				Field:   "body",
				Message: fmt.Sprintf("exceeds %d bytes", MaxBodyBytes),
			}}}
		}
		return nil, fmt.Errorf("read request body: %w", err)
	}
	return body, nil
}

// RequireMethod returns a 405 response unless the method is one of methods.
func RequireMethod(r *http.Request, methods ...string) *JSONResponseBuilder {
	for _, m := range methods {
		if r.Method == m {
			return nil
		}
	}
	return MethodNotAllowedError(strings.Join(methods, ", "))
}

// RequirePOST accepts POST; OPTIONS is answered by the CORS middleware.
func RequirePOST(r *http.Request) *JSONResponseBuilder {
	if RequireMethod(r, http.MethodPost) == nil {
		return nil
	}
	return MethodNotAllowedError(http.MethodPost + ", " + http.MethodOptions)
}
