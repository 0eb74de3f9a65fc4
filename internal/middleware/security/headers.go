package security

import (
	"net/http"
	"strconv"
	"strings"
)

// HeadersConfig holds the CORS and response hardening headers of the API.
type HeadersConfig struct {
	AllowOrigin  string
	AllowMethods []string
	AllowHeaders []string
	// MaxAge is the preflight cache lifetime in seconds; 0 omits the header.
	MaxAge int

	XContentTypeOptions string
	CacheControl        string
}

// DefaultHeadersConfig allows any origin to POST JSON.
func DefaultHeadersConfig() HeadersConfig {
	return HeadersConfig{
		AllowOrigin:         "*",
		AllowMethods:        []string{http.MethodPost, http.MethodOptions},
		AllowHeaders:        []string{"Content-Type"},
		XContentTypeOptions: "nosniff",
		CacheControl:        "no-store",
	}
}

// HeadersMiddleware applies CORS headers to every response and answers
// preflight requests.
type HeadersMiddleware struct {
	config HeadersConfig
}

func NewHeadersMiddleware(config HeadersConfig) *HeadersMiddleware {
	return &HeadersMiddleware{config: config}
}

// AllowHeader is the value of the Allow header for rejected methods.
func (h *HeadersMiddleware) AllowHeader() string {
	return strings.Join(h.config.AllowMethods, ", ")
}

// Middleware sets the headers and short-circuits OPTIONS with 204.
func (h *HeadersMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.applyHeaders(w)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *HeadersMiddleware) applyHeaders(w http.ResponseWriter) {
	headers := w.Header()

	headers.Set("Access-Control-Allow-Origin", h.config.AllowOrigin)
	headers.Set("Access-Control-Allow-Methods", strings.Join(h.config.AllowMethods, ", "))
	headers.Set("Access-Control-Allow-Headers", strings.Join(h.config.AllowHeaders, ", "))
	if h.config.MaxAge > 0 {
		headers.Set("Access-Control-Max-Age", strconv.Itoa(h.config.MaxAge))
	}
	if h.config.AllowOrigin != "*" {
		headers.Add("Vary", "Origin")
	}

	if h.config.XContentTypeOptions != "" {
		headers.Set("X-Content-Type-Options", h.config.XContentTypeOptions)
	}
	if h.config.CacheControl != "" {
		headers.Set("Cache-Control", h.config.CacheControl)
	}
}
