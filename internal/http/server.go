package http

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"sheetsync/internal/log"
	"sheetsync/internal/middleware/ratelimit"
	"sheetsync/internal/middleware/security"
	"sheetsync/internal/middleware/trace"
	"sheetsync/internal/services"
)

// Ports used by the handlers.
type (
	SnapshotReader interface {
		Read(ctx context.Context) (services.Snapshot, error)
	}

	SetWriter interface {
		Write(ctx context.Context, set services.WriteSet) (services.WriteResult, error)
	}
)

// Options configures NewServer.
type Options struct {
	// RateLimitPerMinute bounds POST requests per client; 0 uses the default.
	RateLimitPerMinute int
	// Ready reports whether the service can take traffic; nil means always.
	Ready func(ctx context.Context) error
	Now   func() time.Time
}

type Server struct {
	http.Server
	reader  SnapshotReader
	writer  SetWriter
	limiter *ratelimit.Limiter
	tracer  *trace.Middleware
	events  *log.StructuredLogger
	ready   func(ctx context.Context) error
	now     func() time.Time

	shutdownOnce sync.Once
}

// NewServer wires routes and middleware, returning a ready-to-run server.
func NewServer(addr string, reader SnapshotReader, writer SetWriter, opts Options) *Server {
	limits := ratelimit.DefaultConfig()
	if opts.RateLimitPerMinute > 0 {
		limits.RequestsPerMinute = opts.RateLimitPerMinute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	ips := security.NewIPResolver()
	cors := security.NewHeadersMiddleware(security.DefaultHeadersConfig())

	s := &Server{
		Server: http.Server{
			Addr:              addr,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      60 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		reader:  reader,
		writer:  writer,
		limiter: ratelimit.NewLimiter(limits),
		tracer:  trace.NewMiddleware(ips.ClientIP),
		events:  log.NewStructuredLogger(log.Scoped(slog.Default(), log.ComponentHTTP)),
		ready:   opts.Ready,
		now:     opts.Now,
	}

	limit := s.limiter.Middleware(limits.Methods, ips.ClientIP, func(w http.ResponseWriter, r *http.Request) {
		slog.WarnContext(r.Context(), "Rate limit exceeded", "client_ip", ips.ClientIP(r), "path", r.URL.Path)
		ErrorResponse(http.StatusTooManyRequests, "Rate limit exceeded. Please try again later.").Write(w)
	})
	api := func(h http.HandlerFunc) http.Handler {
		return cors.Middleware(limit(h))
	}

	mux := http.NewServeMux()
	mux.Handle("/api/sheets/read", api(s.handleRead))
	mux.Handle("/api/sheets/write", api(s.handleWrite))
	mux.HandleFunc("/healthz", handleHealth)
	mux.HandleFunc("/readyz", s.handleReady)

	s.Handler = s.tracer.Middleware(log.Middleware(log.Scoped(slog.Default(), log.ComponentHTTP))(mux))
	return s
}

// Metrics returns request counters.
func (s *Server) Metrics() trace.Metrics {
	return s.tracer.GetMetrics()
}

// Shutdown gracefully shuts down the server and its background routines.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}
