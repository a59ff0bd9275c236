// Package server exposes playground sessions over HTTP.
//
// Each browser session owns one session.Store, created on demand and
// addressed by a UUID. The JSON API mutates the store; a WebSocket stream
// pushes a snapshot after every state change, including rebuilds that
// finish after the request that triggered them has returned.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/conneroisu/playground/internal/codec"
	"github.com/conneroisu/playground/internal/config"
	"github.com/conneroisu/playground/internal/logging"
	"github.com/conneroisu/playground/internal/middleware"
	"github.com/conneroisu/playground/internal/renderer"
	"github.com/conneroisu/playground/internal/samples"
	"github.com/conneroisu/playground/internal/session"
)

// DefaultSessionTTL is how long an idle session without streams survives.
const DefaultSessionTTL = 30 * time.Minute

// Options configures a Server.
type Options struct {
	Config   *config.Config
	Renderer session.Renderer
	// Catalog defaults to the built-in samples with the configured default.
	Catalog *samples.Catalog
	Logger  logging.Logger
	// SessionTTL defaults to DefaultSessionTTL; negative disables expiry.
	SessionTTL time.Duration
	// RateLimit applies to session creation. The zero value means
	// DefaultRateLimit.
	RateLimit RateLimitConfig
}

// Server is the playground HTTP server.
type Server struct {
	cfg      *config.Config
	renderer session.Renderer
	catalog  *samples.Catalog
	codec    *codec.Codec
	logger   logging.Logger
	sessions *Sessions
	limiter  *RateLimiter
	handler  http.Handler

	mu         sync.Mutex
	httpServer *http.Server
}

// New creates a Server.
func New(opts Options) (*Server, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("server requires a configuration")
	}
	if opts.Renderer == nil {
		return nil, fmt.Errorf("server requires a renderer")
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNopLogger()
	}
	if opts.SessionTTL == 0 {
		opts.SessionTTL = DefaultSessionTTL
	}
	if opts.RateLimit == (RateLimitConfig{}) {
		opts.RateLimit = DefaultRateLimit
	}
	if opts.Catalog == nil {
		builtin, err := samples.Builtin()
		if err != nil {
			return nil, fmt.Errorf("loading samples: %w", err)
		}
		catalog, err := builtin.WithDefault(opts.Config.Samples.Default)
		if err != nil {
			return nil, err
		}
		opts.Catalog = catalog
	}

	logger := opts.Logger.WithComponent("server")
	s := &Server{
		cfg:      opts.Config,
		renderer: opts.Renderer,
		catalog:  opts.Catalog,
		codec:    opts.Config.Codec(),
		logger:   logger,
		limiter:  NewRateLimiter(opts.RateLimit, logger),
	}
	s.sessions = NewSessions(s.newStore, opts.SessionTTL, opts.Logger)
	s.handler = s.routes()
	return s, nil
}

func (s *Server) newStore() (*session.Store, error) {
	return session.New(session.Options{
		Renderer:      s.renderer,
		Catalog:       s.catalog,
		Codec:         s.codec,
		BaseURL:       s.cfg.Share.BaseURL,
		Debounce:      s.cfg.Pipeline.Debounce,
		RenderTimeout: s.cfg.Pipeline.RenderTimeout,
		Sanitize:      renderer.Sanitize,
		Logger:        s.logger,
	})
}

// Handler returns the server's root handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Sessions returns the session registry.
func (s *Server) Sessions() *Sessions {
	return s.sessions
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	limited := RateLimitMiddleware(s.limiter)

	mux.Handle("GET /{$}", limited(http.HandlerFunc(s.handleIndex)))
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/samples", s.handleSamples)

	mux.Handle("POST /api/sessions", limited(http.HandlerFunc(s.handleCreateSession)))
	mux.HandleFunc("GET /api/sessions/{id}", s.handleGetSession)
	mux.HandleFunc("DELETE /api/sessions/{id}", s.handleDeleteSession)
	mux.HandleFunc("PUT /api/sessions/{id}/documents/{kind}", s.handleSetDocument)
	mux.HandleFunc("PUT /api/sessions/{id}/buffers/{kind}", s.handleSetBuffer)
	mux.HandleFunc("POST /api/sessions/{id}/documents/{kind}/{action}", s.handleHistoryStep)
	mux.HandleFunc("GET /api/sessions/{id}/history/{kind}", s.handleHistory)
	mux.HandleFunc("POST /api/sessions/{id}/samples/{name}", s.handleLoadSample)
	mux.HandleFunc("POST /api/sessions/{id}/link", s.handleLoadLink)
	mux.HandleFunc("GET /api/sessions/{id}/share", s.handleShare)
	mux.HandleFunc("GET /api/sessions/{id}/metrics", s.handleMetrics)
	mux.HandleFunc("GET /api/sessions/{id}/ws", s.handleStream)

	security := DevelopmentSecurityConfig()
	if s.cfg.IsProduction() {
		security = ProductionSecurityConfig()
	}

	return middleware.New(
		middleware.Recover(s.logger),
		middleware.Logging(s.logger),
		SecurityMiddleware(security),
	).Then(mux)
}

// ListenAndServe listens on the configured address and serves until ctx
// is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Address())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Address(), err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then shuts down gracefully and
// closes every session.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	s.mu.Lock()
	s.httpServer = srv
	s.mu.Unlock()

	sweepCtx, stopSweep := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.maintain(sweepCtx)
	}()

	s.logger.Info(ctx, "Server listening", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	var serveErr error
	select {
	case serveErr = <-errCh:
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		serveErr = srv.Shutdown(shutdownCtx)
		cancel()
		<-errCh
	}

	stopSweep()
	wg.Wait()
	s.sessions.CloseAll()
	s.logger.Info(context.Background(), "Server stopped")

	if errors.Is(serveErr, http.ErrServerClosed) {
		return nil
	}
	return serveErr
}

// Close closes every session. Use it when the handler is served by
// something other than Serve.
func (s *Server) Close() {
	s.sessions.CloseAll()
}

func (s *Server) maintain(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sessions.Sweep()
			s.limiter.Cleanup(10 * time.Minute)
		}
	}
}
