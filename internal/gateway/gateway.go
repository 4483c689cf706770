// Package gateway is the HTTP surface of the capture proxy.
//
// DESIGN: One chi router serves two audiences:
//   - everything outside /viewer and /static is proxied upstream and recorded
//   - /viewer and /static serve the transcript viewer and its JSON API
//
// The gateway owns no state of its own beyond counters; transcripts live in
// the store.Repository and every request is handled independently.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/compresr/capture-gateway/internal/config"
	"github.com/compresr/capture-gateway/internal/forward"
	"github.com/compresr/capture-gateway/internal/monitoring"
	"github.com/compresr/capture-gateway/internal/rewrite"
	"github.com/compresr/capture-gateway/internal/store"
	"github.com/compresr/capture-gateway/internal/transcript"
)

// Gateway proxies API traffic and records every exchange.
type Gateway struct {
	config    *config.Config
	repo      store.Repository
	recorder  *transcript.Store
	forwarder *forward.Forwarder
	rewriter  *rewrite.Rewriter
	metrics   *monitoring.MetricsCollector

	assets     fs.FS
	httpClient *http.Client
	now        func() time.Time

	handler http.Handler
	server  *http.Server
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithHTTPClient sets the client used for upstream calls.
func WithHTTPClient(c *http.Client) Option {
	return func(g *Gateway) { g.httpClient = c }
}

// WithAssets sets the viewer filesystem: index.html plus a static/ directory.
func WithAssets(assets fs.FS) Option {
	return func(g *Gateway) { g.assets = assets }
}

// WithClock overrides the time source used for transcript names.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) { g.now = now }
}

// WithRepository replaces the filesystem repository rooted at cfg.Logs.Dir.
func WithRepository(repo store.Repository) Option {
	return func(g *Gateway) { g.repo = repo }
}

// New builds a gateway from a validated configuration.
func New(cfg *config.Config, opts ...Option) (*Gateway, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	g := &Gateway{
		config:  cfg,
		metrics: monitoring.NewMetricsCollector(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}

	fwd, err := forward.New(cfg.Upstream.BaseURL, g.httpClient)
	if err != nil {
		return nil, fmt.Errorf("gateway: %w", err)
	}
	g.forwarder = fwd

	if g.repo == nil {
		g.repo = store.NewFSRepository(cfg.Logs.Dir)
	}
	g.recorder = transcript.NewStore(g.repo, cfg.Logs.MaxPerSession, transcript.WithClock(g.now))
	g.rewriter = rewrite.New(cfg.Rewrite.Enabled)
	g.handler = g.routes()

	g.server = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           g.handler,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}
	return g, nil
}

func (g *Gateway) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(accessLogMiddleware)

	r.Get("/viewer", g.handleViewerPage)
	r.Get("/viewer/", g.handleViewerPage)
	r.Get("/viewer/health", g.handleHealth)
	r.Get("/viewer/api/stats", g.handleStats)
	r.Get("/viewer/api/logs", g.handleListLogs)
	r.Get("/viewer/api/logs/*", g.handleGetLog)
	r.Delete("/viewer/api/sessions/{user}/{session}", g.handleDeleteSession)
	r.Get("/static/*", g.handleStatic)

	r.HandleFunc("/*", g.handleProxy)
	r.NotFound(g.handleProxy)
	r.MethodNotAllowed(g.handleProxy)
	return r
}

// Handler returns the root HTTP handler.
func (g *Gateway) Handler() http.Handler { return g.handler }

// Metrics returns the gateway's counters.
func (g *Gateway) Metrics() *monitoring.MetricsCollector { return g.metrics }

// Start listens on the configured port and blocks until Shutdown.
func (g *Gateway) Start() error {
	ln, err := net.Listen("tcp", g.server.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", g.server.Addr, err)
	}
	return g.Serve(ln)
}

// Serve accepts connections on ln until Shutdown.
func (g *Gateway) Serve(ln net.Listener) error {
	log.Info().
		Str("addr", ln.Addr().String()).
		Str("upstream", g.forwarder.BaseURL()).
		Str("log_dir", g.config.Logs.Dir).
		Int("max_logs_per_session", g.config.Logs.MaxPerSession).
		Bool("modify_prompt", g.rewriter.Enabled()).
		Msg("gateway listening")

	if err := g.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (g *Gateway) Shutdown(ctx context.Context) error {
	return g.server.Shutdown(ctx)
}
