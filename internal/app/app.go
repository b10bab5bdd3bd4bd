// Package app builds the long-lived debugflow services from configuration and
// runs the HTTP listeners.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/debugflow/internal/api"
	"github.com/JakeFAU/debugflow/internal/clock/system"
	"github.com/JakeFAU/debugflow/internal/config"
	"github.com/JakeFAU/debugflow/internal/fetch"
	"github.com/JakeFAU/debugflow/internal/id/uuid"
	"github.com/JakeFAU/debugflow/internal/instrument"
	"github.com/JakeFAU/debugflow/internal/metrics"
	"github.com/JakeFAU/debugflow/internal/pipeline"
	"github.com/JakeFAU/debugflow/internal/render"
	"github.com/JakeFAU/debugflow/internal/trace"
)

// MetricsPath is served on the metrics listener when it is enabled.
const MetricsPath = "/metrics"

// App holds the shared, long-lived services for the application.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	templates *render.Templates
	tracer    *instrument.Tracer
	pipeline  *pipeline.Pipeline
	server    *api.Server
}

// New wires every service. Templates are loaded here, before any listener
// exists, so a missing or broken template fails startup instead of requests.
func New(cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := []render.Option{render.WithMaxEcho(cfg.Render.MaxEchoChars)}
	if cfg.Render.EscapeHTML {
		opts = append(opts, render.WithEscaper(render.HTML))
	}
	templates, err := render.Load(cfg.Render.TemplatesDir, opts...)
	if err != nil {
		return nil, fmt.Errorf("load templates: %w", err)
	}
	source := cfg.Render.TemplatesDir
	if source == "" {
		source = "embedded"
	}
	logger.Info("templates loaded", zap.String("source", source), zap.Bool("escape_html", cfg.Render.EscapeHTML))

	fetcher := fetch.New(fetch.Config{
		UserAgent:    cfg.Fetch.UserAgent,
		Timeout:      cfg.Fetch.Timeout(),
		MaxBodyBytes: cfg.Fetch.MaxBodyBytes,
	}, logger.Named("fetch"))
	tracer := instrument.NewTracer()
	p := pipeline.New(fetcher, tracer, templates, logger.Named("pipeline"))

	server, err := api.NewServer(p, uuid.New(), system.New(), cfg.Server, logger.Named("api"))
	if err != nil {
		return nil, fmt.Errorf("init api: %w", err)
	}

	return &App{
		cfg:       cfg,
		logger:    logger,
		templates: templates,
		tracer:    tracer,
		pipeline:  p,
		server:    server,
	}, nil
}

// Logger returns the root logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Handler returns the public HTTP handler.
func (a *App) Handler() http.Handler {
	return a.server.Handler()
}

// Pipeline returns the request pipeline.
func (a *App) Pipeline() *pipeline.Pipeline {
	return a.pipeline
}

// TraceRunner returns a runner that replays scripts with the configured budget.
func (a *App) TraceRunner() *trace.Runner {
	return trace.NewRunner(a.tracer, a.cfg.Trace.Budget(), a.logger.Named("trace"))
}

// Serve listens on the configured addresses and blocks until ctx is canceled or
// a listener fails.
func (a *App) Serve(ctx context.Context) error {
	public, err := net.Listen("tcp", a.cfg.Server.Addr())
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.cfg.Server.Addr(), err)
	}
	var metricsLn net.Listener
	if a.cfg.Metrics.Enabled {
		metricsLn, err = net.Listen("tcp", a.cfg.Metrics.Addr)
		if err != nil {
			_ = public.Close()
			return fmt.Errorf("listen %s: %w", a.cfg.Metrics.Addr, err)
		}
	}
	return a.ServeListeners(ctx, public, metricsLn)
}

// ServeListeners serves the public handler on public and, when metricsLn is
// non-nil, Prometheus metrics on metricsLn. Both are shut down gracefully
// within server.shutdown_timeout_seconds once ctx is done.
func (a *App) ServeListeners(ctx context.Context, public, metricsLn net.Listener) error {
	type listener struct {
		name string
		srv  *http.Server
		ln   net.Listener
	}
	listeners := []listener{{
		name: "public",
		srv: &http.Server{
			Handler:           a.server.Handler(),
			ReadHeaderTimeout: a.cfg.Server.ReadHeaderTimeout(),
		},
		ln: public,
	}}
	if metricsLn != nil {
		r := chi.NewRouter()
		r.Method(http.MethodGet, MetricsPath, metrics.Handler())
		listeners = append(listeners, listener{
			name: "metrics",
			srv: &http.Server{
				Handler:           r,
				ReadHeaderTimeout: a.cfg.Server.ReadHeaderTimeout(),
			},
			ln: metricsLn,
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, l := range listeners {
		g.Go(func() error {
			a.logger.Info("http server started", zap.String("listener", l.name), zap.String("addr", l.ln.Addr().String()))
			if err := l.srv.Serve(l.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("%s server: %w", l.name, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutdown initiated")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout())
		defer cancel()
		var errs error
		for _, l := range listeners {
			if err := l.srv.Shutdown(shutdownCtx); err != nil {
				errs = errors.Join(errs, fmt.Errorf("%s server shutdown: %w", l.name, err))
			}
		}
		return errs
	})

	err := g.Wait()
	a.logger.Info("shutdown complete")
	return err
}

// Close flushes the logger.
func (a *App) Close() {
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
}
