package api

import (
	"context"
	"fmt"
	"io/fs"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/debugflow/internal/config"
	"github.com/JakeFAU/debugflow/internal/logging"
	"github.com/JakeFAU/debugflow/internal/metrics"
	"github.com/JakeFAU/debugflow/internal/pipeline"
	"github.com/JakeFAU/debugflow/web"
)

// URLParam is the query parameter carrying the script address.
const URLParam = "url"

const htmlContentType = "text/html; charset=utf-8"

// Runner executes the request pipeline for one raw url value.
type Runner interface {
	Run(ctx context.Context, raw string) pipeline.Outcome
}

// IDGenerator yields request IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// Clock abstracts time for request timing.
type Clock interface {
	Now() time.Time
}

// Server wires HTTP handlers to the pipeline.
type Server struct {
	router  chi.Router
	runner  Runner
	ids     IDGenerator
	clock   Clock
	logger  *zap.Logger
	favicon []byte
	cfg     config.ServerConfig
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	runner Runner,
	ids IDGenerator,
	clock Clock,
	cfg config.ServerConfig,
	logger *zap.Logger,
) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	favicon, err := fs.ReadFile(web.Assets, web.Favicon)
	if err != nil {
		return nil, fmt.Errorf("read favicon: %w", err)
	}
	s := &Server{
		runner:  runner,
		ids:     ids,
		clock:   clock,
		logger:  logger,
		favicon: favicon,
		cfg:     cfg,
	}

	r := chi.NewRouter()
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(maxBodyMiddleware(cfg.MaxBodyBytes))
	if d := cfg.RequestTimeout(); d > 0 {
		r.Use(timeoutMiddleware(d))
	}

	r.Get("/", s.index)
	r.Get("/favicon.ico", s.faviconHandler)

	s.router = r
	return s, nil
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) index(w http.ResponseWriter, r *http.Request) {
	raw, _ := lookupQuery(r.URL.RawQuery, URLParam)
	out := s.runner.Run(r.Context(), raw)

	w.Header().Set("Content-Type", htmlContentType)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(out.Page)); err != nil {
		logging.FromContext(r.Context(), s.logger).Warn("write page failed", zap.Error(err))
	}
}

func (s *Server) faviconHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(s.favicon); err != nil {
		logging.FromContext(r.Context(), s.logger).Warn("write favicon failed", zap.Error(err))
	}
}

// lookupQuery returns the first value of key in rawQuery. Unlike url.ParseQuery
// it never drops a pair: a component that fails to decode is returned as-is
// (with '+' still read as a space) so downstream validation can report it.
func lookupQuery(rawQuery, key string) (string, bool) {
	for _, pair := range strings.Split(rawQuery, "&") {
		if pair == "" {
			continue
		}
		k, v, _ := strings.Cut(pair, "=")
		if decodeQueryComponent(k) != key {
			continue
		}
		return decodeQueryComponent(v), true
	}
	return "", false
}

func decodeQueryComponent(s string) string {
	s = strings.ReplaceAll(s, "+", " ")
	decoded, err := url.PathUnescape(s)
	if err != nil || !utf8.ValidString(decoded) {
		return s
	}
	return decoded
}
