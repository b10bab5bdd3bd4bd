// Package fetch retrieves remote scripts with hard time and size bounds using gocolly.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/debugflow/internal/hash/sha256"
)

const (
	// DefaultTimeout bounds the whole transfer: connect, headers and body.
	DefaultTimeout = 3000 * time.Millisecond
	// DefaultMaxBodyBytes is the largest body accepted. Larger bodies abort the transfer.
	DefaultMaxBodyBytes = 30000
	// DefaultUserAgent identifies the service to script hosts.
	DefaultUserAgent = "debugflow/1.0"

	expectedContentType = "text/javascript"
)

var (
	// ErrTimeout reports a transfer that did not complete within the configured timeout.
	ErrTimeout = errors.New("network timeout")
	// ErrTooLarge reports a body larger than the configured ceiling.
	ErrTooLarge = errors.New("content size over limit")
	// ErrNetwork reports any other transport failure, including non-2xx responses.
	ErrNetwork = errors.New("request failed")
)

// Config controls collector behavior.
type Config struct {
	UserAgent    string
	Timeout      time.Duration
	MaxBodyBytes int64
}

// Result is the successful outcome of a fetch.
type Result struct {
	URL         string
	StatusCode  int
	ContentType string
	Body        string
	// Bytes is the body size as received, before any charset conversion.
	Bytes    int64
	Duration time.Duration
	// SHA256 is the hex digest of Body.
	SHA256 string
}

// Fetcher performs bounded GET requests through a Colly collector.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
	hasher        *sha256.Hasher
	logger        *zap.Logger
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher. Zero values in cfg fall back to the package defaults.
func New(cfg Config, logger *zap.Logger) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.UserAgent(cfg.UserAgent),
		// Size is enforced by the transport so an oversized body fails instead of being truncated.
		colly.MaxBodySize(0),
	)
	c.IgnoreRobotsTxt = true
	// Clones share the backend, so transport and timeout are configured once here.
	c.WithTransport(newLimitTransport(newHTTPTransport(), cfg.MaxBodyBytes))
	c.SetRequestTimeout(cfg.Timeout)

	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
		hasher:        sha256.New(),
		logger:        logger,
	}
}

// Fetch retrieves url and returns its body as text. Timeouts, oversized bodies and
// transport failures are reported as errors wrapping ErrTimeout, ErrTooLarge or ErrNetwork.
func (f *Fetcher) Fetch(ctx context.Context, url string) (Result, error) {
	var (
		result   Result
		fetchErr error
	)
	start := time.Now()
	collector := f.baseCollector.Clone()
	// Every status reaches OnResponse, which accepts the whole 2xx range.
	collector.ParseHTTPErrorResponse = true
	f.configureCollectorHooks(collector, start, &result, &fetchErr)

	if err := f.runCollector(ctx, collector, url, &fetchErr); err != nil {
		return Result{}, f.classify(url, err)
	}
	if result.StatusCode == 0 {
		return Result{}, fmt.Errorf("%w: no response from %s", ErrNetwork, url)
	}
	if result.Bytes > f.cfg.MaxBodyBytes {
		return Result{}, tooLarge(url, f.cfg.MaxBodyBytes)
	}
	f.checkContentType(url, result.ContentType)
	result.SHA256 = f.hasher.HashString(result.Body)
	f.logger.Debug("script fetched",
		zap.String("url", url),
		zap.Int("status", result.StatusCode),
		zap.String("size", humanize.Bytes(uint64(result.Bytes))),
		zap.Duration("duration", result.Duration),
		zap.String("sha256", result.SHA256),
	)
	return result, nil
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	start time.Time,
	result *Result,
	fetchErr *error,
) {
	hooks.OnResponse(func(r *colly.Response) {
		if r.StatusCode/100 != 2 {
			*fetchErr = fmt.Errorf("%w: %d %s", ErrNetwork, r.StatusCode, http.StatusText(r.StatusCode))
			return
		}
		var contentType string
		if r.Headers != nil {
			contentType = r.Headers.Get("Content-Type")
		}
		*result = Result{
			URL:         r.Request.URL.String(),
			StatusCode:  r.StatusCode,
			ContentType: contentType,
			Body:        string(r.Body),
			Bytes:       receivedBytes(r.Headers, int64(len(r.Body))),
			Duration:    time.Since(start),
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 && !errors.Is(err, ErrTooLarge) {
			*fetchErr = fmt.Errorf("%w: %d %s", ErrNetwork, r.StatusCode, err.Error())
			return
		}
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		if *fetchErr != nil {
			return *fetchErr
		}
		return err
	}
}

// checkContentType inspects the declared type without enforcing it. Scripts served as
// text/plain or application/octet-stream are still traced.
func (f *Fetcher) checkContentType(url, contentType string) {
	if strings.HasPrefix(contentType, expectedContentType) {
		return
	}
	f.logger.Debug("unexpected script content type",
		zap.String("url", url),
		zap.String("content_type", contentType),
		zap.String("expected", expectedContentType),
	)
}

func (f *Fetcher) classify(url string, err error) error {
	switch {
	case errors.Is(err, ErrTooLarge):
		return tooLarge(url, f.cfg.MaxBodyBytes)
	case errors.Is(err, ErrNetwork), errors.Is(err, ErrTimeout):
		return err
	case isTimeout(err):
		return fmt.Errorf("%w at: %s", ErrTimeout, url)
	default:
		return fmt.Errorf("%w: %s: %s", ErrNetwork, url, err.Error())
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func tooLarge(url string, limit int64) error {
	return fmt.Errorf("%w at %s: %d", ErrTooLarge, url, limit)
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   3 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   3 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          20,
		IdleConnTimeout:       30 * time.Second,
	}
}
