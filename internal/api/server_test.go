package api

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/debugflow/internal/config"
	"github.com/JakeFAU/debugflow/internal/fetch"
	"github.com/JakeFAU/debugflow/internal/instrument"
	"github.com/JakeFAU/debugflow/internal/pipeline"
	"github.com/JakeFAU/debugflow/internal/render"
)

func TestIndexPassesDecodedQueryToRunner(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{page: "<html>ok</html>"}
	rec := serve(t, newTestServer(t, runner), "/?url=https%3A%2F%2Fexample.com%2Fscript.js")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, htmlContentType, rec.Header().Get("Content-Type"))
	assert.Equal(t, "<html>ok</html>", rec.Body.String())
	assert.Equal(t, []string{"https://example.com/script.js"}, runner.calls())
}

func TestIndexWithoutURL(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{page: "<html></html>"}
	srv := newTestServer(t, runner)
	serve(t, srv, "/")
	serve(t, srv, "/?url=")
	serve(t, srv, "/?other=1")

	assert.Equal(t, []string{"", "", ""}, runner.calls())
}

func TestIndexKeepsMalformedQueryValue(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	serve(t, newTestServer(t, runner), "/?url=https%3A%2F%2Fexample.com%zz")

	assert.Equal(t, []string{"https%3A%2F%2Fexample.com%zz"}, runner.calls())
}

func TestIndexAlwaysAnswersOK(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{page: "error page", state: pipeline.StateErrored}
	rec := serve(t, newTestServer(t, runner), "/?url=ftp%3A%2F%2Fexample.com")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "error page", rec.Body.String())
}

func TestFavicon(t *testing.T) {
	t.Parallel()

	rec := serve(t, newTestServer(t, &fakeRunner{}), "/favicon.ico")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(rec.Body.String(), "\x89PNG"))
}

func TestUnknownRouteIsNotFound(t *testing.T) {
	t.Parallel()

	rec := serve(t, newTestServer(t, &fakeRunner{}), "/other")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRequestIDMiddlewareSetsHeader(t *testing.T) {
	t.Parallel()

	srv, err := NewServer(&fakeRunner{}, &fakeIDGen{ids: []string{"req-1"}}, &fakeClock{now: time.Unix(100, 0)}, testServerConfig(), nil)
	require.NoError(t, err)
	rec := serve(t, srv, "/")

	assert.Equal(t, "req-1", rec.Header().Get(RequestIDHeader))
}

func TestRequestIDFallsBackToUUID(t *testing.T) {
	t.Parallel()

	srv, err := NewServer(&fakeRunner{}, &fakeIDGen{err: fmt.Errorf("no entropy")}, &fakeClock{}, testServerConfig(), nil)
	require.NoError(t, err)
	rec := serve(t, srv, "/")

	assert.Len(t, rec.Header().Get(RequestIDHeader), 36)
}

func TestLoggingMiddlewareLogsRequest(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	srv, err := NewServer(&fakeRunner{page: "abc"}, &fakeIDGen{ids: []string{"req-log"}}, &fakeClock{now: time.Unix(100, 0)}, testServerConfig(), zap.New(core))
	require.NoError(t, err)
	serve(t, srv, "/")

	entries := logs.FilterMessage("request completed").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "req-log", fields["request_id"])
	assert.Equal(t, "GET", fields["method"])
	assert.Equal(t, "/", fields["path"])
	assert.EqualValues(t, http.StatusOK, fields["status"])
	assert.Equal(t, "3 B", fields["size"])
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.ErrorLevel)
	srv, err := NewServer(&fakeRunner{panics: true}, &fakeIDGen{}, &fakeClock{}, testServerConfig(), zap.New(core))
	require.NoError(t, err)
	rec := serve(t, srv, "/?url=x")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, 1, logs.FilterMessage("panic recovered").Len())
}

func TestMaxBodyMiddleware(t *testing.T) {
	t.Parallel()

	reached := 0
	h := maxBodyMiddleware(8)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached++
		n, err := io.Copy(io.Discard, r.Body)
		assert.NoError(t, err)
		assert.Zero(t, n)
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name    string
		body    string
		unknown bool
		want    int
	}{
		{"no body", "", false, http.StatusOK},
		{"at limit", strings.Repeat("x", 8), false, http.StatusOK},
		{"declared over limit", strings.Repeat("x", 64), false, http.StatusRequestEntityTooLarge},
		{"streamed at limit", strings.Repeat("x", 8), true, http.StatusOK},
		{"streamed over limit", strings.Repeat("x", 64), true, http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", strings.NewReader(tt.body))
		if tt.unknown {
			req.ContentLength = -1
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, tt.want, rec.Code, tt.name)
	}
	assert.Equal(t, 3, reached)
}

func TestIndexRejectsOversizedBody(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{page: "page"}
	srv := newTestServer(t, runner)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/?url=https%3A%2F%2Fexample.com%2Fa.js", strings.NewReader(strings.Repeat("x", 1024)))
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Empty(t, runner.calls())

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/?url=https%3A%2F%2Fexample.com%2Fa.js", strings.NewReader(strings.Repeat("x", 512)))
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"https://example.com/a.js"}, runner.calls())
}

func TestTimeoutMiddleware(t *testing.T) {
	t.Parallel()

	cfg := testServerConfig()
	cfg.RequestTimeoutSeconds = 1
	srv, err := NewServer(&fakeRunner{wait: true}, &fakeIDGen{}, &fakeClock{}, cfg, nil)
	require.NoError(t, err)
	rec := serve(t, srv, "/?url=slow")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "request timed out")
}

func TestIndexRendersFlowPage(t *testing.T) {
	t.Parallel()

	tmpl, err := render.Load("")
	require.NoError(t, err)
	fetcher := fetcherFunc(func(_ context.Context, u string) (fetch.Result, error) {
		return fetch.Result{URL: u, StatusCode: http.StatusOK, Body: "function hello(n){return n;} hello(1);"}, nil
	})
	p := pipeline.New(fetcher, instrument.NewTracer(), tmpl, nil)
	rec := serve(t, newTestServer(t, p), "/?url=https%3A%2F%2Fexample.com%2Fscript.js")
	require.Equal(t, http.StatusOK, rec.Code)

	doc, err := goquery.NewDocumentFromReader(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/script.js", doc.Find("#debugflow-name").Text())
	code := doc.Find("#debugflow-code").Text()
	assert.Contains(t, code, "debugger;")
	assert.Contains(t, code, "done();")
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(doc.Find("#debugflow-b64").Text()))
	require.NoError(t, err)
	assert.Equal(t, code, string(decoded))
}

func TestIndexRendersSchemeError(t *testing.T) {
	t.Parallel()

	tmpl, err := render.Load("")
	require.NoError(t, err)
	fetcher := fetcherFunc(func(context.Context, string) (fetch.Result, error) {
		t.Error("fetch must not run for an invalid URL")
		return fetch.Result{}, nil
	})
	p := pipeline.New(fetcher, instrument.NewTracer(), tmpl, nil)
	rec := serve(t, newTestServer(t, p), "/?url=ftp%3A%2F%2Fexample.com")
	require.Equal(t, http.StatusOK, rec.Code)

	doc, err := goquery.NewDocumentFromReader(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, `URL must start with "https://"`, doc.Find("#debugflow-error").Text())
	assert.Equal(t, "ftp://example.com", doc.Find("#debugflow-name").Text())
}

func TestLookupQuery(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		raw   string
		want  string
		found bool
	}{
		{"encoded", "url=https%3A%2F%2Fa.com%2Fx.js", "https://a.com/x.js", true},
		{"plus is space", "url=a+b", "a b", true},
		{"first wins", "url=one&url=two", "one", true},
		{"malformed kept", "url=%E0%A4%A", "%E0%A4%A", true},
		{"invalid utf8 kept", "url=%FF", "%FF", true},
		{"encoded key", "%75rl=x", "x", true},
		{"no value", "url", "", true},
		{"missing", "a=1&b=2", "", false},
		{"empty", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, found := lookupQuery(tt.raw, URLParam)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.found, found)
		})
	}
}

func TestResponseWriterHijackBehavior(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	_, _, err := rw.Hijack()
	require.EqualError(t, err, "hijacker not supported")

	h := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw = &responseWriter{ResponseWriter: h}
	conn, buf, err := rw.Hijack()
	require.NoError(t, err)
	require.NoError(t, conn.Close())
	require.NoError(t, h.CloseClient())
	require.NotNil(t, buf)
}

// --- helpers/fakes ---

func testServerConfig() config.ServerConfig {
	return config.ServerConfig{
		Port:                  8081,
		RequestTimeoutSeconds: 10,
		MaxBodyBytes:          512,
	}
}

func newTestServer(t *testing.T, runner Runner) *Server {
	t.Helper()
	srv, err := NewServer(runner, &fakeIDGen{}, &fakeClock{now: time.Unix(100, 0)}, testServerConfig(), zap.NewNop())
	require.NoError(t, err)
	return srv
}

func serve(t *testing.T, srv *Server, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

type fakeRunner struct {
	mu     sync.Mutex
	raws   []string
	page   string
	state  pipeline.State
	panics bool
	wait   bool
}

func (f *fakeRunner) Run(ctx context.Context, raw string) pipeline.Outcome {
	f.mu.Lock()
	f.raws = append(f.raws, raw)
	f.mu.Unlock()
	if f.panics {
		panic("boom")
	}
	if f.wait {
		<-ctx.Done()
	}
	state := f.state
	if state == "" {
		state = pipeline.StateRendered
	}
	return pipeline.Outcome{State: state, Page: f.page}
}

func (f *fakeRunner) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.raws...)
}

type fetcherFunc func(ctx context.Context, url string) (fetch.Result, error)

func (f fetcherFunc) Fetch(ctx context.Context, url string) (fetch.Result, error) {
	return f(ctx, url)
}

type fakeIDGen struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (f *fakeIDGen) NewID() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	if len(f.ids) == 0 {
		return "id-default", nil
	}
	id := f.ids[0]
	f.ids = f.ids[1:]
	return id, nil
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	client net.Conn
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	server, client := net.Pipe()
	h.client = client
	return server, bufio.NewReadWriter(bufio.NewReader(client), bufio.NewWriter(client)), nil
}

func (h *hijackableRecorder) CloseClient() error {
	if h.client != nil {
		if err := h.client.Close(); err != nil {
			return fmt.Errorf("close hijacker client: %w", err)
		}
	}
	return nil
}
