package fetch

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
)

// receivedBytesHeader carries the number of body bytes read off the wire, before
// any charset conversion, from the transport to the response hooks.
const receivedBytesHeader = "X-Debugflow-Received-Bytes"

// limitTransport fails a response whose body grows past limit bytes. Declared
// lengths are checked before the body is read.
type limitTransport struct {
	base  http.RoundTripper
	limit int64
}

func newLimitTransport(base http.RoundTripper, limit int64) *limitTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &limitTransport{base: base, limit: limit}
}

func (t *limitTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err //nolint:wrapcheck // the client wraps transport errors in *url.Error
	}
	if resp.ContentLength > t.limit {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("%w: declared %d bytes", ErrTooLarge, resp.ContentLength)
	}
	if resp.Header == nil {
		resp.Header = make(http.Header)
	}
	resp.Body = &limitedBody{body: resp.Body, remaining: t.limit, header: resp.Header}
	return resp, nil
}

type limitedBody struct {
	body      io.ReadCloser
	remaining int64
	read      int64
	header    http.Header
}

func (b *limitedBody) Read(p []byte) (int, error) {
	if b.remaining < 0 {
		return 0, ErrTooLarge
	}
	// Read one byte past the limit so an exact-size body still reaches EOF.
	if int64(len(p)) > b.remaining+1 {
		p = p[:b.remaining+1]
	}
	n, err := b.body.Read(p)
	b.remaining -= int64(n)
	b.read += int64(n)
	if b.remaining < 0 {
		return n, ErrTooLarge
	}
	if errors.Is(err, io.EOF) {
		b.record()
	}
	return n, err //nolint:wrapcheck // io.EOF must pass through unwrapped
}

func (b *limitedBody) Close() error {
	b.record()
	return b.body.Close() //nolint:wrapcheck // passthrough
}

func (b *limitedBody) record() {
	b.header.Set(receivedBytesHeader, strconv.FormatInt(b.read, 10))
}

// receivedBytes returns the count recorded by limitedBody, or fallback when absent.
func receivedBytes(h *http.Header, fallback int64) int64 {
	if h == nil {
		return fallback
	}
	raw := h.Get(receivedBytesHeader)
	h.Del(receivedBytesHeader)
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}
