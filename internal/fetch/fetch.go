// Package fetch is the network collaborator: a URL in, bytes out.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/joeblew999/plat-ows/internal/metrics"
	"github.com/joeblew999/plat-ows/pkg/logging"
)

// DefaultTimeout bounds a single call when no timeout is configured.
const DefaultTimeout = 15 * time.Second

// MaxBody caps response bodies.
const MaxBody = 32 << 20

// ErrResponseTooLarge is returned when a body exceeds the fetcher's limit.
var ErrResponseTooLarge = errors.New("response too large")

// Fetcher retrieves the body at url.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Func adapts a function to the Fetcher interface.
type Func func(ctx context.Context, url string) ([]byte, error)

// Fetch calls f.
func (f Func) Fetch(ctx context.Context, url string) ([]byte, error) {
	return f(ctx, url)
}

// StatusError is returned when the remote answers with a non-2xx status.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: HTTP %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
}

// HTTPFetcher fetches over HTTP with a per-call timeout. No retries.
type HTTPFetcher struct {
	client  *http.Client
	timeout time.Duration
	maxBody int64
}

// NewHTTPFetcher creates a fetcher. A zero timeout uses DefaultTimeout.
func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPFetcher{client: &http.Client{}, timeout: timeout, maxBody: MaxBody}
}

// Fetch performs a GET and returns the response body.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (body []byte, err error) {
	start := time.Now()
	defer func() { metrics.ObserveFetch(start, err) }()

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	logging.Debug("Fetch", "GET %s", url)
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{URL: url, StatusCode: resp.StatusCode}
	}

	body, err = io.ReadAll(io.LimitReader(resp.Body, f.maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", url, err)
	}
	if int64(len(body)) > f.maxBody {
		return nil, fmt.Errorf("GET %s: %w (over %d bytes)", url, ErrResponseTooLarge, f.maxBody)
	}
	return body, nil
}
