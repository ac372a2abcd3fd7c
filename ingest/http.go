package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

const defaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// maxBodyBytes bounds provider responses.
const maxBodyBytes = 8 << 20

// Fetcher performs GET requests against one provider with shared headers and a small retry budget.
type Fetcher struct {
	Name    string
	Client  *http.Client
	Headers map[string]string
	Retries int
	Backoff time.Duration
}

// NewFetcher creates a Fetcher with browser-like defaults.
func NewFetcher(name, userAgent string, timeout time.Duration) *Fetcher {
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Fetcher{
		Name:    name,
		Client:  &http.Client{Timeout: timeout},
		Headers: map[string]string{"User-Agent": userAgent},
		Retries: 2,
		Backoff: 500 * time.Millisecond,
	}
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: status %d", e.URL, e.StatusCode)
}

func retryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode == http.StatusTooManyRequests || se.StatusCode >= 500
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// Get fetches rawURL with query merged in and returns the body.
func (f *Fetcher) Get(ctx context.Context, rawURL string, query url.Values) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%s: parse url: %w", f.Name, err)
	}
	if len(query) > 0 {
		q := u.Query()
		for k, vs := range query {
			for _, v := range vs {
				q.Set(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	target := u.String()

	var lastErr error
	for attempt := 0; attempt <= f.Retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(f.Backoff * time.Duration(attempt)):
			}
		}

		start := time.Now()
		body, err := f.do(ctx, target)
		if err == nil {
			zap.L().Debug("provider request",
				zap.String("provider", f.Name),
				zap.String("url", target),
				zap.Duration("latency", time.Since(start)),
				zap.Int("bytes", len(body)))
			return body, nil
		}

		lastErr = err
		zap.L().Warn("provider request failed",
			zap.String("provider", f.Name),
			zap.String("url", target),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
		if !retryable(err) {
			break
		}
	}
	return nil, lastErr
}

func (f *Fetcher) do(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range f.Headers {
		req.Header.Set(k, v)
	}

	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return nil, &StatusError{URL: target, StatusCode: resp.StatusCode}
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
}
