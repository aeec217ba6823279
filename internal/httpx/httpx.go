// Package httpx provides a shared HTTP client with bounded timeout and a
// single retry after a fixed backoff delay, used by the tile store's
// upstream fetch.
package httpx

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client wraps http.Client with a fixed per-request timeout and one retry.
type Client struct {
	http       *http.Client
	timeout    time.Duration
	retryDelay time.Duration
}

// New builds a Client with the given per-attempt timeout. The retry delay
// defaults to a fixed backoff of half the timeout, capped at 2s.
func New(timeout time.Duration) *Client {
	delay := timeout / 2
	if delay > 2*time.Second {
		delay = 2 * time.Second
	}
	return &Client{
		http:       &http.Client{Timeout: timeout},
		timeout:    timeout,
		retryDelay: delay,
	}
}

// Get fetches url and returns the response body, retrying once after a
// backoff delay on any transport error or non-2xx status.
func (c *Client) Get(ctx context.Context, url string) ([]byte, error) {
	body, err := c.attempt(ctx, url)
	if err == nil {
		return body, nil
	}

	select {
	case <-time.After(c.retryDelay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	body, err2 := c.attempt(ctx, url)
	if err2 != nil {
		return nil, fmt.Errorf("fetch %q failed after retry: %w (first attempt: %v)", url, err2, err)
	}
	return body, nil
}

func (c *Client) attempt(ctx context.Context, url string) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}
