package validation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// ConnectivityResult is the outcome of one reachability probe.
type ConnectivityResult struct {
	Reachable  bool
	StatusCode int
	Message    string
	Latency    time.Duration
	Error      error
}

// ConnectivityChecker probes backend endpoints before the server starts.
type ConnectivityChecker struct {
	client  *http.Client
	timeout time.Duration
}

// NewConnectivityChecker creates a checker. A nil client gets a plain one
// with the timeout applied.
func NewConnectivityChecker(client *http.Client, timeout time.Duration) *ConnectivityChecker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &ConnectivityChecker{client: client, timeout: timeout}
}

// Check sends a HEAD request to rawURL. Any HTTP response counts as
// reachable; 4xx and 5xx mean the server is up but unhappy with us.
func (c *ConnectivityChecker) Check(ctx context.Context, rawURL string) ConnectivityResult {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ConnectivityResult{
			Message: "Invalid URL format",
			Error:   fmt.Errorf("invalid URL %q", rawURL),
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return ConnectivityResult{Message: "Failed to create request", Error: err}
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ConnectivityResult{
				Message: "Connection timed out",
				Latency: latency,
				Error:   fmt.Errorf("%s: no response after %v", u.Host, c.timeout),
			}
		}
		return ConnectivityResult{Message: "Connection failed", Latency: latency, Error: err}
	}
	resp.Body.Close()

	return ConnectivityResult{
		Reachable:  true,
		StatusCode: resp.StatusCode,
		Message:    fmt.Sprintf("reachable (status %d, %v)", resp.StatusCode, latency.Round(time.Millisecond)),
		Latency:    latency,
	}
}
