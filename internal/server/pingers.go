package server

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// HTTPPinger checks an HTTP dependency, such as the embedding endpoint, with
// a GET against its base URL. Any response below 500 counts as reachable; a
// ping never spends an embedding call.
type HTTPPinger struct {
	// name identifies the dependency in readiness responses.
	name string
	// url is the address checked.
	url string
	// client performs the check.
	client *http.Client
}

// NewHTTPPinger constructs an HTTPPinger for url.
func NewHTTPPinger(name, url string) *HTTPPinger {
	return &HTTPPinger{
		name:   name,
		url:    url,
		client: &http.Client{Timeout: pingTimeout},
	}
}

// Name returns the dependency label used in readiness responses.
func (p *HTTPPinger) Name() string { return p.name }

// Ping issues the GET and discards the body.
func (p *HTTPPinger) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return fmt.Errorf("build ping request: %w", err)
	}
	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("unreachable after %s: %w", time.Since(start).Round(time.Millisecond), err)
	}
	resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}
