package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/54b3r/retrieve-go/internal/version"
)

// DefaultWikipediaURL is the base of the Wikipedia REST API.
const DefaultWikipediaURL = "https://en.wikipedia.org"

// WikipediaSource fetches the plain-text extract of a random article.
type WikipediaSource struct {
	baseURL string
	client  *http.Client
}

// NewWikipediaSource returns a source rooted at baseURL (DefaultWikipediaURL
// when empty). A zero timeout means 10s.
func NewWikipediaSource(baseURL string, timeout time.Duration) *WikipediaSource {
	baseURL = strings.TrimRight(baseURL, "/")
	if baseURL == "" {
		baseURL = DefaultWikipediaURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WikipediaSource{baseURL: baseURL, client: &http.Client{Timeout: timeout}}
}

// summary is the subset of the page summary response we read.
type summary struct {
	Extract string `json:"extract"`
}

// Fetch returns the extract of one random page.
func (s *WikipediaSource) Fetch(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/api/rest_v1/page/random/summary", nil)
	if err != nil {
		return "", fmt.Errorf("%w: build request: %v", ErrFetchFailed, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
		return "", fmt.Errorf("%w: wikipedia returned HTTP %d", ErrFetchFailed, resp.StatusCode)
	}

	var sum summary
	if err := json.NewDecoder(resp.Body).Decode(&sum); err != nil {
		return "", fmt.Errorf("%w: decode summary: %v", ErrFetchFailed, err)
	}
	text := strings.TrimSpace(sum.Extract)
	if text == "" {
		return "", fmt.Errorf("%w: no extract found", ErrFetchFailed)
	}
	return text, nil
}
