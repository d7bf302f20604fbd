package images

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/curator-sh/curator/pkg/config"
	"github.com/curator-sh/curator/pkg/ratelimit"
	"github.com/curator-sh/curator/pkg/version"
)

// HTTPSource is a stock photo provider speaking the common search shape
// (GET <endpoint>?query=...&per_page=1 with a JSON result list). Each
// source holds its own token bucket sized to the provider's documented
// free tier minus a safety margin; Search blocks cooperatively on it.
type HTTPSource struct {
	name       string
	endpoint   string
	apiKey     string
	limiter    *ratelimit.Limiter
	httpClient *http.Client
}

// NewHTTPSource builds a source from configuration.
func NewHTTPSource(cfg config.ImageSourceConfig, timeout time.Duration) (*HTTPSource, error) {
	apiKey := os.Getenv(cfg.APIKeyEnv)
	if apiKey == "" {
		return nil, fmt.Errorf("image source %s: api key env %s is empty", cfg.Name, cfg.APIKeyEnv)
	}
	// Hourly quota expressed as per-minute refill with a small burst.
	perMin := cfg.RequestsPerHour / 60
	if perMin < 1 {
		perMin = 1
	}
	return &HTTPSource{
		name:       cfg.Name,
		endpoint:   cfg.Endpoint,
		apiKey:     apiKey,
		limiter:    ratelimit.New("images-"+cfg.Name, perMin, 3),
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Name identifies the source.
func (s *HTTPSource) Name() string { return s.name }

// Stats exposes the limiter state for /status.
func (s *HTTPSource) Stats() ratelimit.Stats { return s.limiter.Stats() }

type searchResponse struct {
	Results []struct {
		URL       string `json:"url"`
		Thumbnail string `json:"thumbnail"`
		Credit    string `json:"credit"`
	} `json:"results"`
}

// Search returns the best match for query.
func (s *HTTPSource) Search(ctx context.Context, query string) (*Image, error) {
	if !s.limiter.Acquire(ctx, 1) {
		return nil, fmt.Errorf("image source %s: %w", s.name, ErrRateLimited)
	}

	u := fmt.Sprintf("%s?query=%s&per_page=1", s.endpoint, url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("image source %s: building request: %w", s.name, err)
	}
	req.Header.Set("Authorization", s.apiKey)
	req.Header.Set("User-Agent", version.Full())

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("image source %s: transport: %w", s.name, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("image source %s: %w", s.name, ErrRateLimited)
	default:
		return nil, fmt.Errorf("image source %s: status %d", s.name, resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("image source %s: reading response: %w", s.name, err)
	}

	var parsed searchResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("image source %s: decoding response: %w", s.name, err)
	}
	if len(parsed.Results) == 0 {
		return nil, fmt.Errorf("image source %s: %w", s.name, ErrNoResults)
	}

	r := parsed.Results[0]
	return &Image{
		URL:        r.URL,
		Thumbnail:  r.Thumbnail,
		Credit:     r.Credit,
		SourceName: s.name,
	}, nil
}
