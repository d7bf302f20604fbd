package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/curator-sh/curator/pkg/config"
	"github.com/curator-sh/curator/pkg/models"
)

// microblogSource pulls trending links from a Mastodon-style API
// (GET /api/v1/trends/links). Engagement comes from the trend history:
// accounts sharing and total uses over the tracked window.
type microblogSource struct {
	name       string
	endpoint   string
	limit      int
	httpClient *http.Client
}

func newMicroblogSource(name string, cfg *config.SourceConfig, client *http.Client) *microblogSource {
	return &microblogSource{
		name:       name,
		endpoint:   cfg.Endpoint,
		limit:      itemLimit(cfg),
		httpClient: client,
	}
}

func (s *microblogSource) Name() string { return s.name }

func (s *microblogSource) Close() error {
	s.httpClient.CloseIdleConnections()
	return nil
}

type trendLink struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	Description string `json:"description"`
	History     []struct {
		Accounts string `json:"accounts"`
		Uses     string `json:"uses"`
	} `json:"history"`
}

// Fetch pulls the trending link list.
func (s *microblogSource) Fetch(ctx context.Context) ([]models.CollectedItem, error) {
	url := fmt.Sprintf("%s/api/v1/trends/links?limit=%d", s.endpoint, s.limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("fetching %s trends: %w", s.name, err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s trends: %w", s.name, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching %s trends: status %d", s.name, resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("reading %s trends: %w", s.name, err)
	}
	var links []trendLink
	if err := json.Unmarshal(raw, &links); err != nil {
		return nil, fmt.Errorf("decoding %s trends: %w", s.name, err)
	}

	now := time.Now().UTC()
	items := make([]models.CollectedItem, 0, len(links))
	for _, link := range links {
		if link.Title == "" || link.URL == "" {
			continue
		}
		accounts, uses := trendTotals(link)
		items = append(items, models.CollectedItem{
			// Trends have no native id; the URL is the stable identity.
			ItemID:      link.URL,
			Source:      s.name,
			Title:       link.Title,
			URL:         link.URL,
			Excerpt:     link.Description,
			Score:       accounts,
			Comments:    uses,
			FetchedAt:   now,
			ContentHash: models.HashContent(link.URL, link.Title),
		})
	}
	return items, nil
}

func trendTotals(link trendLink) (accounts, uses int) {
	for _, h := range link.History {
		accounts += atoiSafe(h.Accounts)
		uses += atoiSafe(h.Uses)
	}
	return accounts, uses
}

func atoiSafe(s string) int {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return n
		}
		n = n*10 + int(r-'0')
	}
	return n
}
