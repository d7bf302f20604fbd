package collector

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/curator-sh/curator/pkg/config"
	"github.com/curator-sh/curator/pkg/models"
)

// feedSource pulls an RSS 2.0 syndication feed. Feeds carry no engagement
// signals, so score and comments stay zero and the quality template for
// feeds weighs title and recency instead.
type feedSource struct {
	name       string
	endpoint   string
	limit      int
	httpClient *http.Client
}

func newFeedSource(name string, cfg *config.SourceConfig, client *http.Client) *feedSource {
	return &feedSource{
		name:       name,
		endpoint:   cfg.Endpoint,
		limit:      itemLimit(cfg),
		httpClient: client,
	}
}

func (s *feedSource) Name() string { return s.name }

func (s *feedSource) Close() error {
	s.httpClient.CloseIdleConnections()
	return nil
}

type rssDocument struct {
	Channel struct {
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
}

type rssItem struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	GUID        string `xml:"guid"`
	Description string `xml:"description"`
	PubDate     string `xml:"pubDate"`
}

// Fetch pulls and parses the feed.
func (s *feedSource) Fetch(ctx context.Context) ([]models.CollectedItem, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("fetching feed %s: %w", s.name, err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching feed %s: %w", s.name, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching feed %s: status %d", s.name, resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("reading feed %s: %w", s.name, err)
	}
	var doc rssDocument
	if err := xml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parsing feed %s: %w", s.name, err)
	}

	now := time.Now().UTC()
	entries := doc.Channel.Items
	if len(entries) > s.limit {
		entries = entries[:s.limit]
	}

	items := make([]models.CollectedItem, 0, len(entries))
	for _, entry := range entries {
		if entry.Title == "" || entry.Link == "" {
			continue
		}
		id := entry.GUID
		if id == "" {
			id = entry.Link
		}
		items = append(items, models.CollectedItem{
			ItemID:      id,
			Source:      s.name,
			Title:       entry.Title,
			URL:         entry.Link,
			Excerpt:     entry.Description,
			FetchedAt:   now,
			ContentHash: models.HashContent(entry.Link, entry.Title),
		})
	}
	return items, nil
}
