package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/curator-sh/curator/pkg/config"
	"github.com/curator-sh/curator/pkg/models"
)

// forumSource pulls from a Hacker-News-style API: a story list endpoint
// returning ids, then one item fetch per id.
type forumSource struct {
	name       string
	endpoint   string
	list       string
	limit      int
	httpClient *http.Client
}

func newForumSource(name string, cfg *config.SourceConfig, client *http.Client) *forumSource {
	list := cfg.Identifier
	if list == "" {
		list = "topstories"
	}
	return &forumSource{
		name:       name,
		endpoint:   cfg.Endpoint,
		list:       list,
		limit:      itemLimit(cfg),
		httpClient: client,
	}
}

func (s *forumSource) Name() string { return s.name }

func (s *forumSource) Close() error {
	s.httpClient.CloseIdleConnections()
	return nil
}

type forumItem struct {
	ID          int    `json:"id"`
	Title       string `json:"title"`
	URL         string `json:"url"`
	Text        string `json:"text"`
	Score       int    `json:"score"`
	Descendants int    `json:"descendants"`
	Type        string `json:"type"`
	Dead        bool   `json:"dead"`
	Deleted     bool   `json:"deleted"`
}

// Fetch pulls the story list, then the first limit items. Individual item
// failures are logged and skipped; the fetch only fails when the list
// itself is unreachable.
func (s *forumSource) Fetch(ctx context.Context) ([]models.CollectedItem, error) {
	var ids []int
	if err := s.getJSON(ctx, fmt.Sprintf("%s/%s.json", s.endpoint, s.list), &ids); err != nil {
		return nil, fmt.Errorf("fetching %s story list: %w", s.name, err)
	}
	if len(ids) > s.limit {
		ids = ids[:s.limit]
	}

	now := time.Now().UTC()
	items := make([]models.CollectedItem, 0, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return items, err
		}
		var raw forumItem
		if err := s.getJSON(ctx, fmt.Sprintf("%s/item/%d.json", s.endpoint, id), &raw); err != nil {
			slog.Warn("Skipping unreachable forum item", "source", s.name, "item_id", id, "error", err)
			continue
		}
		if raw.Type != "story" || raw.Dead || raw.Deleted || raw.Title == "" {
			continue
		}
		url := raw.URL
		if url == "" {
			// Self posts link back to the discussion.
			url = fmt.Sprintf("%s/item?id=%d", s.endpoint, raw.ID)
		}
		items = append(items, models.CollectedItem{
			ItemID:      strconv.Itoa(raw.ID),
			Source:      s.name,
			Title:       raw.Title,
			URL:         url,
			Excerpt:     raw.Text,
			Score:       raw.Score,
			Comments:    raw.Descendants,
			FetchedAt:   now,
			ContentHash: models.HashContent(url, raw.Title),
		})
	}
	return items, nil
}

func (s *forumSource) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}
