package e2e

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

// ForumStory is a fixture item served by StartForumServer. Zero-value Type
// defaults to "story".
type ForumStory struct {
	ID          int
	Title       string
	URL         string
	Text        string
	Score       int
	Descendants int
	Type        string
	Dead        bool
	Deleted     bool
}

// StartForumServer serves the Hacker-News-style API shape: a story id list
// at /<list>.json plus one item document per id at /item/<id>.json.
func StartForumServer(t *testing.T, stories []ForumStory) *httptest.Server {
	t.Helper()

	byID := make(map[int]ForumStory, len(stories))
	ids := make([]int, 0, len(stories))
	for _, s := range stories {
		if s.Type == "" {
			s.Type = "story"
		}
		byID[s.ID] = s
		ids = append(ids, s.ID)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if after, ok := strings.CutPrefix(r.URL.Path, "/item/"); ok {
			var id int
			if _, err := fmt.Sscanf(after, "%d.json", &id); err != nil {
				http.NotFound(w, r)
				return
			}
			s, ok := byID[id]
			if !ok {
				http.NotFound(w, r)
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"id":          s.ID,
				"title":       s.Title,
				"url":         s.URL,
				"text":        s.Text,
				"score":       s.Score,
				"descendants": s.Descendants,
				"type":        s.Type,
				"dead":        s.Dead,
				"deleted":     s.Deleted,
			})
			return
		}
		if strings.HasSuffix(r.URL.Path, ".json") {
			_ = json.NewEncoder(w).Encode(ids)
			return
		}
		http.NotFound(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// FeedEntry is a fixture item served by StartFeedServer.
type FeedEntry struct {
	Title       string
	Link        string
	GUID        string
	Description string
}

// StartFeedServer serves the entries as an RSS 2.0 document.
func StartFeedServer(t *testing.T, entries []FeedEntry) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		var b strings.Builder
		b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
		b.WriteString("<rss version=\"2.0\"><channel>\n")
		b.WriteString("<title>Fixture Feed</title>\n")
		for _, e := range entries {
			b.WriteString("<item>")
			fmt.Fprintf(&b, "<title>%s</title>", xmlEscape(e.Title))
			fmt.Fprintf(&b, "<link>%s</link>", xmlEscape(e.Link))
			if e.GUID != "" {
				fmt.Fprintf(&b, "<guid>%s</guid>", xmlEscape(e.GUID))
			}
			if e.Description != "" {
				fmt.Fprintf(&b, "<description>%s</description>", xmlEscape(e.Description))
			}
			b.WriteString("</item>\n")
		}
		b.WriteString("</channel></rss>\n")
		_, _ = w.Write([]byte(b.String()))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func xmlEscape(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return r.Replace(s)
}

// TrendLink is a fixture item served by StartMicroblogServer. Accounts and
// Uses are split across two history days, matching real trend payloads.
type TrendLink struct {
	URL         string
	Title       string
	Description string
	Accounts    int
	Uses        int
}

// StartMicroblogServer serves the Mastodon-style trending links API.
func StartMicroblogServer(t *testing.T, links []TrendLink) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/trends/links" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		out := make([]map[string]any, 0, len(links))
		for _, l := range links {
			out = append(out, map[string]any{
				"url":         l.URL,
				"title":       l.Title,
				"description": l.Description,
				"history": []map[string]string{
					{"accounts": fmt.Sprint(l.Accounts / 2), "uses": fmt.Sprint(l.Uses / 2)},
					{"accounts": fmt.Sprint(l.Accounts - l.Accounts/2), "uses": fmt.Sprint(l.Uses - l.Uses/2)},
				},
			})
		}
		_ = json.NewEncoder(w).Encode(out)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// StartImageServer serves the stock-photo search shape with a deterministic
// image derived from the query, so rendered front matter is assertable.
func StartImageServer(t *testing.T) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query().Get("query")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]string{{
				"url":       "https://img.example.test/full/" + url.PathEscape(query) + ".jpg",
				"thumbnail": "https://img.example.test/thumb/" + url.PathEscape(query) + ".jpg",
				"credit":    "Fixture Photographer",
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}
