// Package models contains the domain entities that flow through the pipeline.
package models

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// CollectedItem is one candidate piece of content pulled from a source.
// Immutable once written into a Collection blob.
type CollectedItem struct {
	ItemID      string    `json:"item_id"` // source-native identifier
	Source      string    `json:"source"`
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	Excerpt     string    `json:"excerpt,omitempty"`
	Score       int       `json:"score"`    // upvotes / favourites
	Comments    int       `json:"comments"` // replies / descendants
	FetchedAt   time.Time `json:"fetched_at"`
	ContentHash string    `json:"content_hash"`
}

// TopicID returns the stable content-hash identity of the item.
// Re-collection of the same source item always maps to the same topic,
// which is what makes the per-topic lease effective across runs.
func (i CollectedItem) TopicID() string {
	return HashTopicID(i.Source, i.ItemID)
}

// HashTopicID computes sha256(source + source-native id), hex encoded.
func HashTopicID(source, itemID string) string {
	sum := sha256.Sum256([]byte(source + ":" + itemID))
	return hex.EncodeToString(sum[:])
}

// HashContent computes the dedup hash over the normalized URL and title.
func HashContent(url, title string) string {
	normalized := normalizeURL(url) + "|" + strings.ToLower(strings.TrimSpace(title))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

func normalizeURL(raw string) string {
	u := strings.TrimSpace(strings.ToLower(raw))
	u = strings.TrimPrefix(u, "https://")
	u = strings.TrimPrefix(u, "http://")
	u = strings.TrimPrefix(u, "www.")
	// Strip tracking query params wholesale; the path identifies the article.
	if idx := strings.IndexByte(u, '?'); idx >= 0 {
		u = u[:idx]
	}
	return strings.TrimSuffix(u, "/")
}

// Collection is the audit record of one collector run. Written once to the
// collected-content container before any fanout message is sent.
type Collection struct {
	CollectionID  string          `json:"collection_id"`
	StartedAt     time.Time       `json:"started_at"`
	CompletedAt   time.Time       `json:"completed_at"`
	Sources       []string        `json:"sources"`
	Items         []CollectedItem `json:"items"`
	AcceptedCount int             `json:"accepted_count"`
	RejectedCount int             `json:"rejected_count"`
	DedupedCount  int             `json:"deduped_count"`
}

// BlobPath returns the deterministic audit path for this collection,
// e.g. "collections/2026/08/24/<id>.json".
func (c Collection) BlobPath() string {
	return "collections/" + c.StartedAt.UTC().Format("2006/01/02") + "/" + c.CollectionID + ".json"
}
