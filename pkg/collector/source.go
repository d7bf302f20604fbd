// Package collector pulls candidate items from configured sources, filters
// them by quality, deduplicates against recent history, persists the audit
// collection, and fans out one work message per accepted item.
package collector

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/curator-sh/curator/pkg/config"
	"github.com/curator-sh/curator/pkg/models"
)

// Source is one third-party content adapter. Variants: forum, microblog,
// syndication feed.
type Source interface {
	// Name is the configured source name, stamped onto every item.
	Name() string

	// Fetch pulls up to the configured limit of raw items.
	Fetch(ctx context.Context) ([]models.CollectedItem, error)

	// Close releases the adapter's resources.
	Close() error
}

// NewSource builds the adapter for a source config.
func NewSource(name string, cfg *config.SourceConfig, timeout time.Duration) (Source, error) {
	client := &http.Client{Timeout: timeout}
	switch cfg.Type {
	case config.SourceTypeForum:
		return newForumSource(name, cfg, client), nil
	case config.SourceTypeMicroblog:
		return newMicroblogSource(name, cfg, client), nil
	case config.SourceTypeFeed:
		return newFeedSource(name, cfg, client), nil
	default:
		return nil, fmt.Errorf("unknown source type %q for source %s", cfg.Type, name)
	}
}

// itemLimit returns the configured fetch cap with a sane default.
func itemLimit(cfg *config.SourceConfig) int {
	if cfg.Limit > 0 {
		return cfg.Limit
	}
	return 30
}
