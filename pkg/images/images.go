// Package images selects illustrative stock photos for rendered articles.
// Configured sources sit behind a round-robin dispatcher with failover;
// running out of sources degrades gracefully to no image, never to a
// failed message.
package images

import (
	"context"
	"errors"
)

// Image is one selected stock photo.
type Image struct {
	URL        string `json:"url"`
	Thumbnail  string `json:"thumbnail,omitempty"`
	Credit     string `json:"credit,omitempty"`
	SourceName string `json:"source"`
}

// Source is one stock image provider.
type Source interface {
	// Name identifies the source in logs and round-robin accounting.
	Name() string

	// Search returns the best match for query, ErrNoResults when the
	// provider has nothing, or an error for rate-limit/transport trouble.
	Search(ctx context.Context, query string) (*Image, error)
}

// Sentinel errors for image selection.
var (
	// ErrNoResults indicates the provider found nothing for the query.
	ErrNoResults = errors.New("no image results")

	// ErrRateLimited indicates the provider rejected the call on quota.
	ErrRateLimited = errors.New("image source rate limited")

	// ErrAllSourcesExhausted indicates every configured source failed.
	ErrAllSourcesExhausted = errors.New("all image sources exhausted")
)
