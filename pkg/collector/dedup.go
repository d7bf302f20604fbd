package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/curator-sh/curator/pkg/config"
	"github.com/curator-sh/curator/pkg/models"
	"github.com/curator-sh/curator/pkg/storage"
)

// historyIndex holds the content hashes of every item collected within the
// rolling dedup window, rebuilt from the persisted collection blobs at the
// start of each run.
type historyIndex struct {
	hashes map[string]struct{}
}

// loadHistory scans the collected-content container for collection blobs
// dated inside the window and indexes their item hashes. Blobs that fail to
// load or decode are skipped with a warning: a partial index only risks a
// duplicate article, never a lost one.
func loadHistory(ctx context.Context, store storage.Store, window time.Duration, now time.Time) (*historyIndex, error) {
	idx := &historyIndex{hashes: make(map[string]struct{})}

	names, err := store.List(ctx, config.ContainerCollected, "collections/")
	if err != nil {
		return nil, fmt.Errorf("listing collection history: %w", err)
	}

	cutoff := now.Add(-window)
	for _, name := range names {
		day, ok := collectionDay(name)
		if !ok {
			continue
		}
		// Compare at day granularity; the cutoff day itself stays in.
		if day.Before(cutoff.Truncate(24 * time.Hour)) {
			continue
		}

		blob, err := store.Get(ctx, config.ContainerCollected, name)
		if err != nil {
			slog.Warn("Skipping unreadable collection blob", "blob", name, "error", err)
			continue
		}
		var coll models.Collection
		if err := json.Unmarshal(blob.Data, &coll); err != nil {
			slog.Warn("Skipping malformed collection blob", "blob", name, "error", err)
			continue
		}
		for _, item := range coll.Items {
			if item.ContentHash != "" {
				idx.hashes[item.ContentHash] = struct{}{}
			}
		}
	}
	return idx, nil
}

// Seen reports whether an equivalent item was collected inside the window.
func (h *historyIndex) Seen(item models.CollectedItem) bool {
	_, ok := h.hashes[item.ContentHash]
	return ok
}

// Add marks an item's hash so later items in the same run dedup against it.
func (h *historyIndex) Add(item models.CollectedItem) {
	if item.ContentHash != "" {
		h.hashes[item.ContentHash] = struct{}{}
	}
}

func (h *historyIndex) Len() int { return len(h.hashes) }

// collectionDay parses the date out of a collections/YYYY/MM/DD/<id>.json
// blob name.
func collectionDay(name string) (time.Time, bool) {
	parts := strings.Split(name, "/")
	if len(parts) != 5 || parts[0] != "collections" {
		return time.Time{}, false
	}
	day, err := time.Parse("2006/01/02", strings.Join(parts[1:4], "/"))
	if err != nil {
		return time.Time{}, false
	}
	return day, true
}
