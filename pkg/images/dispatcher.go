package images

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/curator-sh/curator/pkg/config"
)

// Dispatcher rotates queries across sources round-robin so free-tier quotas
// wear evenly, and fails over to the next source on rate-limit or transport
// errors regardless of schedule.
type Dispatcher struct {
	mu      sync.Mutex
	sources []Source
	next    int
}

// NewDispatcher builds the dispatcher from configuration, honoring the
// strategy env switch. With the single-source strategies the "other"
// source is simply not loaded.
func NewDispatcher(cfg *config.ImagesConfig) (*Dispatcher, error) {
	if len(cfg.Sources) == 0 {
		return &Dispatcher{}, nil
	}

	selected := cfg.Sources
	switch cfg.Strategy {
	case config.ImageStrategySourceAOnly:
		selected = cfg.Sources[:1]
	case config.ImageStrategySourceBOnly:
		if len(cfg.Sources) > 1 {
			selected = cfg.Sources[1:2]
		}
	case config.ImageStrategyDualRoundRobin:
		// all configured sources
	}

	sources := make([]Source, 0, len(selected))
	for _, sc := range selected {
		src, err := NewHTTPSource(sc, cfg.RequestTimeout)
		if err != nil {
			return nil, fmt.Errorf("configuring image sources: %w", err)
		}
		sources = append(sources, src)
	}
	return &Dispatcher{sources: sources}, nil
}

// NewDispatcherFromSources wires explicit sources (test hook).
func NewDispatcherFromSources(sources ...Source) *Dispatcher {
	return &Dispatcher{sources: sources}
}

// Enabled reports whether any source is configured.
func (d *Dispatcher) Enabled() bool { return len(d.sources) > 0 }

// Select finds an image for query, trying each source once starting from
// the round-robin cursor. Per-source outcomes are logged; only total
// exhaustion is reported, and callers degrade to no image on it.
func (d *Dispatcher) Select(ctx context.Context, query string) (*Image, error) {
	if len(d.sources) == 0 {
		return nil, ErrAllSourcesExhausted
	}

	start := d.advance()
	var lastErr error
	for i := 0; i < len(d.sources); i++ {
		src := d.sources[(start+i)%len(d.sources)]

		begin := time.Now()
		img, err := src.Search(ctx, query)
		if err == nil {
			slog.Debug("Image selected",
				"source", src.Name(), "query", query, "elapsed", time.Since(begin))
			return img, nil
		}

		lastErr = err
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		slog.Warn("Image source failed, trying next",
			"source", src.Name(), "query", query, "error", err)
	}
	return nil, fmt.Errorf("%w: %w", ErrAllSourcesExhausted, lastErr)
}

func (d *Dispatcher) advance() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	cur := d.next
	d.next = (d.next + 1) % max(len(d.sources), 1)
	return cur
}
