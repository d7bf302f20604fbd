// Package ratelimit wraps a token bucket behind the blocking-acquire
// contract the external-API clients share. Limiters are process-local:
// replicas do not share quota, so each replica's rate must be sized
// conservatively against replica count times the provider ceiling.
package ratelimit

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/curator-sh/curator/pkg/pipeline"
)

// Limiter is a token-bucket rate limiter keyed to one external service.
type Limiter struct {
	service    string
	bucket     *rate.Limiter
	rejections atomic.Int64
}

// Stats is a point-in-time view of the limiter.
type Stats struct {
	Service          string  `json:"service"`
	TokensAvailable  float64 `json:"tokens_available"`
	RefillPerSecond  float64 `json:"refill_per_second"`
	RecentRejections int64   `json:"recent_rejections"`
}

// New creates a limiter refilling at ratePerMin tokens per minute with the
// given burst capacity.
func New(service string, ratePerMin int, burst int) *Limiter {
	if burst < 1 {
		burst = 1
	}
	refill := rate.Limit(float64(ratePerMin) / 60.0)
	return &Limiter{
		service: service,
		bucket:  rate.NewLimiter(refill, burst),
	}
}

// Acquire blocks cooperatively until tokens are available or ctx is done.
// A missed deadline returns false rather than an error: callers treat an
// exhausted quota as backpressure, not as a failure to report upward.
func (l *Limiter) Acquire(ctx context.Context, tokens int) bool {
	if err := l.bucket.WaitN(ctx, tokens); err != nil {
		l.rejections.Add(1)
		pipeline.RateLimitRejections.WithLabelValues(l.service).Inc()
		return false
	}
	return true
}

// AcquireWithin is Acquire bounded by an explicit deadline.
func (l *Limiter) AcquireWithin(ctx context.Context, tokens int, deadline time.Duration) bool {
	waitCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()
	return l.Acquire(waitCtx, tokens)
}

// Stats returns current limiter state.
func (l *Limiter) Stats() Stats {
	return Stats{
		Service:          l.service,
		TokensAvailable:  l.bucket.Tokens(),
		RefillPerSecond:  float64(l.bucket.Limit()),
		RecentRejections: l.rejections.Load(),
	}
}
