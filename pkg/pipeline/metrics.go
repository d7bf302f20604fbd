package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus collectors shared by all stages. Registered on the default
// registry; exposed by the admin server on /metrics.
var (
	// MessagesProcessed counts handled messages by stage and outcome.
	MessagesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "curator",
		Name:      "messages_processed_total",
		Help:      "Queue messages handled, by stage and outcome.",
	}, []string{"stage", "status"})

	// QueueDepth tracks the visible depth of each queue at last poll.
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "curator",
		Name:      "queue_depth",
		Help:      "Visible messages per queue at last poll.",
	}, []string{"queue"})

	// LLMCostUSD accumulates spend against the LLM provider.
	LLMCostUSD = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "curator",
		Name:      "llm_cost_usd_total",
		Help:      "Cumulative LLM spend in USD.",
	})

	// RateLimitRejections counts acquire calls that missed their deadline.
	RateLimitRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "curator",
		Name:      "ratelimit_rejections_total",
		Help:      "Rate limiter acquisitions that timed out, by service.",
	}, []string{"service"})

	// SiteBuilds counts publisher build attempts by outcome.
	SiteBuilds = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "curator",
		Name:      "site_builds_total",
		Help:      "Site build attempts, by outcome.",
	}, []string{"status"})
)
