package config

import "time"

// Queue names. Q1 feeds the processor, Q2 the renderer, Q3 the publisher.
// The collection-requests queue exists for manual collector triggers.
const (
	QueueCollectionRequests = "collection-requests"
	QueueProcessing         = "content-processing-requests"
	QueueMarkdown           = "markdown-generation-requests"
	QueuePublishing         = "site-publishing-requests"
)

// Container names for the object store.
const (
	ContainerCollected = "collected-content"
	ContainerProcessed = "processed-content"
	ContainerMarkdown  = "markdown-content"
	ContainerWeb       = "$web"
	ContainerWebBackup = "$web-backup"
	ContainerLeases    = "leases"
)

// StageQueueConfig holds per-stage consumer settings.
type StageQueueConfig struct {
	// WorkerCount bounds per-replica parallelism (K messages in flight).
	WorkerCount int `yaml:"worker_count"`

	// VisibilityTimeout must exceed 2x the stage's p95 processing time.
	// A single large global default is deliberately not offered: it would
	// delay retry of genuinely failed messages on the fast stages.
	VisibilityTimeout time.Duration `yaml:"visibility_timeout"`

	// PollInterval is the base idle polling interval.
	PollInterval time.Duration `yaml:"poll_interval"`

	// PollIntervalJitter randomizes polling to de-synchronize replicas.
	PollIntervalJitter time.Duration `yaml:"poll_interval_jitter"`

	// HandlerTimeout bounds one message's processing. Kept below the
	// visibility timeout with slack so a slow handler cannot outlive
	// its own invisibility window.
	HandlerTimeout time.Duration `yaml:"handler_timeout"`
}

// QueuesConfig groups the consumer settings for every stage plus shutdown.
type QueuesConfig struct {
	Collector StageQueueConfig `yaml:"collector"`
	Processor StageQueueConfig `yaml:"processor"`
	Renderer  StageQueueConfig `yaml:"renderer"`
	Publisher StageQueueConfig `yaml:"publisher"`

	// GracefulShutdownTimeout is the grace window for in-flight messages.
	GracefulShutdownTimeout time.Duration `yaml:"graceful_shutdown_timeout"`
}

// DefaultQueuesConfig returns the built-in queue defaults. Visibility
// timeouts follow the per-stage table: 90s processor, 60s renderer,
// 180s publisher.
func DefaultQueuesConfig() *QueuesConfig {
	return &QueuesConfig{
		Collector: StageQueueConfig{
			// Collection runs fetch every configured source serially.
			WorkerCount:        1,
			VisibilityTimeout:  10 * time.Minute,
			PollInterval:       5 * time.Second,
			PollIntervalJitter: time.Second,
			HandlerTimeout:     9 * time.Minute,
		},
		Processor: StageQueueConfig{
			WorkerCount:        5,
			VisibilityTimeout:  90 * time.Second,
			PollInterval:       time.Second,
			PollIntervalJitter: 500 * time.Millisecond,
			HandlerTimeout:     80 * time.Second,
		},
		Renderer: StageQueueConfig{
			WorkerCount:        10,
			VisibilityTimeout:  60 * time.Second,
			PollInterval:       time.Second,
			PollIntervalJitter: 500 * time.Millisecond,
			HandlerTimeout:     50 * time.Second,
		},
		Publisher: StageQueueConfig{
			// Deployment invariant: the publisher runs a single replica
			// with a single worker. Builds are serial.
			WorkerCount:        1,
			VisibilityTimeout:  180 * time.Second,
			PollInterval:       2 * time.Second,
			PollIntervalJitter: time.Second,
			HandlerTimeout:     170 * time.Second,
		},
		GracefulShutdownTimeout: 25 * time.Second,
	}
}
