// Package config loads, merges, and validates curator configuration.
//
// Configuration comes from three layers, later layers winning:
//  1. built-in defaults
//  2. YAML files in the config directory (curator.yaml, sources.yaml)
//  3. environment variables (the deployment knobs from the runbook)
package config

import "time"

// Config is the umbrella configuration object returned by Initialize().
// It is immutable after Initialize returns; stages receive it by pointer
// and never mutate it.
type Config struct {
	configDir string

	Queues    *QueuesConfig    `yaml:"queues"`
	Collector *CollectorConfig `yaml:"collector"`
	Processor *ProcessorConfig `yaml:"processor"`
	Renderer  *RendererConfig  `yaml:"renderer"`
	Publisher *PublisherConfig `yaml:"publisher"`
	LLM       *LLMConfig       `yaml:"llm"`
	Images    *ImagesConfig    `yaml:"images"`

	// Sources is loaded from sources.yaml, keyed by source name.
	Sources map[string]*SourceConfig `yaml:"-"`

	qualityTemplates map[string]*QualityTemplate
}

// ConfigDir returns the configuration directory path.
func (c *Config) ConfigDir() string { return c.configDir }

// GetQualityTemplate retrieves a quality template by name.
func (c *Config) GetQualityTemplate(name string) (*QualityTemplate, error) {
	tmpl, ok := c.qualityTemplates[name]
	if !ok {
		return nil, &NotFoundError{Kind: "quality template", Name: name}
	}
	return tmpl, nil
}

// Stats contains counts of loaded configuration for startup logging.
type Stats struct {
	Sources      int
	ImageSources int
}

// Stats returns configuration statistics.
func (c *Config) Stats() Stats {
	s := Stats{Sources: len(c.Sources)}
	if c.Images != nil {
		s.ImageSources = len(c.Images.Sources)
	}
	return s
}

// CollectorConfig controls the collection stage.
type CollectorConfig struct {
	// AutoCollectOnStartup runs one collection when the replica boots.
	AutoCollectOnStartup bool `yaml:"auto_collect_on_startup"`

	// Interval between scheduled collection runs. Zero disables the timer.
	Interval time.Duration `yaml:"interval"`

	// DedupWindow is the rolling window of prior collections consulted
	// for duplicate suppression.
	DedupWindow time.Duration `yaml:"dedup_window"`

	// FetchTimeout bounds each source API call.
	FetchTimeout time.Duration `yaml:"fetch_timeout"`

	// SendRetries bounds per-message fanout retries.
	SendRetries int `yaml:"send_retries"`
}

// ProcessorConfig controls the article generation stage.
type ProcessorConfig struct {
	// LeaseTTL must be at least twice the p95 generation time.
	LeaseTTL time.Duration `yaml:"lease_ttl"`

	// RateLimitPerMin is the per-replica LLM quota. Size it conservatively
	// against replica count x provider ceiling.
	RateLimitPerMin int `yaml:"rate_limit_per_min"`

	// TitleOptions enables the extra title-candidates LLM call.
	TitleOptions bool `yaml:"title_options"`

	// Category assigned to generated articles.
	DefaultCategory string `yaml:"default_category"`
}

// RendererConfig controls the markdown stage.
type RendererConfig struct {
	// StableEmptySeconds is how long Q2 must stay empty before one
	// coalesced build message is emitted.
	StableEmpty time.Duration `yaml:"stable_empty"`

	// DrainCheckInterval is how often the drain monitor polls queue depth.
	DrainCheckInterval time.Duration `yaml:"drain_check_interval"`
}

// PublisherConfig controls the site build + swap stage.
type PublisherConfig struct {
	// SiteSourceDir holds the pinned site-generator skeleton (config, theme).
	SiteSourceDir string `yaml:"site_source_dir"`

	// GeneratorBinary is the static site generator executable.
	GeneratorBinary string `yaml:"generator_binary"`

	// OutputMaxMB refuses deployment beyond this total output size.
	OutputMaxMB int `yaml:"output_max_mb"`

	// BuildTimeout bounds the generator subprocess.
	BuildTimeout time.Duration `yaml:"build_timeout"`

	// ProgressEvery controls progress logging during copy/upload loops.
	ProgressEvery int `yaml:"progress_every"`

	// SiteURL is reported in deployment results.
	SiteURL string `yaml:"site_url"`
}
