package config

import "time"

// defaultConfig returns the complete built-in configuration. User YAML and
// environment overrides are merged on top of it.
func defaultConfig() *Config {
	return &Config{
		Queues: DefaultQueuesConfig(),
		Collector: &CollectorConfig{
			AutoCollectOnStartup: false,
			Interval:             6 * time.Hour,
			DedupWindow:          36 * time.Hour,
			FetchTimeout:         10 * time.Second,
			SendRetries:          3,
		},
		Processor: &ProcessorConfig{
			LeaseTTL:        5 * time.Minute,
			RateLimitPerMin: 60,
			TitleOptions:    true,
			DefaultCategory: "tech",
		},
		Renderer: &RendererConfig{
			StableEmpty:        30 * time.Second,
			DrainCheckInterval: 5 * time.Second,
		},
		Publisher: &PublisherConfig{
			SiteSourceDir:   "./site",
			GeneratorBinary: "hugo",
			OutputMaxMB:     200,
			BuildTimeout:    2 * time.Minute,
			ProgressEvery:   500,
		},
		LLM: &LLMConfig{
			Model:             "gpt-4o-mini",
			MaxTokens:         4096,
			Temperature:       0.7,
			RequestTimeout:    60 * time.Second,
			MaxAttempts:       3,
			InputCostPerMTok:  0.15,
			OutputCostPerMTok: 0.60,
		},
		Images: &ImagesConfig{
			Strategy:       ImageStrategyDualRoundRobin,
			RequestTimeout: 10 * time.Second,
		},
		Sources: map[string]*SourceConfig{},
	}
}
