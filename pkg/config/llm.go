package config

import "time"

// LLMConfig describes the article-generation provider. The pipeline speaks
// the OpenAI-compatible chat completions API; any provider exposing it works.
type LLMConfig struct {
	// BaseURL of the chat completions API, without trailing path.
	BaseURL string `yaml:"base_url"`

	// APIKeyEnv names the environment variable holding the API key.
	// The key itself never appears in YAML.
	APIKeyEnv string `yaml:"api_key_env"`

	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`

	// RequestTimeout bounds one completion call.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// MaxAttempts bounds retries for 429s and transport errors.
	MaxAttempts int `yaml:"max_attempts"`

	// Cost accounting per million tokens, used for provenance entries.
	InputCostPerMTok  float64 `yaml:"input_cost_per_mtok"`
	OutputCostPerMTok float64 `yaml:"output_cost_per_mtok"`
}

// ImageSourceConfig describes one stock image provider.
type ImageSourceConfig struct {
	Name string `yaml:"name"`

	// Endpoint is the search API base URL.
	Endpoint string `yaml:"endpoint"`

	// APIKeyEnv names the environment variable holding the API key.
	APIKeyEnv string `yaml:"api_key_env"`

	// RequestsPerHour sizes the token bucket to the documented free tier
	// minus a safety margin.
	RequestsPerHour int `yaml:"requests_per_hour"`
}

// ImageStrategy selects which sources the round-robin dispatcher uses.
type ImageStrategy string

// Image source strategies.
const (
	ImageStrategySourceAOnly    ImageStrategy = "source-a-only"
	ImageStrategySourceBOnly    ImageStrategy = "source-b-only"
	ImageStrategyDualRoundRobin ImageStrategy = "dual-roundrobin"
)

// ImagesConfig groups stock image settings for the renderer.
type ImagesConfig struct {
	Strategy ImageStrategy       `yaml:"strategy"`
	Sources  []ImageSourceConfig `yaml:"sources"`

	// RequestTimeout bounds one image search call.
	RequestTimeout time.Duration `yaml:"request_timeout"`
}
