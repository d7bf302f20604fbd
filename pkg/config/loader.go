package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Initialize loads, merges, and validates configuration from configDir.
//
// Steps performed:
//  1. Start from built-in defaults
//  2. Overlay curator.yaml (if present), env-expanded
//  3. Load sources.yaml (if present) and merge quality templates
//  4. Apply environment variable overrides
//  5. Validate
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg := defaultConfig()
	cfg.configDir = configDir

	if err := overlayYAML(filepath.Join(configDir, "curator.yaml"), cfg); err != nil {
		return nil, fmt.Errorf("loading curator.yaml: %w", err)
	}

	sources, quality, err := loadSources(filepath.Join(configDir, "sources.yaml"))
	if err != nil {
		return nil, fmt.Errorf("loading sources.yaml: %w", err)
	}
	cfg.Sources = sources
	cfg.qualityTemplates = mergeQualityTemplates(DefaultQualityTemplates(), quality)

	applyEnvOverrides(cfg)

	if err := NewValidator(cfg).ValidateAll(); err != nil {
		return nil, fmt.Errorf("configuration invalid: %w", err)
	}

	stats := cfg.Stats()
	log.Info("Configuration loaded",
		"sources", stats.Sources,
		"image_sources", stats.ImageSources)
	return cfg, nil
}

// overlayYAML merges a YAML file over cfg. A missing file is not an error.
func overlayYAML(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Debug("Config file not found, using defaults", "path", path)
			return nil
		}
		return err
	}

	var overlay Config
	if err := yaml.Unmarshal(ExpandEnv(data), &overlay); err != nil {
		return fmt.Errorf("parsing %s: %w", filepath.Base(path), err)
	}

	// Overlay wins over defaults wherever it sets a value.
	return mergo.Merge(cfg, &overlay, mergo.WithOverride)
}

func loadSources(path string) (map[string]*SourceConfig, map[string]*QualityTemplate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Debug("No sources.yaml found", "path", path)
			return map[string]*SourceConfig{}, nil, nil
		}
		return nil, nil, err
	}

	var parsed SourcesYAML
	if err := yaml.Unmarshal(ExpandEnv(data), &parsed); err != nil {
		return nil, nil, fmt.Errorf("parsing sources.yaml: %w", err)
	}
	if parsed.Sources == nil {
		parsed.Sources = map[string]*SourceConfig{}
	}
	return parsed.Sources, parsed.Quality, nil
}

func mergeQualityTemplates(builtin, user map[string]*QualityTemplate) map[string]*QualityTemplate {
	result := make(map[string]*QualityTemplate, len(builtin)+len(user))
	for name, tmpl := range builtin {
		cp := *tmpl
		result[name] = &cp
	}
	for name, tmpl := range user {
		cp := *tmpl
		result[name] = &cp
	}
	return result
}

// applyEnvOverrides applies the deployment knobs documented in the runbook.
// Environment always wins over YAML.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("AUTO_COLLECT_ON_STARTUP"); v != "" {
		cfg.Collector.AutoCollectOnStartup = v == "true" || v == "1"
	}
	if v := os.Getenv("PROCESSOR_RATE_LIMIT_PER_MIN"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Processor.RateLimitPerMin = n
		}
	}
	if v := os.Getenv("IMAGE_SOURCE_STRATEGY"); v != "" {
		cfg.Images.Strategy = ImageStrategy(v)
	}
	if v := os.Getenv("SITE_BUILD_OUTPUT_MAX_MB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Publisher.OutputMaxMB = n
		}
	}
	if v := os.Getenv("STABLE_EMPTY_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Renderer.StableEmpty = time.Duration(n) * time.Second
		}
	}
}
