package config

import (
	"errors"
	"fmt"
)

// Validator validates configuration with clear error messages.
// Validation is fail-fast: it stops at the first error.
type Validator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration.
func NewValidator(cfg *Config) *Validator {
	return &Validator{cfg: cfg}
}

// ValidateAll performs comprehensive validation. Order: queues first (every
// stage depends on them), then stage configs, then sources.
func (v *Validator) ValidateAll() error {
	if err := v.validateQueues(); err != nil {
		return fmt.Errorf("queue validation failed: %w", err)
	}
	if err := v.validateStages(); err != nil {
		return fmt.Errorf("stage validation failed: %w", err)
	}
	if err := v.validateImages(); err != nil {
		return fmt.Errorf("image source validation failed: %w", err)
	}
	return v.validateSources()
}

func (v *Validator) validateQueues() error {
	stages := map[string]*StageQueueConfig{
		"collector": &v.cfg.Queues.Collector,
		"processor": &v.cfg.Queues.Processor,
		"renderer":  &v.cfg.Queues.Renderer,
		"publisher": &v.cfg.Queues.Publisher,
	}
	for name, sq := range stages {
		if sq.WorkerCount < 1 {
			return &ValidationError{Section: "queues", Name: name, Field: "worker_count",
				Err: errors.New("must be at least 1")}
		}
		if sq.VisibilityTimeout <= 0 {
			return &ValidationError{Section: "queues", Name: name, Field: "visibility_timeout",
				Err: errors.New("must be positive")}
		}
		if sq.HandlerTimeout >= sq.VisibilityTimeout {
			return &ValidationError{Section: "queues", Name: name, Field: "handler_timeout",
				Err: errors.New("must be below visibility_timeout; a handler outliving its invisibility window guarantees duplicate delivery")}
		}
	}
	if v.cfg.Queues.Publisher.WorkerCount != 1 {
		return &ValidationError{Section: "queues", Name: "publisher", Field: "worker_count",
			Err: errors.New("publisher is serial; worker_count must be exactly 1")}
	}
	return nil
}

func (v *Validator) validateStages() error {
	if v.cfg.Processor.LeaseTTL <= 0 {
		return &ValidationError{Section: "processor", Field: "lease_ttl",
			Err: errors.New("must be positive")}
	}
	if v.cfg.Processor.RateLimitPerMin < 1 {
		return &ValidationError{Section: "processor", Field: "rate_limit_per_min",
			Err: errors.New("must be at least 1")}
	}
	if v.cfg.Renderer.StableEmpty <= 0 {
		return &ValidationError{Section: "renderer", Field: "stable_empty",
			Err: errors.New("must be positive")}
	}
	if v.cfg.Publisher.OutputMaxMB < 1 {
		return &ValidationError{Section: "publisher", Field: "output_max_mb",
			Err: errors.New("must be at least 1")}
	}
	if v.cfg.Publisher.GeneratorBinary == "" {
		return &ValidationError{Section: "publisher", Field: "generator_binary",
			Err: errors.New("must name the site generator executable")}
	}
	return nil
}

func (v *Validator) validateImages() error {
	switch v.cfg.Images.Strategy {
	case ImageStrategySourceAOnly, ImageStrategySourceBOnly, ImageStrategyDualRoundRobin:
	default:
		return &ValidationError{Section: "images", Field: "strategy",
			Err: fmt.Errorf("unknown strategy %q", v.cfg.Images.Strategy)}
	}
	for _, src := range v.cfg.Images.Sources {
		if src.Name == "" {
			return &ValidationError{Section: "images", Field: "name",
				Err: errors.New("image source requires a name")}
		}
		if src.Endpoint == "" {
			return &ValidationError{Section: "images", Name: src.Name, Field: "endpoint",
				Err: errors.New("required")}
		}
		if src.RequestsPerHour < 1 {
			return &ValidationError{Section: "images", Name: src.Name, Field: "requests_per_hour",
				Err: errors.New("must be at least 1")}
		}
	}
	return nil
}

func (v *Validator) validateSources() error {
	for name, src := range v.cfg.Sources {
		switch src.Type {
		case SourceTypeForum, SourceTypeMicroblog, SourceTypeFeed:
		default:
			return &ValidationError{Section: "source", Name: name, Field: "type",
				Err: fmt.Errorf("unknown source type %q", src.Type)}
		}
		if src.Endpoint == "" {
			return &ValidationError{Section: "source", Name: name, Field: "endpoint",
				Err: errors.New("required")}
		}
		if src.Quality != "" {
			if _, err := v.cfg.GetQualityTemplate(src.Quality); err != nil {
				return &ValidationError{Section: "source", Name: name, Field: "quality", Err: err}
			}
		}
	}
	return nil
}
