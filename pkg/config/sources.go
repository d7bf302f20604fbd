package config

// SourceType distinguishes the collector adapter used for a source.
type SourceType string

// Supported source types.
const (
	SourceTypeForum     SourceType = "forum"
	SourceTypeMicroblog SourceType = "microblog"
	SourceTypeFeed      SourceType = "feed"
)

// SourceConfig describes one third-party content source.
type SourceConfig struct {
	Type SourceType `yaml:"type"`

	// Endpoint is the API base URL (forum, microblog) or the feed URL.
	Endpoint string `yaml:"endpoint"`

	// Identifier scopes the fetch within the source, e.g. a forum story
	// list ("topstories"), a hashtag, or empty for feeds.
	Identifier string `yaml:"identifier"`

	// Limit caps the number of raw items pulled per cycle.
	Limit int `yaml:"limit"`

	// Quality names the quality template applied to this source's items.
	// Empty falls back to the "<type>-default" built-in template.
	Quality string `yaml:"quality"`
}

// QualityTemplateName returns the configured template name or the built-in
// default for the source type.
func (sc *SourceConfig) QualityTemplateName() string {
	if sc.Quality != "" {
		return sc.Quality
	}
	return string(sc.Type) + "-default"
}

// QualityTemplate holds source-class thresholds for the quality filter.
type QualityTemplate struct {
	// MinScore is the minimum engagement score (upvotes, favourites).
	MinScore int `yaml:"min_score"`

	// MinComments is the minimum discussion activity.
	MinComments int `yaml:"min_comments"`

	// MinTitleLength drops low-information titles.
	MinTitleLength int `yaml:"min_title_length"`

	// BlockedDomains are substring patterns rejected outright.
	BlockedDomains []string `yaml:"blocked_domains"`

	// Threshold is the minimum combined quality score for acceptance.
	Threshold float64 `yaml:"threshold"`
}

// SourcesYAML is the sources.yaml file structure.
type SourcesYAML struct {
	Sources map[string]*SourceConfig    `yaml:"sources"`
	Quality map[string]*QualityTemplate `yaml:"quality_templates"`
}

// DefaultQualityTemplates returns the built-in quality templates. User
// templates with the same name override these.
func DefaultQualityTemplates() map[string]*QualityTemplate {
	return map[string]*QualityTemplate{
		"forum-default": {
			MinScore:       50,
			MinComments:    10,
			MinTitleLength: 20,
			Threshold:      0.5,
		},
		"microblog-default": {
			MinScore:       20,
			MinComments:    5,
			MinTitleLength: 15,
			Threshold:      0.4,
		},
		"feed-default": {
			MinTitleLength: 20,
			Threshold:      0.3,
		},
	}
}
