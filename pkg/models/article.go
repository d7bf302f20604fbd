package models

import "time"

// ProvenanceEntry is one audit step in an article's lineage. Each stage
// appends its own entry; the ordered chain travels inside ProcessedArticle.
type ProvenanceEntry struct {
	Stage       string    `json:"stage"`
	ProcessorID string    `json:"processor_id"`
	Version     string    `json:"version"`
	Timestamp   time.Time `json:"timestamp"`
	CostUSD     float64   `json:"cost_usd,omitempty"`
	Tokens      int       `json:"tokens,omitempty"`
}

// Reference is a cited source inside an article.
type Reference struct {
	Source string `json:"source"`
	URL    string `json:"url"`
}

// ProcessedArticle is the AI-generated article plus metadata, written once
// to the processed-content container and never mutated.
type ProcessedArticle struct {
	ArticleID    string            `json:"article_id"` // topic_id of the originating item
	Title        string            `json:"title"`
	Slug         string            `json:"slug"`
	Description  string            `json:"description,omitempty"`
	Content      string            `json:"content"`
	Tags         []string          `json:"tags,omitempty"`
	Category     string            `json:"category"`
	Source       string            `json:"source"`
	SourceURL    string            `json:"source_url"`
	References   []Reference       `json:"references,omitempty"`
	CostUSD      float64           `json:"cost_usd"`
	Tokens       int               `json:"tokens"`
	QualityScore float64           `json:"quality_score"`
	GeneratedAt  time.Time         `json:"generated_at"`
	Provenance   []ProvenanceEntry `json:"provenance"`
}

// BlobPath returns the deterministic done-marker path,
// e.g. "articles/2026/08/<slug>.json". Existence of this blob is the
// idempotency check for at-most-once generation.
func (a ProcessedArticle) BlobPath() string {
	return ArticleBlobPath(a.GeneratedAt, a.Slug)
}

// ArticleBlobPath builds the processed-article path for a given month and slug.
func ArticleBlobPath(t time.Time, slug string) string {
	return "articles/" + t.UTC().Format("2006/01") + "/" + slug + ".json"
}

// FrontMatter is the YAML front-matter schema for rendered markdown.
type FrontMatter struct {
	Title        string            `yaml:"title"`
	Date         time.Time         `yaml:"date"`
	Source       string            `yaml:"source"`
	Tags         []string          `yaml:"tags"`
	Description  string            `yaml:"description,omitempty"`
	HeroImage    string            `yaml:"hero_image,omitempty"`
	Thumbnail    string            `yaml:"thumbnail,omitempty"`
	ImageCredit  string            `yaml:"image_credit,omitempty"`
	Audio        map[string]string `yaml:"audio,omitempty"`
	AudioSeconds int               `yaml:"audio_duration_seconds,omitempty"`
	References   []Reference       `yaml:"references,omitempty"`
}

// MarkdownBlobPath builds the markdown-content path,
// e.g. "<category>/2026/<slug>.md".
func MarkdownBlobPath(category string, t time.Time, slug string) string {
	return category + "/" + t.UTC().Format("2006") + "/" + slug + ".md"
}

// FailureRecord is the operator-visible blob written when a topic fails
// permanently. It terminates the poison-message loop for that topic.
type FailureRecord struct {
	TopicID       string    `json:"topic_id"`
	CorrelationID string    `json:"correlation_id"`
	Stage         string    `json:"stage"`
	Reason        string    `json:"reason"`
	FailedAt      time.Time `json:"failed_at"`
}

// FailureBlobPath returns the path for a topic's failure record.
func FailureBlobPath(topicID string) string {
	return "failures/" + topicID + ".json"
}
