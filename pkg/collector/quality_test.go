package collector

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/curator-sh/curator/pkg/config"
	"github.com/curator-sh/curator/pkg/models"
)

func forumTemplate() *config.QualityTemplate {
	return &config.QualityTemplate{
		MinScore:       50,
		MinComments:    10,
		MinTitleLength: 20,
		BlockedDomains: []string{"spam.example.com"},
		Threshold:      0.5,
	}
}

func TestCheckQualityAccepts(t *testing.T) {
	item := models.CollectedItem{
		Title:    "A long enough and informative article title",
		URL:      "https://news.example.com/article",
		Score:    180,
		Comments: 40,
	}
	assert.Equal(t, RejectReason(""), CheckQuality(item, forumTemplate()))
}

func TestCheckQualityBlockedDomain(t *testing.T) {
	item := models.CollectedItem{
		Title:    "A long enough and informative article title",
		URL:      "https://spam.example.com/offer",
		Score:    500,
		Comments: 100,
	}
	assert.Equal(t, RejectBlockedDomain, CheckQuality(item, forumTemplate()))
}

func TestCheckQualityShortTitle(t *testing.T) {
	item := models.CollectedItem{
		Title:    "Too short",
		URL:      "https://news.example.com/a",
		Score:    500,
		Comments: 100,
	}
	assert.Equal(t, RejectShortTitle, CheckQuality(item, forumTemplate()))
}

func TestCheckQualityLowEngagement(t *testing.T) {
	item := models.CollectedItem{
		Title:    "A long enough and informative article title",
		URL:      "https://news.example.com/a",
		Score:    10,
		Comments: 2,
	}
	assert.Equal(t, RejectLowEngagement, CheckQuality(item, forumTemplate()))
}

func TestCheckQualityBelowThreshold(t *testing.T) {
	// Meets the hard minimums exactly but scores under the threshold.
	item := models.CollectedItem{
		Title:    "Just barely long enough",
		URL:      "https://news.example.com/a",
		Score:    50,
		Comments: 10,
	}
	assert.Equal(t, RejectBelowThreshold, CheckQuality(item, forumTemplate()))
}

func TestQualityScoreMonotonicInEngagement(t *testing.T) {
	tmpl := forumTemplate()
	low := models.CollectedItem{Title: "A long enough and informative title", Score: 50, Comments: 10}
	high := models.CollectedItem{Title: "A long enough and informative title", Score: 300, Comments: 80}
	assert.Greater(t, QualityScore(high, tmpl), QualityScore(low, tmpl))
}

func TestQualityScoreFeedTemplate(t *testing.T) {
	// Feeds carry no engagement; the title component plus the flat base
	// must clear the feed threshold on a decent title.
	tmpl := &config.QualityTemplate{MinTitleLength: 20, Threshold: 0.3}
	item := models.CollectedItem{Title: "A reasonable syndicated article headline"}
	assert.GreaterOrEqual(t, QualityScore(item, tmpl), 0.3)
}

func TestQualityScoreBounded(t *testing.T) {
	tmpl := forumTemplate()
	item := models.CollectedItem{
		Title:    "An extremely long title that goes on and on well past the saturation point of the heuristic",
		Score:    1_000_000,
		Comments: 1_000_000,
	}
	score := QualityScore(item, tmpl)
	assert.LessOrEqual(t, score, 1.0)
	assert.GreaterOrEqual(t, score, 0.0)
}
