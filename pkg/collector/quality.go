package collector

import (
	"strings"

	"github.com/curator-sh/curator/pkg/config"
	"github.com/curator-sh/curator/pkg/models"
)

// RejectReason explains why an item was dropped, recorded in logs and
// collection stats.
type RejectReason string

// Reject reasons.
const (
	RejectBlockedDomain  RejectReason = "blocked_domain"
	RejectShortTitle     RejectReason = "short_title"
	RejectLowEngagement  RejectReason = "low_engagement"
	RejectBelowThreshold RejectReason = "below_threshold"
)

// QualityScore computes the 0..1 combined quality score for an item under
// a template. The score blends normalized engagement with title length;
// feeds with no engagement signals lean entirely on the title component.
func QualityScore(item models.CollectedItem, tmpl *config.QualityTemplate) float64 {
	score := 0.0

	// Engagement component (0..0.7): saturates at 4x the template minimum.
	if tmpl.MinScore > 0 {
		ratio := float64(item.Score) / float64(tmpl.MinScore*4)
		if ratio > 1 {
			ratio = 1
		}
		score += 0.5 * ratio
	}
	if tmpl.MinComments > 0 {
		ratio := float64(item.Comments) / float64(tmpl.MinComments*4)
		if ratio > 1 {
			ratio = 1
		}
		score += 0.2 * ratio
	}
	if tmpl.MinScore == 0 && tmpl.MinComments == 0 {
		// No engagement signals for this source class.
		score += 0.5
	}

	// Title component (0..0.3): saturates at 80 chars.
	titleLen := float64(len(strings.TrimSpace(item.Title)))
	ratio := titleLen / 80
	if ratio > 1 {
		ratio = 1
	}
	score += 0.3 * ratio

	return score
}

// CheckQuality applies the template's hard gates and threshold, returning
// the reject reason or "" for acceptance.
func CheckQuality(item models.CollectedItem, tmpl *config.QualityTemplate) RejectReason {
	lowered := strings.ToLower(item.URL)
	for _, domain := range tmpl.BlockedDomains {
		if strings.Contains(lowered, strings.ToLower(domain)) {
			return RejectBlockedDomain
		}
	}
	if len(strings.TrimSpace(item.Title)) < tmpl.MinTitleLength {
		return RejectShortTitle
	}
	if item.Score < tmpl.MinScore || item.Comments < tmpl.MinComments {
		return RejectLowEngagement
	}
	if QualityScore(item, tmpl) < tmpl.Threshold {
		return RejectBelowThreshold
	}
	return ""
}
