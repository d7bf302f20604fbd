package processor

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/curator-sh/curator/pkg/llm"
	"github.com/curator-sh/curator/pkg/pipeline"
)

const systemPrompt = `You are a technology editor writing well-researched articles for a curated site.
Write in clear, neutral prose. Cite the original discussion where relevant.
Respond with a single JSON object and nothing else:
{"title": string, "description": string (max 160 chars), "content": string (markdown body), "tags": [string] (3-6 lowercase tags)}`

// buildResearchPrompt assembles the drafting conversation from topic metadata.
func buildResearchPrompt(p *pipeline.TopicPayload) []llm.Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Write an article about the following topic.\n\n")
	fmt.Fprintf(&b, "Title: %s\n", p.Title)
	fmt.Fprintf(&b, "Source: %s\n", p.Source)
	fmt.Fprintf(&b, "URL: %s\n", p.URL)
	if p.Excerpt != "" {
		fmt.Fprintf(&b, "Excerpt: %s\n", p.Excerpt)
	}
	if p.Score > 0 || p.Comments > 0 {
		fmt.Fprintf(&b, "Engagement: %d points, %d comments\n", p.Score, p.Comments)
	}
	return []llm.Message{
		{Role: llm.RoleSystem, Content: systemPrompt},
		{Role: llm.RoleUser, Content: b.String()},
	}
}

const titleOptionsPrompt = `Propose 5 alternative titles for the article below.
Respond with a JSON array of strings and nothing else.

Article title: %s
Description: %s`

// buildTitleOptionsPrompt assembles the optional title-candidates call.
func buildTitleOptionsPrompt(title, description string) []llm.Message {
	return []llm.Message{
		{Role: llm.RoleUser, Content: fmt.Sprintf(titleOptionsPrompt, title, description)},
	}
}

// draft is the parsed generation output.
type draft struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Content     string   `json:"content"`
	Tags        []string `json:"tags"`
}

// parseDraft decodes the model's JSON response, tolerating code fences.
// A response that is not JSON at all falls back to using the whole text as
// the article body under the original topic title.
func parseDraft(raw, fallbackTitle string) (*draft, error) {
	cleaned := stripCodeFence(raw)
	var d draft
	if err := json.Unmarshal([]byte(cleaned), &d); err == nil && d.Content != "" {
		if d.Title == "" {
			d.Title = fallbackTitle
		}
		return &d, nil
	}
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("empty generation response")
	}
	return &draft{Title: fallbackTitle, Content: raw}, nil
}

// parseTitleOptions decodes the title-candidates response. Any parse failure
// returns nil: the call is best-effort and the draft title stands.
func parseTitleOptions(raw string) []string {
	var options []string
	if err := json.Unmarshal([]byte(stripCodeFence(raw)), &options); err != nil {
		return nil
	}
	return options
}

// selectTitle picks the best candidate by length heuristics: prefer 30-70
// chars, shortest within range wins, otherwise keep the current title.
func selectTitle(current string, options []string) string {
	best := ""
	for _, opt := range options {
		opt = strings.TrimSpace(opt)
		n := len(opt)
		if n < 30 || n > 70 {
			continue
		}
		if best == "" || n < len(best) {
			best = opt
		}
	}
	if best == "" {
		return current
	}
	return best
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
