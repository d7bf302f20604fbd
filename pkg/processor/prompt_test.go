package processor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curator-sh/curator/pkg/llm"
	"github.com/curator-sh/curator/pkg/pipeline"
)

func TestParseDraftPlainJSON(t *testing.T) {
	raw := `{"title":"Generated Title","description":"desc","content":"body text","tags":["go","infra"]}`
	d, err := parseDraft(raw, "Fallback")
	require.NoError(t, err)
	assert.Equal(t, "Generated Title", d.Title)
	assert.Equal(t, "body text", d.Content)
	assert.Equal(t, []string{"go", "infra"}, d.Tags)
}

func TestParseDraftCodeFence(t *testing.T) {
	raw := "```json\n{\"title\":\"Fenced\",\"content\":\"body\"}\n```"
	d, err := parseDraft(raw, "Fallback")
	require.NoError(t, err)
	assert.Equal(t, "Fenced", d.Title)
	assert.Equal(t, "body", d.Content)
}

func TestParseDraftMissingTitleUsesFallback(t *testing.T) {
	d, err := parseDraft(`{"content":"body"}`, "Original Topic Title")
	require.NoError(t, err)
	assert.Equal(t, "Original Topic Title", d.Title)
}

func TestParseDraftNonJSONFallsBackToRaw(t *testing.T) {
	raw := "The model ignored the format and wrote prose directly."
	d, err := parseDraft(raw, "Original Topic Title")
	require.NoError(t, err)
	assert.Equal(t, "Original Topic Title", d.Title)
	assert.Equal(t, raw, d.Content)
}

func TestParseDraftEmpty(t *testing.T) {
	_, err := parseDraft("   ", "Fallback")
	assert.Error(t, err)
}

func TestParseTitleOptions(t *testing.T) {
	assert.Equal(t, []string{"One", "Two"}, parseTitleOptions(`["One","Two"]`))
	assert.Nil(t, parseTitleOptions("not json"))
	assert.Equal(t, []string{"Fenced Option"}, parseTitleOptions("```json\n[\"Fenced Option\"]\n```"))
}

func TestSelectTitle(t *testing.T) {
	current := "Current Working Title For The Article"

	// Shortest in-range candidate wins.
	got := selectTitle(current, []string{
		"Too short",
		"A candidate title within the preferred range",
		"A shorter in-range candidate title",
	})
	assert.Equal(t, "A shorter in-range candidate title", got)

	// No candidate in range keeps the current title.
	assert.Equal(t, current, selectTitle(current, []string{"Short", "x"}))
	assert.Equal(t, current, selectTitle(current, nil))
}

func TestBuildResearchPrompt(t *testing.T) {
	msgs := buildResearchPrompt(&pipeline.TopicPayload{
		Title:    "Interesting Topic",
		Source:   "hackernews",
		URL:      "https://example.com/story",
		Score:    120,
		Comments: 30,
	})
	require.Len(t, msgs, 2)
	assert.Equal(t, llm.RoleSystem, msgs[0].Role)
	assert.Equal(t, llm.RoleUser, msgs[1].Role)
	assert.Contains(t, msgs[1].Content, "Interesting Topic")
	assert.Contains(t, msgs[1].Content, "120 points")
}
