package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/curator-sh/curator/pkg/llm"
)

// LLMScriptEntry defines a single scripted completion.
type LLMScriptEntry struct {
	// Response content (at most one of Text / Error).
	Text  string // raw completion content, typically a draft JSON document
	Error error  // returned from Complete()

	// Usage accounting. Zero values fall back to test defaults.
	InputTokens  int
	OutputTokens int
	CostUSD      float64

	// Test control.
	BlockUntilCancelled bool            // block Complete() until ctx is cancelled
	WaitCh              <-chan struct{} // block Complete() until closed, then respond normally
	OnBlock             chan<- struct{} // notified when Complete() enters its blocking path
}

// ScriptedLLMClient implements llm.Client with a dual-dispatch mock:
// sequential fallthrough for single-topic tests, plus topic-title routing
// for multi-worker runs where call order is non-deterministic. A fallback
// generator covers bulk scenarios where every topic gets the same shape of
// draft.
type ScriptedLLMClient struct {
	mu         sync.Mutex
	sequential []LLMScriptEntry
	seqIndex   int
	routes     map[string][]LLMScriptEntry // topic title → per-topic script
	routeIndex map[string]int
	fallback   func(topicTitle string) string
	captured   []*llm.Request
}

// NewScriptedLLMClient creates an empty scripted client.
func NewScriptedLLMClient() *ScriptedLLMClient {
	return &ScriptedLLMClient{
		routes:     make(map[string][]LLMScriptEntry),
		routeIndex: make(map[string]int),
	}
}

// AddSequential adds an entry consumed in order for non-routed calls.
func (c *ScriptedLLMClient) AddSequential(entry LLMScriptEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sequential = append(c.sequential, entry)
}

// AddRouted adds an entry for a specific topic title, matched from the
// drafting prompt. Used when multiple workers process topics concurrently
// and call order cannot be scripted sequentially.
func (c *ScriptedLLMClient) AddRouted(topicTitle string, entry LLMScriptEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.routes[topicTitle] = append(c.routes[topicTitle], entry)
}

// SetFallback installs a generator used when no scripted entry matches.
// The generator receives the topic title and returns the raw completion.
func (c *ScriptedLLMClient) SetFallback(fn func(topicTitle string) string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fallback = fn
}

// Complete implements llm.Client.
func (c *ScriptedLLMClient) Complete(ctx context.Context, req *llm.Request) (*llm.Completion, error) {
	title := extractTopicTitle(req)

	c.mu.Lock()
	c.captured = append(c.captured, req)
	entry, ok := c.nextEntry(title)
	fallback := c.fallback
	calls := len(c.captured)
	c.mu.Unlock()

	if !ok {
		if fallback != nil {
			return completionFor(LLMScriptEntry{Text: fallback(title)}), nil
		}
		// Terminate the topic instead of looping on redelivery: an
		// unscripted call is a test bug, and a permanent failure
		// surfaces it as a missing article plus a failure record.
		return nil, &llm.PermanentError{Err: fmt.Errorf("unscripted llm call %d for topic %q", calls, title)}
	}

	if entry.BlockUntilCancelled {
		if entry.OnBlock != nil {
			entry.OnBlock <- struct{}{}
		}
		<-ctx.Done()
		return nil, &llm.TransientError{Err: ctx.Err()}
	}

	if entry.WaitCh != nil {
		if entry.OnBlock != nil {
			entry.OnBlock <- struct{}{}
		}
		select {
		case <-entry.WaitCh:
		case <-ctx.Done():
			return nil, &llm.TransientError{Err: ctx.Err()}
		}
	}

	if entry.Error != nil {
		return nil, entry.Error
	}
	return completionFor(entry), nil
}

// Close implements llm.Client.
func (c *ScriptedLLMClient) Close() error { return nil }

// CallCount returns the total number of Complete() calls made.
func (c *ScriptedLLMClient) CallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.captured)
}

// CapturedRequests returns a copy of every request seen so far.
func (c *ScriptedLLMClient) CapturedRequests() []*llm.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*llm.Request(nil), c.captured...)
}

// nextEntry selects the next script entry, routed dispatch first. Must be
// called with c.mu held.
func (c *ScriptedLLMClient) nextEntry(title string) (LLMScriptEntry, bool) {
	if title != "" {
		if entries, ok := c.routes[title]; ok {
			idx := c.routeIndex[title]
			if idx < len(entries) {
				c.routeIndex[title] = idx + 1
				return entries[idx], true
			}
		}
	}
	if c.seqIndex < len(c.sequential) {
		entry := c.sequential[c.seqIndex]
		c.seqIndex++
		return entry, true
	}
	return LLMScriptEntry{}, false
}

func completionFor(entry LLMScriptEntry) *llm.Completion {
	completion := &llm.Completion{
		Content:      entry.Text,
		InputTokens:  entry.InputTokens,
		OutputTokens: entry.OutputTokens,
		CostUSD:      entry.CostUSD,
	}
	if completion.InputTokens == 0 && completion.OutputTokens == 0 {
		completion.InputTokens = 700
		completion.OutputTokens = 1400
	}
	if completion.CostUSD == 0 {
		completion.CostUSD = 0.04
	}
	return completion
}

// extractTopicTitle pulls the topic title out of the drafting prompt.
// Returns "" for prompts without one (e.g. title-option calls).
func extractTopicTitle(req *llm.Request) string {
	for _, msg := range req.Messages {
		if msg.Role != llm.RoleUser {
			continue
		}
		for _, line := range strings.Split(msg.Content, "\n") {
			if title, ok := strings.CutPrefix(line, "Title: "); ok {
				return strings.TrimSpace(title)
			}
		}
	}
	return ""
}

// DraftJSON builds a valid draft response for the given title, long enough
// to score well on the content-quality heuristic.
func DraftJSON(title string) string {
	d := map[string]any{
		"title":       title,
		"description": "What the discussion covered and why it matters.",
		"content":     "## Overview\n\n" + strings.Repeat("A paragraph of generated analysis covering the topic. ", 40),
		"tags":        []string{"engineering", "infrastructure", "analysis"},
	}
	raw, err := json.Marshal(d)
	if err != nil {
		panic(err)
	}
	return string(raw)
}
