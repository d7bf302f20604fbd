// Package llm provides the article-generation client. The wire protocol is
// the OpenAI-compatible chat completions API; the processor only sees the
// Client interface plus the transient/permanent error split.
package llm

import (
	"context"
	"errors"
	"fmt"
)

// Role constants for conversation messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one conversation turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is one completion call.
type Request struct {
	Messages    []Message
	MaxTokens   int     // 0 = provider default
	Temperature float64 // <0 = provider default
}

// Completion is the model output plus usage accounting.
type Completion struct {
	Content      string
	InputTokens  int
	OutputTokens int
	CostUSD      float64
}

// TotalTokens returns combined input and output token usage.
func (c *Completion) TotalTokens() int { return c.InputTokens + c.OutputTokens }

// Client generates completions. Implementations must return TransientError
// or PermanentError so callers can map failures onto the queue policy.
type Client interface {
	Complete(ctx context.Context, req *Request) (*Completion, error)
	Close() error
}

// TransientError marks a failure worth retrying: timeouts, 5xx, and 429
// after in-client backoff is exhausted. The processor leaves the queue
// message for redelivery.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("transient llm error: %v", e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks a failure retries cannot fix: auth errors and
// malformed requests. The processor records a failure and deletes the
// message to terminate the poison loop.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return fmt.Sprintf("permanent llm error: %v", e.Err) }
func (e *PermanentError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsPermanent reports whether err is a PermanentError.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}
