// Package pipeline defines the message envelope, error taxonomy, and stage
// statistics shared by every pipeline stage.
package pipeline

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Operation identifies the handler a message is routed to. Unknown operations
// are deleted and logged; forward compatibility requires explicit registration.
type Operation string

// Known operations.
const (
	OpCollect        Operation = "collect"
	OpProcessTopic   Operation = "process_topic"
	OpRenderMarkdown Operation = "render_markdown"
	OpPublishSite    Operation = "publish_site"
)

// Envelope is the common wire format for all queue messages.
type Envelope struct {
	MessageID     string          `json:"message_id,omitempty"` // adapter-provided
	CorrelationID string          `json:"correlation_id"`
	Timestamp     time.Time       `json:"timestamp"`
	ServiceName   string          `json:"service_name"`
	Operation     Operation       `json:"operation"`
	Payload       json.RawMessage `json:"payload"`
}

// NewEnvelope builds an envelope with a fresh timestamp. The payload is
// marshalled immediately so a malformed payload fails at construction,
// not at send time.
func NewEnvelope(service string, op Operation, correlationID string, payload any) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling %s payload: %w", op, err)
	}
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	return &Envelope{
		CorrelationID: correlationID,
		Timestamp:     time.Now().UTC(),
		ServiceName:   service,
		Operation:     op,
		Payload:       raw,
	}, nil
}

// DecodePayload unmarshals the payload into out and validates basic shape.
func (e *Envelope) DecodePayload(out any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("empty payload for operation %q", e.Operation)
	}
	if err := json.Unmarshal(e.Payload, out); err != nil {
		return fmt.Errorf("decoding %s payload: %w", e.Operation, err)
	}
	return nil
}

// TopicPayload is the work unit for one collected item (Q1 → processor).
type TopicPayload struct {
	TopicID        string    `json:"topic_id"`
	Title          string    `json:"title"`
	Source         string    `json:"source"`
	URL            string    `json:"url"`
	Excerpt        string    `json:"excerpt,omitempty"`
	Score          int       `json:"score"`
	Comments       int       `json:"comments"`
	CollectedAt    time.Time `json:"collected_at"`
	PriorityScore  float64   `json:"priority_score"`
	CollectionID   string    `json:"collection_id"`
	CollectionBlob string    `json:"collection_blob"`
}

// Validate reports the first missing required field.
func (p *TopicPayload) Validate() error {
	switch {
	case p.TopicID == "":
		return fmt.Errorf("topic payload missing topic_id")
	case p.Title == "":
		return fmt.Errorf("topic payload missing title")
	case p.Source == "":
		return fmt.Errorf("topic payload missing source")
	}
	return nil
}

// RenderPayload is the work unit for one processed article (Q2 → renderer).
type RenderPayload struct {
	ProcessedBlobPath string `json:"processed_blob_path"`
}

// Validate reports a missing blob path.
func (p *RenderPayload) Validate() error {
	if p.ProcessedBlobPath == "" {
		return fmt.Errorf("render payload missing processed_blob_path")
	}
	return nil
}

// BuildPayload is the coalesced site-rebuild request (Q3 → publisher).
// Duplicates are idempotent: any build produces a full site from C3.
type BuildPayload struct {
	BatchID       string `json:"batch_id"`
	MarkdownCount int    `json:"markdown_count"`
	Trigger       string `json:"trigger"` // "queue_drained" or "manual"
}

// CollectPayload triggers a collection run (manual or scheduled).
type CollectPayload struct {
	RunID   string   `json:"run_id"`
	Sources []string `json:"sources,omitempty"` // empty = all configured
}
