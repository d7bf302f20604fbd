package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"time"

	"github.com/curator-sh/curator/pkg/config"
	"github.com/curator-sh/curator/pkg/pipeline"
	"github.com/curator-sh/curator/pkg/ratelimit"
	"github.com/curator-sh/curator/pkg/version"
)

// OpenAIClient implements Client against an OpenAI-compatible chat
// completions endpoint. Every call first acquires a token from the shared
// per-replica limiter; 429 and transport errors are retried with
// exponential backoff and full jitter before surfacing as TransientError.
type OpenAIClient struct {
	baseURL     string
	apiKey      string
	model       string
	maxTokens   int
	temperature float64
	maxAttempts int
	inCostMTok  float64
	outCostMTok float64
	limiter     *ratelimit.Limiter
	httpClient  *http.Client
}

// NewOpenAIClient builds a client from configuration. The API key is read
// from the environment variable named in the config, never from YAML.
func NewOpenAIClient(cfg *config.LLMConfig, limiter *ratelimit.Limiter) (*OpenAIClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("llm base_url is required")
	}
	apiKey := os.Getenv(cfg.APIKeyEnv)
	if apiKey == "" {
		return nil, fmt.Errorf("llm api key env %s is empty", cfg.APIKeyEnv)
	}
	return &OpenAIClient{
		baseURL:     cfg.BaseURL,
		apiKey:      apiKey,
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		maxAttempts: cfg.MaxAttempts,
		inCostMTok:  cfg.InputCostPerMTok,
		outCostMTok: cfg.OutputCostPerMTok,
		limiter:     limiter,
		httpClient:  &http.Client{Timeout: cfg.RequestTimeout},
	}, nil
}

// Close releases idle connections.
func (c *OpenAIClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Complete sends one chat completion request.
func (c *OpenAIClient) Complete(ctx context.Context, req *Request) (*Completion, error) {
	if !c.limiter.Acquire(ctx, 1) {
		return nil, &TransientError{Err: fmt.Errorf("rate limit acquisition missed deadline")}
	}

	body := chatRequest{
		Model:     c.model,
		Messages:  req.Messages,
		MaxTokens: c.maxTokens,
	}
	if req.MaxTokens > 0 {
		body.MaxTokens = req.MaxTokens
	}
	temp := c.temperature
	if req.Temperature >= 0 {
		temp = req.Temperature
	}
	body.Temperature = &temp

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &PermanentError{Err: fmt.Errorf("marshaling request: %w", err)}
	}

	var lastErr error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 {
			if err := sleepBackoff(ctx, attempt); err != nil {
				return nil, &TransientError{Err: err}
			}
		}

		completion, err := c.doRequest(ctx, payload)
		if err == nil {
			return completion, nil
		}
		if IsPermanent(err) {
			return nil, err
		}
		lastErr = err
		slog.Warn("LLM call failed, will retry",
			"attempt", attempt+1, "max_attempts", c.maxAttempts, "error", err)
	}
	return nil, &TransientError{Err: fmt.Errorf("llm retries exhausted after %d attempts: %w", c.maxAttempts, lastErr)}
}

func (c *OpenAIClient) doRequest(ctx context.Context, payload []byte) (*Completion, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, &PermanentError{Err: fmt.Errorf("building request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("User-Agent", version.Full())

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &TransientError{Err: fmt.Errorf("llm transport: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, &TransientError{Err: fmt.Errorf("reading llm response: %w", err)}
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, &TransientError{Err: fmt.Errorf("llm status %d: %s", resp.StatusCode, truncate(raw, 200))}
	default:
		// 401, 403, 400 and friends: retrying cannot help.
		return nil, &PermanentError{Err: fmt.Errorf("llm status %d: %s", resp.StatusCode, truncate(raw, 200))}
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, &TransientError{Err: fmt.Errorf("decoding llm response: %w", err)}
	}
	if parsed.Error != nil {
		return nil, &PermanentError{Err: fmt.Errorf("llm error %s: %s", parsed.Error.Type, parsed.Error.Message)}
	}
	if len(parsed.Choices) == 0 {
		return nil, &TransientError{Err: fmt.Errorf("llm returned no choices")}
	}

	completion := &Completion{
		Content:      parsed.Choices[0].Message.Content,
		InputTokens:  parsed.Usage.PromptTokens,
		OutputTokens: parsed.Usage.CompletionTokens,
	}
	completion.CostUSD = float64(completion.InputTokens)/1e6*c.inCostMTok +
		float64(completion.OutputTokens)/1e6*c.outCostMTok
	pipeline.LLMCostUSD.Add(completion.CostUSD)
	return completion, nil
}

// sleepBackoff waits 2^attempt seconds scaled by full jitter, honoring ctx.
func sleepBackoff(ctx context.Context, attempt int) error {
	cap := time.Duration(1<<attempt) * time.Second
	delay := time.Duration(rand.Int64N(int64(cap)))
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
