// Package llm talks to an OpenAI-compatible chat completions endpoint with
// tool calling.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/eveiljuice/candidate-search-ai-agent/internal/config"
	"github.com/eveiljuice/candidate-search-ai-agent/internal/observability"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// APIError is a non-200 answer from the endpoint.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("inference endpoint returned %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the status is worth another attempt.
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Client is a Proposer backed by an HTTP endpoint.
type Client struct {
	endpoint    string
	apiKey      string
	model       string
	temperature float64
	maxElapsed  time.Duration
	httpClient  *http.Client
	limiter     *rate.Limiter
	logger      *zap.Logger
}

// NewClient builds a client from config. The API key must already be set.
func NewClient(cfg config.LLMConfig, logger *zap.Logger) *Client {
	limit := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(cfg.RequestsPerMinute))
	}
	return &Client{
		endpoint:    cfg.Endpoint,
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxElapsed:  cfg.RetryElapsed(),
		httpClient:  &http.Client{Timeout: cfg.Timeout()},
		limiter:     rate.NewLimiter(limit, 1),
		logger:      observability.OrNop(logger).Named("llm"),
	}
}

// --- OpenAI-compatible request/response types ---

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Tools       []chatTool    `json:"tools,omitempty"`
	ToolChoice  string        `json:"tool_choice,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role       string         `json:"role"`
	Content    *string        `json:"content"`
	ToolCalls  []chatToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type chatToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type chatTool struct {
	Type     string       `json:"type"`
	Function chatFunction `json:"function"`
}

type chatFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content   *string        `json:"content"`
			ToolCalls []chatToolCall `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Propose sends the history and tool schemas and returns the model's decision.
// Network errors, 429 and 5xx are retried with exponential backoff; other
// failures are returned immediately.
func (c *Client) Propose(ctx context.Context, history []Message, tools []ToolSchema) (Proposal, error) {
	body, err := json.Marshal(c.buildRequest(history, tools))
	if err != nil {
		return Proposal{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = c.maxElapsed
	b.MaxInterval = 30 * time.Second

	var proposal Proposal
	operation := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("X-Title", "scout")

		start := time.Now()
		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			c.logger.Warn("Network error during inference request, retrying", zap.Error(err))
			return fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response: %w", err)
		}

		if resp.StatusCode != http.StatusOK {
			apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
			c.logger.Warn("Inference endpoint returned error status",
				zap.Int("status", resp.StatusCode),
				zap.Bool("retryable", apiErr.Retryable()))
			if apiErr.Retryable() {
				return apiErr
			}
			return backoff.Permanent(apiErr)
		}

		p, usage, err := decodeResponse(respBody)
		if err != nil {
			return backoff.Permanent(err)
		}
		c.logger.Debug("Inference complete",
			zap.Duration("duration", time.Since(start)),
			zap.Int("prompt_tokens", usage.PromptTokens),
			zap.Int("completion_tokens", usage.CompletionTokens),
			zap.Int("tool_calls", len(p.ToolCalls)))
		proposal = p
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return Proposal{}, err
	}
	return proposal, nil
}

func (c *Client) buildRequest(history []Message, tools []ToolSchema) chatRequest {
	req := chatRequest{
		Model:       c.model,
		Messages:    make([]chatMessage, 0, len(history)),
		Temperature: c.temperature,
	}
	for _, m := range history {
		req.Messages = append(req.Messages, toChatMessage(m))
	}
	for _, t := range tools {
		params := t.Parameters
		if len(params) == 0 {
			params = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		req.Tools = append(req.Tools, chatTool{
			Type:     "function",
			Function: chatFunction{Name: t.Name, Description: t.Description, Parameters: params},
		})
	}
	if len(req.Tools) > 0 {
		req.ToolChoice = "auto"
	}
	return req
}

func toChatMessage(m Message) chatMessage {
	out := chatMessage{Role: m.Role, ToolCallID: m.ToolCallID}
	// Assistant turns that only carry tool calls send a null content.
	if m.Content != "" || len(m.ToolCalls) == 0 {
		content := m.Content
		out.Content = &content
	}
	for _, tc := range m.ToolCalls {
		var wire chatToolCall
		wire.ID = tc.ID
		wire.Type = "function"
		wire.Function.Name = tc.Name
		wire.Function.Arguments = tc.Arguments
		out.ToolCalls = append(out.ToolCalls, wire)
	}
	return out
}

type usage struct {
	PromptTokens     int
	CompletionTokens int
}

func decodeResponse(raw []byte) (Proposal, usage, error) {
	var resp chatResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return Proposal{}, usage{}, fmt.Errorf("failed to parse response: %w", err)
	}
	if resp.Error != nil {
		return Proposal{}, usage{}, fmt.Errorf("inference error: %s", resp.Error.Message)
	}
	if len(resp.Choices) == 0 {
		return Proposal{}, usage{}, errors.New("no choices in response")
	}

	msg := resp.Choices[0].Message
	var p Proposal
	if msg.Content != nil {
		p.Text = *msg.Content
	}
	for _, tc := range msg.ToolCalls {
		p.ToolCalls = append(p.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return p, usage{resp.Usage.PromptTokens, resp.Usage.CompletionTokens}, nil
}
