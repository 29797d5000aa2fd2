package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
)

const (
	// DefaultInferenceTimeout is long enough for a full-report extraction
	DefaultInferenceTimeout = 120 * time.Second
)

// InferenceConfig configures an OpenAI-compatible chat completions endpoint
type InferenceConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
	Retry   *RetryConfig
}

// InferenceClient calls /v1/chat/completions. Schema requests use
// response_format json_schema in strict mode.
type InferenceClient struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	retry      RetryConfig
}

// NewInferenceClient creates a client from cfg
func NewInferenceClient(cfg InferenceConfig) *InferenceClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultInferenceTimeout
	}
	retry := DefaultRetryConfig()
	if cfg.Retry != nil {
		retry = *cfg.Retry
	}
	return &InferenceClient{
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		model:      cfg.Model,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		retry:      retry,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type jsonSchemaFormat struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Schema      map[string]interface{} `json:"schema"`
	Strict      bool                   `json:"strict,omitempty"`
}

type responseFormat struct {
	Type       string            `json:"type"`
	JSONSchema *jsonSchemaFormat `json:"json_schema,omitempty"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
}

// Complete sends one chat completion, retrying retryable failures
func (c *InferenceClient) Complete(ctx context.Context, req Request) (*Response, error) {
	req = req.withDefaults()

	body := chatRequest{
		Model:       c.model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if req.System != "" {
		body.Messages = append(body.Messages, chatMessage{Role: "system", Content: req.System})
	}
	body.Messages = append(body.Messages, chatMessage{Role: "user", Content: req.Instruction})
	if req.Schema != nil {
		body.ResponseFormat = &responseFormat{
			Type: "json_schema",
			JSONSchema: &jsonSchemaFormat{
				Name:        req.Schema.Name,
				Description: req.Schema.Description,
				Schema:      req.Schema.Schema,
				Strict:      true,
			},
		}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.retry.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := CalculateBackoff(attempt-1, c.retry)
			var se *retryAfterError
			if errors.As(lastErr, &se) && se.after > wait {
				wait = se.after
			}
			log.Warnf("[LLM] Retrying inference request (attempt %d/%d) in %s: %v", attempt, c.retry.MaxRetries, wait, lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}

		result, err := c.send(ctx, payload)
		if err == nil {
			return toResponse(result, req.Schema)
		}
		lastErr = err

		var statusErr *StatusError
		if errors.As(err, &statusErr) && !IsRetryableStatusCode(statusErr.StatusCode) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

type retryAfterError struct {
	*StatusError
	after time.Duration
}

func (e *retryAfterError) Unwrap() error { return e.StatusError }

func (c *InferenceClient) send(ctx context.Context, payload []byte) (*chatResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		statusErr := &StatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
		if after := ParseRetryAfter(resp); after > 0 {
			return nil, &retryAfterError{StatusError: statusErr, after: after}
		}
		return nil, statusErr
	}

	var result chatResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &result, nil
}

func toResponse(result *chatResponse, schema *ToolSchema) (*Response, error) {
	if len(result.Choices) == 0 {
		return nil, ErrEmptyResponse
	}
	choice := result.Choices[0]
	content := strings.TrimSpace(choice.Message.Content)
	if content == "" {
		return nil, ErrEmptyResponse
	}

	resp := &Response{Text: content, StopReason: choice.FinishReason}
	if schema != nil && json.Valid([]byte(content)) && strings.HasPrefix(content, "{") {
		resp.Structured = json.RawMessage(content)
	}
	return resp, nil
}
