// Package llm wraps the language-model backends used for structured
// extraction behind one Complete call.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

const (
	DefaultMaxTokens   = 4096
	DefaultTemperature = 0.0
)

// ErrEmptyResponse is returned when the model answered with no usable content
var ErrEmptyResponse = errors.New("model returned an empty response")

// ToolSchema describes the JSON object the model must produce
type ToolSchema struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Schema      map[string]interface{} `json:"schema"`
}

// Request is one single-turn completion
type Request struct {
	System      string
	Instruction string
	Schema      *ToolSchema // nil asks for free text
	MaxTokens   int
	Temperature float64
}

// Response holds the model answer. Structured is set only when the backend
// honoured the schema; Text always carries any free-text content.
type Response struct {
	Text       string
	Structured json.RawMessage
	StopReason string
}

// Client runs completions
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

func (r Request) withDefaults() Request {
	if r.MaxTokens <= 0 {
		r.MaxTokens = DefaultMaxTokens
	}
	return r
}

// ObjectSchema builds a JSON schema object with string properties. Every
// listed property is required.
func ObjectSchema(properties map[string]string, required ...string) map[string]interface{} {
	props := make(map[string]interface{}, len(properties))
	for name, desc := range properties {
		props[name] = map[string]interface{}{
			"type":        "string",
			"description": desc,
		}
	}
	return map[string]interface{}{
		"type":                 "object",
		"properties":           props,
		"required":             required,
		"additionalProperties": false,
	}
}

// StatusError is a non-2xx answer from an HTTP backend
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("inference API error (status %d): %s", e.StatusCode, e.Body)
}

// IsRetryableStatusCode reports codes worth another attempt: 408, 409, 429 and 5xx
func IsRetryableStatusCode(statusCode int) bool {
	return statusCode == http.StatusRequestTimeout ||
		statusCode == http.StatusConflict ||
		statusCode == http.StatusTooManyRequests ||
		statusCode >= 500
}

// RetryConfig bounds retries of a failed request
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRetryConfig returns 2 retries starting at 500ms
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     2,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
	}
}

// CalculateBackoff returns initialBackoff * 2^attempt, capped at maxBackoff
func CalculateBackoff(attempt int, cfg RetryConfig) time.Duration {
	if attempt > 30 {
		return cfg.MaxBackoff
	}
	backoff := cfg.InitialBackoff * time.Duration(1<<uint(attempt))
	if backoff > cfg.MaxBackoff || backoff <= 0 {
		return cfg.MaxBackoff
	}
	return backoff
}

// ParseRetryAfter reads a Retry-After header given in seconds or as an HTTP date
func ParseRetryAfter(resp *http.Response) time.Duration {
	if resp == nil {
		return 0
	}
	retryAfter := resp.Header.Get("Retry-After")
	if retryAfter == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(retryAfter); err == nil {
		return time.Duration(seconds) * time.Second
	}
	if t, err := http.ParseTime(retryAfter); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
