package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/bedrockruntime"
	"github.com/aws/aws-sdk-go/service/bedrockruntime/bedrockruntimeiface"
)

const (
	// DefaultBedrockModel is the model the extraction prompts were tuned on
	DefaultBedrockModel = "anthropic.claude-3-sonnet-20240229-v1:0"

	anthropicVersion = "bedrock-2023-05-31"
)

// BedrockClient invokes Anthropic models through the Bedrock runtime.
// Schema requests are sent as a single forced tool call so the answer is the
// tool input object.
type BedrockClient struct {
	runtime bedrockruntimeiface.BedrockRuntimeAPI
	modelID string
}

// NewBedrockClient creates a client for modelID
func NewBedrockClient(sess *session.Session, modelID string) *BedrockClient {
	return NewBedrockClientWithAPI(bedrockruntime.New(sess), modelID)
}

// NewBedrockClientWithAPI wraps an existing runtime API
func NewBedrockClientWithAPI(api bedrockruntimeiface.BedrockRuntimeAPI, modelID string) *BedrockClient {
	if modelID == "" {
		modelID = DefaultBedrockModel
	}
	return &BedrockClient{runtime: api, modelID: modelID}
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicTool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

type anthropicToolChoice struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
}

type anthropicRequest struct {
	AnthropicVersion string               `json:"anthropic_version"`
	MaxTokens        int                  `json:"max_tokens"`
	Temperature      float64              `json:"temperature"`
	System           string               `json:"system,omitempty"`
	Messages         []anthropicMessage   `json:"messages"`
	Tools            []anthropicTool      `json:"tools,omitempty"`
	ToolChoice       *anthropicToolChoice `json:"tool_choice,omitempty"`
}

type anthropicContent struct {
	Type  string          `json:"type"`
	Text  string          `json:"text,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

type anthropicResponse struct {
	Content    []anthropicContent `json:"content"`
	StopReason string             `json:"stop_reason"`
}

func (c *BedrockClient) buildBody(req Request) ([]byte, error) {
	body := anthropicRequest{
		AnthropicVersion: anthropicVersion,
		MaxTokens:        req.MaxTokens,
		Temperature:      req.Temperature,
		System:           req.System,
		Messages:         []anthropicMessage{{Role: "user", Content: req.Instruction}},
	}
	if req.Schema != nil {
		body.Tools = []anthropicTool{{
			Name:        req.Schema.Name,
			Description: req.Schema.Description,
			InputSchema: req.Schema.Schema,
		}}
		body.ToolChoice = &anthropicToolChoice{Type: "tool", Name: req.Schema.Name}
	}
	return json.Marshal(body)
}

// Complete invokes the model once
func (c *BedrockClient) Complete(ctx context.Context, req Request) (*Response, error) {
	req = req.withDefaults()

	body, err := c.buildBody(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	out, err := c.runtime.InvokeModelWithContext(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(c.modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to invoke model %s: %w", c.modelID, err)
	}

	return parseAnthropicResponse(out.Body, req.Schema)
}

func parseAnthropicResponse(raw []byte, schema *ToolSchema) (*Response, error) {
	var parsed anthropicResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode model response: %w", err)
	}

	resp := &Response{StopReason: parsed.StopReason}
	var texts []string
	for _, block := range parsed.Content {
		switch block.Type {
		case "text":
			if block.Text != "" {
				texts = append(texts, block.Text)
			}
		case "tool_use":
			if schema != nil && block.Name == schema.Name && len(block.Input) > 0 {
				resp.Structured = block.Input
			}
		}
	}
	resp.Text = strings.Join(texts, "\n")

	if resp.Text == "" && resp.Structured == nil {
		return nil, ErrEmptyResponse
	}
	return resp, nil
}
