package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/bedrockruntime"
	"github.com/aws/aws-sdk-go/service/bedrockruntime/bedrockruntimeiface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRuntime struct {
	bedrockruntimeiface.BedrockRuntimeAPI
	input    *bedrockruntime.InvokeModelInput
	response string
}

func (f *fakeRuntime) InvokeModelWithContext(ctx aws.Context, in *bedrockruntime.InvokeModelInput, _ ...request.Option) (*bedrockruntime.InvokeModelOutput, error) {
	f.input = in
	return &bedrockruntime.InvokeModelOutput{Body: []byte(f.response)}, nil
}

var instituteSchema = &ToolSchema{
	Name:   "institute_metadata",
	Schema: ObjectSchema(map[string]string{"Institute Name": "name"}, "Institute Name"),
}

func TestBedrockClient_ForcesToolUse(t *testing.T) {
	rt := &fakeRuntime{response: `{
		"content": [
			{"type": "text", "text": "Here you go"},
			{"type": "tool_use", "name": "institute_metadata", "input": {"Institute Name": "Al Noor School"}}
		],
		"stop_reason": "tool_use"
	}`}
	client := NewBedrockClientWithAPI(rt, "")

	resp, err := client.Complete(context.Background(), Request{Instruction: "extract", Schema: instituteSchema})
	require.NoError(t, err)
	assert.JSONEq(t, `{"Institute Name": "Al Noor School"}`, string(resp.Structured))
	assert.Equal(t, "Here you go", resp.Text)
	assert.Equal(t, DefaultBedrockModel, aws.StringValue(rt.input.ModelId))

	var sent map[string]interface{}
	require.NoError(t, json.Unmarshal(rt.input.Body, &sent))
	assert.Equal(t, anthropicVersion, sent["anthropic_version"])
	assert.EqualValues(t, DefaultMaxTokens, sent["max_tokens"])
	assert.Equal(t, map[string]interface{}{"type": "tool", "name": "institute_metadata"}, sent["tool_choice"])
	tools := sent["tools"].([]interface{})
	require.Len(t, tools, 1)
	assert.Contains(t, tools[0].(map[string]interface{}), "input_schema")
}

func TestBedrockClient_TextOnly(t *testing.T) {
	rt := &fakeRuntime{response: `{"content":[{"type":"text","text":"university"}],"stop_reason":"end_turn"}`}
	resp, err := NewBedrockClientWithAPI(rt, "m").Complete(context.Background(), Request{Instruction: "classify"})
	require.NoError(t, err)
	assert.Equal(t, "university", resp.Text)
	assert.Nil(t, resp.Structured)

	var sent map[string]interface{}
	require.NoError(t, json.Unmarshal(rt.input.Body, &sent))
	assert.NotContains(t, sent, "tools")
}

func TestBedrockClient_EmptyContent(t *testing.T) {
	rt := &fakeRuntime{response: `{"content":[],"stop_reason":"end_turn"}`}
	_, err := NewBedrockClientWithAPI(rt, "m").Complete(context.Background(), Request{Instruction: "x"})
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestInferenceClient_StructuredOutput(t *testing.T) {
	var body chatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		_, _ = w.Write([]byte(`{"choices":[{"index":0,"message":{"role":"assistant","content":"{\"Institute Name\":\"Al Noor\"}"},"finish_reason":"stop"}]}`))
	}))
	defer server.Close()

	client := NewInferenceClient(InferenceConfig{APIKey: "secret", BaseURL: server.URL + "/", Model: "m"})
	resp, err := client.Complete(context.Background(), Request{System: "sys", Instruction: "extract", Schema: instituteSchema})
	require.NoError(t, err)
	assert.JSONEq(t, `{"Institute Name":"Al Noor"}`, string(resp.Structured))

	require.NotNil(t, body.ResponseFormat)
	assert.Equal(t, "json_schema", body.ResponseFormat.Type)
	assert.True(t, body.ResponseFormat.JSONSchema.Strict)
	require.Len(t, body.Messages, 2)
	assert.Equal(t, "system", body.Messages[0].Role)
}

func TestInferenceClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"school"}}]}`))
	}))
	defer server.Close()

	client := NewInferenceClient(InferenceConfig{
		BaseURL: server.URL,
		Retry:   &RetryConfig{MaxRetries: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond},
	})
	resp, err := client.Complete(context.Background(), Request{Instruction: "classify"})
	require.NoError(t, err)
	assert.Equal(t, "school", resp.Text)
	assert.EqualValues(t, 2, calls.Load())
}

func TestInferenceClient_DoesNotRetryBadRequest(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"bad schema"}`))
	}))
	defer server.Close()

	client := NewInferenceClient(InferenceConfig{
		BaseURL: server.URL,
		Retry:   &RetryConfig{MaxRetries: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond},
	})
	_, err := client.Complete(context.Background(), Request{Instruction: "x"})
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusBadRequest, statusErr.StatusCode)
	assert.EqualValues(t, 1, calls.Load())
}

func TestIsRetryableStatusCode(t *testing.T) {
	for _, code := range []int{408, 409, 429, 500, 503} {
		assert.True(t, IsRetryableStatusCode(code), code)
	}
	for _, code := range []int{400, 401, 404, 422} {
		assert.False(t, IsRetryableStatusCode(code), code)
	}
}
