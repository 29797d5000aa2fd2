package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain object", `{"a":1}`, `{"a":1}`},
		{"fenced", "Sure:\n```json\n{\"a\": \"x\"}\n```\nDone", `{"a": "x"}`},
		{"prose around", `The answer is {"Institute Name": "Al {Noor}"} hope it helps`, `{"Institute Name": "Al {Noor}"}`},
		{"escaped quote", `x {"a": "say \"}\" now"} y`, `{"a": "say \"}\" now"}`},
		{"first of two", `{"a":1} and {"b":2}`, `{"a":1}`},
		{"array without object", `result: ["a", "b"]`, `["a", "b"]`},
		{"citation before object", `Per section [1] of the report: {"Institute Name": "Al Noor School"}`, `{"Institute Name": "Al Noor School"}`},
		{"unbalanced brace in prose", `use { to open: {"a": 1}`, `{"a": 1}`},
		{"object wins over leading array", `[see appendix] {"programmes": [{"name": "BSc"}]}`, `{"programmes": [{"name": "BSc"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSON(tt.input)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, got)
		})
	}
}

func TestExtractJSON_NoJSON(t *testing.T) {
	for _, input := range []string{"", "   ", "no braces here", "{unterminated"} {
		_, err := ExtractJSON(input)
		assert.ErrorIs(t, err, ErrNoJSONFound, input)
	}
}

func TestExtractJSONTo(t *testing.T) {
	var out struct {
		Name string `json:"University Name"`
	}
	require.NoError(t, ExtractJSONTo(`ok {"University Name": "Gulf University"}`, &out))
	assert.Equal(t, "Gulf University", out.Name)

	assert.Error(t, ExtractJSONTo(`{"University Name": 5}`, &out))
}
