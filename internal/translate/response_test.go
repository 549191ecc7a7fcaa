package translate

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStopReason(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"stop", "end_turn"},
		{"length", "max_tokens"},
		{"tool_calls", "tool_use"},
		{"function_call", "tool_use"},
		{"content_filter", "content_filter"},
		{"", "end_turn"},
		{"something_new", "end_turn"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StopReason(tt.in), "finish_reason=%q", tt.in)
	}
}

func TestNewMessageID(t *testing.T) {
	a := NewMessageID()
	b := NewMessageID()
	assert.True(t, strings.HasPrefix(a, "msg_"))
	assert.NotEqual(t, a, b)
}

func TestToMessagesResponse_Text(t *testing.T) {
	finish := "stop"
	resp := &ChatResponse{
		ID: "chatcmpl-123",
		Choices: []ChatChoice{{
			Message:      ChatMessage{Role: "assistant", Content: json.RawMessage(`"hello there"`)},
			FinishReason: &finish,
		}},
		Usage: ChatUsage{PromptTokens: 12, CompletionTokens: 7},
	}

	out := ToMessagesResponse(resp, "claude-sonnet-4-5")

	assert.Equal(t, "msg_chatcmpl-123", out.ID)
	assert.Equal(t, "message", out.Type)
	assert.Equal(t, "assistant", out.Role)
	assert.Equal(t, "claude-sonnet-4-5", out.Model)
	require.Len(t, out.Content, 1)
	assert.Equal(t, "text", out.Content[0].Type)
	assert.Equal(t, "hello there", out.Content[0].Text)
	require.NotNil(t, out.StopReason)
	assert.Equal(t, "end_turn", *out.StopReason)
	assert.Equal(t, 12, out.Usage.InputTokens)
	assert.Equal(t, 7, out.Usage.OutputTokens)
}

func TestToMessagesResponse_ToolCalls(t *testing.T) {
	finish := "tool_calls"
	resp := &ChatResponse{
		ID: "chatcmpl-tool",
		Choices: []ChatChoice{{
			Message: ChatMessage{
				Role:    "assistant",
				Content: json.RawMessage(`"let me check"`),
				ToolCalls: []ChatToolCall{{
					ID:       "call_1",
					Type:     "function",
					Function: ChatFunctionCall{Name: "get_weather", Arguments: `{"city":"SF"}`},
				}},
			},
			FinishReason: &finish,
		}},
	}

	out := ToMessagesResponse(resp, "m")

	require.Len(t, out.Content, 2)
	assert.Equal(t, "text", out.Content[0].Type)
	assert.Equal(t, "tool_use", out.Content[1].Type)
	assert.Equal(t, "call_1", out.Content[1].ID)
	assert.Equal(t, "get_weather", out.Content[1].Name)
	assert.Equal(t, map[string]any{"city": "SF"}, out.Content[1].Input)
	require.NotNil(t, out.StopReason)
	assert.Equal(t, "tool_use", *out.StopReason)
}

func TestToMessagesResponse_BadArguments(t *testing.T) {
	resp := &ChatResponse{
		ID: "x",
		Choices: []ChatChoice{{
			Message: ChatMessage{
				Role: "assistant",
				ToolCalls: []ChatToolCall{{
					ID:       "call_9",
					Function: ChatFunctionCall{Name: "f", Arguments: "not json"},
				}},
			},
		}},
	}

	out := ToMessagesResponse(resp, "m")

	require.Len(t, out.Content, 1)
	assert.Equal(t, map[string]any{}, out.Content[0].Input)
	// No finish_reason, but a tool call was made.
	require.NotNil(t, out.StopReason)
	assert.Equal(t, "tool_use", *out.StopReason)
}

func TestToMessagesResponse_NoChoices(t *testing.T) {
	out := ToMessagesResponse(&ChatResponse{ID: "empty"}, "m")

	assert.NotNil(t, out.Content)
	assert.Empty(t, out.Content)
	require.NotNil(t, out.StopReason)
	assert.Equal(t, "end_turn", *out.StopReason)
}

func TestToMessagesResponse_SynthesizedID(t *testing.T) {
	out := ToMessagesResponse(&ChatResponse{}, "m")
	assert.True(t, strings.HasPrefix(out.ID, "msg_"))
	assert.Greater(t, len(out.ID), len("msg_"))
}

func TestToMessagesResponse_JSONShape(t *testing.T) {
	out := ToMessagesResponse(&ChatResponse{ID: "s"}, "m")

	raw, err := json.Marshal(out)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	// stop_sequence must serialize as an explicit null.
	v, ok := m["stop_sequence"]
	assert.True(t, ok)
	assert.Nil(t, v)
	assert.Equal(t, "message", m["type"])
}
