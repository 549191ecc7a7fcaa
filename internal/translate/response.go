// Upstream response translation.
package translate

import (
	"encoding/json"

	"github.com/google/uuid"
)

// StopReason maps an upstream finish_reason to the Messages API stop_reason.
func StopReason(finishReason string) string {
	switch finishReason {
	case "length":
		return "max_tokens"
	case "tool_calls", "function_call":
		return "tool_use"
	case "content_filter":
		return "content_filter"
	default:
		return "end_turn"
	}
}

// NewMessageID synthesizes a response message ID.
func NewMessageID() string {
	return "msg_" + uuid.NewString()
}

// ToMessagesResponse converts a buffered upstream response into the
// Messages API response shape. model is echoed back as the client sent it.
func ToMessagesResponse(resp *ChatResponse, model string) *MessagesResponse {
	out := &MessagesResponse{
		ID:    "msg_" + resp.ID,
		Type:  "message",
		Role:  "assistant",
		Model: model,
		Usage: Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}
	if out.ID == "msg_" {
		out.ID = NewMessageID()
	}

	if len(resp.Choices) == 0 {
		reason := "end_turn"
		out.StopReason = &reason
		out.Content = []ResponseBlock{}
		return out
	}

	choice := resp.Choices[0]
	msg := choice.Message

	if len(msg.Content) > 0 {
		var text string
		if err := json.Unmarshal(msg.Content, &text); err == nil && text != "" {
			out.Content = append(out.Content, ResponseBlock{Type: "text", Text: text})
		}
	}
	for _, tc := range msg.ToolCalls {
		var input map[string]any
		if err := json.Unmarshal([]byte(tc.Function.Arguments), &input); err != nil || input == nil {
			input = map[string]any{}
		}
		out.Content = append(out.Content, ResponseBlock{
			Type:  "tool_use",
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: input,
		})
	}
	if out.Content == nil {
		out.Content = []ResponseBlock{}
	}

	reason := "end_turn"
	if choice.FinishReason != nil {
		reason = StopReason(*choice.FinishReason)
	} else if len(msg.ToolCalls) > 0 {
		reason = "tool_use"
	}
	out.StopReason = &reason

	return out
}
