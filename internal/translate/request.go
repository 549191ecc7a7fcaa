// Inbound request translation.
//
// DESIGN: ParseRequest validates the raw body against the Messages schema;
// ToChatRequest converts the parsed request into the upstream Chat
// Completions shape. Neither performs I/O, so a request the gateway cannot
// validate is rejected before any upstream call is attempted.
package translate

import (
	"encoding/json"
	"fmt"
	"strings"
)

// RequestError marks a client-side validation failure. The handler maps it
// to invalid_request_error / 400.
type RequestError struct {
	msg string
}

func (e *RequestError) Error() string { return e.msg }

func requestErrorf(format string, args ...any) error {
	return &RequestError{msg: fmt.Sprintf(format, args...)}
}

// ParseRequest parses and validates raw body bytes as a Messages request.
// A malformed body is a client error, never a crash.
func ParseRequest(body []byte) (*MessagesRequest, error) {
	if len(body) == 0 {
		return nil, requestErrorf("request body is empty")
	}
	var req MessagesRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, requestErrorf("request body is not valid JSON: %v", err)
	}
	if req.Model == "" {
		return nil, requestErrorf("model: field required")
	}
	if len(req.Messages) == 0 {
		return nil, requestErrorf("messages: at least one message is required")
	}
	for i, m := range req.Messages {
		switch m.Role {
		case "user", "assistant":
		default:
			return nil, requestErrorf("messages.%d.role: must be user or assistant, got %q", i, m.Role)
		}
		if len(m.Content) == 0 {
			return nil, requestErrorf("messages.%d.content: field required", i)
		}
	}
	return &req, nil
}

// ToChatRequest converts a validated Messages request into the upstream
// request shape. When model is non-empty it overrides the client's model.
func ToChatRequest(req *MessagesRequest, model string) (*ChatRequest, error) {
	if model == "" {
		model = req.Model
	}
	out := &ChatRequest{
		Model:       model,
		MaxTokens:   req.MaxTokens,
		Stop:        req.StopSequences,
		Stream:      req.Stream,
		Temperature: req.Temperature,
		TopP:        req.TopP,
	}
	if req.Stream {
		out.StreamOptions = &StreamOptions{IncludeUsage: true}
	}
	if req.Metadata != nil {
		out.User = req.Metadata.UserID
	}

	if system := flattenSystem(req.System); system != "" {
		content, _ := json.Marshal(system)
		out.Messages = append(out.Messages, ChatMessage{Role: "system", Content: content})
	}

	for i, msg := range req.Messages {
		converted, err := convertMessage(msg)
		if err != nil {
			return nil, requestErrorf("messages.%d: %v", i, err)
		}
		out.Messages = append(out.Messages, converted...)
	}

	for _, t := range req.Tools {
		out.Tools = append(out.Tools, ChatTool{
			Type: "function",
			Function: ChatFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.InputSchema,
			},
		})
	}
	out.ToolChoice = convertToolChoice(req.ToolChoice)

	return out, nil
}

// flattenSystem normalizes the system field, which is either a plain string
// or a list of text blocks.
func flattenSystem(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var blocks []ContentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return ""
	}
	var sb strings.Builder
	for _, b := range blocks {
		if b.Type == "text" && b.Text != "" {
			if sb.Len() > 0 {
				sb.WriteByte('\n')
			}
			sb.WriteString(b.Text)
		}
	}
	return sb.String()
}

// convertMessage converts one inbound message. A user message carrying
// tool_result blocks fans out into tool-role messages, matching how the
// upstream models tool results.
func convertMessage(msg Message) ([]ChatMessage, error) {
	// Plain string content passes through directly.
	var text string
	if err := json.Unmarshal(msg.Content, &text); err == nil {
		content, _ := json.Marshal(text)
		return []ChatMessage{{Role: msg.Role, Content: content}}, nil
	}

	var blocks []ContentBlock
	if err := json.Unmarshal(msg.Content, &blocks); err != nil {
		return nil, fmt.Errorf("content must be a string or a list of content blocks")
	}

	if msg.Role == "assistant" {
		return convertAssistantBlocks(blocks), nil
	}
	return convertUserBlocks(blocks), nil
}

func convertAssistantBlocks(blocks []ContentBlock) []ChatMessage {
	var texts []string
	var toolCalls []ChatToolCall
	for _, b := range blocks {
		switch b.Type {
		case "text":
			if b.Text != "" {
				texts = append(texts, b.Text)
			}
		case "tool_use":
			args := string(b.Input)
			if args == "" {
				args = "{}"
			}
			toolCalls = append(toolCalls, ChatToolCall{
				ID:       b.ID,
				Type:     "function",
				Function: ChatFunctionCall{Name: b.Name, Arguments: args},
			})
		}
	}
	out := ChatMessage{Role: "assistant", ToolCalls: toolCalls}
	if len(texts) > 0 {
		content, _ := json.Marshal(strings.Join(texts, "\n"))
		out.Content = content
	}
	return []ChatMessage{out}
}

func convertUserBlocks(blocks []ContentBlock) []ChatMessage {
	var parts []ChatContentPart
	var toolResults []ChatMessage

	for _, b := range blocks {
		switch b.Type {
		case "text":
			if b.Text != "" {
				parts = append(parts, ChatContentPart{Type: "text", Text: b.Text})
			}
		case "image":
			if url := imageURL(b.Source); url != "" {
				parts = append(parts, ChatContentPart{Type: "image_url", ImageURL: &ChatImageURL{URL: url}})
			}
		case "tool_result":
			toolResults = append(toolResults, convertToolResult(b))
		}
	}

	var out []ChatMessage
	if len(parts) > 0 {
		content, _ := json.Marshal(parts)
		out = append(out, ChatMessage{Role: "user", Content: content})
	}
	return append(out, toolResults...)
}

// convertToolResult maps a tool_result block to a tool-role message.
func convertToolResult(b ContentBlock) ChatMessage {
	var texts []string

	var s string
	if err := json.Unmarshal(b.Content, &s); err == nil {
		texts = append(texts, s)
	} else {
		var sub []ContentBlock
		if err := json.Unmarshal(b.Content, &sub); err == nil {
			for _, blk := range sub {
				if blk.Type == "text" && blk.Text != "" {
					texts = append(texts, blk.Text)
				}
			}
		}
	}

	result := strings.Join(texts, "\n")
	if b.IsError {
		result = "[ERROR] " + result
	}
	content, _ := json.Marshal(result)
	return ChatMessage{Role: "tool", ToolCallID: b.ToolUseID, Content: content}
}

func imageURL(src *ImageSource) string {
	if src == nil {
		return ""
	}
	if src.Type == "url" {
		return src.URL
	}
	if src.MediaType != "" && src.Data != "" {
		return "data:" + src.MediaType + ";base64," + src.Data
	}
	return ""
}

// convertToolChoice maps the Anthropic tool_choice object to the upstream
// representation. Unknown shapes are dropped rather than forwarded.
func convertToolChoice(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	var obj struct {
		Type string `json:"type"`
		Name string `json:"name"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil
	}
	switch obj.Type {
	case "auto":
		return "auto"
	case "any":
		return "required"
	case "none":
		return "none"
	case "tool":
		if obj.Name == "" {
			return nil
		}
		return map[string]any{
			"type":     "function",
			"function": map[string]string{"name": obj.Name},
		}
	}
	return nil
}
