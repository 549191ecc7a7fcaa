// Streaming response pump.
//
// DESIGN: The pump reads one upstream SSE frame, emits the corresponding
// Messages API event(s), and flushes before reading the next frame. Each
// event is written and flushed before the next upstream read, so a slow
// client paces the upstream read side instead of growing a buffer
// (bounded memory per request). Once events have been sent the status line
// is gone; a mid-stream upstream failure is reported as a terminal in-band
// error event, never a fresh status code.
package gateway

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/msgrelay/messages-gateway/internal/translate"
)

const (
	// scanBufSize accommodates single frames carrying large tool arguments.
	scanBufSize = 2 * 1024 * 1024

	blockNone    = ""
	blockText    = "text"
	blockToolUse = "tool"
)

// streamPump converts one upstream SSE stream into Messages API events.
type streamPump struct {
	w       http.ResponseWriter
	flusher http.Flusher
	model   string

	blockIndex int
	blockType  string
	toolBlocks map[int]int // upstream tool index -> emitted block index

	finishReason string
	usage        *translate.ChatUsage
	eventsSent   int
}

// pumpStream emits the full event sequence for one streamed request.
// The SSE headers must already be written. Returns the number of events
// sent and the upstream read error, if any.
func pumpStream(w http.ResponseWriter, upstream io.Reader, model string) (int, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		// Without flushing there is no pacing; copy as a last resort.
		log.Warn().Msg("response writer does not support flushing, falling back to copy")
		_, err := io.Copy(w, upstream)
		return 0, err
	}

	p := &streamPump{
		w:            w,
		flusher:      flusher,
		model:        model,
		blockIndex:   -1,
		toolBlocks:   make(map[int]int),
		finishReason: "end_turn",
	}
	return p.run(upstream)
}

func (p *streamPump) run(upstream io.Reader) (int, error) {
	p.sendEvent("message_start", map[string]any{
		"message": map[string]any{
			"id":      translate.NewMessageID(),
			"type":    "message",
			"role":    "assistant",
			"model":   p.model,
			"content": []any{},
			"usage":   map[string]int{"input_tokens": 0, "output_tokens": 0},
		},
	})

	scanner := bufio.NewScanner(upstream)
	scanner.Buffer(make([]byte, 0, 64*1024), scanBufSize)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}
		if data == "[DONE]" {
			break
		}

		var chunk translate.ChatStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			log.Debug().Err(err).Msg("skipping unparseable stream frame")
			continue
		}
		p.handleChunk(&chunk)
	}

	readErr := scanner.Err()
	if readErr != nil {
		// Headers are sent; the failure has to travel in-band.
		log.Warn().Err(readErr).Msg("upstream stream failed mid-transmission")
		p.closeOpenBlock()
		p.sendEvent("error", newErrorEnvelope(ErrUpstream, "upstream stream failed: "+readErr.Error()))
		return p.eventsSent, readErr
	}

	p.finish()
	return p.eventsSent, nil
}

// handleChunk emits the events for one upstream frame, in arrival order.
func (p *streamPump) handleChunk(chunk *translate.ChatStreamChunk) {
	if chunk.Usage != nil {
		p.usage = chunk.Usage
	}
	if len(chunk.Choices) == 0 {
		return
	}
	choice := chunk.Choices[0]

	if choice.FinishReason != nil {
		p.finishReason = translate.StopReason(*choice.FinishReason)
	}

	if len(choice.Delta.ToolCalls) > 0 {
		for _, tc := range choice.Delta.ToolCalls {
			p.handleToolCall(tc)
		}
		return
	}

	var text string
	if len(choice.Delta.Content) > 0 {
		json.Unmarshal(choice.Delta.Content, &text)
	}
	if text == "" {
		return
	}

	if p.blockType != blockText {
		p.closeOpenBlock()
		p.blockIndex++
		p.blockType = blockText
		p.sendEvent("content_block_start", map[string]any{
			"index":         p.blockIndex,
			"content_block": map[string]string{"type": "text", "text": ""},
		})
	}
	p.sendEvent("content_block_delta", map[string]any{
		"index": p.blockIndex,
		"delta": map[string]any{"type": "text_delta", "text": text},
	})
}

// handleToolCall opens a tool_use block on a new call ID and streams
// argument fragments into the matching block.
func (p *streamPump) handleToolCall(tc translate.ChatToolCall) {
	if p.blockType != blockNone && p.blockType != blockToolUse {
		p.closeOpenBlock()
	}
	p.blockType = blockToolUse

	if tc.ID != "" {
		p.blockIndex++
		p.toolBlocks[tc.Index] = p.blockIndex
		p.sendEvent("content_block_start", map[string]any{
			"index": p.blockIndex,
			"content_block": map[string]any{
				"type":  "tool_use",
				"id":    tc.ID,
				"name":  tc.Function.Name,
				"input": map[string]string{},
			},
		})
	}

	if tc.Function.Arguments != "" {
		idx, ok := p.toolBlocks[tc.Index]
		if !ok {
			idx = p.blockIndex
		}
		p.sendEvent("content_block_delta", map[string]any{
			"index": idx,
			"delta": map[string]any{"type": "input_json_delta", "partial_json": tc.Function.Arguments},
		})
	}
}

// closeOpenBlock emits content_block_stop for whatever block is open.
func (p *streamPump) closeOpenBlock() {
	if p.blockType == blockNone {
		return
	}
	if p.blockType == blockToolUse {
		for _, idx := range p.toolBlocks {
			p.sendEvent("content_block_stop", map[string]any{"index": idx})
		}
		p.toolBlocks = make(map[int]int)
	} else {
		p.sendEvent("content_block_stop", map[string]any{"index": p.blockIndex})
	}
	p.blockType = blockNone
}

// finish emits the terminal message_delta and message_stop events.
func (p *streamPump) finish() {
	if p.blockType == blockNone && p.blockIndex < 0 {
		// Upstream produced nothing; the client still gets a complete,
		// well-formed message.
		p.sendEvent("content_block_start", map[string]any{
			"index":         0,
			"content_block": map[string]string{"type": "text", "text": ""},
		})
		p.sendEvent("content_block_stop", map[string]any{"index": 0})
	} else {
		p.closeOpenBlock()
	}

	usage := map[string]int{"output_tokens": 0}
	if p.usage != nil {
		usage["output_tokens"] = p.usage.CompletionTokens
	}
	p.sendEvent("message_delta", map[string]any{
		"delta": map[string]any{"stop_reason": p.finishReason, "stop_sequence": nil},
		"usage": usage,
	})
	p.sendEvent("message_stop", map[string]any{})
}

// sendEvent writes one SSE frame and flushes it. The flush is what couples
// upstream reads to the client's pace.
func (p *streamPump) sendEvent(eventType string, data any) {
	payload, err := json.Marshal(withType(eventType, data))
	if err != nil {
		log.Debug().Err(err).Str("event", eventType).Msg("failed to encode stream event")
		return
	}
	fmt.Fprintf(p.w, "event: %s\ndata: %s\n\n", eventType, payload)
	p.flusher.Flush()
	p.eventsSent++
}

// withType injects the event type discriminator into the payload.
func withType(eventType string, data any) any {
	switch v := data.(type) {
	case map[string]any:
		v["type"] = eventType
		return v
	default:
		return data
	}
}
