// Package transcoder turns an OpenAI Chat Completions SSE stream into an
// Anthropic Messages SSE stream, chunk by chunk, without buffering the
// whole response.
package transcoder

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	"github.com/Luji7/llm-gateway/internal/dialect"
	"github.com/Luji7/llm-gateway/internal/translate"
)

// Event is one outgoing Anthropic SSE frame.
type Event struct {
	Name string
	Data []byte
}

// Bytes renders the event in "event: <name>\ndata: <json>\n\n" form.
func (e Event) Bytes() []byte {
	var b strings.Builder
	b.WriteString("event: ")
	b.WriteString(e.Name)
	b.WriteString("\ndata: ")
	b.Write(e.Data)
	b.WriteString("\n\n")
	return []byte(b.String())
}

func newEvent(name string, payload map[string]any) Event {
	b, _ := json.Marshal(payload)
	return Event{Name: name, Data: b}
}

type toolCallState struct {
	id         string
	name       string
	arguments  strings.Builder
	blockIndex int
	started    bool
	stopped    bool
}

// Transcoder holds the running state of one stream conversion. It is not
// safe for concurrent use; one is created per upstream stream.
type Transcoder struct {
	started             bool
	messageID           string
	model               string
	nextIndex           int
	textBlockIndex      int
	haveTextBlock       bool
	thinkingBlockIndex  int
	haveThinkingBlock   bool
	toolCalls           map[int]*toolCallState
	toolOrder           []int
	outputText          strings.Builder
	reasoningText       strings.Builder
	reasoningSignature  string
}

// New creates a fresh transcoder.
func New() *Transcoder {
	return &Transcoder{
		textBlockIndex:     -1,
		thinkingBlockIndex: -1,
		toolCalls:          make(map[int]*toolCallState),
	}
}

// HandleLine processes one raw line of the upstream SSE body. Lines
// without the "data:" prefix, and blank lines, are ignored. The literal
// payload "[DONE]" is reported via done=true, as is a chunk carrying a
// finish_reason (see HandleChunk); at that point the caller should call
// Flush and then emit a message_stop event.
func (t *Transcoder) HandleLine(line string) (events []Event, done bool, terr *translate.Error) {
	line = strings.TrimRight(line, "\r")
	if line == "" || !strings.HasPrefix(line, "data:") {
		return nil, false, nil
	}
	data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
	if data == "[DONE]" {
		return nil, true, nil
	}

	var chunk dialect.OpenAIStreamChunk
	if err := json.Unmarshal([]byte(data), &chunk); err != nil {
		return nil, false, translate.InvalidRequest("invalid stream chunk: %s", err)
	}
	return t.HandleChunk(chunk)
}

// HandleChunk applies one decoded OpenAI stream chunk and returns the
// Anthropic SSE events it produces, in emission order. done is true when
// the chunk carried a finish_reason: open blocks have then been flushed
// and a message_delta emitted.
func (t *Transcoder) HandleChunk(chunk dialect.OpenAIStreamChunk) ([]Event, bool, *translate.Error) {
	var events []Event

	if !t.started {
		t.started = true
		t.messageID = chunk.ID
		if t.messageID == "" {
			t.messageID = "msg_stream_" + uuid.New().String()
		}
		t.model = chunk.Model
		events = append(events, newEvent("message_start", map[string]any{
			"type": "message_start",
			"message": map[string]any{
				"id":            t.messageID,
				"type":          "message",
				"role":          "assistant",
				"content":       []any{},
				"model":         t.model,
				"stop_reason":   nil,
				"stop_sequence": nil,
				"usage": map[string]any{
					"input_tokens":                0,
					"output_tokens":               0,
					"cache_creation_input_tokens": 0,
					"cache_read_input_tokens":     0,
				},
			},
		}))
	}

	if len(chunk.Choices) == 0 {
		return events, false, nil
	}
	choice := chunk.Choices[0]
	delta := choice.Delta

	if delta.Content != "" {
		t.outputText.WriteString(delta.Content)
		index := t.ensureTextBlock(&events)
		events = append(events, newEvent("content_block_delta", map[string]any{
			"type":  "content_block_delta",
			"index": index,
			"delta": map[string]any{"type": "text_delta", "text": delta.Content},
		}))
	}

	if len(delta.ReasoningContent) > 0 && string(delta.ReasoningContent) != "null" {
		if err := t.handleReasoningDelta(delta.ReasoningContent, &events); err != nil {
			return events, false, err
		}
	}

	for _, call := range delta.ToolCalls {
		t.handleToolCallDelta(call, &events)
	}

	if choice.FinishReason != "" {
		flushed, terr := t.Flush()
		events = append(events, flushed...)
		if terr != nil {
			return events, false, terr
		}
		stopReason := mapFinishReason(choice.FinishReason)
		events = append(events, newEvent("message_delta", map[string]any{
			"type":  "message_delta",
			"delta": map[string]any{"stop_reason": stopReason},
			"usage": map[string]any{"output_tokens": 0},
		}))
		return events, true, nil
	}

	return events, false, nil
}

func (t *Transcoder) handleReasoningDelta(raw json.RawMessage, events *[]Event) *translate.Error {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return nil
	}
	if trimmed[0] == '{' {
		var delta dialect.OpenAIReasoningContentDelta
		if err := json.Unmarshal(raw, &delta); err != nil {
			return translate.InvalidRequest("invalid reasoning_content delta: %s", err)
		}
		index := t.ensureThinkingBlock(events)
		if delta.Thinking != "" {
			t.reasoningText.WriteString(delta.Thinking)
			*events = append(*events, newEvent("content_block_delta", map[string]any{
				"type":  "content_block_delta",
				"index": index,
				"delta": map[string]any{"type": "thinking_delta", "thinking": delta.Thinking},
			}))
		}
		if delta.Signature != "" {
			t.reasoningSignature = delta.Signature
			*events = append(*events, newEvent("content_block_delta", map[string]any{
				"type":  "content_block_delta",
				"index": index,
				"delta": map[string]any{"type": "signature_delta", "signature": delta.Signature},
			}))
		}
		return nil
	}

	var thinking string
	if err := json.Unmarshal(raw, &thinking); err != nil {
		return translate.InvalidRequest("invalid reasoning_content delta: %s", err)
	}
	if thinking == "" {
		return nil
	}
	t.reasoningText.WriteString(thinking)
	index := t.ensureThinkingBlock(events)
	*events = append(*events, newEvent("content_block_delta", map[string]any{
		"type":  "content_block_delta",
		"index": index,
		"delta": map[string]any{"type": "thinking_delta", "thinking": thinking},
	}))
	return nil
}

func (t *Transcoder) handleToolCallDelta(call dialect.OpenAIToolCallDelta, events *[]Event) {
	entry, ok := t.toolCalls[call.Index]
	if !ok {
		entry = &toolCallState{blockIndex: t.nextIndex}
		t.nextIndex++
		t.toolCalls[call.Index] = entry
		t.toolOrder = append(t.toolOrder, call.Index)
	}

	if call.ID != "" {
		entry.id = call.ID
	}
	if call.Function != nil {
		if call.Function.Name != "" {
			entry.name = call.Function.Name
		}
		if call.Function.Arguments != "" {
			entry.arguments.WriteString(call.Function.Arguments)
			if entry.started {
				*events = append(*events, newEvent("content_block_delta", map[string]any{
					"type":  "content_block_delta",
					"index": entry.blockIndex,
					"delta": map[string]any{"type": "input_json_delta", "partial_json": call.Function.Arguments},
				}))
			}
		}
	}

	if !entry.started && entry.id == "" && entry.name != "" {
		entry.id = "toolu_" + uuid.New().String()
	}
	if !entry.started && entry.id != "" && entry.name != "" {
		entry.started = true
		*events = append(*events, newEvent("content_block_start", map[string]any{
			"type":  "content_block_start",
			"index": entry.blockIndex,
			"content_block": map[string]any{
				"type":  "tool_use",
				"id":    entry.id,
				"name":  entry.name,
				"input": map[string]any{},
			},
		}))
		if buffered := entry.arguments.String(); buffered != "" {
			*events = append(*events, newEvent("content_block_delta", map[string]any{
				"type":  "content_block_delta",
				"index": entry.blockIndex,
				"delta": map[string]any{"type": "input_json_delta", "partial_json": buffered},
			}))
		}
	}
}

func (t *Transcoder) ensureTextBlock(events *[]Event) int {
	if t.haveTextBlock {
		return t.textBlockIndex
	}
	t.textBlockIndex = t.nextIndex
	t.nextIndex++
	t.haveTextBlock = true
	*events = append(*events, newEvent("content_block_start", map[string]any{
		"type":          "content_block_start",
		"index":         t.textBlockIndex,
		"content_block": map[string]any{"type": "text", "text": ""},
	}))
	return t.textBlockIndex
}

func (t *Transcoder) ensureThinkingBlock(events *[]Event) int {
	if t.haveThinkingBlock {
		return t.thinkingBlockIndex
	}
	t.thinkingBlockIndex = t.nextIndex
	t.nextIndex++
	t.haveThinkingBlock = true
	*events = append(*events, newEvent("content_block_start", map[string]any{
		"type":          "content_block_start",
		"index":         t.thinkingBlockIndex,
		"content_block": map[string]any{"type": "thinking", "thinking": "", "signature": ""},
	}))
	return t.thinkingBlockIndex
}

// Flush closes every open content block. Called both when a finish_reason
// arrives mid-stream and at the terminal [DONE]. Tool-call sub-states that
// reached "started" must have accumulated valid, non-empty JSON arguments
// by the time they're flushed.
func (t *Transcoder) Flush() ([]Event, *translate.Error) {
	var events []Event

	if t.haveTextBlock {
		events = append(events, newEvent("content_block_stop", map[string]any{
			"type": "content_block_stop", "index": t.textBlockIndex,
		}))
		t.haveTextBlock = false
	}
	if t.haveThinkingBlock {
		events = append(events, newEvent("content_block_stop", map[string]any{
			"type": "content_block_stop", "index": t.thinkingBlockIndex,
		}))
		t.haveThinkingBlock = false
	}

	for _, idx := range t.toolOrder {
		tool := t.toolCalls[idx]
		if tool.started {
			args := tool.arguments.String()
			if args == "" {
				return events, translate.InvalidRequest("tool_use arguments empty")
			}
			var v any
			if err := json.Unmarshal([]byte(args), &v); err != nil {
				return events, translate.InvalidRequest("tool_use arguments invalid json")
			}
		}
		if !tool.stopped {
			events = append(events, newEvent("content_block_stop", map[string]any{
				"type": "content_block_stop", "index": tool.blockIndex,
			}))
			tool.stopped = true
		}
	}

	return events, nil
}

// MessageStop builds the terminal message_stop event, emitted once after
// the stream reports done=true and the accompanying Flush.
func MessageStop() Event {
	return newEvent("message_stop", map[string]any{"type": "message_stop"})
}

// ErrorEvent builds the terminal error event for a stream that failed
// mid-flight.
func ErrorEvent(terr *translate.Error) Event {
	return newEvent("error", map[string]any{
		"type": "error",
		"error": map[string]any{
			"type":    string(terr.Kind),
			"message": terr.Message,
		},
	})
}

func mapFinishReason(reason string) string {
	switch reason {
	case "stop", "":
		return "end_turn"
	case "length":
		return "max_tokens"
	case "tool_calls":
		return "tool_use"
	default:
		return "end_turn"
	}
}
