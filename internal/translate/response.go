package translate

import (
	"encoding/json"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go/v3"
)

// reasoningContent mirrors the two shapes reasoning_content can take on
// the wire: a structured {thinking, signature} object, or a bare string.
type reasoningContent struct {
	Thinking  string `json:"thinking"`
	Signature string `json:"signature"`
}

// ResponseToAnthropic converts an OpenAI chat completion into an
// Anthropic message response. Block order is fixed: thinking, then
// tool_use, then text, matching the order the content is assembled in
// below.
func ResponseToAnthropic(resp *openai.ChatCompletion) (*anthropic.Message, *Error) {
	if len(resp.Choices) == 0 {
		return nil, apiError("missing choices in response")
	}
	choice := resp.Choices[0]

	var blocks []anthropic.ContentBlockParamUnion

	if raw, ok := reasoningRaw(choice.Message); ok {
		if blk, ok := parseReasoningBlock(raw); ok {
			blocks = append(blocks, blk)
		}
	}

	for _, call := range choice.Message.ToolCalls {
		var input any
		if err := json.Unmarshal([]byte(call.Function.Arguments), &input); err != nil {
			return nil, apiError("invalid tool call arguments: %s", err)
		}
		blocks = append(blocks, anthropic.NewToolUseBlock(call.ID, input, call.Function.Name))
	}

	if choice.Message.Content != "" {
		blocks = append(blocks, anthropic.NewTextBlock(choice.Message.Content))
	}

	if len(blocks) == 0 {
		return nil, apiError("missing assistant content")
	}

	stopReason := mapFinishReason(string(choice.FinishReason))

	envelope := map[string]any{
		"id":            resp.ID,
		"type":          "message",
		"role":          "assistant",
		"model":         resp.Model,
		"content":       blocks,
		"stop_reason":   stopReason,
		"stop_sequence": nil,
		"usage": map[string]any{
			"input_tokens":                resp.Usage.PromptTokens,
			"output_tokens":               resp.Usage.CompletionTokens,
			"cache_creation_input_tokens": 0,
			"cache_read_input_tokens":     0,
		},
	}

	b, err := json.Marshal(envelope)
	if err != nil {
		return nil, apiError("failed to assemble response: %s", err)
	}
	var out anthropic.Message
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, apiError("failed to assemble response: %s", err)
	}
	return &out, nil
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

// reasoningRaw extracts the raw JSON text of the reasoning_content extra
// field the OpenAI SDK leaves unparsed, since it isn't part of the
// standard Chat Completions response shape.
func reasoningRaw(msg openai.ChatCompletionMessage) (string, bool) {
	extra := msg.JSON.ExtraFields
	if extra == nil {
		return "", false
	}
	field, ok := extra["reasoning_content"]
	if !ok {
		return "", false
	}
	raw := field.Raw()
	if raw == "" || raw == "null" {
		return "", false
	}
	return raw, true
}

func parseReasoningBlock(raw string) (anthropic.ContentBlockParamUnion, bool) {
	trimmed := raw
	for len(trimmed) > 0 && (trimmed[0] == ' ' || trimmed[0] == '\t' || trimmed[0] == '\n') {
		trimmed = trimmed[1:]
	}
	if len(trimmed) == 0 {
		return anthropic.ContentBlockParamUnion{}, false
	}
	if trimmed[0] == '{' {
		var parsed reasoningContent
		if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
			return anthropic.ContentBlockParamUnion{}, false
		}
		return anthropic.NewThinkingBlock(parsed.Signature, parsed.Thinking), true
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			return anthropic.ContentBlockParamUnion{}, false
		}
		return anthropic.NewThinkingBlock("auto", s), true
	}
	return anthropic.ContentBlockParamUnion{}, false
}
