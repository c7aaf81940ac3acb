package dialect

import "encoding/json"

// OpenAIStreamChunk is one "data: {...}" line of an OpenAI Chat
// Completions SSE stream.
type OpenAIStreamChunk struct {
	ID      string              `json:"id"`
	Model   string              `json:"model"`
	Choices []OpenAIStreamChoice `json:"choices"`
	Usage   *OpenAIUsage        `json:"usage"`
}

type OpenAIUsage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

type OpenAIStreamChoice struct {
	Index        int              `json:"index"`
	Delta        OpenAIStreamDelta `json:"delta"`
	FinishReason string           `json:"finish_reason"`
}

// OpenAIStreamDelta's ReasoningContent is left as raw JSON since it can
// arrive either as a bare string or as a {thinking, signature} object.
type OpenAIStreamDelta struct {
	Role             string               `json:"role"`
	Content          string               `json:"content"`
	ToolCalls        []OpenAIToolCallDelta `json:"tool_calls"`
	ReasoningContent json.RawMessage      `json:"reasoning_content"`
}

type OpenAIToolCallDelta struct {
	Index    int                          `json:"index"`
	ID       string                       `json:"id"`
	CallType string                       `json:"type"`
	Function *OpenAIToolCallFunctionDelta `json:"function"`
}

type OpenAIToolCallFunctionDelta struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// OpenAIReasoningContentDelta is the structured form of
// OpenAIStreamDelta.ReasoningContent.
type OpenAIReasoningContentDelta struct {
	Thinking  string `json:"thinking"`
	Signature string `json:"signature"`
}
