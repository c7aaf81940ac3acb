package transcoder

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Luji7/llm-gateway/internal/dialect"
)

func names(events []Event) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.Name
	}
	return out
}

func TestTranscoderTextDeltaSequence(t *testing.T) {
	tc := New()

	chunk := dialect.OpenAIStreamChunk{
		ID:    "c",
		Model: "m",
		Choices: []dialect.OpenAIStreamChoice{
			{Index: 0, Delta: dialect.OpenAIStreamDelta{Role: "assistant", Content: "Hi"}},
		},
	}
	events, done, terr := tc.HandleChunk(chunk)
	require.Nil(t, terr)
	require.False(t, done)
	assert.Equal(t, []string{"message_start", "content_block_start", "content_block_delta"}, names(events))

	flushed, terr := tc.Flush()
	require.Nil(t, terr)
	assert.Equal(t, []string{"content_block_stop"}, names(flushed))

	stop := MessageStop()
	assert.Equal(t, "message_stop", stop.Name)
}

func TestTranscoderFirstChunkEmitsMessageStart(t *testing.T) {
	tc := New()
	chunk := dialect.OpenAIStreamChunk{ID: "chatcmpl-1", Model: "gpt-4o-mini"}
	events, done, terr := tc.HandleChunk(chunk)
	require.Nil(t, terr)
	require.False(t, done)
	require.Len(t, events, 1)
	assert.Equal(t, "message_start", events[0].Name)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(events[0].Data, &decoded))
	msg := decoded["message"].(map[string]any)
	assert.Equal(t, "chatcmpl-1", msg["id"])
	assert.Equal(t, "gpt-4o-mini", msg["model"])
}

func TestTranscoderToolCallCompleteInOneChunk(t *testing.T) {
	tc := New()
	chunk := dialect.OpenAIStreamChunk{
		ID: "c", Model: "m",
		Choices: []dialect.OpenAIStreamChoice{
			{
				Index: 0,
				Delta: dialect.OpenAIStreamDelta{
					ToolCalls: []dialect.OpenAIToolCallDelta{
						{
							Index: 0, ID: "call_1", CallType: "function",
							Function: &dialect.OpenAIToolCallFunctionDelta{
								Name:      "get_weather",
								Arguments: `{"location":"北京"}`,
							},
						},
					},
				},
				FinishReason: "tool_calls",
			},
		},
	}

	events, done, terr := tc.HandleChunk(chunk)
	require.Nil(t, terr)
	require.True(t, done)

	var startEvent, deltaEvent, stopEvent, deltaFinal Event
	for _, e := range events {
		switch e.Name {
		case "content_block_start":
			startEvent = e
		case "content_block_delta":
			if deltaEvent.Name == "" {
				deltaEvent = e
			}
		case "content_block_stop":
			stopEvent = e
		case "message_delta":
			deltaFinal = e
		}
	}
	require.NotEmpty(t, startEvent.Name)
	require.NotEmpty(t, deltaEvent.Name)
	require.NotEmpty(t, stopEvent.Name)
	require.NotEmpty(t, deltaFinal.Name)

	assert.Contains(t, string(startEvent.Data), `"tool_use"`)
	assert.Contains(t, string(startEvent.Data), `"call_1"`)
	assert.Contains(t, string(startEvent.Data), `"get_weather"`)
	assert.Contains(t, string(deltaEvent.Data), `input_json_delta`)
	assert.Contains(t, string(deltaEvent.Data), `北京`)
	assert.Contains(t, string(deltaFinal.Data), `"tool_use"`)
}

func TestTranscoderToolCallGatesOnBothIDAndName(t *testing.T) {
	tc := New()
	// id arrives before name: no content_block_start should fire yet.
	chunk1 := dialect.OpenAIStreamChunk{
		ID: "c", Model: "m",
		Choices: []dialect.OpenAIStreamChoice{
			{Index: 0, Delta: dialect.OpenAIStreamDelta{
				ToolCalls: []dialect.OpenAIToolCallDelta{
					{Index: 0, ID: "call_1", Function: &dialect.OpenAIToolCallFunctionDelta{Arguments: `{"loc`}},
				},
			}},
		},
	}
	events1, _, terr := tc.HandleChunk(chunk1)
	require.Nil(t, terr)
	for _, e := range events1 {
		assert.NotEqual(t, "content_block_start", e.Name)
	}

	chunk2 := dialect.OpenAIStreamChunk{
		ID: "c", Model: "m",
		Choices: []dialect.OpenAIStreamChoice{
			{Index: 0, Delta: dialect.OpenAIStreamDelta{
				ToolCalls: []dialect.OpenAIToolCallDelta{
					{Index: 0, Function: &dialect.OpenAIToolCallFunctionDelta{Name: "get_weather", Arguments: `ation":"x"}`}},
				},
			}},
		},
	}
	events2, _, terr2 := tc.HandleChunk(chunk2)
	require.Nil(t, terr2)

	var started bool
	var bufferedDelta string
	for _, e := range events2 {
		if e.Name == "content_block_start" {
			started = true
		}
		if e.Name == "content_block_delta" {
			bufferedDelta = string(e.Data)
		}
	}
	require.True(t, started, "content_block_start should fire once both id and name are known")
	assert.Contains(t, bufferedDelta, `{"loc`)
}

func TestTranscoderFlushRejectsEmptyToolArguments(t *testing.T) {
	tc := New()
	chunk := dialect.OpenAIStreamChunk{
		ID: "c", Model: "m",
		Choices: []dialect.OpenAIStreamChoice{
			{Index: 0, Delta: dialect.OpenAIStreamDelta{
				ToolCalls: []dialect.OpenAIToolCallDelta{
					{Index: 0, ID: "call_1", Function: &dialect.OpenAIToolCallFunctionDelta{Name: "get_weather"}},
				},
			}},
		},
	}
	_, _, terr := tc.HandleChunk(chunk)
	require.Nil(t, terr)

	_, terr2 := tc.Flush()
	require.NotNil(t, terr2)
	assert.Equal(t, "tool_use arguments empty", terr2.Message)
}

func TestTranscoderFlushRejectsInvalidToolJSON(t *testing.T) {
	tc := New()
	chunk := dialect.OpenAIStreamChunk{
		ID: "c", Model: "m",
		Choices: []dialect.OpenAIStreamChoice{
			{Index: 0, Delta: dialect.OpenAIStreamDelta{
				ToolCalls: []dialect.OpenAIToolCallDelta{
					{Index: 0, ID: "call_1", Function: &dialect.OpenAIToolCallFunctionDelta{
						Name: "get_weather", Arguments: `{not json`,
					}},
				},
			}},
		},
	}
	_, _, terr := tc.HandleChunk(chunk)
	require.Nil(t, terr)

	_, terr2 := tc.Flush()
	require.NotNil(t, terr2)
	assert.Equal(t, "tool_use arguments invalid json", terr2.Message)
}

func TestTranscoderReasoningObjectForm(t *testing.T) {
	tc := New()
	chunk := dialect.OpenAIStreamChunk{
		ID: "c", Model: "m",
		Choices: []dialect.OpenAIStreamChoice{
			{Index: 0, Delta: dialect.OpenAIStreamDelta{
				ReasoningContent: json.RawMessage(`{"thinking":"Step one","signature":"sig"}`),
			}},
		},
	}
	events, _, terr := tc.HandleChunk(chunk)
	require.Nil(t, terr)

	var sawThinkingDelta, sawSignatureDelta bool
	for _, e := range events {
		if e.Name == "content_block_delta" {
			if strings.Contains(string(e.Data), "thinking_delta") {
				sawThinkingDelta = true
			}
			if strings.Contains(string(e.Data), "signature_delta") {
				sawSignatureDelta = true
			}
		}
	}
	assert.True(t, sawThinkingDelta)
	assert.True(t, sawSignatureDelta)
}

func TestTranscoderReasoningStringForm(t *testing.T) {
	tc := New()
	chunk := dialect.OpenAIStreamChunk{
		ID: "c", Model: "m",
		Choices: []dialect.OpenAIStreamChoice{
			{Index: 0, Delta: dialect.OpenAIStreamDelta{
				ReasoningContent: json.RawMessage(`"Trace text"`),
			}},
		},
	}
	events, _, terr := tc.HandleChunk(chunk)
	require.Nil(t, terr)
	require.Len(t, events, 3)
	assert.Contains(t, string(events[2].Data), "Trace text")
}

func TestTranscoderHandleLineIgnoresNonDataLines(t *testing.T) {
	tc := New()
	events, done, terr := tc.HandleLine("")
	require.Nil(t, terr)
	require.False(t, done)
	require.Empty(t, events)

	events, done, terr = tc.HandleLine(": comment")
	require.Nil(t, terr)
	require.False(t, done)
	require.Empty(t, events)
}

func TestTranscoderHandleLineDetectsDone(t *testing.T) {
	tc := New()
	_, done, terr := tc.HandleLine("data: [DONE]")
	require.Nil(t, terr)
	require.True(t, done)
}

func TestTranscoderHandleLineRejectsMalformedChunk(t *testing.T) {
	tc := New()
	_, _, terr := tc.HandleLine("data: {not json")
	require.NotNil(t, terr)
	assert.Contains(t, terr.Message, "invalid stream chunk")
}
