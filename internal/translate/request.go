package translate

import (
	"encoding/json"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/packages/param"
	"github.com/openai/openai-go/v3/shared"

	"github.com/Luji7/llm-gateway/internal/config"
	"github.com/Luji7/llm-gateway/internal/dialect"
)

// RequestToOpenAI converts an Anthropic Messages request into an OpenAI
// Chat Completions request. ext carries the gateway-only fields (stream,
// output_format) that have no home in anthropic.MessageNewParams because
// they aren't part of the upstream Anthropic API. Model substitution
// (model_map) is the pipeline's job and is expected to already be
// reflected in req.Model by the time this is called.
func RequestToOpenAI(req *anthropic.MessageNewParams, ext dialect.RequestExtensions, cfg *config.Config) (*openai.ChatCompletionNewParams, *Error) {
	reasoningEffort := mapReasoningEffort(req.Thinking, cfg)
	includeReasoning := reasoningEffort != ""

	out := &openai.ChatCompletionNewParams{
		Model:               openai.ChatModel(req.Model),
		MaxCompletionTokens: openai.Opt(req.MaxTokens),
	}

	if req.Temperature.Valid() {
		out.Temperature = req.Temperature
	}
	if req.TopP.Valid() {
		out.TopP = req.TopP
	}
	if len(req.StopSequences) > 0 {
		out.Stop = openai.ChatCompletionNewParamsStopUnion{OfStringArray: req.StopSequences}
	}
	if reasoningEffort != "" {
		out.ReasoningEffort = shared.ReasoningEffort(reasoningEffort)
	}
	if ext.Stream != nil {
		out.StreamOptions = openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: openai.Opt(*ext.Stream),
		}
	}

	for _, msg := range req.Messages {
		role := string(msg.Role)
		if role != "user" && role != "assistant" {
			return nil, invalidRequest("messages: Unexpected role %q", role)
		}
		converted, terr := convertMessage(role, msg.Content, cfg, includeReasoning)
		if terr != nil {
			return nil, terr
		}
		out.Messages = append(out.Messages, converted...)
	}

	if len(req.System) > 0 {
		systemText := systemBlocksToString(req.System)
		if systemText != "" {
			out.Messages = append([]openai.ChatCompletionMessageParamUnion{openai.SystemMessage(systemText)}, out.Messages...)
		}
	}

	if len(req.Tools) > 0 {
		out.Tools = convertTools(req.Tools)
	}
	if req.ToolChoice.OfAuto != nil || req.ToolChoice.OfTool != nil || req.ToolChoice.OfAny != nil {
		out.ToolChoice = convertToolChoice(&req.ToolChoice)
	}

	if ext.OutputFormat != nil {
		rf, terr := convertOutputFormat(ext.OutputFormat, cfg.Models.OutputStrict)
		if terr != nil {
			return nil, terr
		}
		out.ResponseFormat = rf
	}

	return out, nil
}

func systemBlocksToString(blocks []anthropic.TextBlockParam) string {
	var b strings.Builder
	for _, blk := range blocks {
		b.WriteString(blk.Text)
	}
	return b.String()
}

// convertMessage dispatches one Anthropic message's content blocks into
// zero or more OpenAI messages. A bare string content collapses to a
// single plain-string message. Block-sequence content walks each block,
// accumulating parts into "parts" and flushing them into a message
// whenever a tool_result or tool_use block needs its own message slot.
func convertMessage(role string, content []anthropic.ContentBlockParamUnion, cfg *config.Config, includeReasoning bool) ([]openai.ChatCompletionMessageParamUnion, *Error) {
	var out []openai.ChatCompletionMessageParamUnion
	var parts []map[string]any
	var pendingToolCalls []any
	thinkingText := ""
	haveThinking := false

	flush := func() {
		if len(parts) == 0 {
			return
		}
		msg := map[string]any{"role": role}
		if len(parts) == 1 && parts[0]["type"] == "text" {
			msg["content"] = parts[0]["text"]
		} else {
			msg["content"] = parts
		}
		if includeReasoning && role == "assistant" {
			msg["reasoning_content"] = thinkingText
		}
		out = append(out, marshalMessage(msg))
		parts = nil
	}

	// flushToolCalls emits the accumulated tool_use run as a single
	// assistant message in one marshal, the way the Anthropic API emits
	// consecutive tool_use blocks as one assistant turn. Mirrors
	// convertAnthropicAssistantMessageToOpenAI's single msgMap/marshal
	// instead of mutating an already-marshaled union after the fact.
	flushToolCalls := func() {
		if len(pendingToolCalls) == 0 {
			return
		}
		msg := map[string]any{
			"role":       "assistant",
			"tool_calls": pendingToolCalls,
		}
		if includeReasoning {
			msg["reasoning_content"] = thinkingText
		}
		out = append(out, marshalMessage(msg))
		pendingToolCalls = nil
	}

	for _, block := range content {
		switch {
		case block.OfText != nil:
			flushToolCalls()
			parts = append(parts, map[string]any{"type": "text", "text": block.OfText.Text})

		case block.OfImage != nil:
			flushToolCalls()
			if !cfg.Models.AllowImages {
				return nil, invalidRequest("image content not allowed")
			}
			url, terr := imageBlockToDataURL(block.OfImage)
			if terr != nil {
				return nil, terr
			}
			parts = append(parts, map[string]any{
				"type":      "image_url",
				"image_url": map[string]any{"url": url},
			})

		case block.OfDocument != nil:
			flushToolCalls()
			switch cfg.Models.DocumentPolicy {
			case config.DocumentPolicyReject:
				return nil, invalidRequest("document content not supported")
			case config.DocumentPolicyStrip:
				// dropped silently, matching the reject/strip/text_only trichotomy
			case config.DocumentPolicyTextOnly:
				parts = append(parts, map[string]any{"type": "text", "text": "[document omitted]"})
			}

		case block.OfToolResult != nil:
			flush()
			flushToolCalls()
			text := toolResultContentToString(block.OfToolResult.Content)
			out = append(out, marshalMessage(map[string]any{
				"role":         "tool",
				"tool_call_id": block.OfToolResult.ToolUseID,
				"content":      text,
			}))

		case block.OfToolUse != nil:
			flush()
			if role != "assistant" {
				return nil, invalidRequest("tool_use must be in assistant role")
			}
			argsBytes, err := json.Marshal(block.OfToolUse.Input)
			if err != nil {
				return nil, invalidRequest("tool_use input invalid: %s", err)
			}
			pendingToolCalls = append(pendingToolCalls, map[string]any{
				"id":   block.OfToolUse.ID,
				"type": "function",
				"function": map[string]any{
					"name":      block.OfToolUse.Name,
					"arguments": string(argsBytes),
				},
			})

		case block.OfThinking != nil:
			thinkingText = block.OfThinking.Thinking
			haveThinking = true

		case block.OfRedactedThinking != nil:
			thinkingText = ""
			haveThinking = true
		}
	}
	_ = haveThinking

	flush()
	flushToolCalls()
	return out, nil
}

func marshalMessage(m map[string]any) openai.ChatCompletionMessageParamUnion {
	b, _ := json.Marshal(m)
	var out openai.ChatCompletionMessageParamUnion
	_ = json.Unmarshal(b, &out)
	return out
}

// imageBlockToDataURL accepts only base64 image sources: per the gateway's
// own resolution of the ambiguous source.type question, anything else
// (e.g. a URL source) is rejected rather than guessed at.
func imageBlockToDataURL(img *anthropic.ImageBlockParam) (string, *Error) {
	switch {
	case img.Source.OfBase64 != nil:
		src := img.Source.OfBase64
		if src.MediaType == "" {
			return "", invalidRequest("image media_type missing")
		}
		if src.Data == "" {
			return "", invalidRequest("image data missing")
		}
		return "data:" + string(src.MediaType) + ";base64," + src.Data, nil
	case img.Source.OfURL != nil:
		return "", invalidRequest("image source.type \"url\" is not supported")
	default:
		return "", invalidRequest("image source.type is not supported")
	}
}

func toolResultContentToString(content []anthropic.ToolResultBlockParamContentUnion) string {
	var b strings.Builder
	for _, c := range content {
		if c.OfText != nil {
			b.WriteString(c.OfText.Text)
		}
	}
	return b.String()
}

func convertTools(tools []anthropic.ToolUnionParam) []openai.ChatCompletionToolUnionParam {
	out := make([]openai.ChatCompletionToolUnionParam, 0, len(tools))
	for _, t := range tools {
		tool := t.OfTool
		if tool == nil {
			continue
		}
		var parameters map[string]any
		if tool.InputSchema.Properties != nil || len(tool.InputSchema.Required) > 0 {
			parameters = map[string]any{"type": "object"}
			if tool.InputSchema.Properties != nil {
				parameters["properties"] = tool.InputSchema.Properties
			}
			if len(tool.InputSchema.Required) > 0 {
				parameters["required"] = tool.InputSchema.Required
			}
		}
		out = append(out, openai.ChatCompletionFunctionTool(shared.FunctionDefinitionParam{
			Name:        tool.Name,
			Description: param.Opt[string]{Value: tool.Description.Value},
			Parameters:  parameters,
		}))
	}
	return out
}

// convertToolChoice maps Anthropic tool_choice to OpenAI. "any" (any tool
// must be called) has no direct OpenAI equivalent and resolves to "auto",
// per the gateway's own decision to prefer the spec's literal wording
// over a stricter (but unsupported) "required" mapping.
func convertToolChoice(tc *anthropic.ToolChoiceUnionParam) openai.ChatCompletionToolChoiceOptionUnionParam {
	if tc.OfTool != nil {
		return openai.ToolChoiceOptionFunctionToolChoice(openai.ChatCompletionNamedToolChoiceFunctionParam{
			Name: tc.OfTool.Name,
		})
	}
	return openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: openai.Opt("auto")}
}

func convertOutputFormat(format *dialect.OutputFormat, outputStrict bool) (openai.ChatCompletionNewParamsResponseFormatUnion, *Error) {
	var schema map[string]any
	if len(format.Schema) > 0 {
		if err := json.Unmarshal(format.Schema, &schema); err != nil {
			return openai.ChatCompletionNewParamsResponseFormatUnion{}, invalidRequest("output_format schema invalid: %s", err)
		}
	}
	return openai.ChatCompletionNewParamsResponseFormatUnion{
		OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
			JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
				Schema: schema,
				Strict: openai.Opt(outputStrict),
			},
		},
	}, nil
}

// mapReasoningEffort derives an OpenAI reasoning_effort string from an
// Anthropic thinking directive's budget_tokens, scanning the configured
// threshold table (sorted ascending) in descending order: the effort of
// the largest threshold <= budget wins. No budget or no directive means
// no reasoning effort at all.
func mapReasoningEffort(thinking anthropic.ThinkingConfigParamUnion, cfg *config.Config) string {
	budgetPtr := thinking.GetBudgetTokens()
	if budgetPtr == nil {
		return ""
	}
	budget := *budgetPtr
	pairs := cfg.ThinkingMapPairs()
	for i := len(pairs) - 1; i >= 0; i-- {
		if budget >= pairs[i].Budget {
			return pairs[i].Effort
		}
	}
	return ""
}
