package dialect

import "encoding/json"

// RequestExtensions holds the handful of gateway-only request fields that
// have no place in anthropic.MessageNewParams because they aren't part of
// the upstream Anthropic Messages API: the stream flag (the SDK type is
// built for SDK calls, which pick streaming vs non-streaming by which
// method you invoke, not by a body field) and the output-format schema.
// The HTTP handler decodes the request body into both this struct and
// anthropic.MessageNewParams; translate takes both.
type RequestExtensions struct {
	Stream       *bool         `json:"stream"`
	OutputFormat *OutputFormat `json:"output_format"`
}

// OutputFormat is the gateway's structured-output request, translated to
// an OpenAI json_schema response_format.
type OutputFormat struct {
	Type   string          `json:"type"`
	Schema json.RawMessage `json:"schema"`
}
