// Package passthrough implements the gateway's pass-through relay
// (spec §4.5): request bytes flow to an Anthropic-dialect upstream
// unmodified, and the response is byte-forwarded back, with a bounded
// tee into the audit buffer for streaming responses.
package passthrough

import (
	"bytes"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// BuildRequest constructs the outbound proxy request for targetURL.
// The Host header is rewritten to targetURL's host[:port]; the
// incoming Host and Content-Length headers are dropped (the transport
// sets Content-Length itself from body, and Host is set via req.Host);
// every other incoming header, including Authorization, is forwarded
// verbatim.
func BuildRequest(method, targetURL string, body []byte, incoming http.Header) (*http.Request, error) {
	req, err := http.NewRequest(method, targetURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	for key, values := range incoming {
		switch strings.ToLower(key) {
		case "host", "content-length":
			continue
		default:
			for _, v := range values {
				req.Header.Add(key, v)
			}
		}
	}

	if u, err := url.Parse(targetURL); err == nil {
		req.Host = u.Host
	}

	return req, nil
}

// IsStreamResponse reports whether resp should be relayed as an SSE
// stream rather than collected whole. A non-success status at stream
// initiation is treated as non-stream per spec.md §4.5.
func IsStreamResponse(resp *http.Response) bool {
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false
	}
	return strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream")
}

// TruncatingBuffer accumulates bytes up to a fixed limit. Once the
// limit would be exceeded, further writes are dropped and Truncated
// latches true; the writer's return value is unaffected so callers can
// keep using it as a tee target without short-circuiting the copy it's
// attached to.
type TruncatingBuffer struct {
	limit     int64
	buf       bytes.Buffer
	truncated bool
}

// NewTruncatingBuffer creates a buffer capped at limit bytes.
func NewTruncatingBuffer(limit int64) *TruncatingBuffer {
	return &TruncatingBuffer{limit: limit}
}

func (t *TruncatingBuffer) Write(p []byte) (int, error) {
	if !t.truncated && int64(t.buf.Len())+int64(len(p)) <= t.limit {
		t.buf.Write(p)
	} else {
		t.truncated = true
	}
	return len(p), nil
}

// Bytes returns the bytes captured so far.
func (t *TruncatingBuffer) Bytes() []byte { return t.buf.Bytes() }

// Truncated reports whether the limit was hit.
func (t *TruncatingBuffer) Truncated() bool { return t.truncated }

// CopyStream copies src to dst in fixed-size chunks, invoking flush
// after every write that reaches the client and teeing each chunk into
// audit. Mirrors the teacher's own streaming relay loop (read into a
// 4096-byte buffer, write, flush, stop on EOF) with the audit tee
// layered on top.
func CopyStream(dst io.Writer, flush func(), src io.Reader, audit *TruncatingBuffer) error {
	buf := make([]byte, 4096)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return werr
			}
			if flush != nil {
				flush()
			}
			audit.Write(buf[:n])
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
