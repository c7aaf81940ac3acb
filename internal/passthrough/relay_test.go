package passthrough

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildRequestDropsHostAndContentLength(t *testing.T) {
	incoming := http.Header{}
	incoming.Set("Host", "client.example.com")
	incoming.Set("Content-Length", "123")
	incoming.Set("Authorization", "Bearer sk-test")
	incoming.Set("X-Custom", "yes")

	req, err := BuildRequest(http.MethodPost, "https://api.upstream.test/v1/messages", []byte(`{}`), incoming)
	require.NoError(t, err)

	assert.Equal(t, "api.upstream.test", req.Host)
	assert.Equal(t, "Bearer sk-test", req.Header.Get("Authorization"))
	assert.Equal(t, "yes", req.Header.Get("X-Custom"))
	assert.Empty(t, req.Header.Get("Host"))
}

func TestIsStreamResponseRequiresSuccessAndEventStream(t *testing.T) {
	ok := &http.Response{StatusCode: 200, Header: http.Header{"Content-Type": []string{"text/event-stream"}}}
	assert.True(t, IsStreamResponse(ok))

	notStream := &http.Response{StatusCode: 200, Header: http.Header{"Content-Type": []string{"application/json"}}}
	assert.False(t, IsStreamResponse(notStream))

	failure := &http.Response{StatusCode: 500, Header: http.Header{"Content-Type": []string{"text/event-stream"}}}
	assert.False(t, IsStreamResponse(failure))
}

func TestTruncatingBufferStopsAtLimit(t *testing.T) {
	buf := NewTruncatingBuffer(5)
	n, err := buf.Write([]byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.False(t, buf.Truncated())

	n, err = buf.Write([]byte("defgh"))
	require.NoError(t, err)
	assert.Equal(t, 5, n, "Write always reports the full length so the copy loop isn't short-circuited")
	assert.True(t, buf.Truncated())
	assert.Equal(t, "abc", string(buf.Bytes()))

	_, _ = buf.Write([]byte("more"))
	assert.Equal(t, "abc", string(buf.Bytes()), "writes after truncation are dropped")
}

func TestCopyStreamTeesIntoAuditAndCallsFlush(t *testing.T) {
	src := bytes.NewReader([]byte("hello world"))
	var dst bytes.Buffer
	audit := NewTruncatingBuffer(1 << 10)
	flushCount := 0

	err := CopyStream(&dst, func() { flushCount++ }, src, audit)
	require.NoError(t, err)
	assert.Equal(t, "hello world", dst.String())
	assert.Equal(t, "hello world", string(audit.Bytes()))
	assert.Greater(t, flushCount, 0)
	assert.False(t, audit.Truncated())
}

func TestCopyStreamStopsTeeingAfterAuditLimitButKeepsStreaming(t *testing.T) {
	src := bytes.NewReader([]byte("0123456789"))
	var dst bytes.Buffer
	audit := NewTruncatingBuffer(4)

	err := CopyStream(&dst, nil, src, audit)
	require.NoError(t, err)
	assert.Equal(t, "0123456789", dst.String(), "client still receives every byte")
	assert.True(t, audit.Truncated())
}

type erroringReader struct{}

func (erroringReader) Read(p []byte) (int, error) { return 0, errors.New("boom") }

func TestCopyStreamPropagatesReadError(t *testing.T) {
	var dst bytes.Buffer
	audit := NewTruncatingBuffer(10)
	err := CopyStream(&dst, nil, erroringReader{}, audit)
	assert.Error(t, err)
}

func TestBuildRequestAgainstHTTPTestServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	req, err := BuildRequest(http.MethodPost, srv.URL+"/v1/messages", []byte(`{"ok":true}`), http.Header{})
	require.NoError(t, err)

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, `{"ok":true}`, string(body))
}
