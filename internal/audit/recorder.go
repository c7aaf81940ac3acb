// Package audit implements the gateway's JSONL request/response audit
// log: a bounded single-producer-single-consumer queue drained by one
// worker goroutine, with size-based file rotation.
package audit

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Message is the request or response half of a Record.
type Message struct {
	Headers map[string]string `json:"headers"`
	Body    json.RawMessage   `json:"body"`
}

// Response is the response half of a Record; it additionally carries
// the HTTP status.
type Response struct {
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers"`
	Body    json.RawMessage   `json:"body"`
}

// Meta carries the fields useful for filtering/aggregating audit
// records without parsing the bodies.
type Meta struct {
	Model          *string `json:"model,omitempty"`
	Stream         *bool   `json:"stream,omitempty"`
	BodyTruncated  bool    `json:"body_truncated"`
	BodyParseError bool    `json:"body_parse_error"`
}

// Record is one finished request, serialised as a single JSON line.
type Record struct {
	TsStartMs int64    `json:"ts_start_ms"`
	TsEndMs   int64    `json:"ts_end_ms"`
	RequestID string   `json:"request_id"`
	Route     string   `json:"route"`
	Mode      string   `json:"mode"`
	Method    string   `json:"method"`
	Request   Message  `json:"request"`
	Response  Response `json:"response"`
	Meta      Meta     `json:"meta"`
}

// Context accumulates the fields known at request start; Finish closes
// it out into a Record once the response is known. Mirrors the
// start/finish split so the pipeline never has to thread every field
// through the call chain by hand.
type Context struct {
	TsStartMs      int64
	RequestID      string
	Route          string
	Mode           string
	Method         string
	RequestHeaders map[string]string
	RequestBody    json.RawMessage
	Model          *string
	Stream         *bool
}

// Finish builds the terminal Record. bodyTruncated reflects whether the
// pass-through relay's body tee hit audit.max_body_bytes; bodyParseError
// reflects whether the response body failed to parse as JSON (recorded
// as a JSON null in that case, see ParseBody).
func (c Context) Finish(status int, responseHeaders map[string]string, responseBody json.RawMessage, bodyParseError, bodyTruncated bool, tsEndMs int64) Record {
	return Record{
		TsStartMs: c.TsStartMs,
		TsEndMs:   tsEndMs,
		RequestID: c.RequestID,
		Route:     c.Route,
		Mode:      c.Mode,
		Method:    c.Method,
		Request: Message{
			Headers: c.RequestHeaders,
			Body:    c.RequestBody,
		},
		Response: Response{
			Status:  status,
			Headers: responseHeaders,
			Body:    responseBody,
		},
		Meta: Meta{
			Model:          c.Model,
			Stream:         c.Stream,
			BodyTruncated:  bodyTruncated,
			BodyParseError: bodyParseError,
		},
	}
}

// ParseBody attempts to parse raw as a JSON value for audit capture.
// On failure it returns a JSON null with parseError=true rather than
// rejecting the record: the audit log always gets a line even for a
// non-JSON or truncated body.
func ParseBody(raw []byte) (json.RawMessage, bool) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return json.RawMessage("null"), true
	}
	return json.RawMessage(raw), false
}

// RedactHeaders copies h into a plain map, replacing any Authorization
// value with the literal "[redacted]" regardless of case.
func RedactHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for name, values := range h {
		if strings.EqualFold(name, "Authorization") {
			out[name] = "[redacted]"
			continue
		}
		out[name] = strings.Join(values, ", ")
	}
	return out
}

const queueCapacity = 256

// Recorder owns the audit queue and its single draining worker. Push is
// non-blocking: a full queue drops the record rather than applying
// backpressure to the request path.
type Recorder struct {
	queue        chan Record
	basePath     string
	maxFileBytes int64
}

// NewRecorder starts the worker goroutine and returns immediately. If
// the initial log file can't be opened, the worker logs the error and
// exits; once the queue fills, every later Push is dropped with a
// warning (each send hits the non-blocking default case).
func NewRecorder(basePath string, maxFileBytes int64) *Recorder {
	r := &Recorder{
		queue:        make(chan Record, queueCapacity),
		basePath:     basePath,
		maxFileBytes: maxFileBytes,
	}
	go r.run()
	return r
}

// Push enqueues a finished record. Never blocks.
func (r *Recorder) Push(rec Record) {
	select {
	case r.queue <- rec:
	default:
		logrus.Warn("audit queue full, dropping record")
	}
}

func (r *Recorder) run() {
	path := buildLogPath(r.basePath)
	file, err := openLogFile(path)
	if err != nil {
		logrus.WithError(err).Error("audit log open error")
		return
	}
	defer file.Close()

	var currentSize int64
	if info, err := file.Stat(); err == nil {
		currentSize = info.Size()
	}

	for rec := range r.queue {
		line, err := json.Marshal(rec)
		if err != nil {
			logrus.WithError(err).Error("audit record marshal error")
			continue
		}

		projected := currentSize + int64(len(line)) + 1
		if projected > r.maxFileBytes {
			rotated, err := openLogFile(buildLogPath(r.basePath))
			if err != nil {
				logrus.WithError(err).Error("audit log rotate error")
			} else {
				file.Close()
				file = rotated
				currentSize = 0
			}
		}

		if _, err := file.Write(append(line, '\n')); err != nil {
			logrus.WithError(err).Error("audit log write error")
			continue
		}
		currentSize += int64(len(line)) + 1
	}
}

// buildLogPath derives a rotated file name from base by replacing a
// trailing ".jsonl" with ".<unix_ms>-<uuid>.jsonl", or appending
// ".<unix_ms>-<uuid>" when base doesn't end in ".jsonl". The uuid suffix
// keeps two rotations landing in the same millisecond from colliding.
func buildLogPath(base string) string {
	ts := time.Now().UnixMilli()
	suffix := uuid.New().String()[:8]
	if stripped, ok := strings.CutSuffix(base, ".jsonl"); ok {
		return fmt.Sprintf("%s.%d-%s.jsonl", stripped, ts, suffix)
	}
	return fmt.Sprintf("%s.%d-%s", base, ts, suffix)
}

func openLogFile(path string) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
}
