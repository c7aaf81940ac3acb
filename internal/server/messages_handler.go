package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/gin-gonic/gin"
	"github.com/openai/openai-go/v3"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Luji7/llm-gateway/internal/apperror"
	"github.com/Luji7/llm-gateway/internal/audit"
	"github.com/Luji7/llm-gateway/internal/config"
	"github.com/Luji7/llm-gateway/internal/dialect"
	"github.com/Luji7/llm-gateway/internal/obs"
	"github.com/Luji7/llm-gateway/internal/passthrough"
	"github.com/Luji7/llm-gateway/internal/pipeline"
	"github.com/Luji7/llm-gateway/internal/stats"
	"github.com/Luji7/llm-gateway/internal/transcoder"
	"github.com/Luji7/llm-gateway/internal/translate"
)

// modelPeek extracts just the fields the admission pipeline needs
// before either dialect's full request type is decoded: model (rule
// checks) and stream (routing, metrics, audit meta) are named the same
// way in both dialects' request bodies.
type modelPeek struct {
	Model  string `json:"model"`
	Stream *bool  `json:"stream"`
}

// HandleMessages implements POST /v1/messages, dispatching to
// translate or pass-through mode per forward_mode (spec.md §4.6, §6).
func (s *Server) HandleMessages(c *gin.Context) {
	requestID := pipeline.NextRequestID()
	start := time.Now()

	rawBody, err := io.ReadAll(c.Request.Body)
	if err != nil {
		writeAppError(c, apperror.InvalidRequest("failed to read request body"))
		return
	}

	var peek modelPeek
	if err := json.Unmarshal(rawBody, &peek); err != nil {
		s.finishError(c, requestID, start, "", false, apperror.InvalidRequest("invalid JSON body"))
		return
	}
	streamRequested := peek.Stream != nil && *peek.Stream

	translateMode := s.cfg.Anthropic.ForwardMode == config.ForwardModeTranslate
	admission, aerr := pipeline.Admit(peek.Model, s.rules, translateMode)
	if aerr != nil {
		s.finishError(c, requestID, start, peek.Model, streamRequested, aerr)
		return
	}

	guard, aerr := s.inflight.Acquire(c.Request.Context())
	if aerr != nil {
		s.finishError(c, requestID, start, admission.Model, streamRequested, aerr)
		return
	}
	released := false
	release := func() {
		if !released {
			released = true
			guard.Release()
		}
	}
	defer release()

	auditCtx := audit.Context{
		TsStartMs:      start.UnixMilli(),
		RequestID:      requestID,
		Route:          "/v1/messages",
		Mode:           string(s.cfg.Anthropic.ForwardMode),
		Method:         http.MethodPost,
		RequestHeaders: audit.RedactHeaders(c.Request.Header),
		Model:          &admission.Model,
		Stream:         &streamRequested,
	}
	auditCtx.RequestBody, _ = audit.ParseBody(rawBody)

	s.metrics.RecordRequest(streamRequested)

	if !translateMode {
		s.servePassthrough(c, rawBody, admission, streamRequested, auditCtx, requestID, start, release)
		return
	}
	s.serveTranslate(c, rawBody, admission, streamRequested, auditCtx, requestID, start, release)
}

// finishError renders an apperror.Error response and records the
// error metric; used for every failure answered before any response
// body has been written.
func (s *Server) finishError(c *gin.Context, requestID string, start time.Time, model string, stream bool, aerr *apperror.Error) {
	s.metrics.RecordError(string(aerr.Kind))
	logrus.WithFields(logrus.Fields{
		"request_id": requestID,
		"model":      model,
		"latency_ms": time.Since(start).Milliseconds(),
		"status":     aerr.Status,
		"error_type": aerr.Kind,
	}).Info("request failed")
	writeAppError(c, aerr)
}

func bearerHeader(apiKey string) string { return "Bearer " + apiKey }

// --- translate mode ---

func (s *Server) serveTranslate(c *gin.Context, rawBody []byte, admission *pipeline.Admission, stream bool, auditCtx audit.Context, requestID string, start time.Time, release func()) {
	var req anthropic.MessageNewParams
	var ext dialect.RequestExtensions
	if err := json.Unmarshal(rawBody, &req); err != nil {
		release()
		s.finishError(c, requestID, start, admission.Model, stream, apperror.InvalidRequest("invalid request body: "+err.Error()))
		return
	}
	_ = json.Unmarshal(rawBody, &ext)
	req.Model = anthropic.Model(admission.Model)

	openaiReq, terr := translate.RequestToOpenAI(&req, ext, s.cfg)
	if terr != nil {
		release()
		s.finishError(c, requestID, start, admission.Model, stream, terr.ToAppError())
		return
	}
	openaiReq.Stream = openai.Opt(stream)

	bodyBytes, err := json.Marshal(openaiReq)
	if err != nil {
		release()
		s.finishError(c, requestID, start, admission.Model, stream, apperror.APIError("failed to marshal downstream request"))
		return
	}

	if s.cfg.Observability.DumpDownstream {
		logrus.WithField("request_id", requestID).Infof("downstream request: %s", bodyBytes)
	}

	if stream {
		s.serveTranslateStream(c, rawBody, bodyBytes, admission, auditCtx, requestID, start, release)
		return
	}
	s.serveTranslateNonStream(c, rawBody, bodyBytes, admission, auditCtx, requestID, start, release)
}

// serveTranslateNonStream dispatches the translated request and, on
// success, opens and immediately closes a trace span carrying the full
// input/output/downstream.request/downstream.response quartet — per
// handlers.rs::post_messages, the non-stream path only knows the
// output once the whole response has arrived, so span creation and
// completion happen together at the end rather than bracketing the
// call.
func (s *Server) serveTranslateNonStream(c *gin.Context, inputBody, bodyBytes []byte, admission *pipeline.Admission, auditCtx audit.Context, requestID string, start time.Time, release func()) {
	defer release()

	httpReq, err := http.NewRequestWithContext(c.Request.Context(), http.MethodPost, s.cfg.ChatCompletionsURL(), bytes.NewReader(bodyBytes))
	if err != nil {
		s.finishError(c, requestID, start, admission.Model, false, apperror.APIError(err.Error()))
		return
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", bearerHeader(s.cfg.Downstream.APIKey))

	resp, err := s.downstreamClient.Do(httpReq)
	if err != nil {
		s.finishError(c, requestID, start, admission.Model, false, apperror.APIError("downstream request failed: "+err.Error()))
		return
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		aerr := apperror.Downstream(resp.StatusCode, string(raw))
		s.pushAudit(auditCtx, aerr.Status, nil, raw, false, start)
		s.finishError(c, requestID, start, admission.Model, false, aerr)
		return
	}

	if s.cfg.Observability.DumpDownstream {
		logrus.WithField("request_id", requestID).Infof("downstream response: %s", raw)
	}

	var openaiResp openai.ChatCompletion
	if err := json.Unmarshal(raw, &openaiResp); err != nil {
		aerr := apperror.APIError("invalid downstream response: " + err.Error())
		s.finishError(c, requestID, start, admission.Model, false, aerr)
		return
	}

	downstreamResponse := string(raw)
	spanFields := obs.SpanFields{
		RequestID:          requestID,
		Model:              admission.Model,
		Input:              string(inputBody),
		DownstreamRequest:  string(bodyBytes),
		DownstreamResponse: &downstreamResponse,
	}

	anthropicResp, terr := translate.ResponseToAnthropic(&openaiResp)
	if terr != nil {
		_, span := obs.StartSpan(c.Request.Context(), spanFields)
		span.SetAttributes(attribute.String("error.type", string(terr.ToAppError().Kind)))
		span.End()
		s.finishError(c, requestID, start, admission.Model, false, terr.ToAppError())
		return
	}

	respBytes, _ := json.Marshal(anthropicResp)
	output := string(respBytes)
	spanFields.Output = &output
	_, span := obs.StartSpan(c.Request.Context(), spanFields)
	span.End()

	latencyMs := time.Since(start).Milliseconds()
	s.metrics.RecordLatency(float64(latencyMs), false)
	logrus.WithFields(logrus.Fields{
		"request_id": requestID,
		"model":      admission.Model,
		"latency_ms": latencyMs,
		"status":     http.StatusOK,
	}).Info("request completed")
	s.pushAudit(auditCtx, http.StatusOK, headerMap(resp.Header), respBytes, false, start)
	s.recordUsage(requestID, admission.Model, false, http.StatusOK, latencyMs, int64(openaiResp.Usage.PromptTokens), int64(openaiResp.Usage.CompletionTokens))
	c.Data(http.StatusOK, "application/json", respBytes)
}

// recordUsage persists one row to the optional local usage-stats store
// (SPEC_FULL.md's gorm/sqlite DOMAIN STACK supplement). A no-op when
// the store isn't configured, or on a write error — usage stats are a
// convenience, never a reason to fail the response already sent.
func (s *Server) recordUsage(requestID, model string, stream bool, status int, latencyMs int64, inputTokens, outputTokens int64) {
	if s.usageStore == nil {
		return
	}
	if err := s.usageStore.Record(stats.UsageRecord{
		RequestID:    requestID,
		Model:        model,
		Stream:       stream,
		Status:       status,
		LatencyMs:    latencyMs,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
	}); err != nil {
		logrus.WithError(err).WithField("request_id", requestID).Warn("usage store write error")
	}
}

// serveTranslateStream opens its trace span up front, per
// handlers.rs::post_messages' stream branch — output and
// downstream.response aren't knowable until the stream completes, so
// they're left nil and only an error.type attribute is ever added
// before the span closes.
func (s *Server) serveTranslateStream(c *gin.Context, inputBody, bodyBytes []byte, admission *pipeline.Admission, auditCtx audit.Context, requestID string, start time.Time, release func()) {
	defer release()

	_, span := obs.StartSpan(c.Request.Context(), obs.SpanFields{
		RequestID:         requestID,
		Model:             admission.Model,
		Input:             string(inputBody),
		DownstreamRequest: string(bodyBytes),
	})
	defer span.End()

	httpReq, err := http.NewRequestWithContext(context.Background(), http.MethodPost, s.cfg.ChatCompletionsURL(), bytes.NewReader(bodyBytes))
	if err != nil {
		aerr := apperror.APIError(err.Error())
		span.SetAttributes(attribute.String("error.type", string(aerr.Kind)))
		s.finishError(c, requestID, start, admission.Model, true, aerr)
		return
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", bearerHeader(s.cfg.Downstream.APIKey))

	resp, err := s.streamClient.Do(httpReq)
	if err != nil {
		aerr := apperror.APIError("downstream request failed: " + err.Error())
		span.SetAttributes(attribute.String("error.type", string(aerr.Kind)))
		s.finishError(c, requestID, start, admission.Model, true, aerr)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		aerr := apperror.Downstream(resp.StatusCode, string(raw))
		span.SetAttributes(attribute.String("error.type", string(aerr.Kind)))
		s.pushAudit(auditCtx, aerr.Status, nil, raw, false, start)
		s.finishError(c, requestID, start, admission.Model, true, aerr)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)
	flusher, _ := c.Writer.(http.Flusher)

	tc := transcoder.New()
	auditBuf := passthrough.NewTruncatingBuffer(s.cfg.Observability.AuditLog.MaxBodyBytes)
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	writeEvents := func(events []transcoder.Event) bool {
		for _, ev := range events {
			if _, err := c.Writer.Write(ev.Bytes()); err != nil {
				return false
			}
		}
		if flusher != nil {
			flusher.Flush()
		}
		return true
	}

	for scanner.Scan() {
		line := scanner.Text()
		auditBuf.Write([]byte(line))
		auditBuf.Write([]byte("\n"))

		if s.cfg.Observability.DumpDownstream {
			logrus.WithField("request_id", requestID).Infof("downstream stream chunk: %s", line)
		}

		events, done, terr := tc.HandleLine(line)
		if terr != nil {
			s.metrics.RecordError(string(terr.Kind))
			span.SetAttributes(attribute.String("error.type", string(terr.Kind)))
			writeEvents([]transcoder.Event{transcoder.ErrorEvent(terr)})
			s.pushAudit(auditCtx, http.StatusOK, headerMap(resp.Header), auditBuf.Bytes(), auditBuf.Truncated(), start)
			return
		}
		if !writeEvents(events) {
			return
		}
		if done {
			flushEvents, terr := tc.Flush()
			if terr != nil {
				s.metrics.RecordError(string(terr.Kind))
				span.SetAttributes(attribute.String("error.type", string(terr.Kind)))
				writeEvents([]transcoder.Event{transcoder.ErrorEvent(terr)})
				s.pushAudit(auditCtx, http.StatusOK, headerMap(resp.Header), auditBuf.Bytes(), auditBuf.Truncated(), start)
				return
			}
			writeEvents(flushEvents)
			writeEvents([]transcoder.Event{transcoder.MessageStop()})
			s.metrics.RecordLatency(float64(time.Since(start).Milliseconds()), true)
			logrus.WithFields(logrus.Fields{
				"request_id": requestID,
				"model":      admission.Model,
				"latency_ms": time.Since(start).Milliseconds(),
				"status":     http.StatusOK,
			}).Info("request completed")
			s.pushAudit(auditCtx, http.StatusOK, headerMap(resp.Header), auditBuf.Bytes(), auditBuf.Truncated(), start)
			return
		}
	}
	if err := scanner.Err(); err != nil {
		terr := translate.APIError("stream error: %s", err)
		s.metrics.RecordError(string(terr.Kind))
		span.SetAttributes(attribute.String("error.type", string(terr.Kind)))
		writeEvents([]transcoder.Event{transcoder.ErrorEvent(terr)})
		s.pushAudit(auditCtx, http.StatusOK, headerMap(resp.Header), auditBuf.Bytes(), auditBuf.Truncated(), start)
	}
}

// --- pass-through mode ---

func (s *Server) servePassthrough(c *gin.Context, rawBody []byte, admission *pipeline.Admission, streamRequested bool, auditCtx audit.Context, requestID string, start time.Time, release func()) {
	defer release()

	outReq, err := passthrough.BuildRequest(http.MethodPost, s.cfg.AnthropicMessagesURL(), rawBody, c.Request.Header)
	if err != nil {
		s.finishError(c, requestID, start, admission.Model, streamRequested, apperror.APIError(err.Error()))
		return
	}
	outReq = outReq.WithContext(c.Request.Context())

	client := s.downstreamClient
	if streamRequested {
		client = s.streamClient
	}

	resp, err := client.Do(outReq)
	if err != nil {
		s.finishError(c, requestID, start, admission.Model, streamRequested, apperror.APIError("downstream request failed: "+err.Error()))
		return
	}
	defer resp.Body.Close()

	if !passthrough.IsStreamResponse(resp) {
		raw, _ := io.ReadAll(resp.Body)
		s.pushAudit(auditCtx, resp.StatusCode, headerMap(resp.Header), raw, false, start)
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			s.metrics.RecordLatency(float64(time.Since(start).Milliseconds()), false)
		} else {
			s.metrics.RecordError(string(apperror.Downstream(resp.StatusCode, "").Kind))
		}
		for k, vs := range resp.Header {
			if strings.EqualFold(k, "Content-Length") {
				continue
			}
			for _, v := range vs {
				c.Writer.Header().Add(k, v)
			}
		}
		c.Data(resp.StatusCode, resp.Header.Get("Content-Type"), raw)
		return
	}

	for k, vs := range resp.Header {
		if strings.EqualFold(k, "Content-Length") {
			continue
		}
		for _, v := range vs {
			c.Writer.Header().Add(k, v)
		}
	}
	c.Status(resp.StatusCode)
	flusher, _ := c.Writer.(http.Flusher)
	var flush func()
	if flusher != nil {
		flush = flusher.Flush
	}

	auditBuf := passthrough.NewTruncatingBuffer(s.cfg.Observability.AuditLog.MaxBodyBytes)
	if err := passthrough.CopyStream(c.Writer, flush, resp.Body, auditBuf); err != nil {
		logrus.WithError(err).WithField("request_id", requestID).Warn("pass-through stream copy error")
	}
	s.metrics.RecordLatency(float64(time.Since(start).Milliseconds()), true)
	s.pushAudit(auditCtx, resp.StatusCode, headerMap(resp.Header), auditBuf.Bytes(), auditBuf.Truncated(), start)
}

func headerMap(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, vs := range h {
		out[k] = strings.Join(vs, ", ")
	}
	return out
}

func (s *Server) pushAudit(ctx audit.Context, status int, respHeaders map[string]string, respBody []byte, bodyTruncated bool, start time.Time) {
	if s.recorder == nil {
		return
	}
	body, parseErr := audit.ParseBody(respBody)
	rec := ctx.Finish(status, respHeaders, body, parseErr, bodyTruncated, time.Now().UnixMilli())
	s.recorder.Push(rec)
}
