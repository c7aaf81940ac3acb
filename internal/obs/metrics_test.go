package obs

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPrometheusMetricsRecordsAndExposesScrape(t *testing.T) {
	inflightValue := int64(3)
	m := NewPrometheusMetrics(func() int64 { return inflightValue })

	m.RecordRequest(true)
	m.RecordRequest(false)
	m.RecordError("rate_limit_error")
	m.RecordLatency(12.5, true)

	pm, ok := m.(*promMetrics)
	require.True(t, ok)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	pm.Handler().ServeHTTP(rr, req)

	body := rr.Body.String()
	assert.Contains(t, body, "ai_gateway_requests_total")
	assert.Contains(t, body, "ai_gateway_errors_total")
	assert.Contains(t, body, "ai_gateway_latency_ms")
	assert.Contains(t, body, "ai_gateway_inflight 3")
}

func TestPrometheusMetricsShutdownIsNoop(t *testing.T) {
	m := NewPrometheusMetrics(nil)
	assert.NoError(t, m.Shutdown(context.Background()))
}

func TestBoolLabel(t *testing.T) {
	assert.Equal(t, "true", boolLabel(true))
	assert.Equal(t, "false", boolLabel(false))
}

func TestPrometheusMetricsHandlerOmitsUnrecordedSeriesLabelsUntilUsed(t *testing.T) {
	m := NewPrometheusMetrics(func() int64 { return 0 })
	pm := m.(*promMetrics)

	rr := httptest.NewRecorder()
	pm.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))
	assert.NotContains(t, strings.ToLower(rr.Body.String()), `stream="true"`)
}
