package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Luji7/llm-gateway/internal/config"
	"github.com/Luji7/llm-gateway/internal/obs"
)

func testConfig() *config.Config {
	return &config.Config{
		Server:    config.ServerConfig{BindAddr: "127.0.0.1:0"},
		Anthropic: config.AnthropicConfig{ForwardMode: config.ForwardModeTranslate},
		Downstream: config.DownstreamConfig{
			BaseURL: "http://127.0.0.1:0",
			APIKey:  "test-key",
		},
		Limits: config.LimitsConfig{MaxInflight: 8},
		Observability: config.ObservabilityConfig{
			AuditLog: config.AuditLogConfig{MaxBodyBytes: 4096},
		},
	}
}

func TestHandleHealthReturnsOK(t *testing.T) {
	srv := New(testConfig(), obs.NewPrometheusMetrics(nil), nil, nil)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHandleModelsReturnsOverrideWithoutCallingUpstream(t *testing.T) {
	cfg := testConfig()
	cfg.Models.ModelsOverride = []config.ModelOverride{
		{ID: "claude-3-opus", DisplayName: "Claude 3 Opus", CreatedAt: "2024-01-01T00:00:00Z"},
	}
	srv := New(cfg, obs.NewPrometheusMetrics(nil), nil, nil)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/models")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMetricsEndpointExposedWhenPrometheusMetricsUsed(t *testing.T) {
	srv := New(testConfig(), obs.NewPrometheusMetrics(func() int64 { return 0 }), nil, nil)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
