// Package config loads and validates the gateway's YAML configuration,
// read from the file named by CONFIG_PATH.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
)

// ForwardMode selects how /v1/messages is served.
type ForwardMode string

const (
	ForwardModePassthrough ForwardMode = "passthrough"
	ForwardModeTranslate   ForwardMode = "translate"
)

// DocumentPolicy governs how Anthropic `document` content blocks are
// handled during request translation.
type DocumentPolicy string

const (
	DocumentPolicyReject   DocumentPolicy = "reject"
	DocumentPolicyStrip    DocumentPolicy = "strip"
	DocumentPolicyTextOnly DocumentPolicy = "text_only"
)

type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Downstream    DownstreamConfig    `yaml:"downstream"`
	Anthropic     AnthropicConfig     `yaml:"anthropic"`
	Models        ModelsConfig        `yaml:"models"`
	Limits        LimitsConfig        `yaml:"limits"`
	Observability ObservabilityConfig `yaml:"observability"`
}

type ServerConfig struct {
	BindAddr string `yaml:"bind_addr"`
}

type AnthropicConfig struct {
	ForwardMode ForwardMode `yaml:"forward_mode"`
}

type DownstreamConfig struct {
	BaseURL               string `yaml:"base_url"`
	APIKey                string `yaml:"api_key"`
	AnthropicVersion      string `yaml:"anthropic_version"`
	AnthropicBeta         string `yaml:"anthropic_beta"`
	ConnectTimeoutMs      int    `yaml:"connect_timeout_ms"`
	ReadTimeoutMs         int    `yaml:"read_timeout_ms"`
	PoolMaxIdlePerHost    int    `yaml:"pool_max_idle_per_host"`
}

type ModelsConfig struct {
	ModelMap      map[string]string `yaml:"model_map"`
	DisplayMap    map[string]string `yaml:"display_map"`
	Allowlist     []string          `yaml:"allowlist"`
	Blocklist     []string          `yaml:"blocklist"`
	ThinkingMap   map[int64]string  `yaml:"thinking_map"`
	OutputStrict  bool              `yaml:"output_strict"`
	AllowImages   bool              `yaml:"allow_images"`
	DocumentPolicy DocumentPolicy   `yaml:"document_policy"`
	ModelsOverride []ModelOverride  `yaml:"models_override"`
}

// ModelOverride lets the operator short-circuit GET /v1/models with a
// fixed Anthropic-format model list instead of calling the upstream.
type ModelOverride struct {
	ID          string `yaml:"id"`
	DisplayName string `yaml:"display_name"`
	CreatedAt   string `yaml:"created_at"`
}

type LimitsConfig struct {
	MaxInflight int `yaml:"max_inflight"`
}

type ObservabilityConfig struct {
	ServiceName    string         `yaml:"service_name"`
	DumpDownstream bool           `yaml:"dump_downstream"`
	AuditLog       AuditLogConfig `yaml:"audit_log"`
	Logging        LoggingConfig  `yaml:"logging"`
	OtlpGrpc       OtlpGrpcConfig `yaml:"otlp_grpc"`
	OtlpHTTP       OtlpHTTPConfig `yaml:"otlp_http"`
	Exporters      ExportersConfig `yaml:"exporters"`
	UsageStore     UsageStoreConfig `yaml:"usage_store"`
}

type AuditLogConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Path         string `yaml:"path"`
	MaxBodyBytes int64  `yaml:"max_body_bytes"`
	MaxFileBytes int64  `yaml:"max_file_bytes"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Stdout bool   `yaml:"stdout"`
	File   string `yaml:"file"`
}

type OtlpGrpcConfig struct {
	Endpoint  string `yaml:"endpoint"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

type OtlpHTTPConfig struct {
	Endpoint  string `yaml:"endpoint"`
	TimeoutMs int    `yaml:"timeout_ms"`
	PublicKey string `yaml:"public_key"`
	SecretKey string `yaml:"secret_key"`
}

func (o OtlpHTTPConfig) MetricsEndpoint() string {
	return strings.TrimSuffix(o.Endpoint, "/") + "/api/public/otel/v1/metrics"
}

func (o OtlpHTTPConfig) TracesEndpoint() string {
	return strings.TrimSuffix(o.Endpoint, "/") + "/api/public/otel/v1/traces"
}

// ExportersConfig selects which concrete backend each telemetry signal
// is shipped to. "metrics" additionally supports "prometheus", exposing
// a local GET /metrics endpoint instead of OTLP metrics export.
type ExportersConfig struct {
	Tracing string `yaml:"tracing"`
	Metrics string `yaml:"metrics"`
}

// UsageStoreConfig configures the optional local SQLite usage-stats
// store, a supplement beyond the audit JSONL recorder (see SPEC_FULL.md).
type UsageStoreConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.Downstream.ConnectTimeoutMs) * time.Millisecond
}

func (c *Config) ReadTimeout() time.Duration {
	return time.Duration(c.Downstream.ReadTimeoutMs) * time.Millisecond
}

// ChatCompletionsURL builds the translate-mode downstream chat
// completions endpoint, respecting a base URL that already ends in /v1.
func (c *Config) ChatCompletionsURL() string {
	return joinV1(c.Downstream.BaseURL, "/chat/completions")
}

// ModelsURL builds the downstream models-list endpoint for the
// currently configured forward mode.
func (c *Config) ModelsURL() string {
	return joinV1(c.Downstream.BaseURL, "/models")
}

// AnthropicMessagesURL builds the pass-through-mode downstream messages
// endpoint.
func (c *Config) AnthropicMessagesURL() string {
	return joinV1(c.Downstream.BaseURL, "/messages")
}

func joinV1(base, suffix string) string {
	base = strings.TrimSuffix(base, "/")
	if strings.HasSuffix(base, "/v1") {
		return base + suffix
	}
	return base + "/v1" + suffix
}

// ThinkingMapPairs returns the budget->effort table sorted ascending by
// budget, the order §4.1's descending scan expects to walk backwards.
func (c *Config) ThinkingMapPairs() []ThinkingPair {
	pairs := make([]ThinkingPair, 0, len(c.Models.ThinkingMap))
	for budget, effort := range c.Models.ThinkingMap {
		pairs = append(pairs, ThinkingPair{Budget: budget, Effort: effort})
	}
	for i := 1; i < len(pairs); i++ {
		for j := i; j > 0 && pairs[j-1].Budget > pairs[j].Budget; j-- {
			pairs[j-1], pairs[j] = pairs[j], pairs[j-1]
		}
	}
	return pairs
}

type ThinkingPair struct {
	Budget int64
	Effort string
}

// FromEnv reads CONFIG_PATH and loads + validates the YAML config.
// CONFIG_PATH is required; this mirrors the Rust original's
// Config::from_env, which exits the process if it is unset.
func FromEnv() (*Config, error) {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		return nil, fmt.Errorf("CONFIG_PATH is not set")
	}
	return Load(path)
}

// Load reads and validates the YAML config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a Config pre-populated with the defaults named in
// spec.md §6.
func Default() *Config {
	return &Config{
		Server: ServerConfig{BindAddr: "0.0.0.0:8080"},
		Anthropic: AnthropicConfig{
			ForwardMode: ForwardModeTranslate,
		},
		Downstream: DownstreamConfig{
			ConnectTimeoutMs:   5000,
			ReadTimeoutMs:      120000,
			PoolMaxIdlePerHost: 32,
		},
		Models: ModelsConfig{
			OutputStrict:   true,
			AllowImages:    true,
			DocumentPolicy: DocumentPolicyStrip,
		},
		Limits: LimitsConfig{MaxInflight: 64},
		Observability: ObservabilityConfig{
			ServiceName: "llm-gateway",
			Logging: LoggingConfig{
				Level:  "info",
				Format: "text",
				Stdout: true,
			},
			Exporters: ExportersConfig{
				Tracing: "otlp_grpc",
				Metrics: "otlp_grpc",
			},
		},
	}
}

// normalize validates field combinations and lower-cases enum-ish
// string fields, mirroring Config::normalize in the Rust original.
func (c *Config) normalize() error {
	c.Observability.Logging.Level = strings.ToLower(c.Observability.Logging.Level)
	c.Observability.Logging.Format = strings.ToLower(c.Observability.Logging.Format)
	c.Observability.Exporters.Tracing = strings.ToLower(c.Observability.Exporters.Tracing)
	c.Observability.Exporters.Metrics = strings.ToLower(c.Observability.Exporters.Metrics)

	if c.Anthropic.ForwardMode == "" {
		c.Anthropic.ForwardMode = ForwardModeTranslate
	}
	if c.Anthropic.ForwardMode != ForwardModePassthrough && c.Anthropic.ForwardMode != ForwardModeTranslate {
		return fmt.Errorf("anthropic.forward_mode must be %q or %q, got %q",
			ForwardModePassthrough, ForwardModeTranslate, c.Anthropic.ForwardMode)
	}
	if c.Anthropic.ForwardMode == ForwardModeTranslate && c.Downstream.APIKey == "" {
		return fmt.Errorf("downstream.api_key is required in translate mode")
	}
	if c.Downstream.BaseURL == "" {
		return fmt.Errorf("downstream.base_url is required")
	}
	if c.Models.DocumentPolicy == "" {
		c.Models.DocumentPolicy = DocumentPolicyStrip
	}
	switch c.Models.DocumentPolicy {
	case DocumentPolicyReject, DocumentPolicyStrip, DocumentPolicyTextOnly:
	default:
		return fmt.Errorf("models.document_policy must be reject, strip, or text_only, got %q", c.Models.DocumentPolicy)
	}
	if c.Limits.MaxInflight <= 0 {
		c.Limits.MaxInflight = 64
	}
	return nil
}
