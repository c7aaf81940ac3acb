package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadRequiresAPIKeyInTranslateMode(t *testing.T) {
	path := writeConfig(t, `
downstream:
  base_url: https://api.openai.com
anthropic:
  forward_mode: translate
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api_key")
}

func TestLoadPassthroughDoesNotRequireAPIKey(t *testing.T) {
	path := writeConfig(t, `
downstream:
  base_url: https://api.anthropic.com
anthropic:
  forward_mode: passthrough
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ForwardModePassthrough, cfg.Anthropic.ForwardMode)
}

func TestChatCompletionsURLRespectsExistingV1Suffix(t *testing.T) {
	cfg := Default()
	cfg.Downstream.BaseURL = "https://api.example.com/v1"
	assert.Equal(t, "https://api.example.com/v1/chat/completions", cfg.ChatCompletionsURL())

	cfg.Downstream.BaseURL = "https://api.example.com"
	assert.Equal(t, "https://api.example.com/v1/chat/completions", cfg.ChatCompletionsURL())
}

func TestThinkingMapPairsSortedAscending(t *testing.T) {
	cfg := Default()
	cfg.Models.ThinkingMap = map[int64]string{
		8000:  "high",
		1000:  "low",
		4000:  "medium",
	}
	pairs := cfg.ThinkingMapPairs()
	require.Len(t, pairs, 3)
	assert.Equal(t, int64(1000), pairs[0].Budget)
	assert.Equal(t, int64(4000), pairs[1].Budget)
	assert.Equal(t, int64(8000), pairs[2].Budget)
}

func TestFromEnvRequiresConfigPath(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	_, err := FromEnv()
	require.Error(t, err)
}
