package modelrules

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Luji7/llm-gateway/internal/config"
)

func TestAllowedVacuousWhenAllowlistEmpty(t *testing.T) {
	r := New(&config.ModelsConfig{})
	ok, reason := r.Allowed("gpt-4o-mini")
	assert.True(t, ok)
	assert.Empty(t, reason)
}

func TestAllowedRejectsModelNotInAllowlist(t *testing.T) {
	r := New(&config.ModelsConfig{Allowlist: []string{"gpt-4o"}})
	ok, reason := r.Allowed("gpt-3.5-turbo")
	assert.False(t, ok)
	assert.Equal(t, "model not in allowlist", reason)
}

func TestAllowedSupportsGlobAllowlist(t *testing.T) {
	r := New(&config.ModelsConfig{Allowlist: []string{"gpt-4*"}})
	ok, _ := r.Allowed("gpt-4o-mini")
	assert.True(t, ok)
}

func TestAllowedRejectsBlockedModelEvenIfAllowlisted(t *testing.T) {
	r := New(&config.ModelsConfig{Allowlist: []string{"gpt-4*"}, Blocklist: []string{"gpt-4-legacy"}})
	ok, reason := r.Allowed("gpt-4-legacy")
	assert.False(t, ok)
	assert.Equal(t, "model is blocked", reason)
}

func TestAllowedSupportsGlobBlocklist(t *testing.T) {
	r := New(&config.ModelsConfig{Blocklist: []string{"*-preview"}})
	ok, reason := r.Allowed("gpt-5-preview")
	assert.False(t, ok)
	assert.Equal(t, "model is blocked", reason)
}

func TestSubstituteAppliesModelMap(t *testing.T) {
	r := New(&config.ModelsConfig{ModelMap: map[string]string{"claude-3-opus": "gpt-4o"}})
	assert.Equal(t, "gpt-4o", r.Substitute("claude-3-opus"))
	assert.Equal(t, "untouched-model", r.Substitute("untouched-model"))
}
