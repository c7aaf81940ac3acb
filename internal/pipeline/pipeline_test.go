package pipeline

import (
	"context"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Luji7/llm-gateway/internal/apperror"
	"github.com/Luji7/llm-gateway/internal/config"
	"github.com/Luji7/llm-gateway/internal/modelrules"
)

func TestNextRequestIDFormatAndMonotonicity(t *testing.T) {
	a := NextRequestID()
	b := NextRequestID()
	assert.Regexp(t, regexp.MustCompile(`^req-\d+-\d+$`), a)
	assert.NotEqual(t, a, b)
}

func TestInflightAcquireAndReleaseRoundTrip(t *testing.T) {
	inflight := NewInflight(1)
	guard, terr := inflight.Acquire(context.Background())
	require.Nil(t, terr)
	assert.Equal(t, int64(1), inflight.Count())

	guard.Release()
	assert.Equal(t, int64(0), inflight.Count())
}

func TestInflightRejectsWhenCapacityExhausted(t *testing.T) {
	inflight := NewInflight(1)
	guard, terr := inflight.Acquire(context.Background())
	require.Nil(t, terr)

	_, terr2 := inflight.Acquire(context.Background())
	require.NotNil(t, terr2)
	assert.Equal(t, apperror.KindRateLimit, terr2.Kind)
	assert.Equal(t, "too many in-flight requests", terr2.Message)

	guard.Release()
	_, terr3 := inflight.Acquire(context.Background())
	assert.Nil(t, terr3)
}

func TestAdmitRejectsEmptyModel(t *testing.T) {
	rules := modelrules.New(&config.ModelsConfig{})
	_, terr := Admit("", rules, true)
	require.NotNil(t, terr)
	assert.Equal(t, "model is required", terr.Message)
}

func TestAdmitAppliesModelMapOnlyInTranslateMode(t *testing.T) {
	rules := modelrules.New(&config.ModelsConfig{ModelMap: map[string]string{"claude-3-opus": "gpt-4o"}})

	admission, terr := Admit("claude-3-opus", rules, true)
	require.Nil(t, terr)
	assert.Equal(t, "gpt-4o", admission.Model)
	assert.Equal(t, "claude-3-opus", admission.OriginalModel)

	admission2, terr2 := Admit("claude-3-opus", rules, false)
	require.Nil(t, terr2)
	assert.Equal(t, "claude-3-opus", admission2.Model)
}

func TestAdmitRejectsBlockedModel(t *testing.T) {
	rules := modelrules.New(&config.ModelsConfig{Blocklist: []string{"gpt-3.5-turbo"}})
	_, terr := Admit("gpt-3.5-turbo", rules, true)
	require.NotNil(t, terr)
	assert.Equal(t, "model is blocked", terr.Message)
}
