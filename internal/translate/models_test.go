package translate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Luji7/llm-gateway/internal/config"
	"github.com/Luji7/llm-gateway/internal/dialect"
)

func TestModelsToAnthropicMapping(t *testing.T) {
	cfg := config.Default()
	cfg.Models.DisplayMap = map[string]string{"gpt-4o-mini": "GPT-4o Mini"}

	resp := dialect.OpenAIModelsResponse{Data: []dialect.OpenAIModel{
		{ID: "gpt-4o-mini", Created: 1700000000},
	}}
	out, terr := ModelsToAnthropic(resp, cfg)
	require.Nil(t, terr)
	require.Len(t, out.Data, 1)
	assert.Equal(t, "gpt-4o-mini", out.Data[0].ID)
	assert.Equal(t, "model", out.Data[0].Type)
	assert.Equal(t, "GPT-4o Mini", out.Data[0].DisplayName)
	assert.True(t, len(out.Data[0].CreatedAt) > 0 && out.Data[0].CreatedAt[len(out.Data[0].CreatedAt)-1] == 'Z')
}

func TestModelsToAnthropicMissingCreatedFallsBackToEpoch(t *testing.T) {
	cfg := config.Default()
	resp := dialect.OpenAIModelsResponse{Data: []dialect.OpenAIModel{{ID: "claude-3-opus"}}}
	out, terr := ModelsToAnthropic(resp, cfg)
	require.Nil(t, terr)
	assert.Equal(t, "1970-01-01T00:00:00Z", out.Data[0].CreatedAt)
}

func TestModelsToAnthropicTitleizesWithoutDisplayMap(t *testing.T) {
	cfg := config.Default()
	resp := dialect.OpenAIModelsResponse{Data: []dialect.OpenAIModel{{ID: "gpt-4o-mini"}}}
	out, terr := ModelsToAnthropic(resp, cfg)
	require.Nil(t, terr)
	assert.Equal(t, "GPT 4O Mini", out.Data[0].DisplayName)
}

func TestUnixToISO8601KnownTimestamp(t *testing.T) {
	s, terr := unixToISO8601(1700000000)
	require.Nil(t, terr)
	assert.Equal(t, "2023-11-14T22:13:20Z", s)
}

func TestUnixToISO8601RejectsNegative(t *testing.T) {
	_, terr := unixToISO8601(-1)
	require.NotNil(t, terr)
	assert.Contains(t, terr.Message, "invalid created timestamp")
}
