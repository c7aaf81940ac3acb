package server

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Luji7/llm-gateway/internal/apperror"
	"github.com/Luji7/llm-gateway/internal/config"
	"github.com/Luji7/llm-gateway/internal/dialect"
	"github.com/Luji7/llm-gateway/internal/translate"
)

// HandleModels implements GET /v1/models, per spec.md §6: returns
// Anthropic-format model list, honouring models_override when
// configured, and otherwise querying the upstream in whichever dialect
// forward_mode implies.
func (s *Server) HandleModels(c *gin.Context) {
	if len(s.cfg.Models.ModelsOverride) > 0 {
		c.JSON(http.StatusOK, dialect.AnthropicModelsResponse{Data: overrideModels(s.cfg.Models.ModelsOverride)})
		return
	}

	req, err := http.NewRequestWithContext(c.Request.Context(), http.MethodGet, s.cfg.ModelsURL(), nil)
	if err != nil {
		writeAppError(c, apperror.APIError(err.Error()))
		return
	}
	req.Header.Set("Authorization", "Bearer "+s.cfg.Downstream.APIKey)

	resp, err := s.downstreamClient.Do(req)
	if err != nil {
		writeAppError(c, apperror.APIError("downstream request failed: "+err.Error()))
		return
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		writeAppError(c, apperror.Downstream(resp.StatusCode, string(body)))
		return
	}

	if s.cfg.Anthropic.ForwardMode == config.ForwardModePassthrough {
		c.Data(http.StatusOK, "application/json", body)
		return
	}

	var openaiResp dialect.OpenAIModelsResponse
	if err := json.Unmarshal(body, &openaiResp); err != nil {
		writeAppError(c, apperror.APIError("invalid downstream response: "+err.Error()))
		return
	}
	anthropicResp, terr := translate.ModelsToAnthropic(openaiResp, s.cfg)
	if terr != nil {
		writeAppError(c, terr.ToAppError())
		return
	}
	c.JSON(http.StatusOK, anthropicResp)
}

func overrideModels(overrides []config.ModelOverride) []dialect.AnthropicModel {
	out := make([]dialect.AnthropicModel, 0, len(overrides))
	for _, o := range overrides {
		out = append(out, dialect.AnthropicModel{
			ID:          o.ID,
			Type:        "model",
			DisplayName: o.DisplayName,
			CreatedAt:   o.CreatedAt,
		})
	}
	return out
}

// writeAppError renders an apperror.Error as the Anthropic error
// envelope, per spec.md §4.8.
func writeAppError(c *gin.Context, err *apperror.Error) {
	c.JSON(err.Status, err.Render())
}
