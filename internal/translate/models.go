package translate

import (
	"fmt"
	"strings"

	"github.com/Luji7/llm-gateway/internal/config"
	"github.com/Luji7/llm-gateway/internal/dialect"
)

// ModelsToAnthropic converts an OpenAI-format model list into Anthropic
// format, resolving each model's display name from the configured
// display_map (falling back to a titleized model id) and its created_at
// from the Unix timestamp (falling back to the epoch when absent).
func ModelsToAnthropic(resp dialect.OpenAIModelsResponse, cfg *config.Config) (*dialect.AnthropicModelsResponse, *Error) {
	out := &dialect.AnthropicModelsResponse{Data: make([]dialect.AnthropicModel, 0, len(resp.Data))}
	for _, model := range resp.Data {
		displayName, ok := cfg.Models.DisplayMap[model.ID]
		if !ok {
			displayName = titleizeModelID(model.ID)
		}
		createdAt := "1970-01-01T00:00:00Z"
		if model.Created != 0 {
			ts, terr := unixToISO8601(model.Created)
			if terr != nil {
				return nil, terr
			}
			createdAt = ts
		}
		out.Data = append(out.Data, dialect.AnthropicModel{
			ID:          model.ID,
			Type:        "model",
			DisplayName: displayName,
			CreatedAt:   createdAt,
		})
	}
	return out, nil
}

func unixToISO8601(ts int64) (string, *Error) {
	if ts < 0 {
		return "", invalidRequest("invalid created timestamp")
	}
	secs := ts
	days := secs / 86400
	rem := secs % 86400
	hour := rem / 3600
	rem = rem % 3600
	min := rem / 60
	sec := rem % 60

	year, month, day := civilFromDays(days)
	return fmt.Sprintf("%04d-%02d-%02dT%02d:%02d:%02dZ", year, month, day, hour, min, sec), nil
}

// civilFromDays converts a day count since the Unix epoch into a
// proleptic-Gregorian (year, month, day), using Howard Hinnant's
// civil_from_days algorithm.
func civilFromDays(days int64) (year int64, month int, day int) {
	z := days + 719468
	var era int64
	if z >= 0 {
		era = z / 146097
	} else {
		era = (z - 146096) / 146097
	}
	doe := z - era*146097
	yoe := (doe - doe/1460 + doe/36524 - doe/146096) / 365
	y := yoe + era*400
	doy := doe - (365*yoe + yoe/4 - yoe/100)
	mp := (5*doy + 2) / 153
	d := doy - (153*mp+2)/5 + 1
	m := mp + 3
	if mp >= 10 {
		m = mp - 9
	}
	if m <= 2 {
		y++
	}
	return y, int(m), int(d)
}

// titleizeModelID turns a hyphenated model id into a display-friendly
// title: tokens of <=3 alphanumeric characters are upper-cased (so "gpt"
// becomes "GPT" and "4o" becomes "4O"), everything else is
// capitalized and lower-cased, and tokens are joined with spaces.
func titleizeModelID(id string) string {
	parts := strings.Split(id, "-")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if len(part) <= 3 && isAlphanumeric(part) {
			out = append(out, strings.ToUpper(part))
			continue
		}
		out = append(out, capitalizeWord(part))
	}
	return strings.Join(out, " ")
}

func isAlphanumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}

func capitalizeWord(s string) string {
	if s == "" {
		return s
	}
	lower := strings.ToLower(s)
	return strings.ToUpper(lower[:1]) + lower[1:]
}
