package llm

import (
	"encoding/json"
	"regexp"
	"strings"
)

var fenceRe = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)\\n?```")

// ExtractJSON pulls the JSON payload out of a model response. Models wrap
// JSON in markdown fences or prose even when asked not to; this strips a
// fenced block first, then falls back to the outermost object or array
// boundaries, then to the raw string.
func ExtractJSON(response string) string {
	response = strings.TrimSpace(response)

	if strings.Contains(response, "```") {
		if m := fenceRe.FindStringSubmatch(response); len(m) > 1 {
			return strings.TrimSpace(m[1])
		}
	}

	if start, end := strings.Index(response, "{"), strings.LastIndex(response, "}"); start >= 0 && end > start {
		return response[start : end+1]
	}
	if start, end := strings.Index(response, "["), strings.LastIndex(response, "]"); start >= 0 && end > start {
		return response[start : end+1]
	}

	return response
}

// UnmarshalResponse extracts and decodes a JSON response into v. A decode
// failure is a malformed-response error carrying the raw text in its message
// so the caller can surface it for manual salvage.
func UnmarshalResponse(provider, response string, v any) error {
	payload := ExtractJSON(response)
	if err := json.Unmarshal([]byte(payload), v); err != nil {
		return NewMalformedResponseError(provider, "decode model output: "+err.Error()+"; raw output: "+truncate(response, 512))
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
