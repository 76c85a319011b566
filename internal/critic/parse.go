package critic

import (
	"encoding/json"
	"fmt"
	"strings"
)

// resultPayload is the structured result a critic backend is asked to return.
// Score is required; Scores and Changes are produced by vision backends.
type resultPayload struct {
	Score    float64            `json:"score"`
	Scores   map[string]float64 `json:"scores,omitempty"`
	Changes  []string           `json:"changes,omitempty"`
	Feedback string             `json:"feedback,omitempty"`
}

// parseResult extracts and decodes the fenced JSON block from backend output.
// Bare JSON without fences is accepted; anything else is an error for the
// caller to degrade on.
func parseResult(text string) (resultPayload, error) {
	raw, err := extractFenced(text)
	if err != nil {
		return resultPayload{}, err
	}
	var payload struct {
		Score    *float64           `json:"score"`
		Scores   map[string]float64 `json:"scores"`
		Changes  []string           `json:"changes"`
		Feedback string             `json:"feedback"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return resultPayload{}, fmt.Errorf("decode critic result: %w", err)
	}
	if payload.Score == nil && len(payload.Scores) == 0 {
		return resultPayload{}, fmt.Errorf("critic result missing score")
	}
	out := resultPayload{
		Scores:   payload.Scores,
		Changes:  payload.Changes,
		Feedback: payload.Feedback,
	}
	if payload.Score != nil {
		out.Score = *payload.Score
	}
	return out, nil
}

// extractFenced returns the body of the first fenced code block, or the whole
// trimmed text when it already looks like a JSON object.
func extractFenced(text string) ([]byte, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, fmt.Errorf("empty response")
	}
	if idx := strings.Index(trimmed, "```"); idx >= 0 {
		rest := trimmed[idx+3:]
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
			// Drop the optional language tag line.
			tag := strings.TrimSpace(rest[:nl])
			if tag == "" || !strings.ContainsAny(tag, "{}") {
				rest = rest[nl+1:]
			}
		}
		end := strings.Index(rest, "```")
		if end < 0 {
			return nil, fmt.Errorf("unterminated fenced block")
		}
		body := strings.TrimSpace(rest[:end])
		if body == "" {
			return nil, fmt.Errorf("empty fenced block")
		}
		return []byte(body), nil
	}
	if strings.HasPrefix(trimmed, "{") {
		return []byte(trimmed), nil
	}
	return nil, fmt.Errorf("no fenced json block found")
}
