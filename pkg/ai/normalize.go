package ai

import (
	"encoding/json"
	"fmt"
	"html"
	"math"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

const scorePayloadSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["score"],
  "properties": {
    "success": {"type": "boolean"},
    "score": {"type": "number"},
    "feedback": {"type": ["string", "null"]},
    "confidence": {"type": ["number", "null"], "minimum": 0, "maximum": 1}
  }
}`

var (
	scoreSchema = jsonschema.MustCompileString("score_payload.schema.json", scorePayloadSchema)
	sanitizer   = bluemonday.StrictPolicy()
)

// DefaultLowConfidence is the confidence below which a result is flagged.
const DefaultLowConfidence = 0.5

type scorePayload struct {
	Success    *bool    `json:"success"`
	Score      float64  `json:"score"`
	Feedback   *string  `json:"feedback"`
	Confidence *float64 `json:"confidence"`
}

// stripFences unwraps JSON that a model returned inside a markdown code block.
func stripFences(content string) string {
	text := strings.TrimSpace(content)
	if idx := strings.Index(text, "```json"); idx >= 0 {
		text = text[idx+len("```json"):]
	} else if idx := strings.Index(text, "```"); idx >= 0 {
		text = text[idx+3:]
	} else {
		return text
	}
	if end := strings.Index(text, "```"); end >= 0 {
		text = text[:end]
	}
	return strings.TrimSpace(text)
}

func decodePayload(content []byte) (scorePayload, error) {
	var raw interface{}
	if err := json.Unmarshal(content, &raw); err != nil {
		return scorePayload{}, fmt.Errorf("decode score json: %w", err)
	}
	if err := scoreSchema.Validate(raw); err != nil {
		return scorePayload{}, fmt.Errorf("score payload schema: %w", err)
	}

	var payload scorePayload
	if err := json.Unmarshal(content, &payload); err != nil {
		return scorePayload{}, fmt.Errorf("decode score json: %w", err)
	}
	if payload.Success != nil && !*payload.Success {
		return scorePayload{}, fmt.Errorf("provider reported success=false")
	}
	if math.IsNaN(payload.Score) || math.IsInf(payload.Score, 0) {
		return scorePayload{}, fmt.Errorf("score is not a finite number")
	}
	return payload, nil
}

// normalize clamps and rounds the score into [0, maxScore] and cleans the feedback.
func normalize(provider Provider, payload scorePayload, maxScore, lowConfidence float64) ScoreResult {
	score := math.Round(payload.Score)
	adjusted := false
	if score < 0 {
		score = 0
		adjusted = true
	}
	if maxScore > 0 && score > maxScore {
		score = maxScore
		adjusted = true
	}

	feedback := ""
	if payload.Feedback != nil {
		feedback = strings.TrimSpace(html.UnescapeString(sanitizer.Sanitize(*payload.Feedback)))
	}

	result := ScoreResult{
		Score:      score,
		Feedback:   feedback,
		Provider:   provider,
		Confidence: payload.Confidence,
		Adjusted:   adjusted,
	}
	if payload.Confidence != nil && *payload.Confidence < lowConfidence {
		result.LowConfidence = true
	}
	return result
}
