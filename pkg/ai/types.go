package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Provider names a scoring backend or mode.
type Provider string

const (
	ProviderGemini Provider = "GEMINI"
	ProviderML     Provider = "ML"
	ProviderBoth   Provider = "BOTH"
)

// ParseProvider normalises a provider name, returning false for unknown values.
func ParseProvider(value string) (Provider, bool) {
	switch Provider(strings.ToUpper(strings.TrimSpace(value))) {
	case ProviderGemini:
		return ProviderGemini, true
	case ProviderML:
		return ProviderML, true
	case ProviderBoth:
		return ProviderBoth, true
	default:
		return "", false
	}
}

var (
	// ErrProviderUnreachable covers transport failures, timeouts, and non-2xx responses.
	ErrProviderUnreachable = errors.New("scoring provider unreachable")
	// ErrProviderInvalidResponse indicates the provider answered with an unusable payload.
	ErrProviderInvalidResponse = errors.New("scoring provider returned an invalid response")
	// ErrConfigurationMissing indicates AI scoring is disabled or unconfigured for the tenant.
	ErrConfigurationMissing = errors.New("ai scoring is not configured")
)

// ProviderError ties a provider failure to the provider that produced it.
type ProviderError struct {
	Provider Provider
	Kind     error
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Provider, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Provider, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func unreachable(provider Provider, err error) error {
	return &ProviderError{Provider: provider, Kind: ErrProviderUnreachable, Err: err}
}

func invalidResponse(provider Provider, err error) error {
	return &ProviderError{Provider: provider, Kind: ErrProviderInvalidResponse, Err: err}
}

// ScoreRequest is a single question/answer pair to be scored.
type ScoreRequest struct {
	Question string
	Answer   string
	MaxScore float64
}

// Attempt records one provider call made while scoring.
type Attempt struct {
	Provider Provider `json:"provider"`
	Error    string   `json:"error,omitempty"`
}

// ScoreResult is the normalised provider verdict.
type ScoreResult struct {
	Score      float64  `json:"score"`
	Feedback   string   `json:"feedback"`
	Provider   Provider `json:"provider"`
	Confidence *float64 `json:"confidence,omitempty"`
	// Adjusted is set when the raw score fell outside [0, MaxScore] and was clamped.
	Adjusted      bool      `json:"adjusted"`
	LowConfidence bool      `json:"lowConfidence"`
	Attempts      []Attempt `json:"attempts,omitempty"`
}

// Scorer produces a score and feedback for a learner answer.
type Scorer interface {
	Name() Provider
	Score(ctx context.Context, req ScoreRequest) (ScoreResult, error)
}
