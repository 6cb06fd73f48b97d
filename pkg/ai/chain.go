package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// ChainError reports that every provider in a chain failed.
type ChainError struct {
	Attempts []Attempt
	Err      error
}

func (e *ChainError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, attempt := range e.Attempts {
		parts = append(parts, string(attempt.Provider))
	}
	return fmt.Sprintf("all scoring providers failed (%s): %v", strings.Join(parts, ","), e.Err)
}

func (e *ChainError) Unwrap() error {
	return e.Err
}

// Chain tries scorers in order and falls back only on provider-layer failures.
type Chain struct {
	name    Provider
	scorers []Scorer
	logger  zerolog.Logger
}

// NewChain builds an ordered fallback chain.
func NewChain(name Provider, logger zerolog.Logger, scorers ...Scorer) *Chain {
	return &Chain{
		name:    name,
		scorers: scorers,
		logger:  logger.With().Str("component", "scoring_chain").Logger(),
	}
}

// Name returns the mode the chain implements.
func (c *Chain) Name() Provider {
	return c.name
}

// Providers lists the chain members in the order they are tried.
func (c *Chain) Providers() []Provider {
	names := make([]Provider, 0, len(c.scorers))
	for _, scorer := range c.scorers {
		names = append(names, scorer.Name())
	}
	return names
}

// Score returns the first successful result. The result's Provider names the scorer that produced
// it and Attempts lists every call made, including the failed ones.
func (c *Chain) Score(ctx context.Context, req ScoreRequest) (ScoreResult, error) {
	if len(c.scorers) == 0 {
		return ScoreResult{}, ErrConfigurationMissing
	}

	attempts := make([]Attempt, 0, len(c.scorers))
	var lastErr error
	for i, scorer := range c.scorers {
		if err := ctx.Err(); err != nil {
			return ScoreResult{}, err
		}

		result, err := scorer.Score(ctx, req)
		if err == nil {
			result.Attempts = append(attempts, Attempt{Provider: scorer.Name()})
			return result, nil
		}

		attempts = append(attempts, Attempt{Provider: scorer.Name(), Error: err.Error()})
		lastErr = err
		if !errors.Is(err, ErrProviderUnreachable) && !errors.Is(err, ErrProviderInvalidResponse) {
			return ScoreResult{}, &ChainError{Attempts: attempts, Err: err}
		}

		if i+1 < len(c.scorers) {
			next := c.scorers[i+1].Name()
			scoreFallbacks.WithLabelValues(string(scorer.Name()), string(next)).Inc()
			c.logger.Warn().Err(err).
				Str("provider", string(scorer.Name())).
				Str("fallback", string(next)).
				Msg("scoring provider failed, falling back")
		}
	}

	return ScoreResult{}, &ChainError{Attempts: attempts, Err: lastErr}
}
