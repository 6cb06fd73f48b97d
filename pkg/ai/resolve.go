package ai

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Settings is the tenant-level AI configuration.
type Settings struct {
	Enabled  bool
	Provider Provider
	MLAPIURL string
	APIKey   string
	// Order overrides the BOTH-mode provider order when set.
	Order []Provider
}

// Defaults carries process-wide fallbacks applied when tenant settings leave a value empty.
type Defaults struct {
	GeminiAPIKey  string
	GeminiBaseURL string
	GeminiModel   string
	MLAPIURL      string
	BothOrder     []Provider
	Timeout       time.Duration
	TrainTimeout  time.Duration
	LowConfidence float64
	HTTPClient    *http.Client
	Logger        zerolog.Logger
}

// DefaultBothOrder tries the fine-tuned service first and the generative model second.
var DefaultBothOrder = []Provider{ProviderML, ProviderGemini}

// ParseOrder parses a comma separated provider list, ignoring unknown and composite entries.
func ParseOrder(value string) []Provider {
	var order []Provider
	seen := map[Provider]bool{}
	for _, part := range strings.Split(value, ",") {
		provider, ok := ParseProvider(part)
		if !ok || provider == ProviderBoth || seen[provider] {
			continue
		}
		seen[provider] = true
		order = append(order, provider)
	}
	return order
}

// EffectiveProvider applies the ML/BOTH-without-URL downgrade to GEMINI.
func EffectiveProvider(settings Settings, defaults Defaults) Provider {
	provider := settings.Provider
	if provider == "" {
		provider = ProviderGemini
	}
	if (provider == ProviderML || provider == ProviderBoth) && mlURL(settings, defaults) == "" {
		return ProviderGemini
	}
	return provider
}

// Resolve builds the scorer for a tenant. Nil or disabled settings yield ErrConfigurationMissing.
func Resolve(settings *Settings, defaults Defaults) (Scorer, error) {
	if settings == nil || !settings.Enabled {
		return nil, ErrConfigurationMissing
	}

	switch provider := EffectiveProvider(*settings, defaults); provider {
	case ProviderGemini:
		return buildScorer(ProviderGemini, *settings, defaults)
	case ProviderML:
		return buildScorer(ProviderML, *settings, defaults)
	case ProviderBoth:
		order := settings.Order
		if len(order) == 0 {
			order = defaults.BothOrder
		}
		if len(order) == 0 {
			order = DefaultBothOrder
		}

		scorers := make([]Scorer, 0, len(order))
		for _, member := range order {
			scorer, err := buildScorer(member, *settings, defaults)
			if err != nil {
				defaults.Logger.Warn().Err(err).Str("provider", string(member)).Msg("skipping unconfigured provider in BOTH mode")
				continue
			}
			scorers = append(scorers, scorer)
		}
		if len(scorers) == 0 {
			return nil, ErrConfigurationMissing
		}
		return NewChain(ProviderBoth, defaults.Logger, scorers...), nil
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrConfigurationMissing, provider)
	}
}

// ResolveTrainer builds the training client for a tenant's fine-tuned service. Training does not
// depend on which provider grades submissions, only on an ML service URL being known.
func ResolveTrainer(settings *Settings, defaults Defaults) (Trainer, error) {
	var tenant Settings
	if settings != nil {
		tenant = *settings
	}
	if mlURL(tenant, defaults) == "" {
		return nil, fmt.Errorf("%w: ml service url is required for training", ErrConfigurationMissing)
	}

	scorer, err := NewServiceScorer(ServiceConfig{
		BaseURL:      mlURL(tenant, defaults),
		Timeout:      defaults.Timeout,
		TrainTimeout: defaults.TrainTimeout,
		HTTPClient:   defaults.HTTPClient,
		Logger:       defaults.Logger,
	})
	if err != nil {
		return nil, err
	}
	return scorer, nil
}

func buildScorer(provider Provider, settings Settings, defaults Defaults) (Scorer, error) {
	switch provider {
	case ProviderGemini:
		key := strings.TrimSpace(settings.APIKey)
		if key == "" {
			key = defaults.GeminiAPIKey
		}
		return NewGenerativeScorer(GenerativeConfig{
			APIKey:        key,
			BaseURL:       defaults.GeminiBaseURL,
			Model:         defaults.GeminiModel,
			Timeout:       defaults.Timeout,
			LowConfidence: defaults.LowConfidence,
			HTTPClient:    defaults.HTTPClient,
			Logger:        defaults.Logger,
		})
	case ProviderML:
		return NewServiceScorer(ServiceConfig{
			BaseURL:       mlURL(settings, defaults),
			Timeout:       defaults.Timeout,
			TrainTimeout:  defaults.TrainTimeout,
			LowConfidence: defaults.LowConfidence,
			HTTPClient:    defaults.HTTPClient,
			Logger:        defaults.Logger,
		})
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrConfigurationMissing, provider)
	}
}

func mlURL(settings Settings, defaults Defaults) string {
	if url := strings.TrimSpace(settings.MLAPIURL); url != "" {
		return url
	}
	return strings.TrimSpace(defaults.MLAPIURL)
}
