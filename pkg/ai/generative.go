package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultGeminiBaseURL is Gemini's OpenAI-compatible endpoint.
const DefaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai/"

// GenerativeConfig defines configuration options for the generative scorer.
type GenerativeConfig struct {
	APIKey        string
	BaseURL       string
	Model         string
	MaxTokens     int
	Temperature   float32
	Timeout       time.Duration
	LowConfidence float64
	HTTPClient    *http.Client
	Logger        zerolog.Logger
}

// GenerativeScorer grades answers with a chat completion model.
type GenerativeScorer struct {
	client *openai.Client
	cfg    GenerativeConfig
	tracer trace.Tracer
	logger zerolog.Logger
}

// NewGenerativeScorer builds a scorer using the provided configuration.
func NewGenerativeScorer(cfg GenerativeConfig) (*GenerativeScorer, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("%w: generative api key is required", ErrConfigurationMissing)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultGeminiBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.0-flash"
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 1024
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.LowConfidence <= 0 {
		cfg.LowConfidence = DefaultLowConfidence
	}

	config := openai.DefaultConfig(cfg.APIKey)
	config.BaseURL = cfg.BaseURL
	if cfg.HTTPClient != nil {
		config.HTTPClient = cfg.HTTPClient
	} else {
		config.HTTPClient = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}

	return &GenerativeScorer{
		client: openai.NewClientWithConfig(config),
		cfg:    cfg,
		tracer: otel.Tracer("github.com/noah-isme/gema-grading-api/pkg/ai/generative"),
		logger: cfg.Logger.With().Str("component", "generative_scorer").Logger(),
	}, nil
}

// Name identifies the provider.
func (g *GenerativeScorer) Name() Provider {
	return ProviderGemini
}

// Score asks the model for a JSON verdict and normalises it.
func (g *GenerativeScorer) Score(parent context.Context, req ScoreRequest) (ScoreResult, error) {
	ctx, span := g.tracer.Start(parent, "generative.score", trace.WithAttributes(
		attribute.String("model", g.cfg.Model),
		attribute.Float64("max_score", req.MaxScore),
	))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	start := time.Now()
	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       g.cfg.Model,
		MaxTokens:   g.cfg.MaxTokens,
		Temperature: g.cfg.Temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: graderSystemPrompt()},
			{Role: openai.ChatMessageRoleUser, Content: buildGradingPrompt(req)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	})
	scoreDuration.WithLabelValues(string(ProviderGemini)).Observe(time.Since(start).Seconds())
	if err != nil {
		return g.fail(span, classifyOpenAIError(err))
	}
	if len(resp.Choices) == 0 {
		return g.fail(span, invalidResponse(ProviderGemini, errors.New("no choices returned")))
	}

	payload, err := decodePayload([]byte(stripFences(resp.Choices[0].Message.Content)))
	if err != nil {
		return g.fail(span, invalidResponse(ProviderGemini, err))
	}

	result := normalize(ProviderGemini, payload, req.MaxScore, g.cfg.LowConfidence)
	recordFlags(result)
	span.SetAttributes(attribute.Float64("score", result.Score), attribute.Bool("adjusted", result.Adjusted))
	g.logger.Debug().Float64("score", result.Score).Int("total_tokens", resp.Usage.TotalTokens).Msg("generative score received")
	return result, nil
}

func (g *GenerativeScorer) fail(span trace.Span, err error) (ScoreResult, error) {
	recordFailure(ProviderGemini, err)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	g.logger.Warn().Err(err).Msg("generative scoring failed")
	return ScoreResult{}, err
}

// classifyOpenAIError separates transport and upstream failures from malformed answers.
func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode >= 200 && apiErr.HTTPStatusCode < 300 {
		return invalidResponse(ProviderGemini, err)
	}
	return unreachable(ProviderGemini, err)
}

func graderSystemPrompt() string {
	return "You are a teaching assistant grading open-ended answers. Respond with a JSON object containing " +
		"score (a number between 0 and the maximum score), feedback (constructive advice for the learner, written " +
		"in the language of the answer), and confidence (0-1)."
}

func buildGradingPrompt(req ScoreRequest) string {
	builder := strings.Builder{}
	builder.WriteString("# Question\n")
	builder.WriteString(req.Question)
	builder.WriteString("\n\n## Learner Answer\n")
	builder.WriteString(req.Answer)
	builder.WriteString(fmt.Sprintf("\n\n## Maximum Score\n%g\n", req.MaxScore))
	builder.WriteString("\nJudge correctness, completeness, and clarity. Return JSON.")
	return builder.String()
}
