package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const maxServiceResponseBytes = 1 << 20

// ServiceConfig configures the fine-tuned scoring service client.
type ServiceConfig struct {
	BaseURL       string
	Timeout       time.Duration
	TrainTimeout  time.Duration
	LowConfidence float64
	HTTPClient    *http.Client
	Logger        zerolog.Logger
}

// ServiceScorer calls the fine-tuned scoring service over HTTP.
type ServiceScorer struct {
	endpoint      string
	trainEndpoint string
	cfg           ServiceConfig
	client   *http.Client
	tracer   trace.Tracer
	logger   zerolog.Logger
}

// NewServiceScorer builds a client for POST {BaseURL}/api/grade and POST {BaseURL}/api/train.
func NewServiceScorer(cfg ServiceConfig) (*ServiceScorer, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("%w: scoring service url is required", ErrConfigurationMissing)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.TrainTimeout <= 0 {
		cfg.TrainTimeout = 5 * time.Minute
	}
	if cfg.LowConfidence <= 0 {
		cfg.LowConfidence = DefaultLowConfidence
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}

	return &ServiceScorer{
		endpoint:      base + "/api/grade",
		trainEndpoint: base + "/api/train",
		cfg:           cfg,
		client:        client,
		tracer:        otel.Tracer("github.com/noah-isme/gema-grading-api/pkg/ai/service"),
		logger:        cfg.Logger.With().Str("component", "ml_scorer").Logger(),
	}, nil
}

// Name identifies the provider.
func (s *ServiceScorer) Name() Provider {
	return ProviderML
}

type serviceRequest struct {
	Question string  `json:"question"`
	Answer   string  `json:"answer"`
	MaxScore float64 `json:"maxScore"`
}

// Score posts the answer to the scoring service.
func (s *ServiceScorer) Score(parent context.Context, req ScoreRequest) (ScoreResult, error) {
	ctx, span := s.tracer.Start(parent, "ml.score", trace.WithAttributes(
		attribute.String("endpoint", s.endpoint),
	))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	body, err := json.Marshal(serviceRequest{Question: req.Question, Answer: req.Answer, MaxScore: req.MaxScore})
	if err != nil {
		return s.fail(span, invalidResponse(ProviderML, err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return s.fail(span, unreachable(ProviderML, err))
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := s.client.Do(httpReq)
	scoreDuration.WithLabelValues(string(ProviderML)).Observe(time.Since(start).Seconds())
	if err != nil {
		return s.fail(span, unreachable(ProviderML, err))
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return s.fail(span, unreachable(ProviderML, fmt.Errorf("unexpected status %s", resp.Status)))
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxServiceResponseBytes))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return s.fail(span, unreachable(ProviderML, err))
		}
		return s.fail(span, invalidResponse(ProviderML, err))
	}

	payload, err := decodePayload(raw)
	if err != nil {
		return s.fail(span, invalidResponse(ProviderML, err))
	}

	result := normalize(ProviderML, payload, req.MaxScore, s.cfg.LowConfidence)
	recordFlags(result)
	span.SetAttributes(attribute.Float64("score", result.Score))
	s.logger.Debug().Float64("score", result.Score).Msg("ml score received")
	return result, nil
}

func (s *ServiceScorer) fail(span trace.Span, err error) (ScoreResult, error) {
	recordFailure(ProviderML, err)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	s.logger.Warn().Err(err).Msg("ml scoring failed")
	return ScoreResult{}, err
}
