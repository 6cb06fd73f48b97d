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

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrTrainingRejected indicates the scoring service refused or failed the training run.
var ErrTrainingRejected = errors.New("training run rejected by scoring service")

// TrainingSample is one graded answer sent to the fine-tuned service. TeacherScore carries the
// weighted target the model should learn.
type TrainingSample struct {
	Question        string   `json:"question"`
	Answer          string   `json:"answer"`
	AIScore         *float64 `json:"aiScore"`
	AIFeedback      string   `json:"aiFeedback"`
	TeacherScore    float64  `json:"teacherScore"`
	TeacherFeedback string   `json:"teacherFeedback"`
}

// TrainingReport summarises a finished training run. Metrics the service omits stay nil.
type TrainingReport struct {
	Accuracy *float64 `json:"accuracy,omitempty"`
	MSE      *float64 `json:"mse,omitempty"`
	MAE      *float64 `json:"mae,omitempty"`
	Samples  *int     `json:"samples,omitempty"`
}

// Trainer retrains the fine-tuned scoring model.
type Trainer interface {
	Train(ctx context.Context, samples []TrainingSample) (TrainingReport, error)
}

type trainRequest struct {
	GradingTasks []TrainingSample `json:"gradingTasks"`
}

type trainResponse struct {
	Success  bool     `json:"success"`
	Accuracy *float64 `json:"accuracy"`
	MSE      *float64 `json:"mse"`
	MAE      *float64 `json:"mae"`
	Samples  *int     `json:"samples"`
	Error    string   `json:"error"`
}

// Train posts the samples to {BaseURL}/api/train. Transport failures and 5xx answers are reported as
// ErrProviderUnreachable, 4xx answers and success=false as ErrTrainingRejected.
func (s *ServiceScorer) Train(parent context.Context, samples []TrainingSample) (TrainingReport, error) {
	ctx, span := s.tracer.Start(parent, "ml.train", trace.WithAttributes(
		attribute.String("endpoint", s.trainEndpoint),
		attribute.Int("samples", len(samples)),
	))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.TrainTimeout)
	defer cancel()

	body, err := json.Marshal(trainRequest{GradingTasks: samples})
	if err != nil {
		return s.failTrain(span, invalidResponse(ProviderML, err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.trainEndpoint, bytes.NewReader(body))
	if err != nil {
		return s.failTrain(span, unreachable(ProviderML, err))
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := s.client.Do(httpReq)
	if err != nil {
		return s.failTrain(span, unreachable(ProviderML, err))
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxServiceResponseBytes))
	if err != nil {
		return s.failTrain(span, unreachable(ProviderML, err))
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return s.failTrain(span, unreachable(ProviderML, fmt.Errorf("unexpected status %s", resp.Status)))
	}

	var payload trainResponse
	decodeErr := json.Unmarshal(raw, &payload)
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		reason := resp.Status
		if decodeErr == nil && strings.TrimSpace(payload.Error) != "" {
			reason = strings.TrimSpace(payload.Error)
		}
		return s.failTrain(span, fmt.Errorf("%w: %s", ErrTrainingRejected, reason))
	}
	if decodeErr != nil {
		return s.failTrain(span, invalidResponse(ProviderML, decodeErr))
	}
	if !payload.Success {
		reason := strings.TrimSpace(payload.Error)
		if reason == "" {
			reason = "service reported failure"
		}
		return s.failTrain(span, fmt.Errorf("%w: %s", ErrTrainingRejected, reason))
	}

	report := TrainingReport{Accuracy: payload.Accuracy, MSE: payload.MSE, MAE: payload.MAE, Samples: payload.Samples}
	s.logger.Info().
		Int("samples", len(samples)).
		Dur("elapsed", time.Since(start)).
		Msg("ml training finished")
	return report, nil
}

func (s *ServiceScorer) failTrain(span trace.Span, err error) (TrainingReport, error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	s.logger.Warn().Err(err).Msg("ml training failed")
	return TrainingReport{}, err
}
