package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grading-api/internal/observability"
)

// DefaultGradingSubject is the subject prefix for grading events.
const DefaultGradingSubject = "gema.grading"

// GradingEvent announces a finished grading attempt. CorrelationID ties it to the request or sweep
// that triggered grading.
type GradingEvent struct {
	SubmissionID  uint      `json:"submission_id"`
	AssessmentID  uint      `json:"assessment_id"`
	LearnerID     uint      `json:"learner_id"`
	SchoolID      *uint     `json:"school_id,omitempty"`
	State         string    `json:"state"`
	Reason        string    `json:"reason,omitempty"`
	Score         *float64  `json:"score,omitempty"`
	Provider      string    `json:"provider,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// GradingEventPublisher fans grading events out to subscribers.
type GradingEventPublisher interface {
	Publish(ctx context.Context, event GradingEvent) error
}

type gradingEventPublisher struct {
	nats    *nats.Conn
	redis   *redis.Client
	subject string
	logger  zerolog.Logger
}

// NewGradingEventPublisher publishes to "<subject>.completed" and "<subject>.failed" on NATS and
// the matching Redis channels. Either transport may be nil.
func NewGradingEventPublisher(natsConn *nats.Conn, redisClient *redis.Client, subject string, logger zerolog.Logger) GradingEventPublisher {
	subject = strings.TrimSuffix(strings.TrimSpace(subject), ".")
	if subject == "" {
		subject = DefaultGradingSubject
	}
	return &gradingEventPublisher{
		nats:    natsConn,
		redis:   redisClient,
		subject: subject,
		logger:  logger.With().Str("component", "grading_events").Logger(),
	}
}

func (p *gradingEventPublisher) subjectFor(event GradingEvent) string {
	if event.State == "graded" {
		return p.subject + ".completed"
	}
	return p.subject + ".failed"
}

func (p *gradingEventPublisher) Publish(ctx context.Context, event GradingEvent) error {
	if p.nats == nil && p.redis == nil {
		return nil
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	subject := p.subjectFor(event)
	var errs []error
	if p.redis != nil {
		if err := p.redis.Publish(ctx, subject, payload).Err(); err != nil {
			errs = append(errs, err)
		}
	}
	if p.nats != nil {
		if err := p.nats.Publish(subject, payload); err != nil {
			errs = append(errs, err)
		}
	}

	if err := errors.Join(errs...); err != nil {
		observability.GradingEvents().WithLabelValues(subject, "error").Inc()
		return err
	}

	observability.GradingEvents().WithLabelValues(subject, "ok").Inc()
	p.logger.Debug().Str("subject", subject).Uint("submission_id", event.SubmissionID).Msg("grading event published")
	return nil
}
