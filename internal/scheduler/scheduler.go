package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grading-api/internal/middleware"
	"github.com/noah-isme/gema-grading-api/internal/service"
)

const defaultRunTimeout = 4 * time.Minute

// Config selects which sweeps run and when. An empty spec disables that sweep.
type Config struct {
	SweepSpec  string
	ClearSpec  string
	SweepLimit int
	RunTimeout time.Duration
}

// Scheduler drives the periodic grading sweeps.
type Scheduler struct {
	cron    *cron.Cron
	grading service.GradingService
	cfg     Config
	logger  zerolog.Logger
}

// New registers the configured sweeps. Overlapping runs of the same sweep are skipped.
func New(grading service.GradingService, cfg Config, logger zerolog.Logger) (*Scheduler, error) {
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = defaultRunTimeout
	}

	s := &Scheduler{
		cron:    cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger))),
		grading: grading,
		cfg:     cfg,
		logger:  logger.With().Str("component", "grading_scheduler").Logger(),
	}

	if cfg.SweepSpec != "" {
		if _, err := s.cron.AddFunc(cfg.SweepSpec, s.runPending); err != nil {
			return nil, fmt.Errorf("add pending sweep %q: %w", cfg.SweepSpec, err)
		}
	}
	if cfg.ClearSpec != "" {
		if _, err := s.cron.AddFunc(cfg.ClearSpec, s.clearErrors); err != nil {
			return nil, fmt.Errorf("add error feedback sweep %q: %w", cfg.ClearSpec, err)
		}
	}

	return s, nil
}

// Jobs reports how many sweeps are registered.
func (s *Scheduler) Jobs() int {
	return len(s.cron.Entries())
}

// Start runs the scheduler in the background.
func (s *Scheduler) Start() {
	if s.Jobs() == 0 {
		return
	}
	s.cron.Start()
	s.logger.Info().Str("sweep", s.cfg.SweepSpec).Str("clear", s.cfg.ClearSpec).Msg("grading scheduler started")
}

// Stop waits for running sweeps to finish or for ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
		s.logger.Warn().Msg("grading scheduler stop timed out")
	}
}

func (s *Scheduler) runPending() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.RunTimeout)
	defer cancel()
	ctx, correlation := middleware.ContextForSweep(ctx, "pending")
	logger := s.logger.With().Str("correlation_id", correlation).Logger()

	summary, err := s.grading.GradePending(ctx, s.cfg.SweepLimit)
	if err != nil {
		logger.Error().Err(err).Msg("pending sweep failed")
		return
	}
	logger.Info().
		Int("requested", summary.Requested).
		Int("graded", summary.Graded).
		Int("failed", summary.Failed).
		Int("skipped", summary.Skipped).
		Bool("interrupted", summary.Interrupted).
		Msg("pending sweep finished")
}

func (s *Scheduler) clearErrors() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.RunTimeout)
	defer cancel()
	ctx, correlation := middleware.ContextForSweep(ctx, "error-feedback")
	logger := s.logger.With().Str("correlation_id", correlation).Logger()

	result, err := s.grading.ClearErrorFeedback(ctx, false)
	if err != nil {
		logger.Error().Err(err).Msg("error feedback sweep failed")
		return
	}
	logger.Info().Int("matched", result.Matched).Int("cleared", result.Cleared).Msg("error feedback sweep finished")
}
