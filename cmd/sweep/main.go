package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grading-api/internal/app"
	"github.com/noah-isme/gema-grading-api/internal/config"
)

const (
	modeClearErrors  = "clear-errors"
	modeRunPending   = "run-pending"
	modeSyncTraining = "sync-training"
)

func main() {
	mode := flag.String("mode", modeRunPending, "sweep to run: clear-errors, run-pending or sync-training")
	dryRun := flag.Bool("dry-run", false, "list matching submissions without clearing them (clear-errors only)")
	limit := flag.Int("limit", 0, "maximum submissions to grade (run-pending only, 0 uses GEMA_SWEEP_LIMIT)")
	timeout := flag.Duration("timeout", 30*time.Minute, "abort the sweep after this long")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stderr).With().Timestamp().Str("mode", *mode).Logger()

	container, err := app.Build(cfg, logger)
	if err != nil {
		log.Fatalf("failed to initialise dependencies: %v", err)
	}
	defer container.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	var result any
	switch *mode {
	case modeClearErrors:
		result, err = container.Grading.ClearErrorFeedback(ctx, *dryRun)
	case modeRunPending:
		if *limit <= 0 {
			*limit = cfg.SweepLimit
		}
		result, err = container.Grading.GradePending(ctx, *limit)
	case modeSyncTraining:
		result, err = container.Training.SyncExisting(ctx, nil)
	default:
		err = fmt.Errorf("unknown mode %q", *mode)
	}
	if err != nil {
		logger.Error().Err(err).Msg("sweep failed")
		container.Close()
		os.Exit(1)
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(result); err != nil {
		logger.Error().Err(err).Msg("failed to write result")
	}
}
