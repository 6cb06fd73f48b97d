package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grading-api/internal/app"
	"github.com/noah-isme/gema-grading-api/internal/config"
	"github.com/noah-isme/gema-grading-api/internal/handler"
	"github.com/noah-isme/gema-grading-api/internal/middleware"
	"github.com/noah-isme/gema-grading-api/internal/router"
	"github.com/noah-isme/gema-grading-api/internal/scheduler"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", cfg.AppName).Logger()

	container, err := app.Build(cfg, logger)
	if err != nil {
		log.Fatalf("failed to initialise dependencies: %v", err)
	}
	defer func() {
		if err := container.Close(); err != nil {
			logger.Error().Err(err).Msg("failed to close dependencies")
		}
	}()

	sweeps, err := scheduler.New(container.Grading, scheduler.Config{
		SweepSpec:  cfg.SweepCron,
		ClearSpec:  cfg.ClearCron,
		SweepLimit: cfg.SweepLimit,
	}, logger)
	if err != nil {
		log.Fatalf("failed to configure scheduler: %v", err)
	}
	sweeps.Start()

	fiberApp := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
	})

	middleware.Register(fiberApp, middleware.Config{
		Logger:      &logger,
		AccessLog:   cfg.AppEnv == "development",
		StackTraces: cfg.AppEnv != "production",
	})
	router.Register(fiberApp, cfg, router.Dependencies{
		GradingHandler:     handler.NewGradingHandler(container.Grading, container.Validator, logger),
		ReviewHandler:      handler.NewSubmissionReviewHandler(container.Reviews, container.Validator, logger),
		GradeReportHandler: handler.NewGradeReportHandler(container.Reports, container.Policies, logger),
		AISettingsHandler:  handler.NewAISettingsHandler(container.AISettings, logger),
		MLTrainingHandler:  handler.NewMLTrainingHandler(container.Training, container.MLTraining, container.Validator, logger),
		JWTMiddleware:      middleware.JWTProtected(cfg.JWTSecret),
		HealthChecks:       container.HealthChecks,
		GradingRateLimit:   30,
	})

	go func() {
		if err := fiberApp.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	waitForShutdown(fiberApp, sweeps)
}

func waitForShutdown(app *fiber.App, sweeps *scheduler.Scheduler) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
	sweeps.Stop(ctx)

	log.Println("server stopped")
}
