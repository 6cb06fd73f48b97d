package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-grading-api/internal/config"
	"github.com/noah-isme/gema-grading-api/internal/database"
	"github.com/noah-isme/gema-grading-api/internal/handler"
	"github.com/noah-isme/gema-grading-api/internal/repository"
	"github.com/noah-isme/gema-grading-api/internal/service"
	"github.com/noah-isme/gema-grading-api/pkg/ai"
	"github.com/noah-isme/gema-grading-api/pkg/blob"
	cloud "github.com/noah-isme/gema-grading-api/pkg/cloudinary"
	"github.com/noah-isme/gema-grading-api/pkg/pdftext"
)

// Container holds the connections and services shared by the API server and the sweep command.
type Container struct {
	DB        *gorm.DB
	Redis     *redis.Client
	NATS      *nats.Conn
	Validator *validator.Validate

	Grading      service.GradingService
	Reviews      service.SubmissionReviewService
	Reports      service.GradeReportService
	Policies     service.GradingPolicyService
	AISettings   service.AISettingsService
	Training     service.TrainingDataService
	MLTraining   service.MLTrainingService
	Events       service.GradingEventPublisher
	HealthChecks map[string]handler.DependencyCheck
}

// Build connects to the backing stores and wires every grading service.
func Build(cfg config.Config, logger zerolog.Logger) (*Container, error) {
	db, err := database.ConnectPostgres(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(db); err != nil {
		return nil, err
	}

	redisClient, err := database.ConnectRedis(cfg.RedisURL)
	if err != nil {
		return nil, err
	}

	natsConn, err := database.ConnectNATS(cfg.NATSURL, cfg.AppName)
	if err != nil {
		logger.Warn().Err(err).Msg("nats unavailable, grading events limited to redis")
	}

	store, err := objectStore(cfg, logger)
	if err != nil {
		return nil, err
	}

	httpClient := &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	validate := validator.New(validator.WithRequiredStructEnabled())

	submissionRepo := repository.NewSubmissionRepository(db)
	assessmentRepo := repository.NewAssessmentRepository(db)
	policyRepo := repository.NewGradingPolicyRepository(db)
	settingsRepo := repository.NewAISettingsRepository(db)
	trainingRepo := repository.NewTrainingDataRepository(db)
	mlTrainingRepo := repository.NewMLTrainingRepository(db)

	scale, err := service.ParseLetterScale(cfg.GradingLetterScale)
	if err != nil {
		return nil, fmt.Errorf("invalid letter scale: %w", err)
	}

	retriever := blob.NewRetriever(blob.Config{
		ObjectStore: store,
		UploadRoot:  cfg.UploadDir,
		LocalPrefix: cfg.UploadURLPrefix,
		Timeout:     cfg.FetchTimeout,
		MaxBytes:    cfg.FetchMaxBytes,
		HTTPClient:  httpClient,
		Logger:      logger,
	})
	extractor := pdftext.NewExtractor(pdftext.Config{
		Timeout: cfg.ExtractTimeout,
		Parse:   pdftext.PlainText,
		Logger:  logger,
	})

	settingsService := service.NewAISettingsService(settingsRepo, validate, ai.Defaults{
		GeminiAPIKey:  cfg.GeminiAPIKey,
		GeminiBaseURL: cfg.GeminiBaseURL,
		GeminiModel:   cfg.GeminiModel,
		MLAPIURL:      cfg.MLAPIURL,
		BothOrder:     ai.ParseOrder(cfg.AIBothOrder),
		Timeout:       cfg.AIProviderTimeout,
		TrainTimeout:  cfg.MLTrainTimeout,
		LowConfidence: cfg.AILowConfidence,
		HTTPClient:    httpClient,
		Logger:        logger,
	}, cfg.SettingsCacheTTL, logger)
	trainingService := service.NewTrainingDataService(trainingRepo, submissionRepo, logger)
	events := service.NewGradingEventPublisher(natsConn, redisClient, cfg.GradingEventSubject, logger)

	gradingService := service.NewGradingService(submissionRepo, retriever, extractor, settingsService, trainingService, events, redisClient, service.GradingConfig{
		Lease:        cfg.GradingLease,
		MaxAttempts:  cfg.GradingMaxAttempts,
		Concurrency:  cfg.GradingConcurrency,
		ErrorMarkers: cfg.GradingErrorMarkers,
	}, logger)

	container := &Container{
		DB:         db,
		Redis:      redisClient,
		NATS:       natsConn,
		Validator:  validate,
		Grading:    gradingService,
		Reviews:    service.NewSubmissionReviewService(submissionRepo, trainingService, validate, logger),
		Reports:    service.NewGradeReportService(assessmentRepo, submissionRepo, policyRepo, scale, cfg.GradingDefaultPass, logger),
		Policies:   service.NewGradingPolicyService(policyRepo, validate, logger),
		AISettings: settingsService,
		Training:   trainingService,
		MLTraining: service.NewMLTrainingService(trainingRepo, mlTrainingRepo, settingsService, validate, logger),
		Events:     events,
	}
	container.HealthChecks = container.dependencyChecks()
	return container, nil
}

// Close releases every connection. It is safe to call once on shutdown.
func (c *Container) Close() error {
	var errs []error
	if c.NATS != nil {
		if err := c.NATS.Drain(); err != nil {
			errs = append(errs, fmt.Errorf("drain nats: %w", err))
		}
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	if c.DB != nil {
		if sqlDB, err := c.DB.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close postgres: %w", err))
			}
		}
	}
	return errors.Join(errs...)
}

func (c *Container) dependencyChecks() map[string]handler.DependencyCheck {
	checks := map[string]handler.DependencyCheck{
		"postgres": func(ctx context.Context) error {
			sqlDB, err := c.DB.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
		"redis": func(ctx context.Context) error {
			return c.Redis.Ping(ctx).Err()
		},
	}
	if c.NATS != nil {
		checks["nats"] = func(context.Context) error {
			if !c.NATS.IsConnected() {
				return fmt.Errorf("nats status %s", c.NATS.Status())
			}
			return nil
		}
	}
	return checks
}

// objectStore returns the configured bucket backend, or nil when none is configured.
func objectStore(cfg config.Config, logger zerolog.Logger) (blob.ObjectStore, error) {
	switch cfg.StorageProvider {
	case config.StorageOSS:
		store, err := blob.NewOSSStore(blob.OSSConfig{
			Endpoint:        cfg.OSSEndpoint,
			AccessKeyID:     cfg.OSSAccessKey,
			AccessKeySecret: cfg.OSSSecretKey,
			SecurityToken:   cfg.OSSSecurityToken,
			Bucket:          cfg.OSSBucket,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create oss client: %w", err)
		}
		if store == nil {
			logger.Warn().Msg("oss selected but not configured, object storage disabled")
			return nil, nil
		}
		return store, nil
	case config.StorageCloudinary:
		store, err := cloud.New(cloud.Config{
			CloudName: cfg.CloudinaryCloudName,
			APIKey:    cfg.CloudinaryAPIKey,
			APISecret: cfg.CloudinaryAPISecret,
			Folder:    cfg.CloudinaryFolder,
			AssetType: cfg.CloudinaryAssetType,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create cloudinary client: %w", err)
		}
		if store == nil {
			logger.Warn().Msg("cloudinary selected but not configured, object storage disabled")
			return nil, nil
		}
		return store, nil
	default:
		return nil, nil
	}
}
