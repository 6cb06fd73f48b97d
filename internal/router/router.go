package router

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-grading-api/internal/config"
	"github.com/noah-isme/gema-grading-api/internal/handler"
	"github.com/noah-isme/gema-grading-api/internal/middleware"
	"github.com/noah-isme/gema-grading-api/internal/observability"
)

// Roles allowed to drive grading and read reports.
var staffRoles = []string{"admin", "teacher"}

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	GradingHandler     *handler.GradingHandler
	ReviewHandler      *handler.SubmissionReviewHandler
	GradeReportHandler *handler.GradeReportHandler
	AISettingsHandler  *handler.AISettingsHandler
	MLTrainingHandler  *handler.MLTrainingHandler
	JWTMiddleware      fiber.Handler
	HealthChecks       map[string]handler.DependencyCheck
	// GradingRateLimit caps grading requests per user per minute; zero uses the middleware default.
	GradingRateLimit int
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	app.Get("/metrics", observability.MetricsHandler())

	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg, deps.HealthChecks))

	// Use provided JWT middleware, or a no-op if nil
	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}
	staff := middleware.RequireRole(staffRoles...)

	if deps.GradingHandler != nil || deps.ReviewHandler != nil {
		grading := api.Group("/grading", jwtMiddleware, staff, middleware.RateLimit("grading", deps.GradingRateLimit, time.Minute))
		if deps.GradingHandler != nil {
			deps.GradingHandler.Register(grading)
		}
		if deps.ReviewHandler != nil {
			deps.ReviewHandler.Register(grading)
		}
	}

	if deps.GradeReportHandler != nil {
		courses := api.Group("/courses", jwtMiddleware, staff)
		deps.GradeReportHandler.Register(courses)
	}

	if deps.AISettingsHandler != nil {
		settings := api.Group("/ai-settings", jwtMiddleware, middleware.RequireRole("admin"))
		deps.AISettingsHandler.Register(settings)
	}

	if deps.MLTrainingHandler != nil {
		training := api.Group("/ml-training", jwtMiddleware, staff)
		deps.MLTrainingHandler.Register(training)
	}
}
