package handler_test

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-grading-api/internal/config"
	"github.com/noah-isme/gema-grading-api/internal/dto"
	"github.com/noah-isme/gema-grading-api/internal/handler"
	"github.com/noah-isme/gema-grading-api/internal/repository"
	"github.com/noah-isme/gema-grading-api/internal/router"
	"github.com/noah-isme/gema-grading-api/internal/service"
	"github.com/noah-isme/gema-grading-api/pkg/ai"
)

func setupSettingsApp(t *testing.T, role string) *fiber.App {
	t.Helper()

	db := setupHandlerDB(t)
	validate := validator.New(validator.WithRequiredStructEnabled())
	settings := service.NewAISettingsService(repository.NewAISettingsRepository(db), validate, ai.Defaults{Logger: zerolog.Nop()}, time.Minute, zerolog.Nop())

	app := fiber.New()
	router.Register(app, config.Config{AppName: "Test"}, router.Dependencies{
		AISettingsHandler: handler.NewAISettingsHandler(settings, zerolog.Nop()),
		JWTMiddleware:     asRole(role),
	})
	return app
}

func TestAISettingsHandlerUpdateHidesKey(t *testing.T) {
	app := setupSettingsApp(t, "admin")

	resp := doJSON(t, app, http.MethodPut, "/api/v1/ai-settings?school_id=4", map[string]any{
		"provider":   "ML",
		"ml_api_url": "http://ml.internal:8000",
		"api_key":    "secret-key",
		"enabled":    true,
	})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp = doJSON(t, app, http.MethodGet, "/api/v1/ai-settings?school_id=4", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var body envelope
	decodeResponse(t, resp, &body)
	require.NotContains(t, string(body.Data), "secret-key")

	var view dto.AISettingsResponse
	require.NoError(t, json.Unmarshal(body.Data, &view))
	require.True(t, view.Configured)
	require.True(t, view.HasAPIKeyConfigured)
	require.Equal(t, "ML", view.EffectiveProvider)

	resp = doJSON(t, app, http.MethodGet, "/api/v1/ai-settings", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	decodeResponse(t, resp, &body)
	require.NoError(t, json.Unmarshal(body.Data, &view))
	require.False(t, view.Configured)
}

func TestAISettingsHandlerValidatesInput(t *testing.T) {
	app := setupSettingsApp(t, "admin")

	resp := doJSON(t, app, http.MethodPut, "/api/v1/ai-settings", map[string]any{"provider": "OPENAI"})
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp = doJSON(t, app, http.MethodGet, "/api/v1/ai-settings?school_id=x", nil)
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestAISettingsHandlerIsAdminOnly(t *testing.T) {
	app := setupSettingsApp(t, "teacher")

	resp := doJSON(t, app, http.MethodGet, "/api/v1/ai-settings", nil)
	require.Equal(t, fiber.StatusForbidden, resp.StatusCode)
}
