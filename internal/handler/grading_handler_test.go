package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-grading-api/internal/config"
	"github.com/noah-isme/gema-grading-api/internal/dto"
	"github.com/noah-isme/gema-grading-api/internal/handler"
	"github.com/noah-isme/gema-grading-api/internal/router"
	"github.com/noah-isme/gema-grading-api/internal/service"
)

type stubGradingService struct {
	graded      []uint
	pendingArgs []int
	dryRuns     []bool
}

func (s *stubGradingService) Grade(_ context.Context, id uint) (dto.GradingOutcomeResponse, error) {
	if id == 404 {
		return dto.GradingOutcomeResponse{}, service.ErrSubmissionNotFound
	}
	s.graded = append(s.graded, id)
	return dto.GradingOutcomeResponse{SubmissionID: id, State: service.OutcomeGraded, Provider: "GEMINI", Score: floatPtr(8)}, nil
}

func (s *stubGradingService) GradePending(_ context.Context, limit int) (dto.BatchGradingResponse, error) {
	s.pendingArgs = append(s.pendingArgs, limit)
	return dto.BatchGradingResponse{
		Requested: 2,
		Graded:    1,
		Failed:    1,
		Outcomes: []dto.GradingOutcomeResponse{
			{SubmissionID: 1, State: service.OutcomeGraded},
			{SubmissionID: 2, State: service.OutcomeFailed, Reason: service.ReasonNotAPDF},
		},
	}, nil
}

func (s *stubGradingService) ClearErrorFeedback(_ context.Context, dryRun bool) (dto.ClearErrorFeedbackResponse, error) {
	s.dryRuns = append(s.dryRuns, dryRun)
	return dto.ClearErrorFeedbackResponse{DryRun: dryRun, Matched: 3}, nil
}

func setupGradingApp(t *testing.T, role string) (*fiber.App, *stubGradingService) {
	t.Helper()

	svc := &stubGradingService{}
	validate := validator.New(validator.WithRequiredStructEnabled())

	app := fiber.New()
	router.Register(app, config.Config{AppName: "Test"}, router.Dependencies{
		GradingHandler:   handler.NewGradingHandler(svc, validate, zerolog.Nop()),
		JWTMiddleware:    asRole(role),
		GradingRateLimit: 100,
	})
	return app, svc
}

func TestGradingHandlerGradesSubmission(t *testing.T) {
	app, svc := setupGradingApp(t, "teacher")

	resp := doJSON(t, app, http.MethodPost, "/api/v1/grading/submissions/12/grade", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var body envelope
	decodeResponse(t, resp, &body)
	require.True(t, body.Success)

	var outcome dto.GradingOutcomeResponse
	require.NoError(t, json.Unmarshal(body.Data, &outcome))
	require.Equal(t, uint(12), outcome.SubmissionID)
	require.Equal(t, service.OutcomeGraded, outcome.State)
	require.Equal(t, []uint{12}, svc.graded)
}

func TestGradingHandlerRejectsBadInput(t *testing.T) {
	app, svc := setupGradingApp(t, "admin")

	resp := doJSON(t, app, http.MethodPost, "/api/v1/grading/submissions/0/grade", nil)
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp = doJSON(t, app, http.MethodPost, "/api/v1/grading/submissions/404/grade", nil)
	require.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	resp = doJSON(t, app, http.MethodPost, "/api/v1/grading/run-pending", map[string]any{"limit": 5000})
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	var body envelope
	decodeResponse(t, resp, &body)
	require.False(t, body.Success)
	require.Equal(t, "lte", body.Details["limit"])
	require.Empty(t, svc.pendingArgs)
}

func TestGradingHandlerRequiresStaffRole(t *testing.T) {
	app, svc := setupGradingApp(t, "student")

	resp := doJSON(t, app, http.MethodPost, "/api/v1/grading/submissions/12/grade", nil)
	require.Equal(t, fiber.StatusForbidden, resp.StatusCode)
	require.Empty(t, svc.graded)
}

func TestGradingHandlerRunPendingReportsCounts(t *testing.T) {
	app, svc := setupGradingApp(t, "admin")

	resp := doJSON(t, app, http.MethodPost, "/api/v1/grading/run-pending?limit=25", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var body envelope
	decodeResponse(t, resp, &body)
	require.Equal(t, []int{25}, svc.pendingArgs)
	require.EqualValues(t, 2, body.Meta["requested"])
	require.EqualValues(t, 1, body.Meta["failed"])

	var outcomes []dto.GradingOutcomeResponse
	require.NoError(t, json.Unmarshal(body.Data, &outcomes))
	require.Len(t, outcomes, 2)
	require.Equal(t, service.ReasonNotAPDF, outcomes[1].Reason)
}

func TestGradingHandlerClearErrorFeedbackDryRun(t *testing.T) {
	app, svc := setupGradingApp(t, "admin")

	resp := doJSON(t, app, http.MethodPost, "/api/v1/grading/clear-error-feedback?dry_run=true", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var body envelope
	decodeResponse(t, resp, &body)
	require.Equal(t, "error feedback preview", body.Message)

	resp = doJSON(t, app, http.MethodPost, "/api/v1/grading/clear-error-feedback", map[string]any{"dry_run": false})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Equal(t, []bool{true, false}, svc.dryRuns)
}
