package middleware

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

const (
	// CorrelationHeader carries the identifier that ties a grading request to its logs, spans and events.
	CorrelationHeader = "X-Correlation-ID"
	requestIDHeader   = "X-Request-ID"
	correlationLocal  = "correlation_id"

	// maxCorrelationIDLength bounds client-supplied identifiers before they reach logs and headers.
	maxCorrelationIDLength = 128
)

type gradingCorrelationKey struct{}

// CorrelationID accepts X-Correlation-ID or X-Request-ID from the caller, or mints one, and binds it
// to the request locals, the response header and the user context handed to grading services.
func CorrelationID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := strings.TrimSpace(c.Get(CorrelationHeader))
		if id == "" {
			id = strings.TrimSpace(c.Get(requestIDHeader))
		}
		if id == "" || len(id) > maxCorrelationIDLength {
			id = uuid.NewString()
		}

		c.Locals(correlationLocal, id)
		c.Set(CorrelationHeader, id)
		c.SetUserContext(context.WithValue(c.UserContext(), gradingCorrelationKey{}, id))

		return c.Next()
	}
}

// CorrelationIDFromContext extracts the identifier bound by the middleware or a sweep.
func CorrelationIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(gradingCorrelationKey{}).(string)
	return id
}

// GetCorrelationID returns the identifier bound to the active request.
func GetCorrelationID(c *fiber.Ctx) string {
	if c == nil {
		return ""
	}
	if id, ok := c.Locals(correlationLocal).(string); ok {
		return id
	}
	return CorrelationIDFromContext(c.UserContext())
}

// ContextWithCorrelation attaches the identifier to ctx. Blank identifiers leave ctx untouched.
func ContextWithCorrelation(ctx context.Context, correlationID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	correlationID = strings.TrimSpace(correlationID)
	if correlationID == "" {
		return ctx
	}
	return context.WithValue(ctx, gradingCorrelationKey{}, correlationID)
}

// ContextForSweep mints an identifier for a background grading sweep, e.g. "sweep-pending-<uuid>",
// so submissions graded in the same batch share it in logs and published events.
func ContextForSweep(ctx context.Context, sweep string) (context.Context, string) {
	id := "sweep-" + strings.TrimSpace(sweep) + "-" + uuid.NewString()
	return ContextWithCorrelation(ctx, id), id
}
