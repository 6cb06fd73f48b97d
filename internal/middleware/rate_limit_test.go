package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"
)

func TestRateLimitKeysByUser(t *testing.T) {
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		if c.Get("X-User") == "2" {
			c.Locals(LocalUserID, uint(2))
		} else {
			c.Locals(LocalUserID, uint(1))
		}
		return c.Next()
	})
	app.Use(RateLimit("grading", 1, time.Minute))
	app.Post("/grade", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	send := func(user string) *http.Response {
		req := httptest.NewRequest(http.MethodPost, "/grade", nil)
		req.Header.Set("X-User", user)
		resp, err := app.Test(req)
		require.NoError(t, err)
		return resp
	}

	require.Equal(t, fiber.StatusOK, send("1").StatusCode)
	limited := send("1")
	require.Equal(t, fiber.StatusTooManyRequests, limited.StatusCode)
	require.Equal(t, "60", limited.Header.Get(fiber.HeaderRetryAfter))
	require.Equal(t, fiber.StatusOK, send("2").StatusCode)
}
