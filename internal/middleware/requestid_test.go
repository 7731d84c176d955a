package middleware

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/pointledger/internal/logging"
)

func requestIDApp() *fiber.App {
	app := fiber.New()
	app.Use(RequestID())
	app.Get("/", func(c *fiber.Ctx) error {
		return c.SendString(logging.RequestID(c.UserContext()) + "|" + RequestIDFrom(c))
	})
	return app
}

func requestIDCall(t *testing.T, app *fiber.App, header string) (echoed, body string) {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set(requestIDHeader, header)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.Header.Get(requestIDHeader), string(raw)
}

func TestRequestIDKeepsCallerID(t *testing.T) {
	echoed, body := requestIDCall(t, requestIDApp(), "trace-123")
	assert.Equal(t, "trace-123", echoed)
	assert.Equal(t, "trace-123|trace-123", body)
}

func TestRequestIDReplacesUnusableIDs(t *testing.T) {
	app := requestIDApp()
	for _, header := range []string{"", "has space", strings.Repeat("x", maxRequestIDLen+1)} {
		echoed, body := requestIDCall(t, app, header)
		id, err := uuid.Parse(echoed)
		require.NoError(t, err, header)
		assert.Equal(t, uuid.Version(7), id.Version())
		assert.Equal(t, echoed+"|"+echoed, body)
	}
}
