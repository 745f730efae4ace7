package unit

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/astra-go-api/internal/config"
	"github.com/noah-isme/astra-go-api/internal/handler"
	"github.com/noah-isme/astra-go-api/internal/router"
)

type response struct {
	Success bool                   `json:"success"`
	Data    handler.HealthResponse `json:"data"`
}

func TestHealthCheck(t *testing.T) {
	cfg := config.Config{
		AppName: "Astra API",
		AppEnv:  "test",
	}

	app := fiber.New()
	router.Register(app, cfg, router.Dependencies{DisableMetrics: true})

	req := httptest.NewRequest("GET", "/api/v1/health", nil)
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("failed to execute request: %v", err)
	}

	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, cfg.AppName, resp.Header.Get("X-Application"))

	var payload response
	err = json.NewDecoder(resp.Body).Decode(&payload)
	assert.NoError(t, err)
	assert.True(t, payload.Success)
	assert.Equal(t, "ok", payload.Data.Status)
	assert.Equal(t, cfg.AppName, payload.Data.Service)
	assert.Equal(t, cfg.AppEnv, payload.Data.Environment)
	assert.WithinDuration(t, time.Now().UTC(), payload.Data.Timestamp, 2*time.Second)
}

func TestHealthSkipsBearerAuth(t *testing.T) {
	app := fiber.New()
	router.Register(app, config.Config{AppName: "Astra API"}, router.Dependencies{
		DisableMetrics: true,
		JWTMiddleware: func(c *fiber.Ctx) error {
			return fiber.NewError(fiber.StatusUnauthorized, "token required")
		},
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/health", nil), -1)
	assert.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest("GET", "/api/v2/astra/submissions/1", nil), -1)
	assert.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestHealthReportsFailingProbe(t *testing.T) {
	app := fiber.New()
	router.Register(app, config.Config{AppName: "Astra API"}, router.Dependencies{
		DisableMetrics: true,
		HealthProbes: map[string]handler.HealthProbe{
			"database": func(context.Context) error { return nil },
			"redis":    func(context.Context) error { return errors.New("connection refused") },
		},
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/health", nil), -1)
	assert.NoError(t, err)
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)

	var payload struct {
		Success bool                   `json:"success"`
		Details handler.HealthResponse `json:"details"`
	}
	assert.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	assert.False(t, payload.Success)
	assert.Equal(t, "degraded", payload.Details.Status)
	assert.Equal(t, "ok", payload.Details.Checks["database"])
	assert.Equal(t, "connection refused", payload.Details.Checks["redis"])
}
