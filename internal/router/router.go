package router

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/astra-go-api/internal/config"
	"github.com/noah-isme/astra-go-api/internal/handler"
	"github.com/noah-isme/astra-go-api/internal/middleware"
	"github.com/noah-isme/astra-go-api/internal/observability"
)

const (
	asyncRateLimit  = 120
	submitRateLimit = 20
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	SubmissionHandler *handler.SubmissionHandler
	AsyncHandler      *handler.AsyncHandler
	GradeHandler      *handler.GradeHandler
	StructureHandler  *handler.StructureHandler
	DeviationHandler  *handler.DeviationHandler
	JWTMiddleware     fiber.Handler
	HealthProbes      map[string]handler.HealthProbe
	DisableMetrics    bool
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	// Common v1 group for health, metrics & exercise service callbacks
	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg, deps.HealthProbes))
	if !deps.DisableMetrics {
		app.Get("/metrics", observability.MetricsHandler())
	}

	// Exercise services authenticate with the submission hash, not a bearer token.
	if deps.AsyncHandler != nil {
		async := api.Group("/astra/async", middleware.RateLimit("astra-async", asyncRateLimit, time.Minute))
		deps.AsyncHandler.Register(async)
	}

	// Use provided JWT middleware, or a no-op if nil
	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}
	requireUser := middleware.WithAuth(func(c *fiber.Ctx) error { return c.Next() }, middleware.AuthOptions{RequireUser: true})

	astra := app.Group("/api/v2/astra", jwtMiddleware, requireUser)
	staffOnly := middleware.RequireStaff()

	if deps.SubmissionHandler != nil {
		astra.Post("/exercises/:id/submissions", middleware.RateLimit("astra-submit", submitRateLimit, time.Minute))
		deps.SubmissionHandler.Register(astra)
	}

	if deps.GradeHandler != nil {
		deps.GradeHandler.Register(astra, staffOnly)
	}

	if deps.StructureHandler != nil {
		deps.StructureHandler.Register(astra, staffOnly)
	}

	if deps.DeviationHandler != nil {
		deps.DeviationHandler.Register(astra, staffOnly)
	}
}
