package handler

import (
	"context"
	"sort"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/astra-go-api/internal/config"
	"github.com/noah-isme/astra-go-api/internal/utils"
)

const healthProbeTimeout = 2 * time.Second

// HealthProbe reports whether a backing dependency such as the database or redis is reachable.
type HealthProbe func(ctx context.Context) error

// HealthResponse represents the payload returned by the health endpoint.
type HealthResponse struct {
	Status      string            `json:"status"`
	Timestamp   time.Time         `json:"timestamp"`
	Service     string            `json:"service"`
	Environment string            `json:"environment"`
	Checks      map[string]string `json:"checks,omitempty"`
}

// HealthCheck returns a handler that runs the probes and reports 503 when any of them fails.
func HealthCheck(cfg config.Config, probes map[string]HealthProbe) fiber.Handler {
	names := make([]string, 0, len(probes))
	for name := range probes {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(c *fiber.Ctx) error {
		payload := HealthResponse{
			Status:      "ok",
			Timestamp:   time.Now().UTC(),
			Service:     cfg.AppName,
			Environment: cfg.AppEnv,
		}

		if len(names) > 0 {
			ctx, cancel := context.WithTimeout(c.UserContext(), healthProbeTimeout)
			defer cancel()

			payload.Checks = make(map[string]string, len(names))
			for _, name := range names {
				if err := probes[name](ctx); err != nil {
					payload.Checks[name] = err.Error()
					payload.Status = "degraded"
					continue
				}
				payload.Checks[name] = "ok"
			}
		}

		if payload.Status != "ok" {
			return utils.Fail(c, fiber.StatusServiceUnavailable, "service degraded", payload)
		}
		return utils.SendSuccess(c, "service healthy", payload)
	}
}
