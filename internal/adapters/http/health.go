package http

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Version is reported by the health endpoint; set with -ldflags.
var Version = "dev"

// HealthHandler returns a basic liveness check.
func HealthHandler(deps *Dependencies) fiber.Handler {
	startedAt := time.Now()

	return func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "healthy",
			"uptime":  time.Since(startedAt).String(),
			"version": Version,
		})
	}
}

// probe is one readiness check. A nil check means the backend is not
// configured; required probes then fail readiness.
type probe struct {
	name     string
	required bool
	check    func(ctx context.Context) error
}

func (deps *Dependencies) probes() []probe {
	ps := []probe{{name: "database", required: true}}
	if deps.DB != nil {
		ps[0].check = deps.DB.Ping
	}

	nats := probe{name: "nats"}
	if deps.NATS != nil {
		nats.check = func(context.Context) error {
			if !deps.NATS.IsConnected() {
				return errDisconnected
			}
			return nil
		}
	}

	cache := probe{name: "cache"}
	if deps.Cache != nil {
		cache.check = deps.Cache.Ping
	}

	scheduler := probe{name: "scheduler"}
	if deps.Runs != nil && deps.Runs.CanSchedule() {
		scheduler.check = func(context.Context) error { return nil }
	}
	return append(ps, nats, cache, scheduler)
}

var errDisconnected = errors.New("disconnected")

// ReadyHandler checks the backends the API depends on. Only the database is
// required; without the scheduler the API still serves reads.
func ReadyHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 3*time.Second)
		defer cancel()

		checks := make(map[string]string)
		ready := true
		for _, p := range deps.probes() {
			if p.check == nil {
				checks[p.name] = "not configured"
				ready = ready && !p.required
				continue
			}
			switch err := p.check(ctx); {
			case err == nil:
				checks[p.name] = "ok"
			case errors.Is(err, errDisconnected):
				checks[p.name] = err.Error()
				ready = false
			default:
				checks[p.name] = "error: " + err.Error()
				ready = false
			}
		}

		if !ready {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "not ready", "checks": checks})
		}
		return c.JSON(fiber.Map{"status": "ready", "checks": checks})
	}
}
