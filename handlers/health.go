package handlers

import (
	"context"
	"time"

	"github.com/bahrain-bp/bqa-insight-ai-sub000/utils/response"
	"github.com/gofiber/fiber/v2"
)

// DBChecker reports whether the database is reachable
type DBChecker interface {
	HealthCheck() error
}

// CachePinger reports whether the cache is reachable
type CachePinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler answers GET /health
type HealthHandler struct {
	db    DBChecker
	cache CachePinger
}

// NewHealthHandler creates a health handler. cache may be nil when Redis is
// not configured.
func NewHealthHandler(db DBChecker, cache CachePinger) *HealthHandler {
	return &HealthHandler{db: db, cache: cache}
}

// Check pings every dependency and answers 503 if any is down
func (h *HealthHandler) Check(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 3*time.Second)
	defer cancel()

	checks := fiber.Map{"database": "ok"}
	healthy := true

	if err := h.db.HealthCheck(); err != nil {
		checks["database"] = err.Error()
		healthy = false
	}

	if h.cache == nil {
		checks["redis"] = "disabled"
	} else if err := h.cache.Ping(ctx); err != nil {
		checks["redis"] = err.Error()
		healthy = false
	} else {
		checks["redis"] = "ok"
	}

	if !healthy {
		return response.ServiceUnavailable(c, "Dependency check failed", checks)
	}
	return response.Success(c, fiber.Map{"status": "ok", "checks": checks})
}
