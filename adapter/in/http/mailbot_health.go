package http

import (
	"context"
	"sort"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// ReadinessCheck returns nil when a dependency is usable.
type ReadinessCheck func(ctx context.Context) error

type namedCheck struct {
	name  string
	check ReadinessCheck
}

type HealthHandler struct {
	db       *pgxpool.Pool
	redis    *redis.Client
	checks   []namedCheck
	breakers map[string]func() string
}

func NewHealthHandler() *HealthHandler {
	return &HealthHandler{breakers: make(map[string]func() string)}
}

func NewHealthHandlerWithDeps(db *pgxpool.Pool, redis *redis.Client) *HealthHandler {
	h := NewHealthHandler()
	h.db = db
	h.redis = redis
	return h
}

// AddCheck adds a dependency that must pass for /ready.
func (h *HealthHandler) AddCheck(name string, check ReadinessCheck) *HealthHandler {
	h.checks = append(h.checks, namedCheck{name: name, check: check})
	return h
}

// AddBreaker reports a circuit breaker state on /ready. An open breaker
// does not fail readiness; it recovers on its own.
func (h *HealthHandler) AddBreaker(name string, state func() string) *HealthHandler {
	h.breakers[name] = state
	return h
}

func (h *HealthHandler) Register(app fiber.Router) {
	app.Get("/health", h.Health)
	app.Get("/ready", h.Ready)
}

func (h *HealthHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *HealthHandler) Ready(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	record := func(name string, err error) {
		if err != nil {
			checks[name] = "unhealthy: " + err.Error()
			allHealthy = false
			return
		}
		checks[name] = "healthy"
	}

	// PostgreSQL
	if h.db != nil {
		record("postgres", h.db.Ping(ctx))
	} else {
		checks["postgres"] = "not configured"
	}

	// Redis
	if h.redis != nil {
		record("redis", h.redis.Ping(ctx).Err())
	} else {
		checks["redis"] = "not configured"
	}

	for _, nc := range h.checks {
		record(nc.name, nc.check(ctx))
	}

	breakers := make(map[string]string, len(h.breakers))
	names := make([]string, 0, len(h.breakers))
	for name := range h.breakers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		breakers[name] = h.breakers[name]()
	}

	status := "ready"
	statusCode := fiber.StatusOK
	if !allHealthy {
		status = "not ready"
		statusCode = fiber.StatusServiceUnavailable
	}

	return c.Status(statusCode).JSON(fiber.Map{
		"status":    status,
		"checks":    checks,
		"breakers":  breakers,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
