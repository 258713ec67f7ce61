package api

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/clinicdesk/frontdesk-core/internal/broadcast"
)

// HealthHandler reports process liveness and the readiness of the three
// collaborators a terminal depends on: the durable store, the redis change
// channel and the local change-feed cache. Collaborators that are not wired
// (memory-store deployments run without postgres or redis) are skipped, not
// reported down.
type HealthHandler struct {
	pgPool  *pgxpool.Pool
	redis   *redis.Client
	bus     *broadcast.Broadcaster
	window  time.Duration
	env     string
	version string
}

func NewHealthHandler(pgPool *pgxpool.Pool, redis *redis.Client, bus *broadcast.Broadcaster, window time.Duration, env, version string) *HealthHandler {
	return &HealthHandler{
		pgPool:  pgPool,
		redis:   redis,
		bus:     bus,
		window:  window,
		env:     env,
		version: version,
	}
}

type LivenessResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Env     string `json:"env,omitempty"`
}

type ReadinessResponse struct {
	Status       string            `json:"status"`
	Version      string            `json:"version,omitempty"`
	Env          string            `json:"env,omitempty"`
	Dependencies map[string]string `json:"dependencies"`
}

func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	resp := LivenessResponse{
		Status:  "ok",
		Version: h.version,
		Env:     h.env,
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	deps := make(map[string]string)
	status := "ok"

	// Without the durable store nothing can be served at all.
	if h.pgPool != nil {
		pgCtx, pgCancel := context.WithTimeout(ctx, 1*time.Second)
		err := h.pgPool.Ping(pgCtx)
		pgCancel()
		if err != nil {
			deps["postgres"] = "down"
			status = "error"
		} else {
			deps["postgres"] = "ok"
		}
	}

	// Losing redis stops the change feed but writes still land; degraded,
	// not down.
	if h.redis != nil {
		redisCtx, redisCancel := context.WithTimeout(ctx, 1*time.Second)
		err := h.redis.Ping(redisCtx).Err()
		redisCancel()
		if err != nil {
			deps["redis"] = "down"
			status = worse(status, "degraded")
		} else {
			deps["redis"] = "ok"
		}
	}

	// A quiet feed means this terminal's cached view may trail other
	// terminals; conflict-sensitive callers should refresh before trusting
	// local reads.
	if h.bus != nil {
		if h.bus.Stale(h.window, time.Now()) {
			deps["sync_feed"] = "stale"
			status = worse(status, "degraded")
		} else {
			deps["sync_feed"] = "ok"
		}
	}

	resp := ReadinessResponse{
		Status:       status,
		Version:      h.version,
		Env:          h.env,
		Dependencies: deps,
	}

	httpStatus := http.StatusOK
	if status == "error" {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, resp)
}

// worse keeps the most severe of the current and proposed statuses.
func worse(current, proposed string) string {
	if current == "error" || proposed == "error" {
		return "error"
	}
	if current == "degraded" || proposed == "degraded" {
		return "degraded"
	}
	return current
}
