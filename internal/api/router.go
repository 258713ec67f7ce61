package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/clinicdesk/frontdesk-core/internal/broadcast"
	"github.com/clinicdesk/frontdesk-core/internal/bulk"
	"github.com/clinicdesk/frontdesk-core/internal/calendar"
	"github.com/clinicdesk/frontdesk-core/internal/queue"
)

type RouterConfig struct {
	Queue    *queue.Service
	Calendar *calendar.Service
	Bulk     *bulk.Engine
	Bus      *broadcast.Broadcaster
	// StalenessWindow bounds how long the local cache may go without a feed
	// event before conflict-sensitive callers should refresh.
	StalenessWindow time.Duration
	PgPool          *pgxpool.Pool
	Redis           *redis.Client
	Log             zerolog.Logger
	Env             string
	Version         string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Log))

	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Bus, cfg.StalenessWindow, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	if cfg.Bus != nil {
		r.Get("/sync/status", syncStatusHandler(cfg.Bus, cfg.StalenessWindow))
	}

	r.Post("/patients", registerPatientHandler(cfg.Queue))

	r.Post("/queue/check-in", checkInHandler(cfg.Queue))
	r.Post("/queue/emergency", emergencyIntakeHandler(cfg.Queue))
	r.Get("/queue/order", servingOrderHandler(cfg.Queue))
	r.Get("/queue/stats", queueStatsHandler(cfg.Queue))
	r.Post("/queue/{id}/transition", transitionHandler(cfg.Queue))
	r.Post("/queue/{id}/assign-doctor", assignDoctorHandler(cfg.Queue))

	r.Post("/doctors/{id}/availability", availabilityHandler(cfg.Queue))
	r.Post("/doctors/{id}/schedule", scheduleHandler(cfg.Queue))

	r.Post("/appointments", createAppointmentHandler(cfg.Calendar))
	r.Get("/appointments/upcoming", upcomingAppointmentsHandler(cfg.Calendar))
	r.Post("/appointments/bulk-reschedule", bulkRescheduleHandler(cfg.Calendar))
	r.Post("/appointments/{id}/move", moveAppointmentHandler(cfg.Calendar))
	r.Post("/appointments/{id}/cancel", cancelAppointmentHandler(cfg.Calendar))

	r.Post("/bulk", bulkHandler(cfg.Bulk))

	return r
}
