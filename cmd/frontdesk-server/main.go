package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinicdesk/frontdesk-core/internal/api"
	"github.com/clinicdesk/frontdesk-core/internal/broadcast"
	"github.com/clinicdesk/frontdesk-core/internal/bulk"
	"github.com/clinicdesk/frontdesk-core/internal/calendar"
	"github.com/clinicdesk/frontdesk-core/internal/config"
	"github.com/clinicdesk/frontdesk-core/internal/db"
	"github.com/clinicdesk/frontdesk-core/internal/model"
	"github.com/clinicdesk/frontdesk-core/internal/queue"
	"github.com/clinicdesk/frontdesk-core/internal/redisclient"
	pgstore "github.com/clinicdesk/frontdesk-core/internal/store/postgres"
)

const version = "1.0.0"

func main() {
	log := zerolog.New(os.Stderr).With().Timestamp().Str("service", "frontdesk-server").Logger()
	log.Info().Msg("starting up")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load error")
	}
	log.Info().Str("env", cfg.Env).Str("http_port", cfg.HTTPPort).Msg("configured")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		log.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	log.Info().Msg("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		log.Fatal().Err(err).Msg("redis connection error")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Error().Err(err).Msg("error closing redis")
		}
	}()
	log.Info().Msg("connected to Redis")

	st := pgstore.New(pgPool, rdb, log.With().Str("component", "store").Logger())
	defer st.Close()

	bus := broadcast.New(log.With().Str("component", "broadcast").Logger())

	// Feed every accepted store mutation, ours included, back through the
	// broadcaster; stale echoes are dropped by sequence.
	for _, t := range model.EntityTypes {
		unsub := st.Subscribe(t, func(ev model.ChangeEvent) { bus.Receive(ev) })
		defer unsub()
	}

	queueSvc := queue.NewService(st, bus, log.With().Str("component", "queue").Logger())
	calendarSvc := calendar.NewService(st, bus, log.With().Str("component", "calendar").Logger())
	bulkEngine := bulk.NewEngine(queueSvc, calendarSvc, st, log.With().Str("component", "bulk").Logger())

	router := api.NewRouter(api.RouterConfig{
		Queue:           queueSvc,
		Calendar:        calendarSvc,
		Bulk:            bulkEngine,
		Bus:             bus,
		StalenessWindow: cfg.StalenessWindow,
		PgPool:          pgPool,
		Redis:           rdb,
		Log:             log.With().Str("component", "http").Logger(),
		Env:             cfg.Env,
		Version:         version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-rootCtx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server error")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown error")
	}
	log.Info().Msg("stopped")
}
