package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/healthbridge/slot-ledger/internal/ledger"
)

type RouterConfig struct {
	Service *ledger.Service
	PgPool  *pgxpool.Pool
	Redis   *redis.Client
	Env     string
	Version string
	Logger  zerolog.Logger
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))

	// Health endpoints
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	// Slot ledger endpoints
	r.Post("/slots", createSlotHandler(cfg.Service))
	r.Get("/slots", listSlotsHandler(cfg.Service))
	r.Get("/slots/{id}", getSlotHandler(cfg.Service))
	r.Post("/slots/{id}/claim", claimSlotHandler(cfg.Service))
	r.Post("/slots/{id}/cancel", cancelSlotHandler(cfg.Service))
	r.Post("/slots/{id}/complete", completeSlotHandler(cfg.Service))

	return r
}
