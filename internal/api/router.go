package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hackgods/slot-reservation-engine/internal/reservation"
)

// ReservationService is the part of reservation.Allocator the HTTP layer needs.
type ReservationService interface {
	Reserve(ctx context.Context, req reservation.ReserveRequest) (*reservation.Reservation, error)
	Cancel(ctx context.Context, id uuid.UUID) (*reservation.Reservation, error)
	Confirm(ctx context.Context, id uuid.UUID) (*reservation.Reservation, error)
	Complete(ctx context.Context, id uuid.UUID) (*reservation.Reservation, error)
	GetReservation(ctx context.Context, id uuid.UUID) (*reservation.Reservation, error)
	ListReservations(ctx context.Context, f reservation.Filter) ([]reservation.Reservation, error)
	QueryAvailability(ctx context.Context, serviceID uuid.UUID, date time.Time) (*reservation.Availability, error)
	ReservationStats(ctx context.Context, serviceID uuid.UUID) (*reservation.Stats, error)
}

type RouterConfig struct {
	Service ReservationService
	PgPool  *pgxpool.Pool
	Redis   *redis.Client
	Logger  *zap.Logger
	Env     string
	Version string

	// RateLimitRPS <= 0 disables per-client rate limiting.
	RateLimitRPS   float64
	RateLimitBurst int
}

func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := cfg.Service

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))

	health := NewHealthHandler(pgPinger(cfg.PgPool), redisPinger(cfg.Redis), cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	r.Group(func(r chi.Router) {
		if cfg.RateLimitRPS > 0 {
			r.Use(NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst).Middleware)
		}

		r.Post("/reservations", createReservationHandler(svc, logger))
		r.Get("/reservations", listReservationsHandler(svc, logger))
		r.Get("/reservations/{id}", getReservationHandler(svc, logger))
		r.Post("/reservations/{id}/cancel", transitionHandler(func(r *http.Request, id uuid.UUID) (*reservation.Reservation, error) {
			return svc.Cancel(r.Context(), id)
		}, logger))
		r.Post("/reservations/{id}/confirm", transitionHandler(func(r *http.Request, id uuid.UUID) (*reservation.Reservation, error) {
			return svc.Confirm(r.Context(), id)
		}, logger))
		r.Post("/reservations/{id}/complete", transitionHandler(func(r *http.Request, id uuid.UUID) (*reservation.Reservation, error) {
			return svc.Complete(r.Context(), id)
		}, logger))

		r.Get("/services/{id}/availability", availabilityHandler(svc, logger))
		r.Get("/services/{id}/reservations/stats", reservationStatsHandler(svc, logger))
	})

	return r
}
