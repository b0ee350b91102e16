package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/slot-reservation-engine/internal/config"
	"github.com/hackgods/slot-reservation-engine/internal/db"
	"github.com/hackgods/slot-reservation-engine/internal/logger"
	"github.com/hackgods/slot-reservation-engine/internal/reservation"
	"github.com/hackgods/slot-reservation-engine/internal/schedule"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	lg, err := logger.New(cfg.Env)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = lg.Sync() }()

	lg.Info("sweeper starting up",
		zap.String("env", cfg.Env),
		zap.Duration("interval", cfg.WorkerInterval),
		zap.Duration("pending_ttl", cfg.PendingTTL))

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		lg.Fatal("postgres connection error", zap.Error(err))
	}
	defer pgPool.Close()
	lg.Info("connected to Postgres")

	// the sweeper reads templates straight from Postgres, a stale cache would
	// materialize days for closed weekdays
	templates := schedule.NewPgRepository(pgPool)
	allocator := reservation.NewAllocator(reservation.NewPgRepository(pgPool), templates, cfg, lg)

	s := &sweeper{allocator: allocator, templates: templates, pendingTTL: cfg.PendingTTL, logger: lg}

	// Run once at startup
	s.runOnce(rootCtx)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			lg.Info("shutdown signal received, stopping sweeper")
			return
		case <-ticker.C:
			s.runOnce(rootCtx)
		}
	}
}

type sweeper struct {
	allocator  *reservation.Allocator
	templates  *schedule.PgRepository
	pendingTTL time.Duration
	logger     *zap.Logger
}

func (s *sweeper) runOnce(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()

	expired, err := s.allocator.ExpireStalePending(runCtx, s.pendingTTL)
	if err != nil {
		s.logger.Error("expiry run error", zap.Error(err))
	}

	ensured := 0
	active, err := s.templates.ListActive(runCtx)
	if err != nil {
		s.logger.Error("list active services error", zap.Error(err))
	} else {
		ensured, err = s.allocator.Materialize(runCtx, active)
		if err != nil {
			s.logger.Error("materialize run error", zap.Error(err))
		}
	}

	s.logger.Info("sweep complete",
		zap.Int("expired", expired),
		zap.Int("days_ensured", ensured),
		zap.Duration("took", time.Since(start)))
}
