package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/specialist-scheduling/internal/config"
	"github.com/hackgods/specialist-scheduling/internal/db"
	"github.com/hackgods/specialist-scheduling/internal/logging"
	redisclient "github.com/hackgods/specialist-scheduling/internal/redis"
	"github.com/hackgods/specialist-scheduling/internal/scheduling"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := logging.New("dev", "info", "")
		bootLogger.Fatal().Err(err).Msg("config load error")
	}

	logger := logging.New(cfg.Env, cfg.LogLevel, cfg.LogFile).With().Str("service", "expiry-worker").Logger()
	logger.Info().
		Str("env", cfg.Env).
		Dur("interval", cfg.WorkerInterval).
		Dur("appointment_ttl", cfg.AppointmentTTL).
		Msg("expiry-worker starting up")

	if cfg.AppointmentTTL <= 0 {
		logger.Warn().Msg("APPOINTMENT_TTL is 0, pending holds never expire; exiting")
		return
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	logger.Info().Msg("connected to Postgres")

	rdb, err := redisclient.NewClient(rootCtx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connection error")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error().Err(err).Msg("error closing redis")
		}
	}()
	logger.Info().Msg("connected to Redis")

	repo := scheduling.NewPgRepository(pgPool)
	locker := redisclient.NewRedisLocker(rdb, cfg.LockTTL)
	svc := scheduling.NewService(repo, locker, cfg, logger)

	// one worker at a time across replicas; the run may take up to one interval
	runLock := redisclient.NewRedisLocker(rdb, cfg.WorkerInterval)
	run := func() {
		err := runLock.WithLock(rootCtx, "expiry-worker", func(ctx context.Context) error {
			runOnce(ctx, svc, logger)
			return nil
		})
		if err != nil {
			logger.Debug().Err(err).Msg("expiry run skipped")
		}
	}

	run()

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			logger.Info().Msg("shutdown signal received, stopping expiry worker")
			return
		case <-ticker.C:
			run()
		}
	}
}

func runOnce(ctx context.Context, svc *scheduling.Service, logger zerolog.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	n, err := svc.ExpirePendingAppointments(runCtx)
	if err != nil {
		logger.Error().Err(err).Msg("expiry run error")
		return
	}
	logger.Info().Int("expired", n).Dur("took", time.Since(start)).Msg("expiry run complete")
}
