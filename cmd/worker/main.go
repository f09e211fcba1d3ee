package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"storyjobs/internal/bootstrap"
	"storyjobs/internal/domain"
	"storyjobs/internal/infra"
)

// The worker process drains queued jobs without serving HTTP. Loops start on
// a ticker and, when REDIS_URL is set, on kick notifications from api
// processes.
func main() {
	_ = godotenv.Load(".env", ".env.local")

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv).With().Str("process", "worker").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: bootstrap failed")
	}

	if rt.Kicker != nil {
		go func() {
			err := rt.Kicker.Listen(ctx, func(t domain.JobType) {
				rt.Registry.Kick(t)
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Msg("worker: kick listener stopped")
			}
		}()
	}

	interval := cfg.WorkerPollInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Info().Dur("poll_interval", interval).Int("worker_version", cfg.WorkerVersion).Msg("worker: started")
	rt.Registry.KickAll()
	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
			if err := rt.Shutdown(shutdownCtx); err != nil {
				logger.Error().Err(err).Msg("worker: shutdown incomplete")
			}
			cancel()
			logger.Info().Msg("worker: stopped")
			return
		case <-ticker.C:
			rt.Registry.KickAll()
		}
	}
}
