package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"storyjobs/internal/bootstrap"
	"storyjobs/internal/http/handlers"
	"storyjobs/internal/http/httpapi"
	"storyjobs/internal/infra"
)

func main() {
	_ = godotenv.Load(".env", ".env.local")

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: bootstrap failed")
	}

	var db handlers.Pinger
	if rt.Pool != nil {
		db = rt.Pool
	}
	app := handlers.NewApp(rt.Service, db, logger)
	staticDir := ""
	if cfg.StorageDriver == infra.StorageDriverFile {
		staticDir = rt.StaticDir
	}
	router := httpapi.NewRouter(app, logger, httpapi.RouterOptions{
		JWTSecret:       cfg.JWTSecret,
		CORSOrigins:     cfg.CORSOrigins,
		RateLimitPerMin: cfg.RateLimitPerMin,
		StaticDir:       staticDir,
	})
	server := infra.NewHTTPServer(cfg, router)

	// Jobs left queued by a previous process start draining right away.
	rt.Service.KickAll()

	go func() {
		logger.Info().Str("addr", server.Addr()).Int("worker_version", cfg.WorkerVersion).Msg("api: listening")
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("api: http server failed")
		}
	}()

	<-ctx.Done()

	httpCtx, cancelHTTP := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelHTTP()
	if err := server.Shutdown(httpCtx); err != nil {
		logger.Error().Err(err).Msg("api: http shutdown failed")
	}
	// Running jobs get their own budget; the ones still running after it end
	// in error.
	workCtx, cancelWork := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelWork()
	if err := rt.Shutdown(workCtx); err != nil {
		logger.Error().Err(err).Msg("api: worker shutdown incomplete")
	}
	logger.Info().Msg("api: stopped")
}
