// Package bootstrap assembles the engine shared by the api and worker
// processes: stores, object storage, provider clients, executors and the
// worker registry.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"storyjobs/internal/adapter/memory"
	"storyjobs/internal/adapter/notify"
	"storyjobs/internal/adapter/repo"
	"storyjobs/internal/domain"
	"storyjobs/internal/infra"
	"storyjobs/internal/infra/credentials"
	"storyjobs/internal/jobs"
	"storyjobs/internal/pipeline"
	"storyjobs/internal/providers/coze"
	"storyjobs/internal/storage"
)

// Runtime holds the wired engine. Close releases its connections.
type Runtime struct {
	Config   *infra.Config
	Logger   infra.Logger
	Pool     *pgxpool.Pool
	Redis    *redis.Client
	Kicker   *notify.RedisKicker
	Jobs     domain.JobStore
	Stories  domain.StoryRepository
	Objects  storage.ObjectStore
	Registry *jobs.WorkerRegistry
	Service  *jobs.Service
	// StaticDir is the FileStore root when the file driver is active.
	StaticDir string
}

// New connects the configured backends and registers every executor on a
// fresh registry under cfg.WorkerVersion.
func New(ctx context.Context, cfg *infra.Config, logger infra.Logger) (*Runtime, error) {
	rt := &Runtime{Config: cfg, Logger: logger}
	ok := false
	defer func() {
		if !ok {
			rt.Close()
		}
	}()

	switch cfg.StoreDriver {
	case infra.StoreDriverMemory:
		logger.Warn().Msg("bootstrap: using in-memory stores, jobs are lost on restart")
		rt.Jobs = memory.NewJobStore()
		rt.Stories = memory.NewStoryRepository()
	default:
		pool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		rt.Pool = pool
		runner := infra.NewSQLRunner(pool, logger)
		if err := infra.EnsureSchema(ctx, runner); err != nil {
			return nil, err
		}
		rt.Jobs = repo.NewJobRepository(runner)
		rt.Stories = repo.NewStoryRepository(runner)
		fillTokens(ctx, credentials.NewStore(runner), cfg, logger)
	}

	objects, staticDir, err := newObjectStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	rt.Objects = objects
	rt.StaticDir = staticDir

	var svcOpts []jobs.ServiceOption
	if cfg.RedisURL != "" {
		rc, err := infra.NewRedisClient(ctx, cfg)
		if err != nil {
			return nil, err
		}
		rt.Redis = rc
		rt.Kicker = notify.NewRedisKicker(rc, logger)
		svcOpts = append(svcOpts, jobs.WithNotifier(rt.Kicker))
	}

	rt.Registry = jobs.NewWorkerRegistry(rt.Jobs, logger)
	pipeline.New(pipeline.Deps{
		Stories:          rt.Stories,
		Objects:          rt.Objects,
		HTTPClient:       &http.Client{Timeout: 5 * time.Minute},
		Outline:          newClient("outline", cfg.OutlineAPI, cfg.RequestTimeout, cfg, logger),
		StoryboardText:   newClient("storyboard_text", cfg.StoryboardTextAPI, cfg.RequestTimeout, cfg, logger),
		ScriptBody:       newClient("script_body", cfg.ScriptBodyAPI, cfg.RequestTimeout, cfg, logger),
		Video:            newClient("video", cfg.VideoAPI, cfg.VideoRequestTimeout, cfg, logger),
		Images:           newClient("image", cfg.ImageAPI, cfg.RequestTimeout, cfg, logger),
		ImageConcurrency: cfg.ReferenceImageConcurrency,
		MaxDownloadBytes: cfg.MaxDownloadBytes,
	}).Register(rt.Registry, cfg.WorkerVersion)
	rt.Service = jobs.NewService(rt.Jobs, rt.Registry, logger, svcOpts...)

	ok = true
	return rt, nil
}

// Shutdown drains the registry, then closes connections.
func (rt *Runtime) Shutdown(ctx context.Context) error {
	var err error
	if rt.Registry != nil {
		err = rt.Registry.Shutdown(ctx)
	}
	rt.Close()
	return err
}

func (rt *Runtime) Close() {
	if rt.Redis != nil {
		_ = rt.Redis.Close()
		rt.Redis = nil
	}
	if rt.Pool != nil {
		rt.Pool.Close()
		rt.Pool = nil
	}
}

func newClient(name string, ep infra.ProviderEndpoint, timeout time.Duration, cfg *infra.Config, logger infra.Logger) *coze.Client {
	l := logger.With().Str("provider", name).Logger()
	return coze.NewClient(coze.Options{
		Name:          name,
		URL:           ep.URL,
		Token:         ep.Token,
		Timeout:       timeout,
		MaxReplyBytes: cfg.MaxReplyBytes,
		Logger:        &l,
	})
}

func newObjectStore(ctx context.Context, cfg *infra.Config) (storage.ObjectStore, string, error) {
	switch cfg.StorageDriver {
	case infra.StorageDriverMinio:
		store, err := storage.NewMinioStore(storage.MinioOptions{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
			URLTTL:    cfg.SignedURLTTL,
		})
		if err != nil {
			return nil, "", err
		}
		if err := store.EnsureBucket(ctx); err != nil {
			return nil, "", err
		}
		return store, "", nil
	default:
		path := cfg.StoragePath
		if !filepath.IsAbs(path) {
			if abs, err := filepath.Abs(path); err == nil {
				path = abs
			}
		}
		store, err := storage.NewFileStore(path, cfg.StorageBaseURL)
		if err != nil {
			return nil, "", fmt.Errorf("configure storage: %w", err)
		}
		return store, store.BasePath(), nil
	}
}

// fillTokens takes provider tokens missing from the environment from the
// integration_tokens table.
func fillTokens(ctx context.Context, store *credentials.Store, cfg *infra.Config, logger infra.Logger) {
	endpoints := []struct {
		provider string
		ep       *infra.ProviderEndpoint
	}{
		{credentials.ProviderOutline, &cfg.OutlineAPI},
		{credentials.ProviderStoryboardText, &cfg.StoryboardTextAPI},
		{credentials.ProviderScriptBody, &cfg.ScriptBodyAPI},
		{credentials.ProviderVideo, &cfg.VideoAPI},
		{credentials.ProviderImage, &cfg.ImageAPI},
	}
	for _, e := range endpoints {
		if err := store.Fill(ctx, e.provider, e.ep); err != nil {
			logger.Warn().Err(err).Str("provider", e.provider).Msg("bootstrap: stored token lookup failed")
		}
	}
}
