package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"storyjobs/internal/http/handlers"
	"storyjobs/internal/middleware"
)

type RouterOptions struct {
	JWTSecret       string
	CORSOrigins     []string
	RateLimitPerMin int
	// StaticDir, when set, is served under /static (file object store).
	StaticDir string
}

func NewRouter(app *handlers.App, logger zerolog.Logger, opts RouterOptions) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(logger),
		middleware.CORS(opts.CORSOrigins),
	)

	// Health
	r.Get("/v1/healthz", app.Health)

	if opts.StaticDir != "" {
		fs := http.StripPrefix("/static/", http.FileServer(http.Dir(opts.StaticDir)))
		r.Get("/static/*", fs.ServeHTTP)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthJWT(opts.JWTSecret))

		r.Route("/v1/jobs", func(r chi.Router) {
			r.With(middleware.RateLimit(opts.RateLimitPerMin, time.Minute)).Post("/{type}", app.SubmitJob)
			r.Get("/{id}", app.GetJob)
			r.Get("/{id}/events", app.JobEvents)
		})
		r.Get("/v1/stories/{id}/jobs", app.StoryJobs)
		r.Get("/v1/storyboards/{id}/jobs", app.StoryboardJobs)
	})

	return r
}
