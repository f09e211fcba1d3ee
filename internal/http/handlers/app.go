// Package handlers serves the job API: submission, reads, active lists and
// the server-sent event stream of a job's snapshot.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"storyjobs/internal/domain"
	"storyjobs/internal/jobs"
	"storyjobs/internal/middleware"
)

// JobService is the part of jobs.Service the handlers use.
type JobService interface {
	Submit(ctx context.Context, req jobs.SubmitRequest) (*domain.Job, error)
	Kick(ctx context.Context, t domain.JobType)
	KickAll()
	GetSnapshot(ctx context.Context, jobID, requester string) (*domain.Job, error)
	ListActive(ctx context.Context, subject domain.SubjectRefs, requester string) ([]domain.JobView, error)
}

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type App struct {
	Jobs   JobService
	DB     Pinger
	Logger zerolog.Logger

	// Event stream timing; zero values use the defaults below.
	PollInterval time.Duration
	PingInterval time.Duration
}

const (
	defaultPollInterval = time.Second
	defaultPingInterval = 15 * time.Second
	maxPayloadBytes     = 1 << 20
)

func NewApp(svc JobService, db Pinger, logger zerolog.Logger) *App {
	return &App{
		Jobs:         svc,
		DB:           db,
		Logger:       logger,
		PollInterval: defaultPollInterval,
		PingInterval: defaultPingInterval,
	}
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, status int, code, message string) {
	a.json(w, status, map[string]errorBody{"error": {Code: code, Message: message}})
}

// fail maps engine errors onto HTTP statuses.
func (a *App) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", "job not found")
	case errors.Is(err, domain.ErrForbidden):
		a.error(w, http.StatusForbidden, "forbidden", "job belongs to another owner")
	case errors.Is(err, domain.ErrInvalidPayload), errors.Is(err, domain.ErrUnknownJobType):
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
	default:
		a.Logger.Error().Err(err).
			Str("request_id", middleware.RequestIDFromContext(r.Context())).
			Str("path", r.URL.Path).
			Msg("request failed")
		a.error(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

func (a *App) currentUserID(r *http.Request) string {
	return middleware.UserIDFromContext(r.Context())
}
