package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"storyjobs/internal/domain"
	"storyjobs/internal/jobs"
)

// jobTypeSlugs maps URL segments onto job types.
var jobTypeSlugs = map[string]domain.JobType{
	"outline":          domain.JobTypeOutline,
	"storyboard-text":  domain.JobTypeStoryboardText,
	"script-body":      domain.JobTypeScriptBody,
	"video":            domain.JobTypeVideo,
	"reference-images": domain.JobTypeReferenceImages,
	"shotlist":         domain.JobTypeShotlist,
}

// SubmitJob stores a queued job and kicks its loop. The response carries the
// initial snapshot; execution happens after the response is written.
func (a *App) SubmitJob(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	t, ok := jobTypeSlugs[strings.ToLower(chi.URLParam(r, "type"))]
	if !ok {
		a.error(w, http.StatusBadRequest, "bad_request", "unsupported job type")
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPayloadBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			a.error(w, http.StatusRequestEntityTooLarge, "too_large", "payload too large")
			return
		}
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if !json.Valid(body) {
		a.error(w, http.StatusBadRequest, "bad_request", "payload must be JSON")
		return
	}

	job, err := a.Jobs.Submit(r.Context(), jobs.SubmitRequest{Type: t, OwnerID: userID, Payload: body})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.Jobs.Kick(context.WithoutCancel(r.Context()), t)
	a.json(w, http.StatusAccepted, job.View())
}

// GetJob returns the job's current snapshot. Reading kicks every loop so a
// process that only serves polls still drains queued work.
func (a *App) GetJob(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	a.Jobs.KickAll()
	job, err := a.Jobs.GetSnapshot(r.Context(), chi.URLParam(r, "id"), userID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, job.View())
}

func (a *App) StoryJobs(w http.ResponseWriter, r *http.Request) {
	a.listActive(w, r, domain.SubjectRefs{StoryID: chi.URLParam(r, "id")})
}

func (a *App) StoryboardJobs(w http.ResponseWriter, r *http.Request) {
	a.listActive(w, r, domain.SubjectRefs{StoryboardID: chi.URLParam(r, "id")})
}

func (a *App) listActive(w http.ResponseWriter, r *http.Request, subject domain.SubjectRefs) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	if subject.StoryID == "" && subject.StoryboardID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "id required")
		return
	}
	views, err := a.Jobs.ListActive(r.Context(), subject, userID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{"items": views})
}
