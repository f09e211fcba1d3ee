package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"storyjobs/internal/domain"
)

// JobEvents streams a job's snapshot as server-sent events. Each event id is
// the job's progress version; an event is sent only when the version moved,
// and the stream ends once the job is terminal.
func (a *App) JobEvents(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	jobID := chi.URLParam(r, "id")

	a.Jobs.KickAll()
	initial, err := a.Jobs.GetSnapshot(r.Context(), jobID, userID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		a.error(w, http.StatusInternalServerError, "internal", "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache, no-transform")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	_, _ = fmt.Fprint(w, "retry: 2000\n\n")
	lastVersion := initial.ProgressVersion
	if v, err := strconv.ParseInt(strings.TrimSpace(r.Header.Get("Last-Event-ID")), 10, 64); err == nil && v > 0 {
		lastVersion = v
	}
	if err := writeJobEvent(w, initial); err != nil {
		return
	}
	flusher.Flush()
	if initial.Status.Terminal() {
		return
	}

	poll := a.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	pingEvery := a.PingInterval
	if pingEvery <= 0 {
		pingEvery = defaultPingInterval
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	lastPing := time.Now()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if now.Sub(lastPing) >= pingEvery {
				lastPing = now
				_, _ = fmt.Fprintf(w, ": ping %d\n\n", now.UnixMilli())
				flusher.Flush()
			}
			job, err := a.Jobs.GetSnapshot(ctx, jobID, userID)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				a.Logger.Warn().Err(err).Str("job_id", jobID).Msg("events: snapshot read failed")
				continue
			}
			if job.ProgressVersion == lastVersion {
				if job.Status.Terminal() {
					return
				}
				continue
			}
			lastVersion = job.ProgressVersion
			if err := writeJobEvent(w, job); err != nil {
				return
			}
			flusher.Flush()
			if job.Status.Terminal() {
				return
			}
		}
	}
}

func writeJobEvent(w http.ResponseWriter, job *domain.Job) error {
	data, err := json.Marshal(job.View())
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\ndata: %s\n\n", job.ProgressVersion, data)
	return err
}
