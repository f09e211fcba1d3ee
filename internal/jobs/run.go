package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"storyjobs/internal/domain"
)

// PanicError wraps a value recovered from a panicking executor.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("executor panic: %v", e.Value)
}

// Run is the handle an executor receives for one claimed job. All snapshot
// access goes through it.
type Run struct {
	Job     domain.Job
	Payload domain.Payload

	store  domain.JobStore
	logger zerolog.Logger
	now    func() time.Time
	box    *mailbox
}

func newRun(job *domain.Job, payload domain.Payload, snap domain.Snapshot, store domain.JobStore, logger zerolog.Logger, now func() time.Time) *Run {
	r := &Run{
		Job:     *job,
		Payload: payload,
		store:   store,
		logger:  logger,
		now:     now,
	}
	r.box = newMailbox(snap, r.persist)
	return r
}

// Logger returns the job-scoped logger.
func (r *Run) Logger() *zerolog.Logger {
	return &r.logger
}

// Save applies fn to the snapshot and writes the result. Calls are applied
// one at a time in arrival order.
func (r *Run) Save(ctx context.Context, fn func(domain.Snapshot)) error {
	return r.box.send(ctx, fn, true)
}

// Stage records a checkpoint.
func (r *Run) Stage(ctx context.Context, stage domain.Stage) error {
	r.logger.Debug().Str("stage", string(stage)).Msg("jobs: checkpoint")
	return r.Save(ctx, func(s domain.Snapshot) {
		s.Base().Stage = stage
	})
}

// Read gives fn a consistent view of the snapshot without writing it.
func (r *Run) Read(ctx context.Context, fn func(domain.Snapshot)) error {
	return r.box.send(ctx, fn, false)
}

// Update is Save for a known snapshot variant.
func Update[S domain.Snapshot](ctx context.Context, r *Run, fn func(S)) error {
	return r.Save(ctx, func(s domain.Snapshot) {
		fn(s.(S))
	})
}

func (r *Run) start(ctx context.Context) error {
	startedAt := r.now().UTC()
	if r.Job.StartedAt != nil {
		startedAt = r.Job.StartedAt.UTC()
	}
	return r.Save(ctx, func(s domain.Snapshot) {
		b := s.Base()
		b.JobID = r.Job.ID
		b.Type = r.Job.Type
		b.Status = domain.JobStatusRunning
		b.Stage = domain.StageRunning
		if b.CreatedAt.IsZero() {
			b.CreatedAt = r.Job.CreatedAt.UTC()
		}
		b.StartedAt = &startedAt
	})
}

// finish marks the job done, keeping whatever result the executor stored.
// Terminal writes outlive cancellation of ctx.
func (r *Run) finish(ctx context.Context) error {
	return r.Save(context.WithoutCancel(ctx), func(s domain.Snapshot) {
		r.terminate(s.Base(), domain.JobStatusDone, "")
	})
}

// fail marks the job error. Every other snapshot field keeps its last value so
// partial progress stays visible.
func (r *Run) fail(ctx context.Context, cause error) error {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	return r.Save(context.WithoutCancel(ctx), func(s domain.Snapshot) {
		r.terminate(s.Base(), domain.JobStatusError, msg)
	})
}

func (r *Run) terminate(b *domain.SnapshotBase, status domain.JobStatus, msg string) {
	finished := r.now().UTC()
	b.Status = status
	b.FinishedAt = &finished
	b.ErrorMessage = msg
	if status == domain.JobStatusDone {
		b.Stage = domain.StageDone
	} else {
		b.Stage = domain.StageError
	}
	if b.StartedAt != nil {
		b.DurationMs = finished.Sub(*b.StartedAt).Milliseconds()
	}
}

func (r *Run) close() {
	r.box.close()
}

// persist runs on the mailbox goroutine only.
func (r *Run) persist(ctx context.Context, snap domain.Snapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	b := snap.Base()
	status := b.Status
	patch := domain.JobUpdate{
		Status:   &status,
		Snapshot: raw,
		Finished: status.Terminal(),
	}
	if status == domain.JobStatusError {
		msg := b.ErrorMessage
		patch.ErrorMessage = &msg
	}
	if err := r.store.Update(ctx, r.Job.ID, patch); err != nil {
		return fmt.Errorf("persist snapshot: %w", err)
	}
	return nil
}
