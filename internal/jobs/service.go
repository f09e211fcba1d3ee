// Package jobs is the asynchronous execution engine: submission, per-type
// drain loops, checkpointed snapshots and bounded fan-out.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"storyjobs/internal/domain"
)

// Notifier tells other processes that work is queued for a type.
type Notifier interface {
	Notify(ctx context.Context, t domain.JobType) error
}

// SubmitRequest describes a new job. Subject fields left empty are taken
// from the payload.
type SubmitRequest struct {
	Type    domain.JobType
	OwnerID string
	Payload json.RawMessage
	Subject domain.SubjectRefs
}

// Service is the entry point request handlers use.
type Service struct {
	store    domain.JobStore
	registry *WorkerRegistry
	notifier Notifier
	logger   zerolog.Logger
	now      func() time.Time
	newID    func() string
}

// ServiceOption customizes a Service.
type ServiceOption func(*Service)

// WithNotifier publishes kicks to other processes.
func WithNotifier(n Notifier) ServiceOption {
	return func(s *Service) { s.notifier = n }
}

// WithIDGenerator replaces uuid.NewString for job identifiers.
func WithIDGenerator(fn func() string) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.newID = fn
		}
	}
}

func NewService(store domain.JobStore, registry *WorkerRegistry, logger zerolog.Logger, opts ...ServiceOption) *Service {
	s := &Service{
		store:    store,
		registry: registry,
		logger:   logger,
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit validates the payload and stores a queued job with its initial
// snapshot. It does not start execution; callers follow up with Kick.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*domain.Job, error) {
	if !req.Type.Valid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownJobType, req.Type)
	}
	payload, err := domain.DecodePayload(req.Type, req.Payload)
	if err != nil {
		return nil, err
	}
	subject := payload.Subject()
	if req.Subject.StoryID != "" {
		subject.StoryID = req.Subject.StoryID
	}
	if req.Subject.StoryboardID != "" {
		subject.StoryboardID = req.Subject.StoryboardID
	}

	now := s.now().UTC()
	id := s.newID()
	snap, err := domain.QueuedSnapshot(req.Type, id, subject, payload, now)
	if err != nil {
		return nil, err
	}
	rawSnap, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}

	job := &domain.Job{
		ID:        id,
		Type:      req.Type,
		Status:    domain.JobStatusQueued,
		OwnerID:   req.OwnerID,
		Subject:   subject,
		Payload:   append(json.RawMessage(nil), req.Payload...),
		Snapshot:  rawSnap,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Insert(ctx, job); err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	s.logger.Info().
		Str("job_id", job.ID).
		Str("job_type", string(job.Type)).
		Str("owner_id", job.OwnerID).
		Msg("jobs: submitted")
	return job, nil
}

// Kick starts the local loop for t and, when configured, notifies other
// processes.
func (s *Service) Kick(ctx context.Context, t domain.JobType) {
	if s.registry != nil {
		s.registry.Kick(t)
	}
	if s.notifier != nil {
		if err := s.notifier.Notify(ctx, t); err != nil {
			s.logger.Warn().Err(err).Str("job_type", string(t)).Msg("jobs: kick notify failed")
		}
	}
}

// KickAll kicks every local loop.
func (s *Service) KickAll() {
	if s.registry != nil {
		s.registry.KickAll()
	}
}

// GetSnapshot returns the job when requester owns it.
func (s *Service) GetSnapshot(ctx context.Context, jobID, requester string) (*domain.Job, error) {
	job, err := s.store.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.OwnerID != requester {
		return nil, domain.ErrForbidden
	}
	return job, nil
}

// ListActive returns the queued and running jobs of subject. A non-empty
// requester limits the list to that owner's jobs.
func (s *Service) ListActive(ctx context.Context, subject domain.SubjectRefs, requester string) ([]domain.JobView, error) {
	jobs, err := s.store.ListActive(ctx, subject)
	if err != nil {
		return nil, err
	}
	views := make([]domain.JobView, 0, len(jobs))
	for i := range jobs {
		if requester != "" && jobs[i].OwnerID != requester {
			continue
		}
		views = append(views, jobs[i].View())
	}
	return views, nil
}
