// Package memory holds process-local implementations of the domain stores.
// They back STORE_DRIVER=memory and the engine tests.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"storyjobs/internal/domain"
)

// JobStore keeps jobs in a map guarded by one mutex. Claims happen under the
// write lock, so concurrent claimants never receive the same job.
type JobStore struct {
	mu    sync.Mutex
	jobs  map[string]*domain.Job
	order []string
	now   func() time.Time
}

func NewJobStore() *JobStore {
	return &JobStore{
		jobs: make(map[string]*domain.Job),
		now:  time.Now,
	}
}

func (s *JobStore) Insert(_ context.Context, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[job.ID]; ok {
		return domain.ErrDuplicateID
	}
	stored := cloneJob(job)
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = s.now()
	}
	stored.UpdatedAt = stored.CreatedAt
	stored.ProgressVersion = 0
	s.jobs[job.ID] = stored
	s.order = append(s.order, job.ID)
	return nil
}

func (s *JobStore) GetByID(_ context.Context, jobID string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneJob(job), nil
}

func (s *JobStore) Update(_ context.Context, jobID string, patch domain.JobUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	if job.Status.Terminal() {
		return domain.ErrJobFinalized
	}
	if patch.Status != nil && !job.Status.CanMoveTo(*patch.Status) {
		return fmt.Errorf("%s -> %s: %w", job.Status, *patch.Status, domain.ErrBadTransition)
	}
	now := s.now()
	if patch.Status != nil {
		job.Status = *patch.Status
	}
	if len(patch.Snapshot) > 0 {
		job.Snapshot = append(json.RawMessage(nil), patch.Snapshot...)
	}
	if patch.ErrorMessage != nil {
		job.ErrorMessage = *patch.ErrorMessage
	}
	if patch.Finished {
		job.FinishedAt = &now
	}
	job.UpdatedAt = now
	job.ProgressVersion++
	return nil
}

func (s *JobStore) ClaimNext(_ context.Context, t domain.JobType) (*domain.Job, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var job *domain.Job
	for _, id := range s.order {
		candidate := s.jobs[id]
		if candidate.Type != t || candidate.Status != domain.JobStatusQueued {
			continue
		}
		if job == nil || candidate.CreatedAt.Before(job.CreatedAt) {
			job = candidate
		}
	}
	if job != nil {
		now := s.now()
		job.Status = domain.JobStatusRunning
		job.StartedAt = &now
		job.UpdatedAt = now
		job.ProgressVersion++
		job.Snapshot = markRunning(job.Snapshot)
		return cloneJob(job), true, nil
	}
	return nil, false, nil
}

func (s *JobStore) ListActive(_ context.Context, subject domain.SubjectRefs) ([]domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Job
	for _, id := range s.order {
		job := s.jobs[id]
		if job.Status.Terminal() {
			continue
		}
		if subject.StoryID != "" && job.Subject.StoryID != subject.StoryID {
			continue
		}
		if subject.StoryboardID != "" && job.Subject.StoryboardID != subject.StoryboardID {
			continue
		}
		out = append(out, *cloneJob(job))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// markRunning sets status and stage in the stored document the same way the
// Postgres claim does with jsonb_set.
func markRunning(raw json.RawMessage) json.RawMessage {
	doc := map[string]json.RawMessage{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &doc); err != nil {
			return raw
		}
	}
	running, _ := json.Marshal(string(domain.JobStatusRunning))
	doc["status"] = running
	doc["stage"] = running
	out, err := json.Marshal(doc)
	if err != nil {
		return raw
	}
	return out
}

func cloneJob(j *domain.Job) *domain.Job {
	c := *j
	c.Payload = append(json.RawMessage(nil), j.Payload...)
	c.Snapshot = append(json.RawMessage(nil), j.Snapshot...)
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		c.FinishedAt = &t
	}
	return &c
}

var _ domain.JobStore = (*JobStore)(nil)
