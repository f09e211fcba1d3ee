package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"storyjobs/internal/domain"
	"storyjobs/internal/infra"
	"storyjobs/internal/sqlinline"
)

// JobRepositoryPG implements domain.JobStore on PostgreSQL.
type JobRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewJobRepository creates a job store backed by PostgreSQL.
func NewJobRepository(sql infra.SQLExecutor) *JobRepositoryPG {
	return &JobRepositoryPG{sql: sql}
}

// Insert stores a new queued job. An id collision yields domain.ErrDuplicateID.
func (r *JobRepositoryPG) Insert(ctx context.Context, job *domain.Job) error {
	tag, err := r.sql.Exec(ctx, sqlinline.QInsertJob,
		job.ID,
		string(job.Type),
		string(job.Status),
		job.OwnerID,
		job.Subject.StoryID,
		job.Subject.StoryboardID,
		[]byte(job.Payload),
		[]byte(job.Snapshot),
		job.CreatedAt,
	)
	if err != nil {
		if infra.IsUniqueViolation(err) {
			return domain.ErrDuplicateID
		}
		return fmt.Errorf("insert job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrDuplicateID
	}
	return nil
}

// GetByID fetches a job by its identifier.
func (r *JobRepositoryPG) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	job, err := scanJob(r.sql.QueryRow(ctx, sqlinline.QSelectJobByID, jobID))
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// Update applies patch unless the job is already terminal or the status
// change would move backwards.
func (r *JobRepositoryPG) Update(ctx context.Context, jobID string, patch domain.JobUpdate) error {
	var status *string
	if patch.Status != nil {
		s := string(*patch.Status)
		status = &s
	}
	tag, err := r.sql.Exec(ctx, sqlinline.QUpdateJob,
		jobID,
		status,
		nullableJSON(patch.Snapshot),
		patch.ErrorMessage,
		patch.Finished,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	var current string
	if err := r.sql.QueryRow(ctx, sqlinline.QSelectJobStatus, jobID).Scan(&current); err != nil {
		if infra.IsNoRows(err) {
			return domain.ErrNotFound
		}
		return fmt.Errorf("update job: %w", err)
	}
	if domain.JobStatus(current).Terminal() || status == nil {
		return domain.ErrJobFinalized
	}
	return fmt.Errorf("%s -> %s: %w", current, *status, domain.ErrBadTransition)
}

// ClaimNext takes the oldest queued job of type t. Rows locked by a concurrent
// claimant are skipped, so two callers never receive the same job.
func (r *JobRepositoryPG) ClaimNext(ctx context.Context, t domain.JobType) (*domain.Job, bool, error) {
	job, err := scanJob(r.sql.QueryRow(ctx, sqlinline.QClaimNextJob, string(t)))
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("claim job: %w", err)
	}
	return job, true, nil
}

// ListActive returns queued and running jobs of the subject, oldest first.
func (r *JobRepositoryPG) ListActive(ctx context.Context, subject domain.SubjectRefs) ([]domain.Job, error) {
	rows, err := r.sql.Query(ctx, sqlinline.QListActiveJobs, subject.StoryID, subject.StoryboardID)
	if err != nil {
		return nil, fmt.Errorf("list active jobs: %w", err)
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list active jobs: %w", err)
	}
	return jobs, nil
}

func scanJob(row pgx.Row) (*domain.Job, error) {
	var (
		job               domain.Job
		jobType, status   string
		payload, snap     []byte
		started, finished *time.Time
	)
	if err := row.Scan(
		&job.ID,
		&jobType,
		&status,
		&job.OwnerID,
		&job.Subject.StoryID,
		&job.Subject.StoryboardID,
		&payload,
		&snap,
		&job.ErrorMessage,
		&job.ProgressVersion,
		&job.CreatedAt,
		&job.UpdatedAt,
		&started,
		&finished,
	); err != nil {
		return nil, err
	}
	job.Type = domain.JobType(jobType)
	job.Status = domain.JobStatus(status)
	// Copy so the job does not alias the driver's buffers.
	job.Payload = append(json.RawMessage(nil), payload...)
	job.Snapshot = append(json.RawMessage(nil), snap...)
	job.StartedAt = started
	job.FinishedAt = finished
	return &job, nil
}

func nullableJSON(b json.RawMessage) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}

var _ domain.JobStore = (*JobRepositoryPG)(nil)
