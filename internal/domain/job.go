package domain

import (
	"encoding/json"
	"time"
)

// JobType selects the pipeline executor and the worker loop that owns a job.
type JobType string

const (
	JobTypeOutline         JobType = "outline_generate"
	JobTypeStoryboardText  JobType = "storyboard_text_generate"
	JobTypeScriptBody      JobType = "script_body_generate"
	JobTypeVideo           JobType = "video_generate"
	JobTypeReferenceImages JobType = "reference_image_batch"
	JobTypeShotlist        JobType = "shotlist_generate"
)

// JobTypes lists every job type the engine knows how to execute.
var JobTypes = []JobType{
	JobTypeOutline,
	JobTypeStoryboardText,
	JobTypeScriptBody,
	JobTypeVideo,
	JobTypeReferenceImages,
	JobTypeShotlist,
}

// Valid reports whether t is a known job type.
func (t JobType) Valid() bool {
	for _, known := range JobTypes {
		if t == known {
			return true
		}
	}
	return false
}

// JobStatus enumerates job lifecycle states. Transitions only move forward:
// queued -> running -> done|error.
type JobStatus string

const (
	JobStatusQueued  JobStatus = "queued"
	JobStatusRunning JobStatus = "running"
	JobStatusDone    JobStatus = "done"
	JobStatusError   JobStatus = "error"
)

// Terminal reports whether no further transition is allowed.
func (s JobStatus) Terminal() bool {
	return s == JobStatusDone || s == JobStatusError
}

// CanMoveTo reports whether a job in status s may be written with status to.
// Rewriting the current status is allowed.
func (s JobStatus) CanMoveTo(to JobStatus) bool {
	switch {
	case s.Terminal():
		return false
	case s == to:
		return true
	case s == JobStatusQueued:
		return to == JobStatusRunning
	case s == JobStatusRunning:
		return to.Terminal()
	}
	return false
}

// SubjectRefs are the optional domain entities a job operates on.
type SubjectRefs struct {
	StoryID      string `json:"storyId,omitempty"`
	StoryboardID string `json:"storyboardId,omitempty"`
}

// Job is one unit of asynchronous work. Payload is immutable after insert;
// Snapshot is rewritten by the executor while the job is running.
type Job struct {
	ID              string
	Type            JobType
	Status          JobStatus
	OwnerID         string
	Subject         SubjectRefs
	Payload         json.RawMessage
	Snapshot        json.RawMessage
	ErrorMessage    string
	ProgressVersion int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
	StartedAt       *time.Time
	FinishedAt      *time.Time
}

// JobUpdate is a partial update. Nil fields are left untouched; UpdatedAt is
// always stamped and FinishedAt is stamped when Finished is set.
type JobUpdate struct {
	Status       *JobStatus
	Snapshot     json.RawMessage
	ErrorMessage *string
	Finished     bool
}

// JobView is the read model returned to polling clients.
type JobView struct {
	JobID           string          `json:"jobId"`
	Type            JobType         `json:"type"`
	Status          JobStatus       `json:"status"`
	Snapshot        json.RawMessage `json:"snapshot"`
	ProgressVersion int64           `json:"progressVersion"`
}

// View projects the job onto its client-facing shape.
func (j *Job) View() JobView {
	return JobView{
		JobID:           j.ID,
		Type:            j.Type,
		Status:          j.Status,
		Snapshot:        j.Snapshot,
		ProgressVersion: j.ProgressVersion,
	}
}
