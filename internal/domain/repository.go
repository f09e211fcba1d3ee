package domain

import (
	"context"
	"encoding/json"
)

// JobStore persists job records. It carries no business logic and never
// deletes rows.
type JobStore interface {
	Insert(ctx context.Context, job *Job) error
	GetByID(ctx context.Context, jobID string) (*Job, error)
	// Update applies a partial update to a non-terminal job. It returns
	// ErrJobFinalized when the job is already done or error.
	Update(ctx context.Context, jobID string, patch JobUpdate) error
	// ClaimNext atomically moves the oldest queued job of type t to running.
	// ok is false when nothing is eligible.
	ClaimNext(ctx context.Context, t JobType) (job *Job, ok bool, err error)
	// ListActive returns queued and running jobs for the subject, oldest first.
	ListActive(ctx context.Context, subject SubjectRefs) ([]Job, error)
}

// StoryRepository is the slice of the story schema the pipelines read and
// write.
type StoryRepository interface {
	GetStory(ctx context.Context, storyID string) (*Story, error)
	CreateStory(ctx context.Context, story *Story) error
	UpdateStoryInputs(ctx context.Context, story *Story) error
	// UpdateStoryStatus sets status and stage and merges progress into
	// metadata.progress.
	UpdateStoryStatus(ctx context.Context, storyID, status, stage string, progress map[string]any) error
	UpdateStoryMetadata(ctx context.Context, storyID string, metadata json.RawMessage) error

	ListOutlines(ctx context.Context, storyID string) ([]Outline, error)
	GetOutline(ctx context.Context, outlineID string) (*Outline, error)
	// ReplaceOutlines deletes every outline of the story and inserts the
	// given list in one transaction.
	ReplaceOutlines(ctx context.Context, storyID string, outlines []Outline) error

	ReplaceStoryboards(ctx context.Context, outlineID string, boards []Storyboard) error
	StoryboardProgress(ctx context.Context, storyID string) (StoryboardProgress, error)
	GetStoryboard(ctx context.Context, storyboardID string) (*Storyboard, error)
	SetStoryboardVideo(ctx context.Context, storyboardID string, video StoryboardVideo) error

	FindGeneratedImage(ctx context.Context, lookup ImageLookup) (*GeneratedImage, error)
	// SaveGeneratedImage inserts img when ID is empty, otherwise updates it.
	SaveGeneratedImage(ctx context.Context, img *GeneratedImage) error
}
