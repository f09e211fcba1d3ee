// Package pipeline implements the executors that turn a claimed job into
// provider calls, stored binaries and story rows.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"storyjobs/internal/domain"
	"storyjobs/internal/jobs"
	"storyjobs/internal/providers/coze"
	"storyjobs/internal/storage"
)

// Provider is one generation workflow endpoint.
type Provider interface {
	Configured() bool
	Run(ctx context.Context, traceID string, body any) (*coze.Result, error)
}

// ImageGenerator produces one reference image URL per call.
type ImageGenerator interface {
	Configured() bool
	GenerateImage(ctx context.Context, traceID, prompt, imageType string) (string, error)
}

// Deps are the collaborators shared by every executor.
type Deps struct {
	Stories    domain.StoryRepository
	Objects    storage.ObjectStore
	HTTPClient *http.Client

	Outline        Provider
	StoryboardText Provider
	ScriptBody     Provider
	Video          Provider
	Images         ImageGenerator

	// ImageConcurrency bounds the sub-tasks of one reference image batch.
	ImageConcurrency int
	// MaxDownloadBytes caps every fetched binary; zero means the storage
	// default.
	MaxDownloadBytes int64
	Now              func() time.Time
}

// Pipelines holds the executors for every job type.
type Pipelines struct {
	deps Deps
}

func New(deps Deps) *Pipelines {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.ImageConcurrency < 1 {
		deps.ImageConcurrency = 3
	}
	if deps.HTTPClient == nil {
		deps.HTTPClient = &http.Client{Timeout: 5 * time.Minute}
	}
	return &Pipelines{deps: deps}
}

// Register installs every executor on r under version.
func (p *Pipelines) Register(r *jobs.WorkerRegistry, version int) {
	r.Register(domain.JobTypeOutline, version, p.Outline)
	r.Register(domain.JobTypeStoryboardText, version, p.StoryboardText)
	r.Register(domain.JobTypeScriptBody, version, p.ScriptBody)
	r.Register(domain.JobTypeVideo, version, p.Video)
	r.Register(domain.JobTypeReferenceImages, version, p.ReferenceImages)
	r.Register(domain.JobTypeShotlist, version, p.Shotlist)
}

func configured(p Provider) bool {
	return p != nil && p.Configured()
}

func notConfigured(endpoint string) error {
	return fmt.Errorf("%s: %w", endpoint, coze.ErrNotConfigured)
}

// ownedStory loads storyID and checks it belongs to owner.
func (p *Pipelines) ownedStory(ctx context.Context, storyID, owner string) (*domain.Story, error) {
	story, err := p.deps.Stories.GetStory(ctx, storyID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("story %s: %w", storyID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("load story: %w", err)
	}
	if story.OwnerID != owner {
		return nil, fmt.Errorf("story %s: %w", storyID, domain.ErrForbidden)
	}
	return story, nil
}

func traceID(run *jobs.Run, fromPayload string) string {
	if fromPayload != "" {
		return fromPayload
	}
	return run.Job.ID
}
