package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"storyjobs/internal/domain"
	"storyjobs/internal/jobs"
	"storyjobs/internal/storage"
)

// ReferenceImages generates one image per prompt on a bounded pool. Every
// sub-task records its own outcome; the job fails once all have finished if
// any of them failed.
func (p *Pipelines) ReferenceImages(ctx context.Context, run *jobs.Run) error {
	in := run.Payload.(*domain.ReferenceImagesPayload)
	if p.deps.Images == nil || !p.deps.Images.Configured() {
		return notConfigured("reference image")
	}
	if _, err := p.ownedStory(ctx, in.StoryID, run.Job.OwnerID); err != nil {
		return err
	}

	err := jobs.Update(ctx, run, func(s *domain.ReferenceImagesSnapshot) {
		s.Stage = domain.StageGenerating
		if len(s.Results) != len(in.Prompts) {
			s.Results = make([]domain.ImageResult, len(in.Prompts))
			for i, prompt := range in.Prompts {
				s.Results[i] = domain.ImageResult{Name: prompt.Name, Category: prompt.Category, Pending: true}
			}
		}
		s.Recount()
	})
	if err != nil {
		return err
	}

	var (
		mu       sync.Mutex
		firstErr string
	)
	trace := traceID(run, in.TraceID)
	err = jobs.FanOut(ctx, p.deps.ImageConcurrency, len(in.Prompts), func(ctx context.Context, i int) error {
		result := p.referenceImage(ctx, trace, in, i)
		if !result.OK {
			run.Logger().Warn().Int("index", i).Str("name", result.Name).Str("error", result.ErrorMessage).Msg("pipeline: reference image failed")
			mu.Lock()
			if firstErr == "" {
				firstErr = result.ErrorMessage
			}
			mu.Unlock()
		}
		return jobs.Update(ctx, run, func(s *domain.ReferenceImagesSnapshot) {
			s.Results[i] = result
			s.Recount()
		})
	})
	if err != nil {
		return err
	}

	var summary domain.BatchSummary
	if err := run.Read(ctx, func(s domain.Snapshot) {
		summary = s.(*domain.ReferenceImagesSnapshot).Summary
	}); err != nil {
		return err
	}
	if summary.Failed > 0 {
		if firstErr == "" {
			firstErr = "some images failed"
		}
		return errors.New(firstErr)
	}
	return nil
}

func isNarrator(name string) bool {
	n := strings.TrimSpace(name)
	return n == "旁白" || strings.EqualFold(n, "narrator")
}

// referenceImage runs one sub-task and never returns an error; failures are
// recorded in the result.
func (p *Pipelines) referenceImage(ctx context.Context, trace string, in *domain.ReferenceImagesPayload, i int) domain.ImageResult {
	prompt := in.Prompts[i]
	result := domain.ImageResult{Name: prompt.Name, Category: prompt.Category}
	fail := func(err error) domain.ImageResult {
		result.OK = false
		result.ErrorMessage = err.Error()
		return result
	}

	if prompt.Category == domain.ImageCategoryRole && isNarrator(prompt.Name) {
		result.OK = true
		result.Skipped = true
		return result
	}

	existing, err := p.deps.Stories.FindGeneratedImage(ctx, domain.ImageLookup{
		ID:           prompt.GeneratedImageID,
		StoryID:      in.StoryID,
		StoryboardID: in.StoryboardID,
		Name:         prompt.Name,
		Category:     prompt.Category,
	})
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fail(fmt.Errorf("look up image: %w", err))
	}
	if existing != nil && !in.ForceRegenerate && existing.URL != "" {
		result.OK = true
		result.Skipped = true
		result.ID = existing.ID
		result.URL = existing.URL
		result.StorageKey = existing.StorageKey
		result.ThumbnailURL = existing.ThumbnailURL
		return result
	}

	if strings.TrimSpace(prompt.Prompt) == "" {
		return fail(errors.New("prompt is required"))
	}
	sourceURL, err := p.deps.Images.GenerateImage(ctx, trace, prompt.Prompt, string(prompt.Category))
	if err != nil {
		return fail(err)
	}
	data, contentType, err := storage.Fetch(ctx, p.deps.HTTPClient, sourceURL, p.deps.MaxDownloadBytes)
	if err != nil {
		return fail(err)
	}
	thumb, err := storage.Thumbnail(data, storage.ThumbnailWidth)
	if err != nil {
		return fail(err)
	}

	at := p.deps.Now()
	key, err := p.deps.Objects.Put(ctx, storage.ImageKey(in.StoryID, in.StoryboardID, i, prompt.Name, contentType, at), data, contentType)
	if err != nil {
		return fail(err)
	}
	signed, err := p.deps.Objects.URL(ctx, key)
	if err != nil {
		return fail(err)
	}
	thumbKey, err := p.deps.Objects.Put(ctx, storage.ThumbnailKey(in.StoryID, in.StoryboardID, i, prompt.Name, at), thumb, "image/jpeg")
	if err != nil {
		return fail(err)
	}
	thumbURL, err := p.deps.Objects.URL(ctx, thumbKey)
	if err != nil {
		return fail(err)
	}

	description := prompt.Description
	if description == "" {
		description = prompt.Prompt
	}
	img := &domain.GeneratedImage{
		StoryID:      in.StoryID,
		StoryboardID: in.StoryboardID,
		Name:         prompt.Name,
		Category:     prompt.Category,
		Description:  description,
		Prompt:       prompt.Prompt,
		URL:          signed,
		StorageKey:   key,

		ThumbnailURL:        thumbURL,
		ThumbnailStorageKey: thumbKey,
	}
	if existing != nil {
		img.ID = existing.ID
		img.StoryboardID = existing.StoryboardID
	}
	if err := p.deps.Stories.SaveGeneratedImage(ctx, img); err != nil {
		return fail(fmt.Errorf("save image: %w", err))
	}

	result.OK = true
	result.ID = img.ID
	result.URL = signed
	result.StorageKey = key
	result.ThumbnailURL = thumbURL
	return result
}
