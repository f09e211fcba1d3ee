package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"storyjobs/internal/domain"
	"storyjobs/internal/jobs"
)

type storyboardInput struct {
	traceID   string
	outlineID string
	outline   string
	original  string
	nested    bool
}

// StoryboardText splits one outline unit into shots.
func (p *Pipelines) StoryboardText(ctx context.Context, run *jobs.Run) error {
	in := run.Payload.(*domain.StoryboardTextPayload)
	result, err := p.generateStoryboardText(ctx, run, storyboardInput{
		traceID:   traceID(run, in.TraceID),
		outlineID: in.OutlineID,
		outline:   in.Outline,
		original:  in.Original,
	})
	if err != nil {
		return err
	}
	return jobs.Update(ctx, run, func(s *domain.StoryboardTextSnapshot) {
		s.Result = result
	})
}

func (p *Pipelines) generateStoryboardText(ctx context.Context, run *jobs.Run, in storyboardInput) (*domain.StoryboardTextResult, error) {
	if !configured(p.deps.StoryboardText) {
		return nil, notConfigured("storyboard text")
	}

	outline, err := p.deps.Stories.GetOutline(ctx, in.outlineID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("outline %s: %w", in.outlineID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("load outline: %w", err)
	}
	// Another owner's outline is reported as missing.
	story, err := p.deps.Stories.GetStory(ctx, outline.StoryID)
	if err != nil || story.OwnerID != run.Job.OwnerID {
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("load story: %w", err)
		}
		return nil, fmt.Errorf("outline %s: %w", in.outlineID, domain.ErrNotFound)
	}

	outlineText := in.outline
	if strings.TrimSpace(outlineText) == "" {
		outlineText = outline.OutlineText
	}
	originalText := in.original
	if strings.TrimSpace(originalText) == "" {
		originalText = outline.OriginalText
	}

	if err := p.deps.Stories.UpdateStoryStatus(ctx, story.ID, domain.StoryStatusProcessing, domain.StoryStageStoryboardText, nil); err != nil {
		return nil, err
	}

	if !in.nested {
		if err := run.Stage(ctx, domain.StageProviderCall); err != nil {
			return nil, err
		}
	}
	res, err := p.deps.StoryboardText.Run(ctx, in.traceID, map[string]string{
		"outline":  outlineText,
		"original": originalText,
	})
	if err != nil {
		return nil, fmt.Errorf("storyboard text call: %w", err)
	}
	if !in.nested {
		if err := run.Stage(ctx, domain.StagePersisting); err != nil {
			return nil, err
		}
	}

	reply := asObject(decodeValue(res.Data))
	list, _ := reply["storyboard_list"].([]any)
	boards := make([]domain.Storyboard, 0, len(list))
	for i, item := range list {
		obj := asObject(item)
		boards = append(boards, domain.Storyboard{
			OutlineID:      outline.ID,
			Sequence:       i + 1,
			SceneTitle:     outlineText,
			OriginalText:   originalText,
			ShotCut:        truthy(obj["shot_cut"]),
			StoryboardText: asText(obj["storyboard_text"]),
		})
	}
	if err := p.deps.Stories.ReplaceStoryboards(ctx, outline.ID, boards); err != nil {
		return nil, err
	}

	progress, err := p.deps.Stories.StoryboardProgress(ctx, story.ID)
	if err != nil {
		return nil, err
	}
	status, stage := domain.StoryStatusProcessing, domain.StoryStageStoryboardText
	if progress.OutlineStoryboardDone >= progress.OutlineTotal {
		status, stage = domain.StoryStatusReady, domain.StoryStageVideoScript
	}
	err = p.deps.Stories.UpdateStoryStatus(ctx, story.ID, status, stage, map[string]any{
		"outlineStoryboardDone": progress.OutlineStoryboardDone,
		"shotTotal":             progress.ShotTotal,
	})
	if err != nil {
		return nil, err
	}

	return &domain.StoryboardTextResult{
		StoryID:               story.ID,
		OutlineID:             outline.ID,
		PersistedTotal:        len(boards),
		OutlineTotal:          progress.OutlineTotal,
		OutlineStoryboardDone: progress.OutlineStoryboardDone,
		ShotTotal:             progress.ShotTotal,
	}, nil
}
