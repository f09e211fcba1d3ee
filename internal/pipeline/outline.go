package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"storyjobs/internal/domain"
	"storyjobs/internal/jobs"
)

type outlineInput struct {
	traceID    string
	storyID    string
	inputType  string
	storyText  string
	title      string
	ratio      string
	resolution string
	style      string
	// nested suppresses stage checkpoints when a composite executor owns
	// the stage field.
	nested bool
}

// Outline generates the outline list of a story, creating the story when the
// payload names none.
func (p *Pipelines) Outline(ctx context.Context, run *jobs.Run) error {
	in := run.Payload.(*domain.OutlinePayload)
	result, err := p.generateOutline(ctx, run, outlineInput{
		traceID:    traceID(run, in.TraceID),
		storyID:    in.StoryID,
		inputType:  in.InputType,
		storyText:  in.StoryText,
		title:      in.Title,
		ratio:      in.Ratio,
		resolution: in.Resolution,
		style:      in.Style,
	})
	if err != nil {
		return err
	}
	return jobs.Update(ctx, run, func(s *domain.OutlineSnapshot) {
		s.Result = result
	})
}

func (p *Pipelines) generateOutline(ctx context.Context, run *jobs.Run, in outlineInput) (*domain.OutlineResult, error) {
	if !configured(p.deps.Outline) {
		return nil, notConfigured("outline")
	}
	owner := run.Job.OwnerID

	var story *domain.Story
	if in.storyID != "" {
		var err error
		if story, err = p.ownedStory(ctx, in.storyID, owner); err != nil {
			return nil, err
		}
	}

	if !in.nested {
		if err := run.Stage(ctx, domain.StageOutlineCall); err != nil {
			return nil, err
		}
	}
	res, err := p.deps.Outline.Run(ctx, in.traceID, map[string]string{
		"input_type": in.inputType,
		"story_text": in.storyText,
	})
	if err != nil {
		return nil, fmt.Errorf("outline call: %w", err)
	}
	if !in.nested {
		if err := run.Stage(ctx, domain.StagePersisting); err != nil {
			return nil, err
		}
	}

	reply := asObject(decodeValue(res.Data))
	generated := storyOriginal(reply)
	if generated == "" && in.inputType == "original" {
		generated = in.storyText
	}

	fields := domain.Story{
		OwnerID:       owner,
		Title:         strings.TrimSpace(in.title),
		StoryType:     in.inputType,
		Resolution:    orDefault(in.resolution, "1080p"),
		AspectRatio:   orDefault(in.ratio, "16:9"),
		StoryText:     in.storyText,
		GeneratedText: generated,
		ShotStyle:     orDefault(in.style, "cinema"),
	}
	if story == nil {
		if err := p.deps.Stories.CreateStory(ctx, &fields); err != nil {
			return nil, err
		}
	} else {
		fields.ID = story.ID
		if err := p.deps.Stories.UpdateStoryInputs(ctx, &fields); err != nil {
			return nil, err
		}
	}
	storyID := fields.ID
	run.Logger().Debug().Str("story_id", storyID).Msg("pipeline: outline story ready")

	if err := p.deps.Stories.UpdateStoryStatus(ctx, storyID, domain.StoryStatusProcessing, domain.StoryStageOutline, nil); err != nil {
		return nil, err
	}

	outlines := parseOutlineList(reply)
	if len(outlines) > 0 {
		if err := p.deps.Stories.ReplaceOutlines(ctx, storyID, outlines); err != nil {
			return nil, err
		}
	}

	progress := map[string]any{"outlineTotal": len(outlines)}
	if err := p.deps.Stories.UpdateStoryStatus(ctx, storyID, domain.StoryStatusReady, domain.StoryStageStoryboardText, progress); err != nil {
		return nil, err
	}

	return &domain.OutlineResult{
		StoryID:      storyID,
		OutlineTotal: len(outlines),
		Raw:          json.RawMessage(res.Data),
	}, nil
}

func storyOriginal(reply map[string]any) string {
	if s, ok := reply["story_original"].(string); ok && strings.TrimSpace(s) != "" {
		return strings.TrimSpace(s)
	}
	if nested := asObject(reply["data"]); nested != nil {
		if s, ok := nested["story_original"].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func parseOutlineList(reply map[string]any) []domain.Outline {
	list, _ := reply["outline_original_list"].([]any)
	out := make([]domain.Outline, 0, len(list))
	for i, item := range list {
		obj := asObject(item)
		out = append(out, domain.Outline{
			Sequence:     i + 1,
			OutlineText:  asText(obj["outline"]),
			OriginalText: asText(obj["original"]),
		})
	}
	return out
}

func orDefault(s, fallback string) string {
	if s = strings.TrimSpace(s); s != "" {
		return s
	}
	return fallback
}
