package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"storyjobs/internal/domain"
	"storyjobs/internal/jobs"
	"storyjobs/internal/providers/coze"
	"storyjobs/internal/storage"
)

type videoRequest struct {
	Prompt          string           `json:"prompt"`
	Mode            string           `json:"mode"`
	FirstImage      domain.MediaRef  `json:"first_image"`
	LastImage       *domain.MediaRef `json:"last_image"`
	ReturnLastFrame bool             `json:"return_last_frame"`
	GenerateAudio   bool             `json:"generate_audio"`
	Ratio           string           `json:"ratio"`
	Resolution      string           `json:"resolution"`
	Duration        int              `json:"duration"`
	Watermark       bool             `json:"watermark"`
}

// Video synthesizes a clip for a storyboard, or reuses the stored one when
// nothing changed and regeneration was not forced.
func (p *Pipelines) Video(ctx context.Context, run *jobs.Run) error {
	in := run.Payload.(*domain.VideoPayload)
	prompt := strings.TrimSpace(in.Prompt)

	target, err := p.videoTarget(ctx, in, run.Job.OwnerID)
	if err != nil {
		return err
	}

	if !in.ForceRegenerate {
		if key := reusableVideo(run, in, target.board, prompt); key != "" {
			return p.reuseVideo(ctx, run, in, key)
		}
	}

	if !configured(p.deps.Video) {
		return notConfigured("video")
	}
	if err := run.Stage(ctx, domain.StageProviderCall); err != nil {
		return err
	}
	res, err := p.deps.Video.Run(ctx, traceID(run, in.TraceID), videoRequest{
		Prompt:          prompt,
		Mode:            in.Mode,
		FirstImage:      in.FirstImage,
		LastImage:       in.LastImage,
		ReturnLastFrame: in.ReturnLastFrame,
		GenerateAudio:   in.GenerateAudio,
		Ratio:           in.Ratio,
		Resolution:      in.Resolution,
		Duration:        in.Duration,
		Watermark:       in.Watermark,
	})
	if err != nil {
		return fmt.Errorf("video call: %w", err)
	}
	sourceURL := coze.ExtractVideoURL(res.Data)
	if sourceURL == "" {
		return &coze.Error{Endpoint: "video", Status: res.Status, Message: "reply carries no video url"}
	}

	if err := run.Stage(ctx, domain.StageDownload); err != nil {
		return err
	}
	data, _, err := storage.Fetch(ctx, p.deps.HTTPClient, sourceURL, p.deps.MaxDownloadBytes)
	if err != nil {
		return fmt.Errorf("video: %w", err)
	}

	if err := run.Stage(ctx, domain.StageUpload); err != nil {
		return err
	}
	key, err := p.deps.Objects.Put(ctx, storage.VideoKey(target.storyID, in.StoryboardID, in.Mode, p.deps.Now()), data, "video/mp4")
	if err != nil {
		return fmt.Errorf("video: %w", err)
	}
	signed, err := p.deps.Objects.URL(ctx, key)
	if err != nil {
		return err
	}

	if err := run.Stage(ctx, domain.StageWriteDB); err != nil {
		return err
	}
	if target.board != nil {
		err := p.deps.Stories.SetStoryboardVideo(ctx, target.board.ID, domain.StoryboardVideo{
			URL:             signed,
			StorageKey:      key,
			DurationSeconds: in.Duration,
			Prompt:          prompt,
			Mode:            in.Mode,
			GenerateAudio:   in.GenerateAudio,
			Watermark:       in.Watermark,
		})
		if err != nil {
			return fmt.Errorf("write storyboard video: %w", err)
		}
	}
	run.Logger().Info().Str("storage_key", key).Int("bytes", len(data)).Msg("pipeline: video stored")

	return jobs.Update(ctx, run, func(s *domain.VideoSnapshot) {
		s.Video = &domain.VideoOutput{URL: signed, StorageKey: key, Mode: in.Mode}
	})
}

// videoTarget is the storyboard and story a video job writes to. Both are
// empty for a clip that only lands in object storage.
type videoTarget struct {
	storyID string
	board   *domain.Storyboard
}

// videoTarget resolves the payload's storyboard and story. Rows of another
// owner are reported as missing.
func (p *Pipelines) videoTarget(ctx context.Context, in *domain.VideoPayload, owner string) (videoTarget, error) {
	var target videoTarget
	if in.StoryboardID != "" {
		board, err := p.deps.Stories.GetStoryboard(ctx, in.StoryboardID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return target, fmt.Errorf("storyboard %s: %w", in.StoryboardID, domain.ErrNotFound)
			}
			return target, fmt.Errorf("load storyboard: %w", err)
		}
		outline, err := p.deps.Stories.GetOutline(ctx, board.OutlineID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return target, fmt.Errorf("storyboard %s: %w", in.StoryboardID, domain.ErrNotFound)
			}
			return target, fmt.Errorf("load outline: %w", err)
		}
		if in.StoryID != "" && in.StoryID != outline.StoryID {
			return target, fmt.Errorf("storyboard %s: %w", in.StoryboardID, domain.ErrNotFound)
		}
		target.board = board
		target.storyID = outline.StoryID
	} else {
		target.storyID = in.StoryID
	}
	if target.storyID == "" {
		return target, nil
	}

	story, err := p.deps.Stories.GetStory(ctx, target.storyID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return target, fmt.Errorf("load story: %w", err)
	}
	if err != nil || story.OwnerID != owner {
		if target.board != nil {
			return target, fmt.Errorf("storyboard %s: %w", in.StoryboardID, domain.ErrNotFound)
		}
		return target, fmt.Errorf("story %s: %w", target.storyID, domain.ErrNotFound)
	}
	return target, nil
}

// reusableVideo returns the storage key of an unchanged prior output of
// board. An explicit key counts only when it is the one stored on board.
func reusableVideo(run *jobs.Run, in *domain.VideoPayload, board *domain.Storyboard, prompt string) string {
	var stored *domain.StoryboardVideo
	if board != nil {
		stored = board.Video
	}
	if key := strings.TrimSpace(in.ExistingVideoStorageKey); key != "" {
		if stored != nil && stored.StorageKey == key {
			return key
		}
		run.Logger().Warn().Str("storage_key", key).Msg("pipeline: ignoring video key not stored on the storyboard")
		return ""
	}
	if stored == nil || stored.StorageKey == "" {
		return ""
	}
	if strings.TrimSpace(stored.Prompt) != prompt || stored.Mode != in.Mode {
		return ""
	}
	return stored.StorageKey
}

func (p *Pipelines) reuseVideo(ctx context.Context, run *jobs.Run, in *domain.VideoPayload, key string) error {
	if err := run.Stage(ctx, domain.StageReuse); err != nil {
		return err
	}
	u, err := p.deps.Objects.URL(ctx, key)
	if err != nil {
		return err
	}
	run.Logger().Info().Str("storage_key", key).Msg("pipeline: reusing stored video")
	return jobs.Update(ctx, run, func(s *domain.VideoSnapshot) {
		s.Video = &domain.VideoOutput{URL: u, StorageKey: key, Mode: in.Mode, Reused: true}
	})
}
