package pipeline

import (
	"context"
	"fmt"
	"strings"

	"storyjobs/internal/domain"
	"storyjobs/internal/jobs"
)

// Shotlist runs outline generation for a commercial brief and then storyboard
// text for every produced outline, advancing progress after each unit.
func (p *Pipelines) Shotlist(ctx context.Context, run *jobs.Run) error {
	in := run.Payload.(*domain.ShotlistPayload)
	trace := traceID(run, in.TraceID)

	if err := run.Stage(ctx, domain.StageOutline); err != nil {
		return err
	}
	outline, err := p.generateOutline(ctx, run, outlineInput{
		traceID:    trace,
		storyID:    in.StoryID,
		inputType:  "tvc",
		storyText:  shotlistBrief(in),
		ratio:      in.Ratio,
		resolution: in.Resolution,
		style:      in.StyleID,
		nested:     true,
	})
	if err != nil {
		return err
	}

	err = jobs.Update(ctx, run, func(s *domain.ShotlistSnapshot) {
		s.Stage = domain.StageStoryboardText
		s.Progress.OutlineTotal = outline.OutlineTotal
		s.Progress.OutlineDone = 0
	})
	if err != nil {
		return err
	}

	outlines, err := p.deps.Stories.ListOutlines(ctx, outline.StoryID)
	if err != nil {
		return fmt.Errorf("list outlines: %w", err)
	}
	if len(outlines) == 0 {
		return domain.ErrOutlineEmpty
	}

	shots := 0
	for i, o := range outlines {
		err := jobs.Update(ctx, run, func(s *domain.ShotlistSnapshot) {
			s.Progress.OutlineTotal = len(outlines)
			s.Progress.OutlineDone = i
			s.Progress.CurrentOutlineID = o.ID
			s.Progress.CurrentUnitIndex = i + 1
		})
		if err != nil {
			return err
		}
		res, err := p.generateStoryboardText(ctx, run, storyboardInput{
			traceID:   trace,
			outlineID: o.ID,
			outline:   o.OutlineText,
			original:  o.OriginalText,
			nested:    true,
		})
		if err != nil {
			return fmt.Errorf("outline %d of %d: %w", i+1, len(outlines), err)
		}
		shots = res.ShotTotal
		err = jobs.Update(ctx, run, func(s *domain.ShotlistSnapshot) {
			s.Progress.OutlineDone = i + 1
			s.Progress.ShotTotal = res.ShotTotal
		})
		if err != nil {
			return err
		}
	}

	return jobs.Update(ctx, run, func(s *domain.ShotlistSnapshot) {
		s.Progress.OutlineDone = len(outlines)
		s.Result = &domain.ShotlistResult{
			StoryID:      outline.StoryID,
			OutlineTotal: len(outlines),
			ShotTotal:    shots,
		}
	})
}

func shotlistBrief(in *domain.ShotlistPayload) string {
	lines := []string{
		"你是一个资深广告创意与分镜导演。",
		"请基于以下 Creative Brief 生成一条商业短片（TVC）的结构与镜头设计。",
		"",
		fmt.Sprintf("时长：%d 秒", in.DurationSec),
		fmt.Sprintf("风格（Vibe）：%s", in.StyleID),
		"",
		"Creative Brief：",
		strings.TrimSpace(in.Brief),
	}
	return strings.Join(lines, "\n")
}
