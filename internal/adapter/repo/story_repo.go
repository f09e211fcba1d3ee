package repo

import (
	"context"
	"encoding/json"
	"fmt"

	"storyjobs/internal/domain"
	"storyjobs/internal/infra"
	"storyjobs/internal/sqlinline"
)

// StoryRepositoryPG implements domain.StoryRepository on PostgreSQL.
type StoryRepositoryPG struct {
	sql infra.SQLExecutor
}

func NewStoryRepository(sql infra.SQLExecutor) *StoryRepositoryPG {
	return &StoryRepositoryPG{sql: sql}
}

func (r *StoryRepositoryPG) GetStory(ctx context.Context, storyID string) (*domain.Story, error) {
	var s domain.Story
	var metadata []byte
	err := r.sql.QueryRow(ctx, sqlinline.QSelectStory, storyID).Scan(
		&s.ID,
		&s.OwnerID,
		&s.Title,
		&s.StoryType,
		&s.Resolution,
		&s.AspectRatio,
		&s.StoryText,
		&s.GeneratedText,
		&s.ShotStyle,
		&s.Status,
		&s.ProgressStage,
		&metadata,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get story: %w", err)
	}
	s.Metadata = append(json.RawMessage(nil), metadata...)
	return &s, nil
}

func (r *StoryRepositoryPG) CreateStory(ctx context.Context, story *domain.Story) error {
	err := r.sql.QueryRow(ctx, sqlinline.QInsertStory,
		story.OwnerID,
		story.Title,
		story.StoryType,
		story.Resolution,
		story.AspectRatio,
		story.StoryText,
		story.GeneratedText,
		story.ShotStyle,
	).Scan(&story.ID, &story.CreatedAt, &story.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create story: %w", err)
	}
	return nil
}

func (r *StoryRepositoryPG) UpdateStoryInputs(ctx context.Context, story *domain.Story) error {
	_, err := r.sql.Exec(ctx, sqlinline.QUpdateStoryInputs,
		story.ID,
		story.Title,
		story.StoryType,
		story.Resolution,
		story.AspectRatio,
		story.StoryText,
		story.GeneratedText,
		story.ShotStyle,
	)
	if err != nil {
		return fmt.Errorf("update story inputs: %w", err)
	}
	return nil
}

func (r *StoryRepositoryPG) UpdateStoryStatus(ctx context.Context, storyID, status, stage string, progress map[string]any) error {
	var patch []byte
	if len(progress) > 0 {
		raw, err := json.Marshal(progress)
		if err != nil {
			return fmt.Errorf("encode story progress: %w", err)
		}
		patch = raw
	}
	if _, err := r.sql.Exec(ctx, sqlinline.QUpdateStoryStatus, storyID, status, stage, patch); err != nil {
		return fmt.Errorf("update story status: %w", err)
	}
	return nil
}

func (r *StoryRepositoryPG) UpdateStoryMetadata(ctx context.Context, storyID string, metadata json.RawMessage) error {
	if _, err := r.sql.Exec(ctx, sqlinline.QUpdateStoryMetadata, storyID, []byte(metadata)); err != nil {
		return fmt.Errorf("update story metadata: %w", err)
	}
	return nil
}

func (r *StoryRepositoryPG) ListOutlines(ctx context.Context, storyID string) ([]domain.Outline, error) {
	rows, err := r.sql.Query(ctx, sqlinline.QListOutlines, storyID)
	if err != nil {
		return nil, fmt.Errorf("list outlines: %w", err)
	}
	defer rows.Close()

	var outlines []domain.Outline
	for rows.Next() {
		var o domain.Outline
		if err := rows.Scan(&o.ID, &o.StoryID, &o.Sequence, &o.OutlineText, &o.OriginalText); err != nil {
			return nil, fmt.Errorf("scan outline: %w", err)
		}
		outlines = append(outlines, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list outlines: %w", err)
	}
	return outlines, nil
}

func (r *StoryRepositoryPG) GetOutline(ctx context.Context, outlineID string) (*domain.Outline, error) {
	var o domain.Outline
	err := r.sql.QueryRow(ctx, sqlinline.QSelectOutline, outlineID).
		Scan(&o.ID, &o.StoryID, &o.Sequence, &o.OutlineText, &o.OriginalText)
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get outline: %w", err)
	}
	return &o, nil
}

func (r *StoryRepositoryPG) ReplaceOutlines(ctx context.Context, storyID string, outlines []domain.Outline) error {
	seqs := make([]int32, len(outlines))
	texts := make([]string, len(outlines))
	originals := make([]string, len(outlines))
	for i, o := range outlines {
		seqs[i] = int32(o.Sequence)
		texts[i] = o.OutlineText
		originals[i] = o.OriginalText
	}
	if _, err := r.sql.Exec(ctx, sqlinline.QReplaceOutlines, storyID, seqs, texts, originals); err != nil {
		return fmt.Errorf("replace outlines: %w", err)
	}
	return nil
}

func (r *StoryRepositoryPG) ReplaceStoryboards(ctx context.Context, outlineID string, boards []domain.Storyboard) error {
	seqs := make([]int32, len(boards))
	titles := make([]string, len(boards))
	originals := make([]string, len(boards))
	cuts := make([]bool, len(boards))
	texts := make([]string, len(boards))
	for i, b := range boards {
		seqs[i] = int32(b.Sequence)
		titles[i] = b.SceneTitle
		originals[i] = b.OriginalText
		cuts[i] = b.ShotCut
		texts[i] = b.StoryboardText
	}
	if _, err := r.sql.Exec(ctx, sqlinline.QReplaceStoryboards, outlineID, seqs, titles, originals, cuts, texts); err != nil {
		return fmt.Errorf("replace storyboards: %w", err)
	}
	return nil
}

func (r *StoryRepositoryPG) StoryboardProgress(ctx context.Context, storyID string) (domain.StoryboardProgress, error) {
	var p domain.StoryboardProgress
	err := r.sql.QueryRow(ctx, sqlinline.QStoryboardProgress, storyID).
		Scan(&p.OutlineTotal, &p.OutlineStoryboardDone, &p.ShotTotal)
	if err != nil {
		return p, fmt.Errorf("storyboard progress: %w", err)
	}
	return p, nil
}

func (r *StoryRepositoryPG) GetStoryboard(ctx context.Context, storyboardID string) (*domain.Storyboard, error) {
	var b domain.Storyboard
	var video []byte
	err := r.sql.QueryRow(ctx, sqlinline.QSelectStoryboard, storyboardID).Scan(
		&b.ID,
		&b.OutlineID,
		&b.Sequence,
		&b.SceneTitle,
		&b.OriginalText,
		&b.ShotCut,
		&b.StoryboardText,
		&video,
	)
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get storyboard: %w", err)
	}
	if len(video) > 0 && string(video) != "null" {
		var v domain.StoryboardVideo
		if err := json.Unmarshal(video, &v); err != nil {
			return nil, fmt.Errorf("decode storyboard video: %w", err)
		}
		b.Video = &v
	}
	return &b, nil
}

func (r *StoryRepositoryPG) SetStoryboardVideo(ctx context.Context, storyboardID string, video domain.StoryboardVideo) error {
	raw, err := json.Marshal(video)
	if err != nil {
		return fmt.Errorf("encode storyboard video: %w", err)
	}
	if _, err := r.sql.Exec(ctx, sqlinline.QUpdateStoryboardVideo, storyboardID, raw); err != nil {
		return fmt.Errorf("update storyboard video: %w", err)
	}
	return nil
}

func (r *StoryRepositoryPG) FindGeneratedImage(ctx context.Context, lookup domain.ImageLookup) (*domain.GeneratedImage, error) {
	var row interface{ Scan(dest ...any) error }
	if lookup.ID != "" {
		row = r.sql.QueryRow(ctx, sqlinline.QSelectGeneratedImageByID, lookup.ID, lookup.StoryID)
	} else {
		row = r.sql.QueryRow(ctx, sqlinline.QSelectLatestGeneratedImage,
			lookup.StoryID, lookup.StoryboardID, lookup.Name, string(lookup.Category))
	}
	var img domain.GeneratedImage
	var category string
	err := row.Scan(
		&img.ID,
		&img.StoryID,
		&img.StoryboardID,
		&img.Name,
		&category,
		&img.Description,
		&img.Prompt,
		&img.URL,
		&img.StorageKey,
		&img.ThumbnailURL,
		&img.ThumbnailStorageKey,
		&img.CreatedAt,
	)
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("find generated image: %w", err)
	}
	img.Category = domain.ImageCategory(category)
	return &img, nil
}

func (r *StoryRepositoryPG) SaveGeneratedImage(ctx context.Context, img *domain.GeneratedImage) error {
	if img.ID == "" {
		err := r.sql.QueryRow(ctx, sqlinline.QInsertGeneratedImage,
			img.StoryID,
			img.StoryboardID,
			img.Name,
			string(img.Category),
			img.Description,
			img.Prompt,
			img.URL,
			img.StorageKey,
			img.ThumbnailURL,
			img.ThumbnailStorageKey,
		).Scan(&img.ID, &img.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert generated image: %w", err)
		}
		return nil
	}
	_, err := r.sql.Exec(ctx, sqlinline.QUpdateGeneratedImage,
		img.ID,
		img.Name,
		string(img.Category),
		img.Description,
		img.Prompt,
		img.URL,
		img.StorageKey,
		img.ThumbnailURL,
		img.ThumbnailStorageKey,
	)
	if err != nil {
		return fmt.Errorf("update generated image: %w", err)
	}
	return nil
}

var _ domain.StoryRepository = (*StoryRepositoryPG)(nil)
