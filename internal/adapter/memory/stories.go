package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"storyjobs/internal/domain"
)

// StoryRepository is an in-memory domain.StoryRepository.
type StoryRepository struct {
	mu          sync.RWMutex
	stories     map[string]*domain.Story
	outlines    map[string][]domain.Outline
	storyboards map[string][]domain.Storyboard
	images      []*domain.GeneratedImage
}

func NewStoryRepository() *StoryRepository {
	return &StoryRepository{
		stories:     make(map[string]*domain.Story),
		outlines:    make(map[string][]domain.Outline),
		storyboards: make(map[string][]domain.Storyboard),
	}
}

func (r *StoryRepository) GetStory(_ context.Context, storyID string) (*domain.Story, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.stories[storyID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	c := *s
	c.Metadata = append(json.RawMessage(nil), s.Metadata...)
	return &c, nil
}

func (r *StoryRepository) CreateStory(_ context.Context, story *domain.Story) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	story.ID = uuid.NewString()
	story.CreatedAt = now
	story.UpdatedAt = now
	if story.Status == "" {
		story.Status = "draft"
	}
	if len(story.Metadata) == 0 {
		story.Metadata = json.RawMessage(`{}`)
	}
	c := *story
	r.stories[story.ID] = &c
	return nil
}

func (r *StoryRepository) UpdateStoryInputs(_ context.Context, story *domain.Story) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.stories[story.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if story.Title != "" {
		s.Title = story.Title
	}
	s.StoryType = story.StoryType
	s.Resolution = story.Resolution
	s.AspectRatio = story.AspectRatio
	s.StoryText = story.StoryText
	if story.GeneratedText != "" {
		s.GeneratedText = story.GeneratedText
	}
	s.ShotStyle = story.ShotStyle
	s.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *StoryRepository) UpdateStoryStatus(_ context.Context, storyID, status, stage string, progress map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.stories[storyID]
	if !ok {
		return domain.ErrNotFound
	}
	s.Status = status
	s.ProgressStage = stage
	if len(progress) > 0 {
		meta := map[string]any{}
		if len(s.Metadata) > 0 {
			_ = json.Unmarshal(s.Metadata, &meta)
		}
		merged, _ := meta["progress"].(map[string]any)
		if merged == nil {
			merged = map[string]any{}
		}
		for k, v := range progress {
			merged[k] = v
		}
		meta["progress"] = merged
		raw, err := json.Marshal(meta)
		if err != nil {
			return err
		}
		s.Metadata = raw
	}
	s.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *StoryRepository) UpdateStoryMetadata(_ context.Context, storyID string, metadata json.RawMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.stories[storyID]
	if !ok {
		return domain.ErrNotFound
	}
	s.Metadata = append(json.RawMessage(nil), metadata...)
	s.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *StoryRepository) ListOutlines(_ context.Context, storyID string) ([]domain.Outline, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := append([]domain.Outline(nil), r.outlines[storyID]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

func (r *StoryRepository) GetOutline(_ context.Context, outlineID string) (*domain.Outline, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, list := range r.outlines {
		for _, o := range list {
			if o.ID == outlineID {
				c := o
				return &c, nil
			}
		}
	}
	return nil, domain.ErrNotFound
}

func (r *StoryRepository) ReplaceOutlines(_ context.Context, storyID string, outlines []domain.Outline) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, old := range r.outlines[storyID] {
		delete(r.storyboards, old.ID)
	}
	list := make([]domain.Outline, len(outlines))
	for i, o := range outlines {
		o.ID = uuid.NewString()
		o.StoryID = storyID
		list[i] = o
	}
	r.outlines[storyID] = list
	return nil
}

func (r *StoryRepository) ReplaceStoryboards(_ context.Context, outlineID string, boards []domain.Storyboard) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := make([]domain.Storyboard, len(boards))
	for i, b := range boards {
		b.ID = uuid.NewString()
		b.OutlineID = outlineID
		list[i] = b
	}
	r.storyboards[outlineID] = list
	return nil
}

func (r *StoryRepository) StoryboardProgress(_ context.Context, storyID string) (domain.StoryboardProgress, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var p domain.StoryboardProgress
	for _, o := range r.outlines[storyID] {
		p.OutlineTotal++
		if n := len(r.storyboards[o.ID]); n > 0 {
			p.OutlineStoryboardDone++
			p.ShotTotal += n
		}
	}
	return p, nil
}

func (r *StoryRepository) GetStoryboard(_ context.Context, storyboardID string) (*domain.Storyboard, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, list := range r.storyboards {
		for _, b := range list {
			if b.ID == storyboardID {
				c := b
				if b.Video != nil {
					v := *b.Video
					c.Video = &v
				}
				return &c, nil
			}
		}
	}
	return nil, domain.ErrNotFound
}

func (r *StoryRepository) SetStoryboardVideo(_ context.Context, storyboardID string, video domain.StoryboardVideo) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for outlineID, list := range r.storyboards {
		for i := range list {
			if list[i].ID == storyboardID {
				v := video
				r.storyboards[outlineID][i].Video = &v
				return nil
			}
		}
	}
	return domain.ErrNotFound
}

// AddStoryboard registers a storyboard row directly. Callers outside the
// pipelines use it to seed fixtures.
func (r *StoryRepository) AddStoryboard(board domain.Storyboard) domain.Storyboard {
	r.mu.Lock()
	defer r.mu.Unlock()

	if board.ID == "" {
		board.ID = uuid.NewString()
	}
	r.storyboards[board.OutlineID] = append(r.storyboards[board.OutlineID], board)
	return board
}

func (r *StoryRepository) FindGeneratedImage(_ context.Context, lookup domain.ImageLookup) (*domain.GeneratedImage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if lookup.ID != "" {
		for _, img := range r.images {
			if img.ID == lookup.ID && img.StoryID == lookup.StoryID {
				c := *img
				return &c, nil
			}
		}
		return nil, domain.ErrNotFound
	}
	for i := len(r.images) - 1; i >= 0; i-- {
		img := r.images[i]
		if img.StoryID == lookup.StoryID &&
			img.StoryboardID == lookup.StoryboardID &&
			img.Name == lookup.Name &&
			img.Category == lookup.Category {
			c := *img
			return &c, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *StoryRepository) SaveGeneratedImage(_ context.Context, img *domain.GeneratedImage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if img.ID == "" {
		img.ID = uuid.NewString()
		img.CreatedAt = time.Now().UTC()
		c := *img
		r.images = append(r.images, &c)
		return nil
	}
	for _, existing := range r.images {
		if existing.ID == img.ID {
			existing.Name = img.Name
			existing.Category = img.Category
			existing.Description = img.Description
			existing.Prompt = img.Prompt
			existing.URL = img.URL
			existing.StorageKey = img.StorageKey
			existing.ThumbnailURL = img.ThumbnailURL
			existing.ThumbnailStorageKey = img.ThumbnailStorageKey
			return nil
		}
	}
	return domain.ErrNotFound
}

// Images returns a copy of every stored image, oldest first.
func (r *StoryRepository) Images() []domain.GeneratedImage {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.GeneratedImage, len(r.images))
	for i, img := range r.images {
		out[i] = *img
	}
	return out
}

var _ domain.StoryRepository = (*StoryRepository)(nil)
