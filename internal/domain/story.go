package domain

import (
	"encoding/json"
	"time"
)

// Story status and progress stage values written by the pipelines.
const (
	StoryStatusProcessing = "processing"
	StoryStatusReady      = "ready"

	StoryStageOutline        = "outline"
	StoryStageStoryboardText = "storyboard_text"
	StoryStageVideoScript    = "video_script"
)

// Story is the subject most pipelines operate on.
type Story struct {
	ID            string
	OwnerID       string
	Title         string
	StoryType     string
	Resolution    string
	AspectRatio   string
	StoryText     string
	GeneratedText string
	ShotStyle     string
	Status        string
	ProgressStage string
	Metadata      json.RawMessage
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Outline is one derived unit of a story, ordered by Sequence.
type Outline struct {
	ID           string
	StoryID      string
	Sequence     int
	OutlineText  string
	OriginalText string
}

// Storyboard is one shot derived from an outline.
type Storyboard struct {
	ID             string
	OutlineID      string
	Sequence       int
	SceneTitle     string
	OriginalText   string
	ShotCut        bool
	StoryboardText string
	Video          *StoryboardVideo
}

// StoryboardVideo is the persisted output of a video job.
type StoryboardVideo struct {
	URL             string `json:"url"`
	StorageKey      string `json:"storageKey"`
	DurationSeconds int    `json:"durationSeconds,omitempty"`
	Prompt          string `json:"prompt"`
	Mode            string `json:"mode"`
	GenerateAudio   bool   `json:"generateAudio"`
	Watermark       bool   `json:"watermark"`
}

// StoryboardProgress aggregates how far storyboard text generation has come
// for a story.
type StoryboardProgress struct {
	OutlineTotal          int
	OutlineStoryboardDone int
	ShotTotal             int
}

// GeneratedImage is a persisted reference image.
type GeneratedImage struct {
	ID           string
	StoryID      string
	StoryboardID string
	Name         string
	Category     ImageCategory
	Description  string
	Prompt       string
	URL          string
	StorageKey   string
	// Thumbnail is a downscaled JPEG of the image.
	ThumbnailURL        string
	ThumbnailStorageKey string
	CreatedAt           time.Time
}

// ImageLookup finds the prior image a batch sub-task may reuse. When ID is set
// it wins; otherwise the newest row matching the remaining fields is returned.
type ImageLookup struct {
	ID           string
	StoryID      string
	StoryboardID string
	Name         string
	Category     ImageCategory
}
