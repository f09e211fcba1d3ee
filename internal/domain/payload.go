package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Payload is the immutable input of a job, captured at enqueue time.
type Payload interface {
	Validate() error
	Subject() SubjectRefs
}

type OutlinePayload struct {
	TraceID    string `json:"traceId,omitempty"`
	StoryID    string `json:"storyId,omitempty"`
	InputType  string `json:"input_type"`
	StoryText  string `json:"story_text"`
	Title      string `json:"title,omitempty"`
	Ratio      string `json:"ratio,omitempty"`
	Resolution string `json:"resolution,omitempty"`
	Style      string `json:"style,omitempty"`
}

func (p *OutlinePayload) Validate() error {
	if strings.TrimSpace(p.InputType) == "" {
		return invalidPayload("input_type is required")
	}
	if strings.TrimSpace(p.StoryText) == "" {
		return invalidPayload("story_text is required")
	}
	return nil
}

func (p *OutlinePayload) Subject() SubjectRefs { return SubjectRefs{StoryID: p.StoryID} }

type StoryboardTextPayload struct {
	TraceID   string `json:"traceId,omitempty"`
	StoryID   string `json:"storyId,omitempty"`
	OutlineID string `json:"outlineId"`
	Outline   string `json:"outline,omitempty"`
	Original  string `json:"original,omitempty"`
}

func (p *StoryboardTextPayload) Validate() error {
	if strings.TrimSpace(p.OutlineID) == "" {
		return invalidPayload("outlineId is required")
	}
	return nil
}

func (p *StoryboardTextPayload) Subject() SubjectRefs { return SubjectRefs{StoryID: p.StoryID} }

type ScriptBodyPayload struct {
	TraceID           string          `json:"traceId,omitempty"`
	StoryID           string          `json:"storyId"`
	PlanningResult    json.RawMessage `json:"planning_result,omitempty"`
	WorldSetting      json.RawMessage `json:"world_setting,omitempty"`
	CharacterSettings json.RawMessage `json:"character_settings,omitempty"`
	OutlineJSON       json.RawMessage `json:"outline_json,omitempty"`
}

func (p *ScriptBodyPayload) Validate() error {
	if strings.TrimSpace(p.StoryID) == "" {
		return invalidPayload("storyId is required")
	}
	return nil
}

func (p *ScriptBodyPayload) Subject() SubjectRefs { return SubjectRefs{StoryID: p.StoryID} }

// MediaRef points at an input frame for video synthesis.
type MediaRef struct {
	URL      string `json:"url"`
	FileType string `json:"file_type"`
}

type VideoPayload struct {
	TraceID                 string    `json:"traceId,omitempty"`
	StoryID                 string    `json:"storyId,omitempty"`
	StoryboardID            string    `json:"storyboardId,omitempty"`
	Prompt                  string    `json:"prompt"`
	Mode                    string    `json:"mode"`
	Ratio                   string    `json:"ratio,omitempty"`
	Resolution              string    `json:"resolution,omitempty"`
	Duration                int       `json:"duration,omitempty"`
	GenerateAudio           bool      `json:"generateAudio,omitempty"`
	Watermark               bool      `json:"watermark,omitempty"`
	FirstImage              MediaRef  `json:"first_image"`
	LastImage               *MediaRef `json:"last_image,omitempty"`
	ReturnLastFrame         bool      `json:"return_last_frame,omitempty"`
	ForceRegenerate         bool      `json:"forceRegenerate,omitempty"`
	ExistingVideoStorageKey string    `json:"existingVideoStorageKey,omitempty"`
}

func (p *VideoPayload) Validate() error {
	if strings.TrimSpace(p.Prompt) == "" {
		return invalidPayload("prompt is required")
	}
	if strings.TrimSpace(p.FirstImage.URL) == "" {
		return invalidPayload("first_image.url is required")
	}
	if p.Duration < 0 {
		return invalidPayload("duration must not be negative")
	}
	return nil
}

func (p *VideoPayload) Subject() SubjectRefs {
	return SubjectRefs{StoryID: p.StoryID, StoryboardID: p.StoryboardID}
}

// ImageCategory classifies a reference image.
type ImageCategory string

const (
	ImageCategoryBackground ImageCategory = "background"
	ImageCategoryRole       ImageCategory = "role"
	ImageCategoryItem       ImageCategory = "item"
)

type ImagePrompt struct {
	Name             string        `json:"name"`
	Category         ImageCategory `json:"category"`
	Prompt           string        `json:"prompt"`
	Description      string        `json:"description,omitempty"`
	GeneratedImageID string        `json:"generatedImageId,omitempty"`
}

type ReferenceImagesPayload struct {
	TraceID         string        `json:"traceId,omitempty"`
	StoryID         string        `json:"storyId"`
	StoryboardID    string        `json:"storyboardId,omitempty"`
	Prompts         []ImagePrompt `json:"prompts"`
	ForceRegenerate bool          `json:"forceRegenerate,omitempty"`
}

func (p *ReferenceImagesPayload) Validate() error {
	if strings.TrimSpace(p.StoryID) == "" {
		return invalidPayload("storyId is required")
	}
	if len(p.Prompts) == 0 {
		return invalidPayload("prompts must not be empty")
	}
	for i, prompt := range p.Prompts {
		if strings.TrimSpace(prompt.Name) == "" {
			return invalidPayload(fmt.Sprintf("prompts[%d].name is required", i))
		}
		switch prompt.Category {
		case ImageCategoryBackground, ImageCategoryRole, ImageCategoryItem:
		default:
			return invalidPayload(fmt.Sprintf("prompts[%d].category %q is not supported", i, prompt.Category))
		}
	}
	return nil
}

func (p *ReferenceImagesPayload) Subject() SubjectRefs {
	return SubjectRefs{StoryID: p.StoryID, StoryboardID: p.StoryboardID}
}

type ShotlistPayload struct {
	TraceID     string `json:"traceId,omitempty"`
	StoryID     string `json:"storyId"`
	Brief       string `json:"brief"`
	StyleID     string `json:"styleId"`
	DurationSec int    `json:"durationSec"`
	Ratio       string `json:"ratio,omitempty"`
	Resolution  string `json:"resolution,omitempty"`
}

func (p *ShotlistPayload) Validate() error {
	if strings.TrimSpace(p.StoryID) == "" {
		return invalidPayload("storyId is required")
	}
	if strings.TrimSpace(p.Brief) == "" {
		return invalidPayload("brief is required")
	}
	return nil
}

func (p *ShotlistPayload) Subject() SubjectRefs { return SubjectRefs{StoryID: p.StoryID} }

// DecodePayload parses and validates raw as the payload of t.
func DecodePayload(t JobType, raw json.RawMessage) (Payload, error) {
	var p Payload
	switch t {
	case JobTypeOutline:
		p = &OutlinePayload{}
	case JobTypeStoryboardText:
		p = &StoryboardTextPayload{}
	case JobTypeScriptBody:
		p = &ScriptBodyPayload{}
	case JobTypeVideo:
		p = &VideoPayload{}
	case JobTypeReferenceImages:
		p = &ReferenceImagesPayload{}
	case JobTypeShotlist:
		p = &ShotlistPayload{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownJobType, t)
	}
	if len(raw) == 0 {
		return nil, invalidPayload("payload is required")
	}
	if err := json.Unmarshal(raw, p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func invalidPayload(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidPayload, msg)
}
