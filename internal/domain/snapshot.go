package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Stage marks the checkpoint a running job last reached.
type Stage string

const (
	StageQueued         Stage = "queued"
	StageRunning        Stage = "running"
	StageOutlineCall    Stage = "outline_call"
	StageOutline        Stage = "outline"
	StageProviderCall   Stage = "coze"
	StagePersisting     Stage = "persisting"
	StageStoryboardText Stage = "storyboard_text"
	StageReuse          Stage = "reuse"
	StageDownload       Stage = "download"
	StageUpload         Stage = "upload"
	StageWriteDB        Stage = "write_db"
	StageGenerating     Stage = "generating"
	StageDone           Stage = "done"
	StageError          Stage = "error"
)

// Snapshot is the typed progress document of one job. Each job type has its
// own variant; all of them embed SnapshotBase.
type Snapshot interface {
	Base() *SnapshotBase
}

// SnapshotBase carries the fields every variant shares.
type SnapshotBase struct {
	JobID        string     `json:"jobId"`
	Type         JobType    `json:"type"`
	Status       JobStatus  `json:"status"`
	Stage        Stage      `json:"stage"`
	CreatedAt    time.Time  `json:"createdAt"`
	StartedAt    *time.Time `json:"startedAt,omitempty"`
	FinishedAt   *time.Time `json:"finishedAt,omitempty"`
	DurationMs   int64      `json:"durationMs,omitempty"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
}

func (b *SnapshotBase) Base() *SnapshotBase { return b }

type OutlineResult struct {
	StoryID      string          `json:"storyId"`
	OutlineTotal int             `json:"outlineTotal"`
	Raw          json.RawMessage `json:"raw,omitempty"`
}

type OutlineSnapshot struct {
	SnapshotBase
	Result *OutlineResult `json:"result,omitempty"`
}

type StoryboardTextResult struct {
	StoryID               string `json:"storyId"`
	OutlineID             string `json:"outlineId"`
	PersistedTotal        int    `json:"persistedTotal"`
	OutlineTotal          int    `json:"outlineTotal"`
	OutlineStoryboardDone int    `json:"outlineStoryboardDone"`
	ShotTotal             int    `json:"shotTotal"`
}

type StoryboardTextSnapshot struct {
	SnapshotBase
	Result *StoryboardTextResult `json:"result,omitempty"`
}

type ScriptBodyResult struct {
	StoryID    string          `json:"storyId"`
	Episodes   int             `json:"episodes"`
	ScriptBody json.RawMessage `json:"scriptBody,omitempty"`
}

type ScriptBodySnapshot struct {
	SnapshotBase
	Result *ScriptBodyResult `json:"result,omitempty"`
}

// VideoOutput is the reference written once a video job completes.
type VideoOutput struct {
	URL        string `json:"url"`
	StorageKey string `json:"storageKey"`
	Mode       string `json:"mode"`
	Reused     bool   `json:"reused,omitempty"`
}

type VideoSnapshot struct {
	SnapshotBase
	StoryID      string       `json:"storyId,omitempty"`
	StoryboardID string       `json:"storyboardId,omitempty"`
	Video        *VideoOutput `json:"video,omitempty"`
}

// ImageResult is the outcome of one sub-task of a reference image batch.
type ImageResult struct {
	Name         string        `json:"name"`
	Category     ImageCategory `json:"category"`
	Pending      bool          `json:"pending,omitempty"`
	OK           bool          `json:"ok"`
	Skipped      bool          `json:"skipped,omitempty"`
	ID           string        `json:"id,omitempty"`
	URL          string        `json:"url,omitempty"`
	StorageKey   string        `json:"storageKey,omitempty"`
	ThumbnailURL string        `json:"thumbnailUrl,omitempty"`
	ErrorMessage string        `json:"errorMessage,omitempty"`
}

type BatchSummary struct {
	Total   int `json:"total"`
	OK      int `json:"ok"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

type ReferenceImagesSnapshot struct {
	SnapshotBase
	StoryID      string        `json:"storyId,omitempty"`
	StoryboardID string        `json:"storyboardId,omitempty"`
	Results      []ImageResult `json:"results"`
	Summary      BatchSummary  `json:"summary"`
}

// Recount rebuilds Summary from Results. Skipped entries count as ok;
// pending entries count toward neither ok nor failed.
func (s *ReferenceImagesSnapshot) Recount() {
	sum := BatchSummary{Total: len(s.Results)}
	for _, r := range s.Results {
		switch {
		case r.Pending:
		case r.OK:
			sum.OK++
			if r.Skipped {
				sum.Skipped++
			}
		default:
			sum.Failed++
		}
	}
	s.Summary = sum
}

type ShotlistProgress struct {
	OutlineTotal     int    `json:"outlineTotal"`
	OutlineDone      int    `json:"outlineDone"`
	ShotTotal        int    `json:"shotTotal,omitempty"`
	CurrentOutlineID string `json:"currentOutlineId,omitempty"`
	CurrentUnitIndex int    `json:"currentUnitIndex,omitempty"`
}

type ShotlistResult struct {
	StoryID      string `json:"storyId"`
	OutlineTotal int    `json:"outlineTotal"`
	ShotTotal    int    `json:"shotTotal"`
}

type ShotlistSnapshot struct {
	SnapshotBase
	Progress ShotlistProgress `json:"progress"`
	Result   *ShotlistResult  `json:"result,omitempty"`
}

// NewSnapshot returns the empty variant for t.
func NewSnapshot(t JobType) (Snapshot, error) {
	switch t {
	case JobTypeOutline:
		return &OutlineSnapshot{}, nil
	case JobTypeStoryboardText:
		return &StoryboardTextSnapshot{}, nil
	case JobTypeScriptBody:
		return &ScriptBodySnapshot{}, nil
	case JobTypeVideo:
		return &VideoSnapshot{}, nil
	case JobTypeReferenceImages:
		return &ReferenceImagesSnapshot{}, nil
	case JobTypeShotlist:
		return &ShotlistSnapshot{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownJobType, t)
	}
}

// QueuedSnapshot builds the initial snapshot stored at enqueue time.
func QueuedSnapshot(t JobType, jobID string, subject SubjectRefs, payload Payload, now time.Time) (Snapshot, error) {
	snap, err := NewSnapshot(t)
	if err != nil {
		return nil, err
	}
	*snap.Base() = SnapshotBase{
		JobID:     jobID,
		Type:      t,
		Status:    JobStatusQueued,
		Stage:     StageQueued,
		CreatedAt: now.UTC(),
	}
	switch s := snap.(type) {
	case *VideoSnapshot:
		s.StoryID = subject.StoryID
		s.StoryboardID = subject.StoryboardID
	case *ReferenceImagesSnapshot:
		s.StoryID = subject.StoryID
		s.StoryboardID = subject.StoryboardID
		if p, ok := payload.(*ReferenceImagesPayload); ok {
			s.Results = make([]ImageResult, len(p.Prompts))
			for i, prompt := range p.Prompts {
				s.Results[i] = ImageResult{Name: prompt.Name, Category: prompt.Category, Pending: true}
			}
		}
		s.Recount()
	}
	return snap, nil
}

// DecodeSnapshot parses raw into the variant selected by t.
func DecodeSnapshot(t JobType, raw json.RawMessage) (Snapshot, error) {
	snap, err := NewSnapshot(t)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return snap, nil
	}
	if err := json.Unmarshal(raw, snap); err != nil {
		return nil, fmt.Errorf("decode %s snapshot: %w", t, err)
	}
	return snap, nil
}
