package repo

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"

	"storyjobs/internal/domain"
	"storyjobs/internal/sqlinline"
)

func TestReplaceOutlinesPassesColumnArrays(t *testing.T) {
	sql := &scriptedSQL{}
	repo := NewStoryRepository(sql)

	err := repo.ReplaceOutlines(context.Background(), "story-1", []domain.Outline{
		{Sequence: 1, OutlineText: "first", OriginalText: "a"},
		{Sequence: 2, OutlineText: "second", OriginalText: "b"},
	})
	if err != nil {
		t.Fatalf("ReplaceOutlines returned error: %v", err)
	}
	call := sql.execCalls[0]
	if call.query != sqlinline.QReplaceOutlines {
		t.Fatalf("unexpected query")
	}
	seqs, ok := call.args[1].([]int32)
	if !ok || len(seqs) != 2 || seqs[1] != 2 {
		t.Fatalf("sequence arg = %#v", call.args[1])
	}
	texts := call.args[2].([]string)
	if texts[0] != "first" || texts[1] != "second" {
		t.Fatalf("text arg = %#v", texts)
	}
}

func TestReplaceStoryboardsPassesShotCuts(t *testing.T) {
	sql := &scriptedSQL{}
	err := NewStoryRepository(sql).ReplaceStoryboards(context.Background(), "outline-1", []domain.Storyboard{
		{Sequence: 1, SceneTitle: "open", ShotCut: true, StoryboardText: "wide"},
	})
	if err != nil {
		t.Fatalf("ReplaceStoryboards returned error: %v", err)
	}
	cuts := sql.execCalls[0].args[4].([]bool)
	if len(cuts) != 1 || !cuts[0] {
		t.Fatalf("shot cut arg = %#v", cuts)
	}
}

func TestStoryboardProgress(t *testing.T) {
	sql := &scriptedSQL{rows: []pgx.Row{valuesRow(3, 2, 11)}}
	p, err := NewStoryRepository(sql).StoryboardProgress(context.Background(), "story-1")
	if err != nil {
		t.Fatalf("StoryboardProgress returned error: %v", err)
	}
	if p.OutlineTotal != 3 || p.OutlineStoryboardDone != 2 || p.ShotTotal != 11 {
		t.Fatalf("unexpected progress: %+v", p)
	}
}

func TestGetStoryboardDecodesVideo(t *testing.T) {
	video := []byte(`{"url":"https://cdn/v.mp4","storageKey":"videos/v.mp4","prompt":"pan left","mode":"i2v"}`)
	sql := &scriptedSQL{rows: []pgx.Row{valuesRow("sb-1", "outline-1", 1, "title", "orig", false, "text", video)}}

	board, err := NewStoryRepository(sql).GetStoryboard(context.Background(), "sb-1")
	if err != nil {
		t.Fatalf("GetStoryboard returned error: %v", err)
	}
	if board.Video == nil || board.Video.StorageKey != "videos/v.mp4" || board.Video.Prompt != "pan left" {
		t.Fatalf("unexpected video: %+v", board.Video)
	}
}

func TestGetStoryboardWithoutVideo(t *testing.T) {
	sql := &scriptedSQL{rows: []pgx.Row{valuesRow("sb-1", "outline-1", 1, "", "", false, "", nil)}}
	board, err := NewStoryRepository(sql).GetStoryboard(context.Background(), "sb-1")
	if err != nil {
		t.Fatalf("GetStoryboard returned error: %v", err)
	}
	if board.Video != nil {
		t.Fatalf("expected no video, got %+v", board.Video)
	}
}

func TestGetStoryNotFound(t *testing.T) {
	_, err := NewStoryRepository(&scriptedSQL{}).GetStory(context.Background(), "missing")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateStoryStatusEncodesProgress(t *testing.T) {
	sql := &scriptedSQL{}
	err := NewStoryRepository(sql).UpdateStoryStatus(context.Background(), "story-1",
		domain.StoryStatusReady, domain.StoryStageStoryboardText, map[string]any{"outlineTotal": 4})
	if err != nil {
		t.Fatalf("UpdateStoryStatus returned error: %v", err)
	}
	raw := sql.execCalls[0].args[3].([]byte)
	var got map[string]int
	if err := json.Unmarshal(raw, &got); err != nil || got["outlineTotal"] != 4 {
		t.Fatalf("progress arg = %s (%v)", raw, err)
	}
}

func TestSaveGeneratedImageInsertsWithoutID(t *testing.T) {
	created := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	sql := &scriptedSQL{rows: []pgx.Row{valuesRow("img-1", created)}}
	img := &domain.GeneratedImage{StoryID: "story-1", Name: "hero", Category: domain.ImageCategoryRole}

	if err := NewStoryRepository(sql).SaveGeneratedImage(context.Background(), img); err != nil {
		t.Fatalf("SaveGeneratedImage returned error: %v", err)
	}
	if img.ID != "img-1" || !img.CreatedAt.Equal(created) {
		t.Fatalf("unexpected image: %+v", img)
	}
	if sql.rowCalls[0].query != sqlinline.QInsertGeneratedImage {
		t.Fatalf("expected insert query")
	}
}

func TestSaveGeneratedImageUpdatesExisting(t *testing.T) {
	sql := &scriptedSQL{}
	img := &domain.GeneratedImage{
		ID:                  "img-1",
		StoryID:             "story-1",
		Name:                "hero",
		Category:            domain.ImageCategoryRole,
		ThumbnailURL:        "http://files/thumb.jpg",
		ThumbnailStorageKey: "thumb.jpg",
	}
	if err := NewStoryRepository(sql).SaveGeneratedImage(context.Background(), img); err != nil {
		t.Fatalf("SaveGeneratedImage returned error: %v", err)
	}
	if len(sql.rowCalls) != 0 || sql.execCalls[0].query != sqlinline.QUpdateGeneratedImage {
		t.Fatalf("expected update exec, got %+v", sql.execCalls)
	}
	args := sql.execCalls[0].args
	if len(args) != 9 || args[7] != "http://files/thumb.jpg" || args[8] != "thumb.jpg" {
		t.Fatalf("unexpected thumbnail args: %+v", args)
	}
}

func TestFindGeneratedImagePrefersID(t *testing.T) {
	sql := &scriptedSQL{}
	_, err := NewStoryRepository(sql).FindGeneratedImage(context.Background(), domain.ImageLookup{
		ID:      "img-1",
		StoryID: "story-1",
		Name:    "hero",
	})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if sql.rowCalls[0].query != sqlinline.QSelectGeneratedImageByID {
		t.Fatalf("expected lookup by id")
	}
}
