package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"storyjobs/internal/adapter/memory"
	"storyjobs/internal/domain"
	"storyjobs/internal/infra"
	"storyjobs/internal/jobs"
	"storyjobs/internal/providers/coze"
	"storyjobs/internal/storage"
)

// fakeProvider answers run calls from reply and records every request body.
type fakeProvider struct {
	mu     sync.Mutex
	bodies []json.RawMessage
	reply  func(call int, body json.RawMessage) (string, error)
}

func replyWith(data string) *fakeProvider {
	return &fakeProvider{reply: func(int, json.RawMessage) (string, error) { return data, nil }}
}

func (f *fakeProvider) Configured() bool { return true }

func (f *fakeProvider) Run(_ context.Context, _ string, body any) (*coze.Result, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.bodies = append(f.bodies, raw)
	n := len(f.bodies)
	f.mu.Unlock()

	data, err := f.reply(n-1, raw)
	if err != nil {
		return nil, err
	}
	return &coze.Result{Status: http.StatusOK, Data: json.RawMessage(data)}, nil
}

func (f *fakeProvider) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.bodies)
}

func (f *fakeProvider) body(i int) map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return asObject(decodeValue(f.bodies[i]))
}

// fakeImages returns a URL on the binary server for every prompt, except
// those listed in failing.
type fakeImages struct {
	baseURL string
	failing map[string]bool
	mu      sync.Mutex
	prompts []string
}

func (f *fakeImages) Configured() bool { return true }

func (f *fakeImages) GenerateImage(_ context.Context, _, prompt, _ string) (string, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()
	if f.failing[prompt] {
		return "", &coze.Error{Endpoint: "image", Status: http.StatusBadGateway, Message: "render failed for " + prompt}
	}
	return f.baseURL + "/img/" + strings.ReplaceAll(prompt, " ", "-") + ".png", nil
}

// samplePNG is a 600x400 image served for every .png path.
var samplePNG = func() []byte {
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 600, 400))); err != nil {
		panic(err)
	}
	return buf.Bytes()
}()

// recordingStore keeps every snapshot written through Update.
type recordingStore struct {
	*memory.JobStore
	mu    sync.Mutex
	snaps []json.RawMessage
}

func (s *recordingStore) Update(ctx context.Context, id string, patch domain.JobUpdate) error {
	err := s.JobStore.Update(ctx, id, patch)
	if err == nil && patch.Snapshot != nil {
		s.mu.Lock()
		s.snaps = append(s.snaps, append(json.RawMessage(nil), patch.Snapshot...))
		s.mu.Unlock()
	}
	return err
}

func (s *recordingStore) history() []json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]json.RawMessage(nil), s.snaps...)
}

type harness struct {
	t       *testing.T
	jobs    *recordingStore
	stories *memory.StoryRepository
	objects *storage.FileStore
	svc     *jobs.Service
	reg     *jobs.WorkerRegistry
	binary  *httptest.Server
}

// newHarness wires the executors against in-memory stores, a file object
// store and a binary server that answers /missing with 404.
func newHarness(t *testing.T, configure func(h *harness, d *Deps)) *harness {
	t.Helper()
	h := &harness{
		t:       t,
		jobs:    &recordingStore{JobStore: memory.NewJobStore()},
		stories: memory.NewStoryRepository(),
	}
	h.binary = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/missing") {
			http.NotFound(w, r)
			return
		}
		if strings.HasSuffix(r.URL.Path, ".png") {
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write(samplePNG)
			return
		}
		w.Header().Set("Content-Type", "video/mp4")
		_, _ = w.Write([]byte("binary:" + r.URL.Path))
	}))
	t.Cleanup(h.binary.Close)

	objects, err := storage.NewFileStore(t.TempDir(), "http://files.test/static")
	require.NoError(t, err)
	h.objects = objects

	deps := Deps{
		Stories:          h.stories,
		Objects:          objects,
		HTTPClient:       h.binary.Client(),
		ImageConcurrency: 2,
		Now:              func() time.Time { return time.UnixMilli(1700000000000) },
	}
	if configure != nil {
		configure(h, &deps)
	}

	h.reg = jobs.NewWorkerRegistry(h.jobs, infra.NopLogger())
	New(deps).Register(h.reg, 1)
	h.svc = jobs.NewService(h.jobs, h.reg, infra.NopLogger())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.reg.Shutdown(ctx)
	})
	return h
}

// run submits one job, drains its loop and returns the stored row.
func (h *harness) run(t domain.JobType, owner string, payload any) *domain.Job {
	h.t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(h.t, err)
	job, err := h.svc.Submit(context.Background(), jobs.SubmitRequest{Type: t, OwnerID: owner, Payload: raw})
	require.NoError(h.t, err)
	h.svc.Kick(context.Background(), t)
	h.reg.Wait()
	stored, err := h.jobs.GetByID(context.Background(), job.ID)
	require.NoError(h.t, err)
	return stored
}

func (h *harness) story(owner, title string) *domain.Story {
	h.t.Helper()
	s := &domain.Story{OwnerID: owner, Title: title, StoryType: "brief"}
	require.NoError(h.t, h.stories.CreateStory(context.Background(), s))
	return s
}

func (h *harness) outlines(storyID string, originals ...string) []domain.Outline {
	h.t.Helper()
	list := make([]domain.Outline, len(originals))
	for i, o := range originals {
		list[i] = domain.Outline{Sequence: i + 1, OutlineText: "unit " + string(rune('A'+i)), OriginalText: o}
	}
	require.NoError(h.t, h.stories.ReplaceOutlines(context.Background(), storyID, list))
	stored, err := h.stories.ListOutlines(context.Background(), storyID)
	require.NoError(h.t, err)
	return stored
}

// storyboard seeds a story owned by owner with one outline and one
// storyboard carrying video.
func (h *harness) storyboard(owner string, video *domain.StoryboardVideo) (*domain.Story, domain.Storyboard) {
	h.t.Helper()
	story := h.story(owner, "clips")
	outlines := h.outlines(story.ID, "scene")
	return story, h.stories.AddStoryboard(domain.Storyboard{OutlineID: outlines[0].ID, Video: video})
}

func snapshotOf[S domain.Snapshot](t *testing.T, job *domain.Job) S {
	t.Helper()
	snap, err := domain.DecodeSnapshot(job.Type, job.Snapshot)
	require.NoError(t, err)
	return snap.(S)
}

func TestNotConfiguredFailsAtFirstCheckpoint(t *testing.T) {
	h := newHarness(t, nil)
	job := h.run(domain.JobTypeOutline, "owner-1", map[string]string{"input_type": "brief", "story_text": "x"})

	require.Equal(t, domain.JobStatusError, job.Status)
	require.Contains(t, job.ErrorMessage, "not configured")
	snap := snapshotOf[*domain.OutlineSnapshot](t, job)
	require.Equal(t, domain.StageError, snap.Stage)
	require.Nil(t, snap.Result)
}

const outlineReply = `{"story_original":"generated text","outline_original_list":[
	{"outline":"opening","original":"first part"},
	{"outline":"turn","original":"second part"},
	{"outline":"ending","original":"third part"}]}`

func TestOutlineCreatesStoryAndOutlines(t *testing.T) {
	provider := replyWith(outlineReply)
	h := newHarness(t, func(_ *harness, d *Deps) { d.Outline = provider })

	job := h.run(domain.JobTypeOutline, "owner-1", domain.OutlinePayload{
		InputType: "brief",
		StoryText: "a lighthouse keeper",
		Title:     "  Beacon ",
	})

	require.Equal(t, domain.JobStatusDone, job.Status, job.ErrorMessage)
	snap := snapshotOf[*domain.OutlineSnapshot](t, job)
	require.Equal(t, domain.StageDone, snap.Stage)
	require.NotNil(t, snap.Result)
	require.Equal(t, 3, snap.Result.OutlineTotal)

	story, err := h.stories.GetStory(context.Background(), snap.Result.StoryID)
	require.NoError(t, err)
	require.Equal(t, "owner-1", story.OwnerID)
	require.Equal(t, "Beacon", story.Title)
	require.Equal(t, "generated text", story.GeneratedText)
	require.Equal(t, "1080p", story.Resolution)
	require.Equal(t, "16:9", story.AspectRatio)
	require.Equal(t, "cinema", story.ShotStyle)
	require.Equal(t, domain.StoryStatusReady, story.Status)
	require.Equal(t, domain.StoryStageStoryboardText, story.ProgressStage)

	outlines, err := h.stories.ListOutlines(context.Background(), story.ID)
	require.NoError(t, err)
	require.Len(t, outlines, snap.Result.OutlineTotal)
	require.Equal(t, "turn", outlines[1].OutlineText)
	require.Equal(t, 2, outlines[1].Sequence)

	body := provider.body(0)
	require.Equal(t, "brief", body["input_type"])
	require.Equal(t, "a lighthouse keeper", body["story_text"])
}

func TestOutlineRejectsForeignStory(t *testing.T) {
	provider := replyWith(outlineReply)
	h := newHarness(t, func(_ *harness, d *Deps) { d.Outline = provider })
	story := h.story("owner-1", "mine")

	job := h.run(domain.JobTypeOutline, "owner-2", domain.OutlinePayload{
		StoryID:   story.ID,
		InputType: "brief",
		StoryText: "x",
	})

	require.Equal(t, domain.JobStatusError, job.Status)
	require.Contains(t, job.ErrorMessage, domain.ErrForbidden.Error())
	require.Zero(t, provider.calls())
}

func TestOutlineProviderFailureKeepsStoryUntouched(t *testing.T) {
	provider := &fakeProvider{reply: func(int, json.RawMessage) (string, error) {
		return "", &coze.Error{Endpoint: "outline", Status: http.StatusBadGateway, Message: "upstream down"}
	}}
	h := newHarness(t, func(_ *harness, d *Deps) { d.Outline = provider })
	story := h.story("owner-1", "kept")

	job := h.run(domain.JobTypeOutline, "owner-1", domain.OutlinePayload{
		StoryID:   story.ID,
		InputType: "brief",
		StoryText: "x",
	})

	require.Equal(t, domain.JobStatusError, job.Status)
	require.Contains(t, job.ErrorMessage, "upstream down")
	snap := snapshotOf[*domain.OutlineSnapshot](t, job)
	require.Equal(t, domain.StageError, snap.Stage)
	require.NotNil(t, snap.FinishedAt)

	got, err := h.stories.GetStory(context.Background(), story.ID)
	require.NoError(t, err)
	require.Equal(t, "draft", got.Status)
}

func TestStoryboardTextMarksStoryReadyAfterLastOutline(t *testing.T) {
	provider := replyWith(`{"storyboard_list":[
		{"storyboard_text":"wide shot","shot_cut":"true"},
		{"storyboard_text":"close up","shot_cut":0}]}`)
	h := newHarness(t, func(_ *harness, d *Deps) { d.StoryboardText = provider })
	story := h.story("owner-1", "boards")
	outlines := h.outlines(story.ID, "first", "second")

	first := h.run(domain.JobTypeStoryboardText, "owner-1", domain.StoryboardTextPayload{OutlineID: outlines[0].ID})
	require.Equal(t, domain.JobStatusDone, first.Status, first.ErrorMessage)
	got, err := h.stories.GetStory(context.Background(), story.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StoryStatusProcessing, got.Status)
	require.Equal(t, domain.StoryStageStoryboardText, got.ProgressStage)

	second := h.run(domain.JobTypeStoryboardText, "owner-1", domain.StoryboardTextPayload{OutlineID: outlines[1].ID})
	require.Equal(t, domain.JobStatusDone, second.Status, second.ErrorMessage)
	snap := snapshotOf[*domain.StoryboardTextSnapshot](t, second)
	require.Equal(t, 2, snap.Result.PersistedTotal)
	require.Equal(t, 2, snap.Result.OutlineStoryboardDone)
	require.Equal(t, 4, snap.Result.ShotTotal)

	got, err = h.stories.GetStory(context.Background(), story.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StoryStatusReady, got.Status)
	require.Equal(t, domain.StoryStageVideoScript, got.ProgressStage)

	body := provider.body(1)
	require.Equal(t, "unit B", body["outline"])
	require.Equal(t, "second", body["original"])
}

func TestStoryboardTextHidesForeignOutline(t *testing.T) {
	provider := replyWith(`{"storyboard_list":[]}`)
	h := newHarness(t, func(_ *harness, d *Deps) { d.StoryboardText = provider })
	story := h.story("owner-1", "boards")
	outlines := h.outlines(story.ID, "first")

	job := h.run(domain.JobTypeStoryboardText, "owner-2", domain.StoryboardTextPayload{OutlineID: outlines[0].ID})

	require.Equal(t, domain.JobStatusError, job.Status)
	require.Contains(t, job.ErrorMessage, domain.ErrNotFound.Error())
	require.Zero(t, provider.calls())
}

func TestScriptBodyFiltersEpisodesToOutline(t *testing.T) {
	provider := replyWith(`{"script_body":{"episodes":[
		{"episode":1,"text":"one"},{"episode":2,"text":"two"},{"episode":9,"text":"extra"}]}}`)
	h := newHarness(t, func(_ *harness, d *Deps) { d.ScriptBody = provider })
	story := h.story("owner-1", "Drama")
	h.outlines(story.ID,
		"剧名：Night Shift\n阶段：起（第1-2集）\n阶段目标：meet\n第1集\nthey meet",
		"阶段：起（第1-2集）\n第2集\nthey argue",
	)

	job := h.run(domain.JobTypeScriptBody, "owner-1", map[string]any{
		"storyId":         story.ID,
		"planning_result": map[string]any{"parameter_module": map[string]any{"total_episodes": 80}},
	})

	require.Equal(t, domain.JobStatusDone, job.Status, job.ErrorMessage)
	snap := snapshotOf[*domain.ScriptBodySnapshot](t, job)
	require.Equal(t, 2, snap.Result.Episodes)

	sent := provider.body(0)
	pm := asObject(asObject(sent["planning_result"])["parameter_module"])
	n, ok := toInt(pm["total_episodes"])
	require.True(t, ok)
	require.Equal(t, 2, n)

	got, err := h.stories.GetStory(context.Background(), story.ID)
	require.NoError(t, err)
	drama := asObject(asObject(decodeValue(got.Metadata))["shortDrama"])
	require.NotNil(t, drama)
	meta := asObject(asObject(drama["outlineJson"])["outline_meta"])
	require.Equal(t, "Night Shift", meta["script_name"])
	total, _ := toInt(meta["total_episodes"])
	require.Equal(t, 2, total)
	at, _ := toInt(drama["scriptBodyGeneratedAt"])
	require.Equal(t, 1700000000000, at)
	episodes, _ := asObject(drama["scriptBody"])["episodes"].([]any)
	require.Len(t, episodes, 2)
}

func TestVideoReusesStoredOutput(t *testing.T) {
	provider := replyWith(`{}`)
	h := newHarness(t, func(_ *harness, d *Deps) { d.Video = provider })
	_, board := h.storyboard("owner-1", &domain.StoryboardVideo{StorageKey: "generated/videos/s/b/old.mp4", Prompt: "pan left", Mode: "fast"})

	t.Run("matching storyboard", func(t *testing.T) {
		job := h.run(domain.JobTypeVideo, "owner-1", domain.VideoPayload{
			StoryboardID: board.ID,
			Prompt:       " pan left ",
			Mode:         "fast",
			FirstImage:   domain.MediaRef{URL: "http://img.test/a.png"},
		})
		require.Equal(t, domain.JobStatusDone, job.Status, job.ErrorMessage)
		snap := snapshotOf[*domain.VideoSnapshot](t, job)
		require.True(t, snap.Video.Reused)
		require.Equal(t, "generated/videos/s/b/old.mp4", snap.Video.StorageKey)
		require.Equal(t, "http://files.test/static/generated/videos/s/b/old.mp4", snap.Video.URL)
	})

	t.Run("explicit key stored on the storyboard", func(t *testing.T) {
		job := h.run(domain.JobTypeVideo, "owner-1", domain.VideoPayload{
			StoryboardID:            board.ID,
			Prompt:                  "anything",
			Mode:                    "slow",
			FirstImage:              domain.MediaRef{URL: "http://img.test/a.png"},
			ExistingVideoStorageKey: "generated/videos/s/b/old.mp4",
		})
		require.Equal(t, domain.JobStatusDone, job.Status, job.ErrorMessage)
		snap := snapshotOf[*domain.VideoSnapshot](t, job)
		require.True(t, snap.Video.Reused)
		require.Equal(t, "generated/videos/s/b/old.mp4", snap.Video.StorageKey)
	})

	require.Zero(t, provider.calls())
}

func TestVideoRejectsForeignStoryboardAndKeys(t *testing.T) {
	var h *harness
	provider := &fakeProvider{reply: func(int, json.RawMessage) (string, error) {
		return `{"video_url":"` + h.binary.URL + `/clip.mp4"}`, nil
	}}
	h = newHarness(t, func(_ *harness, d *Deps) { d.Video = provider })
	victim, board := h.storyboard("owner-1", &domain.StoryboardVideo{StorageKey: "owner1.mp4", Prompt: "sunrise", Mode: "fast"})

	t.Run("foreign storyboard", func(t *testing.T) {
		job := h.run(domain.JobTypeVideo, "intruder", domain.VideoPayload{
			StoryboardID:    board.ID,
			Prompt:          "hijack",
			Mode:            "fast",
			ForceRegenerate: true,
			FirstImage:      domain.MediaRef{URL: "http://img.test/a.png"},
		})
		require.Equal(t, domain.JobStatusError, job.Status)
		require.Contains(t, job.ErrorMessage, domain.ErrNotFound.Error())
	})

	t.Run("foreign story", func(t *testing.T) {
		job := h.run(domain.JobTypeVideo, "intruder", domain.VideoPayload{
			StoryID:    victim.ID,
			Prompt:     "hijack",
			Mode:       "fast",
			FirstImage: domain.MediaRef{URL: "http://img.test/a.png"},
		})
		require.Equal(t, domain.JobStatusError, job.Status)
		require.Contains(t, job.ErrorMessage, domain.ErrNotFound.Error())
	})

	require.Zero(t, provider.calls())
	stored, err := h.stories.GetStoryboard(context.Background(), board.ID)
	require.NoError(t, err)
	require.Equal(t, "owner1.mp4", stored.Video.StorageKey)
	require.Equal(t, "sunrise", stored.Video.Prompt)

	t.Run("key not stored on the storyboard", func(t *testing.T) {
		_, own := h.storyboard("intruder", nil)
		job := h.run(domain.JobTypeVideo, "intruder", domain.VideoPayload{
			StoryboardID:            own.ID,
			Prompt:                  "mine",
			Mode:                    "fast",
			FirstImage:              domain.MediaRef{URL: "http://img.test/a.png"},
			ExistingVideoStorageKey: "owner1.mp4",
		})
		require.Equal(t, domain.JobStatusDone, job.Status, job.ErrorMessage)
		snap := snapshotOf[*domain.VideoSnapshot](t, job)
		require.False(t, snap.Video.Reused)
		require.NotEqual(t, "owner1.mp4", snap.Video.StorageKey)
		require.Equal(t, 1, provider.calls())
	})
}

func TestVideoGeneratesUploadsAndWritesStoryboard(t *testing.T) {
	var h *harness
	provider := &fakeProvider{reply: func(int, json.RawMessage) (string, error) {
		return `{"data":{"video_url":"` + h.binary.URL + `/clip.mp4"}}`, nil
	}}
	h = newHarness(t, func(_ *harness, d *Deps) { d.Video = provider })
	story, board := h.storyboard("owner-1", &domain.StoryboardVideo{StorageKey: "old.mp4", Prompt: "old prompt", Mode: "fast"})

	job := h.run(domain.JobTypeVideo, "owner-1", domain.VideoPayload{
		StoryID:      story.ID,
		StoryboardID: board.ID,
		Prompt:       "new prompt",
		Mode:         "fast",
		Duration:     5,
		FirstImage:   domain.MediaRef{URL: "http://img.test/a.png", FileType: "image"},
	})

	require.Equal(t, domain.JobStatusDone, job.Status, job.ErrorMessage)
	require.Equal(t, 1, provider.calls())
	snap := snapshotOf[*domain.VideoSnapshot](t, job)
	require.False(t, snap.Video.Reused)
	require.Equal(t, "generated/videos/"+story.ID+"/"+board.ID+"/video_fast_1700000000000.mp4", snap.Video.StorageKey)

	stored, err := h.stories.GetStoryboard(context.Background(), board.ID)
	require.NoError(t, err)
	require.Equal(t, snap.Video.StorageKey, stored.Video.StorageKey)
	require.Equal(t, "new prompt", stored.Video.Prompt)
	require.Equal(t, 5, stored.Video.DurationSeconds)

	var stages []domain.Stage
	for _, raw := range h.jobs.history() {
		s, err := domain.DecodeSnapshot(domain.JobTypeVideo, raw)
		require.NoError(t, err)
		if n := len(stages); n == 0 || stages[n-1] != s.Base().Stage {
			stages = append(stages, s.Base().Stage)
		}
	}
	require.Equal(t, []domain.Stage{
		domain.StageRunning,
		domain.StageProviderCall,
		domain.StageDownload,
		domain.StageUpload,
		domain.StageWriteDB,
		domain.StageDone,
	}, stages)
}

func TestVideoDownloadFailureCarriesStatus(t *testing.T) {
	var h *harness
	provider := &fakeProvider{reply: func(int, json.RawMessage) (string, error) {
		return `{"video_url":"` + h.binary.URL + `/missing.mp4"}`, nil
	}}
	h = newHarness(t, func(_ *harness, d *Deps) { d.Video = provider })

	job := h.run(domain.JobTypeVideo, "owner-1", domain.VideoPayload{
		Prompt:          "p",
		Mode:            "fast",
		ForceRegenerate: true,
		FirstImage:      domain.MediaRef{URL: "http://img.test/a.png"},
	})

	require.Equal(t, domain.JobStatusError, job.Status)
	require.Contains(t, job.ErrorMessage, "404")
	snap := snapshotOf[*domain.VideoSnapshot](t, job)
	require.Nil(t, snap.Video)
}

func TestReferenceImagesRecordsPartialFailure(t *testing.T) {
	images := &fakeImages{failing: map[string]bool{"prompt e": true}}
	h := newHarness(t, func(h *harness, d *Deps) {
		images.baseURL = h.binary.URL
		d.Images = images
	})
	story := h.story("owner-1", "cast")

	var prompts []domain.ImagePrompt
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		prompts = append(prompts, domain.ImagePrompt{Name: name, Category: domain.ImageCategoryItem, Prompt: "prompt " + name})
	}
	job := h.run(domain.JobTypeReferenceImages, "owner-1", domain.ReferenceImagesPayload{StoryID: story.ID, Prompts: prompts})

	require.Equal(t, domain.JobStatusError, job.Status)
	require.Contains(t, job.ErrorMessage, "render failed for prompt e")
	snap := snapshotOf[*domain.ReferenceImagesSnapshot](t, job)
	require.Equal(t, domain.BatchSummary{Total: 5, OK: 4, Failed: 1}, snap.Summary)
	for i, r := range snap.Results[:4] {
		require.True(t, r.OK, "result %d", i)
		require.NotEmpty(t, r.URL)
		require.True(t, strings.HasPrefix(r.StorageKey, "generated/images/"+story.ID+"/story/"), r.StorageKey)
		require.True(t, strings.HasSuffix(r.StorageKey, ".png"), r.StorageKey)
		require.NotEmpty(t, r.ThumbnailURL)
	}
	require.False(t, snap.Results[4].OK)
	require.Len(t, h.stories.Images(), 4)
}

func TestReferenceImagesSkipsNarratorAndExisting(t *testing.T) {
	images := &fakeImages{}
	h := newHarness(t, func(h *harness, d *Deps) {
		images.baseURL = h.binary.URL
		d.Images = images
	})
	story := h.story("owner-1", "cast")
	existing := &domain.GeneratedImage{
		StoryID:    story.ID,
		Name:       "harbor",
		Category:   domain.ImageCategoryBackground,
		URL:        "http://files.test/static/old.png",
		StorageKey: "old.png",
	}
	require.NoError(t, h.stories.SaveGeneratedImage(context.Background(), existing))

	job := h.run(domain.JobTypeReferenceImages, "owner-1", domain.ReferenceImagesPayload{
		StoryID: story.ID,
		Prompts: []domain.ImagePrompt{
			{Name: "旁白", Category: domain.ImageCategoryRole, Prompt: "voice"},
			{Name: "harbor", Category: domain.ImageCategoryBackground, Prompt: "a harbor"},
		},
	})

	require.Equal(t, domain.JobStatusDone, job.Status, job.ErrorMessage)
	snap := snapshotOf[*domain.ReferenceImagesSnapshot](t, job)
	require.Equal(t, domain.BatchSummary{Total: 2, OK: 2, Skipped: 2}, snap.Summary)
	require.Equal(t, existing.ID, snap.Results[1].ID)
	require.Empty(t, images.prompts)
}

func TestReferenceImagesForceRegenerateUpdatesRow(t *testing.T) {
	images := &fakeImages{}
	h := newHarness(t, func(h *harness, d *Deps) {
		images.baseURL = h.binary.URL
		d.Images = images
	})
	story := h.story("owner-1", "cast")
	existing := &domain.GeneratedImage{StoryID: story.ID, Name: "hero", Category: domain.ImageCategoryRole, URL: "http://old", StorageKey: "old.png"}
	require.NoError(t, h.stories.SaveGeneratedImage(context.Background(), existing))

	job := h.run(domain.JobTypeReferenceImages, "owner-1", domain.ReferenceImagesPayload{
		StoryID:         story.ID,
		ForceRegenerate: true,
		Prompts:         []domain.ImagePrompt{{Name: "hero", Category: domain.ImageCategoryRole, Prompt: "a hero", GeneratedImageID: existing.ID}},
	})

	require.Equal(t, domain.JobStatusDone, job.Status, job.ErrorMessage)
	stored := h.stories.Images()
	require.Len(t, stored, 1)
	require.Equal(t, existing.ID, stored[0].ID)
	require.NotEqual(t, "old.png", stored[0].StorageKey)
	require.True(t, strings.HasSuffix(stored[0].ThumbnailStorageKey, "_thumbnail.jpg"), stored[0].ThumbnailStorageKey)
	require.Equal(t, "http://files.test/static/"+stored[0].ThumbnailStorageKey, stored[0].ThumbnailURL)

	thumb, err := os.ReadFile(filepath.Join(h.objects.BasePath(), filepath.FromSlash(stored[0].ThumbnailStorageKey)))
	require.NoError(t, err)
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(thumb))
	require.NoError(t, err)
	require.Equal(t, 300, cfg.Width)
	require.Equal(t, 200, cfg.Height)
	require.Equal(t, []string{"a hero"}, images.prompts)
}

func TestShotlistAdvancesProgressPerOutline(t *testing.T) {
	outline := replyWith(outlineReply)
	boards := &fakeProvider{reply: func(call int, _ json.RawMessage) (string, error) {
		if call == 0 {
			return `{"storyboard_list":[{"storyboard_text":"s1"}]}`, nil
		}
		return `{"storyboard_list":[{"storyboard_text":"s1"},{"storyboard_text":"s2"}]}`, nil
	}}
	h := newHarness(t, func(_ *harness, d *Deps) {
		d.Outline = outline
		d.StoryboardText = boards
	})
	story := h.story("owner-1", "spot")

	job := h.run(domain.JobTypeShotlist, "owner-1", domain.ShotlistPayload{
		StoryID:     story.ID,
		Brief:       "launch a bike",
		StyleID:     "bold",
		DurationSec: 30,
	})

	require.Equal(t, domain.JobStatusDone, job.Status, job.ErrorMessage)
	snap := snapshotOf[*domain.ShotlistSnapshot](t, job)
	require.Equal(t, 3, snap.Progress.OutlineTotal)
	require.Equal(t, 3, snap.Progress.OutlineDone)
	require.Equal(t, &domain.ShotlistResult{StoryID: story.ID, OutlineTotal: 3, ShotTotal: 5}, snap.Result)
	require.Equal(t, 3, boards.calls())

	sent := outline.body(0)
	require.Equal(t, "tvc", sent["input_type"])
	require.Contains(t, sent["story_text"], "launch a bike")
	require.Contains(t, sent["story_text"], "30 秒")

	last := -1
	var stages []domain.Stage
	for _, raw := range h.jobs.history() {
		s, err := domain.DecodeSnapshot(domain.JobTypeShotlist, raw)
		require.NoError(t, err)
		done := s.(*domain.ShotlistSnapshot).Progress.OutlineDone
		require.GreaterOrEqual(t, done, last)
		last = done
		if n := len(stages); n == 0 || stages[n-1] != s.Base().Stage {
			stages = append(stages, s.Base().Stage)
		}
	}
	require.Equal(t, 3, last)
	require.Equal(t, []domain.Stage{
		domain.StageRunning,
		domain.StageOutline,
		domain.StageStoryboardText,
		domain.StageDone,
	}, stages)
}
