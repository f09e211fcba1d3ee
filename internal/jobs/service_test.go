package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storyjobs/internal/domain"
	"storyjobs/internal/infra"
)

type recordingNotifier struct {
	types []domain.JobType
	err   error
}

func (n *recordingNotifier) Notify(_ context.Context, t domain.JobType) error {
	n.types = append(n.types, t)
	return n.err
}

func TestSubmitStoresQueuedSnapshot(t *testing.T) {
	store, _, svc := newTestEngine(t)

	job := submitOutline(t, svc, "owner-1")
	stored, snap := loadSnapshot[*domain.OutlineSnapshot](t, store, job.ID)

	assert.Equal(t, domain.JobStatusQueued, stored.Status)
	assert.Equal(t, "owner-1", stored.OwnerID)
	assert.Equal(t, job.ID, snap.JobID)
	assert.Equal(t, domain.StageQueued, snap.Stage)
	assert.Equal(t, domain.JobStatusQueued, snap.Status)
	assert.False(t, snap.CreatedAt.IsZero())
}

func TestSubmitTakesSubjectFromPayload(t *testing.T) {
	store, _, svc := newTestEngine(t)

	job, err := svc.Submit(context.Background(), SubmitRequest{
		Type:    domain.JobTypeVideo,
		OwnerID: "owner-1",
		Payload: json.RawMessage(`{"storyId":"s-1","storyboardId":"sb-1","prompt":"dolly in","first_image":{"url":"https://img/1.png"}}`),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.SubjectRefs{StoryID: "s-1", StoryboardID: "sb-1"}, job.Subject)

	_, snap := loadSnapshot[*domain.VideoSnapshot](t, store, job.ID)
	assert.Equal(t, "sb-1", snap.StoryboardID)
}

func TestSubmitRejectsBadInput(t *testing.T) {
	_, _, svc := newTestEngine(t)

	_, err := svc.Submit(context.Background(), SubmitRequest{Type: "nope", Payload: json.RawMessage(`{}`)})
	assert.ErrorIs(t, err, domain.ErrUnknownJobType)

	_, err = svc.Submit(context.Background(), SubmitRequest{
		Type:    domain.JobTypeOutline,
		Payload: json.RawMessage(`{"input_type":"brief"}`),
	})
	assert.ErrorIs(t, err, domain.ErrInvalidPayload)
}

func TestGetSnapshotChecksOwner(t *testing.T) {
	_, _, svc := newTestEngine(t)
	job := submitOutline(t, svc, "owner-1")

	got, err := svc.GetSnapshot(context.Background(), job.ID, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)

	_, err = svc.GetSnapshot(context.Background(), job.ID, "owner-2")
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = svc.GetSnapshot(context.Background(), "missing", "owner-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestListActiveFiltersOwner(t *testing.T) {
	_, _, svc := newTestEngine(t)
	payload := json.RawMessage(`{"storyId":"s-1","input_type":"brief","story_text":"x"}`)
	for _, owner := range []string{"owner-1", "owner-2", "owner-1"} {
		_, err := svc.Submit(context.Background(), SubmitRequest{Type: domain.JobTypeOutline, OwnerID: owner, Payload: payload})
		require.NoError(t, err)
	}

	views, err := svc.ListActive(context.Background(), domain.SubjectRefs{StoryID: "s-1"}, "owner-1")
	require.NoError(t, err)
	assert.Len(t, views, 2)
	for _, v := range views {
		assert.Equal(t, domain.JobStatusQueued, v.Status)
	}
}

func TestKickNotifiesOtherProcesses(t *testing.T) {
	store, registry, _ := newTestEngine(t)
	notifier := &recordingNotifier{err: errors.New("redis down")}
	svc := NewService(store, registry, infra.NopLogger(), WithNotifier(notifier))

	svc.Kick(context.Background(), domain.JobTypeVideo)
	assert.Equal(t, []domain.JobType{domain.JobTypeVideo}, notifier.types)
}

func TestSubmitUsesIDGenerator(t *testing.T) {
	store, registry, _ := newTestEngine(t)
	svc := NewService(store, registry, infra.NopLogger(), WithIDGenerator(func() string { return "fixed-id" }))

	job := submitOutline(t, svc, "owner-1")
	assert.Equal(t, "fixed-id", job.ID)

	_, err := svc.Submit(context.Background(), SubmitRequest{
		Type:    domain.JobTypeOutline,
		OwnerID: "owner-1",
		Payload: json.RawMessage(`{"input_type":"brief","story_text":"again"}`),
	})
	assert.ErrorIs(t, err, domain.ErrDuplicateID)
}
