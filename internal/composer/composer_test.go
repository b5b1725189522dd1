package composer

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perimeter-epitech/area/model"
)

type fakeCreator struct {
	mu      sync.Mutex
	calls   []model.AreaMessage
	tokens  []string
	err     error
	release chan struct{}
	entered chan struct{}
}

func (f *fakeCreator) CreateArea(ctx context.Context, token string, msg model.AreaMessage) (model.Area, error) {
	f.mu.Lock()
	f.calls = append(f.calls, msg)
	f.tokens = append(f.tokens, token)
	f.mu.Unlock()

	if f.entered != nil {
		close(f.entered)
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return model.Area{}, ctx.Err()
		}
	}
	if f.err != nil {
		return model.Area{}, f.err
	}
	return model.Area{ID: 99, Title: msg.Title}, nil
}

func (f *fakeCreator) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

var (
	timerService = model.Service{ID: 10, Name: "timer"}
	discord      = model.Service{ID: 20, Name: "discord", OAuth: true}
	everyMinute  = model.Type{ID: 1, Name: "every minute", Option: json.RawMessage(`{"x": 0}`)}
	sendMessage  = model.Type{ID: 2, Name: "send message", Option: json.RawMessage(`"{\"y\": \"\"}"`)}
)

// configured drives a fresh draft to ReactionConfigured with a title.
func configured(t *testing.T, c *Composer, id string) {
	t.Helper()
	ctx := context.Background()

	_, err := c.SelectAction(ctx, id, timerService, everyMinute)
	require.NoError(t, err)
	_, err = c.ConfigureAction(ctx, id, map[string]string{"x": "5"})
	require.NoError(t, err)
	_, err = c.SelectReaction(ctx, id, discord, sendMessage, true)
	require.NoError(t, err)
	_, err = c.ConfigureReaction(ctx, id, map[string]string{"y": "a"})
	require.NoError(t, err)
	_, err = c.Describe(ctx, id, "t", "d", 0)
	require.NoError(t, err)
}

func TestComposer_SubmitPostsExactBody(t *testing.T) {
	store := NewMemoryDraftStore()
	backend := &fakeCreator{}
	c := New(store, NewMemorySubmitGuard(time.Minute), backend, nil, nil)
	configured(t, c, "d1")

	d, area, err := c.Submit(context.Background(), "d1", "tok")
	require.NoError(t, err)

	require.Len(t, backend.calls, 1)
	assert.Equal(t, "tok", backend.tokens[0])
	body, err := json.Marshal(backend.calls[0])
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"action_id": 1,
		"action_option": {"x": 5},
		"reaction_id": 2,
		"reaction_option": {"y": "a"},
		"title": "t",
		"description": "d"
	}`, string(body))

	assert.Equal(t, uint64(99), area.ID)
	assert.Equal(t, StageCreated, d.Stage)
	assert.Equal(t, DefaultFlags(), d.Flags)
	assert.Equal(t, 0, store.Len())
}

func TestComposer_FlagsFollowSelections(t *testing.T) {
	c := New(NewMemoryDraftStore(), NewMemorySubmitGuard(time.Minute), &fakeCreator{}, nil, nil)
	ctx := context.Background()

	d, err := c.SelectAction(ctx, "d1", timerService, everyMinute)
	require.NoError(t, err)
	assert.Equal(t, StageActionChosen, d.Stage)
	assert.False(t, d.ShowNavBar)
	assert.True(t, d.ShowCancelButton)
	assert.True(t, d.ReactionButtonDisabled)

	d, err = c.ConfigureAction(ctx, "d1", nil)
	require.NoError(t, err)
	assert.True(t, d.ActionIsSelected)
	assert.False(t, d.ReactionButtonDisabled)
	assert.Equal(t, map[string]any{"x": float64(0)}, d.ActionOptions)

	_, err = c.SelectReaction(ctx, "d1", discord, sendMessage, true)
	require.NoError(t, err)
	d, err = c.ConfigureReaction(ctx, "d1", map[string]string{"y": "hi"})
	require.NoError(t, err)
	assert.True(t, d.ShowCreateButton)
	assert.True(t, d.ReactionIsSelected)
	assert.Equal(t, StageReactionConfigured, d.Stage)
}

func TestComposer_InvalidOptionRefusesTransition(t *testing.T) {
	c := New(NewMemoryDraftStore(), NewMemorySubmitGuard(time.Minute), &fakeCreator{}, nil, nil)
	ctx := context.Background()
	_, err := c.SelectAction(ctx, "d1", timerService, everyMinute)
	require.NoError(t, err)

	_, err = c.ConfigureAction(ctx, "d1", map[string]string{"x": "five"})
	env, ok := model.AsEnvelope(err)
	require.True(t, ok)
	assert.Equal(t, model.ErrValidationError, env.Code)
	require.Len(t, env.Details, 1)
	assert.Equal(t, "INVALID_TYPE", env.Details[0].Code)

	_, err = c.ConfigureAction(ctx, "d1", map[string]string{"z": "1"})
	env, ok = model.AsEnvelope(err)
	require.True(t, ok)
	assert.Equal(t, "UNKNOWN_FIELD", env.Details[0].Code)

	d, err := c.Snapshot(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, StageActionChosen, d.Stage)
}

func TestComposer_InvalidTransitions(t *testing.T) {
	c := New(NewMemoryDraftStore(), NewMemorySubmitGuard(time.Minute), &fakeCreator{}, nil, nil)
	ctx := context.Background()

	_, err := c.ConfigureAction(ctx, "d1", nil)
	env, ok := model.AsEnvelope(err)
	require.True(t, ok)
	assert.Equal(t, model.ErrInvalidTransition, env.Code)

	_, err = c.SelectReaction(ctx, "d1", discord, sendMessage, true)
	env, ok = model.AsEnvelope(err)
	require.True(t, ok)
	assert.Equal(t, model.ErrInvalidTransition, env.Code)

	_, _, err = c.Submit(ctx, "d1", "tok")
	env, ok = model.AsEnvelope(err)
	require.True(t, ok)
	assert.Equal(t, model.ErrInvalidTransition, env.Code)
}

func TestComposer_ReactionNeedsConnectedService(t *testing.T) {
	c := New(NewMemoryDraftStore(), NewMemorySubmitGuard(time.Minute), &fakeCreator{}, nil, nil)
	ctx := context.Background()
	_, err := c.SelectAction(ctx, "d1", timerService, everyMinute)
	require.NoError(t, err)
	_, err = c.ConfigureAction(ctx, "d1", nil)
	require.NoError(t, err)

	_, err = c.SelectReaction(ctx, "d1", discord, sendMessage, false)
	env, ok := model.AsEnvelope(err)
	require.True(t, ok)
	require.Len(t, env.Details, 1)
	assert.Equal(t, "NOT_CONNECTED", env.Details[0].Code)
}

func TestComposer_ReselectingActionClearsReaction(t *testing.T) {
	c := New(NewMemoryDraftStore(), NewMemorySubmitGuard(time.Minute), &fakeCreator{}, nil, nil)
	configured(t, c, "d1")

	d, err := c.SelectAction(context.Background(), "d1", timerService, everyMinute)
	require.NoError(t, err)
	assert.Equal(t, StageActionChosen, d.Stage)
	assert.Zero(t, d.ReactionID)
	assert.Empty(t, d.ReactionOptions)
	assert.Empty(t, d.ActionOptions)
	assert.False(t, d.ShowCreateButton)
	assert.Equal(t, "t", d.Title)
}

func TestComposer_Reset(t *testing.T) {
	store := NewMemoryDraftStore()
	c := New(store, NewMemorySubmitGuard(time.Minute), &fakeCreator{}, nil, nil)
	configured(t, c, "d1")

	d, err := c.Reset(context.Background(), "d1")
	require.NoError(t, err)
	assert.Equal(t, StageIdle, d.Stage)
	assert.Equal(t, DefaultFlags(), d.Flags)
	assert.Equal(t, 0, store.Len())
}

func TestComposer_SubmitRequiresDescription(t *testing.T) {
	backend := &fakeCreator{}
	c := New(NewMemoryDraftStore(), NewMemorySubmitGuard(time.Minute), backend, nil, nil)
	configured(t, c, "d1")
	_, err := c.Describe(context.Background(), "d1", "  ", "d", 0)
	require.NoError(t, err)

	_, _, err = c.Submit(context.Background(), "d1", "tok")
	env, ok := model.AsEnvelope(err)
	require.True(t, ok)
	assert.Equal(t, model.MsgMissingParameters, env.Message)
	assert.Zero(t, backend.count())
}

func TestComposer_FailedSubmitKeepsDraft(t *testing.T) {
	store := NewMemoryDraftStore()
	backend := &fakeCreator{err: model.NewUpstreamError(409, "duplicate area")}
	c := New(store, NewMemorySubmitGuard(time.Minute), backend, nil, nil)
	configured(t, c, "d1")

	d, _, err := c.Submit(context.Background(), "d1", "tok")
	require.Error(t, err)
	assert.Equal(t, StageFailed, d.Stage)
	assert.Equal(t, "duplicate area", d.LastError)

	restored, err := c.Restore(context.Background(), "d1")
	require.NoError(t, err)
	assert.Equal(t, StageFailed, restored.Stage)
	assert.Equal(t, map[string]any{"x": float64(5)}, restored.ActionOptions)

	backend.err = nil
	d, _, err = c.Submit(context.Background(), "d1", "tok")
	require.NoError(t, err)
	assert.Equal(t, StageCreated, d.Stage)
	assert.Equal(t, 2, backend.count())
}

func TestComposer_ConcurrentSubmitPostsOnce(t *testing.T) {
	backend := &fakeCreator{release: make(chan struct{}), entered: make(chan struct{})}
	c := New(NewMemoryDraftStore(), NewMemorySubmitGuard(time.Minute), backend, nil, nil)
	configured(t, c, "d1")

	done := make(chan error, 1)
	go func() {
		_, _, err := c.Submit(context.Background(), "d1", "tok")
		done <- err
	}()
	<-backend.entered

	_, _, err := c.Submit(context.Background(), "d1", "tok")
	env, ok := model.AsEnvelope(err)
	require.True(t, ok)
	assert.Equal(t, model.ErrConflict, env.Code)

	close(backend.release)
	require.NoError(t, <-done)
	assert.Equal(t, 1, backend.count())
}

// rewrite edits the stored draft in place.
func rewrite(t *testing.T, store DraftStore, id string, edit func(*Draft)) {
	t.Helper()
	data, err := store.Load(context.Background(), id)
	require.NoError(t, err)
	d, err := DecodeDraft(data)
	require.NoError(t, err)
	edit(d)
	data, err = d.Encode()
	require.NoError(t, err)
	require.NoError(t, store.Save(context.Background(), id, data))
}

func TestComposer_SubmitRejectsUndeclaredOptions(t *testing.T) {
	tests := []struct {
		name string
		edit func(*Draft)
	}{
		{"action", func(d *Draft) { d.ActionOptions["z"] = "extra" }},
		{"reaction", func(d *Draft) { d.ReactionOptions["z"] = "extra" }},
		{"wrong kind", func(d *Draft) { d.ActionOptions["x"] = "five" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewMemoryDraftStore()
			backend := &fakeCreator{}
			c := New(store, NewMemorySubmitGuard(time.Minute), backend, nil, nil)
			configured(t, c, "d1")
			rewrite(t, store, "d1", tt.edit)

			restored, err := c.Restore(context.Background(), "d1")
			require.NoError(t, err)
			assert.Equal(t, StageReactionConfigured, restored.Stage)

			_, _, err = c.Submit(context.Background(), "d1", "tok")
			env, ok := model.AsEnvelope(err)
			require.True(t, ok, "got %v", err)
			assert.Equal(t, model.ErrValidationError, env.Code)
			assert.Equal(t, 0, backend.count())
		})
	}
}

func TestComposer_SubmitResumesStaleSubmission(t *testing.T) {
	store := NewMemoryDraftStore()
	backend := &fakeCreator{}
	c := New(store, NewMemorySubmitGuard(time.Minute), backend, nil, nil)
	configured(t, c, "d1")
	rewrite(t, store, "d1", func(d *Draft) {
		d.Stage = StageSubmitting
		d.UpdatedAt = time.Now().UTC()
	})

	_, _, err := c.Submit(context.Background(), "d1", "tok")
	env, ok := model.AsEnvelope(err)
	require.True(t, ok, "got %v", err)
	assert.Equal(t, model.ErrConflict, env.Code, "a recent submission may still be running")
	assert.Equal(t, 0, backend.count())

	rewrite(t, store, "d1", func(d *Draft) {
		d.UpdatedAt = time.Now().Add(-2 * time.Minute).UTC()
	})
	d, _, err := c.Submit(context.Background(), "d1", "tok")
	require.NoError(t, err)
	assert.Equal(t, StageCreated, d.Stage)
	assert.Equal(t, 1, backend.count())
}

func TestComposer_RestoreNormalisesOptions(t *testing.T) {
	store := NewMemoryDraftStore()
	require.NoError(t, store.Save(context.Background(), "d1", []byte(`{
		"actionId": 1,
		"actionOptions": "[1,2]",
		"reactionOptions": [1],
		"actionIsSelected": true,
		"showNavBar": false
	}`)))
	c := New(store, NewMemorySubmitGuard(time.Minute), &fakeCreator{}, nil, nil)

	d, err := c.Restore(context.Background(), "d1")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{}, d.ActionOptions)
	assert.Equal(t, map[string]any{}, d.ReactionOptions)
	assert.Equal(t, StageActionConfigured, d.Stage)
	assert.False(t, d.ShowNavBar)
}

func TestComposer_RestoreDiscardsCorruptDraft(t *testing.T) {
	for name, data := range map[string]string{
		"not json":      `{"actionId":`,
		"unknown stage": `{"stage":"launching"}`,
	} {
		t.Run(name, func(t *testing.T) {
			store := NewMemoryDraftStore()
			require.NoError(t, store.Save(context.Background(), "d1", []byte(data)))
			c := New(store, NewMemorySubmitGuard(time.Minute), &fakeCreator{}, nil, nil)

			d, err := c.Restore(context.Background(), "d1")
			require.NoError(t, err)
			assert.Equal(t, StageIdle, d.Stage)
			assert.Equal(t, 0, store.Len())
		})
	}
}

func TestComposer_SQLiteStore(t *testing.T) {
	store, err := OpenSQLiteDraftStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.HealthCheck(context.Background()))

	backend := &fakeCreator{}
	c := New(store, NewMemorySubmitGuard(time.Minute), backend, nil, nil)
	configured(t, c, "d1")

	d, err := New(store, NewMemorySubmitGuard(time.Minute), backend, nil, nil).Restore(context.Background(), "d1")
	require.NoError(t, err)
	assert.Equal(t, StageReactionConfigured, d.Stage)
	assert.Equal(t, "t", d.Title)

	_, _, err = c.Submit(context.Background(), "d1", "tok")
	require.NoError(t, err)
	_, err = store.Load(context.Background(), "d1")
	assert.ErrorIs(t, err, ErrDraftNotFound)
}

func TestFileDraftStore(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "drafts")
	store := NewFileDraftStore(dir)
	ctx := context.Background()

	_, err := store.Load(ctx, "web")
	assert.ErrorIs(t, err, ErrDraftNotFound)

	require.NoError(t, store.Save(ctx, "web", []byte(`{"stage":"idle"}`)))
	info, err := os.Stat(filepath.Join(dir, "web.json"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	data, err := store.Load(ctx, "web")
	require.NoError(t, err)
	assert.JSONEq(t, `{"stage":"idle"}`, string(data))

	require.NoError(t, store.Delete(ctx, "web"))
	require.NoError(t, store.Delete(ctx, "web"))

	assert.Error(t, store.Save(ctx, "../escape", []byte(`{}`)))
}

func TestMemorySubmitGuard(t *testing.T) {
	g := NewMemorySubmitGuard(time.Minute)
	ctx := context.Background()

	release, err := g.Acquire(ctx, FormatGuardKey("d1"))
	require.NoError(t, err)

	_, err = g.Acquire(ctx, FormatGuardKey("d1"))
	assert.Error(t, err)

	other, err := g.Acquire(ctx, FormatGuardKey("d2"))
	require.NoError(t, err)
	other()

	release()
	release()
	assert.Equal(t, 0, g.Len())

	again, err := g.Acquire(ctx, FormatGuardKey("d1"))
	require.NoError(t, err)
	again()
}

func TestMemorySubmitGuard_Expiry(t *testing.T) {
	g := NewMemorySubmitGuard(10 * time.Millisecond)
	ctx := context.Background()

	stale, err := g.Acquire(ctx, "k")
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)

	fresh, err := g.Acquire(ctx, "k")
	require.NoError(t, err)

	// The expired holder must not release the new lock.
	stale()
	_, err = g.Acquire(ctx, "k")
	assert.Error(t, err)
	fresh()
}
