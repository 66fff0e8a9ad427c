package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fnal-rts/rts-coordinator/internal/state"
)

func setupTestDB(t *testing.T) *SQLiteStore {
	store, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStateRepo_Default(t *testing.T) {
	store := setupTestDB(t)

	s, err := store.State.GetState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, state.StateGround, s.State)
	assert.Equal(t, state.StateGround, s.LastNormal)
	assert.False(t, s.ChipsOnGripper)
}

func TestSQLiteStateRepo_SaveAndGet(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	err := store.State.SaveState(ctx, &StandState{
		State:          state.StatePaused,
		LastNormal:     state.StateTesting,
		ChipsOnGripper: true,
		SessionID:      "abc",
	})
	require.NoError(t, err)

	s, err := store.State.GetState(ctx)
	require.NoError(t, err)
	assert.Equal(t, state.StatePaused, s.State)
	assert.Equal(t, state.StateTesting, s.LastNormal)
	assert.True(t, s.ChipsOnGripper)
	assert.Equal(t, "abc", s.SessionID)
}

func TestSQLiteStateRepo_LogTransition(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, store.State.LogTransition(ctx, state.StateGround, state.StateSurveyingSockets, "cycle", "operator", ""))
	require.NoError(t, store.State.LogTransition(ctx, state.StateSurveyingSockets, state.StateChipInSocket, "error_cycle", "station", "sockets occupied"))
	require.NoError(t, store.State.LogTransition(ctx, state.StateChipInSocket, state.StatePaused, "pause_cycle", "bridge", ""))

	history, err := store.State.GetTransitionHistory(ctx, 2)
	require.NoError(t, err)
	require.Len(t, history, 2)

	// Newest first
	assert.Equal(t, state.StatePaused, history[0].ToState)
	assert.Equal(t, "bridge", history[0].Source)
	assert.Equal(t, state.StateChipInSocket, history[1].ToState)
	assert.Equal(t, "sockets occupied", history[1].Error)
}

func TestSQLiteSessionRepo(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	sess := &Session{ID: "s1", ImageDir: "/tmp/session_1", PlanSize: 40}
	require.NoError(t, store.Sessions.Create(ctx, sess))
	assert.False(t, sess.StartedAt.IsZero())

	got, err := store.Sessions.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 40, got.PlanSize)
	assert.Nil(t, got.EndedAt)

	require.NoError(t, store.Sessions.End(ctx, "s1"))
	got, err = store.Sessions.Get(ctx, "s1")
	require.NoError(t, err)
	assert.NotNil(t, got.EndedAt)

	assert.ErrorIs(t, store.Sessions.End(ctx, "s1"), ErrNotFound, "already ended")

	_, err = store.Sessions.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteResultRepo(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, store.Sessions.Create(ctx, &Session{ID: "s1"}))

	first := &ChipResult{SessionID: "s1", Tray: 2, Column: 1, Row: 1, Board: 2, Socket: 21, Label: "CD0", Serial: "SN1", Passed: true}
	second := &ChipResult{SessionID: "s1", Tray: 2, Column: 1, Row: 2, Board: 2, Socket: 22, Label: "CD1", Serial: "SN2"}
	require.NoError(t, store.Results.Save(ctx, first))
	require.NoError(t, store.Results.Save(ctx, second))
	assert.NotZero(t, first.ID)
	assert.NotEqual(t, first.ID, second.ID)

	pending, err := store.Results.ListPending(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	require.NoError(t, store.Results.MarkUploaded(ctx, first.ID))
	pending, err = store.Results.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "SN2", pending[0].Serial)

	all, err := store.Results.ListBySession(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.True(t, all[0].Uploaded)
	assert.True(t, all[0].Passed)
	assert.Equal(t, 22, all[1].Socket)

	assert.ErrorIs(t, store.Results.MarkUploaded(ctx, 999), ErrNotFound)
}

func TestSQLiteResultRepo_RequiresSession(t *testing.T) {
	store := setupTestDB(t)

	err := store.Results.Save(context.Background(), &ChipResult{SessionID: "nope", Tray: 1, Column: 1, Row: 1, Board: 1, Socket: 21})
	assert.Error(t, err)
}
