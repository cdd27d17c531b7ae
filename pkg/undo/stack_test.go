package undo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/promptdesk/pkg/helpers"
)

func newTestStack(t *testing.T) (*Stack, *helpers.FakeClock) {
	t.Helper()
	clock := helpers.NewFakeClock()
	s := NewStack(WithClock(clock), WithDebounce(500*time.Millisecond))
	s.Initialize("")
	return s, clock
}

func TestDebouncedSaveCollapsesRapidEdits(t *testing.T) {
	s, clock := newTestStack(t)

	s.SetText("h")
	clock.Advance(100 * time.Millisecond)
	s.SetText("he")
	clock.Advance(100 * time.Millisecond)
	s.SetText("hello")
	require.False(t, s.CanUndo())

	clock.Advance(500 * time.Millisecond)
	require.True(t, s.CanUndo())

	require.True(t, s.Undo())
	assert.Equal(t, "", s.Text())
}

func TestSaveOnlyWhenChanged(t *testing.T) {
	s, clock := newTestStack(t)

	s.SetText("same")
	clock.Advance(time.Second)
	require.True(t, s.CanUndo())

	// re-setting the identical text must not create a second undo point
	s.SetText("same")
	clock.Advance(time.Second)

	require.True(t, s.Undo())
	assert.Equal(t, "", s.Text())
	require.False(t, s.CanUndo())
}

func TestUndoRedoRoundTrip(t *testing.T) {
	s, clock := newTestStack(t)

	s.SetText("one")
	clock.Advance(time.Second)
	s.SetText("two")
	clock.Advance(time.Second)

	require.True(t, s.Undo())
	assert.Equal(t, "one", s.Text())
	require.True(t, s.Undo())
	assert.Equal(t, "", s.Text())
	require.False(t, s.Undo())

	require.True(t, s.Redo())
	assert.Equal(t, "one", s.Text())
	require.True(t, s.Redo())
	assert.Equal(t, "two", s.Text())
	require.False(t, s.Redo())
}

func TestEditClearsRedoStack(t *testing.T) {
	s, clock := newTestStack(t)

	s.SetText("one")
	clock.Advance(time.Second)
	require.True(t, s.Undo())
	require.True(t, s.CanRedo())

	s.SetText("fork")
	clock.Advance(time.Second)
	assert.False(t, s.CanRedo())
}

func TestSetTextSilentSkipsHistory(t *testing.T) {
	s, clock := newTestStack(t)

	s.SetTextSilent("streamed content")
	clock.Advance(time.Second)
	assert.False(t, s.CanUndo())
	assert.Equal(t, "streamed content", s.Text())
}

func TestFlushCommitsPendingEdit(t *testing.T) {
	s, _ := newTestStack(t)

	s.SetText("pending")
	require.False(t, s.CanUndo())
	s.Flush()
	require.True(t, s.CanUndo())
}

func TestSnapshotRestoreState(t *testing.T) {
	s, clock := newTestStack(t)

	s.SetText("one")
	clock.Advance(time.Second)
	s.SetText("two")
	clock.Advance(time.Second)

	snap := s.Snapshot()

	s.Initialize("fresh")
	require.False(t, s.CanUndo())

	s.SetTextSilent("two")
	s.RestoreState(snap)
	require.True(t, s.Undo())
	assert.Equal(t, "one", s.Text())
}

func TestOnChangeNotification(t *testing.T) {
	clock := helpers.NewFakeClock()
	var gotUndo, gotRedo bool
	s := NewStack(
		WithClock(clock),
		WithOnChange(func(canUndo, canRedo bool) {
			gotUndo, gotRedo = canUndo, canRedo
		}),
	)
	s.Initialize("")

	s.SetText("x")
	clock.Advance(time.Second)
	assert.True(t, gotUndo)
	assert.False(t, gotRedo)

	s.Undo()
	assert.False(t, gotUndo)
	assert.True(t, gotRedo)
}
