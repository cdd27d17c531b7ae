package tabs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/promptdesk/pkg/conversation"
	"github.com/go-go-golems/promptdesk/pkg/helpers"
	"github.com/go-go-golems/promptdesk/pkg/undo"
)

func newTestState(t *testing.T) (*TabState, *helpers.FakeClock) {
	t.Helper()
	clock := helpers.NewFakeClock()
	state := NewTabState(WithStackOptions(undo.WithClock(clock)))
	return state, clock
}

// completeExchange simulates one finished send: a turn in the list and a
// user/assistant pair on the tree.
func completeExchange(state *TabState, message, answer string) {
	turn := state.Turns.Append(message, nil)
	turn.CommitResult(answer, false)

	parentID := conversation.NullNode
	if leaf := state.Tree.CurrentLeaf(); leaf != nil {
		parentID = leaf.ID
	}
	user := conversation.NewNode(conversation.RoleUser, message, parentID, nil)
	state.Tree.AppendToCurrentPath(user)
	assistant := conversation.NewNode(conversation.RoleAssistant, answer, user.ID, nil)
	state.Tree.AppendToCurrentPath(assistant)

	state.Output.Undo.SetTextSilent(answer)
	state.DeriveAffordances()
}

func TestCaptureRestoreRoundTripIsIdempotent(t *testing.T) {
	state, _ := newTestState(t)
	state.Context.Undo.SetTextSilent("some context")
	state.Input.Undo.SetTextSilent("a question")
	state.Output.Collapsed = true
	state.Input.Wrapped = true
	completeExchange(state, "a question", "an answer")

	snap := state.Capture()
	state.Restore(snap)

	assert.Equal(t, "some context", state.Context.Undo.Text())
	assert.Equal(t, "a question", state.Input.Undo.Text())
	assert.Equal(t, "an answer", state.Output.Undo.Text())
	assert.True(t, state.Output.Collapsed)
	assert.True(t, state.Input.Wrapped)

	require.Equal(t, 1, state.Turns.Len())
	turn := state.Turns.Last()
	assert.Equal(t, "a question", turn.MessageText)
	assert.Equal(t, "an answer", turn.SelectedOutput())
	assert.True(t, turn.IsComplete)

	// affordances re-derived from data
	assert.True(t, state.ReplyVisible)
	assert.Equal(t, 1, state.DeletableTurn)
}

func TestSnapshotIsImmutable(t *testing.T) {
	state, _ := newTestState(t)
	completeExchange(state, "q", "original answer")

	snap := state.Capture()

	// mutate the live state after capture
	state.Turns.Last().OutputVersions[0] = "edited answer"
	state.Output.Undo.SetTextSilent("edited answer")
	state.Tree.SetNodeContent(state.Tree.CurrentLeaf().ID, "edited answer")

	assert.Equal(t, "original answer", snap.Turns[0].SelectedOutput())

	state.Restore(snap)
	assert.Equal(t, "original answer", state.Turns.Last().SelectedOutput())
	assert.Equal(t, "original answer", state.Output.Undo.Text())
	assert.Equal(t, "original answer", state.Tree.CurrentLeaf().Content)
}

func TestRestoreRederivesAffordances(t *testing.T) {
	state, _ := newTestState(t)
	completeExchange(state, "q", "a")

	snap := state.Capture()
	// simulate a snapshot taken mid-execution
	snap.WaitingForResult = true

	state.Restore(snap)
	assert.True(t, state.WaitingForResult)
	assert.False(t, state.ReplyVisible, "reply must be hidden while waiting")
}

func TestVersionNavigationSyncsRegionAndTree(t *testing.T) {
	state, _ := newTestState(t)
	completeExchange(state, "q", "v1")

	// a regeneration produced a second version and a sibling branch
	turn := state.Turns.Last()
	turn.BeginRegeneration("v1", state.Output.Undo.Snapshot())
	leaf := state.Tree.CurrentLeaf()
	sibling := state.Tree.Regenerate(leaf.ID)
	require.NotNil(t, sibling)
	turn.CommitResult("v2", true)
	state.Tree.SetNodeContent(sibling.ID, "v2")
	state.Output.Undo.SetTextSilent("v2")

	current, total := state.VersionInfo()
	assert.Equal(t, 2, current)
	assert.Equal(t, 2, total)

	require.True(t, state.VersionPrev())
	assert.Equal(t, "v1", state.Output.Undo.Text())
	assert.Equal(t, "v1", state.Tree.CurrentLeaf().Content)
	current, _ = state.VersionInfo()
	assert.Equal(t, 1, current)

	require.True(t, state.VersionNext())
	assert.Equal(t, "v2", state.Output.Undo.Text())

	// boundary is a no-op
	assert.False(t, state.VersionNext())
	assert.Equal(t, "v2", state.Output.Undo.Text())
}

func TestVersionNavigationSingleVersionIsNoop(t *testing.T) {
	state, _ := newTestState(t)
	completeExchange(state, "q", "only")

	assert.False(t, state.VersionPrev())
	assert.False(t, state.VersionNext())
	assert.Equal(t, "only", state.Output.Undo.Text())
}
