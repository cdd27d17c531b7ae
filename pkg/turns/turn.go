package turns

import (
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/promptdesk/pkg/conversation"
	"github.com/go-go-golems/promptdesk/pkg/undo"
)

// Turn is one exchange in a multi-turn conversation: a user message and its
// regenerated output versions. Turn numbers are 1-based and contiguous.
//
// OutputText is a display cache only; the authoritative output is always
// OutputVersions[CurrentVersionIndex].
type Turn struct {
	TurnNumber    int                          `json:"turnNumber"`
	MessageText   string                       `json:"messageText"`
	MessageImages []*conversation.ImageContent `json:"messageImages,omitempty"`

	OutputText string `json:"outputText,omitempty"`
	IsComplete bool   `json:"isComplete"`

	OutputVersions      []string     `json:"outputVersions"`
	CurrentVersionIndex int          `json:"currentVersionIndex"`
	VersionUndoStates   []undo.State `json:"versionUndoStates"`
}

// SelectedOutput returns the currently selected version's text. The cached
// OutputText is only consulted when no version exists at all.
func (t *Turn) SelectedOutput() string {
	if len(t.OutputVersions) > 0 && t.CurrentVersionIndex < len(t.OutputVersions) {
		return t.OutputVersions[t.CurrentVersionIndex]
	}
	return t.OutputText
}

func (t *Turn) VersionCount() int {
	return len(t.OutputVersions)
}

// ensureStates pads VersionUndoStates so index idx is addressable, keeping
// the two version arrays the same length.
func (t *Turn) ensureStates(idx int) {
	for len(t.VersionUndoStates) <= idx {
		t.VersionUndoStates = append(t.VersionUndoStates, undo.State{})
	}
}

// FlushDisplayed writes the currently displayed text and its undo state into
// the active version slot, so nothing is lost before navigating or
// regenerating.
func (t *Turn) FlushDisplayed(displayed string, state undo.State) {
	if len(t.OutputVersions) == 0 {
		return
	}
	t.OutputVersions[t.CurrentVersionIndex] = displayed
	t.ensureStates(t.CurrentVersionIndex)
	t.VersionUndoStates[t.CurrentVersionIndex] = state.Clone()
}

// BeginRegeneration flushes the displayed version, then appends an empty
// placeholder version and points the turn at it. The actual result arrives
// later through CommitResult.
func (t *Turn) BeginRegeneration(displayed string, state undo.State) {
	t.FlushDisplayed(displayed, state)
	t.OutputVersions = append(t.OutputVersions, "")
	t.VersionUndoStates = append(t.VersionUndoStates, undo.State{})
	t.CurrentVersionIndex = len(t.OutputVersions) - 1
	t.IsComplete = false
}

// CommitResult stores an execution result. During regeneration the
// placeholder version is overwritten in place; otherwise a new version is
// appended and selected. The active version's undo history resets around the
// fresh text.
func (t *Turn) CommitResult(text string, regenerate bool) {
	t.OutputText = text
	t.IsComplete = true

	if regenerate && len(t.OutputVersions) > 0 {
		t.OutputVersions[t.CurrentVersionIndex] = text
		t.ensureStates(t.CurrentVersionIndex)
		t.VersionUndoStates[t.CurrentVersionIndex] = undo.State{LastText: text}
		return
	}

	t.OutputVersions = append(t.OutputVersions, text)
	t.CurrentVersionIndex = len(t.OutputVersions) - 1
	t.VersionUndoStates = append(t.VersionUndoStates, undo.State{LastText: text})
}

// PrevVersion navigates to the previous output version. The displayed text
// and stacks are flushed into the version being left; the returned text and
// state belong to the target version. ok is false at the boundary (no-op).
func (t *Turn) PrevVersion(displayed string, state undo.State) (string, undo.State, bool) {
	if t.CurrentVersionIndex <= 0 {
		return "", undo.State{}, false
	}
	t.FlushDisplayed(displayed, state)
	t.CurrentVersionIndex--
	return t.applyVersion()
}

// NextVersion navigates to the next output version; see PrevVersion.
func (t *Turn) NextVersion(displayed string, state undo.State) (string, undo.State, bool) {
	if t.CurrentVersionIndex >= len(t.OutputVersions)-1 {
		return "", undo.State{}, false
	}
	t.FlushDisplayed(displayed, state)
	t.CurrentVersionIndex++
	return t.applyVersion()
}

func (t *Turn) applyVersion() (string, undo.State, bool) {
	text := t.OutputVersions[t.CurrentVersionIndex]
	t.OutputText = text

	var state undo.State
	if t.CurrentVersionIndex < len(t.VersionUndoStates) {
		state = t.VersionUndoStates[t.CurrentVersionIndex].Clone()
	} else {
		state = undo.State{LastText: text}
	}
	return text, state, true
}

// List holds a conversation's turns with contiguous 1-based numbering.
type List struct {
	Turns []*Turn `json:"turns"`
}

func NewList() *List {
	return &List{}
}

func (l *List) Len() int {
	return len(l.Turns)
}

func (l *List) Last() *Turn {
	if len(l.Turns) == 0 {
		return nil
	}
	return l.Turns[len(l.Turns)-1]
}

// Append creates the next turn for a user message.
func (l *List) Append(messageText string, images []*conversation.ImageContent) *Turn {
	turn := &Turn{
		TurnNumber:    len(l.Turns) + 1,
		MessageText:   messageText,
		MessageImages: images,
	}
	l.Turns = append(l.Turns, turn)
	return turn
}

// DeleteLast removes the final turn. Only the last turn may be deleted;
// deleting from an empty list is a no-op.
func (l *List) DeleteLast() bool {
	if len(l.Turns) == 0 {
		return false
	}
	removed := l.Turns[len(l.Turns)-1]
	l.Turns = l.Turns[:len(l.Turns)-1]
	log.Debug().Int("turn_number", removed.TurnNumber).Msg("deleted last conversation turn")
	return true
}
