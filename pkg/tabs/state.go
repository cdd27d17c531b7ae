package tabs

import (
	"github.com/google/uuid"
	clone "github.com/huandu/go-clone"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/promptdesk/pkg/conversation"
	"github.com/go-go-golems/promptdesk/pkg/turns"
	"github.com/go-go-golems/promptdesk/pkg/undo"
)

// Region is one editable text area (context, input, output) with its own
// undo history, attachments and display flags.
type Region struct {
	Undo   *undo.Stack
	Images []*conversation.ImageContent

	Collapsed bool
	Wrapped   bool
}

// RegionSnapshot is the inert captured form of a Region.
type RegionSnapshot struct {
	Text      string                       `json:"text"`
	Images    []*conversation.ImageContent `json:"images,omitempty"`
	UndoState undo.State                   `json:"undoState"`
	Collapsed bool                         `json:"collapsed"`
	Wrapped   bool                         `json:"wrapped"`
}

func (r *Region) snapshot() RegionSnapshot {
	return RegionSnapshot{
		Text:      r.Undo.Text(),
		Images:    r.Images,
		UndoState: r.Undo.Snapshot(),
		Collapsed: r.Collapsed,
		Wrapped:   r.Wrapped,
	}
}

func (r *Region) restore(snap RegionSnapshot) {
	r.Undo.SetTextSilent(snap.Text)
	r.Undo.RestoreState(snap.UndoState)
	r.Images = snap.Images
	r.Collapsed = snap.Collapsed
	r.Wrapped = snap.Wrapped
}

// TabState is the live state of one conversation tab: the three editable
// regions, the versioned turn list, the conversation tree, and the execution
// flags. The affordance fields at the bottom are always derived from the
// data, never restored from a snapshot.
type TabState struct {
	TabID   string
	TabName string

	Context *Region
	Input   *Region
	Output  *Region

	Turns *turns.List
	Tree  *conversation.Tree

	WaitingForResult     bool
	IsStreaming          bool
	StreamingAccumulated string

	// derived affordances
	ReplyVisible  bool
	DeletableTurn int
	UndoEnabled   bool
	RedoEnabled   bool

	stackOptions []undo.Option
}

type Option func(*TabState)

// WithStackOptions forwards options (clock, deliver) to every region's undo
// stack.
func WithStackOptions(options ...undo.Option) Option {
	return func(s *TabState) {
		s.stackOptions = options
	}
}

func WithName(name string) Option {
	return func(s *TabState) {
		s.TabName = name
	}
}

func NewTabState(options ...Option) *TabState {
	ret := &TabState{
		TabID:   uuid.NewString(),
		TabName: "Tab 1",
	}
	for _, o := range options {
		o(ret)
	}
	ret.Context = &Region{Undo: undo.NewStack(ret.stackOptions...)}
	ret.Input = &Region{Undo: undo.NewStack(ret.stackOptions...)}
	ret.Output = &Region{Undo: undo.NewStack(ret.stackOptions...)}
	ret.Turns = turns.NewList()
	ret.Tree = conversation.NewTree()
	ret.DeriveAffordances()
	return ret
}

// Reset returns the tab to a fresh empty conversation under the given
// identity, used when the last remaining tab is closed. The Turns and Tree
// pointers stay stable so collaborators holding them remain wired; only
// their contents are replaced.
func (s *TabState) Reset(tabID, tabName string) {
	s.TabID = tabID
	s.TabName = tabName
	s.Context.Undo.Initialize("")
	s.Context.Images = nil
	s.Context.Collapsed = false
	s.Input.Undo.Initialize("")
	s.Input.Images = nil
	s.Input.Collapsed = false
	s.Output.Undo.Initialize("")
	s.Output.Images = nil
	s.Output.Collapsed = false
	s.Turns.Turns = nil
	*s.Tree = *conversation.NewTree()
	s.WaitingForResult = false
	s.IsStreaming = false
	s.StreamingAccumulated = ""
	s.DeriveAffordances()
}

// DeriveAffordances recomputes the display affordances from the data:
// reply is offered after a completed turn when nothing is in flight, only
// the last turn shows a delete control, and undo/redo enablement follows the
// output region's history.
func (s *TabState) DeriveAffordances() {
	last := s.Turns.Last()
	s.ReplyVisible = last != nil && last.IsComplete && !s.WaitingForResult
	if last != nil {
		s.DeletableTurn = last.TurnNumber
	} else {
		s.DeletableTurn = 0
	}
	s.UndoEnabled = s.Output.Undo.CanUndo()
	s.RedoEnabled = s.Output.Undo.CanRedo()
}

// VersionInfo reports the last turn's version position for display as
// "current of total".
func (s *TabState) VersionInfo() (current int, total int) {
	turn := s.Turns.Last()
	if turn == nil || turn.VersionCount() == 0 {
		return 0, 0
	}
	return turn.CurrentVersionIndex + 1, turn.VersionCount()
}

// VersionPrev navigates the last turn to its previous output version. The
// displayed text and undo stacks are flushed into the version being left
// before the target's are loaded.
func (s *TabState) VersionPrev() bool {
	return s.navigateVersion(func(turn *turns.Turn, displayed string, state undo.State) (string, undo.State, bool) {
		return turn.PrevVersion(displayed, state)
	})
}

// VersionNext navigates the last turn to its next output version.
func (s *TabState) VersionNext() bool {
	return s.navigateVersion(func(turn *turns.Turn, displayed string, state undo.State) (string, undo.State, bool) {
		return turn.NextVersion(displayed, state)
	})
}

func (s *TabState) navigateVersion(move func(*turns.Turn, string, undo.State) (string, undo.State, bool)) bool {
	turn := s.Turns.Last()
	if turn == nil {
		return false
	}

	s.Output.Undo.Flush()

	text, state, ok := move(turn, s.Output.Undo.Text(), s.Output.Undo.Snapshot())
	if !ok {
		return false
	}

	s.Output.Undo.SetTextSilent(text)
	s.Output.Undo.RestoreState(state)

	if leaf := s.Tree.CurrentLeaf(); leaf != nil && leaf.Role == conversation.RoleAssistant {
		s.Tree.SetNodeContent(leaf.ID, text)
	}

	s.DeriveAffordances()

	log.Debug().
		Str("tab_id", s.TabID).
		Int("version_index", turn.CurrentVersionIndex).
		Int("version_count", turn.VersionCount()).
		Msg("switched output version")

	return true
}

// Snapshot is an immutable capture of a tab's entire state. Affordance flags
// are deliberately absent; Restore re-derives them from the data so display
// and data cannot drift apart.
type Snapshot struct {
	TabID   string `json:"tabID"`
	TabName string `json:"tabName"`

	Context RegionSnapshot `json:"context"`
	Input   RegionSnapshot `json:"input"`
	Output  RegionSnapshot `json:"output"`

	Turns []*turns.Turn      `json:"turns"`
	Tree  *conversation.Tree `json:"tree,omitempty"`

	WaitingForResult     bool   `json:"waitingForResult"`
	IsStreaming          bool   `json:"isStreaming"`
	StreamingAccumulated string `json:"streamingAccumulated,omitempty"`
}

// Capture produces an immutable deep-copied snapshot of the tab. Pure read:
// the live state is not touched.
func (s *TabState) Capture() *Snapshot {
	snap := &Snapshot{
		TabID:                s.TabID,
		TabName:              s.TabName,
		Context:              s.Context.snapshot(),
		Input:                s.Input.snapshot(),
		Output:               s.Output.snapshot(),
		Turns:                s.Turns.Turns,
		Tree:                 s.Tree,
		WaitingForResult:     s.WaitingForResult,
		IsStreaming:          s.IsStreaming,
		StreamingAccumulated: s.StreamingAccumulated,
	}
	return clone.Clone(snap).(*Snapshot)
}

// Restore replaces the live state from a snapshot, then re-derives all
// affordances. The snapshot itself stays untouched and reusable.
func (s *TabState) Restore(snap *Snapshot) {
	snap = clone.Clone(snap).(*Snapshot)

	s.TabID = snap.TabID
	s.TabName = snap.TabName
	s.Context.restore(snap.Context)
	s.Input.restore(snap.Input)
	s.Output.restore(snap.Output)
	s.Turns.Turns = snap.Turns
	if snap.Tree != nil {
		*s.Tree = *snap.Tree
	} else {
		*s.Tree = *conversation.NewTree()
	}
	s.WaitingForResult = snap.WaitingForResult
	s.IsStreaming = snap.IsStreaming
	s.StreamingAccumulated = snap.StreamingAccumulated

	s.DeriveAffordances()
}
