package undo

import (
	"time"

	"github.com/go-go-golems/promptdesk/pkg/helpers"
)

// DefaultDebounce is how long an edited region sits quiet before its previous
// value is pushed onto the undo stack.
const DefaultDebounce = 500 * time.Millisecond

// State is the inert snapshot of a stack, used when a version or a tab is
// parked and its undo history has to travel with it.
type State struct {
	UndoStack []string `json:"undoStack"`
	RedoStack []string `json:"redoStack"`
	LastText  string   `json:"lastText"`
}

// Clone returns a deep copy of the state.
func (s State) Clone() State {
	return State{
		UndoStack: append([]string(nil), s.UndoStack...),
		RedoStack: append([]string(nil), s.RedoStack...),
		LastText:  s.LastText,
	}
}

// Stack is a debounced undo/redo history over a single editable text region.
// The region's current text lives in the stack itself; SetText registers an
// edit and schedules a compare-and-commit, so rapid keystrokes collapse into
// one undo point.
//
// A Stack is owned by a single event loop and does no locking; the debounce
// timer callback re-enters through the deliver function when one is set.
type Stack struct {
	current  string
	lastText string

	undoStack []string
	redoStack []string

	debounce time.Duration
	clock    helpers.Clock
	timer    helpers.Timer

	deliver  func(func())
	onChange func(canUndo, canRedo bool)
}

type Option func(*Stack)

func WithClock(clock helpers.Clock) Option {
	return func(s *Stack) {
		s.clock = clock
	}
}

func WithDebounce(d time.Duration) Option {
	return func(s *Stack) {
		s.debounce = d
	}
}

// WithOnChange registers a callback fired whenever undo/redo availability may
// have changed, used to re-derive button enablement.
func WithOnChange(f func(canUndo, canRedo bool)) Option {
	return func(s *Stack) {
		s.onChange = f
	}
}

// WithDeliver routes the debounce timer callback through the owner's event
// loop instead of running it on the timer goroutine.
func WithDeliver(deliver func(func())) Option {
	return func(s *Stack) {
		s.deliver = deliver
	}
}

func NewStack(options ...Option) *Stack {
	ret := &Stack{
		debounce: DefaultDebounce,
		clock:    helpers.NewRealClock(),
		deliver:  func(f func()) { f() },
	}
	for _, o := range options {
		o(ret)
	}
	return ret
}

// Initialize resets the stack around the given text, clearing all history.
func (s *Stack) Initialize(text string) {
	s.current = text
	s.lastText = text
	s.undoStack = nil
	s.redoStack = nil
	s.stopTimer()
	s.notify()
}

// Text returns the region's current text.
func (s *Stack) Text() string {
	return s.current
}

// SetText registers a user edit and schedules a debounced save.
func (s *Stack) SetText(text string) {
	s.current = text
	s.schedule()
}

// SetTextSilent replaces the text without touching history or timers, the
// equivalent of updating a widget with its change signals blocked. Used for
// streaming flushes and programmatic restores.
func (s *Stack) SetTextSilent(text string) {
	s.current = text
	s.lastText = text
}

func (s *Stack) schedule() {
	if s.timer != nil {
		s.timer.Reset(s.debounce)
		return
	}
	s.timer = s.clock.AfterFunc(s.debounce, func() {
		s.deliver(s.saveIfChanged)
	})
}

func (s *Stack) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Stack) saveIfChanged() {
	if s.current == s.lastText {
		return
	}
	s.undoStack = append(s.undoStack, s.lastText)
	s.redoStack = nil
	s.lastText = s.current
	s.notify()
}

// Flush commits any pending edit immediately, bypassing the debounce.
func (s *Stack) Flush() {
	s.stopTimer()
	s.saveIfChanged()
}

// Undo steps back one saved state. Returns false when there is nothing to undo.
func (s *Stack) Undo() bool {
	if len(s.undoStack) == 0 {
		return false
	}
	s.redoStack = append(s.redoStack, s.current)
	last := s.undoStack[len(s.undoStack)-1]
	s.undoStack = s.undoStack[:len(s.undoStack)-1]
	s.current = last
	s.lastText = last
	s.notify()
	return true
}

// Redo reapplies the most recently undone state. Returns false when there is
// nothing to redo.
func (s *Stack) Redo() bool {
	if len(s.redoStack) == 0 {
		return false
	}
	s.undoStack = append(s.undoStack, s.current)
	next := s.redoStack[len(s.redoStack)-1]
	s.redoStack = s.redoStack[:len(s.redoStack)-1]
	s.current = next
	s.lastText = next
	s.notify()
	return true
}

func (s *Stack) CanUndo() bool {
	return len(s.undoStack) > 0
}

func (s *Stack) CanRedo() bool {
	return len(s.redoStack) > 0
}

// Snapshot captures the stack's history without the live timer machinery.
func (s *Stack) Snapshot() State {
	return State{
		UndoStack: append([]string(nil), s.undoStack...),
		RedoStack: append([]string(nil), s.redoStack...),
		LastText:  s.lastText,
	}
}

// RestoreState replaces the stack's history from a snapshot. The current text
// is left untouched; callers set it separately.
func (s *Stack) RestoreState(st State) {
	s.stopTimer()
	s.undoStack = append([]string(nil), st.UndoStack...)
	s.redoStack = append([]string(nil), st.RedoStack...)
	s.lastText = st.LastText
	s.notify()
}

// Clear drops all history and re-anchors on the current text.
func (s *Stack) Clear() {
	s.stopTimer()
	s.undoStack = nil
	s.redoStack = nil
	s.lastText = s.current
	s.notify()
}

func (s *Stack) notify() {
	if s.onChange != nil {
		s.onChange(s.CanUndo(), s.CanRedo())
	}
}
