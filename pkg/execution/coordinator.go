package execution

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/promptdesk/pkg/conversation"
	"github.com/go-go-golems/promptdesk/pkg/events"
	"github.com/go-go-golems/promptdesk/pkg/helpers"
	"github.com/go-go-golems/promptdesk/pkg/turns"
	"github.com/go-go-golems/promptdesk/pkg/undo"
)

// State is the coordinator's per-window execution state machine:
// IDLE → SENDING on dispatch, SENDING → STREAMING on the first non-final
// chunk, back to IDLE on result or stop.
type State int

const (
	StateIdle State = iota
	StateSending
	StateStreaming
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSending:
		return "sending"
	case StateStreaming:
		return "streaming"
	default:
		return "unknown"
	}
}

var (
	ErrNoContent          = errors.New("nothing to send: no text, no images, and not regenerating")
	ErrNoTurnToRegenerate = errors.New("no turn to regenerate")
	ErrAlreadyWaiting     = errors.New("an execution is already in flight")
)

const (
	// DefaultFlushInterval bounds display updates to roughly 60 per second
	// regardless of backend chunk rate.
	DefaultFlushInterval = 16 * time.Millisecond

	// Chunks at least this large flush immediately; smaller dribbles
	// coalesce into one deferred flush.
	largeChunkSize = 10

	cancelledMarker = "\n\n[cancelled]"
)

// Gauge counts outstanding executions across all windows. Dec must floor at
// zero.
type Gauge interface {
	Inc()
	Dec()
	Value() int64
}

type nopGauge struct{}

func (nopGauge) Inc()         {}
func (nopGauge) Dec()         {}
func (nopGauge) Value() int64 { return 0 }

// completion is the part of finishing an execution that must happen exactly
// once even when the owning window is already gone: releasing the
// outstanding-execution gauge and announcing completion to the other windows.
type completion struct {
	once      sync.Once
	gauge     Gauge
	publisher *events.PublisherManager
	metadata  events.EventMetadata
}

func (c *completion) finalize() {
	c.once.Do(func() {
		c.gauge.Dec()
		if c.publisher != nil {
			md := c.metadata
			md.ID = uuid.New()
			c.publisher.PublishBlind(events.NewExecutionCompletedEvent(md))
		}
	})
}

// TurnInput is what the user is sending. For regeneration the Text/Images
// fields are ignored (the turn's stored message is re-dispatched) and
// Displayed/UndoState carry the output region's current contents so they can
// be flushed into the version being left.
type TurnInput struct {
	Text   string
	Images []*conversation.ImageContent

	ContextText   string
	ContextImages []*conversation.ImageContent

	Displayed string
	UndoState undo.State
}

// Coordinator owns at most one in-flight execution for its window. All
// methods must be called from the owning event loop; the runner goroutine
// reports back exclusively through the deliver function.
type Coordinator struct {
	windowID string
	tabID    string

	turnList *turns.List
	tree     *conversation.Tree
	runner   Runner

	publisher *events.PublisherManager
	sinks     []events.EventSink
	gauge     Gauge
	clock     helpers.Clock
	deliver   func(func()) bool

	useStreaming  bool
	flushInterval time.Duration

	onFlush func(accumulated string)
	onIdle  func()

	state              State
	currentExecutionID string
	regenerating       bool
	accumulated        string
	lastFlush          time.Time
	hasFlushed         bool
	flushTimer         helpers.Timer
	flushPending       bool
	disabledForGlobal  bool
	handle             *Handle
	finisher           *completion
	pendingAssistantID conversation.NodeID
}

type CoordinatorOption func(*Coordinator)

func WithWindowID(id string) CoordinatorOption {
	return func(c *Coordinator) {
		c.windowID = id
	}
}

func WithTabID(id string) CoordinatorOption {
	return func(c *Coordinator) {
		c.tabID = id
	}
}

func WithPublisher(publisher *events.PublisherManager) CoordinatorOption {
	return func(c *Coordinator) {
		c.publisher = publisher
	}
}

// WithSinks registers the sinks attached to every run context, through which
// runners publish streaming events.
func WithSinks(sinks ...events.EventSink) CoordinatorOption {
	return func(c *Coordinator) {
		c.sinks = append(c.sinks, sinks...)
	}
}

func WithGauge(gauge Gauge) CoordinatorOption {
	return func(c *Coordinator) {
		c.gauge = gauge
	}
}

func WithClock(clock helpers.Clock) CoordinatorOption {
	return func(c *Coordinator) {
		c.clock = clock
	}
}

// WithDeliver routes runner-goroutine and timer callbacks onto the owning
// event loop. The function reports whether the callback was accepted; a
// closed window's loop may refuse deliveries.
func WithDeliver(deliver func(func()) bool) CoordinatorOption {
	return func(c *Coordinator) {
		c.deliver = deliver
	}
}

func WithUseStreaming(useStreaming bool) CoordinatorOption {
	return func(c *Coordinator) {
		c.useStreaming = useStreaming
	}
}

// WithOnFlush registers the display callback invoked with the accumulated
// text on every throttled streaming flush.
func WithOnFlush(f func(accumulated string)) CoordinatorOption {
	return func(c *Coordinator) {
		c.onFlush = f
	}
}

// WithOnIdle registers a callback fired whenever the coordinator returns to
// idle, so affordances can be re-derived.
func WithOnIdle(f func()) CoordinatorOption {
	return func(c *Coordinator) {
		c.onIdle = f
	}
}

func NewCoordinator(turnList *turns.List, tree *conversation.Tree, runner Runner, options ...CoordinatorOption) *Coordinator {
	ret := &Coordinator{
		windowID:      uuid.NewString(),
		turnList:      turnList,
		tree:          tree,
		runner:        runner,
		gauge:         nopGauge{},
		clock:         helpers.NewRealClock(),
		deliver:       func(f func()) bool { f(); return true },
		useStreaming:  true,
		flushInterval: DefaultFlushInterval,
	}
	for _, o := range options {
		o(ret)
	}
	return ret
}

func (c *Coordinator) State() State {
	return c.state
}

// IsWaiting reports whether an execution is in flight; SENDING and STREAMING
// both count.
func (c *Coordinator) IsWaiting() bool {
	return c.state == StateSending || c.state == StateStreaming
}

func (c *Coordinator) IsStreaming() bool {
	return c.state == StateStreaming
}

func (c *Coordinator) DisabledForGlobal() bool {
	return c.disabledForGlobal
}

func (c *Coordinator) CurrentExecutionID() string {
	return c.currentExecutionID
}

// Accumulated returns the streamed text received so far for the in-flight
// execution.
func (c *Coordinator) Accumulated() string {
	return c.accumulated
}

// Execute dispatches a new execution. For a normal send it appends a new
// turn (user node plus empty assistant node on the current branch); for a
// regeneration it appends a fresh version to the last turn and a sibling
// branch to the tree, then re-dispatches that turn's message.
//
// keepOpen only affects the caller's window lifecycle: false means
// fire-and-forget, the run continues in the background and its result still
// lands through OnResult.
func (c *Coordinator) Execute(ctx context.Context, input TurnInput, keepOpen bool, regenerate bool) (*Handle, error) {
	if strings.TrimSpace(input.Text) == "" && len(input.Images) == 0 && !regenerate {
		return nil, ErrNoContent
	}
	if c.IsWaiting() {
		return nil, ErrAlreadyWaiting
	}
	if ctx == nil {
		ctx = context.Background()
	}

	executionID := uuid.NewString()

	if regenerate {
		turn := c.turnList.Last()
		if turn == nil {
			return nil, ErrNoTurnToRegenerate
		}
		turn.BeginRegeneration(input.Displayed, input.UndoState)

		if leaf := c.tree.CurrentLeaf(); leaf != nil && leaf.Role == conversation.RoleAssistant {
			if sibling := c.tree.Regenerate(leaf.ID); sibling != nil {
				c.pendingAssistantID = sibling.ID
			}
		}
	} else {
		c.turnList.Append(input.Text, input.Images)

		parentID := conversation.NullNode
		if leaf := c.tree.CurrentLeaf(); leaf != nil {
			parentID = leaf.ID
		}
		// the tree gets its own copy of the attachments so the turn list and
		// the arena never alias image buffers
		user := conversation.NewNode(conversation.RoleUser, input.Text, parentID, conversation.CloneImages(input.Images))
		c.tree.AppendToCurrentPath(user)
		assistant := conversation.NewNode(conversation.RoleAssistant, "", user.ID, nil)
		c.tree.AppendToCurrentPath(assistant)
		c.pendingAssistantID = assistant.ID
	}

	payload := BuildPayloadFromTree(c.tree, input.ContextText, input.ContextImages, c.useStreaming)

	c.state = StateSending
	c.currentExecutionID = executionID
	c.regenerating = regenerate
	c.accumulated = ""
	c.hasFlushed = false
	c.stopFlushTimer()

	c.gauge.Inc()

	metadata := events.EventMetadata{
		ID:          uuid.New(),
		ExecutionID: executionID,
		WindowID:    c.windowID,
		TabID:       c.tabID,
	}
	if c.publisher != nil {
		c.publisher.PublishBlind(events.NewExecutionStartedEvent(metadata))
	}

	runCtx, cancel := context.WithCancel(ctx)
	runCtx = events.WithEventMetadata(runCtx, metadata)
	if len(c.sinks) > 0 {
		runCtx = events.WithEventSinks(runCtx, c.sinks...)
	}

	handle := newHandle(executionID, cancel)
	c.handle = handle

	fin := &completion{gauge: c.gauge, publisher: c.publisher, metadata: metadata}
	c.finisher = fin

	log.Debug().
		Object("metadata", metadata).
		Bool("keep_open", keepOpen).
		Bool("regenerate", regenerate).
		Int("payload_turns", len(payload.Turns)).
		Msg("dispatching execution")

	go func() {
		result, err := c.runner.RunPrompt(runCtx, payload)
		if err != nil {
			result = &Result{Success: false, Error: err.Error()}
		} else if result == nil {
			result = &Result{Success: false, Error: "runner returned no result"}
		}
		// queue the delivery before unblocking Wait, so a waiter that
		// drains the owner's loop afterwards always sees the result land
		delivered := c.deliver(func() {
			c.OnResult(result, executionID)
		})
		handle.setResult(result, err)
		// a window closed mid-flight refuses the delivery; the gauge and
		// the completion announcement must not leak with it
		if !delivered {
			fin.finalize()
		}
	}()

	return handle, nil
}

// OnStreamingChunk feeds one streaming notification into the coordinator.
// Chunks for a superseded or cancelled execution are dropped. Display
// updates are throttled: a chunk flushes immediately when it is large or
// enough time has passed since the last flush; small dribbles coalesce into
// a single deferred flush.
func (c *Coordinator) OnStreamingChunk(chunk string, accumulated string, isFinal bool, executionID string) {
	if executionID != c.currentExecutionID || !c.IsWaiting() {
		log.Trace().Str("execution_id", executionID).Msg("dropping stale streaming chunk")
		return
	}

	if c.state != StateStreaming && !isFinal {
		c.state = StateStreaming
	}
	c.accumulated = accumulated

	if isFinal {
		c.stopFlushTimer()
		c.flushNow()
		// streaming is over; the result is still pending
		c.state = StateSending
		return
	}

	now := c.clock.Now()
	if len(chunk) >= largeChunkSize || !c.hasFlushed || now.Sub(c.lastFlush) >= c.flushInterval {
		c.flushNow()
		return
	}

	if !c.flushPending {
		c.flushPending = true
		delay := c.flushInterval - now.Sub(c.lastFlush)
		c.flushTimer = c.clock.AfterFunc(delay, func() {
			c.deliver(c.deferredFlush)
		})
	}
}

func (c *Coordinator) deferredFlush() {
	if !c.flushPending {
		return
	}
	c.flushPending = false
	c.flushTimer = nil
	if !c.IsWaiting() {
		return
	}
	c.flushNow()
}

func (c *Coordinator) flushNow() {
	if c.accumulated == "" {
		return
	}
	c.lastFlush = c.clock.Now()
	c.hasFlushed = true
	c.tree.SetNodeContent(c.pendingAssistantID, c.accumulated)
	if c.onFlush != nil {
		c.onFlush(c.accumulated)
	}
}

func (c *Coordinator) stopFlushTimer() {
	if c.flushTimer != nil {
		c.flushTimer.Stop()
		c.flushTimer = nil
	}
	c.flushPending = false
}

// OnResult lands the execution's terminal outcome. Backend errors are
// committed as result text so the turn stays replayable.
func (c *Coordinator) OnResult(result *Result, executionID string) {
	if executionID != c.currentExecutionID || !c.IsWaiting() {
		log.Trace().Str("execution_id", executionID).Msg("dropping stale result")
		return
	}

	text := result.Content
	if !result.Success {
		text = "Error: " + result.Error
	}

	log.Debug().
		Str("execution_id", executionID).
		Bool("success", result.Success).
		Int("content_len", len(text)).
		Msg("execution result")

	c.commit(text)
}

// Stop performs an optimistic local cancellation: whatever has streamed so
// far is committed immediately with a cancellation marker, the execution id
// is cleared so later chunks and results are stale-dropped, and the backend
// is cancelled asynchronously best-effort. A server-side cancel failure is
// never surfaced.
func (c *Coordinator) Stop(executionID string) {
	if executionID != c.currentExecutionID || !c.IsWaiting() {
		return
	}

	log.Debug().
		Str("execution_id", executionID).
		Int("accumulated_len", len(c.accumulated)).
		Msg("stopping execution")

	handle := c.handle
	c.commit(c.accumulated + cancelledMarker)

	go handle.Cancel()
}

func (c *Coordinator) commit(text string) {
	c.stopFlushTimer()

	if turn := c.turnList.Last(); turn != nil {
		turn.CommitResult(text, c.regenerating)
	}
	c.tree.SetNodeContent(c.pendingAssistantID, text)

	c.state = StateIdle
	c.currentExecutionID = ""
	c.regenerating = false
	c.accumulated = ""
	c.handle = nil

	if c.finisher != nil {
		c.finisher.finalize()
		c.finisher = nil
	}

	if c.onIdle != nil {
		c.onIdle()
	}
}

// OnGlobalExecutionStarted reacts to another window starting an execution by
// disabling this window's send controls. Advisory only: it discourages
// accidental duplicate sends, it does not enforce exclusion.
func (c *Coordinator) OnGlobalExecutionStarted(executionID string) {
	if executionID == c.currentExecutionID {
		return
	}
	c.disabledForGlobal = true
}

// OnGlobalExecutionCompleted re-enables send controls once no execution is
// outstanding anywhere.
func (c *Coordinator) OnGlobalExecutionCompleted(executionID string) {
	_ = executionID
	if c.gauge.Value() == 0 {
		c.disabledForGlobal = false
	}
}
