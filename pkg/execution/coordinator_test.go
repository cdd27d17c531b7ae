package execution

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/promptdesk/pkg/conversation"
	"github.com/go-go-golems/promptdesk/pkg/events"
	"github.com/go-go-golems/promptdesk/pkg/helpers"
	"github.com/go-go-golems/promptdesk/pkg/turns"
	"github.com/go-go-golems/promptdesk/pkg/undo"
)

// eventLoop queues deliveries the way a window's event loop would, so tests
// decide exactly when runner callbacks run.
type eventLoop struct {
	ch chan func()
}

func newEventLoop() *eventLoop {
	return &eventLoop{ch: make(chan func(), 64)}
}

func (l *eventLoop) deliver(f func()) bool {
	l.ch <- f
	return true
}

func (l *eventLoop) drain() {
	for {
		select {
		case f := <-l.ch:
			f()
		default:
			return
		}
	}
}

type testGauge struct {
	value int64
}

func (g *testGauge) Inc() { g.value++ }
func (g *testGauge) Dec() {
	if g.value > 0 {
		g.value--
	}
}
func (g *testGauge) Value() int64 { return g.value }

type flushRecord struct {
	text string
	at   time.Time
}

type fixture struct {
	clock   *helpers.FakeClock
	loop    *eventLoop
	list    *turns.List
	tree    *conversation.Tree
	gauge   *testGauge
	flushes []flushRecord
	c       *Coordinator
}

func newFixture(runner Runner, options ...CoordinatorOption) *fixture {
	f := &fixture{
		clock: helpers.NewFakeClock(),
		loop:  newEventLoop(),
		list:  turns.NewList(),
		tree:  conversation.NewTree(),
		gauge: &testGauge{},
	}
	base := []CoordinatorOption{
		WithClock(f.clock),
		WithDeliver(f.loop.deliver),
		WithGauge(f.gauge),
		WithOnFlush(func(accumulated string) {
			f.flushes = append(f.flushes, flushRecord{text: accumulated, at: f.clock.Now()})
		}),
	}
	f.c = NewCoordinator(f.list, f.tree, runner, append(base, options...)...)
	return f
}

func (f *fixture) settle(t *testing.T, handle *Handle) {
	t.Helper()
	_, _ = handle.Wait()
	f.loop.drain()
}

func TestExecuteRejectsEmptyInput(t *testing.T) {
	f := newFixture(&FakeRunner{})

	_, err := f.c.Execute(context.Background(), TurnInput{}, true, false)
	require.ErrorIs(t, err, ErrNoContent)

	assert.Equal(t, 0, f.list.Len())
	assert.True(t, f.tree.IsEmpty())
	assert.Equal(t, int64(0), f.gauge.Value())
	assert.Equal(t, StateIdle, f.c.State())
}

func TestExecuteCommitsResult(t *testing.T) {
	f := newFixture(&FakeRunner{Chunks: []string{"he", "llo"}})

	handle, err := f.c.Execute(context.Background(), TurnInput{Text: "hi"}, true, false)
	require.NoError(t, err)
	f.settle(t, handle)

	turn := f.list.Last()
	require.NotNil(t, turn)
	assert.True(t, turn.IsComplete)
	assert.Equal(t, "hello", turn.SelectedOutput())

	require.Len(t, f.tree.CurrentPath, 2)
	leaf := f.tree.CurrentLeaf()
	assert.Equal(t, conversation.RoleAssistant, leaf.Role)
	assert.Equal(t, "hello", leaf.Content)

	assert.Equal(t, StateIdle, f.c.State())
	assert.False(t, f.c.IsWaiting())
	assert.Equal(t, int64(0), f.gauge.Value())
}

func TestRegenerateAppendsVersionAndBranch(t *testing.T) {
	fake := &FakeRunner{FinalText: "v1"}
	f := newFixture(fake)

	handle, err := f.c.Execute(context.Background(), TurnInput{Text: "hi"}, true, false)
	require.NoError(t, err)
	f.settle(t, handle)

	fake.FinalText = "v2"
	handle, err = f.c.Execute(context.Background(), TurnInput{
		Displayed: "v1",
		UndoState: undo.State{LastText: "v1"},
	}, true, true)
	require.NoError(t, err)
	f.settle(t, handle)

	require.Equal(t, 1, f.list.Len())
	turn := f.list.Last()
	require.Equal(t, 2, turn.VersionCount())
	assert.Equal(t, 1, turn.CurrentVersionIndex)
	assert.Equal(t, "v2", turn.SelectedOutput())
	assert.Equal(t, "v1", turn.OutputVersions[0])

	leaf := f.tree.CurrentLeaf()
	assert.Equal(t, "v2", leaf.Content)
	siblings, idx := f.tree.Siblings(leaf.ID)
	require.Len(t, siblings, 2)
	assert.Equal(t, 1, idx)
}

// The turn list and the tree must not alias attachment buffers: the user
// node gets its own deep copy.
func TestExecuteClonesAttachmentsForTree(t *testing.T) {
	f := newFixture(&FakeRunner{FinalText: "ok"})
	img := conversation.NewImageContent([]byte{1, 2}, "image/png")

	handle, err := f.c.Execute(context.Background(), TurnInput{
		Text:   "look at this",
		Images: []*conversation.ImageContent{img},
	}, true, false)
	require.NoError(t, err)
	f.settle(t, handle)

	user := f.tree.CurrentBranch()[0]
	require.Len(t, user.Images, 1)
	assert.NotSame(t, img, user.Images[0])
	assert.Equal(t, img.ImageContent, user.Images[0].ImageContent)
	assert.Same(t, img, f.list.Last().MessageImages[0])
}

func TestRegenerateWithoutTurnsFails(t *testing.T) {
	f := newFixture(&FakeRunner{})

	_, err := f.c.Execute(context.Background(), TurnInput{}, true, true)
	require.ErrorIs(t, err, ErrNoTurnToRegenerate)
}

func TestExecutionErrorCommittedAsResultText(t *testing.T) {
	f := newFixture(&FakeRunner{Err: errors.New("backend unreachable")})

	handle, err := f.c.Execute(context.Background(), TurnInput{Text: "hi"}, true, false)
	require.NoError(t, err)

	_, runErr := handle.Wait()
	require.Error(t, runErr)
	f.loop.drain()

	turn := f.list.Last()
	require.NotNil(t, turn)
	assert.True(t, turn.IsComplete)
	assert.Equal(t, "Error: backend unreachable", turn.SelectedOutput())
	assert.Equal(t, StateIdle, f.c.State())
	assert.Equal(t, int64(0), f.gauge.Value())
}

func TestExecuteWhileWaitingRejected(t *testing.T) {
	f := newFixture(BlockingRunner{})

	handle, err := f.c.Execute(context.Background(), TurnInput{Text: "hi"}, true, false)
	require.NoError(t, err)

	_, err = f.c.Execute(context.Background(), TurnInput{Text: "again"}, true, false)
	require.ErrorIs(t, err, ErrAlreadyWaiting)

	f.c.Stop(handle.ExecutionID)
	f.settle(t, handle)
}

// Chunks of sizes [3,3,3,50] at t=0,5,9,11ms: the first flushes right away,
// the two small dribbles coalesce into one deferred flush at t=16, the large
// chunk flushes immediately at t=11.
func TestStreamingThrottleCoalescesSmallChunks(t *testing.T) {
	f := newFixture(BlockingRunner{})
	base := f.clock.Now()

	handle, err := f.c.Execute(context.Background(), TurnInput{Text: "hi"}, true, false)
	require.NoError(t, err)
	execID := handle.ExecutionID

	f.c.OnStreamingChunk("abc", "abc", false, execID)
	assert.True(t, f.c.IsStreaming())

	f.clock.Advance(5 * time.Millisecond)
	f.c.OnStreamingChunk("def", "abcdef", false, execID)

	f.clock.Advance(4 * time.Millisecond)
	f.c.OnStreamingChunk("ghi", "abcdefghi", false, execID)

	f.clock.Advance(2 * time.Millisecond)
	large := strings.Repeat("x", 50)
	f.c.OnStreamingChunk(large, "abcdefghi"+large, false, execID)

	f.clock.Advance(5 * time.Millisecond)
	f.loop.drain()

	require.Len(t, f.flushes, 3)
	assert.Equal(t, base, f.flushes[0].at)
	assert.Equal(t, "abc", f.flushes[0].text)
	assert.Equal(t, base.Add(11*time.Millisecond), f.flushes[1].at)
	assert.Equal(t, "abcdefghi"+large, f.flushes[1].text)
	assert.Equal(t, base.Add(16*time.Millisecond), f.flushes[2].at)

	f.c.Stop(execID)
	f.settle(t, handle)
}

func TestStopCommitsCancelledMarkerAndDropsLateChunks(t *testing.T) {
	f := newFixture(BlockingRunner{})

	handle, err := f.c.Execute(context.Background(), TurnInput{Text: "hi"}, true, false)
	require.NoError(t, err)
	execID := handle.ExecutionID

	f.c.OnStreamingChunk("Hello wor", "Hello wor", false, execID)
	require.True(t, f.c.IsStreaming())

	f.c.Stop(execID)

	assert.False(t, f.c.IsWaiting())
	assert.Equal(t, StateIdle, f.c.State())
	assert.Equal(t, "", f.c.CurrentExecutionID())

	turn := f.list.Last()
	require.NotNil(t, turn)
	assert.True(t, turn.IsComplete)
	assert.Equal(t, "Hello wor\n\n[cancelled]", turn.SelectedOutput())
	assert.Equal(t, int64(0), f.gauge.Value())

	// a late chunk for the same execution is stale and must not restart
	// streaming or alter the committed result
	f.c.OnStreamingChunk("ld", "Hello world", false, execID)
	assert.Equal(t, StateIdle, f.c.State())
	assert.Equal(t, "Hello wor\n\n[cancelled]", turn.SelectedOutput())

	// the cancelled runner's result is likewise stale
	f.settle(t, handle)
	assert.Equal(t, "Hello wor\n\n[cancelled]", turn.SelectedOutput())
	assert.Equal(t, int64(0), f.gauge.Value())
}

func TestGlobalAdvisoryDisable(t *testing.T) {
	f := newFixture(BlockingRunner{})

	f.c.OnGlobalExecutionStarted("other-exec")
	assert.True(t, f.c.DisabledForGlobal())

	f.c.OnGlobalExecutionCompleted("other-exec")
	assert.False(t, f.c.DisabledForGlobal())

	handle, err := f.c.Execute(context.Background(), TurnInput{Text: "hi"}, true, false)
	require.NoError(t, err)

	// our own start event must not disable us
	f.c.OnGlobalExecutionStarted(handle.ExecutionID)
	assert.False(t, f.c.DisabledForGlobal())

	// someone else's completion while we are still outstanding keeps the
	// disable in place
	f.c.OnGlobalExecutionStarted("other-exec")
	f.c.OnGlobalExecutionCompleted("other-exec")
	assert.True(t, f.c.DisabledForGlobal())

	f.c.Stop(handle.ExecutionID)
	f.c.OnGlobalExecutionCompleted(handle.ExecutionID)
	assert.False(t, f.c.DisabledForGlobal())

	f.settle(t, handle)
}

func TestStreamingEventsFlowThroughRouter(t *testing.T) {
	router, err := events.NewEventRouter()
	require.NoError(t, err)
	defer func() {
		_ = router.Close()
	}()

	loop := newEventLoop()
	clock := helpers.NewFakeClock()
	list := turns.NewList()
	tree := conversation.NewTree()

	var streamed []string
	c := NewCoordinator(list, tree, &FakeRunner{Chunks: []string{"Hello ", "world"}},
		WithClock(clock),
		WithDeliver(loop.deliver),
		WithSinks(events.NewWatermillSink(router.Publisher, "chat")),
		WithOnFlush(func(accumulated string) {
			streamed = append(streamed, accumulated)
		}),
	)
	router.AddHandler("chat-forward", "chat", ForwardToCoordinator(c))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = router.Run(ctx)
	}()
	<-router.Running()

	handle, err := c.Execute(ctx, TurnInput{Text: "hi"}, true, false)
	require.NoError(t, err)
	_, err = handle.Wait()
	require.NoError(t, err)

	deadline := time.Now().Add(2 * time.Second)
	for list.Last() == nil || !list.Last().IsComplete {
		require.True(t, time.Now().Before(deadline), "timed out waiting for result")
		select {
		case f := <-loop.ch:
			f()
		case <-time.After(10 * time.Millisecond):
		}
	}

	assert.Equal(t, "Hello world", list.Last().SelectedOutput())
	require.NotEmpty(t, streamed)
	assert.Equal(t, "Hello world", streamed[len(streamed)-1])
}
