package app

import (
	"context"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/promptdesk/pkg/events"
	"github.com/go-go-golems/promptdesk/pkg/execution"
	"github.com/go-go-golems/promptdesk/pkg/helpers"
	"github.com/go-go-golems/promptdesk/pkg/tabs"
	"github.com/go-go-golems/promptdesk/pkg/undo"
)

const chatTopic = "chat"

// Window bundles everything one conversation window owns: its tab registry,
// its live state, its execution coordinator, and the event-loop queue that
// serializes all state mutation.
type Window struct {
	Key         string
	State       *tabs.TabState
	Tabs        *tabs.Registry
	Coordinator *execution.Coordinator

	handler    *message.Handler
	deliveries chan func()

	mu     sync.Mutex
	closed bool
}

// Deliver queues a callback onto the window's event loop. Deliveries to a
// closed or saturated window are dropped.
func (w *Window) Deliver(f func()) {
	w.deliver(f)
}

// deliver reports whether the callback was accepted, so the coordinator can
// tell when its owner is gone and finish up on its own.
func (w *Window) deliver(f func()) bool {
	w.mu.Lock()
	closed := w.closed
	w.mu.Unlock()
	if closed {
		return false
	}
	select {
	case w.deliveries <- f:
		return true
	default:
		log.Warn().Str("window", w.Key).Msg("window event queue full, dropping delivery")
		return false
	}
}

// Execute dispatches through the window's coordinator and keeps the tab
// state's waiting flag in step. Must be called on the window's event loop,
// like every other state mutation.
func (w *Window) Execute(ctx context.Context, input execution.TurnInput, keepOpen bool, regenerate bool) (*execution.Handle, error) {
	handle, err := w.Coordinator.Execute(ctx, input, keepOpen, regenerate)
	if err != nil {
		return nil, err
	}
	w.State.WaitingForResult = true
	w.State.DeriveAffordances()
	return handle, nil
}

// Pump runs the window's event loop until the context is cancelled.
func (w *Window) Pump(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f := <-w.deliveries:
			f()
		}
	}
}

// Shell is the application shell: an explicit window registry (key→handle)
// injected into everything that needs to reach other windows, plus the
// process-wide outstanding-execution counter. Windows subscribe to the event
// router when opened and unsubscribe when closed.
type Shell struct {
	router       *events.EventRouter
	counter      *Counter
	clock        helpers.Clock
	maxTabs      int
	useStreaming bool

	mu      sync.Mutex
	windows map[string]*Window
}

type ShellOption func(*Shell)

func WithMaxTabs(maxTabs int) ShellOption {
	return func(s *Shell) {
		s.maxTabs = maxTabs
	}
}

func WithUseStreaming(useStreaming bool) ShellOption {
	return func(s *Shell) {
		s.useStreaming = useStreaming
	}
}

func WithClock(clock helpers.Clock) ShellOption {
	return func(s *Shell) {
		s.clock = clock
	}
}

func NewShell(router *events.EventRouter, options ...ShellOption) *Shell {
	ret := &Shell{
		router:       router,
		counter:      &Counter{},
		clock:        helpers.NewRealClock(),
		maxTabs:      tabs.DefaultMaxTabs,
		useStreaming: true,
		windows:      make(map[string]*Window),
	}
	for _, o := range options {
		o(ret)
	}
	return ret
}

func (s *Shell) Counter() *Counter {
	return s.counter
}

// OpenWindow creates a window under the given key, wires its coordinator to
// the shared counter and event topic, and subscribes it to the router.
func (s *Shell) OpenWindow(ctx context.Context, key string, runner execution.Runner) (*Window, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.windows[key]; exists {
		return nil, errors.Errorf("window %q is already open", key)
	}

	w := &Window{
		Key:        key,
		deliveries: make(chan func(), 256),
	}

	w.State = tabs.NewTabState(tabs.WithStackOptions(
		undo.WithClock(s.clock),
		undo.WithDeliver(w.Deliver),
	))
	w.Tabs = tabs.NewRegistry(s.maxTabs, w.State)

	publisher := events.NewPublisherManager()
	publisher.SubscribePublisher(chatTopic, s.router.Publisher)

	w.Coordinator = execution.NewCoordinator(w.State.Turns, w.State.Tree, runner,
		execution.WithWindowID(key),
		execution.WithGauge(s.counter),
		execution.WithClock(s.clock),
		execution.WithUseStreaming(s.useStreaming),
		execution.WithDeliver(w.deliver),
		execution.WithPublisher(publisher),
		execution.WithSinks(events.NewWatermillSink(s.router.Publisher, chatTopic)),
		execution.WithOnFlush(func(accumulated string) {
			w.State.Output.Undo.SetTextSilent(accumulated)
			w.State.IsStreaming = true
			w.State.StreamingAccumulated = accumulated
		}),
		execution.WithOnIdle(func() {
			if turn := w.State.Turns.Last(); turn != nil {
				w.State.Output.Undo.SetTextSilent(turn.SelectedOutput())
			}
			w.State.IsStreaming = false
			w.State.WaitingForResult = false
			w.State.StreamingAccumulated = ""
			w.State.DeriveAffordances()
		}),
	)

	w.handler = s.router.AddHandler("window-"+key, chatTopic, execution.ForwardToCoordinator(w.Coordinator))
	if s.router.IsRunning() {
		if err := s.router.RunHandlers(ctx); err != nil {
			return nil, errors.Wrap(err, "failed to start window handler")
		}
	}

	s.windows[key] = w
	log.Debug().Str("window", key).Int("open_windows", len(s.windows)).Msg("opened window")
	return w, nil
}

// CloseWindow unsubscribes the window and removes it from the registry. An
// execution dispatched fire-and-forget keeps running; only the window's view
// of it goes away.
func (s *Shell) CloseWindow(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, exists := s.windows[key]
	if !exists {
		return errors.Errorf("window %q is not open", key)
	}

	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()

	// a handler can only be stopped once the router has started it
	if w.handler != nil && s.router.IsRunning() {
		w.handler.Stop()
	}
	delete(s.windows, key)
	log.Debug().Str("window", key).Int("open_windows", len(s.windows)).Msg("closed window")
	return nil
}

// Window looks up an open window by key.
func (s *Shell) Window(key string) (*Window, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, exists := s.windows[key]
	return w, exists
}

// Keys returns the keys of all open windows.
func (s *Shell) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ret := make([]string, 0, len(s.windows))
	for key := range s.windows {
		ret = append(ret, key)
	}
	return ret
}

func (s *Shell) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows)
}
