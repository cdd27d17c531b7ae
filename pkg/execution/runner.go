package execution

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// Result is the terminal outcome of one execution. Backend failures are
// carried in Error with Success false; they are committed into the
// conversation the same way successes are, keeping history replayable.
type Result struct {
	Success  bool                   `json:"success"`
	Content  string                 `json:"content,omitempty"`
	Error    string                 `json:"error,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Runner executes one prompt payload against a backend. Implementations
// publish streaming events through the sinks attached to ctx and block until
// the execution finishes or ctx is cancelled.
type Runner interface {
	RunPrompt(ctx context.Context, payload *Payload) (*Result, error)
}

var ErrHandleNil = errors.New("execution handle is nil")

// Handle represents a single in-flight execution.
//
// It is cancelable and waitable; the underlying run is always driven by
// context cancellation.
type Handle struct {
	ExecutionID string

	done chan struct{}

	mu     sync.Mutex
	cancel context.CancelFunc
	result *Result
	err    error
}

func newHandle(executionID string, cancel context.CancelFunc) *Handle {
	return &Handle{
		ExecutionID: executionID,
		done:        make(chan struct{}),
		cancel:      cancel,
	}
}

func (h *Handle) setResult(result *Result, err error) {
	h.mu.Lock()
	h.result = result
	h.err = err
	cancel := h.cancel
	h.cancel = nil
	close(h.done)
	h.mu.Unlock()
	// release the run context
	if cancel != nil {
		cancel()
	}
}

// Cancel cancels the in-flight execution. Safe to call multiple times.
func (h *Handle) Cancel() {
	if h == nil {
		return
	}
	h.mu.Lock()
	cancel := h.cancel
	h.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Wait blocks until the execution completes and returns its result and error.
func (h *Handle) Wait() (*Result, error) {
	if h == nil {
		return nil, ErrHandleNil
	}
	<-h.done
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.result, h.err
}

// IsRunning reports whether the execution appears to still be running.
func (h *Handle) IsRunning() bool {
	if h == nil {
		return false
	}
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}
