package execution

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/go-go-golems/promptdesk/pkg/events"
)

// FakeRunner replays a scripted response, publishing each chunk as a partial
// event through the context sinks. Used by tests and the demo binary.
type FakeRunner struct {
	Chunks    []string
	FinalText string
	Err       error

	// Delay paces chunk delivery; zero means as fast as possible.
	Delay time.Duration
}

var _ Runner = &FakeRunner{}

func (f *FakeRunner) RunPrompt(ctx context.Context, payload *Payload) (*Result, error) {
	if f.Err != nil {
		return nil, f.Err
	}

	metadata := events.EventMetadataFromContext(ctx)

	events.PublishEventToContext(ctx, events.NewStartEvent(metadata))

	var sb strings.Builder
	for _, chunk := range f.Chunks {
		if f.Delay > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(f.Delay):
			}
		}
		if ctx.Err() != nil {
			metadata.ID = uuid.New()
			events.PublishEventToContext(ctx, events.NewInterruptEvent(metadata, sb.String()))
			return nil, ctx.Err()
		}

		sb.WriteString(chunk)
		metadata.ID = uuid.New()
		events.PublishEventToContext(ctx, events.NewPartialCompletionEvent(metadata, chunk, sb.String()))
	}

	text := f.FinalText
	if text == "" {
		text = sb.String()
	}

	metadata.ID = uuid.New()
	events.PublishEventToContext(ctx, events.NewFinalEvent(metadata, text))

	return &Result{Success: true, Content: text}, nil
}

// BlockingRunner parks until its context is cancelled, for tests that drive
// chunk and result notifications by hand.
type BlockingRunner struct{}

var _ Runner = &BlockingRunner{}

func (BlockingRunner) RunPrompt(ctx context.Context, payload *Payload) (*Result, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}
