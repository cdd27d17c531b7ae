package events

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventWireRoundTrip(t *testing.T) {
	meta := EventMetadata{
		ID:          uuid.New(),
		ExecutionID: "exec-1",
		WindowID:    "window-1",
		TabID:       "tab-1",
	}

	b, err := json.Marshal(NewPartialCompletionEvent(meta, "wor", "Hello wor"))
	require.NoError(t, err)

	decoded, err := NewEventFromJson(b)
	require.NoError(t, err)
	require.Equal(t, EventTypePartialCompletion, decoded.Type())
	assert.Equal(t, meta, decoded.Metadata())

	partial, ok := decoded.(*EventPartialCompletion)
	require.True(t, ok)
	assert.Equal(t, "wor", partial.Delta)
	assert.Equal(t, "Hello wor", partial.Completion)
}

func TestErrorEventCarriesMessage(t *testing.T) {
	meta := EventMetadata{ID: uuid.New(), ExecutionID: "exec-1"}
	b, err := json.Marshal(NewErrorEvent(meta, errors.New("backend unreachable")))
	require.NoError(t, err)

	decoded, err := NewEventFromJson(b)
	require.NoError(t, err)

	errEvent, ok := decoded.(*EventError)
	require.True(t, ok)
	assert.Equal(t, "backend unreachable", errEvent.Error())
}

type capturingPublisher struct {
	messages []*message.Message
}

func (c *capturingPublisher) Publish(topic string, messages ...*message.Message) error {
	c.messages = append(c.messages, messages...)
	return nil
}

func (c *capturingPublisher) Close() error { return nil }

func TestPublisherManagerStampsSequenceNumbers(t *testing.T) {
	manager := NewPublisherManager()
	pub := &capturingPublisher{}
	manager.SubscribePublisher("chat", pub)

	meta := EventMetadata{ID: uuid.New()}
	require.NoError(t, manager.Publish(NewStartEvent(meta)))
	require.NoError(t, manager.Publish(NewFinalEvent(meta, "done")))

	require.Len(t, pub.messages, 2)
	assert.Equal(t, "0", pub.messages[0].Metadata.Get("sequence_number"))
	assert.Equal(t, "1", pub.messages[1].Metadata.Get("sequence_number"))
}

type collectingSink struct {
	events []Event
}

func (c *collectingSink) PublishEvent(e Event) error {
	c.events = append(c.events, e)
	return nil
}

func TestContextSinksAccumulate(t *testing.T) {
	first := &collectingSink{}
	second := &collectingSink{}

	ctx := WithEventSinks(context.Background(), first)
	ctx = WithEventSinks(ctx, second)

	PublishEventToContext(ctx, NewStartEvent(EventMetadata{ID: uuid.New()}))

	require.Len(t, first.events, 1)
	require.Len(t, second.events, 1)
	assert.Equal(t, EventTypeStart, first.events[0].Type())
}
