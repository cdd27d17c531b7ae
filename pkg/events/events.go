package events

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

type EventType string

const (
	// streaming lifecycle of a single execution
	EventTypeStart             EventType = "start"
	EventTypePartialCompletion EventType = "partial"
	EventTypeFinal             EventType = "final"
	EventTypeInterrupt         EventType = "interrupt"
	EventTypeError             EventType = "error"

	// cross-window advisory coordination
	EventTypeExecutionStarted   EventType = "execution-started"
	EventTypeExecutionCompleted EventType = "execution-completed"
)

// EventMetadata identifies which execution an event belongs to and where it
// originated. Consumers drop events whose ExecutionID does not match their
// active execution.
type EventMetadata struct {
	ID          uuid.UUID `json:"message_id"`
	ExecutionID string    `json:"execution_id,omitempty"`
	WindowID    string    `json:"window_id,omitempty"`
	TabID       string    `json:"tab_id,omitempty"`
}

func (em EventMetadata) MarshalZerologObject(e *zerolog.Event) {
	if em.ID != uuid.Nil {
		e.Str("event_id", em.ID.String())
	}
	if em.ExecutionID != "" {
		e.Str("execution_id", em.ExecutionID)
	}
	if em.WindowID != "" {
		e.Str("window_id", em.WindowID)
	}
	if em.TabID != "" {
		e.Str("tab_id", em.TabID)
	}
}

type Event interface {
	Type() EventType
	Metadata() EventMetadata
	Payload() []byte
}

type EventImpl struct {
	Type_     EventType     `json:"type"`
	Metadata_ EventMetadata `json:"meta,omitempty"`

	payload []byte
}

func (e *EventImpl) Type() EventType {
	return e.Type_
}

func (e *EventImpl) Metadata() EventMetadata {
	return e.Metadata_
}

func (e *EventImpl) Payload() []byte {
	return e.payload
}

var _ Event = &EventImpl{}

// EventStart is emitted when the backend accepts the prompt and inference
// begins.
type EventStart struct {
	EventImpl
}

func NewStartEvent(metadata EventMetadata) *EventStart {
	return &EventStart{
		EventImpl: EventImpl{
			Type_:     EventTypeStart,
			Metadata_: metadata,
		},
	}
}

// EventPartialCompletion carries one streaming delta plus the text
// accumulated so far, so consumers can render without keeping their own
// tally.
type EventPartialCompletion struct {
	EventImpl
	Delta string `json:"delta"`

	Completion string `json:"completion"`
}

func NewPartialCompletionEvent(metadata EventMetadata, delta string, completion string) *EventPartialCompletion {
	return &EventPartialCompletion{
		EventImpl: EventImpl{
			Type_:     EventTypePartialCompletion,
			Metadata_: metadata,
		},
		Delta:      delta,
		Completion: completion,
	}
}

type EventFinal struct {
	EventImpl
	Text string `json:"text"`
}

func NewFinalEvent(metadata EventMetadata, text string) *EventFinal {
	return &EventFinal{
		EventImpl: EventImpl{
			Type_:     EventTypeFinal,
			Metadata_: metadata,
		},
		Text: text,
	}
}

// EventInterrupt is emitted when an execution is cancelled; Text is whatever
// had streamed in before the cancellation.
type EventInterrupt struct {
	EventImpl
	Text string `json:"text"`
}

func NewInterruptEvent(metadata EventMetadata, text string) *EventInterrupt {
	return &EventInterrupt{
		EventImpl: EventImpl{
			Type_:     EventTypeInterrupt,
			Metadata_: metadata,
		},
		Text: text,
	}
}

type EventError struct {
	EventImpl
	ErrorString string `json:"error_string"`
}

func NewErrorEvent(metadata EventMetadata, err error) *EventError {
	return &EventError{
		EventImpl: EventImpl{
			Type_:     EventTypeError,
			Metadata_: metadata,
		},
		ErrorString: err.Error(),
	}
}

func (e *EventError) Error() string {
	return e.ErrorString
}

// EventExecutionStarted announces to all windows that some window began an
// execution. Windows other than the originator disable their send controls.
type EventExecutionStarted struct {
	EventImpl
}

func NewExecutionStartedEvent(metadata EventMetadata) *EventExecutionStarted {
	return &EventExecutionStarted{
		EventImpl: EventImpl{
			Type_:     EventTypeExecutionStarted,
			Metadata_: metadata,
		},
	}
}

// EventExecutionCompleted announces that the execution finished, successfully
// or not, releasing the advisory lock.
type EventExecutionCompleted struct {
	EventImpl
}

func NewExecutionCompletedEvent(metadata EventMetadata) *EventExecutionCompleted {
	return &EventExecutionCompleted{
		EventImpl: EventImpl{
			Type_:     EventTypeExecutionCompleted,
			Metadata_: metadata,
		},
	}
}

// NewEventFromJson decodes a wire payload into its concrete event type and
// stashes the raw payload for re-publishing.
func NewEventFromJson(b []byte) (Event, error) {
	var e *EventImpl
	err := json.Unmarshal(b, &e)
	if err != nil {
		return nil, err
	}

	e.payload = b

	switch e.Type_ {
	case EventTypeStart:
		ret, ok := ToTypedEvent[EventStart](e)
		if !ok {
			return nil, errors.New("could not cast event to EventStart")
		}
		return ret, nil
	case EventTypePartialCompletion:
		ret, ok := ToTypedEvent[EventPartialCompletion](e)
		if !ok {
			return nil, errors.New("could not cast event to EventPartialCompletion")
		}
		return ret, nil
	case EventTypeFinal:
		ret, ok := ToTypedEvent[EventFinal](e)
		if !ok {
			return nil, errors.New("could not cast event to EventFinal")
		}
		return ret, nil
	case EventTypeInterrupt:
		ret, ok := ToTypedEvent[EventInterrupt](e)
		if !ok {
			return nil, errors.New("could not cast event to EventInterrupt")
		}
		return ret, nil
	case EventTypeError:
		ret, ok := ToTypedEvent[EventError](e)
		if !ok {
			return nil, errors.New("could not cast event to EventError")
		}
		return ret, nil
	case EventTypeExecutionStarted:
		ret, ok := ToTypedEvent[EventExecutionStarted](e)
		if !ok {
			return nil, errors.New("could not cast event to EventExecutionStarted")
		}
		return ret, nil
	case EventTypeExecutionCompleted:
		ret, ok := ToTypedEvent[EventExecutionCompleted](e)
		if !ok {
			return nil, errors.New("could not cast event to EventExecutionCompleted")
		}
		return ret, nil
	}

	return e, nil
}

// ToTypedEvent re-decodes a generic event's payload into a concrete event
// struct.
func ToTypedEvent[T any](e Event) (*T, bool) {
	var ret *T
	err := json.Unmarshal(e.Payload(), &ret)
	if err != nil {
		return nil, false
	}

	return ret, true
}
