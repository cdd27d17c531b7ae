package events

import (
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// EventSink receives lifecycle events from a running execution. Sinks are
// carried through the context so runners deep in a streaming loop can publish
// without knowing about transports.
type EventSink interface {
	PublishEvent(e Event) error
}

// WatermillSink publishes events as JSON onto a watermill topic.
type WatermillSink struct {
	publisher message.Publisher
	topic     string
}

func NewWatermillSink(publisher message.Publisher, topic string) *WatermillSink {
	return &WatermillSink{
		publisher: publisher,
		topic:     topic,
	}
}

var _ EventSink = &WatermillSink{}

func (w *WatermillSink) PublishEvent(e Event) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}

	msg := message.NewMessage(watermill.NewUUID(), b)
	return w.publisher.Publish(w.topic, msg)
}
