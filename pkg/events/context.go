package events

import (
	"context"

	"github.com/rs/zerolog/log"
)

type eventSinksKeyType struct{}

var eventSinksKey = eventSinksKeyType{}

type eventMetadataKeyType struct{}

var eventMetadataKey = eventMetadataKeyType{}

// WithEventMetadata stamps the context with the metadata every event
// published during this execution should carry (execution id, window, tab).
func WithEventMetadata(ctx context.Context, metadata EventMetadata) context.Context {
	return context.WithValue(ctx, eventMetadataKey, metadata)
}

func EventMetadataFromContext(ctx context.Context) EventMetadata {
	metadata, ok := ctx.Value(eventMetadataKey).(EventMetadata)
	if !ok {
		return EventMetadata{}
	}
	return metadata
}

// WithEventSinks attaches sinks to the context. Later calls append rather
// than replace, so nested scopes can add their own observers.
func WithEventSinks(ctx context.Context, sinks ...EventSink) context.Context {
	existing := EventSinksFromContext(ctx)
	combined := make([]EventSink, 0, len(existing)+len(sinks))
	combined = append(combined, existing...)
	combined = append(combined, sinks...)
	return context.WithValue(ctx, eventSinksKey, combined)
}

func EventSinksFromContext(ctx context.Context) []EventSink {
	sinks, ok := ctx.Value(eventSinksKey).([]EventSink)
	if !ok {
		return nil
	}
	return sinks
}

// PublishEventToContext sends the event to every sink attached to the
// context. Publish failures are logged, not propagated: a broken observer
// must not abort the execution it observes.
func PublishEventToContext(ctx context.Context, event Event) {
	for _, sink := range EventSinksFromContext(ctx) {
		if err := sink.PublishEvent(event); err != nil {
			log.Warn().Err(err).Str("event_type", string(event.Type())).Msg("failed to publish event to sink")
		}
	}
}
