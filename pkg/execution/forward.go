package execution

import (
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/promptdesk/pkg/events"
)

// ForwardToCoordinator returns a watermill handler that decodes chat events
// off a topic and dispatches them to the coordinator through its deliver
// function, keeping all state mutation on the owning event loop.
func ForwardToCoordinator(c *Coordinator) func(msg *message.Message) error {
	return func(msg *message.Message) error {
		defer msg.Ack()

		e, err := events.NewEventFromJson(msg.Payload)
		if err != nil {
			log.Error().Err(err).Str("message_id", msg.UUID).Msg("failed to parse chat event")
			return nil
		}

		executionID := e.Metadata().ExecutionID

		switch ev := e.(type) {
		case *events.EventPartialCompletion:
			c.deliver(func() {
				c.OnStreamingChunk(ev.Delta, ev.Completion, false, executionID)
			})
		case *events.EventFinal:
			c.deliver(func() {
				c.OnStreamingChunk("", ev.Text, true, executionID)
			})
		case *events.EventInterrupt:
			c.deliver(func() {
				c.OnStreamingChunk("", ev.Text, true, executionID)
			})
		case *events.EventError:
			// terminal errors land through OnResult on the dispatch
			// goroutine; nothing to do here
		case *events.EventExecutionStarted:
			c.deliver(func() {
				c.OnGlobalExecutionStarted(executionID)
			})
		case *events.EventExecutionCompleted:
			c.deliver(func() {
				c.OnGlobalExecutionCompleted(executionID)
			})
		case *events.EventStart:
			log.Trace().Str("execution_id", executionID).Msg("execution accepted by backend")
		default:
			log.Warn().Str("event_type", string(e.Type())).Msg("unhandled chat event type")
		}

		return nil
	}
}
