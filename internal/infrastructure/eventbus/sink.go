package eventbus

import (
	"context"

	"github.com/ngoclaw-labs/turncore/internal/domain/entity"
)

// EventTypeAgentEvent is the Bus event type every AgentEvent is
// published under. Subscribers — the session protocol server's
// translator, the telemetry recorder — Subscribe to this one type
// rather than one per AgentEventType, since AgentEvent.Type already
// carries that distinction in its payload.
const EventTypeAgentEvent = "agent_event"

// BusEventSink adapts a Bus into the service.EventSink interface the
// Base Turn Engine and Composite Orchestrator emit to, so InMemoryBus
// (ordered and lossless; see its doc for when Publish blocks) is the
// default transport underneath execute_turn without the domain layer
// importing this infrastructure package back.
type BusEventSink struct {
	bus Bus
}

// NewBusEventSink wraps bus as an EventSink.
func NewBusEventSink(bus Bus) *BusEventSink {
	return &BusEventSink{bus: bus}
}

// Emit publishes ev on the bus under EventTypeAgentEvent.
func (s *BusEventSink) Emit(ev entity.AgentEvent) {
	s.bus.Publish(context.Background(), NewEvent(EventTypeAgentEvent, ev))
}
