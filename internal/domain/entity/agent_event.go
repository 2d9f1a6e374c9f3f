package entity

import "time"

// AgentEventType enumerates every event the Base Turn Engine can emit,
// per the spec's "Events emitted" contract.
type AgentEventType string

const (
	EventTextDelta         AgentEventType = "text_delta"
	EventTextComplete      AgentEventType = "text_complete"
	EventReasoningDelta    AgentEventType = "reasoning_delta"
	EventReasoningComplete AgentEventType = "reasoning_complete"
	EventToolCallStart     AgentEventType = "tool_call_start"
	EventToolCallEnd       AgentEventType = "tool_call_end"
	EventTurnComplete      AgentEventType = "turn_complete"
	EventTaskComplete      AgentEventType = "task_complete"
	EventError             AgentEventType = "error"
	EventCancelled         AgentEventType = "cancelled"
	EventDoomLoopDetected  AgentEventType = "doom_loop_detected"
	EventUsage             AgentEventType = "usage"
)

// AgentEvent is one item on a turn's event_sink. Every event is tagged
// with the agent name that produced it, so the Composite Orchestrator
// can forward events from either sub-agent through one unified stream
// without losing provenance.
type AgentEvent struct {
	Type      AgentEventType
	Agent     string
	SessionID string
	Timestamp time.Time

	// TraceID correlates every event produced by one model completion
	// (its streamed deltas, its usage event, and the tool calls it
	// requested) back to the telemetry store's Trace row for that
	// completion. Empty on events with no single owning completion,
	// e.g. cancellation or the loop-level iteration-limit error.
	TraceID string

	// text_delta / text_complete / reasoning_delta / reasoning_complete;
	// also set to the full response content on usage, a fallback
	// snapshot for telemetry when no delta events preceded it.
	Text string

	// tool_call_start / tool_call_end
	ToolCallID    string
	ToolName      string
	ToolArguments map[string]interface{}
	ToolStatus    string // success | error | cancelled
	ToolOutput    string
	ToolDuration  time.Duration
	FilesChanged  []string

	// task_complete
	Summary string

	// error
	ErrorMessage string

	// usage — also carries the telemetry store's per-call Trace fields,
	// since usage fires exactly once per completed model call.
	InputTokens       int
	OutputTokens      int
	ReasoningTokens   int
	Provider          string
	Model             string
	LatencyMS         int64
	RequestBody       string
	ResponseToolCalls string
}

// NewAgentEvent stamps the timestamp and agent tag, mirroring the
// teacher's emitEvent helper but returning the value instead of
// mutating it through a channel send, so callers can unit-test event
// construction independent of delivery.
func NewAgentEvent(agent string, typ AgentEventType) AgentEvent {
	return AgentEvent{Type: typ, Agent: agent, Timestamp: time.Now()}
}

// ToolCallInfo is a tool call parsed from a model response, before it
// is resolved against the registry or recorded as a ToolCallRecord.
type ToolCallInfo struct {
	ID        string
	Name      string
	Arguments map[string]interface{}
}
