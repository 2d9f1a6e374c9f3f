package entity

import "time"

// HistoryEventType enumerates the interleaved-history event kinds,
// reflecting the real execution timeline of an InternalSession.
type HistoryEventType string

const (
	HistoryUserMessage    HistoryEventType = "user_message"
	HistoryAssistantText  HistoryEventType = "assistant_text"
	HistoryReasoning      HistoryEventType = "reasoning"
	HistoryToolCall       HistoryEventType = "tool_call"
	HistoryToolResult     HistoryEventType = "tool_result"
	HistoryHandoff        HistoryEventType = "handoff"
	HistorySystemEvent    HistoryEventType = "system_event"
)

// HistoryEvent is one entry of an InternalSession's interleaved history:
// a single atomic occurrence in execution order, never a coalesced
// multi-block message. The model-facing projection (see
// service.ProjectModelFacing) coalesces runs of these back into the
// assistant/tool LLMMessage shape a model call actually sends.
type HistoryEvent struct {
	Type      HistoryEventType
	Timestamp time.Time

	// user_message / assistant_text / reasoning / handoff / system_event
	Text string

	// tool_call
	ToolCallID    string
	ToolName      string
	ToolArguments map[string]interface{}

	// tool_result — ToolCallID/ToolName identify which call this answers
	ToolStatus   string // success | error | cancelled
	ToolOutput   string
	ToolMetadata map[string]interface{}
}

// UserMessageEvent builds a user-message history event.
func UserMessageEvent(text string) HistoryEvent {
	return HistoryEvent{Type: HistoryUserMessage, Timestamp: time.Now(), Text: text}
}

// AssistantTextEvent builds an assistant-text history event.
func AssistantTextEvent(text string) HistoryEvent {
	return HistoryEvent{Type: HistoryAssistantText, Timestamp: time.Now(), Text: text}
}

// ReasoningEvent builds a reasoning history event.
func ReasoningEvent(text string) HistoryEvent {
	return HistoryEvent{Type: HistoryReasoning, Timestamp: time.Now(), Text: text}
}

// ToolCallEvent builds a tool-call history event.
func ToolCallEvent(id, name string, args map[string]interface{}) HistoryEvent {
	return HistoryEvent{Type: HistoryToolCall, Timestamp: time.Now(), ToolCallID: id, ToolName: name, ToolArguments: args}
}

// ToolResultEvent builds a tool-result history event.
func ToolResultEvent(id, name, status, output string, metadata map[string]interface{}) HistoryEvent {
	return HistoryEvent{
		Type:         HistoryToolResult,
		Timestamp:    time.Now(),
		ToolCallID:   id,
		ToolName:     name,
		ToolStatus:   status,
		ToolOutput:   output,
		ToolMetadata: metadata,
	}
}

// HandoffEvent builds a handoff history event — used for the
// composite orchestrator's role-flip: one agent's output appended as
// a user-role message to its partner's history.
func HandoffEvent(text string) HistoryEvent {
	return HistoryEvent{Type: HistoryHandoff, Timestamp: time.Now(), Text: text}
}

// SystemEvent builds a system-event history entry (e.g. a static/
// generated control-flow policy's injected message).
func SystemEvent(text string) HistoryEvent {
	return HistoryEvent{Type: HistorySystemEvent, Timestamp: time.Now(), Text: text}
}
