package rpcserver

// Wire types for the external JSON-RPC dialect (§6). These mirror the
// third-party session protocol's shapes closely enough to be wire
// compatible, but are declared locally rather than imported so this
// package has no dependency on any particular client SDK.

// AgentInfo identifies this server in an initialize result.
type AgentInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// AgentCapabilities advertises what this server supports. Kept minimal
// and flat rather than a nested capability tree — every capability
// this core has is already unconditionally on.
type AgentCapabilities struct {
	LoadSession    bool `json:"loadSession"`
	PromptCapabilities struct {
		Image    bool `json:"image"`
		Resource bool `json:"resource"`
	} `json:"promptCapabilities"`
}

// InitializeParams is the initialize request's params. The core
// doesn't negotiate protocol version beyond echoing one back; an
// unknown client version is accepted rather than rejected.
type InitializeParams struct {
	ProtocolVersion int `json:"protocolVersion"`
}

// InitializeResult is initialize's result.
type InitializeResult struct {
	ProtocolVersion   int               `json:"protocolVersion"`
	AgentCapabilities AgentCapabilities `json:"agentCapabilities"`
	AgentInfo         AgentInfo         `json:"agentInfo"`
}

// ProtocolVersion is the one version this server speaks. initialize is
// idempotent: every call returns this same value regardless of what
// the client requested.
const ProtocolVersion = 1

// MCPServer is one entry of session/new's mcpServers array. The core
// does not itself dial MCP servers (out of scope here); the field
// exists so the param shape matches the external protocol and a
// caller's request validates even though this implementation ignores
// the contents.
type MCPServer struct {
	Name    string   `json:"name"`
	Command string   `json:"command,omitempty"`
	Args    []string `json:"args,omitempty"`
}

// NewSessionParams is session/new's params.
type NewSessionParams struct {
	CWD        string      `json:"cwd"`
	MCPServers []MCPServer `json:"mcpServers"`
}

// NewSessionResult is session/new's result.
type NewSessionResult struct {
	SessionID string `json:"sessionId"`
}

// ContentBlockType discriminates PromptParams.Prompt entries.
type ContentBlockType string

const (
	ContentBlockText     ContentBlockType = "text"
	ContentBlockResource ContentBlockType = "resource"
	ContentBlockImage    ContentBlockType = "image"
)

// ContentBlock is one typed block of external prompt content. Only
// "text" is required to be supported by the core (§4.3); resource and
// image blocks pass through opaquely when present, or are rejected as
// a typed error when the model client can't consume them.
type ContentBlock struct {
	Type     ContentBlockType `json:"type"`
	Text     string           `json:"text,omitempty"`
	URI      string           `json:"uri,omitempty"`
	MimeType string           `json:"mimeType,omitempty"`
	Data     string           `json:"data,omitempty"`
}

// PromptParams is session/prompt's params.
type PromptParams struct {
	SessionID string         `json:"sessionId"`
	Prompt    []ContentBlock `json:"prompt"`
}

// PromptResult is session/prompt's terminal result.
type PromptResult struct {
	StopReason string `json:"stopReason"`
}

// CancelParams is session/cancel's params (a notification: no result).
type CancelParams struct {
	SessionID string `json:"sessionId"`
}

// SetModeParams is session/setMode's params.
type SetModeParams struct {
	SessionID string `json:"sessionId"`
	ModeID    string `json:"modeId"`
}

// SessionUpdateKind discriminates the session/update notification's
// tagged union via its sessionUpdate field.
type SessionUpdateKind string

const (
	UpdateAgentMessageChunk SessionUpdateKind = "agent_message_chunk"
	UpdateAgentThoughtChunk SessionUpdateKind = "agent_thought_chunk"
	UpdateToolCall          SessionUpdateKind = "tool_call"
	UpdateToolCallUpdate    SessionUpdateKind = "tool_call_update"
	UpdatePlan              SessionUpdateKind = "plan"
)

// ToolCallStatus is the status field of tool_call / tool_call_update
// notifications.
type ToolCallStatus string

const (
	ToolCallInProgress ToolCallStatus = "in_progress"
	ToolCallCompleted  ToolCallStatus = "completed"
	ToolCallFailed     ToolCallStatus = "failed"
)

// PlanEntry is one item of a plan notification, derived from the
// shared TodoList's items.
type PlanEntry struct {
	Content  string `json:"content"`
	Status   string `json:"status"`
	Priority string `json:"priority,omitempty"`
}

// SessionUpdate is the tagged-union payload of a session/update
// notification. Exactly the fields relevant to SessionUpdate's
// discriminator are populated; the rest are left zero and omitted.
type SessionUpdate struct {
	SessionUpdate SessionUpdateKind `json:"sessionUpdate"`

	// agent_message_chunk / agent_thought_chunk
	Content *ContentBlock `json:"content,omitempty"`

	// tool_call / tool_call_update
	ToolCallID string                 `json:"toolCallId,omitempty"`
	Title      string                 `json:"title,omitempty"`
	Kind       string                 `json:"kind,omitempty"`
	Status     ToolCallStatus         `json:"status,omitempty"`
	RawInput   map[string]interface{} `json:"rawInput,omitempty"`
	RawOutput  string                 `json:"rawOutput,omitempty"`

	// plan
	Entries []PlanEntry `json:"entries,omitempty"`
}

// SessionUpdateParams is the params object of a session/update
// notification.
type SessionUpdateParams struct {
	SessionID string        `json:"sessionId"`
	Update    SessionUpdate `json:"update"`
}
