package service

import (
	"context"

	domaintool "github.com/ngoclaw-labs/turncore/internal/domain/tool"
)

// LLMClient is the interface the Base Turn Engine uses to talk to a
// model provider. Provider transport (HTTP, gRPC, retries against a
// specific vendor API) is out of scope here — this is the seam the
// engine is built against.
type LLMClient interface {
	// Generate sends one completion request and streams incremental
	// deltas to deltaCh as they arrive, closing it when the stream ends.
	// It returns the fully accumulated response once the stream closes.
	Generate(ctx context.Context, req *LLMRequest, deltaCh chan<- StreamChunk) (*LLMResponse, error)
}

// StreamChunk is one incremental delta from a streaming completion.
type StreamChunk struct {
	DeltaText        string          // incremental assistant text
	DeltaReasoning   string          // incremental reasoning/thinking text
	DeltaToolCallID  string          // set when a new tool call begins or continues
	DeltaToolName    string          // set once, when a tool call's name is first known
	DeltaToolArgs    string          // incremental JSON-argument fragment for the active tool call
	FinishReason     string          // "", "stop", "tool_calls", "length"
	InputTokens      int             // usage, populated on the terminal chunk
	OutputTokens     int
	ReasoningTokens  int
}

// LLMRequest is one completion request: the model-facing message
// projection plus the filtered tool catalog available to the agent.
type LLMRequest struct {
	Messages    []LLMMessage
	Tools       []domaintool.Definition
	Model       string
	MaxTokens   int
	Temperature float64
}

// LLMMessage is one model-facing message — the flattened, coalesced
// projection the turn engine builds from a session's interleaved
// history (see history.go), not the interleaved history itself.
type LLMMessage struct {
	Role       string // "system", "user", "assistant", "tool"
	Content    string
	ToolCalls  []ToolCallFragment
	ToolCallID string
	Name       string
}

// ToolCallFragment is a tool call as it appears inside an assistant
// LLMMessage, already accumulated from whatever streaming fragments
// produced it.
type ToolCallFragment struct {
	ID        string
	Name      string
	Arguments map[string]interface{}
}

// LLMResponse is the fully accumulated result of one Generate call.
type LLMResponse struct {
	Content         string
	Reasoning       string
	ToolCalls       []ToolCallFragment
	FinishReason    string
	InputTokens     int
	OutputTokens    int
	ReasoningTokens int
}

// ToolExecutor is the seam the Base Turn Engine uses to run a model's
// requested tool calls. ToolExecutorAdapter (agent_adapters.go) is the
// default implementation, bound to a domain tool.Registry and
// tool.Permission.
type ToolExecutor interface {
	Execute(ctx context.Context, name string, args map[string]interface{}, tc *domaintool.ToolContext) (*domaintool.Result, error)
	GetToolKind(name string) domaintool.Kind
	GetDefinitions() []domaintool.Definition
}
