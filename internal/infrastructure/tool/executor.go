package tool

import (
	"context"
	"fmt"
	"time"

	domaintool "github.com/ngoclaw-labs/turncore/internal/domain/tool"
	"go.uber.org/zap"
)

// ToolCall is one requested invocation, as parsed from a model turn.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]interface{}
}

// ToolResult is the outcome handed back to the turn engine.
type ToolResult struct {
	ToolCallID string
	Output     string
	Display    string
	Success    bool
	Cancelled  bool
	Error      error
	Duration   time.Duration
}

// Executor resolves a ToolCall against the registry, checks it against
// the calling agent's Permission, validates its arguments against the
// tool's schema, and invokes it. One Executor is shared across turns;
// the Permission is swapped per agent identity.
type Executor struct {
	registry   domaintool.Registry
	permission *domaintool.Permission
	logger     *zap.Logger
}

// NewExecutor builds an Executor bound to reg and permission.
func NewExecutor(reg domaintool.Registry, permission *domaintool.Permission, logger *zap.Logger) *Executor {
	return &Executor{registry: reg, permission: permission, logger: logger}
}

// Execute runs call under tc, returning a synthetic error/cancelled
// result rather than an error for every case a tool-result(error) must
// surface back to the model (denied, unknown tool, bad arguments,
// cancelled) — only a genuine infrastructure fault returns a Go error.
func (e *Executor) Execute(ctx context.Context, call ToolCall, tc *domaintool.ToolContext) (*ToolResult, error) {
	start := time.Now()

	if tc.Cancel != nil && tc.Cancel.Cancelled() {
		return &ToolResult{ToolCallID: call.ID, Cancelled: true, Output: "cancelled before execution", Duration: time.Since(start)}, nil
	}

	if !e.permission.CanUseTool(call.Name) {
		e.logger.Warn("tool execution denied", zap.String("tool", call.Name))
		return &ToolResult{
			ToolCallID: call.ID,
			Output:     fmt.Sprintf("tool %q is not permitted for this agent", call.Name),
			Success:    false,
			Duration:   time.Since(start),
		}, nil
	}

	t, exists := e.registry.Get(call.Name)
	if !exists {
		e.logger.Warn("tool not found", zap.String("tool", call.Name))
		return &ToolResult{
			ToolCallID: call.ID,
			Output:     fmt.Sprintf("tool %q is not registered", call.Name),
			Success:    false,
			Duration:   time.Since(start),
		}, nil
	}

	if err := domaintool.ValidateArguments(t.Schema(), call.Arguments); err != nil {
		e.logger.Warn("tool argument validation failed", zap.String("tool", call.Name), zap.Error(err))
		return &ToolResult{
			ToolCallID: call.ID,
			Output:     fmt.Sprintf("invalid arguments for %q: %v", call.Name, err),
			Success:    false,
			Duration:   time.Since(start),
		}, nil
	}

	e.logger.Debug("executing tool", zap.String("tool", call.Name), zap.String("call_id", call.ID))
	result, err := t.Execute(ctx, call.Arguments, tc)
	duration := time.Since(start)
	if err != nil {
		e.logger.Error("tool execution error", zap.String("tool", call.Name), zap.Duration("duration", duration), zap.Error(err))
		return &ToolResult{ToolCallID: call.ID, Output: err.Error(), Success: false, Duration: duration}, nil
	}

	e.logger.Debug("tool execution completed", zap.String("tool", call.Name), zap.Duration("duration", duration), zap.String("status", result.Status))
	return &ToolResult{
		ToolCallID: call.ID,
		Output:     result.Output,
		Display:    result.Display,
		Success:    result.Success(),
		Cancelled:  result.Status == "cancelled",
		Duration:   duration,
	}, nil
}

// Definitions returns the tool catalog filtered by this Executor's
// permission, in registry declaration order.
func (e *Executor) Definitions() []domaintool.Definition {
	return e.permission.FilteredDefinitions(e.registry)
}

// SetPermission swaps the active permission, used when the orchestrator
// switches which agent identity is driving the current turn.
func (e *Executor) SetPermission(p *domaintool.Permission) {
	e.permission = p
}
