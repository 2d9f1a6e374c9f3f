package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ngoclaw-labs/turncore/internal/domain/entity"
	domaintool "github.com/ngoclaw-labs/turncore/internal/domain/tool"
	"go.uber.org/zap"
)

// AIClientAdapter adapts a non-streaming completion function to the
// LLMClient interface, for providers without native streaming support:
// it synthesizes a single terminal StreamChunk carrying the whole
// response before returning.
type AIClientAdapter struct {
	generateFn func(ctx context.Context, req *LLMRequest) (*LLMResponse, error)
	logger     *zap.Logger
}

// NewAIClientAdapter wraps generateFn as an LLMClient.
func NewAIClientAdapter(generateFn func(ctx context.Context, req *LLMRequest) (*LLMResponse, error), logger *zap.Logger) *AIClientAdapter {
	return &AIClientAdapter{generateFn: generateFn, logger: logger}
}

// Generate implements LLMClient.
func (a *AIClientAdapter) Generate(ctx context.Context, req *LLMRequest, deltaCh chan<- StreamChunk) (*LLMResponse, error) {
	resp, err := a.generateFn(ctx, req)
	if err != nil {
		close(deltaCh)
		return nil, err
	}
	deltaCh <- StreamChunk{
		DeltaText:       resp.Content,
		FinishReason:    resp.FinishReason,
		InputTokens:     resp.InputTokens,
		OutputTokens:    resp.OutputTokens,
		ReasoningTokens: resp.ReasoningTokens,
	}
	close(deltaCh)
	return resp, nil
}

// ToolExecutorAdapter adapts a tool registry and a permission directly
// to the turn engine's ToolExecutor seam, without going through the
// infrastructure tool package — the turn engine only ever depends on
// the domain tool abstraction.
type ToolExecutorAdapter struct {
	registry   domaintool.Registry
	permission *domaintool.Permission
	logger     *zap.Logger
}

// NewToolExecutorAdapter builds an adapter bound to reg and permission.
func NewToolExecutorAdapter(reg domaintool.Registry, permission *domaintool.Permission, logger *zap.Logger) *ToolExecutorAdapter {
	return &ToolExecutorAdapter{registry: reg, permission: permission, logger: logger}
}

// Execute runs name(args) under tc, after a permission and schema check.
func (t *ToolExecutorAdapter) Execute(ctx context.Context, name string, args map[string]interface{}, tc *domaintool.ToolContext) (*domaintool.Result, error) {
	if t.permission != nil && !t.permission.CanUseTool(name) {
		return &domaintool.Result{Status: "error", Output: fmt.Sprintf("tool %q is not permitted for this agent", name), Error: "denied"}, nil
	}

	tl, exists := t.registry.Get(name)
	if !exists {
		return &domaintool.Result{Status: "error", Output: fmt.Sprintf("tool %q not found", name), Error: "not found"}, nil
	}

	if err := domaintool.ValidateArguments(tl.Schema(), args); err != nil {
		return &domaintool.Result{Status: "error", Output: fmt.Sprintf("invalid arguments: %v", err), Error: err.Error()}, nil
	}

	return tl.Execute(ctx, args, tc)
}

// GetToolKind returns the Kind of a registered tool, defaulting to
// KindExecute (the most conservative, approval-requiring kind) for an
// unknown name.
func (t *ToolExecutorAdapter) GetToolKind(name string) domaintool.Kind {
	tl, exists := t.registry.Get(name)
	if !exists {
		return domaintool.KindExecute
	}
	return tl.Kind()
}

// GetDefinitions returns the permission-filtered tool catalog.
func (t *ToolExecutorAdapter) GetDefinitions() []domaintool.Definition {
	if t.permission != nil {
		return t.permission.FilteredDefinitions(t.registry)
	}
	return t.registry.List()
}

// ParseToolCallsFromText extracts tool calls from text-based model
// output, for models without native function-calling. Supports:
//   - [TOOL_CALL] name({"arg":"val"}) [/TOOL_CALL]
//   - ```tool_call\n{"name":"...","arguments":{...}}\n```
func ParseToolCallsFromText(text string) (string, []entity.ToolCallInfo) {
	var toolCalls []entity.ToolCallInfo
	cleaned := text

	for {
		startIdx := strings.Index(cleaned, "[TOOL_CALL]")
		if startIdx == -1 {
			break
		}
		endIdx := strings.Index(cleaned[startIdx:], "[/TOOL_CALL]")
		if endIdx == -1 {
			break
		}
		endIdx += startIdx

		callStr := strings.TrimSpace(cleaned[startIdx+len("[TOOL_CALL]") : endIdx])
		parenIdx := strings.Index(callStr, "(")
		if parenIdx > 0 && strings.HasSuffix(callStr, ")") {
			name := strings.TrimSpace(callStr[:parenIdx])
			argsStr := callStr[parenIdx+1 : len(callStr)-1]

			var args map[string]interface{}
			if err := json.Unmarshal([]byte(argsStr), &args); err == nil {
				toolCalls = append(toolCalls, entity.ToolCallInfo{
					ID:        fmt.Sprintf("tc_%d", len(toolCalls)),
					Name:      name,
					Arguments: args,
				})
			}
		}
		cleaned = cleaned[:startIdx] + cleaned[endIdx+len("[/TOOL_CALL]"):]
	}

	for {
		const startMarker = "```tool_call\n"
		startIdx := strings.Index(cleaned, startMarker)
		if startIdx == -1 {
			break
		}
		rest := cleaned[startIdx+len(startMarker):]
		endIdx := strings.Index(rest, "\n```")
		if endIdx == -1 {
			break
		}

		jsonStr := strings.TrimSpace(rest[:endIdx])
		var call struct {
			Name      string                 `json:"name"`
			Arguments map[string]interface{} `json:"arguments"`
		}
		if err := json.Unmarshal([]byte(jsonStr), &call); err == nil {
			toolCalls = append(toolCalls, entity.ToolCallInfo{
				ID:        fmt.Sprintf("tc_%d", len(toolCalls)),
				Name:      call.Name,
				Arguments: call.Arguments,
			})
		}
		cleaned = cleaned[:startIdx] + cleaned[startIdx+len(startMarker)+endIdx+len("\n```"):]
	}

	return strings.TrimSpace(cleaned), toolCalls
}
