package service

import (
	"context"
	"sync"

	"go.uber.org/zap"

	domaintool "github.com/ngoclaw-labs/turncore/internal/domain/tool"
	"github.com/ngoclaw-labs/turncore/internal/infrastructure/config"
)

// ApprovalFunc requests interactive user confirmation for a tool call.
// It blocks until the user responds or ctx is cancelled. Returns true
// if approved, false if denied or timed out. Interactive prompting
// itself is out of scope here — this is the seam a session protocol
// server implementation hangs its approval UI off of.
type ApprovalFunc func(ctx context.Context, toolName string, args map[string]interface{}) (bool, error)

// SecurityHook is an AgentHook that gates tool calls according to
// SecurityConfig.ApprovalMode and the calling agent's tool.Permission,
// optionally requesting interactive confirmation for mutating tools
// (§4.6's "ask" status — here resolved via ApprovalFunc rather than
// auto-allowed, since a protocol server CAN implement interactive
// prompting even though this core does not require it).
type SecurityHook struct {
	NoOpHook

	cfg          config.SecurityConfig
	permission   *domaintool.Permission
	approvalFunc ApprovalFunc
	logger       *zap.Logger
	mu           sync.RWMutex
}

// NewSecurityHook creates a SecurityHook bound to cfg, permission, and
// approvalFunc (nil means every gated call auto-approves with a
// warning, used when no protocol-server approval channel exists yet).
func NewSecurityHook(cfg config.SecurityConfig, permission *domaintool.Permission, approvalFunc ApprovalFunc, logger *zap.Logger) *SecurityHook {
	return &SecurityHook{cfg: cfg, permission: permission, approvalFunc: approvalFunc, logger: logger}
}

// BeforeToolCallForKind gates one tool call of the given Kind, vetoing
// (returning false for) calls that fail permission or are denied approval.
func (h *SecurityHook) BeforeToolCallForKind(ctx context.Context, toolName string, args map[string]interface{}, kind domaintool.Kind) bool {
	h.mu.RLock()
	cfg := h.cfg
	perm := h.permission
	h.mu.RUnlock()

	if perm != nil && !perm.CanUseTool(toolName) {
		h.logger.Info("tool call denied by permission", zap.String("tool", toolName))
		return false
	}

	if cfg.ApprovalMode == "auto" {
		return true
	}

	dangerous := domaintool.MutatorKinds[kind]
	if cfg.ApprovalMode == "ask_dangerous" && !dangerous {
		return true
	}
	// ask_all falls through — every call needs approval regardless of kind.

	if kind == domaintool.KindExecute {
		if cmd, ok := args["command"].(string); ok && perm != nil {
			if perm.ResolveCommand(cmd) == domaintool.PermissionAllow {
				return true
			}
		}
	}

	if h.approvalFunc == nil {
		h.logger.Warn("no approval function set, auto-approving", zap.String("tool", toolName))
		return true
	}

	h.logger.Info("requesting user approval for tool", zap.String("tool", toolName), zap.String("mode", cfg.ApprovalMode))
	approved, err := h.approvalFunc(ctx, toolName, args)
	if err != nil {
		h.logger.Error("approval request failed", zap.String("tool", toolName), zap.Error(err))
		return false
	}
	if !approved {
		h.logger.Info("tool call denied by user", zap.String("tool", toolName))
	}
	return approved
}

// BeforeToolCall implements the plain AgentHook signature, treating an
// unknown tool kind as KindExecute (the most conservative choice).
func (h *SecurityHook) BeforeToolCall(ctx context.Context, toolName string, args map[string]interface{}) bool {
	return h.BeforeToolCallForKind(ctx, toolName, args, domaintool.KindExecute)
}

// SetApprovalFunc sets the approval callback, for deferred injection
// once a protocol server's approval channel becomes available.
func (h *SecurityHook) SetApprovalFunc(fn ApprovalFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.approvalFunc = fn
}

// SetApprovalMode changes the approval mode ("auto", "ask_dangerous", "ask_all").
func (h *SecurityHook) SetApprovalMode(mode string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cfg.ApprovalMode = mode
}

// GetConfig returns the current security config.
func (h *SecurityHook) GetConfig() config.SecurityConfig {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cfg
}

var _ AgentHook = (*SecurityHook)(nil)
