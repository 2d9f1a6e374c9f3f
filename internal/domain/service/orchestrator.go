package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ngoclaw-labs/turncore/internal/domain/agent"
	"github.com/ngoclaw-labs/turncore/internal/domain/entity"
	domaintool "github.com/ngoclaw-labs/turncore/internal/domain/tool"
	"github.com/ngoclaw-labs/turncore/internal/domain/valueobject"
)

// RunResultKind discriminates the Composite Orchestrator's four run
// outcomes (§4.2). Modeled the same way as valueobject.ControlFlowPolicy
// — a flat struct plus discriminator rather than a class hierarchy.
type RunResultKind string

const (
	RunComplete   RunResultKind = "complete"
	RunNeedsInput RunResultKind = "needs_input"
	RunCancelled  RunResultKind = "cancelled"
	RunError      RunResultKind = "error"
)

// RunResult is the Composite Orchestrator's public return value.
type RunResult struct {
	Kind    RunResultKind
	Summary string // set when Kind == RunComplete
	Reason  string // set when Kind == RunError
}

func completeResult(summary string) *RunResult { return &RunResult{Kind: RunComplete, Summary: summary} }
func needsInputResult() *RunResult              { return &RunResult{Kind: RunNeedsInput} }
func cancelledResult() *RunResult               { return &RunResult{Kind: RunCancelled} }
func errorResult(reason string) *RunResult      { return &RunResult{Kind: RunError, Reason: reason} }

// OrchestratorConfig holds the composite-run tunables — the §4.2
// counterpart of TurnEngineConfig.
type OrchestratorConfig struct {
	MaxCompositeTurns int
}

// CompositeOrchestrator drives one CompositeSession between a primary
// agent and, when the active policy calls for one, a co-agent, applying
// the declared control-flow policy between turns (§4.2). The primary and
// co-agent each get their own TurnEngine because each carries a distinct
// ToolExecutor bound to that agent's own permission-filtered catalog —
// the engines never share mutable state, only the event sink and, via
// the composite session, the shared TodoList.
type CompositeOrchestrator struct {
	primary *TurnEngine
	coagent *TurnEngine // nil until a coagent policy is applied
	cfg     OrchestratorConfig
	logger  *zap.Logger
}

// NewCompositeOrchestrator builds an orchestrator. coagentEngine may be
// nil for composite sessions that never adopt a coagent policy; Run
// returns Error if a coagent policy is selected without one configured.
func NewCompositeOrchestrator(primaryEngine, coagentEngine *TurnEngine, cfg OrchestratorConfig, logger *zap.Logger) *CompositeOrchestrator {
	if cfg.MaxCompositeTurns <= 0 {
		cfg.MaxCompositeTurns = 10
	}
	return &CompositeOrchestrator{primary: primaryEngine, coagent: coagentEngine, cfg: cfg, logger: logger}
}

// Run executes session/prompt's orchestration (§4.2) against the
// already-appended user prompt in session.Primary's history, applying
// session's current control-flow policy until the policy's exit
// condition, MAX_COMPOSITE_TURNS, or cancellation ends the run.
func (o *CompositeOrchestrator) Run(ctx context.Context, session *entity.CompositeSession, primaryIdentity, coagentIdentity *agent.Identity, sink EventSink, cancel domaintool.CancelHandle) (*RunResult, error) {
	policy := session.Policy()

	if policy.Kind == valueobject.PolicyGenerated {
		msg, err := o.synthesizeGeneratedMessage(ctx, session, primaryIdentity, policy)
		if err != nil {
			return errorResult(fmt.Sprintf("generated policy synthesis failed: %v", err)), nil
		}
		policy = valueobject.Static(msg)
		session.SetPolicy(policy)
	}

	if policy.RequiresCoagent() {
		if o.coagent == nil || coagentIdentity == nil {
			return errorResult("coagent policy selected but no co-agent is configured"), nil
		}
		if session.Coagent() == nil {
			session.SetCoagent(entity.NewInternalSession(session.ID()+"-coagent", coagentIdentity.Name, "coagent"))
		}
	}

	for turn := 0; ; turn++ {
		if cancel.Cancelled() || session.Cancelled() {
			return cancelledResult(), nil
		}
		if policy.Kind != valueobject.PolicyPassthrough && turn >= o.cfg.MaxCompositeTurns {
			return errorResult("composite turn limit"), nil
		}

		primaryRes, err := o.primary.ExecuteTurn(ctx, session.Primary(), primaryIdentity, session.CWD(), session.Todos(), sink, cancel)
		if err != nil {
			return nil, err
		}
		if primaryRes.StopReason == valueobject.StopCancelled {
			return cancelledResult(), nil
		}
		if primaryRes.StopReason != valueobject.StopEndTurn && primaryRes.StopReason != valueobject.StopMaxTurnRequests {
			return errorResult(string(primaryRes.StopReason)), nil
		}
		if primaryRes.TaskComplete != nil {
			return completeResult(*primaryRes.TaskComplete), nil
		}

		switch policy.Kind {
		case valueobject.PolicyPassthrough:
			return needsInputResult(), nil

		case valueobject.PolicyLoop:
			continue

		case valueobject.PolicyStatic:
			session.Primary().Append(entity.UserMessageEvent(policy.Message))
			continue

		case valueobject.PolicyCoagent:
			digest := roleFlipDigest(primaryRes)
			session.Coagent().Append(entity.HandoffEvent(digest))

			coagentRes, err := o.coagent.ExecuteTurn(ctx, session.Coagent(), coagentIdentity, session.CWD(), session.Todos(), sink, cancel)
			if err != nil {
				return nil, err
			}
			if coagentRes.StopReason == valueobject.StopCancelled {
				return cancelledResult(), nil
			}
			if coagentRes.StopReason != valueobject.StopEndTurn && coagentRes.StopReason != valueobject.StopMaxTurnRequests {
				return errorResult(string(coagentRes.StopReason)), nil
			}
			if policy.CanTerminate && coagentRes.TaskComplete != nil {
				return completeResult(*coagentRes.TaskComplete), nil
			}

			session.Primary().Append(entity.HandoffEvent(coagentRes.Text))
			continue

		default:
			return errorResult(fmt.Sprintf("unrecognized control-flow policy %q", policy.Kind)), nil
		}
	}
}

// synthesizeGeneratedMessage runs the generated(prompt) policy's
// one-time model call to produce the message that static(msg) will
// then inject after every subsequent primary turn. "The original task"
// is the first user-role entry in the primary's history.
func (o *CompositeOrchestrator) synthesizeGeneratedMessage(ctx context.Context, session *entity.CompositeSession, primaryIdentity *agent.Identity, policy valueobject.ControlFlowPolicy) (string, error) {
	task := firstUserMessage(session.Primary().History())
	userPrompt := policy.Prompt
	if task != "" {
		userPrompt = policy.Prompt + "\n\nTask:\n" + task
	}
	return o.primary.GenerateOnce(ctx, primaryIdentity.Model.FullModelName(), primaryIdentity.SystemPrompt, userPrompt)
}

func firstUserMessage(history []entity.HistoryEvent) string {
	for _, ev := range history {
		if ev.Type == entity.HistoryUserMessage {
			return ev.Text
		}
	}
	return ""
}

// roleFlipDigest builds the "primary's text + a humanized digest of its
// tool calls" message the coagent policy hands to the co-agent as a
// user-role entry (§4.2's role flip).
func roleFlipDigest(res *AgentResult) string {
	var b strings.Builder
	b.WriteString(res.Text)
	for _, tc := range res.ExecutedToolCalls {
		b.WriteString(fmt.Sprintf("\n[%s(%s) -> %s]", tc.Name, tc.Status, humanizeOutput(tc.Output, 512)))
	}
	return b.String()
}
