package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ngoclaw-labs/turncore/internal/domain/agent"
	"github.com/ngoclaw-labs/turncore/internal/domain/entity"
	domaintool "github.com/ngoclaw-labs/turncore/internal/domain/tool"
	"github.com/ngoclaw-labs/turncore/internal/domain/valueobject"
)

// EventSink is the unbounded, ordered sink execute_turn emits every
// event to. Implementations must preserve emission order and must not
// block the turn engine on a slow consumer — eventbus.InMemoryBus is
// the default transport (see its BusEventSink adapter).
type EventSink interface {
	Emit(ev entity.AgentEvent)
}

// AgentResult is the Base Turn Engine's TurnResult: accumulated text,
// the ordered tool-call execution record, the task_complete summary if
// one was observed, aggregate usage, files touched, and the stop
// reason the session protocol server reports externally.
type AgentResult struct {
	Text              string
	ExecutedToolCalls []entity.ToolCallRecord
	TaskComplete      *string
	InputTokens       int
	OutputTokens      int
	ReasoningTokens   int
	FilesChanged      []string
	StopReason        valueobject.StopReason
}

// TurnEngineConfig holds the tunables execute_turn reads, mirroring
// config.AgentConfig's runtime/guardrails sections one level down (the
// domain layer never imports the infrastructure config package
// directly; internal/application translates config.Config into this struct).
type TurnEngineConfig struct {
	MaxIterations int

	MaxRetries    int
	RetryBaseWait time.Duration
	Provider      string

	MaxTokenBudget int64

	ContextMaxTokens int
	ContextWarnRatio float64
	ContextHardRatio float64

	DoomLoopWindow        int
	DoomLoopThreshold     int
	DoomLoopNameThreshold int

	HumanizeByteThreshold int
	HumanizeKeepRecent    int

	CompactionMessageThreshold int
	CompactionKeepRecent       int
}

// TurnEngine executes one turn (execute_turn, §4.1) for a single
// agent. One TurnEngine instance is shared across calls; all per-turn
// state (state machine, loop detector, guards) is constructed fresh
// inside ExecuteTurn so concurrent turns for different agents never
// share mutable tracking state.
type TurnEngine struct {
	llm   LLMClient
	tools ToolExecutor
	cfg   TurnEngineConfig

	hooks      AgentHook
	middleware *MiddlewarePipeline

	logger *zap.Logger
}

// NewTurnEngine builds a TurnEngine bound to one LLMClient and one
// identity-scoped ToolExecutor. tools is expected to already enforce
// the owning agent's Permission (see service.ToolExecutor's doc
// comment) — ExecuteTurn does not re-filter the catalog.
func NewTurnEngine(llm LLMClient, tools ToolExecutor, cfg TurnEngineConfig, logger *zap.Logger) *TurnEngine {
	return &TurnEngine{
		llm:        llm,
		tools:      tools,
		cfg:        cfg,
		hooks:      NoOpHook{},
		middleware: NewMiddlewarePipeline(logger),
		logger:     logger,
	}
}

// SetHooks installs the lifecycle hook chain used by this engine.
func (e *TurnEngine) SetHooks(h AgentHook) { e.hooks = h }

// SetMiddleware installs the before/after-model pipeline used by this engine.
func (e *TurnEngine) SetMiddleware(mw *MiddlewarePipeline) { e.middleware = mw }

// ExecuteTurn runs the bounded ReAct loop described in §4.1: project
// history, call the model, append its response, execute any requested
// tool calls interleaved with history appends, and repeat until a
// terminal condition — no tool calls, task_complete, cancellation, the
// doom-loop guard, or MAX_ITERATIONS — ends the turn.
func (e *TurnEngine) ExecuteTurn(ctx context.Context, session *entity.InternalSession, identity *agent.Identity, cwd string, todos *entity.TodoList, sink EventSink, cancel domaintool.CancelHandle) (*AgentResult, error) {
	sm := NewStateMachine(e.cfg.MaxIterations, e.logger)
	sm.OnTransition(func(from, to AgentState, snap StateSnapshot) { e.hooks.OnStateChange(from, to, snap) })
	sm.SetModel(identity.Model.FullModelName())

	loopDetector := NewLoopDetector(e.cfg.DoomLoopWindow, e.cfg.DoomLoopThreshold, e.cfg.DoomLoopNameThreshold, e.logger)
	costGuard := NewCostGuard(e.cfg.MaxTokenBudget, 0, e.logger)
	contextGuard := NewContextGuard(e.cfg.ContextMaxTokens, e.cfg.ContextWarnRatio, e.cfg.ContextHardRatio, e.logger)

	result := &AgentResult{}

	for iteration := 0; iteration < e.cfg.MaxIterations; iteration++ {
		sm.SetStep(iteration)

		if cancel.Cancelled() {
			e.emitCancelled(sink, session.ID(), identity.Name)
			_ = sm.Transition(StateAborted)
			result.StopReason = valueobject.StopCancelled
			return result, nil
		}
		_ = sm.Transition(StateStreaming)

		history := trimForCompaction(session.History(), e.cfg.CompactionMessageThreshold, e.cfg.CompactionKeepRecent)
		messages := ProjectModelFacing(history, identity.SystemPrompt, e.cfg.HumanizeByteThreshold, e.cfg.HumanizeKeepRecent)
		messages = e.middleware.RunBeforeModel(ctx, messages, iteration)
		contextGuard.Check(messages)

		req := &LLMRequest{
			Messages:    messages,
			Tools:       e.tools.GetDefinitions(),
			Model:       identity.Model.FullModelName(),
			MaxTokens:   identity.Model.MaxTokens(),
			Temperature: identity.Model.Temperature(),
		}
		e.hooks.BeforeLLMCall(ctx, req, iteration)

		traceID := generateTraceID()
		callStart := time.Now()
		resp, err := e.generateWithRetry(ctx, req, sink, session.ID(), identity.Name, traceID)
		if err != nil {
			llmErr := ClassifyError(err, e.cfg.Provider, req.Model)
			sm.RecordError()
			if llmErr.Kind == ErrKindCancelled || cancel.Cancelled() {
				e.emitCancelled(sink, session.ID(), identity.Name)
				_ = sm.Transition(StateAborted)
				result.StopReason = valueobject.StopCancelled
				return result, nil
			}
			e.hooks.OnError(ctx, llmErr, iteration)
			sink.Emit(entity.AgentEvent{Type: entity.EventError, Agent: identity.Name, SessionID: session.ID(), TraceID: traceID, Timestamp: time.Now(), ErrorMessage: llmErr.Error()})
			_ = sm.Transition(StateError)
			result.StopReason = valueobject.StopRefusal
			return result, nil
		}
		e.hooks.AfterLLMCall(ctx, resp, iteration)
		resp = e.middleware.RunAfterModel(ctx, resp, iteration)

		result.InputTokens += resp.InputTokens
		result.OutputTokens += resp.OutputTokens
		result.ReasoningTokens += resp.ReasoningTokens
		sm.AddTokens(resp.InputTokens + resp.OutputTokens)
		_ = costGuard.AddTokens(int64(resp.InputTokens + resp.OutputTokens))

		reqBody, _ := json.Marshal(req)
		toolCallsJSON, _ := json.Marshal(resp.ToolCalls)
		sink.Emit(entity.AgentEvent{
			Type: entity.EventUsage, Agent: identity.Name, SessionID: session.ID(), TraceID: traceID, Timestamp: time.Now(),
			InputTokens: resp.InputTokens, OutputTokens: resp.OutputTokens, ReasoningTokens: resp.ReasoningTokens,
			Provider: e.cfg.Provider, Model: req.Model, LatencyMS: time.Since(callStart).Milliseconds(),
			RequestBody: string(reqBody), ResponseToolCalls: string(toolCallsJSON), Text: resp.Content,
		})

		if resp.Reasoning != "" {
			sink.Emit(entity.AgentEvent{Type: entity.EventReasoningComplete, Agent: identity.Name, SessionID: session.ID(), TraceID: traceID, Timestamp: time.Now(), Text: resp.Reasoning})
			session.Append(entity.ReasoningEvent(resp.Reasoning))
		}
		if resp.Content != "" {
			sink.Emit(entity.AgentEvent{Type: entity.EventTextComplete, Agent: identity.Name, SessionID: session.ID(), TraceID: traceID, Timestamp: time.Now(), Text: resp.Content})
			session.Append(entity.AssistantTextEvent(resp.Content))
			if result.Text == "" {
				result.Text = resp.Content
			} else {
				result.Text += "\n" + resp.Content
			}
		}
		if len(resp.ToolCalls) == 0 {
			sink.Emit(entity.AgentEvent{Type: entity.EventTurnComplete, Agent: identity.Name, SessionID: session.ID(), TraceID: traceID, Timestamp: time.Now(), Text: resp.Content})
			_ = sm.Transition(StateComplete)
			result.StopReason = valueobject.StopEndTurn
			e.hooks.OnComplete(ctx, result)
			return result, nil
		}

		_ = sm.Transition(StateToolExec)
		terminal, err := e.runToolCalls(ctx, session, identity, cwd, resp.ToolCalls, todos, sink, cancel, loopDetector, sm, result, traceID)
		if err != nil {
			return result, err
		}
		if terminal {
			e.hooks.OnComplete(ctx, result)
			return result, nil
		}
	}

	sink.Emit(entity.AgentEvent{Type: entity.EventError, Agent: identity.Name, SessionID: session.ID(), Timestamp: time.Now(), ErrorMessage: "iteration limit"})
	_ = sm.Transition(StateError)
	e.hooks.OnError(ctx, fmt.Errorf("iteration limit"), e.cfg.MaxIterations)
	result.StopReason = valueobject.StopMaxTurnRequests
	return result, nil
}

// runToolCalls executes the tool calls from one model response in
// order (§4.1 step 5), interleaving each tool-result append with its
// ToolCallEnd event. It reports terminal=true when the turn must end
// here (task_complete observed, cancellation, or the doom-loop guard
// fired).
//
// Each call's ToolCallEvent history entry is appended only once this
// loop reaches that call, immediately before it is invoked — not in a
// batch before the loop starts. That way a cancellation caught at the
// top of an iteration means the corresponding tool-call never entered
// history at all, so history never strands a tool-call block with no
// matching tool-result (§5).
func (e *TurnEngine) runToolCalls(
	ctx context.Context,
	session *entity.InternalSession,
	identity *agent.Identity,
	cwd string,
	calls []ToolCallFragment,
	todos *entity.TodoList,
	sink EventSink,
	cancel domaintool.CancelHandle,
	loopDetector *LoopDetector,
	sm *StateMachine,
	result *AgentResult,
	traceID string,
) (terminal bool, err error) {
	for _, tc := range calls {
		if cancel.Cancelled() {
			e.emitCancelled(sink, session.ID(), identity.Name)
			_ = sm.Transition(StateAborted)
			result.StopReason = valueobject.StopCancelled
			return true, nil
		}

		session.Append(entity.ToolCallEvent(tc.ID, tc.Name, tc.Arguments))
		sink.Emit(entity.AgentEvent{
			Type: entity.EventToolCallStart, Agent: identity.Name, SessionID: session.ID(), TraceID: traceID, Timestamp: time.Now(),
			ToolCallID: tc.ID, ToolName: tc.Name, ToolArguments: tc.Arguments,
		})

		if !e.hooks.BeforeToolCall(ctx, tc.Name, tc.Arguments) {
			now := time.Now()
			e.recordToolResult(session, sink, result, sm, identity.Name, traceID, tc, entity.ToolCallError, "denied by policy", nil, nil, now, now)
			continue
		}

		start := time.Now()
		toolCtx := &domaintool.ToolContext{SessionID: session.ID(), AgentName: identity.Name, CallID: tc.ID, WorkingDir: cwd, Cancel: cancel, Todos: todos}
		res, execErr := e.tools.Execute(ctx, tc.Name, tc.Arguments, toolCtx)
		end := time.Now()

		status, output, metadata, filesChanged := classifyToolResult(res, execErr, cancel)
		e.hooks.AfterToolCall(ctx, tc.Name, output, status == entity.ToolCallSuccess)
		e.recordToolResult(session, sink, result, sm, identity.Name, traceID, tc, status, output, metadata, filesChanged, start, end)

		if status == entity.ToolCallCancelled {
			_ = sm.Transition(StateAborted)
			result.StopReason = valueobject.StopCancelled
			return true, nil
		}

		argsJSON, _ := json.Marshal(tc.Arguments)
		exactLoop := loopDetector.Record(tc.Name, string(argsJSON))
		nameLoop := false
		if !domaintool.SafeKinds[e.tools.GetToolKind(tc.Name)] {
			nameLoop = loopDetector.RecordName(tc.Name)
		}
		if exactLoop || nameLoop {
			sink.Emit(entity.AgentEvent{Type: entity.EventDoomLoopDetected, Agent: identity.Name, SessionID: session.ID(), TraceID: traceID, Timestamp: time.Now(), ToolName: tc.Name})
			_ = sm.Transition(StateAborted)
			result.StopReason = valueobject.StopRefusal
			return true, nil
		}

		if tc.Name == "task_complete" {
			summary, _ := tc.Arguments["summary"].(string)
			result.TaskComplete = &summary
			sink.Emit(entity.AgentEvent{Type: entity.EventTaskComplete, Agent: identity.Name, SessionID: session.ID(), TraceID: traceID, Timestamp: time.Now(), Summary: summary})
			_ = sm.Transition(StateComplete)
			result.StopReason = valueobject.StopEndTurn
			return true, nil
		}
	}
	return false, nil
}

// recordToolResult appends the tool-result history entry, the
// execution record, and emits ToolCallEnd — the three things that must
// happen together for every tool call regardless of outcome.
func (e *TurnEngine) recordToolResult(
	session *entity.InternalSession,
	sink EventSink,
	result *AgentResult,
	sm *StateMachine,
	agentName string,
	traceID string,
	tc ToolCallFragment,
	status entity.ToolCallStatus,
	output string,
	metadata map[string]interface{},
	filesChanged []string,
	start, end time.Time,
) {
	session.Append(entity.ToolResultEvent(tc.ID, tc.Name, string(status), output, metadata))
	sm.RecordToolExec(tc.Name)

	record := entity.ToolCallRecord{
		ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments,
		StartedAt: start, EndedAt: end, Status: status, Output: output,
		Metadata: metadata, FilesChanged: filesChanged,
	}
	result.ExecutedToolCalls = append(result.ExecutedToolCalls, record)
	result.FilesChanged = append(result.FilesChanged, filesChanged...)

	sink.Emit(entity.AgentEvent{
		Type: entity.EventToolCallEnd, Agent: agentName, SessionID: session.ID(), TraceID: traceID, Timestamp: end,
		ToolCallID: tc.ID, ToolName: tc.Name, ToolArguments: tc.Arguments, ToolStatus: string(status),
		ToolOutput: output, ToolDuration: end.Sub(start), FilesChanged: filesChanged,
	})
}

// classifyToolResult normalizes a tool.Result/error pair plus the
// cooperative cancellation handle into one (status, output, metadata,
// files_changed) tuple. A nil Result with no execErr never happens by
// contract; an execErr (including an unresolved/unknown tool name,
// §4.1 step 5 bullet 2) is folded into status=error uniformly.
func classifyToolResult(res *domaintool.Result, execErr error, cancel domaintool.CancelHandle) (entity.ToolCallStatus, string, map[string]interface{}, []string) {
	if execErr != nil {
		return entity.ToolCallError, fmt.Sprintf("error: %v", execErr), nil, nil
	}
	if cancel.Cancelled() && (res == nil || res.Status != "success") {
		return entity.ToolCallCancelled, "(cancelled)", nil, nil
	}
	if res == nil {
		return entity.ToolCallError, "error: tool returned no result", nil, nil
	}
	var status entity.ToolCallStatus
	switch res.Status {
	case "success":
		status = entity.ToolCallSuccess
	case "cancelled":
		status = entity.ToolCallCancelled
	default:
		status = entity.ToolCallError
	}
	output := res.DisplayOrOutput()
	if status == entity.ToolCallError && res.Error != "" {
		output = res.Error
	}
	var filesChanged []string
	if res.Metadata != nil {
		if fc, ok := res.Metadata["files_changed"].([]string); ok {
			filesChanged = fc
		}
	}
	return status, output, res.Metadata, filesChanged
}

func (e *TurnEngine) emitCancelled(sink EventSink, sessionID, agentName string) {
	sink.Emit(entity.AgentEvent{Type: entity.EventCancelled, Agent: agentName, SessionID: sessionID, Timestamp: time.Now()})
}

// generateWithRetry calls llm.Generate, retrying retryable provider
// errors (§7 item 3) up to cfg.MaxRetries times with exponential
// backoff. Streamed text/reasoning deltas are forwarded to sink as
// they arrive on every attempt, including ones that are ultimately
// retried — a partial, abandoned stream is still useful signal to an
// observer.
func (e *TurnEngine) generateWithRetry(ctx context.Context, req *LLMRequest, sink EventSink, sessionID, agentName, traceID string) (*LLMResponse, error) {
	var lastErr error
	for attempt := 0; attempt <= e.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := e.cfg.RetryBaseWait * time.Duration(int64(1)<<uint(attempt-1))
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		deltaCh := make(chan StreamChunk, 16)
		drained := make(chan struct{})
		go func() {
			defer close(drained)
			for chunk := range deltaCh {
				if chunk.DeltaText != "" {
					sink.Emit(entity.AgentEvent{Type: entity.EventTextDelta, Agent: agentName, SessionID: sessionID, TraceID: traceID, Timestamp: time.Now(), Text: chunk.DeltaText})
				}
				if chunk.DeltaReasoning != "" {
					sink.Emit(entity.AgentEvent{Type: entity.EventReasoningDelta, Agent: agentName, SessionID: sessionID, TraceID: traceID, Timestamp: time.Now(), Text: chunk.DeltaReasoning})
				}
			}
		}()

		resp, err := e.llm.Generate(ctx, req, deltaCh)
		<-drained

		if err == nil {
			return resp, nil
		}
		classified := ClassifyError(err, e.cfg.Provider, req.Model)
		lastErr = classified
		if !classified.IsRetryable() || attempt == e.cfg.MaxRetries {
			return nil, classified
		}
		e.logger.Warn("retrying provider call after transient error",
			zap.Int("attempt", attempt+1), zap.String("kind", classified.Kind.String()))
	}
	return nil, lastErr
}

// GenerateOnce issues a single, non-streaming, tool-free completion —
// the Composite Orchestrator's generated(prompt) policy uses this once
// per run to synthesize its static injection message from prompt plus
// the original task, before settling into static(msg) behavior.
func (e *TurnEngine) GenerateOnce(ctx context.Context, model, systemPrompt, userPrompt string) (string, error) {
	req := &LLMRequest{
		Messages: []LLMMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Model: model,
	}
	deltaCh := make(chan StreamChunk, 4)
	go func() {
		for range deltaCh {
		}
	}()
	resp, err := e.llm.Generate(ctx, req, deltaCh)
	if err != nil {
		return "", ClassifyError(err, e.cfg.Provider, req.Model)
	}
	return resp.Content, nil
}

// trimForCompaction bounds the history handed to ProjectModelFacing
// once it grows past messageThreshold events, keeping only the most
// recent keepRecent plus one synthetic note of what was dropped. It
// never mutates session history — compaction is a property of the
// outbound request, not of the stored record (§4.4's humanization rule
// applies "only on the model-facing projection, never to stored
// history"; this extends the same principle to whole-event trimming).
func trimForCompaction(history []entity.HistoryEvent, messageThreshold, keepRecent int) []entity.HistoryEvent {
	if messageThreshold <= 0 || len(history) <= messageThreshold || keepRecent <= 0 || keepRecent >= len(history) {
		return history
	}
	dropped := len(history) - keepRecent
	note := entity.SystemEvent(fmt.Sprintf("[%d earlier history events omitted from this request for context size]", dropped))
	out := make([]entity.HistoryEvent, 0, keepRecent+1)
	out = append(out, note)
	out = append(out, history[len(history)-keepRecent:]...)
	return out
}
