package service

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/ngoclaw-labs/turncore/internal/domain/agent"
	"github.com/ngoclaw-labs/turncore/internal/domain/entity"
	domaintool "github.com/ngoclaw-labs/turncore/internal/domain/tool"
	"github.com/ngoclaw-labs/turncore/internal/domain/valueobject"
)

type scriptedLLM struct {
	responses []*LLMResponse
	calls     int
}

func (s *scriptedLLM) Generate(ctx context.Context, req *LLMRequest, deltaCh chan<- StreamChunk) (*LLMResponse, error) {
	defer close(deltaCh)
	if s.calls >= len(s.responses) {
		return &LLMResponse{FinishReason: "stop"}, nil
	}
	resp := s.responses[s.calls]
	s.calls++
	if resp.Content != "" {
		deltaCh <- StreamChunk{DeltaText: resp.Content}
	}
	return resp, nil
}

type stubTools struct {
	defs map[string]domaintool.Definition
	run  func(name string, args map[string]interface{}) (*domaintool.Result, error)
}

func (t *stubTools) Execute(ctx context.Context, name string, args map[string]interface{}, tc *domaintool.ToolContext) (*domaintool.Result, error) {
	return t.run(name, args)
}
func (t *stubTools) GetToolKind(name string) domaintool.Kind { return domaintool.KindExecute }
func (t *stubTools) GetDefinitions() []domaintool.Definition {
	out := make([]domaintool.Definition, 0, len(t.defs))
	for _, d := range t.defs {
		out = append(out, d)
	}
	return out
}

type collectingSink struct {
	events []entity.AgentEvent
}

func (s *collectingSink) Emit(ev entity.AgentEvent) { s.events = append(s.events, ev) }

func testEngine(llm LLMClient, tools ToolExecutor, cfg TurnEngineConfig) *TurnEngine {
	if cfg.MaxIterations == 0 {
		cfg.MaxIterations = 20
	}
	if cfg.DoomLoopWindow == 0 {
		cfg.DoomLoopWindow = 10
	}
	if cfg.DoomLoopThreshold == 0 {
		cfg.DoomLoopThreshold = 4
	}
	if cfg.DoomLoopNameThreshold == 0 {
		cfg.DoomLoopNameThreshold = 8
	}
	if cfg.HumanizeByteThreshold == 0 {
		cfg.HumanizeByteThreshold = 4096
	}
	if cfg.HumanizeKeepRecent == 0 {
		cfg.HumanizeKeepRecent = 2
	}
	return NewTurnEngine(llm, tools, cfg, zap.NewNop())
}

func testIdentity() *agent.Identity {
	return agent.NewIdentity("primary", "primary", "you are a helpful agent", &domaintool.Permission{}, valueobject.DefaultModelConfig())
}

func TestExecuteTurn_NoToolCalls_EmitsTurnComplete(t *testing.T) {
	llm := &scriptedLLM{responses: []*LLMResponse{{Content: "done", FinishReason: "stop"}}}
	engine := testEngine(llm, &stubTools{defs: map[string]domaintool.Definition{}}, TurnEngineConfig{})
	session := entity.NewInternalSession("s1", "primary", "primary")
	sink := &collectingSink{}

	result, err := engine.ExecuteTurn(context.Background(), session, testIdentity(), "/tmp", nil, sink, domaintool.NewCancelHandle())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.StopReason != valueobject.StopEndTurn {
		t.Fatalf("expected end_turn, got %s", result.StopReason)
	}
	if result.Text != "done" {
		t.Fatalf("expected accumulated text 'done', got %q", result.Text)
	}
	foundTurnComplete := false
	for _, ev := range sink.events {
		if ev.Type == entity.EventTurnComplete {
			foundTurnComplete = true
		}
	}
	if !foundTurnComplete {
		t.Fatal("expected a TurnComplete event")
	}
	if session.Len() != 1 {
		t.Fatalf("expected exactly one appended history event, got %d", session.Len())
	}
}

func TestExecuteTurn_TaskComplete_StopsLoop(t *testing.T) {
	llm := &scriptedLLM{responses: []*LLMResponse{
		{Content: "working on it", ToolCalls: []ToolCallFragment{{ID: "1", Name: "task_complete", Arguments: map[string]interface{}{"summary": "all done"}}}},
	}}
	tools := &stubTools{
		defs: map[string]domaintool.Definition{"task_complete": {Name: "task_complete"}},
		run: func(name string, args map[string]interface{}) (*domaintool.Result, error) {
			return &domaintool.Result{Status: "success", Output: "ok"}, nil
		},
	}
	engine := testEngine(llm, tools, TurnEngineConfig{})
	session := entity.NewInternalSession("s1", "primary", "primary")
	sink := &collectingSink{}

	result, err := engine.ExecuteTurn(context.Background(), session, testIdentity(), "/tmp", nil, sink, domaintool.NewCancelHandle())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.TaskComplete == nil || *result.TaskComplete != "all done" {
		t.Fatalf("expected task_complete summary 'all done', got %+v", result.TaskComplete)
	}
	if result.StopReason != valueobject.StopEndTurn {
		t.Fatalf("expected end_turn stop reason, got %s", result.StopReason)
	}
	if len(result.ExecutedToolCalls) != 1 {
		t.Fatalf("expected 1 executed tool call, got %d", len(result.ExecutedToolCalls))
	}
}

func TestExecuteTurn_UnknownTool_SynthesizesErrorAndContinues(t *testing.T) {
	llm := &scriptedLLM{responses: []*LLMResponse{
		{ToolCalls: []ToolCallFragment{{ID: "1", Name: "nonexistent_tool", Arguments: nil}}},
		{Content: "finished"},
	}}
	tools := &stubTools{
		defs: map[string]domaintool.Definition{},
		run: func(name string, args map[string]interface{}) (*domaintool.Result, error) {
			return nil, errUnknownTool(name)
		},
	}
	engine := testEngine(llm, tools, TurnEngineConfig{})
	session := entity.NewInternalSession("s1", "primary", "primary")
	sink := &collectingSink{}

	result, err := engine.ExecuteTurn(context.Background(), session, testIdentity(), "/tmp", nil, sink, domaintool.NewCancelHandle())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.StopReason != valueobject.StopEndTurn {
		t.Fatalf("expected the turn to recover and complete normally, got %s", result.StopReason)
	}
	if result.ExecutedToolCalls[0].Status != entity.ToolCallError {
		t.Fatalf("expected the unknown tool call to be recorded as an error, got %s", result.ExecutedToolCalls[0].Status)
	}
}

func TestExecuteTurn_Cancellation_ReturnsCancelledStopReason(t *testing.T) {
	canceller := domaintool.NewCancelHandle()
	canceller.Cancel()
	llm := &scriptedLLM{responses: []*LLMResponse{{Content: "should not run"}}}
	engine := testEngine(llm, &stubTools{defs: map[string]domaintool.Definition{}}, TurnEngineConfig{})
	session := entity.NewInternalSession("s1", "primary", "primary")
	sink := &collectingSink{}

	result, err := engine.ExecuteTurn(context.Background(), session, testIdentity(), "/tmp", nil, sink, canceller)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.StopReason != valueobject.StopCancelled {
		t.Fatalf("expected cancelled stop reason, got %s", result.StopReason)
	}
	if llm.calls != 0 {
		t.Fatalf("expected the model never to be called once cancellation was already signaled, got %d calls", llm.calls)
	}
}

func TestExecuteTurn_IterationLimit_EmitsErrorEvent(t *testing.T) {
	alwaysToolCall := func() *LLMResponse {
		return &LLMResponse{ToolCalls: []ToolCallFragment{{ID: "x", Name: "poke", Arguments: map[string]interface{}{"n": time.Now().UnixNano()}}}}
	}
	responses := make([]*LLMResponse, 0, 3)
	for i := 0; i < 3; i++ {
		responses = append(responses, alwaysToolCall())
	}
	llm := &scriptedLLM{responses: responses}
	tools := &stubTools{
		defs: map[string]domaintool.Definition{"poke": {Name: "poke"}},
		run: func(name string, args map[string]interface{}) (*domaintool.Result, error) {
			return &domaintool.Result{Status: "success", Output: "poked"}, nil
		},
	}
	engine := testEngine(llm, tools, TurnEngineConfig{MaxIterations: 2, DoomLoopWindow: 1, DoomLoopThreshold: 100, DoomLoopNameThreshold: 100})
	session := entity.NewInternalSession("s1", "primary", "primary")
	sink := &collectingSink{}

	result, err := engine.ExecuteTurn(context.Background(), session, testIdentity(), "/tmp", nil, sink, domaintool.NewCancelHandle())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.StopReason != valueobject.StopMaxTurnRequests {
		t.Fatalf("expected iteration-limit stop reason, got %s", result.StopReason)
	}
	foundError := false
	for _, ev := range sink.events {
		if ev.Type == entity.EventError {
			foundError = true
		}
	}
	if !foundError {
		t.Fatal("expected an Error event when MAX_ITERATIONS is exceeded")
	}
}

type unknownToolErr string

func (e unknownToolErr) Error() string { return "unknown tool: " + string(e) }
func errUnknownTool(name string) error { return unknownToolErr(name) }
