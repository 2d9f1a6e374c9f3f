package persistence

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/ngoclaw-labs/turncore/internal/domain/entity"
	"github.com/ngoclaw-labs/turncore/internal/domain/repository"
	"github.com/ngoclaw-labs/turncore/internal/infrastructure/eventbus"
)

type fakeTelemetryRepository struct {
	mu        sync.Mutex
	traces    []*entity.Trace
	toolCalls map[string][]*entity.ToolCallRecord
}

func newFakeTelemetryRepository() *fakeTelemetryRepository {
	return &fakeTelemetryRepository{toolCalls: make(map[string][]*entity.ToolCallRecord)}
}

func (f *fakeTelemetryRepository) SaveTrace(ctx context.Context, trace *entity.Trace) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.traces = append(f.traces, trace)
	return nil
}

func (f *fakeTelemetryRepository) FindTraceByID(ctx context.Context, id string) (*entity.Trace, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.traces {
		if t.ID == id {
			return t, nil
		}
	}
	return nil, nil
}

func (f *fakeTelemetryRepository) QueryTraces(ctx context.Context, q repository.TraceQuery) ([]*entity.Trace, error) {
	return nil, nil
}

func (f *fakeTelemetryRepository) CountTraces(ctx context.Context, sessionRef string) (int64, error) {
	return 0, nil
}

func (f *fakeTelemetryRepository) SaveToolCallRecord(ctx context.Context, traceID string, rec *entity.ToolCallRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.toolCalls[traceID] = append(f.toolCalls[traceID], rec)
	return nil
}

func (f *fakeTelemetryRepository) FindToolCallRecords(ctx context.Context, traceID string) ([]*entity.ToolCallRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.toolCalls[traceID], nil
}

func (f *fakeTelemetryRepository) snapshot() ([]*entity.Trace, map[string][]*entity.ToolCallRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	traces := append([]*entity.Trace(nil), f.traces...)
	tc := make(map[string][]*entity.ToolCallRecord, len(f.toolCalls))
	for k, v := range f.toolCalls {
		tc[k] = append([]*entity.ToolCallRecord(nil), v...)
	}
	return traces, tc
}

func newTestRecorder(t *testing.T) (*eventbus.InMemoryBus, *fakeTelemetryRepository, *TelemetryWriter) {
	t.Helper()
	logger := zap.NewNop()
	bus := eventbus.NewInMemoryBus(logger, 64)
	repo := newFakeTelemetryRepository()
	writer := NewTelemetryWriter(repo, logger)
	NewTelemetryRecorder(bus, writer, repo, logger)
	t.Cleanup(func() {
		writer.Close()
		bus.Close()
	})
	return bus, repo, writer
}

func publishAgentEvent(bus *eventbus.InMemoryBus, ev entity.AgentEvent) {
	bus.Publish(context.Background(), eventbus.NewEvent(eventbus.EventTypeAgentEvent, ev))
}

func TestTelemetryRecorder_AccumulatesDeltasAndFlushesTraceOnUsage(t *testing.T) {
	bus, repo, _ := newTestRecorder(t)
	traceID := "trace-1"

	publishAgentEvent(bus, entity.AgentEvent{Type: entity.EventTextDelta, SessionID: "s1", Agent: "primary", TraceID: traceID, Text: "hello "})
	publishAgentEvent(bus, entity.AgentEvent{Type: entity.EventTextDelta, SessionID: "s1", Agent: "primary", TraceID: traceID, Text: "world"})
	publishAgentEvent(bus, entity.AgentEvent{
		Type: entity.EventUsage, SessionID: "s1", Agent: "primary", TraceID: traceID,
		InputTokens: 10, OutputTokens: 5, Provider: "anthropic", Model: "claude", LatencyMS: 42,
		RequestBody: `{"messages":[]}`, ResponseToolCalls: `[]`, Text: "hello world",
	})
	publishAgentEvent(bus, entity.AgentEvent{Type: entity.EventTurnComplete, SessionID: "s1", Agent: "primary", TraceID: traceID})

	waitFor(t, func() bool {
		traces, _ := repo.snapshot()
		return len(traces) == 1
	})

	traces, _ := repo.snapshot()
	got := traces[0]
	if got.ID != traceID {
		t.Fatalf("ID = %q, want %q", got.ID, traceID)
	}
	if got.ResponseContent != "hello world" {
		t.Fatalf("ResponseContent = %q, want accumulated deltas", got.ResponseContent)
	}
	if got.InputTokens != 10 || got.OutputTokens != 5 {
		t.Fatalf("tokens = %d/%d, want 10/5", got.InputTokens, got.OutputTokens)
	}
	if got.Provider != "anthropic" || got.Model != "claude" {
		t.Fatalf("provider/model = %q/%q", got.Provider, got.Model)
	}
	if got.RequestBody == "" || got.Error != "" {
		t.Fatalf("unexpected RequestBody/Error: %q / %q", got.RequestBody, got.Error)
	}
}

func TestTelemetryRecorder_ToolCallEndPersistsRecordLinkedToTrace(t *testing.T) {
	bus, repo, _ := newTestRecorder(t)
	traceID := "trace-2"

	publishAgentEvent(bus, entity.AgentEvent{
		Type: entity.EventToolCallStart, SessionID: "s1", Agent: "primary", TraceID: traceID,
		ToolCallID: "call-1", ToolName: "read_file", ToolArguments: map[string]interface{}{"path": "a.go"},
	})
	publishAgentEvent(bus, entity.AgentEvent{
		Type: entity.EventToolCallEnd, SessionID: "s1", Agent: "primary", TraceID: traceID,
		ToolCallID: "call-1", ToolName: "read_file", ToolArguments: map[string]interface{}{"path": "a.go"},
		ToolStatus: string(entity.ToolCallSuccess), ToolOutput: "package main", ToolDuration: 5 * time.Millisecond,
	})

	waitFor(t, func() bool {
		_, tc := repo.snapshot()
		return len(tc[traceID]) == 1
	})

	_, tc := repo.snapshot()
	rec := tc[traceID][0]
	if rec.ID != "call-1" || rec.Name != "read_file" {
		t.Fatalf("tool call record mismatch: %+v", rec)
	}
	if rec.Status != entity.ToolCallSuccess || rec.Output != "package main" {
		t.Fatalf("tool call record status/output mismatch: %+v", rec)
	}
	if rec.Arguments["path"] != "a.go" {
		t.Fatalf("tool call record arguments mismatch: %+v", rec.Arguments)
	}
}

func TestTelemetryRecorder_ErrorFlushesTraceWithErrorField(t *testing.T) {
	bus, repo, _ := newTestRecorder(t)
	traceID := "trace-3"

	publishAgentEvent(bus, entity.AgentEvent{Type: entity.EventError, SessionID: "s1", Agent: "primary", TraceID: traceID, ErrorMessage: "rate limited"})

	waitFor(t, func() bool {
		traces, _ := repo.snapshot()
		return len(traces) == 1
	})

	traces, _ := repo.snapshot()
	if traces[0].Error != "rate limited" {
		t.Fatalf("Error = %q, want %q", traces[0].Error, "rate limited")
	}
}

func TestTelemetryRecorder_IgnoresEventsWithoutTraceID(t *testing.T) {
	bus, repo, _ := newTestRecorder(t)

	publishAgentEvent(bus, entity.AgentEvent{Type: entity.EventCancelled, SessionID: "s1", Agent: "primary"})
	time.Sleep(50 * time.Millisecond)

	traces, tc := repo.snapshot()
	if len(traces) != 0 || len(tc) != 0 {
		t.Fatalf("expected no writes for a traceless event, got %d traces / %d tool-call sets", len(traces), len(tc))
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}
