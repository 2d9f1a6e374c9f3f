package persistence

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ngoclaw-labs/turncore/internal/domain/entity"
	"github.com/ngoclaw-labs/turncore/internal/domain/repository"
	"github.com/ngoclaw-labs/turncore/internal/infrastructure/eventbus"
)

// TelemetryRecorder is the telemetry store's write path (§4.5): it
// observes the same agent_event stream the session protocol server
// translates for clients, accumulates each in-flight model call's
// streamed text in a TraceBuffer, and flushes a Trace — plus a
// ToolCallRecord per tool call the completion requested — once the
// call that produced them ends. It never touches TurnEngine directly;
// Subscribe is the only coupling. Its flushes run on the bus's
// dispatcher goroutine, so a slow flush can make sink.Emit block once
// the bus's channel is full (see InMemoryBus).
type TelemetryRecorder struct {
	writer *TelemetryWriter
	repo   repository.TelemetryRepository
	logger *zap.Logger

	mu       sync.Mutex
	inFlight map[string]*pendingTrace // keyed by AgentEvent.TraceID
}

type pendingTrace struct {
	sessionID string
	agent     string
	buf       *TraceBuffer
	startedAt time.Time
}

// NewTelemetryRecorder builds a recorder and subscribes it to bus. The
// caller keeps bus and writer alive for the process lifetime; Close on
// the writer (not the recorder) drains any trace still in flight.
func NewTelemetryRecorder(bus eventbus.Bus, writer *TelemetryWriter, repo repository.TelemetryRepository, logger *zap.Logger) *TelemetryRecorder {
	r := &TelemetryRecorder{
		writer:   writer,
		repo:     repo,
		logger:   logger,
		inFlight: make(map[string]*pendingTrace),
	}
	bus.Subscribe(eventbus.EventTypeAgentEvent, r.handle)
	return r
}

func (r *TelemetryRecorder) handle(ctx context.Context, ev eventbus.Event) {
	agentEv, ok := ev.Payload().(entity.AgentEvent)
	if !ok {
		return
	}
	if agentEv.TraceID == "" {
		return
	}

	switch agentEv.Type {
	case entity.EventTextDelta:
		r.buffer(agentEv).AppendText(agentEv.Text)

	case entity.EventReasoningDelta:
		// Reasoning is not part of Trace.ResponseContent — §4.5 scopes
		// the captured response to the assistant-visible text.

	case entity.EventUsage:
		r.flushTrace(agentEv, "")

	case entity.EventError:
		r.flushTrace(agentEv, agentEv.ErrorMessage)

	case entity.EventToolCallEnd:
		r.saveToolCallRecord(agentEv)

	case entity.EventTurnComplete, entity.EventTaskComplete, entity.EventCancelled:
		r.discard(agentEv.TraceID)
	}
}

func (r *TelemetryRecorder) buffer(ev entity.AgentEvent) *TraceBuffer {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.inFlight[ev.TraceID]
	if !ok {
		p = &pendingTrace{sessionID: ev.SessionID, agent: ev.Agent, buf: NewTraceBuffer(), startedAt: ev.Timestamp}
		r.inFlight[ev.TraceID] = p
	}
	return p.buf
}

func (r *TelemetryRecorder) discard(traceID string) {
	r.mu.Lock()
	delete(r.inFlight, traceID)
	r.mu.Unlock()
}

// flushTrace builds and enqueues the Trace for ev.TraceID. ev carries
// the usage event's snapshot of request/response/tokens/latency when
// the call succeeded (errMsg == ""); on a failed call only the request
// side and errMsg are known.
func (r *TelemetryRecorder) flushTrace(ev entity.AgentEvent, errMsg string) {
	r.mu.Lock()
	p, ok := r.inFlight[ev.TraceID]
	if !ok {
		p = &pendingTrace{sessionID: ev.SessionID, agent: ev.Agent, buf: NewTraceBuffer(), startedAt: ev.Timestamp}
	}
	delete(r.inFlight, ev.TraceID)
	r.mu.Unlock()

	content := p.buf.Content()
	if content == "" {
		// A provider that never streams deltas (only a final resp) leaves
		// the buffer empty; the usage event carries the same content as
		// a fallback snapshot.
		content = ev.Text
	}

	trace := &entity.Trace{
		ID:                ev.TraceID,
		SessionRef:        ev.SessionID,
		AgentName:         ev.Agent,
		Provider:          ev.Provider,
		Model:             ev.Model,
		StartedAt:         p.startedAt,
		LatencyMS:         ev.LatencyMS,
		InputTokens:       ev.InputTokens,
		OutputTokens:      ev.OutputTokens,
		RequestBody:       ev.RequestBody,
		ResponseContent:   content,
		ResponseToolCalls: ev.ResponseToolCalls,
		Error:             errMsg,
	}

	if err := r.writer.Enqueue(trace); err != nil {
		r.logger.Error("failed to persist trace", zap.String("trace_id", trace.ID), zap.Error(err))
	}
}

// saveToolCallRecord persists one tool call under its owning trace.
// Unlike traces, tool call records carry no acknowledgement contract
// (§4.5 only requires durable-before-ack for the trace itself), so
// this writes directly against the repository rather than going
// through the writer's blocking queue.
func (r *TelemetryRecorder) saveToolCallRecord(ev entity.AgentEvent) {
	rec := &entity.ToolCallRecord{
		ID:        ev.ToolCallID,
		Name:      ev.ToolName,
		Arguments: ev.ToolArguments,
		EndedAt:   ev.Timestamp,
		StartedAt: ev.Timestamp.Add(-ev.ToolDuration),
		Status:    entity.ToolCallStatus(ev.ToolStatus),
		Output:    ev.ToolOutput,
	}
	if err := r.repo.SaveToolCallRecord(context.Background(), ev.TraceID, rec); err != nil {
		r.logger.Error("failed to persist tool call record", zap.String("trace_id", ev.TraceID), zap.String("tool_call_id", rec.ID), zap.Error(err))
	}
}
