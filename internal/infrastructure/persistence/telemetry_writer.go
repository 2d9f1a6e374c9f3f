package persistence

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/ngoclaw-labs/turncore/internal/domain/entity"
	"github.com/ngoclaw-labs/turncore/internal/domain/repository"
	"go.uber.org/zap"
)

// TelemetryWriter is the telemetry store's single background writer:
// every producer (one per session's turn engine) enqueues a completed
// Trace here; one goroutine serializes writes to the repository so the
// store is never on the critical path of event emission, while still
// letting a caller block until a specific trace is durable (needed
// because TurnComplete must not be acknowledged externally until its
// trace has landed).
type TelemetryWriter struct {
	repo   repository.TelemetryRepository
	logger *zap.Logger

	queue chan writeJob
	done  chan struct{}
}

type writeJob struct {
	trace *entity.Trace
	ack   chan error
}

// NewTelemetryWriter starts the background writer goroutine. Close
// must be called once at process shutdown, after which Enqueue panics.
func NewTelemetryWriter(repo repository.TelemetryRepository, logger *zap.Logger) *TelemetryWriter {
	w := &TelemetryWriter{
		repo:   repo,
		logger: logger,
		queue:  make(chan writeJob, 256),
		done:   make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *TelemetryWriter) run() {
	defer close(w.done)
	for job := range w.queue {
		err := w.repo.SaveTrace(context.Background(), job.trace)
		if err != nil {
			w.logger.Error("telemetry write failed", zap.String("trace_id", job.trace.ID), zap.Error(err))
		}
		if job.ack != nil {
			job.ack <- err
			close(job.ack)
		}
	}
}

// Enqueue submits trace for writing and blocks until it is durable —
// this is what lets a turn engine hold TurnComplete's acknowledgement
// open until the trace has actually landed, per the store's
// durable-before-acknowledged contract, while the write itself still
// happens off the event-emission path.
func (w *TelemetryWriter) Enqueue(trace *entity.Trace) error {
	ack := make(chan error, 1)
	w.queue <- writeJob{trace: trace, ack: ack}
	return <-ack
}

// Close drains the queue and stops the writer, used at process exit so
// no enqueued trace is lost.
func (w *TelemetryWriter) Close() {
	close(w.queue)
	<-w.done
}

// TraceBuffer accumulates one in-flight completion's streaming text
// and tool-call arguments so the telemetry writer only needs the final
// snapshot, not every delta.
type TraceBuffer struct {
	mu        sync.Mutex
	content   []byte
	toolCalls map[string]*bufferedToolCall
	order     []string
}

type bufferedToolCall struct {
	name string
	args []byte
}

// NewTraceBuffer creates an empty buffer.
func NewTraceBuffer() *TraceBuffer {
	return &TraceBuffer{toolCalls: make(map[string]*bufferedToolCall)}
}

// AppendText appends a text delta.
func (b *TraceBuffer) AppendText(delta string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.content = append(b.content, delta...)
}

// AppendToolCallDelta appends to the named tool call's argument
// buffer, registering it on first sight.
func (b *TraceBuffer) AppendToolCallDelta(id, name, argsDelta string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	tc, ok := b.toolCalls[id]
	if !ok {
		tc = &bufferedToolCall{name: name}
		b.toolCalls[id] = tc
		b.order = append(b.order, id)
	}
	if name != "" {
		tc.name = name
	}
	tc.args = append(tc.args, argsDelta...)
}

// Content returns the accumulated response text.
func (b *TraceBuffer) Content() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.content)
}

// ToolCalls returns the accumulated tool calls in first-seen order.
func (b *TraceBuffer) ToolCalls() []entity.ToolCallInfo {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]entity.ToolCallInfo, 0, len(b.order))
	for _, id := range b.order {
		tc := b.toolCalls[id]
		var args map[string]interface{}
		_ = json.Unmarshal(tc.args, &args)
		out = append(out, entity.ToolCallInfo{ID: id, Name: tc.name, Arguments: args})
	}
	return out
}
