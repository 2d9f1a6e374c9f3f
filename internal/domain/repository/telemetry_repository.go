package repository

import (
	"context"
	"time"

	"github.com/ngoclaw-labs/turncore/internal/domain/entity"
)

// TraceQuery is a structured filter over the trace table. Zero-valued
// fields are not applied — an empty TraceQuery matches every trace.
type TraceQuery struct {
	IDPrefix   string
	SessionRef string
	AgentName  string
	Since      time.Time
	Until      time.Time
	Limit      int
}

// TelemetryRepository is the append-only durable store for Trace
// records: every write must be durable before the call that produced
// it is acknowledged back to the caller (§4.5).
type TelemetryRepository interface {
	// SaveTrace persists one completed (or failed) completion trace.
	SaveTrace(ctx context.Context, trace *entity.Trace) error

	// FindTraceByID returns the trace with the given id, or an error if
	// absent.
	FindTraceByID(ctx context.Context, id string) (*entity.Trace, error)

	// QueryTraces returns traces matching q, newest first.
	QueryTraces(ctx context.Context, q TraceQuery) ([]*entity.Trace, error)

	// CountTraces reports how many traces a session has produced.
	CountTraces(ctx context.Context, sessionRef string) (int64, error)

	// SaveToolCallRecord persists one tool execution record, linked to
	// the trace id of the model completion whose response requested it.
	SaveToolCallRecord(ctx context.Context, traceID string, rec *entity.ToolCallRecord) error

	// FindToolCallRecords returns every tool call recorded under traceID.
	FindToolCallRecords(ctx context.Context, traceID string) ([]*entity.ToolCallRecord, error)
}
