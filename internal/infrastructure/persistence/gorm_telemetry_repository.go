package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/ngoclaw-labs/turncore/internal/domain/entity"
	"github.com/ngoclaw-labs/turncore/internal/domain/repository"
	"github.com/ngoclaw-labs/turncore/internal/infrastructure/persistence/models"
	domainErrors "github.com/ngoclaw-labs/turncore/pkg/errors"
	"gorm.io/gorm"
)

// GormTelemetryRepository is the GORM-backed TelemetryRepository.
type GormTelemetryRepository struct {
	db *gorm.DB
}

// NewGormTelemetryRepository builds a GormTelemetryRepository over db.
func NewGormTelemetryRepository(db *gorm.DB) repository.TelemetryRepository {
	return &GormTelemetryRepository{db: db}
}

// SaveTrace persists trace. Uses Create, not Save: traces are
// append-only and never updated once written.
func (r *GormTelemetryRepository) SaveTrace(ctx context.Context, trace *entity.Trace) error {
	model := toTraceModel(trace)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return domainErrors.NewInternalError("failed to save trace: " + err.Error())
	}
	return nil
}

// FindTraceByID looks up one trace, supporting id-prefix lookup when
// id is shorter than a full id (§4.5: "queryable by ... id-prefix").
func (r *GormTelemetryRepository) FindTraceByID(ctx context.Context, id string) (*entity.Trace, error) {
	var model models.TraceModel
	err := r.db.WithContext(ctx).
		Where("id = ? OR id LIKE ?", id, id+"%").
		Order("started_at asc").
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainErrors.NewNotFoundError("trace not found")
		}
		return nil, domainErrors.NewInternalError("failed to find trace: " + err.Error())
	}
	return toTraceEntity(&model), nil
}

// QueryTraces returns traces matching q, newest first.
func (r *GormTelemetryRepository) QueryTraces(ctx context.Context, q repository.TraceQuery) ([]*entity.Trace, error) {
	db := r.db.WithContext(ctx).Model(&models.TraceModel{})
	if q.IDPrefix != "" {
		db = db.Where("id LIKE ?", q.IDPrefix+"%")
	}
	if q.SessionRef != "" {
		db = db.Where("session_ref = ?", q.SessionRef)
	}
	if q.AgentName != "" {
		db = db.Where("agent_name = ?", q.AgentName)
	}
	if !q.Since.IsZero() {
		db = db.Where("started_at >= ?", q.Since)
	}
	if !q.Until.IsZero() {
		db = db.Where("started_at <= ?", q.Until)
	}
	db = db.Order("started_at desc")
	if q.Limit > 0 {
		db = db.Limit(q.Limit)
	}

	var rows []models.TraceModel
	if err := db.Find(&rows).Error; err != nil {
		return nil, domainErrors.NewInternalError("failed to query traces: " + err.Error())
	}

	out := make([]*entity.Trace, 0, len(rows))
	for i := range rows {
		out = append(out, toTraceEntity(&rows[i]))
	}
	return out, nil
}

// CountTraces reports how many traces a session has produced.
func (r *GormTelemetryRepository) CountTraces(ctx context.Context, sessionRef string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.TraceModel{}).
		Where("session_ref = ?", sessionRef).Count(&count).Error
	if err != nil {
		return 0, domainErrors.NewInternalError("failed to count traces: " + err.Error())
	}
	return count, nil
}

// SaveToolCallRecord persists rec under traceID. Like SaveTrace, this
// uses Create — tool call records are append-only.
func (r *GormTelemetryRepository) SaveToolCallRecord(ctx context.Context, traceID string, rec *entity.ToolCallRecord) error {
	model := toToolCallRecordModel(traceID, rec)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return domainErrors.NewInternalError("failed to save tool call record: " + err.Error())
	}
	return nil
}

// FindToolCallRecords returns every tool call recorded under traceID,
// oldest first (call order within the turn that produced them).
func (r *GormTelemetryRepository) FindToolCallRecords(ctx context.Context, traceID string) ([]*entity.ToolCallRecord, error) {
	var rows []models.ToolCallRecordModel
	err := r.db.WithContext(ctx).
		Where("trace_id = ?", traceID).
		Order("started_at asc").
		Find(&rows).Error
	if err != nil {
		return nil, domainErrors.NewInternalError("failed to find tool call records: " + err.Error())
	}
	out := make([]*entity.ToolCallRecord, 0, len(rows))
	for i := range rows {
		out = append(out, toToolCallRecordEntity(&rows[i]))
	}
	return out, nil
}

func toToolCallRecordModel(traceID string, rec *entity.ToolCallRecord) *models.ToolCallRecordModel {
	argsJSON, _ := json.Marshal(rec.Arguments)
	return &models.ToolCallRecordModel{
		ID:         rec.ID,
		TraceID:    traceID,
		Name:       rec.Name,
		Arguments:  string(argsJSON),
		Output:     rec.Output,
		Status:     string(rec.Status),
		Success:    rec.Status == entity.ToolCallSuccess,
		DurationMS: rec.Duration().Milliseconds(),
		StartedAt:  rec.StartedAt,
	}
}

func toToolCallRecordEntity(m *models.ToolCallRecordModel) *entity.ToolCallRecord {
	var args map[string]interface{}
	_ = json.Unmarshal([]byte(m.Arguments), &args)
	return &entity.ToolCallRecord{
		ID:        m.ID,
		Name:      m.Name,
		Arguments: args,
		StartedAt: m.StartedAt,
		EndedAt:   m.StartedAt.Add(time.Duration(m.DurationMS) * time.Millisecond),
		Status:    entity.ToolCallStatus(m.Status),
		Output:    m.Output,
	}
}

func toTraceModel(t *entity.Trace) *models.TraceModel {
	return &models.TraceModel{
		ID:                t.ID,
		SessionRef:        t.SessionRef,
		AgentName:         t.AgentName,
		Provider:          t.Provider,
		Model:             t.Model,
		StartedAt:         t.StartedAt,
		LatencyMS:         t.LatencyMS,
		InputTokens:       t.InputTokens,
		OutputTokens:      t.OutputTokens,
		RequestBody:       t.RequestBody,
		ResponseContent:   t.ResponseContent,
		ResponseToolCalls: t.ResponseToolCalls,
		Error:             t.Error,
	}
}

func toTraceEntity(m *models.TraceModel) *entity.Trace {
	return &entity.Trace{
		ID:                m.ID,
		SessionRef:        m.SessionRef,
		AgentName:         m.AgentName,
		Provider:          m.Provider,
		Model:             m.Model,
		StartedAt:         m.StartedAt,
		LatencyMS:         m.LatencyMS,
		InputTokens:       m.InputTokens,
		OutputTokens:      m.OutputTokens,
		RequestBody:       m.RequestBody,
		ResponseContent:   m.ResponseContent,
		ResponseToolCalls: m.ResponseToolCalls,
		Error:             m.Error,
	}
}
