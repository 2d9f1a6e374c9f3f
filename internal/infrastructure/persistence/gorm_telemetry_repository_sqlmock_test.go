package persistence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/ngoclaw-labs/turncore/internal/domain/entity"
)

// newMockDB wires sqlmock's driver-level fake behind the postgres
// dialector gorm already carries for the real database.type=postgres
// path, so these tests exercise the query/argument shape gorm actually
// sends on the wire rather than a real schema's round-trip behavior
// (gorm_telemetry_repository_test.go covers that against sqlite).
func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	raw, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = raw.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{
		Conn:                 raw,
		PreferSimpleProtocol: true,
	}), &gorm.Config{})
	if err != nil {
		t.Fatalf("gorm.Open over sqlmock conn: %v", err)
	}
	return db, mock
}

func TestGormTelemetryRepository_SaveTrace_SendsInsertWithTraceFields(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewGormTelemetryRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "traces"`).
		WithArgs("trace-1", "s1", "primary", "anthropic", "claude", sqlmock.AnyArg(),
			int64(42), 10, 5, `{"messages":[]}`, "hi", "[]", "").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("trace-1"))
	mock.ExpectCommit()

	trace := &entity.Trace{
		ID: "trace-1", SessionRef: "s1", AgentName: "primary", Provider: "anthropic", Model: "claude",
		StartedAt: time.Now(), LatencyMS: 42, InputTokens: 10, OutputTokens: 5,
		RequestBody: `{"messages":[]}`, ResponseContent: "hi", ResponseToolCalls: "[]",
	}
	if err := repo.SaveTrace(context.Background(), trace); err != nil {
		t.Fatalf("SaveTrace: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGormTelemetryRepository_SaveTrace_WrapsDriverError(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewGormTelemetryRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "traces"`).WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	err := repo.SaveTrace(context.Background(), &entity.Trace{ID: "trace-2", SessionRef: "s1", StartedAt: time.Now()})
	if err == nil {
		t.Fatal("expected an error from a failing insert")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGormTelemetryRepository_CountTraces_SendsCountQuery(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewGormTelemetryRepository(db)

	mock.ExpectQuery(`SELECT count\(\*\) FROM "traces" WHERE session_ref = \$1`).
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	count, err := repo.CountTraces(context.Background(), "s1")
	if err != nil {
		t.Fatalf("CountTraces: %v", err)
	}
	if count != 3 {
		t.Fatalf("count = %d, want 3", count)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGormTelemetryRepository_FindTraceByID_NotFound_FromEmptyRows(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewGormTelemetryRepository(db)

	mock.ExpectQuery(`SELECT \* FROM "traces"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	if _, err := repo.FindTraceByID(context.Background(), "missing"); err == nil {
		t.Fatal("expected a not-found error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
