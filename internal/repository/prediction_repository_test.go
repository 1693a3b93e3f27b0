package repository

import (
	"context"
	"reflect"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/example/leafscan/internal/retry"
)

func TestPredictionLogTableName(t *testing.T) {
	if got := (PredictionLog{}).TableName(); got != "prediction_logs" {
		t.Fatalf("unexpected table name %q", got)
	}
}

func newDryRunRepository(t *testing.T) *PredictionRepository {
	t.Helper()

	db, err := gorm.Open(postgres.New(postgres.Config{DSN: "host=localhost dbname=leafscan"}), &gorm.Config{
		DryRun:                 true,
		DisableAutomaticPing:   true,
		SkipDefaultTransaction: true,
	})
	if err != nil {
		t.Fatalf("failed to open dry-run db: %v", err)
	}
	repo := NewPredictionRepository(db, zap.NewNop())
	repo.policy = retry.Policy{Attempts: 1}
	return repo
}

// statementRecorder keeps the last SQL statement gorm built, which in dry-run
// mode is never sent to a server.
type statementRecorder struct {
	sql  string
	vars []interface{}
}

func recordStatements(t *testing.T, db *gorm.DB) *statementRecorder {
	t.Helper()

	rec := &statementRecorder{}
	capture := func(tx *gorm.DB) {
		rec.sql = tx.Statement.SQL.String()
		rec.vars = append([]interface{}(nil), tx.Statement.Vars...)
	}
	registrations := []error{
		db.Callback().Create().After("gorm:create").Register("test:record_create", capture),
		db.Callback().Query().After("gorm:query").Register("test:record_query", capture),
		db.Callback().Row().After("gorm:row").Register("test:record_row", capture),
	}
	for _, err := range registrations {
		if err != nil {
			t.Fatalf("failed to register callback: %v", err)
		}
	}
	return rec
}

func TestSaveLogBuildsInsert(t *testing.T) {
	repo := newDryRunRepository(t)
	rec := recordStatements(t, repo.db)

	log := &PredictionLog{
		RequestID:   "req-1",
		ImageSHA256: "abc",
		Outcome:     OutcomeClassified,
		ClassIndex:  3,
		Label:       "Apple : healthy",
		Confidence:  0.9,
		CreatedAt:   time.Now().UTC(),
	}
	if err := repo.SaveLog(context.Background(), log); err != nil {
		t.Fatalf("expected dry-run insert to succeed, got %v", err)
	}

	if !strings.HasPrefix(rec.sql, `INSERT INTO "prediction_logs"`) {
		t.Fatalf("unexpected insert statement %q", rec.sql)
	}
	for _, want := range []interface{}{"req-1", "abc", OutcomeClassified, "Apple : healthy"} {
		if !containsVar(rec.vars, want) {
			t.Errorf("expected insert vars to contain %v, got %v", want, rec.vars)
		}
	}
}

func TestFindByRequestIDScopesToUser(t *testing.T) {
	repo := newDryRunRepository(t)
	rec := recordStatements(t, repo.db)

	if _, err := repo.FindByRequestID(context.Background(), "req-1", "user-7"); err != nil {
		t.Fatalf("expected dry-run lookup to succeed, got %v", err)
	}
	if !strings.Contains(rec.sql, `FROM "prediction_logs" WHERE request_id = $1 AND user_id = $2`) {
		t.Fatalf("expected lookup scoped to the user, got %q", rec.sql)
	}
	if len(rec.vars) < 2 || rec.vars[0] != "req-1" || rec.vars[1] != "user-7" {
		t.Fatalf("unexpected vars %v", rec.vars)
	}
}

func TestFindByRequestIDWithoutUser(t *testing.T) {
	repo := newDryRunRepository(t)
	rec := recordStatements(t, repo.db)

	if _, err := repo.FindByRequestID(context.Background(), "req-1", ""); err != nil {
		t.Fatalf("expected dry-run lookup to succeed, got %v", err)
	}
	if !strings.Contains(rec.sql, "WHERE request_id = $1") || strings.Contains(rec.sql, "user_id") {
		t.Fatalf("expected unscoped lookup, got %q", rec.sql)
	}
	if len(rec.vars) == 0 || rec.vars[0] != "req-1" {
		t.Fatalf("unexpected vars %v", rec.vars)
	}
}

func TestAggregateMetricsCountsOutcomes(t *testing.T) {
	repo := newDryRunRepository(t)
	rec := recordStatements(t, repo.db)

	// Scanning rows is not possible in dry-run mode; only the statement matters.
	_, _ = repo.AggregateMetrics(context.Background())

	for _, fragment := range []string{
		"COUNT(*) AS total_count",
		"SUM(CASE WHEN outcome = $1 THEN 1 ELSE 0 END), 0) AS classified_count",
		"SUM(CASE WHEN outcome = $2 THEN 1 ELSE 0 END), 0) AS rejected_count",
		"SUM(CASE WHEN outcome = $3 THEN 1 ELSE 0 END), 0) AS failed_count",
		"AVG(CASE WHEN outcome = $4 THEN confidence END), 0) AS average_confidence",
		`FROM "prediction_logs"`,
	} {
		if !strings.Contains(rec.sql, fragment) {
			t.Errorf("expected aggregate to contain %q, got %q", fragment, rec.sql)
		}
	}

	want := []interface{}{OutcomeClassified, OutcomeRejected, OutcomeFailed, OutcomeClassified}
	if !reflect.DeepEqual(rec.vars, want) {
		t.Fatalf("expected outcome vars %v, got %v", want, rec.vars)
	}
}

func containsVar(vars []interface{}, want interface{}) bool {
	for _, v := range vars {
		if v == want {
			return true
		}
	}
	return false
}
