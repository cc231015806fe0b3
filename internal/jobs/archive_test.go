package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/operantlabs/operant/internal/observability"
	"github.com/operantlabs/operant/pkg/models"
)

var archiveColumns = []string{
	"id", "agent_id", "prompt", "hosting", "model", "options",
	"status", "created_at", "started_at", "completed_at", "result",
}

func TestArchive_Insert(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock db: %v", err)
	}
	defer db.Close()

	archive := NewArchiveFromDB(db)
	tracer, shutdown := observability.NewTracer(observability.TraceConfig{ServiceName: "test-service"})
	defer func() { _ = shutdown(context.Background()) }()
	archive.SetTracer(tracer)

	now := time.Now().UTC()
	completed := now.Add(2 * time.Second)
	mock.ExpectExec("INSERT OR REPLACE INTO jobs").
		WithArgs(
			"job-1",
			"agent-1",
			"summarize the logs",
			"anthropic",
			"claude-sonnet-4-0",
			`{"temperature":0.2}`,
			"completed",
			now,
			now,
			completed,
			`{"response":"done"}`,
		).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = archive.Insert(context.Background(), &models.Job{
		ID:          "job-1",
		AgentID:     "agent-1",
		Prompt:      "summarize the logs",
		Hosting:     "anthropic",
		Model:       "claude-sonnet-4-0",
		Options:     &models.ChatOptions{Temperature: floatPtr(0.2)},
		Status:      models.JobCompleted,
		CreatedAt:   now,
		StartedAt:   &now,
		CompletedAt: &completed,
		Result:      &models.JobResult{Response: "done"},
	})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestArchive_InsertNullsOptionalFields(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock db: %v", err)
	}
	defer db.Close()

	archive := NewArchiveFromDB(db)

	now := time.Now().UTC()
	mock.ExpectExec("INSERT OR REPLACE INTO jobs").
		WithArgs(
			"job-2",
			nil, // agent_id
			"do something",
			nil, // hosting
			nil, // model
			nil, // options
			"cancelled",
			now,
			nil, // started_at
			nil, // completed_at
			nil, // result
		).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = archive.Insert(context.Background(), &models.Job{
		ID:        "job-2",
		Prompt:    "do something",
		Status:    models.JobCancelled,
		CreatedAt: now,
	})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestArchive_Get(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock db: %v", err)
	}
	defer db.Close()

	archive := NewArchiveFromDB(db)

	now := time.Now().UTC()
	completed := now.Add(time.Second)
	rows := sqlmock.NewRows(archiveColumns).
		AddRow("job-1", "agent-1", "summarize", "openai", "gpt-4o",
			`{"max_tokens":512}`, "completed", now, now, completed, `{"response":"done"}`)
	mock.ExpectQuery("SELECT (.+) FROM jobs WHERE id").
		WithArgs("job-1").
		WillReturnRows(rows)

	job, err := archive.Get(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if job == nil {
		t.Fatal("expected a job")
	}
	if job.Status != models.JobCompleted {
		t.Errorf("Status = %s, want completed", job.Status)
	}
	if job.Options == nil || job.Options.MaxTokens == nil || *job.Options.MaxTokens != 512 {
		t.Errorf("Options = %+v, want max_tokens 512", job.Options)
	}
	if job.Result == nil || job.Result.Response != "done" {
		t.Errorf("Result = %+v, want response done", job.Result)
	}
	if job.CompletedAt == nil || !job.CompletedAt.Equal(completed) {
		t.Errorf("CompletedAt = %v, want %v", job.CompletedAt, completed)
	}
}

func TestArchive_GetMissing(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock db: %v", err)
	}
	defer db.Close()

	archive := NewArchiveFromDB(db)

	mock.ExpectQuery("SELECT (.+) FROM jobs WHERE id").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(archiveColumns))

	job, err := archive.Get(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if job != nil {
		t.Fatalf("expected nil for a missing id, got %+v", job)
	}
}

func TestArchive_ListAppliesFilters(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock db: %v", err)
	}
	defer db.Close()

	archive := NewArchiveFromDB(db)

	now := time.Now().UTC()
	rows := sqlmock.NewRows(archiveColumns).
		AddRow("job-2", "agent-1", "retry the sync", nil, nil, nil,
			"failed", now, nil, now, `{"error":"boom"}`)
	mock.ExpectQuery(`SELECT (.+) FROM jobs WHERE agent_id = \? AND status = \? ORDER BY created_at DESC LIMIT \?`).
		WithArgs("agent-1", "failed", int64(5)).
		WillReturnRows(rows)

	jobs, err := archive.List(context.Background(), Filter{
		AgentID: "agent-1",
		Status:  models.JobFailed,
		Limit:   5,
	})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("List returned %d jobs, want 1", len(jobs))
	}
	if jobs[0].Result == nil || jobs[0].Result.Error != "boom" {
		t.Errorf("Result = %+v, want error boom", jobs[0].Result)
	}
	if jobs[0].Hosting != "" {
		t.Errorf("Hosting = %q, want empty", jobs[0].Hosting)
	}
}

func TestArchive_ListError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock db: %v", err)
	}
	defer db.Close()

	archive := NewArchiveFromDB(db)

	mock.ExpectQuery("SELECT (.+) FROM jobs").
		WillReturnError(errors.New("disk error"))

	if _, err := archive.List(context.Background(), Filter{}); err == nil {
		t.Fatal("expected error from failed query")
	}
}

func TestArchive_Prune(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock db: %v", err)
	}
	defer db.Close()

	archive := NewArchiveFromDB(db)

	mock.ExpectExec("DELETE FROM jobs").
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := archive.Prune(context.Background(), time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n != 3 {
		t.Errorf("Prune removed %d, want 3", n)
	}
}
