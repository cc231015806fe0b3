package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver

	"github.com/operantlabs/operant/internal/observability"
	"github.com/operantlabs/operant/pkg/models"
)

const jobColumns = "id, agent_id, prompt, hosting, model, options, status, created_at, started_at, completed_at, result"

// Archive persists terminal jobs to SQLite so history survives restarts.
type Archive struct {
	db     *sql.DB
	tracer *observability.Tracer
}

// SetTracer enables a span around every archive query.
func (a *Archive) SetTracer(t *observability.Tracer) {
	a.tracer = t
}

// traced opens a database span for one operation. With no tracer the
// returned func is a no-op.
func (a *Archive) traced(ctx context.Context, operation string) (context.Context, func(error)) {
	if a.tracer == nil {
		return ctx, func(error) {}
	}
	ctx, span := a.tracer.TraceDatabaseQuery(ctx, operation, "jobs")
	return ctx, func(err error) {
		if err != nil {
			a.tracer.RecordError(span, err)
		}
		span.End()
	}
}

// OpenArchive opens (and initializes) the archive database at path. An
// empty path opens an in-memory database.
func OpenArchive(path string) (*Archive, error) {
	if path == "" {
		path = ":memory:"
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open job archive database: %w", err)
	}
	// A single connection keeps ":memory:" databases coherent across
	// the pool and serializes writers.
	db.SetMaxOpenConns(1)

	a := &Archive{db: db}
	if err := a.init(); err != nil {
		db.Close()
		return nil, err
	}
	return a, nil
}

// NewArchiveFromDB wraps an existing database handle. The schema must
// already exist; used by tests with sqlmock.
func NewArchiveFromDB(db *sql.DB) *Archive {
	return &Archive{db: db}
}

func (a *Archive) init() error {
	_, err := a.db.Exec(`
		CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			agent_id TEXT,
			prompt TEXT NOT NULL,
			hosting TEXT,
			model TEXT,
			options TEXT,
			status TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			started_at DATETIME,
			completed_at DATETIME,
			result TEXT
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create jobs table: %w", err)
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_jobs_agent ON jobs(agent_id)",
		"CREATE INDEX IF NOT EXISTS idx_jobs_created ON jobs(created_at)",
	}
	for _, idx := range indexes {
		if _, err := a.db.Exec(idx); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}

// Insert upserts a job row. The upsert keeps re-archiving idempotent
// when a terminal snapshot is written more than once.
func (a *Archive) Insert(ctx context.Context, job *models.Job) error {
	var options any
	if job.Options != nil {
		raw, err := json.Marshal(job.Options)
		if err != nil {
			return fmt.Errorf("failed to encode job options: %w", err)
		}
		options = string(raw)
	}
	var result any
	if job.Result != nil {
		raw, err := json.Marshal(job.Result)
		if err != nil {
			return fmt.Errorf("failed to encode job result: %w", err)
		}
		result = string(raw)
	}

	ctx, done := a.traced(ctx, "insert")
	_, err := a.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		job.ID,
		nullString(job.AgentID),
		job.Prompt,
		nullString(job.Hosting),
		nullString(job.Model),
		options,
		string(job.Status),
		job.CreatedAt,
		nullTime(job.StartedAt),
		nullTime(job.CompletedAt),
		result,
	)
	done(err)
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

// Get returns an archived job, or nil when the id was never archived.
func (a *Archive) Get(ctx context.Context, id string) (*models.Job, error) {
	ctx, done := a.traced(ctx, "select")
	row := a.db.QueryRowContext(ctx, "SELECT "+jobColumns+" FROM jobs WHERE id = ?", id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		done(nil)
		return nil, nil
	}
	done(err)
	if err != nil {
		return nil, fmt.Errorf("failed to read job: %w", err)
	}
	return job, nil
}

// List returns archived jobs matching the filter, newest first.
func (a *Archive) List(ctx context.Context, filter Filter) ([]*models.Job, error) {
	query := "SELECT " + jobColumns + " FROM jobs"
	where := []string{}
	args := []any{}
	if filter.AgentID != "" {
		where = append(where, "agent_id = ?")
		args = append(args, filter.AgentID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	ctx, done := a.traced(ctx, "select")
	rows, err := a.db.QueryContext(ctx, query, args...)
	done(err)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	jobs := []*models.Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate jobs: %w", err)
	}
	return jobs, nil
}

// Prune deletes rows finished before the cutoff and returns how many
// were removed.
func (a *Archive) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, done := a.traced(ctx, "delete")
	res, err := a.db.ExecContext(ctx, "DELETE FROM jobs WHERE COALESCE(completed_at, created_at) < ?", cutoff)
	done(err)
	if err != nil {
		return 0, fmt.Errorf("failed to prune jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count pruned rows: %w", err)
	}
	return n, nil
}

// Close releases the database handle.
func (a *Archive) Close() error {
	return a.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*models.Job, error) {
	var (
		job         models.Job
		agentID     sql.NullString
		hosting     sql.NullString
		model       sql.NullString
		options     sql.NullString
		status      string
		startedAt   sql.NullTime
		completedAt sql.NullTime
		result      sql.NullString
	)
	err := row.Scan(
		&job.ID,
		&agentID,
		&job.Prompt,
		&hosting,
		&model,
		&options,
		&status,
		&job.CreatedAt,
		&startedAt,
		&completedAt,
		&result,
	)
	if err != nil {
		return nil, err
	}

	job.AgentID = agentID.String
	job.Hosting = hosting.String
	job.Model = model.String
	job.Status = models.JobStatus(status)
	if startedAt.Valid {
		t := startedAt.Time
		job.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		job.CompletedAt = &t
	}
	if options.Valid && options.String != "" {
		opts := &models.ChatOptions{}
		if err := json.Unmarshal([]byte(options.String), opts); err != nil {
			return nil, fmt.Errorf("failed to decode job options: %w", err)
		}
		job.Options = opts
	}
	if result.Valid && result.String != "" {
		res := &models.JobResult{}
		if err := json.Unmarshal([]byte(result.String), res); err != nil {
			return nil, fmt.Errorf("failed to decode job result: %w", err)
		}
		job.Result = res
	}
	return &job, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
