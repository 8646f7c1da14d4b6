// Package repository persists job records and is the only writer of job
// status fields. Every status mutation goes through ApplyEvent, a single
// atomic read-modify-write against the current row.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/envlight/hdrid/internal/job"
)

// ErrNotFound is returned when no job matches the lookup.
var ErrNotFound = errors.New("job not found")

// JobRepository defines job persistence operations.
type JobRepository interface {
	Create(ctx context.Context, j *job.Job) error
	FindByID(ctx context.Context, id string) (*job.Job, error)
	FindByExternalID(ctx context.Context, externalID string) (*job.Job, error)
	List(ctx context.Context, offset, limit int) ([]*job.Job, error)
	CountByStatus(ctx context.Context) (map[job.Status]int, error)
	AvgProcessingTime(ctx context.Context) (float64, error)
	TerminalOlderThan(ctx context.Context, cutoff time.Time) ([]*job.Job, error)
	ClearResultFiles(ctx context.Context, id string) error
	SetExternalID(ctx context.Context, id, externalID string) error

	// ApplyEvent re-reads the job inside a transaction, runs the state
	// machine and writes the result back only if the event changed the
	// record. It returns the job as stored after the call and whether the
	// event was applied.
	ApplyEvent(ctx context.Context, id string, e job.Event) (*job.Job, bool, error)
}

type jobRepository struct {
	db     *sql.DB
	driver string
}

// New creates a job repository and ensures the schema exists.
func New(db *sql.DB, driver string) (JobRepository, error) {
	repo := &jobRepository{db: db, driver: driver}
	if err := repo.initSchema(context.Background()); err != nil {
		return nil, err
	}
	return repo, nil
}

func (r *jobRepository) initSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			status TEXT NOT NULL,
			progress INTEGER NOT NULL DEFAULT 0,
			external_id TEXT,
			input_file_id TEXT NOT NULL,
			input_file_name TEXT NOT NULL,
			input_file_url TEXT,
			configuration TEXT NOT NULL,
			created_at TEXT NOT NULL,
			started_at TEXT,
			completed_at TEXT,
			processing_time REAL,
			error_message TEXT,
			result_files TEXT NOT NULL
		);
	`)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_jobs_external_id ON jobs (external_id);`)
	return err
}

// q rewrites ? placeholders to $N for postgres drivers.
func (r *jobRepository) q(query string) string {
	if r.driver != "pgx" && r.driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, c := range query {
		if c == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}

const jobColumns = `id, name, status, progress, external_id, input_file_id, input_file_name,
	input_file_url, configuration, created_at, started_at, completed_at,
	processing_time, error_message, result_files`

func (r *jobRepository) Create(ctx context.Context, j *job.Job) error {
	cfgJSON, err := json.Marshal(j.Config)
	if err != nil {
		return fmt.Errorf("encode configuration: %w", err)
	}
	filesJSON, err := json.Marshal(j.ResultFiles)
	if err != nil {
		return fmt.Errorf("encode result files: %w", err)
	}

	_, err = r.db.ExecContext(ctx, r.q(`
		INSERT INTO jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`),
		j.ID,
		j.Name,
		string(j.Status),
		j.Progress,
		nullString(j.ExternalID),
		j.InputFileID,
		j.InputFileName,
		nullString(j.InputFileURL),
		string(cfgJSON),
		formatTime(&j.CreatedAt),
		formatTime(j.StartedAt),
		formatTime(j.CompletedAt),
		j.ProcessingTime,
		nullString(j.ErrorMessage),
		string(filesJSON),
	)
	return err
}

func (r *jobRepository) FindByID(ctx context.Context, id string) (*job.Job, error) {
	row := r.db.QueryRowContext(ctx, r.q(`SELECT `+jobColumns+` FROM jobs WHERE id = ?`), id)
	return scanJob(row)
}

func (r *jobRepository) FindByExternalID(ctx context.Context, externalID string) (*job.Job, error) {
	row := r.db.QueryRowContext(ctx, r.q(`SELECT `+jobColumns+` FROM jobs WHERE external_id = ?`), externalID)
	return scanJob(row)
}

func (r *jobRepository) List(ctx context.Context, offset, limit int) ([]*job.Job, error) {
	rows, err := r.db.QueryContext(ctx, r.q(`
		SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC LIMIT ? OFFSET ?
	`), limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (r *jobRepository) CountByStatus(ctx context.Context) (map[job.Status]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[job.Status]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[job.Status(status)] = count
	}
	return counts, rows.Err()
}

func (r *jobRepository) AvgProcessingTime(ctx context.Context) (float64, error) {
	var avg sql.NullFloat64
	err := r.db.QueryRowContext(ctx, r.q(`
		SELECT AVG(processing_time) FROM jobs WHERE status = ? AND processing_time > 0
	`), string(job.StatusCompleted)).Scan(&avg)
	if err != nil {
		return 0, err
	}
	return avg.Float64, nil
}

func (r *jobRepository) TerminalOlderThan(ctx context.Context, cutoff time.Time) ([]*job.Job, error) {
	rows, err := r.db.QueryContext(ctx, r.q(`
		SELECT `+jobColumns+` FROM jobs
		WHERE status IN (?, ?, ?) AND completed_at IS NOT NULL AND completed_at < ?
	`),
		string(job.StatusCompleted),
		string(job.StatusFailed),
		string(job.StatusCancelled),
		cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (r *jobRepository) ClearResultFiles(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, r.q(`UPDATE jobs SET result_files = ? WHERE id = ?`), "[]", id)
	return err
}

func (r *jobRepository) SetExternalID(ctx context.Context, id, externalID string) error {
	_, err := r.db.ExecContext(ctx, r.q(`UPDATE jobs SET external_id = ? WHERE id = ?`), externalID, id)
	return err
}

func (r *jobRepository) ApplyEvent(ctx context.Context, id string, e job.Event) (*job.Job, bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	defer func() { _ = tx.Rollback() }()

	// Re-read the current state immediately before applying the event so a
	// concurrent writer on the other path cannot be overwritten blindly.
	row := tx.QueryRowContext(ctx, r.q(`SELECT `+jobColumns+` FROM jobs WHERE id = ?`), id)
	j, err := scanJob(row)
	if err != nil {
		return nil, false, err
	}

	if !job.Apply(j, e, time.Now().UTC()) {
		return j, false, nil
	}

	filesJSON, err := json.Marshal(j.ResultFiles)
	if err != nil {
		return nil, false, fmt.Errorf("encode result files: %w", err)
	}

	_, err = tx.ExecContext(ctx, r.q(`
		UPDATE jobs
		SET status = ?, progress = ?, started_at = ?, completed_at = ?,
			processing_time = ?, error_message = ?, result_files = ?
		WHERE id = ?
	`),
		string(j.Status),
		j.Progress,
		formatTime(j.StartedAt),
		formatTime(j.CompletedAt),
		j.ProcessingTime,
		nullString(j.ErrorMessage),
		string(filesJSON),
		j.ID,
	)
	if err != nil {
		return nil, false, err
	}

	if err := tx.Commit(); err != nil {
		return nil, false, err
	}
	return j, true, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*job.Job, error) {
	var (
		j              job.Job
		status         string
		externalID     sql.NullString
		inputFileURL   sql.NullString
		cfgJSON        string
		createdAt      string
		startedAt      sql.NullString
		completedAt    sql.NullString
		processingTime sql.NullFloat64
		errorMessage   sql.NullString
		filesJSON      string
	)

	if err := row.Scan(
		&j.ID,
		&j.Name,
		&status,
		&j.Progress,
		&externalID,
		&j.InputFileID,
		&j.InputFileName,
		&inputFileURL,
		&cfgJSON,
		&createdAt,
		&startedAt,
		&completedAt,
		&processingTime,
		&errorMessage,
		&filesJSON,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	j.Status = job.Status(status)
	j.ExternalID = externalID.String
	j.InputFileURL = inputFileURL.String
	j.ProcessingTime = processingTime.Float64
	j.ErrorMessage = errorMessage.String

	// Structured columns are decoded strictly; malformed JSON is an error,
	// not an empty value.
	if err := json.Unmarshal([]byte(cfgJSON), &j.Config); err != nil {
		return nil, fmt.Errorf("decode configuration for job %s: %w", j.ID, err)
	}
	if err := json.Unmarshal([]byte(filesJSON), &j.ResultFiles); err != nil {
		return nil, fmt.Errorf("decode result files for job %s: %w", j.ID, err)
	}

	var err error
	if j.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("decode created_at for job %s: %w", j.ID, err)
	}
	if j.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, fmt.Errorf("decode started_at for job %s: %w", j.ID, err)
	}
	if j.CompletedAt, err = parseTime(completedAt); err != nil {
		return nil, fmt.Errorf("decode completed_at for job %s: %w", j.ID, err)
	}

	return &j, nil
}

func formatTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
