package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"voynich/models"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS conversion_jobs (
		id               TEXT PRIMARY KEY,
		filename         TEXT NOT NULL,
		format           TEXT NOT NULL,
		voice_id         TEXT NOT NULL DEFAULT '',
		status           TEXT NOT NULL,
		progress         DOUBLE PRECISION NOT NULL DEFAULT 0,
		chunks_total     INTEGER NOT NULL DEFAULT 0,
		chunks_completed INTEGER NOT NULL DEFAULT 0,
		created_at       TIMESTAMP NOT NULL,
		started_at       TIMESTAMP NULL,
		completed_at     TIMESTAMP NULL,
		output_path      TEXT NOT NULL DEFAULT '',
		error_message    TEXT NOT NULL DEFAULT '',
		task_id          TEXT NOT NULL DEFAULT '',
		updated_at       TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_conversion_jobs_status_created
		ON conversion_jobs (status, created_at)`,
	`CREATE TABLE IF NOT EXISTS voice_profiles (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		voice_type TEXT NOT NULL,
		file_path  TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	)`,
}

const jobColumns = `id, filename, format, voice_id, status, progress, chunks_total,
	chunks_completed, created_at, started_at, completed_at, output_path, error_message, task_id`

// DatabaseService stores jobs and voice profiles in Postgres or SQLite.
type DatabaseService struct {
	db     *sql.DB
	driver string
}

func NewDatabaseService(driver, dsn string) (*DatabaseService, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if driver == DriverSQLite {
		// One connection keeps ":memory:" databases shared and serializes writers.
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DatabaseService{db: db, driver: driver}, nil
}

// Migrate creates the tables when they do not exist.
func (d *DatabaseService) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate: %w", err)
		}
	}
	return nil
}

func (d *DatabaseService) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

func (d *DatabaseService) Close() error {
	return d.db.Close()
}

// placeholder returns the bind marker for the n-th argument (1-based).
func (d *DatabaseService) placeholder(n int) string {
	if d.driver == DriverPostgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func (d *DatabaseService) placeholders(from, count int) string {
	marks := make([]string, count)
	for i := range marks {
		marks[i] = d.placeholder(from + i)
	}
	return strings.Join(marks, ", ")
}

func (d *DatabaseService) CreateJob(ctx context.Context, job *models.ConversionJob) error {
	query := fmt.Sprintf(`INSERT INTO conversion_jobs (%s, updated_at) VALUES (%s)`,
		jobColumns, d.placeholders(1, 15))

	_, err := d.db.ExecContext(ctx, query,
		job.ID, job.Filename, job.Format, job.VoiceID, string(job.Status), job.Progress,
		job.ChunksTotal, job.ChunksCompleted, job.CreatedAt.UTC(),
		nullTime(job.StartedAt), nullTime(job.CompletedAt),
		job.OutputPath, job.ErrorMessage, job.TaskID, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

func (d *DatabaseService) GetJob(ctx context.Context, id string) (*models.ConversionJob, error) {
	query := fmt.Sprintf(`SELECT %s FROM conversion_jobs WHERE id = %s`, jobColumns, d.placeholder(1))

	job, err := scanJob(d.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", models.ErrJobNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load job: %w", err)
	}
	return job, nil
}

// UpdateJob writes the non-nil fields of u. When expected statuses are given
// the row is only touched while its status is one of them.
func (d *DatabaseService) UpdateJob(ctx context.Context, id string, u models.JobUpdate, expected ...models.JobStatus) (bool, error) {
	if u.IsEmpty() {
		return false, errors.New("empty job update")
	}

	var sets []string
	var args []interface{}
	argIndex := 1
	set := func(column string, value interface{}) {
		sets = append(sets, fmt.Sprintf("%s = %s", column, d.placeholder(argIndex)))
		args = append(args, value)
		argIndex++
	}

	if u.Status != nil {
		set("status", string(*u.Status))
	}
	if u.Progress != nil {
		set("progress", *u.Progress)
	}
	if u.ChunksTotal != nil {
		set("chunks_total", *u.ChunksTotal)
	}
	if u.ChunksCompleted != nil {
		set("chunks_completed", *u.ChunksCompleted)
	}
	if u.StartedAt != nil {
		set("started_at", u.StartedAt.UTC())
	}
	if u.CompletedAt != nil {
		set("completed_at", u.CompletedAt.UTC())
	}
	if u.OutputPath != nil {
		set("output_path", *u.OutputPath)
	}
	if u.ErrorMessage != nil {
		set("error_message", *u.ErrorMessage)
	}
	if u.TaskID != nil {
		set("task_id", *u.TaskID)
	}
	set("updated_at", time.Now().UTC())

	query := fmt.Sprintf(`UPDATE conversion_jobs SET %s WHERE id = %s`, strings.Join(sets, ", "), d.placeholder(argIndex))
	args = append(args, id)
	argIndex++

	if len(expected) > 0 {
		query += fmt.Sprintf(` AND status IN (%s)`, d.placeholders(argIndex, len(expected)))
		for _, s := range expected {
			args = append(args, string(s))
		}
	}

	res, err := d.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to update job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to update job: %w", err)
	}
	return n > 0, nil
}

// ListActiveJobs returns pending and processing jobs, newest first.
func (d *DatabaseService) ListActiveJobs(ctx context.Context, limit int) ([]models.ConversionJob, error) {
	query := fmt.Sprintf(`SELECT %s FROM conversion_jobs WHERE status IN (%s) ORDER BY created_at DESC LIMIT %s`,
		jobColumns, d.placeholders(1, 2), d.placeholder(3))

	rows, err := d.db.QueryContext(ctx, query, string(models.StatusPending), string(models.StatusProcessing), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	jobs := []models.ConversionJob{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*models.ConversionJob, error) {
	var job models.ConversionJob
	var status string
	var startedAt, completedAt sql.NullTime

	err := row.Scan(
		&job.ID, &job.Filename, &job.Format, &job.VoiceID, &status, &job.Progress,
		&job.ChunksTotal, &job.ChunksCompleted, &job.CreatedAt, &startedAt, &completedAt,
		&job.OutputPath, &job.ErrorMessage, &job.TaskID,
	)
	if err != nil {
		return nil, err
	}

	job.Status = models.JobStatus(status)
	job.CreatedAt = job.CreatedAt.UTC()
	if startedAt.Valid {
		t := startedAt.Time.UTC()
		job.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time.UTC()
		job.CompletedAt = &t
	}
	return &job, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func (d *DatabaseService) CreateVoice(ctx context.Context, v *models.VoiceProfile) error {
	query := fmt.Sprintf(`INSERT INTO voice_profiles (id, name, voice_type, file_path, created_at) VALUES (%s)`,
		d.placeholders(1, 5))
	_, err := d.db.ExecContext(ctx, query, v.ID, v.Name, v.VoiceType, v.FilePath, v.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert voice: %w", err)
	}
	return nil
}

// SeedVoices inserts builtin voice profiles, skipping ids already present.
func (d *DatabaseService) SeedVoices(ctx context.Context, names ...string) error {
	query := fmt.Sprintf(`INSERT INTO voice_profiles (id, name, voice_type, file_path, created_at) VALUES (%s)
		ON CONFLICT (id) DO NOTHING`, d.placeholders(1, 5))
	now := time.Now().UTC()
	for _, name := range names {
		if _, err := d.db.ExecContext(ctx, query, name, name, models.VoiceTypeBuiltin, "", now); err != nil {
			return fmt.Errorf("failed to seed voice %s: %w", name, err)
		}
	}
	return nil
}

func (d *DatabaseService) ListVoices(ctx context.Context) ([]models.VoiceProfile, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, name, voice_type, file_path, created_at FROM voice_profiles ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list voices: %w", err)
	}
	defer rows.Close()

	voices := []models.VoiceProfile{}
	for rows.Next() {
		var v models.VoiceProfile
		if err := rows.Scan(&v.ID, &v.Name, &v.VoiceType, &v.FilePath, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan voice: %w", err)
		}
		v.CreatedAt = v.CreatedAt.UTC()
		voices = append(voices, v)
	}
	return voices, rows.Err()
}
