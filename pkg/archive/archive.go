// Package archive mirrors terminal job states into PostgreSQL. The
// key/value store stays authoritative for the hot path; the archive is a
// durable record that outlives the store's TTLs and lets the API answer
// state reads for jobs whose hashes have expired.
package archive

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx driver for database/sql
)

//go:embed migrations
var migrationsFS embed.FS

// ErrNotFound means the job was never archived.
var ErrNotFound = errors.New("archived job not found")

// ArchivedJob is the durable snapshot of a job's terminal state.
type ArchivedJob struct {
	JobID       string
	Status      string
	Stage       string
	Progress    int
	Message     string
	Sequence    string
	Version     int64
	CreatedAt   int64
	UpdatedAt   int64
	CompletedAt int64
	ArchivedAt  time.Time
}

// Client wraps the archive database connection.
type Client struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewFromDB wraps an existing connection without running migrations
// (useful for testing).
func NewFromDB(db *sql.DB, logger *slog.Logger) *Client {
	return &Client{db: db, logger: logger}
}

// New opens the archive database, configures pooling, and applies
// pending migrations.
func New(ctx context.Context, databaseURL string, logger *slog.Logger) (*Client, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(10 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping archive database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run archive migrations: %w", err)
	}

	return &Client{db: db, logger: logger}, nil
}

// runMigrations applies the embedded migration files on startup.
func runMigrations(db *sql.DB) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create postgres driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "foldy_archive", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	// Close only the source driver: m.Close() would also close the shared
	// *sql.DB handed to postgres.WithInstance.
	if err := sourceDriver.Close(); err != nil {
		return fmt.Errorf("failed to close migration source: %w", err)
	}
	return nil
}

// DB returns the underlying connection for health checks.
func (c *Client) DB() *sql.DB {
	return c.db
}

// Close releases the database connection.
func (c *Client) Close() error {
	return c.db.Close()
}

// Ping checks archive connectivity.
func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// RecordTerminal upserts the job's terminal snapshot. Called once per
// terminal transition; re-archiving the same job overwrites the row.
func (c *Client) RecordTerminal(ctx context.Context, job *ArchivedJob) error {
	const query = `
		INSERT INTO jobs_archive
			(job_id, status, stage, progress, message, sequence, version,
			 created_at, updated_at, completed_at, archived_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())
		ON CONFLICT (job_id) DO UPDATE SET
			status = EXCLUDED.status,
			stage = EXCLUDED.stage,
			progress = EXCLUDED.progress,
			message = EXCLUDED.message,
			sequence = EXCLUDED.sequence,
			version = EXCLUDED.version,
			updated_at = EXCLUDED.updated_at,
			completed_at = EXCLUDED.completed_at,
			archived_at = now()`

	_, err := c.db.ExecContext(ctx, query,
		job.JobID, job.Status, job.Stage, job.Progress, job.Message,
		job.Sequence, job.Version, job.CreatedAt, job.UpdatedAt, job.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to archive job %s: %w", job.JobID, err)
	}
	return nil
}

// GetJob loads an archived job by id.
func (c *Client) GetJob(ctx context.Context, jobID string) (*ArchivedJob, error) {
	const query = `
		SELECT job_id, status, stage, progress, message, sequence, version,
		       created_at, updated_at, completed_at, archived_at
		FROM jobs_archive
		WHERE job_id = $1`

	var job ArchivedJob
	err := c.db.QueryRowContext(ctx, query, jobID).Scan(
		&job.JobID, &job.Status, &job.Stage, &job.Progress, &job.Message,
		&job.Sequence, &job.Version, &job.CreatedAt, &job.UpdatedAt,
		&job.CompletedAt, &job.ArchivedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load archived job %s: %w", jobID, err)
	}
	return &job, nil
}
