package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/andresmejia3/veil/internal/types"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// JobStatus is the final state of a redaction job.
type JobStatus string

const (
	StatusDone   JobStatus = "done"
	StatusFailed JobStatus = "failed"
)

// JobRecord is one row of the redaction ledger.
type JobRecord struct {
	ID            uuid.UUID
	MediaID       string
	InputPath     string
	OutputPath    string
	Kind          types.MediaKind
	Effect        string
	Model         string
	BlurStrength  int
	PixelSize     int
	FacesDetected int
	Status        JobStatus
	Error         string
	StartedAt     time.Time
	FinishedAt    time.Time
}

// Stats summarizes the ledger.
type Stats struct {
	Jobs   int
	Failed int
	Faces  int
}

// Store manages the PostgreSQL connection holding the job ledger.
type Store struct {
	conn *pgx.Conn
}

// New opens the job ledger at connString, creating its tables on first use.
func New(ctx context.Context, connString string) (*Store, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("connect ledger: %w", err)
	}
	if err := initSchema(ctx, conn); err != nil {
		conn.Close(context.Background())
		return nil, fmt.Errorf("create ledger tables: %w", err)
	}
	return &Store{conn: conn}, nil
}

// initSchema is idempotent; every statement is IF NOT EXISTS.
func initSchema(ctx context.Context, conn *pgx.Conn) error {
	query := `
		CREATE TABLE IF NOT EXISTS media_metadata (
			id TEXT PRIMARY KEY,
			path TEXT NOT NULL,
			kind TEXT NOT NULL,
			registered_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS redaction_jobs (
			id TEXT PRIMARY KEY,
			media_id TEXT REFERENCES media_metadata(id) ON DELETE SET NULL,
			input_path TEXT NOT NULL,
			output_path TEXT NOT NULL,
			kind TEXT NOT NULL,
			effect TEXT NOT NULL,
			model TEXT NOT NULL,
			blur_strength INT NOT NULL,
			pixel_size INT NOT NULL,
			faces_detected INT NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			started_at TIMESTAMPTZ NOT NULL,
			finished_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS redaction_jobs_finished_at_idx ON redaction_jobs (finished_at DESC);
	`
	_, err := conn.Exec(ctx, query)
	return err
}

// Close terminates the database connection.
func (s *Store) Close(ctx context.Context) {
	s.conn.Close(ctx)
}

// RegisterMedia records a source file. If it exists, it updates the timestamp.
func (s *Store) RegisterMedia(ctx context.Context, mediaID, path string, kind types.MediaKind) error {
	_, err := s.conn.Exec(ctx, `
		INSERT INTO media_metadata (id, path, kind, registered_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (id) DO UPDATE SET registered_at = NOW(), path = EXCLUDED.path
	`, mediaID, path, string(kind))
	return err
}

// RecordJob writes a finished job. Recording the same ID twice overwrites it.
func (s *Store) RecordJob(ctx context.Context, rec JobRecord) error {
	var mediaID *string
	if rec.MediaID != "" {
		mediaID = &rec.MediaID
	}
	_, err := s.conn.Exec(ctx, `
		INSERT INTO redaction_jobs (id, media_id, input_path, output_path, kind, effect, model,
			blur_strength, pixel_size, faces_detected, status, error, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			faces_detected = EXCLUDED.faces_detected,
			status = EXCLUDED.status,
			error = EXCLUDED.error,
			finished_at = EXCLUDED.finished_at
	`, rec.ID.String(), mediaID, rec.InputPath, rec.OutputPath, string(rec.Kind), rec.Effect, rec.Model,
		rec.BlurStrength, rec.PixelSize, rec.FacesDetected, string(rec.Status), rec.Error,
		rec.StartedAt, rec.FinishedAt)
	return err
}

// ListJobs returns the most recently finished jobs first. limit <= 0 returns all.
func (s *Store) ListJobs(ctx context.Context, limit int) ([]JobRecord, error) {
	query := `
		SELECT id, COALESCE(media_id, ''), input_path, output_path, kind, effect, model,
			blur_strength, pixel_size, faces_detected, status, error, started_at, finished_at
		FROM redaction_jobs
		ORDER BY finished_at DESC`
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []JobRecord
	for rows.Next() {
		var rec JobRecord
		var id, kind, status string
		if err := rows.Scan(&id, &rec.MediaID, &rec.InputPath, &rec.OutputPath, &kind, &rec.Effect, &rec.Model,
			&rec.BlurStrength, &rec.PixelSize, &rec.FacesDetected, &status, &rec.Error,
			&rec.StartedAt, &rec.FinishedAt); err != nil {
			return nil, err
		}
		if rec.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("corrupt job id %q: %w", id, err)
		}
		rec.Kind = types.MediaKind(kind)
		rec.Status = JobStatus(status)
		jobs = append(jobs, rec)
	}
	return jobs, rows.Err()
}

// GetJob fetches a single job. ok is false when no such job was recorded.
func (s *Store) GetJob(ctx context.Context, id uuid.UUID) (rec JobRecord, ok bool, err error) {
	var kind, status string
	err = s.conn.QueryRow(ctx, `
		SELECT COALESCE(media_id, ''), input_path, output_path, kind, effect, model,
			blur_strength, pixel_size, faces_detected, status, error, started_at, finished_at
		FROM redaction_jobs WHERE id = $1
	`, id.String()).Scan(&rec.MediaID, &rec.InputPath, &rec.OutputPath, &kind, &rec.Effect, &rec.Model,
		&rec.BlurStrength, &rec.PixelSize, &rec.FacesDetected, &status, &rec.Error,
		&rec.StartedAt, &rec.FinishedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return JobRecord{}, false, nil
	}
	if err != nil {
		return JobRecord{}, false, err
	}
	rec.ID = id
	rec.Kind = types.MediaKind(kind)
	rec.Status = JobStatus(status)
	return rec, true, nil
}

// Stats aggregates job and face totals over the whole ledger.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.conn.QueryRow(ctx, `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE status = $1),
			COALESCE(SUM(faces_detected), 0)
		FROM redaction_jobs
	`, string(StatusFailed)).Scan(&st.Jobs, &st.Failed, &st.Faces)
	return st, err
}

// Reset drops all application tables to clear the database state.
// This is useful for development to force a schema refresh without migrations.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.conn.Exec(ctx, `
		DROP TABLE IF EXISTS redaction_jobs CASCADE;
		DROP TABLE IF EXISTS media_metadata CASCADE;
	`)
	return err
}
