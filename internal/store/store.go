package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/andresmejia3/landmarker/internal/landmarker"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ErrRunNotFound is returned when a run ID is unknown.
var ErrRunNotFound = errors.New("run not found")

// Store persists landmark runs and their per-frame results in PostgreSQL.
// It wraps a single connection and is not safe for concurrent use.
type Store struct {
	conn *pgx.Conn
}

// RunInfo describes a run before it starts.
type RunInfo struct {
	Mode     string
	Source   string // file path, device or URL
	SourceID string // content fingerprint, empty for live sources
	Options  any    // serialized as JSON
}

// Run is a stored run with its frame count.
type Run struct {
	ID        string
	Mode      string
	Source    string
	SourceID  string
	Options   json.RawMessage
	StartedAt time.Time
	Frames    int
	Faces     int
}

// FrameResult is the stored detection for one frame.
type FrameResult struct {
	TimestampMs int64
	FaceCount   int
	Result      landmarker.Result
}

// New establishes a connection to the database and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{conn: conn}, nil
}

// initSchema creates the necessary tables if they don't exist (Auto-Migration).
func initSchema(ctx context.Context, conn *pgx.Conn) error {
	query := `
		CREATE TABLE IF NOT EXISTS landmark_runs (
			id UUID PRIMARY KEY,
			mode TEXT NOT NULL,
			source TEXT NOT NULL,
			source_id TEXT NOT NULL DEFAULT '',
			options JSONB NOT NULL DEFAULT '{}',
			started_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS frame_results (
			id BIGSERIAL PRIMARY KEY,
			run_id UUID NOT NULL REFERENCES landmark_runs(id) ON DELETE CASCADE,
			timestamp_ms BIGINT NOT NULL,
			face_count INT NOT NULL,
			landmarks JSONB NOT NULL,
			blendshapes JSONB,
			matrixes JSONB
		);
		CREATE INDEX IF NOT EXISTS frame_results_run_id_idx ON frame_results (run_id, timestamp_ms);
	`
	_, err := conn.Exec(ctx, query)
	return err
}

// Close terminates the database connection.
func (s *Store) Close(ctx context.Context) {
	s.conn.Close(ctx)
}

// CreateRun registers a new run and returns its ID. Re-running the same
// source file replaces its earlier runs so results are not duplicated.
func (s *Store) CreateRun(ctx context.Context, info RunInfo) (string, error) {
	opts, err := json.Marshal(info.Options)
	if err != nil {
		return "", fmt.Errorf("failed to encode run options: %w", err)
	}
	if info.Options == nil {
		opts = []byte("{}")
	}

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return "", err
	}
	defer tx.Rollback(ctx)

	// 1. Clean up old data to ensure idempotency (prevent duplicate frames on re-scan)
	if info.SourceID != "" {
		if _, err := tx.Exec(ctx, "DELETE FROM landmark_runs WHERE source_id = $1 AND mode = $2", info.SourceID, info.Mode); err != nil {
			return "", err
		}
	}

	// 2. Insert the run
	id := uuid.NewString()
	_, err = tx.Exec(ctx, `
		INSERT INTO landmark_runs (id, mode, source, source_id, options, started_at)
		VALUES ($1::uuid, $2, $3, $4, $5::jsonb, NOW())
	`, id, info.Mode, info.Source, info.SourceID, string(opts))
	if err != nil {
		return "", err
	}
	return id, tx.Commit(ctx)
}

// InsertFrameResult saves the detection for one frame. Optional outputs are
// stored as NULL when the result does not carry them.
func (s *Store) InsertFrameResult(ctx context.Context, runID string, timestampMs int64, r landmarker.Result) error {
	landmarks, err := json.Marshal(r.FaceLandmarks)
	if err != nil {
		return err
	}
	if r.FaceLandmarks == nil {
		landmarks = []byte("[]")
	}
	blendshapes, err := nullableJSON(r.FaceBlendshapes, r.FaceBlendshapes == nil)
	if err != nil {
		return err
	}
	matrixes, err := nullableJSON(r.FacialTransformationMatrixes, r.FacialTransformationMatrixes == nil)
	if err != nil {
		return err
	}

	_, err = s.conn.Exec(ctx, `
		INSERT INTO frame_results (run_id, timestamp_ms, face_count, landmarks, blendshapes, matrixes)
		VALUES ($1::uuid, $2, $3, $4::jsonb, $5::jsonb, $6::jsonb)
	`, runID, timestampMs, len(r.FaceLandmarks), string(landmarks), blendshapes, matrixes)
	return err
}

func nullableJSON(v any, isNil bool) (*string, error) {
	if isNil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	s := string(b)
	return &s, nil
}

// ListRuns returns every run, newest first, with frame and face totals.
func (s *Store) ListRuns(ctx context.Context) ([]Run, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT r.id::text, r.mode, r.source, r.source_id, r.options, r.started_at,
			COUNT(f.id), COALESCE(SUM(f.face_count), 0)
		FROM landmark_runs r
		LEFT JOIN frame_results f ON f.run_id = r.id
		GROUP BY r.id
		ORDER BY r.started_at DESC, r.id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var opts []byte
		if err := rows.Scan(&r.ID, &r.Mode, &r.Source, &r.SourceID, &opts, &r.StartedAt, &r.Frames, &r.Faces); err != nil {
			return nil, err
		}
		r.Options = json.RawMessage(opts)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetFrameResults returns the stored frames of a run in timestamp order.
func (s *Store) GetFrameResults(ctx context.Context, runID string) ([]FrameResult, error) {
	var exists bool
	if err := s.conn.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM landmark_runs WHERE id = $1::uuid)", runID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}

	rows, err := s.conn.Query(ctx, `
		SELECT timestamp_ms, face_count, landmarks, blendshapes, matrixes
		FROM frame_results
		WHERE run_id = $1::uuid
		ORDER BY timestamp_ms
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var frames []FrameResult
	for rows.Next() {
		var f FrameResult
		var landmarks, blendshapes, matrixes []byte
		if err := rows.Scan(&f.TimestampMs, &f.FaceCount, &landmarks, &blendshapes, &matrixes); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(landmarks, &f.Result.FaceLandmarks); err != nil {
			return nil, fmt.Errorf("corrupt landmarks at %d ms: %w", f.TimestampMs, err)
		}
		if blendshapes != nil {
			if err := json.Unmarshal(blendshapes, &f.Result.FaceBlendshapes); err != nil {
				return nil, fmt.Errorf("corrupt blendshapes at %d ms: %w", f.TimestampMs, err)
			}
		}
		if matrixes != nil {
			if err := json.Unmarshal(matrixes, &f.Result.FacialTransformationMatrixes); err != nil {
				return nil, fmt.Errorf("corrupt matrixes at %d ms: %w", f.TimestampMs, err)
			}
		}
		frames = append(frames, f)
	}
	return frames, rows.Err()
}

// Reset drops all application tables to clear the database state.
// This is useful for development to force a schema refresh without migrations.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.conn.Exec(ctx, `
		DROP TABLE IF EXISTS frame_results CASCADE;
		DROP TABLE IF EXISTS landmark_runs CASCADE;
	`)
	return err
}
