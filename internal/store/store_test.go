package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/andresmejia3/landmarker/internal/formats"
	"github.com/andresmejia3/landmarker/internal/landmarker"
	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// TestStoreIntegration runs a full integration test against a real Postgres container.
// It requires Docker to be running.
func TestStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()

	// Check for Docker availability before starting anything.
	// We wrap this in a function to recover from panics inside testcontainers (e.g. socket not found)
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("testcontainers panicked: %v", r)
			}
		}()
		_, err = testcontainers.NewDockerClientWithOpts(ctx)
		return
	}()
	if err != nil {
		t.Skipf("Docker not available, cannot run integration test: %v", err)
	}

	pgContainer, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("landmarker_test"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
		testcontainers.WithLogger(noopLogger{}),
	)
	if err != nil {
		t.Fatalf("Failed to start postgres container: %v", err)
	}
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Fatalf("Failed to terminate container: %v", err)
		}
	}()

	// Get Connection String
	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get connection string: %v", err)
	}

	// Initialize Store (runs migrations)
	s, err := New(ctx, connStr)
	if err != nil {
		t.Fatalf("Failed to connect to store: %v", err)
	}
	defer s.Close(ctx)

	// --- Test Scenarios ---

	info := RunInfo{
		Mode:     "video",
		Source:   "/tmp/video.mp4",
		SourceID: "vid_123",
		Options:  map[string]any{"num_faces": 2},
	}
	runID, err := s.CreateRun(ctx, info)
	if err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}
	if _, err := uuid.Parse(runID); err != nil {
		t.Errorf("Expected a UUID run ID, got %q", runID)
	}

	face := landmarker.Result{
		FaceLandmarks: [][]landmarker.Landmark{{{X: 0.25, Y: 0.5, Z: -0.1}}},
		FaceBlendshapes: []landmarker.Classifications{{
			Categories: []landmarker.Category{{Index: 3, Score: 0.8, CategoryName: "browInnerUp"}},
		}},
		FacialTransformationMatrixes: []landmarker.Matrix{{Rows: 1, Cols: 2, PackedData: []float32{1, 2}, Layout: formats.ColumnMajor}},
	}
	// Insert out of order to check sorting
	if err := s.InsertFrameResult(ctx, runID, 66, landmarker.Result{}); err != nil {
		t.Fatalf("InsertFrameResult failed: %v", err)
	}
	if err := s.InsertFrameResult(ctx, runID, 33, face); err != nil {
		t.Fatalf("InsertFrameResult failed: %v", err)
	}

	frames, err := s.GetFrameResults(ctx, runID)
	if err != nil {
		t.Fatalf("GetFrameResults failed: %v", err)
	}
	if len(frames) != 2 {
		t.Fatalf("Expected 2 frames, got %d", len(frames))
	}
	if frames[0].TimestampMs != 33 || frames[0].FaceCount != 1 {
		t.Errorf("Unexpected first frame: %+v", frames[0])
	}
	if diff := cmp.Diff(face, frames[0].Result); diff != "" {
		t.Errorf("Stored result mismatch (-want +got):\n%s", diff)
	}
	if !frames[1].Result.IsEmpty() || frames[1].Result.FaceBlendshapes != nil {
		t.Errorf("Expected an empty second frame, got %+v", frames[1].Result)
	}

	// Unknown run
	if _, err := s.GetFrameResults(ctx, uuid.NewString()); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("Expected ErrRunNotFound, got %v", err)
	}

	runs, err := s.ListRuns(ctx)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("Expected 1 run, got %d", len(runs))
	}
	if runs[0].ID != runID || runs[0].Frames != 2 || runs[0].Faces != 1 {
		t.Errorf("Unexpected run summary: %+v", runs[0])
	}

	// Re-running the same source replaces the earlier run
	if _, err := s.CreateRun(ctx, info); err != nil {
		t.Fatalf("CreateRun (rerun) failed: %v", err)
	}
	runs, err = s.ListRuns(ctx)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 1 || runs[0].ID == runID || runs[0].Frames != 0 {
		t.Errorf("Expected a single fresh run, got %+v", runs)
	}

	// Reset drops everything; a new store recreates the schema
	if err := s.Reset(ctx); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if _, err := s.ListRuns(ctx); err == nil {
		t.Error("Expected ListRuns to fail after Reset")
	}
}

type noopLogger struct{}

func (n noopLogger) Printf(format string, v ...interface{}) {}
