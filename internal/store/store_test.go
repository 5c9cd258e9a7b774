package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/andresmejia3/veil/internal/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// TestStoreIntegration runs the ledger against a real Postgres container.
// It requires Docker to be running.
func TestStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()

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
		t.Skipf("Docker not available, skipping integration test: %v", err)
	}

	pgContainer, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("veil_test"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
		testcontainers.WithLogger(noopLogger{}),
	)
	require.NoError(t, err, "failed to start postgres container")
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Fatalf("Failed to terminate container: %v", err)
		}
	}()

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	// Initialize Store (runs migrations)
	s, err := New(ctx, connStr)
	require.NoError(t, err)
	defer s.Close(ctx)

	// --- Test Scenarios ---

	require.NoError(t, s.RegisterMedia(ctx, "media_123", "/tmp/clip.mp4", types.KindVideo))
	// Registering twice is idempotent.
	require.NoError(t, s.RegisterMedia(ctx, "media_123", "/tmp/clip.mp4", types.KindVideo))

	start := time.Now().UTC().Truncate(time.Millisecond)
	ok := JobRecord{
		ID:            uuid.New(),
		MediaID:       "media_123",
		InputPath:     "/tmp/clip.mp4",
		OutputPath:    "/tmp/processed_clip.mp4",
		Kind:          types.KindVideo,
		Effect:        "blur",
		Model:         "haar_default",
		BlurStrength:  51,
		PixelSize:     20,
		FacesDetected: 3,
		Status:        StatusDone,
		StartedAt:     start,
		FinishedAt:    start.Add(2 * time.Second),
	}
	require.NoError(t, s.RecordJob(ctx, ok))

	failed := JobRecord{
		ID:         uuid.New(),
		InputPath:  "/tmp/broken.png",
		OutputPath: "/tmp/processed_broken.png",
		Kind:       types.KindImage,
		Effect:     "sepia",
		Model:      "haar_default",
		Status:     StatusFailed,
		Error:      "invalid effect",
		StartedAt:  start,
		FinishedAt: start.Add(3 * time.Second),
	}
	require.NoError(t, s.RecordJob(ctx, failed))

	jobs, err := s.ListJobs(ctx, 0)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	// Most recent first.
	assert.Equal(t, failed.ID, jobs[0].ID)
	assert.Equal(t, "", jobs[0].MediaID)
	assert.Equal(t, StatusFailed, jobs[0].Status)
	assert.Equal(t, ok.ID, jobs[1].ID)
	assert.Equal(t, "media_123", jobs[1].MediaID)
	assert.Equal(t, types.KindVideo, jobs[1].Kind)
	assert.Equal(t, 3, jobs[1].FacesDetected)
	assert.True(t, ok.StartedAt.Equal(jobs[1].StartedAt))

	limited, err := s.ListJobs(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	// Re-recording a job overwrites its outcome.
	ok.FacesDetected = 5
	require.NoError(t, s.RecordJob(ctx, ok))
	got, found, err := s.GetJob(ctx, ok.ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 5, got.FacesDetected)

	_, found, err = s.GetJob(ctx, uuid.New())
	require.NoError(t, err)
	assert.False(t, found)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Jobs: 2, Failed: 1, Faces: 5}, st)

	// Reset drops everything; a fresh connection re-creates the schema.
	require.NoError(t, s.Reset(ctx))
	s2, err := New(ctx, connStr)
	require.NoError(t, err)
	defer s2.Close(ctx)
	jobs, err = s2.ListJobs(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

type noopLogger struct{}

func (n noopLogger) Printf(format string, v ...interface{}) {}
