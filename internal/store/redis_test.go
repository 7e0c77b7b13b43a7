package store_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/nekazari/intelligence/internal/store"
	"github.com/nekazari/intelligence/pkg/models"
)

// setupStore spins up a Redis container and returns a connected RedisStore.
func setupStore(t *testing.T) *store.RedisStore {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, container.Terminate(ctx)) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	client, err := store.NewClient("redis://" + host + ":" + port.Port())
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return store.NewRedisStore(client, time.Hour)
}

func newJob(tenant string) *models.Job {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &models.Job{
		ID:       uuid.New(),
		TenantID: tenant,
		Kind:     models.JobKindPredict,
		Plugin:   "simple_predictor",
		Payload: models.Payload{
			EntityID:  "urn:ngsi-ld:AgriSensor:sensor-123",
			Attribute: "temperature",
			Samples: []models.Sample{
				{Timestamp: now.Add(-2 * time.Hour), Value: 20.5},
				{Timestamp: now.Add(-1 * time.Hour), Value: 22.1},
			},
			Horizon: 24,
		},
		Status:    models.JobStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestCreateGet_Roundtrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := setupStore(t)
	ctx := context.Background()

	job := newJob("tenant-a")
	require.NoError(t, s.Create(ctx, job))

	got, err := s.Get(ctx, job.ID, "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, models.JobStatusPending, got.Status)
	assert.Equal(t, models.JobKindPredict, got.Kind)
	assert.Equal(t, "urn:ngsi-ld:AgriSensor:sensor-123", got.Payload.EntityID)
	assert.Len(t, got.Payload.Samples, 2)
	assert.Equal(t, 24, got.Payload.Horizon)
	assert.Nil(t, got.Result)
	assert.Nil(t, got.Error)
}

func TestGet_TenantIsolation(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := setupStore(t)
	ctx := context.Background()

	job := newJob("tenant-a")
	require.NoError(t, s.Create(ctx, job))

	_, err := s.Get(ctx, job.ID, "tenant-b")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestGet_NotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := setupStore(t)

	_, err := s.Get(context.Background(), uuid.New(), "tenant-a")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestMarkRunning_ClaimsPendingJob(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := setupStore(t)
	ctx := context.Background()

	job := newJob("tenant-a")
	require.NoError(t, s.Create(ctx, job))
	require.NoError(t, s.MarkRunning(ctx, job.ID))

	got, err := s.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, got.Status)
}

func TestMarkRunning_ExactlyOneConcurrentClaimWins(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := setupStore(t)
	ctx := context.Background()

	job := newJob("tenant-a")
	require.NoError(t, s.Create(ctx, job))

	const claimers = 8
	var wg sync.WaitGroup
	wins := make(chan struct{}, claimers)
	for range claimers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.MarkRunning(ctx, job.ID) == nil {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	assert.Len(t, wins, 1)
}

func TestReclaim_RunningJobOnly(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := setupStore(t)
	ctx := context.Background()

	job := newJob("tenant-a")
	require.NoError(t, s.Create(ctx, job))

	// Pending jobs are claimed, never reclaimed.
	assert.ErrorIs(t, s.Reclaim(ctx, job.ID), store.ErrInvalidTransition)

	require.NoError(t, s.MarkRunning(ctx, job.ID))
	require.NoError(t, s.Reclaim(ctx, job.ID))

	got, err := s.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, got.Status)

	// Terminal states stay final.
	require.NoError(t, s.Complete(ctx, job.ID, models.Forecast{Model: "simple_predictor"}))
	assert.ErrorIs(t, s.Reclaim(ctx, job.ID), store.ErrInvalidTransition)
}

func TestComplete_StoresResult(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := setupStore(t)
	ctx := context.Background()

	job := newJob("tenant-a")
	require.NoError(t, s.Create(ctx, job))
	require.NoError(t, s.MarkRunning(ctx, job.ID))

	result := models.Forecast{
		Points: []models.ForecastPoint{
			{Timestamp: time.Now().UTC().Truncate(time.Millisecond), Value: 23.5},
		},
		Confidence: 0.66,
		Model:      "simple_predictor",
	}
	require.NoError(t, s.Complete(ctx, job.ID, result))

	got, err := s.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
	require.NotNil(t, got.Result)
	assert.Len(t, got.Result.Points, 1)
	assert.Equal(t, 0.66, got.Result.Confidence)
}

func TestFail_StoresClassifiedError(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := setupStore(t)
	ctx := context.Background()

	job := newJob("tenant-a")
	require.NoError(t, s.Create(ctx, job))
	require.NoError(t, s.MarkRunning(ctx, job.ID))
	require.NoError(t, s.Fail(ctx, job.ID, models.JobError{
		Kind:    models.ErrKindPluginTimeout,
		Message: "execution exceeded 60s",
	}))

	got, err := s.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Equal(t, models.ErrKindPluginTimeout, got.Error.Kind)
	assert.Equal(t, 1, got.RetryCount)
}

func TestTransitions_AreMonotonic(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := setupStore(t)
	ctx := context.Background()

	job := newJob("tenant-a")
	require.NoError(t, s.Create(ctx, job))
	require.NoError(t, s.MarkRunning(ctx, job.ID))
	require.NoError(t, s.Complete(ctx, job.ID, models.Forecast{}))

	// Terminal states are final
	err := s.MarkRunning(ctx, job.ID)
	assert.ErrorIs(t, err, store.ErrInvalidTransition)

	err = s.Fail(ctx, job.ID, models.JobError{Kind: models.ErrKindInternal, Message: "late"})
	assert.ErrorIs(t, err, store.ErrInvalidTransition)

	err = s.Complete(ctx, job.ID, models.Forecast{})
	assert.ErrorIs(t, err, store.ErrInvalidTransition)

	got, err := s.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
	assert.Nil(t, got.Error)
}

func TestComplete_RequiresRunning(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := setupStore(t)
	ctx := context.Background()

	job := newJob("tenant-a")
	require.NoError(t, s.Create(ctx, job))

	err := s.Complete(ctx, job.ID, models.Forecast{})
	assert.ErrorIs(t, err, store.ErrInvalidTransition)
}

func TestRequestCancel(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := setupStore(t)
	ctx := context.Background()

	job := newJob("tenant-a")
	require.NoError(t, s.Create(ctx, job))
	require.NoError(t, s.RequestCancel(ctx, job.ID, "tenant-a"))

	got, err := s.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, got.CancelRequested)
	assert.Equal(t, models.JobStatusPending, got.Status)
}

func TestRequestCancel_WrongTenant(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := setupStore(t)
	ctx := context.Background()

	job := newJob("tenant-a")
	require.NoError(t, s.Create(ctx, job))

	err := s.RequestCancel(ctx, job.ID, "tenant-b")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRequestCancel_RunningJobRejected(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := setupStore(t)
	ctx := context.Background()

	job := newJob("tenant-a")
	require.NoError(t, s.Create(ctx, job))
	require.NoError(t, s.MarkRunning(ctx, job.ID))

	err := s.RequestCancel(ctx, job.ID, "tenant-a")
	assert.ErrorIs(t, err, store.ErrInvalidTransition)
}

func TestListPending(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := setupStore(t)
	ctx := context.Background()

	jobA := newJob("tenant-a")
	jobB := newJob("tenant-b")
	claimed := newJob("tenant-a")
	require.NoError(t, s.Create(ctx, jobA))
	require.NoError(t, s.Create(ctx, jobB))
	require.NoError(t, s.Create(ctx, claimed))
	require.NoError(t, s.MarkRunning(ctx, claimed.ID))

	all, err := s.ListPending(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	forA, err := s.ListPending(ctx, "tenant-a")
	require.NoError(t, err)
	require.Len(t, forA, 1)
	assert.Equal(t, jobA.ID, forA[0].ID)
}

func TestIncrWithExpiry(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := setupStore(t)
	ctx := context.Background()

	key := store.RateLimitKey("tenant-a")
	n, err := s.IncrWithExpiry(ctx, key, 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = s.IncrWithExpiry(ctx, key, 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}
