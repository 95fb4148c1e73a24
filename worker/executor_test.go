package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferno-ml/inferno/broker"
	"github.com/inferno-ml/inferno/config"
	"github.com/inferno-ml/inferno/models"
)

// artifactRunner emits a raw binary artifact, like the superres model.
type artifactRunner struct{}

func (artifactRunner) Load(context.Context) error { return nil }
func (artifactRunner) Prepare(context.Context, map[string]any) (*models.Tensor, error) {
	return &models.Tensor{}, nil
}
func (artifactRunner) Infer(_ context.Context, t *models.Tensor) (*models.Tensor, error) {
	return t, nil
}
func (artifactRunner) Postprocess(context.Context, *models.Tensor) (map[string]any, error) {
	return map[string]any{
		"image_bytes": []byte("fake-png-bytes"),
		"format":      "PNG",
	}, nil
}
func (artifactRunner) Close() error { return nil }

// plainRunner returns a JSON-safe result with no artifact.
type plainRunner struct{}

func (plainRunner) Load(context.Context) error { return nil }
func (plainRunner) Prepare(context.Context, map[string]any) (*models.Tensor, error) {
	return &models.Tensor{}, nil
}
func (plainRunner) Infer(_ context.Context, t *models.Tensor) (*models.Tensor, error) { return t, nil }
func (plainRunner) Postprocess(context.Context, *models.Tensor) (map[string]any, error) {
	return map[string]any{"overall_score": 0.7}, nil
}
func (plainRunner) Close() error { return nil }

// failingRunner fails every attempt.
type failingRunner struct{}

func (failingRunner) Load(context.Context) error { return nil }
func (failingRunner) Prepare(context.Context, map[string]any) (*models.Tensor, error) {
	return nil, errors.New("corrupt input")
}
func (failingRunner) Infer(_ context.Context, t *models.Tensor) (*models.Tensor, error) { return t, nil }
func (failingRunner) Postprocess(context.Context, *models.Tensor) (map[string]any, error) {
	return nil, nil
}
func (failingRunner) Close() error { return nil }

// blockingRunner stalls until the pipeline context is cancelled.
type blockingRunner struct{}

func (blockingRunner) Load(context.Context) error { return nil }
func (blockingRunner) Prepare(context.Context, map[string]any) (*models.Tensor, error) {
	return &models.Tensor{}, nil
}
func (blockingRunner) Infer(ctx context.Context, t *models.Tensor) (*models.Tensor, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}
func (blockingRunner) Postprocess(context.Context, *models.Tensor) (map[string]any, error) {
	return nil, nil
}
func (blockingRunner) Close() error { return nil }

// stubbornRunner ignores cancellation entirely.
type stubbornRunner struct{}

func (stubbornRunner) Load(context.Context) error { return nil }
func (stubbornRunner) Prepare(context.Context, map[string]any) (*models.Tensor, error) {
	return &models.Tensor{}, nil
}
func (stubbornRunner) Infer(context.Context, *models.Tensor) (*models.Tensor, error) {
	time.Sleep(10 * time.Second)
	return nil, errors.New("unreachable")
}
func (stubbornRunner) Postprocess(context.Context, *models.Tensor) (map[string]any, error) {
	return nil, nil
}
func (stubbornRunner) Close() error { return nil }

func register(reg *models.Registry, name string, r models.Runner) {
	reg.Register(name, func(models.ModelConfig) models.Runner { return r })
}

func newTestExecutor(t *testing.T, reg *models.Registry) (*Executor, *broker.Redis, *config.Settings) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	b := broker.NewRedisFromClient(client, time.Hour)

	cfg := &config.Settings{
		MaxRetries:      3,
		RetryBackoff:    time.Millisecond,
		RetryBackoffMax: 4 * time.Millisecond,
		SoftTimeLimit:   2 * time.Second,
		HardTimeLimit:   5 * time.Second,
		UseLocalStorage: true,
		LocalStorage:    t.TempDir(),
		CallbackTimeout: 2 * time.Second,
	}
	return NewExecutor(cfg, reg, b, nil, 0, "test-consumer"), b, cfg
}

func delivery(t *testing.T, env broker.JobEnvelope) *broker.Delivery {
	t.Helper()
	raw, err := json.Marshal(&env)
	require.NoError(t, err)
	return &broker.Delivery{Raw: string(raw), Envelope: env}
}

func TestProcessSuccessExternalizesArtifact(t *testing.T) {
	reg := models.NewRegistry()
	register(reg, "img-model", artifactRunner{})
	exec, b, _ := newTestExecutor(t, reg)
	ctx := context.Background()

	exec.Process(ctx, delivery(t, broker.JobEnvelope{TaskID: "task-1", Model: "img-model"}))

	rec, err := b.GetResult(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, broker.StateSuccess, rec.State)
	require.NotNil(t, rec.Envelope)

	result := rec.Envelope.Result
	assert.NotContains(t, result, "image_bytes")
	assert.Equal(t, "results/task-1.png", result["blob_key"])
	blobURL, ok := result["blob_url"].(string)
	require.True(t, ok)

	data, err := os.ReadFile(blobURL)
	require.NoError(t, err)
	assert.Equal(t, []byte("fake-png-bytes"), data)

	for _, phase := range []string{"model_loading", "inference", "storage", "total"} {
		_, ok := rec.Envelope.Timing[phase]
		assert.True(t, ok, "missing timing phase %s", phase)
	}
}

func TestProcessDeliversCallback(t *testing.T) {
	reg := models.NewRegistry()
	register(reg, "score-model", plainRunner{})
	exec, _, _ := newTestExecutor(t, reg)

	var got broker.ResultEnvelope
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	exec.Process(context.Background(), delivery(t, broker.JobEnvelope{
		TaskID:      "task-cb",
		Model:       "score-model",
		CallbackURL: srv.URL,
	}))

	assert.Equal(t, "task-cb", got.TaskID)
	assert.Equal(t, broker.StateSuccess, got.Status)
	assert.Equal(t, 0.7, got.Result["overall_score"])
}

func TestCallbackFailureDoesNotFailTask(t *testing.T) {
	reg := models.NewRegistry()
	register(reg, "score-model", plainRunner{})
	exec, b, _ := newTestExecutor(t, reg)
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	exec.Process(ctx, delivery(t, broker.JobEnvelope{
		TaskID:      "task-cb-fail",
		Model:       "score-model",
		CallbackURL: srv.URL,
	}))

	rec, err := b.GetResult(ctx, "task-cb-fail")
	require.NoError(t, err)
	assert.Equal(t, broker.StateSuccess, rec.State)
}

func TestProcessSchedulesRetry(t *testing.T) {
	reg := models.NewRegistry()
	register(reg, "flaky-model", failingRunner{})
	exec, b, _ := newTestExecutor(t, reg)
	ctx := context.Background()

	exec.Process(ctx, delivery(t, broker.JobEnvelope{
		TaskID: "task-retry",
		Model:  "flaky-model",
		Queue:  broker.QueueNormal,
	}))

	rec, err := b.GetResult(ctx, "task-retry")
	require.NoError(t, err)
	assert.Equal(t, broker.StateRetry, rec.State)
	assert.Equal(t, 1, rec.Attempt)
	assert.Contains(t, rec.Error, "corrupt input")

	// Backoff tops out at a few milliseconds in this config; the retry
	// becomes due almost immediately.
	time.Sleep(10 * time.Millisecond)
	n, err := b.PromoteDueRetries(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	d, err := b.TryDequeue(ctx, "c2")
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, "task-retry", d.Envelope.TaskID)
	assert.Equal(t, 1, d.Envelope.Attempt)
}

func TestProcessFailsAfterMaxRetries(t *testing.T) {
	reg := models.NewRegistry()
	register(reg, "flaky-model", failingRunner{})
	exec, b, cfg := newTestExecutor(t, reg)
	ctx := context.Background()

	exec.Process(ctx, delivery(t, broker.JobEnvelope{
		TaskID:  "task-dead",
		Model:   "flaky-model",
		Attempt: cfg.MaxRetries,
	}))

	rec, err := b.GetResult(ctx, "task-dead")
	require.NoError(t, err)
	assert.Equal(t, broker.StateFailure, rec.State)
	assert.True(t, rec.Terminal())
	assert.Contains(t, rec.Error, "corrupt input")

	// Nothing was parked for retry.
	n, err := b.PromoteDueRetries(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestUnknownModelGoesThroughRetryPath(t *testing.T) {
	reg := models.NewRegistry()
	exec, b, cfg := newTestExecutor(t, reg)
	ctx := context.Background()

	exec.Process(ctx, delivery(t, broker.JobEnvelope{
		TaskID:  "task-ghost",
		Model:   "ghost-model",
		Attempt: cfg.MaxRetries,
	}))

	rec, err := b.GetResult(ctx, "task-ghost")
	require.NoError(t, err)
	assert.Equal(t, broker.StateFailure, rec.State)
	assert.Contains(t, rec.Error, "not registered")
}

func TestSoftTimeLimit(t *testing.T) {
	reg := models.NewRegistry()
	register(reg, "slow-model", blockingRunner{})
	exec, b, cfg := newTestExecutor(t, reg)
	cfg.SoftTimeLimit = 50 * time.Millisecond
	ctx := context.Background()

	exec.Process(ctx, delivery(t, broker.JobEnvelope{
		TaskID:  "task-slow",
		Model:   "slow-model",
		Attempt: cfg.MaxRetries,
	}))

	rec, err := b.GetResult(ctx, "task-slow")
	require.NoError(t, err)
	assert.Equal(t, broker.StateFailure, rec.State)
	assert.Contains(t, rec.Error, "soft time limit exceeded")
}

func TestHardTimeLimit(t *testing.T) {
	reg := models.NewRegistry()
	register(reg, "stuck-model", stubbornRunner{})
	exec, b, cfg := newTestExecutor(t, reg)
	cfg.SoftTimeLimit = 20 * time.Millisecond
	cfg.HardTimeLimit = 100 * time.Millisecond
	ctx := context.Background()

	exec.Process(ctx, delivery(t, broker.JobEnvelope{
		TaskID:  "task-stuck",
		Model:   "stuck-model",
		Attempt: cfg.MaxRetries,
	}))

	rec, err := b.GetResult(ctx, "task-stuck")
	require.NoError(t, err)
	assert.Equal(t, broker.StateFailure, rec.State)
	assert.Contains(t, rec.Error, "hard time limit exceeded")
}

func TestBackoffStaysUnderCap(t *testing.T) {
	reg := models.NewRegistry()
	exec, _, cfg := newTestExecutor(t, reg)
	cfg.RetryBackoff = 60 * time.Second
	cfg.RetryBackoffMax = 300 * time.Second

	for attempt := 0; attempt < 10; attempt++ {
		d := exec.backoff(attempt)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, cfg.RetryBackoffMax)
	}
}

func TestDeviceFor(t *testing.T) {
	assert.Equal(t, "cuda", deviceFor(0))
	assert.Equal(t, "cuda", deviceFor(3))
	assert.Equal(t, "cpu", deviceFor(-1))
}

func TestContentTypeFor(t *testing.T) {
	assert.Equal(t, "image/png", contentTypeFor("png"))
	assert.Equal(t, "application/octet-stream", contentTypeFor("bin"))
}
