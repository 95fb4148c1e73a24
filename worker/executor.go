package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/inferno-ml/inferno/archive"
	"github.com/inferno-ml/inferno/broker"
	"github.com/inferno-ml/inferno/callback"
	"github.com/inferno-ml/inferno/config"
	"github.com/inferno-ml/inferno/log"
	"github.com/inferno-ml/inferno/models"
	"github.com/inferno-ml/inferno/observability"
	"github.com/inferno-ml/inferno/storage"
	"github.com/inferno-ml/inferno/timing"
)

// errSoftTimeout marks a pipeline that hit the soft time limit. It is
// retryable like any other job error.
var errSoftTimeout = errors.New("soft time limit exceeded")

// errHardTimeout marks a pipeline that hit the hard limit. The slot is
// abandoned; the job goes through the normal retry path.
var errHardTimeout = errors.New("hard time limit exceeded")

// binaryKeys are the well-known result keys whose raw bytes must be
// externalized to blob storage before the envelope is persisted.
var binaryKeys = map[string]string{
	"image_bytes": "png",
}

// Executor runs one job at a time on one device: runner pipeline,
// artifact externalization, result write, callback.
type Executor struct {
	cfg      *config.Settings
	registry *models.Registry
	broker   *broker.Redis
	emitter  *callback.Emitter
	arch     *archive.Archive
	deviceID int
	consumer string

	// store is built lazily on the first job and shared afterwards.
	store storage.Storage
}

// NewExecutor wires an executor for one worker slot.
func NewExecutor(cfg *config.Settings, registry *models.Registry, b *broker.Redis, arch *archive.Archive, deviceID int, consumer string) *Executor {
	return &Executor{
		cfg:      cfg,
		registry: registry,
		broker:   b,
		emitter:  callback.NewEmitter(cfg.CallbackTimeout),
		arch:     arch,
		deviceID: deviceID,
		consumer: consumer,
	}
}

// Process handles one delivery end to end. The delivery is always
// acknowledged before returning: success and terminal failure are
// recorded in the result store, and retryable failures are already
// parked on the retry schedule.
func (e *Executor) Process(ctx context.Context, d *broker.Delivery) {
	env := d.Envelope
	logger := log.Logger.With().Str("task_id", env.TaskID).Str("model", env.Model).
		Int("attempt", env.Attempt).Logger()
	logger.Info().Int("gpu_id", e.deviceID).Msg("processing inference task")

	if err := e.broker.MarkStarted(ctx, env.TaskID, env.Attempt); err != nil {
		logger.Error().Err(err).Msg("mark started failed")
	}

	result, err := e.runGuarded(ctx, &env)
	if err == nil {
		if err := e.broker.SetSuccess(ctx, result); err != nil {
			logger.Error().Err(err).Msg("result write failed")
		}
		e.ack(ctx, d)
		e.arch.RecordOutcome(ctx, env.TaskID, broker.StateSuccess, "", result.Timing)

		if env.CallbackURL != "" {
			if err := e.emitter.Notify(ctx, env.CallbackURL, result); err != nil {
				// Advisory only: the task stays SUCCESS.
				logger.Error().Err(err).Msg("failed to send callback")
			}
		}
		logger.Info().Msg("task completed successfully")
		return
	}

	logger.Error().Err(err).Msg("task error")

	if env.Attempt < e.cfg.MaxRetries {
		retry := env
		retry.Attempt++
		readyAt := time.Now().Add(e.backoff(env.Attempt))
		if rerr := e.broker.ScheduleRetry(ctx, &retry, readyAt); rerr != nil {
			logger.Error().Err(rerr).Msg("retry schedule failed; job will be redelivered by the reaper")
			// Leave the delivery unacked so the stale reaper requeues it.
			return
		}
		e.broker.MarkRetry(ctx, env.TaskID, err.Error(), retry.Attempt)
		observability.TaskRetried.Inc()
		e.ack(ctx, d)
		logger.Warn().Time("ready_at", readyAt).Msg("task scheduled for retry")
		return
	}

	if serr := e.broker.SetFailure(ctx, env.TaskID, err.Error(), env.Attempt); serr != nil {
		logger.Error().Err(serr).Msg("failure write failed")
	}
	observability.TaskFailed.Inc()
	e.ack(ctx, d)
	e.arch.RecordOutcome(ctx, env.TaskID, broker.StateFailure, err.Error(), nil)
	logger.Error().Msg("task failed after retries")
}

func (e *Executor) ack(ctx context.Context, d *broker.Delivery) {
	if err := e.broker.Ack(ctx, e.consumer, d); err != nil {
		log.Logger.Error().Err(err).Str("task_id", d.Envelope.TaskID).Msg("ack failed")
	}
}

// runGuarded applies the soft and hard time limits around the
// pipeline. The soft limit cancels the pipeline context and surfaces a
// retryable timeout; the hard limit abandons the slot outright.
func (e *Executor) runGuarded(ctx context.Context, env *broker.JobEnvelope) (*broker.ResultEnvelope, error) {
	jobCtx, cancel := context.WithTimeout(ctx, e.cfg.SoftTimeLimit)
	defer cancel()

	type outcome struct {
		result *broker.ResultEnvelope
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := e.runPipeline(jobCtx, env)
		done <- outcome{res, err}
	}()

	select {
	case out := <-done:
		if out.err != nil && errors.Is(jobCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s", errSoftTimeout, e.cfg.SoftTimeLimit)
		}
		return out.result, out.err
	case <-time.After(e.cfg.HardTimeLimit):
		cancel()
		return nil, fmt.Errorf("%w after %s", errHardTimeout, e.cfg.HardTimeLimit)
	}
}

// runPipeline executes the phases in order: model_loading, inference,
// storage, with total spanning all of them.
func (e *Executor) runPipeline(ctx context.Context, env *broker.JobEnvelope) (*broker.ResultEnvelope, error) {
	timer := timing.NewTimer()
	timer.Start("total")
	defer timer.StopAll()

	modelCfg := models.ModelConfig{
		Name:     env.Model,
		DeviceID: e.deviceID,
		Device:   deviceFor(e.deviceID),
	}

	timer.Start("model_loading")
	runner, err := e.registry.GetOrCreateRunner(modelCfg)
	if err != nil {
		return nil, err
	}
	preloaded := runner.Loaded()
	timer.Stop("model_loading")

	timer.Start("inference")
	result, err := runner.Run(ctx, env.Input)
	if err != nil {
		return nil, err
	}
	timer.Stop("inference")

	timer.Start("storage")
	if err := e.externalize(ctx, env.TaskID, result); err != nil {
		return nil, err
	}
	timer.Stop("storage")

	timer.Stop("total")
	phases := timer.Snapshot()

	if !preloaded {
		observability.ModelLoadDuration.WithLabelValues(env.Model).Observe(timer.Seconds("model_loading"))
	}
	observability.InferenceDuration.WithLabelValues(env.Model).Observe(timer.Seconds("inference"))
	observability.StorageDuration.Observe(timer.Seconds("storage"))
	observability.TotalDuration.WithLabelValues(env.Model).Observe(timer.Seconds("total"))
	observability.TaskCompleted.WithLabelValues(env.Model).Inc()

	return &broker.ResultEnvelope{
		TaskID: env.TaskID,
		Status: broker.StateSuccess,
		Timing: phases,
		Result: result,
	}, nil
}

// externalize uploads raw artifact bytes to blob storage and replaces
// them in the result with blob metadata. The key is a pure function of
// the task id, so at-least-once re-executions overwrite instead of
// leaking objects.
func (e *Executor) externalize(ctx context.Context, taskID string, result map[string]any) error {
	for key, ext := range binaryKeys {
		raw, ok := result[key].([]byte)
		if !ok {
			continue
		}

		store, err := e.storageService()
		if err != nil {
			return err
		}

		blobKey := fmt.Sprintf("results/%s.%s", taskID, ext)
		url, err := store.UploadBytes(ctx, raw, blobKey, contentTypeFor(ext))
		if err != nil {
			return fmt.Errorf("upload artifact: %w", err)
		}

		result["blob_key"] = blobKey
		result["blob_url"] = url
		delete(result, key)
	}
	return nil
}

func (e *Executor) storageService() (storage.Storage, error) {
	if e.store != nil {
		return e.store, nil
	}
	store, err := storage.New(e.cfg)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}
	e.store = store
	return store, nil
}

// backoff returns the delay before retry attempt+1: exponential from
// the configured base, capped, with full jitter.
func (e *Executor) backoff(attempt int) time.Duration {
	delay := e.cfg.RetryBackoff
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= e.cfg.RetryBackoffMax {
			delay = e.cfg.RetryBackoffMax
			break
		}
	}
	return time.Duration(rand.Float64() * float64(delay))
}

func deviceFor(deviceID int) string {
	if deviceID >= 0 {
		return "cuda"
	}
	return "cpu"
}

func contentTypeFor(ext string) string {
	if ext == "png" {
		return "image/png"
	}
	return "application/octet-stream"
}
