package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/inferno-ml/inferno/log"
)

const (
	resultKeyPrefix     = "gpu:result:"
	consumerKeyPrefix   = "gpu:consumer:"
	processingKeyPrefix = "gpu-processing:"
	retryKey            = "gpu-retry"
)

// Publisher is the queue-side contract the gateway depends on.
type Publisher interface {
	Publish(ctx context.Context, queue string, env *JobEnvelope) error
}

// ResultReader is the result-store contract the gateway depends on.
type ResultReader interface {
	GetResult(ctx context.Context, taskID string) (*TaskRecord, error)
}

// Redis implements the broker contract on a Redis backend. Pending
// jobs live in per-priority lists; in-flight jobs sit in a per-consumer
// processing list until acknowledged (late ack); delayed retries wait
// in a sorted set scored by ready time.
type Redis struct {
	client    *redis.Client
	resultTTL time.Duration
}

// NewRedis connects and verifies the backend.
func NewRedis(addr, password string, db int, resultTTL time.Duration) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("broker ping: %w", err)
	}

	return &Redis{client: client, resultTTL: resultTTL}, nil
}

// NewRedisFromClient wraps an existing client. Used by tests.
func NewRedisFromClient(client *redis.Client, resultTTL time.Duration) *Redis {
	return &Redis{client: client, resultTTL: resultTTL}
}

// Close releases the connection pool.
func (b *Redis) Close() error {
	return b.client.Close()
}

// Publish appends a job to the named queue. It does not wait for a
// consumer; the result key stays absent, which clients read as
// PENDING.
func (b *Redis) Publish(ctx context.Context, queue string, env *JobEnvelope) error {
	env.Queue = queue
	if env.EnqueuedAt.IsZero() {
		env.EnqueuedAt = time.Now().UTC()
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if err := b.client.LPush(ctx, queue, data).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", queue, err)
	}
	return nil
}

// Delivery is one in-flight job. Raw is the exact queue member, kept
// so Ack can LREM it from the processing list.
type Delivery struct {
	Raw      string
	Envelope JobEnvelope
}

// TryDequeue moves the next job into the consumer's processing list,
// draining higher-priority queues first. Returns nil when every queue
// is empty.
func (b *Redis) TryDequeue(ctx context.Context, consumer string) (*Delivery, error) {
	for _, queue := range Queues() {
		raw, err := b.client.LMove(ctx, queue, processingKeyPrefix+consumer, "RIGHT", "LEFT").Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("dequeue %s: %w", queue, err)
		}

		var env JobEnvelope
		if err := json.Unmarshal([]byte(raw), &env); err != nil {
			// Poison message: drop it from processing so it cannot wedge
			// the slot forever.
			log.Logger.Error().Err(err).Str("queue", queue).Msg("dropping undecodable job")
			b.client.LRem(ctx, processingKeyPrefix+consumer, 1, raw)
			continue
		}
		return &Delivery{Raw: raw, Envelope: env}, nil
	}
	return nil, nil
}

// Ack removes a finished delivery from the consumer's processing list.
// Called only after the worker has written the task's outcome: until
// then a lost worker leaves the entry behind for the reaper.
func (b *Redis) Ack(ctx context.Context, consumer string, d *Delivery) error {
	return b.client.LRem(ctx, processingKeyPrefix+consumer, 1, d.Raw).Err()
}

// Heartbeat refreshes the consumer's liveness key.
func (b *Redis) Heartbeat(ctx context.Context, consumer string, ttl time.Duration) error {
	return b.client.Set(ctx, consumerKeyPrefix+consumer, "alive", ttl).Err()
}

// ReapStale requeues jobs stuck in the processing lists of consumers
// whose liveness key has expired. This is the redelivery half of
// at-least-once.
func (b *Redis) ReapStale(ctx context.Context) (int, error) {
	requeued := 0
	iter := b.client.Scan(ctx, 0, processingKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		procKey := iter.Val()
		consumer := strings.TrimPrefix(procKey, processingKeyPrefix)

		alive, err := b.client.Exists(ctx, consumerKeyPrefix+consumer).Result()
		if err != nil {
			return requeued, err
		}
		if alive > 0 {
			continue
		}

		entries, err := b.client.LRange(ctx, procKey, 0, -1).Result()
		if err != nil {
			return requeued, err
		}
		for _, raw := range entries {
			var env JobEnvelope
			if err := json.Unmarshal([]byte(raw), &env); err != nil {
				log.Logger.Error().Err(err).Msg("dropping undecodable stale job")
				continue
			}
			queue := env.Queue
			if queue == "" {
				queue = QueueNormal
			}
			if err := b.client.LPush(ctx, queue, raw).Err(); err != nil {
				return requeued, err
			}
			requeued++
		}
		if err := b.client.Del(ctx, procKey).Err(); err != nil {
			return requeued, err
		}
		if len(entries) > 0 {
			log.Logger.Warn().Str("consumer", consumer).Int("jobs", len(entries)).
				Msg("requeued jobs from dead consumer")
		}
	}
	return requeued, iter.Err()
}

// ScheduleRetry parks the envelope until readyAt, after which
// PromoteDueRetries returns it to its origin queue.
func (b *Redis) ScheduleRetry(ctx context.Context, env *JobEnvelope, readyAt time.Time) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal retry envelope: %w", err)
	}
	return b.client.ZAdd(ctx, retryKey, redis.Z{
		Score:  float64(readyAt.UnixMilli()),
		Member: data,
	}).Err()
}

// PromoteDueRetries moves every due retry back onto its queue.
func (b *Redis) PromoteDueRetries(ctx context.Context) (int, error) {
	now := fmt.Sprintf("%d", time.Now().UnixMilli())
	members, err := b.client.ZRangeByScore(ctx, retryKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: now,
	}).Result()
	if err != nil {
		return 0, err
	}

	promoted := 0
	for _, raw := range members {
		var env JobEnvelope
		if err := json.Unmarshal([]byte(raw), &env); err != nil {
			b.client.ZRem(ctx, retryKey, raw)
			continue
		}
		queue := env.Queue
		if queue == "" {
			queue = QueueNormal
		}
		if err := b.client.LPush(ctx, queue, raw).Err(); err != nil {
			return promoted, err
		}
		if err := b.client.ZRem(ctx, retryKey, raw).Err(); err != nil {
			return promoted, err
		}
		promoted++
	}
	return promoted, nil
}

// MarkStarted records that a worker picked the task up.
func (b *Redis) MarkStarted(ctx context.Context, taskID string, attempt int) error {
	return b.writeRecord(ctx, taskID, &TaskRecord{State: StateStarted, Attempt: attempt})
}

// MarkRetry records a failed attempt awaiting redelivery. The error
// string is what status reads surface for RETRY.
func (b *Redis) MarkRetry(ctx context.Context, taskID, errMsg string, attempt int) error {
	return b.writeRecord(ctx, taskID, &TaskRecord{State: StateRetry, Error: errMsg, Attempt: attempt})
}

// SetSuccess writes the terminal SUCCESS record.
func (b *Redis) SetSuccess(ctx context.Context, env *ResultEnvelope) error {
	return b.writeRecord(ctx, env.TaskID, &TaskRecord{State: StateSuccess, Envelope: env})
}

// SetFailure writes the terminal FAILURE record with the last error.
func (b *Redis) SetFailure(ctx context.Context, taskID, errMsg string, attempt int) error {
	return b.writeRecord(ctx, taskID, &TaskRecord{State: StateFailure, Error: errMsg, Attempt: attempt})
}

func (b *Redis) writeRecord(ctx context.Context, taskID string, rec *TaskRecord) error {
	rec.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal task record: %w", err)
	}
	return b.client.Set(ctx, resultKeyPrefix+taskID, data, b.resultTTL).Err()
}

// GetResult reads the task's record. Tasks without a record read as
// PENDING, per the contract.
func (b *Redis) GetResult(ctx context.Context, taskID string) (*TaskRecord, error) {
	data, err := b.client.Get(ctx, resultKeyPrefix+taskID).Bytes()
	if errors.Is(err, redis.Nil) {
		return &TaskRecord{State: StatePending}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get result %s: %w", taskID, err)
	}

	var rec TaskRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode result %s: %w", taskID, err)
	}
	return &rec, nil
}

// QueueDepth reports the pending length of one queue.
func (b *Redis) QueueDepth(ctx context.Context, queue string) (int64, error) {
	return b.client.LLen(ctx, queue).Result()
}
