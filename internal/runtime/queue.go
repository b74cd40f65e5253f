// Package runtime is the task runtime: a redis-backed queue, per-kind
// retry policy, and the worker pool that drives executor tasks through
// their handlers.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aicg/aicg/internal/config"
	"github.com/aicg/aicg/internal/models"
)

// Queue is the task broker. Deliveries are at-least-once; the database
// row is the source of truth and the conditional acquire makes duplicate
// deliveries harmless.
type Queue interface {
	// Enqueue publishes a task id onto its kind's queue.
	Enqueue(ctx context.Context, kind models.TaskKind, taskID models.ULID) error
	// Dequeue blocks up to timeout for a task on any of the given kinds.
	// A nil message without error means the wait timed out.
	Dequeue(ctx context.Context, kinds []models.TaskKind, timeout time.Duration) (*Message, error)
	// Len reports the queue depth for a kind.
	Len(ctx context.Context, kind models.TaskKind) (int64, error)
	// Close releases the broker connection.
	Close() error
}

// Message is one queue delivery.
type Message struct {
	Kind   models.TaskKind
	TaskID models.ULID
}

// redisQueue implements Queue on redis lists, one list per task kind.
type redisQueue struct {
	client    *redis.Client
	namespace string
}

// NewRedisQueue connects to redis using the queue configuration.
func NewRedisQueue(ctx context.Context, cfg config.QueueConfig) (Queue, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing queue url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to queue: %w", err)
	}
	return &redisQueue{client: client, namespace: cfg.Namespace}, nil
}

// NewRedisQueueFromClient wraps an existing client; tests use this with
// miniredis.
func NewRedisQueueFromClient(client *redis.Client, namespace string) Queue {
	return &redisQueue{client: client, namespace: namespace}
}

func (q *redisQueue) key(kind models.TaskKind) string {
	return fmt.Sprintf("%s:queue:%s", q.namespace, kind)
}

func (q *redisQueue) Enqueue(ctx context.Context, kind models.TaskKind, taskID models.ULID) error {
	if err := q.client.LPush(ctx, q.key(kind), taskID.String()).Err(); err != nil {
		return fmt.Errorf("enqueuing task %s: %w", taskID, err)
	}
	return nil
}

func (q *redisQueue) Dequeue(ctx context.Context, kinds []models.TaskKind, timeout time.Duration) (*Message, error) {
	keys := make([]string, len(kinds))
	for i, kind := range kinds {
		keys[i] = q.key(kind)
	}

	res, err := q.client.BRPop(ctx, timeout, keys...).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeuing: %w", err)
	}
	if len(res) != 2 {
		return nil, fmt.Errorf("unexpected BRPOP reply of %d elements", len(res))
	}

	kind, ok := kindFromKey(q.namespace, res[0])
	if !ok {
		return nil, fmt.Errorf("unexpected queue key %q", res[0])
	}
	taskID, err := models.ParseULID(res[1])
	if err != nil {
		return nil, fmt.Errorf("parsing queued task id: %w", err)
	}
	return &Message{Kind: kind, TaskID: taskID}, nil
}

func (q *redisQueue) Len(ctx context.Context, kind models.TaskKind) (int64, error) {
	n, err := q.client.LLen(ctx, q.key(kind)).Result()
	if err != nil {
		return 0, fmt.Errorf("reading queue depth: %w", err)
	}
	return n, nil
}

func (q *redisQueue) Close() error {
	return q.client.Close()
}

func kindFromKey(namespace, key string) (models.TaskKind, bool) {
	prefix := namespace + ":queue:"
	if len(key) <= len(prefix) || key[:len(prefix)] != prefix {
		return "", false
	}
	kind := models.TaskKind(key[len(prefix):])
	for _, known := range models.AllTaskKinds {
		if kind == known {
			return kind, true
		}
	}
	return "", false
}
