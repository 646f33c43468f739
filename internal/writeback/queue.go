package writeback

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mytireplan/tire-plan-sub001/internal/store"
)

const (
	DefaultQueueKey = "writes:intents"
	DLQPrefix       = "dlq:"
)

var ErrQueueEmpty = errors.New("writeback queue empty")

// Intent is a batch of store mutations recorded before it is durable. The
// batch is committed atomically or not at all.
type Intent struct {
	ID         string           `json:"id"`
	Kind       string           `json:"kind"`
	Mutations  []store.Mutation `json:"mutations"`
	Attempts   int              `json:"attempts"`
	EnqueuedAt time.Time        `json:"enqueued_at"`
}

// DeadLetter is an intent that ran out of attempts, kept for inspection.
type DeadLetter struct {
	Intent   Intent    `json:"intent"`
	Reason   string    `json:"reason"`
	FailedAt time.Time `json:"failed_at"`
}

type Queue interface {
	Push(ctx context.Context, intent Intent) error
	// Pop waits up to wait for an intent and returns ErrQueueEmpty when none
	// arrives. A non-positive wait does not block.
	Pop(ctx context.Context, wait time.Duration) (Intent, error)
	// Requeue returns an intent to the head of the queue, ahead of everything
	// pushed after it.
	Requeue(ctx context.Context, intent Intent) error
	DeadLetter(ctx context.Context, letter DeadLetter) error
	Len(ctx context.Context) (int64, error)
}

type MemoryQueue struct {
	mu      sync.Mutex
	items   []Intent
	dead    []DeadLetter
	waiting chan struct{}
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{waiting: make(chan struct{}, 1)}
}

func (q *MemoryQueue) Push(_ context.Context, intent Intent) error {
	q.mu.Lock()
	q.items = append(q.items, intent)
	q.mu.Unlock()

	select {
	case q.waiting <- struct{}{}:
	default:
	}
	return nil
}

func (q *MemoryQueue) Requeue(_ context.Context, intent Intent) error {
	q.mu.Lock()
	q.items = append([]Intent{intent}, q.items...)
	q.mu.Unlock()

	select {
	case q.waiting <- struct{}{}:
	default:
	}
	return nil
}

func (q *MemoryQueue) Pop(ctx context.Context, wait time.Duration) (Intent, error) {
	var deadline <-chan time.Time
	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		if intent, ok := q.take(); ok {
			return intent, nil
		}
		if wait <= 0 {
			return Intent{}, ErrQueueEmpty
		}
		select {
		case <-ctx.Done():
			return Intent{}, ctx.Err()
		case <-deadline:
			return Intent{}, ErrQueueEmpty
		case <-q.waiting:
		}
	}
}

func (q *MemoryQueue) take() (Intent, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Intent{}, false
	}
	intent := q.items[0]
	q.items = q.items[1:]
	if len(q.items) > 0 {
		// wake the next waiting worker
		select {
		case q.waiting <- struct{}{}:
		default:
		}
	}
	return intent, true
}

func (q *MemoryQueue) DeadLetter(_ context.Context, letter DeadLetter) error {
	q.mu.Lock()
	q.dead = append(q.dead, letter)
	q.mu.Unlock()
	return nil
}

func (q *MemoryQueue) Len(_ context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.items)), nil
}

func (q *MemoryQueue) DeadLetters() []DeadLetter {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]DeadLetter(nil), q.dead...)
}

// RedisQueue keeps intents in a Redis list: LPUSH to enqueue and BRPOP to
// dequeue, so they come out in arrival order and survive a process restart.
// Dead letters go to a parallel list under DLQPrefix.
type RedisQueue struct {
	rdb *redis.Client
	key string
}

func NewRedisQueue(rdb *redis.Client, key string) *RedisQueue {
	if key == "" {
		key = DefaultQueueKey
	}
	return &RedisQueue{rdb: rdb, key: key}
}

func (q *RedisQueue) Push(ctx context.Context, intent Intent) error {
	encoded, err := json.Marshal(intent)
	if err != nil {
		return err
	}
	return q.rdb.LPush(ctx, q.key, encoded).Err()
}

// Requeue pushes on the pop end of the list so the intent comes out next.
func (q *RedisQueue) Requeue(ctx context.Context, intent Intent) error {
	encoded, err := json.Marshal(intent)
	if err != nil {
		return err
	}
	return q.rdb.RPush(ctx, q.key, encoded).Err()
}

func (q *RedisQueue) Pop(ctx context.Context, wait time.Duration) (Intent, error) {
	var raw string
	if wait <= 0 {
		val, err := q.rdb.RPop(ctx, q.key).Result()
		if errors.Is(err, redis.Nil) {
			return Intent{}, ErrQueueEmpty
		}
		if err != nil {
			return Intent{}, err
		}
		raw = val
	} else {
		result, err := q.rdb.BRPop(ctx, wait, q.key).Result()
		if errors.Is(err, redis.Nil) {
			return Intent{}, ErrQueueEmpty
		}
		if err != nil {
			return Intent{}, err
		}
		if len(result) < 2 {
			return Intent{}, ErrQueueEmpty
		}
		raw = result[1]
	}

	var intent Intent
	if err := json.Unmarshal([]byte(raw), &intent); err != nil {
		return Intent{}, err
	}
	return intent, nil
}

func (q *RedisQueue) DeadLetter(ctx context.Context, letter DeadLetter) error {
	data, err := json.Marshal(letter)
	if err != nil {
		return err
	}
	return q.rdb.LPush(ctx, DLQPrefix+q.key, data).Err()
}

func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.rdb.LLen(ctx, q.key).Result()
}

// DeadLetterLen returns the number of entries in the dead letter list.
func (q *RedisQueue) DeadLetterLen(ctx context.Context) (int64, error) {
	return q.rdb.LLen(ctx, DLQPrefix+q.key).Result()
}
