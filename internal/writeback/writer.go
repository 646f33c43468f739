package writeback

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mytireplan/tire-plan-sub001/internal/cache"
	"github.com/mytireplan/tire-plan-sub001/internal/domain"
	"github.com/mytireplan/tire-plan-sub001/internal/store"
	"github.com/mytireplan/tire-plan-sub001/internal/xid"
)

type Config struct {
	Workers      int
	MaxAttempts  int
	StatusTTL    time.Duration
	PollInterval time.Duration
	RetryBackoff time.Duration
}

func DefaultConfig() Config {
	return Config{
		Workers:      1,
		MaxAttempts:  5,
		StatusTTL:    24 * time.Hour,
		PollInterval: 5 * time.Second,
		RetryBackoff: 500 * time.Millisecond,
	}
}

// FailureHandler is called once an intent has used all of its attempts.
type FailureHandler func(ctx context.Context, intent Intent, err error)

// Writer carries locally applied changes to the store. Submit records a
// pending intent; workers commit it, retrying in place so intents from one
// worker stay in order.
type Writer struct {
	queue     Queue
	committer store.Committer
	statuses  cache.WriteStatusCache
	cfg       Config
	logger    *zap.Logger
	now       func() time.Time

	mu        sync.RWMutex
	onFailure FailureHandler
}

func NewWriter(queue Queue, committer store.Committer, statuses cache.WriteStatusCache, cfg Config, logger *zap.Logger) *Writer {
	def := DefaultConfig()
	if cfg.Workers < 1 {
		cfg.Workers = def.Workers
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.StatusTTL <= 0 {
		cfg.StatusTTL = def.StatusTTL
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.RetryBackoff < 0 {
		cfg.RetryBackoff = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{
		queue:     queue,
		committer: committer,
		statuses:  statuses,
		cfg:       cfg,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (w *Writer) OnFailure(fn FailureHandler) {
	w.mu.Lock()
	w.onFailure = fn
	w.mu.Unlock()
}

// Submit enqueues the mutations as one intent and returns its pending status.
// When the queue is unreachable the intent is committed inline instead; the
// error is returned only when that fails too.
func (w *Writer) Submit(ctx context.Context, kind string, mutations ...store.Mutation) (domain.WriteStatus, error) {
	if err := store.ValidateAll(mutations); err != nil {
		return domain.WriteStatus{}, err
	}
	intent := Intent{
		ID:         xid.New("wi"),
		Kind:       kind,
		Mutations:  mutations,
		EnqueuedAt: w.now(),
	}
	status := w.setStatus(ctx, intent, domain.WriteStatePending, nil)

	err := w.queue.Push(ctx, intent)
	if err == nil {
		return status, nil
	}
	w.logger.Warn("writeback queue unavailable, committing inline",
		zap.String("intent_id", intent.ID),
		zap.String("kind", kind),
		zap.Error(err),
	)
	intent.Attempts = 1
	if err := w.committer.Commit(ctx, mutations...); err != nil {
		return w.setStatus(ctx, intent, domain.WriteStateFailed, err), err
	}
	return w.setStatus(ctx, intent, domain.WriteStateConfirmed, nil), nil
}

// CommitNow commits the mutations on the caller's goroutine, for writes that
// must be durable before anything is applied locally.
func (w *Writer) CommitNow(ctx context.Context, kind string, mutations ...store.Mutation) (domain.WriteStatus, error) {
	if err := store.ValidateAll(mutations); err != nil {
		return domain.WriteStatus{}, err
	}
	intent := Intent{ID: xid.New("wi"), Kind: kind, Mutations: mutations, Attempts: 1, EnqueuedAt: w.now()}
	if err := w.committer.Commit(ctx, mutations...); err != nil {
		return w.setStatus(ctx, intent, domain.WriteStateFailed, err), err
	}
	return w.setStatus(ctx, intent, domain.WriteStateConfirmed, nil), nil
}

// Run starts the workers and blocks until ctx ends and they have exited.
func (w *Writer) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < w.cfg.Workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			w.work(ctx, id)
		}(i)
	}
	w.logger.Info("writeback workers started", zap.Int("workers", w.cfg.Workers))
	wg.Wait()
}

func (w *Writer) work(ctx context.Context, id int) {
	for {
		if ctx.Err() != nil {
			w.logger.Debug("writeback worker stopping", zap.Int("worker", id))
			return
		}
		intent, err := w.queue.Pop(ctx, w.cfg.PollInterval)
		if err != nil {
			if !errors.Is(err, ErrQueueEmpty) && ctx.Err() == nil {
				w.logger.Warn("writeback dequeue failed", zap.Int("worker", id), zap.Error(err))
				w.sleep(ctx, w.cfg.PollInterval)
			}
			continue
		}
		w.process(ctx, intent)
	}
}

// Drain processes queued intents on the caller's goroutine until the queue is
// empty.
func (w *Writer) Drain(ctx context.Context) error {
	for {
		intent, err := w.queue.Pop(ctx, 0)
		if errors.Is(err, ErrQueueEmpty) {
			return nil
		}
		if err != nil {
			return err
		}
		w.process(ctx, intent)
	}
}

func (w *Writer) process(ctx context.Context, intent Intent) {
	var lastErr error
	for intent.Attempts < w.cfg.MaxAttempts {
		intent.Attempts++
		lastErr = w.committer.Commit(ctx, intent.Mutations...)
		if lastErr == nil {
			w.setStatus(ctx, intent, domain.WriteStateConfirmed, nil)
			w.logger.Debug("writeback confirmed",
				zap.String("intent_id", intent.ID),
				zap.String("kind", intent.Kind),
				zap.Int("attempts", intent.Attempts),
			)
			return
		}
		if ctx.Err() != nil {
			w.requeue(intent)
			return
		}
		w.setStatus(ctx, intent, domain.WriteStatePending, lastErr)
		w.logger.Warn("writeback attempt failed",
			zap.String("intent_id", intent.ID),
			zap.Int("attempt", intent.Attempts),
			zap.Int("max_attempts", w.cfg.MaxAttempts),
			zap.Error(lastErr),
		)
		if intent.Attempts < w.cfg.MaxAttempts {
			w.sleep(ctx, w.cfg.RetryBackoff*time.Duration(intent.Attempts))
		}
	}
	w.fail(ctx, intent, lastErr)
}

func (w *Writer) fail(ctx context.Context, intent Intent, err error) {
	if err == nil {
		err = errors.New("no attempts left")
	}
	w.setStatus(ctx, intent, domain.WriteStateFailed, err)
	letter := DeadLetter{Intent: intent, Reason: err.Error(), FailedAt: w.now()}
	if dlqErr := w.queue.DeadLetter(ctx, letter); dlqErr != nil {
		w.logger.Error("writeback dead letter failed", zap.String("intent_id", intent.ID), zap.Error(dlqErr))
	}
	w.logger.Warn("writeback intent failed",
		zap.String("intent_id", intent.ID),
		zap.String("kind", intent.Kind),
		zap.Int("attempts", intent.Attempts),
		zap.Error(err),
	)

	w.mu.RLock()
	handler := w.onFailure
	w.mu.RUnlock()
	if handler != nil {
		handler(ctx, intent, domain.Persistence(err, "%s write %s failed", intent.Kind, intent.ID))
	}
}

// requeue puts an interrupted intent back at the head of the queue so it
// still commits before anything submitted after it.
func (w *Writer) requeue(intent Intent) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := w.queue.Requeue(ctx, intent); err != nil {
		w.logger.Error("writeback requeue failed", zap.String("intent_id", intent.ID), zap.Error(err))
	}
}

func (w *Writer) Status(ctx context.Context, intentID string) (domain.WriteStatus, error) {
	status, ok, err := w.statuses.Get(ctx, intentID)
	if err != nil {
		return domain.WriteStatus{}, err
	}
	if !ok {
		return domain.WriteStatus{}, domain.NotFound("WRITE_NOT_FOUND", "write %s not found", intentID)
	}
	return *status, nil
}

func (w *Writer) setStatus(ctx context.Context, intent Intent, state string, err error) domain.WriteStatus {
	status := domain.WriteStatus{
		IntentID:  intent.ID,
		Kind:      intent.Kind,
		State:     state,
		Attempts:  intent.Attempts,
		UpdatedAt: w.now(),
	}
	if err != nil {
		status.Error = err.Error()
	}
	if setErr := w.statuses.Set(ctx, status, w.cfg.StatusTTL); setErr != nil {
		w.logger.Warn("write status not recorded", zap.String("intent_id", intent.ID), zap.Error(setErr))
	}
	return status
}

func (w *Writer) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
