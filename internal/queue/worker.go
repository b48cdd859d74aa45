package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Handler processes one job. A non-nil error triggers a retry until the
// job's attempts are exhausted.
type Handler func(ctx context.Context, job *Job) error

// Worker polls a queue and dispatches due jobs to registered handlers.
// Jobs are claimed by moving them from pending to active; jobs whose
// visibility deadline passes (worker crash mid-job) are requeued, which is
// what makes delivery at-least-once.
type Worker struct {
	queue    *Queue
	handlers map[string]Handler
	log      *zap.Logger

	pollInterval time.Duration
	visibility   time.Duration
	batchSize    int64
}

func NewWorker(q *Queue, log *zap.Logger) *Worker {
	return &Worker{
		queue:        q,
		handlers:     make(map[string]Handler),
		log:          log,
		pollInterval: time.Second,
		visibility:   time.Minute,
		batchSize:    16,
	}
}

// Handle registers the handler for a job name. Not safe to call after Run.
func (w *Worker) Handle(name string, h Handler) {
	w.handlers[name] = h
}

// Run polls until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.tick(ctx); err != nil && !errors.Is(err, context.Canceled) {
				w.log.Error("queue tick failed", zap.String("queue", w.queue.name), zap.Error(err))
			}
		}
	}
}

func (w *Worker) tick(ctx context.Context) error {
	now := time.Now()
	if err := w.reapStale(ctx, now); err != nil {
		return err
	}

	due, err := w.queue.rdb.ZRangeByScore(ctx, w.queue.pendingKey(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   fmt.Sprintf("%d", now.UnixMilli()),
		Count: w.batchSize,
	}).Result()
	if err != nil {
		return fmt.Errorf("poll pending: %w", err)
	}

	for _, id := range due {
		// ZRem is the claim: exactly one poller wins each job.
		removed, err := w.queue.rdb.ZRem(ctx, w.queue.pendingKey(), id).Result()
		if err != nil {
			return fmt.Errorf("claim job %s: %w", id, err)
		}
		if removed == 0 {
			continue
		}
		deadline := float64(now.Add(w.visibility).UnixMilli())
		if err := w.queue.rdb.ZAdd(ctx, w.queue.activeKey(), redis.Z{Score: deadline, Member: id}).Err(); err != nil {
			return fmt.Errorf("activate job %s: %w", id, err)
		}
		w.process(ctx, id)
	}
	return nil
}

// reapStale requeues active jobs whose visibility deadline has passed.
func (w *Worker) reapStale(ctx context.Context, now time.Time) error {
	stale, err := w.queue.rdb.ZRangeByScore(ctx, w.queue.activeKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", now.UnixMilli()),
	}).Result()
	if err != nil {
		return fmt.Errorf("poll active: %w", err)
	}
	for _, id := range stale {
		if err := w.queue.rdb.ZRem(ctx, w.queue.activeKey(), id).Err(); err != nil {
			return err
		}
		if err := w.queue.rdb.ZAddNX(ctx, w.queue.pendingKey(), redis.Z{
			Score:  float64(now.UnixMilli()),
			Member: id,
		}).Err(); err != nil {
			return err
		}
		w.log.Warn("requeued stale job", zap.String("queue", w.queue.name), zap.String("job", id))
	}
	return nil
}

func (w *Worker) process(ctx context.Context, id string) {
	defer func() {
		_ = w.queue.rdb.ZRem(ctx, w.queue.activeKey(), id)
	}()

	raw, err := w.queue.rdb.HGet(ctx, w.queue.jobsKey(), id).Result()
	if errors.Is(err, redis.Nil) {
		// Body already cleaned up by a previous delivery.
		return
	}
	if err != nil {
		w.log.Error("load job failed", zap.String("job", id), zap.Error(err))
		return
	}

	job := &Job{}
	if err := json.Unmarshal([]byte(raw), job); err != nil {
		w.log.Error("corrupt job body, dead-lettering", zap.String("job", id), zap.Error(err))
		w.bury(ctx, id, raw)
		return
	}

	handler, ok := w.handlers[job.Name]
	if !ok {
		w.log.Error("no handler for job, dead-lettering", zap.String("job", id), zap.String("name", job.Name))
		w.bury(ctx, id, raw)
		return
	}

	if err := handler(ctx, job); err != nil {
		w.retry(ctx, job, err)
		return
	}
	_ = w.queue.rdb.HDel(ctx, w.queue.jobsKey(), id).Err()
}

func (w *Worker) retry(ctx context.Context, job *Job, cause error) {
	job.Attempts++
	if job.Attempts >= job.MaxAttempts {
		w.log.Error("job exhausted retries, dead-lettering",
			zap.String("job", job.ID), zap.String("name", job.Name),
			zap.Int("attempts", job.Attempts), zap.Error(cause))
		data, _ := json.Marshal(job)
		w.bury(ctx, job.ID, string(data))
		return
	}

	w.log.Warn("job failed, retrying",
		zap.String("job", job.ID), zap.String("name", job.Name),
		zap.Int("attempt", job.Attempts), zap.Error(cause))

	data, err := json.Marshal(job)
	if err != nil {
		w.bury(ctx, job.ID, "")
		return
	}
	if err := w.queue.rdb.HSet(ctx, w.queue.jobsKey(), job.ID, data).Err(); err != nil {
		// The job would otherwise be in neither pending nor active: keep the
		// failure observable instead of losing it.
		w.log.Error("store retry failed, dead-lettering", zap.String("job", job.ID), zap.Error(err))
		w.bury(ctx, job.ID, string(data))
		return
	}
	runAt := time.Now().Add(RetryDelay(job.Attempts))
	_ = w.queue.rdb.ZAdd(ctx, w.queue.pendingKey(), redis.Z{
		Score:  float64(runAt.UnixMilli()),
		Member: job.ID,
	}).Err()
}

func (w *Worker) bury(ctx context.Context, id, body string) {
	if body != "" {
		_ = w.queue.rdb.LPush(ctx, w.queue.deadKey(), body).Err()
	}
	_ = w.queue.rdb.HDel(ctx, w.queue.jobsKey(), id).Err()
}

// RetryDelay is the backoff before attempt n runs again: exponential,
// capped at one minute.
func RetryDelay(attempts int) time.Duration {
	d := time.Second << uint(attempts)
	if d > time.Minute {
		return time.Minute
	}
	return d
}
