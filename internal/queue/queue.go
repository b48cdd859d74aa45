// Package queue implements a small Redis-backed delayed job queue with
// at-least-once delivery: jobs are deduplicated by id while scheduled,
// retried a bounded number of times, and dead-lettered once retries are
// exhausted.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Job is a unit of background work.
type Job struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Payload     json.RawMessage `json:"payload"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"maxAttempts"`
	EnqueuedAt  time.Time       `json:"enqueuedAt"`
}

// Options controls scheduling of a single job.
type Options struct {
	// ID deduplicates: while a job with this id is scheduled, enqueueing the
	// same id is a no-op. Auto-generated when empty.
	ID          string
	Delay       time.Duration
	MaxAttempts int
}

// redisClient is the command subset the queue uses; satisfied by
// *redis.Client.
type redisClient interface {
	ZAddNX(ctx context.Context, key string, members ...redis.Z) *redis.IntCmd
	ZAdd(ctx context.Context, key string, members ...redis.Z) *redis.IntCmd
	ZRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	ZRangeByScore(ctx context.Context, key string, opt *redis.ZRangeBy) *redis.StringSliceCmd
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	HSetNX(ctx context.Context, key, field string, value interface{}) *redis.BoolCmd
	HGet(ctx context.Context, key, field string) *redis.StringCmd
	HDel(ctx context.Context, key string, fields ...string) *redis.IntCmd
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	LRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
}

// Queue holds the Redis keys for one logical queue:
//
//	{name}:pending  zset job id -> run-at millis
//	{name}:active   zset job id -> visibility deadline millis
//	{name}:jobs     hash job id -> job JSON
//	{name}:dead     list of dead-lettered job JSON
type Queue struct {
	rdb  redisClient
	name string
}

func New(rdb *redis.Client, name string) *Queue {
	return &Queue{rdb: rdb, name: name}
}

func (q *Queue) pendingKey() string { return q.name + ":pending" }
func (q *Queue) activeKey() string  { return q.name + ":active" }
func (q *Queue) jobsKey() string    { return q.name + ":jobs" }
func (q *Queue) deadKey() string    { return q.name + ":dead" }

// Enqueue schedules a named job. Returns false if a job with the same id is
// already scheduled.
func (q *Queue) Enqueue(ctx context.Context, name string, payload any, opts Options) (bool, error) {
	if name == "" {
		return false, fmt.Errorf("enqueue: job name is required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return false, fmt.Errorf("enqueue %s: marshal payload: %w", name, err)
	}

	job := &Job{
		ID:          opts.ID,
		Name:        name,
		Payload:     data,
		MaxAttempts: opts.MaxAttempts,
		EnqueuedAt:  time.Now().UTC(),
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = 1
	}

	jobData, err := json.Marshal(job)
	if err != nil {
		return false, fmt.Errorf("enqueue %s: marshal job: %w", name, err)
	}

	// The body goes in before the id is scheduled: a zero-delay job is due
	// the moment it lands in pending, and a claim must always find a body.
	wrote, err := q.rdb.HSetNX(ctx, q.jobsKey(), job.ID, jobData).Result()
	if err != nil {
		return false, fmt.Errorf("enqueue %s: store job: %w", name, err)
	}

	runAt := time.Now().Add(opts.Delay)
	added, err := q.rdb.ZAddNX(ctx, q.pendingKey(), redis.Z{
		Score:  float64(runAt.UnixMilli()),
		Member: job.ID,
	}).Result()
	if err != nil {
		return false, fmt.Errorf("enqueue %s: %w", name, err)
	}
	if added == 0 {
		// Same job id already scheduled; drop the body if this call wrote it.
		if wrote {
			_ = q.rdb.HDel(ctx, q.jobsKey(), job.ID).Err()
		}
		return false, nil
	}
	return true, nil
}

// DeadLetters returns up to limit dead-lettered jobs, newest first.
func (q *Queue) DeadLetters(ctx context.Context, limit int64) ([]*Job, error) {
	raw, err := q.rdb.LRange(ctx, q.deadKey(), 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("read dead letters: %w", err)
	}
	jobs := make([]*Job, 0, len(raw))
	for _, item := range raw {
		j := &Job{}
		if err := json.Unmarshal([]byte(item), j); err != nil {
			return nil, fmt.Errorf("unmarshal dead letter: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}
