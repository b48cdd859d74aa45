package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeRedis implements redisClient in memory with real command semantics, so
// the enqueue/claim/retry flow can be exercised without a server. Every call
// is recorded for ordering assertions.
type fakeRedis struct {
	mu      sync.Mutex
	zsets   map[string]map[string]float64
	hashes  map[string]map[string]string
	lists   map[string][]string
	calls   []string
	failHSet bool
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{
		zsets:  make(map[string]map[string]float64),
		hashes: make(map[string]map[string]string),
		lists:  make(map[string][]string),
	}
}

func valString(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	default:
		return fmt.Sprint(v)
	}
}

func (f *fakeRedis) record(op, key string) {
	f.calls = append(f.calls, op+" "+key)
}

func (f *fakeRedis) ZAddNX(_ context.Context, key string, members ...redis.Z) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("ZAddNX", key)
	if f.zsets[key] == nil {
		f.zsets[key] = make(map[string]float64)
	}
	var added int64
	for _, z := range members {
		m := valString(z.Member)
		if _, ok := f.zsets[key][m]; !ok {
			f.zsets[key][m] = z.Score
			added++
		}
	}
	return redis.NewIntResult(added, nil)
}

func (f *fakeRedis) ZAdd(_ context.Context, key string, members ...redis.Z) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("ZAdd", key)
	if f.zsets[key] == nil {
		f.zsets[key] = make(map[string]float64)
	}
	var added int64
	for _, z := range members {
		m := valString(z.Member)
		if _, ok := f.zsets[key][m]; !ok {
			added++
		}
		f.zsets[key][m] = z.Score
	}
	return redis.NewIntResult(added, nil)
}

func (f *fakeRedis) ZRem(_ context.Context, key string, members ...interface{}) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("ZRem", key)
	var removed int64
	for _, v := range members {
		m := valString(v)
		if _, ok := f.zsets[key][m]; ok {
			delete(f.zsets[key], m)
			removed++
		}
	}
	return redis.NewIntResult(removed, nil)
}

func parseScore(s string) float64 {
	switch s {
	case "-inf":
		return math.Inf(-1)
	case "+inf":
		return math.Inf(1)
	}
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

func (f *fakeRedis) ZRangeByScore(_ context.Context, key string, opt *redis.ZRangeBy) *redis.StringSliceCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("ZRangeByScore", key)
	min, max := parseScore(opt.Min), parseScore(opt.Max)
	type entry struct {
		member string
		score  float64
	}
	var matched []entry
	for m, score := range f.zsets[key] {
		if score >= min && score <= max {
			matched = append(matched, entry{m, score})
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].score < matched[j].score })
	if opt.Count > 0 && int64(len(matched)) > opt.Count {
		matched = matched[:opt.Count]
	}
	out := make([]string, len(matched))
	for i, e := range matched {
		out[i] = e.member
	}
	return redis.NewStringSliceResult(out, nil)
}

func (f *fakeRedis) HSet(_ context.Context, key string, values ...interface{}) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("HSet", key)
	if f.failHSet {
		return redis.NewIntResult(0, errors.New("hset failed"))
	}
	if f.hashes[key] == nil {
		f.hashes[key] = make(map[string]string)
	}
	for i := 0; i+1 < len(values); i += 2 {
		f.hashes[key][valString(values[i])] = valString(values[i+1])
	}
	return redis.NewIntResult(int64(len(values) / 2), nil)
}

func (f *fakeRedis) HSetNX(_ context.Context, key, field string, value interface{}) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("HSetNX", key)
	if f.hashes[key] == nil {
		f.hashes[key] = make(map[string]string)
	}
	if _, ok := f.hashes[key][field]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.hashes[key][field] = valString(value)
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) HGet(_ context.Context, key, field string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("HGet", key)
	if v, ok := f.hashes[key][field]; ok {
		return redis.NewStringResult(v, nil)
	}
	return redis.NewStringResult("", redis.Nil)
}

func (f *fakeRedis) HDel(_ context.Context, key string, fields ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("HDel", key)
	var removed int64
	for _, field := range fields {
		if _, ok := f.hashes[key][field]; ok {
			delete(f.hashes[key], field)
			removed++
		}
	}
	return redis.NewIntResult(removed, nil)
}

func (f *fakeRedis) LPush(_ context.Context, key string, values ...interface{}) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("LPush", key)
	for _, v := range values {
		f.lists[key] = append([]string{valString(v)}, f.lists[key]...)
	}
	return redis.NewIntResult(int64(len(f.lists[key])), nil)
}

func (f *fakeRedis) LRange(_ context.Context, key string, start, stop int64) *redis.StringSliceCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("LRange", key)
	list := f.lists[key]
	if stop < 0 {
		stop = int64(len(list)) + stop
	}
	if start >= int64(len(list)) {
		return redis.NewStringSliceResult(nil, nil)
	}
	if stop >= int64(len(list)) {
		stop = int64(len(list)) - 1
	}
	return redis.NewStringSliceResult(list[start:stop+1], nil)
}

func (f *fakeRedis) pendingScore(member string) (float64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.zsets["chat:pending"][member]
	return s, ok
}

func (f *fakeRedis) setPendingScore(member string, score float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.zsets["chat:pending"][member] = score
}

func newTestQueue() (*Queue, *fakeRedis) {
	r := newFakeRedis()
	return &Queue{rdb: r, name: "chat"}, r
}

func TestEnqueue(t *testing.T) {
	ctx := context.Background()

	t.Run("BodyStoredBeforeScheduling", func(t *testing.T) {
		q, r := newTestQueue()

		ok, err := q.Enqueue(ctx, "persistMessages", map[string]string{"conversationId": "c1"}, Options{ID: "persist:c1:1"})
		require.NoError(t, err)
		assert.True(t, ok)

		// A claimable id must never exist before its body does.
		assert.Equal(t, []string{"HSetNX chat:jobs", "ZAddNX chat:pending"}, r.calls)
		_, err = r.HGet(ctx, "chat:jobs", "persist:c1:1").Result()
		assert.NoError(t, err)
	})

	t.Run("DeduplicatesById", func(t *testing.T) {
		q, r := newTestQueue()

		ok, err := q.Enqueue(ctx, "flushDirectory", map[string]string{"conversationId": "c1"}, Options{ID: "conv:c1"})
		require.NoError(t, err)
		require.True(t, ok)

		ok, err = q.Enqueue(ctx, "flushDirectory", map[string]string{"conversationId": "c1"}, Options{ID: "conv:c1"})
		require.NoError(t, err)
		assert.False(t, ok)

		// The scheduled job and its body survive the duplicate.
		_, pending := r.pendingScore("conv:c1")
		assert.True(t, pending)
		_, err = r.HGet(ctx, "chat:jobs", "conv:c1").Result()
		assert.NoError(t, err)
	})

	t.Run("OrphanBodyCleanedUpOnDuplicate", func(t *testing.T) {
		q, r := newTestQueue()

		// An id lingering in pending without a body (cleaned up by a prior
		// delivery) must not accumulate fresh orphan bodies.
		r.ZAddNX(ctx, "chat:pending", redis.Z{Score: 1, Member: "conv:c1"})

		ok, err := q.Enqueue(ctx, "flushDirectory", map[string]string{"conversationId": "c1"}, Options{ID: "conv:c1"})
		require.NoError(t, err)
		assert.False(t, ok)
		_, err = r.HGet(ctx, "chat:jobs", "conv:c1").Result()
		assert.ErrorIs(t, err, redis.Nil)
	})
}

func TestWorkerDelivery(t *testing.T) {
	ctx := context.Background()

	t.Run("DueJobDispatchedAndCleanedUp", func(t *testing.T) {
		q, r := newTestQueue()
		w := NewWorker(q, zap.NewNop())

		var got []string
		w.Handle("persistMessages", func(_ context.Context, job *Job) error {
			var p map[string]string
			require.NoError(t, json.Unmarshal(job.Payload, &p))
			got = append(got, p["conversationId"])
			return nil
		})

		_, err := q.Enqueue(ctx, "persistMessages", map[string]string{"conversationId": "c1"}, Options{ID: "persist:c1:1"})
		require.NoError(t, err)
		// Make the job due.
		r.setPendingScore("persist:c1:1", 0)

		require.NoError(t, w.tick(ctx))

		assert.Equal(t, []string{"c1"}, got)
		_, pending := r.pendingScore("persist:c1:1")
		assert.False(t, pending)
		_, err = r.HGet(ctx, "chat:jobs", "persist:c1:1").Result()
		assert.ErrorIs(t, err, redis.Nil, "completed job body is removed")
	})

	t.Run("FailingJobRetriesThenDeadLetters", func(t *testing.T) {
		q, r := newTestQueue()
		w := NewWorker(q, zap.NewNop())

		attempts := 0
		w.Handle("persistMessages", func(context.Context, *Job) error {
			attempts++
			return errors.New("flush failed")
		})

		_, err := q.Enqueue(ctx, "persistMessages", map[string]string{"conversationId": "c1"}, Options{ID: "persist:c1:1", MaxAttempts: 2})
		require.NoError(t, err)
		r.setPendingScore("persist:c1:1", 0)

		require.NoError(t, w.tick(ctx))
		assert.Equal(t, 1, attempts)

		// First failure reschedules with backoff.
		score, pending := r.pendingScore("persist:c1:1")
		require.True(t, pending)
		assert.Greater(t, score, float64(time.Now().UnixMilli()))

		r.setPendingScore("persist:c1:1", 0)
		require.NoError(t, w.tick(ctx))
		assert.Equal(t, 2, attempts)

		// Exhausted: dead-lettered, nothing left scheduled.
		dead, err := q.DeadLetters(ctx, 10)
		require.NoError(t, err)
		require.Len(t, dead, 1)
		assert.Equal(t, "persist:c1:1", dead[0].ID)
		assert.Equal(t, 2, dead[0].Attempts)
		_, pending = r.pendingScore("persist:c1:1")
		assert.False(t, pending)
	})

	t.Run("RetryPersistFailureDeadLetters", func(t *testing.T) {
		q, r := newTestQueue()
		w := NewWorker(q, zap.NewNop())
		w.Handle("persistMessages", func(context.Context, *Job) error {
			return errors.New("flush failed")
		})

		_, err := q.Enqueue(ctx, "persistMessages", map[string]string{"conversationId": "c1"}, Options{ID: "persist:c1:1", MaxAttempts: 3})
		require.NoError(t, err)
		r.setPendingScore("persist:c1:1", 0)

		// Storing the retried body fails: the job must not vanish.
		r.failHSet = true
		require.NoError(t, w.tick(ctx))

		dead, err := q.DeadLetters(ctx, 10)
		require.NoError(t, err)
		require.Len(t, dead, 1)
		assert.Equal(t, "persist:c1:1", dead[0].ID)
	})
}

func TestRetryDelay(t *testing.T) {
	assert.Equal(t, 2*time.Second, RetryDelay(1))
	assert.Equal(t, 4*time.Second, RetryDelay(2))
	assert.Equal(t, 32*time.Second, RetryDelay(5))
	assert.Equal(t, time.Minute, RetryDelay(6), "backoff is capped")
	assert.Equal(t, time.Minute, RetryDelay(20))
}

func TestQueueKeys(t *testing.T) {
	q := New(nil, "chat")
	assert.Equal(t, "chat:pending", q.pendingKey())
	assert.Equal(t, "chat:jobs", q.jobsKey())
	assert.Equal(t, "chat:active", q.activeKey())
	assert.Equal(t, "chat:dead", q.deadKey())
}
