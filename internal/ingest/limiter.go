package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"callsight/pkg/utils"
)

// Limiter caps how many external analysis calls may be in flight at once, so
// a burst of transcription callbacks cannot pile up unbounded LLM requests.
// Acquire returning false means "skip this analysis", never an error for the
// ingestion path.
type Limiter interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context)
}

// MemoryLimiter is a process-local limiter for tests and redis-less
// deployments.
type MemoryLimiter struct {
	mu       sync.Mutex
	inFlight int
	limit    int
}

func NewMemoryLimiter(limit int) *MemoryLimiter {
	if limit <= 0 {
		limit = 8
	}
	return &MemoryLimiter{limit: limit}
}

func (l *MemoryLimiter) Acquire(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.inFlight >= l.limit {
		return false, nil
	}
	l.inFlight++
	return true, nil
}

func (l *MemoryLimiter) Release(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.inFlight > 0 {
		l.inFlight--
	}
}

// RedisLimiter enforces the cap across all processes of a deployment using
// the shared concurrency-cap scripts. The TTL bounds leaked slots if a
// process dies mid-analysis.
type RedisLimiter struct {
	rdb   *redis.Client
	key   string
	limit int
	ttl   time.Duration
}

func NewRedisLimiter(rdb *redis.Client, key string, limit int, ttl time.Duration) *RedisLimiter {
	if key == "" {
		key = "callsight:analysis:inflight"
	}
	if limit <= 0 {
		limit = 8
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &RedisLimiter{rdb: rdb, key: key, limit: limit, ttl: ttl}
}

func (l *RedisLimiter) Acquire(ctx context.Context) (bool, error) {
	return utils.AcquireConcurrencyCap(ctx, l.rdb, l.key, l.limit, l.ttl)
}

func (l *RedisLimiter) Release(ctx context.Context) {
	_ = utils.ReleaseConcurrencyCap(ctx, l.rdb, l.key)
}
