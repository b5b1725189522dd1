package composer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/perimeter-epitech/area/model"
)

// SubmitGuard admits at most one submission per draft at a time.
type SubmitGuard interface {
	// Acquire takes the lock for key. It returns ErrSubmissionInFlight,
	// without blocking, when the lock is already held. The returned release
	// func is safe to call more than once.
	Acquire(ctx context.Context, key string) (release func(), err error)

	// HealthCheck reports whether the lock backend is reachable.
	HealthCheck(ctx context.Context) error

	// TTL is how long a lock outlives a submission that never released it.
	TTL() time.Duration
}

// ErrSubmissionInFlight is returned when a second Submit races the first.
func ErrSubmissionInFlight() error {
	return model.NewConflictError("A submission for this draft is already in flight")
}

// FormatGuardKey builds the lock key for a draft.
func FormatGuardKey(draftID string) string {
	return fmt.Sprintf("area:submit:%s", draftID)
}

// --- MemorySubmitGuard ---

// MemorySubmitGuard is a process-local SubmitGuard. Locks expire after ttl
// so a crashed submission cannot wedge a draft.
type MemorySubmitGuard struct {
	mu    sync.Mutex
	ttl   time.Duration
	locks map[string]memLock
}

type memLock struct {
	token     string
	expiresAt time.Time
}

// NewMemorySubmitGuard creates an in-memory guard.
func NewMemorySubmitGuard(ttl time.Duration) *MemorySubmitGuard {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &MemorySubmitGuard{ttl: ttl, locks: make(map[string]memLock)}
}

func (g *MemorySubmitGuard) Acquire(_ context.Context, key string) (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if l, held := g.locks[key]; held && time.Now().Before(l.expiresAt) {
		return nil, ErrSubmissionInFlight()
	}
	token := uuid.NewString()
	g.locks[key] = memLock{token: token, expiresAt: time.Now().Add(g.ttl)}

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			defer g.mu.Unlock()
			if g.locks[key].token == token {
				delete(g.locks, key)
			}
		})
	}, nil
}

func (g *MemorySubmitGuard) HealthCheck(context.Context) error { return nil }

func (g *MemorySubmitGuard) TTL() time.Duration { return g.ttl }

// Len returns the number of held locks, including expired ones. For testing.
func (g *MemorySubmitGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.locks)
}

// --- RedisSubmitGuard ---

// releaseScript deletes the lock only if it still holds our token.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

// RedisSubmitGuard locks with SET NX so several BFF instances share one
// lock per draft.
type RedisSubmitGuard struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewRedisSubmitGuard creates a Redis-backed guard.
func NewRedisSubmitGuard(client redis.Cmdable, ttl time.Duration) *RedisSubmitGuard {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisSubmitGuard{client: client, ttl: ttl}
}

func (g *RedisSubmitGuard) Acquire(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	ok, err := g.client.SetNX(ctx, key, token, g.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis setnx %q: %w", key, err)
	}
	if !ok {
		return nil, ErrSubmissionInFlight()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// The request context may already be done.
			ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
			defer cancel()
			_ = g.client.Eval(ctx, releaseScript, []string{key}, token).Err()
		})
	}, nil
}

func (g *RedisSubmitGuard) HealthCheck(ctx context.Context) error {
	return g.client.Ping(ctx).Err()
}

func (g *RedisSubmitGuard) TTL() time.Duration { return g.ttl }
