package composer

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/perimeter-epitech/area/model"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisSubmitGuard_AcquireAndRelease(t *testing.T) {
	_, client := newTestRedis(t)
	guard := NewRedisSubmitGuard(client, time.Minute)
	ctx := context.Background()
	key := FormatGuardKey("draft-1")

	release, err := guard.Acquire(ctx, key)
	if err != nil {
		t.Fatalf("Acquire error: %v", err)
	}

	_, err = guard.Acquire(ctx, key)
	if ee, ok := model.AsEnvelope(err); !ok || ee.Code != model.ErrConflict {
		t.Fatalf("second Acquire err = %v, want CONFLICT", err)
	}

	release()
	release()

	release2, err := guard.Acquire(ctx, key)
	if err != nil {
		t.Fatalf("Acquire after release error: %v", err)
	}
	release2()
}

func TestRedisSubmitGuard_Expires(t *testing.T) {
	mr, client := newTestRedis(t)
	guard := NewRedisSubmitGuard(client, time.Second)
	ctx := context.Background()
	key := FormatGuardKey("draft-2")

	stale, err := guard.Acquire(ctx, key)
	if err != nil {
		t.Fatalf("Acquire error: %v", err)
	}

	// Fast-forward miniredis time past TTL.
	mr.FastForward(2 * time.Second)

	fresh, err := guard.Acquire(ctx, key)
	if err != nil {
		t.Fatalf("Acquire after expiry error: %v", err)
	}

	// The stale holder must not release the new lock.
	stale()
	if !mr.Exists(key) {
		t.Error("stale release removed the new holder's lock")
	}
	fresh()
	if mr.Exists(key) {
		t.Error("lock still held after release")
	}
}

func TestRedisSubmitGuard_HealthCheck(t *testing.T) {
	mr, client := newTestRedis(t)
	guard := NewRedisSubmitGuard(client, time.Minute)

	if err := guard.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck error: %v", err)
	}
	mr.Close()
	if err := guard.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck should fail once redis is gone")
	}
}

func TestComposer_SubmitWithRedisGuard(t *testing.T) {
	_, client := newTestRedis(t)
	backend := &fakeCreator{}
	c := New(NewMemoryDraftStore(), NewRedisSubmitGuard(client, time.Minute), backend, nil, nil)
	ctx := context.Background()

	configured(t, c, "d1")
	if _, _, err := c.Submit(ctx, "d1", "tok"); err != nil {
		t.Fatalf("Submit error: %v", err)
	}
	if backend.count() != 1 {
		t.Errorf("POST /area calls = %d, want 1", backend.count())
	}
}
