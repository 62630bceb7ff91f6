package intake

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestMemoryStoreExpiresSessions(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(15 * time.Minute)
	now := t0
	store.now = func() time.Time { return now }

	s := NewSession("CA1", now)
	s.Step = StepTiming
	s.Slots.Zone = "Brera"
	if err := store.Save(ctx, s); err != nil {
		t.Fatal(err)
	}

	got, ok, err := store.Load(ctx, "CA1")
	if err != nil || !ok {
		t.Fatalf("expected session, got ok=%v err=%v", ok, err)
	}
	if got.Step != StepTiming || got.Slots.Zone != "Brera" {
		t.Fatalf("unexpected session %+v", got)
	}

	// Mutating the loaded copy does not change the stored one.
	got.Step = StepDone
	again, _, _ := store.Load(ctx, "CA1")
	if again.Step != StepTiming {
		t.Fatal("store must hand out copies")
	}

	now = t0.Add(15 * time.Minute)
	if _, ok, _ := store.Load(ctx, "CA1"); ok {
		t.Fatal("expected session to expire after TTL")
	}
}

func TestMemoryStoreSweepsAbandonedCalls(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(time.Minute)
	now := t0
	store.now = func() time.Time { return now }

	for _, id := range []string{"CA1", "CA2", "CA3"} {
		if err := store.Save(ctx, NewSession(id, now)); err != nil {
			t.Fatal(err)
		}
	}

	now = t0.Add(2 * time.Minute)
	if err := store.Save(ctx, NewSession("CA4", now)); err != nil {
		t.Fatal(err)
	}
	if store.Len() != 1 {
		t.Fatalf("expected abandoned sessions to be swept, %d left", store.Len())
	}
}

func TestMemoryStoreDelete(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(time.Minute)
	_ = store.Save(ctx, NewSession("CA1", time.Now()))
	if err := store.Delete(ctx, "CA1"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := store.Load(ctx, "CA1"); ok {
		t.Fatal("expected session to be gone")
	}
}

func newRedisStore(t *testing.T, ttl time.Duration) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client, ttl), mr
}

func TestRedisStoreRoundTripAndTTL(t *testing.T) {
	ctx := context.Background()
	store, mr := newRedisStore(t, 15*time.Minute)

	s := NewSession("CA9", t0)
	s.Step = StepConsent
	s.Slots.Service = "cremation"
	s.Slots.Zone = "Lodi"
	s.Slots.Timing = "immediate"
	s.Slots.Phone = "+393331234567"
	s.Attempts = 2
	if err := store.Save(ctx, s); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if ttl := mr.TTL(redisSessionPrefix + "CA9"); ttl != 15*time.Minute {
		t.Fatalf("expected 15m TTL on key, got %s", ttl)
	}

	got, ok, err := store.Load(ctx, "CA9")
	if err != nil || !ok {
		t.Fatalf("Load: ok=%v err=%v", ok, err)
	}
	if got.Step != StepConsent || got.Slots != s.Slots || got.Attempts != 2 || !got.StartedAt.Equal(t0) {
		t.Fatalf("session not preserved: %+v", got)
	}

	mr.FastForward(16 * time.Minute)
	if _, ok, err := store.Load(ctx, "CA9"); ok || err != nil {
		t.Fatalf("expected expiry, got ok=%v err=%v", ok, err)
	}
}

func TestRedisStoreDeleteAndMissing(t *testing.T) {
	ctx := context.Background()
	store, _ := newRedisStore(t, time.Minute)

	if _, ok, err := store.Load(ctx, "nope"); ok || err != nil {
		t.Fatalf("expected clean miss, got ok=%v err=%v", ok, err)
	}
	_ = store.Save(ctx, NewSession("CA1", t0))
	if err := store.Delete(ctx, "CA1"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := store.Load(ctx, "CA1"); ok {
		t.Fatal("expected deleted session to be gone")
	}
}

func TestRedisStoreCorruptPayload(t *testing.T) {
	ctx := context.Background()
	store, mr := newRedisStore(t, time.Minute)
	if err := mr.Set(redisSessionPrefix+"CA1", "{not json"); err != nil {
		t.Fatal(err)
	}
	if _, _, err := store.Load(ctx, "CA1"); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestCallLocksSerialiseSameCall(t *testing.T) {
	var locks callLocks
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		active  int
		overlap bool
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.lock("CA-same")
			defer unlock()
			mu.Lock()
			active++
			if active > 1 {
				overlap = true
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			active--
			mu.Unlock()
		}()
	}
	wg.Wait()
	if overlap {
		t.Fatal("turns of the same call overlapped")
	}
}
