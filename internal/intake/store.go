package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// SessionStore keeps dialog sessions between turns. Every implementation
// forgets a session after its TTL so abandoned calls leave nothing behind.
type SessionStore interface {
	Load(ctx context.Context, callID string) (*Session, bool, error)
	Save(ctx context.Context, s *Session) error
	Delete(ctx context.Context, callID string) error
}

// MemoryStore is an in-process store for a single API instance.
type MemoryStore struct {
	mu        sync.Mutex
	sessions  map[string]memoryEntry
	ttl       time.Duration
	now       func() time.Time
	lastSweep time.Time
}

type memoryEntry struct {
	session   Session
	expiresAt time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]memoryEntry),
		ttl:      ttl,
		now:      time.Now,
	}
}

func (m *MemoryStore) Load(_ context.Context, callID string) (*Session, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.sessions[callID]
	if !ok {
		return nil, false, nil
	}
	if !m.now().Before(entry.expiresAt) {
		delete(m.sessions, callID)
		return nil, false, nil
	}
	s := entry.session
	return &s, true, nil
}

func (m *MemoryStore) Save(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.sessions[s.CallID] = memoryEntry{session: *s, expiresAt: now.Add(m.ttl)}
	if now.Sub(m.lastSweep) >= m.ttl {
		m.sweepLocked(now)
	}
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, callID string) error {
	m.mu.Lock()
	delete(m.sessions, callID)
	m.mu.Unlock()
	return nil
}

// Len reports live and not yet swept sessions.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *MemoryStore) sweepLocked(now time.Time) {
	for id, entry := range m.sessions {
		if !now.Before(entry.expiresAt) {
			delete(m.sessions, id)
		}
	}
	m.lastSweep = now
}

const redisSessionPrefix = "intake:session:"

// RedisStore shares sessions across API instances.
type RedisStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewRedisStore(client redis.UniversalClient, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func (r *RedisStore) Load(ctx context.Context, callID string) (*Session, bool, error) {
	data, err := r.client.Get(ctx, redisSessionPrefix+callID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load session: %w", err)
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, false, fmt.Errorf("decode session: %w", err)
	}
	return &s, true, nil
}

func (r *RedisStore) Save(ctx context.Context, s *Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := r.client.Set(ctx, redisSessionPrefix+s.CallID, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, callID string) error {
	if err := r.client.Del(ctx, redisSessionPrefix+callID).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

const lockStripes = 64

// callLocks serialises turns of the same call inside one process.
type callLocks struct {
	stripes [lockStripes]sync.Mutex
}

func (l *callLocks) lock(callID string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(callID))
	mu := &l.stripes[h.Sum32()%lockStripes]
	mu.Lock()
	return mu.Unlock
}
