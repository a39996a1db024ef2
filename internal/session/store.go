// Package session tracks each session's currently selected
// organization. The selection is a UI convenience pointer only; every
// permission decision re-derives from (user, organization).
package session

import (
	"context"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/opsdash/internal/clock"
)

const redisKeyPrefix = "opsdash:session:org:"

// Store persists the per-session organization selection.
type Store interface {
	Set(ctx context.Context, sessionID, orgID string, ttl time.Duration) error
	Get(ctx context.Context, sessionID string) (string, bool, error)
	Clear(ctx context.Context, sessionID string) error
}

type memoryEntry struct {
	orgID     string
	expiresAt time.Time
}

// MemoryStore keeps selections in-process. Expiry is checked lazily on
// read.
type MemoryStore struct {
	mu      sync.Mutex
	clock   clock.Clock
	entries map[string]memoryEntry
}

func NewMemoryStore(clk clock.Clock) *MemoryStore {
	return &MemoryStore{
		clock:   clk,
		entries: make(map[string]memoryEntry),
	}
}

func (s *MemoryStore) Set(ctx context.Context, sessionID, orgID string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[sessionID] = memoryEntry{
		orgID:     orgID,
		expiresAt: s.clock.Now().Add(ttl),
	}
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, sessionID string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[sessionID]
	if !ok {
		return "", false, nil
	}
	if s.clock.Now().After(entry.expiresAt) {
		delete(s.entries, sessionID)
		return "", false, nil
	}
	return entry.orgID, true, nil
}

func (s *MemoryStore) Clear(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, sessionID)
	return nil
}

// RedisStore shares selections across replicas.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Set(ctx context.Context, sessionID, orgID string, ttl time.Duration) error {
	return s.client.Set(ctx, redisKeyPrefix+sessionID, orgID, ttl).Err()
}

func (s *RedisStore) Get(ctx context.Context, sessionID string) (string, bool, error) {
	val, err := s.client.Get(ctx, redisKeyPrefix+sessionID).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (s *RedisStore) Clear(ctx context.Context, sessionID string) error {
	return s.client.Del(ctx, redisKeyPrefix+sessionID).Err()
}
