package tokens

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RefreshRegistry tracks which refresh token ids are still redeemable.
// Consume must be atomic: of two concurrent calls for the same id, at most one
// returns true.
type RefreshRegistry interface {
	// Register marks a freshly minted refresh token id as redeemable for ttl
	Register(ctx context.Context, tokenID string, principalID uuid.UUID, ttl time.Duration) error

	// Consume redeems a token id. It returns false if the id was never
	// registered, was already consumed, was revoked, or has expired.
	Consume(ctx context.Context, tokenID string) (bool, error)

	// Revoke makes a token id unredeemable. Revoking an unknown id is not an error.
	Revoke(ctx context.Context, tokenID string) error
}

const redisKeyPrefix = "refresh:"

// RedisRegistry stores redeemable refresh token ids in Redis with a TTL
type RedisRegistry struct {
	client *redis.Client
}

// NewRedisRegistry creates a registry backed by the given Redis client
func NewRedisRegistry(client *redis.Client) *RedisRegistry {
	return &RedisRegistry{client: client}
}

// Register stores the token id with its owner and lifetime
func (r *RedisRegistry) Register(ctx context.Context, tokenID string, principalID uuid.UUID, ttl time.Duration) error {
	if err := r.client.Set(ctx, r.key(tokenID), principalID.String(), ttl).Err(); err != nil {
		return fmt.Errorf("failed to register refresh token: %w", err)
	}
	return nil
}

// Consume deletes the token id; only the caller that actually removed the key wins
func (r *RedisRegistry) Consume(ctx context.Context, tokenID string) (bool, error) {
	n, err := r.client.Del(ctx, r.key(tokenID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to consume refresh token: %w", err)
	}
	return n == 1, nil
}

// Revoke deletes the token id
func (r *RedisRegistry) Revoke(ctx context.Context, tokenID string) error {
	if err := r.client.Del(ctx, r.key(tokenID)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to revoke refresh token: %w", err)
	}
	return nil
}

func (r *RedisRegistry) key(tokenID string) string {
	return redisKeyPrefix + tokenID
}

// memoryPurgeInterval is the minimum time between sweeps of expired entries
const memoryPurgeInterval = time.Minute

// MemoryRegistry is an in-process RefreshRegistry for tests and single-node development
type MemoryRegistry struct {
	mu        sync.Mutex
	entries   map[string]memoryEntry
	now       func() time.Time
	lastPurge time.Time
}

type memoryEntry struct {
	principalID uuid.UUID
	expiresAt   time.Time
}

// NewMemoryRegistry creates an empty in-memory registry
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// Register stores the token id until ttl elapses
func (m *MemoryRegistry) Register(_ context.Context, tokenID string, principalID uuid.UUID, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if now.Sub(m.lastPurge) >= memoryPurgeInterval {
		m.purgeExpired(now)
	}
	m.entries[tokenID] = memoryEntry{
		principalID: principalID,
		expiresAt:   now.Add(ttl),
	}
	return nil
}

// Consume removes the token id if it is present and unexpired
func (m *MemoryRegistry) Consume(_ context.Context, tokenID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[tokenID]
	if !ok {
		return false, nil
	}
	delete(m.entries, tokenID)
	return m.now().Before(entry.expiresAt), nil
}

// Revoke removes the token id
func (m *MemoryRegistry) Revoke(_ context.Context, tokenID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, tokenID)
	return nil
}

// Len returns the number of tracked token ids
func (m *MemoryRegistry) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// purgeExpired drops expired entries; callers must hold mu
func (m *MemoryRegistry) purgeExpired(now time.Time) {
	m.lastPurge = now
	for id, e := range m.entries {
		if !now.Before(e.expiresAt) {
			delete(m.entries, id)
		}
	}
}
