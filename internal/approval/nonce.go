package approval

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// NonceStore remembers spent nonce hashes.
type NonceStore interface {
	// Consume marks hash as spent for ttl. It returns false if hash was
	// already spent.
	Consume(ctx context.Context, hash string, ttl time.Duration) (bool, error)
}

// MemoryNonceStore is a process-local NonceStore.
type MemoryNonceStore struct {
	mu   sync.Mutex
	seen map[string]time.Time
	now  func() time.Time
}

// NewMemoryNonceStore creates an empty store.
func NewMemoryNonceStore() *MemoryNonceStore {
	return &MemoryNonceStore{
		seen: make(map[string]time.Time),
		now:  time.Now,
	}
}

// Consume implements NonceStore. Expired hashes are dropped on each call.
// Like RedisNonceStore, a ttl below one second is raised to one second.
func (s *MemoryNonceStore) Consume(_ context.Context, hash string, ttl time.Duration) (bool, error) {
	if ttl < time.Second {
		ttl = time.Second
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for h, exp := range s.seen {
		if !now.Before(exp) {
			delete(s.seen, h)
		}
	}

	if _, ok := s.seen[hash]; ok {
		return false, nil
	}
	s.seen[hash] = now.Add(ttl)
	return true, nil
}

// setNXer is the part of redis.Cmdable the nonce store needs.
type setNXer interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
}

// RedisNonceStore keeps spent nonce hashes in Redis so that every replica
// rejects a replayed token.
type RedisNonceStore struct {
	client setNXer
	prefix string
}

// DefaultNoncePrefix namespaces nonce keys in Redis.
const DefaultNoncePrefix = "ipdocket:nonce:"

// NewRedisNonceStore creates a store on client. An empty prefix uses
// DefaultNoncePrefix.
func NewRedisNonceStore(client redis.Cmdable, prefix string) *RedisNonceStore {
	if prefix == "" {
		prefix = DefaultNoncePrefix
	}
	return &RedisNonceStore{client: client, prefix: prefix}
}

// Consume implements NonceStore with SET NX.
func (s *RedisNonceStore) Consume(ctx context.Context, hash string, ttl time.Duration) (bool, error) {
	if ttl < time.Second {
		ttl = time.Second
	}
	ok, err := s.client.SetNX(ctx, s.prefix+hash, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to record nonce: %w", err)
	}
	return ok, nil
}
