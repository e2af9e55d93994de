package identity

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RefreshTokenStore registra los IDs de refresh tokens vigentes y permite
// revocarlos.
type RefreshTokenStore interface {
	Store(tokenID, subject string, ttl time.Duration) error
	Exists(tokenID string) (bool, error)
	Revoke(tokenID string) error
}

type memoryRefreshTokenStore struct {
	mu    sync.Mutex
	items map[string]time.Time
}

func NewMemoryRefreshTokenStore() RefreshTokenStore {
	return &memoryRefreshTokenStore{items: make(map[string]time.Time)}
}

func (s *memoryRefreshTokenStore) Store(tokenID, _ string, ttl time.Duration) error {
	if strings.TrimSpace(tokenID) == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[tokenID] = time.Now().UTC().Add(ttl)
	return nil
}

func (s *memoryRefreshTokenStore) Exists(tokenID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exp, ok := s.items[tokenID]
	if !ok {
		return false, nil
	}
	if time.Now().UTC().After(exp) {
		delete(s.items, tokenID)
		return false, nil
	}
	return true, nil
}

func (s *memoryRefreshTokenStore) Revoke(tokenID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, tokenID)
	return nil
}

type redisRefreshTokenStore struct {
	client *redis.Client
	prefix string
}

// NewRedisRefreshTokenStore guarda los IDs en Redis para que las
// revocaciones sobrevivan reinicios del proceso.
func NewRedisRefreshTokenStore(client *redis.Client) RefreshTokenStore {
	if client == nil {
		return nil
	}
	return &redisRefreshTokenStore{
		client: client,
		prefix: "auth:refresh:",
	}
}

func (s *redisRefreshTokenStore) Store(tokenID, subject string, ttl time.Duration) error {
	if strings.TrimSpace(tokenID) == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	return s.client.Set(ctx, s.prefix+tokenID, subject, ttl).Err()
}

func (s *redisRefreshTokenStore) Exists(tokenID string) (bool, error) {
	if strings.TrimSpace(tokenID) == "" {
		return false, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	n, err := s.client.Exists(ctx, s.prefix+tokenID).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *redisRefreshTokenStore) Revoke(tokenID string) error {
	if strings.TrimSpace(tokenID) == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	return s.client.Del(ctx, s.prefix+tokenID).Err()
}
