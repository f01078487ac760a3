package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jogardn/creperie/internal/apperr"
	"github.com/redis/go-redis/v9"
)

// SessionStore maps opaque session tokens to actor ids.
type SessionStore interface {
	Create(ctx context.Context, actorID int64) (string, error)
	Lookup(ctx context.Context, token string) (int64, error)
	Delete(ctx context.Context, token string) error
}

const sessionKeyPrefix = "session:"

type RedisSessions struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisSessions(client *redis.Client, ttl time.Duration) *RedisSessions {
	return &RedisSessions{client: client, ttl: ttl}
}

func (s *RedisSessions) Create(ctx context.Context, actorID int64) (string, error) {
	token := uuid.New().String()
	if err := s.client.Set(ctx, sessionKeyPrefix+token, actorID, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("store session: %w", err)
	}
	return token, nil
}

func (s *RedisSessions) Lookup(ctx context.Context, token string) (int64, error) {
	if token == "" {
		return 0, apperr.ErrUnauthenticated
	}
	val, err := s.client.Get(ctx, sessionKeyPrefix+token).Result()
	if errors.Is(err, redis.Nil) {
		return 0, apperr.ErrUnauthenticated
	}
	if err != nil {
		return 0, fmt.Errorf("lookup session: %w", err)
	}
	id, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt session %q: %w", val, err)
	}
	return id, nil
}

func (s *RedisSessions) Delete(ctx context.Context, token string) error {
	if err := s.client.Del(ctx, sessionKeyPrefix+token).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// MemorySessions is the single-process fallback when no Redis is configured.
type MemorySessions struct {
	mu       sync.Mutex
	sessions map[string]memorySession
	ttl      time.Duration
	now      func() time.Time
}

type memorySession struct {
	actorID int64
	expires time.Time
}

func NewMemorySessions(ttl time.Duration) *MemorySessions {
	return &MemorySessions{
		sessions: make(map[string]memorySession),
		ttl:      ttl,
		now:      time.Now,
	}
}

func (s *MemorySessions) Create(_ context.Context, actorID int64) (string, error) {
	token := uuid.New().String()

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.sweep(now)
	s.sessions[token] = memorySession{actorID: actorID, expires: now.Add(s.ttl)}
	return token, nil
}

// sweep drops expired sessions nobody came back for. Caller holds mu.
func (s *MemorySessions) sweep(now time.Time) {
	for token, sess := range s.sessions {
		if !now.Before(sess.expires) {
			delete(s.sessions, token)
		}
	}
}

func (s *MemorySessions) Lookup(_ context.Context, token string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[token]
	if !ok {
		return 0, apperr.ErrUnauthenticated
	}
	if !s.now().Before(sess.expires) {
		delete(s.sessions, token)
		return 0, apperr.ErrUnauthenticated
	}
	return sess.actorID, nil
}

func (s *MemorySessions) Delete(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, token)
	return nil
}
