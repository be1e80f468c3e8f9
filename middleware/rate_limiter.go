// middleware/rate_limiter.go
package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
	"github.com/vipogroup/vipo_backend/apperrors"
	"golang.org/x/time/rate"
)

const msgTooManyRequests = "יותר מדי בקשות, נסה שוב בעוד דקה"

// LimiterStore decides whether one more request under key is allowed.
type LimiterStore interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// MemoryStore keeps a token bucket per key in process memory. It is used
// when Redis is not configured.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*limiterEntry
	idleTTL time.Duration
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*limiterEntry),
		idleTTL: 10 * time.Minute,
		now:     time.Now,
	}
}

func (s *MemoryStore) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	entry, ok := s.entries[key]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(rate.Every(window/time.Duration(limit)), limit)}
		s.entries[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1), nil
}

// Cleanup drops limiters that have been idle for a while.
func (s *MemoryStore) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-s.idleTTL)
	for key, entry := range s.entries {
		if entry.lastSeen.Before(cutoff) {
			delete(s.entries, key)
		}
	}
}

// RunCleanup calls Cleanup every interval until ctx is done.
func (s *MemoryStore) RunCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Cleanup()
		}
	}
}

// RedisStore counts requests in fixed windows shared by all instances.
type RedisStore struct {
	client *redis.Client
	now    func() time.Time
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, now: time.Now}
}

func (s *RedisStore) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	bucket := s.now().UnixNano() / int64(window)
	windowKey := fmt.Sprintf("rl:%s:%d", key, bucket)

	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, windowKey)
	pipe.Expire(ctx, windowKey, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("rate limit counter: %w", err)
	}
	return incr.Val() <= int64(limit), nil
}

// RateLimiter throttles authenticated callers per request signature
// (client IP and user agent) and user id.
type RateLimiter struct {
	store  LimiterStore
	scope  string
	limit  int
	window time.Duration
}

func NewRateLimiter(store LimiterStore, scope string, limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		store:  store,
		scope:  scope,
		limit:  limit,
		window: window,
	}
}

func (r *RateLimiter) key(c echo.Context) string {
	sum := sha256.Sum256([]byte(c.RealIP() + "|" + c.Request().UserAgent()))
	signature := hex.EncodeToString(sum[:8])
	userID := "anonymous"
	if actor, err := ActorFrom(c); err == nil {
		userID = actor.ID.Hex()
	}
	return r.scope + ":" + signature + ":" + userID
}

// RateLimit must run after JWTMiddleware so the user id is part of the key.
// Store failures let the request through.
func (r *RateLimiter) RateLimit() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if r.limit <= 0 || r.window <= 0 {
			return next
		}
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			key := r.key(c)

			allowed, err := r.store.Allow(ctx, key, r.limit, r.window)
			if err != nil {
				log.Ctx(ctx).Error().Err(err).Str("scope", r.scope).Msg("rate limiter unavailable, allowing request")
				return next(c)
			}
			if !allowed {
				log.Ctx(ctx).Warn().
					Str("scope", r.scope).
					Str("key", key).
					Int("limit", r.limit).
					Dur("window", r.window).
					Msg("rate limit exceeded")
				c.Response().Header().Set("Retry-After", fmt.Sprintf("%d", int(r.window.Seconds())))
				return apperrors.RateLimited(msgTooManyRequests)
			}
			return next(c)
		}
	}
}
