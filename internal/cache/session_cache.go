// Package cache хранит завершённые checkout-сессии в Redis, чтобы не спрашивать провайдера повторно.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// DefaultTTL — время жизни записи, если конфигурация его не задаёт.
const DefaultTTL = 30 * time.Minute

// RedisSessionCache реализует domain.SessionCache поверх Redis.
type RedisSessionCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisSessionCache создаёт кэш. ttl <= 0 заменяется на DefaultTTL.
func NewRedisSessionCache(client *redis.Client, ttl time.Duration) *RedisSessionCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisSessionCache{client: client, ttl: ttl}
}

// Get возвращает сессию из кэша; при промахе возвращает (_, false, nil).
func (c *RedisSessionCache) Get(ctx context.Context, sessionID string) (domain.CheckoutSession, bool, error) {
	data, err := c.client.Get(ctx, cacheKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.CheckoutSession{}, false, nil
	}
	if err != nil {
		return domain.CheckoutSession{}, false, fmt.Errorf("redis get failed: %w", err)
	}

	var session domain.CheckoutSession
	if err := json.Unmarshal(data, &session); err != nil {
		return domain.CheckoutSession{}, false, fmt.Errorf("unmarshal session failed: %w", err)
	}
	return session, true, nil
}

// Set сохраняет сессию на ttl.
func (c *RedisSessionCache) Set(ctx context.Context, session domain.CheckoutSession) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session failed: %w", err)
	}
	if err := c.client.Set(ctx, cacheKey(session.ID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Ping проверяет соединение для readiness.
func (c *RedisSessionCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func cacheKey(sessionID string) string {
	return fmt.Sprintf("checkout:session:%s", sessionID)
}

var _ domain.SessionCache = (*RedisSessionCache)(nil)
