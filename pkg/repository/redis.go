package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/example/bookshop/pkg/config"
	"github.com/example/bookshop/pkg/models"
	"github.com/go-redis/redis/v8"
)

// sessionCacheTTL keeps success-page refreshes from re-hitting the Stripe API
// while staying short enough that stale sessions age out quickly.
const sessionCacheTTL = 15 * time.Minute

type RedisRepository struct {
	client *redis.Client
	config *config.RedisConfig
}

func NewRedisRepository(cfg *config.RedisConfig) *RedisRepository {
	return &RedisRepository{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
			PoolSize: cfg.PoolSize,
		}),
		config: cfg,
	}
}

func (r *RedisRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisRepository) SetJSON(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, key, data, expiration).Err()
}

func (r *RedisRepository) GetJSON(ctx context.Context, key string, dest interface{}) error {
	data, err := r.client.Get(ctx, key).Result()
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(data), dest)
}

func (r *RedisRepository) Close() error {
	return r.client.Close()
}

// SessionView is the normalized slice of a checkout session served to the
// success page.
type SessionView struct {
	CustomerEmail string             `json:"customerEmail"`
	Items         []models.OrderItem `json:"items"`
	Amount        int64              `json:"amount"`
	Address       *models.Address    `json:"address,omitempty"`
}

func (r *RedisRepository) CacheSession(ctx context.Context, sessionID string, view *SessionView) error {
	key := fmt.Sprintf("session:%s", sessionID)
	return r.SetJSON(ctx, key, view, sessionCacheTTL)
}

// GetSessionCache returns the cached view, or redis.Nil-wrapped error on miss.
func (r *RedisRepository) GetSessionCache(ctx context.Context, sessionID string) (*SessionView, error) {
	key := fmt.Sprintf("session:%s", sessionID)
	var view SessionView
	if err := r.GetJSON(ctx, key, &view); err != nil {
		return nil, err
	}
	return &view, nil
}
