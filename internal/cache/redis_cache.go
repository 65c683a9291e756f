package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"tillcore/backend/internal/domain"
)

type RedisSaleCache struct {
	client *redis.Client
}

func NewRedisClient(addr string, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

func NewRedisSaleCache(client *redis.Client) *RedisSaleCache {
	return &RedisSaleCache{client: client}
}

func (c *RedisSaleCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func saleKey(ticket int64) string {
	return fmt.Sprintf("tillcore:sale:%d", ticket)
}

func (c *RedisSaleCache) Get(ctx context.Context, ticket int64) (*domain.Sale, bool, error) {
	val, err := c.client.Get(ctx, saleKey(ticket)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var sale domain.Sale
	if err := json.Unmarshal([]byte(val), &sale); err != nil {
		return nil, false, err
	}
	return &sale, true, nil
}

func (c *RedisSaleCache) Set(ctx context.Context, sale *domain.Sale, ttl time.Duration) error {
	if sale == nil || !sale.IsCommitted() {
		return nil
	}
	payload, err := json.Marshal(sale)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, saleKey(sale.Ticket), payload, ttl).Err()
}

func (c *RedisSaleCache) Delete(ctx context.Context, ticket int64) error {
	return c.client.Del(ctx, saleKey(ticket)).Err()
}
