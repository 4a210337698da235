package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"etalase/backend/internal/domain"
)

const (
	// pos:held:{id} -> JSON held order
	keyHeldOrder = "pos:held:%s"
	// pos:held:index:{scope key} -> set of held order ids
	keyHeldIndex = "pos:held:index:%s"
)

type RedisHeldOrderStore struct {
	client *redis.Client
}

func NewRedisHeldOrderStore(addr string, password string, db int) *RedisHeldOrderStore {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisHeldOrderStore{client: client}
}

func (c *RedisHeldOrderStore) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisHeldOrderStore) Close() error {
	return c.client.Close()
}

func (c *RedisHeldOrderStore) Save(ctx context.Context, order domain.HeldOrder, ttl time.Duration) error {
	if order.ID == "" || len(order.Lines) == 0 {
		return errors.New("held order needs an id and lines")
	}
	payload, err := json.Marshal(order)
	if err != nil {
		return err
	}

	index := heldIndexKey(order.Outlet)
	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, heldOrderKey(order.ID), payload, ttl)
		pipe.SAdd(ctx, index, order.ID)
		if ttl > 0 {
			pipe.Expire(ctx, index, ttl)
		}
		return nil
	})
	return err
}

func (c *RedisHeldOrderStore) List(ctx context.Context, scope domain.OutletScope, terminalID string) ([]domain.HeldOrder, error) {
	index := heldIndexKey(scope)
	ids, err := c.client.SMembers(ctx, index).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []domain.HeldOrder{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = heldOrderKey(id)
	}
	values, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	result := make([]domain.HeldOrder, 0, len(values))
	expired := make([]any, 0)
	for i, raw := range values {
		payload, ok := raw.(string)
		if !ok {
			expired = append(expired, ids[i])
			continue
		}
		var order domain.HeldOrder
		if err := json.Unmarshal([]byte(payload), &order); err != nil {
			return nil, fmt.Errorf("decode held order %s: %w", ids[i], err)
		}
		if terminalID != "" && order.TerminalID != terminalID {
			continue
		}
		result = append(result, order)
	}
	if len(expired) > 0 {
		_ = c.client.SRem(ctx, index, expired...).Err()
	}

	sortNewestFirst(result)
	return result, nil
}

func (c *RedisHeldOrderStore) Take(ctx context.Context, id string) (*domain.HeldOrder, error) {
	val, err := c.client.GetDel(ctx, heldOrderKey(id)).Result()
	if err == redis.Nil {
		return nil, ErrHeldOrderNotFound
	}
	if err != nil {
		return nil, err
	}

	var order domain.HeldOrder
	if err := json.Unmarshal([]byte(val), &order); err != nil {
		return nil, err
	}
	_ = c.client.SRem(ctx, heldIndexKey(order.Outlet), order.ID).Err()
	return &order, nil
}

func (c *RedisHeldOrderStore) Delete(ctx context.Context, id string) error {
	_, err := c.Take(ctx, id)
	return err
}

func heldOrderKey(id string) string {
	return fmt.Sprintf(keyHeldOrder, id)
}

func heldIndexKey(scope domain.OutletScope) string {
	return fmt.Sprintf(keyHeldIndex, scope.Key())
}
