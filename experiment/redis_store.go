package experiment

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each experiment as a JSON string keyed by id, with a
// sorted-set index on creation time for listing.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisStore connects and verifies the server is reachable.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "hypatia:"
	}
	return &RedisStore{client: client, keyPrefix: prefix + "experiment:"}, nil
}

func (s *RedisStore) dataKey(id string) string { return s.keyPrefix + "data:" + id }
func (s *RedisStore) indexKey() string         { return s.keyPrefix + "index" }

func (s *RedisStore) Get(ctx context.Context, id string) (*Experiment, error) {
	data, err := s.client.Get(ctx, s.dataKey(id)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", id, err)
	}

	var exp Experiment
	if err := json.Unmarshal(data, &exp); err != nil {
		return nil, fmt.Errorf("decode experiment %s: %w", id, err)
	}
	return &exp, nil
}

func (s *RedisStore) Put(ctx context.Context, exp *Experiment) error {
	if exp == nil {
		return ErrInvalidInput
	}
	if err := exp.Validate(); err != nil {
		return err
	}

	exp.UpdatedAt = time.Now().UTC()
	if exp.CreatedAt.IsZero() {
		exp.CreatedAt = exp.UpdatedAt
	}

	data, err := json.Marshal(exp)
	if err != nil {
		return fmt.Errorf("encode experiment %s: %w", exp.ID, err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.dataKey(exp.ID), data, 0)
	pipe.ZAdd(ctx, s.indexKey(), redis.Z{
		Score:  float64(exp.CreatedAt.UnixNano()),
		Member: exp.ID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis put %s: %w", exp.ID, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	removed, err := s.client.Del(ctx, s.dataKey(id)).Result()
	if err != nil {
		return fmt.Errorf("redis delete %s: %w", id, err)
	}
	if removed == 0 {
		return ErrNotFound
	}
	s.client.ZRem(ctx, s.indexKey(), id)
	return nil
}

func (s *RedisStore) List(ctx context.Context) ([]*Experiment, error) {
	// Newest first: the index is scored by creation time.
	ids, err := s.client.ZRevRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list: %w", err)
	}

	out := make([]*Experiment, 0, len(ids))
	for _, id := range ids {
		exp, err := s.Get(ctx, id)
		if err == ErrNotFound {
			// Index entry outlived its record; self-heal.
			s.client.ZRem(ctx, s.indexKey(), id)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, exp)
	}
	return out, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
