package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const maxTxRetries = 10

// RedisStore keeps entries as JSON strings under "<prefix>:cache:<key>".
// Incremental updates run as optimistic WATCH transactions.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
}

func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, keyPrefix: prefix + ":cache:"}
}

func (s *RedisStore) key(key string) string {
	return s.keyPrefix + key
}

func decodeEntry(raw string) (*Entry, error) {
	var entry Entry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return nil, err
	}
	if entry.Data == nil {
		entry.Data = []string{}
	}
	return &entry, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (*Entry, error) {
	raw, err := s.client.Get(ctx, s.key(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	return decodeEntry(raw)
}

func (s *RedisStore) Set(ctx context.Context, key string, entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key(key), data, 0).Err()
}

func (s *RedisStore) update(ctx context.Context, key string, fn func([]string) []string) error {
	redisKey := s.key(key)
	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, redisKey).Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		entry, err := decodeEntry(raw)
		if err != nil {
			return err
		}
		entry.Data = fn(entry.Data)
		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, redisKey, data, 0)
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, txf, redisKey)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("updating cache entry %s: too much contention", key)
}

func (s *RedisStore) Append(ctx context.Context, key, item string) error {
	return s.update(ctx, key, func(data []string) []string { return appendItem(data, item) })
}

func (s *RedisStore) Remove(ctx context.Context, key, item string) error {
	return s.update(ctx, key, func(data []string) []string { return removeItem(data, item) })
}

func (s *RedisStore) Replace(ctx context.Context, key, old, item string) error {
	return s.update(ctx, key, func(data []string) []string { return appendItem(removeItem(data, old), item) })
}
