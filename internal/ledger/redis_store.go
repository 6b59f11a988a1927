package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore 多台机器共享账本：WATCH/MULTI 乐观锁
type RedisStore struct {
	universe string
	key      string
	client   *redis.Client
}

const redisMaxRetries = 16

func NewRedisStore(client *redis.Client, universe string) *RedisStore {
	return &RedisStore{
		universe: universe,
		key:      "pairbot:ledger:" + universe,
		client:   client,
	}
}

func (s *RedisStore) get(ctx context.Context, c redis.Cmdable) (*State, error) {
	b, err := c.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return newState(s.universe), nil
		}
		return nil, err
	}
	st := &State{}
	if err := json.Unmarshal(b, st); err != nil {
		return nil, err
	}
	return st.normalize(s.universe), nil
}

func (s *RedisStore) Load(ctx context.Context) (*State, error) {
	return s.get(ctx, s.client)
}

func (s *RedisStore) Update(ctx context.Context, fn func(*State) error) (*State, error) {
	for attempt := 0; attempt < redisMaxRetries; attempt++ {
		var st *State
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			var err error
			st, err = s.get(ctx, tx)
			if err != nil {
				return err
			}
			if err := fn(st); err != nil {
				return err
			}
			st.LastUpdate = time.Now().UTC()
			b, err := json.Marshal(st)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, s.key, b, 0)
				return nil
			})
			return err
		}, s.key)
		switch {
		case err == nil:
			return st, nil
		case errors.Is(err, ErrSkipWrite):
			return st, nil
		case errors.Is(err, redis.TxFailedErr):
			continue
		default:
			return nil, err
		}
	}
	return nil, fmt.Errorf("ledger: redis update conflict after %d retries", redisMaxRetries)
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
