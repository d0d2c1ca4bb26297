// Package redisstore keeps assistant partitions in Redis, one key per owner
// and user type.
package redisstore

import (
	"context"
	"errors"

	"github.com/SimoSabev/LynkSkill-sub001/internal/chat"
	"github.com/redis/go-redis/v9"
)

const defaultPrefix = "lynkskill:assistant:"

type Store struct {
	rdb    *redis.Client
	prefix string
}

func New(addr, password string, db int, prefix string) *Store {
	return NewFromClient(redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	}), prefix)
}

func NewFromClient(rdb *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Store{rdb: rdb, prefix: prefix}
}

func (s *Store) Key(key chat.PartitionKey) string {
	return s.prefix + key.String()
}

func (s *Store) Load(ctx context.Context, key chat.PartitionKey) ([]byte, error) {
	b, err := s.rdb.Get(ctx, s.Key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, chat.ErrPartitionNotFound
		}
		return nil, err
	}
	return b, nil
}

// Save overwrites the partition with a single SET.
func (s *Store) Save(ctx context.Context, key chat.PartitionKey, data []byte) error {
	return s.rdb.Set(ctx, s.Key(key), data, 0).Err()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.rdb.Close()
}
