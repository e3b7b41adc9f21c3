package redisstore

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const presenceTTL = 10 * time.Minute

type Store struct {
	rdb *redis.Client
}

func New(addr, password string, db int) *Store {
	return &Store{rdb: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})}
}

func (s *Store) Close() error { return s.rdb.Close() }

func presenceKey(memberID string) string { return "presence:" + memberID }

// SetPresence records a member's presence status. Entries expire so a
// member that stops reporting decays to offline.
func (s *Store) SetPresence(ctx context.Context, memberID, status string) error {
	return s.rdb.Set(ctx, presenceKey(memberID), status, presenceTTL).Err()
}

// GetPresence returns "offline" when nothing is known.
func (s *Store) GetPresence(ctx context.Context, memberID string) (string, error) {
	v, err := s.rdb.Get(ctx, presenceKey(memberID)).Result()
	if err == redis.Nil {
		return "offline", nil
	}
	if err != nil {
		return "", err
	}
	return v, nil
}
