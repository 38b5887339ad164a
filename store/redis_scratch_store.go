package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/dkurbatov/vpn-shop-bot/types"
)

// ErrScratchNotFound means the conversation has no purchase in progress
// (or the scratch record expired).
var ErrScratchNotFound = errors.New("scratch state not found")

// RedisScratchStore keeps the per-conversation purchase scratch state. The
// TTL matches the pending-order abandonment threshold: an abandoned flow
// evaporates on its own.
type RedisScratchStore struct {
	client *RedisClient
	ttl    time.Duration
}

func NewRedisScratchStore(redisClient *RedisClient, ttl time.Duration) *RedisScratchStore {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}

	return &RedisScratchStore{
		client: redisClient,
		ttl:    ttl,
	}
}

func (s *RedisScratchStore) key(chatID int64) string {
	return s.client.generateKey("scratch", fmt.Sprintf("%d", chatID))
}

func (s *RedisScratchStore) GetScratch(chatID int64) (*types.Scratch, error) {
	var scratch types.Scratch
	if err := s.client.Get(s.key(chatID), &scratch); err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return nil, ErrScratchNotFound
		}
		return nil, err
	}
	return &scratch, nil
}

func (s *RedisScratchStore) PutScratch(scratch *types.Scratch) error {
	scratch.UpdatedAt = time.Now().UTC()
	return s.client.Set(s.key(scratch.ChatID), scratch, s.ttl)
}

func (s *RedisScratchStore) DeleteScratch(chatID int64) error {
	return s.client.Del(s.key(chatID))
}
