package confirmation

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/angelmondragon/otcsettle/pkg/enums"
	"github.com/angelmondragon/otcsettle/pkg/redis"
)

type redisClient interface {
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	CompareAndDelete(ctx context.Context, key, expected string) (bool, error)
	Del(ctx context.Context, keys ...string) error
	ConfirmationKey(actorID string) string
}

// expiryGrace keeps a slot in Redis past its logical expiry so a late
// confirmation is reported as expired rather than as a fresh request.
const expiryGrace = 2

// RedisStore keeps one key per actor. Take is a compare-and-delete script so
// of two racing confirmations only one removes the slot.
type RedisStore struct {
	client redisClient
}

func NewRedisStore(client redisClient) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Put(ctx context.Context, req Request) error {
	raw, err := json.Marshal(req)
	if err != nil {
		return err
	}
	ttl := req.ExpiresAt.Sub(req.CreatedAt) * expiryGrace
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return s.client.Set(ctx, s.client.ConfirmationKey(req.ActorID), string(raw), ttl)
}

func (s *RedisStore) Get(ctx context.Context, actorID string) (*Request, error) {
	req, _, err := s.load(ctx, actorID)
	return req, err
}

func (s *RedisStore) Take(ctx context.Context, actorID string, kind enums.OperationKind, fingerprint string) (bool, error) {
	req, raw, err := s.load(ctx, actorID)
	if err != nil || req == nil || !req.matches(kind, fingerprint) {
		return false, err
	}
	return s.client.CompareAndDelete(ctx, s.client.ConfirmationKey(actorID), raw)
}

func (s *RedisStore) Delete(ctx context.Context, actorID string) error {
	return s.client.Del(ctx, s.client.ConfirmationKey(actorID))
}

func (s *RedisStore) load(ctx context.Context, actorID string) (*Request, string, error) {
	raw, err := s.client.Get(ctx, s.client.ConfirmationKey(actorID))
	if errors.Is(err, redis.Nil) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", err
	}
	var req Request
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		return nil, "", err
	}
	return &req, raw, nil
}
