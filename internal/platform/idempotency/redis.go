package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "idem:"

// RedisStore keeps entries as JSON strings with a Redis TTL, so Purge has nothing to do.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore constructs a store over client.
func NewRedisStore(client redis.UniversalClient) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("idempotency: redis client is required")
	}
	return &RedisStore{client: client, prefix: redisKeyPrefix}, nil
}

func (s *RedisStore) redisKey(key string) string { return s.prefix + documentID(key) }

func (s *RedisStore) Claim(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (State, Entry, error) {
	ttl = normaliseTTL(ttl)
	entry := pendingEntry(key, fingerprint, now.UTC(), ttl)
	payload, err := json.Marshal(entry)
	if err != nil {
		return 0, Entry{}, fmt.Errorf("idempotency: encode entry: %w", err)
	}

	rk := s.redisKey(key)
	claimed, err := s.client.SetNX(ctx, rk, payload, ttl).Result()
	if err != nil {
		return 0, Entry{}, fmt.Errorf("idempotency: redis setnx: %w", err)
	}
	if claimed {
		return StateClaimed, entry, nil
	}

	existing, found, err := s.load(ctx, rk)
	if err != nil {
		return 0, Entry{}, err
	}
	if !found {
		// expired between SETNX and GET
		return s.Claim(ctx, key, fingerprint, now, ttl)
	}
	return classify(existing, fingerprint)
}

func (s *RedisStore) Complete(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	ttl = normaliseTTL(ttl)
	rk := s.redisKey(key)
	prev, found, err := s.load(ctx, rk)
	if err != nil {
		return err
	}
	if found && prev.Fingerprint != fingerprint {
		return ErrFingerprintMismatch
	}
	payload, err := json.Marshal(completedEntry(prev, key, fingerprint, resp, now.UTC(), ttl))
	if err != nil {
		return fmt.Errorf("idempotency: encode entry: %w", err)
	}
	if err := s.client.Set(ctx, rk, payload, ttl).Err(); err != nil {
		return fmt.Errorf("idempotency: redis set: %w", err)
	}
	return nil
}

func (s *RedisStore) Abandon(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.redisKey(key)).Err(); err != nil {
		return fmt.Errorf("idempotency: redis del: %w", err)
	}
	return nil
}

func (s *RedisStore) Purge(context.Context, time.Time, int) (int, error) { return 0, nil }

// Ping reports whether Redis is reachable; used by the readiness probe.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) load(ctx context.Context, rk string) (Entry, bool, error) {
	raw, err := s.client.Get(ctx, rk).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("idempotency: redis get: %w", err)
	}
	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return Entry{}, false, fmt.Errorf("idempotency: decode entry: %w", err)
	}
	return entry, true, nil
}
