package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "session:"

// RedisStore keeps sessions in Redis with a TTL matching the session
// expiry, so Redis itself collects lapsed sessions. Deployments that prefer
// a shared cache over Postgres for login state use this store.
type RedisStore struct {
	client *redis.Client
	now    func() time.Time
}

var _ Store = (*RedisStore)(nil)

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, now: time.Now}
}

// Ping verifies connectivity; wired into the readiness probe.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func redisKey(id string) string { return redisKeyPrefix + id }

// remainingTTL is the time the session key may live under its expiry. Every
// write sets it explicitly; writing without a TTL would leave a record Redis
// never reclaims.
func remainingTTL(sess *Session, now time.Time) (time.Duration, bool) {
	ttl := sess.ExpiresAt.Sub(now)
	return ttl, ttl > 0
}

func redisErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, redis.Nil):
		return ErrSessionNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return ErrTimeout
	default:
		return err
	}
}

func (s *RedisStore) Create(ctx context.Context, sess *Session) error {
	payload, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("session: encode: %w", err)
	}
	ttl, ok := remainingTTL(sess, s.now().UTC())
	if !ok {
		return errors.New("session: already expired at create")
	}
	return redisErr(s.client.Set(ctx, redisKey(sess.ID), payload, ttl).Err())
}

func (s *RedisStore) Find(ctx context.Context, id string) (*Session, error) {
	raw, err := s.client.Get(ctx, redisKey(id)).Bytes()
	if err != nil {
		return nil, redisErr(err)
	}
	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("session: decode %s: %w", id, err)
	}
	return &sess, nil
}

func (s *RedisStore) UpdateToken(ctx context.Context, id, raw string, tokenExpiresAt, renewedAt time.Time) error {
	sess, err := s.Find(ctx, id)
	if err != nil {
		return err
	}
	sess.Token = raw
	sess.TokenExpiresAt = tokenExpiresAt
	sess.RenewedAt = renewedAt

	payload, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("session: encode: %w", err)
	}
	// The TTL is recomputed from the session expiry rather than carried over
	// with KeepTTL: if Redis expired the key between the read and this write,
	// KeepTTL would recreate it with no TTL at all.
	ttl, ok := remainingTTL(sess, s.now().UTC())
	if !ok {
		_, _ = s.Delete(ctx, id)
		return ErrSessionExpired
	}
	return redisErr(s.client.Set(ctx, redisKey(id), payload, ttl).Err())
}

func (s *RedisStore) Delete(ctx context.Context, id string) (bool, error) {
	n, err := s.client.Del(ctx, redisKey(id)).Result()
	if err != nil {
		return false, redisErr(err)
	}
	return n > 0, nil
}

// DeleteExpired is a no-op: Redis TTLs expire sessions on their own.
func (s *RedisStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	return 0, nil
}
