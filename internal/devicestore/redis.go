package devicestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	sessionPrefix  = "session:"
	userCodePrefix = "usercode:"
	verifyPrefix   = "verify:"

	// verifyAttemptTTL outlives any session so the counter cannot reset
	// while its session is still redeemable
	verifyAttemptTTL = time.Hour
)

// RedisStore implements the Store interface using Redis. Keys expire with
// the session so abandoned authorizations clean themselves up.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new Redis-backed store
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// CheckHealth verifies Redis connectivity
func (s *RedisStore) CheckHealth(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}

// SaveSession stores a session under both its device code and its
// normalized user code, with TTLs derived from the session expiry
func (s *RedisStore) SaveSession(ctx context.Context, sess *Session) error {
	ttl := time.Until(sess.ExpiresAt)
	if ttl <= 0 {
		return errors.New("session has already expired")
	}

	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshaling session: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, sessionPrefix+sess.DeviceCode, data, ttl)
	pipe.Set(ctx, userCodePrefix+NormalizeUserCode(sess.UserCode), sess.DeviceCode, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("saving session: %w", err)
	}
	return nil
}

// GetSession retrieves a session by device code, or nil if absent
func (s *RedisStore) GetSession(ctx context.Context, deviceCode string) (*Session, error) {
	data, err := s.client.Get(ctx, sessionPrefix+deviceCode).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting session: %w", err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("unmarshaling session: %w", err)
	}
	return &sess, nil
}

// GetSessionByUserCode retrieves a session by user code, or nil if absent
func (s *RedisStore) GetSessionByUserCode(ctx context.Context, userCode string) (*Session, error) {
	deviceCode, err := s.client.Get(ctx, userCodePrefix+NormalizeUserCode(userCode)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("looking up user code: %w", err)
	}
	return s.GetSession(ctx, deviceCode)
}

// DeleteSession removes a session and its user-code index
func (s *RedisStore) DeleteSession(ctx context.Context, deviceCode string) error {
	sess, err := s.GetSession(ctx, deviceCode)
	if err != nil {
		return err
	}
	if sess == nil {
		return nil
	}

	pipe := s.client.Pipeline()
	pipe.Del(ctx, sessionPrefix+deviceCode)
	pipe.Del(ctx, userCodePrefix+NormalizeUserCode(sess.UserCode))
	pipe.Del(ctx, verifyPrefix+deviceCode)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// IncrementVerifyAttempts counts one verification attempt against a session
func (s *RedisStore) IncrementVerifyAttempts(ctx context.Context, deviceCode string) (int, error) {
	key := verifyPrefix + deviceCode
	pipe := s.client.Pipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, verifyAttemptTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("counting verification attempts: %w", err)
	}
	return int(incr.Val()), nil
}
