// Package session stores wallet refresh sessions in Redis.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"blocksign/api/internal/store"
)

const defaultRefreshTTL = 30 * 24 * time.Hour

// RedisStore keeps refresh sessions keyed by token hash. Expiry is left to Redis.
type RedisStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisStore connects to redisURL and verifies the connection.
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisStoreWithClient(client), nil
}

func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: "refresh:", now: time.Now}
}

// Client exposes the underlying connection so other Redis consumers can share it.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

func (s *RedisStore) key(tokenHash string) string {
	return s.prefix + tokenHash
}

func (s *RedisStore) SaveRefreshSession(ctx context.Context, tokenHash string, session store.WalletSession, expiresAt time.Time) error {
	if session.CreatedAt.IsZero() {
		session.CreatedAt = s.now().UTC()
	}
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	ttl := expiresAt.Sub(s.now())
	if ttl <= 0 {
		ttl = defaultRefreshTTL
	}
	if err := s.client.Set(ctx, s.key(tokenHash), data, ttl).Err(); err != nil {
		return fmt.Errorf("save refresh token: %w", err)
	}
	return nil
}

func (s *RedisStore) LookupRefreshSession(ctx context.Context, tokenHash string) (store.WalletSession, error) {
	raw, err := s.client.Get(ctx, s.key(tokenHash)).Bytes()
	return decodeSession(raw, err, "lookup refresh token")
}

// ConsumeRefreshSession returns and deletes a refresh session in one GETDEL, so
// a token can be rotated only once.
func (s *RedisStore) ConsumeRefreshSession(ctx context.Context, tokenHash string) (store.WalletSession, error) {
	raw, err := s.client.GetDel(ctx, s.key(tokenHash)).Bytes()
	return decodeSession(raw, err, "consume refresh token")
}

func decodeSession(raw []byte, err error, op string) (store.WalletSession, error) {
	if errors.Is(err, redis.Nil) {
		return store.WalletSession{}, store.ErrSessionNotFound
	}
	if err != nil {
		return store.WalletSession{}, fmt.Errorf("%s: %w", op, err)
	}

	var session store.WalletSession
	if err := json.Unmarshal(raw, &session); err != nil {
		return store.WalletSession{}, fmt.Errorf("unmarshal session: %w", err)
	}
	return session, nil
}

// RevokeRefreshSession deletes a refresh token. Unknown tokens are not an error.
func (s *RedisStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	if err := s.client.Del(ctx, s.key(tokenHash)).Err(); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

// RevokeAccessToken denylists jti until the token would have expired anyway.
func (s *RedisStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	ttl := exp.Sub(s.now())
	if ttl <= 0 {
		return nil
	}
	if err := s.client.Set(ctx, "revoked:"+jti, "1", ttl).Err(); err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *RedisStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := s.client.Exists(ctx, "revoked:"+jti).Result()
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return n > 0, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
