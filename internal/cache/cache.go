// Package cache wraps the Redis key/value store that holds every piece of
// cross-request state: OAuth state records, PKCE verifiers, freshly exchanged
// credentials and normalized item listings. Nothing is kept in process memory.
package cache

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/fuomag9/integration-broker/internal/config"
)

// ErrNotFound is returned when a key does not exist or has expired.
var ErrNotFound = errors.New("cache: key not found")

// Store is the subset of key/value operations the connectors rely on.
type Store interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	// Take reads and deletes a key in one step.
	Take(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, keys ...string) error
}

// RedisStore implements Store on top of a go-redis client.
type RedisStore struct {
	client redis.UniversalClient
	logger zerolog.Logger
}

// Connect dials Redis and verifies the connection with a PING.
func Connect(ctx context.Context, cfg config.RedisConfig, logger zerolog.Logger) (*RedisStore, error) {
	opts := &redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.UseTLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	store := NewRedisStore(redis.NewClient(opts), logger)
	if err := store.Ping(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Addr(), err)
	}

	return store, nil
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client redis.UniversalClient, logger zerolog.Logger) *RedisStore {
	return &RedisStore{
		client: client,
		logger: logger.With().Str("component", "cache").Logger(),
	}
}

// Set stores value under key. A zero ttl stores the key without expiry.
func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	s.logger.Debug().Str("key", key).Dur("ttl", ttl).Msg("SET")
	return nil
}

// Get returns the value stored under key, or ErrNotFound.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		s.logger.Debug().Str("key", key).Msg("GET miss")
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	s.logger.Debug().Str("key", key).Msg("GET hit")
	return value, nil
}

// Take atomically reads and deletes key (GETDEL), or returns ErrNotFound.
func (s *RedisStore) Take(ctx context.Context, key string) ([]byte, error) {
	value, err := s.client.GetDel(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		s.logger.Debug().Str("key", key).Msg("GETDEL miss")
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getdel %s: %w", key, err)
	}
	s.logger.Debug().Str("key", key).Msg("GETDEL hit")
	return value, nil
}

// Delete removes keys. Missing keys are not an error.
func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("del %v: %w", keys, err)
	}
	s.logger.Debug().Strs("keys", keys).Msg("DEL")
	return nil
}

// Ping checks that Redis is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("failed to close Redis client: %w", err)
	}
	return nil
}

// StateKey is where the OAuth state record for (org, user) lives.
func StateKey(provider, orgID, userID string) string {
	return fmt.Sprintf("%s_state:%s:%s", provider, orgID, userID)
}

// VerifierKey is where the PKCE code verifier for (org, user) lives.
func VerifierKey(provider, orgID, userID string) string {
	return fmt.Sprintf("%s_verifier:%s:%s", provider, orgID, userID)
}

// CredentialsKey is where exchanged credentials wait to be picked up.
func CredentialsKey(provider, orgID, userID string) string {
	return fmt.Sprintf("%s_credentials:%s:%s", provider, orgID, userID)
}

// ItemsKey keys an item listing by a SHA-256 digest of the access token, so the
// token itself never appears in the keyspace.
func ItemsKey(provider, accessToken string) string {
	sum := sha256.Sum256([]byte(accessToken))
	return provider + "_items_cache:" + hex.EncodeToString(sum[:])
}
