// Package redis provides a Redis implementation of the membersync.SessionStore
// interface, so "already surfaced" notification keys are shared by every
// instance serving a session.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/viralboard/membersync/pkg/membersync"
)

// SessionStore implements membersync.SessionStore using one Redis set per session
type SessionStore struct {
	client redis.UniversalClient
	config Config
}

// Config holds Redis session store configuration
type Config struct {
	// KeyPrefix is prepended to all Redis keys (default: "membersync:")
	KeyPrefix string

	// SessionTTL is how long a session's surfaced set is kept after the last
	// write (default: 24h, negative = no expiration)
	SessionTTL time.Duration
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		KeyPrefix:  "membersync:",
		SessionTTL: 24 * time.Hour,
	}
}

var _ membersync.SessionStore = (*SessionStore)(nil)

// New creates a new Redis session store
// The client can be *redis.Client, *redis.ClusterClient, or *redis.Ring
func New(client redis.UniversalClient, config Config) (*SessionStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}

	defaults := DefaultConfig()
	if config.KeyPrefix == "" {
		config.KeyPrefix = defaults.KeyPrefix
	}
	if config.SessionTTL == 0 {
		config.SessionTTL = defaults.SessionTTL
	}

	return &SessionStore{client: client, config: config}, nil
}

// MarkSurfaced implements membersync.SessionStore
func (s *SessionStore) MarkSurfaced(ctx context.Context, sessionID, key string) (bool, error) {
	setKey := s.sessionKey(sessionID)

	var added *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		added = pipe.SAdd(ctx, setKey, key)
		if s.config.SessionTTL > 0 {
			pipe.Expire(ctx, setKey, s.config.SessionTTL)
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("%w: mark surfaced: %v", membersync.ErrStorageUnavailable, err)
	}
	return added.Val() == 1, nil
}

// EndSession forgets everything surfaced in the session
func (s *SessionStore) EndSession(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, s.sessionKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("%w: end session: %v", membersync.ErrStorageUnavailable, err)
	}
	return nil
}

// Close closes the Redis connection
func (s *SessionStore) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection
func (s *SessionStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *SessionStore) sessionKey(sessionID string) string {
	return fmt.Sprintf("%ssession:%s:surfaced", s.config.KeyPrefix, sessionID)
}
