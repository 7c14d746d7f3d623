package redisad

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

// SessionStore maps device install IDs to signed-in users.
type SessionStore struct{ c *redis.Client }

func NewSessionStore(c *redis.Client) *SessionStore { return &SessionStore{c: c} }

func sessionKey(deviceID string) string { return "session:" + deviceID }

// Get returns "" for a device nobody is signed in on.
func (s *SessionStore) Get(ctx context.Context, deviceID string) (string, error) {
	v, err := s.c.Get(ctx, sessionKey(deviceID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return v, err
}

func (s *SessionStore) Set(ctx context.Context, deviceID, userID string) error {
	return s.c.Set(ctx, sessionKey(deviceID), userID, 0).Err()
}

func (s *SessionStore) Delete(ctx context.Context, deviceID string) error {
	return s.c.Del(ctx, sessionKey(deviceID)).Err()
}
