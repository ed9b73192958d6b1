package redis

import (
	"context"
	"time"

	"github.com/redis/rueidis"

	"github.com/kailas-cloud/ragdex/internal/db"
)

// Get returns the string value of key, db.ErrKeyNotFound if absent.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	cmd := s.b().Get().Key(key).Build()
	val, err := s.do(ctx, cmd).ToString()
	if err != nil {
		if rueidis.IsRedisNil(err) {
			return "", &db.Error{Op: db.OpGet, Err: db.ErrKeyNotFound}
		}
		return "", &db.Error{Op: db.OpGet, Err: err}
	}
	return val, nil
}

// Set stores a string value without expiration.
func (s *Store) Set(ctx context.Context, key, value string) error {
	cmd := s.b().Set().Key(key).Value(value).Build()
	if err := s.do(ctx, cmd).Error(); err != nil {
		return &db.Error{Op: db.OpSet, Err: err}
	}
	return nil
}

// SetWithTTL stores a string value with expiration.
func (s *Store) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	cmd := s.b().Set().Key(key).Value(value).Ex(ttl).Build()
	if err := s.do(ctx, cmd).Error(); err != nil {
		return &db.Error{Op: db.OpSet, Err: err}
	}
	return nil
}
