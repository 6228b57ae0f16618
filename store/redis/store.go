// Package redis provides a CredentialStore backed by Redis, for deployments
// where the shell runs hosted (BFF style) rather than on-device.
package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/appfold/sessionbridge/errors"
	"github.com/appfold/sessionbridge/store"
)

// Store implements store.CredentialStore using a Redis hash per install.
type Store struct {
	client *redis.Client
	prefix string
}

// NewStore creates a redis-backed credential store. The prefix scopes keys
// per install, e.g. one hash per user agent session.
func NewStore(client *redis.Client, prefix string) *Store {
	return &Store{client: client, prefix: prefix}
}

func (s *Store) redisKey() string {
	return fmt.Sprintf("%s:credentials", s.prefix)
}

// Get implements store.CredentialStore.Get.
func (s *Store) Get(ctx context.Context, key store.Key) (string, error) {
	if !key.Valid() {
		return "", errors.NewValidationError("key", string(key))
	}
	value, err := s.client.HGet(ctx, s.redisKey(), string(key)).Result()
	if err == redis.Nil {
		return "", errors.ErrNotFound
	}
	if err != nil {
		return "", errors.Wrapf(errors.ErrStorageUnavailable, "redis get %s: %v", key, err)
	}
	return value, nil
}

// Set implements store.CredentialStore.Set.
func (s *Store) Set(ctx context.Context, key store.Key, value string) error {
	if !key.Valid() {
		return errors.NewValidationError("key", string(key))
	}
	if err := s.client.HSet(ctx, s.redisKey(), string(key), value).Err(); err != nil {
		return errors.Wrapf(errors.ErrStorageUnavailable, "redis set %s: %v", key, err)
	}
	return nil
}

// Delete implements store.CredentialStore.Delete.
func (s *Store) Delete(ctx context.Context, key store.Key) error {
	if !key.Valid() {
		return errors.NewValidationError("key", string(key))
	}
	if err := s.client.HDel(ctx, s.redisKey(), string(key)).Err(); err != nil {
		return errors.Wrapf(errors.ErrStorageUnavailable, "redis delete %s: %v", key, err)
	}
	return nil
}
