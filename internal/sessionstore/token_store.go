package sessionstore

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// AccessTokenKey is the fixed key holding the access token.
const AccessTokenKey = "access_token"

// EntryTokenStore exposes one entry of a DatabaseStore as an access-token store.
type EntryTokenStore struct {
	store *DatabaseStore
	key   string
}

// TokenStore returns a token store bound to key; an empty key selects AccessTokenKey.
func (store *DatabaseStore) TokenStore(key string) *EntryTokenStore {
	if key == "" {
		key = AccessTokenKey
	}
	return &EntryTokenStore{store: store, key: key}
}

// Token returns the stored token. Read failures are logged and reported as absent.
func (tokens *EntryTokenStore) Token() (string, bool) {
	value, err := tokens.store.Get(context.Background(), tokens.key)
	if err != nil {
		if !errors.Is(err, ErrEntryNotFound) {
			tokens.store.logger.Warn("reading stored token",
				zap.String("code", "sessionstore.token.read_failed"),
				zap.String("key", tokens.key),
				zap.Error(err))
		}
		return "", false
	}
	return value, value != ""
}

// SaveToken replaces the stored token; an empty token clears it.
func (tokens *EntryTokenStore) SaveToken(token string) error {
	if token == "" {
		return tokens.ClearToken()
	}
	if err := tokens.store.Put(context.Background(), tokens.key, token); err != nil {
		return fmt.Errorf("sessionstore.token.save: %w", err)
	}
	return nil
}

// ClearToken removes the stored token.
func (tokens *EntryTokenStore) ClearToken() error {
	if err := tokens.store.Delete(context.Background(), tokens.key); err != nil {
		return fmt.Errorf("sessionstore.token.clear: %w", err)
	}
	return nil
}
