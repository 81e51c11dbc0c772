package apiclient

import "sync"

// TokenStore persists the access token under a single fixed key.
// Implementations must be safe for concurrent use and answer synchronously.
type TokenStore interface {
	Token() (string, bool)
	SaveToken(token string) error
	ClearToken() error
}

// MemoryTokenStore keeps the access token for the lifetime of the process.
type MemoryTokenStore struct {
	mutex sync.RWMutex
	token string
}

// NewMemoryTokenStore constructs an empty in-memory token store.
func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{}
}

// Token returns the stored token and whether one is present.
func (store *MemoryTokenStore) Token() (string, bool) {
	store.mutex.RLock()
	defer store.mutex.RUnlock()
	return store.token, store.token != ""
}

// SaveToken replaces the stored token; an empty token clears it.
func (store *MemoryTokenStore) SaveToken(token string) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.token = token
	return nil
}

// ClearToken removes the stored token.
func (store *MemoryTokenStore) ClearToken() error {
	return store.SaveToken("")
}
