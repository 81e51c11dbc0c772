package stubserver

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const refreshOpaqueByteLength = 32

var (
	// ErrRefreshTokenNotFound indicates no refresh token matched the provided value.
	ErrRefreshTokenNotFound = errors.New("refresh_store.not_found")
	// ErrRefreshTokenRevoked indicates the refresh token has been revoked.
	ErrRefreshTokenRevoked = errors.New("refresh_store.revoked")
	// ErrRefreshTokenExpired indicates the refresh token has exceeded its expiry.
	ErrRefreshTokenExpired = errors.New("refresh_store.expired")
	// ErrRefreshTokenEmptyOpaque indicates that the provided opaque token text is empty.
	ErrRefreshTokenEmptyOpaque = errors.New("refresh_store.empty_token")
)

// RefreshTokenStore manages rotating refresh tokens.
type RefreshTokenStore interface {
	Issue(ctx context.Context, userID int64, expiresAt time.Time, previousTokenID string) (tokenID string, tokenOpaque string, err error)
	Validate(ctx context.Context, tokenOpaque string) (userID int64, tokenID string, err error)
	Revoke(ctx context.Context, tokenID string) error
}

// MemoryRefreshTokenStore keeps refresh tokens in process memory, indexed by hash.
type MemoryRefreshTokenStore struct {
	mutex  sync.Mutex
	clock  Clock
	byID   map[string]*refreshRecord
	byHash map[string]string
}

type refreshRecord struct {
	TokenID         string
	UserID          int64
	Hash            string
	ExpiresAt       time.Time
	RevokedAt       time.Time
	PreviousTokenID string
	IssuedAt        time.Time
}

// NewMemoryRefreshTokenStore creates an empty store; a nil clock uses the system clock.
func NewMemoryRefreshTokenStore(clock Clock) *MemoryRefreshTokenStore {
	if clock == nil {
		clock = systemClock{}
	}
	return &MemoryRefreshTokenStore{
		clock:  clock,
		byID:   make(map[string]*refreshRecord),
		byHash: make(map[string]string),
	}
}

// Issue creates a new token, optionally linked to the token it rotates.
func (store *MemoryRefreshTokenStore) Issue(ctx context.Context, userID int64, expiresAt time.Time, previousTokenID string) (string, string, error) {
	opaque, hashValue, err := generateRefreshOpaque()
	if err != nil {
		return "", "", err
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()

	record := &refreshRecord{
		TokenID:         uuid.NewString(),
		UserID:          userID,
		Hash:            hashValue,
		ExpiresAt:       expiresAt,
		PreviousTokenID: previousTokenID,
		IssuedAt:        store.clock.Now(),
	}
	store.byID[record.TokenID] = record
	store.byHash[hashValue] = record.TokenID
	return record.TokenID, opaque, nil
}

// Validate resolves an opaque token to its user and token id.
func (store *MemoryRefreshTokenStore) Validate(ctx context.Context, tokenOpaque string) (int64, string, error) {
	if strings.TrimSpace(tokenOpaque) == "" {
		return 0, "", fmt.Errorf("refresh_store.validate: %w", ErrRefreshTokenEmptyOpaque)
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()

	tokenID, ok := store.byHash[hashOpaque(tokenOpaque)]
	if !ok {
		return 0, "", fmt.Errorf("refresh_store.validate: %w", ErrRefreshTokenNotFound)
	}
	record := store.byID[tokenID]
	if record == nil {
		return 0, "", fmt.Errorf("refresh_store.validate: %w", ErrRefreshTokenNotFound)
	}
	if !record.RevokedAt.IsZero() {
		return 0, "", fmt.Errorf("refresh_store.validate: %w", ErrRefreshTokenRevoked)
	}
	if !record.ExpiresAt.After(store.clock.Now()) {
		return 0, "", fmt.Errorf("refresh_store.validate: %w", ErrRefreshTokenExpired)
	}
	return record.UserID, record.TokenID, nil
}

// Revoke marks a token as revoked. Revoking twice is not an error.
func (store *MemoryRefreshTokenStore) Revoke(ctx context.Context, tokenID string) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	record := store.byID[tokenID]
	if record == nil {
		return fmt.Errorf("refresh_store.revoke: %w", ErrRefreshTokenNotFound)
	}
	if record.RevokedAt.IsZero() {
		record.RevokedAt = store.clock.Now()
	}
	return nil
}

func generateRefreshOpaque() (string, string, error) {
	randomBytes := make([]byte, refreshOpaqueByteLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", "", fmt.Errorf("refresh_store.random: %w", err)
	}
	opaque := base64.RawURLEncoding.EncodeToString(randomBytes)
	return opaque, hashOpaque(opaque), nil
}

func hashOpaque(opaque string) string {
	sum := sha256.Sum256([]byte(opaque))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
