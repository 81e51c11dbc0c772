package society

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/golang-jwt/jwt/v5"
	"github.com/tyemirov/societyclient/internal/sessionstore"
	"github.com/tyemirov/societyclient/pkg/apiclient"
	"go.uber.org/zap"
)

// ProfileKey is the state store key holding the signed-in user's profile.
const ProfileKey = "user_profile"

// Authenticator is the part of the client the session owner drives. *apiclient.Client satisfies it.
type Authenticator interface {
	Requester
	GetToken() (string, bool)
	SetToken(token string) error
	Refresh(ctx context.Context) (string, error)
	Logout(ctx context.Context) error
	OnUnauthorized(handler func())
}

// StateStore persists session values between runs. *sessionstore.DatabaseStore satisfies it.
type StateStore interface {
	Get(ctx context.Context, key string) (string, error)
	Put(ctx context.Context, key string, value string) error
	Delete(ctx context.Context, key string) error
}

// Profile is the signed-in user as returned with an access token.
type Profile struct {
	ID       int64    `json:"id"`
	Username string   `json:"username"`
	Email    string   `json:"email,omitempty"`
	Roles    []string `json:"roles"`
}

// HasAnyRole reports whether the profile carries one of roles.
func (profile Profile) HasAnyRole(roles ...string) bool {
	for _, held := range profile.Roles {
		for _, wanted := range roles {
			if strings.EqualFold(held, wanted) {
				return true
			}
		}
	}
	return false
}

// TokenClaims are the claims the backend embeds in access tokens.
type TokenClaims struct {
	UserID   int64    `json:"user_id"`
	Username string   `json:"username"`
	Email    string   `json:"email"`
	Roles    []string `json:"roles"`
	jwt.RegisteredClaims
}

type authResponse struct {
	AccessToken string   `json:"accessToken"`
	User        *Profile `json:"user"`
}

// Session owns the authenticated state: the stored token (through the client) and the profile.
// It registers itself as the client's unauthorized handler and signs out when refresh fails.
type Session struct {
	client Authenticator
	store  StateStore
	logger *zap.Logger

	mutex     sync.RWMutex
	profile   *Profile
	onExpired func()
}

// NewSession binds a session to client. store may be nil, in which case the profile is kept in memory.
func NewSession(client Authenticator, store StateStore, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	session := &Session{client: client, store: store, logger: logger}
	client.OnUnauthorized(session.Expire)
	return session
}

// OnExpired registers a callback run after the session is signed out by a failed refresh.
func (session *Session) OnExpired(callback func()) {
	session.mutex.Lock()
	defer session.mutex.Unlock()
	session.onExpired = callback
}

// Login exchanges a username and password for an access token.
func (session *Session) Login(ctx context.Context, username string, password string) (Profile, error) {
	return session.authenticate(ctx, PathLogin, map[string]string{
		"username": username,
		"password": password,
	})
}

// Register creates an account and signs in as it.
func (session *Session) Register(ctx context.Context, username string, password string, email string) (Profile, error) {
	return session.authenticate(ctx, PathRegister, map[string]string{
		"username": username,
		"password": password,
		"email":    email,
	})
}

func (session *Session) authenticate(ctx context.Context, path string, credentials map[string]string) (Profile, error) {
	response, err := session.client.Do(ctx, http.MethodPost, path, apiclient.RequestOptions{Body: credentials})
	if err != nil {
		return Profile{}, err
	}
	payload, decodeErr := apiclient.DecodeJSON[authResponse](response)
	if decodeErr != nil {
		return Profile{}, fmt.Errorf("society.session.authenticate: %w", decodeErr)
	}
	if strings.TrimSpace(payload.AccessToken) == "" {
		return Profile{}, fmt.Errorf("society.session.authenticate: %w", ErrMissingAccessToken)
	}
	if err := session.client.SetToken(payload.AccessToken); err != nil {
		return Profile{}, fmt.Errorf("society.session.save_token: %w", err)
	}
	profile := Profile{Username: credentials["username"]}
	if payload.User != nil {
		profile = *payload.User
	}
	session.setProfile(ctx, &profile)
	session.logger.Info("signed in",
		zap.String("code", "society.session.signed_in"),
		zap.String("username", profile.Username))
	return profile, nil
}

// Restore rehydrates the session on start-up. A stored token is trusted as is; without one the
// refresh cookie is tried. It reports false without error when no session can be recovered.
func (session *Session) Restore(ctx context.Context) (Profile, bool, error) {
	if _, hasToken := session.client.GetToken(); hasToken {
		if profile, ok := session.loadProfile(ctx); ok {
			return profile, true, nil
		}
	} else if _, err := session.client.Refresh(ctx); err != nil {
		if isUnauthorized(err) {
			session.setProfile(ctx, nil)
			return Profile{}, false, nil
		}
		return Profile{}, false, err
	}

	profile, err := session.fetchProfile(ctx)
	if err != nil {
		if isUnauthorized(err) {
			session.setProfile(ctx, nil)
			return Profile{}, false, nil
		}
		return Profile{}, false, err
	}
	return profile, true, nil
}

func isUnauthorized(err error) bool {
	var apiError *apiclient.APIError
	return errors.As(err, &apiError) && (apiError.HTTPStatus == http.StatusUnauthorized || apiError.Type == apiclient.ErrorTypeUnauthorized)
}

func (session *Session) fetchProfile(ctx context.Context) (Profile, error) {
	response, err := session.client.Do(ctx, http.MethodGet, PathCurrentUser, apiclient.RequestOptions{})
	if err != nil {
		return Profile{}, err
	}
	account, decodeErr := decodeEntity[Account](response.Body)
	if decodeErr != nil {
		return Profile{}, decodeErr
	}
	profile := account.Profile()
	session.setProfile(ctx, &profile)
	return profile, nil
}

// Logout ends the session on the server and locally. Server failures are ignored.
func (session *Session) Logout(ctx context.Context) error {
	logoutErr := session.client.Logout(ctx)
	session.setProfile(ctx, nil)
	if logoutErr != nil {
		return fmt.Errorf("society.session.logout: %w", logoutErr)
	}
	return nil
}

// Expire drops the local profile after the client has given up on refreshing.
func (session *Session) Expire() {
	session.setProfile(context.Background(), nil)
	session.logger.Warn("session expired",
		zap.String("code", "society.session.expired"))
	session.mutex.RLock()
	callback := session.onExpired
	session.mutex.RUnlock()
	if callback != nil {
		callback()
	}
}

// Profile returns the signed-in user.
func (session *Session) Profile() (Profile, bool) {
	session.mutex.RLock()
	defer session.mutex.RUnlock()
	if session.profile == nil {
		return Profile{}, false
	}
	return *session.profile, true
}

// Authenticated reports whether an access token is stored.
func (session *Session) Authenticated() bool {
	_, hasToken := session.client.GetToken()
	return hasToken
}

// Claims decodes the stored access token without verifying its signature.
func (session *Session) Claims() (*TokenClaims, error) {
	token, hasToken := session.client.GetToken()
	if !hasToken {
		return nil, fmt.Errorf("society.session.claims: %w", ErrNotAuthenticated)
	}
	claims := &TokenClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("society.session.claims: %w", err)
	}
	return claims, nil
}

// Close detaches the session from the client.
func (session *Session) Close() {
	session.client.OnUnauthorized(nil)
}

func (session *Session) loadProfile(ctx context.Context) (Profile, bool) {
	session.mutex.RLock()
	if session.profile != nil {
		profile := *session.profile
		session.mutex.RUnlock()
		return profile, true
	}
	session.mutex.RUnlock()
	if session.store == nil {
		return Profile{}, false
	}

	raw, err := session.store.Get(ctx, ProfileKey)
	if err != nil {
		if !errors.Is(err, sessionstore.ErrEntryNotFound) {
			session.logger.Warn("reading stored profile",
				zap.String("code", "society.session.profile_read_failed"),
				zap.Error(err))
		}
		return Profile{}, false
	}
	var profile Profile
	if err := json.Unmarshal([]byte(raw), &profile); err != nil {
		session.logger.Warn("discarding unreadable profile",
			zap.String("code", "society.session.profile_corrupt"),
			zap.Error(err))
		return Profile{}, false
	}
	session.mutex.Lock()
	session.profile = &profile
	session.mutex.Unlock()
	return profile, true
}

func (session *Session) setProfile(ctx context.Context, profile *Profile) {
	session.mutex.Lock()
	session.profile = profile
	session.mutex.Unlock()
	if session.store == nil {
		return
	}

	if profile == nil {
		if err := session.store.Delete(ctx, ProfileKey); err != nil {
			session.logger.Warn("clearing stored profile",
				zap.String("code", "society.session.profile_clear_failed"),
				zap.Error(err))
		}
		return
	}
	encoded, err := json.Marshal(profile)
	if err != nil {
		return
	}
	if err := session.store.Put(ctx, ProfileKey, string(encoded)); err != nil {
		session.logger.Warn("storing profile",
			zap.String("code", "society.session.profile_write_failed"),
			zap.Error(err))
	}
}
