package stubserver

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

const (
	// DefaultBasePath mirrors the society backend's API prefix.
	DefaultBasePath          = "/api/v1"
	DefaultRefreshCookieName = "refresh_token"
	DefaultIssuer            = "society-stub"
	DefaultAccessTTL         = 15 * time.Minute
	DefaultRefreshTTL        = 7 * 24 * time.Hour
)

// Roles understood by the backend.
const (
	RoleAdmin     = "ADMIN"
	RolePresident = "PRESIDENT"
	RoleSecretary = "SECRETARY"
	RoleEditor    = "EDITOR"
	RoleMember    = "MEMBER"
)

var (
	ErrMissingSigningKey = errors.New("stubserver.missing_signing_key")
	ErrInvalidTTL        = errors.New("stubserver.invalid_ttl")
)

// Clock provides the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

// SeedUser is created when the server starts.
type SeedUser struct {
	Username string
	Password string
	Email    string
	Role     string
}

// Config configures signing, cookies and seed data.
type Config struct {
	BasePath          string
	SigningKey        []byte
	Issuer            string
	RefreshCookieName string
	CookieDomain      string
	SecureCookies     bool
	SameSiteMode      http.SameSite
	AccessTTL         time.Duration
	RefreshTTL        time.Duration
	AllowedOrigins    []string
	PasswordCost      int
	SeedUsers         []SeedUser
	Clock             Clock
}

func (configuration Config) withDefaults() (Config, error) {
	if len(configuration.SigningKey) == 0 {
		return Config{}, fmt.Errorf("stubserver.config: %w", ErrMissingSigningKey)
	}
	if configuration.AccessTTL < 0 || configuration.RefreshTTL < 0 {
		return Config{}, fmt.Errorf("stubserver.config: %w", ErrInvalidTTL)
	}
	if strings.TrimSpace(configuration.BasePath) == "" {
		configuration.BasePath = DefaultBasePath
	}
	configuration.BasePath = "/" + strings.Trim(configuration.BasePath, "/")
	if configuration.Issuer == "" {
		configuration.Issuer = DefaultIssuer
	}
	if configuration.RefreshCookieName == "" {
		configuration.RefreshCookieName = DefaultRefreshCookieName
	}
	if configuration.AccessTTL == 0 {
		configuration.AccessTTL = DefaultAccessTTL
	}
	if configuration.RefreshTTL == 0 {
		configuration.RefreshTTL = DefaultRefreshTTL
	}
	if configuration.SameSiteMode == 0 {
		configuration.SameSiteMode = http.SameSiteStrictMode
	}
	if configuration.PasswordCost == 0 {
		configuration.PasswordCost = bcrypt.DefaultCost
	}
	if configuration.Clock == nil {
		configuration.Clock = systemClock{}
	}
	return configuration, nil
}
