package stubserver

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrMissingToken = errors.New("stubserver.token.missing")
	ErrInvalidToken = errors.New("stubserver.token.invalid")
	ErrTokenExpired = errors.New("stubserver.token.expired")
)

// AccessClaims are embedded in the access token.
type AccessClaims struct {
	UserID   int64    `json:"user_id"`
	Username string   `json:"username"`
	Email    string   `json:"email"`
	Roles    []string `json:"roles"`
	jwt.RegisteredClaims
}

// HasAnyRole reports whether the claims carry one of roles.
func (claims *AccessClaims) HasAnyRole(roles ...string) bool {
	if claims == nil {
		return false
	}
	for _, held := range claims.Roles {
		for _, wanted := range roles {
			if strings.EqualFold(held, wanted) {
				return true
			}
		}
	}
	return false
}

// mintAccessToken creates a signed HS256 access token for user.
func mintAccessToken(configuration Config, user User) (string, time.Time, error) {
	issuedAt := configuration.Clock.Now()
	expiresAt := issuedAt.Add(configuration.AccessTTL)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, AccessClaims{
		UserID:   user.ID,
		Username: user.Username,
		Email:    user.Email,
		Roles:    []string{user.Role},
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    configuration.Issuer,
			Subject:   strconv.FormatInt(user.ID, 10),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt.Add(-30 * time.Second)),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
	signed, err := token.SignedString(configuration.SigningKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("stubserver.token.sign: %w", err)
	}
	return signed, expiresAt, nil
}

// validateAccessToken verifies signature, issuer and lifetime against the configured clock.
func validateAccessToken(configuration Config, tokenString string) (*AccessClaims, error) {
	if strings.TrimSpace(tokenString) == "" {
		return nil, fmt.Errorf("stubserver.token.validate: %w", ErrMissingToken)
	}
	parsedToken, parseErr := jwt.ParseWithClaims(tokenString, &AccessClaims{}, func(parsed *jwt.Token) (interface{}, error) {
		return configuration.SigningKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(configuration.Issuer),
		jwt.WithTimeFunc(configuration.Clock.Now))
	if parseErr != nil {
		if errors.Is(parseErr, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("stubserver.token.validate: %w", ErrTokenExpired)
		}
		return nil, fmt.Errorf("stubserver.token.validate: %w", ErrInvalidToken)
	}
	claims, ok := parsedToken.Claims.(*AccessClaims)
	if !ok || !parsedToken.Valid {
		return nil, fmt.Errorf("stubserver.token.validate: %w", ErrInvalidToken)
	}
	return claims, nil
}
