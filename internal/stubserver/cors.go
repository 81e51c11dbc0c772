package stubserver

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/tyemirov/societyclient/pkg/apiclient"
	"go.uber.org/zap"
)

var (
	errWildcardOrigin      = errors.New("stubserver.cors: wildcard origin cannot receive the refresh cookie")
	errEmptyAllowedOrigins = errors.New("stubserver.cors: no explicit origins provided")
	errInvalidOrigin       = errors.New("stubserver.cors: invalid origin")
	errCrossSiteOrigin     = errors.New("stubserver.cors: cross-site origin requires secure cookies")
)

// browserPolicy decides which browser origins may hold a refresh session and which
// SameSite mode the refresh cookie needs to reach them.
type browserPolicy struct {
	secureCookies bool
	logger        *zap.Logger
}

// sameSite returns SameSite=None for Secure cookies. Without Secure only development hosts
// on the API's own site are allowed, so the configured mode still reaches them.
func (policy browserPolicy) sameSite(configured http.SameSite) http.SameSite {
	if policy.secureCookies {
		return http.SameSiteNoneMode
	}
	return configured
}

// ConfigureCORS lets browser clients at allowedOrigins call the API with the refresh cookie.
// It returns the SameSite mode the refresh cookie must use for those origins.
func ConfigureCORS(logger *zap.Logger, allowedOrigins []string, secureCookies bool, configured http.SameSite) (gin.HandlerFunc, http.SameSite, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	policy := browserPolicy{secureCookies: secureCookies, logger: logger}
	origins, err := policy.sanitizeOrigins(allowedOrigins)
	if err != nil {
		return nil, 0, err
	}
	middleware := cors.New(cors.Config{
		AllowOrigins: origins,
		AllowMethods: []string{
			http.MethodGet, http.MethodPost, http.MethodPut,
			http.MethodPatch, http.MethodDelete, http.MethodOptions,
		},
		AllowHeaders: []string{"Authorization", "Content-Type", "Accept", apiclient.RequestIDHeader},
		// Content-Disposition carries the export filename; the request id correlates failures.
		ExposeHeaders:    []string{"Content-Type", exportFilenameHeader, apiclient.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
	logger.Info("browser origins enabled",
		zap.String("code", "stubserver.cors.enabled"),
		zap.Strings("origins", origins),
		zap.Bool("secure_cookies", secureCookies))
	return middleware, policy.sameSite(configured), nil
}

const exportFilenameHeader = "Content-Disposition"

// sanitizeOrigins normalizes origins to scheme://host[:port], keeping the first occurrence
// of each in input order.
func (policy browserPolicy) sanitizeOrigins(allowed []string) ([]string, error) {
	seen := make(map[string]struct{}, len(allowed))
	origins := make([]string, 0, len(allowed))
	for _, raw := range allowed {
		origin, err := policy.sanitizeOrigin(strings.TrimSpace(raw))
		if err != nil {
			return nil, err
		}
		if origin == "" {
			continue
		}
		if _, duplicate := seen[origin]; duplicate {
			continue
		}
		seen[origin] = struct{}{}
		origins = append(origins, origin)
	}
	if len(origins) == 0 {
		return nil, errEmptyAllowedOrigins
	}
	return origins, nil
}

func (policy browserPolicy) sanitizeOrigin(trimmed string) (string, error) {
	if trimmed == "" {
		return "", nil
	}
	if trimmed == "*" {
		return "", errWildcardOrigin
	}
	parsed, parseErr := url.Parse(trimmed)
	if parseErr != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("%w: %s", errInvalidOrigin, trimmed)
	}
	if parsed.Path != "" && parsed.Path != "/" {
		return "", fmt.Errorf("%w: %s contains a path", errInvalidOrigin, trimmed)
	}
	if parsed.RawQuery != "" || parsed.Fragment != "" || parsed.ForceQuery {
		return "", fmt.Errorf("%w: %s contains a query or fragment", errInvalidOrigin, trimmed)
	}
	if parsed.User != nil {
		return "", fmt.Errorf("%w: %s contains credentials", errInvalidOrigin, trimmed)
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "https" && scheme != "http" {
		return "", fmt.Errorf("%w: %s uses unsupported scheme", errInvalidOrigin, trimmed)
	}
	host := strings.ToLower(parsed.Host)
	origin := scheme + "://" + host

	development := isDevelopmentHost(parsed.Hostname())
	if !policy.secureCookies && !development {
		return "", fmt.Errorf("%w: %s", errCrossSiteOrigin, origin)
	}
	if scheme == "http" && !development {
		policy.logger.Warn("refresh cookie exposed to plaintext origin",
			zap.String("code", "stubserver.cors.plaintext_origin"),
			zap.String("origin", origin))
	}
	return origin, nil
}

func isDevelopmentHost(host string) bool {
	switch strings.ToLower(host) {
	case "localhost", "127.0.0.1", "::1":
		return true
	default:
		return false
	}
}
