package stubserver

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const claimsContextKey = "auth_claims"

// writeBackendError writes the backend's error body, e.g. {"status":"401 UNAUTHORIZED", ...}.
func writeBackendError(contextGin *gin.Context, clock Clock, status int, message string) {
	statusLabel := strings.ToUpper(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	contextGin.AbortWithStatusJSON(status, gin.H{
		"timestamp": clock.Now().Format(time.RFC3339),
		"status":    strconv.Itoa(status) + " " + statusLabel,
		"message":   message,
		"details":   "uri=" + contextGin.Request.URL.Path,
	})
}

// requireAccessToken validates the bearer access token and injects claims.
func requireAccessToken(configuration Config, logger *zap.Logger) gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		authorization := contextGin.GetHeader("Authorization")
		scheme, token, found := strings.Cut(authorization, " ")
		if !found || !strings.EqualFold(scheme, "Bearer") {
			writeBackendError(contextGin, configuration.Clock, http.StatusUnauthorized, "Full authentication is required to access this resource")
			return
		}
		claims, err := validateAccessToken(configuration, strings.TrimSpace(token))
		if err != nil {
			message := "Invalid access token"
			if errors.Is(err, ErrTokenExpired) {
				message = "Access token expired"
			}
			logger.Debug("rejected access token",
				zap.String("code", "stub.auth.token_rejected"),
				zap.String("path", contextGin.Request.URL.Path),
				zap.Error(err))
			writeBackendError(contextGin, configuration.Clock, http.StatusUnauthorized, message)
			return
		}
		contextGin.Set(claimsContextKey, claims)
		contextGin.Next()
	}
}

// requireRoles rejects callers whose claims carry none of roles.
func requireRoles(clock Clock, roles ...string) gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		claims := claimsFrom(contextGin)
		if !claims.HasAnyRole(roles...) {
			writeBackendError(contextGin, clock, http.StatusForbidden, "Access is denied")
			return
		}
		contextGin.Next()
	}
}

func claimsFrom(contextGin *gin.Context) *AccessClaims {
	value, found := contextGin.Get(claimsContextKey)
	if !found {
		return nil
	}
	claims, _ := value.(*AccessClaims)
	return claims
}

func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		startTime := time.Now()
		contextGin.Next()
		duration := time.Since(startTime)
		logger.Info("http",
			zap.String("method", contextGin.Request.Method),
			zap.String("path", contextGin.Request.URL.Path),
			zap.Int("status", contextGin.Writer.Status()),
			zap.String("request_id", contextGin.GetHeader("X-Request-ID")),
			zap.String("ip", contextGin.ClientIP()),
			zap.Duration("elapsed", duration),
		)
	}
}
