package stubserver

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// mountAuthRoutes registers /auth/login, /auth/register, /auth/refresh and /auth/logout.
func (server *Server) mountAuthRoutes(router gin.IRouter) {
	configuration := server.configuration

	router.POST("/auth/login", func(contextGin *gin.Context) {
		var inbound struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		if err := contextGin.ShouldBindJSON(&inbound); err != nil || strings.TrimSpace(inbound.Username) == "" {
			server.fail(contextGin, http.StatusBadRequest, "Malformed JSON request")
			return
		}
		user, authErr := server.users.Authenticate(inbound.Username, inbound.Password)
		if authErr != nil {
			server.audit(contextGin, LogLevelWarn, inbound.Username, "LoginFailed", "Bad credentials")
			server.fail(contextGin, http.StatusUnauthorized, "Bad credentials")
			return
		}
		server.audit(contextGin, LogLevelInfo, user.Username, "Login", user.Username+" logged in")
		server.issueSession(contextGin, user, "", http.StatusOK)
	})

	router.POST("/auth/register", func(contextGin *gin.Context) {
		var inbound struct {
			Username string `json:"username"`
			Password string `json:"password"`
			Email    string `json:"email"`
		}
		if err := contextGin.ShouldBindJSON(&inbound); err != nil {
			server.fail(contextGin, http.StatusBadRequest, "Malformed JSON request")
			return
		}
		user, createErr := server.users.Create(inbound.Username, inbound.Password, inbound.Email, RoleMember)
		if createErr != nil {
			if errors.Is(createErr, ErrUsernameTaken) {
				server.fail(contextGin, http.StatusConflict, "Username is already taken")
				return
			}
			server.fail(contextGin, http.StatusBadRequest, "Username and password are required")
			return
		}
		server.audit(contextGin, LogLevelInfo, user.Username, "Register", user.Username+" registered")
		server.issueSession(contextGin, user, "", http.StatusCreated)
	})

	router.POST("/auth/refresh", func(contextGin *gin.Context) {
		refreshCookie, cookieErr := contextGin.Request.Cookie(configuration.RefreshCookieName)
		if cookieErr != nil || refreshCookie == nil || strings.TrimSpace(refreshCookie.Value) == "" {
			server.fail(contextGin, http.StatusUnauthorized, "Refresh token is missing")
			return
		}
		userID, currentTokenID, validateErr := server.refreshTokens.Validate(contextGin, refreshCookie.Value)
		if validateErr != nil {
			server.logger.Debug("refresh rejected",
				zap.String("code", "stub.auth.refresh_rejected"),
				zap.Error(validateErr))
			server.fail(contextGin, http.StatusUnauthorized, "Refresh token is invalid or expired")
			return
		}
		user, userErr := server.users.Get(userID)
		if userErr != nil || !user.Active {
			server.fail(contextGin, http.StatusUnauthorized, "Account is not active")
			return
		}
		if revokeErr := server.refreshTokens.Revoke(contextGin, currentTokenID); revokeErr != nil {
			server.logger.Error("refresh token revoke failed",
				zap.String("code", "stub.auth.revoke_failed"),
				zap.Error(revokeErr))
			server.fail(contextGin, http.StatusInternalServerError, "Refresh failed")
			return
		}
		server.issueSession(contextGin, user, currentTokenID, http.StatusOK)
	})

	router.POST("/auth/logout", func(contextGin *gin.Context) {
		refreshCookie, cookieErr := contextGin.Request.Cookie(configuration.RefreshCookieName)
		if cookieErr == nil && refreshCookie != nil && strings.TrimSpace(refreshCookie.Value) != "" {
			userID, tokenID, validateErr := server.refreshTokens.Validate(contextGin, refreshCookie.Value)
			if validateErr == nil && tokenID != "" {
				_ = server.refreshTokens.Revoke(contextGin, tokenID)
				if user, userErr := server.users.Get(userID); userErr == nil {
					server.audit(contextGin, LogLevelInfo, user.Username, "Logout", user.Username+" logged out")
				}
			}
		}
		server.clearRefreshCookie(contextGin)
		contextGin.Status(http.StatusNoContent)
	})
}

// issueSession mints an access token, rotates the refresh cookie and writes {accessToken, user}.
func (server *Server) issueSession(contextGin *gin.Context, user User, previousTokenID string, status int) {
	configuration := server.configuration
	accessToken, _, mintErr := mintAccessToken(configuration, user)
	if mintErr != nil {
		server.logger.Error("access token mint failed",
			zap.String("code", "stub.auth.mint_failed"),
			zap.Error(mintErr))
		server.fail(contextGin, http.StatusInternalServerError, "Token issue failed")
		return
	}
	refreshExpiresAt := configuration.Clock.Now().Add(configuration.RefreshTTL)
	_, refreshOpaque, issueErr := server.refreshTokens.Issue(contextGin, user.ID, refreshExpiresAt, previousTokenID)
	if issueErr != nil || strings.TrimSpace(refreshOpaque) == "" {
		server.logger.Error("refresh token issue failed",
			zap.String("code", "stub.auth.refresh_issue_failed"),
			zap.Error(issueErr))
		server.fail(contextGin, http.StatusInternalServerError, "Token issue failed")
		return
	}

	http.SetCookie(contextGin.Writer, &http.Cookie{
		Name:     configuration.RefreshCookieName,
		Value:    refreshOpaque,
		Path:     "/",
		Domain:   configuration.CookieDomain,
		Expires:  refreshExpiresAt,
		Secure:   configuration.SecureCookies,
		HttpOnly: true,
		SameSite: configuration.SameSiteMode,
	})
	contextGin.JSON(status, gin.H{
		"accessToken": accessToken,
		"tokenType":   "Bearer",
		"user":        user.profile(),
	})
}

func (server *Server) clearRefreshCookie(contextGin *gin.Context) {
	http.SetCookie(contextGin.Writer, &http.Cookie{
		Name:     server.configuration.RefreshCookieName,
		Value:    "",
		Path:     "/",
		Domain:   server.configuration.CookieDomain,
		MaxAge:   -1,
		Secure:   server.configuration.SecureCookies,
		HttpOnly: true,
		SameSite: server.configuration.SameSiteMode,
	})
}
