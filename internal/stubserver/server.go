// Package stubserver implements the society backend endpoints the client talks to: username and
// password login, rotating refresh cookies, bearer-protected members, users and audit logs.
package stubserver

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const maxPhotoBytes = 5 << 20

// Server holds the in-memory backend state.
type Server struct {
	configuration  Config
	logger         *zap.Logger
	users          *UserDirectory
	members        *MemberDirectory
	auditLog       *AuditLog
	refreshTokens  RefreshTokenStore
	corsMiddleware gin.HandlerFunc
}

// New validates configuration, seeds users and prepares the backend state.
func New(configuration Config, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	resolved, configErr := configuration.withDefaults()
	if configErr != nil {
		return nil, configErr
	}
	server := &Server{
		configuration: resolved,
		logger:        logger,
		users:         NewUserDirectory(resolved.Clock, resolved.PasswordCost),
		members:       NewMemberDirectory(resolved.Clock),
		auditLog:      NewAuditLog(resolved.Clock),
		refreshTokens: NewMemoryRefreshTokenStore(resolved.Clock),
	}
	for _, seed := range resolved.SeedUsers {
		if _, err := server.users.Create(seed.Username, seed.Password, seed.Email, seed.Role); err != nil {
			return nil, fmt.Errorf("stubserver.seed.%s: %w", seed.Username, err)
		}
	}
	if len(resolved.AllowedOrigins) > 0 {
		corsMiddleware, sameSite, corsErr := ConfigureCORS(logger, resolved.AllowedOrigins, resolved.SecureCookies, resolved.SameSiteMode)
		if corsErr != nil {
			return nil, corsErr
		}
		server.corsMiddleware = corsMiddleware
		server.configuration.SameSiteMode = sameSite
	}
	return server, nil
}

// Users exposes the account directory.
func (server *Server) Users() *UserDirectory {
	return server.users
}

// Members exposes the member directory.
func (server *Server) Members() *MemberDirectory {
	return server.members
}

// AuditLog exposes the audit log.
func (server *Server) AuditLog() *AuditLog {
	return server.auditLog
}

// BasePath is the prefix all routes are mounted under.
func (server *Server) BasePath() string {
	return server.configuration.BasePath
}

// Handler builds the gin router.
func (server *Server) Handler() http.Handler {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(zapLoggerMiddleware(server.logger))
	if server.corsMiddleware != nil {
		router.Use(server.corsMiddleware)
	}
	router.NoRoute(func(contextGin *gin.Context) {
		writeBackendError(contextGin, server.configuration.Clock, http.StatusNotFound, "No handler found for "+contextGin.Request.URL.Path)
	})

	api := router.Group(server.configuration.BasePath)
	server.mountAuthRoutes(api)

	protected := api.Group("")
	protected.Use(requireAccessToken(server.configuration, server.logger))
	protected.GET("/users/me", server.handleCurrentUser)

	memberRoles := requireRoles(server.configuration.Clock, RoleAdmin, RolePresident, RoleEditor)
	protected.GET("/member", memberRoles, server.handleListMembers)
	protected.GET("/member/export", memberRoles, server.handleExportMembers)
	protected.GET("/member/:id", memberRoles, server.handleGetMember)
	protected.POST("/member", memberRoles, server.handleCreateMember)
	protected.PUT("/member/:id", memberRoles, server.handleUpdateMember)
	protected.DELETE("/member/:id", memberRoles, server.handleDeleteMember)
	protected.POST("/member/:id/photo", memberRoles, server.handleUploadPhoto)

	managerRoles := requireRoles(server.configuration.Clock, RoleAdmin, RolePresident)
	protected.GET("/logs", managerRoles, server.handleListLogs)
	protected.GET("/users", managerRoles, server.handleListUsers)
	protected.PATCH("/users/:id", managerRoles, server.handleUpdateUserRole)

	return router
}

func (server *Server) fail(contextGin *gin.Context, status int, message string) {
	writeBackendError(contextGin, server.configuration.Clock, status, message)
}

func (server *Server) audit(contextGin *gin.Context, level string, actor string, action string, metadata string) {
	server.auditLog.Record(LogEntry{
		Level:     level,
		Actor:     actor,
		Action:    action,
		Metadata:  metadata,
		IPAddress: contextGin.ClientIP(),
		UserAgent: contextGin.Request.UserAgent(),
	})
}

func (server *Server) handleCurrentUser(contextGin *gin.Context) {
	claims := claimsFrom(contextGin)
	if claims == nil {
		server.fail(contextGin, http.StatusUnauthorized, "Full authentication is required to access this resource")
		return
	}
	user, err := server.users.Get(claims.UserID)
	if err != nil {
		server.logger.Warn("user profile missing",
			zap.String("code", "stub.users.profile_missing"),
			zap.Int64("user_id", claims.UserID))
		server.fail(contextGin, http.StatusUnauthorized, "User no longer exists")
		return
	}
	contextGin.JSON(http.StatusOK, user)
}

func (server *Server) handleListMembers(contextGin *gin.Context) {
	page, pageErr := queryInt(contextGin, "page", 0)
	size, sizeErr := queryInt(contextGin, "size", defaultPageSize)
	if pageErr != nil || sizeErr != nil {
		server.fail(contextGin, http.StatusBadRequest, "page and size must be integers")
		return
	}
	contextGin.JSON(http.StatusOK, server.members.List(MemberQuery{
		Page:   page,
		Size:   size,
		Search: contextGin.Query("search"),
		Sort:   contextGin.Query("sort"),
	}))
}

func (server *Server) handleExportMembers(contextGin *gin.Context) {
	members := server.members.All()
	document := renderMemberPDF("Society members", members)
	filename := "members-" + server.configuration.Clock.Now().Format("2006-01-02") + ".pdf"
	contextGin.Header(exportFilenameHeader, mime.FormatMediaType("attachment", map[string]string{"filename": filename}))
	contextGin.Data(http.StatusOK, "application/pdf", document)
}

func (server *Server) handleGetMember(contextGin *gin.Context) {
	memberID, ok := server.pathID(contextGin)
	if !ok {
		return
	}
	member, err := server.members.Get(memberID)
	if err != nil {
		server.fail(contextGin, http.StatusNotFound, "Member not found with id "+strconv.FormatInt(memberID, 10))
		return
	}
	contextGin.JSON(http.StatusOK, member)
}

func (server *Server) handleCreateMember(contextGin *gin.Context) {
	var inbound Member
	if err := contextGin.ShouldBindJSON(&inbound); err != nil {
		server.fail(contextGin, http.StatusBadRequest, "Malformed JSON request")
		return
	}
	member, err := server.members.Create(inbound)
	if err != nil {
		server.fail(contextGin, http.StatusBadRequest, memberInputMessage(err))
		return
	}
	server.audit(contextGin, LogLevelInfo, claimsFrom(contextGin).Username, "AddMember", "Member "+member.Name+" created")
	contextGin.JSON(http.StatusCreated, member)
}

func (server *Server) handleUpdateMember(contextGin *gin.Context) {
	memberID, ok := server.pathID(contextGin)
	if !ok {
		return
	}
	var inbound Member
	if err := contextGin.ShouldBindJSON(&inbound); err != nil {
		server.fail(contextGin, http.StatusBadRequest, "Malformed JSON request")
		return
	}
	member, err := server.members.Update(memberID, inbound)
	if err != nil {
		if errors.Is(err, ErrMemberNotFound) {
			server.fail(contextGin, http.StatusNotFound, "Member not found with id "+strconv.FormatInt(memberID, 10))
			return
		}
		server.fail(contextGin, http.StatusBadRequest, memberInputMessage(err))
		return
	}
	server.audit(contextGin, LogLevelInfo, claimsFrom(contextGin).Username, "UpdateMember", "Member "+member.Name+" updated")
	contextGin.JSON(http.StatusOK, member)
}

func (server *Server) handleDeleteMember(contextGin *gin.Context) {
	memberID, ok := server.pathID(contextGin)
	if !ok {
		return
	}
	if err := server.members.Delete(memberID); err != nil {
		server.fail(contextGin, http.StatusNotFound, "Member not found with id "+strconv.FormatInt(memberID, 10))
		return
	}
	server.audit(contextGin, LogLevelWarn, claimsFrom(contextGin).Username, "DeleteMember", "Member "+strconv.FormatInt(memberID, 10)+" deleted")
	contextGin.Status(http.StatusNoContent)
}

func (server *Server) handleUploadPhoto(contextGin *gin.Context) {
	memberID, ok := server.pathID(contextGin)
	if !ok {
		return
	}
	fileHeader, err := contextGin.FormFile("file")
	if err != nil {
		server.fail(contextGin, http.StatusBadRequest, "Required part 'file' is not present")
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		server.fail(contextGin, http.StatusBadRequest, "Unreadable upload")
		return
	}
	defer file.Close()
	content, err := io.ReadAll(io.LimitReader(file, maxPhotoBytes+1))
	if err != nil {
		server.fail(contextGin, http.StatusBadRequest, "Unreadable upload")
		return
	}
	if len(content) > maxPhotoBytes {
		server.fail(contextGin, http.StatusRequestEntityTooLarge, "Photo exceeds the upload limit")
		return
	}
	member, err := server.members.SetPhoto(memberID, content)
	if err != nil {
		server.fail(contextGin, http.StatusNotFound, "Member not found with id "+strconv.FormatInt(memberID, 10))
		return
	}
	server.audit(contextGin, LogLevelInfo, claimsFrom(contextGin).Username, "UploadPhoto", "Photo "+fileHeader.Filename+" stored for member "+member.Name)
	contextGin.JSON(http.StatusOK, member)
}

func (server *Server) handleListLogs(contextGin *gin.Context) {
	page, pageErr := queryInt(contextGin, "page", 0)
	size, sizeErr := queryInt(contextGin, "size", defaultPageSize)
	if pageErr != nil || sizeErr != nil {
		server.fail(contextGin, http.StatusBadRequest, "page and size must be integers")
		return
	}
	contextGin.JSON(http.StatusOK, server.auditLog.Page(page, size))
}

func (server *Server) handleListUsers(contextGin *gin.Context) {
	page, pageErr := queryInt(contextGin, "page", 0)
	size, sizeErr := queryInt(contextGin, "size", defaultPageSize)
	if pageErr != nil || sizeErr != nil {
		server.fail(contextGin, http.StatusBadRequest, "page and size must be integers")
		return
	}
	contextGin.JSON(http.StatusOK, paginate(server.users.List(), page, size))
}

func (server *Server) handleUpdateUserRole(contextGin *gin.Context) {
	userID, ok := server.pathID(contextGin)
	if !ok {
		return
	}
	var inbound struct {
		Role   string `json:"role"`
		Active *bool  `json:"active"`
	}
	if err := contextGin.ShouldBindJSON(&inbound); err != nil || strings.TrimSpace(inbound.Role) == "" {
		server.fail(contextGin, http.StatusBadRequest, "role is required")
		return
	}
	active := true
	if inbound.Active != nil {
		active = *inbound.Active
	}
	user, err := server.users.UpdateRole(userID, inbound.Role, active)
	if err != nil {
		switch {
		case errors.Is(err, ErrUserNotFound):
			server.fail(contextGin, http.StatusNotFound, "User not found with id "+strconv.FormatInt(userID, 10))
		case errors.Is(err, ErrInvalidRole):
			server.fail(contextGin, http.StatusBadRequest, "Unknown role "+inbound.Role)
		default:
			server.fail(contextGin, http.StatusInternalServerError, "Role update failed")
		}
		return
	}
	server.audit(contextGin, LogLevelInfo, claimsFrom(contextGin).Username, "UpdateRole", user.Username+" is now "+user.Role)
	contextGin.JSON(http.StatusOK, user)
}

func (server *Server) pathID(contextGin *gin.Context) (int64, bool) {
	identifier, err := strconv.ParseInt(contextGin.Param("id"), 10, 64)
	if err != nil || identifier <= 0 {
		server.fail(contextGin, http.StatusBadRequest, "Invalid id "+contextGin.Param("id"))
		return 0, false
	}
	return identifier, true
}

func queryInt(contextGin *gin.Context, name string, fallback int) (int, error) {
	raw := strings.TrimSpace(contextGin.Query(name))
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}

func memberInputMessage(err error) string {
	if errors.Is(err, ErrSpouseRequired) {
		return "Spouse name is required for married members"
	}
	return "Name is required"
}
