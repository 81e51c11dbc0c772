package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tyemirov/societyclient/internal/stubserver"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var serveHTTP = func(server *http.Server) error {
	return server.ListenAndServe()
}

// StubConfig is the validated configuration of the stub backend.
type StubConfig struct {
	ListenAddr string
	LogLevel   zapcore.Level
	Server     stubserver.Config
}

func newStubCommand() *cobra.Command {
	stubCmd := &cobra.Command{
		Use:               "stub",
		Short:             "Serve the reference society backend for local development",
		Args:              cobra.NoArgs,
		PersistentPreRunE: prepareStubConfig,
		RunE:              runStub,
	}

	stubCmd.Flags().String("listen_addr", ":8080", "HTTP listen address")
	stubCmd.Flags().String("signing_key", "", "HS256 signing secret for access tokens")
	stubCmd.Flags().String("admin_username", "admin", "Seeded administrator username")
	stubCmd.Flags().String("admin_password", "", "Seeded administrator password")
	stubCmd.Flags().String("admin_email", "", "Seeded administrator email")
	stubCmd.Flags().Duration("access_ttl", stubserver.DefaultAccessTTL, "Access token TTL")
	stubCmd.Flags().Duration("refresh_ttl", stubserver.DefaultRefreshTTL, "Refresh cookie TTL")
	stubCmd.Flags().String("cookie_domain", "", "Cookie domain; empty for host-only")
	stubCmd.Flags().Bool("secure_cookies", false, "Mark refresh cookies Secure (requires HTTPS)")
	stubCmd.Flags().StringSlice("cors_allowed_origins", []string{}, "Origins allowed to call the API with credentials")

	_ = viper.BindPFlag("listen_addr", stubCmd.Flags().Lookup("listen_addr"))
	_ = viper.BindPFlag("signing_key", stubCmd.Flags().Lookup("signing_key"))
	_ = viper.BindPFlag("admin_username", stubCmd.Flags().Lookup("admin_username"))
	_ = viper.BindPFlag("admin_password", stubCmd.Flags().Lookup("admin_password"))
	_ = viper.BindPFlag("admin_email", stubCmd.Flags().Lookup("admin_email"))
	_ = viper.BindPFlag("access_ttl", stubCmd.Flags().Lookup("access_ttl"))
	_ = viper.BindPFlag("refresh_ttl", stubCmd.Flags().Lookup("refresh_ttl"))
	_ = viper.BindPFlag("cookie_domain", stubCmd.Flags().Lookup("cookie_domain"))
	_ = viper.BindPFlag("secure_cookies", stubCmd.Flags().Lookup("secure_cookies"))
	_ = viper.BindPFlag("cors_allowed_origins", stubCmd.Flags().Lookup("cors_allowed_origins"))

	return stubCmd
}

// LoadStubConfig reads and validates the stub backend configuration from viper.
func LoadStubConfig() (StubConfig, error) {
	signingKey := viper.GetString("signing_key")
	if signingKey == "" {
		return StubConfig{}, configError(configCodeMissingSigningKey, "signing_key must be provided")
	}

	accessTTL := viper.GetDuration("access_ttl")
	if accessTTL <= 0 {
		return StubConfig{}, configError(configCodeInvalidAccessTTL, "access_ttl must be greater than zero")
	}

	refreshTTL := viper.GetDuration("refresh_ttl")
	if refreshTTL <= 0 {
		return StubConfig{}, configError(configCodeInvalidRefreshTTL, "refresh_ttl must be greater than zero")
	}

	adminUsername := strings.TrimSpace(viper.GetString("admin_username"))
	adminPassword := viper.GetString("admin_password")
	if adminUsername == "" || adminPassword == "" {
		return StubConfig{}, configError(configCodeMissingAdminCredentials, "admin_username and admin_password must be provided")
	}

	logLevelName := strings.TrimSpace(viper.GetString("log_level"))
	if logLevelName == "" {
		logLevelName = defaultLogLevel
	}
	logLevel, levelErr := zapcore.ParseLevel(logLevelName)
	if levelErr != nil {
		return StubConfig{}, configError(configCodeInvalidLogLevel, "log_level must be one of debug, info, warn, error")
	}

	return StubConfig{
		ListenAddr: viper.GetString("listen_addr"),
		LogLevel:   logLevel,
		Server: stubserver.Config{
			SigningKey:     []byte(signingKey),
			CookieDomain:   viper.GetString("cookie_domain"),
			SecureCookies:  viper.GetBool("secure_cookies"),
			AccessTTL:      accessTTL,
			RefreshTTL:     refreshTTL,
			AllowedOrigins: viper.GetStringSlice("cors_allowed_origins"),
			SeedUsers: []stubserver.SeedUser{{
				Username: adminUsername,
				Password: adminPassword,
				Email:    strings.TrimSpace(viper.GetString("admin_email")),
				Role:     stubserver.RoleAdmin,
			}},
		},
	}, nil
}

func prepareStubConfig(command *cobra.Command, arguments []string) error {
	stubConfig, loadErr := LoadStubConfig()
	if loadErr != nil {
		return loadErr
	}
	existingContext := command.Context()
	if existingContext == nil {
		existingContext = context.Background()
	}
	command.SetContext(context.WithValue(existingContext, stubConfigContextKey, stubConfig))
	return nil
}

func runStub(command *cobra.Command, arguments []string) error {
	commandContext := command.Context()
	var contextValue any
	if commandContext != nil {
		contextValue = commandContext.Value(stubConfigContextKey)
	}
	stubConfig, ok := contextValue.(StubConfig)
	if !ok {
		return configError(configCodeUninitializedStubConf, "stub configuration not prepared; PersistentPreRunE must execute before RunE")
	}

	logger, loggerErr := buildLogger(stubConfig.LogLevel)
	if loggerErr != nil {
		return loggerErr
	}
	defer func() { _ = logger.Sync() }()

	gin.SetMode(gin.ReleaseMode)
	backend, backendErr := stubserver.New(stubConfig.Server, logger)
	if backendErr != nil {
		return backendErr
	}

	server := &http.Server{
		Addr:              stubConfig.ListenAddr,
		Handler:           backend.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())
	defer shutdownCancel()

	go func() {
		stopSignals := make(chan os.Signal, 1)
		signal.Notify(stopSignals, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(stopSignals)
		select {
		case <-stopSignals:
		case <-shutdownCtx.Done():
			return
		}
		graceCtx, graceCancel := context.WithTimeout(shutdownCtx, 10*time.Second)
		defer graceCancel()
		if err := server.Shutdown(graceCtx); err != nil {
			logger.Error("server shutdown error", zap.String("code", "societyctl.stub.shutdown_failed"), zap.Error(err))
		}
	}()

	logger.Info("listening",
		zap.String("code", "societyctl.stub.listening"),
		zap.String("addr", stubConfig.ListenAddr),
		zap.String("base_path", backend.BasePath()))
	if err := serveHTTP(server); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen error: %w", err)
	}
	return nil
}
