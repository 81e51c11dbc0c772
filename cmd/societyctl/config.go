package main

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tyemirov/societyclient/pkg/apiclient"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	defaultStoreURL = "sqlite://societyctl.db"
	defaultLogLevel = "info"

	configCodeMissingBaseURL          = "config.missing_base_url"
	configCodeInvalidBaseURL          = "config.invalid_base_url"
	configCodeInvalidTimeout          = "config.invalid_timeout"
	configCodeMissingStoreURL         = "config.missing_store_url"
	configCodeInvalidLogLevel         = "config.invalid_log_level"
	configCodeUninitializedClientConf = "config.uninitialized_client_config"
	configCodeMissingSigningKey       = "config.missing_signing_key"
	configCodeInvalidAccessTTL        = "config.invalid_access_ttl"
	configCodeInvalidRefreshTTL       = "config.invalid_refresh_ttl"
	configCodeMissingAdminCredentials = "config.missing_admin_credentials"
	configCodeUninitializedStubConf   = "config.uninitialized_stub_config"
)

type contextKey string

const (
	clientConfigContextKey contextKey = "clientConfig"
	stubConfigContextKey   contextKey = "stubConfig"
)

// ClientConfig is the validated configuration of the client commands.
type ClientConfig struct {
	BaseURL     string
	Timeout     time.Duration
	StoreURL    string
	RefreshPath string
	LogLevel    zapcore.Level
}

func configError(code, message string) error {
	return fmt.Errorf("%s: %s", code, message)
}

// LoadClientConfig reads and validates the client configuration from viper.
func LoadClientConfig() (ClientConfig, error) {
	baseURL := strings.TrimSpace(viper.GetString("base_url"))
	if baseURL == "" {
		return ClientConfig{}, configError(configCodeMissingBaseURL, "base_url must be provided")
	}
	parsedBaseURL, parseErr := url.Parse(baseURL)
	if parseErr != nil || parsedBaseURL.Scheme == "" || parsedBaseURL.Host == "" {
		return ClientConfig{}, configError(configCodeInvalidBaseURL, "base_url must be an absolute http(s) URL")
	}

	timeout := viper.GetDuration("timeout")
	if timeout <= 0 {
		return ClientConfig{}, configError(configCodeInvalidTimeout, "timeout must be greater than zero")
	}

	storeURL := strings.TrimSpace(viper.GetString("store_url"))
	if storeURL == "" {
		return ClientConfig{}, configError(configCodeMissingStoreURL, "store_url must be provided")
	}

	refreshPath := strings.TrimSpace(viper.GetString("refresh_path"))
	if refreshPath == "" {
		refreshPath = apiclient.DefaultRefreshPath
	}

	logLevelName := strings.TrimSpace(viper.GetString("log_level"))
	if logLevelName == "" {
		logLevelName = defaultLogLevel
	}
	logLevel, levelErr := zapcore.ParseLevel(logLevelName)
	if levelErr != nil {
		return ClientConfig{}, configError(configCodeInvalidLogLevel, "log_level must be one of debug, info, warn, error")
	}

	return ClientConfig{
		BaseURL:     baseURL,
		Timeout:     timeout,
		StoreURL:    storeURL,
		RefreshPath: refreshPath,
		LogLevel:    logLevel,
	}, nil
}

func prepareClientConfig(command *cobra.Command, arguments []string) error {
	clientConfig, loadErr := LoadClientConfig()
	if loadErr != nil {
		return loadErr
	}
	existingContext := command.Context()
	if existingContext == nil {
		existingContext = context.Background()
	}
	command.SetContext(context.WithValue(existingContext, clientConfigContextKey, clientConfig))
	return nil
}

func clientConfigFrom(command *cobra.Command) (ClientConfig, error) {
	var contextValue any
	if commandContext := command.Context(); commandContext != nil {
		contextValue = commandContext.Value(clientConfigContextKey)
	}
	clientConfig, ok := contextValue.(ClientConfig)
	if !ok {
		return ClientConfig{}, configError(configCodeUninitializedClientConf, "client configuration not prepared; PersistentPreRunE must execute before RunE")
	}
	return clientConfig, nil
}

// buildLogger writes JSON logs to stderr so stdout stays machine readable.
var buildLogger = func(level zapcore.Level) (*zap.Logger, error) {
	loggerConfig := zap.NewProductionConfig()
	loggerConfig.Level = zap.NewAtomicLevelAt(level)
	loggerConfig.OutputPaths = []string{"stderr"}
	return loggerConfig.Build()
}
