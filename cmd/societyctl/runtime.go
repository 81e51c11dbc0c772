package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/spf13/cobra"
	"github.com/tyemirov/societyclient/internal/sessionstore"
	"github.com/tyemirov/societyclient/internal/society"
	"github.com/tyemirov/societyclient/pkg/apiclient"
	"go.uber.org/zap"
)

const userAgent = "societyctl"

// clientRuntime is everything a client command needs, opened from ClientConfig.
type clientRuntime struct {
	logger  *zap.Logger
	store   *sessionstore.DatabaseStore
	client  *apiclient.Client
	metrics *apiclient.CounterMetrics
	session *society.Session
	members *society.Members
	logs    *society.Logs
	users   *society.Users
}

func openRuntime(ctx context.Context, clientConfig ClientConfig, diagnostics io.Writer) (*clientRuntime, error) {
	logger, loggerErr := buildLogger(clientConfig.LogLevel)
	if loggerErr != nil {
		return nil, loggerErr
	}
	store, storeErr := sessionstore.Open(ctx, clientConfig.StoreURL, logger)
	if storeErr != nil {
		_ = logger.Sync()
		return nil, storeErr
	}
	jar, jarErr := store.CookieJar(ctx)
	if jarErr != nil {
		_ = store.Close()
		_ = logger.Sync()
		return nil, jarErr
	}
	metrics := apiclient.NewCounterMetrics()
	var diagnosticsMutex sync.Mutex
	client, clientErr := apiclient.New(apiclient.Config{
		BaseURL:     clientConfig.BaseURL,
		Timeout:     clientConfig.Timeout,
		RefreshPath: clientConfig.RefreshPath,
		Jar:         jar,
		Tokens:      store.TokenStore(sessionstore.AccessTokenKey),
		Notifier: apiclient.NotifierFunc(func(level apiclient.NotificationLevel, message string) {
			diagnosticsMutex.Lock()
			defer diagnosticsMutex.Unlock()
			fmt.Fprintf(diagnostics, "%s: %s\n", level, message)
		}),
		Metrics:   metrics,
		Logger:    logger,
		UserAgent: userAgent,
	})
	if clientErr != nil {
		_ = store.Close()
		_ = logger.Sync()
		return nil, clientErr
	}
	logger.Debug("client ready",
		zap.String("code", "societyctl.runtime.ready"),
		zap.String("base_url", client.BaseURL()),
		zap.String("store_driver", store.Driver()))
	return &clientRuntime{
		logger:  logger,
		store:   store,
		client:  client,
		metrics: metrics,
		session: society.NewSession(client, store, logger),
		members: society.NewMembers(client),
		logs:    society.NewLogs(client),
		users:   society.NewUsers(client),
	}, nil
}

// Close waits for pending notifications so they reach diagnostics before the process exits.
func (runtime *clientRuntime) Close() {
	runtime.client.Flush()
	runtime.logger.Debug("client metrics",
		zap.String("code", "societyctl.runtime.metrics"),
		zap.Any("counts", runtime.metrics.Snapshot()))
	runtime.session.Close()
	if err := runtime.store.Close(); err != nil {
		runtime.logger.Warn("closing session store",
			zap.String("code", "societyctl.runtime.store_close_failed"),
			zap.Error(err))
	}
	_ = runtime.logger.Sync()
}

// requireSession restores the stored session or fails with a sign-in hint.
func (runtime *clientRuntime) requireSession(ctx context.Context) (society.Profile, error) {
	profile, restored, err := runtime.session.Restore(ctx)
	if err != nil {
		return society.Profile{}, err
	}
	if !restored {
		return society.Profile{}, errNotSignedIn
	}
	return profile, nil
}

// withRuntime opens the runtime for the duration of one command.
func withRuntime(run func(command *cobra.Command, runtime *clientRuntime, arguments []string) error) func(*cobra.Command, []string) error {
	return func(command *cobra.Command, arguments []string) error {
		clientConfig, configErr := clientConfigFrom(command)
		if configErr != nil {
			return configErr
		}
		runtime, openErr := openRuntime(command.Context(), clientConfig, command.ErrOrStderr())
		if openErr != nil {
			return openErr
		}
		defer runtime.Close()
		return run(command, runtime, arguments)
	}
}

func writeJSON(out io.Writer, value any) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}
