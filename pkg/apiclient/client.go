// Package apiclient issues authenticated requests against the society API.
//
// Every request carries the stored access token as a bearer credential. A 401 from a
// non-authentication endpoint triggers a single-flight refresh against the refresh endpoint,
// which authenticates through the cookie jar instead of the bearer header, and the request is
// replayed once with the new token. Every failure surfaces as *APIError or *CancelledError.
package apiclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultTimeout      = 30 * time.Second
	DefaultLoginPath    = "/auth/login"
	DefaultRegisterPath = "/auth/register"
	DefaultRefreshPath  = "/auth/refresh"
	DefaultLogoutPath   = "/auth/logout"

	// RequestIDHeader carries the per-request correlation id used for tracing only.
	RequestIDHeader = "X-Request-ID"
)

// Config configures a Client.
type Config struct {
	BaseURL     string
	Timeout     time.Duration
	RefreshPath string
	LogoutPath  string
	// AuthPaths never trigger refresh-and-retry. Defaults to login, register, refresh and logout.
	AuthPaths  []string
	HTTPClient *http.Client
	// Jar holds the ambient credentials (refresh cookie) used by authentication endpoints.
	Jar       http.CookieJar
	Tokens    TokenStore
	Notifier  Notifier
	Metrics   MetricsRecorder
	Logger    *zap.Logger
	UserAgent string
}

// Client is safe for concurrent use; construct it once and share it.
type Client struct {
	baseURL      *url.URL
	timeout      time.Duration
	refreshPath  string
	logoutPath   string
	authPaths    []string
	api          *http.Client
	credentialed *http.Client
	tokens       TokenStore
	notifier     Notifier
	metrics      MetricsRecorder
	logger       *zap.Logger
	userAgent    string

	refresh       refreshState
	notifications sync.WaitGroup

	handlerMutex sync.RWMutex
	unauthorized func()
}

// New validates the configuration and constructs a Client.
func New(configuration Config) (*Client, error) {
	rawBaseURL := strings.TrimSuffix(strings.TrimSpace(configuration.BaseURL), "/")
	if rawBaseURL == "" {
		return nil, fmt.Errorf("apiclient.new: %w", ErrMissingBaseURL)
	}
	baseURL, parseErr := url.Parse(rawBaseURL)
	if parseErr != nil || baseURL.Scheme == "" || baseURL.Host == "" {
		return nil, fmt.Errorf("apiclient.new: %w: %s", ErrInvalidBaseURL, rawBaseURL)
	}

	timeout := configuration.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	refreshPath := configuration.RefreshPath
	if strings.TrimSpace(refreshPath) == "" {
		refreshPath = DefaultRefreshPath
	}
	logoutPath := configuration.LogoutPath
	if strings.TrimSpace(logoutPath) == "" {
		logoutPath = DefaultLogoutPath
	}
	authPaths := configuration.AuthPaths
	if len(authPaths) == 0 {
		authPaths = []string{DefaultLoginPath, DefaultRegisterPath, refreshPath, logoutPath}
	}

	base := configuration.HTTPClient
	if base == nil {
		base = &http.Client{}
	}
	jar := configuration.Jar
	if jar == nil {
		memoryJar, jarErr := cookiejar.New(nil)
		if jarErr != nil {
			return nil, fmt.Errorf("apiclient.new.cookie_jar: %w", jarErr)
		}
		jar = memoryJar
	}
	api := *base
	api.Jar = nil
	credentialed := *base
	credentialed.Jar = jar

	tokens := configuration.Tokens
	if tokens == nil {
		tokens = NewMemoryTokenStore()
	}
	metrics := configuration.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	logger := configuration.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		baseURL:      baseURL,
		timeout:      timeout,
		refreshPath:  refreshPath,
		logoutPath:   logoutPath,
		authPaths:    authPaths,
		api:          &api,
		credentialed: &credentialed,
		tokens:       tokens,
		notifier:     configuration.Notifier,
		metrics:      metrics,
		logger:       logger,
		userAgent:    configuration.UserAgent,
	}, nil
}

// BaseURL returns the configured base endpoint.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// GetToken returns the stored access token.
func (c *Client) GetToken() (string, bool) {
	return c.tokens.Token()
}

// SetToken stores the access token; an empty token clears it.
func (c *Client) SetToken(token string) error {
	if token == "" {
		return c.ClearToken()
	}
	return c.tokens.SaveToken(token)
}

// ClearToken removes the stored access token.
func (c *Client) ClearToken() error {
	return c.tokens.ClearToken()
}

// OnUnauthorized registers the single handler invoked when a refresh cannot recover
// authentication. A nil handler clears the registration; the last registration wins.
func (c *Client) OnUnauthorized(handler func()) {
	c.handlerMutex.Lock()
	defer c.handlerMutex.Unlock()
	c.unauthorized = handler
}

func (c *Client) notifyUnauthorized() {
	c.handlerMutex.RLock()
	handler := c.unauthorized
	c.handlerMutex.RUnlock()
	if handler != nil {
		handler()
	}
}

// Get issues a GET request.
func (c *Client) Get(ctx context.Context, path string, query url.Values) (*Response, error) {
	return c.Do(ctx, http.MethodGet, path, RequestOptions{Query: query})
}

// Post issues a POST request.
func (c *Client) Post(ctx context.Context, path string, body any) (*Response, error) {
	return c.Do(ctx, http.MethodPost, path, RequestOptions{Body: body})
}

// Put issues a PUT request.
func (c *Client) Put(ctx context.Context, path string, body any) (*Response, error) {
	return c.Do(ctx, http.MethodPut, path, RequestOptions{Body: body})
}

// Patch issues a PATCH request.
func (c *Client) Patch(ctx context.Context, path string, body any) (*Response, error) {
	return c.Do(ctx, http.MethodPatch, path, RequestOptions{Body: body})
}

// Delete issues a DELETE request.
func (c *Client) Delete(ctx context.Context, path string) (*Response, error) {
	return c.Do(ctx, http.MethodDelete, path, RequestOptions{})
}

// Do issues a request relative to the base URL unless path is absolute. A 2xx response is
// returned unchanged; anything else is returned as *APIError, or *CancelledError when ctx is
// cancelled. A 401 is recovered at most once through the refresh endpoint.
func (c *Client) Do(ctx context.Context, method string, path string, options RequestOptions) (*Response, error) {
	call, prepareErr := c.prepare(method, path, options)
	if prepareErr != nil {
		return nil, prepareErr
	}

	token, _ := c.tokens.Token()
	response, err := c.send(ctx, call, token)
	if err == nil {
		return response, nil
	}

	var apiError *APIError
	if !errors.As(err, &apiError) || apiError.HTTPStatus != http.StatusUnauthorized || call.authEndpoint {
		return nil, err
	}

	freshToken, refreshErr := c.awaitRefresh(ctx, token, true)
	if refreshErr != nil {
		if ctx.Err() != nil {
			return nil, c.transportFailure(ctx, call, ctx.Err())
		}
		return nil, apiError
	}

	c.metrics.Increment(MetricRequestReplayed)
	c.logger.Debug("replaying request with refreshed token",
		zap.String("code", "client.request.replay"),
		zap.String("method", call.method),
		zap.String("url", call.path),
		zap.String("request_id", call.requestID()))
	return c.send(ctx, call, freshToken)
}

// Refresh obtains a new access token through the refresh endpoint, joining a refresh that is
// already in flight. The returned error is the refresh's own *APIError.
func (c *Client) Refresh(ctx context.Context) (string, error) {
	token, err := c.awaitRefresh(ctx, "", false)
	if err == nil {
		return token, nil
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return "", &CancelledError{Method: http.MethodPost, URL: c.refreshPath, Cause: ctx.Err()}
	}
	var apiError *APIError
	if errors.As(err, &apiError) {
		return "", apiError
	}
	return "", &APIError{
		Type:    ErrorTypeTimeout,
		Code:    "0",
		Message: DefaultMessage(ErrorTypeTimeout),
		URL:     c.refreshPath,
		Method:  http.MethodPost,
	}
}

// Logout asks the server to end the session and always clears the stored token.
func (c *Client) Logout(ctx context.Context) error {
	if _, err := c.Do(ctx, http.MethodPost, c.logoutPath, RequestOptions{}); err != nil {
		c.logger.Debug("logout request failed",
			zap.String("code", "client.logout.request_failed"),
			zap.Error(err))
	}
	return c.ClearToken()
}

type preparedRequest struct {
	method       string
	path         string
	url          string
	headers      http.Header
	body         []byte
	authEndpoint bool
}

func (call *preparedRequest) requestID() string {
	return call.headers.Get(RequestIDHeader)
}

func (c *Client) prepare(method string, path string, options RequestOptions) (*preparedRequest, error) {
	resolved, resolveErr := c.resolve(path, options.Query)
	if resolveErr != nil {
		return nil, resolveErr
	}
	body, contentType, encodeErr := encodeBody(options.Body)
	if encodeErr != nil {
		return nil, encodeErr
	}

	headers := http.Header{}
	for key, values := range options.Headers {
		for _, value := range values {
			headers.Add(key, value)
		}
	}
	if headers.Get("Accept") == "" {
		headers.Set("Accept", contentTypeJSON)
	}
	if contentType != "" && headers.Get("Content-Type") == "" {
		headers.Set("Content-Type", contentType)
	}
	if headers.Get(RequestIDHeader) == "" {
		headers.Set(RequestIDHeader, newRequestID())
	}
	if c.userAgent != "" && headers.Get("User-Agent") == "" {
		headers.Set("User-Agent", c.userAgent)
	}

	return &preparedRequest{
		method:       strings.ToUpper(method),
		path:         path,
		url:          resolved.String(),
		headers:      headers,
		body:         body,
		authEndpoint: c.isAuthEndpoint(resolved),
	}, nil
}

func (c *Client) resolve(path string, query url.Values) (*url.URL, error) {
	reference, err := url.Parse(path)
	if err != nil {
		return nil, fmt.Errorf("apiclient.parse_path: %w", err)
	}
	var resolved *url.URL
	if reference.IsAbs() {
		resolved = reference
	} else {
		resolved = c.baseURL.JoinPath(reference.Path)
		resolved.RawQuery = reference.RawQuery
	}
	if len(query) > 0 {
		values := resolved.Query()
		for key, entries := range query {
			for _, entry := range entries {
				values.Add(key, entry)
			}
		}
		resolved.RawQuery = values.Encode()
	}
	return resolved, nil
}

func (c *Client) isAuthEndpoint(resolved *url.URL) bool {
	requestPath := strings.TrimSuffix(resolved.Path, "/")
	for _, authPath := range c.authPaths {
		suffix := "/" + strings.Trim(authPath, "/")
		if suffix != "/" && strings.HasSuffix(requestPath, suffix) {
			return true
		}
	}
	return false
}

func (c *Client) send(ctx context.Context, call *preparedRequest, token string) (*Response, error) {
	if ctx.Err() != nil {
		return nil, c.transportFailure(ctx, call, ctx.Err())
	}
	requestCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var bodyReader io.Reader
	if call.body != nil {
		bodyReader = bytes.NewReader(call.body)
	}
	request, err := http.NewRequestWithContext(requestCtx, call.method, call.url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("apiclient.new_request: %w", err)
	}
	request.Header = call.headers.Clone()
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}

	httpClient := c.api
	if call.authEndpoint {
		httpClient = c.credentialed
	}

	startTime := time.Now()
	c.logger.Debug("http request",
		zap.String("method", call.method),
		zap.String("url", call.url),
		zap.String("request_id", call.requestID()))

	response, err := httpClient.Do(request)
	if err != nil {
		return nil, c.transportFailure(ctx, call, err)
	}
	defer response.Body.Close()

	body, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, c.transportFailure(ctx, call, err)
	}

	c.logger.Debug("http response",
		zap.String("method", call.method),
		zap.String("url", call.url),
		zap.Int("status", response.StatusCode),
		zap.String("request_id", call.requestID()),
		zap.Duration("elapsed", time.Since(startTime)))

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		apiError := newResponseError(call, response.StatusCode, body)
		c.reject(apiError)
		return nil, apiError
	}
	return &Response{
		StatusCode: response.StatusCode,
		Header:     response.Header,
		Body:       body,
		Method:     call.method,
		URL:        call.path,
	}, nil
}

// transportFailure handles failures where no response was received.
func (c *Client) transportFailure(ctx context.Context, call *preparedRequest, cause error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return &CancelledError{Method: call.method, URL: call.path, Cause: ctx.Err()}
	}
	apiError := newTransportError(call, cause)
	c.logger.Debug("transport failure",
		zap.String("code", "client.request.transport_failed"),
		zap.String("method", call.method),
		zap.String("url", call.url),
		zap.Error(cause))
	c.reject(apiError)
	return apiError
}

func (c *Client) reject(apiError *APIError) {
	c.metrics.Increment(FailureMetric(apiError.Type))
	c.logger.Debug("request failed",
		zap.String("code", "client.request.failed"),
		zap.String("type", string(apiError.Type)),
		zap.Int("status", apiError.HTTPStatus),
		zap.String("method", apiError.Method),
		zap.String("url", apiError.URL),
		zap.String("request_id", apiError.RequestID))
	c.publish(apiError)
}

func newRequestID() string {
	identifier, err := uuid.NewV7()
	if err != nil {
		return strconv.FormatInt(time.Now().UnixNano(), 36)
	}
	return identifier.String()
}
