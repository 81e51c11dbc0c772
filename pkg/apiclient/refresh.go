package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

type refreshOutcome struct {
	token string
	err   error
}

// refreshState guarantees at most one refresh call in flight. Waiters are one-shot buffered
// channels completed in enqueue order when the in-flight refresh settles.
type refreshState struct {
	mutex      sync.Mutex
	refreshing bool
	waiters    []chan refreshOutcome
}

// join enqueues a waiter. leader reports whether the caller must start the refresh. When
// shortcut is set and no refresh is running, a stored token different from staleToken is
// returned directly: it was produced by a refresh that settled after the stale request left.
func (state *refreshState) join(tokens TokenStore, staleToken string, shortcut bool) (waiter chan refreshOutcome, leader bool, current string) {
	state.mutex.Lock()
	defer state.mutex.Unlock()

	if !state.refreshing && shortcut {
		if stored, ok := tokens.Token(); ok && stored != staleToken {
			return nil, false, stored
		}
	}
	waiter = make(chan refreshOutcome, 1)
	state.waiters = append(state.waiters, waiter)
	if state.refreshing {
		return waiter, false, ""
	}
	state.refreshing = true
	return waiter, true, ""
}

func (state *refreshState) abandon(waiter chan refreshOutcome) {
	state.mutex.Lock()
	defer state.mutex.Unlock()
	for index, candidate := range state.waiters {
		if candidate == waiter {
			state.waiters = append(state.waiters[:index], state.waiters[index+1:]...)
			return
		}
	}
}

func (state *refreshState) settle(outcome refreshOutcome) {
	state.mutex.Lock()
	waiters := state.waiters
	state.waiters = nil
	state.refreshing = false
	state.mutex.Unlock()

	for _, waiter := range waiters {
		waiter <- outcome
	}
}

func (state *refreshState) inFlight() bool {
	state.mutex.Lock()
	defer state.mutex.Unlock()
	return state.refreshing
}

func (c *Client) awaitRefresh(ctx context.Context, staleToken string, shortcut bool) (string, error) {
	waiter, leader, current := c.refresh.join(c.tokens, staleToken, shortcut)
	if waiter == nil {
		return current, nil
	}
	if leader {
		// Detached: the refresh outlives the caller that started it.
		go c.runRefresh(context.WithoutCancel(ctx))
	}
	select {
	case outcome := <-waiter:
		return outcome.token, outcome.err
	case <-ctx.Done():
		c.refresh.abandon(waiter)
		return "", ctx.Err()
	}
}

func (c *Client) runRefresh(ctx context.Context) {
	c.metrics.Increment(MetricRefreshStarted)
	startTime := time.Now()

	token, refreshErr := c.exchangeRefresh(ctx)
	if refreshErr != nil {
		c.metrics.Increment(MetricRefreshFailed)
		c.logger.Warn("token refresh failed",
			zap.String("code", "client.refresh.failed"),
			zap.String("type", string(refreshErr.Type)),
			zap.Int("status", refreshErr.HTTPStatus),
			zap.Duration("elapsed", time.Since(startTime)))
		if clearErr := c.tokens.ClearToken(); clearErr != nil {
			c.logger.Error("clearing token after failed refresh",
				zap.String("code", "client.refresh.clear_failed"),
				zap.Error(clearErr))
		}
		// The handler runs only after every waiter is released and the state is reset.
		c.refresh.settle(refreshOutcome{err: refreshErr})
		c.notifyUnauthorized()
		return
	}

	if saveErr := c.tokens.SaveToken(token); saveErr != nil {
		c.logger.Error("persisting refreshed token",
			zap.String("code", "client.refresh.save_failed"),
			zap.Error(saveErr))
	}
	c.metrics.Increment(MetricRefreshSucceeded)
	c.logger.Debug("token refreshed",
		zap.String("code", "client.refresh.succeeded"),
		zap.Duration("elapsed", time.Since(startTime)))
	c.refresh.settle(refreshOutcome{token: token})
}

type refreshResponse struct {
	AccessToken      string `json:"accessToken"`
	AccessTokenSnake string `json:"access_token"`
}

// exchangeRefresh posts to the refresh endpoint with the cookie jar and no bearer header.
func (c *Client) exchangeRefresh(ctx context.Context) (string, *APIError) {
	headers := http.Header{}
	headers.Set("Accept", contentTypeJSON)
	headers.Set("Content-Type", contentTypeJSON)
	headers.Set(RequestIDHeader, newRequestID())
	if c.userAgent != "" {
		headers.Set("User-Agent", c.userAgent)
	}
	resolved, err := c.resolve(c.refreshPath, nil)
	if err != nil {
		return "", &APIError{Type: ErrorTypeUnknown, Code: "0", Message: DefaultMessage(ErrorTypeUnknown), URL: c.refreshPath, Method: http.MethodPost}
	}
	call := &preparedRequest{
		method:       http.MethodPost,
		path:         c.refreshPath,
		url:          resolved.String(),
		headers:      headers,
		authEndpoint: true,
	}

	requestCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	request, err := http.NewRequestWithContext(requestCtx, call.method, call.url, nil)
	if err != nil {
		return "", newTransportError(call, err)
	}
	request.Header = call.headers.Clone()

	response, err := c.credentialed.Do(request)
	if err != nil {
		return "", newTransportError(call, err)
	}
	defer response.Body.Close()
	body, err := io.ReadAll(response.Body)
	if err != nil {
		return "", newTransportError(call, err)
	}
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return "", newResponseError(call, response.StatusCode, body)
	}

	var decoded refreshResponse
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &decoded); err != nil {
			return "", malformedRefresh(call, response.StatusCode, body)
		}
	}
	token := decoded.AccessToken
	if token == "" {
		token = decoded.AccessTokenSnake
	}
	if token == "" {
		return "", malformedRefresh(call, response.StatusCode, body)
	}
	return token, nil
}

func malformedRefresh(call *preparedRequest, status int, body []byte) *APIError {
	return &APIError{
		HTTPStatus: status,
		Type:       ErrorTypeUnknown,
		Code:       "refresh.missing_access_token",
		Message:    DefaultMessage(ErrorTypeUnknown),
		Details:    rawDetails(body),
		URL:        call.path,
		Method:     call.method,
		RequestID:  call.requestID(),
	}
}
