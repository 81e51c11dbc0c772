package apiclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

const testRefreshCookie = "refresh_token"

type fakeBackend struct {
	server *httptest.Server

	mutex                sync.Mutex
	validToken           string
	refreshStatus        int
	refreshBody          string
	refreshGate          chan struct{}
	releaseOnce          sync.Once
	refreshAuthorization []string
	replayAuthorization  []string
	resourceCookies      []string
	beforeUnauthorized   func()

	refreshCalls     atomic.Int32
	resourceCalls    atomic.Int32
	unauthorizedHits atomic.Int32
	loginCalls       atomic.Int32
}

func newFakeBackend(t *testing.T, validToken string) *fakeBackend {
	t.Helper()
	backend := &fakeBackend{
		validToken:    validToken,
		refreshStatus: http.StatusOK,
		refreshBody:   `{"accessToken":"` + validToken + `"}`,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/refresh", backend.handleRefresh)
	mux.HandleFunc("/auth/login", backend.handleLogin)
	mux.HandleFunc("/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/", backend.handleResource)
	backend.server = httptest.NewServer(mux)
	t.Cleanup(backend.server.Close)
	return backend
}

// holdRefresh blocks the refresh endpoint until releaseRefresh is called.
func (backend *fakeBackend) holdRefresh(t *testing.T) {
	t.Helper()
	backend.mutex.Lock()
	backend.refreshGate = make(chan struct{})
	backend.mutex.Unlock()
	t.Cleanup(backend.releaseRefresh)
}

func (backend *fakeBackend) releaseRefresh() {
	backend.mutex.Lock()
	gate := backend.refreshGate
	backend.mutex.Unlock()
	if gate == nil {
		return
	}
	backend.releaseOnce.Do(func() { close(gate) })
}

func (backend *fakeBackend) respondToRefresh(status int, body string) {
	backend.mutex.Lock()
	defer backend.mutex.Unlock()
	backend.refreshStatus = status
	backend.refreshBody = body
}

func (backend *fakeBackend) handleRefresh(w http.ResponseWriter, r *http.Request) {
	backend.refreshCalls.Add(1)
	backend.mutex.Lock()
	backend.refreshAuthorization = append(backend.refreshAuthorization, r.Header.Get("Authorization"))
	gate := backend.refreshGate
	status := backend.refreshStatus
	body := backend.refreshBody
	backend.mutex.Unlock()

	if gate != nil {
		<-gate
	}
	if _, err := r.Cookie(testRefreshCookie); err != nil {
		writeBackendUnauthorized(w, r.URL.Path)
		return
	}
	if status == http.StatusUnauthorized {
		writeBackendUnauthorized(w, r.URL.Path)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func (backend *fakeBackend) handleLogin(w http.ResponseWriter, r *http.Request) {
	backend.loginCalls.Add(1)
	writeBackendUnauthorized(w, r.URL.Path)
}

func (backend *fakeBackend) handleResource(w http.ResponseWriter, r *http.Request) {
	backend.resourceCalls.Add(1)
	authorization := r.Header.Get("Authorization")

	backend.mutex.Lock()
	valid := authorization == "Bearer "+backend.validToken
	if valid {
		backend.replayAuthorization = append(backend.replayAuthorization, authorization)
	}
	if cookie := r.Header.Get("Cookie"); cookie != "" {
		backend.resourceCookies = append(backend.resourceCookies, cookie)
	}
	hook := backend.beforeUnauthorized
	backend.mutex.Unlock()

	if !valid {
		backend.unauthorizedHits.Add(1)
		if hook != nil {
			hook()
		}
		writeBackendUnauthorized(w, r.URL.Path)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"ok":true}`))
}

func writeBackendUnauthorized(w http.ResponseWriter, path string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"timestamp":"2024-05-01T10:00:00Z","status":"401 UNAUTHORIZED","message":"Unauthorized access","details":"uri=` + path + `"}`))
}

// jarWithRefreshCookie returns a cookie jar holding the ambient refresh credential.
func (backend *fakeBackend) jarWithRefreshCookie(t *testing.T) http.CookieJar {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookie jar: %v", err)
	}
	serverURL, err := url.Parse(backend.server.URL)
	if err != nil {
		t.Fatalf("parse server url: %v", err)
	}
	jar.SetCookies(serverURL, []*http.Cookie{{Name: testRefreshCookie, Value: "opaque", Path: "/"}})
	return jar
}

func pendingWaiters(client *Client) int {
	client.refresh.mutex.Lock()
	defer client.refresh.mutex.Unlock()
	return len(client.refresh.waiters)
}

func expectUnauthorized(t *testing.T, err error, path string) {
	t.Helper()
	var apiError *APIError
	if !errors.As(err, &apiError) {
		t.Fatalf("expected APIError, got %T %v", err, err)
	}
	if apiError.Type != ErrorTypeUnauthorized || apiError.HTTPStatus != http.StatusUnauthorized {
		t.Fatalf("expected UNAUTHORIZED 401, got %s %d", apiError.Type, apiError.HTTPStatus)
	}
	if apiError.URL != path || apiError.Method != http.MethodGet {
		t.Fatalf("expected GET %s, got %s %s", path, apiError.Method, apiError.URL)
	}
}

func TestExpiredTokenIsRefreshedAndReplayed(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend(t, "xyz")
	metrics := NewCounterMetrics()
	client := newTestClient(t, backend.server.URL, func(configuration *Config) {
		configuration.Jar = backend.jarWithRefreshCookie(t)
		configuration.Metrics = metrics
	})
	_ = client.SetToken("old")

	response, err := client.Get(context.Background(), "/members", nil)
	if err != nil {
		t.Fatalf("expected replay to succeed, got %v", err)
	}
	if response.StatusCode != http.StatusOK || string(response.Body) != `{"ok":true}` {
		t.Fatalf("unexpected response %d %s", response.StatusCode, response.Body)
	}
	if token, _ := client.GetToken(); token != "xyz" {
		t.Fatalf("expected stored token xyz, got %q", token)
	}
	if calls := backend.refreshCalls.Load(); calls != 1 {
		t.Fatalf("expected one refresh call, got %d", calls)
	}
	if calls := backend.resourceCalls.Load(); calls != 2 {
		t.Fatalf("expected original request and one replay, got %d", calls)
	}

	expectedCounts := map[string]int64{
		MetricRefreshStarted:                 1,
		MetricRefreshSucceeded:               1,
		MetricRequestReplayed:                1,
		FailureMetric(ErrorTypeUnauthorized): 1,
	}
	for event, expected := range expectedCounts {
		if got := metrics.Count(event); got != expected {
			t.Fatalf("metric %s: expected %d, got %d", event, expected, got)
		}
	}
}

func TestRefreshRequiresAmbientCredentialAndNoBearer(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend(t, "xyz")
	client := newTestClient(t, backend.server.URL, func(configuration *Config) {
		configuration.Jar = backend.jarWithRefreshCookie(t)
	})
	_ = client.SetToken("old")

	if _, err := client.Get(context.Background(), "/members", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	backend.mutex.Lock()
	defer backend.mutex.Unlock()
	if len(backend.refreshAuthorization) != 1 || backend.refreshAuthorization[0] != "" {
		t.Fatalf("refresh must not carry a bearer header, got %q", backend.refreshAuthorization)
	}
	if len(backend.resourceCookies) != 0 {
		t.Fatalf("resource requests must not carry the refresh cookie, got %q", backend.resourceCookies)
	}
	if len(backend.replayAuthorization) != 1 || backend.replayAuthorization[0] != "Bearer xyz" {
		t.Fatalf("expected replay with Bearer xyz, got %q", backend.replayAuthorization)
	}
}

func TestRefreshWithoutCookieFails(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend(t, "xyz")
	client := newTestClient(t, backend.server.URL, nil)
	_ = client.SetToken("old")

	_, err := client.Get(context.Background(), "/members", nil)
	expectUnauthorized(t, err, "/members")
	if _, ok := client.GetToken(); ok {
		t.Fatalf("expected token cleared after failed refresh")
	}
}

func TestRefreshRejectionClearsTokenAndNotifiesOnce(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend(t, "xyz")
	backend.respondToRefresh(http.StatusUnauthorized, "")
	metrics := NewCounterMetrics()
	client := newTestClient(t, backend.server.URL, func(configuration *Config) {
		configuration.Jar = backend.jarWithRefreshCookie(t)
		configuration.Metrics = metrics
	})
	_ = client.SetToken("old")

	var handlerCalls atomic.Int32
	client.OnUnauthorized(func() {
		handlerCalls.Add(1)
	})

	_, err := client.Get(context.Background(), "/members", nil)
	expectUnauthorized(t, err, "/members")
	if _, ok := client.GetToken(); ok {
		t.Fatalf("expected token cleared")
	}
	waitFor(t, "unauthorized handler", func() bool { return handlerCalls.Load() >= 1 })
	if calls := handlerCalls.Load(); calls != 1 {
		t.Fatalf("expected unauthorized handler once, got %d", calls)
	}
	if backend.resourceCalls.Load() != 1 {
		t.Fatalf("expected no replay after failed refresh")
	}
	if metrics.Count(MetricRefreshFailed) != 1 {
		t.Fatalf("expected refresh failure metric, got %v", metrics.Snapshot())
	}
}

func TestMissingAccessTokenIsRefreshFailure(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend(t, "xyz")
	backend.respondToRefresh(http.StatusOK, `{"tokenType":"Bearer"}`)
	client := newTestClient(t, backend.server.URL, func(configuration *Config) {
		configuration.Jar = backend.jarWithRefreshCookie(t)
	})
	_ = client.SetToken("old")

	var handlerCalls atomic.Int32
	client.OnUnauthorized(func() { handlerCalls.Add(1) })

	_, err := client.Get(context.Background(), "/members", nil)
	expectUnauthorized(t, err, "/members")
	if _, ok := client.GetToken(); ok {
		t.Fatalf("expected token cleared")
	}
	waitFor(t, "unauthorized handler", func() bool { return handlerCalls.Load() >= 1 })
	if handlerCalls.Load() != 1 {
		t.Fatalf("expected unauthorized handler once, got %d", handlerCalls.Load())
	}
}

func TestSnakeCaseAccessTokenAccepted(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend(t, "xyz")
	backend.respondToRefresh(http.StatusOK, `{"access_token":"xyz"}`)
	client := newTestClient(t, backend.server.URL, func(configuration *Config) {
		configuration.Jar = backend.jarWithRefreshCookie(t)
	})
	_ = client.SetToken("old")

	if _, err := client.Get(context.Background(), "/members", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token, _ := client.GetToken(); token != "xyz" {
		t.Fatalf("expected xyz, got %q", token)
	}
}

func TestReplayIsAttemptedOnlyOnce(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend(t, "never-issued")
	backend.respondToRefresh(http.StatusOK, `{"accessToken":"xyz"}`)
	client := newTestClient(t, backend.server.URL, func(configuration *Config) {
		configuration.Jar = backend.jarWithRefreshCookie(t)
	})
	_ = client.SetToken("old")

	_, err := client.Get(context.Background(), "/members", nil)
	expectUnauthorized(t, err, "/members")
	if calls := backend.refreshCalls.Load(); calls != 1 {
		t.Fatalf("expected one refresh, got %d", calls)
	}
	if calls := backend.resourceCalls.Load(); calls != 2 {
		t.Fatalf("expected exactly one replay, got %d calls", calls)
	}
}

func TestAuthenticationEndpointsNeverRefresh(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend(t, "xyz")
	client := newTestClient(t, backend.server.URL, func(configuration *Config) {
		configuration.Jar = backend.jarWithRefreshCookie(t)
	})
	_ = client.SetToken("old")

	_, err := client.Post(context.Background(), DefaultLoginPath, map[string]string{"username": "a", "password": "b"})
	var apiError *APIError
	if !errors.As(err, &apiError) || apiError.Type != ErrorTypeUnauthorized || apiError.URL != DefaultLoginPath {
		t.Fatalf("expected UNAUTHORIZED from login, got %v", err)
	}
	if calls := backend.refreshCalls.Load(); calls != 0 {
		t.Fatalf("login 401 must not refresh, got %d refresh calls", calls)
	}
	if backend.loginCalls.Load() != 1 {
		t.Fatalf("expected a single login attempt")
	}
}

func TestConcurrentExpiryRefreshesOnce(t *testing.T) {
	t.Parallel()

	const callers = 16
	backend := newFakeBackend(t, "xyz")
	backend.holdRefresh(t)
	client := newTestClient(t, backend.server.URL, func(configuration *Config) {
		configuration.Jar = backend.jarWithRefreshCookie(t)
	})
	_ = client.SetToken("old")

	errs := make([]error, callers)
	var group sync.WaitGroup
	for index := 0; index < callers; index++ {
		group.Add(1)
		go func(index int) {
			defer group.Done()
			_, errs[index] = client.Get(context.Background(), "/members", nil)
		}(index)
	}

	waitFor(t, "all callers queued behind the refresh", func() bool {
		return pendingWaiters(client) == callers
	})
	backend.releaseRefresh()
	group.Wait()

	for index, err := range errs {
		if err != nil {
			t.Fatalf("caller %d failed: %v", index, err)
		}
	}
	if calls := backend.refreshCalls.Load(); calls != 1 {
		t.Fatalf("expected exactly one refresh, got %d", calls)
	}
	backend.mutex.Lock()
	defer backend.mutex.Unlock()
	if len(backend.replayAuthorization) != callers {
		t.Fatalf("expected %d replays, got %d", callers, len(backend.replayAuthorization))
	}
	for _, header := range backend.replayAuthorization {
		if header != "Bearer xyz" {
			t.Fatalf("expected replay with refreshed token, got %q", header)
		}
	}
	if client.refresh.inFlight() {
		t.Fatalf("expected refresh state reset")
	}
}

func TestConcurrentExpiryFailsTogether(t *testing.T) {
	t.Parallel()

	const callers = 16
	backend := newFakeBackend(t, "xyz")
	backend.respondToRefresh(http.StatusUnauthorized, "")
	backend.holdRefresh(t)
	client := newTestClient(t, backend.server.URL, func(configuration *Config) {
		configuration.Jar = backend.jarWithRefreshCookie(t)
	})
	_ = client.SetToken("old")

	var handlerCalls atomic.Int32
	client.OnUnauthorized(func() { handlerCalls.Add(1) })

	errs := make([]error, callers)
	var group sync.WaitGroup
	for index := 0; index < callers; index++ {
		group.Add(1)
		go func(index int) {
			defer group.Done()
			_, errs[index] = client.Get(context.Background(), "/members", nil)
		}(index)
	}

	waitFor(t, "all callers queued behind the refresh", func() bool {
		return pendingWaiters(client) == callers
	})
	backend.releaseRefresh()
	group.Wait()

	for _, err := range errs {
		expectUnauthorized(t, err, "/members")
	}
	if calls := backend.refreshCalls.Load(); calls != 1 {
		t.Fatalf("expected exactly one refresh, got %d", calls)
	}
	waitFor(t, "unauthorized handler", func() bool { return handlerCalls.Load() >= 1 })
	if calls := handlerCalls.Load(); calls != 1 {
		t.Fatalf("expected unauthorized handler once per refresh cycle, got %d", calls)
	}
	if backend.resourceCalls.Load() != callers {
		t.Fatalf("expected no replays after a failed refresh")
	}
}

func TestUnauthorizedHandlerRunsAfterWaitersAreReleased(t *testing.T) {
	t.Parallel()

	const callers = 4
	backend := newFakeBackend(t, "xyz")
	backend.respondToRefresh(http.StatusUnauthorized, "")
	backend.holdRefresh(t)
	client := newTestClient(t, backend.server.URL, func(configuration *Config) {
		configuration.Jar = backend.jarWithRefreshCookie(t)
	})
	_ = client.SetToken("old")

	type handlerObservation struct {
		refreshing bool
		waiters    int
		token      bool
	}
	observed := make(chan handlerObservation, 1)
	var handlerCalls atomic.Int32
	client.OnUnauthorized(func() {
		if handlerCalls.Add(1) != 1 {
			return
		}
		_, hasToken := client.GetToken()
		observed <- handlerObservation{
			refreshing: client.refresh.inFlight(),
			waiters:    pendingWaiters(client),
			token:      hasToken,
		}
	})

	errs := make([]error, callers)
	var group sync.WaitGroup
	for index := 0; index < callers; index++ {
		group.Add(1)
		go func(index int) {
			defer group.Done()
			_, errs[index] = client.Get(context.Background(), "/members", nil)
		}(index)
	}
	waitFor(t, "all callers queued behind the refresh", func() bool {
		return pendingWaiters(client) == callers
	})
	backend.releaseRefresh()
	group.Wait()

	for _, err := range errs {
		expectUnauthorized(t, err, "/members")
	}
	select {
	case observation := <-observed:
		if observation.refreshing {
			t.Fatalf("expected refresh state reset before the handler runs")
		}
		if observation.waiters != 0 {
			t.Fatalf("expected no pending waiters when the handler runs, got %d", observation.waiters)
		}
		if observation.token {
			t.Fatalf("expected token cleared before the handler runs")
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("expected unauthorized handler to run")
	}
}

func TestUnauthorizedHandlerRequestStartsFreshRefresh(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend(t, "xyz")
	backend.respondToRefresh(http.StatusUnauthorized, "")
	client := newTestClient(t, backend.server.URL, func(configuration *Config) {
		configuration.Jar = backend.jarWithRefreshCookie(t)
	})
	_ = client.SetToken("old")

	followUp := make(chan error, 1)
	var handlerCalls atomic.Int32
	client.OnUnauthorized(func() {
		if handlerCalls.Add(1) != 1 {
			return
		}
		_, err := client.Get(context.Background(), "/logs", nil)
		followUp <- err
	})

	_, err := client.Get(context.Background(), "/members", nil)
	expectUnauthorized(t, err, "/members")
	select {
	case followUpErr := <-followUp:
		expectUnauthorized(t, followUpErr, "/logs")
	case <-time.After(3 * time.Second):
		t.Fatalf("request issued from the unauthorized handler never settled")
	}
	if calls := backend.refreshCalls.Load(); calls != 2 {
		t.Fatalf("expected the handler request to start its own refresh, got %d refresh calls", calls)
	}
	waitFor(t, "second unauthorized cycle", func() bool { return handlerCalls.Load() == 2 })
}

func TestRefreshTimeoutReleasesEveryWaiter(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend(t, "xyz")
	backend.holdRefresh(t)
	metrics := NewCounterMetrics()
	client := newTestClient(t, backend.server.URL, func(configuration *Config) {
		configuration.Jar = backend.jarWithRefreshCookie(t)
		configuration.Timeout = 100 * time.Millisecond
		configuration.Metrics = metrics
	})
	_ = client.SetToken("old")

	// Both requests receive their 401 together so they share one refresh cycle.
	var arrivals sync.WaitGroup
	arrivals.Add(2)
	backend.mutex.Lock()
	backend.beforeUnauthorized = func() {
		arrivals.Done()
		arrivals.Wait()
	}
	backend.mutex.Unlock()

	errs := make([]error, 2)
	var group sync.WaitGroup
	for index, path := range []string{"/members", "/logs"} {
		group.Add(1)
		go func(index int, path string) {
			defer group.Done()
			_, errs[index] = client.Get(context.Background(), path, nil)
		}(index, path)
	}

	finished := make(chan struct{})
	go func() {
		group.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(3 * time.Second):
		t.Fatalf("callers still waiting after the refresh deadline")
	}

	expectUnauthorized(t, errs[0], "/members")
	expectUnauthorized(t, errs[1], "/logs")
	if waiting := pendingWaiters(client); waiting != 0 {
		t.Fatalf("expected no dangling waiters, got %d", waiting)
	}
	if client.refresh.inFlight() {
		t.Fatalf("expected refresh state reset after timeout")
	}
	if calls := backend.refreshCalls.Load(); calls != 1 {
		t.Fatalf("expected exactly one refresh call, got %d", calls)
	}
	if metrics.Count(MetricRefreshFailed) != 1 {
		t.Fatalf("expected refresh failure metric, got %v", metrics.Snapshot())
	}
	if _, ok := client.GetToken(); ok {
		t.Fatalf("expected token cleared after refresh timeout")
	}
}

func TestCancelledWaiterLeavesRefreshIntact(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend(t, "xyz")
	backend.holdRefresh(t)
	client := newTestClient(t, backend.server.URL, func(configuration *Config) {
		configuration.Jar = backend.jarWithRefreshCookie(t)
	})
	_ = client.SetToken("old")

	cancelledCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cancelledResult := make(chan error, 1)
	survivorResult := make(chan error, 1)

	go func() {
		_, err := client.Get(cancelledCtx, "/members", nil)
		cancelledResult <- err
	}()
	waitFor(t, "first caller queued", func() bool { return pendingWaiters(client) == 1 })
	go func() {
		_, err := client.Get(context.Background(), "/logs", nil)
		survivorResult <- err
	}()
	waitFor(t, "second caller queued", func() bool { return pendingWaiters(client) == 2 })

	cancel()
	if err := <-cancelledResult; !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected cancellation error, got %v", err)
	}
	waitFor(t, "cancelled caller removed", func() bool { return pendingWaiters(client) == 1 })
	if !client.refresh.inFlight() {
		t.Fatalf("cancelling a waiter must not abort the refresh")
	}

	backend.releaseRefresh()
	if err := <-survivorResult; err != nil {
		t.Fatalf("expected surviving caller to succeed, got %v", err)
	}
	if calls := backend.refreshCalls.Load(); calls != 1 {
		t.Fatalf("expected one refresh, got %d", calls)
	}
	if token, _ := client.GetToken(); token != "xyz" {
		t.Fatalf("expected refreshed token stored, got %q", token)
	}
}

func TestTokenRefreshedElsewhereIsReusedWithoutRefreshing(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend(t, "xyz")
	client := newTestClient(t, backend.server.URL, func(configuration *Config) {
		configuration.Jar = backend.jarWithRefreshCookie(t)
	})
	_ = client.SetToken("old")
	backend.mutex.Lock()
	backend.beforeUnauthorized = func() {
		_ = client.SetToken("xyz")
	}
	backend.mutex.Unlock()

	if _, err := client.Get(context.Background(), "/members", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls := backend.refreshCalls.Load(); calls != 0 {
		t.Fatalf("expected stored token reused without refresh, got %d refresh calls", calls)
	}
}

func TestExplicitRefresh(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend(t, "xyz")
	client := newTestClient(t, backend.server.URL, func(configuration *Config) {
		configuration.Jar = backend.jarWithRefreshCookie(t)
	})

	token, err := client.Refresh(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token != "xyz" {
		t.Fatalf("expected xyz, got %q", token)
	}
	if stored, _ := client.GetToken(); stored != "xyz" {
		t.Fatalf("expected refreshed token stored, got %q", stored)
	}

	backend.respondToRefresh(http.StatusUnauthorized, "")
	_, err = client.Refresh(context.Background())
	var apiError *APIError
	if !errors.As(err, &apiError) || apiError.Type != ErrorTypeUnauthorized || apiError.URL != DefaultRefreshPath {
		t.Fatalf("expected refresh UNAUTHORIZED error, got %v", err)
	}
	if _, ok := client.GetToken(); ok {
		t.Fatalf("expected token cleared after failed refresh")
	}
}

func TestLogoutClearsToken(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend(t, "xyz")
	client := newTestClient(t, backend.server.URL, nil)
	_ = client.SetToken("xyz")

	if err := client.Logout(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := client.GetToken(); ok {
		t.Fatalf("expected token cleared after logout")
	}
	if backend.refreshCalls.Load() != 0 {
		t.Fatalf("logout must not refresh")
	}
}
