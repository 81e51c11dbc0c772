package stubserver

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"
)

type controllableClock struct {
	mutex   sync.Mutex
	current time.Time
}

func (clock *controllableClock) Now() time.Time {
	clock.mutex.Lock()
	defer clock.mutex.Unlock()
	return clock.current
}

func (clock *controllableClock) Advance(duration time.Duration) {
	clock.mutex.Lock()
	defer clock.mutex.Unlock()
	clock.current = clock.current.Add(duration)
}

type sessionResponse struct {
	AccessToken string  `json:"accessToken"`
	TokenType   string  `json:"tokenType"`
	User        Profile `json:"user"`
}

type backendError struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Details string `json:"details"`
}

func newTestServer(t *testing.T) (*Server, http.Handler, *controllableClock) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	clock := &controllableClock{current: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	server, err := New(Config{
		SigningKey:   []byte("stub-signing-key"),
		PasswordCost: bcrypt.MinCost,
		Clock:        clock,
		SeedUsers: []SeedUser{
			{Username: "admin", Password: "admin-pass", Email: "admin@example.com", Role: RoleAdmin},
			{Username: "editor", Password: "editor-pass", Email: "editor@example.com", Role: RoleEditor},
			{Username: "member", Password: "member-pass", Email: "member@example.com", Role: RoleMember},
		},
	}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return server, server.Handler(), clock
}

func performJSON(t *testing.T, handler http.Handler, method string, path string, body string, accessToken string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	request := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		request.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		request.Header.Set("Authorization", "Bearer "+accessToken)
	}
	for _, cookie := range cookies {
		request.AddCookie(cookie)
	}
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	return recorder
}

func login(t *testing.T, handler http.Handler, username string, password string) (sessionResponse, *http.Cookie) {
	t.Helper()
	recorder := performJSON(t, handler, http.MethodPost, "/api/v1/auth/login",
		`{"username":"`+username+`","password":"`+password+`"}`, "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 from login, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var session sessionResponse
	if err := json.Unmarshal(recorder.Body.Bytes(), &session); err != nil {
		t.Fatalf("decode login: %v", err)
	}
	return session, refreshCookieFrom(t, recorder)
}

func refreshCookieFrom(t *testing.T, recorder *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, cookie := range recorder.Result().Cookies() {
		if cookie.Name == DefaultRefreshCookieName {
			return cookie
		}
	}
	t.Fatalf("expected %s cookie in response", DefaultRefreshCookieName)
	return nil
}

func decodeBackendError(t *testing.T, recorder *httptest.ResponseRecorder) backendError {
	t.Helper()
	var payload backendError
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode error body: %v (%s)", err, recorder.Body.String())
	}
	return payload
}

func TestNewRequiresSigningKey(t *testing.T) {
	if _, err := New(Config{}, nil); err == nil {
		t.Fatalf("expected missing signing key error")
	}
}

func TestLoginIssuesAccessTokenAndRefreshCookie(t *testing.T) {
	_, handler, _ := newTestServer(t)
	session, cookie := login(t, handler, "admin", "admin-pass")

	if session.AccessToken == "" || session.TokenType != "Bearer" {
		t.Fatalf("unexpected session payload: %+v", session)
	}
	if session.User.Username != "admin" || len(session.User.Roles) != 1 || session.User.Roles[0] != RoleAdmin {
		t.Fatalf("unexpected profile: %+v", session.User)
	}
	if !cookie.HttpOnly || cookie.Path != "/" || cookie.Value == "" {
		t.Fatalf("unexpected refresh cookie: %+v", cookie)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	server, handler, _ := newTestServer(t)
	recorder := performJSON(t, handler, http.MethodPost, "/api/v1/auth/login", `{"username":"admin","password":"wrong"}`, "")
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", recorder.Code)
	}
	payload := decodeBackendError(t, recorder)
	if payload.Status != "401 UNAUTHORIZED" || payload.Message != "Bad credentials" || payload.Details != "uri=/api/v1/auth/login" {
		t.Fatalf("unexpected error body: %+v", payload)
	}
	entries := server.AuditLog().Page(0, 10).Content
	if len(entries) != 1 || entries[0].Level != LogLevelWarn || entries[0].Action != "LoginFailed" {
		t.Fatalf("expected failed login audit entry, got %+v", entries)
	}
}

func TestLoginRejectsMalformedBody(t *testing.T) {
	_, handler, _ := newTestServer(t)
	recorder := performJSON(t, handler, http.MethodPost, "/api/v1/auth/login", `{"username":`, "")
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
}

func TestRegisterCreatesMemberAccount(t *testing.T) {
	_, handler, _ := newTestServer(t)
	recorder := performJSON(t, handler, http.MethodPost, "/api/v1/auth/register",
		`{"username":"newcomer","password":"secret","email":"new@example.com"}`, "")
	if recorder.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var session sessionResponse
	if err := json.Unmarshal(recorder.Body.Bytes(), &session); err != nil {
		t.Fatalf("decode register: %v", err)
	}
	if session.User.Roles[0] != RoleMember {
		t.Fatalf("expected MEMBER role, got %v", session.User.Roles)
	}

	duplicate := performJSON(t, handler, http.MethodPost, "/api/v1/auth/register",
		`{"username":"NEWCOMER","password":"other"}`, "")
	if duplicate.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate username, got %d", duplicate.Code)
	}
	missing := performJSON(t, handler, http.MethodPost, "/api/v1/auth/register", `{"username":"x"}`, "")
	if missing.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing password, got %d", missing.Code)
	}
}

func TestRefreshRotatesCookieAndRevokesPrevious(t *testing.T) {
	_, handler, clock := newTestServer(t)
	session, cookie := login(t, handler, "editor", "editor-pass")

	clock.Advance(DefaultAccessTTL + time.Minute)
	expired := performJSON(t, handler, http.MethodGet, "/api/v1/member", "", session.AccessToken)
	if expired.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for expired token, got %d", expired.Code)
	}
	if message := decodeBackendError(t, expired).Message; message != "Access token expired" {
		t.Fatalf("unexpected message %q", message)
	}

	refreshed := performJSON(t, handler, http.MethodPost, "/api/v1/auth/refresh", "", "", cookie)
	if refreshed.Code != http.StatusOK {
		t.Fatalf("expected 200 from refresh, got %d: %s", refreshed.Code, refreshed.Body.String())
	}
	var rotated sessionResponse
	if err := json.Unmarshal(refreshed.Body.Bytes(), &rotated); err != nil {
		t.Fatalf("decode refresh: %v", err)
	}
	if rotated.AccessToken == "" || rotated.AccessToken == session.AccessToken {
		t.Fatalf("expected a fresh access token")
	}
	rotatedCookie := refreshCookieFrom(t, refreshed)
	if rotatedCookie.Value == cookie.Value {
		t.Fatalf("expected refresh cookie rotation")
	}

	replayed := performJSON(t, handler, http.MethodPost, "/api/v1/auth/refresh", "", "", cookie)
	if replayed.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 when replaying a revoked refresh cookie, got %d", replayed.Code)
	}

	allowed := performJSON(t, handler, http.MethodGet, "/api/v1/member", "", rotated.AccessToken)
	if allowed.Code != http.StatusOK {
		t.Fatalf("expected 200 with refreshed token, got %d", allowed.Code)
	}
}

func TestRefreshWithoutCookieIsUnauthorized(t *testing.T) {
	_, handler, _ := newTestServer(t)
	recorder := performJSON(t, handler, http.MethodPost, "/api/v1/auth/refresh", "", "")
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", recorder.Code)
	}
}

func TestRefreshRejectsDeactivatedUser(t *testing.T) {
	server, handler, _ := newTestServer(t)
	session, cookie := login(t, handler, "member", "member-pass")
	if _, err := server.Users().UpdateRole(session.User.ID, RoleMember, false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	recorder := performJSON(t, handler, http.MethodPost, "/api/v1/auth/refresh", "", "", cookie)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for inactive user, got %d", recorder.Code)
	}
}

func TestLogoutRevokesRefreshCookie(t *testing.T) {
	_, handler, _ := newTestServer(t)
	_, cookie := login(t, handler, "admin", "admin-pass")

	logout := performJSON(t, handler, http.MethodPost, "/api/v1/auth/logout", "", "", cookie)
	if logout.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", logout.Code)
	}
	cleared := refreshCookieFrom(t, logout)
	if cleared.MaxAge >= 0 || cleared.Value != "" {
		t.Fatalf("expected cleared cookie, got %+v", cleared)
	}

	refresh := performJSON(t, handler, http.MethodPost, "/api/v1/auth/refresh", "", "", cookie)
	if refresh.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 after logout, got %d", refresh.Code)
	}
}

func TestProtectedRoutesRequireBearer(t *testing.T) {
	_, handler, _ := newTestServer(t)
	recorder := performJSON(t, handler, http.MethodGet, "/api/v1/member", "", "")
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", recorder.Code)
	}
	forged := performJSON(t, handler, http.MethodGet, "/api/v1/member", "", "not-a-jwt")
	if forged.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for forged token, got %d", forged.Code)
	}
	if message := decodeBackendError(t, forged).Message; message != "Invalid access token" {
		t.Fatalf("unexpected message %q", message)
	}
}

func TestRolesGateMembersAndLogs(t *testing.T) {
	_, handler, _ := newTestServer(t)
	member, _ := login(t, handler, "member", "member-pass")
	editor, _ := login(t, handler, "editor", "editor-pass")

	forbidden := performJSON(t, handler, http.MethodGet, "/api/v1/member", "", member.AccessToken)
	if forbidden.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for MEMBER role, got %d", forbidden.Code)
	}
	if payload := decodeBackendError(t, forbidden); payload.Status != "403 FORBIDDEN" || payload.Message != "Access is denied" {
		t.Fatalf("unexpected forbidden body: %+v", payload)
	}
	editorLogs := performJSON(t, handler, http.MethodGet, "/api/v1/logs", "", editor.AccessToken)
	if editorLogs.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for editor on logs, got %d", editorLogs.Code)
	}
	editorMembers := performJSON(t, handler, http.MethodGet, "/api/v1/member", "", editor.AccessToken)
	if editorMembers.Code != http.StatusOK {
		t.Fatalf("expected 200 for editor on members, got %d", editorMembers.Code)
	}

	me := performJSON(t, handler, http.MethodGet, "/api/v1/users/me", "", member.AccessToken)
	if me.Code != http.StatusOK || !strings.Contains(me.Body.String(), `"username":"member"`) {
		t.Fatalf("unexpected /users/me response %d: %s", me.Code, me.Body.String())
	}
}

func TestMemberLifecycle(t *testing.T) {
	server, handler, _ := newTestServer(t)
	admin, _ := login(t, handler, "admin", "admin-pass")

	created := performJSON(t, handler, http.MethodPost, "/api/v1/member",
		`{"name":"Asha Verma","gotra":"Kashyap","maritalStatus":"MARRIED","spouse":{"name":"Ravi Verma"},"children":[{"name":"Mira"}]}`,
		admin.AccessToken)
	if created.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", created.Code, created.Body.String())
	}
	var member Member
	if err := json.Unmarshal(created.Body.Bytes(), &member); err != nil {
		t.Fatalf("decode member: %v", err)
	}
	if member.ID == 0 || member.Spouse == nil || member.Spouse.MemberID != member.ID || len(member.Children) != 1 {
		t.Fatalf("unexpected stored member: %+v", member)
	}

	noSpouse := performJSON(t, handler, http.MethodPost, "/api/v1/member", `{"name":"Solo","maritalStatus":"MARRIED"}`, admin.AccessToken)
	if noSpouse.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for married member without spouse, got %d", noSpouse.Code)
	}

	updated := performJSON(t, handler, http.MethodPut, "/api/v1/member/1",
		`{"name":"Asha Verma","maritalStatus":"SINGLE","spouse":{"name":"ignored"}}`, admin.AccessToken)
	if updated.Code != http.StatusOK {
		t.Fatalf("expected 200 from update, got %d", updated.Code)
	}
	stored, err := server.Members().Get(1)
	if err != nil {
		t.Fatalf("get member: %v", err)
	}
	if stored.Spouse != nil || stored.Children == nil {
		t.Fatalf("expected spouse cleared and children normalized, got %+v", stored)
	}

	missing := performJSON(t, handler, http.MethodGet, "/api/v1/member/99", "", admin.AccessToken)
	if missing.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", missing.Code)
	}
	badID := performJSON(t, handler, http.MethodGet, "/api/v1/member/abc", "", admin.AccessToken)
	if badID.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for non-numeric id, got %d", badID.Code)
	}

	deleted := performJSON(t, handler, http.MethodDelete, "/api/v1/member/1", "", admin.AccessToken)
	if deleted.Code != http.StatusNoContent {
		t.Fatalf("expected 204 from delete, got %d", deleted.Code)
	}
	if _, err := server.Members().Get(1); err == nil {
		t.Fatalf("expected member to be deleted")
	}

	actions := map[string]bool{}
	for _, entry := range server.AuditLog().Page(0, 50).Content {
		actions[entry.Action] = true
	}
	for _, action := range []string{"AddMember", "UpdateMember", "DeleteMember"} {
		if !actions[action] {
			t.Fatalf("expected %s audit entry, got %v", action, actions)
		}
	}
}

func TestMemberListPaginatesAndSearches(t *testing.T) {
	server, handler, _ := newTestServer(t)
	admin, _ := login(t, handler, "admin", "admin-pass")
	for _, name := range []string{"Charu", "Anil", "Bhavna"} {
		if _, err := server.Members().Create(Member{Name: name}); err != nil {
			t.Fatalf("seed member: %v", err)
		}
	}

	recorder := performJSON(t, handler, http.MethodGet, "/api/v1/member?page=0&size=2&sort=name", "", admin.AccessToken)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	var page PageResponse[Member]
	if err := json.Unmarshal(recorder.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode page: %v", err)
	}
	if page.TotalElements != 3 || page.TotalPages != 2 || len(page.Content) != 2 || page.Content[0].Name != "Anil" {
		t.Fatalf("unexpected page: %+v", page)
	}

	searched := performJSON(t, handler, http.MethodGet, "/api/v1/member?search=bhav", "", admin.AccessToken)
	var filtered PageResponse[Member]
	if err := json.Unmarshal(searched.Body.Bytes(), &filtered); err != nil {
		t.Fatalf("decode search: %v", err)
	}
	if len(filtered.Content) != 1 || filtered.Content[0].Name != "Bhavna" {
		t.Fatalf("unexpected search result: %+v", filtered.Content)
	}

	invalid := performJSON(t, handler, http.MethodGet, "/api/v1/member?page=first", "", admin.AccessToken)
	if invalid.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad page, got %d", invalid.Code)
	}
}

func TestPhotoUploadAndExport(t *testing.T) {
	server, handler, _ := newTestServer(t)
	admin, _ := login(t, handler, "admin", "admin-pass")
	if _, err := server.Members().Create(Member{Name: "Dev (Jr)"}); err != nil {
		t.Fatalf("seed member: %v", err)
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", "portrait.png")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	_, _ = part.Write([]byte("png-bytes"))
	_ = writer.Close()

	request := httptest.NewRequest(http.MethodPost, "/api/v1/member/1/photo", &body)
	request.Header.Set("Content-Type", writer.FormDataContentType())
	request.Header.Set("Authorization", "Bearer "+admin.AccessToken)
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 from upload, got %d: %s", recorder.Code, recorder.Body.String())
	}
	member, _ := server.Members().Get(1)
	if member.PhotoID == nil {
		t.Fatalf("expected photo id to be assigned")
	}
	if content, ok := server.Members().Photo(*member.PhotoID); !ok || string(content) != "png-bytes" {
		t.Fatalf("unexpected stored photo %q", content)
	}

	missingPart := performJSON(t, handler, http.MethodPost, "/api/v1/member/1/photo", `{}`, admin.AccessToken)
	if missingPart.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without file part, got %d", missingPart.Code)
	}

	export := performJSON(t, handler, http.MethodGet, "/api/v1/member/export", "", admin.AccessToken)
	if export.Code != http.StatusOK {
		t.Fatalf("expected 200 from export, got %d", export.Code)
	}
	if contentType := export.Header().Get("Content-Type"); contentType != "application/pdf" {
		t.Fatalf("unexpected content type %q", contentType)
	}
	if disposition := export.Header().Get("Content-Disposition"); disposition != "attachment; filename=members-2026-03-01.pdf" {
		t.Fatalf("unexpected disposition %q", disposition)
	}
	document := export.Body.String()
	if !strings.HasPrefix(document, "%PDF-1.4") || !strings.Contains(document, `Dev \(Jr\)`) {
		t.Fatalf("unexpected document: %q", document)
	}
}

func TestUserManagement(t *testing.T) {
	_, handler, _ := newTestServer(t)
	admin, _ := login(t, handler, "admin", "admin-pass")

	list := performJSON(t, handler, http.MethodGet, "/api/v1/users", "", admin.AccessToken)
	if list.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", list.Code)
	}
	var page PageResponse[User]
	if err := json.Unmarshal(list.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode users: %v", err)
	}
	if len(page.Content) != 3 {
		t.Fatalf("expected 3 users, got %d", len(page.Content))
	}

	promoted := performJSON(t, handler, http.MethodPatch, "/api/v1/users/3", `{"role":"secretary","active":true}`, admin.AccessToken)
	if promoted.Code != http.StatusOK || !strings.Contains(promoted.Body.String(), `"role":"SECRETARY"`) {
		t.Fatalf("unexpected role update %d: %s", promoted.Code, promoted.Body.String())
	}
	unknownRole := performJSON(t, handler, http.MethodPatch, "/api/v1/users/3", `{"role":"OWNER"}`, admin.AccessToken)
	if unknownRole.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown role, got %d", unknownRole.Code)
	}
	unknownUser := performJSON(t, handler, http.MethodPatch, "/api/v1/users/42", `{"role":"EDITOR"}`, admin.AccessToken)
	if unknownUser.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown user, got %d", unknownUser.Code)
	}
}

func TestUnknownRouteUsesBackendErrorBody(t *testing.T) {
	_, handler, _ := newTestServer(t)
	recorder := performJSON(t, handler, http.MethodGet, "/api/v1/nowhere", "", "")
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", recorder.Code)
	}
	if payload := decodeBackendError(t, recorder); payload.Status != "404 NOT_FOUND" {
		t.Fatalf("unexpected body: %+v", payload)
	}
}
