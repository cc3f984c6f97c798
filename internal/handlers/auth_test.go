package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/vidstream/backend/internal/auth"
	"github.com/vidstream/backend/internal/middleware"
	"github.com/vidstream/backend/internal/models"
	"github.com/vidstream/backend/internal/repositories"
	"github.com/vidstream/backend/internal/storage"
)

type testServer struct {
	router http.Handler
	users  *repositories.MemoryUserRepository
	media  *storage.MemoryStorage
}

func newTestServer(t *testing.T) testServer {
	t.Helper()

	users := repositories.NewMemoryUserRepository()
	media := storage.NewMemoryStorage("https://cdn.example.com")
	signer, err := auth.NewSigner("access-secret", "refresh-secret", 15*time.Minute, time.Hour)
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}

	router := NewRouter(nil, Dependencies{
		Credentials: auth.NewCredentialVerifier(users, media, auth.BcryptHasher{Cost: bcrypt.MinCost}),
		Sessions:    auth.NewManager(users, signer),
		Cookies:     CookieSettings{Secure: true},
	})
	return testServer{router: router, users: users, media: media}
}

type envelope struct {
	StatusCode int             `json:"statusCode"`
	Data       json.RawMessage `json:"data"`
	Message    string          `json:"message"`
	Success    bool            `json:"success"`
	Errors     []string        `json:"errors"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if env.StatusCode != rec.Code {
		t.Fatalf("envelope status %d does not match response status %d", env.StatusCode, rec.Code)
	}
	return env
}

func registerRequest(t *testing.T, fields map[string]string, withAvatar bool) *http.Request {
	t.Helper()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for name, value := range fields {
		if err := writer.WriteField(name, value); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	if withAvatar {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", `form-data; name="avatar"; filename="avatar.png"`)
		header.Set("Content-Type", "image/png")
		part, err := writer.CreatePart(header)
		if err != nil {
			t.Fatalf("create part: %v", err)
		}
		if _, err := part.Write([]byte("png-bytes")); err != nil {
			t.Fatalf("write part: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/users/register", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func annLeeFields() map[string]string {
	return map[string]string{
		"fullname": "Ann Lee",
		"email":    "ann@x.io",
		"username": "AnnLee",
		"password": "s3cret!",
	}
}

func jsonRequest(t *testing.T, method, path string, payload any) *http.Request {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func cookieValue(rec *httptest.ResponseRecorder, name string) (*http.Cookie, bool) {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c, true
		}
	}
	return nil, false
}

func (s testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s testServer) login(t *testing.T) models.SessionTokens {
	t.Helper()
	rec := s.do(jsonRequest(t, http.MethodPost, "/api/v1/users/login", loginRequest{Username: "annlee", Password: "s3cret!"}))
	if rec.Code != http.StatusOK {
		t.Fatalf("login: expected status %d got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
	}
	env := decodeEnvelope(t, rec)
	var data loginResponse
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode login data: %v", err)
	}
	return models.SessionTokens{AccessToken: data.AccessToken, RefreshToken: data.RefreshToken}
}

func TestRegister(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(registerRequest(t, annLeeFields(), true))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status %d got %d: %s", http.StatusCreated, rec.Code, rec.Body.String())
	}

	raw := rec.Body.String()
	if strings.Contains(raw, "password") || strings.Contains(raw, "s3cret") || strings.Contains(raw, "refreshToken") {
		t.Fatalf("response leaked credentials: %s", raw)
	}

	env := decodeEnvelope(t, rec)
	if !env.Success {
		t.Fatal("expected success envelope")
	}
	var profile models.Profile
	if err := json.Unmarshal(env.Data, &profile); err != nil {
		t.Fatalf("decode profile: %v", err)
	}
	if profile.Username != "annlee" || profile.Email != "ann@x.io" || profile.FullName != "Ann Lee" {
		t.Fatalf("unexpected profile %+v", profile)
	}
	if !strings.HasPrefix(profile.Avatar, "https://cdn.example.com/avatars/") {
		t.Fatalf("unexpected avatar %q", profile.Avatar)
	}
	if profile.CoverImage != "" {
		t.Fatalf("expected empty cover image, got %q", profile.CoverImage)
	}
	if srv.media.Len() != 1 {
		t.Fatalf("expected avatar to be uploaded, got %d objects", srv.media.Len())
	}

	access, ok := cookieValue(rec, "accessToken")
	if !ok || access.Value == "" || !access.HttpOnly || !access.Secure {
		t.Fatalf("expected secure http-only access cookie, got %+v", access)
	}
	if _, ok := cookieValue(rec, RefreshTokenCookie); !ok {
		t.Fatal("expected refresh cookie")
	}

	stored, err := srv.users.FindByUsernameOrEmail(context.Background(), "annlee", "")
	if err != nil {
		t.Fatalf("expected user to be stored: %v", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(stored.Password), []byte("s3cret!")) != nil {
		t.Fatal("stored password is not hashed")
	}
}

type failingIssueSessions struct {
	SessionManager
}

func (failingIssueSessions) Issue(context.Context, models.User) (models.SessionTokens, error) {
	return models.SessionTokens{}, errors.New("store unavailable")
}

func TestRegisterWithoutSession(t *testing.T) {
	users := repositories.NewMemoryUserRepository()
	router := NewRouter(nil, Dependencies{
		Credentials: auth.NewCredentialVerifier(users, storage.NewMemoryStorage(""), auth.BcryptHasher{Cost: bcrypt.MinCost}),
		Sessions:    failingIssueSessions{},
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, registerRequest(t, annLeeFields(), true))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status %d got %d: %s", http.StatusCreated, rec.Code, rec.Body.String())
	}
	if len(rec.Result().Cookies()) != 0 {
		t.Fatal("expected no session cookies")
	}
	env := decodeEnvelope(t, rec)
	if !env.Success || env.Message != "user registered successfully, please log in" {
		t.Fatalf("unexpected envelope %+v", env)
	}
	if users.Len() != 1 {
		t.Fatalf("expected the account to be kept, got %d users", users.Len())
	}
}

func TestRegisterDuplicate(t *testing.T) {
	srv := newTestServer(t)

	if rec := srv.do(registerRequest(t, annLeeFields(), true)); rec.Code != http.StatusCreated {
		t.Fatalf("register: expected status %d got %d", http.StatusCreated, rec.Code)
	}

	fields := annLeeFields()
	fields["email"] = "other@x.io"
	rec := srv.do(registerRequest(t, fields, true))
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected status %d got %d", http.StatusConflict, rec.Code)
	}
	env := decodeEnvelope(t, rec)
	if env.Success || env.Message != "username or email already exists" {
		t.Fatalf("unexpected envelope %+v", env)
	}
	if srv.users.Len() != 1 {
		t.Fatalf("expected one stored user, got %d", srv.users.Len())
	}
}

func TestRegisterValidationFailures(t *testing.T) {
	tests := []struct {
		name       string
		fields     func() map[string]string
		withAvatar bool
		message    string
	}{
		{
			name:       "missing avatar",
			fields:     annLeeFields,
			withAvatar: false,
			message:    "avatar is required",
		},
		{
			name: "blank username",
			fields: func() map[string]string {
				f := annLeeFields()
				f["username"] = "   "
				return f
			},
			withAvatar: true,
			message:    "all fields are required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t)

			rec := srv.do(registerRequest(t, tt.fields(), tt.withAvatar))
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected status %d got %d", http.StatusBadRequest, rec.Code)
			}
			env := decodeEnvelope(t, rec)
			if env.Message != tt.message || env.Errors == nil {
				t.Fatalf("unexpected envelope %+v", env)
			}
			if srv.users.Len() != 0 {
				t.Fatal("expected no user to be stored")
			}
		})
	}
}

func TestRegisterRejectsNonMultipart(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(jsonRequest(t, http.MethodPost, "/api/v1/users/register", annLeeFields()))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d got %d", http.StatusBadRequest, rec.Code)
	}
}

func TestRegisterRejectsOversizedBody(t *testing.T) {
	users := repositories.NewMemoryUserRepository()
	signer, _ := auth.NewSigner("a", "r", time.Minute, time.Hour)
	router := NewRouter(nil, Dependencies{
		Credentials:    auth.NewCredentialVerifier(users, storage.NewMemoryStorage(""), auth.BcryptHasher{Cost: bcrypt.MinCost}),
		Sessions:       auth.NewManager(users, signer),
		MaxUploadBytes: 64,
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, registerRequest(t, annLeeFields(), true))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d got %d", http.StatusBadRequest, rec.Code)
	}
	if users.Len() != 0 {
		t.Fatal("expected no user to be stored")
	}
}

func TestLogin(t *testing.T) {
	srv := newTestServer(t)
	srv.do(registerRequest(t, annLeeFields(), true))

	rec := srv.do(jsonRequest(t, http.MethodPost, "/api/v1/users/login", loginRequest{Email: "ANN@x.io", Password: "s3cret!"}))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
	}

	env := decodeEnvelope(t, rec)
	var data loginResponse
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if data.User.Username != "annlee" || data.AccessToken == "" || data.RefreshToken == "" {
		t.Fatalf("unexpected login data %+v", data)
	}

	refresh, ok := cookieValue(rec, RefreshTokenCookie)
	if !ok || refresh.Value != data.RefreshToken {
		t.Fatal("expected refresh cookie to carry the issued token")
	}

	stored, _ := srv.users.FindByUsernameOrEmail(context.Background(), "annlee", "")
	if stored.RefreshToken == nil || *stored.RefreshToken != data.RefreshToken {
		t.Fatal("expected the issued refresh token to be stored")
	}
}

func TestLoginForm(t *testing.T) {
	srv := newTestServer(t)
	srv.do(registerRequest(t, annLeeFields(), true))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/users/login", strings.NewReader("username=annlee&password=s3cret%21"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	if rec := srv.do(req); rec.Code != http.StatusOK {
		t.Fatalf("expected status %d got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
	}
}

func TestLoginFailures(t *testing.T) {
	srv := newTestServer(t)
	srv.do(registerRequest(t, annLeeFields(), true))

	tests := []struct {
		name   string
		req    loginRequest
		status int
	}{
		{name: "wrong password", req: loginRequest{Username: "annlee", Password: "wrong"}, status: http.StatusUnauthorized},
		{name: "unknown user", req: loginRequest{Username: "nobody", Password: "s3cret!"}, status: http.StatusNotFound},
		{name: "missing identifier", req: loginRequest{Password: "s3cret!"}, status: http.StatusBadRequest},
		{name: "blank password", req: loginRequest{Username: "annlee", Password: "   "}, status: http.StatusBadRequest},
		{name: "blank password unknown user", req: loginRequest{Username: "nobody", Password: " "}, status: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := srv.do(jsonRequest(t, http.MethodPost, "/api/v1/users/login", tt.req))
			if rec.Code != tt.status {
				t.Fatalf("expected status %d got %d", tt.status, rec.Code)
			}
			if len(rec.Result().Cookies()) != 0 {
				t.Fatal("expected no cookies on failed login")
			}
			if env := decodeEnvelope(t, rec); env.Success {
				t.Fatal("expected failure envelope")
			}
		})
	}
}

func TestRefreshRotatesTokens(t *testing.T) {
	srv := newTestServer(t)
	srv.do(registerRequest(t, annLeeFields(), true))
	tokens := srv.login(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/users/refresh-token", nil)
	req.AddCookie(&http.Cookie{Name: RefreshTokenCookie, Value: tokens.RefreshToken})
	rec := srv.do(req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
	}

	env := decodeEnvelope(t, rec)
	var data refreshResponse
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if data.RefreshToken == "" || data.RefreshToken == tokens.RefreshToken {
		t.Fatal("expected a new refresh token")
	}
	if cookie, ok := cookieValue(rec, RefreshTokenCookie); !ok || cookie.Value != data.RefreshToken {
		t.Fatal("expected refresh cookie to be replaced")
	}

	replay := srv.do(jsonRequest(t, http.MethodPost, "/api/v1/users/refresh-token", refreshRequest{RefreshToken: tokens.RefreshToken}))
	if replay.Code != http.StatusUnauthorized {
		t.Fatalf("expected replayed token to be rejected with %d got %d", http.StatusUnauthorized, replay.Code)
	}

	next := srv.do(jsonRequest(t, http.MethodPost, "/api/v1/users/refresh-token", refreshRequest{RefreshToken: data.RefreshToken}))
	if next.Code != http.StatusOK {
		t.Fatalf("expected rotated token to refresh, got %d", next.Code)
	}
}

func TestRefreshRequiresToken(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(httptest.NewRequest(http.MethodPost, "/api/v1/users/refresh-token", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d got %d", http.StatusUnauthorized, rec.Code)
	}
	if env := decodeEnvelope(t, rec); env.Message != "refresh token is required" {
		t.Fatalf("unexpected message %q", env.Message)
	}
}

func TestLogoutRevokesRefreshToken(t *testing.T) {
	srv := newTestServer(t)
	srv.do(registerRequest(t, annLeeFields(), true))
	tokens := srv.login(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/users/logout", nil)
	req.Header.Set("Authorization", "Bearer "+tokens.AccessToken)
	rec := srv.do(req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
	}

	for _, name := range []string{"accessToken", RefreshTokenCookie} {
		cookie, ok := cookieValue(rec, name)
		if !ok || cookie.MaxAge >= 0 || cookie.Value != "" {
			t.Fatalf("expected %s cookie to be cleared, got %+v", name, cookie)
		}
	}

	stored, _ := srv.users.FindByUsernameOrEmail(context.Background(), "annlee", "")
	if stored.RefreshToken != nil {
		t.Fatal("expected stored refresh token to be cleared")
	}

	refresh := srv.do(jsonRequest(t, http.MethodPost, "/api/v1/users/refresh-token", refreshRequest{RefreshToken: tokens.RefreshToken}))
	if refresh.Code != http.StatusUnauthorized {
		t.Fatalf("expected refresh after logout to fail with %d got %d", http.StatusUnauthorized, refresh.Code)
	}
}

func TestLogoutRequiresAuthentication(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(httptest.NewRequest(http.MethodPost, "/api/v1/users/logout", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d got %d", http.StatusUnauthorized, rec.Code)
	}
}

func TestMe(t *testing.T) {
	srv := newTestServer(t)
	srv.do(registerRequest(t, annLeeFields(), true))
	tokens := srv.login(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/users/me", nil)
	req.AddCookie(&http.Cookie{Name: "accessToken", Value: tokens.AccessToken})
	rec := srv.do(req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d got %d", http.StatusOK, rec.Code)
	}

	env := decodeEnvelope(t, rec)
	var profile models.Profile
	if err := json.Unmarshal(env.Data, &profile); err != nil {
		t.Fatalf("decode profile: %v", err)
	}
	if profile.Username != "annlee" || profile.WatchHistory == nil {
		t.Fatalf("unexpected profile %+v", profile)
	}
}

type denyAllLimiter struct {
	retryAfter time.Duration
}

func (l denyAllLimiter) Allow(context.Context, string) middleware.Decision {
	return middleware.Decision{RetryAfter: l.retryAfter}
}

func TestRateLimitedEndpoints(t *testing.T) {
	router := NewRouter(nil, Dependencies{RateLimiter: denyAllLimiter{retryAfter: 1500 * time.Millisecond}})

	for _, path := range []string{"/api/v1/users/register", "/api/v1/users/login", "/api/v1/users/refresh-token"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, nil))
		if rec.Code != http.StatusTooManyRequests {
			t.Fatalf("%s: expected status %d got %d", path, http.StatusTooManyRequests, rec.Code)
		}
		if got := rec.Header().Get("Retry-After"); got != "2" {
			t.Fatalf("%s: expected Retry-After 2, got %q", path, got)
		}
		env := decodeEnvelope(t, rec)
		if len(env.Errors) != 1 || env.Errors[0] != "retry after 2 seconds" {
			t.Fatalf("%s: unexpected errors %v", path, env.Errors)
		}
	}
}

func TestRateLimitedRoundsRetryUp(t *testing.T) {
	router := NewRouter(nil, Dependencies{RateLimiter: denyAllLimiter{}})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/users/login", nil))
	if got := rec.Header().Get("Retry-After"); got != "1" {
		t.Fatalf("expected Retry-After of at least one second, got %q", got)
	}
}

func TestRateLimitKeyUsesForwardedFor(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/users/login", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	if got := rateLimitKey(req, "login"); got != "login:10.0.0.1" {
		t.Fatalf("unexpected key %q", got)
	}

	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	if got := rateLimitKey(req, "login"); got != "login:203.0.113.7" {
		t.Fatalf("unexpected key %q", got)
	}
}
