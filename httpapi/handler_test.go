package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	authcore "github.com/govportal/authcore"
	"github.com/govportal/authcore/cookie"
	"github.com/govportal/authcore/middleware"
	"github.com/govportal/authcore/password"
)

const (
	testPassword   = "correct-password-123"
	testTOTPSecret = "JBSWY3DPEHPK3PXPJBSWY3DPEHPK3PXP"
	knownIP        = "203.0.113.10"
	knownUA        = "portal-web/2.1"
)

// stubProvider serves a single account for endpoint tests.
type stubProvider struct {
	user    authcore.UserRecord
	totp    *authcore.TOTPRecord
	history []authcore.LoginRecord
}

func (s *stubProvider) GetUserByUsername(_ context.Context, username string) (authcore.UserRecord, error) {
	if username == s.user.Username {
		return s.user, nil
	}
	return authcore.UserRecord{}, nil
}

func (s *stubProvider) GetUserByID(_ context.Context, userID string) (authcore.UserRecord, error) {
	if userID == s.user.UserID {
		return s.user, nil
	}
	return authcore.UserRecord{}, nil
}

func (s *stubProvider) UpdatePasswordHash(context.Context, string, string) error { return nil }

func (s *stubProvider) RecordLogin(_ context.Context, _ string, rec authcore.LoginRecord) error {
	s.history = append([]authcore.LoginRecord{rec}, s.history...)
	return nil
}

func (s *stubProvider) RecentLogins(context.Context, string, int) ([]authcore.LoginRecord, error) {
	return s.history, nil
}

func (s *stubProvider) GetTOTPSecret(context.Context, string) (*authcore.TOTPRecord, error) {
	return s.totp, nil
}
func (s *stubProvider) EnableTOTP(context.Context, string, string) error { return nil }
func (s *stubProvider) MarkTOTPVerified(context.Context, string) error   { return nil }
func (s *stubProvider) DisableTOTP(context.Context, string) error        { return nil }
func (s *stubProvider) ReplaceBackupCodes(context.Context, string, []authcore.BackupCodeRecord) error {
	return nil
}
func (s *stubProvider) ConsumeBackupCode(context.Context, string, [32]byte) (bool, error) {
	return false, nil
}

type server struct {
	handler  http.Handler
	provider *stubProvider
	codec    *cookie.Codec
}

func newServer(t *testing.T) *server {
	t.Helper()

	pwCfg := password.Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
		MinLength:   10,
	}
	hasher, err := password.New(pwCfg)
	if err != nil {
		t.Fatalf("password.New: %v", err)
	}
	hash, err := hasher.Hash(testPassword)
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}

	provider := &stubProvider{user: authcore.UserRecord{
		UserID:       "user-1",
		Username:     "aygul.n",
		Email:        "aygul.n@ministry.example",
		PasswordHash: hash,
		Role:         "editor",
		Status:       authcore.AccountActive,
	}}
	// Established device, so logins from it stay low risk.
	for i := 0; i < 3; i++ {
		provider.history = append(provider.history, authcore.LoginRecord{
			IP:        knownIP,
			UserAgent: knownUA,
			At:        time.Now().Add(-24 * time.Hour),
			Success:   true,
		})
	}

	cfg := authcore.Config{
		JWT: authcore.JWTConfig{
			AccessTTL:  15 * time.Minute,
			RefreshTTL: 7 * 24 * time.Hour,
			Secret:     []byte("0123456789abcdef0123456789abcdef"),
			Issuer:     "portal-auth",
		},
		Security: authcore.SecurityConfig{
			MaxLoginAttempts: 5,
			AttemptWindow:    15 * time.Minute,
			EnableIPThrottle: true,
			RiskHistoryDepth: 20,
			RiskBlockEnabled: true,
		},
		Session: authcore.SessionConfig{
			MaxAge:          24 * time.Hour,
			Retention:       7 * 24 * time.Hour,
			CleanupInterval: time.Hour,
		},
		TwoFactor: authcore.TwoFactorConfig{
			Issuer:          "ministry-portal",
			Digits:          6,
			Period:          30,
			Skew:            1,
			BackupCodeCount: 10,
		},
		Password: authcore.PasswordConfig{
			Memory:      pwCfg.Memory,
			Time:        pwCfg.Time,
			Parallelism: pwCfg.Parallelism,
			SaltLength:  pwCfg.SaltLength,
			KeyLength:   pwCfg.KeyLength,
			MinLength:   pwCfg.MinLength,
		},
	}

	engine, err := authcore.NewBuilder().
		WithConfig(cfg).
		WithUserProvider(provider).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(engine.Close)

	codec, err := cookie.New(cookie.Config{
		HashKey: []byte("0123456789abcdef0123456789abcdef"),
		DevMode: true,
	})
	if err != nil {
		t.Fatalf("cookie.New: %v", err)
	}

	h := New(engine, codec, nil, "/account/security/2fa")
	return &server{handler: h.Routes(), provider: provider, codec: codec}
}

func (s *server) post(t *testing.T, target, body string, cookies []*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	r.Header.Set("User-Agent", knownUA)
	r.RemoteAddr = knownIP + ":44321"
	for _, ck := range cookies {
		r.AddCookie(ck)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, r)
	return rec
}

func (s *server) login(t *testing.T, body string) *httptest.ResponseRecorder {
	t.Helper()
	return s.post(t, "/auth/login", body, nil)
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return body
}

func cookieByName(cookies []*http.Cookie, name string) *http.Cookie {
	for _, ck := range cookies {
		if ck.Name == name {
			return ck
		}
	}
	return nil
}

func TestLoginSuccess(t *testing.T) {
	s := newServer(t)
	rec := s.login(t, `{"username":"aygul.n","password":"correct-password-123"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}

	body := decodeBody(t, rec)
	if body["success"] != true {
		t.Fatalf("success = %v", body["success"])
	}
	user, ok := body["user"].(map[string]any)
	if !ok {
		t.Fatalf("user missing: %v", body)
	}
	if user["username"] != "aygul.n" || user["role"] != "editor" {
		t.Fatalf("user payload = %v", user)
	}
	if body["sessionId"] == "" || body["sessionId"] != rec.Header().Get(middleware.SessionHeader) {
		t.Fatalf("sessionId %v does not match header %q", body["sessionId"], rec.Header().Get(middleware.SessionHeader))
	}

	cookies := rec.Result().Cookies()
	for _, name := range []string{cookie.AccessTokenCookie, cookie.RefreshTokenCookie, cookie.CSRFTokenCookie} {
		ck := cookieByName(cookies, name)
		if ck == nil || ck.Value == "" {
			t.Fatalf("cookie %s not set", name)
		}
		if !ck.HttpOnly {
			t.Errorf("cookie %s not HttpOnly", name)
		}
	}
	// The body copy of the CSRF token verifies against the sealed cookie.
	csrf, _ := body["csrfToken"].(string)
	check := httptest.NewRequest(http.MethodPost, "/api/news", nil)
	check.AddCookie(cookieByName(cookies, cookie.CSRFTokenCookie))
	if err := s.codec.VerifyCSRF(check, csrf); err != nil {
		t.Fatalf("VerifyCSRF: %v", err)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	s := newServer(t)

	// Wrong password and unknown username produce identical responses.
	wrongPW := s.login(t, `{"username":"aygul.n","password":"not-the-password"}`)
	unknown := s.login(t, `{"username":"ghost","password":"not-the-password"}`)
	for _, rec := range []*httptest.ResponseRecorder{wrongPW, unknown} {
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d", rec.Code)
		}
		body := decodeBody(t, rec)
		if body["message"] != "Invalid credentials" {
			t.Fatalf("message = %v", body["message"])
		}
	}
}

func TestLoginValidatesInput(t *testing.T) {
	s := newServer(t)
	if rec := s.login(t, `{"username":"","password":""}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("empty credentials status = %d", rec.Code)
	}
	if rec := s.login(t, `{not json`); rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed body status = %d", rec.Code)
	}
}

func TestLoginRateLimited(t *testing.T) {
	s := newServer(t)
	for i := 0; i < 5; i++ {
		s.login(t, `{"username":"aygul.n","password":"not-the-password"}`)
	}
	rec := s.login(t, `{"username":"aygul.n","password":"correct-password-123"}`)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("Retry-After header missing")
	}
}

func TestLoginStepUpWithoutEnrollment(t *testing.T) {
	s := newServer(t)
	r := httptest.NewRequest(http.MethodPost, "/auth/login",
		strings.NewReader(`{"username":"aygul.n","password":"correct-password-123"}`))
	r.Header.Set("User-Agent", "unknown-browser/9.9")
	r.RemoteAddr = "198.51.100.7:50000"
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, r)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["success"] != false || body["requiresAdditionalAuth"] != true {
		t.Fatalf("payload = %v", body)
	}
	if body["setupUrl"] != "/account/security/2fa" {
		t.Fatalf("setupUrl = %v", body["setupUrl"])
	}
	if cookieByName(rec.Result().Cookies(), cookie.AccessTokenCookie) != nil {
		t.Fatal("tokens issued before step-up completed")
	}
}

func TestLoginStepUpWithTOTP(t *testing.T) {
	s := newServer(t)
	s.provider.user.TOTPEnabled = true
	s.provider.totp = &authcore.TOTPRecord{
		Secret:   testTOTPSecret,
		Enabled:  true,
		Verified: true,
	}

	risky := func(body string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(body))
		r.Header.Set("User-Agent", "unknown-browser/9.9")
		r.RemoteAddr = "198.51.100.7:50000"
		rec := httptest.NewRecorder()
		s.handler.ServeHTTP(rec, r)
		return rec
	}

	// First pass: challenged, no tokens.
	rec := risky(`{"username":"aygul.n","password":"correct-password-123"}`)
	body := decodeBody(t, rec)
	if body["requiresTwoFactor"] != true {
		t.Fatalf("payload = %v", body)
	}

	// Second pass with a valid code completes the login.
	code, err := totp.GenerateCodeCustom(testTOTPSecret, time.Now().UTC(), totp.ValidateOpts{
		Period: 30,
		Skew:   1,
		Digits: otp.DigitsSix,
	})
	if err != nil {
		t.Fatalf("GenerateCodeCustom: %v", err)
	}
	rec = risky(`{"username":"aygul.n","password":"correct-password-123","twoFactorToken":"` + code + `"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	if body = decodeBody(t, rec); body["success"] != true {
		t.Fatalf("payload = %v", body)
	}
}

func TestLoginWrongTwoFactorCodeKeepsChallengeMarker(t *testing.T) {
	s := newServer(t)
	s.provider.user.TOTPEnabled = true
	s.provider.totp = &authcore.TOTPRecord{
		Secret:   testTOTPSecret,
		Enabled:  true,
		Verified: true,
	}

	rec := s.login(t, `{"username":"aygul.n","password":"correct-password-123","twoFactorToken":"000000"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["requiresTwoFactor"] != true {
		t.Fatalf("payload = %v", body)
	}
	// A bad code re-prompts for the code; it must not read like a bad
	// password.
	if body["message"] == "Invalid credentials" {
		t.Fatal("second-factor failure collapsed into the password failure")
	}
	if cookieByName(rec.Result().Cookies(), cookie.AccessTokenCookie) != nil {
		t.Fatal("tokens issued on a rejected code")
	}
}

func TestRefreshRotatesTokens(t *testing.T) {
	s := newServer(t)
	loginRec := s.login(t, `{"username":"aygul.n","password":"correct-password-123"}`)
	refresh := cookieByName(loginRec.Result().Cookies(), cookie.RefreshTokenCookie)
	if refresh == nil {
		t.Fatal("refresh cookie not set")
	}

	rec := s.post(t, "/auth/refresh", "", []*http.Cookie{refresh})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	cookies := rec.Result().Cookies()
	if cookieByName(cookies, cookie.AccessTokenCookie) == nil ||
		cookieByName(cookies, cookie.RefreshTokenCookie) == nil {
		t.Fatal("rotated cookies not set")
	}
}

func TestRefreshRejectsMissingCookie(t *testing.T) {
	s := newServer(t)
	rec := s.post(t, "/auth/refresh", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestRefreshRejectsGarbageToken(t *testing.T) {
	s := newServer(t)
	// A cookie that fails to decode never reaches the engine.
	rec := s.post(t, "/auth/refresh", "", []*http.Cookie{
		{Name: cookie.RefreshTokenCookie, Value: "garbage"},
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestLogoutClearsCookies(t *testing.T) {
	s := newServer(t)
	loginRec := s.login(t, `{"username":"aygul.n","password":"correct-password-123"}`)
	loginCookies := loginRec.Result().Cookies()
	sessionID := loginRec.Header().Get(middleware.SessionHeader)

	r := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	r.Header.Set("User-Agent", knownUA)
	r.RemoteAddr = knownIP + ":44321"
	r.Header.Set(middleware.SessionHeader, sessionID)
	for _, ck := range loginCookies {
		r.AddCookie(ck)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, r)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}

	for _, name := range []string{cookie.AccessTokenCookie, cookie.RefreshTokenCookie, cookie.CSRFTokenCookie} {
		ck := cookieByName(rec.Result().Cookies(), name)
		if ck == nil || ck.MaxAge >= 0 {
			t.Errorf("cookie %s not expired on logout", name)
		}
	}
}

func TestSessionsListsCurrent(t *testing.T) {
	s := newServer(t)
	loginRec := s.login(t, `{"username":"aygul.n","password":"correct-password-123"}`)
	sessionID := loginRec.Header().Get(middleware.SessionHeader)

	r := httptest.NewRequest(http.MethodGet, "/auth/sessions", nil)
	r.Header.Set("User-Agent", knownUA)
	r.RemoteAddr = knownIP + ":44321"
	r.Header.Set(middleware.SessionHeader, sessionID)
	for _, ck := range loginRec.Result().Cookies() {
		r.AddCookie(ck)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, r)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}

	var body struct {
		Success  bool `json:"success"`
		Sessions []struct {
			SessionID string `json:"sessionId"`
			IPAddress string `json:"ipAddress"`
			Current   bool   `json:"current"`
		} `json:"sessions"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.Success || len(body.Sessions) != 1 {
		t.Fatalf("payload = %+v", body)
	}
	if got := body.Sessions[0]; got.SessionID != sessionID || !got.Current || got.IPAddress != knownIP {
		t.Fatalf("session = %+v", got)
	}
}

func TestEndpointsRequireAuth(t *testing.T) {
	s := newServer(t)
	for _, tc := range []struct {
		method, target string
	}{
		{http.MethodPost, "/auth/logout"},
		{http.MethodPost, "/auth/logout-all"},
		{http.MethodGet, "/auth/sessions"},
	} {
		r := httptest.NewRequest(tc.method, tc.target, nil)
		rec := httptest.NewRecorder()
		s.handler.ServeHTTP(rec, r)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s %s status = %d", tc.method, tc.target, rec.Code)
		}
	}
}
