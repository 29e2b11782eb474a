package routes_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/arklim/genstudio-auth/internal/infra/config"
	"github.com/arklim/genstudio-auth/internal/infra/security"
	redisrepo "github.com/arklim/genstudio-auth/internal/repository/redis"
	"github.com/arklim/genstudio-auth/internal/transport/http/handlers"
	"github.com/arklim/genstudio-auth/internal/transport/http/middleware"
	httproutes "github.com/arklim/genstudio-auth/internal/transport/http/routes"
	"github.com/arklim/genstudio-auth/internal/usecase"
)

const testAdminKey = "admin-secret"

type testServer struct {
	router *gin.Engine
	mailer *captureMailer
	users  *memUsers
	tokens *security.TokenManager
}

func newTestServer(t *testing.T, tweak func(*config.AppConfig)) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := zaptest.NewLogger(t)

	cfg := &config.AppConfig{
		App:    config.AppSettings{Env: "test", AllowedOrigins: []string{"http://localhost:3000"}},
		Cookie: config.CookieSettings{RefreshName: "refreshToken", Path: "/"},
		JWT:    config.JWTSettings{RefreshTokenTTL: 7 * 24 * time.Hour},
		RateLimit: config.RateLimitSettings{
			WindowDuration:      time.Minute,
			LoginMaxAttempts:    50,
			RegisterMaxAttempts: 50,
			OTPMaxAttempts:      50,
		},
		Admin: config.AdminSettings{APIKey: testAdminKey},
	}
	if tweak != nil {
		tweak(cfg)
	}

	mr := miniredis.RunT(t)
	rc := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rc.Close() })

	tokens, err := security.NewTokenManager(security.TokenManagerConfig{
		AccessSecret:  "access-secret-for-tests",
		RefreshSecret: "refresh-secret-for-tests",
		Issuer:        "genstudio-auth",
	})
	if err != nil {
		t.Fatalf("token manager: %v", err)
	}
	hasher, err := security.NewPasswordHasher(security.Argon2Params{Memory: 8 * 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32})
	if err != nil {
		t.Fatalf("hasher: %v", err)
	}

	users := newMemUsers()
	mailer := &captureMailer{}
	otps := usecase.NewOTPService(redisrepo.NewOTPRepository(rc, "test:otp"), config.OTPSettings{})
	auth := usecase.NewAuthService(users, otps, tokens, hasher, log, usecase.WithMailer(mailer))
	credits, err := usecase.NewCreditService(newMemLedgers(), users, config.CreditSettings{
		FreeGenerations: 3,
		FreeEdits:       7,
		Plans:           "pro:500:1000:price_pro",
	}, log)
	if err != nil {
		t.Fatalf("credit service: %v", err)
	}

	metrics, err := middleware.NewHTTPMetrics(middleware.HTTPMetricsOptions{Registerer: prometheus.NewRegistry()})
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}

	limiter := middleware.NewRateLimiter(redisrepo.NewRateLimitRepository(rc, redisrepo.SlidingWindowConfig{
		KeyPrefix: "test:rl",
		TTL:       time.Minute,
	}), log)

	router := httproutes.Register(httproutes.Dependencies{
		Config:      cfg,
		Logger:      log,
		RateLimiter: limiter,
		Metrics:     metrics,
		Services: httproutes.ServiceSet{
			Auth:    auth,
			Credits: credits,
			Billing: usecase.NewBillingService(nil, credits, log),
		},
	})
	return &testServer{router: router, mailer: mailer, users: users, tokens: tokens}
}

type call struct {
	method string
	path   string
	body   any
	bearer string
	cookie *http.Cookie
	header map[string]string
}

func (s *testServer) do(t *testing.T, c call) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if c.body != nil {
		if err := json.NewEncoder(&buf).Encode(c.body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(c.method, c.path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if c.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearer)
	}
	if c.cookie != nil {
		req.AddCookie(c.cookie)
	}
	for k, v := range c.header {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return out
}

func refreshCookie(t *testing.T, rr *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rr.Result().Cookies() {
		if c.Name == "refreshToken" {
			return c
		}
	}
	t.Fatalf("no refresh cookie in response, headers %v", rr.Header())
	return nil
}

func expectStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Fatalf("expected status %d, got %d: %s", want, rr.Code, rr.Body.String())
	}
}

func TestHealthEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := &config.AppConfig{App: config.AppSettings{Env: "test"}}

	r := httproutes.Register(httproutes.Dependencies{
		Config: cfg,
		Logger: zap.NewNop(),
	})
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/healthz", nil)

	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
}

func TestSignUpVerifyAndMeterFlow(t *testing.T) {
	srv := newTestServer(t, nil)
	email := "ann@x.com"

	rr := srv.do(t, call{method: http.MethodPost, path: "/api/v1/auth/register", body: map[string]string{
		"name": "Ann", "email": email, "password": "secret1",
	}})
	expectStatus(t, rr, http.StatusCreated)
	reg := decode[handlers.RegisterResponse](t, rr)
	if !reg.RequiresVerification || reg.User.IsEmailVerified {
		t.Fatalf("unexpected registration response %+v", reg)
	}
	if len(rr.Result().Cookies()) != 0 {
		t.Fatalf("registration must not set cookies")
	}

	rr = srv.do(t, call{method: http.MethodPost, path: "/api/v1/auth/register", body: map[string]string{
		"name": "Ann", "email": email, "password": "secret1",
	}})
	expectStatus(t, rr, http.StatusConflict)

	rr = srv.do(t, call{method: http.MethodPost, path: "/api/v1/auth/login", body: map[string]string{
		"email": email, "password": "secret1",
	}})
	expectStatus(t, rr, http.StatusForbidden)
	pending := decode[handlers.VerificationRequiredResponse](t, rr)
	if !pending.RequiresVerification || pending.Email != email {
		t.Fatalf("unexpected verification response %+v", pending)
	}

	code := srv.mailer.code(email)
	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}
	rr = srv.do(t, call{method: http.MethodPost, path: "/api/v1/auth/verify-email", body: map[string]string{
		"email": email, "otp": wrong,
	}})
	expectStatus(t, rr, http.StatusBadRequest)
	if mismatch := decode[handlers.OTPMismatchResponse](t, rr); mismatch.RemainingAttempts != 4 {
		t.Fatalf("expected 4 remaining attempts, got %d", mismatch.RemainingAttempts)
	}

	rr = srv.do(t, call{method: http.MethodPost, path: "/api/v1/auth/verify-email", body: map[string]string{
		"email": email, "otp": code,
	}})
	expectStatus(t, rr, http.StatusOK)
	signedIn := decode[handlers.AuthResponse](t, rr)
	cookie := refreshCookie(t, rr)
	if !cookie.HttpOnly || cookie.SameSite != http.SameSiteStrictMode || cookie.MaxAge != 7*24*3600 {
		t.Fatalf("unexpected refresh cookie %+v", cookie)
	}
	if signedIn.AccessToken == "" || signedIn.TokenType != "Bearer" || !signedIn.User.IsEmailVerified {
		t.Fatalf("unexpected auth response %+v", signedIn)
	}

	rr = srv.do(t, call{method: http.MethodGet, path: "/api/v1/auth/me", bearer: signedIn.AccessToken})
	expectStatus(t, rr, http.StatusOK)
	if me := decode[handlers.ProfileResponse](t, rr); me.Email != email || me.Provider != "email" {
		t.Fatalf("unexpected profile %+v", me)
	}

	rr = srv.do(t, call{method: http.MethodGet, path: "/api/v1/credits", bearer: signedIn.AccessToken})
	expectStatus(t, rr, http.StatusOK)
	if credits := decode[handlers.CreditsResponse](t, rr); credits.Generations.Limit != 3 || credits.Edits.Limit != 7 {
		t.Fatalf("unexpected free tier %+v", credits)
	}

	for i := 0; i < 3; i++ {
		rr = srv.do(t, call{method: http.MethodPost, path: "/api/v1/credits/consume", bearer: signedIn.AccessToken, body: map[string]string{"resource": "generation"}})
		expectStatus(t, rr, http.StatusOK)
	}
	rr = srv.do(t, call{method: http.MethodPost, path: "/api/v1/credits/consume", bearer: signedIn.AccessToken, body: map[string]string{"resource": "generation"}})
	expectStatus(t, rr, http.StatusPaymentRequired)
	quota := decode[handlers.QuotaExceededResponse](t, rr)
	if !quota.UpgradeRequired || quota.Resource != "generation" || quota.Used != 3 || quota.Limit != 3 {
		t.Fatalf("unexpected quota response %+v", quota)
	}

	rr = srv.do(t, call{method: http.MethodGet, path: "/api/v1/credits/check?resource=generation", bearer: signedIn.AccessToken})
	expectStatus(t, rr, http.StatusOK)
	if check := decode[handlers.CreditCheckResponse](t, rr); check.Allowed {
		t.Fatalf("expected generation to be exhausted")
	}
	rr = srv.do(t, call{method: http.MethodGet, path: "/api/v1/credits/check?resource=video", bearer: signedIn.AccessToken})
	expectStatus(t, rr, http.StatusBadRequest)

	rr = srv.do(t, call{method: http.MethodPost, path: "/api/v1/admin/credits/" + signedIn.User.ID + "/reset"})
	expectStatus(t, rr, http.StatusUnauthorized)
	rr = srv.do(t, call{method: http.MethodPost, path: "/api/v1/admin/credits/" + signedIn.User.ID + "/reset", header: map[string]string{middleware.AdminKeyHeader: "nope"}})
	expectStatus(t, rr, http.StatusForbidden)
	rr = srv.do(t, call{method: http.MethodPost, path: "/api/v1/admin/credits/" + signedIn.User.ID + "/reset", header: map[string]string{middleware.AdminKeyHeader: testAdminKey}})
	expectStatus(t, rr, http.StatusOK)
	if credits := decode[handlers.CreditsResponse](t, rr); credits.Generations.Used != 0 {
		t.Fatalf("expected usage reset, got %+v", credits)
	}

	rr = srv.do(t, call{method: http.MethodPost, path: "/api/v1/admin/credits/" + signedIn.User.ID + "/plan",
		header: map[string]string{middleware.AdminKeyHeader: testAdminKey}, body: map[string]string{"plan_id": "pro"}})
	expectStatus(t, rr, http.StatusOK)
	if credits := decode[handlers.CreditsResponse](t, rr); credits.Generations.Limit != 500 || credits.ActivePlanID == nil || *credits.ActivePlanID != "pro" {
		t.Fatalf("expected pro plan, got %+v", credits)
	}

	rr = srv.do(t, call{method: http.MethodPost, path: "/api/v1/billing/checkout", bearer: signedIn.AccessToken, body: map[string]string{"plan_id": "pro"}})
	expectStatus(t, rr, http.StatusServiceUnavailable)
}

func TestRefreshRotationAndLogout(t *testing.T) {
	srv := newTestServer(t, nil)
	email := "bob@x.com"

	srv.do(t, call{method: http.MethodPost, path: "/api/v1/auth/register", body: map[string]string{
		"name": "Bob", "email": email, "password": "secret1",
	}})
	rr := srv.do(t, call{method: http.MethodPost, path: "/api/v1/auth/verify-email", body: map[string]string{
		"email": email, "otp": srv.mailer.code(email),
	}})
	expectStatus(t, rr, http.StatusOK)
	first := refreshCookie(t, rr)

	rr = srv.do(t, call{method: http.MethodPost, path: "/api/v1/auth/refresh"})
	expectStatus(t, rr, http.StatusUnauthorized)

	rr = srv.do(t, call{method: http.MethodPost, path: "/api/v1/auth/refresh", cookie: first})
	expectStatus(t, rr, http.StatusOK)
	second := refreshCookie(t, rr)
	if second.Value == first.Value {
		t.Fatalf("expected a rotated refresh token")
	}

	// Replaying the rotated token fails and clears the cookie.
	rr = srv.do(t, call{method: http.MethodPost, path: "/api/v1/auth/refresh", cookie: first})
	expectStatus(t, rr, http.StatusUnauthorized)
	if cleared := refreshCookie(t, rr); cleared.MaxAge >= 0 || cleared.Value != "" {
		t.Fatalf("expected cleared cookie, got %+v", cleared)
	}

	rr = srv.do(t, call{method: http.MethodPost, path: "/api/v1/auth/logout", cookie: second})
	expectStatus(t, rr, http.StatusOK)
	if cleared := refreshCookie(t, rr); cleared.MaxAge >= 0 {
		t.Fatalf("expected logout to clear cookie, got %+v", cleared)
	}

	rr = srv.do(t, call{method: http.MethodPost, path: "/api/v1/auth/refresh", cookie: second})
	expectStatus(t, rr, http.StatusUnauthorized)

	// Logout without any cookie still succeeds.
	rr = srv.do(t, call{method: http.MethodPost, path: "/api/v1/auth/logout"})
	expectStatus(t, rr, http.StatusOK)
}

func TestLogoutAllRevokesRefreshTokens(t *testing.T) {
	srv := newTestServer(t, nil)
	email := "cy@x.com"

	srv.do(t, call{method: http.MethodPost, path: "/api/v1/auth/register", body: map[string]string{
		"name": "Cy", "email": email, "password": "secret1",
	}})
	rr := srv.do(t, call{method: http.MethodPost, path: "/api/v1/auth/verify-email", body: map[string]string{
		"email": email, "otp": srv.mailer.code(email),
	}})
	expectStatus(t, rr, http.StatusOK)
	cookie := refreshCookie(t, rr)
	access := decode[handlers.AuthResponse](t, rr).AccessToken

	rr = srv.do(t, call{method: http.MethodPost, path: "/api/v1/auth/logout-all"})
	expectStatus(t, rr, http.StatusUnauthorized)

	rr = srv.do(t, call{method: http.MethodPost, path: "/api/v1/auth/logout-all", bearer: access})
	expectStatus(t, rr, http.StatusOK)

	rr = srv.do(t, call{method: http.MethodPost, path: "/api/v1/auth/refresh", cookie: cookie})
	expectStatus(t, rr, http.StatusUnauthorized)
}

func TestResendOTPCooldownAndUnverifiedCredits(t *testing.T) {
	srv := newTestServer(t, nil)
	email := "dee@x.com"

	rr := srv.do(t, call{method: http.MethodPost, path: "/api/v1/auth/register", body: map[string]string{
		"name": "Dee", "email": email, "password": "secret1",
	}})
	expectStatus(t, rr, http.StatusCreated)

	rr = srv.do(t, call{method: http.MethodPost, path: "/api/v1/auth/resend-otp", body: map[string]string{"email": email}})
	expectStatus(t, rr, http.StatusTooManyRequests)
	if rr.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}

	rr = srv.do(t, call{method: http.MethodPost, path: "/api/v1/auth/register", body: map[string]string{
		"name": "D", "email": "short@x.com", "password": "secret1",
	}})
	expectStatus(t, rr, http.StatusBadRequest)
	if body := decode[handlers.ErrorResponse](t, rr); body.Field != "name" {
		t.Fatalf("expected name validation error, got %+v", body)
	}
}

func TestLoginIsRateLimitedPerIP(t *testing.T) {
	srv := newTestServer(t, func(cfg *config.AppConfig) {
		cfg.RateLimit.LoginMaxAttempts = 2
	})

	for i := 0; i < 2; i++ {
		rr := srv.do(t, call{method: http.MethodPost, path: "/api/v1/auth/login", body: map[string]string{
			"email": "ghost@x.com", "password": "whatever",
		}})
		expectStatus(t, rr, http.StatusUnauthorized)
	}

	rr := srv.do(t, call{method: http.MethodPost, path: "/api/v1/auth/login", body: map[string]string{
		"email": "ghost@x.com", "password": "whatever",
	}})
	expectStatus(t, rr, http.StatusTooManyRequests)
	if !strings.Contains(rr.Body.String(), "retry_after") {
		t.Fatalf("expected retry_after in body, got %s", rr.Body.String())
	}
}

func TestProtectedRoutesRequireVerifiedBearer(t *testing.T) {
	srv := newTestServer(t, nil)

	rr := srv.do(t, call{method: http.MethodGet, path: "/api/v1/credits"})
	expectStatus(t, rr, http.StatusUnauthorized)

	rr = srv.do(t, call{method: http.MethodGet, path: "/api/v1/credits", bearer: "not-a-jwt"})
	expectStatus(t, rr, http.StatusUnauthorized)
	if body := decode[handlers.ErrorResponse](t, rr); body.Error != "invalid access token" || body.TraceID == "" {
		t.Fatalf("unexpected body %+v", body)
	}
}

func TestCreditCheckServesAnonymousCallers(t *testing.T) {
	srv := newTestServer(t, nil)

	cases := map[string]struct {
		path   string
		bearer string
		limit  int
	}{
		"no token generation":   {path: "/api/v1/credits/check?resource=generation", limit: 3},
		"no token edit":         {path: "/api/v1/credits/check?resource=edit", limit: 7},
		"invalid token is anon": {path: "/api/v1/credits/check?resource=edit", bearer: "not-a-jwt", limit: 7},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			rr := srv.do(t, call{method: http.MethodGet, path: tc.path, bearer: tc.bearer})
			expectStatus(t, rr, http.StatusOK)
			body := decode[handlers.CreditCheckResponse](t, rr)
			if !body.Anonymous || !body.Allowed || body.FreeLimit == nil || *body.FreeLimit != tc.limit {
				t.Fatalf("unexpected anonymous answer %+v", body)
			}
		})
	}

	rr := srv.do(t, call{method: http.MethodGet, path: "/api/v1/credits/check?resource=video"})
	expectStatus(t, rr, http.StatusBadRequest)

	// The other ledger routes still insist on a verified bearer.
	rr = srv.do(t, call{method: http.MethodPost, path: "/api/v1/credits/consume", body: map[string]string{"resource": "generation"}})
	expectStatus(t, rr, http.StatusUnauthorized)
}

func TestCreditCheckRejectsUnverifiedCaller(t *testing.T) {
	srv := newTestServer(t, nil)
	email := "eve@x.com"

	rr := srv.do(t, call{method: http.MethodPost, path: "/api/v1/auth/register", body: map[string]string{
		"name": "Eve", "email": email, "password": "secret1",
	}})
	expectStatus(t, rr, http.StatusCreated)

	user, err := srv.users.GetByEmail(context.Background(), email)
	if err != nil {
		t.Fatalf("lookup registered user: %v", err)
	}
	access, _, err := srv.tokens.IssueAccessToken(security.AccessClaimsInput{UserID: user.ID, Email: email, Name: "Eve"})
	if err != nil {
		t.Fatalf("issue access token: %v", err)
	}

	rr = srv.do(t, call{method: http.MethodGet, path: "/api/v1/credits/check?resource=generation", bearer: access})
	expectStatus(t, rr, http.StatusForbidden)
	if body := decode[handlers.VerificationRequiredResponse](t, rr); !body.RequiresVerification {
		t.Fatalf("expected requires_verification, got %+v", body)
	}
}
