package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap/zaptest"

	"github.com/arklim/genstudio-auth/internal/core/port"
)

type admitCall struct {
	key    string
	limit  int
	window time.Duration
}

// fakeRateLimitStore answers every key with the same window unless byKey overrides it.
type fakeRateLimitStore struct {
	window port.RateLimitWindow
	byKey  map[string]port.RateLimitWindow
	err    error
	calls  []admitCall
}

func (f *fakeRateLimitStore) Admit(_ context.Context, key string, limit int, window time.Duration, _ time.Time) (port.RateLimitWindow, error) {
	f.calls = append(f.calls, admitCall{key: key, limit: limit, window: window})
	if f.err != nil {
		return port.RateLimitWindow{}, f.err
	}
	if w, ok := f.byKey[key]; ok {
		return w, nil
	}
	return f.window, nil
}

func fixedIP(c *gin.Context) (string, bool) { return "192.0.2.1", true }

func serveRateLimited(t *testing.T, store port.RateLimitStore, now time.Time, rules ...RateLimitRule) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)

	limiter := NewRateLimiter(store, zaptest.NewLogger(t)).WithClock(func() time.Time { return now })
	router := gin.New()
	router.Use(EnrichContext(), limiter.RateLimit(rules...))
	router.POST("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/", nil))
	return rr
}

func TestRateLimiterAllowsWhenAdmitted(t *testing.T) {
	now := time.Date(2025, 10, 12, 10, 0, 0, 0, time.UTC)
	oldest := now.Add(-30 * time.Second)
	store := &fakeRateLimitStore{window: port.RateLimitWindow{Count: 3, Admitted: true, Oldest: oldest}}

	rr := serveRateLimited(t, store, now, RateLimitRule{Name: "auth_login_ip", Limit: 5, Window: time.Minute, Identifier: fixedIP})

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if len(store.calls) != 1 || store.calls[0] != (admitCall{key: "auth_login_ip:192.0.2.1", limit: 5, window: time.Minute}) {
		t.Fatalf("unexpected store calls %+v", store.calls)
	}
	if got := rr.Header().Get("X-RateLimit-Limit"); got != "5" {
		t.Fatalf("expected limit header 5, got %q", got)
	}
	if got := rr.Header().Get("X-RateLimit-Remaining"); got != "2" {
		t.Fatalf("expected remaining header 2, got %q", got)
	}
	expectedReset := oldest.Add(time.Minute).Unix()
	if got := rr.Header().Get("X-RateLimit-Reset"); got != strconv.FormatInt(expectedReset, 10) {
		t.Fatalf("expected reset header %d, got %q", expectedReset, got)
	}
	if got := rr.Header().Get("Retry-After"); got != "" {
		t.Fatalf("expected no retry-after header, got %q", got)
	}
}

func TestRateLimiterBlocksWhenRejected(t *testing.T) {
	now := time.Date(2025, 10, 12, 10, 0, 0, 0, time.UTC)
	store := &fakeRateLimitStore{window: port.RateLimitWindow{Count: 5, Oldest: now.Add(-30 * time.Second)}}

	rr := serveRateLimited(t, store, now, RateLimitRule{Name: "auth_login_ip", Limit: 5, Window: time.Minute, Identifier: fixedIP})

	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if got := rr.Header().Get("Retry-After"); got != "30" {
		t.Fatalf("expected retry-after 30, got %q", got)
	}
	if got := rr.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Fatalf("expected remaining 0, got %q", got)
	}

	var body RateLimitResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body.Error != "too many requests" || body.RetryAfter != 30 {
		t.Fatalf("unexpected body %+v", body)
	}
	if body.TraceID == "" || body.TraceID != rr.Header().Get(TraceIDHeader) {
		t.Fatalf("expected trace id in body to match header, got %q", body.TraceID)
	}
}

func TestRateLimiterAppliesTightestRuleHeaders(t *testing.T) {
	now := time.Date(2025, 10, 12, 10, 0, 0, 0, time.UTC)
	store := &fakeRateLimitStore{window: port.RateLimitWindow{Count: 2, Admitted: true, Oldest: now}}

	rr := serveRateLimited(t, store, now,
		RateLimitRule{Name: "wide", Limit: 100, Window: time.Hour, Identifier: fixedIP},
		RateLimitRule{Name: "narrow", Limit: 3, Window: time.Minute, Identifier: fixedIP},
		RateLimitRule{Name: "disabled", Limit: 0, Window: time.Minute, Identifier: fixedIP},
	)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got := rr.Header().Get("X-RateLimit-Limit"); got != "3" {
		t.Fatalf("expected tightest limit header 3, got %q", got)
	}
	if got := rr.Header().Get("X-RateLimit-Remaining"); got != "1" {
		t.Fatalf("expected remaining 1, got %q", got)
	}
	if len(store.calls) != 2 || store.calls[1].key != "narrow:192.0.2.1" {
		t.Fatalf("unexpected store calls %+v", store.calls)
	}
}

func TestRateLimiterStopsAtFirstRejectingRule(t *testing.T) {
	now := time.Date(2025, 10, 12, 10, 0, 0, 0, time.UTC)
	store := &fakeRateLimitStore{
		window: port.RateLimitWindow{Count: 1, Admitted: true, Oldest: now},
		byKey: map[string]port.RateLimitWindow{
			"burst:192.0.2.1": {Count: 2, Oldest: now.Add(-5 * time.Second)},
		},
	}

	rr := serveRateLimited(t, store, now,
		RateLimitRule{Name: "burst", Limit: 2, Window: 10 * time.Second, Identifier: fixedIP},
		RateLimitRule{Name: "hourly", Limit: 50, Window: time.Hour, Identifier: fixedIP},
	)

	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if got := rr.Header().Get("Retry-After"); got != "5" {
		t.Fatalf("expected retry-after 5, got %q", got)
	}
	if len(store.calls) != 1 {
		t.Fatalf("expected later rules to be skipped, got %+v", store.calls)
	}
}

func TestRateLimiterSkipsMissingIdentifier(t *testing.T) {
	store := &fakeRateLimitStore{}
	noIdentity := func(c *gin.Context) (string, bool) { return "", false }

	rr := serveRateLimited(t, store, time.Now(), RateLimitRule{Name: "auth_login_ip", Limit: 1, Window: time.Minute, Identifier: noIdentity})

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if len(store.calls) != 0 || rr.Header().Get("X-RateLimit-Limit") != "" {
		t.Fatalf("expected no evaluation without an identifier")
	}
}

func TestRateLimiterFailsOpenOnStoreError(t *testing.T) {
	store := &fakeRateLimitStore{err: errors.New("redis down")}

	rr := serveRateLimited(t, store, time.Now(), RateLimitRule{Name: "auth_login_ip", Limit: 5, Window: time.Minute, Identifier: fixedIP})

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 when failing open, got %d", rr.Code)
	}
	if got := rr.Header().Get("X-RateLimit-Limit"); got != "" {
		t.Fatalf("expected no rate limit headers on store failure, got %q", got)
	}
}
