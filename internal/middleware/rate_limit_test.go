package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/osvaldoandrade/captureq/internal/ratelimit"
)

// mockLimiter implements ratelimit.Limiter for testing
type mockLimiter struct {
	decision ratelimit.Decision
	err      error
	scopes   []string
}

func (m *mockLimiter) Allow(ctx context.Context, scope string, bucket ratelimit.Bucket) (ratelimit.Decision, error) {
	m.scopes = append(m.scopes, scope)
	return m.decision, m.err
}

func init() { gin.SetMode(gin.TestMode) }

func newRateLimitContext() (*gin.Context, *httptest.ResponseRecorder) {
	rec := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(rec)
	ctx.Request = httptest.NewRequest(http.MethodGet, "/v1/captureq/captures/abc", nil)
	ctx.Request.RemoteAddr = "203.0.113.7:5555"
	return ctx, rec
}

func TestRateLimitByClient_DisabledBucket(t *testing.T) {
	limiter := &mockLimiter{decision: ratelimit.Decision{Allowed: false}}
	ctx, _ := newRateLimitContext()

	RateLimitByClient(limiter, "ops", ratelimit.Bucket{})(ctx)

	if ctx.IsAborted() {
		t.Fatal("expected request to pass through for disabled bucket")
	}
	if len(limiter.scopes) != 0 {
		t.Fatal("limiter should not be consulted for a disabled bucket")
	}
}

func TestRateLimitByClient_AllowedDecision(t *testing.T) {
	limiter := &mockLimiter{decision: ratelimit.Decision{Allowed: true}}
	ctx, _ := newRateLimitContext()

	RateLimitByClient(limiter, "ops", ratelimit.Bucket{RequestsPerMinute: 100, BurstSize: 10})(ctx)

	if ctx.IsAborted() {
		t.Fatal("expected request to pass through when rate limit allows")
	}
	if len(limiter.scopes) != 1 || limiter.scopes[0] != "ops:203.0.113.7" {
		t.Fatalf("unexpected scopes %v", limiter.scopes)
	}
}

func TestRateLimitByClient_DeniedDecision(t *testing.T) {
	limiter := &mockLimiter{decision: ratelimit.Decision{Allowed: false, RetryAfter: 2500 * time.Millisecond}}
	ctx, rec := newRateLimitContext()

	RateLimitByClient(limiter, "ops", ratelimit.Bucket{RequestsPerMinute: 1, BurstSize: 1})(ctx)

	if !ctx.IsAborted() {
		t.Fatal("expected request to be aborted")
	}
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "2" {
		t.Fatalf("expected Retry-After=2, got %q", rec.Header().Get("Retry-After"))
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["scope"] != "ops" || body["retryAfterSeconds"] != float64(2) {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestRateLimitByClient_FailsOpen(t *testing.T) {
	limiter := &mockLimiter{err: errors.New("redis down")}
	ctx, _ := newRateLimitContext()

	RateLimitByClient(limiter, "ops", ratelimit.Bucket{RequestsPerMinute: 1, BurstSize: 1})(ctx)

	if ctx.IsAborted() {
		t.Fatal("limiter errors should not block requests")
	}
}
