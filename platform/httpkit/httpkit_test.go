package httpkit

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"lead_waterfall_backend/platform/apperr"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestIPRateLimiterBurstPerIP(t *testing.T) {
	limiter := NewIPRateLimiter(rate.Limit(1.0/60.0), 2, nil)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }

	if !limiter.allow("10.0.0.1") || !limiter.allow("10.0.0.1") {
		t.Fatal("expected burst of 2 to be allowed")
	}
	if limiter.allow("10.0.0.1") {
		t.Fatal("expected third request to be limited")
	}
	if !limiter.allow("10.0.0.2") {
		t.Fatal("expected a different IP to have its own bucket")
	}
}

func TestIPRateLimiterSweepsIdleVisitors(t *testing.T) {
	limiter := NewIPRateLimiter(rate.Limit(1), 1, nil)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }

	limiter.allow("10.0.0.1")
	limiter.allow("10.0.0.2")

	now = now.Add(limiterIdleTTL)
	limiter.allow("10.0.0.3")

	if len(limiter.visitors) != 1 {
		t.Fatalf("expected idle visitors to be swept, have %d", len(limiter.visitors))
	}
	if _, ok := limiter.visitors["10.0.0.3"]; !ok {
		t.Fatal("expected the active visitor to remain")
	}
}

func TestRateLimitMiddlewareReturns429(t *testing.T) {
	r := gin.New()
	r.POST("/form", NewIPRateLimiter(rate.Limit(1.0/60.0), 1, nil).RateLimit(), func(c *gin.Context) {
		c.Status(http.StatusCreated)
	})

	send := func() int {
		req := httptest.NewRequest(http.MethodPost, "/form", nil)
		req.RemoteAddr = "192.0.2.10:5000"
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := send(); code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", code)
	}
	if code := send(); code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", code)
	}
}

func TestHandleErrorMapsKinds(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		body   string
	}{
		{"not found", apperr.NotFound("lead not found"), http.StatusNotFound, "lead not found"},
		{"conflict wrapped", fmt.Errorf("settle: %w", apperr.Conflict("status changed")), http.StatusConflict, "status changed"},
		{"unavailable", apperr.Unavailable("ledger unavailable", errors.New("dial tcp: refused")), http.StatusServiceUnavailable, "ledger unavailable"},
		{"untyped", errors.New("pq: secret detail"), http.StatusInternalServerError, "internal error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(rec)

			if !HandleError(c, tt.err) {
				t.Fatal("expected error to be handled")
			}
			if rec.Code != tt.status {
				t.Fatalf("expected %d, got %d", tt.status, rec.Code)
			}
			var resp ErrorResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if resp.Error != tt.body {
				t.Fatalf("expected message %q, got %q", tt.body, resp.Error)
			}
		})
	}
}

func TestRequestIDReusesInboundHeader(t *testing.T) {
	r := gin.New()
	r.Use(RequestID())
	r.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(ContextRequestIDKey))
	})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Body.String() != "req-123" || rec.Header().Get("X-Request-ID") != "req-123" {
		t.Fatalf("expected inbound request id to be reused, got body=%q header=%q", rec.Body.String(), rec.Header().Get("X-Request-ID"))
	}
}
