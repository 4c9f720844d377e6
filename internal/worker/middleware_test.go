package worker

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestSecurityHeaders(t *testing.T) {
	handler := SecurityHeaders(okHandler)

	req := httptest.NewRequest("GET", "/api/features", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	tests := []struct {
		header   string
		expected string
	}{
		{"X-Frame-Options", "DENY"},
		{"X-Content-Type-Options", "nosniff"},
		{"X-XSS-Protection", "1; mode=block"},
		{"Referrer-Policy", "strict-origin-when-cross-origin"},
		{"Content-Security-Policy", "default-src 'self'"},
	}
	for _, tt := range tests {
		if got := rr.Header().Get(tt.header); got != tt.expected {
			t.Errorf("SecurityHeaders() %s = %q, want %q", tt.header, got, tt.expected)
		}
	}
}

func TestSecurityHeaders_CORS(t *testing.T) {
	handler := SecurityHeaders(okHandler)

	tests := []struct {
		name       string
		origin     string
		expectCORS bool
	}{
		{name: "dashboard origin allowed", origin: "http://localhost:37800", expectCORS: true},
		{name: "vite dev server allowed", origin: "http://127.0.0.1:5173", expectCORS: true},
		{name: "external origin blocked", origin: "http://evil.com"},
		{name: "suffix bypass blocked", origin: "http://evil-localhost.com"},
		{name: "subdomain bypass blocked", origin: "http://localhost.evil.com"},
		{name: "no origin header"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/features", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			cors := rr.Header().Get("Access-Control-Allow-Origin")
			if tt.expectCORS {
				assert.Equal(t, tt.origin, cors)
			} else {
				assert.Empty(t, cors)
			}
		})
	}
}

func TestSecurityHeaders_Preflight(t *testing.T) {
	handler := SecurityHeaders(okHandler)

	req := httptest.NewRequest("OPTIONS", "/api/features/x", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Contains(t, rr.Header().Get("Access-Control-Allow-Methods"), "PATCH")
}

func TestMaxBodySize(t *testing.T) {
	handler := MaxBodySize(100)(okHandler)

	tests := []struct {
		name           string
		contentLength  int64
		expectedStatus int
	}{
		{"within limit", 50, http.StatusOK},
		{"at limit", 100, http.StatusOK},
		{"exceeds limit", 150, http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/api/feedback", nil)
			req.ContentLength = tt.contentLength
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if rr.Code != tt.expectedStatus {
				t.Errorf("MaxBodySize() status = %d, want %d", rr.Code, tt.expectedStatus)
			}
		})
	}
}

func TestTokenAuth(t *testing.T) {
	t.Run("empty token allows all requests", func(t *testing.T) {
		ta := NewTokenAuth("")
		assert.False(t, ta.IsEnabled())

		rr := httptest.NewRecorder()
		ta.Middleware(okHandler).ServeHTTP(rr, httptest.NewRequest("GET", "/api/features", nil))
		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("configured token is required", func(t *testing.T) {
		ta := NewTokenAuth("s3cret")
		handler := ta.Middleware(okHandler)

		cases := []struct {
			name   string
			header string
			value  string
			want   int
		}{
			{"missing", "", "", http.StatusUnauthorized},
			{"wrong", "X-Auth-Token", "nope", http.StatusUnauthorized},
			{"x-auth-token", "X-Auth-Token", "s3cret", http.StatusOK},
			{"bearer", "Authorization", "Bearer s3cret", http.StatusOK},
			{"basic scheme ignored", "Authorization", "Basic s3cret", http.StatusUnauthorized},
		}
		for _, c := range cases {
			req := httptest.NewRequest("GET", "/api/features", nil)
			if c.header != "" {
				req.Header.Set(c.header, c.value)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)
			assert.Equal(t, c.want, rr.Code, c.name)
		}
	})

	t.Run("exempt paths skip auth", func(t *testing.T) {
		handler := NewTokenAuth("s3cret").Middleware(okHandler)
		for _, path := range []string{"/health", "/api/health", "/api/ready"} {
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, httptest.NewRequest("GET", path, nil))
			assert.Equal(t, http.StatusOK, rr.Code, path)
		}
	})
}

func TestRequestID(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("GET", "/", nil))
	require.NotEmpty(t, seen)
	assert.Equal(t, seen, rr.Header().Get("X-Request-ID"))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Request-ID", "test-id-12345")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, "test-id-12345", seen)
	assert.Equal(t, "test-id-12345", rr.Header().Get("X-Request-ID"))
}

func TestRequireJSONContentType(t *testing.T) {
	handler := RequireJSONContentType(okHandler)

	tests := []struct {
		name           string
		method         string
		path           string
		contentType    string
		expectedStatus int
	}{
		{"GET without content-type", "GET", "/api/features", "", http.StatusOK},
		{"POST json", "POST", "/api/feedback", "application/json", http.StatusOK},
		{"POST json with charset", "POST", "/api/feedback", "application/json; charset=utf-8", http.StatusOK},
		{"POST without content-type", "POST", "/api/features/reprocess", "", http.StatusOK},
		{"POST text/plain rejected", "POST", "/api/feedback", "text/plain", http.StatusUnsupportedMediaType},
		{"PATCH form rejected", "PATCH", "/api/features/x", "application/x-www-form-urlencoded", http.StatusUnsupportedMediaType},
		{"webhook exempt", "POST", "/api/webhooks/zoom", "text/plain", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if rr.Code != tt.expectedStatus {
				t.Errorf("Expected status %d, got %d", tt.expectedStatus, rr.Code)
			}
		})
	}
}

func TestBulkOperationLimiter(t *testing.T) {
	now := int64(1_000)
	orig := unixNow
	unixNow = func() int64 { return now }
	t.Cleanup(func() { unixNow = orig })

	limiter := NewBulkOperationLimiter(10)
	assert.True(t, limiter.CanExecute(), "first run allowed")
	assert.False(t, limiter.CanExecute(), "second run within cooldown blocked")
	assert.Equal(t, int64(10), limiter.CooldownRemaining())

	now += 4
	assert.Equal(t, int64(6), limiter.CooldownRemaining())

	now += 6
	assert.True(t, limiter.CanExecute())
}

func TestRateLimiter_RefillsOverTime(t *testing.T) {
	clock := time.Unix(0, 0)
	rl := newRateLimiterAt(2, 2, func() time.Time { return clock })

	assert.True(t, rl.Allow())
	assert.True(t, rl.Allow())
	assert.False(t, rl.Allow(), "burst exhausted")
	assert.Equal(t, 500*time.Millisecond, rl.RetryAfter())

	clock = clock.Add(500 * time.Millisecond)
	assert.True(t, rl.Allow(), "one token earned")

	clock = clock.Add(time.Hour)
	assert.True(t, rl.Allow())
	assert.True(t, rl.Allow())
	assert.False(t, rl.Allow(), "refill is capped at burst")
}

func TestPerClientRateLimitMiddleware(t *testing.T) {
	limiter := NewPerClientRateLimiter(0.001, 1)
	handler := PerClientRateLimitMiddleware(limiter, map[string]bool{"/health": true})(okHandler)

	call := func(addr, path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest("GET", path, nil)
		req.RemoteAddr = addr
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr
	}

	assert.Equal(t, http.StatusOK, call("10.0.0.1:1234", "/api/features").Code)
	limited := call("10.0.0.1:5678", "/api/features")
	assert.Equal(t, http.StatusTooManyRequests, limited.Code, "same host, different port")
	assert.NotEmpty(t, limited.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, call("10.0.0.2:1234", "/api/features").Code, "other clients unaffected")
	assert.Equal(t, http.StatusOK, call("10.0.0.1:1234", "/health").Code, "exempt path")

	stats := limiter.Stats()
	assert.Equal(t, 2, stats.ActiveClients)
	assert.Equal(t, int64(1), stats.TotalRejected)
}
