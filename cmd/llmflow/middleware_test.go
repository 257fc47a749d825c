package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSecurityHeaders(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	handler := SecurityHeaders()(inner)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	handler.ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "strict-origin-when-cross-origin", w.Header().Get("Referrer-Policy"))
	assert.Equal(t, "1; mode=block", w.Header().Get("X-XSS-Protection"))
	assert.Equal(t, "default-src 'self'", w.Header().Get("Content-Security-Policy"))
}

func TestSecurityHeaders_ChainedWithOtherMiddleware(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	handler := Chain(inner, SecurityHeaders(), RequestID())

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/test", nil)
	handler.ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	// SecurityHeaders should be present
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "default-src 'self'", w.Header().Get("Content-Security-Policy"))
	// RequestID should also be present
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestRequestID_PreservesClientValue(t *testing.T) {
	var seen string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	})

	handler := RequestID()(inner)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Request-ID", "req-from-client")
	handler.ServeHTTP(w, r)

	assert.Equal(t, "req-from-client", seen)
	assert.Equal(t, "req-from-client", w.Header().Get("X-Request-ID"))
}

func TestRequestID_GeneratesWhenMissing(t *testing.T) {
	var seen string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	})

	handler := RequestID()(inner)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.NotEmpty(t, seen)
	assert.Contains(t, seen, "req-")
	assert.Equal(t, seen, w.Header().Get("X-Request-ID"))
}

func TestRecovery_ReturnsInternalError(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})

	handler := Recovery(zap.NewNop())(inner)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestCORS(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name          string
		allowedOrigin string
		method        string
		origin        string
		wantStatus    int
		wantAllow     string
	}{
		{
			name:          "matching origin gets headers",
			allowedOrigin: "https://app.example.com",
			method:        http.MethodGet,
			origin:        "https://app.example.com",
			wantStatus:    http.StatusOK,
			wantAllow:     "https://app.example.com",
		},
		{
			name:          "matching origin preflight",
			allowedOrigin: "https://app.example.com",
			method:        http.MethodOptions,
			origin:        "https://app.example.com",
			wantStatus:    http.StatusNoContent,
			wantAllow:     "https://app.example.com",
		},
		{
			name:          "mismatched origin gets no headers",
			allowedOrigin: "https://app.example.com",
			method:        http.MethodGet,
			origin:        "https://evil.example.com",
			wantStatus:    http.StatusOK,
			wantAllow:     "",
		},
		{
			name:          "wildcard allows any origin",
			allowedOrigin: "*",
			method:        http.MethodGet,
			origin:        "https://anywhere.example.com",
			wantStatus:    http.StatusOK,
			wantAllow:     "*",
		},
		{
			name:          "unconfigured denies preflight",
			allowedOrigin: "",
			method:        http.MethodOptions,
			origin:        "https://app.example.com",
			wantStatus:    http.StatusForbidden,
			wantAllow:     "",
		},
		{
			name:          "unconfigured passes plain request without headers",
			allowedOrigin: "",
			method:        http.MethodGet,
			origin:        "https://app.example.com",
			wantStatus:    http.StatusOK,
			wantAllow:     "",
		},
		{
			name:          "same origin request untouched",
			allowedOrigin: "",
			method:        http.MethodGet,
			origin:        "",
			wantStatus:    http.StatusOK,
			wantAllow:     "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := CORS(tt.allowedOrigin)(inner)

			w := httptest.NewRecorder()
			r := httptest.NewRequest(tt.method, "/api/v1/invoke", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			handler.ServeHTTP(w, r)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantAllow, w.Header().Get("Access-Control-Allow-Origin"))
		})
	}
}

func TestRateLimiter_LimitsPerIP(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := RateLimiter(ctx, 1, 1, zap.NewNop())(inner)

	send := func(addr string) int {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/api/v1/invoke", nil)
		r.RemoteAddr = addr
		handler.ServeHTTP(w, r)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, send("10.0.0.1:1111"))
	assert.Equal(t, http.StatusTooManyRequests, send("10.0.0.1:1111"))
	// 不同 IP 有独立配额
	assert.Equal(t, http.StatusOK, send("10.0.0.2:2222"))
}

func TestBearerAuth(t *testing.T) {
	const secret = "test-secret"

	var subject string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject = SubjectFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	handler := BearerAuth(secret, []string{"/health"}, zap.NewNop())(inner)

	signToken := func(method jwt.SigningMethod) string {
		token := jwt.NewWithClaims(method, jwt.MapClaims{
			"sub": "ops-user",
			"exp": time.Now().Add(time.Hour).Unix(),
		})
		signed, err := token.SignedString([]byte(secret))
		require.NoError(t, err)
		return signed
	}

	t.Run("skip path bypasses auth", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("missing header rejected", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/usage", nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), "UNAUTHORIZED")
	})

	t.Run("garbage token rejected", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/api/v1/usage", nil)
		r.Header.Set("Authorization", "Bearer not-a-jwt")
		handler.ServeHTTP(w, r)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("valid token passes and exposes subject", func(t *testing.T) {
		subject = ""
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/api/v1/usage", nil)
		r.Header.Set("Authorization", "Bearer "+signToken(jwt.SigningMethodHS256))
		handler.ServeHTTP(w, r)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "ops-user", subject)
	})

	t.Run("wrong signing method rejected", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/api/v1/usage", nil)
		r.Header.Set("Authorization", "Bearer "+signToken(jwt.SigningMethodHS384))
		handler.ServeHTTP(w, r)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("wrong secret rejected", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"sub": "ops-user",
			"exp": time.Now().Add(time.Hour).Unix(),
		})
		signed, err := token.SignedString([]byte("other-secret"))
		require.NoError(t, err)

		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/api/v1/usage", nil)
		r.Header.Set("Authorization", "Bearer "+signed)
		handler.ServeHTTP(w, r)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/health", "/health"},
		{"/api/v1/invoke", "/api/v1/invoke"},
		{"/api/v1/usage", "/api/v1/usage"},
		{"/api/v1/records", "/api/v1/records"},
		{"/ws/events", "/ws/events"},
		{"/api/v1/records/0123456789abcdef", "/api/v1/records/:id"},
		{"/api/v1/records/42", "/api/v1/records/:id"},
		{"/api/v1/records/550e8400-e29b-41d4-a716-446655440000", "/api/v1/records/:id"},
		{"/api/v1/config/changes", "/api/v1/config/changes"},
		{"/static/style.css", "/static/style.css"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, normalizePath(tt.path))
		})
	}
}
