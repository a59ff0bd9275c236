package server

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildCSPHeader(t *testing.T) {
	assert.Empty(t, buildCSPHeader(nil, ""))
	assert.Equal(t, "default-src 'self'; object-src 'none'",
		buildCSPHeader(&CSPConfig{DefaultSrc: []string{"'self'"}, ObjectSrc: []string{"'none'"}}, ""))

	csp := DevelopmentSecurityConfig().CSP
	header := buildCSPHeader(csp, "abc123")
	assert.Contains(t, header, "script-src 'self' 'nonce-abc123'")
	assert.Contains(t, header, "connect-src 'self' ws: wss:")
	assert.Contains(t, header, "frame-ancestors 'none'")
	assert.Equal(t, []string{"'self'"}, csp.ScriptSrc, "nonce must not leak into the shared config")

	assert.Contains(t, buildCSPHeader(csp, ""), "script-src 'self';")
}

func TestSecurityMiddleware(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {})

	tests := []struct {
		name     string
		cfg      *SecurityConfig
		tls      bool
		wantHSTS string
		wantCSP  string
	}{
		{"development", DevelopmentSecurityConfig(), true, "", "ws:"},
		{"production over plain http", ProductionSecurityConfig(), false, "", "wss:"},
		{"production over tls", ProductionSecurityConfig(), true, "max-age=31536000; includeSubDomains", "wss:"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.tls {
				req.TLS = &tls.ConnectionState{}
			}
			rec := httptest.NewRecorder()
			SecurityMiddleware(tt.cfg)(ok).ServeHTTP(rec, req)

			h := rec.Header()
			assert.Equal(t, "nosniff", h.Get("X-Content-Type-Options"))
			assert.Equal(t, "DENY", h.Get("X-Frame-Options"))
			assert.Equal(t, "strict-origin-when-cross-origin", h.Get("Referrer-Policy"))
			assert.Equal(t, tt.wantHSTS, h.Get("Strict-Transport-Security"))
			assert.Contains(t, h.Get("Content-Security-Policy"), tt.wantCSP)
		})
	}
}

func TestSecurityMiddlewareNonce(t *testing.T) {
	var nonces []string
	handler := SecurityMiddleware(DevelopmentSecurityConfig())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nonces = append(nonces, GetNonceFromContext(r.Context()))
	}))

	var headers []string
	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		headers = append(headers, rec.Header().Get("Content-Security-Policy"))
	}

	require.Len(t, nonces, 5)
	seen := make(map[string]bool)
	for i, nonce := range nonces {
		assert.GreaterOrEqual(t, len(nonce), 16)
		assert.False(t, seen[nonce], "nonce reused: %s", nonce)
		seen[nonce] = true
		assert.Contains(t, headers[i], "'nonce-"+nonce+"'")
	}

	for _, header := range headers {
		for _, directive := range strings.Split(header, "; ") {
			if strings.HasPrefix(directive, "script-src") {
				assert.NotContains(t, directive, "'unsafe-inline'")
				assert.NotContains(t, directive, "'unsafe-eval'")
			}
		}
	}
}

func TestSecurityMiddlewareWithoutNonce(t *testing.T) {
	cfg := DevelopmentSecurityConfig()
	cfg.EnableNonce = false

	var nonce string
	handler := SecurityMiddleware(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nonce = GetNonceFromContext(r.Context())
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Empty(t, nonce)
	assert.NotContains(t, rec.Header().Get("Content-Security-Policy"), "nonce-")
}
