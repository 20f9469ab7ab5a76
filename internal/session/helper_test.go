package session_test

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/stretchr/testify/require"
)

type tokenServerConfig struct {
	status    int
	scope     string
	expiresIn int
	idToken   string
}

type TokenServerOption func(*tokenServerConfig)

func WithTokenStatus(status int) TokenServerOption {
	return func(c *tokenServerConfig) { c.status = status }
}

func WithGrantedScope(scope string) TokenServerOption {
	return func(c *tokenServerConfig) { c.scope = scope }
}

func WithIDToken(idToken string) TokenServerOption {
	return func(c *tokenServerConfig) { c.idToken = idToken }
}

// TokenServer is a fake token endpoint counting the exchanges it served.
type TokenServer struct {
	*httptest.Server

	calls        atomic.Int32
	lastVerifier atomic.Value
}

func (s *TokenServer) Calls() int {
	return int(s.calls.Load())
}

func (s *TokenServer) LastVerifier() string {
	v, _ := s.lastVerifier.Load().(string)
	return v
}

func StartTokenServer(t *testing.T, opts ...TokenServerOption) *TokenServer {
	t.Helper()

	cfg := &tokenServerConfig{
		status:    http.StatusOK,
		scope:     "openid email " + testRequiredScope,
		expiresIn: 3600,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	ts := &TokenServer{}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/token" || r.Method != http.MethodPost {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		ts.calls.Add(1)
		_ = r.ParseForm()
		ts.lastVerifier.Store(r.PostForm.Get("code_verifier"))

		w.Header().Set("Content-Type", "application/json")
		if cfg.status != http.StatusOK {
			w.WriteHeader(cfg.status)
			_, _ = w.Write([]byte(`{"error": "invalid_grant", "error_description": "Token exchange failed"}`))
			return
		}

		resp := map[string]any{
			"access_token": "access-token-" + r.PostForm.Get("code"),
			"token_type":   "Bearer",
			"expires_in":   cfg.expiresIn,
			"scope":        cfg.scope,
		}
		if cfg.idToken != "" {
			resp["id_token"] = cfg.idToken
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(ts.Close)

	return ts
}

// AuditServer accepts OTLP audit logs and keeps the request bodies.
type AuditServer struct {
	*httptest.Server

	mu     sync.Mutex
	bodies []string
}

func (s *AuditServer) Bodies() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.bodies...)
}

func StartAuditServer(t *testing.T) *AuditServer {
	t.Helper()
	as := &AuditServer{}
	as.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			body, _ := io.ReadAll(r.Body)
			as.mu.Lock()
			as.bodies = append(as.bodies, string(body))
			as.mu.Unlock()

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"success": true}`))
		} else {
			w.WriteHeader(http.StatusOK)
		}
	}))

	return as
}

// signIDToken issues an RS256 ID token carrying the given claims.
func signIDToken(t *testing.T, claims map[string]any) string {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.RS256, Key: key}, (&jose.SignerOptions{}).WithType("JWT"))
	require.NoError(t, err)

	raw, err := jwt.Signed(signer).Claims(claims).Serialize()
	require.NoError(t, err)

	return raw
}
