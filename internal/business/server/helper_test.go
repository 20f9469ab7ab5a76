package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/openkcm/common-sdk/pkg/commoncfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Blackwoodproductions/webstackceo-sub000/internal/broadcast"
	"github.com/Blackwoodproductions/webstackceo-sub000/internal/config"
	"github.com/Blackwoodproductions/webstackceo-sub000/internal/dashboard"
	"github.com/Blackwoodproductions/webstackceo-sub000/internal/searchconsole"
	"github.com/Blackwoodproductions/webstackceo-sub000/internal/session"
	sessionmemory "github.com/Blackwoodproductions/webstackceo-sub000/internal/session/memory"
)

const (
	testSite        = "https://example.com/"
	testRevokedSite = "https://revoked.example.com/"
	testAuthURL     = "https://accounts.example.com/o/oauth2/v2/auth"
)

func testConfig() *config.Config {
	return &config.Config{
		BaseConfig: commoncfg.BaseConfig{
			Application: commoncfg.Application{
				Name: "test-app",
			},
		},
		HTTP: config.HTTPServer{
			Address:         "localhost:0",
			ShutdownTimeout: time.Second,
		},
	}
}

// startTokenServer answers every code exchange with a one hour token
// granting the Search Console scope.
func startTokenServer(t *testing.T) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !assert.NoError(t, r.ParseForm()) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		assert.NotEmpty(t, r.PostForm.Get("code_verifier"))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "access-token-" + r.PostForm.Get("code"),
			"token_type":   "Bearer",
			"expires_in":   3600,
			"scope":        "openid email " + config.ScopeWebmastersReadOnly,
		})
	}))
	t.Cleanup(srv.Close)

	return srv
}

// startSearchConsoleServer serves one readable site. Queries for the
// revoked site are rejected as unauthenticated.
func startSearchConsoleServer(t *testing.T) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/sites":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"siteEntry": []map[string]string{
					{"siteUrl": testSite, "permissionLevel": "siteOwner"},
				},
			})
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/searchAnalytics/query"):
			if strings.Contains(r.URL.Path, "revoked") {
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(map[string]any{
					"error": map[string]any{"code": 401, "status": "UNAUTHENTICATED", "message": "invalid credentials"},
				})
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"rows": []map[string]any{
					{"keys": []string{"2026-03-01"}, "clicks": 10, "impressions": 100, "ctr": 0.1, "position": 4},
				},
				"responseAggregationType": "byProperty",
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)

	return srv
}

type testStack struct {
	handlers *Handlers
	server   *httptest.Server
	client   *http.Client
	managers map[string]*session.Manager
}

// newTestStack wires two panels on a shared in-memory repository and hub,
// the way the service does with the memory store.
func newTestStack(t *testing.T) *testStack {
	t.Helper()

	ctx := t.Context()

	tokenSrv := startTokenServer(t)
	scSrv := startSearchConsoleServer(t)

	repo := sessionmemory.NewRepository("test")
	hub := broadcast.NewHub()
	t.Cleanup(hub.Close)

	smCfg := &config.SessionManager{
		ClientAuth:  config.ClientAuth{ClientID: "client-id"},
		AuthURL:     testAuthURL,
		TokenURL:    tokenSrv.URL,
		RedirectURL: "http://localhost:8080/auth/callback",
	}

	fetcher, err := searchconsole.NewClient(config.SearchConsole{BaseURL: scSrv.URL, Timeout: 5 * time.Second}, nil)
	require.NoError(t, err)

	resultCache := dashboard.NewResultCache(time.Minute)

	managers := make(map[string]*session.Manager)
	var bindings []Binding
	for _, name := range []string{"performance", "keywords"} {
		m, err := session.NewManager(name, smCfg, repo, hub, nil, tokenSrv.Client())
		require.NoError(t, err)
		require.NoError(t, m.Start(ctx))
		t.Cleanup(m.Close)

		p := dashboard.NewPanel(name, m, fetcher, resultCache, 10*time.Millisecond)
		p.Start(ctx)
		t.Cleanup(p.Close)

		managers[name] = m
		bindings = append(bindings, Binding{Manager: m, Panel: p})
	}

	h, err := NewHandlers(bindings...)
	require.NoError(t, err)

	srv := httptest.NewServer(createHTTPServer(ctx, testConfig(), h).Handler)
	t.Cleanup(srv.Close)

	client := srv.Client()
	client.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	return &testStack{handlers: h, server: srv, client: client, managers: managers}
}

func (s *testStack) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()

	req, err := http.NewRequestWithContext(t.Context(), method, s.server.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("User-Agent", "dashboard-test")
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	return resp
}

// login runs the authorization code flow and returns the callback response.
func (s *testStack) login(t *testing.T) *http.Response {
	t.Helper()

	resp := s.do(t, http.MethodGet, "/auth/login", "")
	require.Equal(t, http.StatusFound, resp.StatusCode)

	authURL, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)

	return s.do(t, http.MethodGet, "/auth/callback?code=abc&state="+url.QueryEscape(authURL.Query().Get("state")), "")
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()

	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))

	return v
}
