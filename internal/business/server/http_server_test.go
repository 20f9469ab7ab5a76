package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartHTTPServer_ContextCancellation(t *testing.T) {
	t.Run("gracefully shuts down when context is cancelled", func(t *testing.T) {
		stack := newTestStack(t)
		ctx, cancel := context.WithCancel(t.Context())

		errChan := make(chan error, 1)
		go func() {
			errChan <- StartHTTPServer(ctx, testConfig(), stack.handlers)
		}()

		// Give the server a moment to start
		time.Sleep(100 * time.Millisecond)

		cancel()

		select {
		case err := <-errChan:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("Server did not shut down within timeout")
		}
	})

	t.Run("fails on an unknown network", func(t *testing.T) {
		stack := newTestStack(t)
		cfg := testConfig()
		cfg.HTTP.Address = "bogus://localhost:0"

		err := StartHTTPServer(t.Context(), cfg, stack.handlers)
		assert.Error(t, err)
	})
}

func TestCreateHTTPServer(t *testing.T) {
	t.Run("creates HTTP server with default config", func(t *testing.T) {
		stack := newTestStack(t)
		cfg := testConfig()
		cfg.HTTP.Address = "localhost:8080"

		server := createHTTPServer(t.Context(), cfg, stack.handlers)

		require.NotNil(t, server)
		assert.Equal(t, "localhost:8080", server.Addr)
		assert.NotNil(t, server.Handler)
	})

	t.Run("creates HTTP server with unix socket", func(t *testing.T) {
		stack := newTestStack(t)
		cfg := testConfig()
		cfg.HTTP.Address = "unix:///tmp/test.sock"

		server := createHTTPServer(t.Context(), cfg, stack.handlers)

		require.NotNil(t, server)
		assert.Equal(t, "unix:///tmp/test.sock", server.Addr)
	})

	t.Run("routes by method", func(t *testing.T) {
		stack := newTestStack(t)
		server := createHTTPServer(t.Context(), testConfig(), stack.handlers)

		tests := []struct {
			method     string
			path       string
			wantStatus int
		}{
			{method: http.MethodGet, path: "/ping", wantStatus: http.StatusOK},
			{method: http.MethodPost, path: "/ping", wantStatus: http.StatusMethodNotAllowed},
			{method: http.MethodGet, path: "/auth/disconnect", wantStatus: http.StatusMethodNotAllowed},
			{method: http.MethodGet, path: "/unknown", wantStatus: http.StatusNotFound},
		}

		for _, tt := range tests {
			t.Run(tt.method+" "+tt.path, func(t *testing.T) {
				req := httptest.NewRequest(tt.method, tt.path, nil)
				w := httptest.NewRecorder()

				server.Handler.ServeHTTP(w, req)

				assert.Equal(t, tt.wantStatus, w.Code)
			})
		}
	})
}
