package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/samber/oops"

	slogctx "github.com/veqryn/slog-context"

	"github.com/Blackwoodproductions/webstackceo-sub000/internal/config"
	"github.com/Blackwoodproductions/webstackceo-sub000/internal/middleware/responsewriter"
	"github.com/Blackwoodproductions/webstackceo-sub000/pkg/fingerprint"
)

// createHTTPServer creates an API http server using the given config
func createHTTPServer(_ context.Context, cfg *config.Config, h *Handlers) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /auth/login", instrument(cfg, "Login", h.login))
	mux.HandleFunc("GET /auth/callback", instrument(cfg, "Callback", h.callback))
	mux.HandleFunc("POST /auth/callback", instrument(cfg, "Callback", h.callback))
	mux.HandleFunc("POST /auth/disconnect", instrument(cfg, "Disconnect", h.disconnect))
	mux.HandleFunc("GET /session", instrument(cfg, "Session", h.sessionState))
	mux.HandleFunc("GET /sites", instrument(cfg, "Sites", h.sites))
	mux.HandleFunc("GET /panels/{panel}", instrument(cfg, "Panel", h.panel))
	mux.HandleFunc("PUT /panels/{panel}/site", instrument(cfg, "SelectSite", h.selectSite))
	mux.HandleFunc("PUT /panels/{panel}/filter", instrument(cfg, "SetFilter", h.setFilter))
	mux.HandleFunc("POST /panels/{panel}/refresh", instrument(cfg, "Refresh", h.refresh))
	mux.HandleFunc("GET /ping", instrument(cfg, "Ping", pingHandlerFunc))

	handler := fingerprint.FingerprintCtxMiddleware(mux)
	handler = responsewriter.ResponseWriterMiddleware(handler)

	return &http.Server{
		Addr:    cfg.HTTP.Address,
		Handler: handler,
	}
}

// StartHTTPServer starts the HTTP server using the given config and blocks
// until the context is done.
func StartHTTPServer(ctx context.Context, cfg *config.Config, h *Handlers) error {
	if err := initMeters(ctx, cfg); err != nil {
		return err
	}

	server := createHTTPServer(ctx, cfg, h)

	slogctx.Info(ctx, "Starting a listener", "address", server.Addr)

	// Parse network if the address if provided in the format of network://address.
	// Otherwise use tcp network by default.
	network := "tcp"
	if idx := strings.IndexRune(server.Addr, ':'); idx != -1 && len(server.Addr) > idx+3 && server.Addr[idx:idx+3] == "://" {
		network = server.Addr[:idx]
		server.Addr = server.Addr[idx+3:]
	}

	listener, err := new(net.ListenConfig).Listen(ctx, network, server.Addr)
	if err != nil {
		return oops.In("HTTP Server").
			WithContext(ctx).
			Wrapf(err, "Failed to create a listener")
	}

	slogctx.Info(ctx, "A listener started", "address", listener.Addr().String())

	go func() {
		slogctx.Info(ctx, "Serving an HTTP server", "address", listener.Addr().String())
		err := server.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slogctx.Error(ctx, "Failed to serve an HTTP server", "error", err)
		}

		slogctx.Info(ctx, "Stopped an HTTP server")
	}()

	<-ctx.Done()

	shutdownCtx, shutdownRelease := context.WithTimeout(context.WithoutCancel(ctx), cfg.HTTP.ShutdownTimeout)
	defer shutdownRelease()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return oops.In("HTTP Server").
			WithContext(ctx).
			Wrapf(err, "Failed shutting down HTTP server")
	}

	slogctx.Info(ctx, "Completed graceful shutdown of HTTP server")

	return nil
}
