package business

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/valkey-io/valkey-go"

	otlpaudit "github.com/openkcm/common-sdk/pkg/otlp/audit"
	slogctx "github.com/veqryn/slog-context"

	"github.com/Blackwoodproductions/webstackceo-sub000/internal/broadcast"
	"github.com/Blackwoodproductions/webstackceo-sub000/internal/business/server"
	"github.com/Blackwoodproductions/webstackceo-sub000/internal/config"
	"github.com/Blackwoodproductions/webstackceo-sub000/internal/dashboard"
	"github.com/Blackwoodproductions/webstackceo-sub000/internal/searchconsole"
	"github.com/Blackwoodproductions/webstackceo-sub000/internal/session"
	sessionmemory "github.com/Blackwoodproductions/webstackceo-sub000/internal/session/memory"
	sessionvalkey "github.com/Blackwoodproductions/webstackceo-sub000/internal/session/valkey"
)

// Main starts the dashboard API and blocks until the context is done.
func Main(ctx context.Context, cfg *config.Config) error {
	app, err := newApplication(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialising the application: %w", err)
	}

	defer app.close()

	return server.StartHTTPServer(ctx, cfg, app.handlers)
}

type application struct {
	handlers *server.Handlers
	closers  []func()
}

func (a *application) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// newApplication wires one session manager and one panel per configured
// panel name. Managers share the repository and the bus.
func newApplication(ctx context.Context, cfg *config.Config) (_ *application, err error) {
	app := &application{}
	defer func() {
		if err != nil {
			app.close()
		}
	}()

	secret, err := config.LoadClientSecret(cfg.SessionManager.ClientAuth)
	if err != nil {
		return nil, err
	}
	cfg.SessionManager.ClientSecretParsed = secret

	repo, bus, closeFn, err := initStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("initialising the session store: %w", err)
	}
	app.closers = append(app.closers, closeFn)

	auditLogger, err := initAuditLogger(cfg)
	if err != nil {
		return nil, err
	}

	httpClient := &http.Client{Timeout: cfg.SearchConsole.Timeout}

	fetcher, err := searchconsole.NewClient(cfg.SearchConsole, httpClient)
	if err != nil {
		return nil, fmt.Errorf("creating search console client: %w", err)
	}

	resultCache := dashboard.NewResultCache(cfg.Dashboard.CacheTTL)
	app.closers = append(app.closers, resultCache.Flush)

	bindings := make([]server.Binding, 0, len(cfg.Dashboard.PanelNames()))
	for _, name := range cfg.Dashboard.PanelNames() {
		manager, err := session.NewManager(name, &cfg.SessionManager, repo, bus, auditLogger, httpClient)
		if err != nil {
			return nil, fmt.Errorf("creating session manager for panel %s: %w", name, err)
		}
		if err := manager.Start(ctx); err != nil {
			return nil, fmt.Errorf("starting session manager for panel %s: %w", name, err)
		}
		app.closers = append(app.closers, manager.Close)

		panel := dashboard.NewPanel(name, manager, fetcher, resultCache, cfg.Dashboard.Debounce)
		panel.Start(ctx)
		app.closers = append(app.closers, panel.Close)

		bindings = append(bindings, server.Binding{Manager: manager, Panel: panel})
	}

	app.handlers, err = server.NewHandlers(bindings...)
	if err != nil {
		return nil, err
	}

	slogctx.Info(ctx, "Initialised the dashboard", "panels", len(bindings), "store", cfg.Store.Type)

	return app, nil
}

func initStore(cfg *config.Config) (session.Repository, session.Bus, func(), error) {
	switch cfg.Store.Type {
	case config.StoreTypeMemory, "":
		hub := broadcast.NewHub()
		return sessionmemory.NewRepository(cfg.Store.Namespace), hub, hub.Close, nil
	case config.StoreTypeValKey:
		valkeyOpts, err := config.MakeValKeyOptions(cfg.ValKey)
		if err != nil {
			return nil, nil, nil, err
		}

		valkeyClient, err := valkey.NewClient(valkeyOpts)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("creating a new valkey client: %w", err)
		}

		repo := sessionvalkey.NewRepository(valkeyClient, cfg.ValKey.Prefix, cfg.Store.Namespace)
		bus := broadcast.NewValkeyBus(valkeyClient, cfg.ValKey.Prefix)

		return repo, bus, valkeyClient.Close, nil
	default:
		return nil, nil, nil, errors.New("unknown store type: " + string(cfg.Store.Type))
	}
}

// initAuditLogger returns nil when no audit endpoint is configured.
func initAuditLogger(cfg *config.Config) (*otlpaudit.AuditLogger, error) {
	if cfg.Audit.Endpoint == "" {
		return nil, nil
	}

	auditLogger, err := otlpaudit.NewLogger(&cfg.Audit)
	if err != nil {
		return nil, fmt.Errorf("creating audit logger: %w", err)
	}

	return auditLogger, nil
}
