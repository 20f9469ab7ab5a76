package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	otlpaudit "github.com/openkcm/common-sdk/pkg/otlp/audit"
	slogctx "github.com/veqryn/slog-context"

	"github.com/Blackwoodproductions/webstackceo-sub000/internal/config"
	"github.com/Blackwoodproductions/webstackceo-sub000/internal/pkce"
	"github.com/Blackwoodproductions/webstackceo-sub000/internal/serviceerr"
)

// Manager owns the login state of one panel. Sibling managers share the
// Repository and the Bus, so a login completed by one of them is adopted by
// all others.
type Manager struct {
	id           string
	origin       string
	oauth        *oauth2.Config
	sessions     Repository
	bus          Bus
	pkce         pkce.Source
	audit        *otlpaudit.AuditLogger
	secureClient *http.Client
	now          func() time.Time

	requiredScope        string
	loginTimeout         time.Duration
	defaultTokenLifetime time.Duration

	mu       sync.Mutex
	status   Status
	token    Token
	watchers map[int]chan Status
	nextID   int
	release  func()
}

func NewManager(
	id string,
	cfg *config.SessionManager,
	sessions Repository,
	bus Bus,
	auditLogger *otlpaudit.AuditLogger,
	httpClient *http.Client,
) (*Manager, error) {
	if id == "" {
		return nil, errors.New("manager id must not be empty")
	}
	if cfg.ClientAuth.ClientID == "" {
		return nil, errors.New("client id must not be empty")
	}
	if cfg.TokenURL == "" {
		return nil, errors.New("token url must not be empty")
	}
	if sessions == nil {
		return nil, errors.New("session repository must not be nil")
	}

	authURL := cfg.AuthURL
	if authURL == "" {
		authURL = config.GoogleAuthURL
	}
	requiredScope := cfg.RequiredScope
	if requiredScope == "" {
		requiredScope = config.ScopeWebmastersReadOnly
	}
	loginTimeout := cfg.LoginTimeout
	if loginTimeout <= 0 {
		loginTimeout = 10 * time.Minute
	}
	tokenLifetime := cfg.DefaultTokenLifetime
	if tokenLifetime <= 0 {
		tokenLifetime = time.Hour
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Manager{
		id:     id,
		origin: id + "@" + uuid.NewString(),
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientAuth.ClientID,
			ClientSecret: cfg.ClientSecretParsed,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.EffectiveScopes(),
			Endpoint: oauth2.Endpoint{
				AuthURL:   authURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		sessions:             sessions,
		bus:                  bus,
		audit:                auditLogger,
		secureClient:         httpClient,
		now:                  time.Now,
		requiredScope:        requiredScope,
		loginTimeout:         loginTimeout,
		defaultTokenLifetime: tokenLifetime,
		watchers:             make(map[int]chan Status),
	}, nil
}

func (m *Manager) ID() string {
	return m.id
}

// Start restores an existing session from the repository and subscribes to
// sibling broadcasts. Calling it more than once is harmless.
func (m *Manager) Start(ctx context.Context) error {
	ctx = slogctx.With(ctx, "panel", m.id)

	token, err := m.sessions.LoadToken(ctx)
	switch {
	case errors.Is(err, serviceerr.ErrNotFound):
	case err != nil:
		return fmt.Errorf("loading token from the storage: %w", err)
	case token.Valid(m.now()):
		m.mu.Lock()
		m.setToken(token)
		m.mu.Unlock()
		slogctx.Info(ctx, "Restored an existing session", "expiry", token.Expiry)
	default:
		if err := m.sessions.DeleteToken(ctx); err != nil {
			return fmt.Errorf("deleting expired token: %w", err)
		}
		slogctx.Info(ctx, "Discarded an expired session")
	}

	if m.Status() == StatusUnauthenticated {
		login, err := m.sessions.LoadPendingLogin(ctx)
		if err == nil && m.now().Before(login.Expiry) && login.Origin == m.id {
			m.mu.Lock()
			m.setStatus(StatusAwaitingCallback)
			m.mu.Unlock()
		}
	}

	return m.subscribe(ctx)
}

func (m *Manager) subscribe(ctx context.Context) error {
	if m.bus == nil {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.release != nil {
		return nil
	}

	events, release, err := m.bus.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("subscribing to session events: %w", err)
	}
	m.release = release

	go func() {
		for event := range events {
			m.Adopt(ctx, event)
		}
	}()

	return nil
}

// Close releases the broadcast subscription and all watchers.
func (m *Manager) Close() {
	m.mu.Lock()
	release := m.release
	m.release = nil
	for id, ch := range m.watchers {
		close(ch)
		delete(m.watchers, id)
	}
	m.mu.Unlock()

	if release != nil {
		release()
	}
}

// StartLogin persists a fresh PKCE verifier, replacing any stale one, and
// returns the authorization URL the user has to visit.
func (m *Manager) StartLogin(ctx context.Context, fingerprint, redirectTo string) (string, error) {
	ctx = slogctx.With(ctx, "panel", m.id)

	challenge := m.pkce.PKCE()
	now := m.now()
	login := PendingLogin{
		State:       m.pkce.State(),
		Verifier:    challenge.Verifier,
		Fingerprint: fingerprint,
		RedirectTo:  redirectTo,
		Origin:      m.id,
		CreatedAt:   now,
		Expiry:      now.Add(m.loginTimeout),
	}

	if err := m.sessions.StorePendingLogin(ctx, login); err != nil {
		return "", fmt.Errorf("storing pending login: %w", err)
	}

	u := m.oauth.AuthCodeURL(login.State,
		oauth2.S256ChallengeOption(login.Verifier),
		oauth2.AccessTypeOnline,
		oauth2.SetAuthURLParam("prompt", "consent"),
		oauth2.SetAuthURLParam("include_granted_scopes", "true"),
	)

	m.mu.Lock()
	// a re-consent keeps the current session until the callback replaces it
	if m.status != StatusAuthenticated {
		m.setStatus(StatusAwaitingCallback)
	}
	m.mu.Unlock()

	slogctx.Debug(ctx, "Started a login", "expiry", login.Expiry)

	return u, nil
}

// HandleCallback completes the login with the authorization response. All
// failures are terminal for the login attempt and are never retried.
func (m *Manager) HandleCallback(ctx context.Context, params CallbackParams) (CallbackResult, error) {
	ctx = slogctx.With(ctx, "panel", m.id)

	if params.Error != "" {
		m.discardPendingLogin(ctx)
		m.failLogin(ctx, "provider error: "+params.Error, failReasonUnspecified)
		if params.Error == string(serviceerr.CodeAccessDenied) {
			return CallbackResult{}, serviceerr.ErrAccessDenied
		}

		return CallbackResult{}, fmt.Errorf("%w: %s %s", serviceerr.ErrProviderError, params.Error, params.ErrorDescription)
	}

	// the verifier is single use, whatever the outcome
	login, err := m.sessions.ConsumePendingLogin(ctx)
	if err != nil {
		m.failLogin(ctx, "pending login not found", otlpaudit.FAILREASON_SESSIONEXPIRED)
		if errors.Is(err, serviceerr.ErrNotFound) {
			return CallbackResult{}, serviceerr.ErrSessionExpired
		}

		return CallbackResult{}, fmt.Errorf("consuming pending login from the storage: %w", err)
	}

	if login.Verifier == "" || login.State != params.State || !m.now().Before(login.Expiry) {
		m.failLogin(ctx, "stale pending login", otlpaudit.FAILREASON_SESSIONEXPIRED)
		return CallbackResult{}, serviceerr.ErrSessionExpired
	}

	if login.Fingerprint != "" && login.Fingerprint != params.Fingerprint {
		m.failLogin(ctx, "fingerprint mismatch", otlpaudit.FAILREASON_INSECURECONNECT)
		return CallbackResult{}, serviceerr.ErrFingerprintMismatch
	}

	if params.Code == "" {
		m.failLogin(ctx, "missing authorization code", otlpaudit.FAILREASON_TOKENINVALID)
		return CallbackResult{}, fmt.Errorf("%w: missing authorization code", serviceerr.ErrInvalidRequest)
	}

	token, err := m.exchangeCode(ctx, params.Code, login.Verifier)
	if err != nil {
		m.failLogin(ctx, "failed to exchange code for tokens", otlpaudit.FAILREASON_TOKENINVALID)
		return CallbackResult{}, fmt.Errorf("%w: %w", serviceerr.ErrExchangeFailed, err)
	}

	if !token.HasScope(m.requiredScope) {
		m.failLogin(ctx, "required scope not granted", otlpaudit.FAILREASON_TOKENINVALID)
		return CallbackResult{}, fmt.Errorf("%w: %s", serviceerr.ErrScopeMismatch, m.requiredScope)
	}

	if err := m.sessions.StoreToken(ctx, token); err != nil {
		m.failLogin(ctx, "failed to store token", failReasonUnspecified)
		return CallbackResult{}, fmt.Errorf("storing token: %w", err)
	}

	m.mu.Lock()
	m.setToken(token)
	m.mu.Unlock()

	slogctx.Info(ctx, "Exchanged the auth code for tokens", "expiry", token.Expiry)

	m.publish(ctx, Event{Kind: EventToken, Token: token, Origin: m.origin})
	m.sendLoginSuccessAudit(ctx, token)

	return CallbackResult{Token: token, RedirectTo: login.RedirectTo}, nil
}

// Token returns the current token. The expiry is checked first, an expired
// token tears the session down.
func (m *Manager) Token(ctx context.Context) (Token, error) {
	m.mu.Lock()
	status, token := m.status, m.token
	m.mu.Unlock()

	if status != StatusAuthenticated {
		return Token{}, serviceerr.ErrNotAuthenticated
	}

	if !token.Valid(m.now()) {
		m.teardown(slogctx.With(ctx, "panel", m.id), token, "token expired")
		return Token{}, serviceerr.ErrNotAuthenticated
	}

	return token, nil
}

// Invalidate tears the session down after the downstream API rejected the
// token. The provider is authoritative over the locally recorded expiry.
func (m *Manager) Invalidate(ctx context.Context, reason string) {
	m.mu.Lock()
	token := m.token
	m.mu.Unlock()

	m.teardown(slogctx.With(ctx, "panel", m.id), token, reason)
}

// Disconnect removes all token, profile and pending login material.
func (m *Manager) Disconnect(ctx context.Context) error {
	ctx = slogctx.With(ctx, "panel", m.id)

	m.mu.Lock()
	token := m.token
	m.setStatus(StatusUnauthenticated)
	m.token = Token{}
	m.mu.Unlock()

	var errs []error
	if err := m.sessions.DeleteToken(ctx); err != nil {
		errs = append(errs, fmt.Errorf("deleting token: %w", err))
	}
	if err := m.sessions.DeletePendingLogin(ctx); err != nil {
		errs = append(errs, fmt.Errorf("deleting pending login: %w", err))
	}

	m.publish(ctx, Event{Kind: EventCleared, Token: token, Origin: m.origin, Reason: "disconnected"})
	slogctx.Info(ctx, "Disconnected the session")

	return errors.Join(errs...)
}

// Adopt applies a sibling broadcast. It reports whether the state changed.
func (m *Manager) Adopt(ctx context.Context, event Event) bool {
	if event.Origin == m.origin {
		return false
	}

	switch event.Kind {
	case EventToken:
		return m.adoptToken(ctx, event)
	case EventCleared:
		if m.adoptCleared(ctx, event) {
			return true
		}
		return m.abandonLogin(ctx, event)
	case EventLoginFailed:
		return m.abandonLogin(ctx, event)
	default:
		return false
	}
}

func (m *Manager) adoptToken(ctx context.Context, event Event) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !event.Token.Valid(m.now()) {
		return false
	}
	if m.status == StatusAuthenticated && m.token.AccessToken == event.Token.AccessToken {
		return false
	}
	m.setToken(event.Token)
	slogctx.Info(ctx, "Adopted a sibling session", "panel", m.id, "origin", event.Origin)

	return true
}

func (m *Manager) adoptCleared(ctx context.Context, event Event) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.status != StatusAuthenticated {
		return false
	}
	if event.Token.AccessToken != "" && event.Token.AccessToken != m.token.AccessToken {
		return false
	}
	m.token = Token{}
	m.setStatus(StatusUnauthenticated)
	slogctx.Info(ctx, "Sibling session cleared", "panel", m.id, "origin", event.Origin, "reason", event.Reason)

	return true
}

// abandonLogin leaves AwaitingCallback once a sibling settled the login this
// manager waits for. A pending login of this manager keeps it waiting.
func (m *Manager) abandonLogin(ctx context.Context, event Event) bool {
	if m.Status() != StatusAwaitingCallback {
		return false
	}

	login, err := m.sessions.LoadPendingLogin(ctx)
	switch {
	case errors.Is(err, serviceerr.ErrNotFound):
	case err != nil:
		slogctx.Error(ctx, "Failed to load pending login", "panel", m.id, "error", err)
		return false
	case login.Origin == m.id && m.now().Before(login.Expiry):
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status != StatusAwaitingCallback {
		return false
	}
	m.setStatus(StatusUnauthenticated)
	slogctx.Info(ctx, "Sibling settled the login", "panel", m.id, "origin", event.Origin, "reason", event.Reason)

	return true
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.status
}

func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	return Snapshot{
		Status:  m.status,
		Expiry:  m.token.Expiry,
		Scopes:  m.token.Scopes,
		Profile: m.token.Profile,
	}
}

// Watch returns a channel receiving every status change and a function to
// stop watching. Slow watchers miss intermediate changes.
func (m *Manager) Watch() (<-chan Status, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	ch := make(chan Status, 4)
	m.watchers[id] = ch

	return ch, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if ch, ok := m.watchers[id]; ok {
			close(ch)
			delete(m.watchers, id)
		}
	}
}

// setToken must be called with mu held.
func (m *Manager) setToken(token Token) {
	m.token = token
	m.setStatus(StatusAuthenticated)
}

// setStatus must be called with mu held.
func (m *Manager) setStatus(status Status) {
	if m.status == status {
		return
	}
	m.status = status
	for _, ch := range m.watchers {
		select {
		case ch <- status:
		default:
		}
	}
}

func (m *Manager) teardown(ctx context.Context, token Token, reason string) {
	m.mu.Lock()
	if m.status != StatusAuthenticated || m.token.AccessToken != token.AccessToken {
		m.mu.Unlock()
		return
	}
	m.token = Token{}
	m.setStatus(StatusUnauthenticated)
	m.mu.Unlock()

	if err := m.sessions.DeleteToken(ctx); err != nil {
		slogctx.Error(ctx, "Failed to delete token", "error", err)
	}

	m.publish(ctx, Event{Kind: EventCleared, Token: token, Origin: m.origin, Reason: reason})
	slogctx.Info(ctx, "Session torn down", "reason", reason)
}

func (m *Manager) failLogin(ctx context.Context, reason string, failReason otlpaudit.FailReason) {
	m.mu.Lock()
	if m.status == StatusAwaitingCallback {
		m.setStatus(StatusUnauthenticated)
	}
	m.mu.Unlock()

	m.publish(ctx, Event{Kind: EventLoginFailed, Origin: m.origin, Reason: reason})
	slogctx.Warn(ctx, "Login failed", "reason", reason)
	m.sendLoginFailureAudit(ctx, reason, failReason)
}

func (m *Manager) discardPendingLogin(ctx context.Context) {
	if err := m.sessions.DeletePendingLogin(ctx); err != nil {
		slogctx.Error(ctx, "Failed to delete pending login", "error", err)
	}
}

func (m *Manager) publish(ctx context.Context, event Event) {
	if m.bus == nil {
		return
	}
	if err := m.bus.Publish(ctx, event); err != nil {
		slogctx.Error(ctx, "Failed to publish session event", "kind", event.Kind, "error", err)
	}
}

func (m *Manager) exchangeCode(ctx context.Context, code, verifier string) (Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, m.secureClient)

	tok, err := m.oauth.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return Token{}, err
	}

	now := m.now()
	expiry := tok.Expiry
	switch {
	case tok.ExpiresIn > 0:
		expiry = now.Add(time.Duration(tok.ExpiresIn) * time.Second)
	case expiry.IsZero():
		expiry = now.Add(m.defaultTokenLifetime)
	}

	token := Token{
		AccessToken: tok.AccessToken,
		Expiry:      expiry,
		Scopes:      m.grantedScopes(tok),
	}

	if idToken, ok := tok.Extra("id_token").(string); ok && idToken != "" {
		token.IDToken = idToken
		profile, err := decodeProfile(idToken)
		if err != nil {
			slogctx.Warn(ctx, "Could not decode the id token", "error", err)
		}
		token.Profile = profile
	}

	return token, nil
}

// grantedScopes reads the scope string of the token response. An absent
// scope means the requested scopes were granted (RFC 6749 section 5.1).
func (m *Manager) grantedScopes(tok *oauth2.Token) []string {
	scope, _ := tok.Extra("scope").(string)
	if strings.TrimSpace(scope) == "" {
		return append([]string(nil), m.oauth.Scopes...)
	}

	return strings.Fields(scope)
}
