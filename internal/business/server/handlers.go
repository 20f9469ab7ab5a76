package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	slogctx "github.com/veqryn/slog-context"

	"github.com/Blackwoodproductions/webstackceo-sub000/internal/dashboard"
	"github.com/Blackwoodproductions/webstackceo-sub000/internal/serviceerr"
	"github.com/Blackwoodproductions/webstackceo-sub000/internal/session"
	"github.com/Blackwoodproductions/webstackceo-sub000/pkg/fingerprint"
)

// Binding pairs a dashboard panel with the session manager it follows.
type Binding struct {
	Manager *session.Manager
	Panel   *dashboard.Panel
}

// Handlers serves the HTTP API. The first binding is the primary one, it
// answers the requests that are not scoped to a panel.
type Handlers struct {
	bindings []Binding
	byName   map[string]Binding
}

func NewHandlers(bindings ...Binding) (*Handlers, error) {
	if len(bindings) == 0 {
		return nil, errors.New("at least one panel is required")
	}

	byName := make(map[string]Binding, len(bindings))
	for _, b := range bindings {
		if b.Manager == nil || b.Panel == nil {
			return nil, errors.New("panel bindings must not be nil")
		}
		if _, ok := byName[b.Panel.Name()]; ok {
			return nil, fmt.Errorf("duplicate panel %q", b.Panel.Name())
		}
		byName[b.Panel.Name()] = b
	}

	return &Handlers{bindings: bindings, byName: byName}, nil
}

func (h *Handlers) primary() Binding {
	return h.bindings[0]
}

// binding resolves the panel named by the path, or by the panel query
// parameter, falling back to the primary panel for the latter.
func (h *Handlers) binding(r *http.Request) (Binding, error) {
	name := r.PathValue("panel")
	if name == "" {
		name = r.URL.Query().Get("panel")
		if name == "" {
			return h.primary(), nil
		}
	}

	b, ok := h.byName[name]
	if !ok {
		return Binding{}, &serviceerr.Error{Err: serviceerr.CodeNotFound, Description: fmt.Sprintf("panel %q not found", name)}
	}

	return b, nil
}

// callbackManager returns the manager waiting for the authorization
// response. Siblings adopt the outcome through the bus.
func (h *Handlers) callbackManager() *session.Manager {
	for _, b := range h.bindings {
		if b.Manager.Status() == session.StatusAwaitingCallback {
			return b.Manager
		}
	}

	return h.primary().Manager
}

func (h *Handlers) login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	b, err := h.binding(r)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	redirectTo := r.URL.Query().Get("redirect_to")
	if !isLocalRedirect(redirectTo) {
		redirectTo = ""
	}

	fp, err := fingerprint.ExtractFingerprint(ctx)
	if err != nil {
		slogctx.Warn(ctx, "Starting a login without a fingerprint", "error", err)
	}

	authURL, err := b.Manager.StartLogin(ctx, fp, redirectTo)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		writeJSON(ctx, w, http.StatusOK, loginResponse{AuthorizationURL: authURL})
		return
	}

	http.Redirect(w, r, authURL, http.StatusFound)
}

// callback accepts the redirect query parameters as well as a popup form post.
func (h *Handlers) callback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := r.ParseForm(); err != nil {
		writeError(ctx, w, &serviceerr.Error{Err: serviceerr.CodeInvalidRequest, Description: "malformed callback parameters"})
		return
	}

	fp, err := fingerprint.ExtractFingerprint(ctx)
	if err != nil {
		slogctx.Warn(ctx, "Completing a login without a fingerprint", "error", err)
	}

	m := h.callbackManager()
	result, err := m.HandleCallback(ctx, session.CallbackParams{
		Code:             r.FormValue("code"),
		State:            r.FormValue("state"),
		Error:            r.FormValue("error"),
		ErrorDescription: r.FormValue("error_description"),
		Fingerprint:      fp,
	})
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	if isLocalRedirect(result.RedirectTo) {
		http.Redirect(w, r, result.RedirectTo, http.StatusFound)
		return
	}

	writeJSON(ctx, w, http.StatusOK, newSessionResponse(m.Snapshot()))
}

func (h *Handlers) disconnect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	m := h.primary().Manager
	if err := m.Disconnect(ctx); err != nil {
		writeError(ctx, w, err)
		return
	}

	writeJSON(ctx, w, http.StatusOK, newSessionResponse(m.Snapshot()))
}

func (h *Handlers) sessionState(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	b, err := h.binding(r)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	// surfaces a lapsed expiry before reporting the state
	_, _ = b.Manager.Token(ctx)

	writeJSON(ctx, w, http.StatusOK, newSessionResponse(b.Manager.Snapshot()))
}

func (h *Handlers) sites(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	b, err := h.binding(r)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	sites, err := b.Panel.Sites(ctx)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	writeJSON(ctx, w, http.StatusOK, sitesResponse{Sites: sites})
}

func (h *Handlers) panel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	b, err := h.binding(r)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	ctx = slogctx.With(ctx, "panel", b.Panel.Name())

	state := b.Panel.State()
	if state.Site == "" {
		writeJSON(ctx, w, http.StatusOK, newPanelResponse(state))
		return
	}

	state, err = b.Panel.Load(ctx)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	writeJSON(ctx, w, http.StatusOK, newPanelResponse(state))
}

func (h *Handlers) selectSite(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	b, err := h.binding(r)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	ctx = slogctx.With(ctx, "panel", b.Panel.Name())

	var req selectSiteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(ctx, w, err)
		return
	}

	state := b.Panel.SelectSite(req.Site)
	if state.Site == "" {
		writeJSON(ctx, w, http.StatusOK, newPanelResponse(state))
		return
	}

	state, err = b.Panel.Load(ctx)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	writeJSON(ctx, w, http.StatusOK, newPanelResponse(state))
}

// setFilter answers before the debounced load ran, the result is picked
// up with a later GET.
func (h *Handlers) setFilter(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	b, err := h.binding(r)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	ctx = slogctx.With(ctx, "panel", b.Panel.Name())

	var req dashboard.Filter
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(ctx, w, err)
		return
	}

	state, err := b.Panel.SetFilter(req)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	writeJSON(ctx, w, http.StatusAccepted, newPanelResponse(state))
}

func (h *Handlers) refresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	b, err := h.binding(r)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	ctx = slogctx.With(ctx, "panel", b.Panel.Name())

	state, err := b.Panel.Refresh(ctx)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	writeJSON(ctx, w, http.StatusOK, newPanelResponse(state))
}

// isLocalRedirect only allows paths on this service.
func isLocalRedirect(target string) bool {
	return strings.HasPrefix(target, "/") && !strings.HasPrefix(target, "//") && !strings.HasPrefix(target, "/\\")
}
