package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	slogctx "github.com/veqryn/slog-context"

	"github.com/Blackwoodproductions/webstackceo-sub000/internal/dashboard"
	"github.com/Blackwoodproductions/webstackceo-sub000/internal/searchconsole"
	"github.com/Blackwoodproductions/webstackceo-sub000/internal/serviceerr"
	"github.com/Blackwoodproductions/webstackceo-sub000/internal/session"
)

const maxRequestBody = 1 << 16

type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

type loginResponse struct {
	AuthorizationURL string `json:"authorizationURL"`
}

type profileResponse struct {
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}

type sessionResponse struct {
	Status  string           `json:"status"`
	Expiry  *time.Time       `json:"expiry,omitempty"`
	Scopes  []string         `json:"scopes,omitempty"`
	Profile *profileResponse `json:"profile,omitempty"`
}

func newSessionResponse(s session.Snapshot) sessionResponse {
	resp := sessionResponse{Status: s.Status.String()}
	if s.Status != session.StatusAuthenticated {
		return resp
	}

	expiry := s.Expiry
	resp.Expiry = &expiry
	resp.Scopes = s.Scopes
	if s.Profile.Email != "" || s.Profile.Name != "" {
		resp.Profile = &profileResponse{Email: s.Profile.Email, Name: s.Profile.Name}
	}

	return resp
}

type sitesResponse struct {
	Sites []searchconsole.Site `json:"sites"`
}

type selectSiteRequest struct {
	Site string `json:"site"`
}

type panelResponse struct {
	Name      string              `json:"name"`
	Site      string              `json:"site,omitempty"`
	Filter    dashboard.Filter    `json:"filter"`
	Loading   bool                `json:"loading"`
	Cached    bool                `json:"cached"`
	FetchedAt *time.Time          `json:"fetchedAt,omitempty"`
	Data      *searchconsole.Rows `json:"data,omitempty"`
	Totals    *searchconsole.Row  `json:"totals,omitempty"`
	Error     *errorResponse      `json:"error,omitempty"`
}

func newPanelResponse(s dashboard.State) panelResponse {
	resp := panelResponse{
		Name:    s.Name,
		Site:    s.Site,
		Filter:  s.Filter,
		Loading: s.Loading,
		Cached:  s.Cached,
		Data:    s.Rows,
	}
	if !s.FetchedAt.IsZero() {
		fetchedAt := s.FetchedAt
		resp.FetchedAt = &fetchedAt
	}
	if s.Rows != nil {
		totals := s.Rows.Totals()
		resp.Totals = &totals
	}
	if s.Err != nil {
		e := newErrorResponse(s.Err)
		resp.Error = &e
	}

	return resp
}

func newErrorResponse(err error) errorResponse {
	serr := serviceerr.As(err)
	return errorResponse{Error: string(serr.Err), ErrorDescription: serr.Description}
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slogctx.Error(ctx, "Failed to write the response", "error", err)
	}
}

// writeError answers with the status of the service error carried by err.
// Other errors are logged and reported as unknown.
func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	var serr *serviceerr.Error
	if !errors.As(err, &serr) {
		slogctx.Error(ctx, "Request failed", "error", err)
		serr = serviceerr.ErrUnknown
	} else {
		slogctx.Warn(ctx, "Request failed", "error", err)
	}

	writeJSON(ctx, w, serr.HTTPStatus(), errorResponse{Error: string(serr.Err), ErrorDescription: serr.Description})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, into any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(into); err != nil {
		return &serviceerr.Error{Err: serviceerr.CodeInvalidRequest, Description: "malformed request body"}
	}

	return nil
}
