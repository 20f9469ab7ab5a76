package session

import (
	"slices"
	"time"
)

// Status is the explicit login state of a Manager.
type Status int

const (
	StatusUnauthenticated Status = iota
	StatusAwaitingCallback
	StatusAuthenticated
)

func (s Status) String() string {
	switch s {
	case StatusUnauthenticated:
		return "unauthenticated"
	case StatusAwaitingCallback:
		return "awaiting_callback"
	case StatusAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// Profile is the identity decoded from the ID token, if the provider sent one.
type Profile struct {
	Subject string `json:"subject,omitempty"`
	Email   string `json:"email,omitempty"`
	Name    string `json:"name,omitempty"`
}

// Token is the bearer token used for the Search Console API.
type Token struct {
	AccessToken string    `json:"accessToken"`
	Expiry      time.Time `json:"expiry"`
	Scopes      []string  `json:"scopes,omitempty"`
	IDToken     string    `json:"idToken,omitempty"`
	Profile     Profile   `json:"profile"`
}

// Valid reports whether the token exists and has not reached its expiry at now.
func (t Token) Valid(now time.Time) bool {
	return t.AccessToken != "" && now.Before(t.Expiry)
}

func (t Token) HasScope(scope string) bool {
	return slices.Contains(t.Scopes, scope)
}

// PendingLogin is the transient PKCE material kept between the redirect to the
// identity provider and the callback. It is consumed by the callback.
type PendingLogin struct {
	State       string    `json:"state"`
	Verifier    string    `json:"verifier"`
	Fingerprint string    `json:"fingerprint,omitempty"`
	RedirectTo  string    `json:"redirectTo,omitempty"`
	Origin      string    `json:"origin,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	Expiry      time.Time `json:"expiry"`
}

type EventKind string

const (
	EventToken       EventKind = "token"
	EventCleared     EventKind = "cleared"
	EventLoginFailed EventKind = "loginFailed"
)

// Event is the cross-panel broadcast. A token event carries the token and
// its expiry, a cleared event carries the token that was torn down. A login
// failed event carries no token.
type Event struct {
	Kind   EventKind `json:"kind"`
	Token  Token     `json:"token"`
	Origin string    `json:"origin"`
	Reason string    `json:"reason,omitempty"`
}

// CallbackParams is the authorization response, either from the redirect
// query parameters or from a popup form post.
type CallbackParams struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
	Fingerprint      string
}

type CallbackResult struct {
	Token      Token
	RedirectTo string
}

// Snapshot is a consistent view of a Manager for presentation.
type Snapshot struct {
	Status  Status
	Expiry  time.Time
	Scopes  []string
	Profile Profile
}
