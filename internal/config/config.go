// Package config defines the necessary types to configure the application.
// The configuration is read from config.yaml, see cmdutils for the lookup paths.
package config

import (
	"time"

	"github.com/openkcm/common-sdk/pkg/commoncfg"
)

type Config struct {
	commoncfg.BaseConfig `mapstructure:",squash" yaml:",inline"`

	HTTP HTTPServer `yaml:"http"`

	Store          Store          `yaml:"store"`
	ValKey         ValKey         `yaml:"valkey"`
	SessionManager SessionManager `yaml:"sessionManager"`
	SearchConsole  SearchConsole  `yaml:"searchConsole"`
	Dashboard      Dashboard      `yaml:"dashboard"`
}

type HTTPServer struct {
	Address         string        `yaml:"address" default:":8080"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" default:"5s"`
}

type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeValKey StoreType = "valkey"
)

// Store selects where token material and pending logins are persisted and
// which bus carries the session broadcasts.
type Store struct {
	Type      StoreType `yaml:"type" default:"memory"`
	Namespace string    `yaml:"namespace" default:"default"`
}

type ValKey struct {
	Host     commoncfg.SourceRef `yaml:"host"`
	User     commoncfg.SourceRef `yaml:"user"`
	Password commoncfg.SourceRef `yaml:"password"`
	Prefix   string              `yaml:"prefix" default:"gsc"`
}

type ClientAuthType string

const (
	ClientAuthNone         ClientAuthType = "none"
	ClientAuthClientSecret ClientAuthType = "client_secret"
)

type ClientAuth struct {
	Type         ClientAuthType      `yaml:"type" default:"none"`
	ClientID     string              `yaml:"clientID"`
	ClientSecret commoncfg.SourceRef `yaml:"clientSecret"`
}

const (
	GoogleAuthURL           = "https://accounts.google.com/o/oauth2/v2/auth"
	ScopeWebmastersReadOnly = "https://www.googleapis.com/auth/webmasters.readonly"
)

type SessionManager struct {
	ClientAuth ClientAuth `yaml:"clientAuth"`

	// AuthURL is the identity provider authorization endpoint.
	AuthURL string `yaml:"authURL" default:"https://accounts.google.com/o/oauth2/v2/auth"`
	// TokenURL is the backend function proxying the code exchange.
	TokenURL    string   `yaml:"tokenURL"`
	RedirectURL string   `yaml:"redirectURL" default:"http://localhost:8080/auth/callback"`
	Scopes      []string `yaml:"scopes"`
	// RequiredScope must be part of the granted scopes, otherwise the login fails.
	RequiredScope string `yaml:"requiredScope" default:"https://www.googleapis.com/auth/webmasters.readonly"`

	LoginTimeout         time.Duration `yaml:"loginTimeout" default:"10m"`
	DefaultTokenLifetime time.Duration `yaml:"defaultTokenLifetime" default:"1h"`

	ClientSecretParsed string `yaml:"-"`
}

// EffectiveScopes returns the scopes requested on the consent screen. The
// required scope is always part of them.
func (s SessionManager) EffectiveScopes() []string {
	scopes := []string{"openid", "email"}
	if len(s.Scopes) > 0 {
		scopes = append([]string(nil), s.Scopes...)
	}

	required := s.RequiredScope
	if required == "" {
		required = ScopeWebmastersReadOnly
	}
	for _, scope := range scopes {
		if scope == required {
			return scopes
		}
	}

	return append(scopes, required)
}

type SearchConsole struct {
	// BaseURL is the backend function proxying the Search Console API.
	BaseURL  string        `yaml:"baseURL"`
	Timeout  time.Duration `yaml:"timeout" default:"30s"`
	RowLimit int           `yaml:"rowLimit" default:"1000"`
}

type Dashboard struct {
	Panels   []string      `yaml:"panels"`
	CacheTTL time.Duration `yaml:"cacheTTL" default:"5m"`
	Debounce time.Duration `yaml:"debounce" default:"300ms"`
}

// PanelNames returns the configured panels, falling back to a single
// "performance" panel.
func (d Dashboard) PanelNames() []string {
	if len(d.Panels) == 0 {
		return []string{"performance"}
	}

	return d.Panels
}
