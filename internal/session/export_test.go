package session

import (
	"time"

	"golang.org/x/oauth2"
)

// SetClock replaces the clock for testing purposes.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

func (m *Manager) OAuthConfig() *oauth2.Config {
	return m.oauth
}

var DecodeProfile = decodeProfile
