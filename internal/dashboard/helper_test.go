package dashboard_test

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Blackwoodproductions/webstackceo-sub000/internal/searchconsole"
	"github.com/Blackwoodproductions/webstackceo-sub000/internal/serviceerr"
	"github.com/Blackwoodproductions/webstackceo-sub000/internal/session"
)

type fakeSessions struct {
	mu          sync.Mutex
	token       session.Token
	err         error
	invalidated []string
	statuses    chan session.Status
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{
		token:    session.Token{AccessToken: "access-token", Expiry: time.Now().Add(time.Hour)},
		statuses: make(chan session.Status, 4),
	}
}

func (s *fakeSessions) Token(_ context.Context) (session.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return session.Token{}, s.err
	}
	return s.token, nil
}

func (s *fakeSessions) Invalidate(_ context.Context, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invalidated = append(s.invalidated, reason)
	s.err = serviceerr.ErrNotAuthenticated
}

func (s *fakeSessions) Watch() (<-chan session.Status, func()) {
	var once sync.Once
	return s.statuses, func() { once.Do(func() { close(s.statuses) }) }
}

func (s *fakeSessions) Invalidations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.invalidated)
}

func (s *fakeSessions) SetToken(token session.Token) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	s.err = nil
}

func (s *fakeSessions) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

type fakeFetcher struct {
	calls     atomic.Int32
	siteCalls atomic.Int32
	err       error
	// entered and release, if set, hold a query until released
	entered chan string
	release chan struct{}

	mu      sync.Mutex
	queries []searchconsole.Query
}

func (f *fakeFetcher) ListSites(_ context.Context, _ session.Token) ([]searchconsole.Site, error) {
	f.siteCalls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return []searchconsole.Site{{SiteURL: "https://example.com/", PermissionLevel: "siteOwner"}}, nil
}

func (f *fakeFetcher) Query(_ context.Context, _ session.Token, q searchconsole.Query) (searchconsole.Rows, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.queries = append(f.queries, q)
	f.mu.Unlock()

	if f.entered != nil {
		f.entered <- q.SiteURL
		<-f.release
	}
	if f.err != nil {
		return searchconsole.Rows{}, f.err
	}

	return searchconsole.Rows{
		StartDate: "2026-01-01",
		EndDate:   "2026-01-28",
		Rows:      []searchconsole.Row{{Keys: []string{q.SiteURL}, Clicks: 1, Impressions: 10, CTR: 0.1, Position: 2}},
	}, nil
}

func (f *fakeFetcher) Calls() int {
	return int(f.calls.Load())
}

func (f *fakeFetcher) LastQuery() searchconsole.Query {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.queries) == 0 {
		return searchconsole.Query{}
	}
	return f.queries[len(f.queries)-1]
}
