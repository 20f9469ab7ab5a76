package dashboard_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Blackwoodproductions/webstackceo-sub000/internal/dashboard"
	"github.com/Blackwoodproductions/webstackceo-sub000/internal/searchconsole"
	"github.com/Blackwoodproductions/webstackceo-sub000/internal/serviceerr"
	"github.com/Blackwoodproductions/webstackceo-sub000/internal/session"
)

const (
	siteA = "https://a.example.com/"
	siteB = "https://b.example.com/"
)

func newTestPanel(t *testing.T, sessions dashboard.Sessions, fetcher dashboard.Fetcher, cache *dashboard.ResultCache) *dashboard.Panel {
	t.Helper()
	if cache == nil {
		cache = dashboard.NewResultCache(time.Minute)
	}
	p := dashboard.NewPanel("performance", sessions, fetcher, cache, 10*time.Millisecond)
	t.Cleanup(p.Close)

	return p
}

func TestPanel_LoadUsesTheCache(t *testing.T) {
	fetcher := &fakeFetcher{}
	p := newTestPanel(t, newFakeSessions(), fetcher, nil)
	p.SelectSite(siteA)

	state, err := p.Load(t.Context())
	require.NoError(t, err)
	require.NotNil(t, state.Rows)
	assert.False(t, state.Cached)

	state, err = p.Load(t.Context())
	require.NoError(t, err)
	assert.True(t, state.Cached)
	assert.Equal(t, 1, fetcher.Calls(), "a cache hit must not call the api")

	query := fetcher.LastQuery()
	assert.Equal(t, siteA, query.SiteURL)
	assert.Equal(t, searchconsole.Range28Days, query.Range)
	assert.Equal(t, searchconsole.SearchTypeWeb, query.Type)
	assert.Equal(t, []searchconsole.Dimension{searchconsole.DimensionDate}, query.Dimensions)
}

func TestPanel_SiblingsShareTheCache(t *testing.T) {
	fetcher := &fakeFetcher{}
	cache := dashboard.NewResultCache(time.Minute)
	first := newTestPanel(t, newFakeSessions(), fetcher, cache)
	second := newTestPanel(t, newFakeSessions(), fetcher, cache)
	first.SelectSite(siteA)
	second.SelectSite(siteA)

	_, err := first.Load(t.Context())
	require.NoError(t, err)
	state, err := second.Load(t.Context())
	require.NoError(t, err)

	assert.True(t, state.Cached)
	assert.Equal(t, 1, fetcher.Calls())
}

func TestPanel_RefreshBypassesTheCache(t *testing.T) {
	fetcher := &fakeFetcher{}
	p := newTestPanel(t, newFakeSessions(), fetcher, nil)
	p.SelectSite(siteA)

	_, err := p.Load(t.Context())
	require.NoError(t, err)
	state, err := p.Refresh(t.Context())
	require.NoError(t, err)

	assert.False(t, state.Cached)
	assert.Equal(t, 2, fetcher.Calls())
}

func TestPanel_LoadPreconditions(t *testing.T) {
	t.Run("Not authenticated", func(t *testing.T) {
		sessions := newFakeSessions()
		sessions.SetError(serviceerr.ErrNotAuthenticated)
		fetcher := &fakeFetcher{}
		p := newTestPanel(t, sessions, fetcher, nil)
		p.SelectSite(siteA)

		state, err := p.Load(t.Context())
		require.ErrorIs(t, err, serviceerr.ErrNotAuthenticated)
		assert.ErrorIs(t, state.Err, serviceerr.ErrNotAuthenticated)
		assert.Zero(t, fetcher.Calls(), "nothing is fetched without a session")
	})

	t.Run("No site selected", func(t *testing.T) {
		fetcher := &fakeFetcher{}
		p := newTestPanel(t, newFakeSessions(), fetcher, nil)

		_, err := p.Load(t.Context())
		require.ErrorIs(t, err, serviceerr.ErrNoSiteSelected)
		assert.Zero(t, fetcher.Calls())
	})
}

func TestPanel_StaleResultIsDiscarded(t *testing.T) {
	fetcher := &fakeFetcher{entered: make(chan string), release: make(chan struct{})}
	p := newTestPanel(t, newFakeSessions(), fetcher, nil)
	p.SelectSite(siteA)

	type result struct {
		state dashboard.State
		err   error
	}
	done := make(chan result, 1)
	go func() {
		state, err := p.Load(t.Context())
		done <- result{state: state, err: err}
	}()

	assert.Equal(t, siteA, <-fetcher.entered)

	state := p.SelectSite(siteB)
	assert.Nil(t, state.Rows, "switching the site clears the data at once")
	assert.Equal(t, siteB, state.Site)

	close(fetcher.release)
	res := <-done

	require.ErrorIs(t, res.err, dashboard.ErrSuperseded)
	assert.ErrorIs(t, res.err, serviceerr.ErrConflict)
	assert.Equal(t, siteB, res.state.Site)
	assert.Nil(t, res.state.Rows, "the result for the previous site must not be committed")
	assert.Nil(t, p.State().Rows)
}

func TestPanel_Unauthenticated(t *testing.T) {
	sessions := newFakeSessions()
	fetcher := &fakeFetcher{}
	p := newTestPanel(t, sessions, fetcher, nil)
	p.SelectSite(siteA)

	_, err := p.Load(t.Context())
	require.NoError(t, err)

	fetcher.err = serviceerr.ErrUnauthenticated
	state, err := p.Refresh(t.Context())

	require.ErrorIs(t, err, serviceerr.ErrUnauthenticated)
	assert.ErrorIs(t, state.Err, serviceerr.ErrUnauthenticated)
	assert.Nil(t, state.Rows)
	assert.Equal(t, 1, sessions.Invalidations())

	_, err = p.Load(t.Context())
	require.ErrorIs(t, err, serviceerr.ErrNotAuthenticated)
	assert.Equal(t, 2, fetcher.Calls(), "no call after the session was invalidated")
}

func TestPanel_FetchErrorStaysOnThePanel(t *testing.T) {
	sessions := newFakeSessions()
	failing := &fakeFetcher{err: errors.Join(serviceerr.ErrFetchFailed, errors.New("500"))}
	cache := dashboard.NewResultCache(time.Minute)
	p := newTestPanel(t, sessions, failing, cache)
	sibling := newTestPanel(t, sessions, &fakeFetcher{}, cache)
	p.SelectSite(siteA)
	sibling.SelectSite(siteB)

	state, err := p.Load(t.Context())
	require.ErrorIs(t, err, serviceerr.ErrFetchFailed)
	assert.ErrorIs(t, state.Err, serviceerr.ErrFetchFailed)
	assert.Zero(t, sessions.Invalidations())

	siblingState, err := sibling.Load(t.Context())
	require.NoError(t, err)
	assert.NoError(t, siblingState.Err)

	token, err := sessions.Token(t.Context())
	require.NoError(t, err)
	_, ok := cache.Get(dashboard.CacheKey{
		Session: dashboard.SessionKey(token),
		Site:    siteA,
		Range:   searchconsole.Range28Days,
		Type:    searchconsole.SearchTypeWeb,
	})
	assert.False(t, ok, "failures are not cached")
}

func TestPanel_SetFilterIsDebounced(t *testing.T) {
	fetcher := &fakeFetcher{}
	p := newTestPanel(t, newFakeSessions(), fetcher, nil)
	p.SelectSite(siteA)

	for _, rng := range []searchconsole.Range{searchconsole.Range7Days, searchconsole.Range3Months, searchconsole.Range16Months} {
		_, err := p.SetFilter(dashboard.Filter{Range: rng, Type: searchconsole.SearchTypeImage})
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		return p.State().Rows != nil
	}, 5*time.Second, 5*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, fetcher.Calls())
	assert.Equal(t, searchconsole.Range16Months, fetcher.LastQuery().Range)
	assert.Equal(t, searchconsole.SearchTypeImage, fetcher.LastQuery().Type)
}

func TestPanel_SetFilterValidation(t *testing.T) {
	p := newTestPanel(t, newFakeSessions(), &fakeFetcher{}, nil)

	_, err := p.SetFilter(dashboard.Filter{Range: "1y", Type: searchconsole.SearchTypeWeb})
	require.ErrorIs(t, err, serviceerr.ErrInvalidRequest)

	_, err = p.SetFilter(dashboard.Filter{Range: searchconsole.Range7Days, Type: "maps"})
	require.ErrorIs(t, err, serviceerr.ErrInvalidRequest)

	assert.Equal(t, dashboard.DefaultFilter, p.State().Filter)
}

func TestPanel_Sites(t *testing.T) {
	t.Run("Lists sites when authenticated", func(t *testing.T) {
		fetcher := &fakeFetcher{}
		p := newTestPanel(t, newFakeSessions(), fetcher, nil)

		sites, err := p.Sites(t.Context())
		require.NoError(t, err)
		assert.Len(t, sites, 1)
	})

	t.Run("No call without a session", func(t *testing.T) {
		sessions := newFakeSessions()
		sessions.SetError(serviceerr.ErrNotAuthenticated)
		fetcher := &fakeFetcher{}
		p := newTestPanel(t, sessions, fetcher, nil)

		_, err := p.Sites(t.Context())
		require.ErrorIs(t, err, serviceerr.ErrNotAuthenticated)
		assert.Zero(t, fetcher.siteCalls.Load())
	})

	t.Run("Rejected token invalidates the session", func(t *testing.T) {
		sessions := newFakeSessions()
		p := newTestPanel(t, sessions, &fakeFetcher{err: serviceerr.ErrUnauthenticated}, nil)

		_, err := p.Sites(t.Context())
		require.ErrorIs(t, err, serviceerr.ErrUnauthenticated)
		assert.Equal(t, 1, sessions.Invalidations())
	})
}

func TestPanel_FollowsTheSession(t *testing.T) {
	sessions := newFakeSessions()
	fetcher := &fakeFetcher{}
	p := newTestPanel(t, sessions, fetcher, nil)
	p.Start(t.Context())
	p.SelectSite(siteA)

	_, err := p.Load(t.Context())
	require.NoError(t, err)

	sessions.statuses <- session.StatusUnauthenticated
	require.Eventually(t, func() bool {
		state := p.State()
		return state.Rows == nil && errors.Is(state.Err, serviceerr.ErrNotAuthenticated)
	}, 5*time.Second, 5*time.Millisecond)

	sessions.statuses <- session.StatusAuthenticated
	require.Eventually(t, func() bool {
		return p.State().Rows != nil
	}, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, siteA, p.State().Site)
}

func TestPanel_NewSessionDoesNotSeeOldResults(t *testing.T) {
	tests := []struct {
		name     string
		newToken session.Token
	}{
		{
			name:     "Same account logs in again",
			newToken: session.Token{AccessToken: "access-token", Expiry: time.Now().Add(time.Hour)},
		},
		{
			name: "Another account logs in",
			newToken: session.Token{
				AccessToken: "other-access-token",
				Expiry:      time.Now().Add(time.Hour),
				Profile:     session.Profile{Subject: "other"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sessions := newFakeSessions()
			fetcher := &fakeFetcher{}
			p := newTestPanel(t, sessions, fetcher, nil)
			p.Start(t.Context())
			p.SelectSite(siteA)

			_, err := p.Load(t.Context())
			require.NoError(t, err)

			sessions.statuses <- session.StatusUnauthenticated
			require.Eventually(t, func() bool {
				return errors.Is(p.State().Err, serviceerr.ErrNotAuthenticated)
			}, 5*time.Second, 5*time.Millisecond)

			sessions.SetToken(tt.newToken)
			state, err := p.Load(t.Context())
			require.NoError(t, err)
			assert.False(t, state.Cached)
			assert.Equal(t, 2, fetcher.Calls())
		})
	}
}
