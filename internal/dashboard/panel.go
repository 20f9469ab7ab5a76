// Package dashboard holds the panels showing Search Console data. Each panel
// owns its site selection, filter, last result and error, and asks its
// session manager for a token before every call.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	slogctx "github.com/veqryn/slog-context"

	"github.com/Blackwoodproductions/webstackceo-sub000/internal/searchconsole"
	"github.com/Blackwoodproductions/webstackceo-sub000/internal/serviceerr"
	"github.com/Blackwoodproductions/webstackceo-sub000/internal/session"
)

// ErrSuperseded reports a result that was discarded because the selection
// changed while it was fetched.
var ErrSuperseded = fmt.Errorf("%w: the selection changed while loading", serviceerr.ErrConflict)

// Sessions is the part of session.Manager a panel depends on.
type Sessions interface {
	Token(ctx context.Context) (session.Token, error)
	Invalidate(ctx context.Context, reason string)
	Watch() (<-chan session.Status, func())
}

// Fetcher reads Search Console data with a token.
type Fetcher interface {
	ListSites(ctx context.Context, token session.Token) ([]searchconsole.Site, error)
	Query(ctx context.Context, token session.Token, q searchconsole.Query) (searchconsole.Rows, error)
}

// Filter narrows the data shown by a panel.
type Filter struct {
	Range searchconsole.Range      `json:"range"`
	Type  searchconsole.SearchType `json:"type"`
}

var DefaultFilter = Filter{Range: searchconsole.Range28Days, Type: searchconsole.SearchTypeWeb}

func (f Filter) Validate() error {
	if !f.Range.Valid() {
		return fmt.Errorf("%w: unknown date range %q", serviceerr.ErrInvalidRequest, string(f.Range))
	}
	if !f.Type.Valid() {
		return fmt.Errorf("%w: unknown search type %q", serviceerr.ErrInvalidRequest, string(f.Type))
	}

	return nil
}

// State is a consistent view of a panel.
type State struct {
	Name       string
	Site       string
	Filter     Filter
	Rows       *searchconsole.Rows
	Cached     bool
	Loading    bool
	FetchedAt  time.Time
	Err        error
	Generation uint64
}

type PanelOption func(*Panel)

func WithDimensions(dimensions ...searchconsole.Dimension) PanelOption {
	return func(p *Panel) { p.dimensions = dimensions }
}

func WithFilter(filter Filter) PanelOption {
	return func(p *Panel) { p.filter = filter }
}

type Panel struct {
	name       string
	sessions   Sessions
	fetcher    Fetcher
	cache      *ResultCache
	debouncer  *Debouncer
	dimensions []searchconsole.Dimension
	now        func() time.Time

	mu         sync.Mutex
	baseCtx    context.Context
	site       string
	filter     Filter
	generation uint64
	rows       *searchconsole.Rows
	cached     bool
	loading    bool
	fetchedAt  time.Time
	err        error
	stopWatch  func()
}

func NewPanel(name string, sessions Sessions, fetcher Fetcher, cache *ResultCache, debounce time.Duration, opts ...PanelOption) *Panel {
	p := &Panel{
		name:       name,
		sessions:   sessions,
		fetcher:    fetcher,
		cache:      cache,
		debouncer:  NewDebouncer(debounce),
		dimensions: []searchconsole.Dimension{searchconsole.DimensionDate},
		now:        time.Now,
		baseCtx:    context.Background(),
		filter:     DefaultFilter,
	}
	for _, opt := range opts {
		opt(p)
	}

	return p
}

func (p *Panel) Name() string {
	return p.name
}

// Start follows the session state of the panel. Data and cached results are
// dropped once the session ends and reloaded once a session is adopted.
// Debounced loads run with ctx.
func (p *Panel) Start(ctx context.Context) {
	ctx = slogctx.With(ctx, "panel", p.name)

	p.mu.Lock()
	if p.stopWatch != nil {
		p.mu.Unlock()
		return
	}
	p.baseCtx = ctx
	statuses, stop := p.sessions.Watch()
	p.stopWatch = stop
	p.mu.Unlock()

	go func() {
		for status := range statuses {
			switch status {
			case session.StatusUnauthenticated:
				p.cache.Flush()
				p.clear(serviceerr.ErrNotAuthenticated)
			case session.StatusAuthenticated:
				p.mu.Lock()
				selected := p.site != ""
				p.mu.Unlock()
				if selected {
					p.scheduleLoad()
				}
			case session.StatusAwaitingCallback:
			}
		}
	}()
}

func (p *Panel) Close() {
	p.debouncer.Stop()

	p.mu.Lock()
	stop := p.stopWatch
	p.stopWatch = nil
	p.mu.Unlock()

	if stop != nil {
		stop()
	}
}

// SelectSite switches the panel to site. The previous data is cleared at
// once, results still in flight for the previous site are discarded.
func (p *Panel) SelectSite(site string) State {
	p.mu.Lock()
	defer p.mu.Unlock()

	if site != p.site {
		p.site = site
		p.resetLocked(nil)
	}

	return p.stateLocked()
}

// SetFilter changes the filter and schedules a debounced load. A burst of
// changes results in a single load with the last filter.
func (p *Panel) SetFilter(filter Filter) (State, error) {
	if err := filter.Validate(); err != nil {
		return p.State(), err
	}

	p.mu.Lock()
	changed := filter != p.filter
	if changed {
		p.filter = filter
		p.resetLocked(nil)
	}
	state := p.stateLocked()
	p.mu.Unlock()

	if changed && state.Site != "" {
		p.scheduleLoad()
	}

	return state, nil
}

// Load shows the rows for the current selection, from the cache if possible.
func (p *Panel) Load(ctx context.Context) (State, error) {
	return p.load(ctx, false)
}

// Refresh reloads the current selection, bypassing the cache.
func (p *Panel) Refresh(ctx context.Context) (State, error) {
	return p.load(ctx, true)
}

// Sites lists the sites of the authenticated user.
func (p *Panel) Sites(ctx context.Context) ([]searchconsole.Site, error) {
	ctx = slogctx.With(ctx, "panel", p.name)

	token, err := p.sessions.Token(ctx)
	if err != nil {
		return nil, err
	}

	sites, err := p.fetcher.ListSites(ctx, token)
	if errors.Is(err, serviceerr.ErrUnauthenticated) {
		p.sessions.Invalidate(ctx, "site list rejected the token")
	}

	return sites, err
}

func (p *Panel) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.stateLocked()
}

func (p *Panel) load(ctx context.Context, refresh bool) (State, error) {
	ctx = slogctx.With(ctx, "panel", p.name)

	token, err := p.sessions.Token(ctx)
	if err != nil {
		return p.fail(p.currentGeneration(), err)
	}

	p.mu.Lock()
	generation := p.generation
	key := CacheKey{Session: SessionKey(token), Site: p.site, Range: p.filter.Range, Type: p.filter.Type}
	if key.Site == "" {
		p.mu.Unlock()
		return p.fail(generation, serviceerr.ErrNoSiteSelected)
	}
	p.loading = true
	p.mu.Unlock()

	query := searchconsole.Query{
		SiteURL:    key.Site,
		Range:      key.Range,
		Type:       key.Type,
		Dimensions: p.dimensions,
	}

	rows, hit, err := p.cache.Fetch(ctx, key, refresh, func(ctx context.Context) (searchconsole.Rows, error) {
		return p.fetcher.Query(ctx, token, query)
	})
	if errors.Is(err, serviceerr.ErrUnauthenticated) {
		slogctx.Warn(ctx, "Search Console rejected the token", "site", key.Site)
		state, err := p.fail(generation, err)
		p.sessions.Invalidate(ctx, "search analytics rejected the token")

		return state, err
	}
	if err != nil {
		return p.fail(generation, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.generation != generation {
		slogctx.Debug(ctx, "Discarding a superseded result", "site", key.Site)
		return p.stateLocked(), ErrSuperseded
	}
	p.rows = &rows
	p.cached = hit
	p.fetchedAt = p.now()
	p.loading = false
	p.err = nil

	return p.stateLocked(), nil
}

// fail records err on the panel if the selection is still the one the
// failed call was issued for.
func (p *Panel) fail(generation uint64, err error) (State, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.generation != generation {
		return p.stateLocked(), ErrSuperseded
	}
	p.loading = false
	p.err = err
	if isAuthError(err) {
		// the rows belong to a session that ended
		p.rows = nil
		p.cached = false
	}

	return p.stateLocked(), err
}

func (p *Panel) scheduleLoad() {
	p.debouncer.Trigger(func() {
		p.mu.Lock()
		ctx := p.baseCtx
		p.mu.Unlock()

		if _, err := p.Load(ctx); err != nil && !errors.Is(err, ErrSuperseded) {
			slogctx.Warn(ctx, "Debounced load failed", "error", err)
		}
	})
}

func (p *Panel) clear(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	// a panel already asking for a (re)connect keeps its error
	if p.rows == nil && isAuthError(p.err) {
		return
	}
	p.resetLocked(err)
}

func isAuthError(err error) bool {
	return errors.Is(err, serviceerr.ErrNotAuthenticated) || errors.Is(err, serviceerr.ErrUnauthenticated)
}

// resetLocked must be called with mu held.
func (p *Panel) resetLocked(err error) {
	p.generation++
	p.rows = nil
	p.cached = false
	p.loading = false
	p.fetchedAt = time.Time{}
	p.err = err
}

func (p *Panel) currentGeneration() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.generation
}

// stateLocked must be called with mu held.
func (p *Panel) stateLocked() State {
	return State{
		Name:       p.name,
		Site:       p.site,
		Filter:     p.filter,
		Rows:       p.rows,
		Cached:     p.cached,
		Loading:    p.loading,
		FetchedAt:  p.fetchedAt,
		Err:        p.err,
		Generation: p.generation,
	}
}
