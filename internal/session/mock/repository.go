package sessionmock

import (
	"context"
	"sync"

	"github.com/Blackwoodproductions/webstackceo-sub000/internal/serviceerr"
	"github.com/Blackwoodproductions/webstackceo-sub000/internal/session"
)

type RepositoryOption func(*Repository)

type Repository struct {
	mu    sync.Mutex
	token *session.Token
	login *session.PendingLogin

	loadTokenErr, storeTokenErr, deleteTokenErr error
	loadLoginErr, storeLoginErr, deleteLoginErr error
}

func WithToken(token session.Token) RepositoryOption {
	return func(r *Repository) { r.token = &token }
}
func WithPendingLogin(login session.PendingLogin) RepositoryOption {
	return func(r *Repository) { r.login = &login }
}
func WithLoadTokenError(err error) RepositoryOption {
	return func(r *Repository) { r.loadTokenErr = err }
}
func WithStoreTokenError(err error) RepositoryOption {
	return func(r *Repository) { r.storeTokenErr = err }
}
func WithDeleteTokenError(err error) RepositoryOption {
	return func(r *Repository) { r.deleteTokenErr = err }
}
func WithLoadPendingLoginError(err error) RepositoryOption {
	return func(r *Repository) { r.loadLoginErr = err }
}
func WithStorePendingLoginError(err error) RepositoryOption {
	return func(r *Repository) { r.storeLoginErr = err }
}
func WithDeletePendingLoginError(err error) RepositoryOption {
	return func(r *Repository) { r.deleteLoginErr = err }
}

var _ = session.Repository(&Repository{})

func NewInMemRepository(opts ...RepositoryOption) *Repository {
	r := &Repository{}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

func (r *Repository) LoadToken(_ context.Context) (session.Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loadTokenErr != nil {
		return session.Token{}, r.loadTokenErr
	}
	if r.token == nil {
		return session.Token{}, serviceerr.ErrNotFound
	}
	return *r.token, nil
}

func (r *Repository) StoreToken(_ context.Context, token session.Token) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.storeTokenErr != nil {
		return r.storeTokenErr
	}
	r.token = &token
	return nil
}

func (r *Repository) DeleteToken(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.deleteTokenErr != nil {
		return r.deleteTokenErr
	}
	r.token = nil
	return nil
}

func (r *Repository) LoadPendingLogin(_ context.Context) (session.PendingLogin, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loadLoginErr != nil {
		return session.PendingLogin{}, r.loadLoginErr
	}
	if r.login == nil {
		return session.PendingLogin{}, serviceerr.ErrNotFound
	}
	return *r.login, nil
}

func (r *Repository) ConsumePendingLogin(_ context.Context) (session.PendingLogin, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loadLoginErr != nil {
		return session.PendingLogin{}, r.loadLoginErr
	}
	if r.login == nil {
		return session.PendingLogin{}, serviceerr.ErrNotFound
	}
	login := *r.login
	r.login = nil
	return login, nil
}

func (r *Repository) StorePendingLogin(_ context.Context, login session.PendingLogin) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.storeLoginErr != nil {
		return r.storeLoginErr
	}
	r.login = &login
	return nil
}

func (r *Repository) DeletePendingLogin(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.deleteLoginErr != nil {
		return r.deleteLoginErr
	}
	r.login = nil
	return nil
}

// TToken returns the stored token, for test assertions.
func (r *Repository) TToken() (session.Token, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.token == nil {
		return session.Token{}, false
	}
	return *r.token, true
}

// TPendingLogin returns the stored pending login, for test assertions.
func (r *Repository) TPendingLogin() (session.PendingLogin, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.login == nil {
		return session.PendingLogin{}, false
	}
	return *r.login, true
}
