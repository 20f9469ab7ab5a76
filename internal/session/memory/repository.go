// Package sessionmemory keeps the session material in process memory. It is
// meant for single instance deployments; items expire with their token or
// pending login.
package sessionmemory

import (
	"context"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/Blackwoodproductions/webstackceo-sub000/internal/serviceerr"
	"github.com/Blackwoodproductions/webstackceo-sub000/internal/session"
)

const (
	keyToken        = "token"
	keyPendingLogin = "pendingLogin"

	cleanupInterval = time.Minute
)

type Repository struct {
	namespace string
	cache     *cache.Cache
	// loginMu serialises pending login writes with their consumption.
	loginMu sync.Mutex
}

var _ = session.Repository(&Repository{})

func NewRepository(namespace string) *Repository {
	return &Repository{
		namespace: namespace,
		cache:     cache.New(cache.NoExpiration, cleanupInterval),
	}
}

func (r *Repository) LoadToken(_ context.Context) (session.Token, error) {
	v, ok := r.cache.Get(r.key(keyToken))
	if !ok {
		return session.Token{}, serviceerr.ErrNotFound
	}

	//nolint:forcetypeassert
	return v.(session.Token), nil
}

func (r *Repository) StoreToken(_ context.Context, token session.Token) error {
	r.set(keyToken, token, token.Expiry)
	return nil
}

func (r *Repository) DeleteToken(_ context.Context) error {
	r.cache.Delete(r.key(keyToken))
	return nil
}

func (r *Repository) LoadPendingLogin(_ context.Context) (session.PendingLogin, error) {
	v, ok := r.cache.Get(r.key(keyPendingLogin))
	if !ok {
		return session.PendingLogin{}, serviceerr.ErrNotFound
	}

	//nolint:forcetypeassert
	return v.(session.PendingLogin), nil
}

func (r *Repository) ConsumePendingLogin(ctx context.Context) (session.PendingLogin, error) {
	r.loginMu.Lock()
	defer r.loginMu.Unlock()

	login, err := r.LoadPendingLogin(ctx)
	if err != nil {
		return session.PendingLogin{}, err
	}
	r.cache.Delete(r.key(keyPendingLogin))

	return login, nil
}

func (r *Repository) StorePendingLogin(_ context.Context, login session.PendingLogin) error {
	r.loginMu.Lock()
	defer r.loginMu.Unlock()

	r.set(keyPendingLogin, login, login.Expiry)
	return nil
}

func (r *Repository) DeletePendingLogin(_ context.Context) error {
	r.loginMu.Lock()
	defer r.loginMu.Unlock()

	r.cache.Delete(r.key(keyPendingLogin))
	return nil
}

// set stores v until expiry. An item that already expired is removed instead.
func (r *Repository) set(objectType string, v any, expiry time.Time) {
	ttl := time.Until(expiry)
	if ttl <= 0 {
		r.cache.Delete(r.key(objectType))
		return
	}

	r.cache.Set(r.key(objectType), v, ttl)
}

func (r *Repository) key(objectType string) string {
	return r.namespace + ":" + objectType
}
