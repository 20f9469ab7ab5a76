// Package sessionvalkey persists the session material in Valkey, so that
// several service instances share one login.
package sessionvalkey

import (
	"context"
	"errors"
	"time"

	"github.com/valkey-io/valkey-go"

	"github.com/Blackwoodproductions/webstackceo-sub000/internal/session"
)

type ObjectType string

const (
	objectTypeToken        ObjectType = "token"
	objectTypePendingLogin ObjectType = "pendingLogin"
)

var (
	ErrGetToken           = errors.New("getting token from store")
	ErrStoreToken         = errors.New("setting token into storage")
	ErrDeleteToken        = errors.New("deleting token from store")
	ErrGetPendingLogin    = errors.New("getting pending login from store")
	ErrTakePendingLogin   = errors.New("taking pending login from store")
	ErrStorePendingLogin  = errors.New("setting pending login into storage")
	ErrDeletePendingLogin = errors.New("deleting pending login from store")
)

// Repository keeps the token and pending login of one namespace under the
// keys <prefix>:<objectType>:<namespace>.
type Repository struct {
	store     *store
	namespace string
}

var _ = session.Repository(&Repository{})

func NewRepository(valkeyClient valkey.Client, prefix, namespace string) *Repository {
	return &Repository{
		store:     newStore(valkeyClient, prefix),
		namespace: namespace,
	}
}

func (r *Repository) LoadToken(ctx context.Context) (session.Token, error) {
	var token session.Token
	if err := r.store.Get(ctx, objectTypeToken, r.namespace, &token); err != nil {
		return session.Token{}, errors.Join(ErrGetToken, err)
	}

	return token, nil
}

func (r *Repository) StoreToken(ctx context.Context, token session.Token) error {
	if err := r.store.Set(ctx, objectTypeToken, r.namespace, token, time.Until(token.Expiry)); err != nil {
		return errors.Join(ErrStoreToken, err)
	}

	return nil
}

func (r *Repository) DeleteToken(ctx context.Context) error {
	if err := r.store.Destroy(ctx, objectTypeToken, r.namespace); err != nil {
		return errors.Join(ErrDeleteToken, err)
	}

	return nil
}

func (r *Repository) LoadPendingLogin(ctx context.Context) (session.PendingLogin, error) {
	var login session.PendingLogin
	if err := r.store.Get(ctx, objectTypePendingLogin, r.namespace, &login); err != nil {
		return session.PendingLogin{}, errors.Join(ErrGetPendingLogin, err)
	}

	return login, nil
}

func (r *Repository) ConsumePendingLogin(ctx context.Context) (session.PendingLogin, error) {
	var login session.PendingLogin
	if err := r.store.Take(ctx, objectTypePendingLogin, r.namespace, &login); err != nil {
		return session.PendingLogin{}, errors.Join(ErrTakePendingLogin, err)
	}

	return login, nil
}

func (r *Repository) StorePendingLogin(ctx context.Context, login session.PendingLogin) error {
	if err := r.store.Set(ctx, objectTypePendingLogin, r.namespace, login, time.Until(login.Expiry)); err != nil {
		return errors.Join(ErrStorePendingLogin, err)
	}

	return nil
}

func (r *Repository) DeletePendingLogin(ctx context.Context) error {
	if err := r.store.Destroy(ctx, objectTypePendingLogin, r.namespace); err != nil {
		return errors.Join(ErrDeletePendingLogin, err)
	}

	return nil
}
