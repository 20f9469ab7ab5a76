package session

import "context"

// Repository persists the session material of one namespace. Missing items
// are reported with serviceerr.ErrNotFound. Store and delete operations are
// idempotent.
type Repository interface {
	// Token operations
	LoadToken(ctx context.Context) (Token, error)
	StoreToken(ctx context.Context, token Token) error
	DeleteToken(ctx context.Context) error
	// Pending login operations
	LoadPendingLogin(ctx context.Context) (PendingLogin, error)
	// ConsumePendingLogin loads and deletes the pending login atomically.
	// Of two concurrent callers only one gets it.
	ConsumePendingLogin(ctx context.Context) (PendingLogin, error)
	StorePendingLogin(ctx context.Context, login PendingLogin) error
	DeletePendingLogin(ctx context.Context) error
}

// Bus carries session events between sibling managers.
type Bus interface {
	Publish(ctx context.Context, event Event) error
	// Subscribe returns a channel of events and a function releasing the
	// subscription. The channel is closed once released.
	Subscribe(ctx context.Context) (<-chan Event, func(), error)
}
