package orders

import (
	"context"
	"time"
)

// Store is the authoritative order storage.
type Store interface {
	// Ping is a trivial read used to probe connectivity.
	Ping(ctx context.Context) error
	Insert(ctx context.Context, o Order) error
	InsertItems(ctx context.Context, items []LineItem) error
	// FindByNumber returns nil, nil when no order has the number and
	// ErrConflict when more than one does.
	FindByNumber(ctx context.Context, number string) (*Order, error)
	StatusByNumber(ctx context.Context, number string) (Status, error)
	Get(ctx context.Context, id string) (*Order, error)
	Items(ctx context.Context, orderID string) ([]LineItem, error)
	// List returns every order ordered by id.
	List(ctx context.Context) ([]Order, error)
	// SearchByPhone matches a case-insensitive fragment, newest first.
	SearchByPhone(ctx context.Context, fragment string) ([]Order, error)
	UpdateStatus(ctx context.Context, id string, s Status, at time.Time) error
	Update(ctx context.Context, id string, p Patch, at time.Time) (*Order, error)
	Delete(ctx context.Context, id string) error
}

// Mirror is the non-authoritative snapshot cache keyed by order number.
type Mirror interface {
	// Find returns nil, nil when the number is not mirrored.
	Find(ctx context.Context, number string) (*MirrorEntry, error)
	// Put inserts or replaces the entry with the same number.
	Put(ctx context.Context, e MirrorEntry) error
	// SetStatus reports false when the number is not mirrored.
	SetStatus(ctx context.Context, number string, s Status) (bool, error)
}

type nopMirror struct{}

func (nopMirror) Find(context.Context, string) (*MirrorEntry, error)      { return nil, nil }
func (nopMirror) Put(context.Context, MirrorEntry) error                  { return nil }
func (nopMirror) SetStatus(context.Context, string, Status) (bool, error) { return false, nil }

// StatusCache holds a status per order number for readers that tolerate
// staleness. The manager drops the entry on every write to that order.
type StatusCache interface {
	Invalidate(ctx context.Context, number string) error
}

type nopStatusCache struct{}

func (nopStatusCache) Invalidate(context.Context, string) error { return nil }
