// Package outbound defines the outbound port interfaces: the remote cart,
// the order service and the operation journal.
package outbound

import (
	"context"

	"github.com/Tetsuuya/tasty-kitchen-3/internal/domain/cart"
	"github.com/Tetsuuya/tasty-kitchen-3/internal/domain/checkout"
	"github.com/Tetsuuya/tasty-kitchen-3/internal/domain/journal"
	"github.com/Tetsuuya/tasty-kitchen-3/internal/domain/session"
)

// CartGateway is the outbound port for the remote cart service.
// Adapters implement this for different transports (HTTP, in-process).
//
// Each call carries the intent idempotently but is not idempotent on the
// wire: two Adds increment twice.
type CartGateway interface {
	// Fetch returns the authoritative cart of the session's identity.
	// Fails with cart.ErrUnauthorized or cart.ErrUnavailable.
	Fetch(ctx context.Context, sess session.Session) (cart.Cart, error)

	// Add appends productID or increments its quantity server-side.
	// Fails with cart.ErrNotFound for products unknown to the catalog, or
	// cart.ErrUnavailable.
	Add(ctx context.Context, sess session.Session, productID string, quantity int) error

	// Remove deletes the whole line for productID. Fails with
	// cart.ErrNotFound when no such line exists remotely, or
	// cart.ErrUnavailable.
	Remove(ctx context.Context, sess session.Session, productID string) error
}

// Checkouter places an order for a set of cart lines.
type Checkouter interface {
	Checkout(ctx context.Context, sess session.Session, lines []cart.Line) (*checkout.Receipt, error)
}

// Journal records cart store operations.
type Journal interface {
	// Record appends an entry.
	Record(ctx context.Context, entry journal.Entry) error
	// Recent returns up to limit entries for identity, newest first.
	// An empty identity returns entries for every identity.
	Recent(ctx context.Context, identity string, limit int) ([]journal.Entry, error)
}
