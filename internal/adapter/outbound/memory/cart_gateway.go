// Package memory provides in-memory implementations of outbound ports.
package memory

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Tetsuuya/tasty-kitchen-3/internal/domain/cart"
	"github.com/Tetsuuya/tasty-kitchen-3/internal/domain/checkout"
	"github.com/Tetsuuya/tasty-kitchen-3/internal/domain/session"
)

// Gateway operation names accepted by FailNext, FailProduct and Calls.
const (
	OpFetch    = "fetch"
	OpAdd      = "add"
	OpRemove   = "remove"
	OpCheckout = "checkout"
)

// Hook runs before every call. A non-nil error fails the call.
type Hook func(ctx context.Context, op, productID string) error

// CartGateway implements outbound.CartGateway and outbound.Checkouter
// with per-identity carts held in memory. Thread-safe. For development and
// testing only.
//
// Failures can be injected per operation (FailNext) or per product
// (FailProduct) to exercise the cart store's fallback paths.
type CartGateway struct {
	mu       sync.Mutex
	catalog  map[string]cart.Product
	tokens   map[string]string // credential -> identity
	carts    map[string][]cart.Line
	nextLine int

	failNext    map[string][]error
	failProduct map[string]error // "op/productID"
	calls       map[string]int
	orders      []checkout.Receipt
	hook        Hook
}

// NewCartGateway creates a gateway whose catalog holds products.
func NewCartGateway(products ...cart.Product) *CartGateway {
	g := &CartGateway{
		catalog:     make(map[string]cart.Product),
		tokens:      make(map[string]string),
		carts:       make(map[string][]cart.Line),
		failNext:    make(map[string][]error),
		failProduct: make(map[string]error),
		calls:       make(map[string]int),
	}
	for _, p := range products {
		g.catalog[p.ID] = p
	}
	return g
}

// AddProduct adds or replaces a catalog product.
func (g *CartGateway) AddProduct(p cart.Product) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.catalog[p.ID] = p
}

// Authorize binds a credential to an identity. Once any credential is
// bound, calls with unknown credentials fail with ErrUnauthorized; before
// that every non-empty credential is accepted.
func (g *CartGateway) Authorize(credential, identity string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.tokens[credential] = identity
}

// Revoke forgets a credential.
func (g *CartGateway) Revoke(credential string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.tokens, credential)
}

// Seed replaces the remote cart of identity.
func (g *CartGateway) Seed(identity string, lines ...cart.Line) {
	g.mu.Lock()
	defer g.mu.Unlock()
	seeded := make([]cart.Line, 0, len(lines))
	for _, l := range lines {
		if l.LineID == "" {
			l.LineID = g.newLineID()
		}
		seeded = append(seeded, l)
	}
	g.carts[identity] = seeded
}

// Lines returns a copy of the remote cart of identity.
func (g *CartGateway) Lines(identity string) []cart.Line {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]cart.Line(nil), g.carts[identity]...)
}

// FailNext makes the next call of op fail with err. Calls queue up.
func (g *CartGateway) FailNext(op string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failNext[op] = append(g.failNext[op], err)
}

// FailProduct makes every call of op for productID fail with err until
// ResetFailures.
func (g *CartGateway) FailProduct(op, productID string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failProduct[op+"/"+productID] = err
}

// ResetFailures drops every injected failure.
func (g *CartGateway) ResetFailures() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failNext = make(map[string][]error)
	g.failProduct = make(map[string]error)
}

// SetHook installs a hook run before every call, outside the lock.
func (g *CartGateway) SetHook(h Hook) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.hook = h
}

// Calls returns how many times op was invoked.
func (g *CartGateway) Calls(op string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[op]
}

// Orders returns the receipts of every placed order.
func (g *CartGateway) Orders() []checkout.Receipt {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]checkout.Receipt(nil), g.orders...)
}

// Fetch returns the cart of the session's identity.
func (g *CartGateway) Fetch(ctx context.Context, sess session.Session) (cart.Cart, error) {
	identity, err := g.begin(ctx, sess, OpFetch, "")
	if err != nil {
		return cart.Empty(sess.Identity), err
	}
	defer g.mu.Unlock()
	return cart.New(identity, g.carts[identity]), nil
}

// Add appends productID or increments its quantity.
func (g *CartGateway) Add(ctx context.Context, sess session.Session, productID string, quantity int) error {
	if quantity < 1 {
		return &cart.GatewayError{Kind: cart.ErrInvalid, Op: OpAdd, Message: "quantity must be at least 1"}
	}
	identity, err := g.begin(ctx, sess, OpAdd, productID)
	if err != nil {
		return err
	}
	defer g.mu.Unlock()

	p, ok := g.catalog[productID]
	if !ok {
		return &cart.GatewayError{Kind: cart.ErrNotFound, Op: OpAdd, StatusCode: 404, Message: "No Product matches the given query."}
	}
	lines := g.carts[identity]
	for i := range lines {
		if lines[i].ID == productID {
			lines[i].Quantity += quantity
			return nil
		}
	}
	g.carts[identity] = append(lines, cart.Line{Product: p, Quantity: quantity, LineID: g.newLineID()})
	return nil
}

// Remove deletes the line for productID.
func (g *CartGateway) Remove(ctx context.Context, sess session.Session, productID string) error {
	identity, err := g.begin(ctx, sess, OpRemove, productID)
	if err != nil {
		return err
	}
	defer g.mu.Unlock()

	if !g.removeLocked(identity, productID) {
		return &cart.GatewayError{Kind: cart.ErrNotFound, Op: OpRemove, StatusCode: 404, Message: "No CartItem matches the given query."}
	}
	return nil
}

// Checkout places an order for lines and drops them from the remote cart.
func (g *CartGateway) Checkout(ctx context.Context, sess session.Session, lines []cart.Line) (*checkout.Receipt, error) {
	if len(lines) == 0 {
		return nil, checkout.ErrEmptySelection
	}
	identity, err := g.begin(ctx, sess, OpCheckout, "")
	if err != nil {
		return nil, err
	}
	defer g.mu.Unlock()

	ordered := cart.New(identity, lines)
	for _, l := range ordered.Lines() {
		g.removeLocked(identity, l.ID)
	}
	receipt := checkout.Receipt{
		OrderID:   uuid.NewString(),
		Status:    "pending",
		Total:     ordered.Total(),
		CreatedAt: time.Now().UTC(),
		Lines:     ordered.Lines(),
	}
	g.orders = append(g.orders, receipt)
	return &receipt, nil
}

// begin counts the call, runs the hook and injected failures, and checks
// the credential. On success it returns with g.mu held.
func (g *CartGateway) begin(ctx context.Context, sess session.Session, op, productID string) (string, error) {
	g.mu.Lock()
	g.calls[op]++
	hook := g.hook
	g.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, op, productID); err != nil {
			return "", err
		}
	}
	if err := ctx.Err(); err != nil {
		return "", &cart.GatewayError{Kind: cart.ErrUnavailable, Op: op, Cause: err}
	}

	g.mu.Lock()
	if queue := g.failNext[op]; len(queue) > 0 {
		err := queue[0]
		g.failNext[op] = queue[1:]
		g.mu.Unlock()
		return "", err
	}
	if err, ok := g.failProduct[op+"/"+productID]; ok && productID != "" {
		g.mu.Unlock()
		return "", err
	}

	if sess.Credential == "" {
		g.mu.Unlock()
		return "", &cart.GatewayError{Kind: cart.ErrUnauthorized, Op: op, StatusCode: 401, Message: "Authentication credentials were not provided."}
	}
	identity := sess.Identity
	if len(g.tokens) > 0 {
		bound, ok := g.tokens[sess.Credential]
		if !ok {
			g.mu.Unlock()
			return "", &cart.GatewayError{Kind: cart.ErrUnauthorized, Op: op, StatusCode: 401, Message: "Given token not valid for any token type"}
		}
		identity = bound
	}
	return identity, nil
}

func (g *CartGateway) removeLocked(identity, productID string) bool {
	lines := g.carts[identity]
	for i := range lines {
		if lines[i].ID == productID {
			g.carts[identity] = append(lines[:i:i], lines[i+1:]...)
			return true
		}
	}
	return false
}

func (g *CartGateway) newLineID() string {
	g.nextLine++
	return strconv.Itoa(g.nextLine)
}
