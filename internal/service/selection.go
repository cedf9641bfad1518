package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Tetsuuya/tasty-kitchen-3/internal/domain/cart"
	"github.com/Tetsuuya/tasty-kitchen-3/internal/domain/checkout"
	"github.com/Tetsuuya/tasty-kitchen-3/internal/domain/journal"
	"github.com/Tetsuuya/tasty-kitchen-3/internal/port/outbound"
	"github.com/Tetsuuya/tasty-kitchen-3/internal/telemetry"
)

// SelectionOption configures a SelectionController.
type SelectionOption func(*SelectionController)

// WithCheckoutRule gates Checkout on rule. Nil keeps checkout.AllowAll.
func WithCheckoutRule(rule checkout.Rule) SelectionOption {
	return func(c *SelectionController) {
		if rule != nil {
			c.rule = rule
		}
	}
}

// WithSelectionMetrics records checkouts on m.
func WithSelectionMetrics(m *telemetry.Metrics) SelectionOption {
	return func(c *SelectionController) {
		c.metrics = m
	}
}

// WithSelectionLogger sets the logger.
func WithSelectionLogger(l *slog.Logger) SelectionOption {
	return func(c *SelectionController) {
		if l != nil {
			c.logger = l
		}
	}
}

// Totals are the sums shown next to the cart.
type Totals struct {
	Cart     decimal.Decimal `json:"cart_total" yaml:"cart_total"`
	Selected decimal.Decimal `json:"selected_total" yaml:"selected_total"`
}

// SelectionView is a consistent read of the cart, the selection and the
// totals.
type SelectionView struct {
	Cart        cart.Cart   `json:"cart" yaml:"cart"`
	Status      cart.Status `json:"status" yaml:"status"`
	Selected    []string    `json:"selected" yaml:"selected"`
	AllSelected bool        `json:"all_selected" yaml:"all_selected"`
	CheckingOut bool        `json:"checking_out" yaml:"checking_out"`
	Totals      Totals      `json:"totals" yaml:"totals"`
}

// SelectionController tracks which cart lines are selected for a partial
// checkout. It holds product IDs only; lines, prices and totals always come
// from the store's current snapshot.
//
// The selection is reset whenever the line set of the cart changes (a
// product added or removed, or the identity switched). Quantity edits keep
// it.
type SelectionController struct {
	store      *CartStore
	checkouter outbound.Checkouter
	rule       checkout.Rule
	metrics    *telemetry.Metrics
	logger     *slog.Logger

	mu       sync.Mutex
	selected map[string]bool
	lastKey  uint64

	checkingOut atomic.Bool
	unobserve   func()
}

// NewSelectionController binds a controller to store. Call Close to detach
// it.
func NewSelectionController(store *CartStore, checkouter outbound.Checkouter, opts ...SelectionOption) *SelectionController {
	c := &SelectionController{
		store:      store,
		checkouter: checkouter,
		rule:       checkout.AllowAll{},
		logger:     slog.Default(),
		selected:   make(map[string]bool),
		lastKey:    store.Snapshot().LineSetKey(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.unobserve = store.Observe(c.observe)
	return c
}

// Close stops following the store.
func (c *SelectionController) Close() {
	c.unobserve()
}

func (c *SelectionController) observe(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.follow(ev.Cart, string(ev.Op))
}

// follow resets the selection when snap's line set differs from the last
// one seen. Must hold c.mu.
func (c *SelectionController) follow(snap cart.Cart, via string) {
	key := snap.LineSetKey()
	if key == c.lastKey {
		return
	}
	c.lastKey = key
	if len(c.selected) > 0 {
		c.logger.Debug("line set changed, selection reset", "via", via, "dropped", len(c.selected))
	}
	c.selected = make(map[string]bool)
}

// snapshotLocked reads the store's cart and applies a line-set reset the
// observer may not have delivered yet. Must hold c.mu.
func (c *SelectionController) snapshotLocked() cart.Cart {
	snap := c.store.Snapshot()
	c.follow(snap, "read")
	return snap
}

// Toggle flips the membership of productID. It fails with cart.ErrInvalid
// when productID is not a line of the current cart.
func (c *SelectionController) Toggle(productID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.snapshotLocked().Contains(productID) {
		return cart.Invalidf("product %q is not in the cart", productID)
	}
	if c.selected[productID] {
		delete(c.selected, productID)
	} else {
		c.selected[productID] = true
	}
	return nil
}

// SelectAll selects every line.
func (c *SelectionController) SelectAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := c.snapshotLocked().ProductIDs()
	c.selected = make(map[string]bool, len(ids))
	for _, id := range ids {
		c.selected[id] = true
	}
}

// DeselectAll empties the selection.
func (c *SelectionController) DeselectAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selected = make(map[string]bool)
}

// ToggleSelectAll deselects everything when every line is selected and
// selects every line otherwise. It reports whether all lines are selected
// afterwards.
func (c *SelectionController) ToggleSelectAll() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := c.snapshotLocked()
	if allSelected(snap, c.selected) {
		c.selected = make(map[string]bool)
		return false
	}
	c.selected = make(map[string]bool, snap.Len())
	for _, id := range snap.ProductIDs() {
		c.selected[id] = true
	}
	return snap.Len() > 0
}

// Selected returns the selected product IDs in cart order.
func (c *SelectionController) Selected() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return selectedIDs(c.snapshotLocked(), c.selected)
}

// IsSelected reports whether productID is selected.
func (c *SelectionController) IsSelected(productID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshotLocked()
	return c.selected[productID]
}

// CheckingOut reports whether a checkout is in flight.
func (c *SelectionController) CheckingOut() bool {
	return c.checkingOut.Load()
}

// Totals returns the cart total and the total of the selected lines,
// computed from the current snapshot.
func (c *SelectionController) Totals() Totals {
	return c.View().Totals
}

// View returns the snapshot, status, selection and totals read together.
func (c *SelectionController) View() SelectionView {
	status := c.store.Status()

	c.mu.Lock()
	snap := c.snapshotLocked()
	ids := selectedIDs(snap, c.selected)
	all := allSelected(snap, c.selected)
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	c.mu.Unlock()

	return SelectionView{
		Cart:        snap,
		Status:      status,
		Selected:    ids,
		AllSelected: all,
		CheckingOut: c.checkingOut.Load(),
		Totals: Totals{
			Cart:     snap.Total(),
			Selected: snap.TotalOf(set),
		},
	}
}

// Checkout places an order for exactly the selected lines. The selection
// is cleared and the store refreshed only when the order is accepted. When
// the rule denies the order, the Checkouter fails or there is no identity,
// the selection is kept as it was so the user can retry; how a failed order
// is reported is left to the Checkouter's error.
func (c *SelectionController) Checkout(ctx context.Context) (*checkout.Receipt, error) {
	c.mu.Lock()
	snap := c.snapshotLocked()
	ids := selectedIDs(snap, c.selected)
	c.mu.Unlock()
	if len(ids) == 0 {
		c.metrics.ObserveCheckout("empty")
		return nil, checkout.ErrEmptySelection
	}

	if !c.checkingOut.CompareAndSwap(false, true) {
		return nil, checkout.ErrInProgress
	}
	defer c.checkingOut.Store(false)

	sess := c.store.Session()
	if sess.Anonymous() {
		return nil, cart.ErrNoIdentity
	}

	ctx, span := c.store.tracer.Start(ctx, "cart.checkout", trace.WithAttributes(
		attribute.String("cart.identity", sess.Identity),
		attribute.Int("cart.selected", len(ids)),
	))
	defer span.End()

	lines := make([]cart.Line, 0, len(ids))
	qty := 0
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		l, _ := snap.Line(id)
		lines = append(lines, l)
		qty += l.Quantity
		set[id] = true
	}

	evalCtx := checkout.EvaluationContext{
		Identity:      sess.Identity,
		SelectedIDs:   ids,
		SelectedCount: len(ids),
		SelectedQty:   qty,
		SelectedTotal: snap.TotalOf(set),
		CartCount:     snap.Len(),
		CartTotal:     snap.Total(),
		RequestTime:   time.Now().UTC(),
	}
	allowed, err := c.rule.Allow(ctx, evalCtx)
	if err != nil {
		return nil, c.fail(ctx, span, "error", fmt.Errorf("evaluate checkout rule: %w", err))
	}
	if !allowed {
		return nil, c.fail(ctx, span, "denied", checkout.ErrRuleDenied)
	}

	opID := uuid.NewString()
	c.store.record(ctx, journal.Entry{
		OperationID: opID,
		Identity:    sess.Identity,
		Op:          string(cart.OpCheckout),
		Quantity:    qty,
		Phase:       journal.PhaseStarted,
	})

	receipt, err := c.checkouter.Checkout(ctx, sess, lines)
	if err != nil {
		c.store.record(ctx, journal.Entry{
			OperationID: opID,
			Identity:    sess.Identity,
			Op:          string(cart.OpCheckout),
			Quantity:    qty,
			Phase:       journal.PhaseFailed,
			Outcome:     cart.OutcomeFailed.String(),
			Message:     cart.Reason(err),
		})
		if errors.Is(err, cart.ErrUnauthorized) {
			c.store.handleUnauthorized(ctx, sess, err)
		}
		return nil, c.fail(ctx, span, "error", err)
	}

	c.store.record(ctx, journal.Entry{
		OperationID: opID,
		Identity:    sess.Identity,
		Op:          string(cart.OpCheckout),
		Quantity:    qty,
		Phase:       journal.PhaseCompleted,
		Outcome:     cart.OutcomeReconciled.String(),
		Message:     receipt.OrderID,
	})
	c.metrics.ObserveCheckout("ok")
	span.SetAttributes(attribute.String("cart.order_id", receipt.OrderID))
	c.logger.InfoContext(ctx, "checkout completed",
		"order_id", receipt.OrderID,
		"lines", len(lines),
		"total", receipt.Total.StringFixed(2),
	)

	c.DeselectAll()
	if res := c.store.Refresh(ctx); res.Err != nil {
		c.logger.WarnContext(ctx, "refresh after checkout failed", "error", res.Err)
	}
	return receipt, nil
}

func (c *SelectionController) fail(ctx context.Context, span trace.Span, result string, err error) error {
	c.metrics.ObserveCheckout(result)
	span.RecordError(err)
	span.SetStatus(codes.Error, result)
	c.logger.WarnContext(ctx, "checkout failed", "result", result, "error", err)
	return err
}

// RemoveSelected removes every selected line through the store, one
// operation per line, and resets the selection. The returned result
// aggregates the removals: OutcomeFailed if any of them failed.
func (c *SelectionController) RemoveSelected(ctx context.Context) cart.Result {
	ids := c.Selected()
	if len(ids) == 0 {
		return cart.Result{
			Op:      cart.OpRemove,
			Outcome: cart.OutcomeRejected,
			Cart:    c.store.Snapshot(),
			Err:     checkout.ErrEmptySelection,
		}
	}

	var failed []error
	for _, id := range ids {
		if res := c.store.RemoveItem(ctx, id); res.Err != nil {
			failed = append(failed, fmt.Errorf("remove %s: %w", id, res.Err))
		}
	}
	c.DeselectAll()

	res := cart.Result{Op: cart.OpRemove, Outcome: cart.OutcomeReconciled, Cart: c.store.Snapshot()}
	if len(failed) > 0 {
		res.Outcome = cart.OutcomeFailed
		res.Err = errors.Join(failed...)
	}
	return res
}

func selectedIDs(snap cart.Cart, selected map[string]bool) []string {
	ids := make([]string, 0, len(selected))
	for _, id := range snap.ProductIDs() {
		if selected[id] {
			ids = append(ids, id)
		}
	}
	return ids
}

func allSelected(snap cart.Cart, selected map[string]bool) bool {
	if snap.Len() == 0 {
		return false
	}
	for _, id := range snap.ProductIDs() {
		if !selected[id] {
			return false
		}
	}
	return true
}
