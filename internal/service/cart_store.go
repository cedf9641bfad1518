// Package service contains application services.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/Tetsuuya/tasty-kitchen-3/internal/domain/cart"
	"github.com/Tetsuuya/tasty-kitchen-3/internal/domain/journal"
	"github.com/Tetsuuya/tasty-kitchen-3/internal/domain/session"
	"github.com/Tetsuuya/tasty-kitchen-3/internal/port/outbound"
	"github.com/Tetsuuya/tasty-kitchen-3/internal/telemetry"
)

const tracerName = "github.com/Tetsuuya/tasty-kitchen-3/internal/service"

// ConcurrencyMode decides what a mutating operation does while another one
// is pending.
type ConcurrencyMode string

const (
	// ModeQueue waits for the pending operation (bounded by ctx).
	ModeQueue ConcurrencyMode = "queue"
	// ModeReject fails immediately with cart.ErrBusy.
	ModeReject ConcurrencyMode = "reject"
)

// DefaultClearParallelism bounds the concurrent removals of ClearCart.
const DefaultClearParallelism = 8

// UnauthorizedHandler is told when the remote cart rejects the credential.
// It runs after the operation has released the store, so it may call
// SetIdentity.
type UnauthorizedHandler func(ctx context.Context, sess session.Session, err error)

// Event is published whenever the snapshot or the status changes.
type Event struct {
	Op     cart.Op     `json:"op"`
	Cart   cart.Cart   `json:"cart"`
	Status cart.Status `json:"status"`
}

// CartStoreOption configures a CartStore.
type CartStoreOption func(*CartStore)

// WithConcurrencyMode sets queue or reject mode. Unknown values keep queue.
func WithConcurrencyMode(mode ConcurrencyMode) CartStoreOption {
	return func(s *CartStore) {
		if mode == ModeReject {
			s.mode = ModeReject
		}
	}
}

// WithClearParallelism bounds the concurrent removals of ClearCart.
func WithClearParallelism(n int) CartStoreOption {
	return func(s *CartStore) {
		if n > 0 {
			s.clearParallelism = n
		}
	}
}

// WithJournal records every operation on j.
func WithJournal(j outbound.Journal) CartStoreOption {
	return func(s *CartStore) {
		s.journal = j
	}
}

// WithStoreMetrics records operations and status on m.
func WithStoreMetrics(m *telemetry.Metrics) CartStoreOption {
	return func(s *CartStore) {
		s.metrics = m
	}
}

// WithUnauthorizedHandler installs the identity collaborator hook.
func WithUnauthorizedHandler(h UnauthorizedHandler) CartStoreOption {
	return func(s *CartStore) {
		s.onUnauthorized = h
	}
}

// WithStoreLogger sets the logger.
func WithStoreLogger(l *slog.Logger) CartStoreOption {
	return func(s *CartStore) {
		if l != nil {
			s.logger = l
		}
	}
}

// CartStore owns the local cart snapshot of the current identity and the
// operation status. Every mutation goes through the remote gateway; when a
// remote call fails the store applies the fallback documented per
// operation and reports how far the server confirmed the change in the
// returned cart.Result.
//
// Mutating operations are single-flight: a one-slot semaphore serializes
// them. Reads never block on a pending operation.
type CartStore struct {
	gateway  outbound.CartGateway
	sessions *session.Context
	journal  outbound.Journal
	metrics  *telemetry.Metrics
	logger   *slog.Logger
	tracer   trace.Tracer

	mode             ConcurrencyMode
	clearParallelism int
	onUnauthorized   UnauthorizedHandler

	// sem is the single-flight slot.
	sem chan struct{}

	mu     sync.RWMutex
	snap   cart.Cart
	status cart.Status

	obsMu     sync.Mutex
	observers map[int]func(Event)
	subs      map[int]chan Event
	nextObs   int
}

// NewCartStore creates a store bound to the session context. The snapshot
// starts empty for the current identity; call Resume to load it.
func NewCartStore(gateway outbound.CartGateway, sessions *session.Context, opts ...CartStoreOption) *CartStore {
	s := &CartStore{
		gateway:          gateway,
		sessions:         sessions,
		logger:           slog.Default(),
		tracer:           otel.Tracer(tracerName),
		mode:             ModeQueue,
		clearParallelism: DefaultClearParallelism,
		sem:              make(chan struct{}, 1),
		status:           cart.Idle(),
		observers:        make(map[int]func(Event)),
		subs:             make(map[int]chan Event),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.snap = cart.Empty(sessions.Current().Identity)
	s.metrics.SetStatus(s.status.Kind.String())
	return s
}

// Snapshot returns the current cart snapshot.
func (s *CartStore) Snapshot() cart.Cart {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// Status returns the operation status.
func (s *CartStore) Status() cart.Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Identity returns the identity the store operates for, "" when signed out.
func (s *CartStore) Identity() string {
	return s.sessions.Current().Identity
}

// Session returns the active session.
func (s *CartStore) Session() session.Session {
	return s.sessions.Current()
}

// Observe registers fn to be called synchronously after every published
// event, in publication order. The returned func unregisters it.
func (s *CartStore) Observe(fn func(Event)) func() {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = fn
	return func() {
		s.obsMu.Lock()
		defer s.obsMu.Unlock()
		delete(s.observers, id)
	}
}

// Subscribe returns a channel of change events. Slow subscribers only see
// the latest event: an undelivered older one is replaced. The returned
// func closes the channel.
func (s *CartStore) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 1)

	s.obsMu.Lock()
	id := s.nextObs
	s.nextObs++
	s.subs[id] = ch
	s.obsMu.Unlock()
	s.metrics.AddSubscribers(1)

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.obsMu.Lock()
			delete(s.subs, id)
			close(ch)
			s.obsMu.Unlock()
			s.metrics.AddSubscribers(-1)
		})
	}
}

// ---------------------------------------------------------------------------
// Mutations
// ---------------------------------------------------------------------------

// AddItem adds quantity of product to the cart. On success the snapshot is
// re-fetched so server-side fields are authoritative. When the remote cart
// is unreachable the line is merged locally instead (OutcomeOptimistic).
func (s *CartStore) AddItem(ctx context.Context, product cart.Product, quantity int) cart.Result {
	if s.sessions.Current().Anonymous() {
		return s.skipped(cart.OpAdd)
	}
	if quantity < 1 {
		return s.rejected(cart.OpAdd, cart.Invalidf("quantity must be at least 1, got %d", quantity))
	}
	if err := product.Validate(); err != nil {
		return s.rejected(cart.OpAdd, err)
	}

	line := cart.Line{Product: product.WithDefaults(), Quantity: quantity}
	return s.run(ctx, opSpec{op: cart.OpAdd, productID: product.ID, quantity: quantity}, func(ctx context.Context, sess session.Session, rec recorder) cart.Result {
		if err := s.gateway.Add(ctx, sess, product.ID, quantity); err != nil {
			if !cart.IsOptimisticEligible(err) {
				return s.result(cart.OpAdd, cart.OutcomeFailed, err)
			}
			s.setSnapshot(cart.OpAdd, s.Snapshot().Merge(line))
			return s.result(cart.OpAdd, cart.OutcomeOptimistic, err)
		}

		fresh, err := s.gateway.Fetch(ctx, sess)
		if err != nil {
			// The add was accepted remotely; only the read-back failed.
			s.setSnapshot(cart.OpAdd, s.Snapshot().Merge(line))
			return s.result(cart.OpAdd, cart.OutcomeOptimistic, fmt.Errorf("refresh after add: %w", err))
		}
		s.setSnapshot(cart.OpAdd, fresh)
		return s.result(cart.OpAdd, cart.OutcomeReconciled, nil)
	})
}

// RemoveItem removes the line for productID. A line already absent
// remotely counts as removed. On failure the snapshot is left unchanged.
func (s *CartStore) RemoveItem(ctx context.Context, productID string) cart.Result {
	if s.sessions.Current().Anonymous() {
		return s.skipped(cart.OpRemove)
	}
	if productID == "" {
		return s.rejected(cart.OpRemove, cart.Invalidf("product id is required"))
	}

	return s.run(ctx, opSpec{op: cart.OpRemove, productID: productID}, func(ctx context.Context, sess session.Session, rec recorder) cart.Result {
		if err := s.gateway.Remove(ctx, sess, productID); err != nil && !errors.Is(err, cart.ErrNotFound) {
			return s.result(cart.OpRemove, cart.OutcomeFailed, err)
		}
		s.setSnapshot(cart.OpRemove, s.Snapshot().Without(productID))
		return s.result(cart.OpRemove, cart.OutcomeReconciled, nil)
	})
}

// UpdateQuantity sets the quantity of an existing line. The remote cart
// has no update primitive, so this runs two phases: remove the line, then
// add it back with the new quantity. Between the phases the line is absent
// remotely; that state is journaled. If the re-add fails on an unreachable
// remote the new quantity is applied locally (OutcomeOptimistic) until the
// next refresh.
func (s *CartStore) UpdateQuantity(ctx context.Context, productID string, quantity int) cart.Result {
	if s.sessions.Current().Anonymous() {
		return s.skipped(cart.OpUpdate)
	}
	if quantity < 1 {
		return s.rejected(cart.OpUpdate, cart.Invalidf("quantity must be at least 1, got %d", quantity))
	}
	if !s.Snapshot().Contains(productID) {
		return s.rejected(cart.OpUpdate, cart.Invalidf("product %q is not in the cart", productID))
	}

	spec := opSpec{op: cart.OpUpdate, productID: productID, quantity: quantity}
	return s.run(ctx, spec, func(ctx context.Context, sess session.Session, rec recorder) cart.Result {
		if err := s.gateway.Remove(ctx, sess, productID); err != nil && !errors.Is(err, cart.ErrNotFound) {
			return s.result(cart.OpUpdate, cart.OutcomeFailed, fmt.Errorf("remove phase: %w", err))
		}
		rec(journal.PhaseRemoved, "")

		if err := s.gateway.Add(ctx, sess, productID, quantity); err != nil {
			switch {
			case cart.IsOptimisticEligible(err):
				s.setSnapshot(cart.OpUpdate, s.Snapshot().WithQuantity(productID, quantity))
				return s.result(cart.OpUpdate, cart.OutcomeOptimistic, fmt.Errorf("add phase: %w", err))
			case errors.Is(err, cart.ErrNotFound):
				// The catalog no longer has the product: the line is gone
				// remotely for good.
				s.setSnapshot(cart.OpUpdate, s.Snapshot().Without(productID))
				return s.result(cart.OpUpdate, cart.OutcomeFailed, fmt.Errorf("add phase: %w", err))
			default:
				return s.result(cart.OpUpdate, cart.OutcomeFailed, fmt.Errorf("add phase: %w", err))
			}
		}

		fresh, err := s.gateway.Fetch(ctx, sess)
		if err != nil {
			s.setSnapshot(cart.OpUpdate, s.Snapshot().WithQuantity(productID, quantity))
			return s.result(cart.OpUpdate, cart.OutcomeOptimistic, fmt.Errorf("refresh after update: %w", err))
		}
		s.setSnapshot(cart.OpUpdate, fresh)
		return s.result(cart.OpUpdate, cart.OutcomeReconciled, nil)
	})
}

// ClearCart removes every line concurrently and waits for all removals to
// settle. Lines whose removal succeeded are dropped locally; lines whose
// removal failed stay, and the result is OutcomeFailed. No reconciliation
// follows; Refresh is the recovery path.
func (s *CartStore) ClearCart(ctx context.Context) cart.Result {
	if s.sessions.Current().Anonymous() {
		return s.skipped(cart.OpClear)
	}

	return s.run(ctx, opSpec{op: cart.OpClear}, func(ctx context.Context, sess session.Session, rec recorder) cart.Result {
		ids := s.Snapshot().ProductIDs()
		if len(ids) == 0 {
			return s.result(cart.OpClear, cart.OutcomeReconciled, nil)
		}

		// Plain group: one failed removal must not cancel the others.
		var g errgroup.Group
		g.SetLimit(s.clearParallelism)
		errs := make([]error, len(ids))
		for i, id := range ids {
			g.Go(func() error {
				err := s.gateway.Remove(ctx, sess, id)
				if err != nil && !errors.Is(err, cart.ErrNotFound) {
					errs[i] = fmt.Errorf("remove %s: %w", id, err)
				}
				return nil
			})
		}
		_ = g.Wait()

		next := s.Snapshot()
		var failed []error
		for i, id := range ids {
			if errs[i] != nil {
				failed = append(failed, errs[i])
				continue
			}
			next = next.Without(id)
		}
		s.setSnapshot(cart.OpClear, next)

		if len(failed) > 0 {
			return s.result(cart.OpClear, cart.OutcomeFailed, errors.Join(failed...))
		}
		return s.result(cart.OpClear, cart.OutcomeReconciled, nil)
	})
}

// Refresh replaces the snapshot with the remote cart. It is the only
// operation that heals divergence left by optimistic fallbacks.
func (s *CartStore) Refresh(ctx context.Context) cart.Result {
	if s.sessions.Current().Anonymous() {
		return s.skipped(cart.OpRefresh)
	}
	return s.run(ctx, opSpec{op: cart.OpRefresh}, func(ctx context.Context, sess session.Session, rec recorder) cart.Result {
		return s.refreshLocked(ctx, sess, cart.OpRefresh)
	})
}

// SetIdentity switches the store to sess: the session is persisted, the
// status forced to idle and the snapshot emptied; a non-anonymous session
// is then loaded from the remote cart. It always waits for a pending
// operation, whatever the concurrency mode.
func (s *CartStore) SetIdentity(ctx context.Context, sess session.Session) cart.Result {
	if err := s.acquireWait(ctx); err != nil {
		return s.rejected(cart.OpIdentity, err)
	}
	prev := s.sessions.Current()
	if err := s.sessions.Set(ctx, sess); err != nil {
		// Clear drops the in-memory session even when persistence fails.
		if cur := s.sessions.Current(); cur.Identity != s.Snapshot().Identity() {
			s.publish(cart.OpIdentity, cart.Empty(cur.Identity), cart.Idle())
		}
		s.release()
		return s.result(cart.OpIdentity, cart.OutcomeFailed, err)
	}
	s.logger.InfoContext(ctx, "identity changed", "from", prev.Identity, "to", sess.Identity)
	return s.resetAndLoad(ctx, s.sessions.Current())
}

// Resume restores the persisted session and loads its cart.
func (s *CartStore) Resume(ctx context.Context) cart.Result {
	if err := s.acquireWait(ctx); err != nil {
		return s.rejected(cart.OpIdentity, err)
	}
	sess, err := s.sessions.Restore(ctx)
	if err != nil {
		s.release()
		return s.result(cart.OpIdentity, cart.OutcomeFailed, err)
	}
	return s.resetAndLoad(ctx, sess)
}

// resetAndLoad runs with the slot held and releases it.
func (s *CartStore) resetAndLoad(ctx context.Context, sess session.Session) cart.Result {
	s.publish(cart.OpIdentity, cart.Empty(sess.Identity), cart.Idle())
	if sess.Anonymous() {
		s.release()
		return s.result(cart.OpIdentity, cart.OutcomeReconciled, nil)
	}

	res := s.execute(ctx, opSpec{op: cart.OpIdentity}, sess, func(ctx context.Context, sess session.Session, rec recorder) cart.Result {
		return s.refreshLocked(ctx, sess, cart.OpIdentity)
	})
	s.release()
	s.afterRelease(ctx, sess, res)
	return res
}

func (s *CartStore) refreshLocked(ctx context.Context, sess session.Session, op cart.Op) cart.Result {
	fresh, err := s.gateway.Fetch(ctx, sess)
	if err != nil {
		return s.result(op, cart.OutcomeFailed, err)
	}
	s.setSnapshot(op, fresh)
	return s.result(op, cart.OutcomeReconciled, nil)
}

// ---------------------------------------------------------------------------
// Operation plumbing
// ---------------------------------------------------------------------------

// opSpec describes an operation for tracing and journaling.
type opSpec struct {
	op        cart.Op
	productID string
	quantity  int
}

// recorder writes an intermediate journal entry for the running operation.
type recorder func(phase journal.Phase, message string)

type opFunc func(ctx context.Context, sess session.Session, rec recorder) cart.Result

// run takes the single-flight slot, executes fn and releases the slot.
func (s *CartStore) run(ctx context.Context, spec opSpec, fn opFunc) cart.Result {
	if err := s.acquire(ctx); err != nil {
		return s.rejected(spec.op, err)
	}
	// The identity may have changed while waiting.
	sess := s.sessions.Current()
	if sess.Anonymous() {
		s.release()
		return s.skipped(spec.op)
	}

	res := s.execute(ctx, spec, sess, fn)
	s.release()
	s.afterRelease(ctx, sess, res)
	return res
}

// execute runs fn with the slot held: status Pending, span, journal,
// metrics and the final status.
func (s *CartStore) execute(ctx context.Context, spec opSpec, sess session.Session, fn opFunc) cart.Result {
	ctx, span := s.tracer.Start(ctx, "cart."+string(spec.op), trace.WithAttributes(
		attribute.String("cart.identity", sess.Identity),
		attribute.String("cart.product_id", spec.productID),
		attribute.Int("cart.quantity", spec.quantity),
	))
	defer span.End()

	opID := uuid.NewString()
	rec := func(phase journal.Phase, message string) {
		s.record(ctx, journal.Entry{
			OperationID: opID,
			Identity:    sess.Identity,
			Op:          string(spec.op),
			ProductID:   spec.productID,
			Quantity:    spec.quantity,
			Phase:       phase,
			Message:     message,
		})
	}

	start := time.Now()
	rec(journal.PhaseStarted, "")
	s.setStatus(spec.op, cart.Pending())

	res := fn(ctx, sess, rec)

	final := cart.Idle()
	if res.Err != nil {
		final = cart.Errored(cart.Reason(res.Err))
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, res.Outcome.String())
	}
	s.setStatus(spec.op, final)

	phase := journal.PhaseCompleted
	if res.Outcome == cart.OutcomeFailed {
		phase = journal.PhaseFailed
	}
	s.record(ctx, journal.Entry{
		OperationID: opID,
		Identity:    sess.Identity,
		Op:          string(spec.op),
		ProductID:   spec.productID,
		Quantity:    spec.quantity,
		Phase:       phase,
		Outcome:     res.Outcome.String(),
		Message:     res.Message(),
	})

	s.metrics.ObserveOperation(string(spec.op), res.Outcome.String())
	span.SetAttributes(attribute.String("cart.outcome", res.Outcome.String()))

	attrs := []any{"op", spec.op, "outcome", res.Outcome, "duration", time.Since(start)}
	if spec.productID != "" {
		attrs = append(attrs, "product_id", spec.productID)
	}
	if res.Err != nil {
		s.logger.WarnContext(ctx, "cart operation did not reconcile", append(attrs, "error", res.Err)...)
	} else {
		s.logger.DebugContext(ctx, "cart operation reconciled", attrs...)
	}

	res.Cart = s.Snapshot()
	return res
}

// afterRelease hands a rejected credential to the identity collaborator.
func (s *CartStore) afterRelease(ctx context.Context, sess session.Session, res cart.Result) {
	if res.Err != nil && errors.Is(res.Err, cart.ErrUnauthorized) {
		s.handleUnauthorized(ctx, sess, res.Err)
	}
}

func (s *CartStore) handleUnauthorized(ctx context.Context, sess session.Session, err error) {
	s.logger.WarnContext(ctx, "remote cart rejected the credential", "identity", sess.Identity, "error", err)
	if s.onUnauthorized != nil {
		s.onUnauthorized(ctx, sess, err)
	}
}

// acquire takes the single-flight slot according to the concurrency mode.
func (s *CartStore) acquire(ctx context.Context) error {
	if s.mode == ModeReject {
		select {
		case s.sem <- struct{}{}:
			return nil
		default:
			return cart.ErrBusy
		}
	}
	return s.acquireWait(ctx)
}

func (s *CartStore) acquireWait(ctx context.Context) error {
	select {
	case s.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for pending cart operation: %w", ctx.Err())
	}
}

func (s *CartStore) release() {
	<-s.sem
}

func (s *CartStore) result(op cart.Op, outcome cart.Outcome, err error) cart.Result {
	return cart.Result{Op: op, Outcome: outcome, Cart: s.Snapshot(), Err: err}
}

func (s *CartStore) skipped(op cart.Op) cart.Result {
	s.metrics.ObserveOperation(string(op), cart.OutcomeSkipped.String())
	return s.result(op, cart.OutcomeSkipped, nil)
}

func (s *CartStore) rejected(op cart.Op, err error) cart.Result {
	s.metrics.ObserveOperation(string(op), cart.OutcomeRejected.String())
	return s.result(op, cart.OutcomeRejected, err)
}

// setSnapshot publishes c with the current status.
func (s *CartStore) setSnapshot(op cart.Op, c cart.Cart) {
	s.publish(op, c, s.Status())
}

// setStatus publishes st with the current snapshot.
func (s *CartStore) setStatus(op cart.Op, st cart.Status) {
	s.publish(op, s.Snapshot(), st)
}

// publish swaps in the new state and notifies observers and subscribers.
// Callers hold the single-flight slot, so events are totally ordered.
func (s *CartStore) publish(op cart.Op, c cart.Cart, st cart.Status) {
	s.mu.Lock()
	s.snap = c
	s.status = st
	s.mu.Unlock()
	s.metrics.SetStatus(st.Kind.String())

	ev := Event{Op: op, Cart: c, Status: st}

	s.obsMu.Lock()
	observers := make([]func(Event), 0, len(s.observers))
	for _, fn := range s.observers {
		observers = append(observers, fn)
	}
	for _, ch := range s.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- ev:
		default:
		}
	}
	s.obsMu.Unlock()

	for _, fn := range observers {
		fn(ev)
	}
}

// record writes a journal entry stamped with the active span. Journal
// failures are logged and counted, never returned.
func (s *CartStore) record(ctx context.Context, e journal.Entry) {
	if s.journal == nil {
		return
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		e.TraceID = sc.TraceID().String()
		e.SpanID = sc.SpanID().String()
	}
	if err := s.journal.Record(ctx, e); err != nil {
		s.metrics.JournalError()
		s.logger.WarnContext(ctx, "failed to write journal entry", "op", e.Op, "phase", e.Phase, "error", err)
	}
}
