package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"go.uber.org/goleak"

	"github.com/Tetsuuya/tasty-kitchen-3/internal/adapter/outbound/memory"
	"github.com/Tetsuuya/tasty-kitchen-3/internal/domain/cart"
	"github.com/Tetsuuya/tasty-kitchen-3/internal/domain/journal"
	"github.com/Tetsuuya/tasty-kitchen-3/internal/domain/session"
	"github.com/Tetsuuya/tasty-kitchen-3/internal/telemetry"
)

var (
	burger = cart.Product{ID: "p1", Name: "Burger", Price: decimal.RequireFromString("10.00")}
	fries  = cart.Product{ID: "p2", Name: "Fries", Price: decimal.RequireFromString("5.00")}
	cola   = cart.Product{ID: "p3", Name: "Cola", Price: decimal.RequireFromString("3.50")}
)

var alice = session.Session{Identity: "alice", Credential: "tok-alice"}

func unavailable(op string) error {
	return &cart.GatewayError{Kind: cart.ErrUnavailable, Op: op, StatusCode: 503, Message: "kitchen is offline"}
}

// newTestStore returns a store signed in as alice whose remote cart holds
// two burgers and one fries.
func newTestStore(t *testing.T, opts ...CartStoreOption) (*CartStore, *memory.CartGateway) {
	t.Helper()
	gw := memory.NewCartGateway(burger, fries, cola)
	gw.Seed("alice", cart.Line{Product: burger, Quantity: 2}, cart.Line{Product: fries, Quantity: 1})

	sessions := session.NewContext(nil, nil)
	if err := sessions.Set(context.Background(), alice); err != nil {
		t.Fatalf("Set() error: %v", err)
	}
	store := NewCartStore(gw, sessions, opts...)
	if res := store.Resume(context.Background()); res.Outcome != cart.OutcomeReconciled {
		t.Fatalf("Resume() = %v (%v)", res.Outcome, res.Err)
	}
	return store, gw
}

func quantityOf(c cart.Cart, id string) int {
	l, ok := c.Line(id)
	if !ok {
		return 0
	}
	return l.Quantity
}

// ---------------------------------------------------------------------------
// Identity
// ---------------------------------------------------------------------------

func TestCartStore_AnonymousIsSkipped(t *testing.T) {
	gw := memory.NewCartGateway(burger)
	store := NewCartStore(gw, session.NewContext(nil, nil))
	ctx := context.Background()

	results := []cart.Result{
		store.AddItem(ctx, burger, 1),
		store.RemoveItem(ctx, "p1"),
		store.UpdateQuantity(ctx, "p1", 2),
		store.ClearCart(ctx),
		store.Refresh(ctx),
	}
	for _, res := range results {
		if res.Outcome != cart.OutcomeSkipped {
			t.Errorf("%s: outcome = %v, want skipped", res.Op, res.Outcome)
		}
		if res.Err != nil {
			t.Errorf("%s: err = %v", res.Op, res.Err)
		}
	}
	if !store.Snapshot().IsEmpty() {
		t.Error("snapshot should stay empty")
	}
	if gw.Calls(memory.OpAdd)+gw.Calls(memory.OpFetch)+gw.Calls(memory.OpRemove) != 0 {
		t.Error("no remote call expected without identity")
	}
}

func TestCartStore_ResumeLoadsRemoteCart(t *testing.T) {
	store, _ := newTestStore(t)

	snap := store.Snapshot()
	if snap.Identity() != "alice" || snap.Len() != 2 {
		t.Fatalf("snapshot = %s/%d lines", snap.Identity(), snap.Len())
	}
	if got := snap.Total(); !got.Equal(decimal.RequireFromString("25.00")) {
		t.Errorf("Total() = %s, want 25.00", got)
	}
	if st := store.Status(); st.Kind != cart.StatusIdle {
		t.Errorf("Status() = %v, want idle", st)
	}
}

func TestCartStore_SetIdentitySwitchesCart(t *testing.T) {
	store, gw := newTestStore(t)
	gw.Seed("bob", cart.Line{Product: cola, Quantity: 4})

	var events []Event
	var mu sync.Mutex
	stop := store.Observe(func(ev Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})
	defer stop()

	res := store.SetIdentity(context.Background(), session.Session{Identity: "bob", Credential: "tok-bob"})
	if res.Outcome != cart.OutcomeReconciled {
		t.Fatalf("SetIdentity() = %v (%v)", res.Outcome, res.Err)
	}
	if store.Identity() != "bob" || quantityOf(store.Snapshot(), "p3") != 4 || store.Snapshot().Len() != 1 {
		t.Errorf("snapshot after switch = %+v", store.Snapshot().Lines())
	}

	mu.Lock()
	defer mu.Unlock()
	if len(events) == 0 {
		t.Fatal("no events published")
	}
	first := events[0]
	if first.Cart.Identity() != "bob" || !first.Cart.IsEmpty() || first.Status.Kind != cart.StatusIdle {
		t.Errorf("first event = %+v, want empty idle cart for bob", first)
	}
}

func TestCartStore_LogoutEmptiesCart(t *testing.T) {
	store, gw := newTestStore(t)
	fetches := gw.Calls(memory.OpFetch)

	res := store.SetIdentity(context.Background(), session.Session{})
	if res.Outcome != cart.OutcomeReconciled || res.Err != nil {
		t.Fatalf("SetIdentity(anonymous) = %v (%v)", res.Outcome, res.Err)
	}
	if !store.Snapshot().IsEmpty() || store.Identity() != "" {
		t.Error("cart should be empty after logout")
	}
	if gw.Calls(memory.OpFetch) != fetches {
		t.Error("logout should not fetch")
	}
}

func TestCartStore_UnauthorizedHandler(t *testing.T) {
	defer goleak.VerifyNone(t)

	var (
		store   *CartStore
		handled atomic.Int32
	)
	store, gw := newTestStore(t, WithUnauthorizedHandler(func(ctx context.Context, sess session.Session, err error) {
		handled.Add(1)
		if !errors.Is(err, cart.ErrUnauthorized) {
			t.Errorf("handler err = %v", err)
		}
		if sess.Identity != "alice" {
			t.Errorf("handler identity = %q", sess.Identity)
		}
		// The handler may sign out; the store is released by now.
		store.SetIdentity(ctx, session.Session{})
	}))
	gw.Authorize("another-token", "alice")

	res := store.Refresh(context.Background())
	if res.Outcome != cart.OutcomeFailed || !errors.Is(res.Err, cart.ErrUnauthorized) {
		t.Fatalf("Refresh() = %v (%v)", res.Outcome, res.Err)
	}
	if handled.Load() != 1 {
		t.Errorf("handler called %d times, want 1", handled.Load())
	}
	if store.Identity() != "" || !store.Snapshot().IsEmpty() {
		t.Error("handler should have signed out")
	}
}

// ---------------------------------------------------------------------------
// AddItem
// ---------------------------------------------------------------------------

func TestCartStore_AddItemReconciles(t *testing.T) {
	store, gw := newTestStore(t)

	res := store.AddItem(context.Background(), cola, 1)
	if res.Outcome != cart.OutcomeReconciled || res.Err != nil {
		t.Fatalf("AddItem() = %v (%v)", res.Outcome, res.Err)
	}
	if !res.Cart.Contains("p3") {
		t.Error("result cart should contain p3")
	}
	l, _ := store.Snapshot().Line("p3")
	if l.LineID == "" {
		t.Error("line should carry the server-assigned id after reconciliation")
	}
	if store.Status().Kind != cart.StatusIdle {
		t.Errorf("Status() = %v", store.Status())
	}
	if gw.Calls(memory.OpFetch) != 2 {
		t.Errorf("fetches = %d, want 2 (resume + refresh)", gw.Calls(memory.OpFetch))
	}
}

func TestCartStore_AddItemOptimisticWhenUnavailable(t *testing.T) {
	store, gw := newTestStore(t)
	gw.FailNext(memory.OpAdd, unavailable("add"))

	res := store.AddItem(context.Background(), cola, 1)
	if res.Outcome != cart.OutcomeOptimistic {
		t.Fatalf("outcome = %v, want optimistic", res.Outcome)
	}
	if !errors.Is(res.Err, cart.ErrUnavailable) {
		t.Errorf("err = %v", res.Err)
	}
	if quantityOf(store.Snapshot(), "p3") != 1 {
		t.Error("p3 should be merged locally")
	}
	st := store.Status()
	if st.Kind != cart.StatusError || st.Message != "kitchen is offline" {
		t.Errorf("Status() = %+v", st)
	}

	// Refresh heals the divergence: the remote cart never got p3.
	if res := store.Refresh(context.Background()); res.Outcome != cart.OutcomeReconciled {
		t.Fatalf("Refresh() = %v", res.Outcome)
	}
	if store.Snapshot().Contains("p3") {
		t.Error("refresh should drop the optimistic line")
	}
	if store.Status().Kind != cart.StatusIdle {
		t.Errorf("status after refresh = %v", store.Status())
	}
}

func TestCartStore_AddItemOptimisticMergeKeepsUniqueness(t *testing.T) {
	store, gw := newTestStore(t)
	gw.FailNext(memory.OpAdd, unavailable("add"))

	res := store.AddItem(context.Background(), burger, 3)
	if res.Outcome != cart.OutcomeOptimistic {
		t.Fatalf("outcome = %v", res.Outcome)
	}
	snap := store.Snapshot()
	if snap.Len() != 2 || quantityOf(snap, "p1") != 5 {
		t.Errorf("lines = %+v, want p1 x5 and p2", snap.Lines())
	}
}

func TestCartStore_AddItemRefreshFailure(t *testing.T) {
	store, gw := newTestStore(t)
	gw.FailNext(memory.OpFetch, unavailable("fetch"))

	res := store.AddItem(context.Background(), cola, 2)
	if res.Outcome != cart.OutcomeOptimistic {
		t.Fatalf("outcome = %v", res.Outcome)
	}
	if quantityOf(store.Snapshot(), "p3") != 2 {
		t.Error("p3 should be merged locally")
	}
	if store.Status().Kind != cart.StatusError {
		t.Errorf("Status() = %v", store.Status())
	}
	// The add itself reached the server.
	remote := cart.New("alice", gw.Lines("alice"))
	if quantityOf(remote, "p3") != 2 {
		t.Error("remote cart should have p3")
	}
}

func TestCartStore_AddItemNotFoundFails(t *testing.T) {
	store, _ := newTestStore(t)
	before := store.Snapshot()

	ghost := cart.Product{ID: "ghost", Price: decimal.NewFromInt(1)}
	res := store.AddItem(context.Background(), ghost, 1)
	if res.Outcome != cart.OutcomeFailed || !errors.Is(res.Err, cart.ErrNotFound) {
		t.Fatalf("AddItem() = %v (%v)", res.Outcome, res.Err)
	}
	if store.Snapshot().LineSetKey() != before.LineSetKey() {
		t.Error("snapshot should be unchanged")
	}
	if store.Status().Kind != cart.StatusError {
		t.Errorf("Status() = %v", store.Status())
	}
}

func TestCartStore_AddItemRejectsInput(t *testing.T) {
	store, gw := newTestStore(t)
	adds := gw.Calls(memory.OpAdd)

	tests := []struct {
		name    string
		product cart.Product
		qty     int
	}{
		{"zero quantity", cola, 0},
		{"negative quantity", cola, -2},
		{"missing id", cart.Product{Price: decimal.NewFromInt(1)}, 1},
		{"negative price", cart.Product{ID: "x", Price: decimal.NewFromInt(-1)}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := store.AddItem(context.Background(), tt.product, tt.qty)
			if res.Outcome != cart.OutcomeRejected || !errors.Is(res.Err, cart.ErrInvalid) {
				t.Errorf("AddItem() = %v (%v)", res.Outcome, res.Err)
			}
		})
	}
	if gw.Calls(memory.OpAdd) != adds {
		t.Error("rejected input must not reach the gateway")
	}
	if store.Status().Kind != cart.StatusIdle {
		t.Errorf("rejections should not touch the status, got %v", store.Status())
	}
}

// ---------------------------------------------------------------------------
// RemoveItem / UpdateQuantity
// ---------------------------------------------------------------------------

func TestCartStore_RemoveItem(t *testing.T) {
	store, gw := newTestStore(t)

	res := store.RemoveItem(context.Background(), "p1")
	if res.Outcome != cart.OutcomeReconciled {
		t.Fatalf("RemoveItem() = %v (%v)", res.Outcome, res.Err)
	}
	if store.Snapshot().Contains("p1") || len(gw.Lines("alice")) != 1 {
		t.Error("p1 should be gone locally and remotely")
	}
}

func TestCartStore_RemoveItemIsIdempotent(t *testing.T) {
	store, gw := newTestStore(t)
	// p2 disappears remotely behind the store's back.
	gw.Seed("alice", cart.Line{Product: burger, Quantity: 2})

	res := store.RemoveItem(context.Background(), "p2")
	if res.Outcome != cart.OutcomeReconciled || res.Err != nil {
		t.Fatalf("RemoveItem() = %v (%v)", res.Outcome, res.Err)
	}
	if store.Snapshot().Contains("p2") {
		t.Error("p2 should be filtered locally")
	}
	if res := store.RemoveItem(context.Background(), "p2"); res.Outcome != cart.OutcomeReconciled {
		t.Errorf("second RemoveItem() = %v", res.Outcome)
	}
}

func TestCartStore_RemoveItemFailureKeepsLine(t *testing.T) {
	store, gw := newTestStore(t)
	gw.FailNext(memory.OpRemove, unavailable("remove"))

	res := store.RemoveItem(context.Background(), "p1")
	if res.Outcome != cart.OutcomeFailed {
		t.Fatalf("outcome = %v", res.Outcome)
	}
	if !store.Snapshot().Contains("p1") {
		t.Error("p1 should stay")
	}
	if store.Status().Kind != cart.StatusError {
		t.Errorf("Status() = %v", store.Status())
	}
}

func TestCartStore_UpdateQuantityJournalsPhases(t *testing.T) {
	j := memory.NewJournal()
	store, gw := newTestStore(t, WithJournal(j))

	res := store.UpdateQuantity(context.Background(), "p1", 7)
	if res.Outcome != cart.OutcomeReconciled {
		t.Fatalf("UpdateQuantity() = %v (%v)", res.Outcome, res.Err)
	}
	if quantityOf(store.Snapshot(), "p1") != 7 {
		t.Errorf("quantity = %d, want 7", quantityOf(store.Snapshot(), "p1"))
	}
	if quantityOf(cart.New("alice", gw.Lines("alice")), "p1") != 7 {
		t.Error("remote quantity should be 7")
	}

	entries, _ := j.Recent(context.Background(), "alice", 3)
	want := []journal.Phase{journal.PhaseCompleted, journal.PhaseRemoved, journal.PhaseStarted}
	if len(entries) != len(want) {
		t.Fatalf("entries = %+v", entries)
	}
	for i, e := range entries {
		if e.Phase != want[i] {
			t.Errorf("entry %d phase = %s, want %s", i, e.Phase, want[i])
		}
		if e.OperationID != entries[0].OperationID || e.Op != "update" || e.ProductID != "p1" || e.Quantity != 7 {
			t.Errorf("entry %d = %+v", i, e)
		}
	}
}

func TestCartStore_UpdateQuantityAddPhaseUnavailable(t *testing.T) {
	store, gw := newTestStore(t)
	gw.FailNext(memory.OpAdd, unavailable("add"))

	res := store.UpdateQuantity(context.Background(), "p1", 4)
	if res.Outcome != cart.OutcomeOptimistic {
		t.Fatalf("outcome = %v (%v)", res.Outcome, res.Err)
	}
	if quantityOf(store.Snapshot(), "p1") != 4 {
		t.Error("quantity should be overwritten locally")
	}
	// Between the phases the line is absent remotely.
	if cart.New("alice", gw.Lines("alice")).Contains("p1") {
		t.Error("remote cart should have lost p1")
	}
	if store.Status().Kind != cart.StatusError {
		t.Errorf("Status() = %v", store.Status())
	}
}

func TestCartStore_UpdateQuantityRemovePhaseFails(t *testing.T) {
	store, gw := newTestStore(t)
	gw.FailNext(memory.OpRemove, unavailable("remove"))

	res := store.UpdateQuantity(context.Background(), "p1", 4)
	if res.Outcome != cart.OutcomeFailed {
		t.Fatalf("outcome = %v", res.Outcome)
	}
	if quantityOf(store.Snapshot(), "p1") != 2 || gw.Calls(memory.OpAdd) != 0 {
		t.Error("nothing should change when the remove phase fails")
	}
}

func TestCartStore_UpdateQuantityRejects(t *testing.T) {
	store, gw := newTestStore(t)

	for _, tc := range []struct {
		id  string
		qty int
	}{{"p1", 0}, {"p3", 2}, {"", 1}} {
		res := store.UpdateQuantity(context.Background(), tc.id, tc.qty)
		if res.Outcome != cart.OutcomeRejected || !errors.Is(res.Err, cart.ErrInvalid) {
			t.Errorf("UpdateQuantity(%q, %d) = %v (%v)", tc.id, tc.qty, res.Outcome, res.Err)
		}
	}
	if gw.Calls(memory.OpRemove) != 0 {
		t.Error("rejected updates must not reach the gateway")
	}
}

// ---------------------------------------------------------------------------
// ClearCart
// ---------------------------------------------------------------------------

func TestCartStore_ClearCart(t *testing.T) {
	defer goleak.VerifyNone(t)

	store, gw := newTestStore(t, WithClearParallelism(2))
	store.AddItem(context.Background(), cola, 1)

	res := store.ClearCart(context.Background())
	if res.Outcome != cart.OutcomeReconciled {
		t.Fatalf("ClearCart() = %v (%v)", res.Outcome, res.Err)
	}
	if !store.Snapshot().IsEmpty() || len(gw.Lines("alice")) != 0 {
		t.Error("cart should be empty locally and remotely")
	}
	if gw.Calls(memory.OpRemove) != 3 {
		t.Errorf("removes = %d, want 3", gw.Calls(memory.OpRemove))
	}
}

func TestCartStore_ClearCartPartialFailure(t *testing.T) {
	defer goleak.VerifyNone(t)

	store, gw := newTestStore(t)
	store.AddItem(context.Background(), cola, 1)
	gw.FailProduct(memory.OpRemove, "p2", unavailable("remove"))

	res := store.ClearCart(context.Background())
	if res.Outcome != cart.OutcomeFailed {
		t.Fatalf("outcome = %v", res.Outcome)
	}
	snap := store.Snapshot()
	if snap.Contains("p1") || snap.Contains("p3") || !snap.Contains("p2") {
		t.Errorf("lines = %v, want only p2", snap.ProductIDs())
	}
	if st := store.Status(); st.Kind != cart.StatusError {
		t.Errorf("Status() = %v", st)
	}
}

func TestCartStore_ClearEmptyCart(t *testing.T) {
	store, gw := newTestStore(t)
	gw.Seed("alice")
	store.Refresh(context.Background())

	if res := store.ClearCart(context.Background()); res.Outcome != cart.OutcomeReconciled {
		t.Errorf("ClearCart() = %v", res.Outcome)
	}
	if gw.Calls(memory.OpRemove) != 0 {
		t.Error("nothing to remove")
	}
}

// ---------------------------------------------------------------------------
// Status, events, concurrency
// ---------------------------------------------------------------------------

func TestCartStore_StatusTransitions(t *testing.T) {
	store, gw := newTestStore(t)

	var kinds []cart.StatusKind
	stop := store.Observe(func(ev Event) {
		if len(kinds) == 0 || kinds[len(kinds)-1] != ev.Status.Kind {
			kinds = append(kinds, ev.Status.Kind)
		}
	})
	defer stop()

	gw.FailNext(memory.OpRemove, unavailable("remove"))
	store.RemoveItem(context.Background(), "p1")
	store.RemoveItem(context.Background(), "p1")

	want := []cart.StatusKind{cart.StatusPending, cart.StatusError, cart.StatusPending, cart.StatusIdle}
	if len(kinds) != len(want) {
		t.Fatalf("transitions = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("transition %d = %v, want %v", i, kinds[i], want[i])
		}
	}
}

func TestCartStore_Subscribe(t *testing.T) {
	defer goleak.VerifyNone(t)

	reg := prometheus.NewRegistry()
	m := telemetry.NewMetrics(reg)
	store, _ := newTestStore(t, WithStoreMetrics(m))

	events, cancel := store.Subscribe()
	if got := testutil.ToFloat64(m.Subscribers); got != 1 {
		t.Errorf("subscribers = %v, want 1", got)
	}

	store.AddItem(context.Background(), cola, 1)

	select {
	case ev := <-events:
		// Latest wins: the final idle event replaced the pending ones.
		if ev.Status.Kind != cart.StatusIdle || !ev.Cart.Contains("p3") {
			t.Errorf("event = %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}

	cancel()
	cancel()
	if _, ok := <-events; ok {
		t.Error("channel should be closed after cancel")
	}
	if got := testutil.ToFloat64(m.Subscribers); got != 0 {
		t.Errorf("subscribers = %v, want 0", got)
	}
}

// blockAdds makes every Add wait until the returned release func runs.
// entered is closed when the first Add starts.
func blockAdds(gw *memory.CartGateway, order *[]string, mu *sync.Mutex) (entered <-chan struct{}, release func()) {
	in := make(chan struct{})
	gate := make(chan struct{})
	var once sync.Once
	gw.SetHook(func(ctx context.Context, op, productID string) error {
		mu.Lock()
		*order = append(*order, op)
		mu.Unlock()
		if op == memory.OpAdd {
			once.Do(func() { close(in) })
			<-gate
		}
		return nil
	})
	return in, func() { close(gate) }
}

func TestCartStore_QueueModeSerializes(t *testing.T) {
	defer goleak.VerifyNone(t)

	store, gw := newTestStore(t)
	var (
		order []string
		mu    sync.Mutex
	)
	entered, release := blockAdds(gw, &order, &mu)

	addDone := make(chan cart.Result, 1)
	go func() { addDone <- store.AddItem(context.Background(), cola, 1) }()
	<-entered

	removeDone := make(chan cart.Result, 1)
	go func() { removeDone <- store.RemoveItem(context.Background(), "p1") }()

	select {
	case <-removeDone:
		t.Fatal("remove completed while add was pending")
	case <-time.After(50 * time.Millisecond):
	}
	if !store.Status().IsPending() {
		t.Errorf("Status() = %v, want pending", store.Status())
	}

	release()
	add, rm := <-addDone, <-removeDone
	if add.Outcome != cart.OutcomeReconciled || rm.Outcome != cart.OutcomeReconciled {
		t.Fatalf("add = %v, remove = %v", add.Outcome, rm.Outcome)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{memory.OpAdd, memory.OpFetch, memory.OpRemove}
	if len(order) != len(want) {
		t.Fatalf("call order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("call %d = %s, want %s", i, order[i], want[i])
		}
	}
}

func TestCartStore_QueueModeWaitRespectsContext(t *testing.T) {
	defer goleak.VerifyNone(t)

	store, gw := newTestStore(t)
	var (
		order []string
		mu    sync.Mutex
	)
	entered, release := blockAdds(gw, &order, &mu)

	addDone := make(chan cart.Result, 1)
	go func() { addDone <- store.AddItem(context.Background(), cola, 1) }()
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	res := store.RemoveItem(ctx, "p1")
	if res.Outcome != cart.OutcomeRejected || !errors.Is(res.Err, context.DeadlineExceeded) {
		t.Errorf("RemoveItem() = %v (%v)", res.Outcome, res.Err)
	}

	release()
	<-addDone
}

func TestCartStore_RejectModeReturnsBusy(t *testing.T) {
	defer goleak.VerifyNone(t)

	reg := prometheus.NewRegistry()
	m := telemetry.NewMetrics(reg)
	store, gw := newTestStore(t, WithConcurrencyMode(ModeReject), WithStoreMetrics(m))
	var (
		order []string
		mu    sync.Mutex
	)
	entered, release := blockAdds(gw, &order, &mu)

	addDone := make(chan cart.Result, 1)
	go func() { addDone <- store.AddItem(context.Background(), cola, 1) }()
	<-entered

	res := store.RemoveItem(context.Background(), "p1")
	if res.Outcome != cart.OutcomeRejected || !errors.Is(res.Err, cart.ErrBusy) {
		t.Errorf("RemoveItem() = %v (%v)", res.Outcome, res.Err)
	}
	if !store.Status().IsPending() {
		t.Errorf("a rejected call must not touch the status, got %v", store.Status())
	}
	if got := testutil.ToFloat64(m.StoreOperations.WithLabelValues("remove", "rejected")); got != 1 {
		t.Errorf("rejected removes = %v, want 1", got)
	}

	release()
	if add := <-addDone; add.Outcome != cart.OutcomeReconciled {
		t.Errorf("add = %v", add.Outcome)
	}
	if gw.Calls(memory.OpRemove) != 0 {
		t.Error("busy remove must not reach the gateway")
	}
}

// ---------------------------------------------------------------------------
// Metrics and journal
// ---------------------------------------------------------------------------

func TestCartStore_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := telemetry.NewMetrics(reg)
	store, gw := newTestStore(t, WithStoreMetrics(m))

	store.AddItem(context.Background(), cola, 1)
	gw.FailNext(memory.OpAdd, unavailable("add"))
	store.AddItem(context.Background(), cola, 1)

	if got := testutil.ToFloat64(m.StoreOperations.WithLabelValues("add", "reconciled")); got != 1 {
		t.Errorf("reconciled adds = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.StoreOperations.WithLabelValues("add", "optimistic")); got != 1 {
		t.Errorf("optimistic adds = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.StoreStatus.WithLabelValues("error")); got != 1 {
		t.Errorf("error gauge = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.StoreStatus.WithLabelValues("idle")); got != 0 {
		t.Errorf("idle gauge = %v, want 0", got)
	}
}

type failingJournal struct{}

func (failingJournal) Record(context.Context, journal.Entry) error { return errors.New("disk full") }

func (failingJournal) Recent(context.Context, string, int) ([]journal.Entry, error) {
	return nil, nil
}

func TestCartStore_JournalFailureIsNotFatal(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := telemetry.NewMetrics(reg)
	store, _ := newTestStore(t, WithJournal(failingJournal{}), WithStoreMetrics(m))

	res := store.RemoveItem(context.Background(), "p2")
	if res.Outcome != cart.OutcomeReconciled {
		t.Fatalf("RemoveItem() = %v (%v)", res.Outcome, res.Err)
	}
	if got := testutil.ToFloat64(m.JournalErrors); got < 2 {
		t.Errorf("journal errors = %v, want >= 2", got)
	}
}
