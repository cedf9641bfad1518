package memory

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Tetsuuya/tasty-kitchen-3/internal/domain/cart"
	"github.com/Tetsuuya/tasty-kitchen-3/internal/domain/checkout"
	"github.com/Tetsuuya/tasty-kitchen-3/internal/domain/journal"
	"github.com/Tetsuuya/tasty-kitchen-3/internal/domain/session"
)

var (
	alice = session.Session{Identity: "alice", Credential: "tok-a"}
	bob   = session.Session{Identity: "bob", Credential: "tok-b"}
)

func product(id string, price int64) cart.Product {
	return cart.Product{ID: id, Name: "P" + id, Price: decimal.NewFromInt(price)}
}

func TestCartGateway_AddFetchRemove(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	g := NewCartGateway(product("1", 10), product("2", 5))

	if err := g.Add(ctx, alice, "1", 2); err != nil {
		t.Fatal(err)
	}
	if err := g.Add(ctx, alice, "1", 1); err != nil {
		t.Fatal(err)
	}
	if err := g.Add(ctx, alice, "2", 1); err != nil {
		t.Fatal(err)
	}

	c, err := g.Fetch(ctx, alice)
	if err != nil {
		t.Fatal(err)
	}
	if l, _ := c.Line("1"); l.Quantity != 3 || l.LineID == "" {
		t.Errorf("line 1 = %+v", l)
	}
	if !c.Total().Equal(decimal.NewFromInt(35)) {
		t.Errorf("Total() = %s", c.Total())
	}

	if err := g.Remove(ctx, alice, "1"); err != nil {
		t.Fatal(err)
	}
	if err := g.Remove(ctx, alice, "1"); !errors.Is(err, cart.ErrNotFound) {
		t.Errorf("second remove err = %v, want ErrNotFound", err)
	}
	if got := len(g.Lines("alice")); got != 1 {
		t.Errorf("lines = %d, want 1", got)
	}
	if g.Calls(OpRemove) != 2 || g.Calls(OpAdd) != 3 {
		t.Errorf("calls remove=%d add=%d", g.Calls(OpRemove), g.Calls(OpAdd))
	}
}

func TestCartGateway_IdentityScoped(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	g := NewCartGateway(product("1", 10))

	_ = g.Add(ctx, alice, "1", 1)
	c, err := g.Fetch(ctx, bob)
	if err != nil {
		t.Fatal(err)
	}
	if !c.IsEmpty() {
		t.Errorf("bob sees alice's cart: %v", c.ProductIDs())
	}
}

func TestCartGateway_UnknownProduct(t *testing.T) {
	t.Parallel()
	g := NewCartGateway()
	err := g.Add(context.Background(), alice, "nope", 1)
	if !errors.Is(err, cart.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestCartGateway_Credentials(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	g := NewCartGateway(product("1", 10))

	if _, err := g.Fetch(ctx, session.Session{Identity: "alice"}); !errors.Is(err, cart.ErrUnauthorized) {
		t.Errorf("no credential: err = %v", err)
	}

	g.Authorize("tok-a", "alice")
	if _, err := g.Fetch(ctx, bob); !errors.Is(err, cart.ErrUnauthorized) {
		t.Errorf("unknown credential: err = %v", err)
	}
	if _, err := g.Fetch(ctx, alice); err != nil {
		t.Errorf("bound credential: err = %v", err)
	}

	g.Revoke("tok-a")
	g.Authorize("other", "carol")
	if _, err := g.Fetch(ctx, alice); !errors.Is(err, cart.ErrUnauthorized) {
		t.Errorf("revoked credential: err = %v", err)
	}
}

func TestCartGateway_FailureInjection(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	g := NewCartGateway(product("1", 10), product("2", 5))
	boom := &cart.GatewayError{Kind: cart.ErrUnavailable, Op: OpAdd}

	g.FailNext(OpAdd, boom)
	if err := g.Add(ctx, alice, "1", 1); !errors.Is(err, cart.ErrUnavailable) {
		t.Errorf("first add err = %v", err)
	}
	if err := g.Add(ctx, alice, "1", 1); err != nil {
		t.Errorf("second add err = %v", err)
	}

	g.FailProduct(OpRemove, "2", boom)
	_ = g.Add(ctx, alice, "2", 1)
	for i := 0; i < 2; i++ {
		if err := g.Remove(ctx, alice, "2"); !errors.Is(err, cart.ErrUnavailable) {
			t.Errorf("remove %d err = %v", i, err)
		}
	}
	g.ResetFailures()
	if err := g.Remove(ctx, alice, "2"); err != nil {
		t.Errorf("after reset err = %v", err)
	}
}

func TestCartGateway_Hook(t *testing.T) {
	t.Parallel()
	g := NewCartGateway(product("1", 10))
	var seen []string
	g.SetHook(func(ctx context.Context, op, productID string) error {
		seen = append(seen, op+":"+productID)
		return nil
	})

	_ = g.Add(context.Background(), alice, "1", 1)
	_, _ = g.Fetch(context.Background(), alice)

	if strings.Join(seen, ",") != "add:1,fetch:" {
		t.Errorf("hook saw %v", seen)
	}
}

func TestCartGateway_Checkout(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	g := NewCartGateway(product("1", 10), product("2", 5))
	g.Seed("alice",
		cart.Line{Product: product("1", 10), Quantity: 2},
		cart.Line{Product: product("2", 5), Quantity: 1},
	)

	lines := g.Lines("alice")[:1]
	receipt, err := g.Checkout(ctx, alice, lines)
	if err != nil {
		t.Fatal(err)
	}
	if !receipt.Total.Equal(decimal.NewFromInt(20)) || receipt.OrderID == "" {
		t.Errorf("receipt = %+v", receipt)
	}
	remaining := g.Lines("alice")
	if len(remaining) != 1 || remaining[0].ID != "2" {
		t.Errorf("remaining = %+v", remaining)
	}
	if len(g.Orders()) != 1 {
		t.Errorf("orders = %d", len(g.Orders()))
	}

	if _, err := g.Checkout(ctx, alice, nil); !errors.Is(err, checkout.ErrEmptySelection) {
		t.Errorf("empty checkout err = %v", err)
	}
}

func TestCartGateway_CanceledContext(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewCartGateway().Fetch(ctx, alice)
	if !errors.Is(err, cart.ErrUnavailable) || !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v", err)
	}
}

// --- Journal ---

func TestJournal_RecordRecent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	j := NewJournal(3)

	for i, id := range []string{"alice", "bob", "alice", "alice"} {
		e := journal.Entry{OperationID: string(rune('a' + i)), Identity: id, Op: "add", Phase: journal.PhaseCompleted, At: time.Now()}
		if err := j.Record(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	all, _ := j.Recent(ctx, "", 0)
	if len(all) != 3 {
		t.Fatalf("len = %d, want 3 (ring capacity)", len(all))
	}
	if all[0].OperationID != "d" || all[2].OperationID != "b" {
		t.Errorf("order = %s..%s, want newest first", all[0].OperationID, all[2].OperationID)
	}

	mine, _ := j.Recent(ctx, "alice", 1)
	if len(mine) != 1 || mine[0].OperationID != "d" {
		t.Errorf("Recent(alice, 1) = %+v", mine)
	}
}

func TestJournal_Writer(t *testing.T) {
	t.Parallel()
	buf := &bytes.Buffer{}
	j := NewJournalWithWriter(buf)

	_ = j.Record(context.Background(), journal.Entry{OperationID: "op-1", Op: "clear", Phase: journal.PhaseStarted})

	if !strings.Contains(buf.String(), `"operation_id":"op-1"`) {
		t.Errorf("output = %s", buf.String())
	}
}
