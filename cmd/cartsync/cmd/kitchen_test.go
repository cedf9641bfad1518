package cmd

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Tetsuuya/tasty-kitchen-3/internal/config"
	"github.com/Tetsuuya/tasty-kitchen-3/internal/domain/session"
)

// kitchen is an in-memory cart service speaking the remote wire format.
type kitchen struct {
	mu      sync.Mutex
	catalog map[string]kitchenProduct
	carts   map[string]map[string]int // identity -> product -> qty
	order   map[string][]string       // identity -> product insertion order
	orders  int
}

type kitchenProduct struct {
	name  string
	price decimal.Decimal
}

func newKitchen(t *testing.T) (*kitchen, *httptest.Server) {
	t.Helper()
	k := &kitchen{
		catalog: map[string]kitchenProduct{
			"1": {"Chicken Adobo", decimal.RequireFromString("10.00")},
			"2": {"Sinigang", decimal.RequireFromString("5.00")},
			"3": {"Halo-Halo", decimal.RequireFromString("3.50")},
		},
		carts: make(map[string]map[string]int),
		order: make(map[string][]string),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/cart/", k.auth(k.getCart))
	mux.HandleFunc("POST /api/cart/add/", k.auth(k.add))
	mux.HandleFunc("DELETE /api/cart/remove/{id}/", k.auth(k.remove))
	mux.HandleFunc("POST /api/orders/create/", k.auth(k.createOrder))

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return k, srv
}

func (k *kitchen) auth(next func(w http.ResponseWriter, r *http.Request, identity string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer tok-")
		if !ok || token == "" {
			http.Error(w, `{"detail": "Authentication credentials were not provided."}`, http.StatusUnauthorized)
			return
		}
		next(w, r, token)
	}
}

func (k *kitchen) getCart(w http.ResponseWriter, r *http.Request, identity string) {
	k.mu.Lock()
	defer k.mu.Unlock()

	items := []map[string]any{}
	for i, id := range k.order[identity] {
		p := k.catalog[id]
		items = append(items, map[string]any{
			"id":            i + 1,
			"product":       id,
			"product_name":  p.name,
			"product_price": p.price.StringFixed(2),
			"product_image": nil,
			"quantity":      k.carts[identity][id],
		})
	}
	_ = json.NewEncoder(w).Encode(items)
}

func (k *kitchen) add(w http.ResponseWriter, r *http.Request, identity string) {
	var req struct {
		ProductID json.Number `json:"product_id"`
		Quantity  int         `json:"quantity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"detail": "bad request"}`, http.StatusBadRequest)
		return
	}
	id := req.ProductID.String()

	k.mu.Lock()
	defer k.mu.Unlock()
	if _, ok := k.catalog[id]; !ok {
		http.Error(w, `{"detail": "Product not found."}`, http.StatusNotFound)
		return
	}
	if k.carts[identity] == nil {
		k.carts[identity] = make(map[string]int)
	}
	if _, ok := k.carts[identity][id]; !ok {
		k.order[identity] = append(k.order[identity], id)
	}
	k.carts[identity][id] += req.Quantity
	w.WriteHeader(http.StatusCreated)
}

func (k *kitchen) remove(w http.ResponseWriter, r *http.Request, identity string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if !k.removeLocked(identity, r.PathValue("id")) {
		http.Error(w, `{"detail": "Not found."}`, http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (k *kitchen) removeLocked(identity, id string) bool {
	if _, ok := k.carts[identity][id]; !ok {
		return false
	}
	delete(k.carts[identity], id)
	ids := k.order[identity][:0]
	for _, other := range k.order[identity] {
		if other != id {
			ids = append(ids, other)
		}
	}
	k.order[identity] = ids
	return true
}

func (k *kitchen) createOrder(w http.ResponseWriter, r *http.Request, identity string) {
	var req struct {
		Items []struct {
			ProductID json.Number `json:"product_id"`
			Quantity  int         `json:"quantity"`
		} `json:"items"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"detail": "bad request"}`, http.StatusBadRequest)
		return
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	total := decimal.Zero
	for _, it := range req.Items {
		id := it.ProductID.String()
		total = total.Add(k.catalog[id].price.Mul(decimal.NewFromInt(int64(it.Quantity))))
		k.removeLocked(identity, id)
	}
	k.orders++
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"id":           k.orders,
		"status":       "pending",
		"total_amount": total.StringFixed(2),
		"created_at":   time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC),
	})
}

func (k *kitchen) seed(identity string, lines map[string]int, order ...string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.carts[identity] = lines
	k.order[identity] = order
}

func (k *kitchen) quantity(identity, id string) int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.carts[identity][id]
}

// testConfig points a defaulted config at srv with state under a temp dir.
func testConfig(t *testing.T, srv *httptest.Server) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{}
	cfg.SetDefaults()
	cfg.Remote.BaseURL = srv.URL + "/api"
	cfg.Remote.Timeout = "5s"
	cfg.Session.StatePath = filepath.Join(dir, "state.json")
	cfg.Journal.Enabled = true
	cfg.Journal.Path = filepath.Join(dir, "journal.db")
	cfg.LogLevel = "error"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	return cfg
}

// newTestApp wires an app against srv and signs alice in.
func newTestApp(t *testing.T, srv *httptest.Server) *app {
	t.Helper()
	a, err := newApp(context.Background(), testConfig(t, srv), io.Discard)
	if err != nil {
		t.Fatalf("newApp() error = %v", err)
	}
	t.Cleanup(func() { _ = a.close(context.Background()) })

	res := a.store.SetIdentity(context.Background(), session.Session{Identity: "alice", Credential: "tok-alice"})
	if res.Err != nil {
		t.Fatalf("SetIdentity() error = %v", res.Err)
	}
	return a
}
