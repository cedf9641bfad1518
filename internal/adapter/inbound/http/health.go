package http

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/Tetsuuya/tasty-kitchen-3/internal/port/outbound"
	"github.com/Tetsuuya/tasty-kitchen-3/internal/service"
)

const (
	statusHealthy   = "healthy"
	statusUnhealthy = "unhealthy"
	notConfigured   = "not configured"

	journalCheckTimeout = 2 * time.Second
)

// CartViewer is the read side of the selection controller.
type CartViewer interface {
	View() service.SelectionView
}

var _ CartViewer = (*service.SelectionController)(nil)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status  string            `json:"status"`
	Checks  map[string]string `json:"checks"`
	Version string            `json:"version,omitempty"`
}

// HealthChecker reports on the cart and the journal. Either may be nil.
type HealthChecker struct {
	cart    CartViewer
	journal outbound.Journal
	version string
}

// NewHealthChecker creates a HealthChecker.
func NewHealthChecker(cart CartViewer, journal outbound.Journal, version string) *HealthChecker {
	return &HealthChecker{cart: cart, journal: journal, version: version}
}

// Check collects the component checks. Only a failing journal makes the
// process unhealthy; a remote cart error is reported as the cart status.
func (h *HealthChecker) Check(ctx context.Context) HealthResponse {
	resp := HealthResponse{
		Status: statusHealthy,
		Checks: map[string]string{
			"goroutines": strconv.Itoa(runtime.NumGoroutine()),
		},
		Version: h.version,
	}

	h.checkCart(resp.Checks)
	if !h.checkJournal(ctx, resp.Checks) {
		resp.Status = statusUnhealthy
	}
	return resp
}

func (h *HealthChecker) checkCart(checks map[string]string) {
	if h.cart == nil {
		checks["cart"] = notConfigured
		return
	}
	view := h.cart.View()
	checks["cart"] = view.Status.String()
	checks["identity"] = "anonymous"
	if id := view.Cart.Identity(); id != "" {
		checks["identity"] = id
	}
}

func (h *HealthChecker) checkJournal(ctx context.Context, checks map[string]string) bool {
	if h.journal == nil {
		checks["journal"] = notConfigured
		return true
	}
	ctx, cancel := context.WithTimeout(ctx, journalCheckTimeout)
	defer cancel()

	if _, err := h.journal.Recent(ctx, "", 1); err != nil {
		checks["journal"] = fmt.Sprintf("error: %v", err)
		return false
	}
	checks["journal"] = "ok"
	return true
}

// Handler serves Check as JSON, with 503 when unhealthy.
func (h *HealthChecker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := h.Check(r.Context())
		code := http.StatusOK
		if resp.Status != statusHealthy {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, resp)
	})
}
