package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Tetsuuya/tasty-kitchen-3/internal/domain/cart"
	"github.com/Tetsuuya/tasty-kitchen-3/internal/domain/checkout"
	"github.com/Tetsuuya/tasty-kitchen-3/internal/domain/session"
)

type orderItem struct {
	ProductID json.RawMessage `json:"product_id"`
	Quantity  int             `json:"quantity"`
}

type orderRequest struct {
	Items []orderItem `json:"items"`
}

type orderResponse struct {
	ID          flexString      `json:"id"`
	Status      string          `json:"status"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Checkout places an order for lines. Each call carries a fresh
// Idempotency-Key so a transport-level retry by an intermediary cannot
// create a second order.
func (c *Client) Checkout(ctx context.Context, sess session.Session, lines []cart.Line) (*checkout.Receipt, error) {
	if len(lines) == 0 {
		return nil, checkout.ErrEmptySelection
	}

	req := orderRequest{Items: make([]orderItem, 0, len(lines))}
	for _, l := range lines {
		req.Items = append(req.Items, orderItem{ProductID: productRef(l.ID), Quantity: l.Quantity})
	}

	var resp orderResponse
	err := c.do(ctx, sess, call{
		op:     "checkout",
		method: http.MethodPost,
		path:   c.paths.Orders,
		body:   req,
		result: &resp,
		header: http.Header{"Idempotency-Key": []string{uuid.NewString()}},
	})
	if err != nil {
		return nil, err
	}

	receipt := &checkout.Receipt{
		OrderID:   string(resp.ID),
		Status:    resp.Status,
		Total:     resp.TotalAmount,
		CreatedAt: resp.CreatedAt,
		Lines:     append([]cart.Line(nil), lines...),
	}
	if receipt.CreatedAt.IsZero() {
		receipt.CreatedAt = time.Now().UTC()
	}
	return receipt, nil
}
