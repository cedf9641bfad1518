// Package checkout defines the partial-checkout request, its receipt and
// the rule that decides whether a selection may be checked out.
package checkout

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Tetsuuya/tasty-kitchen-3/internal/domain/cart"
)

var (
	// ErrEmptySelection is returned when checkout is attempted with nothing
	// selected. No remote call is made.
	ErrEmptySelection = errors.New("nothing selected for checkout")

	// ErrInProgress is returned when a checkout is already in flight.
	ErrInProgress = errors.New("checkout already in progress")

	// ErrRuleDenied is returned when the checkout rule rejects the selection.
	ErrRuleDenied = errors.New("checkout rule denied the selection")
)

// Receipt is what the order service returns for a placed order.
type Receipt struct {
	OrderID   string          `json:"id" yaml:"id"`
	Status    string          `json:"status" yaml:"status"`
	Total     decimal.Decimal `json:"total_amount" yaml:"total_amount"`
	CreatedAt time.Time       `json:"created_at" yaml:"created_at"`
	// Lines are the lines that were submitted.
	Lines []cart.Line `json:"lines" yaml:"lines"`
}

// EvaluationContext is the input of a checkout rule.
type EvaluationContext struct {
	Identity      string
	SelectedIDs   []string
	SelectedCount int
	SelectedQty   int
	SelectedTotal decimal.Decimal
	CartCount     int
	CartTotal     decimal.Decimal
	RequestTime   time.Time
}

// Rule decides whether a selection may be checked out.
type Rule interface {
	// Allow returns true when the checkout may proceed.
	Allow(ctx context.Context, evalCtx EvaluationContext) (bool, error)
}

// AllowAll is the rule used when none is configured.
type AllowAll struct{}

// Allow always returns true.
func (AllowAll) Allow(context.Context, EvaluationContext) (bool, error) { return true, nil }
