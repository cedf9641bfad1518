package cel

import (
	"path/filepath"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/ext"

	"github.com/Tetsuuya/tasty-kitchen-3/internal/domain/checkout"
)

// NewCheckoutEnvironment creates the CEL environment checkout rules compile
// against. It declares:
//   - identity, product_ids, request_time
//   - selected_count, selected_qty, selected_total
//   - cart_count, cart_total
//   - glob(pattern, name) for product ID patterns
//
// Money amounts are doubles: rules compare thresholds, they never do
// arithmetic that has to be exact.
func NewCheckoutEnvironment() (*cel.Env, error) {
	return cel.NewEnv(
		ext.Strings(),
		ext.Sets(),

		cel.Variable("identity", cel.StringType),
		cel.Variable("product_ids", cel.ListType(cel.StringType)),
		cel.Variable("request_time", cel.TimestampType),
		cel.Variable("selected_count", cel.IntType),
		cel.Variable("selected_qty", cel.IntType),
		cel.Variable("selected_total", cel.DoubleType),
		cel.Variable("cart_count", cel.IntType),
		cel.Variable("cart_total", cel.DoubleType),

		// glob: shell pattern match, e.g. product_ids.exists(p, glob("promo-*", p))
		cel.Function("glob",
			cel.Overload("glob_string_string",
				[]*cel.Type{cel.StringType, cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(func(pattern, name ref.Val) ref.Val {
					p, ok1 := pattern.Value().(string)
					n, ok2 := name.Value().(string)
					if !ok1 || !ok2 {
						return types.Bool(false)
					}
					matched, _ := filepath.Match(p, n)
					return types.Bool(matched)
				}),
			),
		),
	)
}

// buildActivation maps an evaluation context onto the declared variables.
func buildActivation(evalCtx checkout.EvaluationContext) map[string]any {
	ids := evalCtx.SelectedIDs
	if ids == nil {
		ids = []string{}
	}
	selectedTotal, _ := evalCtx.SelectedTotal.Float64()
	cartTotal, _ := evalCtx.CartTotal.Float64()

	return map[string]any{
		"identity":       evalCtx.Identity,
		"product_ids":    ids,
		"request_time":   evalCtx.RequestTime,
		"selected_count": int64(evalCtx.SelectedCount),
		"selected_qty":   int64(evalCtx.SelectedQty),
		"selected_total": selectedTotal,
		"cart_count":     int64(evalCtx.CartCount),
		"cart_total":     cartTotal,
	}
}
