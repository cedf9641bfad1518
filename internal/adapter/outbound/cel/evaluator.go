// Package cel provides the CEL-based checkout rule.
package cel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/Tetsuuya/tasty-kitchen-3/internal/domain/checkout"
)

// Limits applied to every rule. The length cap matches checkout.rule in
// config validation.
const (
	maxExpressionLength = 1024
	maxNestingDepth     = 50
	maxCost             = 100_000
	interruptEvery      = 100 // comprehension iterations between ctx checks
	evalTimeout         = 5 * time.Second
)

// Evaluator compiles rule expressions against the checkout environment.
type Evaluator struct {
	env *cel.Env
}

// NewEvaluator creates an Evaluator.
func NewEvaluator() (*Evaluator, error) {
	env, err := NewCheckoutEnvironment()
	if err != nil {
		return nil, fmt.Errorf("failed to create checkout environment: %w", err)
	}
	return &Evaluator{env: env}, nil
}

// Compile type-checks expression and returns a cost-limited program. The
// expression must yield a bool.
func (e *Evaluator) Compile(expression string) (cel.Program, error) {
	ast, iss := e.env.Compile(expression)
	if err := iss.Err(); err != nil {
		return nil, fmt.Errorf("compilation failed: %w", err)
	}
	if out := ast.OutputType(); !out.IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("expression must return bool, got %s", out)
	}
	return e.env.Program(ast,
		cel.EvalOptions(cel.OptOptimize),
		cel.CostLimit(maxCost),
		cel.InterruptCheckFrequency(interruptEvery),
	)
}

// ValidateExpression rejects empty, oversized and deeply nested input
// before compiling it.
func (e *Evaluator) ValidateExpression(expression string) error {
	if err := checkShape(expression); err != nil {
		return err
	}
	if _, err := e.Compile(expression); err != nil {
		return fmt.Errorf("invalid CEL expression: %w", err)
	}
	return nil
}

func checkShape(expression string) error {
	switch n := len(expression); {
	case n == 0:
		return errors.New("expression is empty")
	case n > maxExpressionLength:
		return fmt.Errorf("expression too long: %d characters (max %d)", n, maxExpressionLength)
	}
	if d := nestingDepth(expression); d > maxNestingDepth {
		return fmt.Errorf("expression nesting too deep: %d levels (max %d)", d, maxNestingDepth)
	}
	return nil
}

// nestingDepth returns the deepest bracket nesting in s, counting all of
// (), [] and {} alike.
func nestingDepth(s string) int {
	depth, deepest := 0, 0
	for _, r := range s {
		switch r {
		case '(', '[', '{':
			depth++
			deepest = max(deepest, depth)
		case ')', ']', '}':
			depth--
		}
	}
	return deepest
}

// Evaluate runs prg against evalCtx, giving up after evalTimeout.
func (e *Evaluator) Evaluate(ctx context.Context, prg cel.Program, evalCtx checkout.EvaluationContext) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, evalTimeout)
	defer cancel()

	out, _, err := prg.ContextEval(ctx, buildActivation(evalCtx))
	if err != nil {
		return false, fmt.Errorf("evaluation failed: %w", err)
	}
	allowed, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expression did not return a boolean, got %T", out.Value())
	}
	return allowed, nil
}

// Rule is a checkout.Rule backed by one compiled expression.
type Rule struct {
	expression string
	evaluator  *Evaluator
	program    cel.Program
}

var _ checkout.Rule = (*Rule)(nil)

// NewRule validates and compiles expression.
func NewRule(expression string) (*Rule, error) {
	if err := checkShape(expression); err != nil {
		return nil, err
	}
	eval, err := NewEvaluator()
	if err != nil {
		return nil, err
	}
	prg, err := eval.Compile(expression)
	if err != nil {
		return nil, fmt.Errorf("invalid CEL expression: %w", err)
	}
	return &Rule{expression: expression, evaluator: eval, program: prg}, nil
}

// Expression returns the source expression.
func (r *Rule) Expression() string {
	return r.expression
}

// Allow evaluates the rule. A zero RequestTime is taken as now.
func (r *Rule) Allow(ctx context.Context, evalCtx checkout.EvaluationContext) (bool, error) {
	if evalCtx.RequestTime.IsZero() {
		evalCtx.RequestTime = time.Now().UTC()
	}
	return r.evaluator.Evaluate(ctx, r.program, evalCtx)
}
