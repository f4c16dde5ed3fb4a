package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/kestrel-insights/kestrel/internal/domain"
)

// customEvaluator compiles and runs analyst-written CEL expressions against
// scored rows. Programs are cached by expression text under a read/write
// lock, so repeated evaluations of the same configuration compile once.
type customEvaluator struct {
	env *cel.Env

	mu       sync.RWMutex
	programs map[string]cel.Program
}

func newCustomEvaluator() (*customEvaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("row", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("probability", cel.DoubleType),
		cel.Variable("customer_id", cel.StringType),
		cel.Variable("merchant_id", cel.StringType),
		cel.Variable("risk_level", cel.StringType),
		cel.Variable("is_anomaly", cel.BoolType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return &customEvaluator{
		env:      env,
		programs: make(map[string]cel.Program),
	}, nil
}

// compile returns a cached program for the expression, compiling and
// validating it on first use. Expressions must produce a bool.
func (c *customEvaluator) compile(expression string) (cel.Program, error) {
	c.mu.RLock()
	program, ok := c.programs[expression]
	c.mu.RUnlock()
	if ok {
		return program, nil
	}

	ast, issues := c.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile expression: %w", issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("expression must return bool, got %s", ast.OutputType())
	}

	program, err := c.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program: %w", err)
	}

	c.mu.Lock()
	c.programs[expression] = program
	c.mu.Unlock()
	return program, nil
}

// evaluateRow runs one rule against one row. Evaluation errors are logged
// and reported as a non-match so a bad rule cannot sink a whole batch.
func (c *customEvaluator) evaluateRow(ctx context.Context, rule domain.CustomRule, row domain.Row) (bool, error) {
	program, err := c.compile(rule.Expression)
	if err != nil {
		slog.Warn("skipping invalid custom rule", "rule", rule.Name, "error", err)
		return false, err
	}

	activation := map[string]any{
		"row":         map[string]any(row),
		"amount":      row.Amount(),
		"probability": row.Probability(),
		"customer_id": row.CustomerID(),
		"merchant_id": row.MerchantID(),
		"risk_level":  row.RiskLevel(),
		"is_anomaly":  row.IsAnomaly(),
	}

	out, _, err := program.ContextEval(ctx, activation)
	if err != nil {
		slog.Warn("custom rule evaluation failed", "rule", rule.Name, "error", err)
		return false, err
	}

	matched, ok := out.(types.Bool)
	if !ok {
		return false, fmt.Errorf("rule %s: unexpected result type %T", rule.Name, out)
	}
	return bool(matched), nil
}
