package rules

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/fraudguard-io/fraudguard/internal/domain"
)

// celCompiler compiles EXPRESSION rules against a fixed set of transaction
// and feature variables.
type celCompiler struct {
	env *cel.Env
}

// celProgram is a compiled boolean predicate over a transaction.
type celProgram interface {
	eval(tx *domain.Transaction, fs domain.FeatureSet) (bool, error)
}

func newCELCompiler() (*celCompiler, error) {
	env, err := cel.NewEnv(
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("currency", cel.StringType),
		cel.Variable("merchant", cel.StringType),
		cel.Variable("merchant_category", cel.StringType),
		cel.Variable("country", cel.StringType),
		cel.Variable("payment_method", cel.StringType),
		cel.Variable("tx_type", cel.StringType),
		cel.Variable("is_weekend", cel.BoolType),
		cel.Variable("is_night_time", cel.BoolType),
		cel.Variable("is_large_amount", cel.BoolType),
	)
	if err != nil {
		return nil, err
	}
	return &celCompiler{env: env}, nil
}

// compile builds a program for an EXPRESSION rule. The expression must
// evaluate to a boolean.
func (c *celCompiler) compile(rule *domain.Rule) (celProgram, error) {
	ast, issues := c.env.Compile(rule.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", rule.ID, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("rule %s: expression must return bool, got %s", rule.ID, ast.OutputType())
	}

	program, err := c.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", rule.ID, err)
	}

	return &celRuleProgram{program: program}, nil
}

type celRuleProgram struct {
	program cel.Program
}

func (p *celRuleProgram) eval(tx *domain.Transaction, fs domain.FeatureSet) (bool, error) {
	activation := map[string]any{
		"amount":            tx.Amount,
		"currency":          tx.Currency,
		"merchant":          tx.Merchant,
		"merchant_category": tx.MerchantCategory,
		"country":           tx.Country,
		"payment_method":    tx.PaymentMethod,
		"tx_type":           tx.TransactionType,
		"is_weekend":        fs.IsWeekend,
		"is_night_time":     fs.IsNightTime,
		"is_large_amount":   fs.IsLargeAmount,
	}

	out, _, err := p.program.Eval(activation)
	if err != nil {
		return false, err
	}

	matched, ok := out.(types.Bool)
	if !ok {
		return false, fmt.Errorf("expression returned non-boolean value")
	}
	return bool(matched), nil
}
