// Package policy evaluates configurable acceptance rules against a payment
// before any provider is consulted. Rules are govaluate expressions over the
// request's parameters; a payment is accepted only when every rule holds.
// Rejection is a structured failure surfaced to the caller, never a panic or
// error: a rejected payment is a per-payment outcome, not a system fault.
package policy

import (
	"fmt"

	"github.com/Knetic/govaluate"

	"github.com/nyuchitech/payments-core/internal/payment"
)

// RuleConfig is one named acceptance rule. The expression sees these
// parameters: amount (float), currency (string), provider (string),
// item_count (int), mobile (bool), mobile_method (string, empty for web).
type RuleConfig struct {
	Name       string `mapstructure:"name"`
	Expression string `mapstructure:"expression"`
}

type compiledRule struct {
	name string
	expr *govaluate.EvaluableExpression
}

// Enforcer holds the compiled rule set.
type Enforcer struct {
	rules []compiledRule
}

// NewEnforcer compiles the configured rules. A malformed expression is a
// configuration error and fails construction.
func NewEnforcer(rules []RuleConfig) (*Enforcer, error) {
	compiled := make([]compiledRule, 0, len(rules))
	for _, rule := range rules {
		expr, err := govaluate.NewEvaluableExpression(rule.Expression)
		if err != nil {
			return nil, fmt.Errorf("%w: policy rule %q: %v", payment.ErrConfiguration, rule.Name, err)
		}
		compiled = append(compiled, compiledRule{name: rule.Name, expr: expr})
	}
	return &Enforcer{rules: compiled}, nil
}

// Decision is the outcome of evaluating the rule set.
type Decision struct {
	Allowed bool
	Rule    string // first violated rule, when not allowed
	Reason  string
}

// Evaluate runs every rule against the request. The first rule that does not
// evaluate to true rejects the payment.
func (e *Enforcer) Evaluate(req payment.Request, provider payment.Provider, method payment.MobileMethod) Decision {
	if len(e.rules) == 0 {
		return Decision{Allowed: true}
	}

	params := map[string]any{
		"amount":        req.Total(),
		"currency":      req.Currency,
		"provider":      provider.String(),
		"item_count":    len(req.Items),
		"mobile":        method != "",
		"mobile_method": string(method),
	}

	for _, rule := range e.rules {
		result, err := rule.expr.Evaluate(params)
		if err != nil {
			return Decision{Allowed: false, Rule: rule.name, Reason: fmt.Sprintf("rule %q failed to evaluate: %v", rule.name, err)}
		}
		ok, isBool := result.(bool)
		if !isBool {
			return Decision{Allowed: false, Rule: rule.name, Reason: fmt.Sprintf("rule %q did not produce a boolean", rule.name)}
		}
		if !ok {
			return Decision{Allowed: false, Rule: rule.name, Reason: fmt.Sprintf("payment rejected by policy rule %q", rule.name)}
		}
	}
	return Decision{Allowed: true}
}
