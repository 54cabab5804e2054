// Package validation derives the NPV/investment ratio checks for a project record.
package validation

import (
	"github.com/shopspring/decimal"

	"capexline/internal/apperr"
	"capexline/internal/domain"
)

const (
	RuleNPVNonNegative   = "npv_non_negative"
	RuleRatioNonNegative = "ratio_non_negative"
	RuleRatioFloor       = "ratio_at_least_floor"
	RuleRatioBand        = "ratio_within_band"
)

// Policy holds the ratio thresholds.
type Policy struct {
	Floor decimal.Decimal
	Upper decimal.Decimal
}

func DefaultPolicy() Policy {
	return Policy{
		Floor: decimal.RequireFromString("0.3"),
		Upper: decimal.RequireFromString("1.0"),
	}
}

type Rule struct {
	Name          string `json:"name"`
	Passed        bool   `json:"passed"`
	Informational bool   `json:"informational,omitempty"`
}

// Result is one evaluation of the rules against the inputs it carries.
type Result struct {
	Investment decimal.Decimal `json:"investment"`
	NPV        decimal.Decimal `json:"npv"`
	Ratio      decimal.Decimal `json:"ratio"`
	Rules      []Rule          `json:"rules"`
	Severity   domain.Severity `json:"severity"`
}

// RatioDisplay renders the ratio with three decimals.
func (r Result) RatioDisplay() string {
	return r.Ratio.StringFixed(3)
}

// Failed lists the rules that did not pass.
func (r Result) Failed() []string {
	var out []string
	for _, rule := range r.Rules {
		if !rule.Passed {
			out = append(out, rule.Name)
		}
	}
	return out
}

// Evaluate runs every rule in order; none short-circuits.
func Evaluate(investment, npv decimal.Decimal, p Policy) (Result, error) {
	if !investment.IsPositive() {
		return Result{}, apperr.Invalid("investment amount must be > 0, got %s", investment)
	}
	ratio := npv.Div(investment)
	rules := []Rule{
		{Name: RuleNPVNonNegative, Passed: !npv.IsNegative()},
		{Name: RuleRatioNonNegative, Passed: !ratio.IsNegative()},
		{Name: RuleRatioFloor, Passed: ratio.GreaterThanOrEqual(p.Floor)},
		{Name: RuleRatioBand, Passed: ratio.GreaterThanOrEqual(p.Floor) && ratio.LessThanOrEqual(p.Upper), Informational: true},
	}
	return Result{
		Investment: investment,
		NPV:        npv,
		Ratio:      ratio,
		Rules:      rules,
		Severity:   severity(rules),
	}, nil
}

func severity(rules []Rule) domain.Severity {
	warn := false
	for _, r := range rules {
		if r.Passed {
			continue
		}
		if !r.Informational {
			return domain.SeverityCriticalErrors
		}
		warn = true
	}
	if warn {
		return domain.SeverityWarnings
	}
	return domain.SeverityNoObservations
}
