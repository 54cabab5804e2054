// Package distribution checks that a monthly plan spreads the approved amount exactly.
package distribution

import (
	"github.com/shopspring/decimal"

	"capexline/internal/apperr"
	"capexline/internal/domain"
)

type State string

const (
	NotStarted State = "NotStarted"
	Mismatched State = "Mismatched"
	Balanced   State = "Balanced"
)

// Status is the outcome of Check. Delta is approved minus planned.
type Status struct {
	State    State           `json:"state"`
	Approved decimal.Decimal `json:"approved"`
	Planned  decimal.Decimal `json:"planned"`
	Delta    decimal.Decimal `json:"delta"`
}

// CanComplete is true only for a balanced plan.
func (s Status) CanComplete() bool { return s.State == Balanced }

// Check compares a plan against the approved total. A plan with no distributed
// month is NotStarted, even when the approved total is zero.
func Check(approved decimal.Decimal, plan domain.MonthlyPlan) Status {
	planned := plan.Sum()
	st := Status{Approved: approved, Planned: planned, Delta: approved.Sub(planned)}
	switch {
	case plan.Empty():
		st.State = NotStarted
	case st.Delta.IsZero():
		st.State = Balanced
	default:
		st.State = Mismatched
	}
	return st
}

// ValidatePlan rejects negative months.
func ValidatePlan(plan domain.MonthlyPlan) error {
	for i, v := range plan {
		if v.IsNegative() {
			return apperr.Invalid("month %s must not be negative", domain.Months[i])
		}
	}
	return nil
}

// Even splits an amount over twelve months in whole units, the remainder going to the last month.
func Even(approved decimal.Decimal) domain.MonthlyPlan {
	var plan domain.MonthlyPlan
	share := approved.Div(decimal.NewFromInt(12)).Floor()
	for i := range plan {
		plan[i] = share
	}
	plan[11] = approved.Sub(share.Mul(decimal.NewFromInt(11)))
	return plan
}

// AdjustmentsNeedingApproval lists the months whose change exceeds threshold (a fraction,
// 0.15 by default) of the current month value. A month that was zero always needs approval
// when it changes.
func AdjustmentsNeedingApproval(current, proposed domain.MonthlyPlan, threshold decimal.Decimal) []string {
	var months []string
	for i := range current {
		change := proposed[i].Sub(current[i]).Abs()
		if change.IsZero() {
			continue
		}
		if current[i].IsZero() || change.GreaterThan(current[i].Mul(threshold)) {
			months = append(months, domain.Months[i])
		}
	}
	return months
}
