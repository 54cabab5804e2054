package validation

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"capexline/internal/apperr"
	"capexline/internal/domain"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestEvaluateHealthyRatio(t *testing.T) {
	res, err := Evaluate(d("120000000"), d("80000000"), DefaultPolicy())
	require.NoError(t, err)
	assert.Equal(t, "0.667", res.RatioDisplay())
	assert.Equal(t, domain.SeverityNoObservations, res.Severity)
	assert.Empty(t, res.Failed())
	require.Len(t, res.Rules, 4)
	assert.Equal(t, RuleNPVNonNegative, res.Rules[0].Name)
	assert.Equal(t, RuleRatioBand, res.Rules[3].Name)
}

func TestEvaluateZeroInvestment(t *testing.T) {
	_, err := Evaluate(decimal.Zero, d("80000000"), DefaultPolicy())
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
	_, err = Evaluate(d("-1"), d("1"), DefaultPolicy())
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
}

func TestSeverity(t *testing.T) {
	tests := []struct {
		name       string
		investment string
		npv        string
		want       domain.Severity
		failed     []string
	}{
		{"above band is informational", "100", "150", domain.SeverityWarnings, []string{RuleRatioBand}},
		{"below floor is critical", "100", "10", domain.SeverityCriticalErrors, []string{RuleRatioFloor, RuleRatioBand}},
		{"negative npv surfaces every rule", "100", "-20", domain.SeverityCriticalErrors,
			[]string{RuleNPVNonNegative, RuleRatioNonNegative, RuleRatioFloor, RuleRatioBand}},
		{"floor is inclusive", "100", "30", domain.SeverityNoObservations, nil},
		{"upper is inclusive", "100", "100", domain.SeverityNoObservations, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Evaluate(d(tt.investment), d(tt.npv), DefaultPolicy())
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Severity)
			assert.Equal(t, tt.failed, res.Failed())
		})
	}
}

func TestCustomPolicy(t *testing.T) {
	p := Policy{Floor: d("0.5"), Upper: d("2")}
	res, err := Evaluate(d("100"), d("150"), p)
	require.NoError(t, err)
	assert.Equal(t, domain.SeverityNoObservations, res.Severity)
}
