package promotion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"capexline/internal/apperr"
	"capexline/internal/domain"
)

func completeCase() domain.BusinessCase {
	return domain.BusinessCase{
		ID:             "c1",
		Name:           "Private 5G for ports",
		Leader:         "Laura",
		Categorization: "Network",
		Probability:    domain.LevelHigh,
		ContextTrigger: "Port authority tender",
		Recommendation: domain.StrategicRecommendation{Roadmap: "Pilot Q3", TechnicalDetails: "SA core"},
		Impacts:        domain.BusinessImpact{Quantifiable: "+4% B2B revenue", Strategic: "Enterprise share"},
		Support:        domain.SupportData{Internal: "Sales pipeline"},
		Stage:          domain.CaseDraft,
	}
}

func TestPromoteWalksLadderOneStageAtATime(t *testing.T) {
	c := completeCase()
	want := []domain.CaseStage{domain.CaseTechnicalReview, domain.CaseFinancialEvaluation, domain.CaseSteeringCommittee, domain.CaseApproved}
	for _, stage := range want {
		var changed bool
		var err error
		c, changed, err = Promote(c)
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, stage, c.Stage)
	}
}

func TestPromoteAtApprovedIsNoOp(t *testing.T) {
	c := completeCase()
	c.Stage = domain.CaseApproved
	for i := 0; i < 2; i++ {
		out, changed, err := Promote(c)
		require.NoError(t, err)
		assert.False(t, changed)
		assert.Equal(t, domain.CaseApproved, out.Stage)
	}
}

func TestPromoteIncompleteLeavesStage(t *testing.T) {
	c := completeCase()
	c.Leader = " "
	c.Support.Internal = ""
	out, changed, err := Promote(c)
	require.ErrorIs(t, err, apperr.ErrIncompleteCase)
	var ice *apperr.IncompleteCaseError
	require.ErrorAs(t, err, &ice)
	assert.Equal(t, []string{"leader", "support.internal"}, ice.Missing)
	assert.False(t, changed)
	assert.Equal(t, domain.CaseDraft, out.Stage)
}

func TestMissingOnEmptyCase(t *testing.T) {
	assert.Len(t, Missing(domain.BusinessCase{}), 10)
	assert.True(t, IsComplete(completeCase()))
}

func TestRejectAndResubmit(t *testing.T) {
	c := completeCase()
	c.Stage = domain.CaseSteeringCommittee
	c, err := Reject(c)
	require.NoError(t, err)
	assert.Equal(t, domain.CaseRejected, c.Stage)

	_, err = Reject(c)
	assert.ErrorIs(t, err, apperr.ErrGuardFailed)

	c, changed, err := Promote(c)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, domain.CaseDraft, c.Stage)

	_, _, err = Resubmit(c)
	assert.ErrorIs(t, err, apperr.ErrGuardFailed)
}
