// Package promotion moves business cases along Draft -> TechnicalReview ->
// FinancialEvaluation -> SteeringCommittee -> Approved.
package promotion

import (
	"strings"

	"capexline/internal/apperr"
	"capexline/internal/domain"
)

type requiredField struct {
	name  string
	value func(domain.BusinessCase) string
}

var requiredFields = []requiredField{
	{"name", func(c domain.BusinessCase) string { return c.Name }},
	{"leader", func(c domain.BusinessCase) string { return c.Leader }},
	{"categorization", func(c domain.BusinessCase) string { return c.Categorization }},
	{"probability", func(c domain.BusinessCase) string { return string(c.Probability) }},
	{"context_trigger", func(c domain.BusinessCase) string { return c.ContextTrigger }},
	{"impacts.quantifiable", func(c domain.BusinessCase) string { return c.Impacts.Quantifiable }},
	{"impacts.strategic", func(c domain.BusinessCase) string { return c.Impacts.Strategic }},
	{"recommendation.roadmap", func(c domain.BusinessCase) string { return c.Recommendation.Roadmap }},
	{"recommendation.technical_details", func(c domain.BusinessCase) string { return c.Recommendation.TechnicalDetails }},
	{"support.internal", func(c domain.BusinessCase) string { return c.Support.Internal }},
}

var ladder = map[domain.CaseStage]domain.CaseStage{
	domain.CaseDraft:               domain.CaseTechnicalReview,
	domain.CaseTechnicalReview:     domain.CaseFinancialEvaluation,
	domain.CaseFinancialEvaluation: domain.CaseSteeringCommittee,
	domain.CaseSteeringCommittee:   domain.CaseApproved,
	domain.CaseApproved:            domain.CaseApproved,
	domain.CaseRejected:            domain.CaseDraft,
}

// Missing lists the required fields that are blank.
func Missing(c domain.BusinessCase) []string {
	var missing []string
	for _, f := range requiredFields {
		if strings.TrimSpace(f.value(c)) == "" {
			missing = append(missing, f.name)
		}
	}
	return missing
}

func IsComplete(c domain.BusinessCase) bool { return len(Missing(c)) == 0 }

// Next returns the stage a promotion leads to.
func Next(stage domain.CaseStage) domain.CaseStage {
	if next, ok := ladder[stage]; ok {
		return next
	}
	return stage
}

// Promote advances the case by exactly one stage. At Approved it is a no-op and
// changed is false. A Rejected case is re-submitted to Draft.
func Promote(c domain.BusinessCase) (out domain.BusinessCase, changed bool, err error) {
	switch c.Stage {
	case domain.CaseApproved:
		return c, false, nil
	case domain.CaseRejected:
		return Resubmit(c)
	}
	if !c.Stage.Valid() {
		return c, false, apperr.Invalid("unknown case stage %q", c.Stage)
	}
	if missing := Missing(c); len(missing) > 0 {
		return c, false, &apperr.IncompleteCaseError{CaseID: c.ID, Missing: missing}
	}
	c.Stage = Next(c.Stage)
	return c, true, nil
}

// Reject records an external rejection. Terminal cases cannot be rejected.
func Reject(c domain.BusinessCase) (domain.BusinessCase, error) {
	if c.Stage.Terminal() {
		return c, apperr.Guard(string(c.Stage), string(domain.CaseRejected),
			"case is already "+string(c.Stage), "re-submit a rejected case to Draft before deciding again")
	}
	c.Stage = domain.CaseRejected
	return c, nil
}

// Resubmit re-opens a rejected case in Draft.
func Resubmit(c domain.BusinessCase) (domain.BusinessCase, bool, error) {
	if c.Stage != domain.CaseRejected {
		return c, false, apperr.Guard(string(c.Stage), string(domain.CaseDraft),
			"only rejected cases can be re-submitted", "promote the case instead")
	}
	c.Stage = domain.CaseDraft
	return c, true, nil
}
