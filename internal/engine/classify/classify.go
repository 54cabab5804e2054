// Package classify maps macro-project categories to the evidence the Support stage demands.
package classify

import (
	"strings"

	"capexline/internal/domain"
)

var requiredEvidence = map[domain.Category]domain.EvidenceType{
	domain.CategoryObligatory:       domain.EvidenceRegulatory,
	domain.CategoryMaintenance:      domain.EvidenceRiskMatrix,
	domain.CategoryEBITDAProtection: domain.EvidenceBusiness,
	domain.CategoryEBITDAGrowth:     domain.EvidenceBusiness,
	domain.CategoryAdjacentBusiness: domain.EvidenceBusiness,
}

var methodology = map[domain.EvidenceType]string{
	domain.EvidenceRegulatory: "regulatory validation",
	domain.EvidenceRiskMatrix: "service continuity risk matrix",
	domain.EvidenceBusiness:   "business case",
}

// RequiredEvidenceType returns the evidence a category demands. Unset yields EvidenceNone.
func RequiredEvidenceType(c domain.Category) domain.EvidenceType {
	return requiredEvidence[c]
}

// Methodology names the review approach applied to a category.
func Methodology(c domain.Category) string {
	return methodology[RequiredEvidenceType(c)]
}

// CanEnterSupport is true only when the category is set and an owner is named.
func CanEnterSupport(c domain.MacroClassification) bool {
	return c.Category.IsSet() && strings.TrimSpace(c.Owner) != ""
}

// Missing lists what keeps a classification from entering Support.
func Missing(c domain.MacroClassification) []string {
	var missing []string
	if !c.Category.IsSet() {
		missing = append(missing, "category")
	}
	if strings.TrimSpace(c.Owner) == "" {
		missing = append(missing, "owner")
	}
	return missing
}
