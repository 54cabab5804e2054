package domain

import (
	"fmt"

	"capexline/internal/apperr"
)

type ProjectType string

const (
	TypeExpansion      ProjectType = "Expansion"
	TypeModernization  ProjectType = "Modernization"
	TypeTransformation ProjectType = "Transformation"
	TypeCompliance     ProjectType = "Compliance"
	TypeContinuity     ProjectType = "Continuity"
)

var ProjectTypes = []ProjectType{TypeExpansion, TypeModernization, TypeTransformation, TypeCompliance, TypeContinuity}

func (t ProjectType) Valid() bool { return contains(ProjectTypes, t) }

// Category is the strategic classification of a macro-project. The zero value means unset.
type Category string

const (
	CategoryUnset            Category = ""
	CategoryObligatory       Category = "Obligatory"
	CategoryMaintenance      Category = "Maintenance"
	CategoryEBITDAProtection Category = "EBITDA-Protection"
	CategoryEBITDAGrowth     Category = "EBITDA-Growth"
	CategoryAdjacentBusiness Category = "Adjacent-Business"
)

var Categories = []Category{CategoryObligatory, CategoryMaintenance, CategoryEBITDAProtection, CategoryEBITDAGrowth, CategoryAdjacentBusiness}

func (c Category) Valid() bool { return c == CategoryUnset || contains(Categories, c) }
func (c Category) IsSet() bool { return c != CategoryUnset }

type EvidenceType string

const (
	EvidenceNone       EvidenceType = ""
	EvidenceRegulatory EvidenceType = "RegulatoryEvidence"
	EvidenceRiskMatrix EvidenceType = "RiskMatrix"
	EvidenceBusiness   EvidenceType = "BusinessCase"
)

var EvidenceTypes = []EvidenceType{EvidenceRegulatory, EvidenceRiskMatrix, EvidenceBusiness}

func (e EvidenceType) Valid() bool { return contains(EvidenceTypes, e) }

// PlanningStage is a position on the planning track.
type PlanningStage string

const (
	StageIdentification PlanningStage = "Identification"
	StageClassification PlanningStage = "Classification"
	StageSupport        PlanningStage = "Support"
	StageValidation     PlanningStage = "Validation"
	StagePressureTest   PlanningStage = "PressureTest"
	StageConsolidation  PlanningStage = "Consolidation"
)

var PlanningStages = []PlanningStage{StageIdentification, StageClassification, StageSupport, StageValidation, StagePressureTest, StageConsolidation}

func (s PlanningStage) Valid() bool { return contains(PlanningStages, s) }

// Next returns the following stage. Consolidation is terminal and returns itself.
func (s PlanningStage) Next() PlanningStage {
	for i, st := range PlanningStages {
		if st == s && i+1 < len(PlanningStages) {
			return PlanningStages[i+1]
		}
	}
	return s
}

// FollowUpStage is a position on the execution follow-up track. Empty until Consolidation.
type FollowUpStage string

const (
	FollowUpNone        FollowUpStage = ""
	FollowUpPlan        FollowUpStage = "Plan"
	FollowUpValidation  FollowUpStage = "Validation"
	FollowUpRelease     FollowUpStage = "Release"
	FollowUpTracking    FollowUpStage = "Tracking"
	FollowUpAdjustments FollowUpStage = "Adjustments"
)

var FollowUpStages = []FollowUpStage{FollowUpPlan, FollowUpValidation, FollowUpRelease, FollowUpTracking, FollowUpAdjustments}

func (s FollowUpStage) Valid() bool { return contains(FollowUpStages, s) }

func (s FollowUpStage) Next() FollowUpStage {
	for i, st := range FollowUpStages {
		if st == s && i+1 < len(FollowUpStages) {
			return FollowUpStages[i+1]
		}
	}
	return s
}

// CaseStage is a position on the business-case promotion ladder.
type CaseStage string

const (
	CaseDraft               CaseStage = "Draft"
	CaseTechnicalReview     CaseStage = "TechnicalReview"
	CaseFinancialEvaluation CaseStage = "FinancialEvaluation"
	CaseSteeringCommittee   CaseStage = "SteeringCommittee"
	CaseApproved            CaseStage = "Approved"
	CaseRejected            CaseStage = "Rejected"
)

var CaseStages = []CaseStage{CaseDraft, CaseTechnicalReview, CaseFinancialEvaluation, CaseSteeringCommittee, CaseApproved, CaseRejected}

func (s CaseStage) Valid() bool    { return contains(CaseStages, s) }
func (s CaseStage) Terminal() bool { return s == CaseApproved || s == CaseRejected }

type Severity string

const (
	SeverityNoObservations Severity = "NoObservations"
	SeverityWarnings       Severity = "Warnings"
	SeverityCriticalErrors Severity = "CriticalErrors"
)

var Severities = []Severity{SeverityNoObservations, SeverityWarnings, SeverityCriticalErrors}

func (s Severity) Valid() bool { return contains(Severities, s) }

// Verdict is a committee decision.
type Verdict string

const (
	VerdictApprove Verdict = "Approve"
	VerdictModify  Verdict = "Modify"
	VerdictReject  Verdict = "Reject"
)

var Verdicts = []Verdict{VerdictApprove, VerdictModify, VerdictReject}

func (v Verdict) Valid() bool { return contains(Verdicts, v) }

// ReviewItem is one line of the pressure-test reviewer checklist.
type ReviewItem string

const (
	ReviewSupportFiles   ReviewItem = "support_files"
	ReviewValueAtRisk    ReviewItem = "value_at_risk"
	ReviewMethodology    ReviewItem = "methodology"
	ReviewNPVAssumptions ReviewItem = "npv_assumptions"
	ReviewContracts      ReviewItem = "contracts"
)

var ReviewItems = []ReviewItem{ReviewSupportFiles, ReviewValueAtRisk, ReviewMethodology, ReviewNPVAssumptions, ReviewContracts}

func (r ReviewItem) Valid() bool { return contains(ReviewItems, r) }

// ModifyOption is a change the committee asks for along with a Modify verdict.
type ModifyOption string

const (
	ModifyReduceScope  ModifyOption = "reduce_scope"
	ModifyReduceBudget ModifyOption = "reduce_budget"
	ModifyReduceUnits  ModifyOption = "reduce_units"
)

var ModifyOptions = []ModifyOption{ModifyReduceScope, ModifyReduceBudget, ModifyReduceUnits}

func (o ModifyOption) Valid() bool { return contains(ModifyOptions, o) }

type Level string

const (
	LevelHigh   Level = "High"
	LevelMedium Level = "Medium"
	LevelLow    Level = "Low"
)

var Levels = []Level{LevelHigh, LevelMedium, LevelLow}

func (l Level) Valid() bool { return l == "" || contains(Levels, l) }

// TechDecision is the technology-watch recommendation for a trend.
type TechDecision string

const (
	TechAct     TechDecision = "Act"
	TechMonitor TechDecision = "Monitor"
	TechDiscard TechDecision = "Discard"
)

var TechDecisions = []TechDecision{TechAct, TechMonitor, TechDiscard}

func (d TechDecision) Valid() bool { return d == "" || contains(TechDecisions, d) }

type InsightKind string

const (
	InsightSuccess InsightKind = "success"
	InsightWarning InsightKind = "warning"
	InsightInfo    InsightKind = "info"
)

var InsightKinds = []InsightKind{InsightSuccess, InsightWarning, InsightInfo}

func (k InsightKind) Valid() bool { return contains(InsightKinds, k) }

type Role string

const (
	RoleAdmin    Role = "ADMIN"
	RoleDirector Role = "DIR"
	RoleManager  Role = "RESP"
	RoleAuditor  Role = "AUDIT"
)

var Roles = []Role{RoleAdmin, RoleDirector, RoleManager, RoleAuditor}

func (r Role) Valid() bool { return contains(Roles, r) }

type UserStatus string

const (
	UserActive   UserStatus = "ACTIVE"
	UserInactive UserStatus = "INACTIVE"
)

func (s UserStatus) Valid() bool { return s == UserActive || s == UserInactive }

// Parse converts raw input into one of the closed enum types above.
func Parse[T ~string](kind, raw string, valid func(T) bool) (T, error) {
	v := T(raw)
	if !valid(v) {
		return v, fmt.Errorf("%w: unknown %s %q", apperr.ErrInvalidInput, kind, raw)
	}
	return v, nil
}

func contains[T comparable](set []T, v T) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
