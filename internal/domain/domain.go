package domain

import (
	"github.com/shopspring/decimal"
)

// ProjectRecord is one capital-expenditure line item.
type ProjectRecord struct {
	Code            string          `json:"code"`
	Name            string          `json:"name"`
	MacroKey        string          `json:"macro_key"`
	Type            ProjectType     `json:"type"`
	LocalAmount     decimal.Decimal `json:"local_amount"`
	ReferenceAmount decimal.Decimal `json:"reference_amount"`
	Director        string          `json:"director"`
	Manager         string          `json:"manager"`
	Metric          string          `json:"metric,omitempty"`
	TargetQuantity  int64           `json:"target_quantity,omitempty"`
	Justification   string          `json:"justification,omitempty"`
	Investment      decimal.Decimal `json:"investment"`
	NPV             decimal.Decimal `json:"npv"`
	Stage           PlanningStage   `json:"stage"`
	FollowUp        FollowUpStage   `json:"follow_up,omitempty"`
	CreatedAt       string          `json:"created_at"`
	UpdatedAt       string          `json:"updated_at"`
}

// MacroClassification is the category and accountable owner of a macro-project key.
type MacroClassification struct {
	MacroKey  string   `json:"macro_key"`
	Category  Category `json:"category"`
	Owner     string   `json:"owner"`
	UpdatedAt string   `json:"updated_at,omitempty"`
}

type Evidence struct {
	ID          string       `json:"id"`
	ProjectCode string       `json:"project_code"`
	Type        EvidenceType `json:"type"`
	Reference   string       `json:"reference"`
	ActorID     string       `json:"actor_id"`
	CreatedAt   string       `json:"created_at"`
}

// Decision is a committee verdict captured in Validation or PressureTest.
// ModifyOptions is only set with a Modify verdict. A superseded decision predates
// a change of the investment or NPV and no longer counts for the stage guards.
type Decision struct {
	ID            string         `json:"id"`
	ProjectCode   string         `json:"project_code"`
	Stage         PlanningStage  `json:"stage"`
	Verdict       Verdict        `json:"verdict"`
	Comments      string         `json:"comments,omitempty"`
	Severity      Severity       `json:"severity"`
	ModifyOptions []ModifyOption `json:"modify_options,omitempty"`
	Superseded    bool           `json:"superseded,omitempty"`
	ActorID       string         `json:"actor_id"`
	CreatedAt     string         `json:"created_at"`
}

// Review is a reviewer's attestation of one checklist item during PressureTest.
type Review struct {
	ProjectCode string     `json:"project_code"`
	Item        ReviewItem `json:"item"`
	Note        string     `json:"note,omitempty"`
	ActorID     string     `json:"actor_id"`
	CreatedAt   string     `json:"created_at"`
}

var Months = [12]string{"JAN", "FEB", "MAR", "APR", "MAY", "JUN", "JUL", "AUG", "SEP", "OCT", "NOV", "DEC"}

// MonthlyPlan distributes an approved amount over the twelve months of the cycle.
type MonthlyPlan [12]decimal.Decimal

func (p MonthlyPlan) Sum() decimal.Decimal {
	sum := decimal.Zero
	for _, v := range p {
		sum = sum.Add(v)
	}
	return sum
}

// Empty reports whether no month carries an amount.
func (p MonthlyPlan) Empty() bool {
	for _, v := range p {
		if !v.IsZero() {
			return false
		}
	}
	return true
}

type StrategicRecommendation struct {
	Roadmap                string `json:"roadmap"`
	CriticalConsiderations string `json:"critical_considerations,omitempty"`
	KPIs                   string `json:"kpis,omitempty"`
	Vendors                string `json:"vendors,omitempty"`
	TechnicalDetails       string `json:"technical_details"`
}

type BusinessImpact struct {
	Quantifiable string `json:"quantifiable"`
	Strategic    string `json:"strategic"`
}

type SupportData struct {
	Internal string `json:"internal"`
	External string `json:"external,omitempty"`
}

// BusinessCase is a technology-trend case promoted through the approval ladder.
type BusinessCase struct {
	ID             string                  `json:"id"`
	Name           string                  `json:"name"`
	Description    string                  `json:"description,omitempty"`
	Quarter        string                  `json:"quarter,omitempty"`
	Category       string                  `json:"category,omitempty"`
	Impact         Level                   `json:"impact,omitempty"`
	Decision       TechDecision            `json:"decision,omitempty"`
	Leader         string                  `json:"leader"`
	Categorization string                  `json:"categorization"`
	Probability    Level                   `json:"probability"`
	ContextTrigger string                  `json:"context_trigger"`
	Recommendation StrategicRecommendation `json:"recommendation"`
	Impacts        BusinessImpact          `json:"impacts"`
	Support        SupportData             `json:"support"`
	Stage          CaseStage               `json:"stage"`
	CreatedAt      string                  `json:"created_at"`
	UpdatedAt      string                  `json:"updated_at"`
}

type User struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	Role         Role       `json:"role"`
	Area         string     `json:"area,omitempty"`
	Status       UserStatus `json:"status"`
	CreatedAt    string     `json:"created_at"`
}

// Budget is the snapshot handed to the insight auditor.
type Budget struct {
	TotalIncome   decimal.Decimal `json:"total_income"`
	FixedCosts    decimal.Decimal `json:"fixed_costs"`
	SavingsTarget decimal.Decimal `json:"savings_target"`
	Currency      string          `json:"currency"`
}

type Expense struct {
	Date        string          `json:"date"`
	Category    string          `json:"category"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description,omitempty"`
}

type AIInsight struct {
	Title   string      `json:"title"`
	Message string      `json:"message"`
	Kind    InsightKind `json:"type"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	CycleID    string `json:"cycle_id"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload"`
}
