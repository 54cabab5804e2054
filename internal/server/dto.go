package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/shopspring/decimal"

	"capexline/internal/domain"
	"capexline/internal/engine"
	"capexline/internal/engine/auth"
	"capexline/internal/engine/distribution"
	"capexline/internal/engine/validation"
	"capexline/internal/money"
	"capexline/internal/registry"
)

// Amounts travel as decimal strings so no precision is lost in JSON numbers.

type LoginRequest struct {
	Email    string `json:"email" example:"ana@example.com"`
	Password string `json:"password"`
}

type PrincipalResponse struct {
	UserID      string   `json:"user_id"`
	Email       string   `json:"email,omitempty"`
	Name        string   `json:"name,omitempty"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
}

type LoginResponse struct {
	Token     string            `json:"token"`
	ExpiresAt string            `json:"expires_at"`
	User      PrincipalResponse `json:"user"`
}

type CreateProjectRequest struct {
	Code           string `json:"code" example:"PRJ001"`
	Name           string `json:"name,omitempty"`
	MacroKey       string `json:"macro_key" example:"CORE-NET"`
	Type           string `json:"type,omitempty" enum:"Expansion,Modernization,Transformation,Compliance,Continuity"`
	LocalAmount    string `json:"local_amount,omitempty" example:"3124563230"`
	Director       string `json:"director,omitempty"`
	Manager        string `json:"manager,omitempty"`
	Metric         string `json:"metric,omitempty"`
	TargetQuantity int64  `json:"target_quantity,omitempty"`
	Justification  string `json:"justification,omitempty"`
	Investment     string `json:"investment,omitempty" example:"120000000"`
	NPV            string `json:"npv,omitempty" example:"80000000"`
}

type UpdateProjectRequest struct {
	Name           *string `json:"name,omitempty"`
	MacroKey       *string `json:"macro_key,omitempty"`
	Type           *string `json:"type,omitempty"`
	LocalAmount    *string `json:"local_amount,omitempty"`
	Director       *string `json:"director,omitempty"`
	Manager        *string `json:"manager,omitempty"`
	Metric         *string `json:"metric,omitempty"`
	TargetQuantity *int64  `json:"target_quantity,omitempty"`
	Justification  *string `json:"justification,omitempty"`
	Investment     *string `json:"investment,omitempty"`
	NPV            *string `json:"npv,omitempty"`
}

type ProjectResponse struct {
	Code             string `json:"code"`
	Name             string `json:"name"`
	MacroKey         string `json:"macro_key"`
	Type             string `json:"type"`
	LocalAmount      string `json:"local_amount"`
	ReferenceAmount  string `json:"reference_amount"`
	Director         string `json:"director"`
	Manager          string `json:"manager"`
	Metric           string `json:"metric,omitempty"`
	TargetQuantity   int64  `json:"target_quantity,omitempty"`
	Justification    string `json:"justification,omitempty"`
	Investment       string `json:"investment"`
	NPV              string `json:"npv"`
	Stage            string `json:"stage"`
	FollowUp         string `json:"follow_up,omitempty"`
	Category         string `json:"category,omitempty"`
	Owner            string `json:"owner,omitempty"`
	RequiredEvidence string `json:"required_evidence,omitempty"`
	Methodology      string `json:"methodology,omitempty"`
	Severity         string `json:"severity,omitempty"`
	CreatedAt        string `json:"created_at"`
	UpdatedAt        string `json:"updated_at"`
}

type ProjectDetailResponse struct {
	ProjectResponse
	Evidence   []domain.Evidence   `json:"evidence"`
	Decisions  []domain.Decision   `json:"decisions"`
	Reviews    []domain.Review     `json:"reviews"`
	Evaluation *EvaluationResponse `json:"evaluation,omitempty"`
	Plan       *PlanResponse       `json:"plan,omitempty"`
}

type RuleResponse struct {
	Name          string `json:"name"`
	Passed        bool   `json:"passed"`
	Informational bool   `json:"informational,omitempty"`
}

type EvaluationResponse struct {
	Investment string         `json:"investment"`
	NPV        string         `json:"npv"`
	Ratio      string         `json:"ratio" example:"0.667"`
	Severity   string         `json:"severity"`
	Rules      []RuleResponse `json:"rules"`
	Failed     []string       `json:"failed"`
}

type PlanRequest struct {
	Months           []string `json:"months" minItems:"12" maxItems:"12"`
	DirectorApproved bool     `json:"director_approved,omitempty"`
}

type PlanResponse struct {
	Months   []string `json:"months"`
	State    string   `json:"state"`
	Approved string   `json:"approved"`
	Planned  string   `json:"planned"`
	Delta    string   `json:"delta"`
}

type ClassifyRequest struct {
	Category string `json:"category" enum:"Obligatory,Maintenance,EBITDA-Protection,EBITDA-Growth,Adjacent-Business"`
	Owner    string `json:"owner,omitempty"`
}

type ClassificationResponse struct {
	MacroKey         string `json:"macro_key"`
	Category         string `json:"category,omitempty"`
	Owner            string `json:"owner,omitempty"`
	RequiredEvidence string `json:"required_evidence,omitempty"`
	UpdatedAt        string `json:"updated_at,omitempty"`
}

type TotalResponse struct {
	MacroKey   string `json:"macro_key"`
	Count      int    `json:"count"`
	LocalTotal string `json:"local_total"`
}

type EvidenceRequest struct {
	Type      string `json:"type" enum:"RegulatoryEvidence,RiskMatrix,BusinessCase"`
	Reference string `json:"reference"`
}

type DecisionRequest struct {
	Verdict       string   `json:"verdict" enum:"Approve,Modify,Reject"`
	Comments      string   `json:"comments,omitempty"`
	ModifyOptions []string `json:"modify_options,omitempty" doc:"With Modify only: reduce_scope, reduce_budget, reduce_units"`
}

type ReviewRequest struct {
	Item string `json:"item" enum:"support_files,value_at_risk,methodology,npv_assumptions,contracts"`
	Note string `json:"note,omitempty"`
}

// CaseRequest is the editable content of a business case. Drafts may leave anything empty.
type CaseRequest struct {
	Name                   string `json:"name,omitempty"`
	Description            string `json:"description,omitempty"`
	Quarter                string `json:"quarter,omitempty" example:"2025-Q1"`
	Category               string `json:"category,omitempty"`
	Impact                 string `json:"impact,omitempty"`
	Decision               string `json:"decision,omitempty"`
	Leader                 string `json:"leader,omitempty"`
	Categorization         string `json:"categorization,omitempty"`
	Probability            string `json:"probability,omitempty"`
	ContextTrigger         string `json:"context_trigger,omitempty"`
	Roadmap                string `json:"roadmap,omitempty"`
	CriticalConsiderations string `json:"critical_considerations,omitempty"`
	KPIs                   string `json:"kpis,omitempty"`
	Vendors                string `json:"vendors,omitempty"`
	TechnicalDetails       string `json:"technical_details,omitempty"`
	QuantifiableImpact     string `json:"quantifiable_impact,omitempty"`
	StrategicImpact        string `json:"strategic_impact,omitempty"`
	InternalSupport        string `json:"internal_support,omitempty"`
	ExternalSupport        string `json:"external_support,omitempty"`
}

type RejectCaseRequest struct {
	Reason string `json:"reason,omitempty"`
}

type UserRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password" minLength:"8"`
	Role     string `json:"role" enum:"ADMIN,DIR,RESP,AUDIT"`
	Area     string `json:"area,omitempty"`
}

type UserPatchRequest struct {
	Name     *string `json:"name,omitempty"`
	Password *string `json:"password,omitempty"`
	Role     *string `json:"role,omitempty"`
	Area     *string `json:"area,omitempty"`
	Status   *string `json:"status,omitempty"`
}

type ParametersRequest struct {
	Theme        *string `json:"theme,omitempty"`
	ExchangeRate *string `json:"exchange_rate,omitempty"`
	VATRate      *string `json:"vat_rate,omitempty"`
}

type ParametersResponse struct {
	Theme             string `json:"theme"`
	ExchangeRate      string `json:"exchange_rate"`
	VATRate           string `json:"vat_rate"`
	LocalCurrency     string `json:"local_currency"`
	ReferenceCurrency string `json:"reference_currency"`
}

type BudgetRequest struct {
	TotalIncome   string `json:"total_income"`
	FixedCosts    string `json:"fixed_costs"`
	SavingsTarget string `json:"savings_target"`
	Currency      string `json:"currency,omitempty"`
}

type ExpenseRequest struct {
	Date        string `json:"date"`
	Category    string `json:"category"`
	Amount      string `json:"amount"`
	Description string `json:"description,omitempty"`
}

type AuditRequest struct {
	Budget   BudgetRequest    `json:"budget"`
	Expenses []ExpenseRequest `json:"expenses"`
}

type AuditResponse struct {
	Insights []domain.AIInsight `json:"insights"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	CycleID    string         `json:"cycle_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload,omitempty"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

func principalResponse(p auth.Principal) PrincipalResponse {
	return PrincipalResponse{
		UserID:      p.UserID,
		Email:       p.Email,
		Name:        p.Name,
		Role:        string(p.Role),
		Permissions: nonNilSlice(p.Permissions),
	}
}

func projectResponse(v engine.ProjectView) ProjectResponse {
	return ProjectResponse{
		Code:             v.Code,
		Name:             v.Name,
		MacroKey:         v.MacroKey,
		Type:             string(v.Type),
		LocalAmount:      v.LocalAmount.String(),
		ReferenceAmount:  v.ReferenceAmount.StringFixed(money.ReferencePlaces),
		Director:         v.Director,
		Manager:          v.Manager,
		Metric:           v.Metric,
		TargetQuantity:   v.TargetQuantity,
		Justification:    v.Justification,
		Investment:       v.Investment.String(),
		NPV:              v.NPV.String(),
		Stage:            string(v.Stage),
		FollowUp:         string(v.FollowUp),
		Category:         string(v.Category),
		Owner:            v.Owner,
		RequiredEvidence: string(v.RequiredEvidence),
		Methodology:      v.Methodology,
		Severity:         string(v.Severity),
		CreatedAt:        v.CreatedAt,
		UpdatedAt:        v.UpdatedAt,
	}
}

func recordResponse(e *engine.Engine, rec domain.ProjectRecord) ProjectResponse {
	for _, v := range e.ListProjects(engine.ProjectFilter{MacroKey: rec.MacroKey}) {
		if v.Code == rec.Code {
			return projectResponse(v)
		}
	}
	return projectResponse(engine.ProjectView{ProjectRecord: rec})
}

func detailResponse(d engine.ProjectDetail) ProjectDetailResponse {
	resp := ProjectDetailResponse{
		ProjectResponse: projectResponse(d.ProjectView),
		Evidence:        nonNilSlice(d.Evidence),
		Decisions:       nonNilSlice(d.Decisions),
		Reviews:         nonNilSlice(d.Reviews),
	}
	if d.Evaluation != nil {
		ev := evaluationResponse(*d.Evaluation)
		resp.Evaluation = &ev
	}
	if d.Plan != nil && d.Distribution != nil {
		p := planResponse(*d.Plan, *d.Distribution)
		resp.Plan = &p
	}
	return resp
}

func evaluationResponse(r validation.Result) EvaluationResponse {
	rules := make([]RuleResponse, 0, len(r.Rules))
	for _, rule := range r.Rules {
		rules = append(rules, RuleResponse{Name: rule.Name, Passed: rule.Passed, Informational: rule.Informational})
	}
	return EvaluationResponse{
		Investment: r.Investment.String(),
		NPV:        r.NPV.String(),
		Ratio:      r.RatioDisplay(),
		Severity:   string(r.Severity),
		Rules:      rules,
		Failed:     nonNilSlice(r.Failed()),
	}
}

func planResponse(plan domain.MonthlyPlan, st distribution.Status) PlanResponse {
	months := make([]string, len(plan))
	for i, v := range plan {
		months[i] = v.String()
	}
	return PlanResponse{
		Months:   months,
		State:    string(st.State),
		Approved: st.Approved.String(),
		Planned:  st.Planned.String(),
		Delta:    st.Delta.String(),
	}
}

func classificationResponse(c domain.MacroClassification, required domain.EvidenceType) ClassificationResponse {
	return ClassificationResponse{
		MacroKey:         c.MacroKey,
		Category:         string(c.Category),
		Owner:            c.Owner,
		RequiredEvidence: string(required),
		UpdatedAt:        c.UpdatedAt,
	}
}

func totalsResponse(totals []registry.MacroTotal) []TotalResponse {
	res := make([]TotalResponse, 0, len(totals))
	for _, t := range totals {
		res = append(res, TotalResponse{MacroKey: t.MacroKey, Count: t.Count, LocalTotal: t.Local.String()})
	}
	return res
}

func eventResponse(e domain.Event) EventResponse {
	resp := EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		CycleID:    e.CycleID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
	}
	if e.Payload != "" {
		var payload map[string]any
		if err := json.Unmarshal([]byte(e.Payload), &payload); err == nil {
			resp.Payload = payload
		}
	}
	return resp
}

func (r CreateProjectRequest) record() (domain.ProjectRecord, error) {
	rec := domain.ProjectRecord{
		Code:           r.Code,
		Name:           r.Name,
		MacroKey:       r.MacroKey,
		Type:           domain.ProjectType(r.Type),
		Director:       r.Director,
		Manager:        r.Manager,
		Metric:         r.Metric,
		TargetQuantity: r.TargetQuantity,
		Justification:  r.Justification,
	}
	var err error
	if rec.LocalAmount, err = optionalAmount("local_amount", r.LocalAmount, money.Parse); err != nil {
		return rec, err
	}
	if rec.Investment, err = optionalAmount("investment", r.Investment, money.Parse); err != nil {
		return rec, err
	}
	if rec.NPV, err = optionalAmount("npv", r.NPV, money.ParseSigned); err != nil {
		return rec, err
	}
	return rec, nil
}

func (r UpdateProjectRequest) patch() (registry.Patch, error) {
	p := registry.Patch{
		Name:           r.Name,
		MacroKey:       r.MacroKey,
		Director:       r.Director,
		Manager:        r.Manager,
		Metric:         r.Metric,
		TargetQuantity: r.TargetQuantity,
		Justification:  r.Justification,
	}
	if r.Type != nil {
		t := domain.ProjectType(*r.Type)
		p.Type = &t
	}
	for _, f := range []struct {
		name  string
		raw   *string
		dst   **decimal.Decimal
		parse func(string) (decimal.Decimal, error)
	}{
		{"local_amount", r.LocalAmount, &p.LocalAmount, money.Parse},
		{"investment", r.Investment, &p.Investment, money.Parse},
		{"npv", r.NPV, &p.NPV, money.ParseSigned},
	} {
		if f.raw == nil {
			continue
		}
		v, err := f.parse(*f.raw)
		if err != nil {
			return p, fmt.Errorf("%s: %w", f.name, err)
		}
		*f.dst = &v
	}
	return p, nil
}

func (r PlanRequest) plan() (domain.MonthlyPlan, error) {
	var plan domain.MonthlyPlan
	if len(r.Months) != len(plan) {
		return plan, newAPIError(http.StatusBadRequest, "bad_request", "months must hold 12 amounts", map[string]any{"got": len(r.Months)})
	}
	for i, raw := range r.Months {
		v, err := money.Parse(raw)
		if err != nil {
			return plan, fmt.Errorf("%s: %w", domain.Months[i], err)
		}
		plan[i] = v
	}
	return plan, nil
}

func (r CaseRequest) businessCase() domain.BusinessCase {
	return domain.BusinessCase{
		Name:           r.Name,
		Description:    r.Description,
		Quarter:        r.Quarter,
		Category:       r.Category,
		Impact:         domain.Level(r.Impact),
		Decision:       domain.TechDecision(r.Decision),
		Leader:         r.Leader,
		Categorization: r.Categorization,
		Probability:    domain.Level(r.Probability),
		ContextTrigger: r.ContextTrigger,
		Recommendation: domain.StrategicRecommendation{
			Roadmap:                r.Roadmap,
			CriticalConsiderations: r.CriticalConsiderations,
			KPIs:                   r.KPIs,
			Vendors:                r.Vendors,
			TechnicalDetails:       r.TechnicalDetails,
		},
		Impacts: domain.BusinessImpact{Quantifiable: r.QuantifiableImpact, Strategic: r.StrategicImpact},
		Support: domain.SupportData{Internal: r.InternalSupport, External: r.ExternalSupport},
	}
}

func (r AuditRequest) snapshot() (domain.Budget, []domain.Expense, error) {
	var b domain.Budget
	var err error
	if b.TotalIncome, err = optionalAmount("total_income", r.Budget.TotalIncome, money.Parse); err != nil {
		return b, nil, err
	}
	if b.FixedCosts, err = optionalAmount("fixed_costs", r.Budget.FixedCosts, money.Parse); err != nil {
		return b, nil, err
	}
	if b.SavingsTarget, err = optionalAmount("savings_target", r.Budget.SavingsTarget, money.Parse); err != nil {
		return b, nil, err
	}
	b.Currency = r.Budget.Currency
	expenses := make([]domain.Expense, 0, len(r.Expenses))
	for i, ex := range r.Expenses {
		amount, err := money.Parse(ex.Amount)
		if err != nil {
			return b, nil, fmt.Errorf("expenses[%d].amount: %w", i, err)
		}
		expenses = append(expenses, domain.Expense{Date: ex.Date, Category: ex.Category, Amount: amount, Description: ex.Description})
	}
	return b, expenses, nil
}

func optionalAmount(field, raw string, parse func(string) (decimal.Decimal, error)) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	v, err := parse(raw)
	if err != nil {
		return v, fmt.Errorf("%s: %w", field, err)
	}
	return v, nil
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}

var _ huma.StatusError = (*apiError)(nil)
