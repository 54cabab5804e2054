package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"capexline/internal/domain"
	"capexline/internal/engine"
	"capexline/internal/engine/classify"
)

const (
	permRead            = "portfolio.read"
	permPlanningEdit    = "planning.edit"
	permPlanningApprove = "planning.approve"
	permCasesEdit       = "cases.edit"
	permCasesApprove    = "cases.approve"
	permUsersManage     = "users.manage"
	permParametersEdit  = "parameters.edit"
	permInsightRun      = "insight.run"
	permEventsRead      = "events.read"
)

var mutationErrors = []int{
	http.StatusBadRequest,
	http.StatusUnauthorized,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusUnprocessableEntity,
	http.StatusInternalServerError,
}

type projectPath struct {
	Code string `path:"code"`
}

func registerProjects(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Register a project record in Identification",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateProjectRequest `json:"body"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		p, authErr := requirePermission(ctx, permPlanningEdit)
		if authErr != nil {
			return nil, authErr
		}
		rec, err := input.Body.record()
		if err != nil {
			return nil, handleError(err)
		}
		out, err := e.AddProject(ctx, rec, p.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: recordResponse(e, out)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List project records in insertion order",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Type        string `query:"type"`
		MacroKey    string `query:"macro_key"`
		Methodology string `query:"methodology" doc:"Review methodology or its evidence type"`
		Severity    string `query:"severity" enum:"NoObservations,Warnings,CriticalErrors"`
		Search      string `query:"q"`
	}) (*struct {
		Body []ProjectResponse `json:"body"`
	}, error) {
		if _, authErr := requirePermission(ctx, permRead); authErr != nil {
			return nil, authErr
		}
		views := e.ListProjects(engine.ProjectFilter{
			Type:        domain.ProjectType(input.Type),
			MacroKey:    input.MacroKey,
			Methodology: input.Methodology,
			Severity:    domain.Severity(input.Severity),
			Search:      input.Search,
		})
		res := make([]ProjectResponse, 0, len(views))
		for _, v := range views {
			res = append(res, projectResponse(v))
		}
		return &struct {
			Body []ProjectResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{code}",
		Summary:     "Get a project record with evidence, decisions and plan",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*struct {
		Body ProjectDetailResponse `json:"body"`
	}, error) {
		if _, authErr := requirePermission(ctx, permRead); authErr != nil {
			return nil, authErr
		}
		d, err := e.GetProject(ctx, input.Code)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectDetailResponse `json:"body"`
		}{Body: detailResponse(d)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-project",
		Method:      http.MethodPatch,
		Path:        "/projects/{code}",
		Summary:     "Update fields of a project record",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		Code string               `path:"code"`
		Body UpdateProjectRequest `json:"body"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		p, authErr := requirePermission(ctx, permPlanningEdit)
		if authErr != nil {
			return nil, authErr
		}
		patch, err := input.Body.patch()
		if err != nil {
			return nil, handleError(err)
		}
		out, err := e.UpdateProject(ctx, input.Code, patch, p.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: recordResponse(e, out)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-project",
		Method:        http.MethodDelete,
		Path:          "/projects/{code}",
		Summary:       "Remove a project record (requires confirm=true)",
		DefaultStatus: http.StatusNoContent,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Code    string `path:"code"`
		Confirm bool   `query:"confirm"`
	}) (*struct{}, error) {
		p, authErr := requirePermission(ctx, permPlanningEdit)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.RemoveProject(ctx, input.Code, input.Confirm, p.UserID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "project-totals",
		Method:      http.MethodGet,
		Path:        "/totals",
		Summary:     "Local-currency totals per macro-project",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []TotalResponse `json:"body"`
	}, error) {
		if _, authErr := requirePermission(ctx, permRead); authErr != nil {
			return nil, authErr
		}
		return &struct {
			Body []TotalResponse `json:"body"`
		}{Body: totalsResponse(e.Totals())}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-classifications",
		Method:      http.MethodGet,
		Path:        "/classifications",
		Summary:     "List macro-project classifications",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []ClassificationResponse `json:"body"`
	}, error) {
		if _, authErr := requirePermission(ctx, permRead); authErr != nil {
			return nil, authErr
		}
		classes := e.Classifications()
		res := make([]ClassificationResponse, 0, len(classes))
		for _, c := range classes {
			res = append(res, classificationResponse(c, classify.RequiredEvidenceType(c.Category)))
		}
		return &struct {
			Body []ClassificationResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "classify-macro",
		Method:      http.MethodPut,
		Path:        "/classifications/{macro_key}",
		Summary:     "Set the category and owner of a macro-project",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		MacroKey string          `path:"macro_key"`
		Body     ClassifyRequest `json:"body"`
	}) (*struct {
		Body ClassificationResponse `json:"body"`
	}, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		p, authErr := requirePermission(ctx, permPlanningEdit)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.Classify(ctx, input.MacroKey, domain.Category(input.Body.Category), input.Body.Owner, p.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ClassificationResponse `json:"body"`
		}{Body: classificationResponse(c, classify.RequiredEvidenceType(c.Category))}, nil
	})
}

func registerWorkflow(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "attach-evidence",
		Method:        http.MethodPost,
		Path:          "/projects/{code}/evidence",
		Summary:       "Attach supporting evidence",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Code string          `path:"code"`
		Body EvidenceRequest `json:"body"`
	}) (*struct {
		Body domain.Evidence `json:"body"`
	}, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		p, authErr := requirePermission(ctx, permPlanningEdit)
		if authErr != nil {
			return nil, authErr
		}
		ev, err := e.AttachEvidence(ctx, input.Code, domain.EvidenceType(input.Body.Type), input.Body.Reference, p.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Evidence `json:"body"`
		}{Body: ev}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "advance-project",
		Method:      http.MethodPost,
		Path:        "/projects/{code}/advance",
		Summary:     "Move a record one planning stage forward",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *projectPath) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		p, authErr := requirePermission(ctx, permPlanningEdit)
		if authErr != nil {
			return nil, authErr
		}
		out, err := e.Advance(ctx, input.Code, p.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: recordResponse(e, out)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "evaluate-project",
		Method:      http.MethodPost,
		Path:        "/projects/{code}/evaluate",
		Summary:     "Run the NPV/investment checks",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *projectPath) (*struct {
		Body EvaluationResponse `json:"body"`
	}, error) {
		if _, authErr := requirePermission(ctx, permRead); authErr != nil {
			return nil, authErr
		}
		res, err := e.Evaluate(ctx, input.Code)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EvaluationResponse `json:"body"`
		}{Body: evaluationResponse(res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "record-decision",
		Method:        http.MethodPost,
		Path:          "/projects/{code}/decisions",
		Summary:       "Record a committee verdict",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Code string          `path:"code"`
		Body DecisionRequest `json:"body"`
	}) (*struct {
		Body domain.Decision `json:"body"`
	}, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		p, authErr := requirePermission(ctx, permPlanningApprove)
		if authErr != nil {
			return nil, authErr
		}
		opts := make([]domain.ModifyOption, len(input.Body.ModifyOptions))
		for i, o := range input.Body.ModifyOptions {
			opts[i] = domain.ModifyOption(o)
		}
		d, err := e.RecordDecision(ctx, input.Code, domain.Verdict(input.Body.Verdict), input.Body.Comments, p.UserID, opts...)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Decision `json:"body"`
		}{Body: d}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "attest-review",
		Method:      http.MethodPost,
		Path:        "/projects/{code}/reviews",
		Summary:     "Attest one item of the PressureTest reviewer checklist",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		Code string        `path:"code"`
		Body ReviewRequest `json:"body"`
	}) (*struct {
		Body domain.Review `json:"body"`
	}, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		p, authErr := requirePermission(ctx, permPlanningApprove)
		if authErr != nil {
			return nil, authErr
		}
		rv, err := e.AttestReview(ctx, input.Code, domain.ReviewItem(input.Body.Item), input.Body.Note, p.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Review `json:"body"`
		}{Body: rv}, nil
	})
}

func registerFollowUp(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-plan",
		Method:      http.MethodGet,
		Path:        "/projects/{code}/plan",
		Summary:     "Monthly plan and distribution status",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*struct {
		Body PlanResponse `json:"body"`
	}, error) {
		if _, authErr := requirePermission(ctx, permRead); authErr != nil {
			return nil, authErr
		}
		plan, st, err := e.GetPlan(ctx, input.Code)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PlanResponse `json:"body"`
		}{Body: planResponse(plan, st)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-plan",
		Method:      http.MethodPut,
		Path:        "/projects/{code}/plan",
		Summary:     "Distribute the approved amount over twelve months",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		Code string      `path:"code"`
		Body PlanRequest `json:"body"`
	}) (*struct {
		Body PlanResponse `json:"body"`
	}, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		p, authErr := requirePermission(ctx, permPlanningEdit)
		if authErr != nil {
			return nil, authErr
		}
		approved := input.Body.DirectorApproved
		if approved {
			if err := p.Require(permPlanningApprove); err != nil {
				return nil, handleError(err)
			}
		}
		plan, err := input.Body.plan()
		if err != nil {
			return nil, handleError(err)
		}
		st, err := e.SetMonthlyPlan(ctx, input.Code, plan, approved, p.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PlanResponse `json:"body"`
		}{Body: planResponse(plan, st)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "advance-followup",
		Method:      http.MethodPost,
		Path:        "/projects/{code}/followup/advance",
		Summary:     "Move a consolidated record one follow-up stage forward",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *projectPath) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		p, authErr := requirePermission(ctx, permPlanningEdit)
		if authErr != nil {
			return nil, authErr
		}
		out, err := e.AdvanceFollowUp(ctx, input.Code, p.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: recordResponse(e, out)}, nil
	})
}
