package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"capexline/internal/domain"
	"capexline/internal/engine"
)

type casePath struct {
	ID string `path:"id"`
}

type caseBody struct {
	Body domain.BusinessCase `json:"body"`
}

func registerCases(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-case",
		Method:        http.MethodPost,
		Path:          "/cases",
		Summary:       "Create a business case in Draft",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body CaseRequest `json:"body"`
	}) (*caseBody, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		p, authErr := requirePermission(ctx, permCasesEdit)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.CreateCase(ctx, input.Body.businessCase(), p.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &caseBody{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-cases",
		Method:      http.MethodGet,
		Path:        "/cases",
		Summary:     "List business cases, optionally for one quarter",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Quarter string `query:"quarter"`
	}) (*struct {
		Body []domain.BusinessCase `json:"body"`
	}, error) {
		if _, authErr := requirePermission(ctx, permRead); authErr != nil {
			return nil, authErr
		}
		items, err := e.ListCases(ctx, input.Quarter)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.BusinessCase `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-case",
		Method:      http.MethodGet,
		Path:        "/cases/{id}",
		Summary:     "Get a business case",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *casePath) (*caseBody, error) {
		if _, authErr := requirePermission(ctx, permRead); authErr != nil {
			return nil, authErr
		}
		c, err := e.GetCase(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &caseBody{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-case",
		Method:      http.MethodPut,
		Path:        "/cases/{id}",
		Summary:     "Replace the content of a business case",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   string      `path:"id"`
		Body CaseRequest `json:"body"`
	}) (*caseBody, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		p, authErr := requirePermission(ctx, permCasesEdit)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.UpdateCase(ctx, input.ID, input.Body.businessCase(), p.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &caseBody{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-case",
		Method:        http.MethodDelete,
		Path:          "/cases/{id}",
		Summary:       "Delete a business case (requires confirm=true)",
		DefaultStatus: http.StatusNoContent,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID      string `path:"id"`
		Confirm bool   `query:"confirm"`
	}) (*struct{}, error) {
		p, authErr := requirePermission(ctx, permCasesEdit)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteCase(ctx, input.ID, input.Confirm, p.UserID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "promote-case",
		Method:      http.MethodPost,
		Path:        "/cases/{id}/promote",
		Summary:     "Advance a business case one rung",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *casePath) (*caseBody, error) {
		p, authErr := requirePermission(ctx, permCasesApprove)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.PromoteCase(ctx, input.ID, p.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &caseBody{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reject-case",
		Method:      http.MethodPost,
		Path:        "/cases/{id}/reject",
		Summary:     "Reject a business case",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body RejectCaseRequest `json:"body,omitempty"`
	}) (*caseBody, error) {
		p, authErr := requirePermission(ctx, permCasesApprove)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.RejectCase(ctx, input.ID, input.Body.Reason, p.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &caseBody{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "resubmit-case",
		Method:      http.MethodPost,
		Path:        "/cases/{id}/resubmit",
		Summary:     "Re-open a rejected business case in Draft",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *casePath) (*caseBody, error) {
		p, authErr := requirePermission(ctx, permCasesEdit)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.ResubmitCase(ctx, input.ID, p.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &caseBody{Body: c}, nil
	})
}
