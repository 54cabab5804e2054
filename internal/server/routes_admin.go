package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/danielgtaylor/huma/v2"

	"capexline/internal/app"
	"capexline/internal/domain"
	"capexline/internal/engine"
	"capexline/internal/insight"
	"capexline/internal/money"
	"capexline/internal/repo"
)

func registerUsers(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-user",
		Method:        http.MethodPost,
		Path:          "/users",
		Summary:       "Create a user",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body UserRequest `json:"body"`
	}) (*struct {
		Body domain.User `json:"body"`
	}, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		p, authErr := requirePermission(ctx, permUsersManage)
		if authErr != nil {
			return nil, authErr
		}
		u, err := e.CreateUser(ctx, engine.UserInput{
			Name:     input.Body.Name,
			Email:    input.Body.Email,
			Password: input.Body.Password,
			Role:     domain.Role(input.Body.Role),
			Area:     input.Body.Area,
		}, p.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.User `json:"body"`
		}{Body: u}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-users",
		Method:      http.MethodGet,
		Path:        "/users",
		Summary:     "List users",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.User `json:"body"`
	}, error) {
		if _, authErr := requirePermission(ctx, permUsersManage); authErr != nil {
			return nil, authErr
		}
		users, err := e.ListUsers(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.User `json:"body"`
		}{Body: nonNilSlice(users)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-user",
		Method:      http.MethodPatch,
		Path:        "/users/{id}",
		Summary:     "Update a user",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   string           `path:"id"`
		Body UserPatchRequest `json:"body"`
	}) (*struct {
		Body domain.User `json:"body"`
	}, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		p, authErr := requirePermission(ctx, permUsersManage)
		if authErr != nil {
			return nil, authErr
		}
		patch := engine.UserPatch{
			Name:     input.Body.Name,
			Password: input.Body.Password,
			Area:     input.Body.Area,
		}
		if input.Body.Role != nil {
			r := domain.Role(*input.Body.Role)
			patch.Role = &r
		}
		if input.Body.Status != nil {
			s := domain.UserStatus(*input.Body.Status)
			patch.Status = &s
		}
		u, err := e.UpdateUser(ctx, input.ID, patch, p.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.User `json:"body"`
		}{Body: u}, nil
	})
}

func parametersResponse(e *engine.Engine, c *app.Context) ParametersResponse {
	return ParametersResponse{
		Theme:             c.Theme,
		ExchangeRate:      c.ExchangeRate.String(),
		VATRate:           c.VATRate.String(),
		LocalCurrency:     e.Config.Currency.Local,
		ReferenceCurrency: e.Config.Currency.Reference,
	}
}

func registerParameters(api huma.API, e *engine.Engine, appCtx *app.Context) {
	huma.Register(api, huma.Operation{
		OperationID: "get-parameters",
		Method:      http.MethodGet,
		Path:        "/parameters",
		Summary:     "Budget parameters",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body ParametersResponse `json:"body"`
	}, error) {
		if _, authErr := requirePermission(ctx, permRead); authErr != nil {
			return nil, authErr
		}
		return &struct {
			Body ParametersResponse `json:"body"`
		}{Body: parametersResponse(e, appCtx)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-parameters",
		Method:      http.MethodPatch,
		Path:        "/parameters",
		Summary:     "Change theme, exchange rate or VAT",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body ParametersRequest `json:"body"`
	}) (*struct {
		Body ParametersResponse `json:"body"`
	}, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		p, authErr := requirePermission(ctx, permParametersEdit)
		if authErr != nil {
			return nil, authErr
		}
		patch := engine.ParameterPatch{Theme: input.Body.Theme}
		if input.Body.ExchangeRate != nil {
			rate, err := money.ParseRate(*input.Body.ExchangeRate)
			if err != nil {
				return nil, handleError(err)
			}
			patch.ExchangeRate = &rate
		}
		if input.Body.VATRate != nil {
			vat, err := money.Parse(*input.Body.VATRate)
			if err != nil {
				return nil, handleError(fmt.Errorf("vat_rate: %w", err))
			}
			patch.VATRate = &vat
		}
		if err := e.UpdateParameters(ctx, appCtx, patch, p.UserID); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ParametersResponse `json:"body"`
		}{Body: parametersResponse(e, appCtx)}, nil
	})
}

func registerInsights(api huma.API, auditor insight.Auditor) {
	huma.Register(api, huma.Operation{
		OperationID: "audit-budget",
		Method:      http.MethodPost,
		Path:        "/insights/audit",
		Summary:     "Ask the AI auditor for up to five insights",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body AuditRequest `json:"body"`
	}) (*struct {
		Body AuditResponse `json:"body"`
	}, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		if _, authErr := requirePermission(ctx, permInsightRun); authErr != nil {
			return nil, authErr
		}
		budget, expenses, err := input.Body.snapshot()
		if err != nil {
			return nil, handleError(err)
		}
		if auditor == nil {
			auditor = insight.Service{}
		}
		return &struct {
			Body AuditResponse `json:"body"`
		}{Body: AuditResponse{Insights: nonNilSlice(auditor.Audit(ctx, budget, expenses))}}, nil
	})
}

func registerEvents(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		if _, authErr := requirePermission(ctx, permEventsRead); authErr != nil {
			return nil, authErr
		}
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := e.Repo.LatestEvents(ctx, limit+1, cursorID, repo.EventFilter{
			CycleID:    e.Config.Cycle.ID,
			Type:       input.Type,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			resp.NextCursor = fmt.Sprintf("%d", items[limit-1].ID)
			items = items[:limit]
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}
