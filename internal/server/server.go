package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"reflect"
	"strings"
	"sync"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"capexline/internal/app"
	"capexline/internal/apperr"
	"capexline/internal/engine"
	"capexline/internal/engine/auth"
	"capexline/internal/insight"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   *engine.Engine
	App      *app.Context
	Auditor  insight.Auditor
	BasePath string
	Auth     AuthConfig
	Logger   *zap.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"guard_failed"`
	Message string         `json:"message" example:"cannot move Support -> Validation: no RiskMatrix evidence attached"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"hint\":\"attach RiskMatrix evidence in Support\"}"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the planning API.
func New(cfg Config) (http.Handler, error) {
	if cfg.Engine == nil {
		return nil, errors.New("server: engine required")
	}
	if cfg.App == nil {
		return nil, errors.New("server: application context required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Auth.Logger == nil {
		cfg.Auth.Logger = cfg.Logger
	}
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors are 400, 422 is kept for refused transitions.
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(RequestLogger(cfg.Logger))
	router.Use(bufferBody)
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Capexline API", "1.0.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group, cfg.Engine)
	registerAuth(group, cfg.Engine, cfg.Auth)
	registerProjects(group, cfg.Engine)
	registerWorkflow(group, cfg.Engine)
	registerFollowUp(group, cfg.Engine)
	registerCases(group, cfg.Engine)
	registerUsers(group, cfg.Engine)
	registerParameters(group, cfg.Engine, cfg.App)
	registerInsights(group, cfg.Auditor)
	registerEvents(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

// handleError maps engine errors onto the envelope.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	var fe auth.ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"permission": fe.Permission})
	}
	var ge *apperr.GuardError
	if errors.As(err, &ge) {
		return newAPIError(http.StatusUnprocessableEntity, "guard_failed", err.Error(), map[string]any{
			"from":    ge.From,
			"to":      ge.To,
			"reason":  ge.Reason,
			"hint":    ge.Hint,
			"missing": nonNilSlice(ge.Missing),
		})
	}
	var ic *apperr.IncompleteCaseError
	if errors.As(err, &ic) {
		return newAPIError(http.StatusUnprocessableEntity, "incomplete_case", err.Error(), map[string]any{
			"case_id": ic.CaseID,
			"missing": nonNilSlice(ic.Missing),
		})
	}
	msg := err.Error()
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", msg, nil)
	case errors.Is(err, apperr.ErrDuplicateCode):
		return newAPIError(http.StatusConflict, "duplicate", msg, nil)
	case errors.Is(err, apperr.ErrInvalidInput):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	case errors.Is(err, apperr.ErrAuthFailure):
		return newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil)
	case errors.Is(err, apperr.ErrExternalServiceUnavailable):
		return newAPIError(http.StatusServiceUnavailable, "service_unavailable", msg, nil)
	case errors.Is(err, apperr.ErrInvariant):
		return newAPIError(http.StatusInternalServerError, "invariant_violation", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var (
		once sync.Once
		spec []byte
	)
	r.Get(path.Join(basePath, "openapi.json"), func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() {
			oas := api.OpenAPI()
			addErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		})
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func operations(item *huma.PathItem) []*huma.Operation {
	return []*huma.Operation{
		item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
	}
}

// addErrorResponses documents the error envelope as the fallback response of every operation.
func addErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil || oas.Components == nil || oas.Components.Schemas == nil {
		return
	}
	ref := oas.Components.Schemas.Schema(reflect.TypeOf(apiError{}), true, "ApiError")
	for _, item := range oas.Paths {
		for _, op := range operations(item) {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			if _, ok := op.Responses["default"]; ok {
				continue
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error envelope; see error.code",
				Content:     map[string]*huma.MediaType{"application/json": {Schema: ref}},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	security := []map[string][]string{{"bearerAuth": {}}}
	oas.Security = security
	public := map[string]bool{}
	for _, p := range publicPaths(basePath) {
		public[p] = true
	}
	for route, item := range oas.Paths {
		for _, op := range operations(item) {
			if op == nil {
				continue
			}
			if public[route] {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

const docsPage = `<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Capexline API</title>
<link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css">
</head>
<body>
<div id="ui"></div>
<script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
<script>window.onload = () => SwaggerUIBundle({url: %q, dom_id: "#ui"});</script>
<p>Authenticate with POST %s, then pass the token as a bearer credential.</p>
</body>
</html>`

func swaggerHTML(basePath string) string {
	return fmt.Sprintf(docsPage, path.Join("/", basePath, "openapi.json"), path.Join("/", basePath, "auth/login"))
}

type healthOutput struct {
	Body struct {
		Status string `json:"status"`
		Cycle  string `json:"cycle"`
		Mode   string `json:"mode"`
	}
}

func registerHealth(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Liveness and active planning cycle",
		Tags:        []string{"system"},
	}, func(ctx context.Context, _ *struct{}) (*healthOutput, error) {
		out := &healthOutput{}
		out.Body.Status = "ok"
		if e.Config != nil {
			out.Body.Cycle = e.Config.Cycle.ID
			out.Body.Mode = string(e.Config.Cycle.Mode)
		}
		return out, nil
	})
}

// bufferBody keeps a copy of the request body so handlers can tell an empty body from a zero-valued one.
func bufferBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		r.Body = io.NopCloser(bytes.NewReader(raw))
		ctx := context.WithValue(r.Context(), bodyBytesKey{}, raw)
		ctx = context.WithValue(ctx, requestKey{}, r)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bodyBytes(ctx context.Context) []byte {
	if buf, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return buf
	}
	req, ok := ctx.Value(requestKey{}).(*http.Request)
	if !ok || req == nil {
		return nil
	}
	data, _ := io.ReadAll(req.Body)
	return data
}

func requireBody(ctx context.Context) huma.StatusError {
	if len(bytes.TrimSpace(bodyBytes(ctx))) == 0 {
		return newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
	}
	return nil
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}
