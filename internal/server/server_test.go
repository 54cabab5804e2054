package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"capexline/internal/app"
	"capexline/internal/config"
	"capexline/internal/db"
	"capexline/internal/domain"
	"capexline/internal/engine"
	"capexline/internal/engine/auth"
	"capexline/internal/migrate"
)

const testSecret = "test-secret"

type testServer struct {
	URL    string
	Engine *engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	_, err := db.EnsureWorkspace(workspace)
	require.NoError(t, err, "ensure workspace")
	cfg := config.Default("FY25")
	conn, err := db.Open(db.Config{Workspace: workspace})
	require.NoError(t, err, "open db")
	ctx := context.Background()
	require.NoError(t, migrate.Migrate(ctx, conn), "migrate")
	logger := zaptest.NewLogger(t)
	e, err := engine.New(conn, cfg, logger)
	require.NoError(t, err)
	require.NoError(t, e.Load(ctx))
	appCtx, err := app.Load(ctx, e.Repo, cfg, workspace)
	require.NoError(t, err)

	_, err = e.CreateUser(ctx, engine.UserInput{
		Name: "Admin", Email: "admin@example.com", Password: "admin-pass", Role: domain.RoleAdmin,
	}, "bootstrap")
	require.NoError(t, err, "seed admin")

	handler, err := New(Config{
		Engine:   e,
		App:      appCtx,
		BasePath: "/v1",
		Logger:   logger,
		Auth: AuthConfig{
			JWTSecret:     testSecret,
			Authenticator: auth.NewService(e.Repo, cfg),
		},
	})
	require.NoError(t, err, "build handler")
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err, "listen")
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err, "marshal body")
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err, "new request")
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	require.NoError(t, err, "do request")
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err, "read body")
	return res, data
}

func login(t *testing.T, srv *testServer, email, password string) map[string]string {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/auth/login", map[string]any{
		"email": email, "password": password,
	}, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var out LoginResponse
	require.NoError(t, json.Unmarshal(data, &out))
	require.NotEmpty(t, out.Token)
	return map[string]string{"Authorization": "Bearer " + out.Token}
}

type errorEnvelope struct {
	Error apiErrorBody `json:"error"`
}

func decodeError(t *testing.T, data []byte) apiErrorBody {
	t.Helper()
	var env errorEnvelope
	require.NoError(t, json.Unmarshal(data, &env), string(data))
	return env.Error
}

func TestHealthIsPublicAndEverythingElseNeedsToken(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, _ := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/health", nil, nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/projects", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, "unauthorized", decodeError(t, data).Code)

	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/projects", nil, map[string]string{"Authorization": "Bearer nope"})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
}

func TestLoginRejectsBadPassword(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/auth/login", map[string]any{
		"email": "admin@example.com", "password": "wrong-pass",
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, "invalid_credentials", decodeError(t, data).Code)

	headers := login(t, srv, "admin@example.com", "admin-pass")
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/me", nil, headers)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var me PrincipalResponse
	require.NoError(t, json.Unmarshal(data, &me))
	assert.Equal(t, "ADMIN", me.Role)
	assert.Contains(t, me.Permissions, "users.manage")
}

func TestProjectLifecycleOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	headers := login(t, srv, "admin@example.com", "admin-pass")
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/projects", map[string]any{
		"code":         "PRJ001",
		"name":         "Fiber ring",
		"macro_key":    "CORE",
		"type":         "Expansion",
		"local_amount": "3124563230",
		"director":     "Director Ops",
		"manager":      "Manager Net",
	}, headers)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	var created ProjectResponse
	require.NoError(t, json.Unmarshal(data, &created))
	assert.Equal(t, "Identification", created.Stage)
	assert.Equal(t, "735191.35", created.ReferenceAmount)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/projects", map[string]any{
		"code": "PRJ001", "macro_key": "CORE",
	}, headers)
	assert.Equal(t, http.StatusConflict, res.StatusCode, string(data))

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/projects", nil, headers)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var list []ProjectResponse
	require.NoError(t, json.Unmarshal(data, &list))
	require.Len(t, list, 1)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/projects/PRJ001/advance", nil, headers)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var advanced ProjectResponse
	require.NoError(t, json.Unmarshal(data, &advanced))
	assert.Equal(t, "Classification", advanced.Stage)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/projects/PRJ001/advance", nil, headers)
	require.Equal(t, http.StatusUnprocessableEntity, res.StatusCode, string(data))
	body := decodeError(t, data)
	assert.Equal(t, "guard_failed", body.Code)
	assert.Equal(t, "Classification", body.Details["from"])
	assert.NotEmpty(t, body.Details["hint"])

	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v1/projects/NOPE", nil, headers)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)

	res, _ = doJSON(t, client, http.MethodDelete, srv.URL+"/v1/projects/PRJ001", nil, headers)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	res, data = doJSON(t, client, http.MethodDelete, srv.URL+"/v1/projects/PRJ001?confirm=true", nil, headers)
	assert.Equal(t, http.StatusNoContent, res.StatusCode, string(data))
}

func TestIdentificationGuardReportsMissingFields(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	headers := login(t, srv, "admin@example.com", "admin-pass")

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/projects", map[string]any{
		"code": "PRJ002", "name": "Towers", "macro_key": "RAN", "type": "Continuity", "manager": "M",
	}, headers)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/projects/PRJ002/advance", nil, headers)
	require.Equal(t, http.StatusUnprocessableEntity, res.StatusCode, string(data))
	body := decodeError(t, data)
	assert.Equal(t, []any{"local_amount", "director"}, body.Details["missing"])
}

func TestResponsibleCannotRecordDecision(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	admin := login(t, srv, "admin@example.com", "admin-pass")
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/users", map[string]any{
		"name": "Resp", "email": "resp@example.com", "password": "resp-pass", "role": "RESP",
	}, admin)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	resp := login(t, srv, "resp@example.com", "resp-pass")

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/projects", map[string]any{
		"code": "PRJ003", "macro_key": "CORE",
	}, resp)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/projects/PRJ003/decisions", map[string]any{
		"verdict": "Approve",
	}, resp)
	require.Equal(t, http.StatusForbidden, res.StatusCode, string(data))
	assert.Equal(t, "planning.approve", decodeError(t, data).Details["permission"])

	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v1/users", nil, resp)
	assert.Equal(t, http.StatusForbidden, res.StatusCode)
}

func TestChecklistAndModifyOptionsOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	headers := login(t, srv, "admin@example.com", "admin-pass")
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/projects", map[string]any{
		"code": "PRJ004", "macro_key": "CORE",
	}, headers)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/projects/PRJ004/reviews", map[string]any{
		"item": "support_files", "note": "files checked",
	}, headers)
	require.Equal(t, http.StatusUnprocessableEntity, res.StatusCode, string(data))
	body := decodeError(t, data)
	assert.Equal(t, "guard_failed", body.Code)
	assert.Equal(t, "Identification", body.Details["from"])

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/projects/PRJ004/decisions", map[string]any{
		"verdict": "Approve", "modify_options": []string{"reduce_scope"},
	}, headers)
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))
}

func TestIncompleteCaseCannotBePromoted(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	headers := login(t, srv, "admin@example.com", "admin-pass")
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/cases", map[string]any{
		"name": "Edge compute", "quarter": "2025-Q1",
	}, headers)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	var c domain.BusinessCase
	require.NoError(t, json.Unmarshal(data, &c))

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/cases/"+c.ID+"/promote", nil, headers)
	require.Equal(t, http.StatusUnprocessableEntity, res.StatusCode, string(data))
	body := decodeError(t, data)
	assert.Equal(t, "incomplete_case", body.Code)
	assert.Contains(t, body.Details["missing"], "leader")

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/cases?quarter=2025-Q1", nil, headers)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var list []domain.BusinessCase
	require.NoError(t, json.Unmarshal(data, &list))
	require.Len(t, list, 1)
	assert.Equal(t, domain.CaseDraft, list[0].Stage)
}

func TestParametersAndEvents(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	headers := login(t, srv, "admin@example.com", "admin-pass")
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPatch, srv.URL+"/v1/parameters", map[string]any{
		"exchange_rate": "0",
	}, headers)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))

	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v1/parameters", map[string]any{
		"exchange_rate": "4100.5",
	}, headers)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var params ParametersResponse
	require.NoError(t, json.Unmarshal(data, &params))
	assert.Equal(t, "4100.5", params.ExchangeRate)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/events?limit=1", nil, headers)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var page paginatedEvents
	require.NoError(t, json.Unmarshal(data, &page))
	require.Len(t, page.Items, 1)
	assert.Equal(t, "parameters.updated", page.Items[0].Type)
}

func TestExpiredTokenIsRejected(t *testing.T) {
	now := time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)
	token, expires, err := signToken(testSecret, auth.Principal{UserID: "u1", Role: domain.RoleAdmin}, now, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, now.Add(time.Hour), expires)

	p, err := authenticateJWT(token, testSecret, now.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "u1", p.UserID)
	assert.Equal(t, domain.RoleAdmin, p.Role)

	_, err = authenticateJWT(token, testSecret, now.Add(2*time.Hour))
	assert.Error(t, err)
	_, err = authenticateJWT(token, "other-secret", now)
	assert.Error(t, err)
}

func TestEventFilter(t *testing.T) {
	all := newEventFilter(nil)
	assert.True(t, all.match("anything"))

	f := newEventFilter([]string{"case.promoted", "project.*", " "})
	assert.True(t, f.match("case.promoted"))
	assert.True(t, f.match("project.advanced"))
	assert.False(t, f.match("case.rejected"))
	assert.False(t, f.match("projects"))
}

func TestWebhookDeliversNewEvents(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	var mu sync.Mutex
	var got []webhookEvent
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var evt webhookEvent
		if err := json.NewDecoder(r.Body).Decode(&evt); err == nil {
			mu.Lock()
			got = append(got, evt)
			mu.Unlock()
		}
		assert.Equal(t, "s3cret", r.Header.Get("X-Capex-Secret"))
		assert.Equal(t, "FY25", r.Header.Get("X-Capex-Cycle"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer hook.Close()

	e := srv.Engine
	e.Config.Webhooks = []config.WebhookConfig{{URL: hook.URL, Events: []string{"project.*"}, Secret: "s3cret"}}
	d := newWebhookDispatcher(e, zaptest.NewLogger(t))
	require.NotNil(t, d)
	ctx := context.Background()
	d.dispatchAll(ctx)

	_, err := e.AddProject(ctx, domain.ProjectRecord{Code: "PRJ010", MacroKey: "CORE"}, "tester")
	require.NoError(t, err)
	_, err = e.CreateCase(ctx, domain.BusinessCase{Name: "Skipped"}, "tester")
	require.NoError(t, err)
	d.dispatchAll(ctx)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, "project.created", got[0].Type)
	assert.Equal(t, "PRJ010", got[0].EntityID)
}
