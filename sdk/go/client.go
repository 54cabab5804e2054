package capexsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Capexline HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v1",
		Timeout:  10 * time.Second,
	}
}

// Project is the API project model. Amounts are decimal strings.
type Project struct {
	Code            string `json:"code"`
	Name            string `json:"name"`
	MacroKey        string `json:"macro_key"`
	Type            string `json:"type"`
	LocalAmount     string `json:"local_amount"`
	ReferenceAmount string `json:"reference_amount"`
	Director        string `json:"director"`
	Manager         string `json:"manager"`
	Investment      string `json:"investment"`
	NPV             string `json:"npv"`
	Stage           string `json:"stage"`
	FollowUp        string `json:"follow_up,omitempty"`
	Category        string `json:"category,omitempty"`
	Methodology     string `json:"methodology,omitempty"`
	Severity        string `json:"severity,omitempty"`
}

// NewProject is the body of CreateProject. Empty fields are omitted.
type NewProject struct {
	Code        string `json:"code"`
	Name        string `json:"name,omitempty"`
	MacroKey    string `json:"macro_key"`
	Type        string `json:"type,omitempty"`
	LocalAmount string `json:"local_amount,omitempty"`
	Director    string `json:"director,omitempty"`
	Manager     string `json:"manager,omitempty"`
	Investment  string `json:"investment,omitempty"`
	NPV         string `json:"npv,omitempty"`
}

// Evaluation is the outcome of the validation rules.
type Evaluation struct {
	Ratio    string `json:"ratio"`
	Severity string `json:"severity"`
	Rules    []struct {
		Name   string `json:"name"`
		Passed bool   `json:"passed"`
	} `json:"rules"`
}

// Plan is a monthly distribution and its balance against the approved amount.
type Plan struct {
	Months   []string `json:"months"`
	State    string   `json:"state"`
	Approved string   `json:"approved"`
	Planned  string   `json:"planned"`
	Delta    string   `json:"delta"`
}

// BusinessCase is the API case model (partial).
type BusinessCase struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Quarter string `json:"quarter,omitempty"`
	Leader  string `json:"leader"`
	Stage   string `json:"stage"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	CycleID    string         `json:"cycle_id"`
	EntityID   string         `json:"entity_id"`
	EntityKind string         `json:"entity_kind"`
	Payload    map[string]any `json:"payload"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Hint returns the corrective hint of a refused transition, if any.
func (e *APIError) Hint() string {
	s, _ := e.Details["hint"].(string)
	return s
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// Login exchanges credentials for a bearer token and keeps it on the client.
func (c *Client) Login(ctx context.Context, email, password string) error {
	var resp struct {
		Token string `json:"token"`
	}
	err := c.do(ctx, http.MethodPost, "auth/login", map[string]string{"email": email, "password": password}, &resp)
	if err != nil {
		return err
	}
	c.BearerToken = resp.Token
	return nil
}

// CreateProject registers a project in Identification.
func (c *Client) CreateProject(ctx context.Context, p NewProject) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodPost, "projects", p, &resp)
	return resp, err
}

// Projects lists the registry.
func (c *Client) Projects(ctx context.Context) ([]Project, error) {
	var resp []Project
	err := c.do(ctx, http.MethodGet, "projects", nil, &resp)
	return resp, err
}

// Classify sets the category of a macro-project key.
func (c *Client) Classify(ctx context.Context, macroKey, category, owner string) error {
	body := map[string]string{"category": category, "owner": owner}
	return c.do(ctx, http.MethodPut, "classifications/"+url.PathEscape(macroKey), body, nil)
}

// AttachEvidence adds supporting evidence to a project.
func (c *Client) AttachEvidence(ctx context.Context, code, evidenceType, reference string) error {
	body := map[string]string{"type": evidenceType, "reference": reference}
	return c.do(ctx, http.MethodPost, c.projectPath(code, "evidence"), body, nil)
}

// Advance moves a project one planning stage. A refused step is an *APIError with code guard_failed.
func (c *Client) Advance(ctx context.Context, code string) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodPost, c.projectPath(code, "advance"), nil, &resp)
	return resp, err
}

// Evaluate runs the validation rules.
func (c *Client) Evaluate(ctx context.Context, code string) (Evaluation, error) {
	var resp Evaluation
	err := c.do(ctx, http.MethodPost, c.projectPath(code, "evaluate"), nil, &resp)
	return resp, err
}

// Decide records a verdict (Approve, Modify, Reject). Modify options
// (reduce_scope, reduce_budget, reduce_units) go with Modify only.
func (c *Client) Decide(ctx context.Context, code, verdict, comments string, modifyOptions ...string) error {
	body := map[string]any{"verdict": verdict, "comments": comments}
	if len(modifyOptions) > 0 {
		body["modify_options"] = modifyOptions
	}
	return c.do(ctx, http.MethodPost, c.projectPath(code, "decisions"), body, nil)
}

// AttestReview ticks a PressureTest checklist item.
func (c *Client) AttestReview(ctx context.Context, code, item, note string) error {
	body := map[string]string{"item": item, "note": note}
	return c.do(ctx, http.MethodPost, c.projectPath(code, "reviews"), body, nil)
}

// SetPlan stores twelve monthly amounts.
func (c *Client) SetPlan(ctx context.Context, code string, months []string, directorApproved bool) (Plan, error) {
	body := map[string]any{"months": months, "director_approved": directorApproved}
	var resp Plan
	err := c.do(ctx, http.MethodPut, c.projectPath(code, "plan"), body, &resp)
	return resp, err
}

// CreateCase stores a business case in Draft.
func (c *Client) CreateCase(ctx context.Context, fields map[string]string) (BusinessCase, error) {
	var resp BusinessCase
	err := c.do(ctx, http.MethodPost, "cases", fields, &resp)
	return resp, err
}

// PromoteCase advances a business case one rung.
func (c *Client) PromoteCase(ctx context.Context, id string) (BusinessCase, error) {
	var resp BusinessCase
	err := c.do(ctx, http.MethodPost, "cases/"+url.PathEscape(id)+"/promote", nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string         `json:"code"`
				Message string         `json:"message"`
				Details map[string]any `json:"details"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
			apiErr.Details = env.Error.Details
		}
		return apiErr
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) projectPath(code, p string) string {
	return fmt.Sprintf("projects/%s/%s", url.PathEscape(code), strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/") + "/" + strings.Trim(c.BasePath, "/")
}
