package caselinesdk

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

// Client is a minimal Caseline HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, token string) *Client {
	return &Client{
		BaseURL:     baseURL,
		BearerToken: token,
		Timeout:     10 * time.Second,
	}
}

// Case represents the API case model (partial).
type Case struct {
	ID             string  `json:"id"`
	Reference      string  `json:"reference"`
	Category       string  `json:"category"`
	Status         string  `json:"status"`
	Description    string  `json:"description"`
	ApplicantEmail string  `json:"applicant_email"`
	PaymentAmount  int64   `json:"payment_amount_pence"`
	EIARequired    bool    `json:"eia_required"`
	ValidatedOn    *string `json:"validated_on"`
	TargetDate     *string `json:"target_date"`
	ExpiryDate     *string `json:"expiry_date"`
	Decision       *string `json:"decision"`
	Version        int     `json:"version"`
}

// Request represents a validation request.
type Request struct {
	ID          string          `json:"id"`
	CaseID      string          `json:"case_id"`
	Sequence    int             `json:"sequence"`
	Kind        string          `json:"kind"`
	State       string          `json:"state"`
	Reason      string          `json:"reason"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Response    *string         `json:"response"`
	Approved    *bool           `json:"approved"`
	ResponseDue *string         `json:"response_due"`
	AutoClosed  bool            `json:"auto_closed"`
}

// CaseDetail is a case with its requests.
type CaseDetail struct {
	Case     Case      `json:"case"`
	Requests []Request `json:"requests"`
}

// AuditEntry represents one audit trail row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	CaseID    string         `json:"case_id"`
	RequestID *string        `json:"request_id"`
	Activity  string         `json:"activity"`
	ActorID   string         `json:"actor_id"`
	From      *string        `json:"from"`
	To        *string        `json:"to"`
	Payload   map[string]any `json:"payload"`
	CreatedAt string         `json:"created_at"`
}

// PaginatedAudit wraps audit listings with a cursor.
type PaginatedAudit struct {
	Items      []AuditEntry `json:"items"`
	NextCursor string       `json:"next_cursor"`
}

// RequestSpec raises a request as part of invalidation.
type RequestSpec struct {
	Kind    string `json:"kind"`
	Payload any    `json:"payload,omitempty"`
	Reason  string `json:"reason"`
}

// CreateCaseInput registers a case.
type CreateCaseInput struct {
	Reference          string `json:"reference"`
	Category           string `json:"category"`
	Description        string `json:"description,omitempty"`
	ApplicantEmail     string `json:"applicant_email,omitempty"`
	PaymentAmountPence int64  `json:"payment_amount_pence,omitempty"`
	FromProduction     bool   `json:"from_production,omitempty"`
}

// CloseInput records the outcome of a request.
type CloseInput struct {
	Response    string   `json:"response,omitempty"`
	Approved    *bool    `json:"approved,omitempty"`
	ByOfficer   bool     `json:"by_officer,omitempty"`
	DocumentIDs []string `json:"document_ids,omitempty"`
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
		return fmt.Sprintf("api error: status=%d code=%s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateCase registers a case.
func (c *Client) CreateCase(ctx context.Context, in CreateCaseInput) (Case, error) {
	var resp Case
	err := c.do(ctx, http.MethodPost, "cases", in, &resp)
	return resp, err
}

// GetCase fetches a case with its requests.
func (c *Client) GetCase(ctx context.Context, id string) (CaseDetail, error) {
	var resp CaseDetail
	err := c.do(ctx, http.MethodGet, casePath(id, ""), nil, &resp)
	return resp, err
}

// ListCases lists cases, optionally filtered by status.
func (c *Client) ListCases(ctx context.Context, status string, limit int) ([]Case, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	endpoint := "cases"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp struct {
		Items []Case `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

// Invalidate marks a case invalid and sends its requests.
func (c *Client) Invalidate(ctx context.Context, caseID, reason string, requests []RequestSpec) (Case, []Request, error) {
	body := map[string]any{"reason": reason, "requests": requests}
	var resp struct {
		Case     Case      `json:"case"`
		Requests []Request `json:"requests"`
	}
	err := c.do(ctx, http.MethodPost, casePath(caseID, "invalidate"), body, &resp)
	return resp.Case, resp.Requests, err
}

// Validate validates a case; asOf may be empty.
func (c *Client) Validate(ctx context.Context, caseID, asOf string) (Case, error) {
	body := map[string]any{}
	if asOf != "" {
		body["as_of_date"] = asOf
	}
	var resp Case
	err := c.do(ctx, http.MethodPost, casePath(caseID, "validate"), body, &resp)
	return resp, err
}

// Transition runs one of start-assessment, mark-to-be-reviewed or send-for-determination.
func (c *Client) Transition(ctx context.Context, caseID, action string) (Case, error) {
	var resp Case
	err := c.do(ctx, http.MethodPost, casePath(caseID, action), map[string]any{}, &resp)
	return resp, err
}

// Determine records the decision.
func (c *Client) Determine(ctx context.Context, caseID, decision string) (Case, error) {
	var resp Case
	err := c.do(ctx, http.MethodPost, casePath(caseID, "determine"), map[string]any{"decision": decision}, &resp)
	return resp, err
}

// Escape runs one of return, withdraw or close.
func (c *Client) Escape(ctx context.Context, caseID, action, reason string) (Case, error) {
	var resp Case
	err := c.do(ctx, http.MethodPost, casePath(caseID, action), map[string]any{"reason": reason}, &resp)
	return resp, err
}

// CreateRequest raises a validation request.
func (c *Client) CreateRequest(ctx context.Context, caseID string, spec RequestSpec) (Request, error) {
	var resp Request
	err := c.do(ctx, http.MethodPost, casePath(caseID, "requests"), spec, &resp)
	return resp, err
}

// CloseRequest records the applicant's response.
func (c *Client) CloseRequest(ctx context.Context, requestID string, in CloseInput) (Request, error) {
	var resp Request
	err := c.do(ctx, http.MethodPost, requestPath(requestID, "close"), in, &resp)
	return resp, err
}

// CancelRequest withdraws a request.
func (c *Client) CancelRequest(ctx context.Context, requestID, reason string) (Request, error) {
	var resp Request
	err := c.do(ctx, http.MethodPost, requestPath(requestID, "cancel"), map[string]any{"reason": reason}, &resp)
	return resp, err
}

// AuditPage returns a page of a case's audit trail.
func (c *Client) AuditPage(ctx context.Context, caseID string, limit int, cursor string) (PaginatedAudit, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := casePath(caseID, "audit")
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedAudit
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/v0/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
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
			apiErr.Code, apiErr.Message, apiErr.Details = env.Error.Code, env.Error.Message, env.Error.Details
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func casePath(id, action string) string {
	p := "cases/" + url.PathEscape(id)
	if action != "" {
		p += "/" + action
	}
	return p
}

func requestPath(id, action string) string {
	return "requests/" + url.PathEscape(id) + "/" + action
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
