package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"caseline/internal/config"
	"caseline/internal/db"
	"caseline/internal/domain"
	"caseline/internal/engine"
	"caseline/internal/metrics"
	"caseline/internal/migrate"
)

const testSecret = "test-secret"

type testServer struct {
	URL    string
	token  string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e, err := engine.New(conn, config.Default())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	london, _ := time.LoadLocation("Europe/London")
	e.Now = func() time.Time { return time.Date(2024, 1, 8, 10, 0, 0, 0, london) }
	m := metrics.New()
	e.Metrics = m
	handler, err := New(Config{Engine: e, BasePath: "/v0", Metrics: m, Auth: AuthConfig{JWTSecret: testSecret, AllowDevLogin: true}})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	token, err := SignToken(testSecret, "officer-1", time.Hour)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		token:  token,
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
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func (s *testServer) call(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	return doJSON(t, s.client, method, s.URL+path, body, map[string]string{"Authorization": "Bearer " + s.token})
}

type errorEnvelope struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func expectError(t *testing.T, res *http.Response, data []byte, status int, code string) errorEnvelope {
	t.Helper()
	if res.StatusCode != status {
		t.Fatalf("expected status %d, got %d: %s", status, res.StatusCode, string(data))
	}
	var env errorEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error envelope: %v (%s)", err, string(data))
	}
	if env.Error.Code != code {
		t.Fatalf("expected code %s, got %s (%s)", code, env.Error.Code, env.Error.Message)
	}
	if env.Error.Message == "" {
		t.Fatalf("error without message: %s", string(data))
	}
	return env
}

func createCase(t *testing.T, srv *testServer, ref string) domain.Case {
	t.Helper()
	res, data := srv.call(t, http.MethodPost, "/v0/cases", map[string]any{
		"reference":            ref,
		"category":             "householder",
		"description":          "Rear extension",
		"applicant_email":      "applicant@example.com",
		"payment_amount_pence": 25800,
	})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create case status %d: %s", res.StatusCode, string(data))
	}
	var c domain.Case
	if err := json.Unmarshal(data, &c); err != nil {
		t.Fatalf("unmarshal case: %v", err)
	}
	return c
}

func TestAuthRequired(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/cases", nil, nil)
	expectError(t, res, data, http.StatusUnauthorized, "unauthorized")

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/cases", nil, map[string]string{"Authorization": "Bearer not-a-token"})
	expectError(t, res, data, http.StatusUnauthorized, "invalid_credentials")

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/cases", nil, map[string]string{"X-Actor-Id": "someone"})
	expectError(t, res, data, http.StatusUnauthorized, "unauthorized")

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{"actor_id": "officer-2"}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login status %d: %s", res.StatusCode, string(data))
	}
	var login DevLoginResponse
	if err := json.Unmarshal(data, &login); err != nil || login.Token == "" {
		t.Fatalf("dev login token: %v %s", err, string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/cases", nil, map[string]string{"Authorization": "Bearer " + login.Token})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list with dev token status %d: %s", res.StatusCode, string(data))
	}
}

func TestInvalidateCloseValidateFlow(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	c := createCase(t, srv, "24/00100/HAPP")

	res, data := srv.call(t, http.MethodPost, "/v0/cases/"+c.ID+"/invalidate", map[string]any{
		"reason": "missing plan",
		"requests": []map[string]any{
			{"kind": "additional_document", "reason": "Missing floor plan"},
		},
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("invalidate status %d: %s", res.StatusCode, string(data))
	}
	var inv InvalidateResponse
	if err := json.Unmarshal(data, &inv); err != nil {
		t.Fatalf("unmarshal invalidate: %v", err)
	}
	if inv.Case.Status != domain.StatusInvalidated || len(inv.Requests) != 1 {
		t.Fatalf("unexpected invalidate response %s", string(data))
	}
	reqID := inv.Requests[0].ID

	res, data = srv.call(t, http.MethodPost, "/v0/cases/"+c.ID+"/validate", nil)
	env := expectError(t, res, data, http.StatusUnprocessableEntity, "OPEN_REQUESTS_EXIST")
	if env.Error.Details["request_ids"] != reqID {
		t.Fatalf("expected blocking request id in details, got %v", env.Error.Details)
	}

	res, data = srv.call(t, http.MethodPost, "/v0/requests/"+reqID+"/close", map[string]any{
		"response":     "uploaded",
		"document_ids": []string{"doc-1"},
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("close status %d: %s", res.StatusCode, string(data))
	}

	res, data = srv.call(t, http.MethodPost, "/v0/requests/"+reqID+"/close", map[string]any{"response": "again"})
	expectError(t, res, data, http.StatusUnprocessableEntity, "REQUEST_ALREADY_RESOLVED")

	res, data = srv.call(t, http.MethodPost, "/v0/cases/"+c.ID+"/validate", map[string]any{"as_of_date": "2024-01-08"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("validate status %d: %s", res.StatusCode, string(data))
	}
	var validated domain.Case
	if err := json.Unmarshal(data, &validated); err != nil {
		t.Fatal(err)
	}
	if validated.Status != domain.StatusInAssessment || validated.TargetDate == nil || *validated.TargetDate != "2024-02-26" {
		t.Fatalf("unexpected validated case %s", string(data))
	}

	res, data = srv.call(t, http.MethodGet, "/v0/cases/"+c.ID, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get case status %d: %s", res.StatusCode, string(data))
	}
	var detail engine.CaseDetail
	if err := json.Unmarshal(data, &detail); err != nil {
		t.Fatal(err)
	}
	if len(detail.Requests) != 1 || detail.Requests[0].State != domain.RequestClosed || len(detail.Documents) != 1 {
		t.Fatalf("unexpected case detail %s", string(data))
	}
}

func TestErrorStatusMapping(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	c := createCase(t, srv, "24/00101/HAPP")

	res, data := srv.call(t, http.MethodPost, "/v0/cases/"+c.ID+"/invalidate", map[string]any{"reason": " "})
	expectError(t, res, data, http.StatusBadRequest, "REASON_REQUIRED")

	res, data = srv.call(t, http.MethodPost, "/v0/cases/"+c.ID+"/invalidate", map[string]any{"reason": "nothing raised"})
	expectError(t, res, data, http.StatusUnprocessableEntity, "NO_REQUESTS_PROVIDED")

	res, data = srv.call(t, http.MethodPost, "/v0/cases/"+c.ID+"/requests", map[string]any{
		"kind": "fee_change", "reason": "fee", "payload": map[string]any{"suggested_amount_pence": 0},
	})
	expectError(t, res, data, http.StatusBadRequest, "INVALID_PAYLOAD_FOR_KIND")

	res, data = srv.call(t, http.MethodPost, "/v0/cases/missing/validate", nil)
	expectError(t, res, data, http.StatusNotFound, "NOT_FOUND")

	res, data = srv.call(t, http.MethodPost, "/v0/cases/"+c.ID+"/start-assessment", nil)
	expectError(t, res, data, http.StatusUnprocessableEntity, "INVALID_TRANSITION")

	res, data = srv.call(t, http.MethodPut, "/v0/cases/"+c.ID+"/checklist/site_visit", map[string]any{"done": true, "expected_version": c.Version + 5})
	expectError(t, res, data, http.StatusConflict, "STALE_STATE")

	res, data = srv.call(t, http.MethodPost, "/v0/cases", map[string]any{"reference": "x", "category": "mansion"})
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad category status %d: %s", res.StatusCode, string(data))
	}
}

func TestAuditPagination(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	c := createCase(t, srv, "24/00102/HAPP")
	for _, done := range []bool{true, false, true} {
		res, data := srv.call(t, http.MethodPut, "/v0/cases/"+c.ID+"/checklist/site_visit", map[string]any{"done": done})
		if res.StatusCode != http.StatusOK {
			t.Fatalf("checklist status %d: %s", res.StatusCode, string(data))
		}
	}
	res, data := srv.call(t, http.MethodGet, "/v0/cases/"+c.ID+"/audit?limit=3", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("audit status %d: %s", res.StatusCode, string(data))
	}
	var page paginatedAudit
	if err := json.Unmarshal(data, &page); err != nil {
		t.Fatal(err)
	}
	if len(page.Items) != 3 || page.NextCursor == "" || page.Items[0].Activity != "case_created" {
		t.Fatalf("unexpected first page %s", string(data))
	}
	res, data = srv.call(t, http.MethodGet, "/v0/cases/"+c.ID+"/audit?limit=3&cursor="+page.NextCursor, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("audit page 2 status %d: %s", res.StatusCode, string(data))
	}
	var next paginatedAudit
	if err := json.Unmarshal(data, &next); err != nil {
		t.Fatal(err)
	}
	if len(next.Items) != 1 || next.NextCursor != "" || next.Items[0].ActorID != "officer-1" {
		t.Fatalf("unexpected second page %s", string(data))
	}
	res, data = srv.call(t, http.MethodGet, "/v0/cases/"+c.ID+"/audit?cursor=abc", nil)
	expectError(t, res, data, http.StatusBadRequest, "bad_request")
}

func TestMetricsEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	createCase(t, srv, "24/00103/HAPP")

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/metrics", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("metrics status %d", res.StatusCode)
	}
	if !strings.Contains(string(data), `caseline_operations_total{operation="create_case",outcome="ok"} 1`) {
		t.Fatalf("create_case counter missing from metrics output")
	}
}

func TestRequestKindsAndOpenAPI(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := srv.call(t, http.MethodGet, "/v0/request-kinds", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("kinds status %d: %s", res.StatusCode, string(data))
	}
	var kinds []KindResponse
	if err := json.Unmarshal(data, &kinds); err != nil {
		t.Fatal(err)
	}
	if len(kinds) != len(domain.Kinds()) {
		t.Fatalf("expected %d kinds, got %d", len(domain.Kinds()), len(kinds))
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/openapi.json", nil, nil)
	if res.StatusCode != http.StatusOK || !strings.Contains(string(data), "close-request") {
		t.Fatalf("openapi status %d", res.StatusCode)
	}
}

func TestPathParametersReachEngine(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	c := createCase(t, srv, "24/00104/HAPP")

	res, data := srv.call(t, http.MethodPost, "/v0/cases/"+c.ID+"/requests", map[string]any{
		"kind": "additional_document", "reason": "Missing elevations",
	})
	if res.StatusCode != http.StatusOK && res.StatusCode != http.StatusCreated {
		t.Fatalf("create request status %d: %s", res.StatusCode, string(data))
	}
	var vr domain.ValidationRequest
	if err := json.Unmarshal(data, &vr); err != nil {
		t.Fatal(err)
	}
	if vr.CaseID != c.ID {
		t.Fatalf("request bound to case %q, want %q", vr.CaseID, c.ID)
	}

	res, data = srv.call(t, http.MethodPost, "/v0/requests/"+vr.ID+"/cancel", map[string]any{"reason": "raised in error"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("cancel status %d: %s", res.StatusCode, string(data))
	}
	var cancelled domain.ValidationRequest
	if err := json.Unmarshal(data, &cancelled); err != nil {
		t.Fatal(err)
	}
	if cancelled.ID != vr.ID || cancelled.State != domain.RequestCancelled {
		t.Fatalf("unexpected cancelled request %s", string(data))
	}

	res, data = srv.call(t, http.MethodPost, "/v0/cases/"+c.ID+"/withdraw", map[string]any{"reason": "applicant withdrew"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("withdraw status %d: %s", res.StatusCode, string(data))
	}
	var withdrawn domain.Case
	if err := json.Unmarshal(data, &withdrawn); err != nil {
		t.Fatal(err)
	}
	if withdrawn.ID != c.ID || withdrawn.Status != domain.StatusWithdrawn {
		t.Fatalf("unexpected withdrawn case %s", string(data))
	}
}

func TestSignedTokenCarriesOnlySubject(t *testing.T) {
	tok, err := SignToken(testSecret, "officer-9", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	p, err := authenticateJWT(tok, testSecret)
	if err != nil {
		t.Fatal(err)
	}
	if p.ActorID != "officer-9" || p.Source != "jwt" {
		t.Fatalf("unexpected principal %+v", p)
	}
	if _, err := authenticateJWT(tok, "other-secret"); err == nil {
		t.Fatal("token verified with the wrong secret")
	}
	if _, err := SignToken(testSecret, " ", time.Hour); err == nil {
		t.Fatal("blank actor signed")
	}
}
