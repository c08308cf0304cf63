package caselinesdk_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"caseline/internal/config"
	"caseline/internal/db"
	"caseline/internal/engine"
	"caseline/internal/migrate"
	"caseline/internal/server"
	caselinesdk "caseline/sdk/go"
)

func newClient(t *testing.T) *caselinesdk.Client {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e, err := engine.New(conn, config.Default())
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	handler, err := server.New(server.Config{Engine: e, Auth: server.AuthConfig{JWTSecret: "sdk-secret"}})
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	token, err := server.SignToken("sdk-secret", "officer-sdk", time.Hour)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	return caselinesdk.New(ts.URL, token)
}

func TestClientCaseFlow(t *testing.T) {
	ctx := context.Background()
	cl := newClient(t)

	c, err := cl.CreateCase(ctx, caselinesdk.CreateCaseInput{Reference: "24/00200/HAPP", Category: "householder", ApplicantEmail: "a@example.com"})
	if err != nil {
		t.Fatalf("create case: %v", err)
	}
	c, reqs, err := cl.Invalidate(ctx, c.ID, "fee", []caselinesdk.RequestSpec{{
		Kind: "fee_change", Payload: map[string]any{"suggested_amount_pence": 25800}, Reason: "No fee paid",
	}})
	if err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if c.Status != "invalidated" || len(reqs) != 1 || reqs[0].State != "open" {
		t.Fatalf("unexpected invalidate result %+v %+v", c, reqs)
	}

	_, err = cl.Validate(ctx, c.ID, "")
	var apiErr *caselinesdk.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnprocessableEntity || apiErr.Code != "OPEN_REQUESTS_EXIST" {
		t.Fatalf("expected OPEN_REQUESTS_EXIST, got %v", err)
	}

	if _, err := cl.CloseRequest(ctx, reqs[0].ID, caselinesdk.CloseInput{Response: "paid"}); err != nil {
		t.Fatalf("close: %v", err)
	}
	c, err = cl.Validate(ctx, c.ID, "")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if c.Status != "in_assessment" || c.PaymentAmount != 25800 || c.TargetDate == nil {
		t.Fatalf("unexpected validated case %+v", c)
	}

	for _, step := range []string{"start-assessment", "mark-to-be-reviewed", "send-for-determination"} {
		if c, err = cl.Transition(ctx, c.ID, step); err != nil {
			t.Fatalf("%s: %v", step, err)
		}
	}
	if c.Status != "awaiting_determination" {
		t.Fatalf("status %s", c.Status)
	}
	if _, err := cl.Escape(ctx, c.ID, "withdraw", "applicant request"); err != nil {
		t.Fatalf("withdraw: %v", err)
	}

	page, err := cl.AuditPage(ctx, c.ID, 100, "")
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if len(page.Items) != 8 || page.Items[7].Activity != "case_withdrawn" || page.Items[7].ActorID != "officer-sdk" {
		t.Fatalf("unexpected audit trail %+v", page.Items)
	}

	cases, err := cl.ListCases(ctx, "withdrawn", 10)
	if err != nil || len(cases) != 1 {
		t.Fatalf("list withdrawn: %v %v", cases, err)
	}
}
