package engine

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"caseline/internal/domain"
	"caseline/internal/engine/gate"
	"caseline/internal/engine/lifecycle"
	"caseline/internal/events"
)

// CaseCreateOptions are parameters for registering a case.
type CaseCreateOptions struct {
	ID             string
	Reference      string
	Category       string
	Description    string
	ApplicantEmail string
	PaymentAmount  int64
	FromProduction bool
	ActorID        string
}

func (e Engine) CreateCase(ctx context.Context, opts CaseCreateOptions) (_ domain.Case, err error) {
	defer func() { e.Metrics.IncrementOperation("create_case", outcome(err)) }()
	if err := requireActor(opts.ActorID); err != nil {
		return domain.Case{}, err
	}
	if strings.TrimSpace(opts.Reference) == "" {
		return domain.Case{}, domain.NewError(domain.CodeInvalidInput, "reference is required")
	}
	if _, ok := e.Config.Category(opts.Category); !ok {
		return domain.Case{}, domain.WithMetadata(domain.CodeInvalidInput, fmt.Sprintf("unknown case category %q", opts.Category), map[string]string{"category": opts.Category})
	}
	if opts.PaymentAmount < 0 {
		return domain.Case{}, domain.NewError(domain.CodeInvalidInput, "payment amount must not be negative")
	}
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	now := e.now().UTC().Format(time.RFC3339)
	c := domain.Case{
		ID:             id,
		Reference:      opts.Reference,
		Category:       opts.Category,
		Status:         domain.StatusNotStarted,
		Description:    opts.Description,
		ApplicantEmail: opts.ApplicantEmail,
		PaymentAmount:  opts.PaymentAmount,
		FromProduction: opts.FromProduction,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Case{}, err
	}
	defer tx.Rollback()

	_, err = e.Repo.GetCaseByReference(ctx, tx, c.Reference)
	switch {
	case err == nil:
		return domain.Case{}, domain.WithMetadata(domain.CodeInvalidInput, fmt.Sprintf("reference %s already exists", c.Reference), map[string]string{"reference": c.Reference})
	case !isNotFound(err):
		return domain.Case{}, fmt.Errorf("look up reference %s: %w", c.Reference, err)
	}
	if err := e.Repo.InsertCase(ctx, tx, c); err != nil {
		return domain.Case{}, err
	}
	if _, err := e.audit().Append(ctx, tx, events.Entry{
		CaseID:   c.ID,
		Activity: events.CaseCreated,
		ActorID:  opts.ActorID,
		To:       c.Status,
		Payload:  events.Payload{"reference": c.Reference, "category": c.Category},
	}); err != nil {
		return domain.Case{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Case{}, err
	}
	return c, nil
}

// RequestSpec describes a request raised as part of another operation.
type RequestSpec struct {
	Kind    string
	Payload []byte
	Reason  string
}

type InvalidateOptions struct {
	CaseID          string
	Reason          string
	Requests        []RequestSpec
	ActorID         string
	ExpectedVersion int
}

// Invalidate marks a not-yet-validated case invalid and opens every pending
// request, including the ones raised in this call.
func (e Engine) Invalidate(ctx context.Context, opts InvalidateOptions) (domain.Case, []domain.ValidationRequest, error) {
	if err := requireReason(opts.Reason); err != nil {
		return domain.Case{}, nil, err
	}
	decoded := make([]decodedSpec, 0, len(opts.Requests))
	for _, rs := range opts.Requests {
		d, err := decodeSpec(rs.Kind, rs.Payload, rs.Reason)
		if err != nil {
			return domain.Case{}, nil, err
		}
		decoded = append(decoded, d)
	}
	var opened []domain.ValidationRequest
	c, err := e.withCase(ctx, "invalidate", opts.CaseID, opts.ExpectedVersion, func(u *unit) error {
		from := u.c.Status
		if _, err := lifecycle.Next(from, lifecycle.Invalidate); err != nil {
			return err
		}
		existing, err := e.Repo.ListRequests(ctx, u.tx, u.c.ID)
		if err != nil {
			return err
		}
		var pending []domain.ValidationRequest
		for _, r := range existing {
			if r.State == domain.RequestPending {
				pending = append(pending, r)
			}
		}
		for _, d := range decoded {
			r, err := e.raiseRequest(ctx, u, d, opts.ActorID, existing)
			if err != nil {
				return err
			}
			existing = append(existing, r)
			pending = append(pending, r)
		}
		if len(pending) == 0 {
			return domain.ErrNoRequestsProvided
		}
		if err := lifecycle.Apply(&u.c, lifecycle.Invalidate, u.ts); err != nil {
			return err
		}
		ids := make([]string, 0, len(pending))
		for _, r := range pending {
			e.openRequest(u, &r)
			if err := e.Repo.UpdateRequest(ctx, u.tx, r, domain.RequestPending); err != nil {
				return err
			}
			opened = append(opened, r)
			ids = append(ids, r.ID)
		}
		u.record(events.Entry{
			Activity: events.CaseInvalidated,
			ActorID:  opts.ActorID,
			From:     from,
			To:       u.c.Status,
			Payload:  events.Payload{"reason": opts.Reason, "opened_request_ids": ids},
		})
		u.notify(events.CaseInvalidated, "", map[string]any{"reason": opts.Reason, "request_ids": ids})
		return nil
	})
	if err != nil {
		return domain.Case{}, nil, err
	}
	return c, opened, nil
}

type ValidateOptions struct {
	CaseID string
	// AsOf is the validation date (YYYY-MM-DD). Empty means the next business day
	// after the last blocking request was closed, or after now.
	AsOf            string
	ActorID         string
	ExpectedVersion int
}

func (e Engine) Validate(ctx context.Context, opts ValidateOptions) (domain.Case, error) {
	var asOf time.Time
	if opts.AsOf != "" {
		d, err := e.Calendar.ParseDate(opts.AsOf)
		if err != nil {
			return domain.Case{}, domain.Errorf(domain.CodeInvalidInput, "as-of date %q must be YYYY-MM-DD", opts.AsOf)
		}
		asOf = d
	}
	return e.withCase(ctx, "validate", opts.CaseID, opts.ExpectedVersion, func(u *unit) error {
		from := u.c.Status
		if _, err := lifecycle.Next(from, lifecycle.Validate); err != nil {
			return err
		}
		reqs, err := e.Repo.ListRequests(ctx, u.tx, u.c.ID)
		if err != nil {
			return err
		}
		if !gate.CanValidate(reqs) {
			open := gate.OpenRequests(reqs)
			return domain.WithMetadata(domain.CodeOpenRequestsExist,
				fmt.Sprintf("%d open validation request(s) must be closed or cancelled before validating", len(open)),
				map[string]string{"request_ids": strings.Join(open, ",")})
		}
		cat, ok := e.Config.Category(u.c.Category)
		if !ok {
			return fmt.Errorf("case %s has unconfigured category %s", u.c.ID, u.c.Category)
		}
		on := asOf
		if on.IsZero() {
			on = e.defaultValidationDate(u.c, reqs, u.now)
		}
		cancelled, err := e.cancelOutstanding(ctx, u, reqs, "superseded by validation")
		if err != nil {
			return err
		}
		if err := lifecycle.Apply(&u.c, lifecycle.Validate, u.ts); err != nil {
			return err
		}
		validatedOn := e.Calendar.Format(on)
		u.c.ValidatedOn = &validatedOn
		lifecycle.SetDeadlines(&u.c, e.Calendar, on, lifecycle.Periods{
			TargetDays:    cat.TargetDays,
			ExpiryDays:    cat.ExpiryDays,
			ExtensionDays: e.Config.Deadlines.EIAExtensionDays,
		})
		payload := events.Payload{
			"validated_on": validatedOn,
			"target_date":  *u.c.TargetDate,
			"expiry_date":  *u.c.ExpiryDate,
		}
		if len(cancelled) > 0 {
			payload["cancelled_request_ids"] = cancelled
		}
		u.record(events.Entry{Activity: events.CaseValidated, ActorID: opts.ActorID, From: from, To: u.c.Status, Payload: payload})
		u.notify(events.CaseValidated, "", map[string]any{"validated_on": validatedOn, "target_date": *u.c.TargetDate})
		return nil
	})
}

// defaultValidationDate is the next business day after the latest request close
// while invalidated, or after now.
func (e Engine) defaultValidationDate(c domain.Case, reqs []domain.ValidationRequest, now time.Time) time.Time {
	var latest time.Time
	if c.Status == domain.StatusInvalidated {
		for _, r := range reqs {
			if r.State != domain.RequestClosed || r.ClosedAt == nil {
				continue
			}
			t, err := time.Parse(time.RFC3339, *r.ClosedAt)
			if err == nil && t.After(latest) {
				latest = t
			}
		}
	}
	if latest.IsZero() {
		latest = now
	}
	return e.Calendar.NextBusinessDay(latest)
}

type TransitionOptions struct {
	CaseID          string
	ActorID         string
	ExpectedVersion int
}

func (e Engine) StartAssessment(ctx context.Context, opts TransitionOptions) (domain.Case, error) {
	return e.advance(ctx, opts, lifecycle.StartAssessment, events.AssessmentStarted)
}

func (e Engine) MarkToBeReviewed(ctx context.Context, opts TransitionOptions) (domain.Case, error) {
	return e.advance(ctx, opts, lifecycle.MarkToBeReviewed, events.MarkedToBeReviewed)
}

func (e Engine) SendForDetermination(ctx context.Context, opts TransitionOptions) (domain.Case, error) {
	return e.advance(ctx, opts, lifecycle.SendForDetermination, events.SentForDetermination)
}

func (e Engine) advance(ctx context.Context, opts TransitionOptions, ev lifecycle.Event, activity string) (domain.Case, error) {
	return e.withCase(ctx, string(ev), opts.CaseID, opts.ExpectedVersion, func(u *unit) error {
		from := u.c.Status
		if err := lifecycle.Apply(&u.c, ev, u.ts); err != nil {
			return err
		}
		u.record(events.Entry{Activity: activity, ActorID: opts.ActorID, From: from, To: u.c.Status})
		return nil
	})
}

type DetermineOptions struct {
	CaseID          string
	Decision        string
	ActorID         string
	ExpectedVersion int
}

func (e Engine) Determine(ctx context.Context, opts DetermineOptions) (domain.Case, error) {
	return e.withCase(ctx, "determine", opts.CaseID, opts.ExpectedVersion, func(u *unit) error {
		from := u.c.Status
		if _, err := lifecycle.Next(from, lifecycle.Determine); err != nil {
			return err
		}
		cat, ok := e.Config.Category(u.c.Category)
		if !ok {
			return fmt.Errorf("case %s has unconfigured category %s", u.c.ID, u.c.Category)
		}
		if !cat.AllowsDecision(opts.Decision) {
			return domain.WithMetadata(domain.CodeInvalidDecisionForCategory,
				fmt.Sprintf("decision %q is not allowed for %s cases; use one of %s", opts.Decision, u.c.Category, strings.Join(cat.Decisions, ", ")),
				map[string]string{"decision": opts.Decision, "category": u.c.Category})
		}
		reqs, err := e.Repo.ListRequests(ctx, u.tx, u.c.ID)
		if err != nil {
			return err
		}
		summary, err := e.Checklist.ChecklistSummary(ctx, u.tx, u.c.ID)
		if err != nil {
			return fmt.Errorf("checklist summary: %w", err)
		}
		if !gate.CanDetermine(reqs, summary, cat.Checklist) {
			open := gate.OpenRequests(reqs)
			missing := gate.MissingItems(summary, cat.Checklist)
			var parts []string
			if len(open) > 0 {
				parts = append(parts, fmt.Sprintf("%d open validation request(s)", len(open)))
			}
			if len(missing) > 0 {
				parts = append(parts, "incomplete checklist items: "+strings.Join(missing, ", "))
			}
			return domain.WithMetadata(domain.CodeGateFailed, "case cannot be determined: "+strings.Join(parts, "; "),
				map[string]string{"request_ids": strings.Join(open, ","), "missing_items": strings.Join(missing, ",")})
		}
		if err := lifecycle.Apply(&u.c, lifecycle.Determine, u.ts); err != nil {
			return err
		}
		decision := opts.Decision
		on := e.Calendar.Format(u.now)
		u.c.Decision = &decision
		u.c.DeterminedOn = &on
		u.record(events.Entry{
			Activity: events.CaseDetermined,
			ActorID:  opts.ActorID,
			From:     from,
			To:       u.c.Status,
			Payload:  events.Payload{"decision": decision, "determined_on": on},
		})
		u.notify(events.CaseDetermined, "", map[string]any{"decision": decision})
		return nil
	})
}

type EscapeOptions struct {
	CaseID          string
	Reason          string
	ActorID         string
	ExpectedVersion int
}

func (e Engine) Return(ctx context.Context, opts EscapeOptions) (domain.Case, error) {
	return e.escape(ctx, opts, lifecycle.Return, events.CaseReturned)
}

func (e Engine) Withdraw(ctx context.Context, opts EscapeOptions) (domain.Case, error) {
	return e.escape(ctx, opts, lifecycle.Withdraw, events.CaseWithdrawn)
}

func (e Engine) Close(ctx context.Context, opts EscapeOptions) (domain.Case, error) {
	return e.escape(ctx, opts, lifecycle.Close, events.CaseClosed)
}

// escape ends the case regardless of outstanding requests, cancelling them.
func (e Engine) escape(ctx context.Context, opts EscapeOptions, ev lifecycle.Event, activity string) (domain.Case, error) {
	if err := requireReason(opts.Reason); err != nil {
		return domain.Case{}, err
	}
	return e.withCase(ctx, string(ev), opts.CaseID, opts.ExpectedVersion, func(u *unit) error {
		from := u.c.Status
		to, err := lifecycle.Next(from, ev)
		if err != nil {
			return err
		}
		reqs, err := e.Repo.ListRequests(ctx, u.tx, u.c.ID)
		if err != nil {
			return err
		}
		cancelled, err := e.cancelOutstanding(ctx, u, reqs, fmt.Sprintf("case %s: %s", to, opts.Reason))
		if err != nil {
			return err
		}
		if err := lifecycle.Apply(&u.c, ev, u.ts); err != nil {
			return err
		}
		reason := opts.Reason
		u.c.ClosureReason = &reason
		payload := events.Payload{"reason": reason}
		if len(cancelled) > 0 {
			payload["cancelled_request_ids"] = cancelled
		}
		u.record(events.Entry{Activity: activity, ActorID: opts.ActorID, From: from, To: u.c.Status, Payload: payload})
		u.notify(activity, "", map[string]any{"reason": reason})
		return nil
	})
}

type ResetOptions struct {
	CaseID          string
	Reason          string
	ActorID         string
	ExpectedVersion int
}

// Reset puts a non-production case back to not_started, clearing its dates.
func (e Engine) Reset(ctx context.Context, opts ResetOptions) (domain.Case, error) {
	return e.withCase(ctx, "reset", opts.CaseID, opts.ExpectedVersion, func(u *unit) error {
		if u.c.FromProduction {
			return domain.WithMetadata(domain.CodeProductionCase, "production cases cannot be reset", map[string]string{"case_id": u.c.ID})
		}
		from := u.c.Status
		if _, err := lifecycle.Next(from, lifecycle.Reset); err != nil {
			return err
		}
		reqs, err := e.Repo.ListRequests(ctx, u.tx, u.c.ID)
		if err != nil {
			return err
		}
		cancelled, err := e.cancelOutstanding(ctx, u, reqs, "case reset")
		if err != nil {
			return err
		}
		u.c.Status = domain.StatusNotStarted
		u.c.Timestamps = domain.StatusTimestamps{}
		u.c.ValidatedOn, u.c.TargetDate, u.c.ExpiryDate = nil, nil, nil
		u.c.Decision, u.c.DeterminedOn, u.c.ClosureReason = nil, nil, nil
		u.record(events.Entry{
			Activity: events.CaseReset,
			ActorID:  opts.ActorID,
			From:     from,
			To:       u.c.Status,
			Payload:  events.Payload{"reason": opts.Reason, "cancelled_request_ids": cancelled},
		})
		return nil
	})
}

type EIAOptions struct {
	CaseID          string
	Required        bool
	ActorID         string
	ExpectedVersion int
}

// SetEIARequired records whether an environmental impact assessment is required,
// moving current deadlines by the configured extension when the flag changes.
func (e Engine) SetEIARequired(ctx context.Context, opts EIAOptions) (domain.Case, error) {
	return e.withCase(ctx, "set_eia", opts.CaseID, opts.ExpectedVersion, func(u *unit) error {
		if domain.IsTerminal(u.c.Status) {
			return terminal(u.c)
		}
		before := u.c.EIARequired
		payload := events.Payload{"target_date_before": deref(u.c.TargetDate), "expiry_date_before": deref(u.c.ExpiryDate)}
		if before != opts.Required {
			days := e.Config.Deadlines.EIAExtensionDays
			if !opts.Required {
				days = -days
			}
			if err := lifecycle.ShiftDeadlines(&u.c, e.Calendar, days); err != nil {
				return err
			}
			u.c.EIARequired = opts.Required
		}
		payload["target_date"] = deref(u.c.TargetDate)
		payload["expiry_date"] = deref(u.c.ExpiryDate)
		u.record(events.Entry{
			Activity: events.EIAUpdated,
			ActorID:  opts.ActorID,
			From:     strconv.FormatBool(before),
			To:       strconv.FormatBool(opts.Required),
			Payload:  payload,
		})
		return nil
	})
}

type ChecklistOptions struct {
	CaseID          string
	Item            string
	Done            bool
	ActorID         string
	ExpectedVersion int
}

func (e Engine) SetChecklistItem(ctx context.Context, opts ChecklistOptions) (domain.Case, error) {
	item := strings.TrimSpace(opts.Item)
	if item == "" {
		return domain.Case{}, domain.NewError(domain.CodeInvalidInput, "checklist item is required")
	}
	return e.withCase(ctx, "set_checklist_item", opts.CaseID, opts.ExpectedVersion, func(u *unit) error {
		if domain.IsTerminal(u.c.Status) {
			return terminal(u.c)
		}
		summary, err := e.Repo.ChecklistSummary(ctx, u.tx, u.c.ID)
		if err != nil {
			return err
		}
		if err := e.Repo.SetChecklistItem(ctx, u.tx, domain.ChecklistItem{
			CaseID: u.c.ID, Item: item, Done: opts.Done, UpdatedBy: opts.ActorID, UpdatedAt: u.ts,
		}); err != nil {
			return err
		}
		u.record(events.Entry{
			Activity: events.ChecklistUpdated,
			ActorID:  opts.ActorID,
			From:     strconv.FormatBool(summary[item]),
			To:       strconv.FormatBool(opts.Done),
			Payload:  events.Payload{"item": item},
		})
		return nil
	})
}

func terminal(c domain.Case) error {
	return domain.WithMetadata(domain.CodeCaseTerminal, fmt.Sprintf("case %s is %s", c.Reference, c.Status), map[string]string{"status": c.Status})
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// CaseDetail is a case with everything it owns.
type CaseDetail struct {
	Case                 domain.Case                  `json:"case"`
	Requests             []domain.ValidationRequest   `json:"requests"`
	Checklist            []domain.ChecklistItem       `json:"checklist"`
	Documents            []domain.DocumentRef         `json:"documents"`
	Terms                []domain.Term                `json:"terms"`
	OwnershipCertificate *domain.OwnershipCertificate `json:"ownership_certificate,omitempty"`
}

func (e Engine) GetCase(ctx context.Context, id string) (CaseDetail, error) {
	c, err := e.Repo.GetCase(ctx, nil, id)
	if err != nil {
		return CaseDetail{}, notFound(err, "case", id)
	}
	d := CaseDetail{Case: c}
	if d.Requests, err = e.Repo.ListRequests(ctx, nil, id); err != nil {
		return d, err
	}
	if d.Checklist, err = e.Repo.ListChecklist(ctx, nil, id); err != nil {
		return d, err
	}
	if d.Documents, err = e.Repo.ListDocuments(ctx, nil, id); err != nil {
		return d, err
	}
	if d.Terms, err = e.Repo.ListTerms(ctx, nil, id); err != nil {
		return d, err
	}
	cert, err := e.Repo.GetOwnershipCertificate(ctx, nil, id)
	switch {
	case err == nil:
		d.OwnershipCertificate = &cert
	case !isNotFound(err):
		return d, err
	}
	return d, nil
}

// AuditLog returns a case's audit entries after cursor, oldest first.
func (e Engine) AuditLog(ctx context.Context, caseID string, limit int, cursor int64) ([]domain.AuditEntry, error) {
	if _, err := e.Repo.GetCase(ctx, nil, caseID); err != nil {
		return nil, notFound(err, "case", caseID)
	}
	return e.Repo.ListAudit(ctx, caseID, limit, cursor)
}
