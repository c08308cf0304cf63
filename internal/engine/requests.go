package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"caseline/internal/domain"
	"caseline/internal/engine/lifecycle"
	"caseline/internal/events"
	"caseline/internal/repo"
)

type decodedSpec struct {
	spec    domain.KindSpec
	payload domain.Payload
	reason  string
}

func decodeSpec(kind string, raw []byte, reason string) (decodedSpec, error) {
	if err := requireReason(reason); err != nil {
		return decodedSpec{}, err
	}
	p, err := domain.DecodePayload(kind, raw)
	if err != nil {
		return decodedSpec{}, err
	}
	spec, _ := domain.LookupKind(kind)
	return decodedSpec{spec: spec, payload: p, reason: reason}, nil
}

// raiseRequest inserts a new request against u.c. It starts pending while the
// case is not_started and open otherwise.
func (e Engine) raiseRequest(ctx context.Context, u *unit, d decodedSpec, actorID string, existing []domain.ValidationRequest) (domain.ValidationRequest, error) {
	if domain.IsTerminal(u.c.Status) {
		return domain.ValidationRequest{}, terminal(u.c)
	}
	validated := lifecycle.EverValidated(u.c)
	if (d.spec.Phase == domain.PhaseIntake && validated) || (d.spec.Phase == domain.PhaseAssessment && !validated) {
		return domain.ValidationRequest{}, domain.WithMetadata(domain.CodeKindNotPermitted,
			fmt.Sprintf("%s requests can only be raised during %s", d.spec.Kind, d.spec.Phase),
			map[string]string{"kind": d.spec.Kind, "phase": d.spec.Phase.String()})
	}
	if d.spec.Singular {
		for _, r := range existing {
			if r.Kind == d.spec.Kind && domain.Outstanding(r.State) {
				return domain.ValidationRequest{}, domain.WithMetadata(domain.CodeDuplicateOpenRequest,
					fmt.Sprintf("request %d (%s) is still outstanding", r.Sequence, r.Kind),
					map[string]string{"kind": r.Kind, "request_id": r.ID})
			}
		}
	}
	if te, ok := d.payload.(*domain.TimeExtensionPayload); ok {
		if err := e.checkExtension(u.c, te); err != nil {
			return domain.ValidationRequest{}, err
		}
	}
	seq, err := e.Repo.NextRequestSequence(ctx, u.tx, u.c.ID)
	if err != nil {
		return domain.ValidationRequest{}, err
	}
	data, err := json.Marshal(d.payload)
	if err != nil {
		return domain.ValidationRequest{}, fmt.Errorf("marshal payload: %w", err)
	}
	r := domain.ValidationRequest{
		ID:             uuid.NewString(),
		CaseID:         u.c.ID,
		Sequence:       seq,
		Kind:           d.spec.Kind,
		State:          domain.RequestPending,
		Reason:         d.reason,
		Payload:        data,
		PostValidation: validated,
		CreatedBy:      actorID,
		CreatedAt:      u.ts,
		UpdatedAt:      u.ts,
	}
	if u.c.Status != domain.StatusNotStarted {
		e.openRequest(u, &r)
	}
	if d.spec.ValidityItem != "" {
		u.c.Validity.Set(d.spec.ValidityItem, false)
	}
	if err := e.Repo.InsertRequest(ctx, u.tx, r); err != nil {
		return domain.ValidationRequest{}, err
	}
	return r, nil
}

func (e Engine) checkExtension(c domain.Case, p *domain.TimeExtensionPayload) error {
	if c.ExpiryDate == nil {
		return domain.NewError(domain.CodeKindNotPermitted, "case has no expiry date to extend")
	}
	proposed, err := e.Calendar.ParseDate(p.ProposedExpiryDate)
	if err != nil {
		return domain.Errorf(domain.CodeInvalidPayloadForKind, "invalid proposed expiry date %q", p.ProposedExpiryDate)
	}
	if !e.Calendar.IsBusinessDay(proposed) {
		return domain.WithMetadata(domain.CodeInvalidPayloadForKind,
			fmt.Sprintf("proposed expiry date %s is not a business day", p.ProposedExpiryDate),
			map[string]string{"kind": domain.KindTimeExtension, "next_business_day": e.Calendar.Format(e.Calendar.NextBusinessDay(proposed))})
	}
	current, err := e.Calendar.ParseDate(*c.ExpiryDate)
	if err != nil {
		return err
	}
	if !proposed.After(current) {
		return domain.WithMetadata(domain.CodeInvalidPayloadForKind,
			fmt.Sprintf("proposed expiry date %s must be after the current expiry date %s", p.ProposedExpiryDate, *c.ExpiryDate),
			map[string]string{"kind": domain.KindTimeExtension})
	}
	return nil
}

func (e Engine) openRequest(u *unit, r *domain.ValidationRequest) {
	due := e.Calendar.Format(e.Calendar.AddBusinessDays(u.now, e.Config.Requests.ResponseDueDays))
	ts := u.ts
	r.State = domain.RequestOpen
	r.OpenedAt = &ts
	r.ResponseDue = &due
	r.UpdatedAt = ts
}

// cancelOutstanding cancels every pending or open request and returns their ids.
func (e Engine) cancelOutstanding(ctx context.Context, u *unit, reqs []domain.ValidationRequest, reason string) ([]string, error) {
	var ids []string
	for _, r := range reqs {
		if !domain.Outstanding(r.State) {
			continue
		}
		from := r.State
		ts := u.ts
		why := reason
		r.State = domain.RequestCancelled
		r.CancelReason = &why
		r.CancelledAt = &ts
		r.UpdatedAt = ts
		if err := e.Repo.UpdateRequest(ctx, u.tx, r, from); err != nil {
			return nil, err
		}
		u.resolvedRequest(r.Kind, r.State)
		ids = append(ids, r.ID)
	}
	return ids, nil
}

type RequestCreateOptions struct {
	CaseID          string
	Kind            string
	Payload         []byte
	Reason          string
	ActorID         string
	ExpectedVersion int
}

func (e Engine) CreateRequest(ctx context.Context, opts RequestCreateOptions) (domain.ValidationRequest, error) {
	d, err := decodeSpec(opts.Kind, opts.Payload, opts.Reason)
	if err != nil {
		e.Metrics.IncrementOperation("create_request", outcome(err))
		return domain.ValidationRequest{}, err
	}
	var created domain.ValidationRequest
	_, err = e.withCase(ctx, "create_request", opts.CaseID, opts.ExpectedVersion, func(u *unit) error {
		existing, err := e.Repo.ListRequests(ctx, u.tx, u.c.ID)
		if err != nil {
			return err
		}
		created, err = e.raiseRequest(ctx, u, d, opts.ActorID, existing)
		if err != nil {
			return err
		}
		u.record(events.Entry{
			RequestID: created.ID,
			Activity:  events.RequestCreated,
			ActorID:   opts.ActorID,
			To:        created.State,
			Payload:   events.Payload{"kind": created.Kind, "reason": created.Reason, "post_validation": created.PostValidation},
		})
		if created.State == domain.RequestOpen {
			u.notify("request_opened", created.ID, map[string]any{"kind": created.Kind, "response_due": deref(created.ResponseDue)})
		}
		return nil
	})
	if err != nil {
		return domain.ValidationRequest{}, err
	}
	return created, nil
}

type CloseRequestOptions struct {
	RequestID string
	Response  string
	// Approved is the applicant's acceptance for kinds that propose a change.
	Approved *bool
	// ByOfficer closes kinds the officer may resolve directly without a response.
	ByOfficer       bool
	DocumentIDs     []string
	Certificate     *domain.OwnershipCertificate
	ActorID         string
	ExpectedVersion int

	auto bool
}

// CloseRequest records the outcome of an open request and applies its effect to
// the case in the same transaction.
func (e Engine) CloseRequest(ctx context.Context, opts CloseRequestOptions) (domain.ValidationRequest, error) {
	caseID, err := e.requestCase(ctx, opts.RequestID)
	if err != nil {
		e.Metrics.IncrementOperation("close_request", outcome(err))
		return domain.ValidationRequest{}, err
	}
	var closed domain.ValidationRequest
	_, err = e.withCase(ctx, "close_request", caseID, opts.ExpectedVersion, func(u *unit) error {
		r, err := e.Repo.GetRequest(ctx, u.tx, opts.RequestID)
		if err != nil {
			return notFound(err, "request", opts.RequestID)
		}
		if err := closable(r); err != nil {
			return err
		}
		spec, ok := domain.LookupKind(r.Kind)
		if !ok {
			return fmt.Errorf("request %s has unknown kind %s", r.ID, r.Kind)
		}
		approved := opts.Approved
		response := strings.TrimSpace(opts.Response)
		if opts.auto || (opts.ByOfficer && spec.OfficerResolves) {
			yes := true
			approved = &yes
		} else {
			if response == "" {
				return domain.ErrResponseRequired
			}
			if spec.Approvable && approved == nil {
				return domain.WithMetadata(domain.CodeApprovalRequired,
					fmt.Sprintf("%s requests must be closed as approved or rejected", r.Kind), map[string]string{"kind": r.Kind})
			}
		}
		accepted := approved == nil || *approved
		if accepted {
			if err := e.applyEffect(ctx, u, r, opts); err != nil {
				return err
			}
			if spec.ValidityItem != "" {
				others, err := e.Repo.ListRequests(ctx, u.tx, u.c.ID)
				if err != nil {
					return err
				}
				if !outstandingForItem(others, spec.ValidityItem, r.ID) {
					u.c.Validity.Set(spec.ValidityItem, true)
				}
			}
		}
		ts := u.ts
		actor := opts.ActorID
		r.State = domain.RequestClosed
		if response != "" {
			r.Response = &response
		}
		r.Approved = approved
		r.AutoClosed = opts.auto
		r.ClosedAt = &ts
		r.ClosedBy = &actor
		r.UpdatedAt = ts
		if err := e.Repo.UpdateRequest(ctx, u.tx, r, domain.RequestOpen); err != nil {
			return err
		}
		activity := events.RequestClosed
		if opts.auto {
			activity = events.RequestAutoClosed
		}
		payload := events.Payload{"kind": r.Kind, "applied": accepted}
		if approved != nil {
			payload["approved"] = *approved
		}
		if opts.ByOfficer {
			payload["by_officer"] = true
		}
		u.record(events.Entry{RequestID: r.ID, Activity: activity, ActorID: opts.ActorID, From: domain.RequestOpen, To: r.State, Payload: payload})
		u.notify(events.RequestClosed, r.ID, map[string]any{"kind": r.Kind, "approved": approved})
		u.resolvedRequest(r.Kind, r.State)
		closed = r
		return nil
	})
	if err != nil {
		return domain.ValidationRequest{}, err
	}
	return closed, nil
}

func closable(r domain.ValidationRequest) error {
	switch r.State {
	case domain.RequestOpen:
		return nil
	case domain.RequestPending:
		return domain.WithMetadata(domain.CodeRequestNotOpen,
			fmt.Sprintf("request %d has not been sent to the applicant yet", r.Sequence), map[string]string{"request_id": r.ID, "state": r.State})
	default:
		return domain.WithMetadata(domain.CodeRequestAlreadyResolved,
			fmt.Sprintf("request %d is already %s", r.Sequence, r.State), map[string]string{"request_id": r.ID, "state": r.State})
	}
}

func outstandingForItem(reqs []domain.ValidationRequest, item, exceptID string) bool {
	for _, r := range reqs {
		if r.ID == exceptID || !domain.Outstanding(r.State) {
			continue
		}
		if spec, ok := domain.LookupKind(r.Kind); ok && spec.ValidityItem == item {
			return true
		}
	}
	return false
}

// applyEffect runs the kind's close effect. Validation failures pass through;
// anything else becomes a side-effect failure and aborts the close.
func (e Engine) applyEffect(ctx context.Context, u *unit, r domain.ValidationRequest, opts CloseRequestOptions) error {
	effects := e.Effects
	if effects == nil {
		effects = DefaultEffects()
	}
	effect, ok := effects[r.Kind]
	if !ok {
		return fmt.Errorf("no close effect registered for %s", r.Kind)
	}
	payload, err := domain.DecodePayload(r.Kind, r.Payload)
	if err != nil {
		return err
	}
	err = effect(ctx, EffectInput{
		Tx:        u.tx,
		Repo:      e.Repo,
		Calendar:  e.Calendar,
		Documents: e.Documents,
		Case:      &u.c,
		Request:   r,
		Payload:   payload,
		Close:     opts,
		Timestamp: u.ts,
	})
	if err == nil {
		return nil
	}
	if de, ok := domain.AsError(err); ok && de.Kind() == domain.KindValidationFailure {
		return err
	}
	e.logger().Error("request close side effect failed", "case_id", u.c.ID, "request_id", r.ID, "kind", r.Kind, "error", err)
	return &domain.Error{
		Code:     domain.CodeSideEffectFailed,
		Message:  fmt.Sprintf("could not apply %s outcome to the case; the request is still open", r.Kind),
		Metadata: map[string]string{"request_id": r.ID, "kind": r.Kind},
		Cause:    err,
	}
}

type CancelRequestOptions struct {
	RequestID       string
	Reason          string
	ActorID         string
	ExpectedVersion int
}

// CancelRequest withdraws a pending or open request. Pending requests were never
// sent, so cancelling them notifies nobody.
func (e Engine) CancelRequest(ctx context.Context, opts CancelRequestOptions) (domain.ValidationRequest, error) {
	if err := requireReason(opts.Reason); err != nil {
		e.Metrics.IncrementOperation("cancel_request", outcome(err))
		return domain.ValidationRequest{}, err
	}
	caseID, err := e.requestCase(ctx, opts.RequestID)
	if err != nil {
		e.Metrics.IncrementOperation("cancel_request", outcome(err))
		return domain.ValidationRequest{}, err
	}
	var cancelled domain.ValidationRequest
	_, err = e.withCase(ctx, "cancel_request", caseID, opts.ExpectedVersion, func(u *unit) error {
		r, err := e.Repo.GetRequest(ctx, u.tx, opts.RequestID)
		if err != nil {
			return notFound(err, "request", opts.RequestID)
		}
		if domain.Resolved(r.State) {
			return domain.WithMetadata(domain.CodeRequestAlreadyResolved,
				fmt.Sprintf("request %d is already %s", r.Sequence, r.State), map[string]string{"request_id": r.ID, "state": r.State})
		}
		if domain.IsTerminal(u.c.Status) {
			return terminal(u.c)
		}
		from := r.State
		ts := u.ts
		reason := opts.Reason
		r.State = domain.RequestCancelled
		r.CancelReason = &reason
		r.CancelledAt = &ts
		r.UpdatedAt = ts
		if err := e.Repo.UpdateRequest(ctx, u.tx, r, from); err != nil {
			return err
		}
		u.record(events.Entry{
			RequestID: r.ID,
			Activity:  events.RequestCancelled,
			ActorID:   opts.ActorID,
			From:      from,
			To:        r.State,
			Payload:   events.Payload{"kind": r.Kind, "reason": reason},
		})
		if from == domain.RequestOpen {
			u.notify(events.RequestCancelled, r.ID, map[string]any{"kind": r.Kind, "reason": reason})
		}
		u.resolvedRequest(r.Kind, r.State)
		cancelled = r
		return nil
	})
	if err != nil {
		return domain.ValidationRequest{}, err
	}
	return cancelled, nil
}

// SystemActor is recorded for changes made by background jobs.
const SystemActor = "system"

// AutoCloseRequests closes open requests of auto-closing kinds once the
// configured number of business days has passed since they were opened.
func (e Engine) AutoCloseRequests(ctx context.Context) ([]domain.ValidationRequest, error) {
	days := e.Config.Requests.DescriptionAutoCloseDays
	if days <= 0 {
		return nil, nil
	}
	today := e.Calendar.Date(e.now())
	var (
		closed []domain.ValidationRequest
		errs   []error
	)
	for _, kind := range domain.Kinds() {
		spec, _ := domain.LookupKind(kind)
		if !spec.AutoCloses {
			continue
		}
		open, err := e.Repo.ListOpenRequestsOfKind(ctx, kind)
		if err != nil {
			return closed, err
		}
		for _, r := range open {
			if r.OpenedAt == nil {
				continue
			}
			opened, err := time.Parse(time.RFC3339, *r.OpenedAt)
			if err != nil {
				errs = append(errs, fmt.Errorf("request %s opened_at: %w", r.ID, err))
				continue
			}
			if today.Before(e.Calendar.AddBusinessDays(opened, days)) {
				continue
			}
			c, err := e.CloseRequest(ctx, CloseRequestOptions{
				RequestID: r.ID,
				Response:  "Automatically accepted after " + strconv.Itoa(days) + " business days without a response",
				ActorID:   SystemActor,
				auto:      true,
			})
			if err != nil {
				if errors.Is(err, domain.ErrRequestAlreadyResolved) {
					continue
				}
				e.logger().Warn("auto-close failed", "request_id", r.ID, "case_id", r.CaseID, "error", err)
				errs = append(errs, err)
				continue
			}
			closed = append(closed, c)
		}
	}
	return closed, errors.Join(errs...)
}

func (e Engine) requestCase(ctx context.Context, requestID string) (string, error) {
	r, err := e.Repo.GetRequest(ctx, nil, requestID)
	if err != nil {
		return "", notFound(err, "request", requestID)
	}
	return r.CaseID, nil
}

func (e Engine) GetRequest(ctx context.Context, id string) (domain.ValidationRequest, error) {
	r, err := e.Repo.GetRequest(ctx, nil, id)
	if err != nil {
		return r, notFound(err, "request", id)
	}
	return r, nil
}

func (e Engine) ListRequests(ctx context.Context, caseID string) ([]domain.ValidationRequest, error) {
	if _, err := e.Repo.GetCase(ctx, nil, caseID); err != nil {
		return nil, notFound(err, "case", caseID)
	}
	return e.Repo.ListRequests(ctx, nil, caseID)
}

func isNotFound(err error) bool {
	return errors.Is(err, repo.ErrNotFound)
}
