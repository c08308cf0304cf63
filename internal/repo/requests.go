package repo

import (
	"context"
	"database/sql"
	"fmt"

	"caseline/internal/domain"
)

const requestColumns = `id,case_id,sequence,kind,state,reason,payload_json,response,approved,cancel_reason,cancelled_at,
post_validation,auto_closed,opened_at,response_due,closed_at,closed_by,created_by,created_at,updated_at`

func scanRequest(row rowScanner) (domain.ValidationRequest, error) {
	var (
		v        domain.ValidationRequest
		payload  string
		approved sql.NullBool
	)
	err := row.Scan(&v.ID, &v.CaseID, &v.Sequence, &v.Kind, &v.State, &v.Reason, &payload, &v.Response, &approved,
		&v.CancelReason, &v.CancelledAt, &v.PostValidation, &v.AutoClosed, &v.OpenedAt, &v.ResponseDue, &v.ClosedAt,
		&v.ClosedBy, &v.CreatedBy, &v.CreatedAt, &v.UpdatedAt)
	if err == sql.ErrNoRows {
		return v, ErrNotFound
	}
	if err != nil {
		return v, err
	}
	v.Payload = []byte(payload)
	v.Approved = boolPtr(approved)
	return v, nil
}

func (r Repo) InsertRequest(ctx context.Context, q Querier, v domain.ValidationRequest) error {
	payload := string(v.Payload)
	if payload == "" {
		payload = "{}"
	}
	_, err := r.q(q).ExecContext(ctx, `INSERT INTO validation_requests(`+requestColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		v.ID, v.CaseID, v.Sequence, v.Kind, v.State, v.Reason, payload, v.Response, v.Approved, v.CancelReason, v.CancelledAt,
		v.PostValidation, v.AutoClosed, v.OpenedAt, v.ResponseDue, v.ClosedAt, v.ClosedBy, v.CreatedBy, v.CreatedAt, v.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert request: %w", err)
	}
	return nil
}

// UpdateRequest persists v provided the stored row is still in fromState.
// Rows already closed or cancelled are never rewritten.
func (r Repo) UpdateRequest(ctx context.Context, q Querier, v domain.ValidationRequest, fromState string) error {
	res, err := r.q(q).ExecContext(ctx, `UPDATE validation_requests SET state=?,response=?,approved=?,cancel_reason=?,cancelled_at=?,
auto_closed=?,opened_at=?,response_due=?,closed_at=?,closed_by=?,updated_at=?
WHERE id=? AND state=? AND state NOT IN ('closed','cancelled')`,
		v.State, v.Response, v.Approved, v.CancelReason, v.CancelledAt, v.AutoClosed, v.OpenedAt, v.ResponseDue,
		v.ClosedAt, v.ClosedBy, v.UpdatedAt, v.ID, fromState)
	if err != nil {
		return fmt.Errorf("update request: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrVersionMismatch
	}
	return nil
}

func (r Repo) GetRequest(ctx context.Context, q Querier, id string) (domain.ValidationRequest, error) {
	return scanRequest(r.q(q).QueryRowContext(ctx, `SELECT `+requestColumns+` FROM validation_requests WHERE id=?`, id))
}

// ListRequests returns a case's requests in creation order.
func (r Repo) ListRequests(ctx context.Context, q Querier, caseID string) ([]domain.ValidationRequest, error) {
	rows, err := r.q(q).QueryContext(ctx, `SELECT `+requestColumns+` FROM validation_requests WHERE case_id=? ORDER BY sequence`, caseID)
	if err != nil {
		return nil, err
	}
	return collectRequests(rows)
}

// ListOpenRequestsOfKind returns open requests of kind across all cases, oldest first.
func (r Repo) ListOpenRequestsOfKind(ctx context.Context, kind string) ([]domain.ValidationRequest, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+requestColumns+` FROM validation_requests WHERE kind=? AND state='open' ORDER BY opened_at, id`, kind)
	if err != nil {
		return nil, err
	}
	return collectRequests(rows)
}

func collectRequests(rows *sql.Rows) ([]domain.ValidationRequest, error) {
	defer rows.Close()
	var res []domain.ValidationRequest
	for rows.Next() {
		v, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, v)
	}
	return res, rows.Err()
}

// NextRequestSequence returns the next per-case request number.
func (r Repo) NextRequestSequence(ctx context.Context, q Querier, caseID string) (int, error) {
	var n int
	if err := r.q(q).QueryRowContext(ctx, `SELECT COALESCE(MAX(sequence),0)+1 FROM validation_requests WHERE case_id=?`, caseID).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
