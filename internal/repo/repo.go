package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"caseline/internal/domain"
)

// Querier is satisfied by *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Repo struct {
	DB *sql.DB
}

// ErrNotFound matches domain.ErrNotFound under errors.Is.
var ErrNotFound = domain.ErrNotFound

// ErrVersionMismatch reports an optimistic update that matched no row.
var ErrVersionMismatch = errors.New("case version mismatch")

func (r Repo) q(q Querier) Querier {
	if q == nil {
		return r.DB
	}
	return q
}

const caseColumns = `id,reference,category,status,description,applicant_email,payment_amount,boundary_geojson,
eia_required,from_production,validated_on,target_date,expiry_date,decision,determined_on,closure_reason,
valid_description,valid_fee,valid_red_line_boundary,valid_ownership_certificate,valid_documents,
invalidated_at,validated_at,assessment_started_at,to_be_reviewed_at,awaiting_determination_at,
determined_at,returned_at,withdrawn_at,closed_at,version,created_at,updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCase(row rowScanner) (domain.Case, error) {
	var (
		c        domain.Case
		email    sql.NullString
		validity [5]sql.NullBool
	)
	ts := &c.Timestamps
	err := row.Scan(&c.ID, &c.Reference, &c.Category, &c.Status, &c.Description, &email, &c.PaymentAmount, &c.BoundaryGeoJSON,
		&c.EIARequired, &c.FromProduction, &c.ValidatedOn, &c.TargetDate, &c.ExpiryDate, &c.Decision, &c.DeterminedOn, &c.ClosureReason,
		&validity[0], &validity[1], &validity[2], &validity[3], &validity[4],
		&ts.InvalidatedAt, &ts.ValidatedAt, &ts.AssessmentStartedAt, &ts.ToBeReviewedAt, &ts.AwaitingDeterminationAt,
		&ts.DeterminedAt, &ts.ReturnedAt, &ts.WithdrawnAt, &ts.ClosedAt, &c.Version, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	c.ApplicantEmail = email.String
	c.Validity.Description = boolPtr(validity[0])
	c.Validity.Fee = boolPtr(validity[1])
	c.Validity.RedLineBoundary = boolPtr(validity[2])
	c.Validity.OwnershipCertificate = boolPtr(validity[3])
	c.Validity.Documents = boolPtr(validity[4])
	return c, nil
}

func caseArgs(c domain.Case) []any {
	ts := c.Timestamps
	v := c.Validity
	return []any{c.Reference, c.Category, c.Status, c.Description, nullable(c.ApplicantEmail), c.PaymentAmount, c.BoundaryGeoJSON,
		c.EIARequired, c.FromProduction, c.ValidatedOn, c.TargetDate, c.ExpiryDate, c.Decision, c.DeterminedOn, c.ClosureReason,
		v.Description, v.Fee, v.RedLineBoundary, v.OwnershipCertificate, v.Documents,
		ts.InvalidatedAt, ts.ValidatedAt, ts.AssessmentStartedAt, ts.ToBeReviewedAt, ts.AwaitingDeterminationAt,
		ts.DeterminedAt, ts.ReturnedAt, ts.WithdrawnAt, ts.ClosedAt}
}

func (r Repo) InsertCase(ctx context.Context, q Querier, c domain.Case) error {
	args := append([]any{c.ID}, caseArgs(c)...)
	args = append(args, c.Version, c.CreatedAt, c.UpdatedAt)
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(args)), ",")
	_, err := r.q(q).ExecContext(ctx, fmt.Sprintf(`INSERT INTO cases(%s) VALUES (%s)`, caseColumns, placeholders), args...)
	if err != nil {
		return fmt.Errorf("insert case: %w", err)
	}
	return nil
}

// UpdateCase writes c if the stored version still equals c.Version and bumps it.
func (r Repo) UpdateCase(ctx context.Context, q Querier, c domain.Case) (domain.Case, error) {
	args := caseArgs(c)
	args = append(args, c.UpdatedAt, c.ID, c.Version)
	res, err := r.q(q).ExecContext(ctx, `UPDATE cases SET reference=?,category=?,status=?,description=?,applicant_email=?,payment_amount=?,boundary_geojson=?,
eia_required=?,from_production=?,validated_on=?,target_date=?,expiry_date=?,decision=?,determined_on=?,closure_reason=?,
valid_description=?,valid_fee=?,valid_red_line_boundary=?,valid_ownership_certificate=?,valid_documents=?,
invalidated_at=?,validated_at=?,assessment_started_at=?,to_be_reviewed_at=?,awaiting_determination_at=?,
determined_at=?,returned_at=?,withdrawn_at=?,closed_at=?,updated_at=?,version=version+1
WHERE id=? AND version=?`, args...)
	if err != nil {
		return c, fmt.Errorf("update case: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return c, ErrVersionMismatch
	}
	c.Version++
	return c, nil
}

func (r Repo) GetCase(ctx context.Context, q Querier, id string) (domain.Case, error) {
	return scanCase(r.q(q).QueryRowContext(ctx, `SELECT `+caseColumns+` FROM cases WHERE id=?`, id))
}

func (r Repo) GetCaseByReference(ctx context.Context, q Querier, reference string) (domain.Case, error) {
	return scanCase(r.q(q).QueryRowContext(ctx, `SELECT `+caseColumns+` FROM cases WHERE reference=?`, reference))
}

type CaseFilters struct {
	Status   string
	Category string
	Limit    int
}

func (r Repo) ListCases(ctx context.Context, f CaseFilters) ([]domain.Case, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Category != "" {
		clauses = append(clauses, "category=?")
		args = append(args, f.Category)
	}
	if f.Limit <= 0 {
		f.Limit = 100
	}
	args = append(args, f.Limit)
	rows, err := r.DB.QueryContext(ctx, fmt.Sprintf(`SELECT %s FROM cases WHERE %s ORDER BY created_at DESC, id LIMIT ?`, caseColumns, strings.Join(clauses, " AND ")), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// CountCasesByStatus returns the number of cases per status.
func (r Repo) CountCasesByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM cases GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		res[status] = n
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func boolPtr(v sql.NullBool) *bool {
	if !v.Valid {
		return nil
	}
	b := v.Bool
	return &b
}
