package repo

import (
	"context"
	"encoding/json"
	"fmt"

	"caseline/internal/domain"
)

// ListAudit returns a case's audit entries in commit order. A positive cursor
// returns only entries with a greater id.
func (r Repo) ListAudit(ctx context.Context, caseID string, limit int, cursor int64) ([]domain.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,case_id,request_id,activity,actor_id,from_value,to_value,payload_json,created_at
FROM audit_entries WHERE case_id=? AND id>? ORDER BY id ASC LIMIT ?`, caseID, cursor, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AuditEntry
	for rows.Next() {
		var (
			e       domain.AuditEntry
			payload string
		)
		if err := rows.Scan(&e.ID, &e.CaseID, &e.RequestID, &e.Activity, &e.ActorID, &e.From, &e.To, &payload, &e.CreatedAt); err != nil {
			return nil, err
		}
		if payload != "" {
			if err := json.Unmarshal([]byte(payload), &e.Payload); err != nil {
				return nil, fmt.Errorf("decode audit payload %d: %w", e.ID, err)
			}
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// CountAudit returns how many audit entries a case has.
func (r Repo) CountAudit(ctx context.Context, caseID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_entries WHERE case_id=?`, caseID).Scan(&n)
	return n, err
}
