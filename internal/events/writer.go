package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"caseline/internal/domain"
)

// Audit activities.
const (
	CaseCreated          = "case_created"
	CaseInvalidated      = "case_invalidated"
	CaseValidated        = "case_validated"
	AssessmentStarted    = "assessment_started"
	MarkedToBeReviewed   = "marked_to_be_reviewed"
	SentForDetermination = "sent_for_determination"
	CaseDetermined       = "case_determined"
	CaseReturned         = "case_returned"
	CaseWithdrawn        = "case_withdrawn"
	CaseClosed           = "case_closed"
	CaseReset            = "case_reset"
	EIAUpdated           = "eia_updated"
	ChecklistUpdated     = "checklist_item_updated"
	RequestCreated       = "request_created"
	RequestClosed        = "request_closed"
	RequestAutoClosed    = "request_auto_closed"
	RequestCancelled     = "request_cancelled"
)

type Payload map[string]any

// Entry is an audit row about to be appended.
type Entry struct {
	CaseID    string
	RequestID string
	Activity  string
	ActorID   string
	From      string
	To        string
	Payload   Payload
}

// Writer appends audit entries inside the caller's transaction.
type Writer struct {
	Now func() time.Time
}

func (w Writer) Append(ctx context.Context, tx *sql.Tx, e Entry) (domain.AuditEntry, error) {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	ts := now().UTC().Format(time.RFC3339Nano)
	if e.Payload == nil {
		e.Payload = Payload{}
	}
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return domain.AuditEntry{}, fmt.Errorf("marshal audit payload: %w", err)
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO audit_entries(case_id,request_id,activity,actor_id,from_value,to_value,payload_json,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		e.CaseID, nullable(e.RequestID), e.Activity, e.ActorID, nullable(e.From), nullable(e.To), string(data), ts)
	if err != nil {
		return domain.AuditEntry{}, fmt.Errorf("append audit entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.AuditEntry{}, err
	}
	entry := domain.AuditEntry{
		ID:        id,
		CaseID:    e.CaseID,
		Activity:  e.Activity,
		ActorID:   e.ActorID,
		Payload:   e.Payload,
		CreatedAt: ts,
	}
	if e.RequestID != "" {
		entry.RequestID = &e.RequestID
	}
	if e.From != "" {
		entry.From = &e.From
	}
	if e.To != "" {
		entry.To = &e.To
	}
	return entry, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
