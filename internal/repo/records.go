package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"caseline/internal/domain"
)

// ReplaceOwnershipCertificate overwrites the case's certificate sub-record.
func (r Repo) ReplaceOwnershipCertificate(ctx context.Context, q Querier, cert domain.OwnershipCertificate) error {
	owners, err := json.Marshal(cert.Owners)
	if err != nil {
		return err
	}
	_, err = r.q(q).ExecContext(ctx, `INSERT INTO ownership_certificates(case_id,certificate_type,owners_json,request_id,updated_at) VALUES (?,?,?,?,?)
ON CONFLICT(case_id) DO UPDATE SET certificate_type=excluded.certificate_type, owners_json=excluded.owners_json,
request_id=excluded.request_id, updated_at=excluded.updated_at`,
		cert.CaseID, cert.CertificateType, string(owners), cert.RequestID, cert.UpdatedAt)
	if err != nil {
		return fmt.Errorf("replace ownership certificate: %w", err)
	}
	return nil
}

func (r Repo) GetOwnershipCertificate(ctx context.Context, q Querier, caseID string) (domain.OwnershipCertificate, error) {
	var (
		cert   domain.OwnershipCertificate
		owners string
	)
	err := r.q(q).QueryRowContext(ctx, `SELECT case_id,certificate_type,owners_json,request_id,updated_at FROM ownership_certificates WHERE case_id=?`, caseID).
		Scan(&cert.CaseID, &cert.CertificateType, &owners, &cert.RequestID, &cert.UpdatedAt)
	if err == sql.ErrNoRows {
		return cert, ErrNotFound
	}
	if err != nil {
		return cert, err
	}
	if err := json.Unmarshal([]byte(owners), &cert.Owners); err != nil {
		return cert, fmt.Errorf("decode owners: %w", err)
	}
	return cert, nil
}

func (r Repo) AddDocument(ctx context.Context, q Querier, d domain.DocumentRef) error {
	_, err := r.q(q).ExecContext(ctx, `INSERT INTO case_documents(case_id,document_id,request_id,replaces,added_at) VALUES (?,?,?,?,?)`,
		d.CaseID, d.DocumentID, d.RequestID, d.Replaces, d.AddedAt)
	if err != nil {
		return fmt.Errorf("add document %s: %w", d.DocumentID, err)
	}
	return nil
}

func (r Repo) ListDocuments(ctx context.Context, q Querier, caseID string) ([]domain.DocumentRef, error) {
	rows, err := r.q(q).QueryContext(ctx, `SELECT case_id,document_id,request_id,replaces,added_at FROM case_documents WHERE case_id=? ORDER BY added_at, document_id`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.DocumentRef
	for rows.Next() {
		var d domain.DocumentRef
		if err := rows.Scan(&d.CaseID, &d.DocumentID, &d.RequestID, &d.Replaces, &d.AddedAt); err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

func (r Repo) InsertTerm(ctx context.Context, q Querier, t domain.Term) error {
	_, err := r.q(q).ExecContext(ctx, `INSERT INTO case_terms(id,case_id,request_id,kind,title,text,agreed_at) VALUES (?,?,?,?,?,?,?)`,
		t.ID, t.CaseID, t.RequestID, t.Kind, t.Title, t.Text, t.AgreedAt)
	if err != nil {
		return fmt.Errorf("insert term: %w", err)
	}
	return nil
}

func (r Repo) ListTerms(ctx context.Context, q Querier, caseID string) ([]domain.Term, error) {
	rows, err := r.q(q).QueryContext(ctx, `SELECT id,case_id,request_id,kind,title,text,agreed_at FROM case_terms WHERE case_id=? ORDER BY agreed_at, id`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Term
	for rows.Next() {
		var t domain.Term
		if err := rows.Scan(&t.ID, &t.CaseID, &t.RequestID, &t.Kind, &t.Title, &t.Text, &t.AgreedAt); err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) SetChecklistItem(ctx context.Context, q Querier, item domain.ChecklistItem) error {
	_, err := r.q(q).ExecContext(ctx, `INSERT INTO checklist_items(case_id,item,done,updated_by,updated_at) VALUES (?,?,?,?,?)
ON CONFLICT(case_id,item) DO UPDATE SET done=excluded.done, updated_by=excluded.updated_by, updated_at=excluded.updated_at`,
		item.CaseID, item.Item, item.Done, item.UpdatedBy, item.UpdatedAt)
	if err != nil {
		return fmt.Errorf("set checklist item: %w", err)
	}
	return nil
}

func (r Repo) ListChecklist(ctx context.Context, q Querier, caseID string) ([]domain.ChecklistItem, error) {
	rows, err := r.q(q).QueryContext(ctx, `SELECT case_id,item,done,updated_by,updated_at FROM checklist_items WHERE case_id=? ORDER BY item`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ChecklistItem
	for rows.Next() {
		var it domain.ChecklistItem
		if err := rows.Scan(&it.CaseID, &it.Item, &it.Done, &it.UpdatedBy, &it.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, it)
	}
	return res, rows.Err()
}

// ChecklistSummary maps item name to completion for a case.
func (r Repo) ChecklistSummary(ctx context.Context, q Querier, caseID string) (map[string]bool, error) {
	items, err := r.ListChecklist(ctx, q, caseID)
	if err != nil {
		return nil, err
	}
	res := make(map[string]bool, len(items))
	for _, it := range items {
		res[it.Item] = it.Done
	}
	return res, nil
}
