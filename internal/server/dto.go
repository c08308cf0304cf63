package server

import (
	"encoding/json"

	"caseline/internal/domain"
	"caseline/internal/engine"
)

// Request payloads

type CreateCaseRequest struct {
	ID                 string `json:"id,omitempty"`
	Reference          string `json:"reference"`
	Category           string `json:"category" enum:"householder,full,major,prior_approval,lawful_development_certificate"`
	Description        string `json:"description,omitempty"`
	ApplicantEmail     string `json:"applicant_email,omitempty" format:"email"`
	PaymentAmountPence int64  `json:"payment_amount_pence,omitempty" minimum:"0"`
	FromProduction     bool   `json:"from_production,omitempty"`
}

// Versioned carries the optional optimistic-lock version of the case.
type Versioned struct {
	ExpectedVersion int `json:"expected_version,omitempty" minimum:"0"`
}

type RequestSpecBody struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Reason  string          `json:"reason"`
}

type InvalidateRequest struct {
	Versioned
	Reason   string            `json:"reason"`
	Requests []RequestSpecBody `json:"requests,omitempty"`
}

type ValidateRequest struct {
	Versioned
	AsOfDate string `json:"as_of_date,omitempty" pattern:"^\\d{4}-\\d{2}-\\d{2}$"`
}

type TransitionRequest struct {
	Versioned
}

type DetermineRequest struct {
	Versioned
	Decision string `json:"decision"`
}

type ReasonRequest struct {
	Versioned
	Reason string `json:"reason"`
}

type EIARequest struct {
	Versioned
	Required bool `json:"required"`
}

type ChecklistRequest struct {
	Versioned
	Done bool `json:"done"`
}

type CreateRequestRequest struct {
	Versioned
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Reason  string          `json:"reason"`
}

type CloseRequestRequest struct {
	Versioned
	Response    string                       `json:"response,omitempty"`
	Approved    *bool                        `json:"approved,omitempty"`
	ByOfficer   bool                         `json:"by_officer,omitempty"`
	DocumentIDs []string                     `json:"document_ids,omitempty"`
	Certificate *CertificateBody             `json:"certificate,omitempty"`
}

type CertificateBody struct {
	CertificateType string         `json:"certificate_type" enum:"A,B,C,D"`
	Owners          []domain.Owner `json:"owners,omitempty"`
}

func (b *CertificateBody) certificate() *domain.OwnershipCertificate {
	if b == nil {
		return nil
	}
	return &domain.OwnershipCertificate{CertificateType: b.CertificateType, Owners: b.Owners}
}

type CancelRequestRequest struct {
	Versioned
	Reason string `json:"reason"`
}

type DevLoginRequest struct {
	ActorID string `json:"actor_id"`
}

// Response payloads

type InvalidateResponse struct {
	Case     domain.Case                `json:"case"`
	Requests []domain.ValidationRequest `json:"requests"`
}

type paginatedCases struct {
	Items []domain.Case `json:"items"`
}

type paginatedRequests struct {
	Items []domain.ValidationRequest `json:"items"`
}

type paginatedAudit struct {
	Items      []domain.AuditEntry `json:"items"`
	NextCursor string              `json:"next_cursor,omitempty"`
}

type AutoCloseResponse struct {
	Closed []domain.ValidationRequest `json:"closed"`
}

type StatusResponse struct {
	CaseCounts map[string]int `json:"case_counts"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

type KindResponse struct {
	Kind         string `json:"kind"`
	Phase        string `json:"phase"`
	Singular     bool   `json:"singular"`
	Approvable   bool   `json:"approvable"`
	ValidityItem string `json:"validity_item,omitempty"`
	AutoCloses   bool   `json:"auto_closes"`
}

func specs(in []RequestSpecBody) []engine.RequestSpec {
	out := make([]engine.RequestSpec, 0, len(in))
	for _, s := range in {
		out = append(out, engine.RequestSpec{Kind: s.Kind, Payload: s.Payload, Reason: s.Reason})
	}
	return out
}

func nonNilRequests(items []domain.ValidationRequest) []domain.ValidationRequest {
	if items == nil {
		return []domain.ValidationRequest{}
	}
	return items
}
