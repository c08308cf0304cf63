package domain

import "encoding/json"

// Case statuses.
const (
	StatusNotStarted            = "not_started"
	StatusInvalidated           = "invalidated"
	StatusInAssessment          = "in_assessment"
	StatusAssessmentInProgress  = "assessment_in_progress"
	StatusToBeReviewed          = "to_be_reviewed"
	StatusAwaitingDetermination = "awaiting_determination"
	StatusDetermined            = "determined"
	StatusReturned              = "returned"
	StatusWithdrawn             = "withdrawn"
	StatusClosed                = "closed"
)

// Case categories.
const (
	CategoryHouseholder   = "householder"
	CategoryFull          = "full"
	CategoryMajor         = "major"
	CategoryPriorApproval = "prior_approval"
	CategoryLDC           = "lawful_development_certificate"
)

// Validity items tracked on a case.
const (
	ItemDescription          = "description"
	ItemFee                  = "fee"
	ItemRedLineBoundary      = "red_line_boundary"
	ItemOwnershipCertificate = "ownership_certificate"
	ItemDocuments            = "documents"
)

// IsTerminal reports whether no further lifecycle transition can leave status.
func IsTerminal(status string) bool {
	switch status {
	case StatusDetermined, StatusReturned, StatusWithdrawn, StatusClosed:
		return true
	}
	return false
}

type Case struct {
	ID              string           `json:"id"`
	Reference       string           `json:"reference"`
	Category        string           `json:"category" enum:"householder,full,major,prior_approval,lawful_development_certificate"`
	Status          string           `json:"status" enum:"not_started,invalidated,in_assessment,assessment_in_progress,to_be_reviewed,awaiting_determination,determined,returned,withdrawn,closed"`
	Description     string           `json:"description"`
	ApplicantEmail  string           `json:"applicant_email,omitempty"`
	PaymentAmount   int64            `json:"payment_amount_pence"`
	BoundaryGeoJSON *string          `json:"boundary_geojson,omitempty"`
	EIARequired     bool             `json:"eia_required"`
	FromProduction  bool             `json:"from_production"`
	ValidatedOn     *string          `json:"validated_on,omitempty" format:"date"`
	TargetDate      *string          `json:"target_date,omitempty" format:"date"`
	ExpiryDate      *string          `json:"expiry_date,omitempty" format:"date"`
	Decision        *string          `json:"decision,omitempty"`
	DeterminedOn    *string          `json:"determined_on,omitempty" format:"date"`
	ClosureReason   *string          `json:"closure_reason,omitempty"`
	Validity        Validity         `json:"validity"`
	Timestamps      StatusTimestamps `json:"timestamps"`
	Version         int              `json:"version"`
	CreatedAt       string           `json:"created_at" format:"date-time"`
	UpdatedAt       string           `json:"updated_at" format:"date-time"`
}

// Validity holds per-item validity flags; nil means not yet assessed.
type Validity struct {
	Description          *bool `json:"description,omitempty"`
	Fee                  *bool `json:"fee,omitempty"`
	RedLineBoundary      *bool `json:"red_line_boundary,omitempty"`
	OwnershipCertificate *bool `json:"ownership_certificate,omitempty"`
	Documents            *bool `json:"documents,omitempty"`
}

// Set records the flag for a validity item; unknown items are ignored.
func (v *Validity) Set(item string, valid bool) {
	val := valid
	switch item {
	case ItemDescription:
		v.Description = &val
	case ItemFee:
		v.Fee = &val
	case ItemRedLineBoundary:
		v.RedLineBoundary = &val
	case ItemOwnershipCertificate:
		v.OwnershipCertificate = &val
	case ItemDocuments:
		v.Documents = &val
	}
}

// StatusTimestamps records when each status was last entered.
type StatusTimestamps struct {
	InvalidatedAt           *string `json:"invalidated_at,omitempty" format:"date-time"`
	ValidatedAt             *string `json:"validated_at,omitempty" format:"date-time"`
	AssessmentStartedAt     *string `json:"assessment_started_at,omitempty" format:"date-time"`
	ToBeReviewedAt          *string `json:"to_be_reviewed_at,omitempty" format:"date-time"`
	AwaitingDeterminationAt *string `json:"awaiting_determination_at,omitempty" format:"date-time"`
	DeterminedAt            *string `json:"determined_at,omitempty" format:"date-time"`
	ReturnedAt              *string `json:"returned_at,omitempty" format:"date-time"`
	WithdrawnAt             *string `json:"withdrawn_at,omitempty" format:"date-time"`
	ClosedAt                *string `json:"closed_at,omitempty" format:"date-time"`
}

// Request states.
const (
	RequestPending   = "pending"
	RequestOpen      = "open"
	RequestClosed    = "closed"
	RequestCancelled = "cancelled"
)

// Resolved reports whether a request in state can no longer change.
func Resolved(state string) bool {
	return state == RequestClosed || state == RequestCancelled
}

// Outstanding reports whether a request in state still blocks its item.
func Outstanding(state string) bool {
	return state == RequestPending || state == RequestOpen
}

type ValidationRequest struct {
	ID             string          `json:"id"`
	CaseID         string          `json:"case_id"`
	Sequence       int             `json:"sequence"`
	Kind           string          `json:"kind" enum:"description_change,fee_change,red_line_boundary_change,ownership_certificate,additional_document,replacement_document,other_change,pre_commencement_condition,heads_of_terms,time_extension"`
	State          string          `json:"state" enum:"pending,open,closed,cancelled"`
	Reason         string          `json:"reason"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	Response       *string         `json:"response,omitempty"`
	Approved       *bool           `json:"approved,omitempty"`
	CancelReason   *string         `json:"cancel_reason,omitempty"`
	CancelledAt    *string         `json:"cancelled_at,omitempty" format:"date-time"`
	PostValidation bool            `json:"post_validation"`
	AutoClosed     bool            `json:"auto_closed"`
	OpenedAt       *string         `json:"opened_at,omitempty" format:"date-time"`
	ResponseDue    *string         `json:"response_due,omitempty" format:"date"`
	ClosedAt       *string         `json:"closed_at,omitempty" format:"date-time"`
	ClosedBy       *string         `json:"closed_by,omitempty"`
	CreatedBy      string          `json:"created_by"`
	CreatedAt      string          `json:"created_at" format:"date-time"`
	UpdatedAt      string          `json:"updated_at" format:"date-time"`
}

// AuditEntry is one immutable row of a case's audit trail.
type AuditEntry struct {
	ID        int64          `json:"id"`
	CaseID    string         `json:"case_id"`
	RequestID *string        `json:"request_id,omitempty"`
	Activity  string         `json:"activity"`
	ActorID   string         `json:"actor_id"`
	From      *string        `json:"from,omitempty"`
	To        *string        `json:"to,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	CreatedAt string         `json:"created_at" format:"date-time"`
}

type OwnershipCertificate struct {
	CaseID          string  `json:"case_id"`
	CertificateType string  `json:"certificate_type" enum:"A,B,C,D"`
	Owners          []Owner `json:"owners,omitempty"`
	RequestID       *string `json:"request_id,omitempty"`
	UpdatedAt       string  `json:"updated_at" format:"date-time"`
}

type Owner struct {
	Name          string  `json:"name"`
	Address       string  `json:"address,omitempty"`
	NoticeGivenOn *string `json:"notice_given_on,omitempty" format:"date"`
}

// DocumentRef is an opaque attachment reference; content lives elsewhere.
type DocumentRef struct {
	CaseID     string  `json:"case_id"`
	DocumentID string  `json:"document_id"`
	RequestID  *string `json:"request_id,omitempty"`
	Replaces   *string `json:"replaces,omitempty"`
	AddedAt    string  `json:"added_at" format:"date-time"`
}

// Term is an agreed pre-commencement condition or heads of terms item.
type Term struct {
	ID        string `json:"id"`
	CaseID    string `json:"case_id"`
	RequestID string `json:"request_id"`
	Kind      string `json:"kind" enum:"pre_commencement_condition,heads_of_terms"`
	Title     string `json:"title"`
	Text      string `json:"text"`
	AgreedAt  string `json:"agreed_at" format:"date-time"`
}

type ChecklistItem struct {
	CaseID    string `json:"case_id"`
	Item      string `json:"item"`
	Done      bool   `json:"done"`
	UpdatedBy string `json:"updated_by"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}
