package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Request kinds.
const (
	KindDescriptionChange        = "description_change"
	KindFeeChange                = "fee_change"
	KindRedLineBoundaryChange    = "red_line_boundary_change"
	KindOwnershipCertificate     = "ownership_certificate"
	KindAdditionalDocument       = "additional_document"
	KindReplacementDocument      = "replacement_document"
	KindOtherChange              = "other_change"
	KindPreCommencementCondition = "pre_commencement_condition"
	KindHeadsOfTerms             = "heads_of_terms"
	KindTimeExtension            = "time_extension"
)

// Phase restricts when a request kind may be raised.
type Phase int

const (
	PhaseAny        Phase = iota
	PhaseIntake           // case never validated
	PhaseAssessment       // case validated at least once
)

func (p Phase) String() string {
	switch p {
	case PhaseIntake:
		return "intake"
	case PhaseAssessment:
		return "assessment"
	}
	return "any"
}

// Payload is the kind-specific body of a validation request.
type Payload interface {
	RequestKind() string
	Validate() error
}

// KindSpec describes the static traits of a request kind.
type KindSpec struct {
	Kind             string
	Phase            Phase
	Singular         bool   // at most one outstanding request of this kind per case
	Approvable       bool   // applicant accepts or rejects the proposal
	OfficerResolves  bool   // officer may close without an applicant response
	ValidityItem     string // case validity flag the request is about, if any
	AutoCloses       bool
	newPayload       func() Payload
	emptyPayloadOkay bool
}

var kindSpecs = map[string]KindSpec{
	KindDescriptionChange: {
		Kind: KindDescriptionChange, Singular: true, Approvable: true, OfficerResolves: true,
		ValidityItem: ItemDescription, AutoCloses: true,
		newPayload: func() Payload { return &DescriptionChangePayload{} },
	},
	KindFeeChange: {
		Kind: KindFeeChange, Phase: PhaseIntake, Singular: true, ValidityItem: ItemFee,
		newPayload: func() Payload { return &FeeChangePayload{} },
	},
	KindRedLineBoundaryChange: {
		Kind: KindRedLineBoundaryChange, Singular: true, Approvable: true, ValidityItem: ItemRedLineBoundary,
		newPayload: func() Payload { return &RedLineBoundaryPayload{} },
	},
	KindOwnershipCertificate: {
		Kind: KindOwnershipCertificate, Phase: PhaseIntake, Singular: true, Approvable: true,
		ValidityItem: ItemOwnershipCertificate,
		newPayload:   func() Payload { return &OwnershipCertificatePayload{} }, emptyPayloadOkay: true,
	},
	KindAdditionalDocument: {
		Kind: KindAdditionalDocument, ValidityItem: ItemDocuments,
		newPayload: func() Payload { return &AdditionalDocumentPayload{} }, emptyPayloadOkay: true,
	},
	KindReplacementDocument: {
		Kind: KindReplacementDocument, Phase: PhaseIntake, ValidityItem: ItemDocuments,
		newPayload: func() Payload { return &ReplacementDocumentPayload{} },
	},
	KindOtherChange: {
		Kind: KindOtherChange, Phase: PhaseIntake,
		newPayload: func() Payload { return &OtherChangePayload{} }, emptyPayloadOkay: true,
	},
	KindPreCommencementCondition: {
		Kind: KindPreCommencementCondition, Phase: PhaseAssessment, Approvable: true,
		newPayload: func() Payload { return &TermPayload{kind: KindPreCommencementCondition} },
	},
	KindHeadsOfTerms: {
		Kind: KindHeadsOfTerms, Phase: PhaseAssessment, Approvable: true,
		newPayload: func() Payload { return &TermPayload{kind: KindHeadsOfTerms} },
	},
	KindTimeExtension: {
		Kind: KindTimeExtension, Phase: PhaseAssessment, Singular: true, Approvable: true,
		newPayload: func() Payload { return &TimeExtensionPayload{} },
	},
}

// LookupKind returns the KindSpec registered for kind.
func LookupKind(kind string) (KindSpec, bool) {
	s, ok := kindSpecs[kind]
	return s, ok
}

// Kinds lists every registered request kind.
func Kinds() []string {
	return []string{
		KindDescriptionChange, KindFeeChange, KindRedLineBoundaryChange, KindOwnershipCertificate,
		KindAdditionalDocument, KindReplacementDocument, KindOtherChange,
		KindPreCommencementCondition, KindHeadsOfTerms, KindTimeExtension,
	}
}

// DecodePayload parses raw into the payload type registered for kind and validates it.
func DecodePayload(kind string, raw json.RawMessage) (Payload, error) {
	spec, ok := kindSpecs[kind]
	if !ok {
		return nil, WithMetadata(CodeInvalidPayloadForKind, fmt.Sprintf("unknown request kind %q", kind), map[string]string{"kind": kind})
	}
	p := spec.newPayload()
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		if !spec.emptyPayloadOkay {
			return nil, payloadError(kind, "payload is required")
		}
		trimmed = []byte("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.DisallowUnknownFields()
	if err := dec.Decode(p); err != nil {
		return nil, payloadError(kind, err.Error())
	}
	if err := p.Validate(); err != nil {
		return nil, payloadError(kind, err.Error())
	}
	return p, nil
}

func payloadError(kind, msg string) *Error {
	return WithMetadata(CodeInvalidPayloadForKind, fmt.Sprintf("invalid %s payload: %s", kind, msg), map[string]string{"kind": kind})
}

type DescriptionChangePayload struct {
	ProposedDescription string `json:"proposed_description"`
}

func (p *DescriptionChangePayload) RequestKind() string { return KindDescriptionChange }

func (p *DescriptionChangePayload) Validate() error {
	if strings.TrimSpace(p.ProposedDescription) == "" {
		return fmt.Errorf("proposed_description is required")
	}
	return nil
}

type FeeChangePayload struct {
	SuggestedAmountPence int64  `json:"suggested_amount_pence"`
	Explanation          string `json:"explanation,omitempty"`
}

func (p *FeeChangePayload) RequestKind() string { return KindFeeChange }

func (p *FeeChangePayload) Validate() error {
	if p.SuggestedAmountPence <= 0 {
		return fmt.Errorf("suggested_amount_pence must be positive")
	}
	return nil
}

type RedLineBoundaryPayload struct {
	ProposedBoundary json.RawMessage `json:"proposed_boundary"`
}

func (p *RedLineBoundaryPayload) RequestKind() string { return KindRedLineBoundaryChange }

func (p *RedLineBoundaryPayload) Validate() error {
	if len(p.ProposedBoundary) == 0 {
		return fmt.Errorf("proposed_boundary is required")
	}
	var geom struct {
		Type        string          `json:"type"`
		Coordinates json.RawMessage `json:"coordinates"`
		Features    json.RawMessage `json:"features"`
		Geometry    json.RawMessage `json:"geometry"`
	}
	if err := json.Unmarshal(p.ProposedBoundary, &geom); err != nil {
		return fmt.Errorf("proposed_boundary: %w", err)
	}
	switch geom.Type {
	case "Polygon", "MultiPolygon":
		if len(geom.Coordinates) == 0 {
			return fmt.Errorf("proposed_boundary has no coordinates")
		}
	case "Feature":
		if len(geom.Geometry) == 0 {
			return fmt.Errorf("proposed_boundary feature has no geometry")
		}
	case "FeatureCollection":
		if len(geom.Features) == 0 {
			return fmt.Errorf("proposed_boundary has no features")
		}
	default:
		return fmt.Errorf("proposed_boundary must be a GeoJSON polygon, feature or feature collection")
	}
	return nil
}

type OwnershipCertificatePayload struct {
	Suggestion string `json:"suggestion,omitempty"`
}

func (p *OwnershipCertificatePayload) RequestKind() string { return KindOwnershipCertificate }
func (p *OwnershipCertificatePayload) Validate() error     { return nil }

type AdditionalDocumentPayload struct {
	DocumentRequestType string `json:"document_request_type,omitempty"`
}

func (p *AdditionalDocumentPayload) RequestKind() string { return KindAdditionalDocument }
func (p *AdditionalDocumentPayload) Validate() error     { return nil }

type ReplacementDocumentPayload struct {
	OldDocumentID string `json:"old_document_id"`
}

func (p *ReplacementDocumentPayload) RequestKind() string { return KindReplacementDocument }

func (p *ReplacementDocumentPayload) Validate() error {
	if strings.TrimSpace(p.OldDocumentID) == "" {
		return fmt.Errorf("old_document_id is required")
	}
	return nil
}

type OtherChangePayload struct {
	Summary    string `json:"summary,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
}

func (p *OtherChangePayload) RequestKind() string { return KindOtherChange }
func (p *OtherChangePayload) Validate() error     { return nil }

// TermPayload backs both pre-commencement conditions and heads of terms.
type TermPayload struct {
	Title string `json:"title"`
	Text  string `json:"text"`
	kind  string
}

func (p *TermPayload) RequestKind() string { return p.kind }

func (p *TermPayload) Validate() error {
	if strings.TrimSpace(p.Title) == "" || strings.TrimSpace(p.Text) == "" {
		return fmt.Errorf("title and text are required")
	}
	return nil
}

type TimeExtensionPayload struct {
	ProposedExpiryDate string `json:"proposed_expiry_date"`
}

func (p *TimeExtensionPayload) RequestKind() string { return KindTimeExtension }

func (p *TimeExtensionPayload) Validate() error {
	if _, err := time.Parse(DateLayout, p.ProposedExpiryDate); err != nil {
		return fmt.Errorf("proposed_expiry_date must be YYYY-MM-DD")
	}
	return nil
}

// DateLayout is the wire format of calendar dates.
const DateLayout = "2006-01-02"
