package engine

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"

	"caseline/internal/calendar"
	"caseline/internal/domain"
	"caseline/internal/engine/lifecycle"
	"caseline/internal/repo"
)

// DocumentResolver checks opaque document identifiers supplied with a close.
type DocumentResolver interface {
	Resolve(ctx context.Context, caseID string, documentIDs []string) error
}

// OpaqueDocuments accepts any non-blank identifier.
type OpaqueDocuments struct{}

func (OpaqueDocuments) Resolve(_ context.Context, _ string, ids []string) error {
	for _, id := range ids {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("blank document id")
		}
	}
	return nil
}

// EffectInput is what a close effect may read and change. Case changes are
// persisted by the caller in the same transaction.
type EffectInput struct {
	Tx        *sql.Tx
	Repo      repo.Repo
	Calendar  *calendar.Calendar
	Documents DocumentResolver
	Case      *domain.Case
	Request   domain.ValidationRequest
	Payload   domain.Payload
	Close     CloseRequestOptions
	Timestamp string
}

// CloseEffect applies an accepted request outcome to its case.
type CloseEffect func(ctx context.Context, in EffectInput) error

// DefaultEffects returns the close effect for every request kind.
func DefaultEffects() map[string]CloseEffect {
	return map[string]CloseEffect{
		domain.KindDescriptionChange:        applyDescription,
		domain.KindFeeChange:                applyFee,
		domain.KindRedLineBoundaryChange:    applyBoundary,
		domain.KindOwnershipCertificate:     applyOwnershipCertificate,
		domain.KindAdditionalDocument:       applyDocuments,
		domain.KindReplacementDocument:      applyDocuments,
		domain.KindOtherChange:              func(context.Context, EffectInput) error { return nil },
		domain.KindPreCommencementCondition: applyTerm,
		domain.KindHeadsOfTerms:             applyTerm,
		domain.KindTimeExtension:            applyTimeExtension,
	}
}

func applyDescription(_ context.Context, in EffectInput) error {
	p, ok := in.Payload.(*domain.DescriptionChangePayload)
	if !ok {
		return payloadMismatch(in)
	}
	in.Case.Description = p.ProposedDescription
	return nil
}

func applyFee(_ context.Context, in EffectInput) error {
	p, ok := in.Payload.(*domain.FeeChangePayload)
	if !ok {
		return payloadMismatch(in)
	}
	in.Case.PaymentAmount = p.SuggestedAmountPence
	return nil
}

func applyBoundary(_ context.Context, in EffectInput) error {
	p, ok := in.Payload.(*domain.RedLineBoundaryPayload)
	if !ok {
		return payloadMismatch(in)
	}
	geo := string(p.ProposedBoundary)
	in.Case.BoundaryGeoJSON = &geo
	return nil
}

var certificateTypes = []string{"A", "B", "C", "D"}

func applyOwnershipCertificate(ctx context.Context, in EffectInput) error {
	cert := in.Close.Certificate
	if cert == nil {
		return domain.NewError(domain.CodeInvalidInput, "an approved ownership certificate request needs the new certificate")
	}
	if !slices.Contains(certificateTypes, cert.CertificateType) {
		return domain.Errorf(domain.CodeInvalidInput, "certificate type %q must be one of A, B, C, D", cert.CertificateType)
	}
	if cert.CertificateType != "A" && len(cert.Owners) == 0 {
		return domain.Errorf(domain.CodeInvalidInput, "certificate %s must list the notified owners", cert.CertificateType)
	}
	rec := *cert
	rec.CaseID = in.Case.ID
	rec.RequestID = &in.Request.ID
	rec.UpdatedAt = in.Timestamp
	return in.Repo.ReplaceOwnershipCertificate(ctx, in.Tx, rec)
}

func applyDocuments(ctx context.Context, in EffectInput) error {
	ids := in.Close.DocumentIDs
	if len(ids) == 0 {
		return nil
	}
	if err := in.Documents.Resolve(ctx, in.Case.ID, ids); err != nil {
		return fmt.Errorf("resolve documents: %w", err)
	}
	var replaces *string
	if p, ok := in.Payload.(*domain.ReplacementDocumentPayload); ok {
		replaces = &p.OldDocumentID
	}
	for _, id := range ids {
		ref := domain.DocumentRef{CaseID: in.Case.ID, DocumentID: id, RequestID: &in.Request.ID, Replaces: replaces, AddedAt: in.Timestamp}
		if err := in.Repo.AddDocument(ctx, in.Tx, ref); err != nil {
			return err
		}
	}
	return nil
}

func applyTerm(ctx context.Context, in EffectInput) error {
	p, ok := in.Payload.(*domain.TermPayload)
	if !ok {
		return payloadMismatch(in)
	}
	return in.Repo.InsertTerm(ctx, in.Tx, domain.Term{
		ID:        uuid.NewString(),
		CaseID:    in.Case.ID,
		RequestID: in.Request.ID,
		Kind:      in.Request.Kind,
		Title:     p.Title,
		Text:      p.Text,
		AgreedAt:  in.Timestamp,
	})
}

func applyTimeExtension(_ context.Context, in EffectInput) error {
	p, ok := in.Payload.(*domain.TimeExtensionPayload)
	if !ok {
		return payloadMismatch(in)
	}
	proposed, err := in.Calendar.ParseDate(p.ProposedExpiryDate)
	if err != nil {
		return err
	}
	return lifecycle.ExtendExpiry(in.Case, in.Calendar, proposed)
}

func payloadMismatch(in EffectInput) error {
	return fmt.Errorf("request %s: payload %T does not belong to kind %s", in.Request.ID, in.Payload, in.Request.Kind)
}
