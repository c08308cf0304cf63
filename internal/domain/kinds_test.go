package domain

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodePayload(t *testing.T) {
	cases := []struct {
		name string
		kind string
		raw  string
		ok   bool
	}{
		{"description", KindDescriptionChange, `{"proposed_description":"Two storey rear extension"}`, true},
		{"description blank", KindDescriptionChange, `{"proposed_description":"  "}`, false},
		{"fee", KindFeeChange, `{"suggested_amount_pence":25800}`, true},
		{"fee zero", KindFeeChange, `{"suggested_amount_pence":0}`, false},
		{"fee missing", KindFeeChange, ``, false},
		{"boundary polygon", KindRedLineBoundaryChange, `{"proposed_boundary":{"type":"Polygon","coordinates":[[[0,0],[0,1],[1,1],[0,0]]]}}`, true},
		{"boundary feature", KindRedLineBoundaryChange, `{"proposed_boundary":{"type":"Feature","geometry":{"type":"Polygon","coordinates":[]}}}`, true},
		{"boundary point", KindRedLineBoundaryChange, `{"proposed_boundary":{"type":"Point","coordinates":[0,0]}}`, false},
		{"ownership empty", KindOwnershipCertificate, ``, true},
		{"document null", KindAdditionalDocument, `null`, true},
		{"replacement", KindReplacementDocument, `{"old_document_id":"doc-1"}`, true},
		{"replacement missing id", KindReplacementDocument, `{}`, false},
		{"term", KindHeadsOfTerms, `{"title":"Affordable housing","text":"30% on site"}`, true},
		{"term missing text", KindPreCommencementCondition, `{"title":"Materials"}`, false},
		{"time extension", KindTimeExtension, `{"proposed_expiry_date":"2024-04-01"}`, true},
		{"time extension bad date", KindTimeExtension, `{"proposed_expiry_date":"01/04/2024"}`, false},
		{"unknown field", KindOtherChange, `{"summary":"x","colour":"red"}`, false},
		{"unknown kind", "planning_obligation", `{}`, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, err := DecodePayload(tc.kind, json.RawMessage(tc.raw))
			if !tc.ok {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidPayloadForKind))
				assert.Equal(t, KindValidationFailure, KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.kind, p.RequestKind())
		})
	}
}

func TestKindsAreRegistered(t *testing.T) {
	for _, k := range Kinds() {
		spec, ok := LookupKind(k)
		require.True(t, ok, k)
		assert.Equal(t, k, spec.Kind)
	}
	_, ok := LookupKind("planning_obligation")
	assert.False(t, ok)
}

func TestErrorCodesCarryKinds(t *testing.T) {
	assert.Equal(t, KindGuardViolation, KindOf(NewError(CodeOpenRequestsExist, "open")))
	assert.Equal(t, KindConcurrencyConflict, KindOf(NewError(CodeStaleState, "stale")))
	assert.Equal(t, KindNotFound, KindOf(ErrNotFound))

	wrapped := Wrap(CodeSideEffectFailed, "apply effect", errors.New("disk full"))
	assert.Equal(t, KindSideEffectFailure, KindOf(wrapped))
	assert.ErrorContains(t, wrapped, "disk full")
	assert.True(t, NewError(CodeStaleState, "").Retryable())
	assert.False(t, NewError(CodeGateFailed, "").Retryable())
}
