package gate

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"caseline/internal/domain"
)

func reqs(states ...string) []domain.ValidationRequest {
	out := make([]domain.ValidationRequest, len(states))
	for i, s := range states {
		out[i] = domain.ValidationRequest{ID: string(rune('a' + i)), State: s}
	}
	return out
}

func TestCanValidate(t *testing.T) {
	assert.True(t, CanValidate(nil))
	assert.True(t, CanValidate(reqs(domain.RequestClosed, domain.RequestCancelled, domain.RequestPending)))
	assert.False(t, CanValidate(reqs(domain.RequestClosed, domain.RequestOpen)))
	assert.Equal(t, []string{"b"}, OpenRequests(reqs(domain.RequestClosed, domain.RequestOpen)))
}

func TestCanDetermine(t *testing.T) {
	mandatory := []string{"site_visit", "consultation"}
	done := Checklist{"site_visit": true, "consultation": true}

	assert.True(t, CanDetermine(reqs(domain.RequestClosed), done, mandatory))
	assert.True(t, CanDetermine(nil, nil, nil))
	assert.False(t, CanDetermine(reqs(domain.RequestOpen), done, mandatory))
	assert.False(t, CanDetermine(nil, Checklist{"site_visit": true, "consultation": false}, mandatory))
	assert.False(t, CanDetermine(nil, Checklist{"site_visit": true}, mandatory))
	assert.Equal(t, []string{"consultation", "site_visit"}, MissingItems(Checklist{}, mandatory))
}

func TestGateIsPure(t *testing.T) {
	in := reqs(domain.RequestOpen, domain.RequestClosed)
	CanValidate(in)
	CanDetermine(in, Checklist{}, []string{"x"})
	assert.Equal(t, domain.RequestOpen, in[0].State)
	assert.Equal(t, domain.RequestClosed, in[1].State)
}
