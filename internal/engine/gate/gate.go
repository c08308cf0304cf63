// Package gate decides whether a case may progress given its outstanding requests.
package gate

import (
	"sort"

	"caseline/internal/domain"
)

// Checklist is the per-item completion summary of a case.
type Checklist map[string]bool

// CanValidate reports whether no request is open.
func CanValidate(requests []domain.ValidationRequest) bool {
	return len(OpenRequests(requests)) == 0
}

// CanDetermine reports whether no request is open and every mandatory checklist item is done.
func CanDetermine(requests []domain.ValidationRequest, checklist Checklist, mandatory []string) bool {
	return CanValidate(requests) && len(MissingItems(checklist, mandatory)) == 0
}

// OpenRequests returns the ids of open requests.
func OpenRequests(requests []domain.ValidationRequest) []string {
	var ids []string
	for _, r := range requests {
		if r.State == domain.RequestOpen {
			ids = append(ids, r.ID)
		}
	}
	return ids
}

// MissingItems returns mandatory items not marked done, sorted.
func MissingItems(checklist Checklist, mandatory []string) []string {
	var missing []string
	for _, item := range mandatory {
		if !checklist[item] {
			missing = append(missing, item)
		}
	}
	sort.Strings(missing)
	return missing
}
