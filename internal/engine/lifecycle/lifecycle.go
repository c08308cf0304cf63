// Package lifecycle holds the case status graph and deadline arithmetic.
package lifecycle

import (
	"fmt"
	"slices"
	"time"

	"caseline/internal/calendar"
	"caseline/internal/domain"
)

type Event string

const (
	Invalidate           Event = "invalidate"
	Validate             Event = "validate"
	StartAssessment      Event = "start_assessment"
	MarkToBeReviewed     Event = "mark_to_be_reviewed"
	SendForDetermination Event = "send_for_determination"
	Determine            Event = "determine"
	Return               Event = "return"
	Withdraw             Event = "withdraw"
	Close                Event = "close"
	Reset                Event = "reset"
)

type rule struct {
	from []string // nil means any non-terminal status
	to   string
}

var rules = map[Event]rule{
	Invalidate:           {from: []string{domain.StatusNotStarted}, to: domain.StatusInvalidated},
	Validate:             {from: []string{domain.StatusNotStarted, domain.StatusInvalidated}, to: domain.StatusInAssessment},
	StartAssessment:      {from: []string{domain.StatusInAssessment}, to: domain.StatusAssessmentInProgress},
	MarkToBeReviewed:     {from: []string{domain.StatusAssessmentInProgress}, to: domain.StatusToBeReviewed},
	SendForDetermination: {from: []string{domain.StatusToBeReviewed}, to: domain.StatusAwaitingDetermination},
	Determine:            {from: []string{domain.StatusAwaitingDetermination}, to: domain.StatusDetermined},
	Return:               {to: domain.StatusReturned},
	Withdraw:             {to: domain.StatusWithdrawn},
	Close:                {to: domain.StatusClosed},
	Reset: {from: []string{
		domain.StatusInvalidated, domain.StatusInAssessment, domain.StatusAssessmentInProgress,
		domain.StatusToBeReviewed, domain.StatusAwaitingDetermination,
	}, to: domain.StatusNotStarted},
}

// IsEscape reports whether ev is an ungated exit to a terminal status.
func IsEscape(ev Event) bool {
	return ev == Return || ev == Withdraw || ev == Close
}

// Next returns the status ev leads to from status, or a guard violation.
func Next(status string, ev Event) (string, error) {
	r, ok := rules[ev]
	if !ok {
		return "", domain.Errorf(domain.CodeInvalidTransition, "unknown lifecycle event %s", ev)
	}
	if domain.IsTerminal(status) {
		return "", invalid(status, ev)
	}
	if r.from != nil && !slices.Contains(r.from, status) {
		return "", invalid(status, ev)
	}
	return r.to, nil
}

func invalid(status string, ev Event) *domain.Error {
	return domain.WithMetadata(domain.CodeInvalidTransition,
		fmt.Sprintf("cannot %s a case that is %s", ev, status),
		map[string]string{"status": status, "event": string(ev)})
}

// Apply moves c along ev and stamps the entered status with ts.
func Apply(c *domain.Case, ev Event, ts string) error {
	to, err := Next(c.Status, ev)
	if err != nil {
		return err
	}
	c.Status = to
	Stamp(c, to, ts)
	c.UpdatedAt = ts
	return nil
}

// Stamp records ts as the entry time of status.
func Stamp(c *domain.Case, status, ts string) {
	v := ts
	t := &c.Timestamps
	switch status {
	case domain.StatusInvalidated:
		t.InvalidatedAt = &v
	case domain.StatusInAssessment:
		t.ValidatedAt = &v
	case domain.StatusAssessmentInProgress:
		t.AssessmentStartedAt = &v
	case domain.StatusToBeReviewed:
		t.ToBeReviewedAt = &v
	case domain.StatusAwaitingDetermination:
		t.AwaitingDeterminationAt = &v
	case domain.StatusDetermined:
		t.DeterminedAt = &v
	case domain.StatusReturned:
		t.ReturnedAt = &v
	case domain.StatusWithdrawn:
		t.WithdrawnAt = &v
	case domain.StatusClosed:
		t.ClosedAt = &v
	}
}

// EverValidated reports whether the case has passed validation.
func EverValidated(c domain.Case) bool {
	return c.Timestamps.ValidatedAt != nil
}

// Periods are the business-day lengths used for a case's deadlines.
type Periods struct {
	TargetDays    int
	ExpiryDays    int
	ExtensionDays int // added when an environmental impact assessment is required
}

// SetDeadlines sets target and expiry dates counted from on.
func SetDeadlines(c *domain.Case, cal *calendar.Calendar, on time.Time, p Periods) {
	ext := 0
	if c.EIARequired {
		ext = p.ExtensionDays
	}
	target := cal.Format(cal.AddBusinessDays(on, p.TargetDays+ext))
	expiry := cal.Format(cal.AddBusinessDays(on, p.ExpiryDays+ext))
	c.TargetDate = &target
	c.ExpiryDate = &expiry
}

// ShiftDeadlines moves the current target and expiry dates by days business days.
// Unset dates stay unset.
func ShiftDeadlines(c *domain.Case, cal *calendar.Calendar, days int) error {
	shift := func(d *string) (*string, error) {
		if d == nil || days == 0 {
			return d, nil
		}
		t, err := cal.ParseDate(*d)
		if err != nil {
			return nil, fmt.Errorf("parse deadline %q: %w", *d, err)
		}
		out := cal.Format(cal.AddBusinessDays(t, days))
		return &out, nil
	}
	target, err := shift(c.TargetDate)
	if err != nil {
		return err
	}
	expiry, err := shift(c.ExpiryDate)
	if err != nil {
		return err
	}
	c.TargetDate, c.ExpiryDate = target, expiry
	return nil
}

// ExtendExpiry sets the expiry date to newExpiry and moves the target date by the
// same number of business days. newExpiry must be a business day.
func ExtendExpiry(c *domain.Case, cal *calendar.Calendar, newExpiry time.Time) error {
	if c.ExpiryDate == nil {
		return fmt.Errorf("case has no expiry date")
	}
	if !cal.IsBusinessDay(newExpiry) {
		return fmt.Errorf("expiry %s is not a business day", cal.Format(newExpiry))
	}
	old, err := cal.ParseDate(*c.ExpiryDate)
	if err != nil {
		return fmt.Errorf("parse expiry %q: %w", *c.ExpiryDate, err)
	}
	delta := cal.BusinessDaysBetween(old, newExpiry)
	if c.TargetDate != nil && delta != 0 {
		t, err := cal.ParseDate(*c.TargetDate)
		if err != nil {
			return fmt.Errorf("parse target %q: %w", *c.TargetDate, err)
		}
		target := cal.Format(cal.AddBusinessDays(t, delta))
		c.TargetDate = &target
	}
	expiry := cal.Format(newExpiry)
	c.ExpiryDate = &expiry
	return nil
}
