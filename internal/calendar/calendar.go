// Package calendar does business-day arithmetic for statutory deadlines.
package calendar

import (
	"fmt"
	"time"
	_ "time/tzdata"
)

const dateLayout = "2006-01-02"

// Calendar knows weekends, a holiday set and a daily working-hours window.
type Calendar struct {
	loc      *time.Location
	holidays map[string]struct{}
	openMin  int
	closeMin int
}

// Options configure a Calendar.
type Options struct {
	Timezone  string
	OpenTime  string // "09:00"
	CloseTime string // "17:00"
	Holidays  []string
}

// New builds a Calendar from options.
func New(opts Options) (*Calendar, error) {
	loc := time.UTC
	if opts.Timezone != "" {
		l, err := time.LoadLocation(opts.Timezone)
		if err != nil {
			return nil, fmt.Errorf("calendar timezone: %w", err)
		}
		loc = l
	}
	openMin, err := clockMinutes(opts.OpenTime, 9*60)
	if err != nil {
		return nil, fmt.Errorf("calendar open time: %w", err)
	}
	closeMin, err := clockMinutes(opts.CloseTime, 17*60)
	if err != nil {
		return nil, fmt.Errorf("calendar close time: %w", err)
	}
	if closeMin <= openMin {
		return nil, fmt.Errorf("calendar close time %s must be after open time %s", opts.CloseTime, opts.OpenTime)
	}
	c := &Calendar{loc: loc, holidays: make(map[string]struct{}, len(opts.Holidays)), openMin: openMin, closeMin: closeMin}
	for _, h := range opts.Holidays {
		d, err := time.Parse(dateLayout, h)
		if err != nil {
			return nil, fmt.Errorf("calendar holiday %q: %w", h, err)
		}
		c.holidays[d.Format(dateLayout)] = struct{}{}
	}
	return c, nil
}

func clockMinutes(v string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	t, err := time.Parse("15:04", v)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

// Location returns the calendar's time zone.
func (c *Calendar) Location() *time.Location {
	return c.loc
}

// Date truncates t to its calendar day in the calendar's zone.
func (c *Calendar) Date(t time.Time) time.Time {
	t = t.In(c.loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, c.loc)
}

// ParseDate reads a YYYY-MM-DD date in the calendar's zone.
func (c *Calendar) ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation(dateLayout, s, c.loc)
}

// Format renders the calendar day of t.
func (c *Calendar) Format(t time.Time) string {
	return c.Date(t).Format(dateLayout)
}

// IsHoliday reports whether the day of t is in the holiday set.
func (c *Calendar) IsHoliday(t time.Time) bool {
	_, ok := c.holidays[c.Format(t)]
	return ok
}

// IsBusinessDay reports whether the day of t is neither a weekend nor a holiday.
func (c *Calendar) IsBusinessDay(t time.Time) bool {
	switch t.In(c.loc).Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return !c.IsHoliday(t)
}

// AddBusinessDays moves n business days from the day of t. Negative n moves backwards.
// With n == 0 the day itself is returned even when it is not a business day.
func (c *Calendar) AddBusinessDays(t time.Time, n int) time.Time {
	d := c.Date(t)
	step := 1
	if n < 0 {
		step = -1
		n = -n
	}
	for n > 0 {
		d = d.AddDate(0, 0, step)
		if c.IsBusinessDay(d) {
			n--
		}
	}
	return d
}

// NextBusinessDay returns the day of t when t falls on a business day inside working
// hours, otherwise the following business day.
func (c *Calendar) NextBusinessDay(t time.Time) time.Time {
	local := t.In(c.loc)
	mins := local.Hour()*60 + local.Minute()
	if c.IsBusinessDay(local) && mins >= c.openMin && mins < c.closeMin {
		return c.Date(local)
	}
	return c.AddBusinessDays(local, 1)
}

// BusinessDaysBetween counts business days in (from, to]; negative when to is before from.
func (c *Calendar) BusinessDaysBetween(from, to time.Time) int {
	a, b := c.Date(from), c.Date(to)
	sign := 1
	if b.Before(a) {
		a, b = b, a
		sign = -1
	}
	n := 0
	for d := a.AddDate(0, 0, 1); !d.After(b); d = d.AddDate(0, 0, 1) {
		if c.IsBusinessDay(d) {
			n++
		}
	}
	return sign * n
}
