// Package period turns report period keywords into concrete date ranges.
package period

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Kind string

const (
	Today      Kind = "today"
	Yesterday  Kind = "yesterday"
	ThisWeek   Kind = "this_week"
	LastWeek   Kind = "last_week"
	ThisMonth  Kind = "this_month"
	LastMonth  Kind = "last_month"
	ThisYear   Kind = "this_year"
	Last30Days Kind = "last_30_days"
	Rolling    Kind = "rolling"
	Custom     Kind = "custom"
)

const (
	dateLayout     = "2006-01-02"
	maxRollingDays = 365
)

var ErrInvalidPeriod = errors.New("invalid period")

var kinds = []Kind{Today, Yesterday, ThisWeek, LastWeek, ThisMonth, LastMonth, ThisYear, Last30Days, Rolling, Custom}

// Kinds lists the accepted keywords in display order.
func Kinds() []Kind {
	return append([]Kind(nil), kinds...)
}

// Spec is a period as callers send it.
type Spec struct {
	Kind  string `json:"period" yaml:"period"`
	Days  int    `json:"days,omitempty" yaml:"days,omitempty"`
	Start string `json:"start,omitempty" yaml:"start,omitempty"`
	End   string `json:"end,omitempty" yaml:"end,omitempty"`
}

// Range covers whole days in Loc: [Start, End).
type Range struct {
	Kind  Kind
	Start time.Time
	End   time.Time
}

// Parse resolves spec against now in loc. Periods that include the
// current day end at the close of today.
func Parse(spec Spec, now time.Time, loc *time.Location) (Range, error) {
	if loc == nil {
		loc = time.UTC
	}
	now = now.In(loc)
	today := midnight(now)
	tomorrow := today.AddDate(0, 0, 1)

	kind := Kind(strings.ToLower(strings.TrimSpace(spec.Kind)))
	r := Range{Kind: kind}

	switch kind {
	case Today:
		r.Start, r.End = today, tomorrow
	case Yesterday:
		r.Start, r.End = today.AddDate(0, 0, -1), today
	case ThisWeek:
		r.Start, r.End = monday(today), tomorrow
	case LastWeek:
		thisMonday := monday(today)
		r.Start, r.End = thisMonday.AddDate(0, 0, -7), thisMonday
	case ThisMonth:
		r.Start, r.End = time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, loc), tomorrow
	case LastMonth:
		first := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, loc)
		r.Start, r.End = first.AddDate(0, -1, 0), first
	case ThisYear:
		r.Start, r.End = time.Date(today.Year(), 1, 1, 0, 0, 0, 0, loc), tomorrow
	case Last30Days:
		r.Start, r.End = today.AddDate(0, 0, -29), tomorrow
	case Rolling:
		if spec.Days < 1 || spec.Days > maxRollingDays {
			return Range{}, fmt.Errorf("%w: rolling needs days between 1 and %d, got %d", ErrInvalidPeriod, maxRollingDays, spec.Days)
		}
		r.Start, r.End = today.AddDate(0, 0, -(spec.Days - 1)), tomorrow
	case Custom:
		start, err := time.ParseInLocation(dateLayout, strings.TrimSpace(spec.Start), loc)
		if err != nil {
			return Range{}, fmt.Errorf("%w: custom start %q must be YYYY-MM-DD", ErrInvalidPeriod, spec.Start)
		}
		end, err := time.ParseInLocation(dateLayout, strings.TrimSpace(spec.End), loc)
		if err != nil {
			return Range{}, fmt.Errorf("%w: custom end %q must be YYYY-MM-DD", ErrInvalidPeriod, spec.End)
		}
		if end.Before(start) {
			return Range{}, fmt.Errorf("%w: custom start %s is after end %s", ErrInvalidPeriod, spec.Start, spec.End)
		}
		r.Start, r.End = start, end.AddDate(0, 0, 1)
	default:
		return Range{}, fmt.Errorf("%w: unknown keyword %q", ErrInvalidPeriod, spec.Kind)
	}

	return r, nil
}

func (r Range) Contains(t time.Time) bool {
	return !t.Before(r.Start) && t.Before(r.End)
}

// Days returns the midnight of every day in the range.
func (r Range) Days() []time.Time {
	var days []time.Time
	for d := r.Start; d.Before(r.End); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}

func (r Range) LastDay() time.Time {
	return r.End.AddDate(0, 0, -1)
}

func (r Range) String() string {
	return fmt.Sprintf("%s (%s to %s)", r.Kind, r.Start.Format(dateLayout), r.LastDay().Format(dateLayout))
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func monday(day time.Time) time.Time {
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}
