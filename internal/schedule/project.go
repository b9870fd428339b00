package schedule

import (
	"sort"
	"time"
)

// Day truncates t to a calendar date in UTC.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func daysIn(y int, m time.Month) int {
	return time.Date(y, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// addMonths moves first forward n months and clamps to anchor within the
// target month.
func addMonths(first time.Time, anchor, n int) time.Time {
	target := time.Date(first.Year(), first.Month()+time.Month(n), 1, 0, 0, 0, 0, time.UTC)
	d := min(anchor, daysIn(target.Year(), target.Month()))
	return time.Date(target.Year(), target.Month(), d, 0, 0, 0, 0, time.UTC)
}

// period returns the step of f as days or months; exactly one is non-zero.
func period(f Frequency) (days, months int) {
	switch f {
	case Daily:
		return 1, 0
	case Weekly:
		return 7, 0
	case Biweekly:
		return 14, 0
	case Quarterly:
		return 0, 3
	case Yearly:
		return 0, 12
	default:
		return 0, 1
	}
}

// cursor enumerates the dates of one rule by index so month based cadences
// never accumulate clamping.
type cursor struct {
	first  time.Time
	anchor int
	days   int
	months int
}

func newCursor(r Rule) cursor {
	f, _ := ParseFrequency(string(r.Frequency))
	days, months := period(f)
	return cursor{first: Day(r.NextExecution), anchor: r.Anchor(), days: days, months: months}
}

func (c cursor) at(n int) time.Time {
	if n == 0 {
		return c.first
	}
	if c.days > 0 {
		return c.first.AddDate(0, 0, n*c.days)
	}
	return addMonths(c.first, c.anchor, n*c.months)
}

// skip returns an index whose date is strictly before start, or 0.
func (c cursor) skip(start time.Time) int {
	if !c.first.Before(start) {
		return 0
	}
	var n int
	if c.days > 0 {
		n = int(start.Sub(c.first).Hours()/24) / c.days
	} else {
		diff := (start.Year()-c.first.Year())*12 + int(start.Month()-c.first.Month())
		n = diff / c.months
	}
	return max(n-1, 0)
}

// Project expands r into the occurrences dated within [start, end], both
// inclusive and compared as calendar dates. Disabled rules and inverted
// windows yield nothing. Unknown frequencies step monthly.
func Project(r Rule, start, end time.Time) []Occurrence {
	if r.IsDisabled || r.NextExecution.IsZero() {
		return nil
	}
	start, end = Day(start), Day(end)
	if end.Before(start) {
		return nil
	}
	c := newCursor(r)
	var out []Occurrence
	for n := c.skip(start); ; n++ {
		d := c.at(n)
		if d.After(end) {
			break
		}
		if !d.Before(start) {
			out = append(out, r.occurrence(d))
		}
	}
	return out
}

// ProjectAll projects every rule over the window and orders the result by
// date, then rule id, then input order.
func ProjectAll(rules []Rule, start, end time.Time) []Occurrence {
	var out []Occurrence
	for _, r := range rules {
		out = append(out, Project(r, start, end)...)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].RuleID < out[j].RuleID
	})
	return out
}

// NextAfter returns the first scheduled date of r strictly after t. It is
// used to advance NextExecution once occurrences up to t are posted.
func NextAfter(r Rule, t time.Time) time.Time {
	c := newCursor(r)
	t = Day(t)
	for n := c.skip(t); ; n++ {
		if d := c.at(n); d.After(t) {
			return d
		}
	}
}
