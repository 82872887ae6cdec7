package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

type Termination string

const (
	TerminationUnbounded Termination = "unbounded"
	TerminationByDate    Termination = "by_date"
	TerminationByCount   Termination = "by_count"
)

// MaxOccurrences caps generation for rules without a count bound (roughly
// two years of daily occurrences). It is a resource safety valve, not a
// business rule; results flag when it was hit so callers can tell the series
// continues past what was generated.
const MaxOccurrences = 730

// RecurrenceRule describes a repeating pattern anchored at a single
// appointment. Weekdays use ISO numbering, 1 = Monday .. 7 = Sunday, and are
// only meaningful for weekly rules.
type RecurrenceRule struct {
	Recurring       bool
	Frequency       Frequency
	Weekdays        []int
	Interval        int
	Termination     Termination
	TerminationDate time.Time
	OccurrenceCount int

	// OmitMismatchedAnchor drops the anchor occurrence when a weekly rule's
	// weekday set does not contain the anchor's weekday. The default keeps
	// the anchor as the first occurrence regardless of the set.
	OmitMismatchedAnchor bool
}

// InvalidRuleError carries every structural violation found in a rule so a
// form can surface all of them at once.
type InvalidRuleError struct {
	Violations []string
}

func (e *InvalidRuleError) Error() string {
	return "invalid recurrence rule: " + strings.Join(e.Violations, "; ")
}

// Validate checks the rule against the anchor it will be expanded from and
// returns an *InvalidRuleError listing every violation, or nil. A
// non-recurring rule is always valid.
func (r RecurrenceRule) Validate(anchor time.Time) error {
	if !r.Recurring {
		return nil
	}

	var violations []string

	switch r.Frequency {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly:
	case "":
		violations = append(violations, "frequency is required")
	default:
		violations = append(violations, fmt.Sprintf("unsupported frequency %q", r.Frequency))
	}

	if r.Frequency == FrequencyWeekly {
		if len(r.Weekdays) == 0 {
			violations = append(violations, "at least one weekday is required")
		}
		for _, wd := range r.Weekdays {
			if wd < 1 || wd > 7 {
				violations = append(violations, fmt.Sprintf("invalid weekday %d", wd))
				break
			}
		}
	}

	if r.Interval < 0 {
		violations = append(violations, "interval must be at least 1")
	}

	switch r.Termination {
	case TerminationUnbounded, "":
	case TerminationByDate:
		if r.TerminationDate.IsZero() {
			violations = append(violations, "termination_date is required")
		} else if !dateAfter(r.TerminationDate, anchor) {
			violations = append(violations, "termination_date must be after the anchor date")
		}
	case TerminationByCount:
		if r.OccurrenceCount < 1 {
			violations = append(violations, "occurrence_count must be at least 1")
		} else if r.OccurrenceCount > MaxOccurrences {
			violations = append(violations, fmt.Sprintf("occurrence_count must be at most %d", MaxOccurrences))
		}
	default:
		violations = append(violations, fmt.Sprintf("unsupported termination %q", r.Termination))
	}

	if len(violations) > 0 {
		return &InvalidRuleError{Violations: violations}
	}
	return nil
}

// Normalize returns a copy with defaults applied: interval 0 becomes 1,
// missing termination becomes unbounded, weekdays are deduplicated and
// sorted ascending, and weekdays are cleared for non-weekly frequencies.
func (r RecurrenceRule) Normalize() RecurrenceRule {
	out := r
	if out.Interval == 0 {
		out.Interval = 1
	}
	if out.Termination == "" {
		out.Termination = TerminationUnbounded
	}
	if out.Frequency != FrequencyWeekly {
		out.Weekdays = nil
		return out
	}

	seen := make(map[int]struct{}, len(out.Weekdays))
	weekdays := make([]int, 0, len(out.Weekdays))
	for _, wd := range out.Weekdays {
		if _, ok := seen[wd]; ok {
			continue
		}
		seen[wd] = struct{}{}
		weekdays = append(weekdays, wd)
	}
	sort.Ints(weekdays)
	out.Weekdays = weekdays
	return out
}

// GeneratedSeries is the ordered candidate start times for one rule.
type GeneratedSeries struct {
	Starts         []time.Time
	CeilingReached bool
}

// GenerateOccurrences expands a rule from its anchor into the ordered,
// deduplicated sequence of candidate start times, evaluated in loc. It is a
// pure function of its inputs: identical arguments always produce the
// identical sequence.
//
// The anchor itself is always the first element (unless the rule opts out of
// mismatched anchors). Monthly rules clamp the anchor's day-of-month to the
// last day of shorter months rather than skipping them. A by-date bound is
// inclusive of occurrences falling on the termination date itself.
func GenerateOccurrences(anchor time.Time, rule RecurrenceRule, loc *time.Location) (GeneratedSeries, error) {
	if loc == nil {
		loc = time.UTC
	}
	if err := rule.Validate(anchor); err != nil {
		return GeneratedSeries{}, err
	}
	r := rule.Normalize()

	anchorLocal := anchor.In(loc)
	if !r.Recurring {
		return GeneratedSeries{Starts: []time.Time{anchorLocal}}, nil
	}

	g := seriesBuilder{rule: r}

	switch r.Frequency {
	case FrequencyDaily:
		for k := 0; ; k++ {
			if !g.push(anchorLocal.AddDate(0, 0, k*r.Interval)) {
				break
			}
		}
	case FrequencyWeekly:
		g.weekly(anchorLocal, loc)
	case FrequencyMonthly:
		for k := 0; ; k++ {
			if !g.push(addMonthsClamped(anchorLocal, k*r.Interval, loc)) {
				break
			}
		}
	}

	return GeneratedSeries{Starts: g.starts, CeilingReached: g.ceiling}, nil
}

type seriesBuilder struct {
	rule    RecurrenceRule
	starts  []time.Time
	ceiling bool
}

// push appends a candidate and reports whether generation should continue.
// Candidates arrive in ascending order; exact duplicates of the previous
// element are dropped.
func (g *seriesBuilder) push(t time.Time) bool {
	if g.rule.Termination == TerminationByDate && dateAfter(t, g.rule.TerminationDate) {
		return false
	}
	if n := len(g.starts); n > 0 && g.starts[n-1].Equal(t) {
		return true
	}

	g.starts = append(g.starts, t)

	if g.rule.Termination == TerminationByCount && len(g.starts) >= g.rule.OccurrenceCount {
		return false
	}
	if len(g.starts) >= MaxOccurrences {
		g.ceiling = g.rule.Termination != TerminationByCount
		return false
	}
	return true
}

// weekly walks Monday-start weeks from the anchor's week, emitting the rule's
// weekdays at the anchor's local time of day. Week-0 weekdays earlier than
// the anchor are skipped; the anchor itself leads the sequence even when its
// weekday is outside the set.
func (g *seriesBuilder) weekly(anchorLocal time.Time, loc *time.Location) {
	anchorWeekday := isoWeekday(anchorLocal)
	anchorInSet := false
	for _, wd := range g.rule.Weekdays {
		if wd == anchorWeekday {
			anchorInSet = true
			break
		}
	}
	if !anchorInSet && !g.rule.OmitMismatchedAnchor {
		if !g.push(anchorLocal) {
			return
		}
	}

	weekMonday := mondayOf(anchorLocal)
	for week := 0; ; week++ {
		monday := weekMonday.AddDate(0, 0, week*g.rule.Interval*7)
		for _, wd := range g.rule.Weekdays {
			day := monday.AddDate(0, 0, wd-1)
			t := time.Date(
				day.Year(), day.Month(), day.Day(),
				anchorLocal.Hour(), anchorLocal.Minute(), anchorLocal.Second(), anchorLocal.Nanosecond(),
				loc,
			)
			if t.Before(anchorLocal) {
				continue
			}
			if !g.push(t) {
				return
			}
		}
	}
}

// addMonthsClamped advances by whole calendar months preserving the
// day-of-month, clamping to the last day of months too short to hold it.
func addMonthsClamped(t time.Time, months int, loc *time.Location) time.Time {
	first := time.Date(t.Year(), t.Month()+time.Month(months), 1, 0, 0, 0, 0, loc)
	day := t.Day()
	if last := first.AddDate(0, 1, -1).Day(); day > last {
		day = last
	}
	return time.Date(
		first.Year(), first.Month(), day,
		t.Hour(), t.Minute(), t.Second(), t.Nanosecond(),
		loc,
	)
}

// mondayOf returns midnight of the Monday starting t's week, in t's location.
func mondayOf(t time.Time) time.Time {
	d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	return d.AddDate(0, 0, 1-isoWeekday(t))
}

// isoWeekday maps time.Weekday to ISO numbering, 1 = Monday .. 7 = Sunday.
func isoWeekday(t time.Time) int {
	if wd := t.Weekday(); wd != time.Sunday {
		return int(wd)
	}
	return 7
}

// dateAfter reports whether a's calendar date is strictly after b's. Only the
// wall-clock date fields are compared, so a date-only value keeps meaning the
// same day regardless of the zone it was parsed in.
func dateAfter(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	if ay != by {
		return ay > by
	}
	if am != bm {
		return am > bm
	}
	return ad > bd
}
