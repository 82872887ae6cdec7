// Package ical renders bookings and recurrence rules for calendar
// interchange. The RRULE rendering is advisory: the domain generator stays
// authoritative because its monthly clamping and anchor policies are not
// RFC 5545 semantics.
package ical

import (
	"bytes"
	"fmt"
	"time"

	"github.com/emersion/go-ical"
	"github.com/teambition/rrule-go"

	"salonbook/backend/internal/domain"
)

const prodID = "-//salonbook//backend//EN"

// BuildBookingCalendar renders an attendant's bookings as a VCALENDAR with
// one VEVENT per booking. Times are emitted in UTC.
func BuildBookingCalendar(attendantID string, bookings []domain.Booking) (string, error) {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, prodID)

	now := time.Now().UTC()
	for _, b := range bookings {
		event := ical.NewEvent()
		event.Props.SetText(ical.PropUID, b.ID.String())
		event.Props.SetDateTime(ical.PropDateTimeStamp, now)
		event.Props.SetDateTime(ical.PropDateTimeStart, b.StartTime.UTC())
		event.Props.SetDateTime(ical.PropDateTimeEnd, b.EndTime.UTC())
		event.Props.SetText(ical.PropSummary, fmt.Sprintf("Appointment (%s)", attendantID))
		if b.Notes != "" {
			event.Props.SetText(ical.PropDescription, b.Notes)
		}
		status := "CONFIRMED"
		if b.Status == domain.BookingStatusCancelled {
			status = "CANCELLED"
		}
		event.Props.SetText(ical.PropStatus, status)
		cal.Children = append(cal.Children, event.Component)
	}

	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		return "", fmt.Errorf("encode calendar: %w", err)
	}
	return buf.String(), nil
}

// RRuleString renders a validated, recurring rule as an RFC 5545 RRULE value
// anchored at the given start. Unbounded rules render without COUNT or UNTIL.
func RRuleString(rule domain.RecurrenceRule, anchor time.Time) (string, error) {
	if !rule.Recurring {
		return "", fmt.Errorf("rule is not recurring")
	}
	r := rule.Normalize()

	opt := rrule.ROption{
		Interval: r.Interval,
		Dtstart:  anchor.UTC(),
	}

	switch r.Frequency {
	case domain.FrequencyDaily:
		opt.Freq = rrule.DAILY
	case domain.FrequencyWeekly:
		opt.Freq = rrule.WEEKLY
	case domain.FrequencyMonthly:
		opt.Freq = rrule.MONTHLY
	default:
		return "", fmt.Errorf("unsupported frequency %q", r.Frequency)
	}

	if r.Frequency == domain.FrequencyWeekly {
		weekdays := make([]rrule.Weekday, 0, len(r.Weekdays))
		for _, wd := range r.Weekdays {
			rw, err := rruleWeekday(wd)
			if err != nil {
				return "", err
			}
			weekdays = append(weekdays, rw)
		}
		opt.Byweekday = weekdays
	}

	switch r.Termination {
	case domain.TerminationByDate:
		y, m, d := r.TerminationDate.Date()
		// End of the boundary day, matching the generator's inclusive stop.
		opt.Until = time.Date(y, m, d, 23, 59, 59, 0, time.UTC)
	case domain.TerminationByCount:
		opt.Count = r.OccurrenceCount
	}

	rr, err := rrule.NewRRule(opt)
	if err != nil {
		return "", fmt.Errorf("build rrule: %w", err)
	}
	return rr.String(), nil
}

func rruleWeekday(iso int) (rrule.Weekday, error) {
	switch iso {
	case 1:
		return rrule.MO, nil
	case 2:
		return rrule.TU, nil
	case 3:
		return rrule.WE, nil
	case 4:
		return rrule.TH, nil
	case 5:
		return rrule.FR, nil
	case 6:
		return rrule.SA, nil
	case 7:
		return rrule.SU, nil
	}
	return rrule.Weekday{}, fmt.Errorf("invalid weekday %d", iso)
}
