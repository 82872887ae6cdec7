package ical

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"salonbook/backend/internal/domain"
)

func TestBuildBookingCalendar(t *testing.T) {
	bookings := []domain.Booking{
		{
			ID:          uuid.MustParse("00000000-0000-0000-0000-000000000001"),
			AttendantID: "attendant-1",
			StartTime:   time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC),
			EndTime:     time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC),
			Status:      domain.BookingStatusConfirmed,
			Notes:       "first visit",
		},
		{
			ID:          uuid.MustParse("00000000-0000-0000-0000-000000000002"),
			AttendantID: "attendant-1",
			StartTime:   time.Date(2024, 1, 3, 9, 0, 0, 0, time.UTC),
			EndTime:     time.Date(2024, 1, 3, 9, 30, 0, 0, time.UTC),
			Status:      domain.BookingStatusCancelled,
		},
	}

	ics, err := BuildBookingCalendar("attendant-1", bookings)
	if err != nil {
		t.Fatalf("BuildBookingCalendar error: %v", err)
	}

	for _, want := range []string{
		"BEGIN:VCALENDAR",
		"BEGIN:VEVENT",
		"UID:00000000-0000-0000-0000-000000000001",
		"STATUS:CONFIRMED",
		"STATUS:CANCELLED",
		"DESCRIPTION:first visit",
	} {
		if !strings.Contains(ics, want) {
			t.Fatalf("ics missing %q:\n%s", want, ics)
		}
	}
	if got := strings.Count(ics, "BEGIN:VEVENT"); got != 2 {
		t.Fatalf("VEVENT count = %d, want 2", got)
	}
}

func TestRRuleString(t *testing.T) {
	anchor := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		rule domain.RecurrenceRule
		want []string
	}{
		{
			name: "weekly with count",
			rule: domain.RecurrenceRule{
				Recurring:       true,
				Frequency:       domain.FrequencyWeekly,
				Weekdays:        []int{3, 1},
				Termination:     domain.TerminationByCount,
				OccurrenceCount: 4,
			},
			want: []string{"FREQ=WEEKLY", "BYDAY=MO,WE", "COUNT=4"},
		},
		{
			name: "daily with until",
			rule: domain.RecurrenceRule{
				Recurring:       true,
				Frequency:       domain.FrequencyDaily,
				Interval:        2,
				Termination:     domain.TerminationByDate,
				TerminationDate: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
			},
			want: []string{"FREQ=DAILY", "INTERVAL=2", "UNTIL=20240301"},
		},
		{
			name: "monthly unbounded",
			rule: domain.RecurrenceRule{
				Recurring: true,
				Frequency: domain.FrequencyMonthly,
			},
			want: []string{"FREQ=MONTHLY"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := RRuleString(tt.rule, anchor)
			if err != nil {
				t.Fatalf("RRuleString error: %v", err)
			}
			for _, part := range tt.want {
				if !strings.Contains(got, part) {
					t.Fatalf("rrule = %q, want it to contain %q", got, part)
				}
			}
		})
	}

	if _, err := RRuleString(domain.RecurrenceRule{}, anchor); err == nil {
		t.Fatalf("expected error for non-recurring rule")
	}
}
