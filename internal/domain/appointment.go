package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// ServiceSelection is one service chosen for an appointment, with its price
// snapshotted at request time. Quantity is fixed at 1 for now.
type ServiceSelection struct {
	ServiceID       string
	Description     string
	Quantity        int
	UnitPriceCents  int64
	DurationMinutes int
}

// AppointmentRequest is the anchor appointment a recurrence expands from.
// Timezone is the unit's IANA zone; all rule evaluation happens in it.
type AppointmentRequest struct {
	ClientID    string
	UnitID      string
	AttendantID string
	Timezone    string
	Services    []ServiceSelection
	Start       time.Time
	Notes       string
}

// Duration is the sum of the selected services' durations.
func (r AppointmentRequest) Duration() time.Duration {
	total := 0
	for _, s := range r.Services {
		total += s.DurationMinutes
	}
	return time.Duration(total) * time.Minute
}

func (r AppointmentRequest) End() time.Time {
	return r.Start.Add(r.Duration())
}

func (r AppointmentRequest) TotalCents() int64 {
	var total int64
	for _, s := range r.Services {
		qty := s.Quantity
		if qty < 1 {
			qty = 1
		}
		total += s.UnitPriceCents * int64(qty)
	}
	return total
}

type OccurrenceStatus string

const (
	OccurrencePending         OccurrenceStatus = "pending"
	OccurrenceCreated         OccurrenceStatus = "created"
	OccurrenceSkippedConflict OccurrenceStatus = "skipped_conflict"
	OccurrenceFailed          OccurrenceStatus = "failed"
)

// Occurrence is one concrete scheduled instance within a recurring series.
// SequenceIndex 0 is the anchor itself.
type Occurrence struct {
	SequenceIndex int
	BookingID     uuid.UUID
	Start         time.Time
	End           time.Time
	Status        OccurrenceStatus
	Reason        string
}

// Overlaps reports whether the half-open intervals [aStart, aEnd) and
// [bStart, bEnd) intersect. Back-to-back intervals do not overlap.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

type BookingStatus string

const (
	BookingStatusConfirmed BookingStatus = "confirmed"
	BookingStatusCancelled BookingStatus = "cancelled"
)

type Booking struct {
	bun.BaseModel `bun:"table:bookings"`

	ID              uuid.UUID     `bun:"id,pk,type:uuid"`
	UnitID          string        `bun:"unit_id,notnull"`
	AttendantID     string        `bun:"attendant_id,notnull"`
	ClientID        string        `bun:"client_id,notnull"`
	StartTime       time.Time     `bun:"start_time,notnull"`
	EndTime         time.Time     `bun:"end_time,notnull"`
	Status          BookingStatus `bun:"status,notnull"`
	Notes           string        `bun:"notes"`
	DurationMinutes int           `bun:"duration_minutes,notnull"`
	TotalCents      int64         `bun:"total_cents,notnull"`
	CreatedAt       time.Time     `bun:"created_at,notnull"`
	UpdatedAt       time.Time     `bun:"updated_at,notnull"`

	Services []BookingService `bun:"rel:has-many,join:id=booking_id"`
}

func (b *Booking) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if b.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			b.ID = id
		}
		if b.Status == "" {
			b.Status = BookingStatusConfirmed
		}
		if b.CreatedAt.IsZero() {
			b.CreatedAt = now
		}
		if b.UpdatedAt.IsZero() {
			b.UpdatedAt = now
		}
	case *bun.UpdateQuery:
		b.UpdatedAt = now
	}
	return nil
}

// BookingService is one line of a booking's service snapshot. Prices and
// durations are copied at booking time and never re-fetched.
type BookingService struct {
	bun.BaseModel `bun:"table:booking_services"`

	ID              uuid.UUID `bun:"id,pk,type:uuid"`
	BookingID       uuid.UUID `bun:"booking_id,notnull,type:uuid"`
	Position        int       `bun:"position,notnull"`
	ServiceID       string    `bun:"service_id,notnull"`
	Description     string    `bun:"description"`
	Quantity        int       `bun:"quantity,notnull"`
	UnitPriceCents  int64     `bun:"unit_price_cents,notnull"`
	DurationMinutes int       `bun:"duration_minutes,notnull"`
}

func (s *BookingService) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	if _, ok := query.(*bun.InsertQuery); ok && s.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		s.ID = id
	}
	return nil
}
