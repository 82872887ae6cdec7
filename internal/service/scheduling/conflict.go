package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"

	"salonbook/backend/internal/domain"
)

// BookingSource is the read side of the booking store the conflict checker
// queries. Listing is half-open over [windowStart, windowEnd).
type BookingSource interface {
	ListForAttendant(ctx context.Context, attendantID string, windowStart, windowEnd time.Time) ([]domain.Booking, error)
}

// ConflictChecker decides whether an attendant is free for a candidate
// interval. The binding constraint is the attendant; unit capacity is not
// checked.
type ConflictChecker struct {
	bookings BookingSource
}

func NewConflictChecker(bookings BookingSource) ConflictChecker {
	return ConflictChecker{bookings: bookings}
}

// IsAvailable reports whether [start, end) is free for the attendant. When
// it is not, the earliest overlapping booking is returned. exclude ignores
// one booking id, for availability checks while rescheduling.
func (c ConflictChecker) IsAvailable(ctx context.Context, attendantID string, start, end time.Time, exclude uuid.UUID) (bool, *domain.Booking, error) {
	existing, err := c.bookings.ListForAttendant(ctx, attendantID, start, end)
	if err != nil {
		return false, nil, err
	}

	for i := range existing {
		b := existing[i]
		if exclude != uuid.Nil && b.ID == exclude {
			continue
		}
		if domain.Overlaps(start, end, b.StartTime, b.EndTime) {
			return false, &b, nil
		}
	}
	return true, nil, nil
}
