package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"salonbook/backend/internal/domain"
)

type BookingRepository interface {
	// Create persists a booking and its service snapshot. ErrConflict is
	// returned when the attendant is already booked for an overlapping
	// interval; ErrIdempotencyConflict when the booking's id was already
	// used for a different booking.
	Create(ctx context.Context, booking domain.Booking, services []domain.ServiceSelection) (domain.Booking, error)

	// ListForAttendant returns the attendant's non-cancelled bookings whose
	// [start, end) intervals overlap the half-open window, ascending by
	// start time.
	ListForAttendant(ctx context.Context, attendantID string, windowStart, windowEnd time.Time) ([]domain.Booking, error)

	Cancel(ctx context.Context, attendantID string, bookingID uuid.UUID) error
}

// BookingTx is the per-transaction surface the repository exposes while
// holding an attendant's calendar lock.
type BookingTx interface {
	CreateBooking(ctx context.Context, booking domain.Booking, services []domain.BookingService) (domain.Booking, error)
	ListBookings(ctx context.Context, attendantID string, windowStart, windowEnd time.Time) ([]domain.Booking, error)
	CancelBooking(ctx context.Context, attendantID string, bookingID uuid.UUID) error
}
