package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/uptrace/bun"

	"salonbook/backend/internal/domain"
	"salonbook/backend/internal/store"
)

type BookingRepo struct {
	db *bun.DB
}

func NewBookingRepo(db *bun.DB) *BookingRepo {
	return &BookingRepo{db: db}
}

type bookingTx struct {
	tx bun.Tx
}

func (r *BookingRepo) Create(ctx context.Context, booking domain.Booking, services []domain.ServiceSelection) (domain.Booking, error) {
	var out domain.Booking
	err := r.InAttendantTransaction(ctx, booking.AttendantID, func(ctx context.Context, tx store.BookingTx) error {
		b, err := tx.CreateBooking(ctx, booking, serviceRows(booking.ID, services))
		if err != nil {
			return err
		}
		out = b
		return nil
	})
	if err != nil {
		return domain.Booking{}, err
	}
	return out, nil
}

func (r *BookingRepo) ListForAttendant(ctx context.Context, attendantID string, windowStart, windowEnd time.Time) ([]domain.Booking, error) {
	var rows []domain.Booking
	err := r.db.NewSelect().
		Model(&rows).
		Where("attendant_id = ?", attendantID).
		Where("status != ?", domain.BookingStatusCancelled).
		Where("start_time < ?", windowEnd).
		Where("end_time > ?", windowStart).
		OrderExpr("start_time ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *BookingRepo) Cancel(ctx context.Context, attendantID string, bookingID uuid.UUID) error {
	return r.InAttendantTransaction(ctx, attendantID, func(ctx context.Context, tx store.BookingTx) error {
		return tx.CancelBooking(ctx, attendantID, bookingID)
	})
}

// InAttendantTransaction serializes writes per attendant with an advisory
// lock, so concurrent expansions cannot double-book the same attendant.
func (r *BookingRepo) InAttendantTransaction(ctx context.Context, attendantID string, fn func(ctx context.Context, tx store.BookingTx) error) error {
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := lockAttendantCalendar(ctx, tx, attendantID); err != nil {
			return err
		}
		return fn(ctx, bookingTx{tx: tx})
	})
}

func lockAttendantCalendar(ctx context.Context, tx bun.Tx, attendantID string) error {
	_, err := tx.NewRaw("SELECT pg_advisory_xact_lock(hashtext(?))", attendantID).Exec(ctx)
	return err
}

// serviceRows snapshots the selections into booking_services rows, keeping
// the caller's order via Position.
func serviceRows(bookingID uuid.UUID, services []domain.ServiceSelection) []domain.BookingService {
	rows := make([]domain.BookingService, 0, len(services))
	for i, s := range services {
		qty := s.Quantity
		if qty < 1 {
			qty = 1
		}
		rows = append(rows, domain.BookingService{
			BookingID:       bookingID,
			Position:        i,
			ServiceID:       s.ServiceID,
			Description:     s.Description,
			Quantity:        qty,
			UnitPriceCents:  s.UnitPriceCents,
			DurationMinutes: s.DurationMinutes,
		})
	}
	return rows
}

func (r bookingTx) CreateBooking(ctx context.Context, booking domain.Booking, services []domain.BookingService) (domain.Booking, error) {
	m := domain.Booking{
		ID:              booking.ID,
		UnitID:          booking.UnitID,
		AttendantID:     booking.AttendantID,
		ClientID:        booking.ClientID,
		StartTime:       booking.StartTime,
		EndTime:         booking.EndTime,
		Status:          booking.Status,
		Notes:           booking.Notes,
		DurationMinutes: booking.DurationMinutes,
		TotalCents:      booking.TotalCents,
		CreatedAt:       booking.CreatedAt,
		UpdatedAt:       booking.UpdatedAt,
	}

	_, err := r.tx.NewInsert().Model(&m).Exec(ctx)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == "23P01" && pgErr.ConstraintName == "bookings_no_overlap" {
				return domain.Booking{}, store.ErrConflict
			}
			if pgErr.Code == "23505" {
				var existing domain.Booking
				selectErr := r.tx.NewSelect().
					Model(&existing).
					Where("id = ?", m.ID).
					Limit(1).
					Scan(ctx)
				if selectErr != nil {
					return domain.Booking{}, err
				}

				if existing.AttendantID != booking.AttendantID ||
					existing.ClientID != booking.ClientID ||
					existing.UnitID != booking.UnitID ||
					!existing.StartTime.Equal(booking.StartTime) ||
					!existing.EndTime.Equal(booking.EndTime) {
					return domain.Booking{}, store.ErrIdempotencyConflict
				}

				return existing, nil
			}
		}
		return domain.Booking{}, err
	}

	if len(services) > 0 {
		rows := make([]domain.BookingService, len(services))
		copy(rows, services)
		for i := range rows {
			rows[i].BookingID = m.ID
		}
		if _, err := r.tx.NewInsert().Model(&rows).Exec(ctx); err != nil {
			return domain.Booking{}, err
		}
		m.Services = rows
	}

	booking.ID = m.ID
	booking.Status = m.Status
	booking.Services = m.Services
	return booking, nil
}

func (r bookingTx) ListBookings(ctx context.Context, attendantID string, windowStart, windowEnd time.Time) ([]domain.Booking, error) {
	var rows []domain.Booking
	err := r.tx.NewSelect().
		Model(&rows).
		Where("attendant_id = ?", attendantID).
		Where("status != ?", domain.BookingStatusCancelled).
		Where("start_time < ?", windowEnd).
		Where("end_time > ?", windowStart).
		OrderExpr("start_time ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r bookingTx) CancelBooking(ctx context.Context, attendantID string, bookingID uuid.UUID) error {
	res, err := r.tx.NewUpdate().
		Model((*domain.Booking)(nil)).
		Set("status = ?", domain.BookingStatusCancelled).
		Set("updated_at = ?", time.Now().UTC()).
		Where("attendant_id = ?", attendantID).
		Where("id = ?", bookingID).
		Where("status != ?", domain.BookingStatusCancelled).
		Exec(ctx)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}
