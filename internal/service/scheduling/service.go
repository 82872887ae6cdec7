package scheduling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"salonbook/backend/internal/domain"
	"salonbook/backend/internal/store"
)

type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string {
	return e.msg
}

func validationError(msg string) error {
	return &ValidationError{msg: msg}
}

type Service struct {
	repo    store.BookingRepository
	checker ConflictChecker
	log     *slog.Logger
}

func NewService(repo store.BookingRepository, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		repo:    repo,
		checker: NewConflictChecker(repo),
		log:     log.With(slog.String("component", "scheduling")),
	}
}

// ExpansionResult is the aggregate outcome of expanding one rule. Partial
// success is the normal case: occurrences carry their own status and the
// counts summarize them. Ordering is ascending by start time.
type ExpansionResult struct {
	Occurrences    []domain.Occurrence
	CreatedCount   int
	SkippedCount   int
	FailedCount    int
	CeilingReached bool
}

// Expand validates the rule, generates every candidate occurrence and
// processes them sequentially in ascending time order: conflict check, then
// persistence. Each created booking is committed before the next candidate
// is checked, so later occurrences see earlier ones. Only an invalid rule
// aborts the whole operation; per-occurrence conflicts and persistence
// failures are recorded on the occurrence and expansion continues. Cancelling
// ctx mid-expansion leaves already created occurrences committed and marks
// the remainder failed.
func (s *Service) Expand(ctx context.Context, req domain.AppointmentRequest, rule domain.RecurrenceRule) (ExpansionResult, error) {
	loc, err := s.validateRequest(req)
	if err != nil {
		return ExpansionResult{}, err
	}

	series, err := domain.GenerateOccurrences(req.Start, rule, loc)
	if err != nil {
		return ExpansionResult{}, err
	}

	duration := req.Duration()
	result := ExpansionResult{
		Occurrences:    make([]domain.Occurrence, 0, len(series.Starts)),
		CeilingReached: series.CeilingReached,
	}

	for i, start := range series.Starts {
		occ := domain.Occurrence{
			SequenceIndex: i,
			Start:         start.UTC(),
			End:           start.UTC().Add(duration),
			Status:        domain.OccurrencePending,
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			occ.Status = domain.OccurrenceFailed
			occ.Reason = ctxErr.Error()
			result.Occurrences = append(result.Occurrences, occ)
			result.FailedCount++
			continue
		}

		s.processOccurrence(ctx, req, &occ)
		result.Occurrences = append(result.Occurrences, occ)

		switch occ.Status {
		case domain.OccurrenceCreated:
			result.CreatedCount++
		case domain.OccurrenceSkippedConflict:
			result.SkippedCount++
		case domain.OccurrenceFailed:
			result.FailedCount++
		}
	}

	s.log.Info(
		"expansion finished",
		slog.String("attendant_id", req.AttendantID),
		slog.Int("created", result.CreatedCount),
		slog.Int("skipped", result.SkippedCount),
		slog.Int("failed", result.FailedCount),
		slog.Bool("ceiling_reached", result.CeilingReached),
	)
	return result, nil
}

func (s *Service) processOccurrence(ctx context.Context, req domain.AppointmentRequest, occ *domain.Occurrence) {
	free, blocking, err := s.checker.IsAvailable(ctx, req.AttendantID, occ.Start, occ.End, uuid.Nil)
	if err != nil {
		occ.Status = domain.OccurrenceFailed
		occ.Reason = fmt.Sprintf("availability check failed: %v", err)
		return
	}
	if !free {
		occ.Status = domain.OccurrenceSkippedConflict
		occ.Reason = conflictReason(req.AttendantID, blocking)
		s.log.Debug(
			"occurrence skipped",
			slog.String("attendant_id", req.AttendantID),
			slog.Int("sequence_index", occ.SequenceIndex),
			slog.Time("start_time", occ.Start),
		)
		return
	}

	created, err := s.repo.Create(ctx, bookingFromRequest(req, occ.Start, occ.End), req.Services)
	if err != nil {
		// The advisory lock makes this rare, but another writer can still
		// take the slot between the check and the insert.
		if errors.Is(err, store.ErrConflict) {
			occ.Status = domain.OccurrenceSkippedConflict
			occ.Reason = conflictReason(req.AttendantID, nil)
			return
		}
		occ.Status = domain.OccurrenceFailed
		occ.Reason = err.Error()
		s.log.Warn(
			"occurrence persist failed",
			slog.Any("err", err),
			slog.String("attendant_id", req.AttendantID),
			slog.Int("sequence_index", occ.SequenceIndex),
		)
		return
	}

	occ.Status = domain.OccurrenceCreated
	occ.BookingID = created.ID
}

// PreviewResult is generation without persistence, for showing the candidate
// dates before the user confirms.
type PreviewResult struct {
	Occurrences    []domain.Occurrence
	CeilingReached bool
}

func (s *Service) Preview(req domain.AppointmentRequest, rule domain.RecurrenceRule) (PreviewResult, error) {
	loc, err := s.validateRequest(req)
	if err != nil {
		return PreviewResult{}, err
	}

	series, err := domain.GenerateOccurrences(req.Start, rule, loc)
	if err != nil {
		return PreviewResult{}, err
	}

	duration := req.Duration()
	out := PreviewResult{
		Occurrences:    make([]domain.Occurrence, 0, len(series.Starts)),
		CeilingReached: series.CeilingReached,
	}
	for i, start := range series.Starts {
		out.Occurrences = append(out.Occurrences, domain.Occurrence{
			SequenceIndex: i,
			Start:         start.UTC(),
			End:           start.UTC().Add(duration),
			Status:        domain.OccurrencePending,
		})
	}
	return out, nil
}

// CreateBooking persists a single non-recurring booking. idempotencyKey, when
// present, pins the booking id so retries return the original row.
func (s *Service) CreateBooking(ctx context.Context, req domain.AppointmentRequest, idempotencyKey string) (domain.Booking, error) {
	if _, err := s.validateRequest(req); err != nil {
		return domain.Booking{}, err
	}

	booking := bookingFromRequest(req, req.Start.UTC(), req.End().UTC())

	key := strings.TrimSpace(idempotencyKey)
	if key != "" {
		if len(key) > 256 {
			return domain.Booking{}, validationError("idempotency_key too long")
		}
		booking.ID = uuid.NewSHA1(uuid.NameSpaceOID, []byte("salonbook:create_booking:"+req.AttendantID+":"+key))
	}

	return s.repo.Create(ctx, booking, req.Services)
}

func (s *Service) ListBookings(ctx context.Context, attendantID string, windowStart, windowEnd time.Time) ([]domain.Booking, error) {
	if attendantID == "" {
		return nil, validationError("attendant_id is required")
	}

	start := windowStart.UTC()
	end := windowEnd.UTC()
	if end.Equal(start) || end.Before(start) {
		return nil, validationError("window_end must be after window_start")
	}

	return s.repo.ListForAttendant(ctx, attendantID, start, end)
}

func (s *Service) CancelBooking(ctx context.Context, attendantID string, bookingID uuid.UUID) error {
	if attendantID == "" {
		return validationError("attendant_id is required")
	}
	if bookingID == uuid.Nil {
		return validationError("booking_id is required")
	}
	return s.repo.Cancel(ctx, attendantID, bookingID)
}

func (s *Service) validateRequest(req domain.AppointmentRequest) (*time.Location, error) {
	if req.ClientID == "" {
		return nil, validationError("client_id is required")
	}
	if req.UnitID == "" {
		return nil, validationError("unit_id is required")
	}
	if req.AttendantID == "" {
		return nil, validationError("attendant_id is required")
	}
	if req.Start.IsZero() {
		return nil, validationError("start_time is required")
	}
	if len(req.Services) == 0 {
		return nil, validationError("at least one service is required")
	}
	for _, svc := range req.Services {
		if svc.ServiceID == "" {
			return nil, validationError("service_id is required")
		}
		if svc.DurationMinutes < 1 {
			return nil, validationError("service duration must be at least 1 minute")
		}
		if svc.UnitPriceCents < 0 {
			return nil, validationError("service price must not be negative")
		}
	}

	tz := strings.TrimSpace(req.Timezone)
	if tz == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, validationError("invalid timezone")
	}
	return loc, nil
}

func bookingFromRequest(req domain.AppointmentRequest, start, end time.Time) domain.Booking {
	return domain.Booking{
		UnitID:          req.UnitID,
		AttendantID:     req.AttendantID,
		ClientID:        req.ClientID,
		StartTime:       start,
		EndTime:         end,
		Status:          domain.BookingStatusConfirmed,
		Notes:           req.Notes,
		DurationMinutes: int(req.Duration() / time.Minute),
		TotalCents:      req.TotalCents(),
	}
}

func conflictReason(attendantID string, blocking *domain.Booking) string {
	if blocking == nil {
		return fmt.Sprintf("attendant %s is already booked during this time", attendantID)
	}
	return fmt.Sprintf(
		"attendant %s is already booked from %s to %s",
		attendantID,
		blocking.StartTime.UTC().Format(time.RFC3339),
		blocking.EndTime.UTC().Format(time.RFC3339),
	)
}
