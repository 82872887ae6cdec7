package scheduling

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"salonbook/backend/internal/domain"
	"salonbook/backend/internal/store"
)

type fakeRepo struct {
	createFn func(ctx context.Context, booking domain.Booking, services []domain.ServiceSelection) (domain.Booking, error)
	listFn   func(ctx context.Context, attendantID string, windowStart, windowEnd time.Time) ([]domain.Booking, error)
	cancelFn func(ctx context.Context, attendantID string, bookingID uuid.UUID) error
}

func (f *fakeRepo) Create(ctx context.Context, booking domain.Booking, services []domain.ServiceSelection) (domain.Booking, error) {
	if f.createFn == nil {
		panic("Create not configured")
	}
	return f.createFn(ctx, booking, services)
}

func (f *fakeRepo) ListForAttendant(ctx context.Context, attendantID string, windowStart, windowEnd time.Time) ([]domain.Booking, error) {
	if f.listFn == nil {
		panic("ListForAttendant not configured")
	}
	return f.listFn(ctx, attendantID, windowStart, windowEnd)
}

func (f *fakeRepo) Cancel(ctx context.Context, attendantID string, bookingID uuid.UUID) error {
	if f.cancelFn == nil {
		panic("Cancel not configured")
	}
	return f.cancelFn(ctx, attendantID, bookingID)
}

// memoryRepo keeps created bookings so later availability checks see earlier
// creates, the way the real store does.
type memoryRepo struct {
	bookings []domain.Booking
	creates  int
}

func (m *memoryRepo) Create(ctx context.Context, booking domain.Booking, services []domain.ServiceSelection) (domain.Booking, error) {
	m.creates++
	id, err := uuid.NewV7()
	if err != nil {
		return domain.Booking{}, err
	}
	booking.ID = id
	booking.Status = domain.BookingStatusConfirmed
	m.bookings = append(m.bookings, booking)
	return booking, nil
}

func (m *memoryRepo) ListForAttendant(ctx context.Context, attendantID string, windowStart, windowEnd time.Time) ([]domain.Booking, error) {
	var out []domain.Booking
	for _, b := range m.bookings {
		if b.AttendantID != attendantID {
			continue
		}
		if b.StartTime.Before(windowEnd) && b.EndTime.After(windowStart) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *memoryRepo) Cancel(ctx context.Context, attendantID string, bookingID uuid.UUID) error {
	return store.ErrNotFound
}

func baseRequest() domain.AppointmentRequest {
	return domain.AppointmentRequest{
		ClientID:    "client-1",
		UnitID:      "unit-1",
		AttendantID: "attendant-1",
		Timezone:    "UTC",
		Start:       time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC),
		Services: []domain.ServiceSelection{
			{ServiceID: "haircut", Quantity: 1, UnitPriceCents: 5000, DurationMinutes: 30},
		},
	}
}

func weeklyRule(count int) domain.RecurrenceRule {
	return domain.RecurrenceRule{
		Recurring:       true,
		Frequency:       domain.FrequencyWeekly,
		Weekdays:        []int{1, 3},
		Interval:        1,
		Termination:     domain.TerminationByCount,
		OccurrenceCount: count,
	}
}

func TestExpand_AllSlotsFree(t *testing.T) {
	repo := &memoryRepo{}
	svc := NewService(repo, nil)

	result, err := svc.Expand(context.Background(), baseRequest(), weeklyRule(4))
	if err != nil {
		t.Fatalf("Expand error: %v", err)
	}

	if result.CreatedCount != 4 || result.SkippedCount != 0 || result.FailedCount != 0 {
		t.Fatalf("counts = %d/%d/%d, want 4/0/0", result.CreatedCount, result.SkippedCount, result.FailedCount)
	}

	want := []time.Time{
		time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 3, 9, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC),
	}
	if len(result.Occurrences) != len(want) {
		t.Fatalf("len(occurrences) = %d, want %d", len(result.Occurrences), len(want))
	}
	for i, occ := range result.Occurrences {
		if occ.SequenceIndex != i {
			t.Fatalf("occurrences[%d].SequenceIndex = %d", i, occ.SequenceIndex)
		}
		if !occ.Start.Equal(want[i]) {
			t.Fatalf("occurrences[%d].Start = %v, want %v", i, occ.Start, want[i])
		}
		if !occ.End.Equal(want[i].Add(30 * time.Minute)) {
			t.Fatalf("occurrences[%d].End = %v, want anchor duration applied", i, occ.End)
		}
		if occ.Status != domain.OccurrenceCreated {
			t.Fatalf("occurrences[%d].Status = %s, want created", i, occ.Status)
		}
		if occ.BookingID == uuid.Nil {
			t.Fatalf("occurrences[%d] missing booking id", i)
		}
	}
}

func TestExpand_SkipsConflictingOccurrenceAndContinues(t *testing.T) {
	repo := &memoryRepo{}
	// Pre-existing booking overlapping the Wednesday slot, 08:45-09:15.
	repo.bookings = append(repo.bookings, domain.Booking{
		ID:          uuid.MustParse("00000000-0000-0000-0000-000000000001"),
		AttendantID: "attendant-1",
		StartTime:   time.Date(2024, 1, 3, 8, 45, 0, 0, time.UTC),
		EndTime:     time.Date(2024, 1, 3, 9, 15, 0, 0, time.UTC),
		Status:      domain.BookingStatusConfirmed,
	})
	svc := NewService(repo, nil)

	result, err := svc.Expand(context.Background(), baseRequest(), weeklyRule(4))
	if err != nil {
		t.Fatalf("Expand error: %v", err)
	}

	if result.CreatedCount != 3 || result.SkippedCount != 1 || result.FailedCount != 0 {
		t.Fatalf("counts = %d/%d/%d, want 3/1/0", result.CreatedCount, result.SkippedCount, result.FailedCount)
	}

	wed := result.Occurrences[1]
	if wed.Status != domain.OccurrenceSkippedConflict {
		t.Fatalf("wednesday status = %s, want skipped_conflict", wed.Status)
	}
	if !strings.Contains(wed.Reason, "attendant-1") || !strings.Contains(wed.Reason, "08:45") {
		t.Fatalf("reason = %q, want attendant and overlapping window named", wed.Reason)
	}
	for _, i := range []int{0, 2, 3} {
		if result.Occurrences[i].Status != domain.OccurrenceCreated {
			t.Fatalf("occurrences[%d].Status = %s, want created", i, result.Occurrences[i].Status)
		}
	}
}

func TestExpand_InvalidRuleAbortsBeforeAnyPersistence(t *testing.T) {
	calls := 0
	repo := &fakeRepo{
		createFn: func(ctx context.Context, booking domain.Booking, services []domain.ServiceSelection) (domain.Booking, error) {
			calls++
			return booking, nil
		},
		listFn: func(ctx context.Context, attendantID string, windowStart, windowEnd time.Time) ([]domain.Booking, error) {
			calls++
			return nil, nil
		},
	}
	svc := NewService(repo, nil)

	rule := weeklyRule(4)
	rule.Weekdays = nil

	_, err := svc.Expand(context.Background(), baseRequest(), rule)
	if err == nil {
		t.Fatalf("expected error")
	}
	var ruleErr *domain.InvalidRuleError
	if !errors.As(err, &ruleErr) {
		t.Fatalf("error type = %T, want *InvalidRuleError", err)
	}
	if calls != 0 {
		t.Fatalf("repo was called %d times, want 0", calls)
	}
}

func TestExpand_PersistenceFailureMarksOccurrenceFailedAndContinues(t *testing.T) {
	creates := 0
	repo := &fakeRepo{
		listFn: func(ctx context.Context, attendantID string, windowStart, windowEnd time.Time) ([]domain.Booking, error) {
			return nil, nil
		},
		createFn: func(ctx context.Context, booking domain.Booking, services []domain.ServiceSelection) (domain.Booking, error) {
			creates++
			if creates == 2 {
				return domain.Booking{}, errors.New("connection reset")
			}
			booking.ID = uuid.MustParse("00000000-0000-0000-0000-0000000000aa")
			return booking, nil
		},
	}
	svc := NewService(repo, nil)

	result, err := svc.Expand(context.Background(), baseRequest(), weeklyRule(4))
	if err != nil {
		t.Fatalf("Expand error: %v", err)
	}

	if result.CreatedCount != 3 || result.FailedCount != 1 {
		t.Fatalf("counts = %d created / %d failed, want 3/1", result.CreatedCount, result.FailedCount)
	}
	failed := result.Occurrences[1]
	if failed.Status != domain.OccurrenceFailed {
		t.Fatalf("occurrences[1].Status = %s, want failed", failed.Status)
	}
	if !strings.Contains(failed.Reason, "connection reset") {
		t.Fatalf("reason = %q, want underlying error message", failed.Reason)
	}
}

func TestExpand_StoreConflictOnInsertBecomesSkip(t *testing.T) {
	repo := &fakeRepo{
		listFn: func(ctx context.Context, attendantID string, windowStart, windowEnd time.Time) ([]domain.Booking, error) {
			return nil, nil
		},
		createFn: func(ctx context.Context, booking domain.Booking, services []domain.ServiceSelection) (domain.Booking, error) {
			return domain.Booking{}, store.ErrConflict
		},
	}
	svc := NewService(repo, nil)

	req := baseRequest()
	result, err := svc.Expand(context.Background(), req, domain.RecurrenceRule{Recurring: false})
	if err != nil {
		t.Fatalf("Expand error: %v", err)
	}
	if result.SkippedCount != 1 || result.CreatedCount != 0 {
		t.Fatalf("counts = %d skipped / %d created, want 1/0", result.SkippedCount, result.CreatedCount)
	}
	if result.Occurrences[0].Status != domain.OccurrenceSkippedConflict {
		t.Fatalf("status = %s, want skipped_conflict", result.Occurrences[0].Status)
	}
}

func TestExpand_CancellationKeepsCreatedAndFailsRemainder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	repo := &memoryRepo{}
	base := &fakeRepo{
		listFn: func(ctx context.Context, attendantID string, windowStart, windowEnd time.Time) ([]domain.Booking, error) {
			return repo.ListForAttendant(ctx, attendantID, windowStart, windowEnd)
		},
		createFn: func(ctx context.Context, booking domain.Booking, services []domain.ServiceSelection) (domain.Booking, error) {
			b, err := repo.Create(ctx, booking, services)
			if repo.creates == 2 {
				cancel()
			}
			return b, err
		},
	}
	svc := NewService(base, nil)

	result, err := svc.Expand(ctx, baseRequest(), weeklyRule(4))
	if err != nil {
		t.Fatalf("Expand error: %v", err)
	}

	if result.CreatedCount != 2 || result.FailedCount != 2 {
		t.Fatalf("counts = %d created / %d failed, want 2/2", result.CreatedCount, result.FailedCount)
	}
	for _, occ := range result.Occurrences[2:] {
		if occ.Status != domain.OccurrenceFailed {
			t.Fatalf("post-cancel status = %s, want failed", occ.Status)
		}
		if !strings.Contains(occ.Reason, "context canceled") {
			t.Fatalf("post-cancel reason = %q, want context error", occ.Reason)
		}
	}
	if len(repo.bookings) != 2 {
		t.Fatalf("persisted bookings = %d, want the 2 created before cancellation", len(repo.bookings))
	}
}

func TestExpand_UnboundedRuleReportsCeiling(t *testing.T) {
	repo := &memoryRepo{}
	svc := NewService(repo, nil)

	rule := domain.RecurrenceRule{
		Recurring: true,
		Frequency: domain.FrequencyDaily,
	}

	result, err := svc.Expand(context.Background(), baseRequest(), rule)
	if err != nil {
		t.Fatalf("Expand error: %v", err)
	}
	if !result.CeilingReached {
		t.Fatalf("expected CeilingReached")
	}
	if len(result.Occurrences) != domain.MaxOccurrences {
		t.Fatalf("len(occurrences) = %d, want %d", len(result.Occurrences), domain.MaxOccurrences)
	}
}

func TestExpand_EvaluatesRuleInUnitTimezone(t *testing.T) {
	repo := &memoryRepo{}
	svc := NewService(repo, nil)

	req := baseRequest()
	req.Timezone = "America/Sao_Paulo"
	// 09:00 in Sao Paulo is 12:00 UTC (UTC-3, no DST in 2024 winter).
	req.Start = time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)

	rule := domain.RecurrenceRule{
		Recurring:       true,
		Frequency:       domain.FrequencyDaily,
		Termination:     domain.TerminationByCount,
		OccurrenceCount: 3,
	}

	result, err := svc.Expand(context.Background(), req, rule)
	if err != nil {
		t.Fatalf("Expand error: %v", err)
	}
	loc, _ := time.LoadLocation("America/Sao_Paulo")
	for i, occ := range result.Occurrences {
		if occ.Start.In(loc).Hour() != 9 {
			t.Fatalf("occurrences[%d] local hour = %d, want 9", i, occ.Start.In(loc).Hour())
		}
		if occ.Start.Location() != time.UTC {
			t.Fatalf("occurrences[%d] not normalized to UTC", i)
		}
	}
}

func TestPreview_GeneratesWithoutPersisting(t *testing.T) {
	repo := &fakeRepo{} // any repo call would panic
	svc := NewService(repo, nil)

	result, err := svc.Preview(baseRequest(), weeklyRule(4))
	if err != nil {
		t.Fatalf("Preview error: %v", err)
	}
	if len(result.Occurrences) != 4 {
		t.Fatalf("len(occurrences) = %d, want 4", len(result.Occurrences))
	}
	for i, occ := range result.Occurrences {
		if occ.Status != domain.OccurrencePending {
			t.Fatalf("occurrences[%d].Status = %s, want pending", i, occ.Status)
		}
	}
}

func TestCreateBooking_ValidationAndIdempotency(t *testing.T) {
	var got domain.Booking
	repo := &fakeRepo{
		createFn: func(ctx context.Context, booking domain.Booking, services []domain.ServiceSelection) (domain.Booking, error) {
			got = booking
			return booking, nil
		},
	}
	svc := NewService(repo, nil)

	req := baseRequest()
	req.ClientID = ""
	_, err := svc.CreateBooking(context.Background(), req, "")
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("error type = %T, want *ValidationError", err)
	}

	req = baseRequest()
	first, err := svc.CreateBooking(context.Background(), req, "retry-key")
	if err != nil {
		t.Fatalf("CreateBooking error: %v", err)
	}
	if got.ID == uuid.Nil {
		t.Fatalf("idempotency key should pin the booking id")
	}
	second, err := svc.CreateBooking(context.Background(), req, "retry-key")
	if err != nil {
		t.Fatalf("CreateBooking error: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("ids differ across retries: %s vs %s", first.ID, second.ID)
	}
	if got.EndTime.Sub(got.StartTime) != 30*time.Minute {
		t.Fatalf("booking duration = %v, want 30m", got.EndTime.Sub(got.StartTime))
	}
}

func TestListBookings_ValidatesWindow(t *testing.T) {
	svc := NewService(&fakeRepo{}, nil)

	_, err := svc.ListBookings(context.Background(), "attendant-1",
		time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	)
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("error type = %T, want *ValidationError", err)
	}
}

func TestConflictChecker_ExcludesBookingID(t *testing.T) {
	existingID := uuid.MustParse("00000000-0000-0000-0000-000000000007")
	repo := &fakeRepo{
		listFn: func(ctx context.Context, attendantID string, windowStart, windowEnd time.Time) ([]domain.Booking, error) {
			return []domain.Booking{{
				ID:          existingID,
				AttendantID: attendantID,
				StartTime:   windowStart,
				EndTime:     windowEnd,
			}}, nil
		},
	}
	checker := NewConflictChecker(repo)

	start := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	end := start.Add(30 * time.Minute)

	free, blocking, err := checker.IsAvailable(context.Background(), "attendant-1", start, end, uuid.Nil)
	if err != nil {
		t.Fatalf("IsAvailable error: %v", err)
	}
	if free || blocking == nil {
		t.Fatalf("expected conflict with blocking booking")
	}

	free, _, err = checker.IsAvailable(context.Background(), "attendant-1", start, end, existingID)
	if err != nil {
		t.Fatalf("IsAvailable error: %v", err)
	}
	if !free {
		t.Fatalf("excluded booking should not block the slot")
	}
}
