package rest

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"salonbook/backend/internal/domain"
	"salonbook/backend/internal/ical"
	"salonbook/backend/internal/service/scheduling"
	"salonbook/backend/internal/store"
)

type schedulingService interface {
	Expand(ctx context.Context, req domain.AppointmentRequest, rule domain.RecurrenceRule) (scheduling.ExpansionResult, error)
	Preview(req domain.AppointmentRequest, rule domain.RecurrenceRule) (scheduling.PreviewResult, error)
	CreateBooking(ctx context.Context, req domain.AppointmentRequest, idempotencyKey string) (domain.Booking, error)
	ListBookings(ctx context.Context, attendantID string, windowStart, windowEnd time.Time) ([]domain.Booking, error)
	CancelBooking(ctx context.Context, attendantID string, bookingID uuid.UUID) error
}

// Pinger is what the health endpoint needs from the database.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type Handler struct {
	svc             schedulingService
	db              Pinger
	log             *slog.Logger
	defaultTimezone string
}

func NewHandler(svc schedulingService, db Pinger, defaultTimezone string, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		svc:             svc,
		db:              db,
		log:             log.With(slog.String("component", "rest")),
		defaultTimezone: defaultTimezone,
	}
}

func (h *Handler) Register(r *gin.Engine) {
	r.GET("/healthz", h.health)

	v1 := r.Group("/v1")
	v1.POST("/bookings", h.createBooking)
	v1.POST("/bookings/expand", h.expand)
	v1.POST("/bookings/preview", h.preview)
	v1.GET("/attendants/:id/bookings", h.listBookings)
	v1.GET("/attendants/:id/calendar.ics", h.exportCalendar)
	v1.DELETE("/attendants/:id/bookings/:bookingID", h.cancelBooking)
}

type servicePayload struct {
	ServiceID       string `json:"service_id"`
	Description     string `json:"description"`
	Quantity        int    `json:"quantity"`
	UnitPriceCents  int64  `json:"unit_price_cents"`
	DurationMinutes int    `json:"duration_minutes"`
}

type bookingPayload struct {
	ClientID    string           `json:"client_id"`
	UnitID      string           `json:"unit_id"`
	AttendantID string           `json:"attendant_id"`
	Timezone    string           `json:"timezone"`
	Start       time.Time        `json:"start_time"`
	Notes       string           `json:"notes"`
	Services    []servicePayload `json:"services"`
}

type rulePayload struct {
	Recurring            bool   `json:"recurring"`
	Frequency            string `json:"frequency"`
	Weekdays             []int  `json:"weekdays"`
	Interval             int    `json:"interval"`
	Termination          string `json:"termination"`
	TerminationDate      string `json:"termination_date"`
	OccurrenceCount      int    `json:"occurrence_count"`
	OmitMismatchedAnchor bool   `json:"omit_mismatched_anchor"`
}

type expandPayload struct {
	Booking bookingPayload `json:"booking"`
	Rule    rulePayload    `json:"rule"`
}

type occurrenceResponse struct {
	SequenceIndex int    `json:"sequence_index"`
	BookingID     string `json:"booking_id,omitempty"`
	Start         string `json:"start_time"`
	End           string `json:"end_time"`
	Status        string `json:"status"`
	Reason        string `json:"reason,omitempty"`
}

type expansionResponse struct {
	Occurrences    []occurrenceResponse `json:"occurrences"`
	CreatedCount   int                  `json:"created_count"`
	SkippedCount   int                  `json:"skipped_count"`
	FailedCount    int                  `json:"failed_count"`
	CeilingReached bool                 `json:"ceiling_reached,omitempty"`
}

type previewResponse struct {
	Occurrences    []occurrenceResponse `json:"occurrences"`
	RRule          string               `json:"rrule,omitempty"`
	CeilingReached bool                 `json:"ceiling_reached,omitempty"`
}

func (h *Handler) expand(c *gin.Context) {
	log := h.log.With(slog.String("op", "expand"))

	var payload expandPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request body")
		return
	}

	req := h.toRequest(payload.Booking)
	rule, err := toRule(payload.Rule)
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.svc.Expand(c.Request.Context(), req, rule)
	if err != nil {
		h.respondServiceError(c, log, err, req.AttendantID)
		return
	}

	log.Info(
		"expansion handled",
		slog.String("attendant_id", req.AttendantID),
		slog.Int("created", result.CreatedCount),
		slog.Int("skipped", result.SkippedCount),
		slog.Int("failed", result.FailedCount),
	)

	c.JSON(http.StatusCreated, expansionResponse{
		Occurrences:    toOccurrenceResponses(result.Occurrences),
		CreatedCount:   result.CreatedCount,
		SkippedCount:   result.SkippedCount,
		FailedCount:    result.FailedCount,
		CeilingReached: result.CeilingReached,
	})
}

func (h *Handler) preview(c *gin.Context) {
	log := h.log.With(slog.String("op", "preview"))

	var payload expandPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request body")
		return
	}

	req := h.toRequest(payload.Booking)
	rule, err := toRule(payload.Rule)
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.svc.Preview(req, rule)
	if err != nil {
		h.respondServiceError(c, log, err, req.AttendantID)
		return
	}

	resp := previewResponse{
		Occurrences:    toOccurrenceResponses(result.Occurrences),
		CeilingReached: result.CeilingReached,
	}
	if rule.Recurring {
		if rr, err := ical.RRuleString(rule, req.Start); err == nil {
			resp.RRule = rr
		}
	}

	c.JSON(http.StatusOK, resp)
}

func (h *Handler) createBooking(c *gin.Context) {
	log := h.log.With(slog.String("op", "create_booking"))

	var payload bookingPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request body")
		return
	}

	booking, err := h.svc.CreateBooking(c.Request.Context(), h.toRequest(payload), idempotencyKey(c))
	if err != nil {
		h.respondServiceError(c, log, err, payload.AttendantID)
		return
	}

	log.Info(
		"booking created",
		slog.String("booking_id", booking.ID.String()),
		slog.String("attendant_id", booking.AttendantID),
		slog.Time("start_time", booking.StartTime),
	)

	c.JSON(http.StatusCreated, toBookingResponse(booking))
}

func (h *Handler) listBookings(c *gin.Context) {
	log := h.log.With(slog.String("op", "list_bookings"))

	attendantID := c.Param("id")
	windowStart, windowEnd, err := parseWindow(c)
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	bookings, err := h.svc.ListBookings(c.Request.Context(), attendantID, windowStart, windowEnd)
	if err != nil {
		h.respondServiceError(c, log, err, attendantID)
		return
	}

	out := make([]gin.H, 0, len(bookings))
	for _, b := range bookings {
		out = append(out, toBookingResponse(b))
	}
	c.JSON(http.StatusOK, gin.H{"bookings": out})
}

func (h *Handler) exportCalendar(c *gin.Context) {
	log := h.log.With(slog.String("op", "export_calendar"))

	attendantID := c.Param("id")
	windowStart, windowEnd, err := parseWindow(c)
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	bookings, err := h.svc.ListBookings(c.Request.Context(), attendantID, windowStart, windowEnd)
	if err != nil {
		h.respondServiceError(c, log, err, attendantID)
		return
	}

	ics, err := ical.BuildBookingCalendar(attendantID, bookings)
	if err != nil {
		log.Error("calendar export failed", slog.Any("err", err), slog.String("attendant_id", attendantID))
		respondError(c, http.StatusInternalServerError, "internal error")
		return
	}

	c.Data(http.StatusOK, "text/calendar; charset=utf-8", []byte(ics))
}

func (h *Handler) cancelBooking(c *gin.Context) {
	log := h.log.With(slog.String("op", "cancel_booking"))

	attendantID := c.Param("id")
	bookingID, err := uuid.Parse(c.Param("bookingID"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid booking id")
		return
	}

	if err := h.svc.CancelBooking(c.Request.Context(), attendantID, bookingID); err != nil {
		h.respondServiceError(c, log, err, attendantID)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	started := time.Now()
	if err := h.db.PingContext(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unhealthy",
			"checks": gin.H{"database": gin.H{"status": "unhealthy", "error": err.Error()}},
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"checks": gin.H{"database": gin.H{"status": "healthy", "latency_ms": time.Since(started).Milliseconds()}},
	})
}

// respondServiceError maps service errors onto HTTP statuses: invalid rules
// and validation failures are the caller's fault, store conflicts are 409,
// everything else is a generic 500.
func (h *Handler) respondServiceError(c *gin.Context, log *slog.Logger, err error, attendantID string) {
	var ruleErr *domain.InvalidRuleError
	if errors.As(err, &ruleErr) {
		log.Warn("invalid recurrence rule", slog.Any("err", err), slog.String("attendant_id", attendantID))
		c.JSON(http.StatusBadRequest, gin.H{
			"error":      "invalid recurrence rule",
			"violations": ruleErr.Violations,
		})
		return
	}
	var vErr *scheduling.ValidationError
	if errors.As(err, &vErr) {
		log.Warn("invalid request", slog.Any("err", err), slog.String("attendant_id", attendantID))
		respondError(c, http.StatusBadRequest, vErr.Error())
		return
	}
	if errors.Is(err, store.ErrConflict) {
		log.Info("booking conflict", slog.String("attendant_id", attendantID))
		respondError(c, http.StatusConflict, "the attendant is already booked during that time")
		return
	}
	if errors.Is(err, store.ErrIdempotencyConflict) {
		log.Info("idempotency conflict", slog.String("attendant_id", attendantID))
		respondError(c, http.StatusConflict, "this request key was already used for a different booking")
		return
	}
	if errors.Is(err, store.ErrNotFound) {
		respondError(c, http.StatusNotFound, "booking not found")
		return
	}
	log.Error("request failed", slog.Any("err", err), slog.String("attendant_id", attendantID))
	respondError(c, http.StatusInternalServerError, "internal error")
}

func respondError(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"error": msg})
}

func (h *Handler) toRequest(p bookingPayload) domain.AppointmentRequest {
	services := make([]domain.ServiceSelection, 0, len(p.Services))
	for _, s := range p.Services {
		services = append(services, domain.ServiceSelection{
			ServiceID:       s.ServiceID,
			Description:     s.Description,
			Quantity:        s.Quantity,
			UnitPriceCents:  s.UnitPriceCents,
			DurationMinutes: s.DurationMinutes,
		})
	}
	tz := strings.TrimSpace(p.Timezone)
	if tz == "" {
		tz = h.defaultTimezone
	}
	return domain.AppointmentRequest{
		ClientID:    p.ClientID,
		UnitID:      p.UnitID,
		AttendantID: p.AttendantID,
		Timezone:    tz,
		Services:    services,
		Start:       p.Start,
		Notes:       p.Notes,
	}
}

func toRule(p rulePayload) (domain.RecurrenceRule, error) {
	rule := domain.RecurrenceRule{
		Recurring:            p.Recurring,
		Frequency:            domain.Frequency(p.Frequency),
		Weekdays:             p.Weekdays,
		Interval:             p.Interval,
		Termination:          domain.Termination(p.Termination),
		OccurrenceCount:      p.OccurrenceCount,
		OmitMismatchedAnchor: p.OmitMismatchedAnchor,
	}
	if p.TerminationDate != "" {
		d, err := time.Parse("2006-01-02", p.TerminationDate)
		if err != nil {
			return domain.RecurrenceRule{}, errors.New("termination_date must be YYYY-MM-DD")
		}
		rule.TerminationDate = d
	}
	return rule, nil
}

func toOccurrenceResponses(occs []domain.Occurrence) []occurrenceResponse {
	out := make([]occurrenceResponse, 0, len(occs))
	for _, o := range occs {
		resp := occurrenceResponse{
			SequenceIndex: o.SequenceIndex,
			Start:         o.Start.UTC().Format(time.RFC3339),
			End:           o.End.UTC().Format(time.RFC3339),
			Status:        string(o.Status),
			Reason:        o.Reason,
		}
		if o.BookingID != uuid.Nil {
			resp.BookingID = o.BookingID.String()
		}
		out = append(out, resp)
	}
	return out
}

func toBookingResponse(b domain.Booking) gin.H {
	return gin.H{
		"id":               b.ID.String(),
		"unit_id":          b.UnitID,
		"attendant_id":     b.AttendantID,
		"client_id":        b.ClientID,
		"start_time":       b.StartTime.UTC().Format(time.RFC3339),
		"end_time":         b.EndTime.UTC().Format(time.RFC3339),
		"status":           string(b.Status),
		"notes":            b.Notes,
		"duration_minutes": b.DurationMinutes,
		"total_cents":      b.TotalCents,
	}
}

func parseWindow(c *gin.Context) (time.Time, time.Time, error) {
	from, err := time.Parse(time.RFC3339, c.Query("from"))
	if err != nil {
		return time.Time{}, time.Time{}, errors.New("invalid from time format, expected RFC3339")
	}
	to, err := time.Parse(time.RFC3339, c.Query("to"))
	if err != nil {
		return time.Time{}, time.Time{}, errors.New("invalid to time format, expected RFC3339")
	}
	return from, to, nil
}

func idempotencyKey(c *gin.Context) string {
	key := c.GetHeader("Idempotency-Key")
	if key == "" {
		key = c.GetHeader("X-Idempotency-Key")
	}
	return strings.TrimSpace(key)
}
