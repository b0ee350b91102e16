package reservation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/slot-reservation-engine/internal/config"
	"github.com/hackgods/slot-reservation-engine/internal/schedule"
	"github.com/hackgods/slot-reservation-engine/internal/slot"
)

const (
	EventReservationCreated   = "RESERVATION_CREATED"
	EventReservationConfirmed = "RESERVATION_CONFIRMED"
	EventReservationCompleted = "RESERVATION_COMPLETED"
	EventReservationCanceled  = "RESERVATION_CANCELED"

	defaultMaxAttempts = 3
)

// Allocator reserves and releases slots on a service's day occupancy. The day row
// version is the only serialization point, so any number of instances can run side by side.
type Allocator struct {
	repo        Repository
	templates   schedule.Source
	clock       Clock
	loc         *time.Location
	maxAttempts int
	logger      *zap.Logger
}

type Option func(*Allocator)

func WithClock(c Clock) Option {
	return func(a *Allocator) { a.clock = c }
}

func NewAllocator(repo Repository, templates schedule.Source, cfg config.Config, logger *zap.Logger, opts ...Option) *Allocator {
	a := &Allocator{
		repo:        repo,
		templates:   templates,
		clock:       SystemClock,
		loc:         cfg.Location,
		maxAttempts: cfg.CASMaxAttempts,
		logger:      logger,
	}
	if a.loc == nil {
		a.loc = time.UTC
	}
	if a.maxAttempts <= 0 {
		a.maxAttempts = defaultMaxAttempts
	}
	if a.logger == nil {
		a.logger = zap.NewNop()
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

type ReserveRequest struct {
	ServiceID    uuid.UUID
	Date         time.Time
	Start        slot.TimeOfDay
	End          slot.TimeOfDay
	RequesterRef string
}

// Reserve holds one unit-sized booking for the requester and returns the new pending
// reservation. Occupancy conflicts are reported immediately; only lost version races
// are retried, up to the configured attempt budget.
func (a *Allocator) Reserve(ctx context.Context, req ReserveRequest) (*Reservation, error) {
	ref := slotRef{serviceID: req.ServiceID, date: schedule.DateOf(req.Date)}
	date := ref.date

	if req.RequesterRef == "" {
		return nil, ref.fail(ErrValidation, errors.New("requester reference is required"))
	}

	tpl, err := a.loadTemplate(ctx, ref)
	if err != nil {
		return nil, err
	}
	if !tpl.Active {
		return nil, ref.fail(ErrServiceInactive, nil)
	}

	today := a.today()
	if !tpl.InWindow(today, date) {
		first, last := tpl.Window(today)
		return nil, ref.fail(ErrBookingWindow, fmt.Errorf("bookable dates are %s to %s",
			first.Format(time.DateOnly), last.Format(time.DateOnly)))
	}

	start, err := slot.IndexOf(req.Start)
	if err != nil {
		return nil, ref.fail(ErrValidation, err)
	}
	span := slot.SpanFor(tpl.Unit)
	ref.start, ref.span = start, span

	if err := slot.CheckAlignment(start, tpl.Unit); err != nil {
		return nil, ref.fail(ErrValidation, err)
	}
	if want := slot.TimeOf(start + span); req.End != want {
		return nil, ref.fail(ErrValidation, fmt.Errorf("%w: %s booking starting %s must end at %s, got %s",
			slot.ErrInvalidSlot, tpl.Unit, req.Start, want, req.End))
	}
	requested, err := slot.MaskFor(start, span)
	if err != nil {
		return nil, ref.fail(ErrValidation, err)
	}

	if open := tpl.OpenMask(date.Weekday()); !open.Contains(requested) {
		return nil, ref.fail(ErrOutsideOperatingHours, nil)
	}

	_, err = a.mutateDay(ctx, ref, func(current slot.Mask) (slot.Mask, error) {
		if current.Overlaps(requested) {
			return current, ref.fail(ErrSlotAlreadyReserved, nil)
		}
		return current | requested, nil
	})
	if err != nil {
		return nil, err
	}

	created, err := a.repo.CreateReservation(ctx, &Reservation{
		ID:           uuid.New(),
		ServiceID:    req.ServiceID,
		ServiceDate:  date,
		SlotStart:    start,
		SlotSpan:     span,
		RequesterRef: req.RequesterRef,
		Status:       StatusPending,
	})
	if err != nil {
		if relErr := a.release(ctx, ref, requested); relErr != nil {
			a.logger.Error("failed to release slots after reservation insert failure",
				zap.Stringer("service_id", req.ServiceID),
				zap.String("date", date.Format(time.DateOnly)),
				zap.Int("slot_start", start),
				zap.Int("slot_span", span),
				zap.Error(relErr))
		}
		return nil, fmt.Errorf("create reservation: %w", err)
	}

	a.logEvent(ctx, created.ID, EventReservationCreated, map[string]any{
		"service_id":    created.ServiceID.String(),
		"date":          date.Format(time.DateOnly),
		"slot_start":    start,
		"slot_span":     span,
		"requester_ref": created.RequesterRef,
	})

	return created, nil
}

// Cancel terminates a non-terminal reservation and releases its slots. The status
// change is conditional, so of two concurrent cancels only one releases the bits.
func (a *Allocator) Cancel(ctx context.Context, id uuid.UUID) (*Reservation, error) {
	return a.cancel(ctx, id, "requested")
}

func (a *Allocator) cancel(ctx context.Context, id uuid.UUID, reason string) (*Reservation, error) {
	var canceled *Reservation
	var previous Status

	for attempt := 1; canceled == nil; attempt++ {
		res, err := a.repo.GetReservationByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load reservation: %w", err)
		}
		ref := slotRef{serviceID: res.ServiceID, date: res.ServiceDate, start: res.SlotStart, span: res.SlotSpan}
		if res.Status.Terminal() {
			return nil, ref.fail(ErrInvalidState, fmt.Errorf("reservation is %s", res.Status))
		}

		previous = res.Status
		canceled, err = a.repo.UpdateReservationStatus(ctx, id, res.Status, StatusCanceled)
		if err != nil {
			if !errors.Is(err, ErrReservationNotFound) {
				return nil, fmt.Errorf("cancel reservation: %w", err)
			}
			// status moved underneath us, e.g. pending -> confirmed
			if attempt >= a.maxAttempts {
				return nil, ref.fail(ErrConcurrencyExhausted, nil)
			}
		}
	}

	ref := slotRef{serviceID: canceled.ServiceID, date: canceled.ServiceDate, start: canceled.SlotStart, span: canceled.SlotSpan}
	requested, err := canceled.Mask()
	if err != nil {
		return nil, ref.fail(ErrValidation, err)
	}
	if err := a.release(ctx, ref, requested); err != nil {
		// Put the status back so the bits keep a live owner and the cancel can be retried.
		if _, rbErr := a.repo.UpdateReservationStatus(ctx, id, StatusCanceled, previous); rbErr != nil {
			a.logger.Error("reservation canceled but slots not released",
				zap.Stringer("reservation_id", id),
				zap.Error(err),
				zap.NamedError("rollback_error", rbErr))
			return nil, errors.Join(err, fmt.Errorf("restore status %s: %w", previous, rbErr))
		}
		a.logger.Warn("cancel rolled back, slots not released",
			zap.Stringer("reservation_id", id),
			zap.String("status", string(previous)),
			zap.Error(err))
		return nil, err
	}

	a.logEvent(ctx, canceled.ID, EventReservationCanceled, map[string]any{
		"reason": reason,
	})

	return canceled, nil
}

// Confirm moves a pending reservation to confirmed.
func (a *Allocator) Confirm(ctx context.Context, id uuid.UUID) (*Reservation, error) {
	return a.transition(ctx, id, StatusConfirmed, EventReservationConfirmed)
}

// Complete moves a confirmed reservation to completed.
func (a *Allocator) Complete(ctx context.Context, id uuid.UUID) (*Reservation, error) {
	return a.transition(ctx, id, StatusCompleted, EventReservationCompleted)
}

func (a *Allocator) transition(ctx context.Context, id uuid.UUID, to Status, event string) (*Reservation, error) {
	res, err := a.repo.GetReservationByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load reservation: %w", err)
	}
	ref := slotRef{serviceID: res.ServiceID, date: res.ServiceDate, start: res.SlotStart, span: res.SlotSpan}
	if to == StatusCanceled || !res.Status.CanTransitionTo(to) {
		return nil, ref.fail(ErrInvalidState, fmt.Errorf("cannot move from %s to %s", res.Status, to))
	}

	updated, err := a.repo.UpdateReservationStatus(ctx, id, res.Status, to)
	if err != nil {
		if errors.Is(err, ErrReservationNotFound) {
			return nil, ref.fail(ErrInvalidState, errors.New("reservation changed concurrently"))
		}
		return nil, fmt.Errorf("update reservation status: %w", err)
	}

	a.logEvent(ctx, updated.ID, event, map[string]any{
		"from": string(res.Status),
	})

	return updated, nil
}

// GetReservation returns a reservation by id.
func (a *Allocator) GetReservation(ctx context.Context, id uuid.UUID) (*Reservation, error) {
	res, err := a.repo.GetReservationByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get reservation: %w", err)
	}
	return res, nil
}

// ListReservations retrieves reservations matching f, newest service date first.
func (a *Allocator) ListReservations(ctx context.Context, f Filter) ([]Reservation, error) {
	if f.Limit <= 0 {
		f.Limit = 20 // default
	}
	if f.Limit > 100 {
		f.Limit = 100 // max
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	res, err := a.repo.ListReservations(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list reservations: %w", err)
	}
	return res, nil
}

// ReservationStats counts the reservations of a service by status.
func (a *Allocator) ReservationStats(ctx context.Context, serviceID uuid.UUID) (*Stats, error) {
	if _, err := a.loadTemplate(ctx, slotRef{serviceID: serviceID}); err != nil {
		return nil, err
	}

	counts, err := a.repo.CountByStatus(ctx, serviceID)
	if err != nil {
		return nil, fmt.Errorf("count reservations: %w", err)
	}

	return &Stats{
		ServiceID: serviceID,
		Pending:   counts[StatusPending],
		Confirmed: counts[StatusConfirmed],
		Completed: counts[StatusCompleted],
		Canceled:  counts[StatusCanceled],
	}, nil
}

// QueryAvailability derives free slots for a date. It never creates the day row.
func (a *Allocator) QueryAvailability(ctx context.Context, serviceID uuid.UUID, date time.Time) (*Availability, error) {
	ref := slotRef{serviceID: serviceID, date: schedule.DateOf(date)}

	tpl, err := a.loadTemplate(ctx, ref)
	if err != nil {
		return nil, err
	}

	av := &Availability{
		ServiceID: serviceID,
		Date:      ref.date,
		Unit:      tpl.Unit,
		Active:    tpl.Active,
		InWindow:  tpl.InWindow(a.today(), ref.date),
		Open:      tpl.OpenMask(ref.date.Weekday()),
	}

	day, err := a.repo.GetDay(ctx, serviceID, ref.date)
	switch {
	case errors.Is(err, ErrDayNotFound):
	case err != nil:
		return nil, fmt.Errorf("load day availability: %w", err)
	default:
		av.Occupied = day.Occupancy
	}

	return av, nil
}

func (a *Allocator) today() time.Time {
	return schedule.DateOf(a.clock.Now().In(a.loc))
}

func (a *Allocator) loadTemplate(ctx context.Context, ref slotRef) (*schedule.Template, error) {
	tpl, err := a.templates.GetTemplate(ctx, ref.serviceID)
	if err != nil {
		if errors.Is(err, schedule.ErrTemplateNotFound) {
			return nil, ref.fail(ErrServiceNotFound, err)
		}
		return nil, fmt.Errorf("load template: %w", err)
	}
	return tpl, nil
}

// mutateDay applies fn to the current occupancy and stores the result with a version
// compare-and-swap, re-reading after every lost race. Errors returned by fn end the loop.
func (a *Allocator) mutateDay(ctx context.Context, ref slotRef, fn func(slot.Mask) (slot.Mask, error)) (*DayAvailability, error) {
	for attempt := 1; attempt <= a.maxAttempts; attempt++ {
		day, err := a.repo.GetOrCreateDay(ctx, ref.serviceID, ref.date)
		if err != nil {
			return nil, fmt.Errorf("load day availability: %w", err)
		}

		next, err := fn(day.Occupancy)
		if err != nil {
			return nil, err
		}
		if next == day.Occupancy {
			return day, nil
		}

		ok, err := a.repo.SwapOccupancy(ctx, ref.serviceID, ref.date, day.Version, next)
		if err != nil {
			return nil, fmt.Errorf("swap occupancy: %w", err)
		}
		if ok {
			day.Occupancy = next
			day.Version++
			return day, nil
		}

		a.logger.Debug("day availability version moved, retrying",
			zap.Stringer("service_id", ref.serviceID),
			zap.String("date", ref.date.Format(time.DateOnly)),
			zap.Int64("version", day.Version),
			zap.Int("attempt", attempt))

		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	a.logger.Warn("compare-and-swap budget exhausted",
		zap.Stringer("service_id", ref.serviceID),
		zap.String("date", ref.date.Format(time.DateOnly)),
		zap.Int("slot_start", ref.start),
		zap.Int("slot_span", ref.span),
		zap.Int("attempts", a.maxAttempts))

	return nil, ref.fail(ErrConcurrencyExhausted, nil)
}

// release clears requested from the day occupancy. Already clear bits are not an error.
func (a *Allocator) release(ctx context.Context, ref slotRef, requested slot.Mask) error {
	_, err := a.mutateDay(ctx, ref, func(current slot.Mask) (slot.Mask, error) {
		if !current.Overlaps(requested) {
			a.logger.Info("slots already released",
				zap.Stringer("service_id", ref.serviceID),
				zap.String("date", ref.date.Format(time.DateOnly)),
				zap.Int("slot_start", ref.start),
				zap.Int("slot_span", ref.span))
		}
		return current &^ requested, nil
	})
	return err
}

func (a *Allocator) logEvent(ctx context.Context, reservationID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		a.logger.Warn("failed to marshal event payload", zap.String("event", eventType), zap.Error(err))
		data = nil
	}

	resID := reservationID

	ev := EventLog{
		EventType:     eventType,
		ReservationID: &resID,
		Payload:       data,
		CreatedAt:     a.clock.Now(),
	}

	if err := a.repo.InsertEvent(ctx, ev); err != nil {
		a.logger.Warn("failed to insert event log",
			zap.String("event", eventType),
			zap.Stringer("reservation_id", reservationID),
			zap.Error(err))
	}
}
