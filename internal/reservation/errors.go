package reservation

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrValidation            = errors.New("invalid reservation request")
	ErrOutsideOperatingHours = errors.New("requested slot is outside operating hours")
	ErrBookingWindow         = errors.New("date is outside the booking window")
	ErrSlotAlreadyReserved   = errors.New("slot already reserved")
	ErrConcurrencyExhausted  = errors.New("too many concurrent updates for this date, retry the request")
	ErrInvalidState          = errors.New("invalid reservation status transition")
	ErrServiceNotFound       = errors.New("service not found")
	ErrServiceInactive       = errors.New("service is not accepting reservations")
)

// SlotError carries the request context of a failed allocation. It matches its Kind
// and its Cause with errors.Is.
type SlotError struct {
	Kind      error
	Cause     error
	ServiceID uuid.UUID
	Date      time.Time
	SlotStart int
	SlotSpan  int
}

func (e *SlotError) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	if e.ServiceID != uuid.Nil {
		fmt.Fprintf(&b, " (service=%s", e.ServiceID)
		if !e.Date.IsZero() {
			fmt.Fprintf(&b, " date=%s", e.Date.Format(time.DateOnly))
		}
		if e.SlotSpan > 0 {
			fmt.Fprintf(&b, " slot=%d+%d", e.SlotStart, e.SlotSpan)
		}
		b.WriteString(")")
	}
	return b.String()
}

func (e *SlotError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

// slotRef is the request context shared by the errors of one operation.
type slotRef struct {
	serviceID uuid.UUID
	date      time.Time
	start     int
	span      int
}

func (r slotRef) fail(kind, cause error) *SlotError {
	return &SlotError{
		Kind:      kind,
		Cause:     cause,
		ServiceID: r.serviceID,
		Date:      r.date,
		SlotStart: r.start,
		SlotSpan:  r.span,
	}
}
