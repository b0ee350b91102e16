package reservation

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/slot-reservation-engine/internal/slot"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusCanceled  Status = "canceled"
)

func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusPending, StatusConfirmed, StatusCompleted, StatusCanceled:
		return st, nil
	}
	return "", fmt.Errorf("%w: unknown status %q", ErrValidation, s)
}

// Terminal statuses never change again.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCanceled
}

// CanTransitionTo encodes pending -> confirmed -> completed, with cancel allowed
// from any non-terminal status.
func (s Status) CanTransitionTo(to Status) bool {
	if s.Terminal() {
		return false
	}
	switch to {
	case StatusConfirmed:
		return s == StatusPending
	case StatusCompleted:
		return s == StatusConfirmed
	case StatusCanceled:
		return true
	}
	return false
}

// DayAvailability is the occupancy of one service on one calendar date.
// Version is bumped on every successful occupancy change.
type DayAvailability struct {
	ServiceID   uuid.UUID
	ServiceDate time.Time
	Occupancy   slot.Mask
	Version     int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Reservation struct {
	ID           uuid.UUID
	ServiceID    uuid.UUID
	ServiceDate  time.Time
	SlotStart    int
	SlotSpan     int
	RequesterRef string
	Status       Status
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (r *Reservation) Mask() (slot.Mask, error) {
	return slot.MaskFor(r.SlotStart, r.SlotSpan)
}

func (r *Reservation) StartTime() slot.TimeOfDay { return slot.TimeOf(r.SlotStart) }
func (r *Reservation) EndTime() slot.TimeOfDay   { return slot.TimeOf(r.SlotStart + r.SlotSpan) }

// Availability is the read-only view of a date used to render bookable slots.
type Availability struct {
	ServiceID uuid.UUID
	Date      time.Time
	Unit      slot.Unit
	Active    bool
	InWindow  bool
	Open      slot.Mask
	Occupied  slot.Mask
}

// Free marks slot i true when it is open and not reserved.
func (a *Availability) Free() [slot.SlotsPerDay]bool {
	return a.Open.Free(a.Occupied).Bools()
}

// BookableStarts lists start indices where a whole booking of the service unit fits.
func (a *Availability) BookableStarts() []int {
	free := a.Open.Free(a.Occupied)
	span := slot.SpanFor(a.Unit)
	var starts []int
	for i := 0; i+span <= slot.SlotsPerDay; i++ {
		if slot.CheckAlignment(i, a.Unit) != nil {
			continue
		}
		m, err := slot.MaskFor(i, span)
		if err != nil {
			continue
		}
		if free.Contains(m) {
			starts = append(starts, i)
		}
	}
	return starts
}

type Filter struct {
	ServiceID    *uuid.UUID
	RequesterRef string
	Status       Status
	DateFrom     *time.Time
	DateTo       *time.Time
	Limit        int
	Offset       int
}

// Stats counts the reservations of one service by status.
type Stats struct {
	ServiceID uuid.UUID
	Pending   int
	Confirmed int
	Completed int
	Canceled  int
}

func (s Stats) Total() int {
	return s.Pending + s.Confirmed + s.Completed + s.Canceled
}

type EventLog struct {
	ID            int64
	EventType     string
	ReservationID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}
