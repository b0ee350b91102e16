package reservation

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/slot-reservation-engine/internal/slot"
)

var (
	ErrReservationNotFound = errors.New("reservation not found")
	ErrDayNotFound         = errors.New("day availability not found")
)

// Repository contains all DB interactions needed by the allocator.
type Repository interface {
	// Day occupancy
	GetOrCreateDay(ctx context.Context, serviceID uuid.UUID, date time.Time) (*DayAvailability, error)
	GetDay(ctx context.Context, serviceID uuid.UUID, date time.Time) (*DayAvailability, error)
	// SwapOccupancy stores occupancy and bumps the version only if the stored version
	// still equals version. It reports whether a row was updated.
	SwapOccupancy(ctx context.Context, serviceID uuid.UUID, date time.Time, version int64, occupancy slot.Mask) (bool, error)

	// Reservations
	CreateReservation(ctx context.Context, r *Reservation) (*Reservation, error)
	GetReservationByID(ctx context.Context, id uuid.UUID) (*Reservation, error)
	// UpdateReservationStatus returns ErrReservationNotFound when no row has the from status.
	UpdateReservationStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Reservation, error)
	ListReservations(ctx context.Context, f Filter) ([]Reservation, error)
	// CountByStatus omits statuses with no reservations.
	CountByStatus(ctx context.Context, serviceID uuid.UUID) (map[Status]int, error)

	// Sweeper
	FindStalePending(ctx context.Context, createdBefore time.Time) ([]Reservation, error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}
