package reservation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/slot-reservation-engine/internal/slot"
)

type dayKey struct {
	serviceID uuid.UUID
	date      string
}

func keyOf(serviceID uuid.UUID, date time.Time) dayKey {
	return dayKey{serviceID: serviceID, date: date.Format(time.DateOnly)}
}

// memRepository is an in-memory Repository with the same conditional-update semantics
// as the Postgres one.
type memRepository struct {
	mu           sync.Mutex
	now          func() time.Time
	days         map[dayKey]*DayAvailability
	reservations map[uuid.UUID]*Reservation
	events       []EventLog

	swapCalls int
	// rejectSwaps makes every compare-and-swap report a lost race.
	rejectSwaps bool
	// competingWrites are committed one per swap call, just before it, so that swap
	// finds a newer version and loses.
	competingWrites []slot.Mask
	createErr       error
	// dayErrs fails GetOrCreateDay for the listed services.
	dayErrs map[uuid.UUID]error
}

func newMemRepository(now func() time.Time) *memRepository {
	return &memRepository{
		now:          now,
		days:         make(map[dayKey]*DayAvailability),
		reservations: make(map[uuid.UUID]*Reservation),
	}
}

func (m *memRepository) GetOrCreateDay(ctx context.Context, serviceID uuid.UUID, date time.Time) (*DayAvailability, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.dayErrs[serviceID]; err != nil {
		return nil, err
	}
	k := keyOf(serviceID, date)
	d, ok := m.days[k]
	if !ok {
		d = &DayAvailability{ServiceID: serviceID, ServiceDate: date, CreatedAt: m.now(), UpdatedAt: m.now()}
		m.days[k] = d
	}
	cp := *d
	return &cp, nil
}

func (m *memRepository) GetDay(ctx context.Context, serviceID uuid.UUID, date time.Time) (*DayAvailability, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.days[keyOf(serviceID, date)]
	if !ok {
		return nil, ErrDayNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *memRepository) SwapOccupancy(ctx context.Context, serviceID uuid.UUID, date time.Time, version int64, occupancy slot.Mask) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.swapCalls++
	if m.rejectSwaps {
		return false, nil
	}
	d, ok := m.days[keyOf(serviceID, date)]
	if ok && len(m.competingWrites) > 0 {
		d.Occupancy |= m.competingWrites[0]
		d.Version++
		m.competingWrites = m.competingWrites[1:]
	}
	if !ok || d.Version != version {
		return false, nil
	}
	d.Occupancy = occupancy
	d.Version++
	d.UpdatedAt = m.now()
	return true, nil
}

func (m *memRepository) CreateReservation(ctx context.Context, r *Reservation) (*Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.createErr != nil {
		return nil, m.createErr
	}
	cp := *r
	cp.CreatedAt = m.now()
	cp.UpdatedAt = cp.CreatedAt
	m.reservations[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (m *memRepository) GetReservationByID(ctx context.Context, id uuid.UUID) (*Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.reservations[id]
	if !ok {
		return nil, ErrReservationNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *memRepository) UpdateReservationStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.reservations[id]
	if !ok || r.Status != from {
		return nil, ErrReservationNotFound
	}
	r.Status = to
	r.UpdatedAt = m.now()
	cp := *r
	return &cp, nil
}

func (m *memRepository) ListReservations(ctx context.Context, f Filter) ([]Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Reservation
	for _, r := range m.reservations {
		switch {
		case f.ServiceID != nil && r.ServiceID != *f.ServiceID,
			f.RequesterRef != "" && r.RequesterRef != f.RequesterRef,
			f.Status != "" && r.Status != f.Status,
			f.DateFrom != nil && r.ServiceDate.Before(*f.DateFrom),
			f.DateTo != nil && r.ServiceDate.After(*f.DateTo):
			continue
		}
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ServiceDate.Equal(out[j].ServiceDate) {
			return out[i].ServiceDate.After(out[j].ServiceDate)
		}
		return out[i].SlotStart > out[j].SlotStart
	})
	if f.Offset >= len(out) {
		return nil, nil
	}
	out = out[f.Offset:]
	if len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *memRepository) CountByStatus(ctx context.Context, serviceID uuid.UUID) (map[Status]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[Status]int)
	for _, r := range m.reservations {
		if r.ServiceID == serviceID {
			out[r.Status]++
		}
	}
	return out, nil
}

func (m *memRepository) FindStalePending(ctx context.Context, createdBefore time.Time) ([]Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Reservation
	for _, r := range m.reservations {
		if r.Status == StatusPending && r.CreatedAt.Before(createdBefore) {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (m *memRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.events = append(m.events, ev)
	return nil
}

func (m *memRepository) occupancy(serviceID uuid.UUID, date time.Time) slot.Mask {
	m.mu.Lock()
	defer m.mu.Unlock()

	if d, ok := m.days[keyOf(serviceID, date)]; ok {
		return d.Occupancy
	}
	return 0
}

func (m *memRepository) eventTypes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []string
	for _, ev := range m.events {
		out = append(out, ev.EventType)
	}
	return out
}
