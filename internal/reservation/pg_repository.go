package reservation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/slot-reservation-engine/internal/slot"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const reservationColumns = `id, service_id, service_date, slot_start, slot_span, requester_ref, status, created_at, updated_at`

// Helpers

func scanDay(row pgx.Row) (*DayAvailability, error) {
	var d DayAvailability
	var occupancy int64

	err := row.Scan(
		&d.ServiceID,
		&d.ServiceDate,
		&occupancy,
		&d.Version,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDayNotFound
		}
		return nil, err
	}

	d.Occupancy = slot.Mask(uint64(occupancy))
	return &d, nil
}

func scanReservation(row pgx.Row) (*Reservation, error) {
	var r Reservation

	err := row.Scan(
		&r.ID,
		&r.ServiceID,
		&r.ServiceDate,
		&r.SlotStart,
		&r.SlotSpan,
		&r.RequesterRef,
		&r.Status,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrReservationNotFound
		}
		return nil, err
	}

	return &r, nil
}

func collectReservations(rows pgx.Rows) ([]Reservation, error) {
	defer rows.Close()

	var result []Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *r)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// Interface methods

func (r *PgRepository) GetOrCreateDay(ctx context.Context, serviceID uuid.UUID, date time.Time) (*DayAvailability, error) {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO day_availability (service_id, service_date, occupancy, version, created_at, updated_at)
		VALUES ($1, $2, 0, 0, now(), now())
		ON CONFLICT (service_id, service_date) DO NOTHING
	`, serviceID, date)
	if err != nil {
		return nil, fmt.Errorf("insert day availability: %w", err)
	}
	return r.GetDay(ctx, serviceID, date)
}

func (r *PgRepository) GetDay(ctx context.Context, serviceID uuid.UUID, date time.Time) (*DayAvailability, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT service_id, service_date, occupancy, version, created_at, updated_at
		FROM day_availability
		WHERE service_id = $1 AND service_date = $2
	`, serviceID, date)
	return scanDay(row)
}

func (r *PgRepository) SwapOccupancy(ctx context.Context, serviceID uuid.UUID, date time.Time, version int64, occupancy slot.Mask) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE day_availability
		SET occupancy = $3,
		    version = version + 1,
		    updated_at = now()
		WHERE service_id = $1
		  AND service_date = $2
		  AND version = $4
	`, serviceID, date, int64(occupancy), version)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PgRepository) CreateReservation(ctx context.Context, res *Reservation) (*Reservation, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO reservations (`+reservationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
		RETURNING `+reservationColumns,
		res.ID, res.ServiceID, res.ServiceDate, res.SlotStart, res.SlotSpan, res.RequesterRef, res.Status)
	return scanReservation(row)
}

func (r *PgRepository) GetReservationByID(ctx context.Context, id uuid.UUID) (*Reservation, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+reservationColumns+`
		FROM reservations
		WHERE id = $1
	`, id)
	return scanReservation(row)
}

func (r *PgRepository) UpdateReservationStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Reservation, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE reservations
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+reservationColumns,
		id, to, from)
	return scanReservation(row)
}

func (r *PgRepository) ListReservations(ctx context.Context, f Filter) ([]Reservation, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}

	if f.ServiceID != nil {
		add("service_id = $%d", *f.ServiceID)
	}
	if f.RequesterRef != "" {
		add("requester_ref = $%d", f.RequesterRef)
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if f.DateFrom != nil {
		add("service_date >= $%d", *f.DateFrom)
	}
	if f.DateTo != nil {
		add("service_date <= $%d", *f.DateTo)
	}

	var q strings.Builder
	q.WriteString("SELECT " + reservationColumns + " FROM reservations")
	if len(where) > 0 {
		q.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	args = append(args, f.Limit, f.Offset)
	fmt.Fprintf(&q, " ORDER BY service_date DESC, slot_start DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, q.String(), args...)
	if err != nil {
		return nil, err
	}
	return collectReservations(rows)
}

func (r *PgRepository) CountByStatus(ctx context.Context, serviceID uuid.UUID) (map[Status]int, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT status, count(*)
		FROM reservations
		WHERE service_id = $1
		GROUP BY status
	`, serviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[Status]int)
	for rows.Next() {
		var (
			status Status
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = int(n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return counts, nil
}

func (r *PgRepository) FindStalePending(ctx context.Context, createdBefore time.Time) ([]Reservation, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+reservationColumns+`
		FROM reservations
		WHERE status = 'pending'
		  AND created_at < $1
		ORDER BY created_at
	`, createdBefore)
	if err != nil {
		return nil, err
	}
	return collectReservations(rows)
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, reservation_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.ReservationID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
