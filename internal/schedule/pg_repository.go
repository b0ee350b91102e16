package schedule

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/slot-reservation-engine/internal/slot"
)

const (
	serviceStatusActive   = "active"
	serviceStatusInactive = "inactive"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

func scanService(row pgx.Row) (*Template, error) {
	var t Template
	var status string

	err := row.Scan(
		&t.ServiceID,
		&t.Name,
		&t.Unit,
		&t.MinLeadDays,
		&t.MaxLeadDays,
		&status,
		&t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTemplateNotFound
		}
		return nil, err
	}

	t.Active = status == serviceStatusActive
	return &t, nil
}

func (r *PgRepository) loadIntervals(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID][]OpenInterval, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT service_id, weekdays, start_minute, end_minute
		FROM service_open_intervals
		WHERE service_id = ANY($1)
		ORDER BY service_id, id
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("load open intervals: %w", err)
	}
	defer rows.Close()

	out := make(map[uuid.UUID][]OpenInterval, len(ids))
	for rows.Next() {
		var (
			serviceID  uuid.UUID
			bits       int16
			start, end int
		)
		if err := rows.Scan(&serviceID, &bits, &start, &end); err != nil {
			return nil, fmt.Errorf("scan open interval: %w", err)
		}
		out[serviceID] = append(out[serviceID], OpenInterval{
			Weekdays: weekdaysFromBits(bits),
			Start:    slot.TimeOfDay(start),
			End:      slot.TimeOfDay(end),
		})
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Interface methods

func (r *PgRepository) GetTemplate(ctx context.Context, serviceID uuid.UUID) (*Template, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, unit, min_lead_days, max_lead_days, status, updated_at
		FROM services
		WHERE id = $1
	`, serviceID)
	t, err := scanService(row)
	if err != nil {
		return nil, err
	}

	intervals, err := r.loadIntervals(ctx, []uuid.UUID{serviceID})
	if err != nil {
		return nil, err
	}
	t.Intervals = intervals[serviceID]
	return t, nil
}

// ListActive returns the template of every active service.
func (r *PgRepository) ListActive(ctx context.Context) ([]Template, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, unit, min_lead_days, max_lead_days, status, updated_at
		FROM services
		WHERE status = $1
		ORDER BY id
	`, serviceStatusActive)
	if err != nil {
		return nil, fmt.Errorf("list services: %w", err)
	}
	defer rows.Close()

	var (
		result []Template
		ids    []uuid.UUID
	)
	for rows.Next() {
		t, err := scanService(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *t)
		ids = append(ids, t.ServiceID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(result) == 0 {
		return nil, nil
	}

	intervals, err := r.loadIntervals(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range result {
		result[i].Intervals = intervals[result[i].ServiceID]
	}
	return result, nil
}

// Upsert replaces a service and its intervals. Used by administration tooling only.
func (r *PgRepository) Upsert(ctx context.Context, t *Template) error {
	if err := t.Validate(); err != nil {
		return err
	}

	status := serviceStatusInactive
	if t.Active {
		status = serviceStatusActive
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO services (id, name, unit, min_lead_days, max_lead_days, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    unit = EXCLUDED.unit,
		    min_lead_days = EXCLUDED.min_lead_days,
		    max_lead_days = EXCLUDED.max_lead_days,
		    status = EXCLUDED.status,
		    updated_at = now()
	`, t.ServiceID, t.Name, t.Unit, t.MinLeadDays, t.MaxLeadDays, status)
	if err != nil {
		return fmt.Errorf("upsert service: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM service_open_intervals WHERE service_id = $1`, t.ServiceID); err != nil {
		return fmt.Errorf("clear open intervals: %w", err)
	}

	for _, iv := range t.Intervals {
		_, err := tx.Exec(ctx, `
			INSERT INTO service_open_intervals (service_id, weekdays, start_minute, end_minute)
			VALUES ($1, $2, $3, $4)
		`, t.ServiceID, weekdayBits(iv.Weekdays), int(iv.Start), int(iv.End))
		if err != nil {
			return fmt.Errorf("insert open interval: %w", err)
		}
	}

	return tx.Commit(ctx)
}
