// Package schedule holds the weekly open-hours template of a bookable service.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/slot-reservation-engine/internal/slot"
)

var (
	ErrTemplateNotFound = errors.New("schedule template not found")
	ErrInvalidTemplate  = errors.New("invalid schedule template")
)

// Source provides the current template of a service. Templates are managed elsewhere
// and are read-only here.
type Source interface {
	GetTemplate(ctx context.Context, serviceID uuid.UUID) (*Template, error)
}

// OpenInterval is a recurring [Start, End) window on each of Weekdays.
type OpenInterval struct {
	Weekdays []time.Weekday `json:"weekdays"`
	Start    slot.TimeOfDay `json:"start"`
	End      slot.TimeOfDay `json:"end"`
}

func (iv OpenInterval) covers(day time.Weekday) bool {
	for _, d := range iv.Weekdays {
		if d == day {
			return true
		}
	}
	return false
}

type Template struct {
	ServiceID   uuid.UUID      `json:"service_id"`
	Name        string         `json:"name"`
	Unit        slot.Unit      `json:"unit"`
	MinLeadDays int            `json:"min_lead_days"`
	MaxLeadDays int            `json:"max_lead_days"`
	Active      bool           `json:"active"`
	Intervals   []OpenInterval `json:"intervals"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Validate requires a known unit, a sane lead window and
// intervals with start < end aligned to the unit.
func (t *Template) Validate() error {
	if !t.Unit.Valid() {
		return fmt.Errorf("%w: unknown unit %q", ErrInvalidTemplate, t.Unit)
	}
	if t.MinLeadDays < 0 || t.MaxLeadDays < t.MinLeadDays {
		return fmt.Errorf("%w: lead window [%d, %d]", ErrInvalidTemplate, t.MinLeadDays, t.MaxLeadDays)
	}
	step := slot.TimeOfDay(t.Unit.Minutes())
	for i, iv := range t.Intervals {
		if len(iv.Weekdays) == 0 {
			return fmt.Errorf("%w: interval %d has no weekdays", ErrInvalidTemplate, i)
		}
		for _, d := range iv.Weekdays {
			if d < time.Sunday || d > time.Saturday {
				return fmt.Errorf("%w: interval %d has weekday %d", ErrInvalidTemplate, i, d)
			}
		}
		if iv.Start < 0 || iv.End > slot.TimeOf(slot.SlotsPerDay) || iv.Start >= iv.End {
			return fmt.Errorf("%w: interval %d %s-%s", ErrInvalidTemplate, i, iv.Start, iv.End)
		}
		if iv.Start%step != 0 || iv.End%step != 0 {
			return fmt.Errorf("%w: interval %d %s-%s not aligned to %s", ErrInvalidTemplate, i, iv.Start, iv.End, t.Unit)
		}
	}
	return nil
}

// OpenMask unions every interval that applies on day. It is computed on each call so
// template edits apply immediately to every date.
func (t *Template) OpenMask(day time.Weekday) slot.Mask {
	var open slot.Mask
	for _, iv := range t.Intervals {
		if !iv.covers(day) {
			continue
		}
		m, err := slot.RangeMask(iv.Start, iv.End)
		if err != nil {
			continue
		}
		open |= m
	}
	return open
}

// Window returns the first and last bookable dates relative to today, inclusive.
func (t *Template) Window(today time.Time) (first, last time.Time) {
	today = DateOf(today)
	return today.AddDate(0, 0, t.MinLeadDays), today.AddDate(0, 0, t.MaxLeadDays)
}

func (t *Template) InWindow(today, date time.Time) bool {
	first, last := t.Window(today)
	date = DateOf(date)
	return !date.Before(first) && !date.After(last)
}

// DateOf drops the clock part of t, keeping the calendar date t has in its own location.
// The result is midnight UTC so dates compare and add without DST effects.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses an ISO-8601 calendar date.
func ParseDate(s string) (time.Time, error) {
	d, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return d, nil
}
