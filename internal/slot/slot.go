// Package slot maps times of day onto the 48 half-hour slots of a calendar day
// and builds the bitmasks used to track occupancy.
package slot

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	// SlotsPerDay is the number of half-hour slots between 00:00 and 24:00.
	SlotsPerDay = 48
	// SlotMinutes is the width of a single slot.
	SlotMinutes = 30

	minutesPerDay = SlotsPerDay * SlotMinutes
)

var ErrInvalidSlot = errors.New("invalid slot")

// TimeOfDay is a wall clock time expressed as minutes since midnight.
// 1440 (24:00) is valid only as the end of a range.
type TimeOfDay int

func NewTimeOfDay(hour, minute int) TimeOfDay {
	return TimeOfDay(hour*60 + minute)
}

// ParseTimeOfDay parses "HH:mm". "24:00" is accepted as end of day.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	hh, mm, ok := strings.Cut(s, ":")
	if !ok || !twoDigits(hh) || !twoDigits(mm) {
		return 0, fmt.Errorf("%w: time %q must be HH:mm", ErrInvalidSlot, s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil {
		return 0, fmt.Errorf("%w: time %q must be HH:mm", ErrInvalidSlot, s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil {
		return 0, fmt.Errorf("%w: time %q must be HH:mm", ErrInvalidSlot, s)
	}
	if h < 0 || m < 0 || m > 59 || h > 24 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("%w: time %q out of range", ErrInvalidSlot, s)
	}
	return NewTimeOfDay(h, m), nil
}

// twoDigits rejects signs and spaces, which strconv.Atoi would accept.
func twoDigits(s string) bool {
	return len(s) == 2 && s[0] >= '0' && s[0] <= '9' && s[1] >= '0' && s[1] <= '9'
}

func (t TimeOfDay) Hour() int   { return int(t) / 60 }
func (t TimeOfDay) Minute() int { return int(t) % 60 }

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute())
}

// Unit is the slot width a bookable service uses.
type Unit string

const (
	UnitHalf Unit = "HALF"
	UnitFull Unit = "FULL"
)

func (u Unit) Valid() bool {
	return u == UnitHalf || u == UnitFull
}

// Minutes returns the duration of one booking in this unit.
func (u Unit) Minutes() int {
	return SpanFor(u) * SlotMinutes
}

// SpanFor returns how many consecutive slot indices one booking consumes.
func SpanFor(u Unit) int {
	if u == UnitFull {
		return 2
	}
	return 1
}

// IndexOf maps a time of day to its slot index. The time must sit on the 30 minute grid.
func IndexOf(t TimeOfDay) (int, error) {
	if t < 0 || int(t) >= minutesPerDay {
		return 0, fmt.Errorf("%w: %s is outside the day", ErrInvalidSlot, t)
	}
	if int(t)%SlotMinutes != 0 {
		return 0, fmt.Errorf("%w: %s is not aligned to %d minutes", ErrInvalidSlot, t, SlotMinutes)
	}
	return int(t) / SlotMinutes, nil
}

// TimeOf is the inverse of IndexOf. TimeOf(48) is 24:00.
func TimeOf(i int) TimeOfDay {
	return TimeOfDay(i * SlotMinutes)
}

// CheckAlignment rejects FULL bookings that do not start on the hour.
func CheckAlignment(start int, u Unit) error {
	if u == UnitFull && start%2 != 0 {
		return fmt.Errorf("%w: %s bookings must start on the hour, got %s", ErrInvalidSlot, u, TimeOf(start))
	}
	return nil
}
