package slot

import (
	"fmt"
	"math/bits"
	"strings"
)

// Mask is a day occupancy bitmap. Bit i covers the slot starting at i*30 minutes.
type Mask uint64

const fullDay Mask = 1<<SlotsPerDay - 1

// MaskFor sets span consecutive bits starting at start. Ranges never cross midnight.
func MaskFor(start, span int) (Mask, error) {
	if start < 0 || start >= SlotsPerDay {
		return 0, fmt.Errorf("%w: slot index %d out of range", ErrInvalidSlot, start)
	}
	if span < 1 {
		return 0, fmt.Errorf("%w: span must be positive, got %d", ErrInvalidSlot, span)
	}
	if start+span > SlotsPerDay {
		return 0, fmt.Errorf("%w: slots %d..%d cross midnight", ErrInvalidSlot, start, start+span-1)
	}
	return (Mask(1)<<uint(span) - 1) << uint(start), nil
}

// RangeMask covers [from, to) on the slot grid. Both ends must be aligned.
func RangeMask(from, to TimeOfDay) (Mask, error) {
	if from >= to {
		return 0, fmt.Errorf("%w: %s is not before %s", ErrInvalidSlot, from, to)
	}
	start, err := IndexOf(from)
	if err != nil {
		return 0, err
	}
	if int(to)%SlotMinutes != 0 || int(to) > minutesPerDay {
		return 0, fmt.Errorf("%w: %s is not a slot boundary", ErrInvalidSlot, to)
	}
	return MaskFor(start, int(to)/SlotMinutes-start)
}

func (m Mask) Has(i int) bool {
	if i < 0 || i >= SlotsPerDay {
		return false
	}
	return m&(1<<uint(i)) != 0
}

func (m Mask) Overlaps(other Mask) bool { return m&other != 0 }

func (m Mask) Contains(other Mask) bool { return m&other == other }

func (m Mask) Valid() bool { return m&^fullDay == 0 }

// Free returns the slots set in m that are not set in taken.
func (m Mask) Free(taken Mask) Mask { return m &^ taken }

func (m Mask) Count() int { return bits.OnesCount64(uint64(m)) }

func (m Mask) Bools() [SlotsPerDay]bool {
	var out [SlotsPerDay]bool
	for i := range out {
		out[i] = m.Has(i)
	}
	return out
}

// String renders the mask as 48 characters, slot 0 first.
func (m Mask) String() string {
	var b strings.Builder
	b.Grow(SlotsPerDay)
	for i := 0; i < SlotsPerDay; i++ {
		if m.Has(i) {
			b.WriteByte('1')
		} else {
			b.WriteByte('0')
		}
	}
	return b.String()
}
