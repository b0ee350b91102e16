package schedule

import "time"

// weekdayBits packs weekdays into the smallint stored per interval, bit i = time.Weekday(i).
func weekdayBits(days []time.Weekday) int16 {
	var bits int16
	for _, d := range days {
		bits |= 1 << uint(d)
	}
	return bits
}

func weekdaysFromBits(bits int16) []time.Weekday {
	var days []time.Weekday
	for d := time.Sunday; d <= time.Saturday; d++ {
		if bits&(1<<uint(d)) != 0 {
			days = append(days, d)
		}
	}
	return days
}
