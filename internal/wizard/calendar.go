package wizard

import "time"

// PrevMonth steps one month back, rolling the year over at January.
func PrevMonth(year int, month time.Month) (int, time.Month) {
	if month == time.January {
		return year - 1, time.December
	}
	return year, month - 1
}

// NextMonth steps one month forward, rolling the year over at December.
func NextMonth(year int, month time.Month) (int, time.Month) {
	if month == time.December {
		return year + 1, time.January
	}
	return year, month + 1
}

// MonthGrid lays the days of a month out in Monday-first weeks. Zero marks a blank cell.
func MonthGrid(year int, month time.Month) [][]int {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	days := first.AddDate(0, 1, -1).Day()
	offset := (int(first.Weekday()) + 6) % 7

	var weeks [][]int
	week := make([]int, 7)
	col := offset
	for day := 1; day <= days; day++ {
		week[col] = day
		col++
		if col == 7 {
			weeks = append(weeks, week)
			week = make([]int, 7)
			col = 0
		}
	}
	if col > 0 {
		weeks = append(weeks, week)
	}
	return weeks
}

// Unit is the clock field a nudge applies to.
type Unit byte

const (
	Hour   Unit = 'h'
	Minute Unit = 'm'
	Second Unit = 's'
)

// Nudge moves one clock field of t by delta, wrapping at 24/60/60 without
// carrying into the next field. The date never changes.
func Nudge(t time.Time, unit Unit, delta int) time.Time {
	h, m, s := t.Clock()
	switch unit {
	case Hour:
		h = wrap(h+delta, 24)
	case Minute:
		m = wrap(m+delta, 60)
	case Second:
		s = wrap(s+delta, 60)
	}
	y, mo, d := t.Date()
	return time.Date(y, mo, d, h, m, s, 0, t.Location())
}

func wrap(v, n int) int {
	return ((v % n) + n) % n
}
