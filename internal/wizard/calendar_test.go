package wizard

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockedby/tgfetch/internal/telegram"
)

func TestMonthRollover(t *testing.T) {
	y, m := PrevMonth(2024, time.January)
	assert.Equal(t, 2023, y)
	assert.Equal(t, time.December, m)

	y, m = NextMonth(2023, time.December)
	assert.Equal(t, 2024, y)
	assert.Equal(t, time.January, m)

	y, m = NextMonth(2024, time.June)
	assert.Equal(t, 2024, y)
	assert.Equal(t, time.July, m)

	y, m = PrevMonth(2024, time.June)
	assert.Equal(t, 2024, y)
	assert.Equal(t, time.May, m)
}

func TestMonthGrid(t *testing.T) {
	// January 2024 starts on a Monday and has 31 days.
	grid := MonthGrid(2024, time.January)
	require.Len(t, grid, 5)
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 7}, grid[0])
	assert.Equal(t, []int{29, 30, 31, 0, 0, 0, 0}, grid[4])

	// February 2024 starts on a Thursday and is a leap month.
	grid = MonthGrid(2024, time.February)
	assert.Equal(t, []int{0, 0, 0, 1, 2, 3, 4}, grid[0])
	last := grid[len(grid)-1]
	assert.Contains(t, last, 29)
	assert.NotContains(t, last, 30)
}

func TestNudge(t *testing.T) {
	base := time.Date(2024, 5, 10, 23, 58, 59, 0, time.UTC)

	tests := []struct {
		name  string
		unit  Unit
		delta int
		want  time.Time
	}{
		{"hour wraps forward", Hour, 1, time.Date(2024, 5, 10, 0, 58, 59, 0, time.UTC)},
		{"hour wraps back", Hour, -30, time.Date(2024, 5, 10, 17, 58, 59, 0, time.UTC)},
		{"minute wraps without carry", Minute, 5, time.Date(2024, 5, 10, 23, 3, 59, 0, time.UTC)},
		{"second wraps without carry", Second, 1, time.Date(2024, 5, 10, 23, 58, 0, 0, time.UTC)},
		{"second back", Second, -60, base},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Nudge(base, tt.unit, tt.delta))
		})
	}
}

func TestChatFilterMatch(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 31, 23, 59, 59, 0, time.UTC)
	f := NewChatFilter()
	f.DateRange.Start = &start
	f.DateRange.End = &end
	f.ContentTypes[telegram.MediaVoice] = false

	inRange := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	assert.True(t, f.Match(telegram.Message{Media: telegram.MediaPhoto, Date: inRange}))
	assert.True(t, f.Match(telegram.Message{Media: telegram.MediaPhoto, Date: start}), "start is inclusive")
	assert.True(t, f.Match(telegram.Message{Media: telegram.MediaPhoto, Date: end}), "end is inclusive")
	assert.False(t, f.Match(telegram.Message{Media: telegram.MediaVoice, Date: inRange}))
	assert.False(t, f.Match(telegram.Message{Text: "hello", Date: inRange}))
	assert.False(t, f.Match(telegram.Message{Media: telegram.MediaPhoto, Date: end.Add(time.Second)}))
	assert.True(t, f.DateRange.Before(start.Add(-time.Second)))
	assert.False(t, f.DateRange.Before(start))
}

func TestChatFilterClone(t *testing.T) {
	start := time.Now()
	f := NewChatFilter()
	f.DateRange.Start = &start

	c := f.Clone()
	c.ContentTypes[telegram.MediaPhoto] = false
	*c.DateRange.Start = start.Add(time.Hour)

	assert.True(t, f.ContentTypes[telegram.MediaPhoto])
	assert.Equal(t, start, *f.DateRange.Start)
}
