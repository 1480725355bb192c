package clock

import "time"

// Clock abstracts wall time so day-boundary logic can be tested
// deterministically.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func NewSystemClock() Clock {
	return systemClock{}
}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

// DayKeyLayout is the calendar-day key format used across daily stats,
// usage snapshots and rollover records.
const DayKeyLayout = "2006-01-02"

// DayKey formats a timestamp as its calendar-day key.
func DayKey(t time.Time) string {
	return t.Format(DayKeyLayout)
}

// SameDay reports whether two timestamps fall on the same calendar day.
func SameDay(a, b time.Time) bool {
	return DayKey(a) == DayKey(b)
}
