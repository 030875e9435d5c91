package progress

import "time"

// NextStreak returns the streak after activity at at, given the previous
// activity time and streak. Days are UTC calendar days.
func NextStreak(last time.Time, streak int, at time.Time) int {
	if last.IsZero() || streak <= 0 {
		return 1
	}
	switch d := dayNumber(at) - dayNumber(last); {
	case d <= 0:
		return streak
	case d == 1:
		return streak + 1
	default:
		return 1
	}
}

func dayNumber(t time.Time) int64 {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / 86400
}
