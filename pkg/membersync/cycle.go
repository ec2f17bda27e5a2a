package membersync

import "time"

// NextRenewal returns the next monthly renewal for a member billed on
// anchorDay, as midnight in now's location.
//
// The candidate is anchorDay of the current month. When now is on or after
// that day the candidate moves to the following month, so the renewal day
// itself already points at the next cycle. Days past the end of a month are
// clamped to its last day, and that clamped day counts as the renewal day
// of its month:
//   - anchor 20, now Mar 19 -> Mar 20
//   - anchor 20, now Mar 20 -> Apr 20
//   - anchor 31, now Feb 10 (leap year) -> Feb 29
//   - anchor 30, now Feb 28 (common year) -> Mar 30
func NextRenewal(anchorDay int, now time.Time) time.Time {
	if anchorDay < 1 {
		anchorDay = 1
	}
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())

	candidate := addMonthsSafeWithDay(monthStart, 0, anchorDay)
	if now.Day() >= candidate.Day() {
		candidate = addMonthsSafeWithDay(monthStart, 1, anchorDay)
	}
	return candidate
}

// addMonthsSafeWithDay adds months while preserving the target day-of-month when possible.
// If the target day doesn't exist in the result month (e.g., Feb 31), it uses the last day of that month.
func addMonthsSafeWithDay(base time.Time, months, targetDay int) time.Time {
	year, month, _ := base.Date()
	targetDate := time.Date(year, month+time.Month(months), 1, base.Hour(), base.Minute(), base.Second(), base.Nanosecond(), base.Location())

	// day=0 of month+1 is the last day of month
	lastDay := time.Date(targetDate.Year(), targetDate.Month()+1, 0, 0, 0, 0, 0, targetDate.Location()).Day()

	actualDay := targetDay
	if actualDay > lastDay {
		actualDay = lastDay
	}

	return time.Date(targetDate.Year(), targetDate.Month(), actualDay, base.Hour(), base.Minute(), base.Second(), base.Nanosecond(), base.Location())
}

// daysUntil returns the whole days from now until t, rounded up, never negative.
func daysUntil(t, now time.Time) int {
	d := t.Sub(now)
	if d <= 0 {
		return 0
	}
	days := int(d / (24 * time.Hour))
	if d%(24*time.Hour) != 0 {
		days++
	}
	return days
}
