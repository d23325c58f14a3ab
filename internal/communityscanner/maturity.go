package communityscanner

import "time"

// maturityWindow is the age at which a post is considered to have
// accumulated enough engagement to warrant a rescan (spec.md §4.3.2).
const maturityWindow = 7 * 24 * time.Hour

// maturityTime computes the scheduled_start_at for a freshly observed
// post. If the post is already at or past the maturity window, it is
// scheduled immediately; otherwise it is scheduled for the remainder of
// the window.
func maturityTime(createdAt, now time.Time) time.Time {
	age := now.Sub(createdAt)
	if age >= maturityWindow {
		return now
	}
	return now.Add(maturityWindow - age)
}
