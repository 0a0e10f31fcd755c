package points

import "time"

const (
	MaxSessions   = 3
	SessionWindow = 24 * time.Hour
)

// Limit is the outcome of a rate limit check.
type Limit struct {
	Allowed         bool       `json:"allowed"`
	Used            int        `json:"used"`
	Remaining       int        `json:"remaining"`
	NextAvailableAt *time.Time `json:"next_available_at,omitempty"`
}

// CheckSessionLimit applies the default rolling window of MaxSessions per SessionWindow.
func CheckSessionLimit(history []time.Time, now time.Time) Limit {
	return CheckSessionLimitWith(history, now, MaxSessions, SessionWindow)
}

// CheckSessionLimitWith counts sessions strictly newer than now-span. The window
// slides with now; it is not a calendar day.
func CheckSessionLimitWith(history []time.Time, now time.Time, max int, span time.Duration) Limit {
	cutoff := now.Add(-span)

	used := 0
	var oldest time.Time
	for _, ts := range history {
		if !ts.After(cutoff) {
			continue
		}
		if used == 0 || ts.Before(oldest) {
			oldest = ts
		}
		used++
	}

	l := Limit{Used: used, Allowed: used < max}
	if remaining := max - used; remaining > 0 {
		l.Remaining = remaining
	}
	if !l.Allowed {
		next := oldest.Add(span)
		l.NextAvailableAt = &next
	}
	return l
}
