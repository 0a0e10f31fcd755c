package recovery

import (
	"fmt"
	"time"
)

// Status is a state of a single user's recovery.
type Status string

const (
	StatusChecked        Status = "checked"
	StatusNoChangeNeeded Status = "no_change_needed"
	StatusChangeComputed Status = "change_computed"
	StatusSkipped        Status = "skipped"
	StatusApplied        Status = "applied"
	StatusFailed         Status = "failed"
)

var transitions = map[Status][]Status{
	"":                   {StatusChecked},
	StatusChecked:        {StatusNoChangeNeeded, StatusChangeComputed},
	StatusChangeComputed: {StatusSkipped, StatusApplied, StatusFailed},
}

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	switch s {
	case StatusNoChangeNeeded, StatusSkipped, StatusApplied, StatusFailed:
		return true
	}
	return false
}

// Breakdown is the expected total split into its parts.
type Breakdown struct {
	Base       int `json:"base"`
	Completion int `json:"completion"`
	Sessions   int `json:"sessions"`
}

// Log is the structured diff produced for one user.
type Log struct {
	UserID        int64     `json:"user_id"`
	Handle        string    `json:"handle"`
	DryRun        bool      `json:"dry_run"`
	Status        Status    `json:"status"`
	History       []Status  `json:"history"`
	StoredTotal   int       `json:"stored_total"`
	ExpectedTotal int       `json:"expected_total"`
	Delta         int       `json:"delta"`
	Breakdown     Breakdown `json:"breakdown"`
	MissingBonus  bool      `json:"missing_bonus"`
	AppliedTotal  int       `json:"applied_total,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	Error         string    `json:"error,omitempty"`
	CheckedAt     time.Time `json:"checked_at"`
}

// advance moves the log to next, rejecting transitions the state machine
// does not allow.
func (l *Log) advance(next Status) error {
	for _, allowed := range transitions[l.Status] {
		if allowed == next {
			l.Status = next
			l.History = append(l.History, next)
			return nil
		}
	}
	return fmt.Errorf("invalid recovery transition %q -> %q", l.Status, next)
}

func (l *Log) skip(reason string) {
	l.Reason = reason
	_ = l.advance(StatusSkipped)
}

func (l *Log) fail(err error) {
	l.Error = err.Error()
	_ = l.advance(StatusFailed)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
