// Package history models the append-only ledger of session status changes.
package history

import (
	"fmt"
	"time"

	"github.com/R3E-Network/training_workflow/internal/app/domain/session"
)

// Entry records one accepted transition. Entries are never mutated.
type Entry struct {
	ID             string         `json:"id" db:"id"`
	SessionID      string         `json:"session_id" db:"session_id"`
	PreviousStatus session.Status `json:"previous_status" db:"previous_status"`
	NewStatus      session.Status `json:"new_status" db:"new_status"`
	Actor          string         `json:"actor" db:"actor"`
	Automated      bool           `json:"automated" db:"automated"`
	Reason         string         `json:"reason,omitempty" db:"reason"`
	CreatedAt      time.Time      `json:"created_at" db:"created_at"`
}

// Log is an ordered, contiguous list of entries for one session. The zero
// value is an empty log. Append returns a new Log and leaves the receiver
// untouched, so a Log handed out can never be changed behind the holder's back.
type Log struct {
	entries []Entry
}

// NewLog builds a log from persisted entries, verifying ordering and
// contiguity.
func NewLog(entries ...Entry) (Log, error) {
	var l Log
	for _, e := range entries {
		next, err := l.Append(e)
		if err != nil {
			return Log{}, err
		}
		l = next
	}
	return l, nil
}

// Append returns a log with e added at the end. The entry must continue the
// chain (its previous status equals the last new status) and must not be
// older than the last entry.
func (l Log) Append(e Entry) (Log, error) {
	if !e.PreviousStatus.Valid() || !e.NewStatus.Valid() {
		return l, fmt.Errorf("history entry %s has unknown status %q -> %q", e.ID, e.PreviousStatus, e.NewStatus)
	}
	if n := len(l.entries); n > 0 {
		last := l.entries[n-1]
		if last.SessionID != e.SessionID {
			return l, fmt.Errorf("history entry %s belongs to session %s, log is for %s", e.ID, e.SessionID, last.SessionID)
		}
		if last.NewStatus != e.PreviousStatus {
			return l, fmt.Errorf("history gap: last status %s, entry %s starts at %s", last.NewStatus, e.ID, e.PreviousStatus)
		}
		if e.CreatedAt.Before(last.CreatedAt) {
			return l, fmt.Errorf("history entry %s at %s precedes last entry at %s", e.ID, e.CreatedAt, last.CreatedAt)
		}
	}
	out := make([]Entry, len(l.entries), len(l.entries)+1)
	copy(out, l.entries)
	return Log{entries: append(out, e)}, nil
}

// Entries returns a copy of the entries, oldest first.
func (l Log) Entries() []Entry {
	return append([]Entry(nil), l.entries...)
}

// Len is the number of entries.
func (l Log) Len() int { return len(l.entries) }

// Last returns the newest entry.
func (l Log) Last() (Entry, bool) {
	if len(l.entries) == 0 {
		return Entry{}, false
	}
	return l.entries[len(l.entries)-1], true
}

// Dwell is the time a session spent in one status.
type Dwell struct {
	Status   session.Status
	Duration time.Duration
}

// Dwells computes closed dwell intervals from consecutive entries. The
// interval before the first entry is measured from createdAt when it is not
// zero. The current, still open, status is not included.
func (l Log) Dwells(createdAt time.Time) []Dwell {
	if len(l.entries) == 0 {
		return nil
	}
	out := make([]Dwell, 0, len(l.entries))
	first := l.entries[0]
	if !createdAt.IsZero() && !first.CreatedAt.Before(createdAt) {
		out = append(out, Dwell{Status: first.PreviousStatus, Duration: first.CreatedAt.Sub(createdAt)})
	}
	for i := 0; i+1 < len(l.entries); i++ {
		cur, next := l.entries[i], l.entries[i+1]
		out = append(out, Dwell{Status: cur.NewStatus, Duration: next.CreatedAt.Sub(cur.CreatedAt)})
	}
	return out
}
