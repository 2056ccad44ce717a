// Package content models the versioned promotional copy attached to a session.
package content

import (
	"encoding/json"
	"fmt"
	"time"
)

// Version is one numbered content blob. Body is opaque to the workflow.
type Version struct {
	SessionID string            `json:"session_id"`
	Number    int               `json:"version"`
	Body      json.RawMessage   `json:"content"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedBy string            `json:"created_by,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

func (v Version) clone() Version {
	out := v
	out.Body = append(json.RawMessage(nil), v.Body...)
	if v.Metadata != nil {
		out.Metadata = make(map[string]string, len(v.Metadata))
		for k, val := range v.Metadata {
			out.Metadata[k] = val
		}
	}
	return out
}

// ErrVersionNotArchived is returned by Restore for numbers outside the archive.
type ErrVersionNotArchived struct {
	Requested int
	Available []int
}

func (e ErrVersionNotArchived) Error() string {
	return fmt.Sprintf("content version %d is not archived (available %v)", e.Requested, e.Available)
}

// Ledger holds the current content and every superseded version. Version
// numbers start at 1 and strictly increase; every superseded version is
// archived exactly once, so len(Archived) == Current.Number-1 whenever a
// current version exists. Ledger values are never modified in place.
type Ledger struct {
	current  *Version
	archived []Version
}

// NewLedger rebuilds a ledger from storage, checking the numbering invariant.
func NewLedger(current *Version, archived []Version) (Ledger, error) {
	if current == nil {
		if len(archived) > 0 {
			return Ledger{}, fmt.Errorf("ledger has %d archived versions but no current version", len(archived))
		}
		return Ledger{}, nil
	}
	if len(archived) != current.Number-1 {
		return Ledger{}, fmt.Errorf("ledger at version %d has %d archived versions, want %d", current.Number, len(archived), current.Number-1)
	}
	l := Ledger{archived: make([]Version, len(archived))}
	for i, v := range archived {
		if v.Number != i+1 {
			return Ledger{}, fmt.Errorf("archived version at position %d is numbered %d", i, v.Number)
		}
		l.archived[i] = v.clone()
	}
	cur := current.clone()
	l.current = &cur
	return l, nil
}

// Current returns the current version, if any.
func (l Ledger) Current() (Version, bool) {
	if l.current == nil {
		return Version{}, false
	}
	return l.current.clone(), true
}

// CurrentNumber is the current version number, 0 before the first content.
func (l Ledger) CurrentNumber() int {
	if l.current == nil {
		return 0
	}
	return l.current.Number
}

// Archived returns the superseded versions, oldest first.
func (l Ledger) Archived() []Version {
	out := make([]Version, len(l.archived))
	for i, v := range l.archived {
		out[i] = v.clone()
	}
	return out
}

// HasVersions reports whether any superseded version exists.
func (l Ledger) HasVersions() bool { return len(l.archived) > 0 }

// Versions returns archived versions followed by the current one.
func (l Ledger) Versions() []Version {
	out := l.Archived()
	if l.current != nil {
		out = append(out, l.current.clone())
	}
	return out
}

// Change describes what a ledger operation adds: the version that moves to the
// archive (nil on first content) and the new current version. Stores persist a
// Change as one unit.
type Change struct {
	SessionID       string
	ExpectedCurrent int
	Archive         *Version
	Current         Version
}

// Set makes body the new current content. The previous current version, if
// any, is archived under its own number.
func (l Ledger) Set(sessionID string, body json.RawMessage, metadata map[string]string, actor string, at time.Time) (Ledger, Change) {
	next := Version{
		SessionID: sessionID,
		Number:    l.CurrentNumber() + 1,
		Body:      body,
		Metadata:  metadata,
		CreatedBy: actor,
		CreatedAt: at,
	}
	return l.apply(sessionID, next.clone())
}

// Restore copies an archived version forward as a new current version with a
// fresh number. The archived copy stays where it is.
func (l Ledger) Restore(sessionID string, number int, actor string, at time.Time) (Ledger, Change, error) {
	if number < 1 || number > len(l.archived) {
		return l, Change{}, ErrVersionNotArchived{Requested: number, Available: l.archivedNumbers()}
	}
	src := l.archived[number-1]
	meta := make(map[string]string, len(src.Metadata)+1)
	for k, v := range src.Metadata {
		meta[k] = v
	}
	meta["restored_from"] = fmt.Sprintf("%d", number)
	next := Version{
		SessionID: sessionID,
		Number:    l.CurrentNumber() + 1,
		Body:      append(json.RawMessage(nil), src.Body...),
		Metadata:  meta,
		CreatedBy: actor,
		CreatedAt: at,
	}
	out, change := l.apply(sessionID, next)
	return out, change, nil
}

func (l Ledger) apply(sessionID string, next Version) (Ledger, Change) {
	change := Change{SessionID: sessionID, ExpectedCurrent: l.CurrentNumber(), Current: next.clone()}
	archived := make([]Version, len(l.archived), len(l.archived)+1)
	copy(archived, l.archived)
	if l.current != nil {
		prev := l.current.clone()
		archived = append(archived, prev)
		change.Archive = &prev
	}
	return Ledger{current: &next, archived: archived}, change
}

func (l Ledger) archivedNumbers() []int {
	out := make([]int, len(l.archived))
	for i, v := range l.archived {
		out[i] = v.Number
	}
	return out
}
