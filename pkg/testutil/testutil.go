// Package testutil provides common testing utilities and fixtures.
package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/training_workflow/internal/app/domain/session"
)

// Clock is a manually advanced clock.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock fixed at now.
func NewClock(now time.Time) *Clock {
	return &Clock{now: now.UTC()}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// DraftSession returns a session with only a title and positive capacity, so
// every required readiness check except capacity fails.
func DraftSession(title string) session.Session {
	return session.Session{Title: title, MaxRegistrations: 20}
}

// CompleteSession returns a session that passes every required readiness
// check when scheduled at start for two hours.
func CompleteSession(title string, start time.Time) session.Session {
	end := start.Add(2 * time.Hour)
	return session.Session{
		Title:            title,
		Description:      "A hands-on session",
		StartsAt:         &start,
		EndsAt:           &end,
		MaxRegistrations: 20,
		Topics: []session.Topic{
			{Title: "Introduction", Description: "Why it matters", DurationMinutes: 30, TrainerID: "trainer-" + uuid.NewString()[:8]},
			{Title: "Workshop", Description: "Guided exercises", DurationMinutes: 90, TrainerID: "trainer-" + uuid.NewString()[:8]},
		},
	}
}

// ConflictFinder is a canned storage.ConflictFinder.
type ConflictFinder struct {
	Conflicts []session.Conflict
	Err       error
}

// FindScheduleConflicts returns the configured conflicts.
func (f ConflictFinder) FindScheduleConflicts(_ context.Context, _ session.Session) ([]session.Conflict, error) {
	return f.Conflicts, f.Err
}
