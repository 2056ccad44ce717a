package storage

import (
	"context"
	"errors"

	"github.com/R3E-Network/training_workflow/internal/app/domain/content"
	"github.com/R3E-Network/training_workflow/internal/app/domain/history"
	"github.com/R3E-Network/training_workflow/internal/app/domain/monitor"
	"github.com/R3E-Network/training_workflow/internal/app/domain/session"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("storage: not found")
	// ErrConcurrentModification is returned when a write was based on a stale
	// revision of the session row.
	ErrConcurrentModification = errors.New("storage: concurrent modification")
)

// SessionStore persists sessions and locations.
type SessionStore interface {
	CreateSession(ctx context.Context, sess session.Session) (session.Session, error)
	GetSession(ctx context.Context, id string) (session.Session, error)
	ListSessions(ctx context.Context, filter session.Filter) ([]session.Session, error)
	// UpdateSession replaces editable details when sess.Revision matches the
	// stored revision, and bumps the revision.
	UpdateSession(ctx context.Context, sess session.Session) (session.Session, error)

	CreateLocation(ctx context.Context, loc session.Location) (session.Location, error)
	GetLocation(ctx context.Context, id string) (session.Location, error)
}

// SnapshotReader loads the read model the readiness evaluator runs against.
type SnapshotReader interface {
	LoadSnapshot(ctx context.Context, sessionID string) (session.Snapshot, error)
}

// ConflictFinder returns non-cancelled, non-retired sessions whose schedule
// overlaps sess and that share its location or any of its trainers.
type ConflictFinder interface {
	FindScheduleConflicts(ctx context.Context, sess session.Session) ([]session.Conflict, error)
}

// StatusStore persists status changes and their history.
type StatusStore interface {
	// CommitTransition sets the session status to entry.NewStatus and appends
	// entry to the history as one unit. It fails with ErrConcurrentModification
	// when the stored revision differs from expectedRevision.
	CommitTransition(ctx context.Context, expectedRevision int64, entry history.Entry) (session.Session, error)
	ListStatusHistory(ctx context.Context, sessionID string) (history.Log, error)
	ListAllStatusHistory(ctx context.Context) (map[string]history.Log, error)
}

// ContentStore persists the content version ledger.
type ContentStore interface {
	LoadContentLedger(ctx context.Context, sessionID string) (content.Ledger, error)
	// CommitContent archives change.Archive, stores change.Current as the
	// session's current content and bumps the session revision as one unit.
	CommitContent(ctx context.Context, expectedRevision int64, change content.Change) (session.Session, error)
}

// AttemptStore persists transition and publish attempts for monitoring.
type AttemptStore interface {
	RecordAttempt(ctx context.Context, attempt monitor.Attempt) (monitor.Attempt, error)
	// ListRecentAttempts returns at most limit attempts, newest first.
	ListRecentAttempts(ctx context.Context, limit int) ([]monitor.Attempt, error)
}
