package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/R3E-Network/training_workflow/internal/app/domain/content"
	"github.com/R3E-Network/training_workflow/internal/app/domain/history"
	"github.com/R3E-Network/training_workflow/internal/app/domain/monitor"
	"github.com/R3E-Network/training_workflow/internal/app/domain/session"
	"github.com/R3E-Network/training_workflow/internal/app/storage"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local development.
// Every mutation of a session runs under the write lock, which gives the same
// all-or-nothing behaviour the postgres store gets from transactions.
type Store struct {
	mu            sync.RWMutex
	nextID        int64
	sessions      map[string]session.Session
	locations     map[string]session.Location
	registrations map[string]int
	histories     map[string]history.Log
	ledgers       map[string]content.Ledger
	attempts      []monitor.Attempt
}

var _ storage.SessionStore = (*Store)(nil)
var _ storage.SnapshotReader = (*Store)(nil)
var _ storage.ConflictFinder = (*Store)(nil)
var _ storage.StatusStore = (*Store)(nil)
var _ storage.ContentStore = (*Store)(nil)
var _ storage.AttemptStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		nextID:        1,
		sessions:      make(map[string]session.Session),
		locations:     make(map[string]session.Location),
		registrations: make(map[string]int),
		histories:     make(map[string]history.Log),
		ledgers:       make(map[string]content.Ledger),
	}
}

func (s *Store) nextIDLocked() string {
	id := s.nextID
	s.nextID++
	return fmt.Sprintf("%d", id)
}

// SessionStore implementation -------------------------------------------------

func (s *Store) CreateSession(_ context.Context, sess session.Session) (session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess.ID == "" {
		sess.ID = s.nextIDLocked()
	} else if _, exists := s.sessions[sess.ID]; exists {
		return session.Session{}, fmt.Errorf("session %s already exists", sess.ID)
	}
	if sess.Status == "" {
		sess.Status = session.StatusDraft
	}

	now := time.Now().UTC()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	sess.UpdatedAt = now
	sess.Revision = 1

	stored := sess.Clone()
	s.sessions[sess.ID] = stored
	return stored.Clone(), nil
}

func (s *Store) GetSession(_ context.Context, id string) (session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return session.Session{}, fmt.Errorf("session %s: %w", id, storage.ErrNotFound)
	}
	return sess.Clone(), nil
}

func (s *Store) ListSessions(_ context.Context, filter session.Filter) ([]session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]session.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		if filter.Matches(sess) {
			result = append(result, sess.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (s *Store) UpdateSession(_ context.Context, sess session.Session) (session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.sessions[sess.ID]
	if !ok {
		return session.Session{}, fmt.Errorf("session %s: %w", sess.ID, storage.ErrNotFound)
	}
	if original.Revision != sess.Revision {
		return session.Session{}, fmt.Errorf("session %s at revision %d, update based on %d: %w",
			sess.ID, original.Revision, sess.Revision, storage.ErrConcurrentModification)
	}

	// Status and content only move through their own commits.
	sess.Status = original.Status
	sess.GeneratedContent = original.GeneratedContent
	sess.CurrentContentVersion = original.CurrentContentVersion
	sess.CreatedBy = original.CreatedBy
	sess.CreatedAt = original.CreatedAt
	sess.UpdatedAt = time.Now().UTC()
	sess.Revision = original.Revision + 1

	stored := sess.Clone()
	s.sessions[sess.ID] = stored
	return stored.Clone(), nil
}

func (s *Store) CreateLocation(_ context.Context, loc session.Location) (session.Location, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if loc.ID == "" {
		loc.ID = s.nextIDLocked()
	} else if _, exists := s.locations[loc.ID]; exists {
		return session.Location{}, fmt.Errorf("location %s already exists", loc.ID)
	}
	loc.CreatedAt = time.Now().UTC()
	s.locations[loc.ID] = loc
	return loc, nil
}

func (s *Store) GetLocation(_ context.Context, id string) (session.Location, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	loc, ok := s.locations[id]
	if !ok {
		return session.Location{}, fmt.Errorf("location %s: %w", id, storage.ErrNotFound)
	}
	return loc, nil
}

// SetRegistrationCount records how many people registered for a session.
// Registrations are owned by a collaborator; the store only keeps the count.
func (s *Store) SetRegistrationCount(sessionID string, count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registrations[sessionID] = count
}

// SnapshotReader / ConflictFinder implementation ------------------------------

func (s *Store) LoadSnapshot(_ context.Context, sessionID string) (session.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return session.Snapshot{}, fmt.Errorf("session %s: %w", sessionID, storage.ErrNotFound)
	}
	snap := session.Snapshot{
		Session:           sess.Clone(),
		RegistrationCount: s.registrations[sessionID],
	}
	if loc, ok := s.locations[sess.LocationID]; ok && sess.LocationID != "" {
		capacity := loc.Capacity
		snap.LocationCapacity = &capacity
	}
	return snap, nil
}

func (s *Store) FindScheduleConflicts(_ context.Context, sess session.Session) ([]session.Conflict, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	trainers := make(map[string]struct{})
	for _, id := range sess.TrainerIDs() {
		trainers[id] = struct{}{}
	}

	var conflicts []session.Conflict
	for _, other := range s.sessions {
		if other.ID == sess.ID || other.Status == session.StatusCancelled || other.Status == session.StatusRetired {
			continue
		}
		if !sess.Overlaps(other) {
			continue
		}
		if sess.LocationID != "" && other.LocationID == sess.LocationID {
			conflicts = append(conflicts, session.Conflict{
				SessionID: other.ID, Title: other.Title, Resource: "location", ResourceID: sess.LocationID,
			})
		}
		for _, trainerID := range other.TrainerIDs() {
			if _, shared := trainers[trainerID]; shared {
				conflicts = append(conflicts, session.Conflict{
					SessionID: other.ID, Title: other.Title, Resource: "trainer", ResourceID: trainerID,
				})
			}
		}
	}
	sort.Slice(conflicts, func(i, j int) bool {
		if conflicts[i].SessionID != conflicts[j].SessionID {
			return conflicts[i].SessionID < conflicts[j].SessionID
		}
		if conflicts[i].Resource != conflicts[j].Resource {
			return conflicts[i].Resource < conflicts[j].Resource
		}
		return conflicts[i].ResourceID < conflicts[j].ResourceID
	})
	return conflicts, nil
}

// StatusStore implementation --------------------------------------------------

func (s *Store) CommitTransition(_ context.Context, expectedRevision int64, entry history.Entry) (session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[entry.SessionID]
	if !ok {
		return session.Session{}, fmt.Errorf("session %s: %w", entry.SessionID, storage.ErrNotFound)
	}
	if sess.Revision != expectedRevision || sess.Status != entry.PreviousStatus {
		return session.Session{}, fmt.Errorf("session %s is %s at revision %d: %w",
			sess.ID, sess.Status, sess.Revision, storage.ErrConcurrentModification)
	}

	if entry.ID == "" {
		entry.ID = s.nextIDLocked()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	log := s.histories[sess.ID]
	if last, ok := log.Last(); ok && entry.CreatedAt.Before(last.CreatedAt) {
		entry.CreatedAt = last.CreatedAt
	}
	next, err := log.Append(entry)
	if err != nil {
		return session.Session{}, err
	}

	sess.Status = entry.NewStatus
	sess.Revision++
	sess.UpdatedAt = entry.CreatedAt
	s.histories[sess.ID] = next
	s.sessions[sess.ID] = sess
	return sess.Clone(), nil
}

func (s *Store) ListStatusHistory(_ context.Context, sessionID string) (history.Log, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.sessions[sessionID]; !ok {
		return history.Log{}, fmt.Errorf("session %s: %w", sessionID, storage.ErrNotFound)
	}
	return s.histories[sessionID], nil
}

func (s *Store) ListAllStatusHistory(_ context.Context) (map[string]history.Log, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]history.Log, len(s.histories))
	for id, log := range s.histories {
		out[id] = log
	}
	return out, nil
}

// ContentStore implementation -------------------------------------------------

func (s *Store) LoadContentLedger(_ context.Context, sessionID string) (content.Ledger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.sessions[sessionID]; !ok {
		return content.Ledger{}, fmt.Errorf("session %s: %w", sessionID, storage.ErrNotFound)
	}
	return s.ledgers[sessionID], nil
}

func (s *Store) CommitContent(_ context.Context, expectedRevision int64, change content.Change) (session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[change.SessionID]
	if !ok {
		return session.Session{}, fmt.Errorf("session %s: %w", change.SessionID, storage.ErrNotFound)
	}
	ledger := s.ledgers[sess.ID]
	if sess.Revision != expectedRevision || ledger.CurrentNumber() != change.ExpectedCurrent {
		return session.Session{}, fmt.Errorf("session %s content at version %d revision %d: %w",
			sess.ID, ledger.CurrentNumber(), sess.Revision, storage.ErrConcurrentModification)
	}

	archived := ledger.Archived()
	if change.Archive != nil {
		archived = append(archived, *change.Archive)
	}
	current := change.Current
	next, err := content.NewLedger(&current, archived)
	if err != nil {
		return session.Session{}, err
	}

	sess.GeneratedContent = append([]byte(nil), current.Body...)
	sess.CurrentContentVersion = current.Number
	sess.Revision++
	sess.UpdatedAt = time.Now().UTC()
	s.ledgers[sess.ID] = next
	s.sessions[sess.ID] = sess
	return sess.Clone(), nil
}

// AttemptStore implementation -------------------------------------------------

func (s *Store) RecordAttempt(_ context.Context, attempt monitor.Attempt) (monitor.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if attempt.ID == "" {
		attempt.ID = s.nextIDLocked()
	}
	if attempt.CreatedAt.IsZero() {
		attempt.CreatedAt = time.Now().UTC()
	}
	s.attempts = append(s.attempts, attempt)
	return attempt, nil
}

func (s *Store) ListRecentAttempts(_ context.Context, limit int) ([]monitor.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.attempts)
	if limit > 0 && limit < n {
		n = limit
	}
	result := make([]monitor.Attempt, 0, n)
	for i := len(s.attempts) - 1; i >= 0 && len(result) < n; i-- {
		result = append(result, s.attempts[i])
	}
	return result, nil
}
