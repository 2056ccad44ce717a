package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/R3E-Network/training_workflow/internal/app/domain/content"
	"github.com/R3E-Network/training_workflow/internal/app/domain/history"
	"github.com/R3E-Network/training_workflow/internal/app/domain/monitor"
	"github.com/R3E-Network/training_workflow/internal/app/domain/session"
	"github.com/R3E-Network/training_workflow/internal/app/storage"
)

// Store implements the storage interfaces backed by PostgreSQL. Status and
// content commits lock the session row and check its revision inside one
// transaction.
type Store struct {
	db *sqlx.DB
}

var _ storage.SessionStore = (*Store)(nil)
var _ storage.SnapshotReader = (*Store)(nil)
var _ storage.ConflictFinder = (*Store)(nil)
var _ storage.StatusStore = (*Store)(nil)
var _ storage.ContentStore = (*Store)(nil)
var _ storage.AttemptStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

const sessionColumns = `id, title, description, status, starts_at, ends_at, location_id,
	max_registrations, registration_count, auto_publish, generated_content,
	current_content_version, revision, created_by, created_at, updated_at`

type sessionRow struct {
	ID                    string         `db:"id"`
	Title                 string         `db:"title"`
	Description           string         `db:"description"`
	Status                string         `db:"status"`
	StartsAt              sql.NullTime   `db:"starts_at"`
	EndsAt                sql.NullTime   `db:"ends_at"`
	LocationID            sql.NullString `db:"location_id"`
	MaxRegistrations      int            `db:"max_registrations"`
	RegistrationCount     int            `db:"registration_count"`
	AutoPublish           bool           `db:"auto_publish"`
	GeneratedContent      []byte         `db:"generated_content"`
	CurrentContentVersion int            `db:"current_content_version"`
	Revision              int64          `db:"revision"`
	CreatedBy             string         `db:"created_by"`
	CreatedAt             time.Time      `db:"created_at"`
	UpdatedAt             time.Time      `db:"updated_at"`
}

func (r sessionRow) toSession() session.Session {
	sess := session.Session{
		ID:                    r.ID,
		Title:                 r.Title,
		Description:           r.Description,
		Status:                session.Status(r.Status),
		LocationID:            r.LocationID.String,
		MaxRegistrations:      r.MaxRegistrations,
		AutoPublish:           r.AutoPublish,
		CurrentContentVersion: r.CurrentContentVersion,
		Revision:              r.Revision,
		CreatedBy:             r.CreatedBy,
		CreatedAt:             r.CreatedAt.UTC(),
		UpdatedAt:             r.UpdatedAt.UTC(),
	}
	if r.StartsAt.Valid {
		t := r.StartsAt.Time.UTC()
		sess.StartsAt = &t
	}
	if r.EndsAt.Valid {
		t := r.EndsAt.Time.UTC()
		sess.EndsAt = &t
	}
	if len(r.GeneratedContent) > 0 {
		sess.GeneratedContent = json.RawMessage(r.GeneratedContent)
	}
	return sess
}

type topicRow struct {
	SessionID string `db:"session_id"`
	session.Topic
}

// --- SessionStore -----------------------------------------------------------

func (s *Store) CreateSession(ctx context.Context, sess session.Session) (session.Session, error) {
	if sess.ID == "" {
		sess.ID = uuid.NewString()
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

	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO training_sessions (id, title, description, status, starts_at, ends_at, location_id,
				max_registrations, auto_publish, revision, created_by, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		`, sess.ID, sess.Title, sess.Description, string(sess.Status), nullTime(sess.StartsAt), nullTime(sess.EndsAt),
			nullString(sess.LocationID), sess.MaxRegistrations, sess.AutoPublish, sess.Revision, sess.CreatedBy,
			sess.CreatedAt, sess.UpdatedAt); err != nil {
			return err
		}
		topics, err := insertTopics(ctx, tx, sess.ID, sess.Topics)
		sess.Topics = topics
		return err
	})
	if err != nil {
		return session.Session{}, err
	}
	return sess, nil
}

func (s *Store) GetSession(ctx context.Context, id string) (session.Session, error) {
	return getSession(ctx, s.db, id)
}

func (s *Store) ListSessions(ctx context.Context, filter session.Filter) ([]session.Session, error) {
	var rows []sessionRow
	var err error
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			statuses[i] = string(st)
		}
		err = s.db.SelectContext(ctx, &rows, `
			SELECT `+sessionColumns+`
			FROM training_sessions
			WHERE status = ANY($1)
			ORDER BY created_at, id
		`, pq.Array(statuses))
	} else {
		err = s.db.SelectContext(ctx, &rows, `
			SELECT `+sessionColumns+`
			FROM training_sessions
			ORDER BY created_at, id
		`)
	}
	if err != nil {
		return nil, err
	}
	return attachTopics(ctx, s.db, rows)
}

func (s *Store) UpdateSession(ctx context.Context, sess session.Session) (session.Session, error) {
	var out session.Session
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE training_sessions
			SET title = $1, description = $2, starts_at = $3, ends_at = $4, location_id = $5,
				max_registrations = $6, auto_publish = $7, revision = revision + 1, updated_at = $8
			WHERE id = $9 AND revision = $10
		`, sess.Title, sess.Description, nullTime(sess.StartsAt), nullTime(sess.EndsAt), nullString(sess.LocationID),
			sess.MaxRegistrations, sess.AutoPublish, time.Now().UTC(), sess.ID, sess.Revision)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return missingOrStale(ctx, tx, sess.ID)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM training_session_topics WHERE session_id = $1`, sess.ID); err != nil {
			return err
		}
		if _, err := insertTopics(ctx, tx, sess.ID, sess.Topics); err != nil {
			return err
		}
		out, err = getSession(ctx, tx, sess.ID)
		return err
	})
	return out, err
}

func (s *Store) CreateLocation(ctx context.Context, loc session.Location) (session.Location, error) {
	if loc.ID == "" {
		loc.ID = uuid.NewString()
	}
	loc.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO training_locations (id, name, capacity, created_at)
		VALUES ($1, $2, $3, $4)
	`, loc.ID, loc.Name, loc.Capacity, loc.CreatedAt)
	if err != nil {
		return session.Location{}, err
	}
	return loc, nil
}

func (s *Store) GetLocation(ctx context.Context, id string) (session.Location, error) {
	var loc session.Location
	err := s.db.GetContext(ctx, &loc, `
		SELECT id, name, capacity, created_at FROM training_locations WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return session.Location{}, fmt.Errorf("location %s: %w", id, storage.ErrNotFound)
	}
	return loc, err
}

// --- SnapshotReader / ConflictFinder ------------------------------------------

func (s *Store) LoadSnapshot(ctx context.Context, sessionID string) (session.Snapshot, error) {
	row, err := getSessionRow(ctx, s.db, sessionID)
	if err != nil {
		return session.Snapshot{}, err
	}
	sessions, err := attachTopics(ctx, s.db, []sessionRow{row})
	if err != nil {
		return session.Snapshot{}, err
	}
	snap := session.Snapshot{Session: sessions[0], RegistrationCount: row.RegistrationCount}
	if row.LocationID.Valid {
		var capacity int
		err := s.db.GetContext(ctx, &capacity, `SELECT capacity FROM training_locations WHERE id = $1`, row.LocationID.String)
		switch {
		case err == nil:
			snap.LocationCapacity = &capacity
		case !errors.Is(err, sql.ErrNoRows):
			return session.Snapshot{}, err
		}
	}
	return snap, nil
}

func (s *Store) FindScheduleConflicts(ctx context.Context, sess session.Session) ([]session.Conflict, error) {
	if !sess.HasSchedule() {
		return nil, nil
	}
	var conflicts []session.Conflict
	err := s.db.SelectContext(ctx, &conflicts, `
		SELECT s.id AS session_id, s.title, 'location' AS resource, s.location_id AS resource_id
		FROM training_sessions s
		WHERE s.id <> $1 AND s.status NOT IN ('CANCELLED', 'RETIRED')
			AND s.starts_at < $3 AND s.ends_at > $2
			AND s.location_id = $4
		UNION
		SELECT s.id, s.title, 'trainer', t.trainer_id
		FROM training_sessions s
		JOIN training_session_topics t ON t.session_id = s.id
		WHERE s.id <> $1 AND s.status NOT IN ('CANCELLED', 'RETIRED')
			AND s.starts_at < $3 AND s.ends_at > $2
			AND t.trainer_id = ANY($5)
		ORDER BY 1, 3, 4
	`, sess.ID, *sess.StartsAt, *sess.EndsAt, sess.LocationID, pq.Array(sess.TrainerIDs()))
	if err != nil {
		return nil, err
	}
	return conflicts, nil
}

// --- StatusStore --------------------------------------------------------------

func (s *Store) CommitTransition(ctx context.Context, expectedRevision int64, entry history.Entry) (session.Session, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	var out session.Session
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var current struct {
			Status   string `db:"status"`
			Revision int64  `db:"revision"`
		}
		err := tx.GetContext(ctx, &current, `
			SELECT status, revision FROM training_sessions WHERE id = $1 FOR UPDATE
		`, entry.SessionID)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("session %s: %w", entry.SessionID, storage.ErrNotFound)
		}
		if err != nil {
			return err
		}
		if current.Revision != expectedRevision || session.Status(current.Status) != entry.PreviousStatus {
			return fmt.Errorf("session %s is %s at revision %d: %w",
				entry.SessionID, current.Status, current.Revision, storage.ErrConcurrentModification)
		}

		var last sql.NullTime
		if err := tx.GetContext(ctx, &last, `
			SELECT MAX(created_at) FROM session_status_history WHERE session_id = $1
		`, entry.SessionID); err != nil {
			return err
		}
		if last.Valid && entry.CreatedAt.Before(last.Time) {
			entry.CreatedAt = last.Time
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO session_status_history (id, session_id, previous_status, new_status, actor, automated, reason, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, entry.ID, entry.SessionID, string(entry.PreviousStatus), string(entry.NewStatus), entry.Actor,
			entry.Automated, entry.Reason, entry.CreatedAt); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE training_sessions SET status = $1, revision = revision + 1, updated_at = $2 WHERE id = $3
		`, string(entry.NewStatus), entry.CreatedAt, entry.SessionID); err != nil {
			return err
		}
		out, err = getSession(ctx, tx, entry.SessionID)
		return err
	})
	return out, err
}

const historyColumns = `id, session_id, previous_status, new_status, actor, automated, reason, created_at`

func (s *Store) ListStatusHistory(ctx context.Context, sessionID string) (history.Log, error) {
	if _, err := getSessionRow(ctx, s.db, sessionID); err != nil {
		return history.Log{}, err
	}
	var entries []history.Entry
	if err := s.db.SelectContext(ctx, &entries, `
		SELECT `+historyColumns+`
		FROM session_status_history
		WHERE session_id = $1
		ORDER BY created_at, seq
	`, sessionID); err != nil {
		return history.Log{}, err
	}
	return history.NewLog(utcEntries(entries)...)
}

func (s *Store) ListAllStatusHistory(ctx context.Context) (map[string]history.Log, error) {
	var entries []history.Entry
	if err := s.db.SelectContext(ctx, &entries, `
		SELECT `+historyColumns+`
		FROM session_status_history
		ORDER BY session_id, created_at, seq
	`); err != nil {
		return nil, err
	}
	grouped := make(map[string][]history.Entry)
	for _, e := range utcEntries(entries) {
		grouped[e.SessionID] = append(grouped[e.SessionID], e)
	}
	out := make(map[string]history.Log, len(grouped))
	for id, list := range grouped {
		log, err := history.NewLog(list...)
		if err != nil {
			return nil, err
		}
		out[id] = log
	}
	return out, nil
}

// --- ContentStore -------------------------------------------------------------

type versionRow struct {
	SessionID string    `db:"session_id"`
	Version   int       `db:"version"`
	Content   []byte    `db:"content"`
	Metadata  []byte    `db:"metadata"`
	CreatedBy string    `db:"created_by"`
	CreatedAt time.Time `db:"created_at"`
}

func (r versionRow) toVersion() (content.Version, error) {
	v := content.Version{
		SessionID: r.SessionID,
		Number:    r.Version,
		Body:      json.RawMessage(r.Content),
		CreatedBy: r.CreatedBy,
		CreatedAt: r.CreatedAt.UTC(),
	}
	if len(r.Metadata) > 0 {
		if err := json.Unmarshal(r.Metadata, &v.Metadata); err != nil {
			return content.Version{}, fmt.Errorf("decode metadata of version %d: %w", r.Version, err)
		}
	}
	return v, nil
}

func (s *Store) LoadContentLedger(ctx context.Context, sessionID string) (content.Ledger, error) {
	row, err := getSessionRow(ctx, s.db, sessionID)
	if err != nil {
		return content.Ledger{}, err
	}
	var rows []versionRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT session_id, version, content, metadata, created_by, created_at
		FROM session_content_versions
		WHERE session_id = $1
		ORDER BY version
	`, sessionID); err != nil {
		return content.Ledger{}, err
	}

	var current *content.Version
	archived := make([]content.Version, 0, len(rows))
	for _, r := range rows {
		v, err := r.toVersion()
		if err != nil {
			return content.Ledger{}, err
		}
		if v.Number == row.CurrentContentVersion {
			current = &v
			continue
		}
		archived = append(archived, v)
	}
	return content.NewLedger(current, archived)
}

func (s *Store) CommitContent(ctx context.Context, expectedRevision int64, change content.Change) (session.Session, error) {
	var metadata []byte
	if len(change.Current.Metadata) > 0 {
		raw, err := json.Marshal(change.Current.Metadata)
		if err != nil {
			return session.Session{}, err
		}
		metadata = raw
	}

	var out session.Session
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var current struct {
			Version  int   `db:"current_content_version"`
			Revision int64 `db:"revision"`
		}
		err := tx.GetContext(ctx, &current, `
			SELECT current_content_version, revision FROM training_sessions WHERE id = $1 FOR UPDATE
		`, change.SessionID)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("session %s: %w", change.SessionID, storage.ErrNotFound)
		}
		if err != nil {
			return err
		}
		if current.Revision != expectedRevision || current.Version != change.ExpectedCurrent {
			return fmt.Errorf("session %s content at version %d revision %d: %w",
				change.SessionID, current.Version, current.Revision, storage.ErrConcurrentModification)
		}

		// The superseded version is already stored under its own number, so
		// archiving it only means moving the session's pointer forward.
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO session_content_versions (session_id, version, content, metadata, created_by, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, change.SessionID, change.Current.Number, []byte(change.Current.Body), metadata,
			change.Current.CreatedBy, change.Current.CreatedAt); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE training_sessions
			SET generated_content = $1, current_content_version = $2, revision = revision + 1, updated_at = $3
			WHERE id = $4
		`, []byte(change.Current.Body), change.Current.Number, time.Now().UTC(), change.SessionID); err != nil {
			return err
		}
		out, err = getSession(ctx, tx, change.SessionID)
		return err
	})
	return out, err
}

// --- AttemptStore -------------------------------------------------------------

func (s *Store) RecordAttempt(ctx context.Context, attempt monitor.Attempt) (monitor.Attempt, error) {
	if attempt.ID == "" {
		attempt.ID = uuid.NewString()
	}
	if attempt.CreatedAt.IsZero() {
		attempt.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workflow_attempts (id, session_id, kind, from_status, to_status, actor, automated, succeeded, error_code, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, attempt.ID, attempt.SessionID, string(attempt.Kind), string(attempt.From), string(attempt.To), attempt.Actor,
		attempt.Automated, attempt.Succeeded, attempt.ErrorCode, attempt.CreatedAt)
	if err != nil {
		return monitor.Attempt{}, err
	}
	return attempt, nil
}

func (s *Store) ListRecentAttempts(ctx context.Context, limit int) ([]monitor.Attempt, error) {
	query := `
		SELECT id, session_id, kind, from_status, to_status, actor, automated, succeeded, error_code, created_at
		FROM workflow_attempts
		ORDER BY seq DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	var attempts []monitor.Attempt
	if err := s.db.SelectContext(ctx, &attempts, query, args...); err != nil {
		return nil, err
	}
	return attempts, nil
}

// --- helpers ------------------------------------------------------------------

func (s *Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func getSessionRow(ctx context.Context, q sqlx.QueryerContext, id string) (sessionRow, error) {
	var row sessionRow
	err := sqlx.GetContext(ctx, q, &row, `SELECT `+sessionColumns+` FROM training_sessions WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return sessionRow{}, fmt.Errorf("session %s: %w", id, storage.ErrNotFound)
	}
	return row, err
}

func getSession(ctx context.Context, q sqlx.QueryerContext, id string) (session.Session, error) {
	row, err := getSessionRow(ctx, q, id)
	if err != nil {
		return session.Session{}, err
	}
	sessions, err := attachTopics(ctx, q, []sessionRow{row})
	if err != nil {
		return session.Session{}, err
	}
	return sessions[0], nil
}

func attachTopics(ctx context.Context, q sqlx.QueryerContext, rows []sessionRow) ([]session.Session, error) {
	out := make([]session.Session, len(rows))
	if len(rows) == 0 {
		return out, nil
	}
	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}
	var topics []topicRow
	if err := sqlx.SelectContext(ctx, q, &topics, `
		SELECT session_id, id, title, description, duration_minutes, trainer_id, position
		FROM training_session_topics
		WHERE session_id = ANY($1)
		ORDER BY session_id, position
	`, pq.Array(ids)); err != nil {
		return nil, err
	}
	bySession := make(map[string][]session.Topic, len(rows))
	for _, t := range topics {
		bySession[t.SessionID] = append(bySession[t.SessionID], t.Topic)
	}
	for i, r := range rows {
		out[i] = r.toSession()
		out[i].Topics = bySession[r.ID]
	}
	return out, nil
}

func insertTopics(ctx context.Context, tx *sqlx.Tx, sessionID string, topics []session.Topic) ([]session.Topic, error) {
	out := make([]session.Topic, len(topics))
	for i, t := range topics {
		if t.ID == "" {
			t.ID = uuid.NewString()
		}
		t.Position = i
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO training_session_topics (session_id, id, title, description, duration_minutes, trainer_id, position)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, sessionID, t.ID, t.Title, t.Description, t.DurationMinutes, t.TrainerID, t.Position); err != nil {
			return nil, err
		}
		out[i] = t
	}
	return out, nil
}

func missingOrStale(ctx context.Context, q sqlx.QueryerContext, id string) error {
	if _, err := getSessionRow(ctx, q, id); err != nil {
		return err
	}
	return fmt.Errorf("session %s: %w", id, storage.ErrConcurrentModification)
}

func utcEntries(entries []history.Entry) []history.Entry {
	for i := range entries {
		entries[i].CreatedAt = entries[i].CreatedAt.UTC()
	}
	return entries
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
