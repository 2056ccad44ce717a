// Package content manages the versioned promotional copy of sessions.
package content

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	domain "github.com/R3E-Network/training_workflow/internal/app/domain/content"
	"github.com/R3E-Network/training_workflow/internal/app/domain/session"
	"github.com/R3E-Network/training_workflow/internal/app/metrics"
	"github.com/R3E-Network/training_workflow/internal/app/storage"
	apperrors "github.com/R3E-Network/training_workflow/internal/errors"
	"github.com/R3E-Network/training_workflow/pkg/logger"
)

// Generated is what a content generator produces.
type Generated struct {
	Content  json.RawMessage
	Metadata map[string]string
}

// Generator produces promotional content for a session.
type Generator interface {
	Generate(ctx context.Context, snap session.Snapshot) (Generated, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, snap session.Snapshot) (Generated, error)

func (f GeneratorFunc) Generate(ctx context.Context, snap session.Snapshot) (Generated, error) {
	return f(ctx, snap)
}

// VersionList is the listing returned by ListVersions.
type VersionList struct {
	SessionID      string           `json:"session_id"`
	CurrentVersion int              `json:"current_version"`
	Versions       []domain.Version `json:"versions"`
	HasVersions    bool             `json:"has_versions"`
}

// Service is the content version ledger.
type Service struct {
	sessions  storage.SessionStore
	snapshots storage.SnapshotReader
	contents  storage.ContentStore
	generator Generator
	now       func() time.Time
	log       *logger.Logger
}

// New constructs the content service. generator may be nil, in which case
// Generate is rejected.
func New(sessions storage.SessionStore, snapshots storage.SnapshotReader, contents storage.ContentStore,
	generator Generator, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("content")
	}
	return &Service{
		sessions:  sessions,
		snapshots: snapshots,
		contents:  contents,
		generator: generator,
		now:       func() time.Time { return time.Now().UTC() },
		log:       log,
	}
}

// SetClock replaces the clock used to timestamp versions.
func (s *Service) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// SetContent makes body the current content of the session, archiving the
// previous current version. Nothing is ever deleted.
func (s *Service) SetContent(ctx context.Context, sessionID string, body json.RawMessage, metadata map[string]string, actor string) (domain.Version, error) {
	if err := validateBody(body); err != nil {
		return domain.Version{}, err
	}
	return s.commit(ctx, sessionID, actor, "set", func(l domain.Ledger, at time.Time) (domain.Ledger, domain.Change, error) {
		next, change := l.Set(sessionID, body, metadata, actor, at)
		return next, change, nil
	})
}

// RestoreVersion copies the archived version number forward as new current
// content under a fresh number. Numbers are 1-based.
func (s *Service) RestoreVersion(ctx context.Context, sessionID string, number int, actor string) (domain.Version, error) {
	return s.commit(ctx, sessionID, actor, "restore", func(l domain.Ledger, at time.Time) (domain.Ledger, domain.Change, error) {
		next, change, err := l.Restore(sessionID, number, actor, at)
		var notArchived domain.ErrVersionNotArchived
		if errors.As(err, &notArchived) {
			return l, domain.Change{}, apperrors.VersionNotFound(notArchived.Requested, notArchived.Available)
		}
		return next, change, err
	})
}

// ListVersions returns archived versions followed by the current one.
func (s *Service) ListVersions(ctx context.Context, sessionID string) (VersionList, error) {
	ledger, err := s.contents.LoadContentLedger(ctx, sessionID)
	if err != nil {
		return VersionList{}, storage.Translate(err, "session", sessionID)
	}
	return VersionList{
		SessionID:      sessionID,
		CurrentVersion: ledger.CurrentNumber(),
		Versions:       ledger.Versions(),
		HasVersions:    ledger.HasVersions(),
	}, nil
}

// Generate asks the generator for new content and stores it as the current
// version.
func (s *Service) Generate(ctx context.Context, sessionID, actor string) (domain.Version, error) {
	if s.generator == nil {
		return domain.Version{}, apperrors.InvalidInput("generator", "no content generator is configured")
	}
	snap, err := s.snapshots.LoadSnapshot(ctx, sessionID)
	if err != nil {
		return domain.Version{}, storage.Translate(err, "session", sessionID)
	}
	generated, err := s.generator.Generate(ctx, snap)
	if err != nil {
		s.log.WithContext(ctx).WithError(err).WithField("session_id", sessionID).Warn("content generation failed")
		return domain.Version{}, apperrors.Internal("content generation failed", err)
	}
	version, err := s.SetContent(ctx, sessionID, generated.Content, generated.Metadata, actor)
	if err != nil {
		return domain.Version{}, err
	}
	metrics.RecordContentVersion("generate")
	return version, nil
}

type ledgerOp func(l domain.Ledger, at time.Time) (domain.Ledger, domain.Change, error)

func (s *Service) commit(ctx context.Context, sessionID, actor, op string, apply ledgerOp) (domain.Version, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return domain.Version{}, apperrors.InvalidInput("session_id", "is required")
	}
	if strings.TrimSpace(actor) == "" {
		return domain.Version{}, apperrors.InvalidInput("actor", "is required")
	}

	sess, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return domain.Version{}, storage.Translate(err, "session", sessionID)
	}
	ledger, err := s.contents.LoadContentLedger(ctx, sessionID)
	if err != nil {
		return domain.Version{}, storage.Translate(err, "session", sessionID)
	}
	if ledger.CurrentNumber() != sess.CurrentContentVersion {
		return domain.Version{}, apperrors.ConcurrentModification("session", sessionID)
	}

	next, change, err := apply(ledger, s.now())
	if err != nil {
		if svcErr := apperrors.GetServiceError(err); svcErr != nil {
			return domain.Version{}, svcErr
		}
		return domain.Version{}, apperrors.Internal("content ledger update failed", err)
	}
	if _, err := s.contents.CommitContent(ctx, sess.Revision, change); err != nil {
		return domain.Version{}, storage.Translate(err, "session", sessionID)
	}

	current, _ := next.Current()
	metrics.RecordContentVersion(op)
	s.log.WithContext(ctx).
		WithField("session_id", sessionID).
		WithField("actor", actor).
		WithField("version", current.Number).
		WithField("operation", op).
		Info("content version committed")
	return current, nil
}

func validateBody(body json.RawMessage) error {
	if len(strings.TrimSpace(string(body))) == 0 {
		return apperrors.InvalidInput("content", "is required")
	}
	if !gjson.ValidBytes(body) {
		return apperrors.InvalidInput("content", "must be valid JSON")
	}
	if gjson.ParseBytes(body).Type == gjson.Null {
		return apperrors.InvalidInput("content", "must not be null")
	}
	return nil
}
