// Package lifecycle applies status transitions to sessions and keeps their
// status history.
package lifecycle

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/training_workflow/internal/app/domain/history"
	"github.com/R3E-Network/training_workflow/internal/app/domain/monitor"
	"github.com/R3E-Network/training_workflow/internal/app/domain/readiness"
	"github.com/R3E-Network/training_workflow/internal/app/domain/session"
	"github.com/R3E-Network/training_workflow/internal/app/metrics"
	"github.com/R3E-Network/training_workflow/internal/app/storage"
	apperrors "github.com/R3E-Network/training_workflow/internal/errors"
	"github.com/R3E-Network/training_workflow/pkg/logger"
)

// ReadinessGate evaluates a loaded snapshot.
type ReadinessGate interface {
	EvaluateSnapshot(ctx context.Context, snap session.Snapshot) readiness.Verdict
}

// Request asks for one status change.
type Request struct {
	SessionID string
	Target    session.Status
	Actor     string
	Automated bool
	Reason    string
	// AttemptRecorded is set by callers that record their own monitoring
	// attempt for this request.
	AttemptRecorded bool
}

// Service is the session lifecycle state machine.
type Service struct {
	snapshots storage.SnapshotReader
	statuses  storage.StatusStore
	attempts  storage.AttemptStore
	gate      ReadinessGate
	now       func() time.Time
	log       *logger.Logger
}

// New constructs a lifecycle service. attempts may be nil, in which case
// automated attempts are not recorded for monitoring.
func New(snapshots storage.SnapshotReader, statuses storage.StatusStore, attempts storage.AttemptStore, gate ReadinessGate, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("lifecycle")
	}
	return &Service{
		snapshots: snapshots,
		statuses:  statuses,
		attempts:  attempts,
		gate:      gate,
		now:       func() time.Time { return time.Now().UTC() },
		log:       log,
	}
}

// SetClock replaces the clock used to timestamp history entries.
func (s *Service) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// ApplyTransition validates and applies req. A transition to PUBLISHED is
// gated on the readiness verdict. Rejected requests never write history.
func (s *Service) ApplyTransition(ctx context.Context, req Request) (session.Session, error) {
	req.SessionID = strings.TrimSpace(req.SessionID)
	req.Actor = strings.TrimSpace(req.Actor)
	if req.SessionID == "" {
		return session.Session{}, apperrors.InvalidInput("session_id", "is required")
	}
	if req.Actor == "" {
		return session.Session{}, apperrors.InvalidInput("actor", "is required")
	}
	if !req.Target.Valid() {
		return session.Session{}, apperrors.InvalidInput("status", "unknown status "+string(req.Target))
	}

	snap, err := s.snapshots.LoadSnapshot(ctx, req.SessionID)
	if err != nil {
		return session.Session{}, storage.Translate(err, "session", req.SessionID)
	}
	from := snap.Session.Status

	updated, err := s.apply(ctx, req, snap)
	s.record(ctx, req, from, err)
	if err != nil {
		return session.Session{}, err
	}
	return updated, nil
}

func (s *Service) apply(ctx context.Context, req Request, snap session.Snapshot) (session.Session, error) {
	from := snap.Session.Status
	if !session.CanTransition(from, req.Target) {
		return session.Session{}, apperrors.InvalidTransition(string(from), string(req.Target))
	}

	if req.Target == session.StatusPublished {
		verdict := s.gate.EvaluateSnapshot(ctx, snap)
		if !verdict.CanPublish {
			return session.Session{}, apperrors.NotReady(verdict.FailedChecks(), verdict.RecommendedActions).
				WithDetails("percentage", verdict.Percentage)
		}
	}

	entry := history.Entry{
		ID:             uuid.NewString(),
		SessionID:      req.SessionID,
		PreviousStatus: from,
		NewStatus:      req.Target,
		Actor:          req.Actor,
		Automated:      req.Automated,
		Reason:         strings.TrimSpace(req.Reason),
		CreatedAt:      s.now(),
	}
	updated, err := s.statuses.CommitTransition(ctx, snap.Session.Revision, entry)
	if err != nil {
		return session.Session{}, storage.Translate(err, "session", req.SessionID)
	}
	return updated, nil
}

func (s *Service) record(ctx context.Context, req Request, from session.Status, err error) {
	result := "applied"
	if svcErr := apperrors.GetServiceError(err); svcErr != nil {
		result = string(svcErr.Code)
	} else if err != nil {
		result = string(apperrors.CodeInternal)
	}
	metrics.RecordTransition(string(from), string(req.Target), req.Automated, result)

	entry := s.log.WithContext(ctx).
		WithField("session_id", req.SessionID).
		WithField("from", from).
		WithField("to", req.Target).
		WithField("actor", req.Actor).
		WithField("automated", req.Automated)
	if err != nil {
		entry.WithError(err).Warn("transition rejected")
	} else {
		entry.Info("transition applied")
	}

	if !req.Automated || req.AttemptRecorded || s.attempts == nil {
		return
	}
	attempt := monitor.Attempt{
		SessionID: req.SessionID,
		Kind:      monitor.AttemptTransition,
		From:      from,
		To:        req.Target,
		Actor:     req.Actor,
		Automated: true,
		Succeeded: err == nil,
		CreatedAt: s.now(),
	}
	if err != nil {
		attempt.ErrorCode = result
	}
	if _, recErr := s.attempts.RecordAttempt(ctx, attempt); recErr != nil {
		s.log.WithError(recErr).WithField("session_id", req.SessionID).Warn("failed to record transition attempt")
	}
}

// GetHistory returns the session's status history, oldest first.
func (s *Service) GetHistory(ctx context.Context, sessionID string) ([]history.Entry, error) {
	log, err := s.statuses.ListStatusHistory(ctx, sessionID)
	if err != nil {
		return nil, storage.Translate(err, "session", sessionID)
	}
	return log.Entries(), nil
}
