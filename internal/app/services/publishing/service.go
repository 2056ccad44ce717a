// Package publishing runs the publish gate for single sessions and batches
// and turns verdicts into readable reasons.
package publishing

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/R3E-Network/training_workflow/internal/app/domain/monitor"
	"github.com/R3E-Network/training_workflow/internal/app/domain/readiness"
	"github.com/R3E-Network/training_workflow/internal/app/domain/session"
	"github.com/R3E-Network/training_workflow/internal/app/metrics"
	"github.com/R3E-Network/training_workflow/internal/app/services/lifecycle"
	"github.com/R3E-Network/training_workflow/internal/app/storage"
	apperrors "github.com/R3E-Network/training_workflow/internal/errors"
	"github.com/R3E-Network/training_workflow/pkg/logger"
)

const (
	// ManualReason is recorded in history for user-initiated publishes.
	ManualReason = "Session published by user"
	// AutomatedReason is recorded in history for scheduler publishes.
	AutomatedReason = "Automatically published by scheduler"

	defaultBatchParallelism = 8
)

// Transitioner applies status transitions.
type Transitioner interface {
	ApplyTransition(ctx context.Context, req lifecycle.Request) (session.Session, error)
}

// Outcome is the result of checking one session against the publishing
// rules.
type Outcome struct {
	SessionID  string             `json:"session_id"`
	Status     session.Status     `json:"status"`
	CanPublish bool               `json:"can_publish"`
	Reason     string             `json:"reason"`
	Violations []string           `json:"violations,omitempty"`
	Conflicts  []session.Conflict `json:"conflicts,omitempty"`
	Verdict    readiness.Verdict  `json:"verdict"`
}

// BatchResult is one entry of a batch validation: either an outcome or the
// error that prevented evaluating it.
type BatchResult struct {
	Outcome *Outcome                `json:"result,omitempty"`
	Error   *apperrors.ServiceError `json:"error,omitempty"`
}

// Service implements publishing automation over the lifecycle and readiness
// services.
type Service struct {
	snapshots   storage.SnapshotReader
	conflicts   storage.ConflictFinder
	attempts    storage.AttemptStore
	gate        lifecycle.ReadinessGate
	transitions Transitioner
	parallelism int
	now         func() time.Time
	log         *logger.Logger
}

// New constructs a publishing service. attempts may be nil.
func New(snapshots storage.SnapshotReader, conflicts storage.ConflictFinder, attempts storage.AttemptStore,
	gate lifecycle.ReadinessGate, transitions Transitioner, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("publishing")
	}
	return &Service{
		snapshots:   snapshots,
		conflicts:   conflicts,
		attempts:    attempts,
		gate:        gate,
		transitions: transitions,
		parallelism: defaultBatchParallelism,
		now:         func() time.Time { return time.Now().UTC() },
		log:         log,
	}
}

// SetClock replaces the clock used by the start-in-the-past rule.
func (s *Service) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// ValidatePublishingRules evaluates readiness plus the rules that span
// sessions. Any failing cross-cutting rule forces CanPublish to false.
func (s *Service) ValidatePublishingRules(ctx context.Context, sessionID string) (Outcome, error) {
	snap, err := s.snapshots.LoadSnapshot(ctx, sessionID)
	if err != nil {
		return Outcome{}, storage.Translate(err, "session", sessionID)
	}
	sess := snap.Session
	outcome := Outcome{SessionID: sess.ID, Status: sess.Status, Verdict: s.gate.EvaluateSnapshot(ctx, snap)}

	if !session.CanTransition(sess.Status, session.StatusPublished) {
		outcome.Violations = append(outcome.Violations,
			fmt.Sprintf("Session is %s; only READY sessions can be published", sess.Status))
	}
	if sess.StartsAt != nil && sess.StartsAt.Before(s.now()) {
		outcome.Violations = append(outcome.Violations,
			fmt.Sprintf("Schedule starts in the past (%s)", sess.StartsAt.UTC().Format(time.RFC3339)))
	}
	if sess.HasSchedule() && s.conflicts != nil {
		conflicts, err := s.conflicts.FindScheduleConflicts(ctx, sess)
		if err != nil {
			return Outcome{}, apperrors.Internal("schedule conflict lookup failed", err)
		}
		outcome.Conflicts = conflicts
		for _, c := range conflicts {
			outcome.Violations = append(outcome.Violations,
				fmt.Sprintf("Schedule conflicts with session %q (%s) sharing %s %s", c.Title, c.SessionID, c.Resource, c.ResourceID))
		}
	}

	outcome.CanPublish = outcome.Verdict.CanPublish && len(outcome.Violations) == 0
	outcome.Reason = composeReason(outcome)
	return outcome, nil
}

func composeReason(o Outcome) string {
	if o.CanPublish {
		return "Session meets all publishing requirements"
	}
	parts := append([]string(nil), o.Violations...)
	if !o.Verdict.CanPublish {
		for _, c := range o.Verdict.FailedRequired() {
			parts = append(parts, c.Action)
		}
	}
	return "Cannot publish: " + strings.Join(parts, "; ")
}

// Publish publishes a session on behalf of actor.
func (s *Service) Publish(ctx context.Context, sessionID, actor string) (session.Session, error) {
	return s.publish(ctx, sessionID, actor, false, ManualReason)
}

// PublishAutomated publishes a session on behalf of the scheduler.
func (s *Service) PublishAutomated(ctx context.Context, sessionID, actor string) (session.Session, error) {
	return s.publish(ctx, sessionID, actor, true, AutomatedReason)
}

func (s *Service) publish(ctx context.Context, sessionID, actor string, automated bool, reason string) (session.Session, error) {
	if strings.TrimSpace(actor) == "" {
		return session.Session{}, apperrors.InvalidInput("actor", "is required")
	}

	outcome, err := s.ValidatePublishingRules(ctx, sessionID)
	if err == nil && !outcome.CanPublish {
		err = apperrors.CannotPublish(outcome.Reason, outcome.Violations).
			WithDetails("failed_checks", outcome.Verdict.FailedChecks())
	}
	var published session.Session
	if err == nil {
		published, err = s.transitions.ApplyTransition(ctx, lifecycle.Request{
			SessionID:       sessionID,
			Target:          session.StatusPublished,
			Actor:           actor,
			Automated:       automated,
			Reason:          reason,
			AttemptRecorded: true,
		})
	}

	s.recordAttempt(ctx, sessionID, actor, outcome.Status, automated, err)
	if err != nil {
		return session.Session{}, err
	}
	s.log.WithContext(ctx).
		WithField("session_id", sessionID).
		WithField("actor", actor).
		WithField("automated", automated).
		Info("session published")
	return published, nil
}

func (s *Service) recordAttempt(ctx context.Context, sessionID, actor string, from session.Status, automated bool, err error) {
	result := "published"
	if err != nil {
		result = string(apperrors.CodeInternal)
		if svcErr := apperrors.GetServiceError(err); svcErr != nil {
			result = string(svcErr.Code)
		}
		s.log.WithContext(ctx).WithError(err).
			WithField("session_id", sessionID).
			WithField("automated", automated).
			Warn("publish rejected")
	}
	metrics.RecordPublishAttempt(automated, result)

	if s.attempts == nil {
		return
	}
	attempt := monitor.Attempt{
		SessionID: sessionID,
		Kind:      monitor.AttemptPublish,
		From:      from,
		To:        session.StatusPublished,
		Actor:     actor,
		Automated: automated,
		Succeeded: err == nil,
		CreatedAt: s.now(),
	}
	if err != nil {
		attempt.ErrorCode = result
	}
	if _, recErr := s.attempts.RecordAttempt(ctx, attempt); recErr != nil {
		s.log.WithError(recErr).WithField("session_id", sessionID).Warn("failed to record publish attempt")
	}
}

// ValidateMultipleSessions validates each id independently. Failures are
// reported per entry and never abort the batch.
func (s *Service) ValidateMultipleSessions(ctx context.Context, sessionIDs []string) (map[string]BatchResult, error) {
	ids := make([]string, 0, len(sessionIDs))
	seen := make(map[string]struct{}, len(sessionIDs))
	for _, id := range sessionIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, apperrors.InvalidInput("session_ids", "at least one session id is required")
	}

	var (
		mu      sync.Mutex
		results = make(map[string]BatchResult, len(ids))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism)
	for _, id := range ids {
		g.Go(func() error {
			var res BatchResult
			outcome, err := s.ValidatePublishingRules(gctx, id)
			if err != nil {
				svcErr := apperrors.GetServiceError(err)
				if svcErr == nil {
					svcErr = apperrors.Internal("validation failed", err)
				}
				res.Error = svcErr
			} else {
				res.Outcome = &outcome
			}
			mu.Lock()
			results[id] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results, nil
}
