// Package monitor reports workflow health and aggregate workflow metrics. It
// only reads state.
package monitor

import (
	"context"
	"fmt"
	"sort"
	"time"

	domain "github.com/R3E-Network/training_workflow/internal/app/domain/monitor"
	"github.com/R3E-Network/training_workflow/internal/app/domain/readiness"
	"github.com/R3E-Network/training_workflow/internal/app/domain/session"
	"github.com/R3E-Network/training_workflow/internal/app/metrics"
	"github.com/R3E-Network/training_workflow/internal/app/storage"
	apperrors "github.com/R3E-Network/training_workflow/internal/errors"
	"github.com/R3E-Network/training_workflow/pkg/logger"
)

// Thresholds configure the health check.
type Thresholds struct {
	Window        int
	DegradedRate  float64
	UnhealthyRate float64
}

// DefaultThresholds: more than 20% failures degrade, more than 50% are
// unhealthy, over the last 50 attempts.
func DefaultThresholds() Thresholds {
	return Thresholds{Window: 50, DegradedRate: 0.2, UnhealthyRate: 0.5}
}

// Verdicts evaluates readiness for loaded snapshots.
type Verdicts interface {
	EvaluateSnapshot(ctx context.Context, snap session.Snapshot) readiness.Verdict
}

// Service is the workflow monitor.
type Service struct {
	sessions   storage.SessionStore
	snapshots  storage.SnapshotReader
	statuses   storage.StatusStore
	attempts   storage.AttemptStore
	verdicts   Verdicts
	thresholds Thresholds
	now        func() time.Time
	log        *logger.Logger
}

// New constructs a monitor. Zero threshold fields fall back to the defaults.
func New(sessions storage.SessionStore, snapshots storage.SnapshotReader, statuses storage.StatusStore,
	attempts storage.AttemptStore, verdicts Verdicts, thresholds Thresholds, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("monitor")
	}
	def := DefaultThresholds()
	if thresholds.Window <= 0 {
		thresholds.Window = def.Window
	}
	if thresholds.DegradedRate <= 0 {
		thresholds.DegradedRate = def.DegradedRate
	}
	if thresholds.UnhealthyRate <= 0 {
		thresholds.UnhealthyRate = def.UnhealthyRate
	}
	return &Service{
		sessions:   sessions,
		snapshots:  snapshots,
		statuses:   statuses,
		attempts:   attempts,
		verdicts:   verdicts,
		thresholds: thresholds,
		now:        func() time.Time { return time.Now().UTC() },
		log:        log,
	}
}

// SetClock replaces the report timestamp clock.
func (s *Service) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// automatedFailure reports whether a failed automated attempt counts against
// health: the automation asked for a move the workflow refused.
func automatedFailure(a domain.Attempt) bool {
	if a.Succeeded {
		return false
	}
	switch apperrors.ErrorCode(a.ErrorCode) {
	case apperrors.CodeInvalidTransition, apperrors.CodeNotReady, apperrors.CodeCannotPublish:
		return true
	}
	return false
}

// PerformHealthCheck classifies the failure rate of recent automated
// attempts. Publish attempts, manual and automated, are reported alongside.
func (s *Service) PerformHealthCheck(ctx context.Context) (domain.HealthReport, error) {
	attempts, err := s.attempts.ListRecentAttempts(ctx, s.thresholds.Window)
	if err != nil {
		return domain.HealthReport{}, storage.Translate(err, "attempts", "recent")
	}

	report := domain.HealthReport{Window: s.thresholds.Window, Issues: []string{}, CheckedAt: s.now()}
	for _, a := range attempts {
		if a.Automated {
			report.AutomatedAttempts++
			if automatedFailure(a) {
				report.AutomatedFailures++
			}
		}
		if a.Kind == domain.AttemptPublish {
			report.PublishAttempts++
			if !a.Succeeded {
				report.PublishFailures++
			}
		}
	}
	if report.AutomatedAttempts > 0 {
		report.FailureRate = float64(report.AutomatedFailures) / float64(report.AutomatedAttempts)
	}
	if report.PublishAttempts > 0 {
		report.PublishFailureRate = float64(report.PublishFailures) / float64(report.PublishAttempts)
	}

	report.Status = domain.HealthHealthy
	level := 0
	switch {
	case report.FailureRate > s.thresholds.UnhealthyRate:
		report.Status = domain.HealthUnhealthy
		level = 2
	case report.FailureRate > s.thresholds.DegradedRate:
		report.Status = domain.HealthDegraded
		level = 1
	}
	if report.AutomatedFailures > 0 {
		report.Issues = append(report.Issues, fmt.Sprintf("%d of %d automated attempts failed (%.0f%%)",
			report.AutomatedFailures, report.AutomatedAttempts, report.FailureRate*100))
	}
	if report.PublishFailures > 0 {
		report.Issues = append(report.Issues, fmt.Sprintf("%d of %d publish attempts were rejected",
			report.PublishFailures, report.PublishAttempts))
	}
	metrics.SetHealth(level)

	if report.Status != domain.HealthHealthy {
		s.log.WithContext(ctx).
			WithField("status", report.Status).
			WithField("failure_rate", report.FailureRate).
			Warn("workflow health degraded")
	}
	return report, nil
}

// CollectWorkflowMetrics aggregates counts, average dwell per status and the
// sessions that are currently blocked from publishing.
func (s *Service) CollectWorkflowMetrics(ctx context.Context) (domain.WorkflowMetrics, error) {
	sessions, err := s.sessions.ListSessions(ctx, session.Filter{})
	if err != nil {
		return domain.WorkflowMetrics{}, storage.Translate(err, "sessions", "all")
	}
	logs, err := s.statuses.ListAllStatusHistory(ctx)
	if err != nil {
		return domain.WorkflowMetrics{}, storage.Translate(err, "history", "all")
	}

	out := domain.WorkflowMetrics{
		TotalSessions:       len(sessions),
		CountsByStatus:      make(map[session.Status]int),
		AverageDwell:        make(map[session.Status]time.Duration),
		AverageDwellSeconds: make(map[session.Status]float64),
		BlockedSessionIDs:   []string{},
		CollectedAt:         s.now(),
	}
	for _, st := range session.AllStatuses() {
		out.CountsByStatus[st] = 0
	}

	totals := make(map[session.Status]time.Duration)
	samples := make(map[session.Status]int)
	for _, sess := range sessions {
		out.CountsByStatus[sess.Status]++

		for _, d := range logs[sess.ID].Dwells(sess.CreatedAt) {
			totals[d.Status] += d.Duration
			samples[d.Status]++
		}

		if !sess.Status.PrePublish() {
			continue
		}
		snap, err := s.snapshots.LoadSnapshot(ctx, sess.ID)
		if err != nil {
			return domain.WorkflowMetrics{}, storage.Translate(err, "session", sess.ID)
		}
		if !s.verdicts.EvaluateSnapshot(ctx, snap).CanPublish {
			out.BlockedSessionIDs = append(out.BlockedSessionIDs, sess.ID)
		}
	}
	sort.Strings(out.BlockedSessionIDs)
	out.BlockedFromPublishing = len(out.BlockedSessionIDs)

	for st, total := range totals {
		avg := total / time.Duration(samples[st])
		out.AverageDwell[st] = avg
		out.AverageDwellSeconds[st] = avg.Seconds()
	}

	gauge := make(map[string]int, len(out.CountsByStatus))
	for st, n := range out.CountsByStatus {
		gauge[string(st)] = n
	}
	metrics.SetSessionsByStatus(gauge)
	return out, nil
}
