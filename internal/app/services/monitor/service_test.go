package monitor

import (
	"context"
	"testing"
	"time"

	domain "github.com/R3E-Network/training_workflow/internal/app/domain/monitor"
	rdomain "github.com/R3E-Network/training_workflow/internal/app/domain/readiness"
	"github.com/R3E-Network/training_workflow/internal/app/domain/session"
	"github.com/R3E-Network/training_workflow/internal/app/services/lifecycle"
	"github.com/R3E-Network/training_workflow/internal/app/services/publishing"
	"github.com/R3E-Network/training_workflow/internal/app/services/readiness"
	"github.com/R3E-Network/training_workflow/internal/app/storage/memory"
	apperrors "github.com/R3E-Network/training_workflow/internal/errors"
	"github.com/R3E-Network/training_workflow/pkg/logger"
	"github.com/R3E-Network/training_workflow/pkg/testutil"
)

var now = time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)

func newMonitor(t *testing.T, store *memory.Store, thresholds Thresholds) (*Service, *readiness.Service) {
	t.Helper()
	evaluator, err := readiness.NewEvaluator(rdomain.DefaultPolicy())
	if err != nil {
		t.Fatalf("new evaluator: %v", err)
	}
	gate := readiness.New(store, evaluator, nil, logger.NewNop())
	svc := New(store, store, store, store, gate, thresholds, logger.NewNop())
	svc.SetClock(func() time.Time { return now })
	return svc, gate
}

func recordAttempts(t *testing.T, store *memory.Store, succeeded, failed int, code apperrors.ErrorCode) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < succeeded+failed; i++ {
		a := domain.Attempt{
			SessionID: "s",
			Kind:      domain.AttemptTransition,
			From:      session.StatusPublished,
			To:        session.StatusCompleted,
			Actor:     "scheduler",
			Automated: true,
			Succeeded: i < succeeded,
			CreatedAt: now,
		}
		if !a.Succeeded {
			a.ErrorCode = string(code)
		}
		if _, err := store.RecordAttempt(ctx, a); err != nil {
			t.Fatalf("record attempt: %v", err)
		}
	}
}

func TestPerformHealthCheckThresholds(t *testing.T) {
	tests := []struct {
		name      string
		succeeded int
		failed    int
		code      apperrors.ErrorCode
		want      domain.Health
	}{
		{"no attempts", 0, 0, "", domain.HealthHealthy},
		{"all good", 10, 0, "", domain.HealthHealthy},
		{"exactly twenty percent", 8, 2, apperrors.CodeNotReady, domain.HealthHealthy},
		{"degraded", 7, 3, apperrors.CodeInvalidTransition, domain.HealthDegraded},
		{"exactly half", 5, 5, apperrors.CodeNotReady, domain.HealthDegraded},
		{"unhealthy", 4, 6, apperrors.CodeInvalidTransition, domain.HealthUnhealthy},
		{"storage races do not count", 2, 8, apperrors.CodeConcurrentModification, domain.HealthHealthy},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			store := memory.New()
			recordAttempts(t, store, tc.succeeded, tc.failed, tc.code)
			svc, _ := newMonitor(t, store, Thresholds{})

			report, err := svc.PerformHealthCheck(context.Background())
			if err != nil {
				t.Fatalf("health check: %v", err)
			}
			if report.Status != tc.want {
				t.Fatalf("expected %s, got %s (%+v)", tc.want, report.Status, report)
			}
			if report.AutomatedAttempts != tc.succeeded+tc.failed {
				t.Fatalf("unexpected attempt count %d", report.AutomatedAttempts)
			}
		})
	}
}

func TestPerformHealthCheckUsesTrailingWindow(t *testing.T) {
	store := memory.New()
	recordAttempts(t, store, 0, 10, apperrors.CodeNotReady)
	recordAttempts(t, store, 10, 0, "")

	svc, _ := newMonitor(t, store, Thresholds{Window: 10})
	report, err := svc.PerformHealthCheck(context.Background())
	if err != nil {
		t.Fatalf("health check: %v", err)
	}
	if report.Status != domain.HealthHealthy || report.AutomatedAttempts != 10 {
		t.Fatalf("older failures are outside the window: %+v", report)
	}
}

func TestCollectWorkflowMetrics(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	svc, gate := newMonitor(t, store, Thresholds{})

	clock := testutil.NewClock(now)
	lc := lifecycle.New(store, store, store, gate, logger.NewNop())
	lc.SetClock(clock.Now)

	start := now.Add(30 * 24 * time.Hour)
	var created []session.Session
	for _, sess := range []session.Session{
		testutil.CompleteSession("Ready", start),
		testutil.DraftSession("Blocked"),
		testutil.DraftSession("Cancelled"),
	} {
		sess.CreatedAt = now
		c, err := store.CreateSession(ctx, sess)
		if err != nil {
			t.Fatalf("create session: %v", err)
		}
		created = append(created, c)
	}
	ready, blocked, cancelled := created[0], created[1], created[2]

	clock.Advance(time.Hour)
	move(t, lc, ready.ID, session.StatusReview)
	clock.Advance(3 * time.Hour)
	move(t, lc, ready.ID, session.StatusReady)
	move(t, lc, cancelled.ID, session.StatusReview)
	clock.Advance(time.Hour)
	move(t, lc, cancelled.ID, session.StatusCancelled)

	before, _ := store.ListAllStatusHistory(ctx)

	m, err := svc.CollectWorkflowMetrics(ctx)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if m.TotalSessions != 3 {
		t.Fatalf("expected 3 sessions, got %d", m.TotalSessions)
	}
	if m.CountsByStatus[session.StatusReady] != 1 || m.CountsByStatus[session.StatusDraft] != 1 ||
		m.CountsByStatus[session.StatusCancelled] != 1 || m.CountsByStatus[session.StatusPublished] != 0 {
		t.Fatalf("unexpected counts %v", m.CountsByStatus)
	}
	if m.BlockedFromPublishing != 1 || m.BlockedSessionIDs[0] != blocked.ID {
		t.Fatalf("only the incomplete draft is blocked, got %v", m.BlockedSessionIDs)
	}

	if got := m.AverageDwell[session.StatusDraft]; got != 150*time.Minute {
		t.Fatalf("expected average DRAFT dwell of 2h30m, got %s", got)
	}
	if got := m.AverageDwell[session.StatusReview]; got != 2*time.Hour {
		t.Fatalf("expected average REVIEW dwell of 2h, got %s", got)
	}

	after, _ := store.ListAllStatusHistory(ctx)
	if len(after) != len(before) || after[ready.ID].Len() != before[ready.ID].Len() {
		t.Fatalf("collecting metrics must not change history")
	}
}

func move(t *testing.T, lc *lifecycle.Service, id string, target session.Status) {
	t.Helper()
	if _, err := lc.ApplyTransition(context.Background(), lifecycle.Request{SessionID: id, Target: target, Actor: "alice"}); err != nil {
		t.Fatalf("move %s to %s: %v", id, target, err)
	}
}

func TestPerformHealthCheckAfterSweep(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	svc, gate := newMonitor(t, store, Thresholds{})
	lc := lifecycle.New(store, store, store, gate, logger.NewNop())
	publisher := publishing.New(store, store, store, gate, lc, logger.NewNop())

	ready := func(sess session.Session) {
		t.Helper()
		sess.AutoPublish = true
		created, err := store.CreateSession(ctx, sess)
		if err != nil {
			t.Fatalf("create session: %v", err)
		}
		if _, err := lc.ApplyTransition(ctx, lifecycle.Request{SessionID: created.ID, Target: session.StatusReady, Actor: "setup"}); err != nil {
			t.Fatalf("move to READY: %v", err)
		}
	}
	ready(testutil.CompleteSession("Publishable", time.Now().Add(30*24*time.Hour)))
	ready(testutil.DraftSession("Missing trainer"))
	ready(testutil.DraftSession("Missing schedule"))

	sweeper, err := publishing.NewSweeper(store, publisher, lc, "", logger.NewNop())
	if err != nil {
		t.Fatalf("new sweeper: %v", err)
	}
	if _, err := sweeper.RunSweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	report, err := svc.PerformHealthCheck(ctx)
	if err != nil {
		t.Fatalf("health check: %v", err)
	}
	if report.AutomatedAttempts != 3 || report.AutomatedFailures != 2 {
		t.Fatalf("expected 2 of 3 automated attempts failed, got %d of %d", report.AutomatedFailures, report.AutomatedAttempts)
	}
	if report.Status != domain.HealthUnhealthy {
		t.Fatalf("expected unhealthy, got %s (rate %.2f)", report.Status, report.FailureRate)
	}
}
