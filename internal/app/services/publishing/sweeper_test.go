package publishing

import (
	"context"
	"testing"
	"time"

	"github.com/R3E-Network/training_workflow/internal/app/domain/monitor"
	"github.com/R3E-Network/training_workflow/internal/app/domain/session"
	"github.com/R3E-Network/training_workflow/pkg/logger"
	"github.com/R3E-Network/training_workflow/pkg/testutil"
)

func newSweeper(t *testing.T, f fixture) *Sweeper {
	t.Helper()
	sw, err := NewSweeper(f.store, f.svc, f.lifecycle, "", logger.NewNop())
	if err != nil {
		t.Fatalf("new sweeper: %v", err)
	}
	sw.SetClock(f.clock.Now)
	return sw
}

func TestRunSweepPublishesAutoPublishSessions(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	auto := testutil.CompleteSession("Auto", start)
	auto.AutoPublish = true
	autoSess := f.create(t, auto, session.StatusReady)
	manual := f.create(t, testutil.CompleteSession("Manual", start.Add(24*time.Hour)), session.StatusReady)
	broken := testutil.DraftSession("Broken")
	broken.AutoPublish = true
	brokenSess := f.create(t, broken, session.StatusReady)

	report, err := newSweeper(t, f).RunSweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(report.Published) != 1 || report.Published[0] != autoSess.ID {
		t.Fatalf("expected only %s published, got %v", autoSess.ID, report.Published)
	}
	if _, ok := report.Failed[brokenSess.ID]; !ok || len(report.Failed) != 1 {
		t.Fatalf("expected the incomplete session to fail, got %v", report.Failed)
	}
	if report.Duration <= 0 {
		t.Fatalf("expected sweep duration to be reported, got %v", report.Duration)
	}

	attempts, err := f.store.ListRecentAttempts(ctx, 10)
	if err != nil {
		t.Fatalf("list attempts: %v", err)
	}
	if len(attempts) != 2 {
		t.Fatalf("expected one attempt per automated publish, got %+v", attempts)
	}
	for _, a := range attempts {
		if a.Kind != monitor.AttemptPublish || !a.Automated {
			t.Fatalf("unexpected attempt %+v", a)
		}
	}

	current, _ := f.store.GetSession(ctx, manual.ID)
	if current.Status != session.StatusReady {
		t.Fatalf("sessions without auto-publish must stay READY, got %s", current.Status)
	}
	entries, _ := f.lifecycle.GetHistory(ctx, autoSess.ID)
	last := entries[len(entries)-1]
	if last.Actor != SchedulerActor || !last.Automated {
		t.Fatalf("unexpected entry %+v", last)
	}
}

func TestRunSweepCompletesEndedSessions(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	ended := f.create(t, testutil.CompleteSession("Ended", start), session.StatusReady)
	if _, err := f.svc.Publish(ctx, ended.ID, "alice"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	later := f.create(t, testutil.CompleteSession("Later", start.Add(90*24*time.Hour)), session.StatusReady)
	if _, err := f.svc.Publish(ctx, later.ID, "alice"); err != nil {
		t.Fatalf("publish: %v", err)
	}

	sw := newSweeper(t, f)
	report, err := sw.RunSweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(report.Completed) != 0 {
		t.Fatalf("nothing has ended yet, got %v", report.Completed)
	}

	f.clock.Advance(31 * 24 * time.Hour)
	report, err = sw.RunSweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(report.Completed) != 1 || report.Completed[0] != ended.ID {
		t.Fatalf("expected %s completed, got %v", ended.ID, report.Completed)
	}

	entries, _ := f.lifecycle.GetHistory(ctx, ended.ID)
	last := entries[len(entries)-1]
	if last.NewStatus != session.StatusCompleted || last.Reason != CompletedReason || !last.Automated {
		t.Fatalf("unexpected entry %+v", last)
	}
	current, _ := f.store.GetSession(ctx, later.ID)
	if current.Status != session.StatusPublished {
		t.Fatalf("future session must stay PUBLISHED, got %s", current.Status)
	}
}

func TestSweeperLifecycle(t *testing.T) {
	f := newFixture(t, nil)
	sw, err := NewSweeper(f.store, f.svc, f.lifecycle, "@every 1h", logger.NewNop())
	if err != nil {
		t.Fatalf("new sweeper: %v", err)
	}
	if sw.Name() != "publishing-sweeper" {
		t.Fatalf("unexpected name %q", sw.Name())
	}

	ctx := context.Background()
	if err := sw.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := sw.Start(ctx); err != nil {
		t.Fatalf("second start should be a no-op: %v", err)
	}

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := sw.Stop(stopCtx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := sw.Stop(stopCtx); err != nil {
		t.Fatalf("second stop should be a no-op: %v", err)
	}
}

func TestNewSweeperRejectsBadSchedule(t *testing.T) {
	f := newFixture(t, nil)
	if _, err := NewSweeper(f.store, f.svc, f.lifecycle, "every now and then", logger.NewNop()); err == nil {
		t.Fatalf("expected an error for an invalid schedule")
	}
}
