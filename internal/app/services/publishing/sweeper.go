package publishing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/R3E-Network/training_workflow/internal/app/domain/session"
	"github.com/R3E-Network/training_workflow/internal/app/metrics"
	"github.com/R3E-Network/training_workflow/internal/app/services/lifecycle"
	"github.com/R3E-Network/training_workflow/internal/app/system"
	"github.com/R3E-Network/training_workflow/pkg/logger"
)

const (
	// SchedulerActor is the actor recorded for sweep transitions.
	SchedulerActor = "scheduler"
	// CompletedReason is recorded when a sweep completes an ended session.
	CompletedReason = "Automatically completed after schedule end"

	DefaultSweepSchedule = "@every 5m"
)

var _ system.Service = (*Sweeper)(nil)

// SessionLister lists sessions by status.
type SessionLister interface {
	ListSessions(ctx context.Context, filter session.Filter) ([]session.Session, error)
}

// SweepReport summarises one sweep.
type SweepReport struct {
	StartedAt time.Time         `json:"started_at"`
	Duration  time.Duration     `json:"duration"`
	Published []string          `json:"published"`
	Completed []string          `json:"completed"`
	Failed    map[string]string `json:"failed,omitempty"`
}

// Sweeper periodically publishes READY sessions flagged for auto-publish and
// completes PUBLISHED sessions whose schedule has ended. It only calls the
// same synchronous operations a user request would.
type Sweeper struct {
	sessions    SessionLister
	publisher   *Service
	transitions Transitioner
	schedule    string
	now         func() time.Time
	log         *logger.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	cancel  context.CancelFunc
	running bool
}

// NewSweeper creates a lifecycle-managed sweep runner. An empty schedule
// defaults to every five minutes.
func NewSweeper(sessions SessionLister, publisher *Service, transitions Transitioner, schedule string, log *logger.Logger) (*Sweeper, error) {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	if log == nil {
		log = logger.NewDefault("publishing-sweeper")
	}
	return &Sweeper{
		sessions:    sessions,
		publisher:   publisher,
		transitions: transitions,
		schedule:    schedule,
		now:         func() time.Time { return time.Now().UTC() },
		log:         log,
	}, nil
}

// SetClock replaces the clock used to decide whether a schedule has ended.
func (s *Sweeper) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

func (s *Sweeper) Name() string { return "publishing-sweeper" }

func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	c := cron.New(cron.WithLocation(time.UTC))
	if _, err := c.AddFunc(s.schedule, func() {
		if _, err := s.RunSweep(runCtx); err != nil {
			s.log.WithError(err).Warn("publishing sweep failed")
		}
	}); err != nil {
		cancel()
		return fmt.Errorf("schedule sweep: %w", err)
	}
	c.Start()

	s.cron = c
	s.cancel = cancel
	s.running = true
	s.log.WithField("schedule", s.schedule).Info("publishing sweeper started")
	return nil
}

func (s *Sweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	c, cancel := s.cron, s.cancel
	s.cron, s.cancel, s.running = nil, nil, false
	s.mu.Unlock()

	cancel()
	done := c.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		return ctx.Err()
	}

	s.log.Info("publishing sweeper stopped")
	return nil
}

// RunSweep performs one sweep. Per-session failures are collected in the
// report; the error is only set when sessions could not be listed.
func (s *Sweeper) RunSweep(ctx context.Context) (report SweepReport, err error) {
	report = SweepReport{StartedAt: s.now(), Failed: make(map[string]string)}
	started := time.Now()
	defer func() {
		report.Duration = time.Since(started)
		metrics.RecordSweep(report.Duration, len(report.Failed) == 0)
	}()

	ready, err := s.sessions.ListSessions(ctx, session.Filter{Statuses: []session.Status{session.StatusReady}})
	if err != nil {
		return report, fmt.Errorf("list ready sessions: %w", err)
	}
	for _, sess := range ready {
		if !sess.AutoPublish {
			continue
		}
		if _, err := s.publisher.PublishAutomated(ctx, sess.ID, SchedulerActor); err != nil {
			report.Failed[sess.ID] = err.Error()
			continue
		}
		report.Published = append(report.Published, sess.ID)
	}

	published, err := s.sessions.ListSessions(ctx, session.Filter{Statuses: []session.Status{session.StatusPublished}})
	if err != nil {
		return report, fmt.Errorf("list published sessions: %w", err)
	}
	now := s.now()
	for _, sess := range published {
		if sess.EndsAt == nil || sess.EndsAt.After(now) {
			continue
		}
		_, err := s.transitions.ApplyTransition(ctx, lifecycle.Request{
			SessionID: sess.ID,
			Target:    session.StatusCompleted,
			Actor:     SchedulerActor,
			Automated: true,
			Reason:    CompletedReason,
		})
		if err != nil {
			report.Failed[sess.ID] = err.Error()
			continue
		}
		report.Completed = append(report.Completed, sess.ID)
	}

	s.log.WithField("published", len(report.Published)).
		WithField("completed", len(report.Completed)).
		WithField("failed", len(report.Failed)).
		Info("publishing sweep finished")
	return report, nil
}
