package app

import (
	"context"
	"fmt"

	domain "github.com/R3E-Network/training_workflow/internal/app/domain/readiness"
	contentsvc "github.com/R3E-Network/training_workflow/internal/app/services/content"
	"github.com/R3E-Network/training_workflow/internal/app/services/lifecycle"
	monitorsvc "github.com/R3E-Network/training_workflow/internal/app/services/monitor"
	"github.com/R3E-Network/training_workflow/internal/app/services/publishing"
	"github.com/R3E-Network/training_workflow/internal/app/services/readiness"
	"github.com/R3E-Network/training_workflow/internal/app/services/sessions"
	"github.com/R3E-Network/training_workflow/internal/app/storage"
	"github.com/R3E-Network/training_workflow/internal/app/storage/memory"
	"github.com/R3E-Network/training_workflow/internal/app/system"
	"github.com/R3E-Network/training_workflow/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to a
// shared in-memory implementation.
type Stores struct {
	Sessions  storage.SessionStore
	Snapshots storage.SnapshotReader
	Conflicts storage.ConflictFinder
	Statuses  storage.StatusStore
	Contents  storage.ContentStore
	Attempts  storage.AttemptStore
}

// Options tunes the workflow services. The zero value gives the default
// readiness policy, no verdict cache, no content generator and no sweep.
type Options struct {
	Policy       *domain.Policy
	VerdictCache readiness.Cache
	Generator    contentsvc.Generator
	Thresholds   monitorsvc.Thresholds
	Automation   AutomationOptions
}

// AutomationOptions controls the publishing sweep.
type AutomationOptions struct {
	Enabled  bool
	Schedule string
}

// Application ties domain services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Sessions   *sessions.Service
	Readiness  *readiness.Service
	Lifecycle  *lifecycle.Service
	Publishing *publishing.Service
	Monitor    *monitorsvc.Service
	Content    *contentsvc.Service
	Sweeper    *publishing.Sweeper
}

// New builds a fully initialised application with the provided stores.
func New(stores Stores, opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}

	mem := memory.New()
	if stores.Sessions == nil {
		stores.Sessions = mem
	}
	if stores.Snapshots == nil {
		stores.Snapshots = mem
	}
	if stores.Conflicts == nil {
		stores.Conflicts = mem
	}
	if stores.Statuses == nil {
		stores.Statuses = mem
	}
	if stores.Contents == nil {
		stores.Contents = mem
	}
	if stores.Attempts == nil {
		stores.Attempts = mem
	}

	policy := domain.DefaultPolicy()
	if opts.Policy != nil {
		policy = *opts.Policy
	}
	evaluator, err := readiness.NewEvaluator(policy)
	if err != nil {
		return nil, fmt.Errorf("configure readiness: %w", err)
	}

	manager := system.NewManager()

	sessionService := sessions.New(stores.Sessions, log.Named("sessions"))
	readinessService := readiness.New(stores.Snapshots, evaluator, opts.VerdictCache, log.Named("readiness"))
	lifecycleService := lifecycle.New(stores.Snapshots, stores.Statuses, stores.Attempts, readinessService, log.Named("lifecycle"))
	publishingService := publishing.New(stores.Snapshots, stores.Conflicts, stores.Attempts, readinessService, lifecycleService, log.Named("publishing"))
	monitorService := monitorsvc.New(stores.Sessions, stores.Snapshots, stores.Statuses, stores.Attempts, readinessService, opts.Thresholds, log.Named("monitor"))
	contentService := contentsvc.New(stores.Sessions, stores.Snapshots, stores.Contents, opts.Generator, log.Named("content"))

	for _, name := range []string{"sessions", "readiness", "lifecycle", "publishing", "monitor", "content"} {
		if err := manager.Register(system.NoopService{ServiceName: name}); err != nil {
			return nil, fmt.Errorf("register %s service: %w", name, err)
		}
	}

	sweeper, err := publishing.NewSweeper(stores.Sessions, publishingService, lifecycleService, opts.Automation.Schedule, log.Named("publishing-sweeper"))
	if err != nil {
		return nil, fmt.Errorf("configure sweeper: %w", err)
	}
	if opts.Automation.Enabled {
		if err := manager.Register(sweeper); err != nil {
			return nil, fmt.Errorf("register %s: %w", sweeper.Name(), err)
		}
	} else {
		log.Info("automation disabled; publishing sweeper not scheduled")
	}

	return &Application{
		manager:    manager,
		log:        log,
		Sessions:   sessionService,
		Readiness:  readinessService,
		Lifecycle:  lifecycleService,
		Publishing: publishingService,
		Monitor:    monitorService,
		Content:    contentService,
		Sweeper:    sweeper,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
