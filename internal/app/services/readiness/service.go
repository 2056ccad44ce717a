package readiness

import (
	"context"
	"fmt"

	domain "github.com/R3E-Network/training_workflow/internal/app/domain/readiness"
	"github.com/R3E-Network/training_workflow/internal/app/domain/session"
	"github.com/R3E-Network/training_workflow/internal/app/metrics"
	"github.com/R3E-Network/training_workflow/internal/app/storage"
	"github.com/R3E-Network/training_workflow/pkg/logger"
)

// Cache keeps verdicts transiently. Implementations must treat a miss as
// ok=false with a nil error.
type Cache interface {
	Get(ctx context.Context, key string) (domain.Verdict, bool, error)
	Put(ctx context.Context, key string, verdict domain.Verdict) error
}

// Service evaluates readiness for stored sessions.
type Service struct {
	snapshots storage.SnapshotReader
	evaluator *Evaluator
	cache     Cache
	log       *logger.Logger
}

// New constructs a readiness service. cache may be nil.
func New(snapshots storage.SnapshotReader, evaluator *Evaluator, cache Cache, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("readiness")
	}
	return &Service{snapshots: snapshots, evaluator: evaluator, cache: cache, log: log}
}

// Evaluate loads the session snapshot and returns its verdict.
func (s *Service) Evaluate(ctx context.Context, sessionID string) (domain.Verdict, error) {
	snap, err := s.snapshots.LoadSnapshot(ctx, sessionID)
	if err != nil {
		return domain.Verdict{}, storage.Translate(err, "session", sessionID)
	}
	return s.EvaluateSnapshot(ctx, snap), nil
}

// EvaluateSnapshot returns the verdict for an already loaded snapshot,
// consulting the cache when one is configured.
func (s *Service) EvaluateSnapshot(ctx context.Context, snap session.Snapshot) domain.Verdict {
	key := cacheKey(snap)
	if s.cache != nil {
		cached, ok, err := s.cache.Get(ctx, key)
		if err != nil {
			s.log.WithError(err).WithField("session_id", snap.Session.ID).Warn("readiness cache read failed")
		} else if ok {
			return cached
		}
	}

	verdict := s.evaluator.Evaluate(snap)
	metrics.RecordReadiness(verdict.CanPublish, verdict.Percentage)

	if s.cache != nil {
		if err := s.cache.Put(ctx, key, verdict); err != nil {
			s.log.WithError(err).WithField("session_id", snap.Session.ID).Warn("readiness cache write failed")
		}
	}
	return verdict
}

// cacheKey covers every input of the evaluation: the session revision moves
// on every session write, the rest is collaborator-owned.
func cacheKey(snap session.Snapshot) string {
	capacity := "none"
	if snap.LocationCapacity != nil {
		capacity = fmt.Sprintf("%d", *snap.LocationCapacity)
	}
	return fmt.Sprintf("%s:%d:%d:%s", snap.Session.ID, snap.Session.Revision, snap.RegistrationCount, capacity)
}
