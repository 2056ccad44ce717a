// Package sessions is the registry of training sessions and locations.
// Status, content and history are owned by the workflow services; this
// package only edits session details.
package sessions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/training_workflow/internal/app/domain/session"
	"github.com/R3E-Network/training_workflow/internal/app/storage"
	apperrors "github.com/R3E-Network/training_workflow/internal/errors"
	"github.com/R3E-Network/training_workflow/pkg/logger"
)

// NewSession is the input for Create.
type NewSession struct {
	Title            string          `json:"title"`
	Description      string          `json:"description"`
	StartsAt         *time.Time      `json:"starts_at"`
	EndsAt           *time.Time      `json:"ends_at"`
	LocationID       string          `json:"location_id"`
	Topics           []session.Topic `json:"topics"`
	MaxRegistrations int             `json:"max_registrations"`
	AutoPublish      bool            `json:"auto_publish"`
}

// DetailsPatch lists the fields to change. Nil fields are left alone.
// Revision, when set, must match the stored revision.
type DetailsPatch struct {
	Title            *string          `json:"title"`
	Description      *string          `json:"description"`
	StartsAt         *time.Time       `json:"starts_at"`
	EndsAt           *time.Time       `json:"ends_at"`
	ClearSchedule    bool             `json:"clear_schedule"`
	LocationID       *string          `json:"location_id"`
	Topics           *[]session.Topic `json:"topics"`
	MaxRegistrations *int             `json:"max_registrations"`
	AutoPublish      *bool            `json:"auto_publish"`
	Revision         int64            `json:"revision"`
}

// NewLocation is the input for CreateLocation.
type NewLocation struct {
	Name     string `json:"name"`
	Capacity int    `json:"capacity"`
}

// Service manages session details.
type Service struct {
	store storage.SessionStore
	log   *logger.Logger
}

// New constructs a registry service.
func New(store storage.SessionStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("sessions")
	}
	return &Service{store: store, log: log}
}

// Create stores a new DRAFT session.
func (s *Service) Create(ctx context.Context, in NewSession, actor string) (session.Session, error) {
	if strings.TrimSpace(actor) == "" {
		return session.Session{}, apperrors.InvalidInput("actor", "is required")
	}
	sess := session.Session{
		Title:            strings.TrimSpace(in.Title),
		Description:      strings.TrimSpace(in.Description),
		Status:           session.StatusDraft,
		StartsAt:         in.StartsAt,
		EndsAt:           in.EndsAt,
		LocationID:       strings.TrimSpace(in.LocationID),
		Topics:           normalizeTopics(in.Topics),
		MaxRegistrations: in.MaxRegistrations,
		AutoPublish:      in.AutoPublish,
		CreatedBy:        actor,
	}
	if err := s.validate(ctx, sess); err != nil {
		return session.Session{}, err
	}

	created, err := s.store.CreateSession(ctx, sess)
	if err != nil {
		return session.Session{}, apperrors.Internal("create session", err)
	}
	s.log.WithContext(ctx).
		WithField("session_id", created.ID).
		WithField("actor", actor).
		Info("session created")
	return created, nil
}

// Get returns one session.
func (s *Service) Get(ctx context.Context, id string) (session.Session, error) {
	sess, err := s.store.GetSession(ctx, id)
	if err != nil {
		return session.Session{}, storage.Translate(err, "session", id)
	}
	return sess, nil
}

// List returns sessions in any of the given statuses, or all sessions when
// none are given.
func (s *Service) List(ctx context.Context, statuses []string) ([]session.Session, error) {
	var filter session.Filter
	for _, raw := range statuses {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		st, ok := session.ParseStatus(raw)
		if !ok {
			return nil, apperrors.InvalidInput("status", "unknown status "+raw)
		}
		filter.Statuses = append(filter.Statuses, st)
	}
	out, err := s.store.ListSessions(ctx, filter)
	if err != nil {
		return nil, apperrors.Internal("list sessions", err)
	}
	return out, nil
}

// UpdateDetails applies patch while the session is still being authored.
func (s *Service) UpdateDetails(ctx context.Context, id string, patch DetailsPatch, actor string) (session.Session, error) {
	if strings.TrimSpace(actor) == "" {
		return session.Session{}, apperrors.InvalidInput("actor", "is required")
	}
	sess, err := s.store.GetSession(ctx, id)
	if err != nil {
		return session.Session{}, storage.Translate(err, "session", id)
	}
	if !sess.Status.PrePublish() {
		return session.Session{}, apperrors.InvalidInput("status",
			fmt.Sprintf("details of a %s session can no longer be edited", sess.Status))
	}
	if patch.Revision != 0 && patch.Revision != sess.Revision {
		return session.Session{}, apperrors.ConcurrentModification("session", id).
			WithDetails("current_revision", sess.Revision)
	}

	if patch.Title != nil {
		sess.Title = strings.TrimSpace(*patch.Title)
	}
	if patch.Description != nil {
		sess.Description = strings.TrimSpace(*patch.Description)
	}
	if patch.ClearSchedule {
		sess.StartsAt, sess.EndsAt = nil, nil
	}
	if patch.StartsAt != nil {
		sess.StartsAt = patch.StartsAt
	}
	if patch.EndsAt != nil {
		sess.EndsAt = patch.EndsAt
	}
	if patch.LocationID != nil {
		sess.LocationID = strings.TrimSpace(*patch.LocationID)
	}
	if patch.Topics != nil {
		sess.Topics = normalizeTopics(*patch.Topics)
	}
	if patch.MaxRegistrations != nil {
		sess.MaxRegistrations = *patch.MaxRegistrations
	}
	if patch.AutoPublish != nil {
		sess.AutoPublish = *patch.AutoPublish
	}
	if err := s.validate(ctx, sess); err != nil {
		return session.Session{}, err
	}

	updated, err := s.store.UpdateSession(ctx, sess)
	if err != nil {
		return session.Session{}, storage.Translate(err, "session", id)
	}
	s.log.WithContext(ctx).
		WithField("session_id", id).
		WithField("actor", actor).
		WithField("revision", updated.Revision).
		Info("session details updated")
	return updated, nil
}

// CreateLocation stores a venue.
func (s *Service) CreateLocation(ctx context.Context, in NewLocation) (session.Location, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return session.Location{}, apperrors.InvalidInput("name", "is required")
	}
	if in.Capacity <= 0 {
		return session.Location{}, apperrors.InvalidInput("capacity", "must be positive")
	}
	loc, err := s.store.CreateLocation(ctx, session.Location{Name: name, Capacity: in.Capacity})
	if err != nil {
		return session.Location{}, apperrors.Internal("create location", err)
	}
	return loc, nil
}

// validate rejects malformed input. Incomplete sessions are fine; the
// readiness checks report what is missing.
func (s *Service) validate(ctx context.Context, sess session.Session) error {
	if sess.Title == "" {
		return apperrors.InvalidInput("title", "is required")
	}
	if sess.MaxRegistrations <= 0 {
		return apperrors.InvalidInput("max_registrations", "must be positive")
	}
	if (sess.StartsAt == nil) != (sess.EndsAt == nil) {
		return apperrors.InvalidInput("schedule", "starts_at and ends_at must be set together")
	}
	for i, t := range sess.Topics {
		if t.Title == "" {
			return apperrors.InvalidInput(fmt.Sprintf("topics[%d].title", i), "is required")
		}
		if t.DurationMinutes < 0 {
			return apperrors.InvalidInput(fmt.Sprintf("topics[%d].duration_minutes", i), "must not be negative")
		}
	}
	if sess.LocationID != "" {
		if _, err := s.store.GetLocation(ctx, sess.LocationID); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return apperrors.InvalidInput("location_id", "unknown location "+sess.LocationID)
			}
			return apperrors.Internal("lookup location", err)
		}
	}
	return nil
}

func normalizeTopics(in []session.Topic) []session.Topic {
	out := make([]session.Topic, len(in))
	for i, t := range in {
		t.Title = strings.TrimSpace(t.Title)
		t.Description = strings.TrimSpace(t.Description)
		t.TrainerID = strings.TrimSpace(t.TrainerID)
		if t.ID == "" {
			t.ID = uuid.NewString()
		}
		t.Position = i
		out[i] = t
	}
	return out
}
