// Package session holds the training session model, its lifecycle states and
// the read model the workflow engine evaluates.
package session

import (
	"encoding/json"
	"time"
)

// Topic is one agenda item of a session.
type Topic struct {
	ID              string `json:"id" db:"id"`
	Title           string `json:"title" db:"title"`
	Description     string `json:"description" db:"description"`
	DurationMinutes int    `json:"duration_minutes" db:"duration_minutes"`
	TrainerID       string `json:"trainer_id,omitempty" db:"trainer_id"`
	Position        int    `json:"position" db:"position"`
}

// Session is the subject of the publishing workflow.
type Session struct {
	ID                    string          `json:"id"`
	Title                 string          `json:"title"`
	Description           string          `json:"description,omitempty"`
	Status                Status          `json:"status"`
	StartsAt              *time.Time      `json:"starts_at,omitempty"`
	EndsAt                *time.Time      `json:"ends_at,omitempty"`
	LocationID            string          `json:"location_id,omitempty"`
	Topics                []Topic         `json:"topics"`
	MaxRegistrations      int             `json:"max_registrations"`
	AutoPublish           bool            `json:"auto_publish"`
	GeneratedContent      json.RawMessage `json:"generated_content,omitempty"`
	CurrentContentVersion int             `json:"current_content_version"`
	Revision              int64           `json:"revision"`
	CreatedBy             string          `json:"created_by,omitempty"`
	CreatedAt             time.Time       `json:"created_at"`
	UpdatedAt             time.Time       `json:"updated_at"`
}

// HasSchedule reports whether both schedule bounds are set.
func (s Session) HasSchedule() bool {
	return s.StartsAt != nil && s.EndsAt != nil
}

// TrainerIDs returns the distinct trainers assigned across topics, in topic
// order.
func (s Session) TrainerIDs() []string {
	seen := make(map[string]struct{}, len(s.Topics))
	out := make([]string, 0, len(s.Topics))
	for _, t := range s.Topics {
		if t.TrainerID == "" {
			continue
		}
		if _, ok := seen[t.TrainerID]; ok {
			continue
		}
		seen[t.TrainerID] = struct{}{}
		out = append(out, t.TrainerID)
	}
	return out
}

// Overlaps reports whether the two sessions' schedules intersect. Sessions
// without a full schedule never overlap.
func (s Session) Overlaps(other Session) bool {
	if !s.HasSchedule() || !other.HasSchedule() {
		return false
	}
	return s.StartsAt.Before(*other.EndsAt) && other.StartsAt.Before(*s.EndsAt)
}

// Location is a venue sessions can be held at.
type Location struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Capacity  int       `json:"capacity" db:"capacity"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Snapshot is the read model the readiness evaluator runs against: the
// session plus the collaborator-owned facts it cannot see on its own.
type Snapshot struct {
	Session           Session `json:"session"`
	LocationCapacity  *int    `json:"location_capacity,omitempty"`
	RegistrationCount int     `json:"registration_count"`
}

// Conflict describes another session whose schedule overlaps and that shares
// a location or trainer.
type Conflict struct {
	SessionID  string `json:"session_id" db:"session_id"`
	Title      string `json:"title" db:"title"`
	Resource   string `json:"resource" db:"resource"`
	ResourceID string `json:"resource_id" db:"resource_id"`
}

// Filter narrows session listings.
type Filter struct {
	Statuses []Status
}

// Matches reports whether s passes the filter.
func (f Filter) Matches(s Session) bool {
	if len(f.Statuses) == 0 {
		return true
	}
	for _, st := range f.Statuses {
		if s.Status == st {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of s.
func (s Session) Clone() Session {
	out := s
	out.Topics = append([]Topic(nil), s.Topics...)
	if s.GeneratedContent != nil {
		out.GeneratedContent = append(json.RawMessage(nil), s.GeneratedContent...)
	}
	if s.StartsAt != nil {
		t := *s.StartsAt
		out.StartsAt = &t
	}
	if s.EndsAt != nil {
		t := *s.EndsAt
		out.EndsAt = &t
	}
	return out
}
