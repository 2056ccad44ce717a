package readiness

import (
	"bytes"
	"math"
	"strings"

	domain "github.com/R3E-Network/training_workflow/internal/app/domain/readiness"
	"github.com/R3E-Network/training_workflow/internal/app/domain/session"
)

type criterion struct {
	name        string
	description string
	category    string
	action      string
	passes      func(session.Snapshot) bool
}

var criteria = map[domain.CheckID]criterion{
	domain.CheckTrainerAssigned: {
		name:        "Trainer assigned",
		description: "Every topic has a trainer",
		category:    "staffing",
		action:      "Assign a trainer to every topic",
		passes:      trainerAssigned,
	},
	domain.CheckScheduleSet: {
		name:        "Schedule set",
		description: "Start and end are set and the end is after the start",
		category:    "scheduling",
		action:      "Set the schedule with an end after the start",
		passes:      scheduleSet,
	},
	domain.CheckTopicsComplete: {
		name:        "Topics complete",
		description: "At least one topic with a description and a duration",
		category:    "content",
		action:      "Add a topic with a description and a duration",
		passes:      topicsComplete,
	},
	domain.CheckLocationAssigned: {
		name:        "Location assigned",
		description: "A location is assigned",
		category:    "logistics",
		action:      "Assign a location",
		passes:      func(s session.Snapshot) bool { return s.Session.LocationID != "" },
	},
	domain.CheckContentGenerated: {
		name:        "Promotional content generated",
		description: "Promotional content exists",
		category:    "marketing",
		action:      "Generate promotional content",
		passes:      contentGenerated,
	},
	domain.CheckCapacity: {
		name:        "Capacity within limits",
		description: "Max registrations is positive, fits the location and covers current registrations",
		category:    "logistics",
		action:      "Set max registrations to a positive number within the location capacity",
		passes:      capacityWithinLimits,
	},
}

// Evaluator runs the readiness checklist against a snapshot. It holds no
// mutable state and is safe for concurrent use.
type Evaluator struct {
	policy domain.Policy
}

// NewEvaluator validates policy and returns an evaluator bound to it.
func NewEvaluator(policy domain.Policy) (*Evaluator, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return &Evaluator{policy: policy}, nil
}

// Policy returns the weighting policy in use.
func (e *Evaluator) Policy() domain.Policy { return e.policy }

// Evaluate computes the verdict for snap. The result depends on nothing but
// snap and the policy.
func (e *Evaluator) Evaluate(snap session.Snapshot) domain.Verdict {
	verdict := domain.Verdict{
		MaxScore:   e.policy.MaxScore(),
		Checks:     make([]domain.Check, 0, len(domain.CheckOrder)),
		CanPublish: true,
	}

	var requiredActions, optionalActions []string
	for _, id := range domain.CheckOrder {
		c := criteria[id]
		cfg := e.policy.Checks[id]
		check := domain.Check{
			ID:          id,
			Name:        c.name,
			Description: c.description,
			Category:    c.category,
			Weight:      cfg.Weight,
			Required:    cfg.Required,
			Passed:      c.passes(snap),
		}
		switch {
		case check.Passed:
			verdict.Score += cfg.Weight
		case check.Required:
			check.Action = c.action
			verdict.CanPublish = false
			requiredActions = append(requiredActions, c.action)
		default:
			check.Action = c.action
			optionalActions = append(optionalActions, e.policy.OptionalPrefix+c.action)
		}
		verdict.Checks = append(verdict.Checks, check)
	}

	if verdict.MaxScore > 0 {
		verdict.Percentage = int(math.Round(verdict.Score / verdict.MaxScore * 100))
	}
	if verdict.CanPublish {
		verdict.RecommendedActions = append([]string{e.policy.ReadyMessage}, optionalActions...)
	} else {
		verdict.RecommendedActions = append(requiredActions, optionalActions...)
	}
	return verdict
}

func trainerAssigned(s session.Snapshot) bool {
	if len(s.Session.Topics) == 0 {
		return false
	}
	for _, t := range s.Session.Topics {
		if strings.TrimSpace(t.TrainerID) == "" {
			return false
		}
	}
	return true
}

func scheduleSet(s session.Snapshot) bool {
	return s.Session.HasSchedule() && s.Session.EndsAt.After(*s.Session.StartsAt)
}

func topicsComplete(s session.Snapshot) bool {
	if len(s.Session.Topics) == 0 {
		return false
	}
	for _, t := range s.Session.Topics {
		if strings.TrimSpace(t.Description) != "" && t.DurationMinutes > 0 {
			return true
		}
	}
	return false
}

func contentGenerated(s session.Snapshot) bool {
	body := bytes.TrimSpace(s.Session.GeneratedContent)
	return len(body) > 0 && !bytes.Equal(body, []byte("null"))
}

func capacityWithinLimits(s session.Snapshot) bool {
	limit := s.Session.MaxRegistrations
	if limit <= 0 || s.RegistrationCount > limit {
		return false
	}
	return s.LocationCapacity == nil || limit <= *s.LocationCapacity
}
