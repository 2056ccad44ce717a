// Package readiness defines the publish readiness checklist, its weighting
// policy and the verdict produced by evaluating a session snapshot.
package readiness

import (
	"fmt"
	"sort"
)

// CheckID identifies one readiness criterion.
type CheckID string

const (
	CheckTrainerAssigned  CheckID = "trainer_assigned"
	CheckScheduleSet      CheckID = "schedule_set"
	CheckTopicsComplete   CheckID = "topics_complete"
	CheckLocationAssigned CheckID = "location_assigned"
	CheckContentGenerated CheckID = "content_generated"
	CheckCapacity         CheckID = "capacity_within_limits"
)

// CheckOrder is the fixed evaluation order.
var CheckOrder = []CheckID{
	CheckTrainerAssigned,
	CheckScheduleSet,
	CheckTopicsComplete,
	CheckLocationAssigned,
	CheckContentGenerated,
	CheckCapacity,
}

// Check is one evaluated criterion.
type Check struct {
	ID          CheckID `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Category    string  `json:"category"`
	Weight      float64 `json:"weight"`
	Required    bool    `json:"required"`
	Passed      bool    `json:"passed"`
	Action      string  `json:"action,omitempty"`
}

// Verdict aggregates one evaluation run.
type Verdict struct {
	Score              float64  `json:"score"`
	MaxScore           float64  `json:"max_score"`
	Percentage         int      `json:"percentage"`
	Checks             []Check  `json:"checks"`
	CanPublish         bool     `json:"can_publish"`
	RecommendedActions []string `json:"recommended_actions"`
}

// FailedChecks returns the ids of failing checks, required ones first.
func (v Verdict) FailedChecks() []string {
	var required, optional []string
	for _, c := range v.Checks {
		if c.Passed {
			continue
		}
		if c.Required {
			required = append(required, string(c.ID))
		} else {
			optional = append(optional, string(c.ID))
		}
	}
	return append(required, optional...)
}

// FailedRequired returns the failing required checks in evaluation order.
func (v Verdict) FailedRequired() []Check {
	var out []Check
	for _, c := range v.Checks {
		if c.Required && !c.Passed {
			out = append(out, c)
		}
	}
	return out
}

// CheckPolicy is the weight and gate setting of one check.
type CheckPolicy struct {
	Weight   float64 `yaml:"weight" json:"weight"`
	Required bool    `yaml:"required" json:"required"`
}

// Policy is the weighting configuration handed to the evaluator.
type Policy struct {
	Checks         map[CheckID]CheckPolicy `yaml:"checks" json:"checks"`
	ReadyMessage   string                  `yaml:"ready_message" json:"ready_message"`
	OptionalPrefix string                  `yaml:"optional_prefix" json:"optional_prefix"`
}

// DefaultPolicy returns the stock weights.
func DefaultPolicy() Policy {
	return Policy{
		Checks: map[CheckID]CheckPolicy{
			CheckTrainerAssigned:  {Weight: 20, Required: true},
			CheckScheduleSet:      {Weight: 20, Required: true},
			CheckTopicsComplete:   {Weight: 20, Required: true},
			CheckLocationAssigned: {Weight: 15, Required: false},
			CheckContentGenerated: {Weight: 15, Required: false},
			CheckCapacity:         {Weight: 10, Required: true},
		},
		ReadyMessage:   "All required criteria met",
		OptionalPrefix: "Optional: ",
	}
}

// Merge overlays the non-empty settings of override on p.
func (p Policy) Merge(override Policy) Policy {
	out := Policy{
		Checks:         make(map[CheckID]CheckPolicy, len(p.Checks)),
		ReadyMessage:   p.ReadyMessage,
		OptionalPrefix: p.OptionalPrefix,
	}
	for id, c := range p.Checks {
		out.Checks[id] = c
	}
	for id, c := range override.Checks {
		out.Checks[id] = c
	}
	if override.ReadyMessage != "" {
		out.ReadyMessage = override.ReadyMessage
	}
	if override.OptionalPrefix != "" {
		out.OptionalPrefix = override.OptionalPrefix
	}
	return out
}

// Validate checks every known check has a positive weight and no unknown ids
// are configured.
func (p Policy) Validate() error {
	known := make(map[CheckID]bool, len(CheckOrder))
	for _, id := range CheckOrder {
		known[id] = true
		c, ok := p.Checks[id]
		if !ok {
			return fmt.Errorf("readiness policy: missing check %s", id)
		}
		if c.Weight <= 0 {
			return fmt.Errorf("readiness policy: check %s weight must be positive, got %v", id, c.Weight)
		}
	}
	var unknown []string
	for id := range p.Checks {
		if !known[id] {
			unknown = append(unknown, string(id))
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return fmt.Errorf("readiness policy: unknown checks %v", unknown)
	}
	return nil
}

// MaxScore is the sum of all check weights.
func (p Policy) MaxScore() float64 {
	var total float64
	for _, id := range CheckOrder {
		total += p.Checks[id].Weight
	}
	return total
}
