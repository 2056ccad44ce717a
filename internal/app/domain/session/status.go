package session

import "strings"

// Status is the lifecycle state of a training session.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusReview    Status = "REVIEW"
	StatusReady     Status = "READY"
	StatusPublished Status = "PUBLISHED"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
	StatusRetired   Status = "RETIRED"
)

// statusOrder lists every state in lifecycle rank order. CANCELLED and RETIRED
// are side exits and share the top rank.
var statusOrder = []Status{
	StatusDraft,
	StatusReview,
	StatusReady,
	StatusPublished,
	StatusCompleted,
	StatusCancelled,
	StatusRetired,
}

var statusRank = map[Status]int{
	StatusDraft:     0,
	StatusReview:    1,
	StatusReady:     2,
	StatusPublished: 3,
	StatusCompleted: 4,
	StatusCancelled: 5,
	StatusRetired:   5,
}

// transitionTable maps each state to the states it may move to. Terminal
// states have no entry. Targets are listed in rank order.
var transitionTable = map[Status][]Status{
	StatusDraft:     {StatusReview, StatusReady, StatusCancelled, StatusRetired},
	StatusReview:    {StatusReady, StatusCancelled, StatusRetired},
	StatusReady:     {StatusPublished, StatusCancelled, StatusRetired},
	StatusPublished: {StatusCompleted, StatusCancelled, StatusRetired},
}

// AllStatuses returns every lifecycle state in rank order.
func AllStatuses() []Status {
	return append([]Status(nil), statusOrder...)
}

// ParseStatus normalises a label into a Status.
func ParseStatus(raw string) (Status, bool) {
	s := Status(strings.ToUpper(strings.TrimSpace(raw)))
	if _, ok := statusRank[s]; !ok {
		return "", false
	}
	return s, true
}

// Valid reports whether s is one of the seven lifecycle states.
func (s Status) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

// Rank is the position of s in the lifecycle; -1 for unknown states.
func (s Status) Rank() int {
	if r, ok := statusRank[s]; ok {
		return r
	}
	return -1
}

// IsTerminal reports whether s has no outgoing transitions.
func (s Status) IsTerminal() bool {
	return s.Valid() && len(transitionTable[s]) == 0
}

// PrePublish reports whether s is one of the authoring states that precede
// publication.
func (s Status) PrePublish() bool {
	return s == StatusDraft || s == StatusReview || s == StatusReady
}

func (s Status) String() string { return string(s) }

// AllowedTargets returns the states reachable from s in one transition.
func AllowedTargets(from Status) []Status {
	return append([]Status(nil), transitionTable[from]...)
}

// CanTransition reports whether from -> to is in the transition table.
func CanTransition(from, to Status) bool {
	for _, target := range transitionTable[from] {
		if target == to {
			return true
		}
	}
	return false
}
