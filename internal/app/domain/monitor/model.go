// Package monitor holds the records and reports of the workflow monitor.
package monitor

import (
	"time"

	"github.com/R3E-Network/training_workflow/internal/app/domain/session"
)

// AttemptKind distinguishes plain transitions from publish requests.
type AttemptKind string

const (
	AttemptTransition AttemptKind = "transition"
	AttemptPublish    AttemptKind = "publish"
)

// Attempt records the outcome of one transition or publish request. Failed
// attempts are only ever visible here; they never reach status history.
type Attempt struct {
	ID        string         `json:"id" db:"id"`
	SessionID string         `json:"session_id" db:"session_id"`
	Kind      AttemptKind    `json:"kind" db:"kind"`
	From      session.Status `json:"from" db:"from_status"`
	To        session.Status `json:"to" db:"to_status"`
	Actor     string         `json:"actor" db:"actor"`
	Automated bool           `json:"automated" db:"automated"`
	Succeeded bool           `json:"succeeded" db:"succeeded"`
	ErrorCode string         `json:"error_code,omitempty" db:"error_code"`
	CreatedAt time.Time      `json:"created_at" db:"created_at"`
}

// Health is the overall workflow health tag.
type Health string

const (
	HealthHealthy   Health = "healthy"
	HealthDegraded  Health = "degraded"
	HealthUnhealthy Health = "unhealthy"
)

// HealthReport is the result of a health check.
type HealthReport struct {
	Status             Health    `json:"status"`
	Window             int       `json:"window"`
	AutomatedAttempts  int       `json:"automated_attempts"`
	AutomatedFailures  int       `json:"automated_failures"`
	FailureRate        float64   `json:"failure_rate"`
	PublishAttempts    int       `json:"publish_attempts"`
	PublishFailures    int       `json:"publish_failures"`
	PublishFailureRate float64   `json:"publish_failure_rate"`
	Issues             []string  `json:"issues"`
	CheckedAt          time.Time `json:"checked_at"`
}

// WorkflowMetrics aggregates state across sessions.
type WorkflowMetrics struct {
	TotalSessions         int                              `json:"total_sessions"`
	CountsByStatus        map[session.Status]int           `json:"counts_by_status"`
	AverageDwell          map[session.Status]time.Duration `json:"-"`
	AverageDwellSeconds   map[session.Status]float64       `json:"average_dwell_seconds"`
	BlockedFromPublishing int                              `json:"blocked_from_publishing"`
	BlockedSessionIDs     []string                         `json:"blocked_session_ids"`
	CollectedAt           time.Time                        `json:"collected_at"`
}
