package models

import (
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// Encounter Status
// ============================================================================

// EncounterStatus represents the pipeline state of an encounter.
// State machine:
//
//	pending → transcribed → redacted → completed
//
//	Any non-terminal state can transition to: failed
//	failed is retryable: a new job resumes at the step after the last
//	completed one.
type EncounterStatus string

const (
	EncounterStatusPending     EncounterStatus = "pending"
	EncounterStatusTranscribed EncounterStatus = "transcribed"
	EncounterStatusRedacted    EncounterStatus = "redacted"
	EncounterStatusCompleted   EncounterStatus = "completed"
	EncounterStatusFailed      EncounterStatus = "failed"
)

// ValidEncounterStatuses contains all valid status values.
var ValidEncounterStatuses = []EncounterStatus{
	EncounterStatusPending,
	EncounterStatusTranscribed,
	EncounterStatusRedacted,
	EncounterStatusCompleted,
	EncounterStatusFailed,
}

// IsValidEncounterStatus checks if the given status is valid.
func IsValidEncounterStatus(s EncounterStatus) bool {
	for _, v := range ValidEncounterStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// IsTerminal returns true if the status is completed. Failed is not terminal
// in the state-machine sense: a redelivered job may resume from it. Whether a
// failed encounter is permanently dead is the scheduler's call (retry budget),
// not the state machine's.
func (s EncounterStatus) IsTerminal() bool {
	return s == EncounterStatusCompleted
}

// rank orders the normal progression for monotonicity checks.
// Failed sits outside the order.
func (s EncounterStatus) rank() int {
	switch s {
	case EncounterStatusPending:
		return 0
	case EncounterStatusTranscribed:
		return 1
	case EncounterStatusRedacted:
		return 2
	case EncounterStatusCompleted:
		return 3
	default:
		return -1
	}
}

// CanTransitionTo returns true if transitioning from this status to the
// target is valid. Status only moves forward along the pipeline, except that
// any non-completed state may fall into failed, and failed may re-enter the
// pipeline at whichever state the step results support.
func (s EncounterStatus) CanTransitionTo(target EncounterStatus) bool {
	if target == EncounterStatusFailed {
		return s != EncounterStatusCompleted
	}
	if s == EncounterStatusFailed {
		return target.rank() >= 0
	}
	return target.rank() == s.rank()+1
}

// ============================================================================
// Encounter Model
// ============================================================================

// Encounter is one end-to-end processing job for an uploaded consultation
// recording. Creation fields are write-once; status and error_message are
// mutated only by the pipeline.
type Encounter struct {
	ID               uuid.UUID       `json:"id"`
	UserID           uuid.UUID       `json:"user_id"`
	OriginalFilename string          `json:"original_filename"`
	AudioRef         string          `json:"-"`
	Status           EncounterStatus `json:"status"`
	ErrorMessage     *string         `json:"error_message,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}
