package models

import (
	"time"

	"github.com/google/uuid"
)

// Transcript holds the speech-to-text output for an encounter, one row per
// encounter. RedactedText stays nil until the redaction step runs and is
// written exactly once.
type Transcript struct {
	ID           uuid.UUID `json:"-"`
	EncounterID  uuid.UUID `json:"-"`
	RawText      string    `json:"raw_text"`
	RedactedText *string   `json:"redacted_text,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// IsRedacted returns true once the redaction step has filled RedactedText.
func (t *Transcript) IsRedacted() bool {
	return t != nil && t.RedactedText != nil
}
