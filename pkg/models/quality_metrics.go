package models

import (
	"time"

	"github.com/google/uuid"
)

// QualityMetrics accumulates pipeline quality data for an encounter, at most
// one row per encounter. Fields are written by different steps, possibly in
// different invocations, so every field is a pointer: a nil field in an
// update means "leave whatever an earlier step wrote". System-internal;
// read-only to everything outside the pipeline.
type QualityMetrics struct {
	ID                    uuid.UUID `json:"-"`
	EncounterID           uuid.UUID `json:"-"`
	TranscriptConfidence  *float64  `json:"transcript_confidence,omitempty"`
	TranscriptWordCount   *int      `json:"transcript_word_count,omitempty"`
	SOAPSectionsComplete  *int      `json:"soap_sections_complete,omitempty"`
	PromptTokens          *int      `json:"prompt_tokens,omitempty"`
	CompletionTokens      *int      `json:"completion_tokens,omitempty"`
	Model                 *string   `json:"model,omitempty"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// ConfidencePct renders transcript confidence as a percentage, or -1 when
// the transcription provider reported no confidence.
func (m *QualityMetrics) ConfidencePct() float64 {
	if m.TranscriptConfidence == nil {
		return -1
	}
	return *m.TranscriptConfidence * 100
}

// SOAPCompletenessPct renders note completeness as a percentage of the four
// sections, or -1 when note generation has not run.
func (m *QualityMetrics) SOAPCompletenessPct() float64 {
	if m.SOAPSectionsComplete == nil {
		return -1
	}
	return float64(*m.SOAPSectionsComplete) / 4 * 100
}
