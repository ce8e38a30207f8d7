package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// SectionNotDocumented is the literal text the note generator emits for a
// SOAP section that cannot be determined from the transcript.
const SectionNotDocumented = "Not documented in this consultation."

// SOAPNote is the structured clinical note for a completed encounter.
// All four sections are non-empty: either clinical content or the
// SectionNotDocumented placeholder. Immutable once created.
type SOAPNote struct {
	ID          uuid.UUID `json:"-"`
	EncounterID uuid.UUID `json:"-"`
	Subjective  string    `json:"subjective"`
	Objective   string    `json:"objective"`
	Assessment  string    `json:"assessment"`
	Plan        string    `json:"plan"`
	CreatedAt   time.Time `json:"created_at"`
}

// Sections returns the four sections in SOAP order.
func (n *SOAPNote) Sections() []string {
	return []string{n.Subjective, n.Objective, n.Assessment, n.Plan}
}

// CompletedSections counts sections holding substantive content, i.e. whose
// trimmed text differs from the SectionNotDocumented placeholder.
func (n *SOAPNote) CompletedSections() int {
	count := 0
	for _, s := range n.Sections() {
		if strings.TrimSpace(s) != SectionNotDocumented {
			count++
		}
	}
	return count
}
