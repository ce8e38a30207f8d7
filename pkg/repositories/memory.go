package repositories

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aurelia-health/scribe-engine/pkg/models"
)

// In-memory implementations of the repository interfaces, mirroring the
// Postgres semantics (compare-and-swap, create-if-absent, field merge) so
// the pipeline's idempotence behavior can be tested without a database.

// MemoryEncounterRepository is a thread-safe in-memory EncounterRepository.
type MemoryEncounterRepository struct {
	mu         sync.Mutex
	encounters map[uuid.UUID]*models.Encounter
}

// NewMemoryEncounterRepository creates an empty MemoryEncounterRepository.
func NewMemoryEncounterRepository() *MemoryEncounterRepository {
	return &MemoryEncounterRepository{encounters: make(map[uuid.UUID]*models.Encounter)}
}

var _ EncounterRepository = (*MemoryEncounterRepository)(nil)

func (r *MemoryEncounterRepository) Create(ctx context.Context, encounter *models.Encounter) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	encounter.CreatedAt = now
	encounter.UpdatedAt = now
	if encounter.ID == uuid.Nil {
		encounter.ID = uuid.New()
	}
	if encounter.Status == "" {
		encounter.Status = models.EncounterStatusPending
	}
	clone := *encounter
	r.encounters[encounter.ID] = &clone
	return nil
}

func (r *MemoryEncounterRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Encounter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	encounter, ok := r.encounters[id]
	if !ok {
		return nil, nil
	}
	clone := *encounter
	return &clone, nil
}

func (r *MemoryEncounterRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.Encounter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var owned []*models.Encounter
	for _, e := range r.encounters {
		if e.UserID == userID {
			clone := *e
			owned = append(owned, &clone)
		}
	}
	sort.Slice(owned, func(i, j int) bool {
		return owned[i].CreatedAt.After(owned[j].CreatedAt)
	})

	if offset >= len(owned) {
		return nil, nil
	}
	owned = owned[offset:]
	if limit < len(owned) {
		owned = owned[:limit]
	}
	return owned, nil
}

func (r *MemoryEncounterRepository) CountByUser(ctx context.Context, userID uuid.UUID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for _, e := range r.encounters {
		if e.UserID == userID {
			count++
		}
	}
	return count, nil
}

func (r *MemoryEncounterRepository) AdvanceStatus(ctx context.Context, id uuid.UUID, from, to models.EncounterStatus) (bool, error) {
	if !from.CanTransitionTo(to) {
		return false, fmt.Errorf("invalid status transition %s -> %s", from, to)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	encounter, ok := r.encounters[id]
	if !ok || encounter.Status != from {
		return false, nil
	}
	encounter.Status = to
	encounter.ErrorMessage = nil
	encounter.UpdatedAt = time.Now()
	return true, nil
}

func (r *MemoryEncounterRepository) MarkFailed(ctx context.Context, id uuid.UUID, errorMessage string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	encounter, ok := r.encounters[id]
	if !ok || encounter.Status == models.EncounterStatusCompleted {
		return nil
	}
	encounter.Status = models.EncounterStatusFailed
	encounter.ErrorMessage = &errorMessage
	encounter.UpdatedAt = time.Now()
	return nil
}

func (r *MemoryEncounterRepository) SetStatus(ctx context.Context, id uuid.UUID, status models.EncounterStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	encounter, ok := r.encounters[id]
	if !ok {
		return nil
	}
	encounter.Status = status
	encounter.ErrorMessage = nil
	encounter.UpdatedAt = time.Now()
	return nil
}

// MemoryTranscriptRepository is a thread-safe in-memory TranscriptRepository.
type MemoryTranscriptRepository struct {
	mu          sync.Mutex
	transcripts map[uuid.UUID]*models.Transcript // keyed by encounter ID
}

// NewMemoryTranscriptRepository creates an empty MemoryTranscriptRepository.
func NewMemoryTranscriptRepository() *MemoryTranscriptRepository {
	return &MemoryTranscriptRepository{transcripts: make(map[uuid.UUID]*models.Transcript)}
}

var _ TranscriptRepository = (*MemoryTranscriptRepository)(nil)

func (r *MemoryTranscriptRepository) CreateIfAbsent(ctx context.Context, transcript *models.Transcript) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.transcripts[transcript.EncounterID]; exists {
		return false, nil
	}
	transcript.CreatedAt = time.Now()
	if transcript.ID == uuid.Nil {
		transcript.ID = uuid.New()
	}
	clone := *transcript
	r.transcripts[transcript.EncounterID] = &clone
	return true, nil
}

func (r *MemoryTranscriptRepository) GetByEncounter(ctx context.Context, encounterID uuid.UUID) (*models.Transcript, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	transcript, ok := r.transcripts[encounterID]
	if !ok {
		return nil, nil
	}
	clone := *transcript
	return &clone, nil
}

func (r *MemoryTranscriptRepository) SetRedactedText(ctx context.Context, encounterID uuid.UUID, redactedText string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	transcript, ok := r.transcripts[encounterID]
	if !ok || transcript.RedactedText != nil {
		return false, nil
	}
	transcript.RedactedText = &redactedText
	return true, nil
}

// MemorySOAPNoteRepository is a thread-safe in-memory SOAPNoteRepository.
type MemorySOAPNoteRepository struct {
	mu    sync.Mutex
	notes map[uuid.UUID]*models.SOAPNote // keyed by encounter ID
}

// NewMemorySOAPNoteRepository creates an empty MemorySOAPNoteRepository.
func NewMemorySOAPNoteRepository() *MemorySOAPNoteRepository {
	return &MemorySOAPNoteRepository{notes: make(map[uuid.UUID]*models.SOAPNote)}
}

var _ SOAPNoteRepository = (*MemorySOAPNoteRepository)(nil)

func (r *MemorySOAPNoteRepository) CreateIfAbsent(ctx context.Context, note *models.SOAPNote) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.notes[note.EncounterID]; exists {
		return false, nil
	}
	note.CreatedAt = time.Now()
	if note.ID == uuid.Nil {
		note.ID = uuid.New()
	}
	clone := *note
	r.notes[note.EncounterID] = &clone
	return true, nil
}

func (r *MemorySOAPNoteRepository) GetByEncounter(ctx context.Context, encounterID uuid.UUID) (*models.SOAPNote, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	note, ok := r.notes[encounterID]
	if !ok {
		return nil, nil
	}
	clone := *note
	return &clone, nil
}

// MemoryQualityMetricsRepository is a thread-safe in-memory
// QualityMetricsRepository with COALESCE-style field merging.
type MemoryQualityMetricsRepository struct {
	mu      sync.Mutex
	metrics map[uuid.UUID]*models.QualityMetrics // keyed by encounter ID
}

// NewMemoryQualityMetricsRepository creates an empty MemoryQualityMetricsRepository.
func NewMemoryQualityMetricsRepository() *MemoryQualityMetricsRepository {
	return &MemoryQualityMetricsRepository{metrics: make(map[uuid.UUID]*models.QualityMetrics)}
}

var _ QualityMetricsRepository = (*MemoryQualityMetricsRepository)(nil)

func (r *MemoryQualityMetricsRepository) Merge(ctx context.Context, update *models.QualityMetrics) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	existing, ok := r.metrics[update.EncounterID]
	if !ok {
		if update.ID == uuid.Nil {
			update.ID = uuid.New()
		}
		update.CreatedAt = now
		update.UpdatedAt = now
		clone := *update
		r.metrics[update.EncounterID] = &clone
		return nil
	}

	// Incoming non-nil fields win, nil fields preserve the stored value.
	if update.TranscriptConfidence != nil {
		existing.TranscriptConfidence = update.TranscriptConfidence
	}
	if update.TranscriptWordCount != nil {
		existing.TranscriptWordCount = update.TranscriptWordCount
	}
	if update.SOAPSectionsComplete != nil {
		existing.SOAPSectionsComplete = update.SOAPSectionsComplete
	}
	if update.PromptTokens != nil {
		existing.PromptTokens = update.PromptTokens
	}
	if update.CompletionTokens != nil {
		existing.CompletionTokens = update.CompletionTokens
	}
	if update.Model != nil {
		existing.Model = update.Model
	}
	existing.UpdatedAt = now
	return nil
}

func (r *MemoryQualityMetricsRepository) GetByEncounter(ctx context.Context, encounterID uuid.UUID) (*models.QualityMetrics, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	metrics, ok := r.metrics[encounterID]
	if !ok {
		return nil, nil
	}
	clone := *metrics
	return &clone, nil
}
