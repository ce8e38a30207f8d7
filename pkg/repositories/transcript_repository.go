package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/aurelia-health/scribe-engine/pkg/database"
	"github.com/aurelia-health/scribe-engine/pkg/models"
)

// TranscriptRepository provides data access for transcripts.
type TranscriptRepository interface {
	// CreateIfAbsent inserts the transcript unless one already exists for
	// the encounter. Returns true when this call inserted the row. The
	// UNIQUE constraint on encounter_id makes concurrent executions of the
	// transcription step converge to one stored result.
	CreateIfAbsent(ctx context.Context, transcript *models.Transcript) (bool, error)

	GetByEncounter(ctx context.Context, encounterID uuid.UUID) (*models.Transcript, error)

	// SetRedactedText fills redacted_text exactly once. Returns true when
	// this call performed the write; false means it was already set.
	SetRedactedText(ctx context.Context, encounterID uuid.UUID, redactedText string) (bool, error)
}

type transcriptRepository struct {
	db *database.DB
}

// NewTranscriptRepository creates a new TranscriptRepository.
func NewTranscriptRepository(db *database.DB) TranscriptRepository {
	return &transcriptRepository{db: db}
}

var _ TranscriptRepository = (*transcriptRepository)(nil)

func (r *transcriptRepository) CreateIfAbsent(ctx context.Context, transcript *models.Transcript) (bool, error) {
	transcript.CreatedAt = time.Now()
	if transcript.ID == uuid.Nil {
		transcript.ID = uuid.New()
	}

	query := `
		INSERT INTO transcripts (id, encounter_id, raw_text, redacted_text, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (encounter_id) DO NOTHING`

	tag, err := r.db.Exec(ctx, query,
		transcript.ID, transcript.EncounterID, transcript.RawText,
		transcript.RedactedText, transcript.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to create transcript: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *transcriptRepository) GetByEncounter(ctx context.Context, encounterID uuid.UUID) (*models.Transcript, error) {
	query := `
		SELECT id, encounter_id, raw_text, redacted_text, created_at
		FROM transcripts
		WHERE encounter_id = $1`

	var t models.Transcript
	err := r.db.QueryRow(ctx, query, encounterID).Scan(
		&t.ID, &t.EncounterID, &t.RawText, &t.RedactedText, &t.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get transcript: %w", err)
	}
	return &t, nil
}

func (r *transcriptRepository) SetRedactedText(ctx context.Context, encounterID uuid.UUID, redactedText string) (bool, error) {
	query := `
		UPDATE transcripts
		SET redacted_text = $1
		WHERE encounter_id = $2 AND redacted_text IS NULL`

	tag, err := r.db.Exec(ctx, query, redactedText, encounterID)
	if err != nil {
		return false, fmt.Errorf("failed to set redacted text: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
