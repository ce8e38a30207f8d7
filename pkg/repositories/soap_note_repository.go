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

// SOAPNoteRepository provides data access for structured notes.
type SOAPNoteRepository interface {
	// CreateIfAbsent inserts the note unless one already exists for the
	// encounter. Returns true when this call inserted the row.
	CreateIfAbsent(ctx context.Context, note *models.SOAPNote) (bool, error)

	GetByEncounter(ctx context.Context, encounterID uuid.UUID) (*models.SOAPNote, error)
}

type soapNoteRepository struct {
	db *database.DB
}

// NewSOAPNoteRepository creates a new SOAPNoteRepository.
func NewSOAPNoteRepository(db *database.DB) SOAPNoteRepository {
	return &soapNoteRepository{db: db}
}

var _ SOAPNoteRepository = (*soapNoteRepository)(nil)

func (r *soapNoteRepository) CreateIfAbsent(ctx context.Context, note *models.SOAPNote) (bool, error) {
	note.CreatedAt = time.Now()
	if note.ID == uuid.Nil {
		note.ID = uuid.New()
	}

	query := `
		INSERT INTO soap_notes (id, encounter_id, subjective, objective, assessment, plan, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (encounter_id) DO NOTHING`

	tag, err := r.db.Exec(ctx, query,
		note.ID, note.EncounterID,
		note.Subjective, note.Objective, note.Assessment, note.Plan,
		note.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to create soap note: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *soapNoteRepository) GetByEncounter(ctx context.Context, encounterID uuid.UUID) (*models.SOAPNote, error) {
	query := `
		SELECT id, encounter_id, subjective, objective, assessment, plan, created_at
		FROM soap_notes
		WHERE encounter_id = $1`

	var n models.SOAPNote
	err := r.db.QueryRow(ctx, query, encounterID).Scan(
		&n.ID, &n.EncounterID,
		&n.Subjective, &n.Objective, &n.Assessment, &n.Plan,
		&n.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get soap note: %w", err)
	}
	return &n, nil
}
