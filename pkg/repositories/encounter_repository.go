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

// EncounterRepository provides data access for encounters.
//
// Status writes go through compare-and-swap methods so that two concurrent
// deliveries of the same job converge: only one of them wins the transition,
// the other sees zero rows updated and re-reads.
type EncounterRepository interface {
	Create(ctx context.Context, encounter *models.Encounter) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Encounter, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.Encounter, error)
	CountByUser(ctx context.Context, userID uuid.UUID) (int, error)

	// AdvanceStatus transitions from the expected current status to the next
	// one. Returns true if this call performed the transition, false if the
	// row was not in the expected status (already advanced, or failed).
	AdvanceStatus(ctx context.Context, id uuid.UUID, from, to models.EncounterStatus) (bool, error)

	// MarkFailed records a failure: status becomes failed and the error text
	// is stored for the status endpoint. Completed encounters are left alone.
	MarkFailed(ctx context.Context, id uuid.UUID, errorMessage string) error

	// SetStatus force-sets the status, clearing any stored error. Used when
	// resuming a failed encounter at the state its step results support.
	SetStatus(ctx context.Context, id uuid.UUID, status models.EncounterStatus) error
}

type encounterRepository struct {
	db *database.DB
}

// NewEncounterRepository creates a new EncounterRepository.
func NewEncounterRepository(db *database.DB) EncounterRepository {
	return &encounterRepository{db: db}
}

var _ EncounterRepository = (*encounterRepository)(nil)

func (r *encounterRepository) Create(ctx context.Context, encounter *models.Encounter) error {
	now := time.Now()
	encounter.CreatedAt = now
	encounter.UpdatedAt = now
	if encounter.ID == uuid.Nil {
		encounter.ID = uuid.New()
	}
	if encounter.Status == "" {
		encounter.Status = models.EncounterStatusPending
	}

	query := `
		INSERT INTO encounters (
			id, user_id, original_filename, audio_ref,
			status, error_message, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.db.Exec(ctx, query,
		encounter.ID, encounter.UserID, encounter.OriginalFilename, encounter.AudioRef,
		encounter.Status, encounter.ErrorMessage, encounter.CreatedAt, encounter.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create encounter: %w", err)
	}
	return nil
}

func (r *encounterRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Encounter, error) {
	query := `
		SELECT id, user_id, original_filename, audio_ref,
		       status, error_message, created_at, updated_at
		FROM encounters
		WHERE id = $1`

	row := r.db.QueryRow(ctx, query, id)
	encounter, err := scanEncounterRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return encounter, nil
}

func (r *encounterRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.Encounter, error) {
	query := `
		SELECT id, user_id, original_filename, audio_ref,
		       status, error_message, created_at, updated_at
		FROM encounters
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.db.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list encounters: %w", err)
	}
	defer rows.Close()

	var encounters []*models.Encounter
	for rows.Next() {
		encounter, err := scanEncounterRow(rows)
		if err != nil {
			return nil, err
		}
		encounters = append(encounters, encounter)
	}
	return encounters, rows.Err()
}

func (r *encounterRepository) CountByUser(ctx context.Context, userID uuid.UUID) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM encounters WHERE user_id = $1`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count encounters: %w", err)
	}
	return count, nil
}

func (r *encounterRepository) AdvanceStatus(ctx context.Context, id uuid.UUID, from, to models.EncounterStatus) (bool, error) {
	if !from.CanTransitionTo(to) {
		return false, fmt.Errorf("invalid status transition %s -> %s", from, to)
	}

	query := `
		UPDATE encounters
		SET status = $1, error_message = NULL, updated_at = now()
		WHERE id = $2 AND status = $3`

	tag, err := r.db.Exec(ctx, query, to, id, from)
	if err != nil {
		return false, fmt.Errorf("failed to advance encounter status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *encounterRepository) MarkFailed(ctx context.Context, id uuid.UUID, errorMessage string) error {
	query := `
		UPDATE encounters
		SET status = $1, error_message = $2, updated_at = now()
		WHERE id = $3 AND status <> $4`

	_, err := r.db.Exec(ctx, query,
		models.EncounterStatusFailed, errorMessage, id, models.EncounterStatusCompleted)
	if err != nil {
		return fmt.Errorf("failed to mark encounter failed: %w", err)
	}
	return nil
}

func (r *encounterRepository) SetStatus(ctx context.Context, id uuid.UUID, status models.EncounterStatus) error {
	query := `
		UPDATE encounters
		SET status = $1, error_message = NULL, updated_at = now()
		WHERE id = $2`

	_, err := r.db.Exec(ctx, query, status, id)
	if err != nil {
		return fmt.Errorf("failed to set encounter status: %w", err)
	}
	return nil
}

// scanEncounterRow scans a single encounter from a row.
func scanEncounterRow(row pgx.Row) (*models.Encounter, error) {
	var e models.Encounter
	err := row.Scan(
		&e.ID, &e.UserID, &e.OriginalFilename, &e.AudioRef,
		&e.Status, &e.ErrorMessage, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan encounter: %w", err)
	}
	return &e, nil
}
