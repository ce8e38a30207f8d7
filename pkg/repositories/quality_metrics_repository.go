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

// QualityMetricsRepository provides data access for pipeline quality metrics.
type QualityMetricsRepository interface {
	// Merge upserts the metrics row for an encounter, field by field: a nil
	// field in the update leaves the stored value untouched, so steps
	// running in different invocations never clobber each other's fields.
	Merge(ctx context.Context, metrics *models.QualityMetrics) error

	GetByEncounter(ctx context.Context, encounterID uuid.UUID) (*models.QualityMetrics, error)
}

type qualityMetricsRepository struct {
	db *database.DB
}

// NewQualityMetricsRepository creates a new QualityMetricsRepository.
func NewQualityMetricsRepository(db *database.DB) QualityMetricsRepository {
	return &qualityMetricsRepository{db: db}
}

var _ QualityMetricsRepository = (*qualityMetricsRepository)(nil)

func (r *qualityMetricsRepository) Merge(ctx context.Context, metrics *models.QualityMetrics) error {
	now := time.Now()
	metrics.CreatedAt = now
	metrics.UpdatedAt = now
	if metrics.ID == uuid.Nil {
		metrics.ID = uuid.New()
	}

	// COALESCE(EXCLUDED.x, existing.x): incoming non-null values win,
	// incoming nulls preserve what an earlier step wrote.
	query := `
		INSERT INTO quality_metrics (
			id, encounter_id,
			transcript_confidence, transcript_word_count, soap_sections_complete,
			prompt_tokens, completion_tokens, model,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (encounter_id) DO UPDATE SET
			transcript_confidence  = COALESCE(EXCLUDED.transcript_confidence, quality_metrics.transcript_confidence),
			transcript_word_count  = COALESCE(EXCLUDED.transcript_word_count, quality_metrics.transcript_word_count),
			soap_sections_complete = COALESCE(EXCLUDED.soap_sections_complete, quality_metrics.soap_sections_complete),
			prompt_tokens          = COALESCE(EXCLUDED.prompt_tokens, quality_metrics.prompt_tokens),
			completion_tokens      = COALESCE(EXCLUDED.completion_tokens, quality_metrics.completion_tokens),
			model                  = COALESCE(EXCLUDED.model, quality_metrics.model),
			updated_at             = EXCLUDED.updated_at`

	_, err := r.db.Exec(ctx, query,
		metrics.ID, metrics.EncounterID,
		metrics.TranscriptConfidence, metrics.TranscriptWordCount, metrics.SOAPSectionsComplete,
		metrics.PromptTokens, metrics.CompletionTokens, metrics.Model,
		metrics.CreatedAt, metrics.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to merge quality metrics: %w", err)
	}
	return nil
}

func (r *qualityMetricsRepository) GetByEncounter(ctx context.Context, encounterID uuid.UUID) (*models.QualityMetrics, error) {
	query := `
		SELECT id, encounter_id,
		       transcript_confidence, transcript_word_count, soap_sections_complete,
		       prompt_tokens, completion_tokens, model,
		       created_at, updated_at
		FROM quality_metrics
		WHERE encounter_id = $1`

	var m models.QualityMetrics
	err := r.db.QueryRow(ctx, query, encounterID).Scan(
		&m.ID, &m.EncounterID,
		&m.TranscriptConfidence, &m.TranscriptWordCount, &m.SOAPSectionsComplete,
		&m.PromptTokens, &m.CompletionTokens, &m.Model,
		&m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get quality metrics: %w", err)
	}
	return &m, nil
}
