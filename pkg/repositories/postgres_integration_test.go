package repositories

import (
	"context"
	"database/sql"
	"testing"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aurelia-health/scribe-engine/pkg/database"
	"github.com/aurelia-health/scribe-engine/pkg/models"
	"github.com/aurelia-health/scribe-engine/pkg/testhelpers"
)

// setupDB starts a disposable Postgres, applies migrations and returns a
// connected pool.
func setupDB(t *testing.T) *database.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container-backed integration test in short mode")
	}

	url := testhelpers.StartPostgres(t)
	ctx := context.Background()

	migrationDB, err := sql.Open("pgx", url)
	require.NoError(t, err)
	require.NoError(t, database.RunMigrations(migrationDB, "../../migrations", zap.NewNop()))
	require.NoError(t, migrationDB.Close())

	db, err := database.NewConnection(ctx, &database.Config{URL: url})
	require.NoError(t, err)
	t.Cleanup(db.Close)
	return db
}

func createTestEncounter(t *testing.T, repo EncounterRepository) *models.Encounter {
	t.Helper()
	encounter := &models.Encounter{
		UserID:           uuid.New(),
		OriginalFilename: "consult.mp3",
		AudioRef:         "/tmp/consult.mp3",
	}
	require.NoError(t, repo.Create(context.Background(), encounter))
	return encounter
}

func TestPostgresRepositories(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	encounters := NewEncounterRepository(db)
	transcripts := NewTranscriptRepository(db)
	notes := NewSOAPNoteRepository(db)
	metrics := NewQualityMetricsRepository(db)

	t.Run("encounter round trip", func(t *testing.T) {
		encounter := createTestEncounter(t, encounters)

		got, err := encounters.GetByID(ctx, encounter.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, models.EncounterStatusPending, got.Status)
		assert.Equal(t, "consult.mp3", got.OriginalFilename)

		missing, err := encounters.GetByID(ctx, uuid.New())
		require.NoError(t, err)
		assert.Nil(t, missing)
	})

	t.Run("advance status is compare and swap", func(t *testing.T) {
		encounter := createTestEncounter(t, encounters)

		advanced, err := encounters.AdvanceStatus(ctx, encounter.ID,
			models.EncounterStatusPending, models.EncounterStatusTranscribed)
		require.NoError(t, err)
		assert.True(t, advanced)

		// Second identical CAS loses: the row is no longer pending.
		advanced, err = encounters.AdvanceStatus(ctx, encounter.ID,
			models.EncounterStatusPending, models.EncounterStatusTranscribed)
		require.NoError(t, err)
		assert.False(t, advanced)

		// Skipping a state is rejected before touching the database.
		_, err = encounters.AdvanceStatus(ctx, encounter.ID,
			models.EncounterStatusTranscribed, models.EncounterStatusCompleted)
		assert.Error(t, err)
	})

	t.Run("mark failed leaves completed rows alone", func(t *testing.T) {
		encounter := createTestEncounter(t, encounters)
		require.NoError(t, encounters.SetStatus(ctx, encounter.ID, models.EncounterStatusCompleted))

		require.NoError(t, encounters.MarkFailed(ctx, encounter.ID, "too late"))

		got, err := encounters.GetByID(ctx, encounter.ID)
		require.NoError(t, err)
		assert.Equal(t, models.EncounterStatusCompleted, got.Status)
		assert.Nil(t, got.ErrorMessage)
	})

	t.Run("transcript create if absent", func(t *testing.T) {
		encounter := createTestEncounter(t, encounters)

		inserted, err := transcripts.CreateIfAbsent(ctx, &models.Transcript{
			EncounterID: encounter.ID, RawText: "first",
		})
		require.NoError(t, err)
		assert.True(t, inserted)

		inserted, err = transcripts.CreateIfAbsent(ctx, &models.Transcript{
			EncounterID: encounter.ID, RawText: "second",
		})
		require.NoError(t, err)
		assert.False(t, inserted)

		got, err := transcripts.GetByEncounter(ctx, encounter.ID)
		require.NoError(t, err)
		assert.Equal(t, "first", got.RawText)
	})

	t.Run("redacted text is written exactly once", func(t *testing.T) {
		encounter := createTestEncounter(t, encounters)
		_, err := transcripts.CreateIfAbsent(ctx, &models.Transcript{
			EncounterID: encounter.ID, RawText: "my name is Jane",
		})
		require.NoError(t, err)

		wrote, err := transcripts.SetRedactedText(ctx, encounter.ID, "my name is [PERSON]")
		require.NoError(t, err)
		assert.True(t, wrote)

		wrote, err = transcripts.SetRedactedText(ctx, encounter.ID, "overwrite attempt")
		require.NoError(t, err)
		assert.False(t, wrote)

		got, err := transcripts.GetByEncounter(ctx, encounter.ID)
		require.NoError(t, err)
		require.NotNil(t, got.RedactedText)
		assert.Equal(t, "my name is [PERSON]", *got.RedactedText)
	})

	t.Run("note create if absent", func(t *testing.T) {
		encounter := createTestEncounter(t, encounters)

		inserted, err := notes.CreateIfAbsent(ctx, &models.SOAPNote{
			EncounterID: encounter.ID,
			Subjective:  "s", Objective: "o", Assessment: "a", Plan: "p",
		})
		require.NoError(t, err)
		assert.True(t, inserted)

		inserted, err = notes.CreateIfAbsent(ctx, &models.SOAPNote{
			EncounterID: encounter.ID,
			Subjective:  "dup", Objective: "dup", Assessment: "dup", Plan: "dup",
		})
		require.NoError(t, err)
		assert.False(t, inserted)
	})

	t.Run("metrics merge by field", func(t *testing.T) {
		encounter := createTestEncounter(t, encounters)

		confidence := 0.92
		wordCount := 4
		require.NoError(t, metrics.Merge(ctx, &models.QualityMetrics{
			EncounterID:          encounter.ID,
			TranscriptConfidence: &confidence,
			TranscriptWordCount:  &wordCount,
		}))

		sections := 3
		model := "llama-3.3-70b-versatile"
		require.NoError(t, metrics.Merge(ctx, &models.QualityMetrics{
			EncounterID:          encounter.ID,
			SOAPSectionsComplete: &sections,
			Model:                &model,
		}))

		got, err := metrics.GetByEncounter(ctx, encounter.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		// Both steps' fields coexist: the second merge did not clobber
		// the first step's values.
		require.NotNil(t, got.TranscriptConfidence)
		assert.InDelta(t, 0.92, *got.TranscriptConfidence, 0.0001)
		require.NotNil(t, got.TranscriptWordCount)
		assert.Equal(t, 4, *got.TranscriptWordCount)
		require.NotNil(t, got.SOAPSectionsComplete)
		assert.Equal(t, 3, *got.SOAPSectionsComplete)
		require.NotNil(t, got.Model)
		assert.Equal(t, model, *got.Model)
	})
}
