// Package services contains the encounter processing pipeline: the state
// machine that drives an uploaded recording through transcription, PII
// redaction and SOAP note generation.
package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aurelia-health/scribe-engine/pkg/logging"
	"github.com/aurelia-health/scribe-engine/pkg/models"
	"github.com/aurelia-health/scribe-engine/pkg/repositories"
	"github.com/aurelia-health/scribe-engine/pkg/retry"
	"github.com/aurelia-health/scribe-engine/pkg/storage"
	"github.com/aurelia-health/scribe-engine/pkg/transcription"
)

// ============================================================================
// Steps and Outcomes
// ============================================================================

// Step identifies one unit of pipeline work.
type Step string

const (
	StepTranscription  Step = "transcription"
	StepRedaction      Step = "redaction"
	StepNoteGeneration Step = "note_generation"
	// StepNone means no step applies to the current status (completed, or
	// failed and awaiting resumption).
	StepNone Step = "none"
)

// StepFor is the dispatch table mapping a persisted status to the step that
// runs next. Pure: testable without collaborators.
func StepFor(status models.EncounterStatus) Step {
	switch status {
	case models.EncounterStatusPending:
		return StepTranscription
	case models.EncounterStatusTranscribed:
		return StepRedaction
	case models.EncounterStatusRedacted:
		return StepNoteGeneration
	default:
		return StepNone
	}
}

// NextStatus is the transition function for a successful step. Pure.
func NextStatus(status models.EncounterStatus) models.EncounterStatus {
	switch status {
	case models.EncounterStatusPending:
		return models.EncounterStatusTranscribed
	case models.EncounterStatusTranscribed:
		return models.EncounterStatusRedacted
	case models.EncounterStatusRedacted:
		return models.EncounterStatusCompleted
	default:
		return status
	}
}

// StepOutcome is what one pipeline invocation reports back to the scheduling
// layer. The scheduler decides whether to redeliver; the pipeline only
// classifies.
type StepOutcome string

const (
	// OutcomeCompleted: the encounter reached COMPLETED (now or previously).
	OutcomeCompleted StepOutcome = "completed"
	// OutcomeRetry: a step failed with a transient error; redelivery within
	// the retry budget may succeed.
	OutcomeRetry StepOutcome = "retry"
	// OutcomeFatal: a step failed with an error that redelivery will not
	// fix (bad credentials, schema violation). Do not retry.
	OutcomeFatal StepOutcome = "fatal"
	// OutcomeNotFound: the encounter does not exist; drop the job without
	// touching any state.
	OutcomeNotFound StepOutcome = "not_found"
)

// ============================================================================
// Pipeline
// ============================================================================

// Redactor masks PII spans in text. Satisfied by redaction.Engine.
type Redactor interface {
	Redact(text string) string
}

// Pipeline orchestrates the processing steps for one encounter. It is the
// only writer of encounter status and of the step-result entities. Safe for
// concurrent use across encounters, and safe under duplicate delivery for
// the same encounter: every step re-reads persisted state, skips work whose
// result already exists, and advances status with a compare-and-swap.
type Pipeline struct {
	encounters  repositories.EncounterRepository
	transcripts repositories.TranscriptRepository
	notes       repositories.SOAPNoteRepository
	metrics     repositories.QualityMetricsRepository
	store       storage.AudioStore
	transcriber transcription.Transcriber
	redactor    Redactor
	generator   *SOAPGenerator
	logger      *zap.Logger
}

// NewPipeline creates a Pipeline with all collaborators injected.
func NewPipeline(
	encounters repositories.EncounterRepository,
	transcripts repositories.TranscriptRepository,
	notes repositories.SOAPNoteRepository,
	metrics repositories.QualityMetricsRepository,
	store storage.AudioStore,
	transcriber transcription.Transcriber,
	redactor Redactor,
	generator *SOAPGenerator,
	logger *zap.Logger,
) *Pipeline {
	return &Pipeline{
		encounters:  encounters,
		transcripts: transcripts,
		notes:       notes,
		metrics:     metrics,
		store:       store,
		transcriber: transcriber,
		redactor:    redactor,
		generator:   generator,
		logger:      logger.Named("pipeline"),
	}
}

// Process runs every applicable step for the encounter, back to back, until
// it is completed or a step fails. Redelivery-safe: see the type comment.
func (p *Pipeline) Process(ctx context.Context, encounterID uuid.UUID) (StepOutcome, error) {
	logger := p.logger.With(zap.String("encounter_id", encounterID.String()))

	encounter, err := p.encounters.GetByID(ctx, encounterID)
	if err != nil {
		return OutcomeRetry, err
	}
	if encounter == nil {
		logger.Warn("encounter not found, dropping job")
		return OutcomeNotFound, nil
	}

	if encounter.Status == models.EncounterStatusFailed {
		resumed, err := p.resumeStatus(ctx, encounterID)
		if err != nil {
			return OutcomeRetry, err
		}
		if err := p.encounters.SetStatus(ctx, encounterID, resumed); err != nil {
			return OutcomeRetry, err
		}
		logger.Info("resuming failed encounter", zap.String("resumed_status", string(resumed)))
	}

	for {
		// Re-read persisted status each iteration rather than trusting an
		// in-memory value: a concurrent duplicate delivery may have moved
		// the encounter along already.
		encounter, err = p.encounters.GetByID(ctx, encounterID)
		if err != nil {
			return OutcomeRetry, err
		}
		if encounter == nil {
			logger.Warn("encounter disappeared mid-pipeline")
			return OutcomeNotFound, nil
		}

		step := StepFor(encounter.Status)
		if step == StepNone {
			if encounter.Status == models.EncounterStatusCompleted {
				logger.Info("pipeline complete")
				return OutcomeCompleted, nil
			}
			// A concurrent invocation marked it failed between our read and
			// now. Hand the decision back to the scheduler.
			return OutcomeRetry, fmt.Errorf("encounter in status %s, no step applies", encounter.Status)
		}

		if err := p.runStep(ctx, encounter, step, logger); err != nil {
			return p.fail(ctx, encounterID, step, err, logger)
		}
	}
}

func (p *Pipeline) runStep(ctx context.Context, encounter *models.Encounter, step Step, logger *zap.Logger) error {
	logger.Info("running step",
		zap.String("step", string(step)),
		zap.String("status", string(encounter.Status)))

	switch step {
	case StepTranscription:
		return p.runTranscription(ctx, encounter, logger)
	case StepRedaction:
		return p.runRedaction(ctx, encounter, logger)
	case StepNoteGeneration:
		return p.runNoteGeneration(ctx, encounter, logger)
	default:
		return fmt.Errorf("unknown step %s", step)
	}
}

// fail converts a step error into persisted FAILED state plus a scheduler
// outcome. The stored message is sanitized: provider errors can echo API
// keys and connection strings.
func (p *Pipeline) fail(ctx context.Context, encounterID uuid.UUID, step Step, stepErr error, logger *zap.Logger) (StepOutcome, error) {
	message := fmt.Sprintf("%s failed: %s", step, logging.SanitizeError(stepErr))

	if err := p.encounters.MarkFailed(ctx, encounterID, message); err != nil {
		logger.Error("failed to persist failure state", zap.Error(err))
		return OutcomeRetry, stepErr
	}

	if retry.IsRetryable(stepErr) {
		logger.Warn("step failed, retryable",
			zap.String("step", string(step)), zap.Error(stepErr))
		return OutcomeRetry, stepErr
	}

	logger.Error("step failed, not retryable",
		zap.String("step", string(step)), zap.Error(stepErr))
	return OutcomeFatal, stepErr
}

// resumeStatus derives the state a failed encounter should re-enter the
// pipeline at, from which step results actually exist. This also heals a
// crash that landed between writing a step result and advancing status.
func (p *Pipeline) resumeStatus(ctx context.Context, encounterID uuid.UUID) (models.EncounterStatus, error) {
	note, err := p.notes.GetByEncounter(ctx, encounterID)
	if err != nil {
		return "", err
	}
	if note != nil {
		return models.EncounterStatusCompleted, nil
	}

	transcript, err := p.transcripts.GetByEncounter(ctx, encounterID)
	if err != nil {
		return "", err
	}
	switch {
	case transcript == nil:
		return models.EncounterStatusPending, nil
	case transcript.IsRedacted():
		return models.EncounterStatusRedacted, nil
	default:
		return models.EncounterStatusTranscribed, nil
	}
}

// ============================================================================
// Step implementations
// ============================================================================

// Each step follows the same shape: check for an existing result, invoke the
// collaborator only if the result is absent, write the result create-if-absent,
// then CAS the status forward. Result before status, always: a crash between
// the two is healed by the existence check on the next delivery.

func (p *Pipeline) runTranscription(ctx context.Context, encounter *models.Encounter, logger *zap.Logger) error {
	existing, err := p.transcripts.GetByEncounter(ctx, encounter.ID)
	if err != nil {
		return err
	}

	if existing == nil {
		audioRef, err := p.store.Resolve(ctx, encounter.AudioRef)
		if err != nil {
			return fmt.Errorf("resolve audio: %w", err)
		}

		// Provider call happens before any row is written, so a provider
		// error leaves no transcript behind.
		result, err := p.transcriber.Transcribe(ctx, audioRef)
		if err != nil {
			return fmt.Errorf("transcription: %w", err)
		}

		transcript := &models.Transcript{
			EncounterID: encounter.ID,
			RawText:     result.Text,
		}
		inserted, err := p.transcripts.CreateIfAbsent(ctx, transcript)
		if err != nil {
			return err
		}
		if inserted {
			wordCount := result.WordCount
			if err := p.metrics.Merge(ctx, &models.QualityMetrics{
				EncounterID:          encounter.ID,
				TranscriptConfidence: result.Confidence,
				TranscriptWordCount:  &wordCount,
			}); err != nil {
				return err
			}
			logger.Info("transcription stored",
				zap.Int("word_count", wordCount),
				zap.String("preview", logging.TruncateTranscript(result.Text)))
		} else {
			logger.Info("transcript created by concurrent invocation, discarding duplicate")
		}
	} else {
		logger.Info("transcript already present, skipping provider call")
	}

	advanced, err := p.encounters.AdvanceStatus(ctx, encounter.ID,
		models.EncounterStatusPending, models.EncounterStatusTranscribed)
	if err != nil {
		return err
	}
	if !advanced {
		logger.Debug("status already advanced past pending")
	}
	return nil
}

func (p *Pipeline) runRedaction(ctx context.Context, encounter *models.Encounter, logger *zap.Logger) error {
	transcript, err := p.transcripts.GetByEncounter(ctx, encounter.ID)
	if err != nil {
		return err
	}
	if transcript == nil {
		// Status says transcribed but the result row is gone. Nothing a
		// redelivery can do about it.
		return fmt.Errorf("transcript missing for encounter in status %s", encounter.Status)
	}

	if !transcript.IsRedacted() {
		redacted := p.redactor.Redact(transcript.RawText)
		wrote, err := p.transcripts.SetRedactedText(ctx, encounter.ID, redacted)
		if err != nil {
			return err
		}
		if wrote {
			logger.Info("transcript redacted")
		} else {
			logger.Debug("redacted text already set by concurrent invocation")
		}
	} else {
		logger.Info("redacted text already present, skipping")
	}

	advanced, err := p.encounters.AdvanceStatus(ctx, encounter.ID,
		models.EncounterStatusTranscribed, models.EncounterStatusRedacted)
	if err != nil {
		return err
	}
	if !advanced {
		logger.Debug("status already advanced past transcribed")
	}
	return nil
}

func (p *Pipeline) runNoteGeneration(ctx context.Context, encounter *models.Encounter, logger *zap.Logger) error {
	note, err := p.notes.GetByEncounter(ctx, encounter.ID)
	if err != nil {
		return err
	}

	if note == nil {
		transcript, err := p.transcripts.GetByEncounter(ctx, encounter.ID)
		if err != nil {
			return err
		}
		if transcript == nil || transcript.RedactedText == nil {
			return fmt.Errorf("redacted transcript missing for encounter in status %s", encounter.Status)
		}

		generated, err := p.generator.Generate(ctx, *transcript.RedactedText)
		if err != nil {
			return fmt.Errorf("note generation: %w", err)
		}

		note = &models.SOAPNote{
			EncounterID: encounter.ID,
			Subjective:  generated.Subjective,
			Objective:   generated.Objective,
			Assessment:  generated.Assessment,
			Plan:        generated.Plan,
		}
		inserted, err := p.notes.CreateIfAbsent(ctx, note)
		if err != nil {
			return err
		}
		if inserted {
			sectionsComplete := note.CompletedSections()
			if err := p.metrics.Merge(ctx, &models.QualityMetrics{
				EncounterID:          encounter.ID,
				SOAPSectionsComplete: &sectionsComplete,
				PromptTokens:         &generated.PromptTokens,
				CompletionTokens:     &generated.CompletionTokens,
				Model:                &generated.Model,
			}); err != nil {
				return err
			}
			logger.Info("note stored",
				zap.Int("sections_complete", sectionsComplete),
				zap.String("model", generated.Model))
		} else {
			logger.Info("note created by concurrent invocation, discarding duplicate")
		}
	} else {
		logger.Info("note already present, skipping provider call")
	}

	advanced, err := p.encounters.AdvanceStatus(ctx, encounter.ID,
		models.EncounterStatusRedacted, models.EncounterStatusCompleted)
	if err != nil {
		return err
	}
	if !advanced {
		logger.Debug("status already advanced past redacted")
	}
	return nil
}
