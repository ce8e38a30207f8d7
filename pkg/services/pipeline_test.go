package services

import (
	"context"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aurelia-health/scribe-engine/pkg/llm"
	"github.com/aurelia-health/scribe-engine/pkg/models"
	"github.com/aurelia-health/scribe-engine/pkg/repositories"
	"github.com/aurelia-health/scribe-engine/pkg/transcription"
)

// fakeStore resolves audio references verbatim.
type fakeStore struct{}

func (fakeStore) Save(ctx context.Context, originalFilename string, r io.Reader) (string, error) {
	return "", nil
}

func (fakeStore) Resolve(ctx context.Context, ref string) (string, error) {
	return ref, nil
}

// fakeRedactor applies a configurable function, passthrough by default.
type fakeRedactor struct {
	fn    func(string) string
	calls int
}

func (f *fakeRedactor) Redact(text string) string {
	f.calls++
	if f.fn != nil {
		return f.fn(text)
	}
	return text
}

type pipelineFixture struct {
	pipeline    *Pipeline
	encounters  *repositories.MemoryEncounterRepository
	transcripts *repositories.MemoryTranscriptRepository
	notes       *repositories.MemorySOAPNoteRepository
	metrics     *repositories.MemoryQualityMetricsRepository
	transcriber *transcription.Mock
	redactor    *fakeRedactor
	llmClient   *llm.MockClient
}

const fullNoteJSON = `{
	"subjective": "Patient reports three days of sore throat.",
	"objective": "Temperature 38.1C, erythematous pharynx.",
	"assessment": "Likely viral pharyngitis.",
	"plan": "Supportive care, review in one week."
}`

func newFixture() *pipelineFixture {
	f := &pipelineFixture{
		encounters:  repositories.NewMemoryEncounterRepository(),
		transcripts: repositories.NewMemoryTranscriptRepository(),
		notes:       repositories.NewMemorySOAPNoteRepository(),
		metrics:     repositories.NewMemoryQualityMetricsRepository(),
		transcriber: &transcription.Mock{},
		redactor:    &fakeRedactor{},
		llmClient:   llm.NewMockClient(),
	}

	confidence := 0.92
	f.transcriber.TranscribeFunc = func(ctx context.Context, audioRef string) (*transcription.Result, error) {
		return &transcription.Result{
			Text:       "DOCTOR: Hello\nPATIENT: Hi",
			Confidence: &confidence,
			WordCount:  4,
		}, nil
	}
	f.llmClient.GenerateResponseFunc = func(ctx context.Context, prompt, system string) (*llm.GenerateResponseResult, error) {
		return &llm.GenerateResponseResult{
			Content:          fullNoteJSON,
			Model:            "llama-3.3-70b-versatile",
			PromptTokens:     200,
			CompletionTokens: 120,
		}, nil
	}

	generator := NewSOAPGenerator(f.llmClient, zap.NewNop())
	f.pipeline = NewPipeline(
		f.encounters, f.transcripts, f.notes, f.metrics,
		fakeStore{}, f.transcriber, f.redactor, generator, zap.NewNop())
	return f
}

func (f *pipelineFixture) createEncounter(t *testing.T) *models.Encounter {
	t.Helper()
	encounter := &models.Encounter{
		UserID:           uuid.New(),
		OriginalFilename: "consult.mp3",
		AudioRef:         "/tmp/consult.mp3",
	}
	require.NoError(t, f.encounters.Create(context.Background(), encounter))
	return encounter
}

func TestProcessFullRun(t *testing.T) {
	f := newFixture()
	encounter := f.createEncounter(t)
	ctx := context.Background()

	outcome, err := f.pipeline.Process(ctx, encounter.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, outcome)

	stored, err := f.encounters.GetByID(ctx, encounter.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EncounterStatusCompleted, stored.Status)
	assert.Nil(t, stored.ErrorMessage)

	transcript, err := f.transcripts.GetByEncounter(ctx, encounter.ID)
	require.NoError(t, err)
	require.NotNil(t, transcript)
	assert.Equal(t, "DOCTOR: Hello\nPATIENT: Hi", transcript.RawText)
	require.True(t, transcript.IsRedacted())

	note, err := f.notes.GetByEncounter(ctx, encounter.ID)
	require.NoError(t, err)
	require.NotNil(t, note)
	assert.Equal(t, "Likely viral pharyngitis.", note.Assessment)

	metrics, err := f.metrics.GetByEncounter(ctx, encounter.ID)
	require.NoError(t, err)
	require.NotNil(t, metrics)
	require.NotNil(t, metrics.TranscriptWordCount)
	assert.Equal(t, 4, *metrics.TranscriptWordCount)
	require.NotNil(t, metrics.TranscriptConfidence)
	assert.InDelta(t, 0.92, *metrics.TranscriptConfidence, 0.0001)
	require.NotNil(t, metrics.SOAPSectionsComplete)
	assert.Equal(t, 4, *metrics.SOAPSectionsComplete)
	require.NotNil(t, metrics.PromptTokens)
	assert.Equal(t, 200, *metrics.PromptTokens)
	require.NotNil(t, metrics.Model)
	assert.Equal(t, "llama-3.3-70b-versatile", *metrics.Model)
}

func TestProcessRedactionMasksName(t *testing.T) {
	f := newFixture()
	f.transcriber.TranscribeFunc = func(ctx context.Context, audioRef string) (*transcription.Result, error) {
		return &transcription.Result{Text: "DOCTOR: Hello\nPATIENT: Hi, my name is Jane", WordCount: 8}, nil
	}
	f.redactor.fn = func(text string) string {
		return "DOCTOR: Hello\nPATIENT: Hi, my name is [PERSON]"
	}
	encounter := f.createEncounter(t)
	ctx := context.Background()

	outcome, err := f.pipeline.Process(ctx, encounter.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, outcome)

	transcript, err := f.transcripts.GetByEncounter(ctx, encounter.ID)
	require.NoError(t, err)
	require.True(t, transcript.IsRedacted())
	assert.Contains(t, *transcript.RedactedText, "[PERSON]")
	assert.NotContains(t, *transcript.RedactedText, "Jane")
}

func TestProcessPlaceholderSectionCountsIncomplete(t *testing.T) {
	f := newFixture()
	// Whitespace around the placeholder must not count as content.
	f.llmClient.GenerateResponseFunc = func(ctx context.Context, prompt, system string) (*llm.GenerateResponseResult, error) {
		return &llm.GenerateResponseResult{
			Content: `{
				"subjective": "Sore throat for three days.",
				"objective": "  Not documented in this consultation.  ",
				"assessment": "Viral pharyngitis.",
				"plan": "Supportive care."
			}`,
			Model: "llama-3.3-70b-versatile",
		}, nil
	}
	encounter := f.createEncounter(t)
	ctx := context.Background()

	outcome, err := f.pipeline.Process(ctx, encounter.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, outcome)

	metrics, err := f.metrics.GetByEncounter(ctx, encounter.ID)
	require.NoError(t, err)
	require.NotNil(t, metrics.SOAPSectionsComplete)
	assert.Equal(t, 3, *metrics.SOAPSectionsComplete)
}

func TestProcessTranscriptionProviderError(t *testing.T) {
	f := newFixture()
	f.transcriber.TranscribeFunc = func(ctx context.Context, audioRef string) (*transcription.Result, error) {
		return nil, &transcription.ProviderError{Message: "upstream unavailable", Retryable: true}
	}
	encounter := f.createEncounter(t)
	ctx := context.Background()

	outcome, err := f.pipeline.Process(ctx, encounter.ID)
	require.Error(t, err)
	assert.Equal(t, OutcomeRetry, outcome)

	stored, err := f.encounters.GetByID(ctx, encounter.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EncounterStatusFailed, stored.Status)
	require.NotNil(t, stored.ErrorMessage)
	assert.Contains(t, *stored.ErrorMessage, "transcription failed")

	// The provider was called before any row write, so no transcript exists.
	transcript, err := f.transcripts.GetByEncounter(ctx, encounter.ID)
	require.NoError(t, err)
	assert.Nil(t, transcript)
}

func TestProcessSchemaViolationIsFatal(t *testing.T) {
	f := newFixture()
	f.llmClient.GenerateResponseFunc = func(ctx context.Context, prompt, system string) (*llm.GenerateResponseResult, error) {
		return &llm.GenerateResponseResult{
			Content: `{"subjective": "Sore throat.", "objective": "", "assessment": "", "plan": ""}`,
			Model:   "llama-3.3-70b-versatile",
		}, nil
	}
	encounter := f.createEncounter(t)
	ctx := context.Background()

	outcome, err := f.pipeline.Process(ctx, encounter.ID)
	require.Error(t, err)
	assert.Equal(t, OutcomeFatal, outcome)

	stored, err := f.encounters.GetByID(ctx, encounter.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EncounterStatusFailed, stored.Status)
	require.NotNil(t, stored.ErrorMessage)
	assert.Contains(t, *stored.ErrorMessage, "note_generation failed")
}

func TestProcessIdempotentRedelivery(t *testing.T) {
	f := newFixture()
	encounter := f.createEncounter(t)
	ctx := context.Background()

	first, err := f.pipeline.Process(ctx, encounter.ID)
	require.NoError(t, err)
	require.Equal(t, OutcomeCompleted, first)

	// Simulated duplicate delivery: no step may re-run a collaborator.
	second, err := f.pipeline.Process(ctx, encounter.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, second)

	assert.Equal(t, 1, f.transcriber.TranscribeCalls)
	assert.Equal(t, 1, f.redactor.calls)
	assert.Equal(t, 1, f.llmClient.GenerateResponseCalls)
}

func TestProcessSkipsCollaboratorWhenResultExists(t *testing.T) {
	// Crash happened after the transcript row was written but before the
	// status advanced: the next delivery must advance without reinvoking
	// the transcription provider.
	f := newFixture()
	encounter := f.createEncounter(t)
	ctx := context.Background()

	_, err := f.transcripts.CreateIfAbsent(ctx, &models.Transcript{
		EncounterID: encounter.ID,
		RawText:     "DOCTOR: Hello\nPATIENT: Hi",
	})
	require.NoError(t, err)

	outcome, err := f.pipeline.Process(ctx, encounter.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, outcome)
	assert.Equal(t, 0, f.transcriber.TranscribeCalls)
}

func TestProcessResumesFailedAtSupportedState(t *testing.T) {
	f := newFixture()
	encounter := f.createEncounter(t)
	ctx := context.Background()

	redacted := "DOCTOR: Hello\nPATIENT: Hi, my name is [PERSON]"
	_, err := f.transcripts.CreateIfAbsent(ctx, &models.Transcript{
		EncounterID:  encounter.ID,
		RawText:      "DOCTOR: Hello\nPATIENT: Hi, my name is Jane",
		RedactedText: &redacted,
	})
	require.NoError(t, err)
	require.NoError(t, f.encounters.MarkFailed(ctx, encounter.ID, "note_generation failed: boom"))

	outcome, err := f.pipeline.Process(ctx, encounter.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, outcome)

	// Only note generation ran; earlier steps were already satisfied.
	assert.Equal(t, 0, f.transcriber.TranscribeCalls)
	assert.Equal(t, 0, f.redactor.calls)
	assert.Equal(t, 1, f.llmClient.GenerateResponseCalls)

	stored, err := f.encounters.GetByID(ctx, encounter.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EncounterStatusCompleted, stored.Status)
	assert.Nil(t, stored.ErrorMessage)
}

func TestProcessEncounterNotFound(t *testing.T) {
	f := newFixture()

	outcome, err := f.pipeline.Process(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotFound, outcome)
}

func TestProcessMetricFieldsSurviveRetry(t *testing.T) {
	f := newFixture()
	failNext := true
	f.llmClient.GenerateResponseFunc = func(ctx context.Context, prompt, system string) (*llm.GenerateResponseResult, error) {
		if failNext {
			failNext = false
			return nil, llm.NewError(llm.ErrorTypeEndpoint, "server error", true, nil)
		}
		return &llm.GenerateResponseResult{
			Content: fullNoteJSON, Model: "llama-3.3-70b-versatile",
			PromptTokens: 200, CompletionTokens: 120,
		}, nil
	}
	encounter := f.createEncounter(t)
	ctx := context.Background()

	outcome, err := f.pipeline.Process(ctx, encounter.ID)
	require.Error(t, err)
	require.Equal(t, OutcomeRetry, outcome)

	// Transcription metrics are already persisted despite the later failure.
	metrics, err := f.metrics.GetByEncounter(ctx, encounter.ID)
	require.NoError(t, err)
	require.NotNil(t, metrics)
	require.NotNil(t, metrics.TranscriptWordCount)
	assert.Equal(t, 4, *metrics.TranscriptWordCount)
	assert.Nil(t, metrics.SOAPSectionsComplete)

	// Redelivery completes the pipeline and fills the remaining fields
	// without clobbering the transcription ones.
	outcome, err = f.pipeline.Process(ctx, encounter.ID)
	require.NoError(t, err)
	require.Equal(t, OutcomeCompleted, outcome)

	metrics, err = f.metrics.GetByEncounter(ctx, encounter.ID)
	require.NoError(t, err)
	require.NotNil(t, metrics.TranscriptWordCount)
	assert.Equal(t, 4, *metrics.TranscriptWordCount)
	require.NotNil(t, metrics.SOAPSectionsComplete)
	assert.Equal(t, 4, *metrics.SOAPSectionsComplete)
}

func TestStepFor(t *testing.T) {
	tests := []struct {
		status models.EncounterStatus
		step   Step
	}{
		{models.EncounterStatusPending, StepTranscription},
		{models.EncounterStatusTranscribed, StepRedaction},
		{models.EncounterStatusRedacted, StepNoteGeneration},
		{models.EncounterStatusCompleted, StepNone},
		{models.EncounterStatusFailed, StepNone},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.step, StepFor(tt.status), "status %s", tt.status)
	}
}

func TestNextStatus(t *testing.T) {
	tests := []struct {
		from models.EncounterStatus
		to   models.EncounterStatus
	}{
		{models.EncounterStatusPending, models.EncounterStatusTranscribed},
		{models.EncounterStatusTranscribed, models.EncounterStatusRedacted},
		{models.EncounterStatusRedacted, models.EncounterStatusCompleted},
		{models.EncounterStatusCompleted, models.EncounterStatusCompleted},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.to, NextStatus(tt.from), "from %s", tt.from)
	}
}
