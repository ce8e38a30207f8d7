package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aurelia-health/scribe-engine/pkg/llm"
	"github.com/aurelia-health/scribe-engine/pkg/models"
)

func TestGenerateParsesValidResponse(t *testing.T) {
	mock := llm.NewMockClient()
	mock.GenerateResponseFunc = func(ctx context.Context, prompt, system string) (*llm.GenerateResponseResult, error) {
		assert.Contains(t, prompt, "DOCTOR: Hello")
		assert.Contains(t, system, "SOAP")
		return &llm.GenerateResponseResult{
			Content:          fullNoteJSON,
			Model:            "llama-3.3-70b-versatile",
			PromptTokens:     150,
			CompletionTokens: 90,
		}, nil
	}

	generator := NewSOAPGenerator(mock, zap.NewNop())
	note, err := generator.Generate(context.Background(), "DOCTOR: Hello\nPATIENT: Hi")
	require.NoError(t, err)

	assert.Equal(t, "Patient reports three days of sore throat.", note.Subjective)
	assert.Equal(t, "llama-3.3-70b-versatile", note.Model)
	assert.Equal(t, 150, note.PromptTokens)
	assert.Equal(t, 90, note.CompletionTokens)
}

func TestGenerateAcceptsPlaceholderSections(t *testing.T) {
	// The placeholder is valid content: the section is present, just not
	// documented. Only empty strings violate the schema.
	mock := llm.NewMockClient()
	mock.GenerateResponseFunc = func(ctx context.Context, prompt, system string) (*llm.GenerateResponseResult, error) {
		return &llm.GenerateResponseResult{
			Content: `{
				"subjective": "Sore throat.",
				"objective": "` + models.SectionNotDocumented + `",
				"assessment": "Pharyngitis.",
				"plan": "Rest."
			}`,
		}, nil
	}

	generator := NewSOAPGenerator(mock, zap.NewNop())
	note, err := generator.Generate(context.Background(), "transcript")
	require.NoError(t, err)
	assert.Equal(t, models.SectionNotDocumented, note.Objective)
}

func TestGenerateRejectsEmptySections(t *testing.T) {
	mock := llm.NewMockClient()
	mock.GenerateResponseFunc = func(ctx context.Context, prompt, system string) (*llm.GenerateResponseResult, error) {
		return &llm.GenerateResponseResult{
			Content: `{"subjective": "Sore throat.", "objective": " ", "assessment": "", "plan": "Rest."}`,
		}, nil
	}

	generator := NewSOAPGenerator(mock, zap.NewNop())
	_, err := generator.Generate(context.Background(), "transcript")
	require.Error(t, err)

	assert.Equal(t, llm.ErrorTypeSchema, llm.GetErrorType(err))
	assert.False(t, llm.IsRetryable(err))
	assert.Contains(t, err.Error(), "objective")
	assert.Contains(t, err.Error(), "assessment")
}

func TestGenerateRejectsNonJSON(t *testing.T) {
	mock := llm.NewMockClient()
	mock.GenerateResponseFunc = func(ctx context.Context, prompt, system string) (*llm.GenerateResponseResult, error) {
		return &llm.GenerateResponseResult{
			Content: "I am unable to produce a note for this transcript.",
		}, nil
	}

	generator := NewSOAPGenerator(mock, zap.NewNop())
	_, err := generator.Generate(context.Background(), "transcript")
	require.Error(t, err)
	assert.Equal(t, llm.ErrorTypeSchema, llm.GetErrorType(err))
	assert.False(t, llm.IsRetryable(err))
}

func TestGenerateClassifiesProviderErrors(t *testing.T) {
	mock := llm.NewMockClient()
	mock.GenerateResponseFunc = func(ctx context.Context, prompt, system string) (*llm.GenerateResponseResult, error) {
		return nil, errors.New("502 Bad Gateway")
	}

	generator := NewSOAPGenerator(mock, zap.NewNop())
	_, err := generator.Generate(context.Background(), "transcript")
	require.Error(t, err)
	assert.True(t, llm.IsRetryable(err))
}
