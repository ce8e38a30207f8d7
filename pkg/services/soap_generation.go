package services

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/aurelia-health/scribe-engine/pkg/llm"
	"github.com/aurelia-health/scribe-engine/pkg/prompts"
)

// soapPayload is the JSON shape the model is instructed to return.
type soapPayload struct {
	Subjective string `json:"subjective"`
	Objective  string `json:"objective"`
	Assessment string `json:"assessment"`
	Plan       string `json:"plan"`
}

// GeneratedNote is the validated output of one note-generation call.
type GeneratedNote struct {
	Subjective string
	Objective  string
	Assessment string
	Plan       string

	Model            string
	PromptTokens     int
	CompletionTokens int
}

// SOAPGenerator produces a structured SOAP note from a redacted transcript
// via the configured LLM.
type SOAPGenerator struct {
	client llm.Client
	logger *zap.Logger
}

// NewSOAPGenerator creates a SOAPGenerator.
func NewSOAPGenerator(client llm.Client, logger *zap.Logger) *SOAPGenerator {
	return &SOAPGenerator{
		client: client,
		logger: logger.Named("soap_generator"),
	}
}

// Generate calls the model and validates its response against the required
// schema: four non-empty string sections. A response that parses but fails
// validation is a schema error and is not retryable; re-sending the same
// transcript to the same model is not expected to fix a structural refusal.
func (g *SOAPGenerator) Generate(ctx context.Context, redactedTranscript string) (*GeneratedNote, error) {
	result, err := g.client.GenerateResponse(ctx, prompts.SOAPUserPrompt(redactedTranscript), prompts.SOAPSystemPrompt)
	if err != nil {
		return nil, llm.ClassifyError(err)
	}

	payload, err := llm.ParseJSONResponse[soapPayload](result.Content)
	if err != nil {
		return nil, llm.NewError(llm.ErrorTypeSchema, "response is not valid JSON", false, err)
	}

	if missing := missingSections(payload); len(missing) > 0 {
		g.logger.Warn("note response failed schema validation",
			zap.Strings("missing_sections", missing),
			zap.String("model", result.Model))
		return nil, llm.NewError(llm.ErrorTypeSchema,
			"response missing required sections: "+strings.Join(missing, ", "), false, nil)
	}

	g.logger.Info("note generated",
		zap.String("model", result.Model),
		zap.Int("prompt_tokens", result.PromptTokens),
		zap.Int("completion_tokens", result.CompletionTokens))

	return &GeneratedNote{
		Subjective:       strings.TrimSpace(payload.Subjective),
		Objective:        strings.TrimSpace(payload.Objective),
		Assessment:       strings.TrimSpace(payload.Assessment),
		Plan:             strings.TrimSpace(payload.Plan),
		Model:            result.Model,
		PromptTokens:     result.PromptTokens,
		CompletionTokens: result.CompletionTokens,
	}, nil
}

func missingSections(p soapPayload) []string {
	var missing []string
	if strings.TrimSpace(p.Subjective) == "" {
		missing = append(missing, "subjective")
	}
	if strings.TrimSpace(p.Objective) == "" {
		missing = append(missing, "objective")
	}
	if strings.TrimSpace(p.Assessment) == "" {
		missing = append(missing, "assessment")
	}
	if strings.TrimSpace(p.Plan) == "" {
		missing = append(missing, "plan")
	}
	return missing
}
