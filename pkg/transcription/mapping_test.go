package transcription

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLabelSpeakersBinaryRoles(t *testing.T) {
	utterances := []utterance{
		{Speaker: "A", Text: "Hello, what brings you in today?"},
		{Speaker: "B", Text: "I have had a sore throat for three days."},
		{Speaker: "A", Text: "Let me take a look."},
	}

	got := labelSpeakers(utterances, "fallback")
	assert.Equal(t,
		"DOCTOR: Hello, what brings you in today?\n"+
			"PATIENT: I have had a sore throat for three days.\n"+
			"DOCTOR: Let me take a look.",
		got)
}

func TestLabelSpeakersFirstSpeakerIsDoctor(t *testing.T) {
	// The role assignment depends on order of appearance, not on the
	// provider's speaker letter.
	utterances := []utterance{
		{Speaker: "B", Text: "Good morning."},
		{Speaker: "A", Text: "Morning, doctor."},
	}

	got := labelSpeakers(utterances, "")
	assert.Equal(t, "DOCTOR: Good morning.\nPATIENT: Morning, doctor.", got)
}

func TestLabelSpeakersNoUtterancesFallsBack(t *testing.T) {
	got := labelSpeakers(nil, "plain transcript text")
	assert.Equal(t, "plain transcript text", got)
}

func TestBuildResultAveragesConfidence(t *testing.T) {
	envelope := &transcriptEnvelope{
		Text: "hello there doctor",
		Words: []word{
			{Text: "hello", Confidence: 0.9},
			{Text: "there", Confidence: 0.8},
			{Text: "doctor", Confidence: 1.0},
		},
	}

	result := buildResult(envelope)
	assert.Equal(t, 3, result.WordCount)
	require.NotNil(t, result.Confidence)
	assert.InDelta(t, 0.9, *result.Confidence, 0.0001)
}

func TestBuildResultNoWordsNoConfidence(t *testing.T) {
	result := buildResult(&transcriptEnvelope{Text: "silence"})
	assert.Equal(t, 0, result.WordCount)
	assert.Nil(t, result.Confidence)
	assert.Equal(t, "silence", result.Text)
}
