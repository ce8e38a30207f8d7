// Package transcription turns consultation audio into speaker-labelled text
// using an AssemblyAI-style speech-to-text provider.
package transcription

import "context"

// Result is the output of a transcription job.
type Result struct {
	// Text is the transcript with DOCTOR:/PATIENT: speaker labels.
	Text string
	// Confidence is the average word-level confidence (0.0-1.0), or nil
	// when the provider reported no word data.
	Confidence *float64
	// WordCount is the total number of transcribed words.
	WordCount int
}

// Transcriber converts an audio resource into a speaker-labelled transcript.
// The audio reference is opaque: a local file path or a time-limited remote
// URL, passed through from the storage layer uninterpreted.
type Transcriber interface {
	Transcribe(ctx context.Context, audioRef string) (*Result, error)
}

// Mock is a configurable Transcriber for tests.
type Mock struct {
	// TranscribeFunc is called when Transcribe is invoked.
	// If nil, returns an empty result and nil error.
	TranscribeFunc func(ctx context.Context, audioRef string) (*Result, error)

	// Call tracking for verification
	TranscribeCalls int
}

// Transcribe implements Transcriber.
func (m *Mock) Transcribe(ctx context.Context, audioRef string) (*Result, error) {
	m.TranscribeCalls++
	if m.TranscribeFunc != nil {
		return m.TranscribeFunc(ctx, audioRef)
	}
	return &Result{}, nil
}

var _ Transcriber = (*Mock)(nil)
