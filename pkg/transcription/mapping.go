package transcription

import "strings"

const (
	speakerDoctor  = "DOCTOR"
	speakerPatient = "PATIENT"
)

// buildResult maps the provider's transcript into a Result: speaker letters
// become DOCTOR/PATIENT labels and word confidences are averaged.
func buildResult(envelope *transcriptEnvelope) *Result {
	result := &Result{
		Text:      labelSpeakers(envelope.Utterances, envelope.Text),
		WordCount: len(envelope.Words),
	}

	if len(envelope.Words) > 0 {
		sum := 0.0
		for _, w := range envelope.Words {
			sum += w.Confidence
		}
		avg := sum / float64(len(envelope.Words))
		result.Confidence = &avg
	}

	return result
}

// labelSpeakers maps provider speaker letters (A, B, ...) onto clinical
// roles: the first distinct speaker becomes DOCTOR, the second PATIENT.
// This binary-role assumption is documented behavior, not verified against
// the audio. When diarization produced no utterances the plain transcript
// is returned unlabelled.
func labelSpeakers(utterances []utterance, fallbackText string) string {
	if len(utterances) == 0 {
		return fallbackText
	}

	speakerMap := make(map[string]string)
	lines := make([]string, 0, len(utterances))

	for _, u := range utterances {
		label, ok := speakerMap[u.Speaker]
		if !ok {
			if len(speakerMap) == 0 {
				label = speakerDoctor
			} else {
				label = speakerPatient
			}
			speakerMap[u.Speaker] = label
		}
		lines = append(lines, label+": "+u.Text)
	}

	return strings.Join(lines, "\n")
}
