package transcription

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeProvider simulates the AssemblyAI API surface the client uses.
type fakeProvider struct {
	mux         *http.ServeMux
	server      *httptest.Server
	polls       atomic.Int32
	pollsNeeded int32
	finalState  transcriptEnvelope
}

func newFakeProvider(t *testing.T, pollsNeeded int32, final transcriptEnvelope) *fakeProvider {
	t.Helper()
	p := &fakeProvider{mux: http.NewServeMux(), pollsNeeded: pollsNeeded, finalState: final}

	p.mux.HandleFunc("POST /v2/upload", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "test-key", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]string{"upload_url": "https://cdn.example/upload/abc"})
	})
	p.mux.HandleFunc("POST /v2/transcript", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, true, body["speaker_labels"])
		assert.Equal(t, float64(2), body["speakers_expected"])
		_ = json.NewEncoder(w).Encode(transcriptEnvelope{ID: "tr_1", Status: "queued"})
	})
	p.mux.HandleFunc("GET /v2/transcript/tr_1", func(w http.ResponseWriter, r *http.Request) {
		if p.polls.Add(1) < p.pollsNeeded {
			_ = json.NewEncoder(w).Encode(transcriptEnvelope{ID: "tr_1", Status: "processing"})
			return
		}
		_ = json.NewEncoder(w).Encode(p.finalState)
	})

	p.server = httptest.NewServer(p.mux)
	t.Cleanup(p.server.Close)
	return p
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	client, err := NewClient(&Config{
		BaseURL:      baseURL,
		APIKey:       "test-key",
		PollInterval: 10 * time.Millisecond,
		Timeout:      2 * time.Second,
	}, zap.NewNop())
	require.NoError(t, err)
	return client
}

func TestTranscribeLocalFile(t *testing.T) {
	provider := newFakeProvider(t, 2, transcriptEnvelope{
		ID: "tr_1", Status: "completed",
		Text: "Hello Hi",
		Words: []word{
			{Text: "Hello", Confidence: 0.95},
			{Text: "Hi", Confidence: 0.85},
		},
		Utterances: []utterance{
			{Speaker: "A", Text: "Hello"},
			{Speaker: "B", Text: "Hi"},
		},
	})

	audioPath := filepath.Join(t.TempDir(), "consult.mp3")
	require.NoError(t, os.WriteFile(audioPath, []byte("fake audio bytes"), 0o644))

	client := newTestClient(t, provider.server.URL)
	result, err := client.Transcribe(context.Background(), audioPath)
	require.NoError(t, err)

	assert.Equal(t, "DOCTOR: Hello\nPATIENT: Hi", result.Text)
	assert.Equal(t, 2, result.WordCount)
	require.NotNil(t, result.Confidence)
	assert.InDelta(t, 0.9, *result.Confidence, 0.0001)
	assert.GreaterOrEqual(t, provider.polls.Load(), int32(2))
}

func TestTranscribeRemoteURLSkipsUpload(t *testing.T) {
	provider := newFakeProvider(t, 1, transcriptEnvelope{
		ID: "tr_1", Status: "completed", Text: "hello",
	})

	client := newTestClient(t, provider.server.URL)
	result, err := client.Transcribe(context.Background(), "https://storage.example/audio/42.mp3")
	require.NoError(t, err)
	assert.Equal(t, "hello", result.Text)
}

func TestTranscribeProviderErrorState(t *testing.T) {
	provider := newFakeProvider(t, 1, transcriptEnvelope{
		ID: "tr_1", Status: "error", Error: "audio duration too short",
	})

	client := newTestClient(t, provider.server.URL)
	_, err := client.Transcribe(context.Background(), "https://storage.example/audio/42.mp3")
	require.Error(t, err)

	var providerErr *ProviderError
	require.ErrorAs(t, err, &providerErr)
	assert.False(t, providerErr.IsRetryable())
	assert.Contains(t, providerErr.Error(), "audio duration too short")
}

func TestTranscribeServerErrorIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	_, err := client.Transcribe(context.Background(), "https://storage.example/audio/42.mp3")
	require.Error(t, err)

	var providerErr *ProviderError
	require.ErrorAs(t, err, &providerErr)
	assert.True(t, providerErr.IsRetryable())
}

func TestTranscribePollAuthFailureSurfacesImmediately(t *testing.T) {
	var polls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v2/transcript", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(transcriptEnvelope{ID: "tr_1", Status: "queued"})
	})
	mux.HandleFunc("GET /v2/transcript/tr_1", func(w http.ResponseWriter, r *http.Request) {
		polls.Add(1)
		http.Error(w, "invalid api key", http.StatusUnauthorized)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := newTestClient(t, server.URL)
	_, err := client.Transcribe(context.Background(), "https://storage.example/audio/42.mp3")
	require.Error(t, err)

	var providerErr *ProviderError
	require.ErrorAs(t, err, &providerErr)
	assert.False(t, providerErr.IsRetryable())
	// A permanent failure must not burn backoff attempts before surfacing.
	assert.Equal(t, int32(1), polls.Load())
}

func TestTranscribeMissingLocalFile(t *testing.T) {
	provider := newFakeProvider(t, 1, transcriptEnvelope{ID: "tr_1", Status: "completed"})

	client := newTestClient(t, provider.server.URL)
	_, err := client.Transcribe(context.Background(), filepath.Join(t.TempDir(), "missing.mp3"))
	require.Error(t, err)
}
