package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/aurelia-health/scribe-engine/pkg/retry"
)

// ProviderError is a failure reported by the transcription provider.
// Transient provider states are retryable; a rejected or failed transcript
// is not.
type ProviderError struct {
	Message   string
	Retryable bool
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("transcription provider: %s", e.Message)
}

// IsRetryable implements the retry.RetryableError interface.
func (e *ProviderError) IsRetryable() bool {
	return e.Retryable
}

// Config holds transcription client configuration.
type Config struct {
	BaseURL      string
	APIKey       string
	PollInterval time.Duration
	Timeout      time.Duration
}

// Client calls an AssemblyAI-compatible transcription API: submit a job with
// speaker diarization enabled, poll until it completes, then map the raw
// utterances into a DOCTOR/PATIENT labelled transcript.
type Client struct {
	httpClient   *http.Client
	baseURL      string
	apiKey       string
	pollInterval time.Duration
	timeout      time.Duration
	retryCfg     *retry.Config
	logger       *zap.Logger
}

// NewClient creates a new transcription client.
func NewClient(cfg *Config, logger *zap.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}

	pollInterval := cfg.PollInterval
	if pollInterval == 0 {
		pollInterval = 3 * time.Second
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Minute
	}

	return &Client{
		httpClient:   &http.Client{Timeout: 60 * time.Second},
		baseURL:      strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:       cfg.APIKey,
		pollInterval: pollInterval,
		timeout:      timeout,
		retryCfg:     retry.DefaultConfig(),
		logger:       logger.Named("transcription"),
	}, nil
}

var _ Transcriber = (*Client)(nil)

// transcriptEnvelope is the provider's transcript resource.
type transcriptEnvelope struct {
	ID         string      `json:"id"`
	Status     string      `json:"status"`
	Text       string      `json:"text"`
	Error      string      `json:"error,omitempty"`
	Words      []word      `json:"words"`
	Utterances []utterance `json:"utterances"`
}

type word struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

type utterance struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

// Transcribe submits the audio for transcription and blocks until the
// provider reports a terminal status. Local file references are uploaded
// first; https:// references are submitted as-is.
func (c *Client) Transcribe(ctx context.Context, audioRef string) (*Result, error) {
	audioURL := audioRef
	if !strings.HasPrefix(audioRef, "http://") && !strings.HasPrefix(audioRef, "https://") {
		uploaded, err := c.uploadFile(ctx, audioRef)
		if err != nil {
			return nil, err
		}
		audioURL = uploaded
	}

	transcriptID, err := c.submit(ctx, audioURL)
	if err != nil {
		return nil, err
	}

	c.logger.Info("transcription job submitted", zap.String("transcript_id", transcriptID))

	envelope, err := c.poll(ctx, transcriptID)
	if err != nil {
		return nil, err
	}

	return buildResult(envelope), nil
}

// uploadFile streams a local audio file to the provider's upload endpoint
// and returns the temporary URL it assigns.
func (c *Client) uploadFile(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open audio file: %w", err)
	}
	defer f.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v2/upload", f)
	if err != nil {
		return "", fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Authorization", c.apiKey)
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &ProviderError{Message: fmt.Sprintf("upload failed: %v", err), Retryable: true}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", providerHTTPError(resp)
	}

	var body struct {
		UploadURL string `json:"upload_url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode upload response: %w", err)
	}
	if body.UploadURL == "" {
		return "", &ProviderError{Message: "upload response missing upload_url"}
	}
	return body.UploadURL, nil
}

// submit creates the transcription job with two-speaker diarization.
func (c *Client) submit(ctx context.Context, audioURL string) (string, error) {
	payload, err := json.Marshal(map[string]any{
		"audio_url":         audioURL,
		"speaker_labels":    true,
		"speakers_expected": 2,
	})
	if err != nil {
		return "", fmt.Errorf("marshal transcript request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v2/transcript", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build transcript request: %w", err)
	}
	req.Header.Set("Authorization", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &ProviderError{Message: fmt.Sprintf("submit failed: %v", err), Retryable: true}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", providerHTTPError(resp)
	}

	var envelope transcriptEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return "", fmt.Errorf("decode transcript response: %w", err)
	}
	if envelope.ID == "" {
		return "", &ProviderError{Message: "transcript response missing id"}
	}
	return envelope.ID, nil
}

// poll fetches the transcript until the provider reports completed or error.
func (c *Client) poll(ctx context.Context, transcriptID string) (*transcriptEnvelope, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		// A dropped poll shouldn't abort a transcription that is still
		// running server-side, so each fetch gets its own backoff budget.
		// Permanent failures (a rejected key, say) surface immediately.
		envelope, err := retry.DoIfRetryableWithResult(ctx, c.retryCfg, func() (*transcriptEnvelope, error) {
			return c.fetch(ctx, transcriptID)
		})
		if err != nil {
			return nil, err
		}

		switch envelope.Status {
		case "completed":
			return envelope, nil
		case "error":
			return nil, &ProviderError{Message: fmt.Sprintf("transcription failed: %s", envelope.Error)}
		}

		select {
		case <-ctx.Done():
			return nil, &ProviderError{Message: "transcription timed out", Retryable: true}
		case <-ticker.C:
		}
	}
}

func (c *Client) fetch(ctx context.Context, transcriptID string) (*transcriptEnvelope, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v2/transcript/"+transcriptID, nil)
	if err != nil {
		return nil, fmt.Errorf("build poll request: %w", err)
	}
	req.Header.Set("Authorization", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &ProviderError{Message: fmt.Sprintf("poll failed: %v", err), Retryable: true}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, providerHTTPError(resp)
	}

	var envelope transcriptEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("decode poll response: %w", err)
	}
	return &envelope, nil
}

func providerHTTPError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
	return &ProviderError{
		Message:   fmt.Sprintf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
		Retryable: retryable,
	}
}
