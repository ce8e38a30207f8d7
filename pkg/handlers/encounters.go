package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aurelia-health/scribe-engine/pkg/apperrors"
	"github.com/aurelia-health/scribe-engine/pkg/config"
	"github.com/aurelia-health/scribe-engine/pkg/jobs"
	"github.com/aurelia-health/scribe-engine/pkg/middleware"
	"github.com/aurelia-health/scribe-engine/pkg/models"
	"github.com/aurelia-health/scribe-engine/pkg/pdf"
	"github.com/aurelia-health/scribe-engine/pkg/repositories"
	"github.com/aurelia-health/scribe-engine/pkg/storage"
)

// uploadFieldName is the multipart form field carrying the recording.
const uploadFieldName = "audio"

// allowedAudioTypes is the accepted Content-Type allowlist for uploads.
// video/mp4 is included because browsers label .m4a recordings that way.
var allowedAudioTypes = map[string]bool{
	"audio/mpeg":  true,
	"audio/mp3":   true,
	"audio/wav":   true,
	"audio/x-wav": true,
	"audio/mp4":   true,
	"audio/x-m4a": true,
	"audio/m4a":   true,
	"audio/ogg":   true,
	"video/mp4":   true,
}

// EncounterHandler exposes the encounter lifecycle over HTTP: upload,
// status polling, listing and PDF export.
type EncounterHandler struct {
	encounters  repositories.EncounterRepository
	transcripts repositories.TranscriptRepository
	notes       repositories.SOAPNoteRepository
	store       storage.AudioStore
	queue       jobs.Queue
	storageCfg  *config.StorageConfig
	logger      *zap.Logger
}

// NewEncounterHandler creates a new EncounterHandler.
func NewEncounterHandler(
	encounters repositories.EncounterRepository,
	transcripts repositories.TranscriptRepository,
	notes repositories.SOAPNoteRepository,
	store storage.AudioStore,
	queue jobs.Queue,
	storageCfg *config.StorageConfig,
	logger *zap.Logger,
) *EncounterHandler {
	return &EncounterHandler{
		encounters:  encounters,
		transcripts: transcripts,
		notes:       notes,
		store:       store,
		queue:       queue,
		storageCfg:  storageCfg,
		logger:      logger.Named("encounters"),
	}
}

// RegisterRoutes registers the encounter routes on the given mux.
func (h *EncounterHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/encounters", h.Upload)
	mux.HandleFunc("GET /api/encounters", h.List)
	mux.HandleFunc("GET /api/encounters/{id}", h.Status)
	mux.HandleFunc("GET /api/encounters/{id}/pdf", h.PDF)
}

// Upload handles POST /api/encounters: accepts a multipart audio upload,
// stores it durably, creates a PENDING encounter and enqueues the pipeline
// job. The encounter row and the audio file exist before the job does, so a
// worker never races an in-flight upload.
func (h *EncounterHandler) Upload(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		_ = ErrorResponse(w, http.StatusUnauthorized, "unauthorized", "no user identity")
		return
	}

	// +1KiB of multipart framing headroom over the audio cap.
	r.Body = http.MaxBytesReader(w, r.Body, h.storageCfg.MaxUploadBytes+1024)

	file, header, err := r.FormFile(uploadFieldName)
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			_ = WriteError(w, apperrors.ErrFileTooLarge,
				fmt.Sprintf("audio file exceeds %d bytes", h.storageCfg.MaxUploadBytes))
			return
		}
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request",
			fmt.Sprintf("multipart field %q is required", uploadFieldName))
		return
	}
	defer file.Close()

	if header.Size > h.storageCfg.MaxUploadBytes {
		_ = WriteError(w, apperrors.ErrFileTooLarge,
			fmt.Sprintf("audio file exceeds %d bytes", h.storageCfg.MaxUploadBytes))
		return
	}

	contentType := header.Header.Get("Content-Type")
	if !allowedAudioTypes[contentType] {
		_ = WriteError(w, apperrors.ErrUnsupportedMedia,
			fmt.Sprintf("content type %q is not an accepted audio format", contentType))
		return
	}

	audioRef, err := h.store.Save(r.Context(), header.Filename, file)
	if err != nil {
		h.logger.Error("failed to store upload", zap.Error(err))
		_ = ErrorResponse(w, http.StatusInternalServerError, "storage_error", "failed to store audio")
		return
	}

	encounter := &models.Encounter{
		UserID:           userID,
		OriginalFilename: header.Filename,
		AudioRef:         audioRef,
		Status:           models.EncounterStatusPending,
	}
	if err := h.encounters.Create(r.Context(), encounter); err != nil {
		h.logger.Error("failed to create encounter", zap.Error(err))
		_ = ErrorResponse(w, http.StatusInternalServerError, "database_error", "failed to create encounter")
		return
	}

	if err := h.queue.Enqueue(r.Context(), encounter.ID); err != nil {
		// The encounter exists and the audio is stored; a redelivered or
		// manually requeued job can still pick it up. Report the failure
		// rather than pretending processing is underway.
		h.logger.Error("failed to enqueue pipeline job",
			zap.String("encounter_id", encounter.ID.String()), zap.Error(err))
		_ = ErrorResponse(w, http.StatusInternalServerError, "queue_error", "failed to schedule processing")
		return
	}

	h.logger.Info("encounter created",
		zap.String("encounter_id", encounter.ID.String()),
		zap.String("filename", header.Filename),
		zap.Int64("size_bytes", header.Size))

	_ = WriteJSON(w, http.StatusCreated, map[string]string{
		"id":     encounter.ID.String(),
		"status": string(encounter.Status),
	})
}

// statusResponse is the polling payload: always the latest known state,
// including intermediate ones.
type statusResponse struct {
	ID               uuid.UUID        `json:"id"`
	Status           string           `json:"status"`
	ErrorMessage     *string          `json:"error_message,omitempty"`
	OriginalFilename string           `json:"original_filename"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
	Transcript       *transcriptView  `json:"transcript,omitempty"`
	SOAPNote         *models.SOAPNote `json:"soap_note,omitempty"`
}

// transcriptView exposes only the redacted text once redaction has run;
// before that the raw text is all there is.
type transcriptView struct {
	Text     string `json:"text"`
	Redacted bool   `json:"redacted"`
}

// Status handles GET /api/encounters/{id}.
func (h *EncounterHandler) Status(w http.ResponseWriter, r *http.Request) {
	encounter, ok := h.ownedEncounter(w, r)
	if !ok {
		return
	}

	resp := statusResponse{
		ID:               encounter.ID,
		Status:           string(encounter.Status),
		ErrorMessage:     encounter.ErrorMessage,
		OriginalFilename: encounter.OriginalFilename,
		CreatedAt:        encounter.CreatedAt,
		UpdatedAt:        encounter.UpdatedAt,
	}

	transcript, err := h.transcripts.GetByEncounter(r.Context(), encounter.ID)
	if err != nil {
		h.logger.Error("failed to load transcript", zap.Error(err))
		_ = ErrorResponse(w, http.StatusInternalServerError, "database_error", "failed to load transcript")
		return
	}
	if transcript != nil {
		view := &transcriptView{Text: transcript.RawText}
		if transcript.IsRedacted() {
			view.Text = *transcript.RedactedText
			view.Redacted = true
		}
		resp.Transcript = view
	}

	note, err := h.notes.GetByEncounter(r.Context(), encounter.ID)
	if err != nil {
		h.logger.Error("failed to load note", zap.Error(err))
		_ = ErrorResponse(w, http.StatusInternalServerError, "database_error", "failed to load note")
		return
	}
	resp.SOAPNote = note

	_ = WriteJSON(w, http.StatusOK, resp)
}

// List handles GET /api/encounters with limit/offset pagination.
func (h *EncounterHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		_ = ErrorResponse(w, http.StatusUnauthorized, "unauthorized", "no user identity")
		return
	}

	limit := queryInt(r, "limit", 20)
	if limit < 1 || limit > 100 {
		limit = 20
	}
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	encounters, err := h.encounters.ListByUser(r.Context(), userID, limit, offset)
	if err != nil {
		h.logger.Error("failed to list encounters", zap.Error(err))
		_ = ErrorResponse(w, http.StatusInternalServerError, "database_error", "failed to list encounters")
		return
	}
	total, err := h.encounters.CountByUser(r.Context(), userID)
	if err != nil {
		h.logger.Error("failed to count encounters", zap.Error(err))
		_ = ErrorResponse(w, http.StatusInternalServerError, "database_error", "failed to count encounters")
		return
	}

	if encounters == nil {
		encounters = []*models.Encounter{}
	}
	_ = WriteJSON(w, http.StatusOK, map[string]interface{}{
		"encounters": encounters,
		"total":      total,
		"limit":      limit,
		"offset":     offset,
	})
}

// PDF handles GET /api/encounters/{id}/pdf. Export is only valid for a
// completed encounter; anything earlier is a precondition failure with no
// side effects.
func (h *EncounterHandler) PDF(w http.ResponseWriter, r *http.Request) {
	encounter, ok := h.ownedEncounter(w, r)
	if !ok {
		return
	}

	if encounter.Status != models.EncounterStatusCompleted {
		_ = WriteError(w, apperrors.ErrNotReady,
			fmt.Sprintf("encounter is %s; PDF export requires completed", encounter.Status))
		return
	}

	note, err := h.notes.GetByEncounter(r.Context(), encounter.ID)
	if err != nil {
		h.logger.Error("failed to load note", zap.Error(err))
		_ = ErrorResponse(w, http.StatusInternalServerError, "database_error", "failed to load note")
		return
	}
	if note == nil {
		h.logger.Error("completed encounter has no note",
			zap.String("encounter_id", encounter.ID.String()))
		_ = ErrorResponse(w, http.StatusInternalServerError, "inconsistent_state", "note missing")
		return
	}

	rendered, err := pdf.Render(encounter, note)
	if err != nil {
		h.logger.Error("failed to render pdf", zap.Error(err))
		_ = ErrorResponse(w, http.StatusInternalServerError, "render_error", "failed to render PDF")
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", pdf.Filename(encounter)))
	w.Header().Set("Content-Length", strconv.Itoa(len(rendered)))
	_, _ = w.Write(rendered)
}

// ownedEncounter loads the path encounter and enforces ownership. Missing
// and foreign encounters both read as 404 so existence is not leaked.
func (h *EncounterHandler) ownedEncounter(w http.ResponseWriter, r *http.Request) (*models.Encounter, bool) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		_ = ErrorResponse(w, http.StatusUnauthorized, "unauthorized", "no user identity")
		return nil, false
	}

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "invalid encounter id")
		return nil, false
	}

	encounter, err := h.encounters.GetByID(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to load encounter", zap.Error(err))
		_ = ErrorResponse(w, http.StatusInternalServerError, "database_error", "failed to load encounter")
		return nil, false
	}
	if encounter == nil || encounter.UserID != userID {
		_ = WriteError(w, apperrors.ErrNotFound, "encounter not found")
		return nil, false
	}
	return encounter, true
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
