package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"voynich/models"
	"voynich/pipeline"
)

type conversionHandler struct {
	svc       Conversions
	maxUpload int64
	logger    zerolog.Logger
}

type uploadResponse struct {
	JobID   string           `json:"jobId"`
	Status  models.JobStatus `json:"status"`
	Message string           `json:"message"`
}

// Upload handles POST /api/conversion/upload (multipart: file, voice_id).
func (h *conversionHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	job, err := h.svc.Create(r.Context(), pipeline.CreateRequest{
		Filename: header.Filename,
		VoiceID:  r.FormValue("voice_id"),
		Source:   file,
	})
	if err != nil && job == nil {
		writeControllerError(w, err)
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Str("job_id", job.ID).Msg("Job created but not dispatched")
		writeJSON(w, http.StatusBadGateway, uploadResponse{JobID: job.ID, Status: job.Status, Message: "conversion could not be scheduled"})
		return
	}

	writeJSON(w, http.StatusAccepted, uploadResponse{JobID: job.ID, Status: job.Status, Message: "conversion started"})
}

// Status handles GET /api/conversion/status/{id}.
func (h *conversionHandler) Status(w http.ResponseWriter, r *http.Request) {
	report, err := h.svc.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeControllerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// Active handles GET /api/conversion/active.
func (h *conversionHandler) Active(w http.ResponseWriter, r *http.Request) {
	reports, err := h.svc.ListActive(r.Context())
	if err != nil {
		writeControllerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reports)
}

// Cancel handles POST /api/conversion/{id}/cancel.
func (h *conversionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	job, err := h.svc.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeControllerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}
