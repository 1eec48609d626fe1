package api

import (
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"voynich/models"
)

var voiceSampleFormats = map[string]bool{".wav": true, ".mp3": true}

type voiceHandler struct {
	store     VoiceStore
	dir       string
	maxUpload int64
	logger    zerolog.Logger
}

// List handles GET /api/voices.
func (h *voiceHandler) List(w http.ResponseWriter, r *http.Request) {
	voices, err := h.store.ListVoices(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, voices)
}

// Upload handles POST /api/voices (multipart: name, file). The sample is
// stored as a custom voice profile.
func (h *voiceHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	name := strings.TrimSpace(r.FormValue("name"))
	if name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !voiceSampleFormats[ext] {
		writeError(w, http.StatusBadRequest, "voice sample must be .wav or .mp3")
		return
	}

	voice := &models.VoiceProfile{
		ID:        uuid.NewString(),
		Name:      name,
		VoiceType: models.VoiceTypeCustom,
		CreatedAt: time.Now().UTC(),
	}
	voice.FilePath = filepath.Join(h.dir, voice.ID+ext)

	if err := saveUpload(voice.FilePath, file); err != nil {
		h.logger.Error().Err(err).Msg("Failed to store voice sample")
		writeError(w, http.StatusInternalServerError, "failed to store voice sample")
		return
	}

	if err := h.store.CreateVoice(r.Context(), voice); err != nil {
		os.Remove(voice.FilePath)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, voice)
}

func saveUpload(path string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	_, err = io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
	}
	return err
}
