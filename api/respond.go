package api

import (
	"encoding/json"
	"net/http"

	"voynich/pipeline"
)

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// writeControllerError maps controller errors onto HTTP statuses.
func writeControllerError(w http.ResponseWriter, err error) {
	kind := pipeline.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case pipeline.KindJobNotFound:
		status = http.StatusNotFound
	case pipeline.KindInvalidTransition:
		status = http.StatusConflict
	case pipeline.KindUnsupportedFormat:
		status = http.StatusBadRequest
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), Kind: string(kind)})
}
