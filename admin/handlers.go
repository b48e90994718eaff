package admin

import (
	"encoding/json"
	"net/http"

	"github.com/moplog/moplog/checkpoint"
	"github.com/rs/zerolog/log"
)

const redacted = "<redacted>"

// StatusProvider is the read-only view of the engine served by the API
type StatusProvider interface {
	CurrentConfig() checkpoint.RuntimeConfig
	CurrentLag() int64
	Report() map[string]interface{}
}

// Handlers serves the status endpoints
type Handlers struct {
	provider StatusProvider
}

// NewHandlers creates a new Handlers instance
func NewHandlers(provider StatusProvider) *Handlers {
	return &Handlers{provider: provider}
}

// handleConfig returns the runtime configuration with credentials redacted
func (h *Handlers) handleConfig(w http.ResponseWriter, r *http.Request) {
	rc := h.provider.CurrentConfig()
	if rc.Source.Pass != "" {
		rc.Source.Pass = redacted
	}
	writeJSONResponse(w, http.StatusOK, rc)
}

type lagResponse struct {
	LagInMinutes int64 `json:"lagInMinutes"`
}

func (h *Handlers) handleLag(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, lagResponse{LagInMinutes: h.provider.CurrentLag()})
}

func (h *Handlers) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, h.provider.Report())
}

// writeJSONResponse writes data as the JSON body
func writeJSONResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error JSON response
func writeErrorResponse(w http.ResponseWriter, status int, message string) {
	writeJSONResponse(w, status, map[string]interface{}{
		"error": message,
	})
}
