package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/clipscribe/backend/internal/gemini"
)

type ModelsHandler struct {
	client *gemini.Client
}

func NewModelsHandler(client *gemini.Client) *ModelsHandler {
	return &ModelsHandler{client: client}
}

// ListModels returns the Gemini models usable for transcription.
// Without a configured API key the list is empty rather than an error,
// so the frontend can render the settings page before setup.
func (h *ModelsHandler) ListModels(w http.ResponseWriter, r *http.Request) {
	models, err := h.client.ListModels(r.Context())
	if err != nil {
		if errors.Is(err, gemini.ErrNoAPIKey) {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode([]gemini.Model{})
			return
		}
		jsonError(w, "failed to fetch Gemini models: "+err.Error(), http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(models)
}
