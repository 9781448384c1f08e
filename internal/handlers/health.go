package handlers

import (
	"encoding/json"
	"net/http"
)

// HealthHandler responds with service health information.
type HealthHandler struct {
	Service string
	Version string
}

// Handle implements GET /healthz.
func (h HealthHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	service := h.Service
	if service == "" {
		service = "autosub"
	}
	version := h.Version
	if version == "" {
		version = "dev"
	}

	payload := map[string]string{
		"status":  "ok",
		"service": service,
		"version": version,
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}
