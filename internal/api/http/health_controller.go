package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// Service is what every pipeline process exposes to its health endpoint.
type Service interface {
	HealthCheck(ctx context.Context) error
	Status() map[string]interface{}
}

type HealthController struct {
	service Service
	name    string
}

func NewHealthController(service Service, name string) *HealthController {
	return &HealthController{
		service: service,
		name:    name,
	}
}

type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Name      string    `json:"name"`
	Message   string    `json:"message,omitempty"`
}

func (h *HealthController) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.service.HealthCheck(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{
			Status:    "unhealthy",
			Timestamp: time.Now(),
			Name:      h.name,
			Message:   err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Name:      h.name,
	})
}

func (h *HealthController) Ready(w http.ResponseWriter, r *http.Request) {
	if err := h.service.HealthCheck(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":    "not_ready",
			"name":      h.name,
			"message":   err.Error(),
			"timestamp": time.Now(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ready",
		"name":      h.name,
		"timestamp": time.Now(),
	})
}

func (h *HealthController) Status(w http.ResponseWriter, r *http.Request) {
	status := h.service.Status()
	status["name"] = h.name
	writeJSON(w, http.StatusOK, status)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
