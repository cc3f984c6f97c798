package handlers

import (
	"net/http"

	"github.com/vidstream/backend/internal/response"
)

// HealthHandler responds with service health information.
type HealthHandler struct{}

// Handle implements GET /healthz.
func (HealthHandler) Handle(w http.ResponseWriter, r *http.Request) {
	response.Success(r.Context(), w, http.StatusOK, map[string]string{"status": "ok"}, "healthy")
}
