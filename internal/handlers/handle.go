package handlers

import (
	"net/http"

	"github.com/vidstream/backend/internal/response"
)

// handlerFunc is an HTTP handler that reports failures by returning them.
type handlerFunc func(w http.ResponseWriter, r *http.Request) error

// handle adapts h to net/http. Every returned error is rendered as a failure envelope here and
// nowhere else.
func handle(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := h(w, r); err != nil {
			response.Failure(r.Context(), w, err)
		}
	}
}
