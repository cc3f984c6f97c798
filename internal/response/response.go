// Package response renders the JSON envelope every endpoint answers with.
package response

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/vidstream/backend/internal/apperror"
	"github.com/vidstream/backend/internal/logging"
)

// Envelope wraps every response body.
type Envelope struct {
	StatusCode int    `json:"statusCode"`
	Data       any    `json:"data"`
	Message    string `json:"message"`
	Success    bool   `json:"success"`
}

// FailureEnvelope is the envelope of a failed request. Errors is always present.
type FailureEnvelope struct {
	Envelope
	Errors []string `json:"errors"`
}

// Success writes data with the given status.
func Success(ctx context.Context, w http.ResponseWriter, status int, data any, message string) {
	write(ctx, w, status, Envelope{
		StatusCode: status,
		Data:       data,
		Message:    message,
		Success:    status < http.StatusBadRequest,
	})
}

// Failure classifies err and writes it as a failed envelope. The underlying cause is logged,
// never rendered.
func Failure(ctx context.Context, w http.ResponseWriter, err error) {
	appErr := apperror.From(err)
	status := appErr.Kind.Status()

	logger := logging.FromContext(ctx)
	attrs := []any{"status", status, "kind", appErr.Kind.String(), "message", appErr.Message}
	if appErr.Err != nil {
		attrs = append(attrs, "error", appErr.Err)
	}
	switch {
	case status >= http.StatusInternalServerError:
		logger.Error("request failed", attrs...)
	default:
		logger.Warn("request returned client error", attrs...)
	}

	errs := appErr.Errors
	if errs == nil {
		errs = []string{}
	}
	write(ctx, w, status, FailureEnvelope{
		Envelope: Envelope{
			StatusCode: status,
			Data:       nil,
			Message:    appErr.Message,
			Success:    false,
		},
		Errors: errs,
	})
}

func write(ctx context.Context, w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.FromContext(ctx).Error("encode response body", "status", status, "error", err)
	}
}
