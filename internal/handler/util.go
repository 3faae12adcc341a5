package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/capitalize-ai/inbox-console/internal/backend"
	"github.com/capitalize-ai/inbox-console/internal/model"
	"github.com/capitalize-ai/inbox-console/internal/ownership"
	"github.com/capitalize-ai/inbox-console/internal/service"
)

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}

// writeActionError maps controller errors onto HTTP statuses.
func writeActionError(w http.ResponseWriter, err error) {
	var (
		verr   *model.ValidationError
		failed *model.ActionFailed
		cerr   *model.ConnectionError
		serr   *backend.StatusError
	)

	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": verr.Message, "field": verr.Field})
	case errors.Is(err, model.ErrChatNotFound):
		writeError(w, http.StatusNotFound, "chat not found")
	case errors.Is(err, service.ErrSuperseded), errors.Is(err, ownership.ErrInFlight):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &failed):
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": failed.Error(), "action": failed.Action})
	case errors.As(err, &cerr), errors.Is(err, service.ErrStopped):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.As(err, &serr):
		writeError(w, http.StatusBadGateway, serr.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "backend timed out")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
